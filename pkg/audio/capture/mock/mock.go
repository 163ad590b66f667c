// Package mock provides a test double for the capture.Backend interface.
//
// Backend hands out Stream values whose callback the test drives directly
// with [Stream.Emit], standing in for the device thread.
//
// Example:
//
//	b := &mock.Backend{
//	    Inputs: []capture.DeviceInfo{{Name: "Mic", IsDefault: true}, {Name: "Monitor of Speakers"}},
//	}
//	c := capture.New(b, capture.Config{})
//	_ = c.StartMicrophone()
//	b.Stream("Mic").Emit(samples)
package mock

import (
	"sync"

	"github.com/clarimeet/clarimeet/pkg/audio/capture"
)

// OpenCall records a single invocation of Backend.Open.
type OpenCall struct {
	Device capture.DeviceInfo
	Config capture.StreamConfig
}

// Backend is a mock implementation of capture.Backend.
type Backend struct {
	mu sync.Mutex

	// Inputs is returned by Devices(capture.KindCapture).
	Inputs []capture.DeviceInfo

	// Loopbacks is returned by Devices(capture.KindLoopback).
	Loopbacks []capture.DeviceInfo

	// DevicesErr, if non-nil, is returned by every Devices call.
	DevicesErr error

	// OpenErr maps a device name to the error Open returns for it.
	OpenErr map[string]error

	// StartErr maps a device name to the error Stream.Start returns for it.
	StartErr map[string]error

	// OpenCalls records every Open invocation in order.
	OpenCalls []OpenCall

	// CloseCallCount is the number of times Close was called.
	CloseCallCount int

	streams map[string]*Stream
}

// Devices returns Inputs or Loopbacks depending on kind.
func (b *Backend) Devices(kind capture.DeviceKind) ([]capture.DeviceInfo, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.DevicesErr != nil {
		return nil, b.DevicesErr
	}
	src := b.Inputs
	if kind == capture.KindLoopback {
		src = b.Loopbacks
	}
	out := make([]capture.DeviceInfo, len(src))
	copy(out, src)
	for i := range out {
		out[i].Index = i
	}
	return out, nil
}

// Open records the call and returns a Stream bound to onFrame.
func (b *Backend) Open(dev capture.DeviceInfo, cfg capture.StreamConfig, onFrame func([]float32)) (capture.Stream, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.OpenCalls = append(b.OpenCalls, OpenCall{Device: dev, Config: cfg})
	if err := b.OpenErr[dev.Name]; err != nil {
		return nil, err
	}
	s := &Stream{onFrame: onFrame, startErr: b.StartErr[dev.Name]}
	if b.streams == nil {
		b.streams = make(map[string]*Stream)
	}
	b.streams[dev.Name] = s
	return s, nil
}

// Close records the call.
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.CloseCallCount++
	return nil
}

// Stream returns the stream opened for the named device, or nil.
func (b *Backend) Stream(name string) *Stream {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.streams[name]
}

var _ capture.Backend = (*Backend)(nil)

// Stream is a mock implementation of capture.Stream.
type Stream struct {
	mu       sync.Mutex
	onFrame  func([]float32)
	startErr error
	started  bool
	closed   bool
}

// Start marks the stream as started.
func (s *Stream) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.startErr != nil {
		return s.startErr
	}
	s.started = true
	return nil
}

// Close marks the stream as closed. Emit is a no-op afterwards.
func (s *Stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Emit invokes the device callback with samples, as a device thread would.
// It does nothing unless the stream is started and not closed.
func (s *Stream) Emit(samples []float32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started || s.closed {
		return
	}
	s.onFrame(samples)
}

// Started reports whether Start succeeded.
func (s *Stream) Started() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started
}

// Closed reports whether Close was called.
func (s *Stream) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

var _ capture.Stream = (*Stream)(nil)

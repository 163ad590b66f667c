package capture_test

import (
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"

	"github.com/clarimeet/clarimeet/pkg/audio/capture"
	"github.com/clarimeet/clarimeet/pkg/audio/capture/mock"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newBackend() *mock.Backend {
	return &mock.Backend{
		Inputs: []capture.DeviceInfo{
			{Name: "Built-in Microphone", IsDefault: true, SampleRates: []int{16000, 44100, 48000}},
			{Name: "Monitor of Built-in Audio", SampleRates: []int{44100, 48000}},
		},
	}
}

func TestCapture_Prepare(t *testing.T) {
	b := newBackend()
	c := capture.New(b, capture.Config{}, capture.WithLogger(quietLogger()))

	rate, err := c.Prepare()
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	if rate != 48000 {
		t.Errorf("rate = %d, want 48000", rate)
	}
	if c.SampleRate() != 48000 {
		t.Errorf("SampleRate() = %d, want 48000", c.SampleRate())
	}
	if len(b.OpenCalls) != 0 {
		t.Errorf("Prepare opened %d streams, want 0", len(b.OpenCalls))
	}
}

func TestCapture_PrepareNoCommonRate(t *testing.T) {
	b := &mock.Backend{
		Inputs: []capture.DeviceInfo{
			{Name: "USB Mic", IsDefault: true, SampleRates: []int{16000}},
			{Name: "Stereo Mix", SampleRates: []int{48000}},
		},
	}
	c := capture.New(b, capture.Config{}, capture.WithLogger(quietLogger()))
	if _, err := c.Prepare(); !errors.Is(err, capture.ErrNoCommonSampleRate) {
		t.Fatalf("Prepare = %v, want ErrNoCommonSampleRate", err)
	}
}

func TestCapture_PrepareNoLoopback(t *testing.T) {
	b := &mock.Backend{
		Inputs: []capture.DeviceInfo{{Name: "USB Mic", IsDefault: true}},
	}
	c := capture.New(b, capture.Config{SpeakerIndex: -1}, capture.WithLogger(quietLogger()))
	if _, err := c.Prepare(); !errors.Is(err, capture.ErrNoLoopbackDevice) {
		t.Fatalf("Prepare = %v, want ErrNoLoopbackDevice", err)
	}
}

func TestCapture_PrepareConfiguredIndex(t *testing.T) {
	b := &mock.Backend{
		Inputs: []capture.DeviceInfo{
			{Name: "USB Mic", IsDefault: true},
			{Name: "Virtual Cable Output"},
		},
	}
	c := capture.New(b, capture.Config{SpeakerIndex: 1}, capture.WithLogger(quietLogger()))
	if _, err := c.Prepare(); err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	if err := c.StartSpeakerLoopback(); err != nil {
		t.Fatalf("StartSpeakerLoopback: %v", err)
	}
	if got := b.OpenCalls[0].Device.Name; got != "Virtual Cable Output" {
		t.Errorf("opened %q, want Virtual Cable Output", got)
	}
}

func TestCapture_DeviceListError(t *testing.T) {
	b := &mock.Backend{DevicesErr: errors.New("no backend")}
	c := capture.New(b, capture.Config{}, capture.WithLogger(quietLogger()))
	if _, err := c.Prepare(); !errors.Is(err, capture.ErrCaptureUnavailable) {
		t.Fatalf("Prepare = %v, want ErrCaptureUnavailable", err)
	}
}

func TestCapture_StartAndDeliver(t *testing.T) {
	b := newBackend()
	c := capture.New(b, capture.Config{BlockSize: 4}, capture.WithLogger(quietLogger()))

	if err := c.StartMicrophone(); err != nil {
		t.Fatalf("StartMicrophone: %v", err)
	}
	if err := c.StartSpeakerLoopback(); err != nil {
		t.Fatalf("StartSpeakerLoopback: %v", err)
	}
	if len(b.OpenCalls) != 2 {
		t.Fatalf("OpenCalls = %d, want 2", len(b.OpenCalls))
	}
	for _, call := range b.OpenCalls {
		if call.Config.SampleRate != 48000 || call.Config.BlockSize != 4 {
			t.Errorf("stream config = %+v, want 48000 Hz / 4 frames", call.Config)
		}
	}

	buf := []float32{0.1, 0.2, 0.3, 0.4}
	b.Stream("Built-in Microphone").Emit(buf)
	buf[0] = 9 // the device buffer is reused after the callback returns

	f := <-c.Mic()
	if f.Samples[0] != 0.1 {
		t.Errorf("frame shares the device buffer: sample[0] = %f", f.Samples[0])
	}
	if f.SampleRate != 48000 {
		t.Errorf("SampleRate = %d, want 48000", f.SampleRate)
	}
	if f.Captured.IsZero() {
		t.Error("Captured not set")
	}

	b.Stream("Monitor of Built-in Audio").Emit([]float32{0.5, 0.5, 0.5, 0.5})
	if f := <-c.Speaker(); f.Samples[0] != 0.5 {
		t.Errorf("speaker sample = %f, want 0.5", f.Samples[0])
	}
}

func TestCapture_FreshestFrameWins(t *testing.T) {
	b := newBackend()
	var drops atomic.Int32
	c := capture.New(b, capture.Config{}, capture.WithLogger(quietLogger()),
		capture.WithOnDrop(func(source string) {
			if source == "microphone" {
				drops.Add(1)
			}
		}))
	if err := c.StartMicrophone(); err != nil {
		t.Fatalf("StartMicrophone: %v", err)
	}

	s := b.Stream("Built-in Microphone")
	s.Emit([]float32{1})
	s.Emit([]float32{2})
	s.Emit([]float32{3})

	f := <-c.Mic()
	if f.Samples[0] != 3 {
		t.Errorf("sample = %f, want the newest frame (3)", f.Samples[0])
	}
	select {
	case extra := <-c.Mic():
		t.Errorf("unexpected queued frame %v", extra.Samples)
	default:
	}
	if drops.Load() != 2 {
		t.Errorf("drops = %d, want 2", drops.Load())
	}
}

func TestCapture_OpenFailure(t *testing.T) {
	b := newBackend()
	b.OpenErr = map[string]error{"Built-in Microphone": errors.New("device busy")}
	c := capture.New(b, capture.Config{}, capture.WithLogger(quietLogger()))
	if err := c.StartMicrophone(); !errors.Is(err, capture.ErrCaptureUnavailable) {
		t.Fatalf("StartMicrophone = %v, want ErrCaptureUnavailable", err)
	}
}

func TestCapture_StartFailureClosesStream(t *testing.T) {
	b := newBackend()
	b.StartErr = map[string]error{"Monitor of Built-in Audio": errors.New("access denied")}
	c := capture.New(b, capture.Config{}, capture.WithLogger(quietLogger()))
	if err := c.StartSpeakerLoopback(); !errors.Is(err, capture.ErrCaptureUnavailable) {
		t.Fatalf("StartSpeakerLoopback = %v, want ErrCaptureUnavailable", err)
	}
	if !b.Stream("Monitor of Built-in Audio").Closed() {
		t.Error("stream not closed after failed start")
	}
}

func TestCapture_Stop(t *testing.T) {
	b := newBackend()
	c := capture.New(b, capture.Config{}, capture.WithLogger(quietLogger()))
	if err := c.StartMicrophone(); err != nil {
		t.Fatalf("StartMicrophone: %v", err)
	}
	if err := c.StartSpeakerLoopback(); err != nil {
		t.Fatalf("StartSpeakerLoopback: %v", err)
	}

	if err := c.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := c.Stop(); err != nil {
		t.Fatalf("second Stop: %v", err)
	}

	for _, name := range []string{"Built-in Microphone", "Monitor of Built-in Audio"} {
		if !b.Stream(name).Closed() {
			t.Errorf("stream %q not closed", name)
		}
	}
	if _, ok := <-c.Mic(); ok {
		t.Error("mic channel still open")
	}
	if _, ok := <-c.Speaker(); ok {
		t.Error("speaker channel still open")
	}
	if b.CloseCallCount != 1 {
		t.Errorf("backend closed %d times, want 1", b.CloseCallCount)
	}
	if err := c.StartMicrophone(); !errors.Is(err, capture.ErrCaptureUnavailable) {
		t.Errorf("StartMicrophone after Stop = %v, want ErrCaptureUnavailable", err)
	}
}

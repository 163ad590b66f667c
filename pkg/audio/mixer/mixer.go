// Package mixer pairs microphone and speaker frames and mixes them into a
// single outbound stream.
package mixer

import (
	"context"
	"sync"

	"github.com/clarimeet/clarimeet/pkg/audio"
)

// DefaultQueueSize is the capacity of the mixed-frame output channel. It
// bounds the memory held between the mixer and the transcription socket.
const DefaultQueueSize = 10

// Option configures a [PairMixer] during construction.
type Option func(*PairMixer)

// WithQueueSize sets the capacity of the output channel. Values < 1 are
// ignored.
func WithQueueSize(n int) Option {
	return func(m *PairMixer) {
		if n > 0 {
			m.queueSize = n
		}
	}
}

// WithOnMixed registers a callback invoked after each frame is queued. It runs
// on the mixer goroutine and must not block.
func WithOnMixed(fn func()) Option {
	return func(m *PairMixer) {
		m.onMixed = fn
	}
}

// WithOnReplaced registers a callback invoked when a pending, not yet mixed
// frame is displaced by a fresher one from the same source.
func WithOnReplaced(fn func(source string)) Option {
	return func(m *PairMixer) {
		m.onReplaced = fn
	}
}

// PairMixer waits until both the microphone and the speaker source have an
// unconsumed frame, mixes the pair with [audio.Mix] and sends the result on
// its output channel.
//
// Each source has a single pending slot: a frame arriving while the slot is
// still occupied replaces the older one. No frame is ever produced from a
// single source, so a stalled source stalls the mixer. The output channel is
// bounded; when it is full the mixer blocks, which pushes back on the
// capture side.
//
// PairMixer is safe for concurrent use.
type PairMixer struct {
	mic, speaker <-chan audio.Frame
	out          chan audio.Frame
	queueSize    int
	onMixed      func()
	onReplaced   func(source string)

	done      chan struct{}
	closeOnce sync.Once
	finished  chan struct{}
}

// New creates a [PairMixer] reading from mic and speaker. Call [PairMixer.Run]
// to start mixing.
func New(mic, speaker <-chan audio.Frame, opts ...Option) *PairMixer {
	m := &PairMixer{
		mic:       mic,
		speaker:   speaker,
		queueSize: DefaultQueueSize,
		done:      make(chan struct{}),
		finished:  make(chan struct{}),
	}
	for _, o := range opts {
		o(m)
	}
	m.out = make(chan audio.Frame, m.queueSize)
	return m
}

// Output returns the channel of mixed frames. It is closed when Run returns.
func (m *PairMixer) Output() <-chan audio.Frame { return m.out }

// Run mixes frames until ctx is cancelled, [PairMixer.Close] is called, or
// either input channel is closed. It closes the output channel on return and
// always returns nil, or ctx.Err() when the context ended the loop.
func (m *PairMixer) Run(ctx context.Context) error {
	defer close(m.finished)
	defer close(m.out)

	var (
		pendingMic, pendingSpk audio.Frame
		haveMic, haveSpk       bool
	)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-m.done:
			return nil
		case f, ok := <-m.mic:
			if !ok {
				return nil
			}
			if haveMic && m.onReplaced != nil {
				m.onReplaced("microphone")
			}
			pendingMic, haveMic = f, true
		case f, ok := <-m.speaker:
			if !ok {
				return nil
			}
			if haveSpk && m.onReplaced != nil {
				m.onReplaced("speaker")
			}
			pendingSpk, haveSpk = f, true
		}

		if !haveMic || !haveSpk {
			continue
		}

		mixed := audio.Mix(pendingMic, pendingSpk)
		pendingMic, pendingSpk = audio.Frame{}, audio.Frame{}
		haveMic, haveSpk = false, false

		select {
		case m.out <- mixed:
		case <-ctx.Done():
			return ctx.Err()
		case <-m.done:
			return nil
		}
		if m.onMixed != nil {
			m.onMixed()
		}
	}
}

// Close stops the mixer loop. It is safe to call more than once and does not
// wait for Run to return; use [PairMixer.Done] for that.
func (m *PairMixer) Close() {
	m.closeOnce.Do(func() {
		close(m.done)
	})
}

// Done returns a channel that is closed once Run has returned.
func (m *PairMixer) Done() <-chan struct{} { return m.finished }

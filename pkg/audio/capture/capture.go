// Package capture opens the two continuous audio inputs a meeting needs: the
// local microphone and a loopback source that records what the machine is
// playing.
//
// Device access goes through the [Backend] interface; [MalgoBackend] is the
// production implementation on top of miniaudio. Each opened stream delivers
// fixed-size blocks on a device thread. The callback never blocks: it copies
// the samples into a new [audio.Frame] and offers it to a single-slot channel,
// displacing an unread older frame if there is one. Staying close to real
// time matters more than keeping every block.
package capture

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/clarimeet/clarimeet/pkg/audio"
)

// DefaultBlockSize is the number of frames per device callback.
const DefaultBlockSize = 2048

// DefaultSampleRates is the candidate set considered during sample-rate
// negotiation.
var DefaultSampleRates = []int{16000, 44100, 48000}

var (
	// ErrCaptureUnavailable is returned when an audio device cannot be found,
	// opened or started.
	ErrCaptureUnavailable = errors.New("capture unavailable")

	// ErrNoCommonSampleRate is returned when the microphone and the loopback
	// device share none of the candidate sample rates.
	ErrNoCommonSampleRate = errors.New("no common sample rate")

	// ErrNoLoopbackDevice is returned when no device able to record the
	// system output could be identified.
	ErrNoLoopbackDevice = errors.New("no loopback device")
)

// DeviceKind selects which class of devices [Backend.Devices] lists.
type DeviceKind int

const (
	// KindCapture lists regular input devices. On PulseAudio/PipeWire this
	// includes "Monitor of …" sources, which are loopback sources.
	KindCapture DeviceKind = iota

	// KindLoopback lists output devices that can be recorded in loopback mode
	// (WASAPI). Backends without native loopback return an empty list.
	KindLoopback
)

// DeviceInfo describes one audio device as reported by a [Backend].
type DeviceInfo struct {
	// Index is the position of the device in the list it was returned in.
	Index int

	// Name is the human-readable device name.
	Name string

	// IsDefault reports whether the OS marks this as the default device of its
	// kind.
	IsDefault bool

	// Loopback is true when the device must be opened in loopback mode.
	Loopback bool

	// SampleRates lists the natively supported rates. An empty list means the
	// device accepts any rate.
	SampleRates []int

	// Handle is backend-specific data needed to open the device.
	Handle any
}

// SupportsRate reports whether the device can be opened at rate.
func (d DeviceInfo) SupportsRate(rate int) bool {
	if len(d.SampleRates) == 0 {
		return true
	}
	for _, r := range d.SampleRates {
		if r == rate {
			return true
		}
	}
	return false
}

// StreamConfig is the format a stream is opened with. Samples are always
// delivered as mono float32.
type StreamConfig struct {
	SampleRate int
	BlockSize  int
}

// Stream is an opened device stream.
type Stream interface {
	// Start begins delivering frames to the callback given to Open.
	Start() error

	// Close stops the stream and releases the OS handle. No callback runs
	// after Close returns.
	Close() error
}

// Backend abstracts the host audio API.
type Backend interface {
	// Devices lists the devices of the given kind.
	Devices(kind DeviceKind) ([]DeviceInfo, error)

	// Open prepares a stream on dev. onFrame is called on a device thread with
	// a buffer that is only valid for the duration of the call.
	Open(dev DeviceInfo, cfg StreamConfig, onFrame func(samples []float32)) (Stream, error)

	// Close releases the backend context.
	Close() error
}

// Config selects devices and stream parameters.
type Config struct {
	// BlockSize is the number of frames per callback. Default: [DefaultBlockSize].
	BlockSize int

	// SampleRates is the negotiation candidate set. Default: [DefaultSampleRates].
	SampleRates []int

	// MicDevice is a case-insensitive substring of the microphone name. Empty
	// selects the default input device.
	MicDevice string

	// SpeakerDevice is a case-insensitive substring of the loopback device
	// name. Empty runs loopback discovery.
	SpeakerDevice string

	// SpeakerIndex is the capture-device index used when discovery finds
	// nothing. A negative value asks the [IndexPrompter] instead.
	SpeakerIndex int
}

// Option configures a [Capture].
type Option func(*Capture)

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *Capture) {
		if l != nil {
			c.log = l
		}
	}
}

// WithPrompter sets the interactive fallback used to pick a loopback device.
func WithPrompter(p IndexPrompter) Option {
	return func(c *Capture) {
		c.prompt = p
	}
}

// WithOnDrop registers a callback invoked from the device thread each time an
// unread frame is displaced by a newer one. source is "microphone" or
// "speaker". It must not block.
func WithOnDrop(fn func(source string)) Option {
	return func(c *Capture) {
		c.onDrop = fn
	}
}

// Capture owns the microphone and loopback streams of one pipeline run.
//
// Call [Capture.Prepare] first to resolve devices and negotiate the sample
// rate without touching audio, then [Capture.StartMicrophone] and
// [Capture.StartSpeakerLoopback]. [Capture.Stop] closes both streams and then
// closes the frame channels.
type Capture struct {
	backend Backend
	cfg     Config
	prompt  IndexPrompter
	log     *slog.Logger
	onDrop  func(source string)

	mic     chan audio.Frame
	speaker chan audio.Frame

	mu       sync.RWMutex
	prepared bool
	stopped  bool
	rate     int
	micDev   DeviceInfo
	spkDev   DeviceInfo
	streams  []Stream
}

// New creates a Capture on top of backend.
func New(backend Backend, cfg Config, opts ...Option) *Capture {
	if cfg.BlockSize <= 0 {
		cfg.BlockSize = DefaultBlockSize
	}
	if len(cfg.SampleRates) == 0 {
		cfg.SampleRates = DefaultSampleRates
	}
	c := &Capture{
		backend: backend,
		cfg:     cfg,
		log:     slog.Default(),
		mic:     make(chan audio.Frame, 1),
		speaker: make(chan audio.Frame, 1),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Prepare resolves the microphone and loopback devices and negotiates the
// common sample rate. It returns the chosen rate. Calling it again returns the
// cached result.
func (c *Capture) Prepare() (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.prepared {
		return c.rate, nil
	}

	inputs, err := c.backend.Devices(KindCapture)
	if err != nil {
		return 0, fmt.Errorf("%w: list input devices: %w", ErrCaptureUnavailable, err)
	}
	mic, err := selectMicrophone(inputs, c.cfg.MicDevice)
	if err != nil {
		return 0, err
	}

	loopbacks, err := c.backend.Devices(KindLoopback)
	if err != nil {
		c.log.Warn("capture: cannot list loopback devices", "err", err)
		loopbacks = nil
	}
	spk, err := c.selectSpeaker(inputs, loopbacks)
	if err != nil {
		return 0, err
	}

	rate, err := NegotiateSampleRate(mic, spk, c.cfg.SampleRates)
	if err != nil {
		return 0, err
	}

	c.micDev, c.spkDev, c.rate = mic, spk, rate
	c.prepared = true
	c.log.Info("capture: devices resolved",
		"microphone", mic.Name,
		"loopback", spk.Name,
		"loopback_mode", spk.Loopback,
		"sample_rate", rate,
		"block_size", c.cfg.BlockSize,
	)
	return rate, nil
}

func (c *Capture) selectSpeaker(inputs, loopbacks []DeviceInfo) (DeviceInfo, error) {
	if c.cfg.SpeakerDevice != "" {
		for _, d := range append(append([]DeviceInfo(nil), loopbacks...), inputs...) {
			if containsFold(d.Name, c.cfg.SpeakerDevice) {
				return d, nil
			}
		}
		return DeviceInfo{}, fmt.Errorf("%w: no device matches %q", ErrNoLoopbackDevice, c.cfg.SpeakerDevice)
	}
	if d, ok := FindLoopbackDevice(inputs, loopbacks); ok {
		return d, nil
	}
	return fallbackLoopback(inputs, c.cfg.SpeakerIndex, c.prompt)
}

// SampleRate returns the negotiated rate, or 0 before Prepare succeeded.
func (c *Capture) SampleRate() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.rate
}

// Mic returns the microphone frame channel. It holds at most one frame and is
// closed by Stop.
func (c *Capture) Mic() <-chan audio.Frame { return c.mic }

// Speaker returns the loopback frame channel. It holds at most one frame and
// is closed by Stop.
func (c *Capture) Speaker() <-chan audio.Frame { return c.speaker }

// StartMicrophone opens and starts the microphone stream.
func (c *Capture) StartMicrophone() error {
	return c.start("microphone", func() DeviceInfo { return c.micDev }, c.mic)
}

// StartSpeakerLoopback opens and starts the loopback stream.
func (c *Capture) StartSpeakerLoopback() error {
	return c.start("speaker", func() DeviceInfo { return c.spkDev }, c.speaker)
}

func (c *Capture) start(source string, device func() DeviceInfo, ch chan audio.Frame) error {
	if _, err := c.Prepare(); err != nil {
		return err
	}

	c.mu.RLock()
	stopped := c.stopped
	dev := device()
	cfg := StreamConfig{SampleRate: c.rate, BlockSize: c.cfg.BlockSize}
	c.mu.RUnlock()
	if stopped {
		return fmt.Errorf("%w: capture already stopped", ErrCaptureUnavailable)
	}

	stream, err := c.backend.Open(dev, cfg, func(samples []float32) {
		c.deliver(source, ch, samples)
	})
	if err != nil {
		return fmt.Errorf("%w: open %s %q: %w", ErrCaptureUnavailable, source, dev.Name, err)
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		return fmt.Errorf("%w: start %s %q: %w", ErrCaptureUnavailable, source, dev.Name, err)
	}

	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		_ = stream.Close()
		return fmt.Errorf("%w: capture stopped while starting %s", ErrCaptureUnavailable, source)
	}
	c.streams = append(c.streams, stream)
	c.mu.Unlock()

	c.log.Debug("capture: stream started", "source", source, "device", dev.Name)
	return nil
}

// deliver runs on the device thread.
func (c *Capture) deliver(source string, ch chan audio.Frame, samples []float32) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.stopped {
		return
	}
	f := audio.Frame{
		Samples:    append([]float32(nil), samples...),
		SampleRate: c.rate,
		Captured:   time.Now(),
	}
	if offer(ch, f) && c.onDrop != nil {
		c.onDrop(source)
	}
}

// offer puts f into the single-slot channel ch without blocking, displacing an
// unread frame if necessary. It reports whether a frame was displaced. Each
// channel has exactly one producer, so the loop terminates.
func offer(ch chan audio.Frame, f audio.Frame) (displaced bool) {
	for {
		select {
		case ch <- f:
			return displaced
		default:
		}
		select {
		case <-ch:
			displaced = true
		default:
		}
	}
}

// Stop closes every open stream, then the frame channels, and finally the
// backend. It is safe to call more than once.
func (c *Capture) Stop() error {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return nil
	}
	streams := c.streams
	c.streams = nil
	c.mu.Unlock()

	var errs []error
	for _, s := range streams {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	c.mu.Lock()
	c.stopped = true
	close(c.mic)
	close(c.speaker)
	c.mu.Unlock()

	if err := c.backend.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("capture: stop: %w", err)
	}
	c.log.Debug("capture: stopped")
	return nil
}

func containsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}

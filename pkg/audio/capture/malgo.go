package capture

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"math"
	"runtime"
	"slices"
	"strings"

	"github.com/gen2brain/malgo"
)

// MalgoBackend implements [Backend] with miniaudio through
// github.com/gen2brain/malgo.
//
// Loopback mode is only available on Windows (WASAPI); elsewhere loopback
// sources show up as ordinary inputs (e.g. PulseAudio "Monitor of …") and are
// found by name.
type MalgoBackend struct {
	ctx *malgo.AllocatedContext
	log *slog.Logger
}

// NewMalgoBackend initialises a miniaudio context. Close must be called to
// release it.
func NewMalgoBackend(log *slog.Logger) (*MalgoBackend, error) {
	if log == nil {
		log = slog.Default()
	}
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(msg string) {
		log.Debug("miniaudio", "msg", strings.TrimSpace(msg))
	})
	if err != nil {
		return nil, fmt.Errorf("%w: init audio context: %w", ErrCaptureUnavailable, err)
	}
	return &MalgoBackend{ctx: ctx, log: log}, nil
}

// Devices implements [Backend].
func (b *MalgoBackend) Devices(kind DeviceKind) ([]DeviceInfo, error) {
	deviceType := malgo.Capture
	if kind == KindLoopback {
		if runtime.GOOS != "windows" {
			return nil, nil
		}
		deviceType = malgo.Playback
	}

	infos, err := b.ctx.Devices(deviceType)
	if err != nil {
		return nil, fmt.Errorf("capture: enumerate devices: %w", err)
	}

	out := make([]DeviceInfo, 0, len(infos))
	for i, info := range infos {
		d := DeviceInfo{
			Index:     i,
			Name:      info.Name(),
			IsDefault: info.IsDefault != 0,
			Loopback:  kind == KindLoopback,
			Handle:    info.ID,
		}
		full, err := b.ctx.DeviceInfo(deviceType, info.ID, malgo.Shared)
		if err != nil {
			b.log.Debug("capture: no format details, assuming any rate", "device", d.Name, "err", err)
		} else {
			d.SampleRates = supportedRates(full)
		}
		out = append(out, d)
	}
	return out, nil
}

// supportedRates collects the distinct native rates. A zero rate in any
// format means the device converts any rate, reported as nil.
func supportedRates(info malgo.DeviceInfo) []int {
	var rates []int
	for _, f := range info.Formats[:info.FormatCount] {
		if f.SampleRate == 0 {
			return nil
		}
		if r := int(f.SampleRate); !slices.Contains(rates, r) {
			rates = append(rates, r)
		}
	}
	slices.Sort(rates)
	return rates
}

// Open implements [Backend]. Samples are requested as mono float32 so
// miniaudio performs any channel or format conversion.
func (b *MalgoBackend) Open(dev DeviceInfo, cfg StreamConfig, onFrame func(samples []float32)) (Stream, error) {
	deviceType := malgo.Capture
	if dev.Loopback {
		deviceType = malgo.Loopback
	}

	dc := malgo.DefaultDeviceConfig(deviceType)
	dc.Capture.Format = malgo.FormatF32
	dc.Capture.Channels = 1
	dc.SampleRate = uint32(cfg.SampleRate)
	dc.PeriodSizeInFrames = uint32(cfg.BlockSize)
	dc.Alsa.NoMMap = 1
	if id, ok := dev.Handle.(malgo.DeviceID); ok {
		dc.Capture.DeviceID = id.Pointer()
	}

	blocks := newBlockAssembler(cfg.BlockSize, onFrame)
	var scratch []float32
	callbacks := malgo.DeviceCallbacks{
		Data: func(_, input []byte, frameCount uint32) {
			n := min(int(frameCount), len(input)/4)
			if cap(scratch) < n {
				scratch = make([]float32, n)
			}
			scratch = scratch[:n]
			for i := range n {
				scratch[i] = math.Float32frombits(binary.LittleEndian.Uint32(input[i*4:]))
			}
			blocks.write(scratch)
		},
	}

	device, err := malgo.InitDevice(b.ctx.Context, dc, callbacks)
	if err != nil {
		return nil, fmt.Errorf("capture: init device %q: %w", dev.Name, err)
	}
	return &malgoStream{device: device}, nil
}

// Close implements [Backend].
func (b *MalgoBackend) Close() error {
	err := b.ctx.Uninit()
	b.ctx.Free()
	return err
}

type malgoStream struct {
	device *malgo.Device
}

func (s *malgoStream) Start() error {
	return s.device.Start()
}

func (s *malgoStream) Close() error {
	err := s.device.Stop()
	s.device.Uninit()
	return err
}

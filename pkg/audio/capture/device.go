package capture

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"
)

// loopbackHints are lowercase name fragments that identify a device which
// records the system output.
var loopbackHints = []string{
	"loopback",
	"stereo mix",
	"monitor of",
	"what u hear",
	"wave out mix",
}

// NegotiateSampleRate returns the highest rate in candidates that both mic and
// speaker support. It fails with [ErrNoCommonSampleRate] when the
// intersection is empty.
func NegotiateSampleRate(mic, speaker DeviceInfo, candidates []int) (int, error) {
	if len(candidates) == 0 {
		candidates = DefaultSampleRates
	}
	best := 0
	for _, r := range candidates {
		if r > best && mic.SupportsRate(r) && speaker.SupportsRate(r) {
			best = r
		}
	}
	if best == 0 {
		return 0, fmt.Errorf("%w: microphone %q %v, loopback %q %v, candidates %v",
			ErrNoCommonSampleRate, mic.Name, mic.SampleRates, speaker.Name, speaker.SampleRates, candidates)
	}
	return best, nil
}

// IsLoopbackName reports whether a device name suggests it records the system
// output.
func IsLoopbackName(name string) bool {
	lower := strings.ToLower(name)
	for _, h := range loopbackHints {
		if strings.Contains(lower, h) {
			return true
		}
	}
	return false
}

// FindLoopbackDevice picks a device that captures the default output.
//
// Native loopback devices are preferred, the default one first. Otherwise the
// first input whose name looks like a loopback source is used. The boolean is
// false when nothing qualifies.
func FindLoopbackDevice(inputs, loopbacks []DeviceInfo) (DeviceInfo, bool) {
	if i := slices.IndexFunc(loopbacks, func(d DeviceInfo) bool { return d.IsDefault }); i >= 0 {
		return loopbacks[i], true
	}
	if len(loopbacks) > 0 {
		return loopbacks[0], true
	}
	for _, d := range inputs {
		if IsLoopbackName(d.Name) {
			return d, true
		}
	}
	return DeviceInfo{}, false
}

// IndexPrompter asks the user to choose a device when automatic discovery
// fails.
type IndexPrompter interface {
	PromptDeviceIndex(devices []DeviceInfo) (int, error)
}

// fallbackLoopback resolves the loopback device from a configured index or,
// when index is negative, from the prompter.
func fallbackLoopback(inputs []DeviceInfo, index int, prompt IndexPrompter) (DeviceInfo, error) {
	if index < 0 {
		if prompt == nil {
			return DeviceInfo{}, fmt.Errorf("%w: discovery found no candidate and no device index is configured", ErrNoLoopbackDevice)
		}
		var err error
		index, err = prompt.PromptDeviceIndex(inputs)
		if err != nil {
			return DeviceInfo{}, fmt.Errorf("%w: prompt: %w", ErrNoLoopbackDevice, err)
		}
	}
	if index < 0 || index >= len(inputs) {
		return DeviceInfo{}, fmt.Errorf("%w: device index %d out of range [0,%d)", ErrNoLoopbackDevice, index, len(inputs))
	}
	return inputs[index], nil
}

// selectMicrophone returns the input matching name, or the default
// non-loopback input when name is empty.
func selectMicrophone(inputs []DeviceInfo, name string) (DeviceInfo, error) {
	if name != "" {
		for _, d := range inputs {
			if containsFold(d.Name, name) {
				return d, nil
			}
		}
		return DeviceInfo{}, fmt.Errorf("%w: no input device matches %q", ErrCaptureUnavailable, name)
	}
	if i := slices.IndexFunc(inputs, func(d DeviceInfo) bool { return d.IsDefault && !IsLoopbackName(d.Name) }); i >= 0 {
		return inputs[i], nil
	}
	if i := slices.IndexFunc(inputs, func(d DeviceInfo) bool { return !IsLoopbackName(d.Name) }); i >= 0 {
		return inputs[i], nil
	}
	return DeviceInfo{}, fmt.Errorf("%w: no microphone found", ErrCaptureUnavailable)
}

// StdinPrompter lists the devices on Out and reads a device index from In.
type StdinPrompter struct {
	In  io.Reader
	Out io.Writer
}

// errNoInput is returned when the prompt input is exhausted.
var errNoInput = errors.New("no input")

// PromptDeviceIndex implements [IndexPrompter].
func (p StdinPrompter) PromptDeviceIndex(devices []DeviceInfo) (int, error) {
	if p.In == nil {
		return -1, errNoInput
	}
	out := p.Out
	if out == nil {
		out = io.Discard
	}
	fmt.Fprintln(out, "No loopback device found. Available input devices:")
	for i, d := range devices {
		fmt.Fprintf(out, "  [%d] %s\n", i, d.Name)
	}
	fmt.Fprintln(out, "Enter the device index to use for speaker capture:")

	line, err := bufio.NewReader(p.In).ReadString('\n')
	if err != nil && (err != io.EOF || strings.TrimSpace(line) == "") {
		if err == io.EOF {
			return -1, errNoInput
		}
		return -1, err
	}
	idx, err := strconv.Atoi(strings.TrimSpace(line))
	if err != nil {
		return -1, fmt.Errorf("invalid device index %q", strings.TrimSpace(line))
	}
	return idx, nil
}

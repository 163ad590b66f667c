// Package audio defines the frame type that flows through the capture
// pipeline together with the sample-level helpers used to mix frames and to
// encode them for a transcription service.
//
// Frames carry mono float32 samples in the range [-1.0, 1.0], which is the
// native output format requested from capture devices. Conversion to a wire
// encoding happens once, at the edge, via [Float32ToPCM16].
package audio

import "time"

// Frame is a block of mono audio samples captured from (or derived from) a
// single device at a fixed sample rate.
//
// A Frame is immutable once it has been handed to the next pipeline stage:
// the sender gives up ownership on channel send and must not touch Samples
// afterwards.
type Frame struct {
	// Samples holds mono float32 PCM in [-1.0, 1.0].
	Samples []float32

	// SampleRate in Hz (e.g. 16000, 44100, 48000).
	SampleRate int

	// Captured is the wall-clock time the device callback delivered the block.
	Captured time.Time
}

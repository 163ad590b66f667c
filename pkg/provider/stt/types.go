package stt

import "time"

// Transcript represents a speech-to-text result from an STT provider.
// Both interim and final results use this type.
type Transcript struct {
	// Text is the transcribed speech content of the best alternative.
	Text string

	// IsFinal indicates whether the provider has committed to this result.
	IsFinal bool

	// Confidence is the overall confidence score (0.0–1.0). May be zero if the
	// provider does not report confidence.
	Confidence float64

	// Start is the offset of the result from the beginning of the stream.
	Start time.Duration

	// Duration is the length of audio the result covers.
	Duration time.Duration
}

// KeywordBoost represents a keyword to boost in STT recognition, such as
// participant names or product jargon.
type KeywordBoost struct {
	// Keyword is the text to boost.
	Keyword string

	// Boost is the intensity of the boost (provider-specific scale).
	Boost float64
}

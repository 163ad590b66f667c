// Package stt defines the Provider interface for streaming Speech-to-Text
// backends.
//
// An STT provider wraps a real-time transcription service (e.g. Deepgram) and
// exposes a uniform streaming interface. The central abstraction is
// SessionHandle: once opened, a session accepts raw PCM audio chunks and emits
// Transcript values, interim and final, on a single channel in the order the
// service produced them.
//
// Implementations must be safe for concurrent use.
package stt

import (
	"context"
	"errors"
)

// ErrSessionClosed is returned by SendAudio after the session has been closed
// or has failed.
var ErrSessionClosed = errors.New("stt: session is closed")

// EncodingLinear16 is little-endian signed 16-bit PCM.
const EncodingLinear16 = "linear16"

// StreamConfig describes the audio format and recognition hints for a new STT
// session. All fields must be compatible with what the underlying provider
// supports.
type StreamConfig struct {
	// SampleRate is the audio sample rate in Hz, e.g. the rate negotiated
	// between the capture devices.
	SampleRate int

	// Channels is the number of audio channels. 1 = mono.
	Channels int

	// Encoding names the wire encoding of the audio chunks. Empty means
	// [EncodingLinear16].
	Encoding string

	// Language is the BCP-47 language tag for recognition (e.g. "en-US").
	// An empty string uses the provider default.
	Language string

	// Keywords is a list of vocabulary hints that increase recognition
	// probability for uncommon words such as participant or product names.
	Keywords []KeywordBoost
}

// SessionHandle represents an open STT streaming session. It is an interface
// so that test code can provide mock implementations without requiring a live
// provider connection.
//
// Callers must call Close when the session is no longer needed. All methods
// must be safe for concurrent use.
type SessionHandle interface {
	// SendAudio delivers a chunk of PCM audio matching the StreamConfig. It may
	// block while the provider applies backpressure. After the session has
	// ended it returns an error wrapping ErrSessionClosed or the failure that
	// ended it.
	SendAudio(chunk []byte) error

	// Transcripts returns the channel of recognition results, interim and
	// final, in service order. It is closed when the session ends, either
	// because Close was called or because the connection failed.
	Transcripts() <-chan Transcript

	// Err returns the failure that ended the session, or nil while the session
	// is healthy or after a normal close.
	Err() error

	// Close ends the session: it stops accepting audio, asks the service to
	// flush, waits a bounded time for the remaining results and releases the
	// connection. Calling Close more than once is safe and returns nil.
	Close() error
}

// Provider is the abstraction over any STT backend.
type Provider interface {
	// StartStream opens a new streaming transcription session. The returned
	// SessionHandle is ready to accept audio immediately. ctx bounds the
	// lifetime of the session, not just the connection attempt.
	//
	// Returns an error if the provider cannot establish the session (e.g.
	// authentication failure, network error or ctx already cancelled).
	StartStream(ctx context.Context, cfg StreamConfig) (SessionHandle, error)
}

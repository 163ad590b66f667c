package audio

// Drain reads from ch until the channel is closed, discarding all values.
// Use it to release a producer that is blocked on a bounded channel whose
// consumer has gone away (e.g. the mixer output after the transcription
// session ended).
func Drain[T any](ch <-chan T) {
	for range ch {
	}
}

package audio

import (
	"encoding/binary"
	"math"
)

// pcm16Scale maps a float sample in [-1, 1] onto the int16 range. It matches
// the common (sample * 32767) convention so that 1.0 encodes to 32767 and -1.0
// to -32767.
const pcm16Scale = 32767

// Float32ToPCM16 encodes float samples as little-endian signed 16-bit PCM.
// Samples outside [-1, 1] are clamped before scaling; NaN encodes as silence.
func Float32ToPCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(floatToInt16(s)))
	}
	return out
}

func floatToInt16(s float32) int16 {
	switch {
	case s != s: // NaN
		return 0
	case s > 1:
		s = 1
	case s < -1:
		s = -1
	}
	return int16(math.Round(float64(s) * pcm16Scale))
}

package audio_test

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/clarimeet/clarimeet/pkg/audio"
)

// bytesToSamples converts a little-endian byte slice to int16 samples.
func bytesToSamples(b []byte) []int16 {
	samples := make([]int16, len(b)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(b[i*2:]))
	}
	return samples
}

func TestFloat32ToPCM16(t *testing.T) {
	pcm := audio.Float32ToPCM16([]float32{0, 1, -1, 0.5, -0.5})
	if len(pcm) != 10 {
		t.Fatalf("len = %d, want 10", len(pcm))
	}
	got := bytesToSamples(pcm)
	want := []int16{0, 32767, -32767, 16384, -16384}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d: got %d, want %d", i, got[i], want[i])
		}
	}
}

func TestFloat32ToPCM16_Clamping(t *testing.T) {
	nan := float32(math.NaN())
	got := bytesToSamples(audio.Float32ToPCM16([]float32{2.5, -7, nan}))
	want := []int16{32767, -32767, 0}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d: got %d, want %d", i, got[i], want[i])
		}
	}
}

func TestFloat32ToPCM16_LittleEndian(t *testing.T) {
	pcm := audio.Float32ToPCM16([]float32{1})
	// 32767 = 0x7FFF, low byte first.
	if pcm[0] != 0xFF || pcm[1] != 0x7F {
		t.Fatalf("bytes = %#x %#x, want 0xff 0x7f", pcm[0], pcm[1])
	}
}

package audio_test

import (
	"math"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/clarimeet/clarimeet/pkg/audio"
)

func frame(samples ...float32) audio.Frame {
	return audio.Frame{Samples: samples, SampleRate: 16000}
}

func TestMix_NoNormalizationBelowUnity(t *testing.T) {
	out := audio.Mix(frame(0.1, -0.2, 0.3), frame(0.2, 0.1, -0.3))
	want := []float32{0.3, -0.1, 0}
	for i := range want {
		if math.Abs(float64(out.Samples[i]-want[i])) > 1e-6 {
			t.Errorf("sample %d: got %f, want %f", i, out.Samples[i], want[i])
		}
	}
}

func TestMix_NormalizesToUnitPeak(t *testing.T) {
	out := audio.Mix(frame(0.8, 0.5, -0.9), frame(0.8, 0.1, -0.9))
	// Sum peak is 1.8 (sample 2, negative); everything scales by 1/1.8.
	if got := audio.Peak(out.Samples); math.Abs(float64(got-1)) > 1e-6 {
		t.Fatalf("peak = %f, want 1.0", got)
	}
	if got, want := out.Samples[1], float32(0.6/1.8); math.Abs(float64(got-want)) > 1e-6 {
		t.Errorf("relative dynamics not preserved: got %f, want %f", got, want)
	}
}

func TestMix_PeakNeverExceedsOne(t *testing.T) {
	r := rand.New(rand.NewPCG(1, 2))
	for range 200 {
		n := 1 + r.IntN(512)
		mic := make([]float32, n)
		spk := make([]float32, n)
		for i := range n {
			mic[i] = float32(r.Float64()*4 - 2)
			spk[i] = float32(r.Float64()*4 - 2)
		}
		out := audio.Mix(frame(mic...), frame(spk...))
		if len(out.Samples) != n {
			t.Fatalf("len = %d, want %d", len(out.Samples), n)
		}
		if p := audio.Peak(out.Samples); p > 1 {
			t.Fatalf("peak = %f exceeds 1.0", p)
		}
	}
}

func TestMix_UnequalLengths(t *testing.T) {
	out := audio.Mix(frame(0.1, 0.1, 0.1), frame(0.2))
	if len(out.Samples) != 3 {
		t.Fatalf("len = %d, want 3", len(out.Samples))
	}
	if math.Abs(float64(out.Samples[2]-0.1)) > 1e-6 {
		t.Errorf("tail sample = %f, want 0.1", out.Samples[2])
	}
}

func TestMix_Metadata(t *testing.T) {
	early := time.Unix(100, 0)
	late := time.Unix(200, 0)
	mic := audio.Frame{Samples: []float32{0}, SampleRate: 48000, Captured: early}
	spk := audio.Frame{Samples: []float32{0}, SampleRate: 48000, Captured: late}
	out := audio.Mix(mic, spk)
	if out.SampleRate != 48000 {
		t.Errorf("SampleRate = %d, want 48000", out.SampleRate)
	}
	if !out.Captured.Equal(late) {
		t.Errorf("Captured = %v, want %v", out.Captured, late)
	}
}

func TestMix_DoesNotMutateInputs(t *testing.T) {
	mic := frame(0.9, 0.9)
	spk := frame(0.9, 0.9)
	audio.Mix(mic, spk)
	if mic.Samples[0] != 0.9 || spk.Samples[1] != 0.9 {
		t.Error("input frames were modified")
	}
}

func TestPeak(t *testing.T) {
	if got := audio.Peak(nil); got != 0 {
		t.Errorf("Peak(nil) = %f, want 0", got)
	}
	if got := audio.Peak([]float32{0.2, -0.7, 0.5}); got != 0.7 {
		t.Errorf("Peak = %f, want 0.7", got)
	}
}

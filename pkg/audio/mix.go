package audio

// Mix sums a microphone and a speaker frame into one frame of the same
// length and normalizes the result.
//
// When the peak absolute amplitude of the sum exceeds 1.0 the whole frame is
// scaled down so that the peak becomes exactly 1.0; otherwise the sum is left
// untouched, which keeps the relative dynamics of quiet passages. Samples are
// finally clamped to [-1.0, 1.0].
//
// Frames of different lengths are mixed over the longer length with the
// shorter one treated as silence past its end. The result takes the sample
// rate of mic and the later of the two capture times.
func Mix(mic, speaker Frame) Frame {
	n := max(len(mic.Samples), len(speaker.Samples))
	out := make([]float32, n)
	for i := range n {
		var s float32
		if i < len(mic.Samples) {
			s += mic.Samples[i]
		}
		if i < len(speaker.Samples) {
			s += speaker.Samples[i]
		}
		out[i] = s
	}

	if peak := Peak(out); peak > 1 {
		scale := 1 / peak
		for i := range out {
			out[i] *= scale
		}
	}
	for i, s := range out {
		out[i] = clamp(s)
	}

	captured := mic.Captured
	if speaker.Captured.After(captured) {
		captured = speaker.Captured
	}
	return Frame{Samples: out, SampleRate: mic.SampleRate, Captured: captured}
}

// Peak returns the largest absolute sample value in samples, or 0 for an
// empty slice.
func Peak(samples []float32) float32 {
	var peak float32
	for _, s := range samples {
		if s < 0 {
			s = -s
		}
		if s > peak {
			peak = s
		}
	}
	return peak
}

func clamp(s float32) float32 {
	switch {
	case s > 1:
		return 1
	case s < -1:
		return -1
	default:
		return s
	}
}

package audio

// Int16ToFloat32 converts 16-bit PCM samples to floats in [-1, 1] and writes
// them into dst, which must be at least len(src) long. It returns dst[:len(src)].
func Int16ToFloat32(dst []float32, src []int16) []float32 {
	dst = dst[:len(src)]
	for i, s := range src {
		dst[i] = float32(s) / 32768.0
	}
	return dst
}

// Float32ToInt16 converts normalised float samples to 16-bit PCM, clamping
// values outside [-1, 1].
func Float32ToInt16(src []float32) []int16 {
	out := make([]int16, len(src))
	for i, s := range src {
		v := s * 32767
		if v > 32767 {
			v = 32767
		} else if v < -32768 {
			v = -32768
		}
		out[i] = int16(v)
	}
	return out
}

// DownmixInt16 averages interleaved channels of PCM samples into mono using
// int32 arithmetic. channels <= 1 returns the input unchanged.
func DownmixInt16(pcm []int16, channels int) []int16 {
	if channels <= 1 {
		return pcm
	}
	frames := len(pcm) / channels
	out := make([]int16, frames)
	for i := range frames {
		var sum int32
		for c := range channels {
			sum += int32(pcm[i*channels+c])
		}
		out[i] = int16(sum / int32(channels))
	}
	return out
}

// FitLength returns a copy of samples with exactly n entries: longer input is
// truncated, shorter input is zero-padded at the tail.
func FitLength(samples []float32, n int) []float32 {
	out := make([]float32, n)
	copy(out, samples)
	return out
}

// MeanAbsAmplitude returns the mean absolute sample value of frame, in the
// same scale as the input. It is the amplitude telemetry shown next to the
// instantaneous speech decision.
func MeanAbsAmplitude(frame []float32) float32 {
	if len(frame) == 0 {
		return 0
	}
	var sum float64
	for _, s := range frame {
		if s < 0 {
			sum -= float64(s)
		} else {
			sum += float64(s)
		}
	}
	return float32(sum / float64(len(frame)))
}

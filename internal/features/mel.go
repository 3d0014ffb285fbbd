package features

import "math"

// hammingWindow returns 0.54 - 0.46*cos(2πi/(n-1)) for i in [0, n).
func hammingWindow(n int) []float64 {
	w := make([]float64, n)
	if n == 1 {
		w[0] = 1
		return w
	}
	for i := range w {
		w[i] = 0.54 - 0.46*math.Cos(2*math.Pi*float64(i)/float64(n-1))
	}
	return w
}

func hzToMel(hz float64) float64 {
	return 2595.0 * math.Log10(1.0+hz/700.0)
}

func melToHz(mel float64) float64 {
	return 700.0 * (math.Pow(10.0, mel/2595.0) - 1.0)
}

// melBins returns the numMels+2 filter control points as FFT bin indices:
// equally spaced on the mel scale between lowHz and highHz, mapped back to Hz
// and quantised with floor((fftSize+1)*hz/sampleRate).
func melBins(numMels, fftSize, sampleRate int, lowHz, highHz float64) []int {
	lowMel := hzToMel(lowHz)
	step := (hzToMel(highHz) - lowMel) / float64(numMels+1)
	bins := make([]int, numMels+2)
	for i := range bins {
		hz := melToHz(lowMel + float64(i)*step)
		bins[i] = int(math.Floor(float64(fftSize+1) * hz / float64(sampleRate)))
	}
	return bins
}

// melFilterBank builds [numMels][fftSize/2+1] triangular filters. A filter
// whose rising or falling span collapses to zero bins contributes weight 0 on
// that side instead of dividing by zero.
func melFilterBank(numMels, fftSize, sampleRate int, lowHz, highHz float64) [][]float64 {
	half := fftSize/2 + 1
	bins := melBins(numMels, fftSize, sampleRate, lowHz, highHz)

	bank := make([][]float64, numMels)
	for m := range numMels {
		filter := make([]float64, half)
		left, center, right := bins[m], bins[m+1], bins[m+2]

		if center > left {
			for k := max(left, 0); k < center && k < half; k++ {
				filter[k] = float64(k-left) / float64(center-left)
			}
		}
		if right > center {
			for k := max(center, 0); k < right && k < half; k++ {
				filter[k] = float64(right-k) / float64(right-center)
			}
		}
		bank[m] = filter
	}
	return bank
}

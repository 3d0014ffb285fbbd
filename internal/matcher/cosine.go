package matcher

import (
	"gonum.org/v1/gonum/floats"
)

// normEpsilon is the smallest vector norm treated as non-zero.
const normEpsilon = 1e-10

// Cosine returns dot(a, b) / (‖a‖‖b‖) computed in float64. It returns 0 when
// the lengths differ, either vector is empty, or either norm is below
// normEpsilon.
func Cosine(a, b []float32) float32 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	x, y := widen(a), widen(b)
	na, nb := floats.Norm(x, 2), floats.Norm(y, 2)
	if na < normEpsilon || nb < normEpsilon {
		return 0
	}
	return float32(floats.Dot(x, y) / (na * nb))
}

func widen(v []float32) []float64 {
	out := make([]float64, len(v))
	for i, f := range v {
		out[i] = float64(f)
	}
	return out
}

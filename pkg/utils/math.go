package utils

import "math"

// NormalizeL2 normalizes the slice in place to unit L2 norm.
// If the norm is zero, the slice is unchanged.
func NormalizeL2(x []float32) {
	var sum float32
	for _, v := range x {
		sum += v * v
	}
	if sum == 0 {
		return
	}
	norm := float32(1.0 / math.Sqrt(float64(sum)))
	for i := range x {
		x[i] *= norm
	}
}

// Sigmoid maps x to the open interval (0,1). Results that round to 0 or 1 are
// clamped to the nearest representable value inside the interval.
func Sigmoid(x float64) float64 {
	s := 1.0 / (1.0 + math.Exp(-x))
	if s >= 1 {
		return math.Nextafter(1, 0)
	}
	if s <= 0 {
		return math.SmallestNonzeroFloat64
	}
	return s
}

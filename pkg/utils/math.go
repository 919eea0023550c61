package utils

import "math"

// NormalizeL2 scales x in place to unit length and returns its original
// length. A zero vector is left as is. Sums are taken in float64 so long
// embeddings keep their precision.
func NormalizeL2(x []float32) float64 {
	var sum float64
	for _, v := range x {
		sum += float64(v) * float64(v)
	}
	if sum == 0 {
		return 0
	}
	n := math.Sqrt(sum)
	for i := range x {
		x[i] = float32(float64(x[i]) / n)
	}
	return n
}

package vector

import (
	"fmt"

	"github.com/hyperjump/ragcli/internal/models"
)

// InnerProduct returns the inner product of two vectors (for normalized vectors equals cosine similarity).
func InnerProduct(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return dot
}

// distanceToCosine converts the euclidean distance between two unit vectors
// into their cosine similarity.
func distanceToCosine(d float64) float64 {
	return 1 - d*d/2
}

func checkDims(got, want int) error {
	if got != want {
		return fmt.Errorf("%w: got %d, index expects %d", models.ErrDimensionMismatch, got, want)
	}
	return nil
}

func checkBatch(ids []string, vectors [][]float32, dims int) error {
	if len(ids) != len(vectors) {
		return fmt.Errorf("ids and vectors length mismatch: %d != %d", len(ids), len(vectors))
	}
	for _, v := range vectors {
		if err := checkDims(len(v), dims); err != nil {
			return err
		}
	}
	return nil
}

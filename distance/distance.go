// Package distance provides vector distance and similarity calculations.
package distance

import (
	"errors"
	"math"
	"slices"
)

// ErrSizeMismatch is returned when two vectors have different lengths.
var ErrSizeMismatch = errors.New("vector sizes do not match")

// Dot calculates the dot product of two vectors.
// Assumes vectors are the same length (caller's responsibility).
func Dot(a, b []float32) float32 {
	var sum float32
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}

// Magnitude calculates the magnitude (length) of a float32 slice.
func Magnitude(v []float32) float32 {
	return float32(math.Sqrt(float64(Dot(v, v))))
}

// CosineSimilarity calculates the cosine similarity between two float32 slices.
func CosineSimilarity(v1, v2 []float32) (float32, error) {
	if len(v1) != len(v2) {
		return 0, ErrSizeMismatch
	}

	dotProduct := Dot(v1, v2)
	magnitudeA := Magnitude(v1)
	magnitudeB := Magnitude(v2)

	// Avoid division by zero
	if magnitudeA == 0 || magnitudeB == 0 {
		return 0, nil
	}

	return dotProduct / (magnitudeA * magnitudeB), nil
}

// NormalizeL2InPlace L2-normalizes v in place.
// Returns false if v has zero L2 norm.
func NormalizeL2InPlace(v []float32) bool {
	if len(v) == 0 {
		return false
	}
	norm2 := Dot(v, v)
	if norm2 == 0 {
		return false
	}
	inv := 1 / float32(math.Sqrt(float64(norm2)))
	for i := range v {
		v[i] *= inv
	}
	return true
}

// NormalizeL2Copy returns a normalized copy of src.
// Returns false if src has zero L2 norm.
func NormalizeL2Copy(src []float32) ([]float32, bool) {
	dst := slices.Clone(src)
	if !NormalizeL2InPlace(dst) {
		return nil, false
	}
	return dst, true
}

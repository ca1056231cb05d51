package biometric

import (
	"errors"
	"math"
)

var (
	// ErrDimensionMismatch is returned when embeddings of different lengths are compared.
	ErrDimensionMismatch = errors.New("embedding dimensions differ")
	// ErrEmptyEmbedding is returned for zero-length embeddings.
	ErrEmptyEmbedding = errors.New("embedding is empty")
	// ErrInvalidEmbedding is returned for embeddings containing NaN or infinite values.
	ErrInvalidEmbedding = errors.New("embedding contains non-finite values")
)

// ValidateEmbedding checks that an embedding can take part in a comparison.
func ValidateEmbedding(v []float32) error {
	if len(v) == 0 {
		return ErrEmptyEmbedding
	}
	for _, x := range v {
		f := float64(x)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return ErrInvalidEmbedding
		}
	}
	return nil
}

// CosineSimilarity returns the cosine similarity of two embeddings clipped to
// [0, 1]. Negative correlation carries no meaning for face descriptors and is
// floored to 0, as is any comparison involving a zero vector.
func CosineSimilarity(a, b []float32) (float64, error) {
	if err := ValidateEmbedding(a); err != nil {
		return 0, err
	}
	if err := ValidateEmbedding(b); err != nil {
		return 0, err
	}
	if len(a) != len(b) {
		return 0, ErrDimensionMismatch
	}
	return cosine(a, b), nil
}

// cosine assumes both inputs were validated and have equal length.
func cosine(a, b []float32) float64 {
	var dot, normA, normB float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		normA += x * x
		normB += y * y
	}
	if normA == 0 || normB == 0 {
		return 0
	}

	sim := dot / (math.Sqrt(normA) * math.Sqrt(normB))
	// Clamp to handle floating point error as well as anti-correlation.
	return math.Min(math.Max(sim, 0), 1)
}

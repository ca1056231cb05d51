// Package constants provides shared constants used across the codebase.
// Centralizing these values ensures consistency and makes them easier to modify.
package constants

// Login thresholds. Login errors are transient and retryable, so these are
// deliberately permissive to tolerate capture noise across sessions.
const (
	// LoginEmbeddingThreshold is the minimum cosine similarity to accept an embedding login
	LoginEmbeddingThreshold = 0.70

	// LoginLandmarkThreshold is the minimum geometric similarity to accept a landmark login
	LoginLandmarkThreshold = 0.70
)

// Enrollment thresholds. Enrollment errors are structural (merging two people or
// letting a duplicate through) so these are far stricter than login.
const (
	// EnrollEmbeddingThreshold is the minimum cosine similarity treated as the same face at enrollment
	EnrollEmbeddingThreshold = 0.97

	// EnrollLandmarkThreshold is the minimum geometric similarity treated as the same face at enrollment
	EnrollLandmarkThreshold = 0.96
)

// Search constants
const (
	// EarlyExitSimilarity stops a candidate scan as soon as a candidate reaches it
	EarlyExitSimilarity = 0.98

	// MaxPopulation is the largest candidate population a single scan may visit
	MaxPopulation = 5000

	// DefaultSimilarLimit is the default number of neighbours for similar-profile queries
	DefaultSimilarLimit = 10
)

// Processing constants
const (
	// ImportWorkerPoolSize is the number of parallel workers decoding import records
	ImportWorkerPoolSize = 8
)

package constants

import "time"

// Handler pagination constants
const (
	// DefaultPageSize is the default number of profiles returned per API page
	DefaultPageSize = 100

	// MaxPageSize caps the page size a client may request
	MaxPageSize = 1000

	// DefaultAuditLimit is the default number of audit events returned
	DefaultAuditLimit = 50

	// MaxSimilarLimit caps the k of similar-profile queries
	MaxSimilarLimit = 100
)

// Request size constants
const (
	// MaxRequestBodySize is the maximum biometric request body size in bytes (1MB).
	// A 512-dimension embedding plus a landmark payload is a few kilobytes.
	MaxRequestBodySize = 1 << 20

	// MaxImportFileSize is the maximum size of a bulk import file in bytes (64MB)
	MaxImportFileSize = 64 << 20
)

// Server timing constants
const (
	// RequestTimeout bounds a single HTTP request
	RequestTimeout = 60 * time.Second

	// ShutdownTimeout bounds graceful shutdown
	ShutdownTimeout = 10 * time.Second
)

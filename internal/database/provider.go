package database

import (
	"context"
	"fmt"
)

// IndexRebuilder is an interface for repositories that keep an in-memory profile index
type IndexRebuilder interface {
	// RebuildIndex rebuilds the in-memory HNSW index from storage
	RebuildIndex(ctx context.Context) error
	// IndexCount returns the number of profiles in the index
	IndexCount() int
	// IsIndexEnabled returns whether the index is enabled
	IsIndexEnabled() bool
	// SaveIndex saves the current index to disk (if path configured)
	SaveIndex(ctx context.Context) error
}

var (
	postgresProfileWriter func() ProfileWriter
	postgresAuditWriter   func() AuditWriter
	postgresIndex         IndexRebuilder // Singleton for index rebuilding
	postgresInitialized   bool
)

// RegisterPostgresBackend registers PostgreSQL repository constructors.
// This is called by the postgres package to avoid import cycles.
func RegisterPostgresBackend(profiles func() ProfileWriter, audit func() AuditWriter) {
	postgresProfileWriter = profiles
	postgresAuditWriter = audit
	postgresInitialized = true
}

// RegisterIndexRebuilder registers the rebuilder of the profile index.
func RegisterIndexRebuilder(rebuilder IndexRebuilder) {
	postgresIndex = rebuilder
}

// GetIndexRebuilder returns the registered index rebuilder, or nil if not registered.
func GetIndexRebuilder() IndexRebuilder {
	return postgresIndex
}

// GetProfileWriter returns a ProfileWriter from the PostgreSQL backend
func GetProfileWriter(_ context.Context) (ProfileWriter, error) {
	if !postgresInitialized {
		return nil, ErrNotInitialized
	}
	if postgresProfileWriter == nil {
		return nil, fmt.Errorf("PostgreSQL profile writer not registered")
	}
	return postgresProfileWriter(), nil
}

// GetAuditWriter returns an AuditWriter from the PostgreSQL backend
func GetAuditWriter(_ context.Context) (AuditWriter, error) {
	if !postgresInitialized {
		return nil, ErrNotInitialized
	}
	if postgresAuditWriter == nil {
		return nil, fmt.Errorf("PostgreSQL audit writer not registered")
	}
	return postgresAuditWriter(), nil
}

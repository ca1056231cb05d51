package database

import "errors"

var (
	// ErrProfileNotFound is returned when no profile exists for an identity.
	ErrProfileNotFound = errors.New("profile not found")

	// ErrIdentityExists is returned by Create when the identity already has a profile.
	ErrIdentityExists = errors.New("identity already has a profile")

	// ErrDeviceKeyTaken is returned when another active profile holds the device key.
	ErrDeviceKeyTaken = errors.New("device key bound to another active profile")

	// ErrNotInitialized is returned when no storage backend has been registered.
	ErrNotInitialized = errors.New("PostgreSQL backend not initialized: DATABASE_URL is required")
)

package database

import (
	"context"
)

// ProfileReader provides read-only access to biometric profiles
type ProfileReader interface {
	// Get retrieves a profile by identity, returns ErrProfileNotFound if absent
	Get(ctx context.Context, identityID string) (*StoredProfile, error)
	// GetByDeviceKey retrieves the active profile bound to a device key
	GetByDeviceKey(ctx context.Context, deviceKey string) (*StoredProfile, error)
	// ListActive returns at most limit active profiles in a stable order.
	// Callers pass cap+1 to detect populations above the cap.
	ListActive(ctx context.Context, limit int) ([]StoredProfile, error)
	// List returns a page of profiles ordered by identity
	List(ctx context.Context, opts ListOptions) ([]StoredProfile, error)
	// ListByIdentities returns the stored profiles of the given identities, ordered by identity
	ListByIdentities(ctx context.Context, identityIDs []string) ([]StoredProfile, error)
	// Count returns the number of profiles, optionally only active ones
	Count(ctx context.Context, activeOnly bool) (int, error)
	// FindSimilar returns the active profiles nearest to an embedding by cosine distance
	FindSimilar(ctx context.Context, embedding []float32, limit int) ([]Neighbor, error)
}

// ProfileWriter provides write access to biometric profiles
type ProfileWriter interface {
	ProfileReader

	// Create inserts a profile only if neither the identity nor (for active
	// profiles) the device key is taken. The check and the insert are one
	// atomic statement; losing a race returns ErrIdentityExists or ErrDeviceKeyTaken.
	Create(ctx context.Context, p StoredProfile) error

	// Replace overwrites every biometric field of an existing profile.
	// Returns ErrProfileNotFound or ErrDeviceKeyTaken.
	Replace(ctx context.Context, p StoredProfile) error

	// SetActive activates or deactivates a profile
	SetActive(ctx context.Context, identityID string, active bool) error

	// Delete removes a profile
	Delete(ctx context.Context, identityID string) error
}

// AuditWriter records verification decisions
type AuditWriter interface {
	// Record stores one event; ID and CreatedAt are filled in when empty
	Record(ctx context.Context, e AuditEvent) error
	// List returns the most recent events, optionally for one identity
	List(ctx context.Context, identityID string, limit int) ([]AuditEvent, error)
}

// EligibilitySource answers identity-level preconditions from an external HR system
type EligibilitySource interface {
	Eligibility(ctx context.Context, identityID string) (Eligibility, error)
}

package database

import (
	"time"

	"github.com/kozaktomas/presence/internal/biometric"
	"github.com/kozaktomas/presence/internal/facematch"
)

// StoredProfile represents a biometric profile stored in the database
type StoredProfile struct {
	IdentityID       string
	Embedding        []float32
	Landmarks        *facematch.Features
	LegacyHash       string
	DeviceKey        string
	Active           bool
	BiometricEnabled bool
	ApprovalStatus   string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Dim returns the embedding length, 0 when the profile has none.
func (p *StoredProfile) Dim() int {
	return len(p.Embedding)
}

// ToProfile converts the stored row into the matching engine's profile.
func (p *StoredProfile) ToProfile() biometric.Profile {
	return biometric.Profile{
		IdentityID:       p.IdentityID,
		Embedding:        p.Embedding,
		Landmarks:        p.Landmarks,
		LegacyHash:       p.LegacyHash,
		DeviceKey:        p.DeviceKey,
		Active:           p.Active,
		BiometricEnabled: p.BiometricEnabled,
		ApprovalStatus:   biometric.ApprovalStatus(p.ApprovalStatus),
	}
}

// ToProfiles converts stored rows into engine profiles.
func ToProfiles(stored []StoredProfile) []biometric.Profile {
	out := make([]biometric.Profile, len(stored))
	for i := range stored {
		out[i] = stored[i].ToProfile()
	}
	return out
}

// AuditEvent is one recorded verification decision
type AuditEvent struct {
	ID               string
	RequestID        string
	Mode             string
	IdentityID       string // matched or enrolling identity, empty when unknown
	Outcome          string // accepted, rejected, allowed, blocked
	Reason           string
	Signal           string
	Similarity       float64
	DeviceKeyPresent bool
	Candidates       int
	CreatedAt        time.Time
}

// ListOptions controls paging of profile listings
type ListOptions struct {
	Limit      int
	Offset     int
	ActiveOnly bool
}

// Eligibility is the HR system's view of an identity
type Eligibility struct {
	Found            bool
	BiometricEnabled bool
	ApprovalStatus   string
}

// Neighbor is a profile returned by a nearest-neighbour query
type Neighbor struct {
	IdentityID string  `json:"identity_id"`
	Similarity float64 `json:"similarity"`
}

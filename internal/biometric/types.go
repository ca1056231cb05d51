// Package biometric decides which registered identity, if any, a presented
// face sample belongs to, and guards enrollment against registering the same
// person twice or reusing one person's device for another.
//
// Everything here is pure and synchronous: callers load a Population snapshot,
// hand it to a Resolver or Guard together with a VerificationRequest, and get
// back a typed outcome. Rejections are values, not errors; only contract
// violations and oversized populations surface as errors.
package biometric

import (
	"github.com/kozaktomas/presence/internal/facematch"
)

// Signal names the evidence a match was made on.
type Signal string

const (
	SignalEmbedding Signal = "embedding"
	SignalLandmark  Signal = "landmark"
	SignalHash      Signal = "hash"
	SignalDevice    Signal = "device"
)

// Mode distinguishes login attempts from enrollments.
type Mode string

const (
	ModeLogin  Mode = "login"
	ModeEnroll Mode = "enroll"
)

// ApprovalStatus is the HR approval state of an identity.
type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "pending"
	ApprovalApproved ApprovalStatus = "approved"
	ApprovalRejected ApprovalStatus = "rejected"
)

// Profile is one registered identity's biometric record.
type Profile struct {
	IdentityID string
	Embedding  []float32
	Landmarks  *facematch.Features
	LegacyHash string
	DeviceKey  string
	Active     bool

	// Identity-level preconditions checked after a match.
	BiometricEnabled bool
	ApprovalStatus   ApprovalStatus
}

// Matchable reports whether the profile carries at least one comparable signal.
func (p *Profile) Matchable() bool {
	return len(p.Embedding) > 0 || (p.Landmarks != nil && !p.Landmarks.Empty()) || p.LegacyHash != ""
}

// Eligible reports whether the identity may authenticate biometrically.
func (p *Profile) Eligible() bool {
	return p.BiometricEnabled && p.ApprovalStatus != ApprovalRejected
}

// VerificationRequest is a presented sample. Any of the signals may be absent.
type VerificationRequest struct {
	Mode Mode

	// IdentityID is the identity being enrolled. Ignored for login.
	IdentityID string

	Embedding  []float32
	Landmarks  *facematch.LandmarkPayload
	LegacyHash string
	DeviceKey  string
}

// HasFaceSignal reports whether the request carries any face evidence, usable or not.
func (r *VerificationRequest) HasFaceSignal() bool {
	return len(r.Embedding) > 0 || r.Landmarks != nil || r.LegacyHash != ""
}

// MatchResult is the best candidate found for a sample.
type MatchResult struct {
	IdentityID string  `json:"identity_id"`
	Similarity float64 `json:"similarity"`
	Signal     Signal  `json:"signal"`
}

package biometric

// Reason is the machine-readable code of a rejected verification.
// Callers map it to a localized message; the engine never does.
type Reason string

const (
	ReasonNone Reason = ""

	// ReasonNoBiometricData means the request carried no usable signal.
	ReasonNoBiometricData Reason = "no_biometric_data_provided"
	// ReasonDimensionMismatch means embeddings of different lengths would have been compared.
	ReasonDimensionMismatch Reason = "dimension_mismatch"
	// ReasonNoCandidate means the search completed without anything meeting the threshold.
	ReasonNoCandidate Reason = "no_candidate_found"
	// ReasonDeviceMismatch means the face matched but the bound device key was absent or different.
	ReasonDeviceMismatch Reason = "device_mismatch"
	// ReasonProfileDisabled means the matched identity may not authenticate.
	ReasonProfileDisabled Reason = "profile_disabled"
	// ReasonConflictingIdentity means a sufficiently similar profile already exists (enrollment).
	ReasonConflictingIdentity Reason = "conflicting_identity"
	// ReasonDeviceAlreadyBound means the device belongs to a different face (enrollment).
	ReasonDeviceAlreadyBound Reason = "device_already_bound"
)

// Reasons lists every rejection reason.
func Reasons() []Reason {
	return []Reason{
		ReasonNoBiometricData,
		ReasonDimensionMismatch,
		ReasonNoCandidate,
		ReasonDeviceMismatch,
		ReasonProfileDisabled,
		ReasonConflictingIdentity,
		ReasonDeviceAlreadyBound,
	}
}

// Decision is the outcome of a login attempt.
type Decision struct {
	Accepted bool   `json:"accepted"`
	Reason   Reason `json:"reason,omitempty"`

	// Match is the candidate the decision was made on. It is set for some
	// rejections too (device mismatch, disabled profile) for auditing, so
	// use IdentityID to read the authenticated identity.
	Match *MatchResult `json:"match,omitempty"`

	// Scanned is the number of candidates compared.
	Scanned int `json:"scanned"`
}

// IdentityID returns the authenticated identity, or "" when rejected.
func (d Decision) IdentityID() string {
	if !d.Accepted || d.Match == nil {
		return ""
	}
	return d.Match.IdentityID
}

func accepted(m MatchResult, scanned int) Decision {
	return Decision{Accepted: true, Match: &m, Scanned: scanned}
}

func rejected(reason Reason, m *MatchResult, scanned int) Decision {
	return Decision{Reason: reason, Match: m, Scanned: scanned}
}

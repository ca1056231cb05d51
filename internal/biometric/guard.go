package biometric

import "github.com/kozaktomas/presence/internal/facematch"

// Classification labels an enrollment attempt.
type Classification string

const (
	ClassNewEnrollment Classification = "new_enrollment"
	ClassReEnrollment  Classification = "re_enrollment"
	ClassBlocked       Classification = "blocked"
)

// EnrollmentOutcome is the result of the duplicate-registration guard.
type EnrollmentOutcome struct {
	Allow          bool           `json:"allow"`
	Classification Classification `json:"classification"`
	Reason         Reason         `json:"reason,omitempty"`

	// ConflictingIdentity is the existing identity that caused a block.
	ConflictingIdentity string  `json:"conflicting_identity,omitempty"`
	Similarity          float64 `json:"similarity,omitempty"`
	Signal              Signal  `json:"signal,omitempty"`

	// SameDevice is set when the conflict was found through the submitted
	// device key rather than a population scan.
	SameDevice bool `json:"same_device"`

	Scanned int `json:"scanned"`
}

// Guard rejects enrollments that would register one person twice or bind a
// device to a second face.
type Guard struct {
	thresholds Thresholds
}

// NewGuard creates an enrollment guard.
func NewGuard(t Thresholds) *Guard {
	return &Guard{thresholds: t}
}

// GuardEnrollment checks an enrollment using the default thresholds.
func GuardEnrollment(req VerificationRequest, pop *Population) EnrollmentOutcome {
	return NewGuard(DefaultThresholds()).GuardEnrollment(req, pop)
}

// GuardEnrollment runs the enrollment gates in order; the first gate that
// matches decides the outcome. The enrolling identity's own profile is left
// out of the scans and compared last: a face that agrees with it is a
// re-enrollment, any other face is blocked.
func (g *Guard) GuardEnrollment(req VerificationRequest, pop *Population) EnrollmentOutcome {
	s := usableSample(req)
	if s.empty() {
		return blocked(ReasonNoBiometricData)
	}

	// Gate 1: the device is already bound.
	if owner := pop.ByDeviceKey(req.DeviceKey); owner != nil {
		return g.deviceGate(s, owner, req.IdentityID)
	}

	var scanned int

	// Gate 2: population scan, embedding first then landmarks.
	if s.embedding != nil {
		// Dimension mismatches only mean no stored embedding is comparable;
		// the landmark and hash gates still apply.
		res, _ := SearchEmbedding(s.embedding, exclude(pop.WithEmbedding(), req.IdentityID), g.thresholds.EnrollEmbedding)
		scanned += res.Scanned
		if res.Match != nil {
			return conflict(*res.Match, pop, req.DeviceKey, scanned)
		}
	}
	if s.landmarks != nil {
		res := SearchLandmarks(*s.landmarks, exclude(pop.WithLandmarks(), req.IdentityID), g.thresholds.EnrollLandmark)
		scanned += res.Scanned
		if res.Match != nil {
			return conflict(*res.Match, pop, req.DeviceKey, scanned)
		}
	}

	// Gate 3: exact legacy hash, only against profiles without face data.
	// Face-bearing profiles were already judged by the scans above.
	if s.hash != "" {
		matches := hashOnly(exclude(pop.ByLegacyHash(s.hash), req.IdentityID))
		scanned += len(matches)
		if len(matches) > 0 {
			m := MatchResult{IdentityID: matches[0].IdentityID, Similarity: 1, Signal: SignalHash}
			return conflict(m, pop, req.DeviceKey, scanned)
		}
	}

	if req.IdentityID != "" {
		if own := pop.ByIdentity(req.IdentityID); own != nil {
			return g.ownProfileGate(s, own, req.DeviceKey, scanned+1)
		}
	}
	return EnrollmentOutcome{Allow: true, Classification: ClassNewEnrollment, Scanned: scanned}
}

// ownProfileGate decides an enrollment for an identity that already has an
// active profile. Without a modality in common the face cannot be confirmed
// and the profile is kept.
func (g *Guard) ownProfileGate(s sample, own *Profile, deviceKey string, scanned int) EnrollmentOutcome {
	sim, signal, same := g.compareFace(s, own)
	if same {
		return EnrollmentOutcome{
			Allow:          true,
			Classification: ClassReEnrollment,
			Similarity:     sim,
			Signal:         signal,
			Scanned:        scanned,
		}
	}
	return EnrollmentOutcome{
		Classification:      ClassBlocked,
		Reason:              ReasonConflictingIdentity,
		ConflictingIdentity: own.IdentityID,
		Similarity:          sim,
		Signal:              signal,
		SameDevice:          deviceKey != "" && own.DeviceKey == deviceKey,
		Scanned:             scanned,
	}
}

func hashOnly(profiles []*Profile) []*Profile {
	out := profiles[:0:0]
	for _, p := range profiles {
		if len(p.Embedding) == 0 && p.Landmarks == nil {
			out = append(out, p)
		}
	}
	return out
}

func (g *Guard) deviceGate(s sample, owner *Profile, enrolling string) EnrollmentOutcome {
	sim, signal, same := g.compareFace(s, owner)

	out := EnrollmentOutcome{
		Similarity: sim,
		Signal:     signal,
		SameDevice: true,
		Scanned:    1,
	}

	switch {
	case same && owner.IdentityID == enrolling:
		out.Allow = true
		out.Classification = ClassReEnrollment
	case same:
		out.Classification = ClassBlocked
		out.Reason = ReasonConflictingIdentity
		out.ConflictingIdentity = owner.IdentityID
	default:
		out.Classification = ClassBlocked
		out.Reason = ReasonDeviceAlreadyBound
		out.ConflictingIdentity = owner.IdentityID
	}
	return out
}

// compareFace compares the sample with a single profile on the strongest
// modality both sides carry. Without a common modality the faces are
// treated as different.
func (g *Guard) compareFace(s sample, p *Profile) (float64, Signal, bool) {
	if s.embedding != nil && len(p.Embedding) == len(s.embedding) {
		sim := cosine(s.embedding, p.Embedding)
		return sim, SignalEmbedding, sim >= g.thresholds.EnrollEmbedding
	}
	if s.landmarks != nil && p.Landmarks != nil {
		sim := facematch.Similarity(*s.landmarks, *p.Landmarks)
		return sim, SignalLandmark, sim >= g.thresholds.EnrollLandmark
	}
	if s.hash != "" && p.LegacyHash != "" {
		if s.hash == p.LegacyHash {
			return 1, SignalHash, true
		}
		return 0, SignalHash, false
	}
	return 0, "", false
}

func conflict(m MatchResult, pop *Population, deviceKey string, scanned int) EnrollmentOutcome {
	out := EnrollmentOutcome{
		Classification:      ClassBlocked,
		Reason:              ReasonConflictingIdentity,
		ConflictingIdentity: m.IdentityID,
		Similarity:          m.Similarity,
		Signal:              m.Signal,
		Scanned:             scanned,
	}
	if p := pop.ByIdentity(m.IdentityID); p != nil && deviceKey != "" && p.DeviceKey == deviceKey {
		out.SameDevice = true
	}
	return out
}

func blocked(reason Reason) EnrollmentOutcome {
	return EnrollmentOutcome{Classification: ClassBlocked, Reason: reason}
}

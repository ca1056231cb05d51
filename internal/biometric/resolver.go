package biometric

import (
	"crypto/subtle"
	"errors"

	"github.com/kozaktomas/presence/internal/constants"
	"github.com/kozaktomas/presence/internal/facematch"
)

// Thresholds holds the minimum similarity per strategy and mode.
type Thresholds struct {
	LoginEmbedding  float64
	LoginLandmark   float64
	EnrollEmbedding float64
	EnrollLandmark  float64
}

// DefaultThresholds returns the production thresholds.
func DefaultThresholds() Thresholds {
	return Thresholds{
		LoginEmbedding:  constants.LoginEmbeddingThreshold,
		LoginLandmark:   constants.LoginLandmarkThreshold,
		EnrollEmbedding: constants.EnrollEmbeddingThreshold,
		EnrollLandmark:  constants.EnrollLandmarkThreshold,
	}
}

// Resolver decides login attempts.
type Resolver struct {
	thresholds Thresholds
}

// NewResolver creates a login resolver.
func NewResolver(t Thresholds) *Resolver {
	return &Resolver{thresholds: t}
}

// ResolveLogin decides a login attempt using the default thresholds.
func ResolveLogin(req VerificationRequest, pop *Population) Decision {
	return NewResolver(DefaultThresholds()).ResolveLogin(req, pop)
}

// ResolveLogin decides which identity, if any, the request belongs to.
//
// A request without face evidence is resolved by exact device-key lookup.
// Any face evidence makes face verification mandatory; the first usable
// signal in the order embedding, landmarks, legacy hash selects the strategy.
// Device binding and identity eligibility are checked only after a face match.
func (r *Resolver) ResolveLogin(req VerificationRequest, pop *Population) Decision {
	if !req.HasFaceSignal() {
		return r.resolveDevice(req.DeviceKey, pop)
	}

	var (
		res    SearchResult
		reason Reason
	)

	sample := usableSample(req)
	switch {
	case sample.embedding != nil:
		var err error
		res, err = SearchEmbedding(sample.embedding, pop.WithEmbedding(), r.thresholds.LoginEmbedding)
		if errors.Is(err, ErrDimensionMismatch) {
			return rejected(ReasonDimensionMismatch, nil, res.Scanned)
		}
	case sample.landmarks != nil:
		res = SearchLandmarks(*sample.landmarks, pop.WithLandmarks(), r.thresholds.LoginLandmark)
	case sample.hash != "":
		res = searchHash(sample.hash, pop)
	default:
		return rejected(ReasonNoBiometricData, nil, 0)
	}

	if res.Match == nil {
		return rejected(ReasonNoCandidate, nil, res.Scanned)
	}

	profile := pop.ByIdentity(res.Match.IdentityID)
	if reason = checkBinding(profile, req.DeviceKey); reason != ReasonNone {
		return rejected(reason, res.Match, res.Scanned)
	}
	if !profile.Eligible() {
		return rejected(ReasonProfileDisabled, res.Match, res.Scanned)
	}

	return accepted(*res.Match, res.Scanned)
}

func (r *Resolver) resolveDevice(key string, pop *Population) Decision {
	if key == "" {
		return rejected(ReasonNoBiometricData, nil, 0)
	}

	profile := pop.ByDeviceKey(key)
	if profile == nil {
		return rejected(ReasonNoCandidate, nil, 0)
	}

	m := MatchResult{IdentityID: profile.IdentityID, Similarity: 1, Signal: SignalDevice}
	if !profile.Eligible() {
		return rejected(ReasonProfileDisabled, &m, 1)
	}
	return accepted(m, 1)
}

// checkBinding enforces that a profile bound to a device is only reachable
// from that device.
func checkBinding(p *Profile, presented string) Reason {
	if p.DeviceKey == "" {
		return ReasonNone
	}
	if presented == "" || subtle.ConstantTimeCompare([]byte(p.DeviceKey), []byte(presented)) != 1 {
		return ReasonDeviceMismatch
	}
	return ReasonNone
}

// searchHash resolves an exact legacy-hash match. A hash shared by several
// identities identifies nobody.
func searchHash(hash string, pop *Population) SearchResult {
	matches := pop.ByLegacyHash(hash)
	res := SearchResult{Scanned: len(matches)}
	if len(matches) == 1 {
		res.Match = &MatchResult{IdentityID: matches[0].IdentityID, Similarity: 1, Signal: SignalHash}
	}
	return res
}

// sample holds the usable face signals of a request.
type sample struct {
	embedding []float32
	landmarks *facematch.Features
	hash      string
}

func (s sample) empty() bool {
	return s.embedding == nil && s.landmarks == nil && s.hash == ""
}

func usableSample(req VerificationRequest) sample {
	var s sample
	if len(req.Embedding) > 0 && ValidateEmbedding(req.Embedding) == nil {
		s.embedding = req.Embedding
	}
	if req.Landmarks != nil {
		if f, err := req.Landmarks.Resolve(); err == nil {
			s.landmarks = &f
		}
	}
	s.hash = req.LegacyHash
	return s
}

// Package verification runs login and enrollment decisions against the
// stored population and records their outcome.
package verification

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/kozaktomas/presence/internal/biometric"
	"github.com/kozaktomas/presence/internal/constants"
	"github.com/kozaktomas/presence/internal/database"
	"github.com/kozaktomas/presence/internal/logging"
	"github.com/kozaktomas/presence/internal/metrics"
)

var (
	// ErrIdentityRequired is returned when an enrollment names no identity.
	ErrIdentityRequired = errors.New("identity_id is required for enrollment")

	// ErrNoEmbedding is returned by Similar for a profile without an embedding.
	ErrNoEmbedding = errors.New("profile has no embedding")
)

// Audit outcomes.
const (
	OutcomeAccepted = "accepted"
	OutcomeRejected = "rejected"
	OutcomeAllowed  = "allowed"
	OutcomeBlocked  = "blocked"
)

// Service orchestrates verification decisions.
type Service struct {
	profiles      database.ProfileWriter
	audit         database.AuditWriter
	directory     database.EligibilitySource
	resolver      *biometric.Resolver
	guard         *biometric.Guard
	metrics       *metrics.Metrics
	log           logging.Logger
	maxPopulation int
	now           func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithAudit records every decision through w.
func WithAudit(w database.AuditWriter) Option {
	return func(s *Service) { s.audit = w }
}

// WithDirectory checks accepted logins against an HR directory.
func WithDirectory(d database.EligibilitySource) Option {
	return func(s *Service) { s.directory = d }
}

// WithMetrics reports decisions to m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithLogger sets the service logger.
func WithLogger(l logging.Logger) Option {
	return func(s *Service) { s.log = l }
}

// WithMaxPopulation caps the number of active profiles a decision may scan.
func WithMaxPopulation(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxPopulation = n
		}
	}
}

// WithThresholds overrides the decision thresholds. Used by tests.
func WithThresholds(t biometric.Thresholds) Option {
	return func(s *Service) {
		s.resolver = biometric.NewResolver(t)
		s.guard = biometric.NewGuard(t)
	}
}

// NewService creates a verification service over a profile repository.
func NewService(profiles database.ProfileWriter, opts ...Option) *Service {
	s := &Service{
		profiles:      profiles,
		resolver:      biometric.NewResolver(biometric.DefaultThresholds()),
		guard:         biometric.NewGuard(biometric.DefaultThresholds()),
		log:           logging.NewNop(),
		maxPopulation: constants.MaxPopulation,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.metrics == nil {
		s.metrics = metrics.New(false)
	}
	s.log = s.log.Named("verification")
	return s
}

// LoginResult is a login decision with the request it was made for.
type LoginResult struct {
	biometric.Decision
	RequestID string `json:"request_id"`
}

// EnrollRequest is an enrollment sample plus the identity-level attributes
// a new profile starts with.
type EnrollRequest struct {
	biometric.VerificationRequest
	BiometricEnabled bool
	ApprovalStatus   biometric.ApprovalStatus
}

// EnrollResult is the guard's outcome with what was persisted.
type EnrollResult struct {
	biometric.EnrollmentOutcome
	RequestID string `json:"request_id"`
	Stored    bool   `json:"stored"`
}

// population reads a snapshot of the active profiles. One profile more than
// the cap is requested so an oversized population is detected, not truncated.
func (s *Service) population(ctx context.Context, mode biometric.Mode) (*biometric.Population, error) {
	stored, err := s.profiles.ListActive(ctx, s.maxPopulation+1)
	if err != nil {
		s.metrics.StorageError("list_active")
		return nil, fmt.Errorf("load population: %w", err)
	}

	pop, err := biometric.NewPopulation(database.ToProfiles(stored), s.maxPopulation)
	if err != nil {
		return nil, err
	}
	if pop.Skipped() > 0 {
		s.log.Warn("profiles skipped from population", logging.Int("skipped", pop.Skipped()))
	}
	s.metrics.ObservePopulation(string(mode), pop.Len())
	return pop, nil
}

// Login resolves a login attempt. Rejections are returned in the result;
// an error means the decision could not be made.
func (s *Service) Login(ctx context.Context, req biometric.VerificationRequest) (LoginResult, error) {
	start := s.now()
	req.Mode = biometric.ModeLogin
	res := LoginResult{RequestID: RequestIDFromContext(ctx)}

	pop, err := s.population(ctx, biometric.ModeLogin)
	if err != nil {
		s.log.Error("login failed", logging.String("request_id", res.RequestID), logging.Err(err))
		return res, err
	}

	res.Decision = s.resolver.ResolveLogin(req, pop)
	if res.Accepted && s.directory != nil {
		res.Decision, err = s.checkDirectory(ctx, res.Decision)
		if err != nil {
			s.log.Error("login failed", logging.String("request_id", res.RequestID), logging.Err(err))
			return res, err
		}
	}

	outcome := OutcomeRejected
	if res.Accepted {
		outcome = OutcomeAccepted
	}
	event := database.AuditEvent{
		RequestID:        res.RequestID,
		Mode:             string(biometric.ModeLogin),
		IdentityID:       res.IdentityID(),
		Outcome:          outcome,
		Reason:           string(res.Reason),
		DeviceKeyPresent: req.DeviceKey != "",
		Candidates:       res.Scanned,
	}
	if res.Match != nil {
		event.Signal = string(res.Match.Signal)
		event.Similarity = res.Match.Similarity
		if event.IdentityID == "" {
			event.IdentityID = res.Match.IdentityID
		}
	}
	s.finish(ctx, event, res.Match != nil, start)
	return res, nil
}

// checkDirectory applies the HR system's view to an accepted login. An
// identity the directory does not know is treated as disabled.
func (s *Service) checkDirectory(ctx context.Context, d biometric.Decision) (biometric.Decision, error) {
	elig, err := s.directory.Eligibility(ctx, d.IdentityID())
	if err != nil {
		s.metrics.StorageError("eligibility")
		return d, fmt.Errorf("check eligibility: %w", err)
	}
	if elig.Found && elig.BiometricEnabled && elig.ApprovalStatus != string(biometric.ApprovalRejected) {
		return d, nil
	}
	return biometric.Decision{Reason: biometric.ReasonProfileDisabled, Match: d.Match, Scanned: d.Scanned}, nil
}

// Enroll guards an enrollment and persists the profile when it is allowed.
func (s *Service) Enroll(ctx context.Context, req EnrollRequest) (EnrollResult, error) {
	start := s.now()
	req.Mode = biometric.ModeEnroll
	res := EnrollResult{RequestID: RequestIDFromContext(ctx)}

	if req.IdentityID == "" {
		return res, ErrIdentityRequired
	}

	pop, err := s.population(ctx, biometric.ModeEnroll)
	if err != nil {
		s.log.Error("enrollment failed", logging.String("request_id", res.RequestID), logging.Err(err))
		return res, err
	}

	res.EnrollmentOutcome = s.guard.GuardEnrollment(req.VerificationRequest, pop)
	if res.Allow {
		res.EnrollmentOutcome, err = s.persist(ctx, req, pop, res.EnrollmentOutcome)
		if err != nil {
			s.log.Error("enrollment failed",
				logging.String("request_id", res.RequestID),
				logging.String("identity_id", req.IdentityID),
				logging.Err(err))
			return res, err
		}
		res.Stored = res.Allow
	}

	outcome := OutcomeBlocked
	if res.Allow {
		outcome = OutcomeAllowed
	}
	s.finish(ctx, database.AuditEvent{
		RequestID:        res.RequestID,
		Mode:             string(biometric.ModeEnroll),
		IdentityID:       req.IdentityID,
		Outcome:          outcome,
		Reason:           string(res.Reason),
		Signal:           string(res.Signal),
		Similarity:       res.Similarity,
		DeviceKeyPresent: req.DeviceKey != "",
		Candidates:       res.Scanned,
	}, res.Signal != "", start)
	return res, nil
}

// persist stores an allowed enrollment. A storage conflict on the device key
// means another enrollment bound the device after the snapshot was taken.
func (s *Service) persist(ctx context.Context, req EnrollRequest, pop *biometric.Population, out biometric.EnrollmentOutcome) (biometric.EnrollmentOutcome, error) {
	p := storedProfile(req)
	if existing := pop.ByIdentity(req.IdentityID); existing != nil {
		p.BiometricEnabled = existing.BiometricEnabled
		p.ApprovalStatus = string(existing.ApprovalStatus)
	}

	var err error
	if out.Classification == biometric.ClassReEnrollment {
		err = s.profiles.Replace(ctx, p)
		if errors.Is(err, database.ErrProfileNotFound) {
			err = s.profiles.Create(ctx, p)
		}
	} else {
		err = s.profiles.Create(ctx, p)
		if errors.Is(err, database.ErrIdentityExists) {
			// The identity has an inactive profile outside the snapshot.
			err = s.profiles.Replace(ctx, p)
		}
	}

	switch {
	case errors.Is(err, database.ErrDeviceKeyTaken):
		owner := s.deviceOwner(ctx, req.DeviceKey)
		s.log.Info("device bound concurrently",
			logging.String("identity_id", req.IdentityID),
			logging.String("owner_identity_id", owner),
			logging.DeviceKey(req.DeviceKey))
		return biometric.EnrollmentOutcome{
			Classification:      biometric.ClassBlocked,
			Reason:              biometric.ReasonDeviceAlreadyBound,
			ConflictingIdentity: owner,
			SameDevice:          true,
			Scanned:             out.Scanned,
		}, nil
	case err != nil:
		s.metrics.StorageError("save_profile")
		return out, fmt.Errorf("save profile: %w", err)
	}
	return out, nil
}

// deviceOwner re-reads which identity holds a device key after a lost
// race. The owner may have moved on again, in which case it is unknown.
func (s *Service) deviceOwner(ctx context.Context, deviceKey string) string {
	p, err := s.profiles.GetByDeviceKey(ctx, deviceKey)
	switch {
	case err == nil:
		return p.IdentityID
	case !errors.Is(err, database.ErrProfileNotFound):
		s.metrics.StorageError("get_device_owner")
		s.log.Warn("device owner lookup failed", logging.DeviceKey(deviceKey), logging.Err(err))
	}
	return ""
}

// storedProfile keeps only the signals that are usable; a signal that fails
// validation is not persisted.
func storedProfile(req EnrollRequest) database.StoredProfile {
	p := database.StoredProfile{
		IdentityID:       req.IdentityID,
		LegacyHash:       req.LegacyHash,
		DeviceKey:        req.DeviceKey,
		Active:           true,
		BiometricEnabled: req.BiometricEnabled,
		ApprovalStatus:   string(req.ApprovalStatus),
	}
	if biometric.ValidateEmbedding(req.Embedding) == nil {
		p.Embedding = req.Embedding
	}
	if req.Landmarks != nil {
		if f, err := req.Landmarks.Resolve(); err == nil {
			p.Landmarks = &f
		}
	}
	if p.ApprovalStatus == "" {
		p.ApprovalStatus = string(biometric.ApprovalPending)
	}
	return p
}

// finish records the audit event, metrics and the decision log line.
func (s *Service) finish(ctx context.Context, e database.AuditEvent, matched bool, start time.Time) {
	took := s.now().Sub(start)
	s.metrics.ObserveDecision(e.Mode, e.Outcome, e.Reason, e.Signal, e.Similarity, matched, took)

	s.log.Info("verification decision",
		logging.String("request_id", e.RequestID),
		logging.String("mode", e.Mode),
		logging.String("outcome", e.Outcome),
		logging.String("identity_id", e.IdentityID),
		logging.String("reason", e.Reason),
		logging.String("signal", e.Signal),
		logging.Float64("similarity", e.Similarity),
		logging.Int("candidates", e.Candidates),
		logging.Duration("took", took))

	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, e); err != nil {
		s.metrics.StorageError("audit_record")
		s.log.Error("failed to record verification event",
			logging.String("request_id", e.RequestID), logging.Err(err))
	}
}

// Similar returns the active profiles nearest to an identity's embedding,
// the identity itself excluded.
func (s *Service) Similar(ctx context.Context, identityID string, k int) ([]database.Neighbor, error) {
	if k <= 0 {
		k = constants.DefaultSimilarLimit
	}
	p, err := s.profiles.Get(ctx, identityID)
	if err != nil {
		return nil, err
	}
	if len(p.Embedding) == 0 {
		return nil, ErrNoEmbedding
	}

	neighbors, err := s.profiles.FindSimilar(ctx, p.Embedding, k+1)
	if err != nil {
		s.metrics.StorageError("find_similar")
		return nil, fmt.Errorf("find similar profiles: %w", err)
	}

	out := make([]database.Neighbor, 0, k)
	for _, n := range neighbors {
		if n.IdentityID == identityID {
			continue
		}
		out = append(out, n)
		if len(out) == k {
			break
		}
	}
	return out, nil
}

type requestIDKey struct{}

// ContextWithRequestID attaches a request ID to ctx.
func ContextWithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestIDFromContext returns the request ID attached to ctx, or a new one.
func RequestIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey{}).(string); ok && id != "" {
		return id
	}
	return uuid.NewString()
}

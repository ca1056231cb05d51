package verification

import (
	"context"
	"errors"
	"fmt"
	"math"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/kozaktomas/presence/internal/biometric"
	"github.com/kozaktomas/presence/internal/database"
	"github.com/kozaktomas/presence/internal/database/mock"
	"github.com/kozaktomas/presence/internal/logging"
	"github.com/kozaktomas/presence/internal/metrics"
)

type fixture struct {
	profiles  *mock.MockProfileStore
	audit     *mock.MockAuditWriter
	metrics   *metrics.Metrics
	logs      *observer.ObservedLogs
	service   *Service
	directory *mock.MockEligibilitySource
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	core, logs := observer.New(zapcore.DebugLevel)
	f := &fixture{
		profiles: mock.NewMockProfileStore(),
		audit:    mock.NewMockAuditWriter(),
		metrics:  metrics.New(false),
		logs:     logs,
	}
	opts = append([]Option{
		WithAudit(f.audit),
		WithMetrics(f.metrics),
		WithLogger(logging.NewFromCore(core)),
	}, opts...)
	f.service = NewService(f.profiles, opts...)
	return f
}

func withDirectory(t *testing.T) (*fixture, *mock.MockEligibilitySource) {
	t.Helper()
	dir := mock.NewMockEligibilitySource()
	f := newFixture(t, WithDirectory(dir))
	f.directory = dir
	return f, dir
}

func stored(id string, emb []float32, device string) database.StoredProfile {
	return database.StoredProfile{
		IdentityID:       id,
		Embedding:        emb,
		DeviceKey:        device,
		Active:           true,
		BiometricEnabled: true,
		ApprovalStatus:   "approved",
	}
}

func TestLogin_AcceptsEmbeddingMatch(t *testing.T) {
	f := newFixture(t)
	f.profiles.AddProfile(stored("A", []float32{1, 0, 0}, ""))
	f.profiles.AddProfile(stored("B", []float32{0, 0, 1}, ""))

	ctx := ContextWithRequestID(context.Background(), "req-1")
	res, err := f.service.Login(ctx, biometric.VerificationRequest{Embedding: []float32{0.9, 0.1, 0}})
	require.NoError(t, err)

	assert.True(t, res.Accepted)
	assert.Equal(t, "A", res.IdentityID())
	assert.Equal(t, biometric.SignalEmbedding, res.Match.Signal)
	assert.InDelta(t, 0.9939, res.Match.Similarity, 1e-3)
	assert.Equal(t, "req-1", res.RequestID)

	events := f.audit.Events()
	require.Len(t, events, 1)
	assert.Equal(t, "req-1", events[0].RequestID)
	assert.Equal(t, OutcomeAccepted, events[0].Outcome)
	assert.Equal(t, "A", events[0].IdentityID)
	assert.Equal(t, "embedding", events[0].Signal)
	assert.False(t, events[0].DeviceKeyPresent)

	assert.InDelta(t, 1, testutil.ToFloat64(f.metrics.Decisions.WithLabelValues("login", "accepted", "none")), 0)
	assert.InDelta(t, 2, testutil.ToFloat64(f.metrics.PopulationSize.WithLabelValues("login")), 0)
	assert.Equal(t, 1, f.logs.FilterMessage("verification decision").Len())
}

func TestLogin_RejectionIsAudited(t *testing.T) {
	f := newFixture(t)
	f.profiles.AddProfile(stored("A", []float32{1, 0, 0}, "phone-A"))

	res, err := f.service.Login(context.Background(), biometric.VerificationRequest{
		Embedding: []float32{1, 0, 0},
		DeviceKey: "phone-B",
	})
	require.NoError(t, err)
	assert.False(t, res.Accepted)
	assert.Equal(t, biometric.ReasonDeviceMismatch, res.Reason)
	assert.Empty(t, res.IdentityID())
	assert.NotEmpty(t, res.RequestID)

	events := f.audit.Events()
	require.Len(t, events, 1)
	assert.Equal(t, OutcomeRejected, events[0].Outcome)
	assert.Equal(t, string(biometric.ReasonDeviceMismatch), events[0].Reason)
	assert.Equal(t, "A", events[0].IdentityID)
	assert.True(t, events[0].DeviceKeyPresent)
	assert.InDelta(t, 1, testutil.ToFloat64(f.metrics.Decisions.WithLabelValues("login", "rejected", "device_mismatch")), 0)
}

func TestLogin_Directory(t *testing.T) {
	tests := []struct {
		name     string
		setup    func(dir *mock.MockEligibilitySource)
		accepted bool
	}{
		{"enabled", func(dir *mock.MockEligibilitySource) { dir.Set("A", true, "approved") }, true},
		{"pending", func(dir *mock.MockEligibilitySource) { dir.Set("A", true, "pending") }, true},
		{"disabled", func(dir *mock.MockEligibilitySource) { dir.Set("A", false, "approved") }, false},
		{"rejected", func(dir *mock.MockEligibilitySource) { dir.Set("A", true, "rejected") }, false},
		{"unknown", func(*mock.MockEligibilitySource) {}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, dir := withDirectory(t)
			f.profiles.AddProfile(stored("A", []float32{1, 0, 0}, ""))
			tt.setup(dir)

			res, err := f.service.Login(context.Background(), biometric.VerificationRequest{Embedding: []float32{1, 0, 0}})
			require.NoError(t, err)
			assert.Equal(t, tt.accepted, res.Accepted)
			if !tt.accepted {
				assert.Equal(t, biometric.ReasonProfileDisabled, res.Reason)
				require.NotNil(t, res.Match)
				assert.Equal(t, "A", res.Match.IdentityID)
			}
		})
	}
}

func TestLogin_DirectoryNotConsultedOnRejection(t *testing.T) {
	f, dir := withDirectory(t)
	dir.Error = errors.New("hr down")

	res, err := f.service.Login(context.Background(), biometric.VerificationRequest{DeviceKey: "nobody"})
	require.NoError(t, err)
	assert.Equal(t, biometric.ReasonNoCandidate, res.Reason)
}

func TestLogin_InfrastructureErrors(t *testing.T) {
	t.Run("population read", func(t *testing.T) {
		f := newFixture(t)
		f.profiles.ListError = errors.New("connection refused")

		_, err := f.service.Login(context.Background(), biometric.VerificationRequest{DeviceKey: "d"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "load population")
		assert.Empty(t, f.audit.Events())
		assert.InDelta(t, 1, testutil.ToFloat64(f.metrics.StorageErrors.WithLabelValues("list_active")), 0)
	})

	t.Run("directory", func(t *testing.T) {
		f, dir := withDirectory(t)
		f.profiles.AddProfile(stored("A", []float32{1, 0, 0}, ""))
		dir.Error = errors.New("hr down")

		_, err := f.service.Login(context.Background(), biometric.VerificationRequest{Embedding: []float32{1, 0, 0}})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "check eligibility")
	})

	t.Run("population too large", func(t *testing.T) {
		f := newFixture(t, WithMaxPopulation(2))
		for i := range 3 {
			f.profiles.AddProfile(stored(fmt.Sprintf("p%d", i), []float32{1, float32(i), 0}, ""))
		}

		_, err := f.service.Login(context.Background(), biometric.VerificationRequest{Embedding: []float32{1, 0, 0}})
		assert.ErrorIs(t, err, biometric.ErrPopulationTooLarge)
	})
}

func TestLogin_AuditFailureIsNotFatal(t *testing.T) {
	f := newFixture(t)
	f.profiles.AddProfile(stored("A", []float32{1, 0, 0}, ""))
	f.audit.RecordError = errors.New("disk full")

	res, err := f.service.Login(context.Background(), biometric.VerificationRequest{Embedding: []float32{1, 0, 0}})
	require.NoError(t, err)
	assert.True(t, res.Accepted)
	assert.Equal(t, 1, f.logs.FilterMessage("failed to record verification event").Len())
	assert.InDelta(t, 1, testutil.ToFloat64(f.metrics.StorageErrors.WithLabelValues("audit_record")), 0)
}

func enroll(id string, emb []float32, device string) EnrollRequest {
	return EnrollRequest{
		VerificationRequest: biometric.VerificationRequest{IdentityID: id, Embedding: emb, DeviceKey: device},
		BiometricEnabled:    true,
	}
}

func TestEnroll_NewProfile(t *testing.T) {
	f := newFixture(t)
	f.profiles.AddProfile(stored("A", []float32{1, 0, 0}, "phone-A"))

	res, err := f.service.Enroll(context.Background(), enroll("B", []float32{0, 1, 0}, "phone-B"))
	require.NoError(t, err)
	assert.True(t, res.Allow)
	assert.True(t, res.Stored)
	assert.Equal(t, biometric.ClassNewEnrollment, res.Classification)

	p, err := f.profiles.Get(context.Background(), "B")
	require.NoError(t, err)
	assert.Equal(t, []float32{0, 1, 0}, p.Embedding)
	assert.Equal(t, "phone-B", p.DeviceKey)
	assert.True(t, p.Active)
	assert.Equal(t, "pending", p.ApprovalStatus)

	events := f.audit.Events()
	require.Len(t, events, 1)
	assert.Equal(t, OutcomeAllowed, events[0].Outcome)
	assert.Equal(t, "B", events[0].IdentityID)
}

func TestEnroll_BlocksDuplicateFace(t *testing.T) {
	f := newFixture(t)
	f.profiles.AddProfile(stored("A", []float32{1, 0, 0}, "phone-A"))

	res, err := f.service.Enroll(context.Background(), enroll("B", []float32{1, 0, 0}, "phone-B"))
	require.NoError(t, err)
	assert.False(t, res.Allow)
	assert.False(t, res.Stored)
	assert.Equal(t, biometric.ReasonConflictingIdentity, res.Reason)
	assert.Equal(t, "A", res.ConflictingIdentity)
	assert.False(t, res.SameDevice)

	_, err = f.profiles.Get(context.Background(), "B")
	assert.ErrorIs(t, err, database.ErrProfileNotFound)

	events := f.audit.Events()
	require.Len(t, events, 1)
	assert.Equal(t, OutcomeBlocked, events[0].Outcome)
	assert.Equal(t, "embedding", events[0].Signal)
}

func TestEnroll_ReEnrollmentReplacesProfile(t *testing.T) {
	f := newFixture(t)
	old := stored("A", []float32{1, 0, 0}, "phone-A")
	old.LegacyHash = "legacy"
	old.ApprovalStatus = "approved"
	f.profiles.AddProfile(old)

	req := enroll("A", []float32{0.999, 0.01, 0}, "phone-A2")
	req.BiometricEnabled = false
	res, err := f.service.Enroll(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, res.Allow)
	assert.Equal(t, biometric.ClassReEnrollment, res.Classification)

	p, err := f.profiles.Get(context.Background(), "A")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.999, 0.01, 0}, p.Embedding)
	assert.Empty(t, p.LegacyHash)
	assert.Equal(t, "phone-A2", p.DeviceKey)
	// Identity-level attributes survive re-enrollment.
	assert.True(t, p.BiometricEnabled)
	assert.Equal(t, "approved", p.ApprovalStatus)
}

func TestEnroll_InactiveProfileIsReplaced(t *testing.T) {
	f := newFixture(t)
	inactive := stored("A", []float32{0, 0, 1}, "phone-old")
	inactive.Active = false
	f.profiles.AddProfile(inactive)

	res, err := f.service.Enroll(context.Background(), enroll("A", []float32{0, 1, 0}, "phone-A"))
	require.NoError(t, err)
	assert.True(t, res.Stored)
	assert.Equal(t, biometric.ClassNewEnrollment, res.Classification)

	p, err := f.profiles.Get(context.Background(), "A")
	require.NoError(t, err)
	assert.True(t, p.Active)
	assert.Equal(t, []float32{0, 1, 0}, p.Embedding)
}

func TestEnroll_DeviceRaceLost(t *testing.T) {
	f := newFixture(t)
	// C binds phone-B after the population snapshot was read.
	f.profiles.BeforeWrite = func() {
		f.profiles.AddProfile(stored("C", []float32{0, 0, 1}, "phone-B"))
	}

	res, err := f.service.Enroll(context.Background(), enroll("B", []float32{0, 1, 0}, "phone-B"))
	require.NoError(t, err)
	assert.False(t, res.Allow)
	assert.False(t, res.Stored)
	assert.Equal(t, biometric.ReasonDeviceAlreadyBound, res.Reason)
	assert.Equal(t, "C", res.ConflictingIdentity)
	assert.True(t, res.SameDevice)
	assert.Equal(t, OutcomeBlocked, f.audit.Events()[0].Outcome)

	_, err = f.profiles.Get(context.Background(), "B")
	assert.ErrorIs(t, err, database.ErrProfileNotFound)
}

func TestEnroll_DeviceRaceLostOwnerUnknown(t *testing.T) {
	f := newFixture(t)
	f.profiles.CreateError = database.ErrDeviceKeyTaken

	res, err := f.service.Enroll(context.Background(), enroll("B", []float32{0, 1, 0}, "phone-B"))
	require.NoError(t, err)
	assert.Equal(t, biometric.ReasonDeviceAlreadyBound, res.Reason)
	assert.Empty(t, res.ConflictingIdentity)
}

func TestEnroll_OtherFaceForEnrolledIdentity(t *testing.T) {
	f := newFixture(t)
	f.profiles.AddProfile(stored("A", []float32{1, 0, 0}, "phone-A"))

	res, err := f.service.Enroll(context.Background(), enroll("A", []float32{0, 1, 0}, "phone-X"))
	require.NoError(t, err)
	assert.False(t, res.Allow)
	assert.False(t, res.Stored)
	assert.Equal(t, biometric.ClassBlocked, res.Classification)
	assert.Equal(t, biometric.ReasonConflictingIdentity, res.Reason)
	assert.Equal(t, "A", res.ConflictingIdentity)
	assert.False(t, res.SameDevice)

	p, err := f.profiles.Get(context.Background(), "A")
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 0, 0}, p.Embedding)
	assert.Equal(t, "phone-A", p.DeviceKey)
}

func TestEnroll_StorageFailure(t *testing.T) {
	f := newFixture(t)
	f.profiles.CreateError = errors.New("connection reset")

	_, err := f.service.Enroll(context.Background(), enroll("B", []float32{0, 1, 0}, ""))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "save profile")
	assert.Empty(t, f.audit.Events())
}

func TestEnroll_RequiresIdentity(t *testing.T) {
	f := newFixture(t)
	_, err := f.service.Enroll(context.Background(), enroll("", []float32{0, 1, 0}, ""))
	assert.ErrorIs(t, err, ErrIdentityRequired)
}

func TestEnroll_DropsUnusableSignals(t *testing.T) {
	f := newFixture(t)
	req := enroll("B", nil, "")
	req.LegacyHash = "h-1"
	req.Embedding = []float32{float32(math.NaN()), 1}

	res, err := f.service.Enroll(context.Background(), req)
	require.NoError(t, err)
	require.True(t, res.Stored)

	p, err := f.profiles.Get(context.Background(), "B")
	require.NoError(t, err)
	assert.Nil(t, p.Embedding)
	assert.Equal(t, "h-1", p.LegacyHash)
}

func TestSimilar(t *testing.T) {
	f := newFixture(t)
	f.profiles.AddProfile(stored("A", []float32{1, 0, 0}, ""))
	f.profiles.AddProfile(stored("B", []float32{0.9, 0.1, 0}, ""))
	f.profiles.AddProfile(stored("C", []float32{0, 1, 0}, ""))
	f.profiles.AddProfile(database.StoredProfile{IdentityID: "H", LegacyHash: "h", Active: true})

	got, err := f.service.Similar(context.Background(), "A", 1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "B", got[0].IdentityID)

	got, err = f.service.Similar(context.Background(), "A", 0)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "C", got[1].IdentityID)

	_, err = f.service.Similar(context.Background(), "H", 5)
	assert.ErrorIs(t, err, ErrNoEmbedding)

	_, err = f.service.Similar(context.Background(), "missing", 5)
	assert.ErrorIs(t, err, database.ErrProfileNotFound)
}

func TestRequestIDFromContext(t *testing.T) {
	assert.Equal(t, "abc", RequestIDFromContext(ContextWithRequestID(context.Background(), "abc")))

	a := RequestIDFromContext(context.Background())
	b := RequestIDFromContext(context.Background())
	assert.NotEmpty(t, a)
	assert.NotEqual(t, a, b)
}

// Package mock provides mock implementations of database interfaces for testing.
package mock

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kozaktomas/presence/internal/biometric"
	"github.com/kozaktomas/presence/internal/database"
)

// MockProfileStore is an in-memory implementation of database.ProfileWriter.
// Create enforces the same uniqueness rules as the PostgreSQL backend under
// one lock, so concurrent creates behave like the single-statement insert.
type MockProfileStore struct {
	mu       sync.RWMutex
	profiles map[string]*database.StoredProfile

	// Error injection
	GetError         error
	ListError        error
	CountError       error
	FindSimilarError error
	CreateError      error
	ReplaceError     error
	SetActiveError   error
	DeleteError      error

	// BeforeWrite runs at the start of Create and Replace, outside the lock.
	// Tests use it to change the store between a read and a write.
	BeforeWrite func()
}

// NewMockProfileStore creates a new empty mock profile store
func NewMockProfileStore() *MockProfileStore {
	return &MockProfileStore{
		profiles: make(map[string]*database.StoredProfile),
	}
}

// AddProfile stores a profile without any uniqueness checks
func (m *MockProfileStore) AddProfile(p database.StoredProfile) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
		p.UpdatedAt = p.CreatedAt
	}
	m.profiles[p.IdentityID] = &p
}

// deviceHolder returns the active profile holding key, other than except.
// Caller holds the lock.
func (m *MockProfileStore) deviceHolder(key, except string) *database.StoredProfile {
	if key == "" {
		return nil
	}
	for id, p := range m.profiles {
		if id != except && p.Active && p.DeviceKey == key {
			return p
		}
	}
	return nil
}

// Get retrieves a profile by identity
func (m *MockProfileStore) Get(_ context.Context, identityID string) (*database.StoredProfile, error) {
	if m.GetError != nil {
		return nil, m.GetError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.profiles[identityID]
	if !ok {
		return nil, database.ErrProfileNotFound
	}
	cp := *p
	return &cp, nil
}

// GetByDeviceKey retrieves the active profile bound to a device key
func (m *MockProfileStore) GetByDeviceKey(_ context.Context, deviceKey string) (*database.StoredProfile, error) {
	if m.GetError != nil {
		return nil, m.GetError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	p := m.deviceHolder(deviceKey, "")
	if p == nil {
		return nil, database.ErrProfileNotFound
	}
	cp := *p
	return &cp, nil
}

// sorted returns copies of the stored profiles ordered by identity.
func (m *MockProfileStore) sorted(activeOnly bool) []database.StoredProfile {
	out := make([]database.StoredProfile, 0, len(m.profiles))
	for _, p := range m.profiles {
		if activeOnly && !p.Active {
			continue
		}
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].IdentityID < out[j].IdentityID })
	return out
}

// ListActive returns at most limit active profiles ordered by identity
func (m *MockProfileStore) ListActive(_ context.Context, limit int) ([]database.StoredProfile, error) {
	if m.ListError != nil {
		return nil, m.ListError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := m.sorted(true)
	if limit >= 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// List returns a page of profiles ordered by identity
func (m *MockProfileStore) List(_ context.Context, opts database.ListOptions) ([]database.StoredProfile, error) {
	if m.ListError != nil {
		return nil, m.ListError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := m.sorted(opts.ActiveOnly)
	if opts.Offset >= len(out) {
		return nil, nil
	}
	out = out[opts.Offset:]
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out, nil
}

// ListByIdentities returns the stored profiles of the given identities
func (m *MockProfileStore) ListByIdentities(_ context.Context, identityIDs []string) ([]database.StoredProfile, error) {
	if m.ListError != nil {
		return nil, m.ListError
	}
	want := make(map[string]bool, len(identityIDs))
	for _, id := range identityIDs {
		want[id] = true
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []database.StoredProfile
	for _, p := range m.sorted(false) {
		if want[p.IdentityID] {
			out = append(out, p)
		}
	}
	return out, nil
}

// Count returns the number of stored profiles
func (m *MockProfileStore) Count(_ context.Context, activeOnly bool) (int, error) {
	if m.CountError != nil {
		return 0, m.CountError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sorted(activeOnly)), nil
}

// FindSimilar ranks active profiles of the query's dimension by cosine similarity
func (m *MockProfileStore) FindSimilar(_ context.Context, embedding []float32, limit int) ([]database.Neighbor, error) {
	if m.FindSimilarError != nil {
		return nil, m.FindSimilarError
	}
	if err := biometric.ValidateEmbedding(embedding); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []database.Neighbor
	for _, p := range m.sorted(true) {
		if len(p.Embedding) != len(embedding) {
			continue
		}
		sim, err := biometric.CosineSimilarity(embedding, p.Embedding)
		if err != nil {
			continue
		}
		out = append(out, database.Neighbor{IdentityID: p.IdentityID, Similarity: sim})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Similarity > out[j].Similarity })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Create inserts a profile if neither the identity nor the device key is taken
func (m *MockProfileStore) Create(_ context.Context, p database.StoredProfile) error {
	if m.BeforeWrite != nil {
		m.BeforeWrite()
	}
	if m.CreateError != nil {
		return m.CreateError
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.profiles[p.IdentityID]; ok {
		return database.ErrIdentityExists
	}
	if p.Active && m.deviceHolder(p.DeviceKey, "") != nil {
		return database.ErrDeviceKeyTaken
	}
	if p.ApprovalStatus == "" {
		p.ApprovalStatus = string(biometric.ApprovalPending)
	}
	p.CreatedAt = time.Now()
	p.UpdatedAt = p.CreatedAt
	m.profiles[p.IdentityID] = &p
	return nil
}

// Replace overwrites an existing profile
func (m *MockProfileStore) Replace(_ context.Context, p database.StoredProfile) error {
	if m.BeforeWrite != nil {
		m.BeforeWrite()
	}
	if m.ReplaceError != nil {
		return m.ReplaceError
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	old, ok := m.profiles[p.IdentityID]
	if !ok {
		return database.ErrProfileNotFound
	}
	if p.Active && m.deviceHolder(p.DeviceKey, p.IdentityID) != nil {
		return database.ErrDeviceKeyTaken
	}
	if p.ApprovalStatus == "" {
		p.ApprovalStatus = string(biometric.ApprovalPending)
	}
	p.CreatedAt = old.CreatedAt
	p.UpdatedAt = time.Now()
	m.profiles[p.IdentityID] = &p
	return nil
}

// SetActive activates or deactivates a profile
func (m *MockProfileStore) SetActive(_ context.Context, identityID string, active bool) error {
	if m.SetActiveError != nil {
		return m.SetActiveError
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.profiles[identityID]
	if !ok {
		return database.ErrProfileNotFound
	}
	if active && m.deviceHolder(p.DeviceKey, identityID) != nil {
		return database.ErrDeviceKeyTaken
	}
	p.Active = active
	p.UpdatedAt = time.Now()
	return nil
}

// Delete removes a profile
func (m *MockProfileStore) Delete(_ context.Context, identityID string) error {
	if m.DeleteError != nil {
		return m.DeleteError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.profiles[identityID]; !ok {
		return database.ErrProfileNotFound
	}
	delete(m.profiles, identityID)
	return nil
}

// MockAuditWriter is an in-memory implementation of database.AuditWriter
type MockAuditWriter struct {
	mu     sync.RWMutex
	events []database.AuditEvent

	// Error injection
	RecordError error
	ListError   error
}

// NewMockAuditWriter creates a new mock audit writer
func NewMockAuditWriter() *MockAuditWriter {
	return &MockAuditWriter{}
}

// Record stores one event
func (m *MockAuditWriter) Record(_ context.Context, e database.AuditEvent) error {
	if m.RecordError != nil {
		return m.RecordError
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, e)
	return nil
}

// List returns the most recent events first
func (m *MockAuditWriter) List(_ context.Context, identityID string, limit int) ([]database.AuditEvent, error) {
	if m.ListError != nil {
		return nil, m.ListError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []database.AuditEvent
	for i := len(m.events) - 1; i >= 0; i-- {
		e := m.events[i]
		if identityID != "" && e.IdentityID != identityID {
			continue
		}
		out = append(out, e)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// Events returns every recorded event in insertion order
func (m *MockAuditWriter) Events() []database.AuditEvent {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]database.AuditEvent(nil), m.events...)
}

// MockEligibilitySource is an in-memory implementation of database.EligibilitySource
type MockEligibilitySource struct {
	mu      sync.RWMutex
	records map[string]database.Eligibility

	// Error injection
	Error error
}

// NewMockEligibilitySource creates a new mock eligibility source
func NewMockEligibilitySource() *MockEligibilitySource {
	return &MockEligibilitySource{records: make(map[string]database.Eligibility)}
}

// Set records the HR view of an identity
func (m *MockEligibilitySource) Set(identityID string, enabled bool, status string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[identityID] = database.Eligibility{Found: true, BiometricEnabled: enabled, ApprovalStatus: status}
}

// Eligibility returns the recorded view; unknown identities are not found
func (m *MockEligibilitySource) Eligibility(_ context.Context, identityID string) (database.Eligibility, error) {
	if m.Error != nil {
		return database.Eligibility{}, m.Error
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.records[identityID], nil
}

package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"

	"github.com/kozaktomas/presence/internal/database"
	"github.com/kozaktomas/presence/internal/facematch"
	"github.com/kozaktomas/presence/internal/logging"
)

// uniqueViolation is the PostgreSQL error code for unique constraint failures.
const uniqueViolation = "23505"

const profileColumns = `identity_id, embedding, landmarks, legacy_hash, device_key,
	active, biometric_enabled, approval_status, created_at, updated_at`

// ProfileRepository provides PostgreSQL-backed profile storage with an
// optional in-memory HNSW index for nearest-profile queries.
type ProfileRepository struct {
	pool      *Pool
	index     *database.ProfileIndex
	indexOn   bool
	indexPath string // Path to persist the index (optional)
	indexMu   sync.RWMutex
	log       logging.Logger
}

// NewProfileRepository creates a new PostgreSQL profile repository.
// A nil logger discards index maintenance messages.
func NewProfileRepository(pool *Pool, log logging.Logger) *ProfileRepository {
	if log == nil {
		log = logging.NewNop()
	}
	return &ProfileRepository{pool: pool, log: log.Named("profiles")}
}

// profileParams holds SQL parameters for the nullable profile columns.
type profileParams struct {
	embedding  any
	landmarks  any
	legacyHash sql.NullString
	deviceKey  sql.NullString
	status     string
}

func toParams(p *database.StoredProfile) (profileParams, error) {
	params := profileParams{
		legacyHash: nullString(p.LegacyHash),
		deviceKey:  nullString(p.DeviceKey),
		status:     p.ApprovalStatus,
	}
	if params.status == "" {
		params.status = "pending"
	}
	if len(p.Embedding) > 0 {
		params.embedding = pgvector.NewVector(p.Embedding)
	}
	if p.Landmarks != nil {
		data, err := json.Marshal(p.Landmarks)
		if err != nil {
			return params, fmt.Errorf("marshal landmarks: %w", err)
		}
		params.landmarks = data
	}
	return params, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}

// Create inserts a profile unless the identity already has one or another
// active profile holds the device key. The insert is a single statement, so
// of two racing enrollments exactly one succeeds.
func (r *ProfileRepository) Create(ctx context.Context, p database.StoredProfile) error {
	params, err := toParams(&p)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO biometric_profiles
			(identity_id, embedding, landmarks, legacy_hash, device_key, active, biometric_enabled, approval_status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT DO NOTHING
	`
	res, err := r.pool.Exec(ctx, query, p.IdentityID, params.embedding, params.landmarks,
		params.legacyHash, params.deviceKey, p.Active, p.BiometricEnabled, params.status)
	if err != nil {
		return fmt.Errorf("insert profile: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("insert profile: %w", err)
	}
	if n == 0 {
		return r.conflictCause(ctx, p.IdentityID)
	}

	if p.Active {
		r.indexAdd(p.IdentityID, p.Embedding)
	}
	return nil
}

// conflictCause tells which unique constraint made an insert a no-op.
func (r *ProfileRepository) conflictCause(ctx context.Context, identityID string) error {
	var exists bool
	err := r.pool.QueryRow(ctx, "SELECT EXISTS(SELECT 1 FROM biometric_profiles WHERE identity_id = $1)", identityID).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check profile exists: %w", err)
	}
	if exists {
		return database.ErrIdentityExists
	}
	return database.ErrDeviceKeyTaken
}

// Replace overwrites every biometric field of an existing profile. Fields
// absent from p are cleared, never merged with the stored ones.
func (r *ProfileRepository) Replace(ctx context.Context, p database.StoredProfile) error {
	params, err := toParams(&p)
	if err != nil {
		return err
	}

	query := `
		UPDATE biometric_profiles
		SET embedding = $2, landmarks = $3, legacy_hash = $4, device_key = $5,
		    active = $6, biometric_enabled = $7, approval_status = $8, updated_at = NOW()
		WHERE identity_id = $1
	`
	res, err := r.pool.Exec(ctx, query, p.IdentityID, params.embedding, params.landmarks,
		params.legacyHash, params.deviceKey, p.Active, p.BiometricEnabled, params.status)
	if isUniqueViolation(err) {
		return database.ErrDeviceKeyTaken
	}
	if err != nil {
		return fmt.Errorf("replace profile: %w", err)
	}
	if err := requireAffected(res); err != nil {
		return err
	}

	r.indexDelete(p.IdentityID)
	if p.Active {
		r.indexAdd(p.IdentityID, p.Embedding)
	}
	return nil
}

// SetActive activates or deactivates a profile. Reactivating a profile whose
// device key was taken over in the meantime fails with ErrDeviceKeyTaken.
func (r *ProfileRepository) SetActive(ctx context.Context, identityID string, active bool) error {
	res, err := r.pool.Exec(ctx,
		"UPDATE biometric_profiles SET active = $2, updated_at = NOW() WHERE identity_id = $1",
		identityID, active)
	if isUniqueViolation(err) {
		return database.ErrDeviceKeyTaken
	}
	if err != nil {
		return fmt.Errorf("set profile active: %w", err)
	}
	if err := requireAffected(res); err != nil {
		return err
	}

	if !active {
		r.indexDelete(identityID)
		return nil
	}
	if p, err := r.Get(ctx, identityID); err == nil {
		r.indexAdd(identityID, p.Embedding)
	}
	return nil
}

// Delete removes a profile.
func (r *ProfileRepository) Delete(ctx context.Context, identityID string) error {
	res, err := r.pool.Exec(ctx, "DELETE FROM biometric_profiles WHERE identity_id = $1", identityID)
	if err != nil {
		return fmt.Errorf("delete profile: %w", err)
	}
	if err := requireAffected(res); err != nil {
		return err
	}
	r.indexDelete(identityID)
	return nil
}

func requireAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return database.ErrProfileNotFound
	}
	return nil
}

// Get retrieves a profile by identity.
func (r *ProfileRepository) Get(ctx context.Context, identityID string) (*database.StoredProfile, error) {
	query := `SELECT ` + profileColumns + ` FROM biometric_profiles WHERE identity_id = $1`
	p, err := scanProfileRow(r.pool.QueryRow(ctx, query, identityID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, database.ErrProfileNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// GetByDeviceKey retrieves the active profile bound to a device key.
func (r *ProfileRepository) GetByDeviceKey(ctx context.Context, deviceKey string) (*database.StoredProfile, error) {
	query := `SELECT ` + profileColumns + ` FROM biometric_profiles WHERE device_key = $1 AND active`
	p, err := scanProfileRow(r.pool.QueryRow(ctx, query, deviceKey))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, database.ErrProfileNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// ListActive returns at most limit active profiles ordered by identity.
func (r *ProfileRepository) ListActive(ctx context.Context, limit int) ([]database.StoredProfile, error) {
	query := `SELECT ` + profileColumns + ` FROM biometric_profiles WHERE active ORDER BY identity_id LIMIT $1`
	rows, err := r.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query active profiles: %w", err)
	}
	defer rows.Close()

	return scanProfiles(rows)
}

// List returns a page of profiles ordered by identity.
func (r *ProfileRepository) List(ctx context.Context, opts database.ListOptions) ([]database.StoredProfile, error) {
	query := `
		SELECT ` + profileColumns + `
		FROM biometric_profiles
		WHERE ($1 = FALSE OR active)
		ORDER BY identity_id
		LIMIT $2 OFFSET $3
	`
	rows, err := r.pool.Query(ctx, query, opts.ActiveOnly, opts.Limit, opts.Offset)
	if err != nil {
		return nil, fmt.Errorf("query profiles: %w", err)
	}
	defer rows.Close()

	return scanProfiles(rows)
}

// ListByIdentities returns the profiles of the given identities.
func (r *ProfileRepository) ListByIdentities(ctx context.Context, identityIDs []string) ([]database.StoredProfile, error) {
	if len(identityIDs) == 0 {
		return nil, nil
	}
	query := `SELECT ` + profileColumns + ` FROM biometric_profiles WHERE identity_id = ANY($1) ORDER BY identity_id`
	rows, err := r.pool.Query(ctx, query, pq.Array(identityIDs))
	if err != nil {
		return nil, fmt.Errorf("query profiles by identity: %w", err)
	}
	defer rows.Close()

	return scanProfiles(rows)
}

// Count returns the number of profiles.
func (r *ProfileRepository) Count(ctx context.Context, activeOnly bool) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM biometric_profiles WHERE ($1 = FALSE OR active)", activeOnly).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count profiles: %w", err)
	}
	return count, nil
}

// FindSimilar returns the active profiles nearest to an embedding.
// Uses the in-memory HNSW index if enabled, otherwise falls back to PostgreSQL.
func (r *ProfileRepository) FindSimilar(ctx context.Context, embedding []float32, limit int) ([]database.Neighbor, error) {
	r.indexMu.RLock()
	idx := r.index
	enabled := r.indexOn && idx != nil && !idx.IsEmpty() && idx.Dim() == len(embedding)
	r.indexMu.RUnlock()

	if enabled {
		return idx.Search(embedding, limit)
	}
	return r.findSimilarPostgres(ctx, embedding, limit)
}

// findSimilarPostgres orders by pgvector cosine distance. Only vectors of the
// query's dimension are compared.
func (r *ProfileRepository) findSimilarPostgres(ctx context.Context, embedding []float32, limit int) ([]database.Neighbor, error) {
	query := `
		SELECT identity_id, embedding <=> $1::vector AS distance
		FROM biometric_profiles
		WHERE active AND embedding IS NOT NULL AND vector_dims(embedding) = $2
		ORDER BY distance
		LIMIT $3
	`
	rows, err := r.pool.Query(ctx, query, pgvector.NewVector(embedding), len(embedding), limit)
	if err != nil {
		return nil, fmt.Errorf("query similar profiles: %w", err)
	}
	defer rows.Close()

	var out []database.Neighbor
	for rows.Next() {
		var (
			n    database.Neighbor
			dist float64
		)
		if err := rows.Scan(&n.IdentityID, &dist); err != nil {
			return nil, fmt.Errorf("scan similar profile: %w", err)
		}
		n.Similarity = min(max(1-dist, 0), 1)
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate similar profiles: %w", err)
	}
	return out, nil
}

// scanProfileRow scans a single row of profileColumns.
func scanProfileRow(scanner interface{ Scan(...any) error }) (database.StoredProfile, error) {
	var (
		p          database.StoredProfile
		vec        *pgvector.Vector
		landmarks  []byte
		legacyHash sql.NullString
		deviceKey  sql.NullString
	)

	err := scanner.Scan(
		&p.IdentityID,
		&vec,
		&landmarks,
		&legacyHash,
		&deviceKey,
		&p.Active,
		&p.BiometricEnabled,
		&p.ApprovalStatus,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return p, err
	}
	if err != nil {
		return p, fmt.Errorf("scan profile: %w", err)
	}

	if vec != nil {
		p.Embedding = vec.Slice()
	}
	if len(landmarks) > 0 {
		var f facematch.Features
		if err := json.Unmarshal(landmarks, &f); err != nil {
			return p, fmt.Errorf("decode landmarks of %s: %w", p.IdentityID, err)
		}
		p.Landmarks = &f
	}
	p.LegacyHash = legacyHash.String
	p.DeviceKey = deviceKey.String
	return p, nil
}

func scanProfiles(rows *sql.Rows) ([]database.StoredProfile, error) {
	var profiles []database.StoredProfile
	for rows.Next() {
		p, err := scanProfileRow(rows)
		if err != nil {
			return nil, err
		}
		profiles = append(profiles, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate profiles: %w", err)
	}
	return profiles, nil
}

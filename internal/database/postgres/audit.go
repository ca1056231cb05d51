package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/kozaktomas/presence/internal/database"
)

// AuditRepository stores verification decisions in PostgreSQL.
type AuditRepository struct {
	pool *Pool
}

// NewAuditRepository creates a new PostgreSQL audit repository.
func NewAuditRepository(pool *Pool) *AuditRepository {
	return &AuditRepository{pool: pool}
}

// Record stores one event. A missing ID or timestamp is generated.
func (r *AuditRepository) Record(ctx context.Context, e database.AuditEvent) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO verification_events
			(id, request_id, mode, identity_id, outcome, reason, signal, similarity, device_key_present, candidates, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	_, err := r.pool.Exec(ctx, query,
		e.ID, nullString(e.RequestID), e.Mode, nullString(e.IdentityID), e.Outcome,
		nullString(e.Reason), nullString(e.Signal), e.Similarity, e.DeviceKeyPresent,
		e.Candidates, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert verification event: %w", err)
	}
	return nil
}

// List returns the most recent events, newest first. An empty identityID
// lists events of every identity.
func (r *AuditRepository) List(ctx context.Context, identityID string, limit int) ([]database.AuditEvent, error) {
	query := `
		SELECT id, request_id, mode, identity_id, outcome, reason, signal,
		       similarity, device_key_present, candidates, created_at
		FROM verification_events
		WHERE ($1 = '' OR identity_id = $1)
		ORDER BY created_at DESC, id
		LIMIT $2
	`
	rows, err := r.pool.Query(ctx, query, identityID, limit)
	if err != nil {
		return nil, fmt.Errorf("query verification events: %w", err)
	}
	defer rows.Close()

	var events []database.AuditEvent
	for rows.Next() {
		var (
			e                                   database.AuditEvent
			requestID, identity, reason, signal sql.NullString
			similarity                          sql.NullFloat64
		)
		if err := rows.Scan(&e.ID, &requestID, &e.Mode, &identity, &e.Outcome, &reason, &signal,
			&similarity, &e.DeviceKeyPresent, &e.Candidates, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan verification event: %w", err)
		}
		e.RequestID = requestID.String
		e.IdentityID = identity.String
		e.Reason = reason.String
		e.Signal = signal.String
		e.Similarity = similarity.Float64
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate verification events: %w", err)
	}
	return events, nil
}

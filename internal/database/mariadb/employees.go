package mariadb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/kozaktomas/presence/internal/database"
)

// Directory answers eligibility questions from the HR employees table.
// The table is owned by the HR application; this package only reads it.
type Directory struct {
	pool *Pool
}

// NewDirectory creates an HR directory backed by the pool.
func NewDirectory(pool *Pool) *Directory {
	return &Directory{pool: pool}
}

// Eligibility returns the HR flags of an employee. An unknown employee is
// reported with Found=false rather than an error.
func (d *Directory) Eligibility(ctx context.Context, identityID string) (database.Eligibility, error) {
	query := `
		SELECT biometric_enabled, approval_status
		FROM employees
		WHERE employee_id = ? AND deleted_at IS NULL
	`

	var (
		enabled bool
		status  sql.NullString
	)
	err := d.pool.db.QueryRowContext(ctx, query, identityID).Scan(&enabled, &status)
	if errors.Is(err, sql.ErrNoRows) {
		return database.Eligibility{}, nil
	}
	if err != nil {
		return database.Eligibility{}, fmt.Errorf("query employee %s: %w", identityID, err)
	}

	return database.Eligibility{
		Found:            true,
		BiometricEnabled: enabled,
		ApprovalStatus:   status.String,
	}, nil
}

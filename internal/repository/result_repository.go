package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/ZerkerEOD/autopwn/internal/db"
	"github.com/ZerkerEOD/autopwn/internal/models"
)

// ResultRepository handles database operations for recovered passwords.
type ResultRepository struct {
	db *db.DB
}

// NewResultRepository creates a new instance of ResultRepository.
func NewResultRepository(database *db.DB) *ResultRepository {
	return &ResultRepository{db: database}
}

// Insert stores a result keyed by (job, essid). It reports false, with no
// error, when the pair already exists. On insert result.ID and CreatedAt are set.
func (r *ResultRepository) Insert(ctx context.Context, result *models.Result) (bool, error) {
	query := `
		INSERT INTO results (job_id, owner_id, essid, password, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (job_id, essid) DO NOTHING
		RETURNING id, created_at
	`
	err := r.db.QueryRowContext(ctx, query, result.JobID, result.OwnerID, result.ESSID, result.Password, result.CreatedAt).
		Scan(&result.ID, &result.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		if isUniqueViolation(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to insert result for job %s: %w", result.JobID, err)
	}
	return true, nil
}

// ListByJob returns the results of a job for its owner.
func (r *ResultRepository) ListByJob(ctx context.Context, jobID, ownerID uuid.UUID) ([]models.Result, error) {
	query := `
		SELECT id, job_id, owner_id, essid, password, created_at
		FROM results
		WHERE job_id = $1 AND owner_id = $2
		ORDER BY created_at ASC
	`
	rows, err := r.db.QueryContext(ctx, query, jobID, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list results for job %s: %w", jobID, err)
	}
	defer rows.Close()

	var results []models.Result
	for rows.Next() {
		var res models.Result
		if err := rows.Scan(&res.ID, &res.JobID, &res.OwnerID, &res.ESSID, &res.Password, &res.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan result: %w", err)
		}
		results = append(results, res)
	}
	return results, rows.Err()
}

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

// JobDictionaryRepository handles job/dictionary pairs and dictionary metadata.
type JobDictionaryRepository struct {
	db *db.DB
}

// NewJobDictionaryRepository creates a new instance of JobDictionaryRepository.
func NewJobDictionaryRepository(database *db.DB) *JobDictionaryRepository {
	return &JobDictionaryRepository{db: database}
}

// ListByJob returns a job's dictionaries in stored order.
func (r *JobDictionaryRepository) ListByJob(ctx context.Context, jobID uuid.UUID) ([]models.JobDictionary, error) {
	query := `
		SELECT id, job_id, dictionary_id, status
		FROM job_dictionaries
		WHERE job_id = $1
		ORDER BY id ASC
	`
	rows, err := r.db.QueryContext(ctx, query, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to list dictionaries for job %s: %w", jobID, err)
	}
	defer rows.Close()

	var jds []models.JobDictionary
	for rows.Next() {
		var jd models.JobDictionary
		if err := rows.Scan(&jd.ID, &jd.JobID, &jd.DictionaryID, &jd.Status); err != nil {
			return nil, fmt.Errorf("failed to scan job dictionary: %w", err)
		}
		jds = append(jds, jd)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating job dictionaries: %w", err)
	}
	return jds, nil
}

// UpdateStatus records the outcome of one cracking attempt.
func (r *JobDictionaryRepository) UpdateStatus(ctx context.Context, id int64, status models.JobDictionaryStatus) error {
	result, err := r.db.ExecContext(ctx, `UPDATE job_dictionaries SET status = $1 WHERE id = $2`, status, id)
	if err != nil {
		return fmt.Errorf("failed to update job dictionary %d: %w", id, err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("job dictionary %d not found for status update: %w", id, ErrNotFound)
	}
	return nil
}

// GetDictionary retrieves wordlist metadata by id.
func (r *JobDictionaryRepository) GetDictionary(ctx context.Context, id int) (*models.Dictionary, error) {
	query := `SELECT id, name, path, size, owner_id, created_at FROM dictionaries WHERE id = $1`
	var d models.Dictionary
	err := r.db.QueryRowContext(ctx, query, id).Scan(&d.ID, &d.Name, &d.Path, &d.Size, &d.OwnerID, &d.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get dictionary %d: %w", id, err)
	}
	return &d, nil
}

package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/ZerkerEOD/autopwn/internal/db"
	"github.com/ZerkerEOD/autopwn/internal/models"
)

// JobItemRepository handles database operations for job items.
type JobItemRepository struct {
	db *db.DB
}

// NewJobItemRepository creates a new instance of JobItemRepository.
func NewJobItemRepository(database *db.DB) *JobItemRepository {
	return &JobItemRepository{db: database}
}

// CountByJob returns how many items a job has.
func (r *JobItemRepository) CountByJob(ctx context.Context, jobID uuid.UUID) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM job_items WHERE job_id = $1`, jobID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count items for job %s: %w", jobID, err)
	}
	return count, nil
}

// CountCracked returns how many items of a job are cracked.
func (r *JobItemRepository) CountCracked(ctx context.Context, jobID uuid.UUID) (int, error) {
	var count int
	query := `SELECT COUNT(*) FROM job_items WHERE job_id = $1 AND status = 'cracked'`
	if err := r.db.QueryRowContext(ctx, query, jobID).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count cracked items for job %s: %w", jobID, err)
	}
	return count, nil
}

// ListByJob returns the items of a job in insertion order.
func (r *JobItemRepository) ListByJob(ctx context.Context, jobID uuid.UUID) ([]models.JobItem, error) {
	query := `
		SELECT id, job_id, owner_id, essid, bssid, status, password, cracked_at
		FROM job_items
		WHERE job_id = $1
		ORDER BY id ASC
	`
	rows, err := r.db.QueryContext(ctx, query, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to list items for job %s: %w", jobID, err)
	}
	defer rows.Close()

	var items []models.JobItem
	for rows.Next() {
		var item models.JobItem
		var password sql.NullString
		var crackedAt sql.NullTime
		if err := rows.Scan(&item.ID, &item.JobID, &item.OwnerID, &item.ESSID, &item.BSSID,
			&item.Status, &password, &crackedAt); err != nil {
			return nil, fmt.Errorf("failed to scan job item: %w", err)
		}
		if password.Valid {
			item.Password = &password.String
		}
		if crackedAt.Valid {
			item.CrackedAt = &crackedAt.Time
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating job items: %w", err)
	}
	return items, nil
}

// CreateBatch bulk-inserts pending items with a single unnest statement.
func (r *JobItemRepository) CreateBatch(ctx context.Context, jobID, ownerID uuid.UUID, items []models.JobItem) (int, error) {
	if len(items) == 0 {
		return 0, nil
	}

	essids := make([]string, len(items))
	bssids := make([]string, len(items))
	for i, item := range items {
		essids[i] = item.ESSID
		bssids[i] = item.BSSID
	}

	query := `
		INSERT INTO job_items (job_id, owner_id, essid, bssid, status)
		SELECT $1, $2, e, b, 'pending'
		FROM unnest($3::text[], $4::text[]) AS t(e, b)
	`
	result, err := r.db.ExecContext(ctx, query, jobID, ownerID, pq.Array(essids), pq.Array(bssids))
	if err != nil {
		return 0, fmt.Errorf("failed to insert items for job %s: %w", jobID, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return len(items), nil
	}
	return int(n), nil
}

// MarkCracked records the password on every item of the job with this essid.
func (r *JobItemRepository) MarkCracked(ctx context.Context, jobID uuid.UUID, essid, password string, crackedAt time.Time) (int, error) {
	query := `
		UPDATE job_items
		SET status = 'cracked', password = $3, cracked_at = $4
		WHERE job_id = $1 AND essid = $2
	`
	result, err := r.db.ExecContext(ctx, query, jobID, essid, password, crackedAt)
	if err != nil {
		return 0, fmt.Errorf("failed to mark %q cracked for job %s: %w", essid, jobID, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, nil
	}
	return int(n), nil
}

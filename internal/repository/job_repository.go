package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ZerkerEOD/autopwn/internal/db"
	"github.com/ZerkerEOD/autopwn/internal/models"
	"github.com/ZerkerEOD/autopwn/pkg/debug"
)

const jobColumns = `id, owner_id, capture_filename, status, paused, priority, progress,
	items_total, items_cracked, current_dictionary, speed, eta, error_message, log,
	created_at, started_at, completed_at`

// JobRepository handles database operations for jobs.
type JobRepository struct {
	db *db.DB
}

// NewJobRepository creates a new instance of JobRepository.
func NewJobRepository(database *db.DB) *JobRepository {
	return &JobRepository{db: database}
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanJob(row rowScanner) (*models.Job, error) {
	var job models.Job
	var startedAt, completedAt sql.NullTime
	err := row.Scan(
		&job.ID, &job.OwnerID, &job.CaptureFilename, &job.Status, &job.Paused, &job.Priority, &job.Progress,
		&job.ItemsTotal, &job.ItemsCracked, &job.CurrentDictionary, &job.Speed, &job.ETA, &job.ErrorMessage, &job.Log,
		&job.CreatedAt, &startedAt, &completedAt,
	)
	if err != nil {
		return nil, err
	}
	if startedAt.Valid {
		job.StartedAt = &startedAt.Time
	}
	if completedAt.Valid {
		job.CompletedAt = &completedAt.Time
	}
	return &job, nil
}

// GetByID retrieves a job regardless of owner.
func (r *JobRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE id = $1`
	job, err := scanJob(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get job %s: %w", id, err)
	}
	return job, nil
}

// GetForOwner retrieves a job only if it belongs to ownerID.
func (r *JobRepository) GetForOwner(ctx context.Context, id, ownerID uuid.UUID) (*models.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE id = $1 AND owner_id = $2`
	job, err := scanJob(r.db.QueryRowContext(ctx, query, id, ownerID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get job %s: %w", id, err)
	}
	return job, nil
}

// GetStatus reads only the status column. Used by the cancellation monitor.
func (r *JobRepository) GetStatus(ctx context.Context, id uuid.UUID) (models.JobStatus, error) {
	var status models.JobStatus
	err := r.db.QueryRowContext(ctx, `SELECT status FROM jobs WHERE id = $1`, id).Scan(&status)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("failed to get status of job %s: %w", id, err)
	}
	return status, nil
}

// GetOwner returns the owner of a job
func (r *JobRepository) GetOwner(ctx context.Context, id uuid.UUID) (uuid.UUID, error) {
	var ownerID uuid.UUID
	err := r.db.QueryRowContext(ctx, `SELECT owner_id FROM jobs WHERE id = $1`, id).Scan(&ownerID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return uuid.Nil, ErrNotFound
		}
		return uuid.Nil, fmt.Errorf("failed to get owner of job %s: %w", id, err)
	}
	return ownerID, nil
}

// GetByStatus lists jobs with the given status, oldest first.
func (r *JobRepository) GetByStatus(ctx context.Context, status models.JobStatus) ([]models.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE status = $1 ORDER BY created_at ASC`
	rows, err := r.db.QueryContext(ctx, query, status)
	if err != nil {
		return nil, fmt.Errorf("failed to query jobs with status %s: %w", status, err)
	}
	defer rows.Close()

	var jobs []models.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		jobs = append(jobs, *job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating jobs: %w", err)
	}
	return jobs, nil
}

// NextPending returns the highest-priority, oldest pending job or ErrNotFound.
func (r *JobRepository) NextPending(ctx context.Context) (*models.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs
		WHERE status = 'pending'
		ORDER BY priority DESC, created_at ASC
		LIMIT 1`
	job, err := scanJob(r.db.QueryRowContext(ctx, query))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get next pending job: %w", err)
	}
	return job, nil
}

// Claim moves a pending job to processing. It returns false when the job was
// changed by someone else first or another job is already processing.
func (r *JobRepository) Claim(ctx context.Context, id uuid.UUID, startedAt time.Time) (bool, error) {
	query := `
		UPDATE jobs
		SET status = 'processing', paused = FALSE, started_at = $2, completed_at = NULL,
		    error_message = '', speed = '', eta = ''
		WHERE id = $1 AND status = 'pending'
	`
	result, err := r.db.ExecContext(ctx, query, id, startedAt)
	if err != nil {
		if isUniqueViolation(err) {
			debug.Warning("Job %s not claimed: another job is already processing", id)
			return false, nil
		}
		return false, fmt.Errorf("failed to claim job %s: %w", id, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected claiming job %s: %w", id, err)
	}
	return rowsAffected == 1, nil
}

// ResetToPending returns an orphaned processing job to the queue.
func (r *JobRepository) ResetToPending(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE jobs
		SET status = 'pending', paused = FALSE, started_at = NULL, speed = '', eta = ''
		WHERE id = $1 AND status = 'processing'
	`
	return r.execExpectRow(ctx, "reset job", id, query, id)
}

// Complete marks a processing job completed with progress at 100.
func (r *JobRepository) Complete(ctx context.Context, id uuid.UUID, completedAt time.Time) error {
	query := `
		UPDATE jobs
		SET status = 'completed', progress = 100, completed_at = $2, speed = '', eta = '', current_dictionary = ''
		WHERE id = $1 AND status = 'processing'
	`
	return r.execExpectRow(ctx, "complete job", id, query, id, completedAt)
}

// Fail marks a processing job failed with the given message.
func (r *JobRepository) Fail(ctx context.Context, id uuid.UUID, message string, completedAt time.Time) error {
	query := `
		UPDATE jobs
		SET status = 'failed', error_message = $2, completed_at = $3, speed = '', eta = ''
		WHERE id = $1 AND status = 'processing'
	`
	return r.execExpectRow(ctx, "fail job", id, query, id, message, completedAt)
}

// UpdateProgress writes the live counters of the running attempt.
func (r *JobRepository) UpdateProgress(ctx context.Context, id uuid.UUID, p models.JobProgress) error {
	query := `
		UPDATE jobs
		SET progress = $2, current_dictionary = $3, speed = $4, eta = $5
		WHERE id = $1
	`
	if _, err := r.db.ExecContext(ctx, query, id, p.Progress, p.CurrentDictionary, p.Speed, p.ETA); err != nil {
		return fmt.Errorf("failed to update progress for job %s: %w", id, err)
	}
	return nil
}

// UpdateCounters sets items_total and items_cracked.
func (r *JobRepository) UpdateCounters(ctx context.Context, id uuid.UUID, total, cracked int) error {
	query := `UPDATE jobs SET items_total = $2, items_cracked = $3 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, total, cracked); err != nil {
		return fmt.Errorf("failed to update counters for job %s: %w", id, err)
	}
	return nil
}

// AppendLog appends text to the job log.
func (r *JobRepository) AppendLog(ctx context.Context, id uuid.UUID, text string) error {
	query := `UPDATE jobs SET log = log || $2 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, text); err != nil {
		return fmt.Errorf("failed to append log for job %s: %w", id, err)
	}
	return nil
}

func (r *JobRepository) execExpectRow(ctx context.Context, action string, id uuid.UUID, query string, args ...interface{}) error {
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to %s %s: %w", action, id, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		debug.Warning("Could not get rows affected after %s %s: %v", action, id, err)
	} else if rowsAffected == 0 {
		return fmt.Errorf("failed to %s %s: %w", action, id, ErrInvalidTransition)
	}
	return nil
}

// Lifecycle operations. Each is one conditional update guarded by owner; when
// nothing matches, a follow-up read tells a missing job from a wrong status.

// Pause suspends a pending or processing job.
func (r *JobRepository) Pause(ctx context.Context, id, ownerID uuid.UUID) (*models.Job, error) {
	query := `
		UPDATE jobs SET status = 'paused', paused = TRUE
		WHERE id = $1 AND owner_id = $2 AND status IN ('pending', 'processing')
		RETURNING ` + jobColumns
	return r.transition(ctx, "pause", id, ownerID, query, id, ownerID)
}

// Resume returns a paused or stopped job to the queue.
func (r *JobRepository) Resume(ctx context.Context, id, ownerID uuid.UUID) (*models.Job, error) {
	query := `
		UPDATE jobs SET status = 'pending', paused = FALSE, completed_at = NULL
		WHERE id = $1 AND owner_id = $2 AND status IN ('paused', 'stopped')
		RETURNING ` + jobColumns
	return r.transition(ctx, "resume", id, ownerID, query, id, ownerID)
}

// Stop halts a job that has not finished.
func (r *JobRepository) Stop(ctx context.Context, id, ownerID uuid.UUID, now time.Time) (*models.Job, error) {
	query := `
		UPDATE jobs SET status = 'stopped', paused = FALSE, completed_at = $3
		WHERE id = $1 AND owner_id = $2 AND status IN ('pending', 'processing', 'paused')
		RETURNING ` + jobColumns
	return r.transition(ctx, "stop", id, ownerID, query, id, ownerID, now)
}

// SetPriority changes the scheduling priority in any status.
func (r *JobRepository) SetPriority(ctx context.Context, id, ownerID uuid.UUID, priority int) (*models.Job, error) {
	query := `
		UPDATE jobs SET priority = $3
		WHERE id = $1 AND owner_id = $2
		RETURNING ` + jobColumns
	return r.transition(ctx, "set priority of", id, ownerID, query, id, ownerID, priority)
}

// Restart resets a terminal job and sets its cracked items back to pending.
func (r *JobRepository) Restart(ctx context.Context, id, ownerID uuid.UUID) (*models.Job, error) {
	jobQuery := `
		UPDATE jobs
		SET status = 'pending', paused = FALSE, progress = 0, items_total = 0, items_cracked = 0,
		    current_dictionary = '', speed = '', eta = '', error_message = '',
		    started_at = NULL, completed_at = NULL
		WHERE id = $1 AND owner_id = $2 AND status IN ('completed', 'failed', 'stopped')
		RETURNING ` + jobColumns
	itemsQuery := `
		UPDATE job_items SET status = 'pending', password = NULL, cracked_at = NULL
		WHERE job_id = $1 AND status = 'cracked'
	`

	var job *models.Job
	err := r.db.WithTx(ctx, func(tx *sql.Tx) error {
		var err error
		job, err = scanJob(tx.QueryRowContext(ctx, jobQuery, id, ownerID))
		if err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, itemsQuery, id)
		if err != nil {
			return fmt.Errorf("failed to reset cracked items of job %s: %w", id, err)
		}
		if n, err := res.RowsAffected(); err == nil && n > 0 {
			debug.Info("Restart of job %s reset %d cracked items to pending", id, n)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, r.explainMiss(ctx, id, ownerID)
		}
		return nil, fmt.Errorf("failed to restart job %s: %w", id, err)
	}
	return job, nil
}

// Delete removes a job that is not processing. Results are kept.
func (r *JobRepository) Delete(ctx context.Context, id, ownerID uuid.UUID) error {
	query := `DELETE FROM jobs WHERE id = $1 AND owner_id = $2 AND status <> 'processing'`
	result, err := r.db.ExecContext(ctx, query, id, ownerID)
	if err != nil {
		return fmt.Errorf("failed to delete job %s: %w", id, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected deleting job %s: %w", id, err)
	}
	if rowsAffected == 0 {
		err := r.explainMiss(ctx, id, ownerID)
		if errors.Is(err, ErrInvalidTransition) {
			return ErrJobProcessing
		}
		return err
	}
	return nil
}

// ListIDs returns the ids of every job with its status. Used by the scratch sweeper.
func (r *JobRepository) ListIDs(ctx context.Context) (map[uuid.UUID]models.JobStatus, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, status FROM jobs`)
	if err != nil {
		return nil, fmt.Errorf("failed to list job ids: %w", err)
	}
	defer rows.Close()

	ids := make(map[uuid.UUID]models.JobStatus)
	for rows.Next() {
		var id uuid.UUID
		var status models.JobStatus
		if err := rows.Scan(&id, &status); err != nil {
			return nil, fmt.Errorf("failed to scan job id: %w", err)
		}
		ids[id] = status
	}
	return ids, rows.Err()
}

func (r *JobRepository) transition(ctx context.Context, action string, id, ownerID uuid.UUID, query string, args ...interface{}) (*models.Job, error) {
	job, err := scanJob(r.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, r.explainMiss(ctx, id, ownerID)
		}
		return nil, fmt.Errorf("failed to %s job %s: %w", action, id, err)
	}
	return job, nil
}

func (r *JobRepository) explainMiss(ctx context.Context, id, ownerID uuid.UUID) error {
	var status models.JobStatus
	err := r.db.QueryRowContext(ctx, `SELECT status FROM jobs WHERE id = $1 AND owner_id = $2`, id, ownerID).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to read job %s: %w", id, err)
	}
	return fmt.Errorf("job %s is %s: %w", id, status, ErrInvalidTransition)
}

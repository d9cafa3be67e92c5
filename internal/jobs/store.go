package jobs

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/ZerkerEOD/autopwn/internal/models"
)

// JobStore is the job table as seen by the scheduler and the stages
type JobStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Job, error)
	GetStatus(ctx context.Context, id uuid.UUID) (models.JobStatus, error)
	GetByStatus(ctx context.Context, status models.JobStatus) ([]models.Job, error)
	NextPending(ctx context.Context) (*models.Job, error)
	Claim(ctx context.Context, id uuid.UUID, startedAt time.Time) (bool, error)
	ResetToPending(ctx context.Context, id uuid.UUID) error
	Complete(ctx context.Context, id uuid.UUID, completedAt time.Time) error
	Fail(ctx context.Context, id uuid.UUID, message string, completedAt time.Time) error
	UpdateProgress(ctx context.Context, id uuid.UUID, p models.JobProgress) error
	UpdateCounters(ctx context.Context, id uuid.UUID, total, cracked int) error
	AppendLog(ctx context.Context, id uuid.UUID, text string) error
}

// ControlStore holds the owner-guarded lifecycle updates
type ControlStore interface {
	GetForOwner(ctx context.Context, id, ownerID uuid.UUID) (*models.Job, error)
	Pause(ctx context.Context, id, ownerID uuid.UUID) (*models.Job, error)
	Resume(ctx context.Context, id, ownerID uuid.UUID) (*models.Job, error)
	Stop(ctx context.Context, id, ownerID uuid.UUID, now time.Time) (*models.Job, error)
	Restart(ctx context.Context, id, ownerID uuid.UUID) (*models.Job, error)
	SetPriority(ctx context.Context, id, ownerID uuid.UUID, priority int) (*models.Job, error)
	Delete(ctx context.Context, id, ownerID uuid.UUID) error
}

// ItemStore holds extracted handshakes
type ItemStore interface {
	CountByJob(ctx context.Context, jobID uuid.UUID) (int, error)
	CountCracked(ctx context.Context, jobID uuid.UUID) (int, error)
	ListByJob(ctx context.Context, jobID uuid.UUID) ([]models.JobItem, error)
	CreateBatch(ctx context.Context, jobID, ownerID uuid.UUID, items []models.JobItem) (int, error)
	MarkCracked(ctx context.Context, jobID uuid.UUID, essid, password string, crackedAt time.Time) (int, error)
}

// DictionaryStore holds job/dictionary pairs and wordlist metadata
type DictionaryStore interface {
	ListByJob(ctx context.Context, jobID uuid.UUID) ([]models.JobDictionary, error)
	UpdateStatus(ctx context.Context, id int64, status models.JobDictionaryStatus) error
	GetDictionary(ctx context.Context, id int) (*models.Dictionary, error)
}

// ResultStore holds recovered passwords
type ResultStore interface {
	Insert(ctx context.Context, result *models.Result) (bool, error)
}

// Notifier pushes job-scoped events to subscribers
type Notifier interface {
	Publish(jobID uuid.UUID, event models.JobEvent)
}

type nopNotifier struct{}

func (nopNotifier) Publish(uuid.UUID, models.JobEvent) {}

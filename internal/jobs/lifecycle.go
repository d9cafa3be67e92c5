package jobs

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/ZerkerEOD/autopwn/internal/models"
	"github.com/ZerkerEOD/autopwn/pkg/debug"
)

// Controller applies user lifecycle operations. Each is one owner-guarded
// conditional update; a running job notices pause/stop on its next monitor tick.
type Controller struct {
	store    ControlStore
	notifier Notifier
	now      func() time.Time
}

// NewController creates a lifecycle controller. A nil notifier discards events.
func NewController(store ControlStore, notifier Notifier) *Controller {
	if notifier == nil {
		notifier = nopNotifier{}
	}
	return &Controller{store: store, notifier: notifier, now: time.Now}
}

// Get returns a job owned by ownerID
func (c *Controller) Get(ctx context.Context, id, ownerID uuid.UUID) (*models.Job, error) {
	return c.store.GetForOwner(ctx, id, ownerID)
}

// Pause sets a pending or processing job to paused
func (c *Controller) Pause(ctx context.Context, id, ownerID uuid.UUID) (*models.Job, error) {
	job, err := c.store.Pause(ctx, id, ownerID)
	return c.done("pause", id, job, err)
}

// Resume returns a paused or stopped job to pending. Extraction is not
// repeated because the job keeps its items.
func (c *Controller) Resume(ctx context.Context, id, ownerID uuid.UUID) (*models.Job, error) {
	job, err := c.store.Resume(ctx, id, ownerID)
	return c.done("resume", id, job, err)
}

// Stop sets a job that has not finished to stopped
func (c *Controller) Stop(ctx context.Context, id, ownerID uuid.UUID) (*models.Job, error) {
	job, err := c.store.Stop(ctx, id, ownerID, c.now())
	return c.done("stop", id, job, err)
}

// Restart resets a completed, failed or stopped job to pending. Cracked
// items go back to pending too; stored results are kept.
func (c *Controller) Restart(ctx context.Context, id, ownerID uuid.UUID) (*models.Job, error) {
	job, err := c.store.Restart(ctx, id, ownerID)
	return c.done("restart", id, job, err)
}

// SetPriority changes the priority used for the job's next scheduling
func (c *Controller) SetPriority(ctx context.Context, id, ownerID uuid.UUID, priority int) (*models.Job, error) {
	job, err := c.store.SetPriority(ctx, id, ownerID, priority)
	return c.done("set priority of", id, job, err)
}

// Delete removes a job that is not processing
func (c *Controller) Delete(ctx context.Context, id, ownerID uuid.UUID) error {
	if err := c.store.Delete(ctx, id, ownerID); err != nil {
		debug.Warning("Failed to delete job %s: %v", id, err)
		return err
	}
	debug.Info("Job %s deleted", id)
	return nil
}

func (c *Controller) done(action string, id uuid.UUID, job *models.Job, err error) (*models.Job, error) {
	if err != nil {
		debug.Warning("Failed to %s job %s: %v", action, id, err)
		return nil, err
	}
	debug.Info("Job %s: %s -> %s (priority %d)", id, action, job.Status, job.Priority)
	c.notifier.Publish(job.ID, models.NewStatusEvent(job))
	return job, nil
}

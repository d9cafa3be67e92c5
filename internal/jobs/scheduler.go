package jobs

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/ZerkerEOD/autopwn/internal/models"
	"github.com/ZerkerEOD/autopwn/pkg/debug"
)

// RecoverOrphans resets every processing job to pending. No tool runs for
// them: they were left behind by a crash or an unclean shutdown.
func (e *Engine) RecoverOrphans(ctx context.Context) (int, error) {
	orphans, err := e.jobs.GetByStatus(ctx, models.JobStatusProcessing)
	if err != nil {
		return 0, fmt.Errorf("failed to query orphaned jobs: %w", err)
	}

	recovered := 0
	for i := range orphans {
		job := &orphans[i]
		if err := e.jobs.ResetToPending(ctx, job.ID); err != nil {
			if errors.Is(err, ErrInvalidTransition) {
				continue
			}
			return recovered, fmt.Errorf("failed to reset orphaned job %s: %w", job.ID, err)
		}

		debug.Warning("Recovered orphaned job %s, reset to pending", job.ID)
		job.Status = models.JobStatusPending
		job.Paused = false
		job.StartedAt = nil
		e.notifier.Publish(job.ID, models.NewStatusEvent(job))
		recovered++
	}

	if recovered > 0 {
		debug.Info("Orphan recovery reset %d jobs", recovered)
	}
	return recovered, nil
}

// Run recovers orphans, then drives pending jobs one at a time until ctx is
// cancelled. Errors are logged and retried after ErrorBackoff.
func (e *Engine) Run(ctx context.Context) error {
	debug.Info("Job scheduler starting (poll every %v, error backoff %v)", e.opts.PollInterval, e.opts.ErrorBackoff)

	recovered := false
	for {
		var wait time.Duration

		if !recovered {
			if _, err := e.RecoverOrphans(ctx); err != nil {
				debug.Error("Orphan recovery failed: %v", err)
				wait = e.opts.ErrorBackoff
			} else {
				recovered = true
			}
		}

		if recovered {
			ran, err := e.pollOnce(ctx)
			switch {
			case ctx.Err() != nil:
			case err != nil:
				debug.Error("Scheduler error: %v", err)
				wait = e.opts.ErrorBackoff
				// a job whose outcome could not be written is still processing
				recovered = false
			case !ran:
				wait = e.opts.PollInterval
			}
		}

		if ctx.Err() != nil {
			debug.Info("Job scheduler stopping")
			return ctx.Err()
		}
		if wait > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				debug.Info("Job scheduler stopping")
				return ctx.Err()
			case <-timer.C:
			}
		}
	}
}

// pollOnce claims and drives the next pending job. It reports whether a job ran.
func (e *Engine) pollOnce(ctx context.Context) (bool, error) {
	job, err := e.jobs.NextPending(ctx)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to pick next job: %w", err)
	}

	startedAt := e.now()
	claimed, err := e.jobs.Claim(ctx, job.ID, startedAt)
	if err != nil {
		return false, fmt.Errorf("failed to claim job %s: %w", job.ID, err)
	}
	if !claimed {
		debug.Debug("Job %s changed before it could be claimed", job.ID)
		return false, nil
	}

	job.Status = models.JobStatusProcessing
	job.Paused = false
	job.StartedAt = &startedAt
	job.CompletedAt = nil
	job.ErrorMessage = ""
	return true, e.DriveJob(ctx, job)
}

// DriveJob runs a claimed job to completion, failure or suspension and
// writes the outcome.
func (e *Engine) DriveJob(ctx context.Context, job *models.Job) error {
	debug.Info("Driving job %s (priority %d, capture %s)", job.ID, job.Priority, job.CaptureFilename)
	e.notifier.Publish(job.ID, models.NewStatusEvent(job))
	defer e.state.TransitionTo(EngineStateIdle, uuid.Nil)

	runErr := e.runJob(ctx, job)
	e.state.TransitionTo(EngineStateFinishing, job.ID)
	return e.finish(ctx, job, runErr)
}

func (e *Engine) runJob(ctx context.Context, job *models.Job) error {
	dir := e.jobDir(job.ID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create job directory: %w", err)
	}

	total, err := e.items.CountByJob(ctx, job.ID)
	if err != nil {
		return fmt.Errorf("failed to count items: %w", err)
	}

	switch {
	case total == 0:
		if total, err = e.extract(ctx, job, true); err != nil {
			return err
		}
	case !fileExists(filepath.Join(dir, HandshakeFileName)):
		debug.Warning("Handshake file of job %s is missing, re-running extraction for it", job.ID)
		if _, err := e.extract(ctx, job, false); err != nil {
			return err
		}
	default:
		debug.Info("Job %s already has %d items, skipping extraction", job.ID, total)
	}

	cracked, err := e.items.CountCracked(ctx, job.ID)
	if err != nil {
		return fmt.Errorf("failed to count cracked items: %w", err)
	}
	job.ItemsTotal = total
	job.ItemsCracked = cracked
	if err := e.jobs.UpdateCounters(ctx, job.ID, total, cracked); err != nil {
		debug.Warning("Failed to update counters of job %s: %v", job.ID, err)
	}

	jds, err := e.dicts.ListByJob(ctx, job.ID)
	if err != nil {
		return fmt.Errorf("failed to list dictionaries: %w", err)
	}
	if len(jds) == 0 {
		return ErrNoDictionaries
	}
	return e.crackAll(ctx, job, jds)
}

func (e *Engine) finish(ctx context.Context, job *models.Job, runErr error) error {
	if runErr != nil && ctx.Err() != nil {
		debug.Warning("Shutdown interrupted job %s, it stays processing until the next startup", job.ID)
		return nil
	}
	if errors.Is(runErr, ErrUserCancelled) {
		debug.Info("Job %s suspended: %v", job.ID, runErr)
		return nil
	}

	writeCtx := context.WithoutCancel(ctx)
	now := e.now()

	if runErr == nil {
		if err := e.jobs.Complete(writeCtx, job.ID, now); err != nil {
			if errors.Is(err, ErrInvalidTransition) {
				debug.Info("Job %s changed status before it could complete", job.ID)
				return nil
			}
			return fmt.Errorf("failed to complete job %s: %w", job.ID, err)
		}
		job.Status = models.JobStatusCompleted
		job.Progress = 100
		job.CompletedAt = &now
		debug.Info("Job %s completed, %d of %d networks cracked", job.ID, job.ItemsCracked, job.ItemsTotal)
	} else {
		msg := runErr.Error()
		if err := e.jobs.Fail(writeCtx, job.ID, msg, now); err != nil {
			if errors.Is(err, ErrInvalidTransition) {
				debug.Info("Job %s changed status before it could be failed: %s", job.ID, msg)
				return nil
			}
			return fmt.Errorf("failed to mark job %s failed: %w", job.ID, err)
		}
		job.Status = models.JobStatusFailed
		job.ErrorMessage = msg
		job.CompletedAt = &now
		debug.Error("Job %s failed: %s", job.ID, msg)
	}

	e.notifier.Publish(job.ID, models.NewStatusEvent(job))
	return nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

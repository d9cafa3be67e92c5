package jobs

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/ZerkerEOD/autopwn/internal/models"
	"github.com/ZerkerEOD/autopwn/pkg/debug"
)

// ingestFile stores every cracked pair of a tool output file and deletes the
// file. It returns how many new results were stored.
func (e *Engine) ingestFile(ctx context.Context, job *models.Job, path string) (int, error) {
	defer removeQuietly(path)

	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("failed to open cracked output: %w", err)
	}
	defer f.Close()

	added := 0
	var storeErr error
	err = eachLine(f, maxLineLength, func(line string) error {
		pair, err := ParseCrackedLine(line)
		if err != nil {
			if strings.TrimSpace(line) != "" {
				debug.Debug("Skipping output line of job %s: %v", job.ID, err)
			}
			return nil
		}

		inserted, err := e.IngestPair(ctx, job, pair)
		if err != nil {
			storeErr = err
			return err
		}
		if inserted {
			added++
		}
		return nil
	})
	if storeErr != nil {
		return added, storeErr
	}
	if err != nil {
		return added, fmt.Errorf("failed to read cracked output: %w", err)
	}

	e.refreshCounters(ctx, job)
	return added, nil
}

// IngestPair stores one cracked pair. Storing a pair the job already has is a
// no-op that emits nothing; the item is marked cracked either way.
func (e *Engine) IngestPair(ctx context.Context, job *models.Job, pair CrackedPair) (bool, error) {
	now := e.now()
	result := &models.Result{
		JobID:     job.ID,
		OwnerID:   job.OwnerID,
		ESSID:     pair.ESSID,
		Password:  pair.Password,
		CreatedAt: now,
	}

	inserted, err := e.results.Insert(ctx, result)
	if err != nil {
		return false, fmt.Errorf("failed to store result for %q: %w", pair.ESSID, err)
	}

	updated, err := e.items.MarkCracked(ctx, job.ID, pair.ESSID, pair.Password, now)
	if err != nil {
		return inserted, fmt.Errorf("failed to mark %q cracked: %w", pair.ESSID, err)
	}
	if updated == 0 {
		debug.Warning("Cracked network %q matches no item of job %s", pair.ESSID, job.ID)
	}

	if !inserted {
		debug.Debug("Result for %q in job %s already stored", pair.ESSID, job.ID)
		return false, nil
	}

	debug.Info("Recovered password for %q in job %s", pair.ESSID, job.ID)
	e.notifier.Publish(job.ID, models.JobEvent{Type: models.EventNewResult, Data: result})
	e.notifier.Publish(job.ID, models.JobEvent{
		Type: models.EventItemCracked,
		Data: models.ItemCrackedEventData{JobID: job.ID, ESSID: pair.ESSID, Password: pair.Password},
	})
	return true, nil
}

func (e *Engine) refreshCounters(ctx context.Context, job *models.Job) {
	cracked, err := e.items.CountCracked(ctx, job.ID)
	if err != nil {
		debug.Warning("Failed to count cracked items of job %s: %v", job.ID, err)
		return
	}
	job.ItemsCracked = cracked
	if err := e.jobs.UpdateCounters(ctx, job.ID, job.ItemsTotal, cracked); err != nil {
		debug.Warning("Failed to update counters of job %s: %v", job.ID, err)
	}
}

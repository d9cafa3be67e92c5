package jobs

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/ZerkerEOD/autopwn/internal/logbuffer"
	"github.com/ZerkerEOD/autopwn/internal/models"
	"github.com/ZerkerEOD/autopwn/pkg/debug"
)

const logTailLines = 20

// crackAll attempts every dictionary of the job in stored order. A failed
// attempt is recorded on its JobDictionary and the loop moves on; only a
// pause/stop, the job timeout or shutdown end the loop early.
func (e *Engine) crackAll(ctx context.Context, job *models.Job, jds []models.JobDictionary) error {
	failures := 0
	for i, jd := range jds {
		if err := e.checkJob(ctx, job); err != nil {
			return err
		}

		dict, err := e.dicts.GetDictionary(ctx, jd.DictionaryID)
		if errors.Is(err, ErrNotFound) {
			debug.Warning("Dictionary %d of job %s no longer exists, skipping", jd.DictionaryID, job.ID)
			continue
		}
		if err != nil {
			return fmt.Errorf("failed to load dictionary %d: %w", jd.DictionaryID, err)
		}

		merged, remaining, err := e.buildMerged(ctx, job)
		if err != nil {
			return err
		}
		if remaining == 0 {
			debug.Info("Every handshake of job %s is cracked, skipping %d remaining dictionaries", job.ID, len(jds)-i)
			for _, rest := range jds[i:] {
				e.setDictionaryStatus(ctx, rest, models.JobDictionaryStatusCompleted)
			}
			return nil
		}

		err = e.attempt(ctx, job, jd, dict, merged, i, len(jds))
		switch {
		case err == nil:
			e.setDictionaryStatus(ctx, jd, models.JobDictionaryStatusCompleted)
		case isSuspension(err) || ctx.Err() != nil:
			return err
		default:
			failures++
			debug.Warning("Dictionary %s failed for job %s: %v", dict.Name, job.ID, err)
			e.setDictionaryStatus(ctx, jd, models.JobDictionaryStatusFailed)
		}
	}

	if failures > 0 && failures == len(jds) {
		debug.Warning("Every dictionary attempt of job %s failed, completing it anyway", job.ID)
	}
	return nil
}

// checkJob re-reads the job status and the runtime budget. A store error is
// logged and ignored; the next check reads again.
func (e *Engine) checkJob(ctx context.Context, job *models.Job) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	status, err := e.jobs.GetStatus(ctx, job.ID)
	switch {
	case errors.Is(err, ErrNotFound):
		return fmt.Errorf("%w: job no longer exists", ErrUserCancelled)
	case err != nil:
		debug.Warning("Failed to read status of job %s: %v", job.ID, err)
	case status != models.JobStatusProcessing:
		return fmt.Errorf("%w (status %s)", ErrUserCancelled, status)
	}

	if job.StartedAt != nil {
		if elapsed := e.now().Sub(*job.StartedAt); elapsed > e.opts.JobTimeout {
			return &TimeoutError{Limit: e.opts.JobTimeout, Elapsed: elapsed}
		}
	}
	return nil
}

// attempt runs the cracking tool for one dictionary under the monitor
func (e *Engine) attempt(ctx context.Context, job *models.Job, jd models.JobDictionary, dict *models.Dictionary,
	merged string, index, total int) error {
	e.state.TransitionTo(EngineStateCracking, job.ID)

	wordlist, cleanup, err := e.prepareWordlist(job, dict)
	if err != nil {
		return err
	}
	defer cleanup()

	outPath := e.crackedPath(job.ID, jd)
	removeQuietly(outPath)
	defer removeQuietly(outPath)

	progress := models.JobProgress{
		Progress:          overallProgress(index, total, 0),
		CurrentDictionary: dict.Name,
		ItemsTotal:        job.ItemsTotal,
		ItemsCracked:      job.ItemsCracked,
	}
	e.reportProgress(ctx, job, progress)

	proc, err := e.runner.Start(ctx, e.crackCommand(merged, wordlist, outPath))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrToolExecution, err)
	}
	debug.Info("Cracking job %s with %s (%d/%d, pid %d)", job.ID, dict.Name, index+1, total, proc.Pid())

	buf := logbuffer.New(0)
	var latest *StatusUpdate
	err = e.supervise(ctx, proc, superviseOptions{
		deadline:    e.opts.DictionaryTimeout,
		deadlineErr: fmt.Errorf("%w: %s after %v", ErrDictionaryTimeout, dict.Name, e.opts.DictionaryTimeout),
		onLine: func(line OutputLine) {
			buf.Add(logbuffer.Line{Stream: line.Stream, Text: line.Text})
			if upd, ok := ParseStatusLine(line.Text); ok {
				latest = &upd
			}
		},
		onTick: func(ctx context.Context) error {
			if err := e.checkJob(ctx, job); err != nil {
				return err
			}
			if latest != nil {
				progress.Progress = overallProgress(index, total, latest.Fraction)
				progress.Speed = FormatSpeed(latest.Speed)
				progress.ETA = FormatETA(latest.EstimatedStop, e.now())
				e.reportProgress(ctx, job, progress)
				latest = nil
			}
			return nil
		},
	})

	var exitErr *ExitError
	if errors.As(err, &exitErr) && exitErr.Code == exitCodeExhausted {
		err = nil
	}
	e.appendAttemptLog(ctx, job, dict.Name, buf, err)
	if err != nil {
		return err
	}

	if _, statErr := os.Stat(outPath); statErr == nil {
		if _, err := e.ingestFile(ctx, job, outPath); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) crackCommand(merged, wordlist, outPath string) CommandSpec {
	statusTimer := int(e.opts.StatusTimer.Seconds())
	if statusTimer < 1 {
		statusTimer = 1
	}

	args := []string{
		"-m", strconv.Itoa(e.opts.HashcatHashMode),
		"-a", strconv.Itoa(e.opts.HashcatAttackMode),
		"--status",
		"--status-json",
		"--status-timer", strconv.Itoa(statusTimer),
		"--potfile-disable",
		"--quiet",
		"-o", outPath,
	}
	args = append(args, e.opts.HashcatExtraArgs...)
	args = append(args, merged, wordlist)

	return CommandSpec{
		Tool:       ToolCrack,
		Path:       e.opts.HashcatPath,
		Args:       args,
		HashFile:   merged,
		Wordlist:   wordlist,
		OutputFile: outPath,
	}
}

func overallProgress(index, total int, fraction float64) float64 {
	if total == 0 {
		return 0
	}
	return (float64(index) + fraction) / float64(total) * 100
}

func (e *Engine) reportProgress(ctx context.Context, job *models.Job, p models.JobProgress) {
	job.Progress = p.Progress
	job.CurrentDictionary = p.CurrentDictionary
	job.Speed = p.Speed
	job.ETA = p.ETA
	p.ItemsTotal = job.ItemsTotal
	p.ItemsCracked = job.ItemsCracked

	if err := e.jobs.UpdateProgress(ctx, job.ID, p); err != nil {
		debug.Warning("Failed to persist progress of job %s: %v", job.ID, err)
	}
	e.notifier.Publish(job.ID, models.JobEvent{
		Type: models.EventProgress,
		Data: models.ProgressEventData{JobID: job.ID, JobProgress: p},
	})
}

func (e *Engine) setDictionaryStatus(ctx context.Context, jd models.JobDictionary, status models.JobDictionaryStatus) {
	if err := e.dicts.UpdateStatus(ctx, jd.ID, status); err != nil {
		debug.Warning("Failed to mark job dictionary %d %s: %v", jd.ID, status, err)
	}
}

// appendAttemptLog writes the outcome and the output tail of one tool run to the job log
func (e *Engine) appendAttemptLog(ctx context.Context, job *models.Job, label string, buf *logbuffer.RingBuffer, runErr error) {
	outcome := "ok"
	if runErr != nil {
		outcome = runErr.Error()
	}

	text := fmt.Sprintf("[%s] %s: %s\n", e.now().UTC().Format(time.RFC3339), label, outcome)
	shown := min(buf.Count(), logTailLines)
	if omitted := buf.Dropped() + buf.Count() - shown; omitted > 0 {
		text += fmt.Sprintf("... %d earlier lines omitted\n", omitted)
	}
	if tail := buf.Tail(logTailLines); tail != "" {
		text += tail + "\n"
	}

	// written during shutdown too
	if err := e.jobs.AppendLog(context.WithoutCancel(ctx), job.ID, text); err != nil {
		debug.Warning("Failed to append log for job %s: %v", job.ID, err)
	}
}

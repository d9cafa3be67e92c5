package services

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/ZerkerEOD/autopwn/internal/models"
	"github.com/ZerkerEOD/autopwn/pkg/debug"
)

// JobLister returns the status of every stored job
type JobLister interface {
	ListIDs(ctx context.Context) (map[uuid.UUID]models.JobStatus, error)
}

// SweepStats summarises one sweep
type SweepStats struct {
	RemovedDirs  int
	RemovedFiles int
}

// ScratchSweeper removes job directories of deleted jobs and stale scratch
// files left behind by interrupted runs. Directories of processing jobs are
// never touched.
type ScratchSweeper struct {
	jobs      JobLister
	jobsDir   string
	retention time.Duration
	schedule  string
	cron      *cron.Cron
	now       func() time.Time
}

// NewScratchSweeper creates a sweeper for jobsDir running on a cron schedule
func NewScratchSweeper(jobs JobLister, jobsDir string, retention time.Duration, schedule string) *ScratchSweeper {
	return &ScratchSweeper{
		jobs:      jobs,
		jobsDir:   jobsDir,
		retention: retention,
		schedule:  schedule,
		now:       time.Now,
	}
}

// Start schedules the sweep
func (s *ScratchSweeper) Start() error {
	c := cron.New()
	if _, err := c.AddFunc(s.schedule, func() {
		if _, err := s.Sweep(context.Background()); err != nil {
			debug.Error("Scratch sweep failed: %v", err)
		}
	}); err != nil {
		return fmt.Errorf("invalid sweep schedule %q: %w", s.schedule, err)
	}
	s.cron = c
	c.Start()
	debug.Info("Scratch sweeper scheduled (%s, retention %v)", s.schedule, s.retention)
	return nil
}

// Stop cancels the schedule and waits for a running sweep
func (s *ScratchSweeper) Stop() {
	if s.cron == nil {
		return
	}
	<-s.cron.Stop().Done()
	debug.Info("Scratch sweeper stopped")
}

// Sweep runs one cleanup pass over the jobs directory
func (s *ScratchSweeper) Sweep(ctx context.Context) (SweepStats, error) {
	var stats SweepStats

	entries, err := os.ReadDir(s.jobsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return stats, nil
		}
		return stats, fmt.Errorf("failed to read jobs directory: %w", err)
	}

	jobs, err := s.jobs.ListIDs(ctx)
	if err != nil {
		return stats, err
	}

	cutoff := s.now().Add(-s.retention)
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		id, err := uuid.Parse(entry.Name())
		if err != nil {
			continue
		}
		dir := filepath.Join(s.jobsDir, entry.Name())

		status, exists := jobs[id]
		if !exists {
			if err := os.RemoveAll(dir); err != nil {
				debug.Warning("Failed to remove directory of deleted job %s: %v", id, err)
				continue
			}
			debug.Info("Removed directory of deleted job %s", id)
			stats.RemovedDirs++
			continue
		}
		if status == models.JobStatusProcessing {
			continue
		}
		stats.RemovedFiles += s.sweepDir(dir, cutoff)
	}

	if stats.RemovedDirs > 0 || stats.RemovedFiles > 0 {
		debug.Info("Scratch sweep removed %d directories and %d files", stats.RemovedDirs, stats.RemovedFiles)
	}
	return stats, nil
}

func (s *ScratchSweeper) sweepDir(dir string, cutoff time.Time) int {
	entries, err := os.ReadDir(dir)
	if err != nil {
		debug.Warning("Failed to read %s: %v", dir, err)
		return 0
	}

	removed := 0
	for _, entry := range entries {
		if entry.IsDir() || !isScratchFile(entry.Name()) {
			continue
		}
		info, err := entry.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(dir, entry.Name())); err != nil {
			debug.Warning("Failed to remove stale file %s: %v", entry.Name(), err)
			continue
		}
		removed++
	}
	return removed
}

// isScratchFile matches the per-run files: tool output, partial writes and
// unpacked wordlists. The handshake file is kept for resume.
func isScratchFile(name string) bool {
	return strings.HasSuffix(name, ".out") ||
		strings.HasSuffix(name, ".tmp") ||
		strings.HasPrefix(name, "wordlist-")
}

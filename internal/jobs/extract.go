package jobs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/ZerkerEOD/autopwn/internal/logbuffer"
	"github.com/ZerkerEOD/autopwn/internal/models"
	"github.com/ZerkerEOD/autopwn/pkg/debug"
)

// extract runs the extraction tool against the job's capture. It always
// (re)writes the job handshake file; items are only created when createItems
// is set, so a job never gets its items twice.
func (e *Engine) extract(ctx context.Context, job *models.Job, createItems bool) (int, error) {
	dir := e.jobDir(job.ID)
	hashPath := filepath.Join(dir, HandshakeFileName)
	idPath := filepath.Join(dir, identifierFileName)
	defer removeQuietly(idPath)

	capture := e.capturePath(job)
	e.state.TransitionTo(EngineStateExtracting, job.ID)
	debug.Info("Extracting handshakes for job %s from %s", job.ID, debug.SanitizeMessage(capture))

	spec := CommandSpec{
		Tool:           ToolExtract,
		Path:           e.opts.ExtractorPath,
		Args:           []string{"-o", hashPath, "-E", idPath, capture},
		Dir:            dir,
		Capture:        capture,
		HashFile:       hashPath,
		IdentifierFile: idPath,
	}

	proc, err := e.runner.Start(ctx, spec)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrExtractionFailed, err)
	}

	buf := logbuffer.New(0)
	err = e.supervise(ctx, proc, superviseOptions{
		deadline:    e.opts.ExtractTimeout,
		deadlineErr: fmt.Errorf("%w: timed out after %v", ErrExtractionFailed, e.opts.ExtractTimeout),
		onLine: func(line OutputLine) {
			buf.Add(logbuffer.Line{Stream: line.Stream, Text: line.Text})
		},
	})
	e.appendAttemptLog(ctx, job, "extraction", buf, err)

	if ctxErr := ctx.Err(); ctxErr != nil {
		return 0, ctxErr
	}
	if err != nil {
		if errors.Is(err, ErrExtractionFailed) {
			return 0, err
		}
		return 0, fmt.Errorf("%w: %v", ErrExtractionFailed, err)
	}

	if !createItems {
		return 0, nil
	}

	items, err := readIdentifierFile(idPath)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrExtractionFailed, err)
	}
	if len(items) == 0 {
		removeQuietly(hashPath)
		return 0, ErrNoESSIDs
	}

	n, err := e.items.CreateBatch(ctx, job.ID, job.OwnerID, items)
	if err != nil {
		return 0, fmt.Errorf("failed to store extracted items: %w", err)
	}
	debug.Info("Extracted %d handshakes for job %s", n, job.ID)
	return n, nil
}

// readIdentifierFile returns one pending item per distinct well-formed line.
// A missing file means the tool found nothing.
func readIdentifierFile(path string) ([]models.JobItem, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()
	return parseIdentifiers(f)
}

func parseIdentifiers(r io.Reader) ([]models.JobItem, error) {
	var items []models.JobItem
	seen := make(map[Identifier]bool)

	err := eachLine(r, maxLineLength, func(line string) error {
		id, err := ParseIdentifierLine(line)
		if err != nil || seen[id] {
			return nil
		}
		seen[id] = true
		items = append(items, models.JobItem{
			ESSID:  id.ESSID,
			BSSID:  id.BSSID,
			Status: models.JobItemStatusPending,
		})
		return nil
	})
	return items, err
}

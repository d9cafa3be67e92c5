package jobs

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/ZerkerEOD/autopwn/internal/models"
	"github.com/ZerkerEOD/autopwn/pkg/debug"
)

// buildMerged writes merged.hc22000 from the job handshake file, without
// duplicate lines and without handshakes of already cracked networks. It
// returns the path and the number of lines left to crack.
func (e *Engine) buildMerged(ctx context.Context, job *models.Job) (string, int, error) {
	items, err := e.items.ListByJob(ctx, job.ID)
	if err != nil {
		return "", 0, fmt.Errorf("failed to list items: %w", err)
	}
	cracked := make(map[string]bool)
	for _, item := range items {
		if item.Status == models.JobItemStatusCracked {
			cracked[EncodeESSID(item.ESSID)] = true
		}
	}

	dir := e.jobDir(job.ID)
	src, err := os.Open(filepath.Join(dir, HandshakeFileName))
	if err != nil {
		return "", 0, fmt.Errorf("failed to open handshake file: %w", err)
	}
	defer src.Close()

	lines, err := mergeHandshakes(src, cracked)
	if err != nil {
		return "", 0, fmt.Errorf("failed to read handshake file: %w", err)
	}

	merged := filepath.Join(dir, MergedFileName)
	tmp := merged + ".tmp"
	content := strings.Join(lines, "\n")
	if len(lines) > 0 {
		content += "\n"
	}
	if err := os.WriteFile(tmp, []byte(content), 0644); err != nil {
		return "", 0, fmt.Errorf("failed to write merged handshakes: %w", err)
	}
	if err := os.Rename(tmp, merged); err != nil {
		removeQuietly(tmp)
		return "", 0, fmt.Errorf("failed to replace merged handshakes: %w", err)
	}

	debug.Debug("Merged handshakes for job %s: %d lines, %d networks already cracked", job.ID, len(lines), len(cracked))
	return merged, len(lines), nil
}

// mergeHandshakes keeps the first copy of each line and drops lines whose
// ESSID field is in cracked. Lines that do not parse are kept as-is.
func mergeHandshakes(r io.Reader, cracked map[string]bool) ([]string, error) {
	var lines []string
	seen := make(map[string]bool)

	err := eachLine(r, maxLineLength, func(line string) error {
		line = strings.TrimSpace(line)
		if line == "" || seen[line] {
			return nil
		}
		seen[line] = true
		if h, err := ParseHashLine(line); err == nil && cracked[h.ESSIDHex] {
			return nil
		}
		lines = append(lines, line)
		return nil
	})
	return lines, err
}

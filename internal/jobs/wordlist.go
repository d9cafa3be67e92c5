package jobs

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/bodgit/sevenzip"

	"github.com/ZerkerEOD/autopwn/internal/models"
	"github.com/ZerkerEOD/autopwn/pkg/debug"
)

// prepareWordlist returns a plain wordlist path for dict. A .7z dictionary
// is unpacked into the job directory; cleanup removes that copy.
func (e *Engine) prepareWordlist(job *models.Job, dict *models.Dictionary) (string, func(), error) {
	noop := func() {}

	if _, err := os.Stat(dict.Path); err != nil {
		return "", noop, fmt.Errorf("%w: %s: %v", ErrDictionaryMissing, dict.Name, err)
	}
	if !strings.EqualFold(filepath.Ext(dict.Path), ".7z") {
		return dict.Path, noop, nil
	}

	dest := filepath.Join(e.jobDir(job.ID), wordlistFilePrefix+strconv.Itoa(dict.ID)+".txt")
	debug.Info("Unpacking dictionary %s for job %s", dict.Name, job.ID)
	if err := unpack7z(dict.Path, dest); err != nil {
		removeQuietly(dest)
		return "", noop, fmt.Errorf("failed to unpack dictionary %s: %w", dict.Name, err)
	}
	return dest, func() { removeQuietly(dest) }, nil
}

// unpack7z extracts the first regular file of the archive to dest
func unpack7z(src, dest string) error {
	r, err := sevenzip.OpenReader(src)
	if err != nil {
		return err
	}
	defer r.Close()

	for _, f := range r.File {
		if f.FileInfo().IsDir() {
			continue
		}

		rc, err := f.Open()
		if err != nil {
			return fmt.Errorf("failed to open %s in archive: %w", f.Name, err)
		}
		defer rc.Close()

		out, err := os.Create(dest)
		if err != nil {
			return err
		}
		if _, err := io.Copy(out, rc); err != nil {
			out.Close()
			return fmt.Errorf("failed to extract %s: %w", f.Name, err)
		}
		return out.Close()
	}
	return errors.New("archive contains no files")
}

package jobs

import (
	"errors"
	"fmt"
	"time"

	"github.com/ZerkerEOD/autopwn/internal/repository"
)

var (
	// ErrNotFound is returned when a job or dictionary is absent or not owned by the caller
	ErrNotFound = repository.ErrNotFound

	ErrExtractionFailed  = errors.New("handshake extraction failed")
	ErrNoESSIDs          = errors.New("No ESSIDs found in PCAP file")
	ErrNoDictionaries    = errors.New("No dictionaries assigned to job")
	ErrDictionaryMissing = errors.New("dictionary not found")
	ErrToolExecution     = errors.New("tool execution failed")
	ErrUserCancelled     = errors.New("job paused/stopped by user")
	ErrTimeoutExceeded   = errors.New("job exceeded maximum runtime")
	ErrDictionaryTimeout = errors.New("dictionary attempt exceeded maximum runtime")
)

// ExitError is returned by Process.Wait when the tool exits non-zero
type ExitError struct {
	Tool string
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("%s exited with code %d", e.Tool, e.Code)
}

// Is lets errors.Is(err, ErrToolExecution) match any exit error
func (e *ExitError) Is(target error) bool {
	return target == ErrToolExecution
}

// TimeoutError reports a job that ran past its configured limit
type TimeoutError struct {
	Limit   time.Duration
	Elapsed time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("job exceeded maximum runtime of %v (ran for %v)", e.Limit, e.Elapsed.Round(time.Second))
}

func (e *TimeoutError) Is(target error) bool {
	return target == ErrTimeoutExceeded
}

// isSuspension reports errors that end an attempt without a per-dictionary failure
func isSuspension(err error) bool {
	return errors.Is(err, ErrUserCancelled) || errors.Is(err, ErrTimeoutExceeded)
}

// Re-exported store errors the lifecycle callers match on
var (
	ErrInvalidTransition = repository.ErrInvalidTransition
	ErrJobProcessing     = repository.ErrJobProcessing
)

package jobs

import (
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/ZerkerEOD/autopwn/internal/config"
	"github.com/ZerkerEOD/autopwn/internal/models"
	"github.com/ZerkerEOD/autopwn/pkg/debug"
)

// Tool labels used in CommandSpec.Tool
const (
	ToolExtract = "extract"
	ToolCrack   = "crack"
)

// Scratch file names inside a job directory
const (
	HandshakeFileName  = "handshakes.hc22000"
	MergedFileName     = "merged.hc22000"
	identifierFileName = "identifiers.tmp"
	crackedFilePrefix  = "cracked-"
	wordlistFilePrefix = "wordlist-"
)

// hashcat exits 1 when the wordlist is exhausted without a crack
const exitCodeExhausted = 1

// Options are the engine's tunables
type Options struct {
	JobsDir     string
	CapturesDir string

	HashcatPath       string
	HashcatHashMode   int
	HashcatAttackMode int
	HashcatExtraArgs  []string
	StatusTimer       time.Duration
	ExtractorPath     string

	PollInterval      time.Duration
	ErrorBackoff      time.Duration
	MonitorInterval   time.Duration
	KillGrace         time.Duration
	ExtractTimeout    time.Duration
	JobTimeout        time.Duration
	DictionaryTimeout time.Duration
}

// OptionsFromConfig maps the loaded configuration onto engine options
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		JobsDir:           cfg.JobsDir(),
		CapturesDir:       cfg.CapturesDir(),
		HashcatPath:       cfg.HashcatPath,
		HashcatHashMode:   cfg.HashcatHashMode,
		HashcatAttackMode: cfg.HashcatAttackMode,
		HashcatExtraArgs:  cfg.HashcatExtraArgs,
		StatusTimer:       cfg.StatusTimer,
		ExtractorPath:     cfg.ExtractorPath,
		PollInterval:      cfg.PollInterval,
		ErrorBackoff:      cfg.ErrorBackoff,
		MonitorInterval:   cfg.MonitorInterval,
		KillGrace:         cfg.KillGrace,
		ExtractTimeout:    cfg.ExtractTimeout,
		JobTimeout:        cfg.JobTimeout,
		DictionaryTimeout: cfg.DictionaryTimeout,
	}
}

// Stores groups the persistence the engine drives
type Stores struct {
	Jobs         JobStore
	Items        ItemStore
	Dictionaries DictionaryStore
	Results      ResultStore
}

// Engine drives one job at a time through extraction and cracking
type Engine struct {
	opts     Options
	jobs     JobStore
	items    ItemStore
	dicts    DictionaryStore
	results  ResultStore
	runner   ProcessRunner
	notifier Notifier
	state    *StateManager
	now      func() time.Time
}

// NewEngine creates an engine. A nil notifier discards events.
func NewEngine(opts Options, stores Stores, runner ProcessRunner, notifier Notifier) *Engine {
	if notifier == nil {
		notifier = nopNotifier{}
	}
	return &Engine{
		opts:     opts,
		jobs:     stores.Jobs,
		items:    stores.Items,
		dicts:    stores.Dictionaries,
		results:  stores.Results,
		runner:   runner,
		notifier: notifier,
		state:    NewStateManager(),
		now:      time.Now,
	}
}

// State exposes what the engine is doing
func (e *Engine) State() *StateManager {
	return e.state
}

func (e *Engine) jobDir(jobID uuid.UUID) string {
	return filepath.Join(e.opts.JobsDir, jobID.String())
}

func (e *Engine) capturePath(job *models.Job) string {
	return filepath.Join(e.opts.CapturesDir, job.OwnerID.String(), filepath.Base(job.CaptureFilename))
}

func (e *Engine) crackedPath(jobID uuid.UUID, jd models.JobDictionary) string {
	return filepath.Join(e.jobDir(jobID), crackedFilePrefix+strconv.FormatInt(jd.ID, 10)+".out")
}

// removeQuietly deletes a scratch file, logging anything but "not exist"
func removeQuietly(path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		debug.Warning("Failed to remove scratch file %s: %v", debug.SanitizeMessage(path), err)
	}
}

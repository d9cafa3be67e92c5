package jobs

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/ZerkerEOD/autopwn/internal/models"
)

// memStore is an in-memory store with the same conditional-update rules as
// the SQL repositories. It records invariant violations as it goes.
type memStore struct {
	mu         sync.Mutex
	jobs       map[uuid.UUID]*models.Job
	items      []*models.JobItem
	jds        []*models.JobDictionary
	dicts      map[int]*models.Dictionary
	results    []*models.Result
	nextID     int64
	violations []string
}

func newMemStore() *memStore {
	return &memStore{
		jobs:  make(map[uuid.UUID]*models.Job),
		dicts: make(map[int]*models.Dictionary),
	}
}

func (s *memStore) stores() Stores {
	return Stores{
		Jobs:         memJobs{s},
		Items:        memItems{s},
		Dictionaries: memDicts{s},
		Results:      memResults{s},
	}
}

func (s *memStore) checkLocked() {
	processing := 0
	for _, j := range s.jobs {
		if j.Status == models.JobStatusProcessing {
			processing++
		}
		if j.Paused != (j.Status == models.JobStatusPaused) {
			s.violations = append(s.violations, fmt.Sprintf("job %s paused=%v status=%s", j.ID, j.Paused, j.Status))
		}
	}
	if processing > 1 {
		s.violations = append(s.violations, fmt.Sprintf("%d jobs processing", processing))
	}
}

func (s *memStore) job(id uuid.UUID) models.Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.jobs[id]
}

func (s *memStore) addJob(j models.Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[j.ID] = &j
	s.checkLocked()
}

func (s *memStore) addDictionary(jobID uuid.UUID, d models.Dictionary) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d.ID != 0 {
		s.dicts[d.ID] = &d
	}
	s.nextID++
	s.jds = append(s.jds, &models.JobDictionary{ID: s.nextID, JobID: jobID, DictionaryID: d.ID, Status: models.JobDictionaryStatusPending})
	return s.nextID
}

func (s *memStore) jobDictionaries(jobID uuid.UUID) []models.JobDictionary {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.JobDictionary
	for _, jd := range s.jds {
		if jd.JobID == jobID {
			out = append(out, *jd)
		}
	}
	return out
}

func (s *memStore) jobItems(jobID uuid.UUID) []models.JobItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.JobItem
	for _, it := range s.items {
		if it.JobID == jobID {
			out = append(out, *it)
		}
	}
	return out
}

func (s *memStore) jobResults(jobID uuid.UUID) []models.Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Result
	for _, r := range s.results {
		if r.JobID == jobID {
			out = append(out, *r)
		}
	}
	return out
}

func (s *memStore) Violations() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.violations...)
}

type memJobs struct{ s *memStore }

func (m memJobs) GetByID(_ context.Context, id uuid.UUID) (*models.Job, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	j, ok := m.s.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	c := *j
	return &c, nil
}

func (m memJobs) GetStatus(_ context.Context, id uuid.UUID) (models.JobStatus, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	j, ok := m.s.jobs[id]
	if !ok {
		return "", ErrNotFound
	}
	return j.Status, nil
}

func (m memJobs) GetByStatus(_ context.Context, status models.JobStatus) ([]models.Job, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	var out []models.Job
	for _, j := range m.s.jobs {
		if j.Status == status {
			out = append(out, *j)
		}
	}
	return out, nil
}

func (m memJobs) NextPending(_ context.Context) (*models.Job, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	var best *models.Job
	for _, j := range m.s.jobs {
		if j.Status != models.JobStatusPending {
			continue
		}
		if best == nil || j.Priority > best.Priority ||
			(j.Priority == best.Priority && j.CreatedAt.Before(best.CreatedAt)) {
			best = j
		}
	}
	if best == nil {
		return nil, ErrNotFound
	}
	c := *best
	return &c, nil
}

func (m memJobs) Claim(_ context.Context, id uuid.UUID, startedAt time.Time) (bool, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	j, ok := m.s.jobs[id]
	if !ok || j.Status != models.JobStatusPending {
		return false, nil
	}
	for _, other := range m.s.jobs {
		if other.Status == models.JobStatusProcessing {
			return false, nil
		}
	}
	j.Status = models.JobStatusProcessing
	j.Paused = false
	j.StartedAt = &startedAt
	j.CompletedAt = nil
	j.ErrorMessage = ""
	m.s.checkLocked()
	return true, nil
}

func (m memJobs) update(id uuid.UUID, from []models.JobStatus, fn func(j *models.Job)) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	j, ok := m.s.jobs[id]
	if !ok {
		return ErrInvalidTransition
	}
	allowed := len(from) == 0
	for _, st := range from {
		if j.Status == st {
			allowed = true
		}
	}
	if !allowed {
		return ErrInvalidTransition
	}
	fn(j)
	m.s.checkLocked()
	return nil
}

func (m memJobs) ResetToPending(_ context.Context, id uuid.UUID) error {
	return m.update(id, []models.JobStatus{models.JobStatusProcessing}, func(j *models.Job) {
		j.Status = models.JobStatusPending
		j.Paused = false
		j.StartedAt = nil
	})
}

func (m memJobs) Complete(_ context.Context, id uuid.UUID, at time.Time) error {
	return m.update(id, []models.JobStatus{models.JobStatusProcessing}, func(j *models.Job) {
		j.Status = models.JobStatusCompleted
		j.Progress = 100
		j.CompletedAt = &at
	})
}

func (m memJobs) Fail(_ context.Context, id uuid.UUID, msg string, at time.Time) error {
	return m.update(id, []models.JobStatus{models.JobStatusProcessing}, func(j *models.Job) {
		j.Status = models.JobStatusFailed
		j.ErrorMessage = msg
		j.CompletedAt = &at
	})
}

func (m memJobs) UpdateProgress(_ context.Context, id uuid.UUID, p models.JobProgress) error {
	return m.update(id, nil, func(j *models.Job) {
		j.Progress = p.Progress
		j.CurrentDictionary = p.CurrentDictionary
		j.Speed = p.Speed
		j.ETA = p.ETA
	})
}

func (m memJobs) UpdateCounters(_ context.Context, id uuid.UUID, total, cracked int) error {
	return m.update(id, nil, func(j *models.Job) {
		j.ItemsTotal = total
		j.ItemsCracked = cracked
	})
}

func (m memJobs) AppendLog(_ context.Context, id uuid.UUID, text string) error {
	return m.update(id, nil, func(j *models.Job) { j.Log += text })
}

func (m memJobs) owned(id, ownerID uuid.UUID) (*models.Job, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	j, ok := m.s.jobs[id]
	if !ok || j.OwnerID != ownerID {
		return nil, ErrNotFound
	}
	c := *j
	return &c, nil
}

func (m memJobs) transition(id, ownerID uuid.UUID, from []models.JobStatus, fn func(j *models.Job)) (*models.Job, error) {
	if _, err := m.owned(id, ownerID); err != nil {
		return nil, err
	}
	if err := m.update(id, from, fn); err != nil {
		return nil, err
	}
	return m.owned(id, ownerID)
}

func (m memJobs) GetForOwner(_ context.Context, id, ownerID uuid.UUID) (*models.Job, error) {
	return m.owned(id, ownerID)
}

func (m memJobs) Pause(_ context.Context, id, ownerID uuid.UUID) (*models.Job, error) {
	return m.transition(id, ownerID, []models.JobStatus{models.JobStatusPending, models.JobStatusProcessing}, func(j *models.Job) {
		j.Status = models.JobStatusPaused
		j.Paused = true
	})
}

func (m memJobs) Resume(_ context.Context, id, ownerID uuid.UUID) (*models.Job, error) {
	return m.transition(id, ownerID, []models.JobStatus{models.JobStatusPaused, models.JobStatusStopped}, func(j *models.Job) {
		j.Status = models.JobStatusPending
		j.Paused = false
		j.CompletedAt = nil
	})
}

func (m memJobs) Stop(_ context.Context, id, ownerID uuid.UUID, now time.Time) (*models.Job, error) {
	return m.transition(id, ownerID, []models.JobStatus{models.JobStatusPending, models.JobStatusProcessing, models.JobStatusPaused}, func(j *models.Job) {
		j.Status = models.JobStatusStopped
		j.Paused = false
		j.CompletedAt = &now
	})
}

func (m memJobs) Restart(_ context.Context, id, ownerID uuid.UUID) (*models.Job, error) {
	job, err := m.transition(id, ownerID, []models.JobStatus{models.JobStatusCompleted, models.JobStatusFailed, models.JobStatusStopped}, func(j *models.Job) {
		j.Status = models.JobStatusPending
		j.Paused = false
		j.Progress = 0
		j.ItemsTotal = 0
		j.ItemsCracked = 0
		j.ErrorMessage = ""
		j.StartedAt = nil
		j.CompletedAt = nil
	})
	if err != nil {
		return nil, err
	}
	m.s.mu.Lock()
	for _, it := range m.s.items {
		if it.JobID == id && it.Status == models.JobItemStatusCracked {
			it.Status = models.JobItemStatusPending
			it.Password = nil
			it.CrackedAt = nil
		}
	}
	m.s.mu.Unlock()
	return job, nil
}

func (m memJobs) SetPriority(_ context.Context, id, ownerID uuid.UUID, priority int) (*models.Job, error) {
	return m.transition(id, ownerID, nil, func(j *models.Job) { j.Priority = priority })
}

func (m memJobs) Delete(_ context.Context, id, ownerID uuid.UUID) error {
	if _, err := m.owned(id, ownerID); err != nil {
		return err
	}
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if m.s.jobs[id].Status == models.JobStatusProcessing {
		return ErrJobProcessing
	}
	delete(m.s.jobs, id)
	return nil
}

type memItems struct{ s *memStore }

func (m memItems) CountByJob(_ context.Context, jobID uuid.UUID) (int, error) {
	return len(m.s.jobItems(jobID)), nil
}

func (m memItems) CountCracked(_ context.Context, jobID uuid.UUID) (int, error) {
	n := 0
	for _, it := range m.s.jobItems(jobID) {
		if it.Status == models.JobItemStatusCracked {
			n++
		}
	}
	return n, nil
}

func (m memItems) ListByJob(_ context.Context, jobID uuid.UUID) ([]models.JobItem, error) {
	return m.s.jobItems(jobID), nil
}

func (m memItems) CreateBatch(_ context.Context, jobID, ownerID uuid.UUID, items []models.JobItem) (int, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	for _, it := range items {
		m.s.nextID++
		c := it
		c.ID = m.s.nextID
		c.JobID = jobID
		c.OwnerID = ownerID
		c.Status = models.JobItemStatusPending
		m.s.items = append(m.s.items, &c)
	}
	return len(items), nil
}

func (m memItems) MarkCracked(_ context.Context, jobID uuid.UUID, essid, password string, at time.Time) (int, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	n := 0
	for _, it := range m.s.items {
		if it.JobID == jobID && it.ESSID == essid {
			pw := password
			it.Status = models.JobItemStatusCracked
			it.Password = &pw
			it.CrackedAt = &at
			n++
		}
	}
	return n, nil
}

type memDicts struct{ s *memStore }

func (m memDicts) ListByJob(_ context.Context, jobID uuid.UUID) ([]models.JobDictionary, error) {
	return m.s.jobDictionaries(jobID), nil
}

func (m memDicts) UpdateStatus(_ context.Context, id int64, status models.JobDictionaryStatus) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	for _, jd := range m.s.jds {
		if jd.ID == id {
			jd.Status = status
			return nil
		}
	}
	return ErrNotFound
}

func (m memDicts) GetDictionary(_ context.Context, id int) (*models.Dictionary, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	d, ok := m.s.dicts[id]
	if !ok {
		return nil, ErrNotFound
	}
	c := *d
	return &c, nil
}

type memResults struct{ s *memStore }

func (m memResults) Insert(_ context.Context, r *models.Result) (bool, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	for _, existing := range m.s.results {
		if existing.JobID == r.JobID && existing.ESSID == r.ESSID {
			return false, nil
		}
	}
	m.s.nextID++
	r.ID = m.s.nextID
	c := *r
	m.s.results = append(m.s.results, &c)
	return true, nil
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []models.JobEvent
}

func (n *recordingNotifier) Publish(_ uuid.UUID, event models.JobEvent) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
}

func (n *recordingNotifier) count(eventType string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	c := 0
	for _, e := range n.events {
		if e.Type == eventType {
			c++
		}
	}
	return c
}

func (n *recordingNotifier) lastStatus() models.JobStatus {
	n.mu.Lock()
	defer n.mu.Unlock()
	for i := len(n.events) - 1; i >= 0; i-- {
		if d, ok := n.events[i].Data.(models.StatusEventData); ok {
			return d.Status
		}
	}
	return ""
}

type testEnv struct {
	engine   *Engine
	store    *memStore
	notifier *recordingNotifier
	runner   *MockRunner
	dir      string
	owner    uuid.UUID
	dictSeq  int
}

func testOptions(dir string) Options {
	return Options{
		JobsDir:           filepath.Join(dir, "jobs"),
		CapturesDir:       filepath.Join(dir, "captures"),
		HashcatPath:       "hashcat",
		HashcatHashMode:   22000,
		StatusTimer:       time.Second,
		ExtractorPath:     "hcxpcapngtool",
		PollInterval:      10 * time.Millisecond,
		ErrorBackoff:      20 * time.Millisecond,
		MonitorInterval:   20 * time.Millisecond,
		KillGrace:         50 * time.Millisecond,
		ExtractTimeout:    2 * time.Second,
		JobTimeout:        time.Hour,
		DictionaryTimeout: time.Hour,
	}
}

func newTestEnv(t *testing.T, script func(spec CommandSpec) MockBehavior) *testEnv {
	t.Helper()
	dir := t.TempDir()
	store := newMemStore()
	notifier := &recordingNotifier{}
	runner := NewScriptedMockRunner(script)
	return &testEnv{
		engine:   NewEngine(testOptions(dir), store.stores(), runner, notifier),
		store:    store,
		notifier: notifier,
		runner:   runner,
		dir:      dir,
		owner:    uuid.New(),
	}
}

// addJob creates a pending job with one dictionary per wordlist content
func (env *testEnv) addJob(t *testing.T, priority int, wordlists ...string) models.Job {
	t.Helper()
	job := models.Job{
		ID:              uuid.New(),
		OwnerID:         env.owner,
		CaptureFilename: "capture.pcap",
		Status:          models.JobStatusPending,
		Priority:        priority,
		CreatedAt:       time.Now(),
	}
	env.store.addJob(job)
	for _, content := range wordlists {
		env.dictSeq++
		path := filepath.Join(env.dir, fmt.Sprintf("dict-%d.txt", env.dictSeq))
		require.NoError(t, os.WriteFile(path, []byte(content), 0644))
		env.store.addDictionary(job.ID, models.Dictionary{ID: env.dictSeq, Name: fmt.Sprintf("dict-%d", env.dictSeq), Path: path, OwnerID: env.owner})
	}
	return job
}

func (env *testEnv) crackProcesses() []*MockProcess {
	var out []*MockProcess
	for _, p := range env.runner.Processes() {
		if p.Spec().Tool == ToolCrack {
			out = append(out, p)
		}
	}
	return out
}

func (env *testEnv) callsFor(tool string) int {
	n := 0
	for _, c := range env.runner.Calls() {
		if c.Tool == tool {
			n++
		}
	}
	return n
}

// extractOK writes the given networks as identifier and handshake files
func extractOK(spec CommandSpec, networks ...Identifier) MockBehavior {
	var ids, hashes string
	for i, n := range networks {
		ids += n.BSSID + " " + n.ESSID + "\n"
		hashes += fmt.Sprintf("WPA*02*%032d*aabbccddee%02d*f4747f87f9f4*%s***00\n", i, i, EncodeESSID(n.ESSID))
	}
	return MockBehavior{Files: map[string]string{spec.HashFile: hashes, spec.IdentifierFile: ids}}
}

func crackWrites(spec CommandSpec, content string) MockBehavior {
	return MockBehavior{
		Lines: []string{`{"progress": [5, 10], "devices": [{"speed": 1000}], "estimated_stop": 0}`},
		Files: map[string]string{spec.OutputFile: content},
	}
}

package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/ZerkerEOD/autopwn/internal/config"
	"github.com/ZerkerEOD/autopwn/pkg/debug"
)

// MockBehavior scripts what a simulated tool run does
type MockBehavior struct {
	StartErr error
	// Lines are written to stdout spread evenly over RunFor
	Lines []string
	// Files are written just before a normal exit
	Files    map[string]string
	ExitCode int
	// RunFor < 0 runs until the process is signalled
	RunFor          time.Duration
	IgnoreTerminate bool
}

// MockRunner simulates the extraction and cracking tools. It is used in
// TEST_MODE and, with a script, by the engine tests.
type MockRunner struct {
	mu        sync.Mutex
	script    func(spec CommandSpec) MockBehavior
	calls     []CommandSpec
	processes []*MockProcess
	nextPID   int

	runDuration time.Duration
	crackRate   float64 // percentage of handshakes cracked per dictionary (0-100)
	hashRate    int64
}

// NewMockRunner creates a runner that fakes both tools from their input files
func NewMockRunner(cfg config.MockConfig) *MockRunner {
	debug.Info("Creating mock tool runner with config:")
	debug.Info("  Run Duration: %v", cfg.RunDuration)
	debug.Info("  Crack Rate: %.1f%%", cfg.CrackRate)
	debug.Info("  Hash Rate: %d H/s", cfg.HashRate)

	r := &MockRunner{
		nextPID:     10000,
		runDuration: cfg.RunDuration,
		crackRate:   cfg.CrackRate,
		hashRate:    cfg.HashRate,
	}
	r.script = r.simulate
	return r
}

// NewScriptedMockRunner creates a runner whose every run is decided by script
func NewScriptedMockRunner(script func(spec CommandSpec) MockBehavior) *MockRunner {
	return &MockRunner{script: script, nextPID: 10000}
}

// Start begins a simulated run
func (r *MockRunner) Start(ctx context.Context, spec CommandSpec) (Process, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	behavior := r.script(spec)

	r.mu.Lock()
	r.calls = append(r.calls, spec)
	if behavior.StartErr != nil {
		r.mu.Unlock()
		return nil, behavior.StartErr
	}
	r.nextPID++
	p := &MockProcess{
		pid:       r.nextPID,
		spec:      spec,
		behavior:  behavior,
		output:    make(chan OutputLine, outputBufferSize),
		done:      make(chan struct{}),
		terminate: make(chan struct{}),
		kill:      make(chan struct{}),
	}
	r.processes = append(r.processes, p)
	r.mu.Unlock()

	debug.Info("Mock runner starting %s (pid %d)", spec.Tool, p.pid)
	go p.run()
	return p, nil
}

// Calls returns every spec passed to Start
func (r *MockRunner) Calls() []CommandSpec {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]CommandSpec(nil), r.calls...)
}

// Processes returns every process started so far
func (r *MockRunner) Processes() []*MockProcess {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*MockProcess(nil), r.processes...)
}

// simulate derives a run from the real input files: a capture is read as
// "<bssid> <essid>" lines, and each handshake is cracked with crackRate
// probability using a random word of the wordlist.
func (r *MockRunner) simulate(spec CommandSpec) MockBehavior {
	switch spec.Tool {
	case ToolExtract:
		return r.simulateExtract(spec)
	case ToolCrack:
		return r.simulateCrack(spec)
	default:
		return MockBehavior{StartErr: fmt.Errorf("mock runner: unknown tool %q", spec.Tool)}
	}
}

func (r *MockRunner) simulateExtract(spec CommandSpec) MockBehavior {
	lines, err := readLines(spec.Capture)
	if err != nil {
		return MockBehavior{Lines: []string{fmt.Sprintf("failed to open %s: %v", spec.Capture, err)}, ExitCode: 1}
	}

	var ids, hashes strings.Builder
	for _, line := range lines {
		id, err := ParseIdentifierLine(line)
		if err != nil {
			continue
		}
		fmt.Fprintf(&ids, "%s %s\n", id.BSSID, id.ESSID)
		ap := strings.ToLower(strings.ReplaceAll(id.BSSID, ":", ""))
		fmt.Fprintf(&hashes, "WPA*02*%032x*%s*%s*%s*%s*%s*00\n",
			rand.Uint64(), ap, "f4747f87f9f4", EncodeESSID(id.ESSID), "00", "00")
	}

	return MockBehavior{
		Lines:  []string{"summary capture file", fmt.Sprintf("%d handshakes written", len(lines))},
		Files:  map[string]string{spec.HashFile: hashes.String(), spec.IdentifierFile: ids.String()},
		RunFor: 0,
	}
}

func (r *MockRunner) simulateCrack(spec CommandSpec) MockBehavior {
	hashLines, err := readLines(spec.HashFile)
	if err != nil {
		return MockBehavior{Lines: []string{err.Error()}, ExitCode: 255}
	}
	words, err := readLines(spec.Wordlist)
	if err != nil {
		return MockBehavior{Lines: []string{err.Error()}, ExitCode: 255}
	}

	var out strings.Builder
	cracked := 0
	for _, line := range hashLines {
		h, err := ParseHashLine(line)
		if err != nil || len(words) == 0 {
			continue
		}
		if rand.Float64()*100 < r.crackRate {
			fmt.Fprintf(&out, "*%s*%s\n", h.ESSID(), words[rand.Intn(len(words))])
			cracked++
		}
	}

	ticks := 5
	status := make([]string, 0, ticks)
	total := int64(len(words))
	for i := 1; i <= ticks; i++ {
		line, _ := json.Marshal(map[string]interface{}{
			"session":          "autopwn",
			"status":           3,
			"progress":         []int64{total * int64(i) / int64(ticks), total},
			"recovered_hashes": []int{cracked * i / ticks, len(hashLines)},
			"devices":          []map[string]int64{{"device_id": 1, "speed": r.hashRate}},
			"estimated_stop":   time.Now().Add(r.runDuration * time.Duration(ticks-i) / time.Duration(ticks)).Unix(),
		})
		status = append(status, string(line))
	}

	behavior := MockBehavior{Lines: status, RunFor: r.runDuration, ExitCode: 1}
	if cracked > 0 {
		behavior.ExitCode = 0
		behavior.Files = map[string]string{spec.OutputFile: out.String()}
	}
	return behavior
}

func readLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var lines []string
	err = eachLine(f, maxLineLength, func(line string) error {
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
		return nil
	})
	return lines, err
}

// MockProcess is a simulated running tool
type MockProcess struct {
	pid       int
	spec      CommandSpec
	behavior  MockBehavior
	output    chan OutputLine
	done      chan struct{}
	terminate chan struct{}
	kill      chan struct{}
	termOnce  sync.Once
	killOnce  sync.Once

	mu         sync.Mutex
	terminated bool
	killed     bool
	waitErr    error
}

func (p *MockProcess) run() {
	defer close(p.done)
	defer close(p.output)

	b := p.behavior
	var step time.Duration
	if b.RunFor > 0 {
		step = b.RunFor / time.Duration(len(b.Lines)+1)
	}

	for _, line := range b.Lines {
		if !p.sleep(step) {
			return
		}
		select {
		case p.output <- OutputLine{Stream: "stdout", Text: line}:
		default:
		}
	}

	if b.RunFor < 0 {
		p.sleep(-1)
		return
	}
	if !p.sleep(step) {
		return
	}

	for path, content := range b.Files {
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			debug.Error("Mock %s failed to write %s: %v", p.spec.Tool, path, err)
		}
	}
	if b.ExitCode != 0 {
		p.setWaitErr(&ExitError{Tool: p.spec.Tool, Code: b.ExitCode})
	}
}

// sleep waits d (forever when d < 0) and reports false when the process was
// signalled off, recording the exit error in that case
func (p *MockProcess) sleep(d time.Duration) bool {
	var timer <-chan time.Time
	if d >= 0 {
		t := time.NewTimer(d)
		defer t.Stop()
		timer = t.C
	}

	terminate := p.terminate
	if p.behavior.IgnoreTerminate {
		terminate = nil
	}

	select {
	case <-timer:
		return true
	case <-terminate:
		p.setWaitErr(&ExitError{Tool: p.spec.Tool, Code: -1})
		return false
	case <-p.kill:
		p.setWaitErr(&ExitError{Tool: p.spec.Tool, Code: -1})
		return false
	}
}

func (p *MockProcess) setWaitErr(err error) {
	p.mu.Lock()
	p.waitErr = err
	p.mu.Unlock()
}

func (p *MockProcess) Pid() int                  { return p.pid }
func (p *MockProcess) Output() <-chan OutputLine { return p.output }
func (p *MockProcess) Done() <-chan struct{}     { return p.done }

func (p *MockProcess) Wait() error {
	<-p.done
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.waitErr
}

func (p *MockProcess) SignalTerminate() error {
	p.mu.Lock()
	p.terminated = true
	p.mu.Unlock()
	p.termOnce.Do(func() { close(p.terminate) })
	return nil
}

func (p *MockProcess) ForceKill() error {
	p.mu.Lock()
	p.killed = true
	p.mu.Unlock()
	p.killOnce.Do(func() { close(p.kill) })
	return nil
}

// Spec returns the command the process was started with
func (p *MockProcess) Spec() CommandSpec { return p.spec }

// Terminated reports whether SignalTerminate was called
func (p *MockProcess) Terminated() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.terminated
}

// Killed reports whether ForceKill was called
func (p *MockProcess) Killed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.killed
}

// Exited reports whether the process has finished
func (p *MockProcess) Exited() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

package jobs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"

	"github.com/shirou/gopsutil/process"

	"github.com/ZerkerEOD/autopwn/pkg/debug"
)

const outputBufferSize = 256

// CommandSpec describes one external tool invocation. The named file fields
// duplicate what is in Args so simulated runners do not have to parse flags.
type CommandSpec struct {
	Tool string // "extract" or "crack"
	Path string
	Args []string
	Dir  string
	Env  []string

	Capture        string
	HashFile       string
	IdentifierFile string
	Wordlist       string
	OutputFile     string
}

// OutputLine is one line the tool wrote to stdout or stderr
type OutputLine struct {
	Stream string
	Text   string
}

// Process is a handle on a running tool
type Process interface {
	Pid() int
	// Output delivers stdout and stderr lines. It is closed before Done and
	// drops lines when the consumer falls behind.
	Output() <-chan OutputLine
	Done() <-chan struct{}
	// Wait blocks until exit. It returns nil on exit 0 and *ExitError otherwise.
	Wait() error
	SignalTerminate() error
	ForceKill() error
}

// ProcessRunner starts external tools
type ProcessRunner interface {
	Start(ctx context.Context, spec CommandSpec) (Process, error)
}

// ExecRunner runs real binaries with os/exec. Started processes are not bound
// to ctx; the caller decides when to signal or kill them.
type ExecRunner struct{}

// NewExecRunner creates a runner for real tools
func NewExecRunner() *ExecRunner {
	return &ExecRunner{}
}

type execProcess struct {
	tool    string
	cmd     *exec.Cmd
	output  chan OutputLine
	done    chan struct{}
	waitErr error
}

// Start launches the tool and begins streaming its output
func (r *ExecRunner) Start(ctx context.Context, spec CommandSpec) (Process, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	cmd := exec.Command(spec.Path, spec.Args...)
	cmd.Dir = spec.Dir
	if len(spec.Env) > 0 {
		cmd.Env = append(os.Environ(), spec.Env...)
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdout pipe for %s: %w", spec.Tool, err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stderr pipe for %s: %w", spec.Tool, err)
	}

	debug.Info("Starting %s: %s", spec.Tool, debug.SanitizeMessage(spec.Path+" "+strings.Join(spec.Args, " ")))
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start %s: %w", spec.Tool, err)
	}

	p := &execProcess{
		tool:   spec.Tool,
		cmd:    cmd,
		output: make(chan OutputLine, outputBufferSize),
		done:   make(chan struct{}),
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go p.readStream(&wg, stdout, "stdout")
	go p.readStream(&wg, stderr, "stderr")

	go func() {
		// pipes must be drained before Wait
		wg.Wait()
		close(p.output)
		p.waitErr = p.exitError(cmd.Wait())
		close(p.done)
		debug.Debug("%s (pid %d) exited: %v", p.tool, cmd.Process.Pid, p.waitErr)
	}()

	return p, nil
}

func (p *execProcess) readStream(wg *sync.WaitGroup, r io.Reader, stream string) {
	defer wg.Done()
	err := eachLine(r, maxLineLength, func(line string) error {
		select {
		case p.output <- OutputLine{Stream: stream, Text: line}:
		default:
		}
		return nil
	})
	if err != nil {
		debug.Warning("Error reading %s %s: %v", p.tool, stream, err)
		// keep draining so the child never blocks on a full pipe
		_, _ = io.Copy(io.Discard, r)
	}
}

func (p *execProcess) exitError(err error) error {
	if err == nil {
		return nil
	}
	var ee *exec.ExitError
	if errors.As(err, &ee) {
		return &ExitError{Tool: p.tool, Code: ee.ExitCode()}
	}
	return fmt.Errorf("%s: %w: %v", p.tool, ErrToolExecution, err)
}

func (p *execProcess) Pid() int                  { return p.cmd.Process.Pid }
func (p *execProcess) Output() <-chan OutputLine { return p.output }
func (p *execProcess) Done() <-chan struct{}     { return p.done }

func (p *execProcess) Wait() error {
	<-p.done
	return p.waitErr
}

func (p *execProcess) SignalTerminate() error {
	if err := p.cmd.Process.Signal(syscall.SIGTERM); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("failed to signal %s (pid %d): %w", p.tool, p.Pid(), err)
	}
	return nil
}

// ForceKill kills the process and every descendant gopsutil can find, then
// checks after exit that none of them survived.
func (p *execProcess) ForceKill() error {
	pid := p.Pid()
	descendants := collectDescendants(int32(pid))

	if err := p.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("failed to kill %s (pid %d): %w", p.tool, pid, err)
	}
	for _, child := range descendants {
		if err := child.Kill(); err != nil {
			debug.Debug("Failed to kill child %d of %s: %v", child.Pid, p.tool, err)
		}
	}

	go func() {
		<-p.done
		for _, child := range descendants {
			if alive, err := process.PidExists(child.Pid); err == nil && alive {
				debug.Error("Child process %d of %s is still alive after force kill", child.Pid, p.tool)
			}
		}
	}()
	return nil
}

func collectDescendants(pid int32) []*process.Process {
	parent, err := process.NewProcess(pid)
	if err != nil {
		return nil
	}
	var out []*process.Process
	queue := []*process.Process{parent}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		children, err := current.Children()
		if err != nil {
			continue
		}
		out = append(out, children...)
		queue = append(queue, children...)
	}
	return out
}

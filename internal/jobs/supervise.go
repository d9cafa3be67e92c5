package jobs

import (
	"context"
	"time"

	"github.com/ZerkerEOD/autopwn/pkg/debug"
)

type superviseOptions struct {
	// deadline bounds the whole run; deadlineErr is returned when it fires
	deadline    time.Duration
	deadlineErr error
	onLine      func(OutputLine)
	// onTick runs every MonitorInterval; a non-nil error terminates the process
	onTick func(ctx context.Context) error
}

// supervise waits for proc to exit while racing the monitor ticker, the
// deadline and ctx. Whatever stops the run first decides the result. The
// process has always exited when supervise returns.
func (e *Engine) supervise(ctx context.Context, proc Process, opts superviseOptions) error {
	e.state.SetPID(proc.Pid())

	var tick <-chan time.Time
	if opts.onTick != nil {
		ticker := time.NewTicker(e.opts.MonitorInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	var deadline <-chan time.Time
	if opts.deadline > 0 {
		timer := time.NewTimer(opts.deadline)
		defer timer.Stop()
		deadline = timer.C
	}

	output := proc.Output()
	handle := func(line OutputLine) {
		if opts.onLine != nil {
			opts.onLine(line)
		}
	}
	drain := func() {
		if output == nil {
			return
		}
		for line := range output {
			handle(line)
		}
	}

	for {
		select {
		case line, ok := <-output:
			if !ok {
				output = nil
				continue
			}
			handle(line)

		case <-proc.Done():
			drain()
			return proc.Wait()

		case <-tick:
			if err := opts.onTick(ctx); err != nil {
				debug.Info("Stopping pid %d: %v", proc.Pid(), err)
				e.terminate(proc)
				drain()
				return err
			}

		case <-deadline:
			debug.Warning("Pid %d hit its %v limit", proc.Pid(), opts.deadline)
			e.terminate(proc)
			drain()
			return opts.deadlineErr

		case <-ctx.Done():
			debug.Info("Context cancelled, stopping pid %d", proc.Pid())
			e.terminate(proc)
			drain()
			return ctx.Err()
		}
	}
}

// terminate asks the process to exit, force-kills it after KillGrace, and
// returns only once it has exited.
func (e *Engine) terminate(proc Process) {
	pid := proc.Pid()
	debug.Info("Sending terminate signal to pid %d", pid)
	if err := proc.SignalTerminate(); err != nil {
		debug.Warning("Failed to signal pid %d: %v", pid, err)
	}

	grace := time.NewTimer(e.opts.KillGrace)
	defer grace.Stop()
	select {
	case <-proc.Done():
		debug.Info("Pid %d exited after terminate signal", pid)
		return
	case <-grace.C:
	}

	debug.Warning("Pid %d did not exit within %v, force killing", pid, e.opts.KillGrace)
	if err := proc.ForceKill(); err != nil {
		debug.Error("Failed to force kill pid %d: %v", pid, err)
	}

	stuck := time.NewTimer(e.opts.KillGrace)
	defer stuck.Stop()
	select {
	case <-proc.Done():
		return
	case <-stuck.C:
		debug.Error("Pid %d still running after force kill, waiting for it to exit", pid)
	}
	<-proc.Done()
}

// Package procsup supervises the per-client subprocesses: spawning the
// configured executable with its cosimulation-plugin arguments,
// redirecting its output to a per-client log file, and watching for
// exit. A child's exit is recorded on its Process only; it does not
// change the IsOpen flag of the matching client endpoint.
package procsup

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/vadl-tools/cosim-broker/internal/logx"
)

// Spec describes one client's subprocess.
type Spec struct {
	ClientID   uint32
	ClientName string
	Executable string
	Args       []string
	LogDir     string
}

// Process supervises one running child: it tracks liveness via a
// reaper goroutine and exposes Kill for teardown.
type Process struct {
	spec Spec
	cmd  *exec.Cmd
	log  *logx.Logger

	exited int32 // atomic bool
	logFile *os.File
}

// Start spawns the child described by spec, redirecting its stdout and
// stderr to a log file under spec.LogDir, and begins watching it in
// the background. The caller observes the exit transition through
// Exited; Kill is safe to call at any time.
func Start(spec Spec, log *logx.Logger) (*Process, error) {
	if err := os.MkdirAll(spec.LogDir, 0o755); err != nil {
		return nil, fmt.Errorf("procsup: create log dir %s: %w", spec.LogDir, err)
	}
	logPath := filepath.Join(spec.LogDir, fmt.Sprintf("client-%d.log", spec.ClientID))
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("procsup: open log file %s: %w", logPath, err)
	}

	cmd := exec.Command(spec.Executable, spec.Args...)
	cmd.Stdout = logFile
	cmd.Stderr = logFile

	if err := cmd.Start(); err != nil {
		_ = logFile.Close()
		return nil, fmt.Errorf("procsup: start client %d executable %s: %w", spec.ClientID, spec.Executable, err)
	}

	p := &Process{
		spec:    spec,
		cmd:     cmd,
		log:     log.With("procsup"),
		logFile: logFile,
	}

	go p.reap()

	return p, nil
}

// reap waits for the child to exit and marks it so; it is the single
// per-client supervisor goroutine described in spec §4.2 and §5
// (acceptable at N ≤ 8 clients in place of a multiplexed reaper).
func (p *Process) reap() {
	err := p.cmd.Wait()
	atomic.StoreInt32(&p.exited, 1)
	if err != nil {
		p.log.Debug("client process exited",
			logx.Uint32("client_id", p.spec.ClientID), logx.Err(err))
	} else {
		p.log.Debug("client process exited", logx.Uint32("client_id", p.spec.ClientID))
	}
	_ = p.logFile.Close()
}

// Exited reports whether the child process has exited.
func (p *Process) Exited() bool {
	return atomic.LoadInt32(&p.exited) != 0
}

// Kill terminates the child if still running. Safe to call multiple
// times and after the child has already exited.
func (p *Process) Kill() error {
	if p.Exited() {
		return nil
	}
	if err := p.cmd.Process.Kill(); err != nil {
		return fmt.Errorf("procsup: kill client %d: %w", p.spec.ClientID, err)
	}
	return nil
}

// Supervisor owns every client's Process and provides a single
// teardown point that terminates all of them, matching the at-exit
// registration described in spec §4.2.
type Supervisor struct {
	mu        sync.Mutex
	processes []*Process
	log       *logx.Logger
}

// New creates an empty Supervisor.
func New(log *logx.Logger) *Supervisor {
	return &Supervisor{log: log.With("procsup")}
}

// Launch starts a client subprocess and registers it for teardown.
func (s *Supervisor) Launch(ctx context.Context, spec Spec) (*Process, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	p, err := Start(spec, s.log)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.processes = append(s.processes, p)
	s.mu.Unlock()
	return p, nil
}

// KillAll terminates every registered process. Errors from individual
// kills are logged, not propagated, since teardown must make a best
// effort across all clients even if one kill fails.
func (s *Supervisor) KillAll() {
	s.mu.Lock()
	processes := append([]*Process(nil), s.processes...)
	s.mu.Unlock()

	for _, p := range processes {
		if err := p.Kill(); err != nil {
			s.log.Warn("failed to kill client process", logx.Err(err))
		}
	}
}

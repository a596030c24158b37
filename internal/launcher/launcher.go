// Package launcher starts companion and launcher processes detached from
// the daemon. Children get their own session so they survive a daemon
// restart and never receive the daemon's terminal signals. Exit status is
// collected in the background so no zombies accumulate.
package launcher

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"

	"policyd/internal/config"
)

// ErrEmptyCommand is returned when an argv has no program.
var ErrEmptyCommand = errors.New("launcher: empty command")

var startProcessFn = func(cmd *exec.Cmd) error {
	return cmd.Start()
}

var waitProcessFn = func(cmd *exec.Cmd) error {
	return cmd.Wait()
}

// Detach configures cmd to run in its own session and process group.
// Existing SysProcAttr fields are preserved.
func Detach(cmd *exec.Cmd) {
	if cmd == nil {
		return
	}
	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{}
	}
	cmd.SysProcAttr.Setsid = true
}

// Launcher spawns processes and tracks those still running.
type Launcher struct {
	env []string

	mu      sync.Mutex
	running map[int]string
	wg      sync.WaitGroup
}

// New returns a launcher whose children inherit the daemon environment
// plus extraEnv ("KEY=value" entries).
func New(extraEnv ...string) *Launcher {
	return &Launcher{
		env:     extraEnv,
		running: make(map[int]string),
	}
}

// Spawn expands "~" and "$VAR" in argv, starts the process detached and
// returns its pid without waiting for it.
func (l *Launcher) Spawn(label string, argv []string) (int, error) {
	args := config.ExpandArgs(argv)
	if len(args) == 0 || strings.TrimSpace(args[0]) == "" {
		return 0, ErrEmptyCommand
	}

	cmd := exec.Command(args[0], args[1:]...)
	cmd.Stdin = nil
	cmd.Stdout = nil
	cmd.Stderr = nil
	if len(l.env) > 0 {
		cmd.Env = append(os.Environ(), l.env...)
	}
	Detach(cmd)

	if err := startProcessFn(cmd); err != nil {
		return 0, fmt.Errorf("start %s: %w", label, err)
	}
	pid := 0
	if cmd.Process != nil {
		pid = cmd.Process.Pid
	}

	l.mu.Lock()
	l.running[pid] = label
	l.mu.Unlock()
	slog.Debug("[DEBUG-LAUNCH] process started", "label", label, "pid", pid, "argv", args)

	l.wg.Go(func() {
		err := waitProcessFn(cmd)
		l.mu.Lock()
		delete(l.running, pid)
		l.mu.Unlock()
		if err != nil {
			slog.Debug("[DEBUG-LAUNCH] process exited with error", "label", label, "pid", pid, "error", err)
			return
		}
		slog.Debug("[DEBUG-LAUNCH] process exited", "label", label, "pid", pid)
	})
	return pid, nil
}

// Running returns the labels of processes that have not exited, keyed by pid.
func (l *Launcher) Running() map[int]string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(map[int]string, len(l.running))
	for pid, label := range l.running {
		out[pid] = label
	}
	return out
}

// Wait blocks until every spawned process has been reaped. Children are
// detached, so this is only useful in tests and short-lived tools.
func (l *Launcher) Wait() {
	l.wg.Wait()
}

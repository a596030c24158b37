// Package singleinstance keeps one daemon per user session with an advisory
// flock on a file under the runtime directory. The kernel drops the lock
// when the owning process exits, so a crashed daemon never blocks a restart.
package singleinstance

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

// ErrAlreadyRunning is returned by TryLock when another instance holds the lock.
var ErrAlreadyRunning = errors.New("another instance is already running")

var flockFn = unix.Flock

// Lock holds the locked file open for the daemon's lifetime.
type Lock struct {
	file *os.File
	path string
}

// TryLock acquires an exclusive non-blocking lock on path, creating it and
// its directory when missing. The owner's pid is written into the file for
// diagnostics.
func TryLock(path string) (*Lock, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("lock path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create lock dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open lock %q: %w", path, err)
	}
	if err := flockFn(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		_ = f.Close()
		if errors.Is(err, unix.EWOULDBLOCK) {
			return nil, ErrAlreadyRunning
		}
		return nil, fmt.Errorf("flock %q: %w", path, err)
	}
	if err := f.Truncate(0); err == nil {
		_, _ = f.WriteAt([]byte(strconv.Itoa(os.Getpid())+"\n"), 0)
	}
	return &Lock{file: f, path: path}, nil
}

// Path returns the lock file path.
func (l *Lock) Path() string {
	if l == nil {
		return ""
	}
	return l.path
}

// Release unlocks and closes the file. Safe on a nil receiver and idempotent.
// The file itself is left in place; removing it would race a new owner.
func (l *Lock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	unlockErr := flockFn(int(l.file.Fd()), unix.LOCK_UN)
	closeErr := l.file.Close()
	l.file = nil
	return errors.Join(unlockErr, closeErr)
}

// DefaultPath returns $XDG_RUNTIME_DIR/policyd/policyd.lock, falling back to
// a per-uid directory under the temp dir.
func DefaultPath() string {
	dir := strings.TrimSpace(os.Getenv("XDG_RUNTIME_DIR"))
	if dir == "" {
		dir = filepath.Join(os.TempDir(), "policyd-"+strconv.Itoa(os.Getuid()))
	} else {
		dir = filepath.Join(dir, "policyd")
	}
	return filepath.Join(dir, "policyd.lock")
}

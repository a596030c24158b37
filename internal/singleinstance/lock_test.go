package singleinstance

import (
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"golang.org/x/sys/unix"
)

func TestTryLockExcludesSecondHolder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run", "policyd.lock")

	first, err := TryLock(path)
	if err != nil {
		t.Fatalf("TryLock() error = %v", err)
	}
	if _, err := TryLock(path); !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("second TryLock() error = %v, want ErrAlreadyRunning", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if got := strings.TrimSpace(string(raw)); got != strconv.Itoa(os.Getpid()) {
		t.Fatalf("lock file content = %q, want pid", got)
	}

	if err := first.Release(); err != nil {
		t.Fatalf("Release() error = %v", err)
	}
	if err := first.Release(); err != nil {
		t.Fatalf("second Release() error = %v", err)
	}

	again, err := TryLock(path)
	if err != nil {
		t.Fatalf("TryLock() after release error = %v", err)
	}
	defer again.Release()
	if again.Path() != path {
		t.Fatalf("Path() = %q, want %q", again.Path(), path)
	}
}

func TestTryLockRequiresPath(t *testing.T) {
	if _, err := TryLock(" "); err == nil {
		t.Fatal("TryLock(empty) error = nil")
	}
}

func TestTryLockReportsOtherFlockErrors(t *testing.T) {
	orig := flockFn
	flockFn = func(int, int) error { return unix.ENOLCK }
	t.Cleanup(func() { flockFn = orig })

	_, err := TryLock(filepath.Join(t.TempDir(), "policyd.lock"))
	if err == nil || errors.Is(err, ErrAlreadyRunning) || !errors.Is(err, unix.ENOLCK) {
		t.Fatalf("TryLock() error = %v, want wrapped ENOLCK", err)
	}
}

func TestReleaseNilLock(t *testing.T) {
	var l *Lock
	if err := l.Release(); err != nil {
		t.Fatalf("nil Release() error = %v", err)
	}
	if l.Path() != "" {
		t.Fatal("nil Path() not empty")
	}
}

func TestDefaultPath(t *testing.T) {
	t.Setenv("XDG_RUNTIME_DIR", "/run/user/1000")
	if got, want := DefaultPath(), filepath.Join("/run/user/1000", "policyd", "policyd.lock"); got != want {
		t.Fatalf("DefaultPath() = %q, want %q", got, want)
	}
	t.Setenv("XDG_RUNTIME_DIR", "")
	if got := DefaultPath(); !strings.HasPrefix(got, os.TempDir()) {
		t.Fatalf("DefaultPath() = %q, want temp dir fallback", got)
	}
}

package main

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"policyd/internal/host"
	"policyd/internal/host/memhost"
	"policyd/internal/singleinstance"
	"policyd/internal/testutil"
)

func TestParseFlags(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		want    cliFlags
		wantErr bool
	}{
		{name: "defaults", args: nil, want: cliFlags{}},
		{name: "short config", args: []string{"-c", "/tmp/p.yaml"}, want: cliFlags{configPath: "/tmp/p.yaml"}},
		{name: "long flags", args: []string{"--config=/etc/p.yaml", "--dry-run", "--log-level", "debug"}, want: cliFlags{configPath: "/etc/p.yaml", dryRun: true, logLevel: "debug"}},
		{name: "version", args: []string{"--version"}, want: cliFlags{version: true}},
		{name: "unknown flag", args: []string{"--bogus"}, wantErr: true},
		{name: "positional argument", args: []string{"extra"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseFlags(tt.args, &bytes.Buffer{})
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseFlags() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("parseFlags() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestRunVersion(t *testing.T) {
	var stdout bytes.Buffer
	if code := run(context.Background(), []string{"--version"}, &stdout, &bytes.Buffer{}); code != exitOK {
		t.Fatalf("exit code = %d", code)
	}
	if got := stdout.String(); got != "policyd dev\n" {
		t.Errorf("stdout = %q", got)
	}
}

func TestRunUsageError(t *testing.T) {
	var stderr bytes.Buffer
	if code := run(context.Background(), []string{"--bogus"}, &bytes.Buffer{}, &stderr); code != exitUsage {
		t.Fatalf("exit code = %d, want %d", code, exitUsage)
	}
	if !strings.Contains(stderr.String(), "bogus") {
		t.Errorf("stderr = %q", stderr.String())
	}
}

func TestRunHelp(t *testing.T) {
	var stderr bytes.Buffer
	if code := run(context.Background(), []string{"--help"}, &bytes.Buffer{}, &stderr); code != exitOK {
		t.Fatalf("exit code = %d", code)
	}
	if !strings.Contains(stderr.String(), "--dry-run") {
		t.Errorf("usage missing flags: %q", stderr.String())
	}
}

// isolateRun points every path run touches into a temp dir and restores the
// default logger afterwards.
func isolateRun(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(dir, "config"))
	t.Setenv("XDG_RUNTIME_DIR", filepath.Join(dir, "run"))
	t.Setenv("POLICYD_STATUS_ADDR", "off")
	testutil.CaptureLogBuffer(t, slog.LevelInfo)
	stubAggregator(t)
	return dir
}

func TestRunDryRun(t *testing.T) {
	dir := isolateRun(t)
	path := filepath.Join(dir, "policyd.yaml")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var stderr bytes.Buffer
	if code := run(ctx, []string{"--dry-run", "--config", path}, &bytes.Buffer{}, &stderr); code != exitOK {
		t.Fatalf("exit code = %d, stderr = %s", code, stderr.String())
	}
	if !strings.Contains(stderr.String(), "[DRY-RUN] host call") {
		t.Errorf("host calls not logged: %s", stderr.String())
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("dry run wrote a config file: %v", err)
	}
}

func TestRunCreatesConfigAndStopsWithHost(t *testing.T) {
	dir := isolateRun(t)
	path := filepath.Join(dir, "policyd.yaml")

	origLock, origDial := tryLockFn, dialHostFn
	t.Cleanup(func() { tryLockFn, dialHostFn = origLock, origDial })
	tryLockFn = func(string) (*singleinstance.Lock, error) { return nil, nil }

	h := memhost.New()
	done := make(chan struct{})
	var dialedSocket string
	dialHostFn = func(_ context.Context, socket string, _ time.Duration) (host.Host, <-chan struct{}, func() error, error) {
		dialedSocket = socket
		close(done)
		return h, done, func() error { return nil }, nil
	}
	t.Setenv("POLICYD_HOST_SOCKET", "/run/test/host.sock")

	var stderr bytes.Buffer
	if code := run(context.Background(), []string{"--config", path}, &bytes.Buffer{}, &stderr); code != exitOK {
		t.Fatalf("exit code = %d, stderr = %s", code, stderr.String())
	}
	if dialedSocket != "/run/test/host.sock" {
		t.Errorf("dialed %q", dialedSocket)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("default config not written: %v", err)
	}
	if len(h.Statuses()) == 0 {
		t.Error("no status published before the host went away")
	}
}

func TestRunHostUnavailable(t *testing.T) {
	dir := isolateRun(t)

	origLock, origDial := tryLockFn, dialHostFn
	t.Cleanup(func() { tryLockFn, dialHostFn = origLock, origDial })
	tryLockFn = func(string) (*singleinstance.Lock, error) { return nil, nil }
	dialHostFn = func(context.Context, string, time.Duration) (host.Host, <-chan struct{}, func() error, error) {
		return nil, nil, nil, errors.New("dial unix /run/host.sock: connection refused")
	}

	var stderr bytes.Buffer
	code := run(context.Background(), []string{"--config", filepath.Join(dir, "p.yaml")}, &bytes.Buffer{}, &stderr)
	if code != exitError {
		t.Fatalf("exit code = %d, want %d", code, exitError)
	}
	if !strings.Contains(stderr.String(), "connection refused") {
		t.Errorf("stderr = %q", stderr.String())
	}
}

func TestRunAlreadyRunning(t *testing.T) {
	dir := isolateRun(t)

	origLock, origDial := tryLockFn, dialHostFn
	t.Cleanup(func() { tryLockFn, dialHostFn = origLock, origDial })
	tryLockFn = func(string) (*singleinstance.Lock, error) { return nil, singleinstance.ErrAlreadyRunning }
	dialHostFn = func(context.Context, string, time.Duration) (host.Host, <-chan struct{}, func() error, error) {
		t.Fatal("dialed the host while another instance holds the lock")
		return nil, nil, nil, nil
	}

	var stderr bytes.Buffer
	code := run(context.Background(), []string{"--config", filepath.Join(dir, "p.yaml")}, &bytes.Buffer{}, &stderr)
	if code != exitError {
		t.Fatalf("exit code = %d, want %d", code, exitError)
	}
	if !strings.Contains(stderr.String(), "already running") {
		t.Errorf("stderr = %q", stderr.String())
	}
}

func TestLoadStartupConfigFallsBackToDefaults(t *testing.T) {
	t.Setenv("POLICYD_LOG_LEVEL", "debug")
	path := filepath.Join(t.TempDir(), "broken.yaml")
	if err := os.WriteFile(path, []byte("seats: [unterminated\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := loadStartupConfig(path, true)
	if err == nil {
		t.Fatal("parse error not reported")
	}
	if len(cfg.Seats) != 1 || cfg.Seats[0] != "default" {
		t.Errorf("Seats = %v, want defaults", cfg.Seats)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("environment not applied to fallback config: level %q", cfg.Log.Level)
	}
}

func TestDryRunHostSeed(t *testing.T) {
	testutil.CaptureLogBuffer(t, slog.LevelInfo)
	h := newDryRunHost()
	if _, ok := h.Device(1); !ok {
		t.Error("keyboard missing")
	}
	if c, ok := h.Connector("eDP-1"); !ok || !c.Connected {
		t.Errorf("eDP-1 = %+v, %t", c, ok)
	}
}

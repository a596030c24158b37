package launcher

import (
	"errors"
	"os/exec"
	"strings"
	"syscall"
	"testing"
)

func stubProcess(t *testing.T, startErr error) *[]*exec.Cmd {
	t.Helper()
	var started []*exec.Cmd
	origStart, origWait := startProcessFn, waitProcessFn
	startProcessFn = func(cmd *exec.Cmd) error {
		if startErr != nil {
			return startErr
		}
		started = append(started, cmd)
		return nil
	}
	waitProcessFn = func(*exec.Cmd) error { return nil }
	t.Cleanup(func() {
		startProcessFn = origStart
		waitProcessFn = origWait
	})
	return &started
}

func TestDetachSetsSession(t *testing.T) {
	cmd := exec.Command("true")
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	Detach(cmd)
	if !cmd.SysProcAttr.Setsid {
		t.Fatal("Setsid = false after Detach")
	}
	if !cmd.SysProcAttr.Setpgid {
		t.Fatal("Detach dropped existing Setpgid")
	}
	Detach(nil)
}

func TestSpawnExpandsArguments(t *testing.T) {
	started := stubProcess(t, nil)
	t.Setenv("HOME", "/home/tester")
	t.Setenv("POLICYD_TEST_FLAVOR", "dark")

	l := New("POLICYD_CHILD=1")
	if _, err := l.Spawn("book", []string{"~/.config/river/book.nu", "--theme", "$POLICYD_TEST_FLAVOR", "plain"}); err != nil {
		t.Fatalf("Spawn() error = %v", err)
	}
	l.Wait()

	if len(*started) != 1 {
		t.Fatalf("started = %d, want 1", len(*started))
	}
	cmd := (*started)[0]
	want := []string{"/home/tester/.config/river/book.nu", "--theme", "dark", "plain"}
	if strings.Join(cmd.Args, " ") != strings.Join(want, " ") {
		t.Fatalf("args = %v, want %v", cmd.Args, want)
	}
	if cmd.SysProcAttr == nil || !cmd.SysProcAttr.Setsid {
		t.Fatal("spawned command is not detached")
	}
	if len(cmd.Env) == 0 || cmd.Env[len(cmd.Env)-1] != "POLICYD_CHILD=1" {
		t.Fatalf("env tail = %v, want POLICYD_CHILD=1", cmd.Env)
	}
}

func TestSpawnRejectsEmptyCommand(t *testing.T) {
	stubProcess(t, nil)
	l := New()
	for _, argv := range [][]string{nil, {""}, {"  "}} {
		if _, err := l.Spawn("empty", argv); !errors.Is(err, ErrEmptyCommand) {
			t.Fatalf("Spawn(%q) error = %v, want ErrEmptyCommand", argv, err)
		}
	}
}

func TestSpawnReportsStartFailure(t *testing.T) {
	stubProcess(t, exec.ErrNotFound)
	l := New()
	_, err := l.Spawn("polkit-agent", []string{"missing-agent"})
	if !errors.Is(err, exec.ErrNotFound) || !strings.Contains(err.Error(), "polkit-agent") {
		t.Fatalf("Spawn() error = %v, want wrapped ErrNotFound naming the label", err)
	}
	if running := l.Running(); len(running) != 0 {
		t.Fatalf("Running() = %v after failed start", running)
	}
}

func TestSpawnReapsRealProcess(t *testing.T) {
	path, err := exec.LookPath("true")
	if err != nil {
		t.Skip("true not available")
	}
	l := New()
	pid, err := l.Spawn("true", []string{path})
	if err != nil {
		t.Fatalf("Spawn() error = %v", err)
	}
	if pid <= 0 {
		t.Fatalf("pid = %d", pid)
	}
	l.Wait()
	if running := l.Running(); len(running) != 0 {
		t.Fatalf("Running() = %v after Wait", running)
	}
}

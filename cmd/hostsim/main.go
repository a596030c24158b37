// Command hostsim serves an in-memory compositor on the policyd host socket.
// It reads simulation commands from stdin (press a chord, plug a device,
// connect a display) so the daemon can be exercised without a compositor.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/pflag"

	"policyd/internal/config"
	"policyd/internal/host"
	"policyd/internal/host/memhost"
	"policyd/internal/ipc"
	"policyd/internal/logging"
)

const (
	exitOK    = 0
	exitError = 1
	exitUsage = 2
)

type cliFlags struct {
	socket   string
	logLevel string
	quiet    bool
}

func parseFlags(args []string, stderr io.Writer) (cliFlags, error) {
	var f cliFlags
	flags := pflag.NewFlagSet("hostsim", pflag.ContinueOnError)
	flags.SetOutput(stderr)
	flags.StringVar(&f.socket, "socket", config.DefaultHostSocket(), "unix socket to serve the host protocol on")
	flags.StringVar(&f.logLevel, "log-level", "info", "log level: debug, info, warn, error")
	flags.BoolVarP(&f.quiet, "quiet", "q", false, "do not log every host call")
	if err := flags.Parse(args); err != nil {
		return f, err
	}
	if flags.NArg() > 0 {
		return f, fmt.Errorf("unexpected arguments: %s", strings.Join(flags.Args(), " "))
	}
	return f, nil
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr)
	cancel()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	flags, err := parseFlags(args, stderr)
	if errors.Is(err, pflag.ErrHelp) {
		return exitOK
	}
	if err != nil {
		fmt.Fprintf(stderr, "hostsim: %v\n", err)
		return exitUsage
	}
	logger, closer, err := logging.New(logging.Options{Level: flags.logLevel, Stderr: stderr})
	if err != nil {
		fmt.Fprintf(stderr, "hostsim: %v\n", err)
		return exitUsage
	}
	defer closer.Close()
	slog.SetDefault(logger)

	h := newSimHost()
	h.LogCalls(!flags.quiet)
	server := ipc.NewServer(flags.socket, h)
	if err := server.Start(); err != nil {
		fmt.Fprintf(stderr, "hostsim: %v\n", err)
		return exitError
	}
	defer func() {
		if stopErr := server.Stop(); stopErr != nil {
			slog.Warn("[DEBUG-SIM] server stop failed", "error", stopErr)
		}
	}()
	fmt.Fprintf(stdout, "hostsim listening on %s\n", server.Socket())

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(stdin)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return exitOK
		case line, ok := <-lines:
			if !ok {
				return exitOK
			}
			err := execute(h, line, stdout)
			if errors.Is(err, errExit) {
				return exitOK
			}
			if err != nil {
				fmt.Fprintf(stdout, "error: %v\n", err)
			}
		}
	}
}

// newSimHost seeds the simulator with a keyboard, a touchpad and a laptop
// panel, the same hardware --dry-run starts with.
func newSimHost() *memhost.Host {
	h := memhost.New()
	h.AddDevice(host.InputDevice{ID: 1, Name: "sim keyboard", Capabilities: host.CapKeyboard, Seat: "default"})
	h.AddDevice(host.InputDevice{ID: 2, Name: "sim touchpad", Capabilities: host.CapPointer | host.CapGesture, Seat: "default"})
	h.AddConnector(host.Connector{Name: "eDP-1", Connected: true})
	h.AddGraphicsDevice(host.GraphicsDevice{ID: 1, Syspath: "/sys/devices/sim/drm/card0", Vendor: "sim", Model: "virtual", Connectors: []string{"eDP-1"}})
	return h
}

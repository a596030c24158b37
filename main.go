// Command policyd is a runtime policy daemon for a compositor host. It maps
// key chords and hardware hot-plug to compositor actions and republishes a
// status line on a wall-clock aligned cadence.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"policyd/internal/config"
	"policyd/internal/host"
	"policyd/internal/host/memhost"
	"policyd/internal/ipc"
	"policyd/internal/logging"
	"policyd/internal/singleinstance"
)

var version = "dev"

const (
	exitOK    = 0
	exitError = 1
	exitUsage = 2
)

var (
	dialHostFn = func(ctx context.Context, socket string, timeout time.Duration) (host.Host, <-chan struct{}, func() error, error) {
		client, err := ipc.Dial(ctx, socket, timeout)
		if err != nil {
			return nil, nil, nil, err
		}
		return client, client.Done(), client.Disconnect, nil
	}
	tryLockFn = singleinstance.TryLock
)

type cliFlags struct {
	configPath string
	dryRun     bool
	logLevel   string
	version    bool
}

func parseFlags(args []string, stderr io.Writer) (cliFlags, error) {
	var f cliFlags
	flags := pflag.NewFlagSet("policyd", pflag.ContinueOnError)
	flags.SetOutput(stderr)
	flags.StringVarP(&f.configPath, "config", "c", "", "config file path (default $XDG_CONFIG_HOME/policyd/config.yaml)")
	flags.BoolVar(&f.dryRun, "dry-run", false, "run against an in-memory host and log every host call")
	flags.StringVar(&f.logLevel, "log-level", "", "override log level: debug, info, warn, error")
	flags.BoolVar(&f.version, "version", false, "print version and exit")
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
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	cancel()
	os.Exit(code)
}

// run is main without the process exit, returning the exit code.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	flags, err := parseFlags(args, stderr)
	if errors.Is(err, pflag.ErrHelp) {
		return exitOK
	}
	if err != nil {
		fmt.Fprintf(stderr, "policyd: %v\n", err)
		return exitUsage
	}
	if flags.version {
		fmt.Fprintf(stdout, "policyd %s\n", version)
		return exitOK
	}

	configPath := flags.configPath
	if configPath == "" {
		configPath = config.DefaultPath()
	}
	cfg, loadErr := loadStartupConfig(configPath, flags.dryRun)
	if flags.logLevel != "" {
		cfg.Log.Level = flags.logLevel
	}

	warnings := &warningRelay{}
	logger, logCloser, err := logging.New(logging.Options{
		Level:    cfg.Log.Level,
		Format:   cfg.Log.Format,
		File:     cfg.Log.File,
		Stderr:   stderr,
		Warnings: warnings.forward,
	})
	if err != nil {
		fmt.Fprintf(stderr, "policyd: logging: %v\n", err)
		return exitUsage
	}
	defer logCloser.Close()
	slog.SetDefault(logger)
	if loadErr != nil {
		// Config load/parse failures are non-fatal: run with defaults.
		slog.Warn("[WARN-CONFIG] failed to load config, running with defaults", "path", configPath, "error", loadErr)
	}

	if !flags.dryRun {
		lock, err := tryLockFn(singleinstance.DefaultPath())
		if errors.Is(err, singleinstance.ErrAlreadyRunning) {
			fmt.Fprintln(stderr, "policyd: another instance is already running")
			return exitError
		}
		if err != nil {
			slog.Warn("[DEBUG-SINGLE] lock failed, proceeding without single-instance guard", "error", err)
		}
		if lock != nil {
			defer func() {
				if releaseErr := lock.Release(); releaseErr != nil {
					slog.Warn("[DEBUG-SINGLE] lock release failed", "error", releaseErr)
				}
			}()
		}
	}

	opts := appOptions{configPath: configPath, config: cfg, warnings: warnings, dryRun: flags.dryRun}
	if flags.dryRun {
		opts.host = newDryRunHost()
	} else {
		socket := cfg.Host.Socket
		if socket == "" {
			socket = config.DefaultHostSocket()
		}
		h, done, disconnect, err := dialHostFn(ctx, socket, cfg.Host.RequestTimeout)
		if err != nil {
			slog.Error("[DEBUG-APP] cannot connect to host", "socket", socket, "error", err)
			fmt.Fprintf(stderr, "policyd: %v\n", err)
			return exitError
		}
		defer disconnect()
		opts.host, opts.hostDone = h, done
	}

	app := NewApp(opts)
	if err := app.Run(ctx); err != nil {
		slog.Error("[DEBUG-APP] policyd exited with error", "error", err)
		fmt.Fprintf(stderr, "policyd: %v\n", err)
		return exitError
	}
	return exitOK
}

// loadStartupConfig loads the file and environment overrides. Outside
// dry-run a missing file is created with the defaults. On error the
// returned config is the defaults with the environment still applied.
func loadStartupConfig(path string, dryRun bool) (config.Config, error) {
	load := config.EnsureFile
	if dryRun {
		load = config.Load
	}
	cfg, loadErr := load(path)
	if loadErr != nil {
		cfg = config.DefaultConfig()
	}
	overrides, err := config.LoadOverrides()
	if err != nil {
		return cfg, errors.Join(loadErr, err)
	}
	overrides.Apply(&cfg)
	return cfg, loadErr
}

// newDryRunHost seeds an in-memory host with one keyboard, one pointer and
// a connected laptop panel, and logs every command sent to it.
func newDryRunHost() *memhost.Host {
	h := memhost.New()
	h.AddDevice(host.InputDevice{ID: 1, Name: "dry-run keyboard", Capabilities: host.CapKeyboard, Seat: "default"})
	h.AddDevice(host.InputDevice{ID: 2, Name: "dry-run touchpad", Capabilities: host.CapPointer | host.CapGesture, Seat: "default"})
	h.AddConnector(host.Connector{Name: "eDP-1", Connected: true})
	h.LogCalls(true)
	return h
}

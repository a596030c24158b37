package main

import (
	"context"
	"log/slog"
	"sync"

	"policyd/internal/bindings"
	"policyd/internal/clock"
	"policyd/internal/config"
	"policyd/internal/eventloop"
	"policyd/internal/grab"
	"policyd/internal/host"
	"policyd/internal/keys"
	"policyd/internal/launcher"
	"policyd/internal/outputs"
	"policyd/internal/status"
	"policyd/internal/statushub"
)

// App wires the policy engines to one host connection.
//
// Threading: everything below the loop field is owned by the event loop
// goroutine once Run starts. Before that, startup runs on the caller's
// goroutine while the loop only queues work, so the same single-owner rule
// holds. Transports, timers and the config watcher only Post.
type App struct {
	configPath string
	host       host.Host
	// hostDone closes when the host connection is gone. nil for hosts that
	// never disconnect.
	hostDone <-chan struct{}

	loop *eventloop.Loop

	cfg        config.Config
	table      *bindings.Table
	seats      map[host.SeatName]*seatContext
	arranger   *outputs.Arranger
	aggregator *status.Aggregator

	// statusTimer is the repeating status tick; stopped in shutdown.
	statusTimer *eventloop.Timer
	hub         *statushub.Hub
	warnings    *warningRelay

	// graphicsStarted makes the graphics-initialized hook one-shot.
	graphicsStarted bool

	// spawnFn starts one process. Replaced by a logging stub in --dry-run.
	spawnFn  func(label string, argv []string) error
	launcher *launcher.Launcher

	// Background worker cancellation/waits.
	ctx    context.Context
	cancel context.CancelFunc
	bgWG   sync.WaitGroup
}

// seatContext is the per-seat state: its binding registry, grab toggle and
// hardware cursor flag.
type seatContext struct {
	name           host.SeatName
	registry       *bindings.Registry
	grab           *grab.Toggle
	hardwareCursor bool
}

// appOptions are the collaborators main hands to the app.
type appOptions struct {
	configPath string
	config     config.Config
	host       host.Host
	hostDone   <-chan struct{}
	clock      clock.Clock
	warnings   *warningRelay
	dryRun     bool
}

// NewApp builds an app around an already-connected host. Nothing is sent to
// the host until startup.
func NewApp(opts appOptions) *App {
	warnings := opts.warnings
	if warnings == nil {
		warnings = &warningRelay{}
	}
	a := &App{
		configPath: opts.configPath,
		host:       opts.host,
		hostDone:   opts.hostDone,
		loop:       eventloop.New(opts.clock),
		cfg:        opts.config,
		table:      bindings.NewTable(opts.host),
		seats:      make(map[host.SeatName]*seatContext),
		arranger:   outputs.NewArranger(opts.host, opts.config.Outputs.Priority),
		warnings:   warnings,
		launcher:   launcher.New(),
	}
	a.ctx, a.cancel = context.WithCancel(context.Background())
	if opts.dryRun {
		a.spawnFn = func(label string, argv []string) error {
			slog.Info("[DRY-RUN] spawn", "label", label, "argv", argv)
			return nil
		}
	} else {
		a.spawnFn = func(label string, argv []string) error {
			_, err := a.launcher.Spawn(label, argv)
			return err
		}
	}
	return a
}

// seat returns the context for name, creating its registry and grab toggle
// on first use. The toggle is not installed here.
func (a *App) seat(name host.SeatName) *seatContext {
	if sc, ok := a.seats[name]; ok {
		return sc
	}
	registry := a.table.Seat(name)
	enter, exit := a.grabChords()
	sc := &seatContext{
		name:           name,
		registry:       registry,
		grab:           grab.New(registry, a.host, enter, exit),
		hardwareCursor: a.cfg.HardwareCursor,
	}
	a.seats[name] = sc
	return sc
}

// configuredSeats returns the seat names from the config, in order.
func (a *App) configuredSeats() []host.SeatName {
	out := make([]host.SeatName, 0, len(a.cfg.Seats))
	for _, name := range a.cfg.Seats {
		out = append(out, host.SeatName(name))
	}
	return out
}

// grabChords resolves the grab chords. Normalization already guaranteed they
// parse and differ; a failure here means an unnormalized config and falls
// back to the defaults.
func (a *App) grabChords() (enter, exit keys.Chord) {
	var err error
	if enter, err = a.cfg.Chord(a.cfg.Grab.Enter); err == nil {
		if exit, err = a.cfg.Chord(a.cfg.Grab.Exit); err == nil && exit != enter {
			return enter, exit
		}
	}
	defaults := config.DefaultConfig()
	slog.Warn("[WARN-GRAB] invalid grab chords, using defaults", "enter", a.cfg.Grab.Enter, "exit", a.cfg.Grab.Exit)
	enter, _ = a.cfg.Chord(defaults.Grab.Enter)
	exit, _ = a.cfg.Chord(defaults.Grab.Exit)
	return enter, exit
}

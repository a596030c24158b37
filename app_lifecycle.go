package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"policyd/internal/config"
	"policyd/internal/eventloop"
	"policyd/internal/host"
	"policyd/internal/status"
	"policyd/internal/statushub"
)

var (
	openAggregatorFn = status.Open
	newHubFn         = statushub.NewHub
	newWatcherFn     = config.NewWatcher
)

const shutdownWaitTimeout = 5 * time.Second

// errSetup marks failures that abort startup. main exits non-zero on them.
var errSetup = errors.New("setup failed")

// startup subscribes to the host, installs per-seat policy, configures
// devices and starts the status aggregator. Host commands issued here are
// best effort; only a failed subscription or status acquisition is fatal.
func (a *App) startup() error {
	if err := a.host.Subscribe(a.ctx, a.postEvent, host.AllEventKinds...); err != nil {
		return fmt.Errorf("%w: subscribe to host events: %w", errSetup, err)
	}

	for _, name := range a.configuredSeats() {
		sc := a.seat(name)
		a.installBindings(sc)
		a.applyHardwareCursor(sc)
	}
	a.configureExistingDevices()
	// Connectors present before the subscription never produce an event.
	a.arranger.Trigger(a.ctx, "startup")

	sink := a.startStatusHub()
	aggregator, err := openAggregatorFn(sink, a.loop.Clock(), a.statusOptions())
	if err != nil {
		return fmt.Errorf("%w: %w", errSetup, err)
	}
	timer, err := aggregator.Start(a.loop)
	if err != nil {
		return fmt.Errorf("%w: %w", errSetup, err)
	}
	a.aggregator = aggregator
	a.statusTimer = timer

	a.startConfigWatcher()
	a.watchHostConnection()
	slog.Info("[DEBUG-APP] policyd started", "seats", a.cfg.Seats, "battery", aggregator.BatteryEnabled(), "period", aggregator.Period())
	return nil
}

func (a *App) statusOptions() status.Options {
	return status.Options{
		Period:          a.cfg.Status.Period,
		Formatter:       status.Formatter{Separator: a.cfg.Status.Separator, TimeFormat: a.cfg.Status.TimeFormat},
		ProcRoot:        a.cfg.Status.ProcRoot,
		PowerSupplyRoot: a.cfg.Status.PowerSupplyRoot,
		DisableBattery:  !a.cfg.Status.Battery,
	}
}

// startStatusHub starts the websocket hub when an address is configured
// and returns the sink status lines go to. A hub that fails to listen is
// logged and skipped; the host status still works.
func (a *App) startStatusHub() status.Sink {
	hostSink := status.SinkFunc(func(line string) {
		if err := a.host.SetStatus(a.ctx, line); err != nil {
			slog.Warn("[WARN-STATUS] host rejected status line", "error", err)
		}
	})
	if a.cfg.Status.Addr == "" {
		return hostSink
	}
	hub := newHubFn(statushub.Options{Addr: a.cfg.Status.Addr, ForwardWarnings: true})
	if err := hub.Start(a.ctx); err != nil {
		slog.Warn("[WARN-STATUS] status hub disabled", "addr", a.cfg.Status.Addr, "error", err)
		return hostSink
	}
	a.hub = hub
	a.warnings.set(hub.Warn)
	return status.MultiSink{hostSink, hub}
}

// startConfigWatcher posts a reload into the loop whenever the config file
// changes.
func (a *App) startConfigWatcher() {
	if !a.cfg.Watch || a.configPath == "" {
		return
	}
	watcher, err := newWatcherFn(a.configPath, config.DefaultWatchDebounce, func() {
		if err := a.loop.Post("config-reload", func() { a.reloadConfig("file changed") }); err != nil {
			slog.Debug("[DEBUG-CONFIG] reload dropped after shutdown", "error", err)
		}
	})
	if err != nil {
		slog.Warn("[WARN-CONFIG] config watcher disabled", "path", a.configPath, "error", err)
		return
	}
	eventloop.Go(a.ctx, "config-watcher", &a.bgWG, func(ctx context.Context) {
		defer watcher.Close()
		if err := watcher.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			slog.Warn("[WARN-CONFIG] config watcher stopped", "error", err)
		}
	}, eventloop.RecoveryOptions{})
}

// watchHostConnection stops the daemon when the host goes away.
func (a *App) watchHostConnection() {
	if a.hostDone == nil {
		return
	}
	done := a.hostDone
	a.bgWG.Go(func() {
		select {
		case <-done:
			slog.Info("[DEBUG-APP] host connection closed, stopping")
			a.stop()
		case <-a.ctx.Done():
		}
	})
}

// Run starts the app and dispatches the loop until ctx ends, the host
// disconnects or quit is requested.
func (a *App) Run(ctx context.Context) error {
	if err := a.startup(); err != nil {
		a.shutdown()
		return err
	}
	stop := context.AfterFunc(ctx, a.stop)
	defer stop()

	err := a.loop.Run(ctx)
	a.shutdown()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// stop ends the loop. Safe from any goroutine and idempotent.
func (a *App) stop() {
	a.loop.Close()
}

// shutdown stops the timers, background workers and status hub.
func (a *App) shutdown() {
	if a.statusTimer != nil {
		a.statusTimer.Stop()
	}
	a.loop.Close()
	a.cancel()
	a.warnings.set(nil)

	done := make(chan struct{})
	go func() {
		a.bgWG.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(shutdownWaitTimeout):
		slog.Warn("[DEBUG-APP] background workers did not stop in time", "timeout", shutdownWaitTimeout)
	}

	if a.hub != nil {
		if err := a.hub.Stop(); err != nil {
			slog.Warn("[DEBUG-APP] status hub stop failed", "error", err)
		}
	}
	// Spawned processes are detached and outlive the daemon.
	slog.Info("[DEBUG-APP] policyd stopped", "children", len(a.launcher.Running()))
}

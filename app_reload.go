package main

import (
	"log/slog"
	"slices"

	"policyd/internal/config"
	"policyd/internal/host"
)

// loadConfigFn is a test seam for reload.
var loadConfigFn = config.LoadWithEnv

// reloadConfig re-reads the config file and applies it. A file that fails to
// load leaves the running config untouched.
func (a *App) reloadConfig(reason string) {
	if a.configPath == "" {
		slog.Debug("[DEBUG-CONFIG] reload skipped, no config path", "reason", reason)
		return
	}
	cfg, err := loadConfigFn(a.configPath)
	if err != nil {
		slog.Warn("[WARN-CONFIG] reload failed, keeping current config", "path", a.configPath, "reason", reason, "error", err)
		return
	}
	a.applyConfig(cfg)
	slog.Info("[DEBUG-CONFIG] config reloaded", "path", a.configPath, "reason", reason)
}

// applyConfig rebuilds every seat's bindings from cfg. Grab toggles keep
// their state and captured devices; seats dropped from the config lose
// their bindings and any grab. Output priority and device settings are
// reapplied. Status cadence and the hub address take effect on restart.
func (a *App) applyConfig(cfg config.Config) {
	old := a.cfg
	a.cfg = cfg

	if old.Status != cfg.Status {
		slog.Info("[DEBUG-CONFIG] status settings change applies after restart")
	}

	seats := a.configuredSeats()
	for _, name := range sortedSeatNames(a.seats) {
		if slices.Contains(seats, name) {
			continue
		}
		sc := a.seats[name]
		sc.grab.Exit()
		sc.registry.Clear()
		delete(a.seats, name)
		slog.Info("[DEBUG-CONFIG] seat removed", "seat", name)
	}

	enter, exit := a.grabChords()
	for _, name := range seats {
		sc, existed := a.seats[name]
		if !existed {
			sc = a.seat(name)
		} else {
			sc.registry.Clear()
			sc.grab.Rebind(enter, exit)
		}
		if old.HardwareCursor != cfg.HardwareCursor || !existed {
			sc.hardwareCursor = cfg.HardwareCursor
			a.applyHardwareCursor(sc)
		}
		// installBindings ends with grab.Install, which rebinds the chord
		// of the current grab state.
		a.installBindings(sc)
	}

	a.arranger.SetPriority(cfg.Outputs.Priority)
	a.arranger.Trigger(a.ctx, "config reload")
	a.configureExistingDevices()
}

func sortedSeatNames(seats map[host.SeatName]*seatContext) []host.SeatName {
	out := make([]host.SeatName, 0, len(seats))
	for name := range seats {
		out = append(out, name)
	}
	slices.Sort(out)
	return out
}

package main

import (
	"log/slog"
)

// onGraphicsInitialized launches the companion processes once, then logs
// the graphics devices and their connectors.
func (a *App) onGraphicsInitialized() {
	if a.graphicsStarted {
		slog.Debug("[DEBUG-APP] graphics initialized again, companions already started")
		return
	}
	a.graphicsStarted = true

	started := 0
	for _, c := range a.cfg.Startup {
		if len(c.Command) == 0 {
			continue
		}
		if err := a.spawnFn(c.Label(), c.Command); err != nil {
			slog.Warn("[WARN-LAUNCH] companion failed to start", "name", c.Label(), "error", err)
			continue
		}
		started++
	}
	slog.Info("[DEBUG-APP] companions started", "started", started, "configured", len(a.cfg.Startup))

	devices, err := a.host.GraphicsDevices(a.ctx)
	if err != nil {
		slog.Warn("[WARN-APP] failed to list graphics devices", "error", err)
		return
	}
	for _, device := range devices {
		slog.Info("[DEBUG-APP] graphics device",
			"id", device.ID,
			"syspath", device.Syspath,
			"vendor", device.Vendor,
			"model", device.Model,
			"connectors", device.Connectors,
		)
	}
}

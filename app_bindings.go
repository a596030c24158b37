package main

import (
	"context"
	"log/slog"
	"strconv"

	"policyd/internal/bindings"
	"policyd/internal/host"
	"policyd/internal/keys"
)

// seatAction builds the action for a named key-table entry on one seat.
type seatAction func(a *App, sc *seatContext) bindings.Action

// keyActions is the table of built-in actions addressable from the config
// keys map.
var keyActions = map[string]seatAction{
	"focus-left":             focusAction(host.Left),
	"focus-down":             focusAction(host.Down),
	"focus-up":               focusAction(host.Up),
	"focus-right":            focusAction(host.Right),
	"move-left":              moveAction(host.Left),
	"move-down":              moveAction(host.Down),
	"move-up":                moveAction(host.Up),
	"move-right":             moveAction(host.Right),
	"split-horizontal":       splitAction(host.Horizontal),
	"split-vertical":         splitAction(host.Vertical),
	"toggle-split":           toggleAction(host.ToggleSplit),
	"toggle-mono":            toggleAction(host.ToggleMono),
	"toggle-fullscreen":      toggleAction(host.ToggleFullscreen),
	"toggle-floating":        toggleAction(host.ToggleFloating),
	"focus-parent":           seatCommand("focus-parent", host.Windows.FocusParent),
	"close":                  seatCommand("close", host.Windows.Close),
	"quit":                   quitAction,
	"reload":                 reloadAction,
	"toggle-hardware-cursor": hardwareCursorAction,
}

// hostCommand wraps one host call as a registry action. Failures are logged
// here, at the dispatch boundary, and never propagate to the host.
func (a *App) hostCommand(name string, seat host.SeatName, call func(ctx context.Context) error) bindings.Action {
	return func() {
		if err := call(a.ctx); err != nil {
			slog.Warn("[WARN-ACTION] host command failed", "action", name, "seat", seat, "error", err)
		}
	}
}

func seatCommand(name string, call func(host.Windows, context.Context, host.SeatName) error) seatAction {
	return func(a *App, sc *seatContext) bindings.Action {
		return a.hostCommand(name, sc.name, func(ctx context.Context) error {
			return call(a.host, ctx, sc.name)
		})
	}
}

func focusAction(dir host.Direction) seatAction {
	return func(a *App, sc *seatContext) bindings.Action {
		return a.hostCommand("focus-"+dir.String(), sc.name, func(ctx context.Context) error {
			return a.host.Focus(ctx, sc.name, dir)
		})
	}
}

func moveAction(dir host.Direction) seatAction {
	return func(a *App, sc *seatContext) bindings.Action {
		return a.hostCommand("move-"+dir.String(), sc.name, func(ctx context.Context) error {
			return a.host.Move(ctx, sc.name, dir)
		})
	}
}

func splitAction(axis host.Axis) seatAction {
	return func(a *App, sc *seatContext) bindings.Action {
		return a.hostCommand("split-"+axis.String(), sc.name, func(ctx context.Context) error {
			return a.host.CreateSplit(ctx, sc.name, axis)
		})
	}
}

func toggleAction(toggle host.ContainerToggle) seatAction {
	return func(a *App, sc *seatContext) bindings.Action {
		return a.hostCommand("toggle-"+string(toggle), sc.name, func(ctx context.Context) error {
			return a.host.Toggle(ctx, sc.name, toggle)
		})
	}
}

func quitAction(a *App, sc *seatContext) bindings.Action {
	return func() {
		slog.Info("[DEBUG-APP] quit requested", "seat", sc.name)
		if err := a.host.Quit(a.ctx); err != nil {
			slog.Warn("[WARN-ACTION] host command failed", "action", "quit", "error", err)
			return
		}
		a.stop()
	}
}

func reloadAction(a *App, sc *seatContext) bindings.Action {
	return func() {
		a.reloadConfig("keybinding")
		if err := a.host.Reload(a.ctx); err != nil {
			slog.Warn("[WARN-ACTION] host command failed", "action", "reload", "seat", sc.name, "error", err)
		}
	}
}

func hardwareCursorAction(a *App, sc *seatContext) bindings.Action {
	return func() {
		sc.hardwareCursor = !sc.hardwareCursor
		slog.Info("[DEBUG-APP] hardware cursor toggled", "seat", sc.name, "enabled", sc.hardwareCursor)
		a.applyHardwareCursor(sc)
	}
}

func (a *App) applyHardwareCursor(sc *seatContext) {
	if err := a.host.UseHardwareCursor(a.ctx, sc.name, sc.hardwareCursor); err != nil {
		slog.Warn("[WARN-ACTION] host command failed", "action", "hardware-cursor", "seat", sc.name, "error", err)
	}
}

// installBindings binds the full default table on one seat: named key
// actions, spawn chords, workspaces, VT switching. The grab toggle installs
// last so its chord wins any collision.
func (a *App) installBindings(sc *seatContext) {
	primary := a.cfg.PrimaryModifier()

	for _, name := range sortedKeys(a.cfg.Keys) {
		spec := a.cfg.Keys[name]
		if spec == "" {
			continue
		}
		build, ok := keyActions[name]
		if !ok {
			slog.Warn("[WARN-BIND] unknown action in key table", "action", name)
			continue
		}
		chord, err := a.cfg.Chord(spec)
		if err != nil {
			slog.Warn("[WARN-BIND] skipping unparsable chord", "action", name, "chord", spec, "error", err)
			continue
		}
		sc.registry.Bind(chord, build(a, sc))
	}

	for _, spawn := range a.cfg.Spawn {
		chord, err := a.cfg.Chord(spawn.Chord)
		if err != nil {
			slog.Warn("[WARN-BIND] skipping unparsable spawn chord", "chord", spawn.Chord, "error", err)
			continue
		}
		sc.registry.Bind(chord, a.spawnAction(spawn.Command))
	}

	for n := 1; n <= a.cfg.Workspaces; n++ {
		sym, err := keys.DigitKey(n)
		if err != nil {
			break
		}
		workspace := strconv.Itoa(n)
		name := sc.name
		sc.registry.Bind(keys.NewChord(primary, sym), a.hostCommand("show-workspace", name, func(ctx context.Context) error {
			return a.host.ShowWorkspace(ctx, name, workspace)
		}))
		sc.registry.Bind(keys.NewChord(primary|keys.ModShift, sym), a.hostCommand("set-workspace", name, func(ctx context.Context) error {
			if err := a.host.SetWorkspace(ctx, name, workspace); err != nil {
				return err
			}
			return a.host.ShowWorkspace(ctx, name, workspace)
		}))
	}

	vtMods, err := keys.ParseModifiers(a.cfg.VTModifiers)
	if err != nil {
		slog.Warn("[WARN-BIND] invalid VT modifiers, VT bindings skipped", "modifiers", a.cfg.VTModifiers, "error", err)
	} else {
		for n := 1; n <= a.cfg.VTCount; n++ {
			sym, err := keys.FunctionKey(n)
			if err != nil {
				break
			}
			vt := n
			sc.registry.Bind(keys.NewChord(vtMods, sym), a.hostCommand("switch-vt", sc.name, func(ctx context.Context) error {
				return a.host.SwitchVT(ctx, vt)
			}))
		}
	}

	sc.grab.Install()
	slog.Debug("[DEBUG-BIND] seat bindings installed", "seat", sc.name, "chords", sc.registry.Len())
}

// spawnAction launches argv detached. The command is copied so a later
// reload cannot mutate it under a live binding.
func (a *App) spawnAction(argv []string) bindings.Action {
	command := append([]string(nil), argv...)
	return func() {
		if len(command) == 0 {
			return
		}
		if err := a.spawnFn(command[0], command); err != nil {
			slog.Warn("[WARN-LAUNCH] spawn failed", "command", command, "error", err)
		}
	}
}

package config

import (
	"fmt"
	"log/slog"
	"os"
	"slices"
	"strings"
	"time"

	"policyd/internal/keys"
)

// applyDefaultsAndValidate normalizes cfg in place and logs every warning.
// MUTATES: cfg is directly modified.
func applyDefaultsAndValidate(cfg *Config) {
	for _, warning := range Normalize(cfg) {
		slog.Warn("[WARN-CONFIG] " + warning)
	}
}

// Normalize fills defaults, trims values and drops invalid entries. It
// returns one human-readable warning per replaced or dropped value. Used by
// both Load and Save so that both see the same rules.
func Normalize(cfg *Config) []string {
	defaults := DefaultConfig()
	var warnings []string
	warnf := func(format string, args ...any) {
		warnings = append(warnings, fmt.Sprintf(format, args...))
	}

	cfg.Modifier = strings.TrimSpace(cfg.Modifier)
	if mods, err := keys.ParseModifiers(cfg.Modifier); err != nil || mods == 0 {
		if cfg.Modifier != "" {
			warnf("invalid modifier %q, using %s", cfg.Modifier, defaults.Modifier)
		}
		cfg.Modifier = defaults.Modifier
	}
	primary := cfg.PrimaryModifier()

	cfg.Seats = normalizeNames(cfg.Seats)
	if len(cfg.Seats) == 0 {
		cfg.Seats = defaults.Seats
	}

	if cfg.Keys == nil {
		cfg.Keys = map[string]string{}
	}
	for action, spec := range cfg.Keys {
		trimmed := strings.TrimSpace(spec)
		if trimmed == "" {
			// An empty chord disables the action.
			delete(cfg.Keys, action)
			continue
		}
		if _, err := keys.ParseChord(trimmed, primary); err != nil {
			warnf("keys.%s: %v; binding dropped", action, err)
			delete(cfg.Keys, action)
			continue
		}
		cfg.Keys[action] = trimmed
	}

	spawn := cfg.Spawn[:0:0]
	for i, binding := range cfg.Spawn {
		binding.Chord = strings.TrimSpace(binding.Chord)
		if _, err := keys.ParseChord(binding.Chord, primary); err != nil {
			warnf("spawn[%d]: %v; binding dropped", i, err)
			continue
		}
		binding.Command = trimArgs(binding.Command)
		if len(binding.Command) == 0 {
			warnf("spawn[%d]: empty command; binding dropped", i)
			continue
		}
		spawn = append(spawn, binding)
	}
	cfg.Spawn = spawn

	if cfg.Workspaces < 0 || cfg.Workspaces > maxWorkspaces {
		warnf("workspaces %d out of range [0, %d], using %d", cfg.Workspaces, maxWorkspaces, defaults.Workspaces)
		cfg.Workspaces = defaults.Workspaces
	}

	cfg.VTModifiers = strings.TrimSpace(cfg.VTModifiers)
	if _, err := keys.ParseModifiers(cfg.VTModifiers); err != nil {
		warnf("vt_modifiers: %v, using %s", err, defaults.VTModifiers)
		cfg.VTModifiers = defaults.VTModifiers
	}
	if cfg.VTCount < 0 || cfg.VTCount > maxVTCount {
		warnf("vt_count %d out of range [0, %d], using %d", cfg.VTCount, maxVTCount, defaults.VTCount)
		cfg.VTCount = defaults.VTCount
	}

	normalizeGrab(cfg, defaults, primary, warnf)

	cfg.Outputs.Priority = normalizeNames(cfg.Outputs.Priority)
	if len(cfg.Outputs.Priority) == 0 {
		cfg.Outputs.Priority = defaults.Outputs.Priority
	}

	if cfg.Status.Period < minStatusPeriod {
		if cfg.Status.Period != 0 {
			warnf("status.period %s below %s, using %s", cfg.Status.Period, minStatusPeriod, defaults.Status.Period)
		}
		cfg.Status.Period = defaults.Status.Period
	}
	if strings.TrimSpace(cfg.Status.TimeFormat) == "" {
		cfg.Status.TimeFormat = defaults.Status.TimeFormat
	}
	if cfg.Status.Separator == "" {
		cfg.Status.Separator = defaults.Status.Separator
	}
	cfg.Status.Addr = strings.TrimSpace(cfg.Status.Addr)
	cfg.Status.ProcRoot = ExpandPath(strings.TrimSpace(cfg.Status.ProcRoot))
	cfg.Status.PowerSupplyRoot = ExpandPath(strings.TrimSpace(cfg.Status.PowerSupplyRoot))

	cfg.Host.Socket = ExpandPath(strings.TrimSpace(cfg.Host.Socket))
	if cfg.Host.RequestTimeout <= 0 {
		cfg.Host.RequestTimeout = defaults.Host.RequestTimeout
	}
	if cfg.Host.RequestTimeout > time.Minute {
		warnf("host.request_timeout %s above 1m, using %s", cfg.Host.RequestTimeout, defaults.Host.RequestTimeout)
		cfg.Host.RequestTimeout = defaults.Host.RequestTimeout
	}

	startup := cfg.Startup[:0:0]
	for i, command := range cfg.Startup {
		command.Name = strings.TrimSpace(command.Name)
		command.Command = trimArgs(command.Command)
		if len(command.Command) == 0 {
			warnf("startup[%d]: empty command; entry dropped", i)
			continue
		}
		startup = append(startup, command)
	}
	cfg.Startup = startup

	cfg.Log.Level = strings.ToLower(strings.TrimSpace(cfg.Log.Level))
	switch cfg.Log.Level {
	case "debug", "info", "warn", "error":
	case "":
		cfg.Log.Level = defaults.Log.Level
	default:
		warnf("log.level %q unknown, using %s", cfg.Log.Level, defaults.Log.Level)
		cfg.Log.Level = defaults.Log.Level
	}
	cfg.Log.Format = strings.ToLower(strings.TrimSpace(cfg.Log.Format))
	switch cfg.Log.Format {
	case "text", "json":
	case "":
		cfg.Log.Format = defaults.Log.Format
	default:
		warnf("log.format %q unknown, using %s", cfg.Log.Format, defaults.Log.Format)
		cfg.Log.Format = defaults.Log.Format
	}
	cfg.Log.File = ExpandPath(strings.TrimSpace(cfg.Log.File))

	return warnings
}

// normalizeGrab validates both grab chords. They must parse and differ;
// otherwise both fall back to the defaults so the toggle stays consistent.
func normalizeGrab(cfg *Config, defaults Config, primary keys.Modifier, warnf func(string, ...any)) {
	cfg.Grab.Enter = strings.TrimSpace(cfg.Grab.Enter)
	cfg.Grab.Exit = strings.TrimSpace(cfg.Grab.Exit)
	if cfg.Grab.Enter == "" {
		cfg.Grab.Enter = defaults.Grab.Enter
	}
	if cfg.Grab.Exit == "" {
		cfg.Grab.Exit = defaults.Grab.Exit
	}
	enter, enterErr := keys.ParseChord(cfg.Grab.Enter, primary)
	exit, exitErr := keys.ParseChord(cfg.Grab.Exit, primary)
	switch {
	case enterErr != nil:
		warnf("grab.enter: %v, using defaults", enterErr)
	case exitErr != nil:
		warnf("grab.exit: %v, using defaults", exitErr)
	case enter == exit:
		warnf("grab.enter and grab.exit are both %s, using defaults", enter)
	default:
		return
	}
	cfg.Grab = defaults.Grab
}

// normalizeNames trims, drops empties and removes duplicates, keeping the
// first occurrence.
func normalizeNames(names []string) []string {
	out := make([]string, 0, len(names))
	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == "" || slices.Contains(out, name) {
			continue
		}
		out = append(out, name)
	}
	return out
}

func trimArgs(args []string) []string {
	if len(args) == 0 {
		return nil
	}
	out := slices.Clone(args)
	out[0] = strings.TrimSpace(out[0])
	if out[0] == "" {
		return nil
	}
	return out
}

// ExpandPath expands a leading "~/" to the home directory and $VAR or
// ${VAR} references from the environment. Unset variables expand to "".
func ExpandPath(path string) string {
	if path == "" {
		return ""
	}
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := userHomeDirFn(); err == nil {
			path = home + path[1:]
		}
	}
	if strings.Contains(path, "$") {
		path = os.ExpandEnv(path)
	}
	return path
}

// ExpandArgs applies ExpandPath to the executable and to every argument
// that starts with "~/" or references a variable. The input is not
// modified.
func ExpandArgs(args []string) []string {
	out := slices.Clone(args)
	for i, arg := range out {
		if i == 0 || strings.HasPrefix(arg, "~/") || strings.Contains(arg, "$") {
			out[i] = ExpandPath(arg)
		}
	}
	return out
}

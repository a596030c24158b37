// Package config loads, validates and persists the policyd configuration.
//
// The on-disk format is YAML. Every field has a default so a missing file
// or a partially filled file still yields a complete Config. Invalid
// entries (bad chords, bad durations) are reported as warnings and replaced
// by their defaults; only unreadable or unparsable files are errors.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"go.yaml.in/yaml/v3"

	"policyd/internal/keys"
)

const (
	maxConfigFileBytes int64 = 1 << 20 // 1MB

	// minStatusPeriod keeps a misconfigured period from spinning the loop.
	minStatusPeriod = time.Second
	// maxWorkspaces is bounded by the digit keys 1-9.
	maxWorkspaces = 9
	// maxVTCount is bounded by the F-key range the keysym table names.
	maxVTCount = 24
)

// userHomeDirFn is a test seam for home directory resolution.
var userHomeDirFn = os.UserHomeDir

// Config is the complete daemon configuration.
type Config struct {
	// Modifier is the primary modifier that "Mod" in chords resolves to.
	Modifier string   `yaml:"modifier"`
	Seats    []string `yaml:"seats"`
	// Keys maps built-in action names to chords.
	Keys  map[string]string `yaml:"keys"`
	Spawn []SpawnBinding    `yaml:"spawn"`
	// Workspaces binds Mod+1..N to show and Mod+Shift+1..N to move and show.
	Workspaces     int           `yaml:"workspaces"`
	VTModifiers    string        `yaml:"vt_modifiers"`
	VTCount        int           `yaml:"vt_count"`
	Grab           GrabConfig    `yaml:"grab"`
	HardwareCursor bool          `yaml:"hardware_cursor"`
	Input          InputConfig   `yaml:"input"`
	Outputs        OutputsConfig `yaml:"outputs"`
	Status         StatusConfig  `yaml:"status"`
	Host           HostConfig    `yaml:"host"`
	Startup        []Command     `yaml:"startup"`
	Log            LogConfig     `yaml:"log"`
	// Watch reloads the configuration when the file changes.
	Watch bool `yaml:"watch"`
}

// SpawnBinding launches a command when chord is pressed.
type SpawnBinding struct {
	Chord   string   `yaml:"chord"`
	Command []string `yaml:"command"`
}

// Command is a companion process started once graphics are up.
type Command struct {
	Name    string   `yaml:"name,omitempty"`
	Command []string `yaml:"command"`
}

// Label returns Name, or the executable when Name is unset.
func (c Command) Label() string {
	if c.Name != "" {
		return c.Name
	}
	if len(c.Command) > 0 {
		return filepath.Base(c.Command[0])
	}
	return ""
}

// GrabConfig holds the keyboard grab chords.
type GrabConfig struct {
	Enter string `yaml:"enter"`
	Exit  string `yaml:"exit"`
}

// InputConfig holds settings applied to every input device.
type InputConfig struct {
	PointerLeftHanded bool          `yaml:"pointer_left_handed"`
	PointerTransform  [2][2]float64 `yaml:"pointer_transform"`
	TapEnabled        bool          `yaml:"tap_enabled"`
}

// OutputsConfig holds the display priority.
type OutputsConfig struct {
	// Priority lists connector names, most preferred first.
	Priority []string `yaml:"priority"`
}

// StatusConfig configures the status aggregator and hub.
type StatusConfig struct {
	Period     time.Duration `yaml:"period"`
	TimeFormat string        `yaml:"time_format"`
	Separator  string        `yaml:"separator"`
	Battery    bool          `yaml:"battery"`
	// Addr is the websocket listen address of the status hub. Empty disables
	// the hub.
	Addr            string `yaml:"addr"`
	ProcRoot        string `yaml:"proc_root"`
	PowerSupplyRoot string `yaml:"power_supply_root"`
}

// HostConfig configures the compositor connection.
type HostConfig struct {
	// Socket is the host IPC socket. Empty resolves to DefaultHostSocket().
	Socket         string        `yaml:"socket"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// LogConfig configures the slog handler.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	File   string `yaml:"file"`
}

// DefaultConfig returns the built-in configuration.
func DefaultConfig() Config {
	return Config{
		Modifier: "Super",
		Seats:    []string{"default"},
		Keys: map[string]string{
			"focus-left":             "Mod+h",
			"focus-down":             "Mod+j",
			"focus-up":               "Mod+k",
			"focus-right":            "Mod+l",
			"move-left":              "Mod+Shift+h",
			"move-down":              "Mod+Shift+j",
			"move-up":                "Mod+Shift+k",
			"move-right":             "Mod+Shift+l",
			"split-horizontal":       "Mod+d",
			"split-vertical":         "Mod+v",
			"toggle-split":           "Mod+t",
			"toggle-mono":            "Mod+m",
			"toggle-fullscreen":      "Mod+u",
			"focus-parent":           "Mod+f",
			"close":                  "Mod+Shift+q",
			"toggle-floating":        "Mod+Shift+f",
			"quit":                   "Mod+x",
			"reload":                 "Mod+Shift+r",
			"toggle-hardware-cursor": "Mod+Shift+m",
		},
		Spawn: []SpawnBinding{
			{Chord: "Mod+Shift+Return", Command: []string{"alacritty"}},
			{Chord: "Mod+p", Command: []string{"fuzzel"}},
			{Chord: "Mod+bracketleft", Command: []string{"tessen", "-d", "fuzzel"}},
			{Chord: "Mod+bracketright", Command: []string{"~/.config/river/book.nu"}},
			{Chord: "Mod+slash", Command: []string{"~/.config/river/fnottctl_list.sh"}},
			{Chord: "Mod+Shift+i", Command: []string{"~/.config/river/nubrowser.nu"}},
			{Chord: "Mod+i", Command: []string{"~/.config/river/firefoxprofiles.nu"}},
			{Chord: "Mod+Shift+y", Command: []string{"yt-cli.nu"}},
		},
		Workspaces:     6,
		VTModifiers:    "Ctrl+Alt",
		VTCount:        12,
		Grab:           GrabConfig{Enter: "Sys_Req", Exit: "Mod+b"},
		HardwareCursor: true,
		Input: InputConfig{
			PointerLeftHanded: false,
			PointerTransform:  [2][2]float64{{0.35, 0}, {0, 0.35}},
			TapEnabled:        true,
		},
		Outputs: OutputsConfig{Priority: []string{"HDMI-A-1", "eDP-1"}},
		Status: StatusConfig{
			Period:     5 * time.Second,
			TimeFormat: "2006-01-02 15:04:05",
			Separator:  ` <span color="#333333">|</span> `,
			Battery:    true,
			Addr:       "127.0.0.1:7788",
		},
		Host: HostConfig{RequestTimeout: 2 * time.Second},
		Startup: []Command{
			{Name: "import-environment", Command: []string{"systemctl", "--user", "import-environment", "WAYLAND_DISPLAY", "XDG_CURRENT_DESKTOP"}},
			{Name: "activation-environment", Command: []string{
				"dbus-update-activation-environment", "SEATD_SOCK", "DISPLAY", "WAYLAND_DISPLAY",
				"DESKTOP_SESSION=jay", "XDG_CURRENT_DESKTOP=jay",
			}},
			{Name: "polkit-agent", Command: []string{"/usr/libexec/polkit-kde-authentication-agent-1"}},
			{Name: "notifications", Command: []string{"fnott"}},
			{Name: "wallpaper", Command: []string{"wbg", "~/.config/river/backgrounds/romb.png"}},
		},
		Log:   LogConfig{Level: "info", Format: "text"},
		Watch: true,
	}
}

// DefaultPath resolves $XDG_CONFIG_HOME/policyd/config.yaml, falling back to
// ~/.config and then to os.TempDir() when the home directory is unknown.
func DefaultPath() string {
	base := strings.TrimSpace(os.Getenv("XDG_CONFIG_HOME"))
	if base == "" {
		home, err := userHomeDirFn()
		if err != nil {
			slog.Warn("[WARN-CONFIG] using temp dir as config path fallback", "error", err)
			base = os.TempDir()
		} else {
			base = filepath.Join(home, ".config")
		}
	}
	return filepath.Join(base, "policyd", "config.yaml")
}

// DefaultHostSocket resolves $XDG_RUNTIME_DIR/policyd/host.sock.
func DefaultHostSocket() string {
	base := strings.TrimSpace(os.Getenv("XDG_RUNTIME_DIR"))
	if base == "" {
		base = os.TempDir()
	}
	return filepath.Join(base, "policyd", "host.sock")
}

// Load reads the config file. A missing or empty file yields the defaults.
// Fields absent from the file keep their defaults; key bindings given in the
// file are merged over the default key table.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()
	if strings.TrimSpace(path) == "" {
		return cfg, errors.New("config path required")
	}

	raw, err := readLimitedFile(path, maxConfigFileBytes)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			slog.Debug("[DEBUG-CONFIG] config file missing, using defaults", "path", path)
			return cfg, nil
		}
		return cfg, err
	}
	if len(strings.TrimSpace(string(raw))) == 0 {
		return cfg, nil
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		slog.Warn("[WARN-CONFIG] failed to parse config, using defaults", "path", path, "error", err)
		return DefaultConfig(), fmt.Errorf("parse config %s: %w", path, err)
	}
	applyDefaultsAndValidate(&cfg)
	return cfg, nil
}

// EnsureFile writes the default config if the file is missing and returns
// the loaded config.
func EnsureFile(path string) (Config, error) {
	cfg, err := Load(path)
	if err != nil {
		return cfg, err
	}
	if _, statErr := os.Stat(path); errors.Is(statErr, os.ErrNotExist) {
		if _, err := Save(path, cfg); err != nil {
			return cfg, err
		}
		slog.Info("[DEBUG-CONFIG] wrote default config", "path", path)
	}
	return cfg, nil
}

// Save normalizes cfg and writes it atomically. It returns the config that
// was actually written.
func Save(path string, cfg Config) (Config, error) {
	if strings.TrimSpace(path) == "" {
		return cfg, errors.New("config path required")
	}
	cfg = Clone(cfg)
	applyDefaultsAndValidate(&cfg)

	raw, err := yaml.Marshal(cfg)
	if err != nil {
		return cfg, fmt.Errorf("save config: marshal: %w", err)
	}
	if err := atomicWrite(path, raw); err != nil {
		return cfg, err
	}
	slog.Debug("[DEBUG-CONFIG] config saved", "path", path)
	return cfg, nil
}

// Clone returns a deep copy of src.
func Clone(src Config) Config {
	dst := src
	dst.Seats = slices.Clone(src.Seats)
	dst.Keys = maps.Clone(src.Keys)
	dst.Spawn = make([]SpawnBinding, len(src.Spawn))
	for i, binding := range src.Spawn {
		dst.Spawn[i] = SpawnBinding{Chord: binding.Chord, Command: slices.Clone(binding.Command)}
	}
	dst.Startup = make([]Command, len(src.Startup))
	for i, command := range src.Startup {
		dst.Startup[i] = Command{Name: command.Name, Command: slices.Clone(command.Command)}
	}
	dst.Outputs.Priority = slices.Clone(src.Outputs.Priority)
	return dst
}

// PrimaryModifier returns the parsed Modifier field.
func (c Config) PrimaryModifier() keys.Modifier {
	mods, err := keys.ParseModifiers(c.Modifier)
	if err != nil || mods == 0 {
		return keys.ModSuper
	}
	return mods
}

// Chord parses spec with the configured primary modifier.
func (c Config) Chord(spec string) (keys.Chord, error) {
	return keys.ParseChord(spec, c.PrimaryModifier())
}

// atomicWrite writes data to a temp file in the target directory and renames
// it over path, so readers never see a partial file.
func atomicWrite(path string, data []byte) (err error) {
	dir := filepath.Dir(path)
	if err = os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("save config: mkdir: %w", err)
	}

	tmpFile, err := os.CreateTemp(dir, ".config.yaml.tmp.*")
	if err != nil {
		return fmt.Errorf("save config: create temp: %w", err)
	}
	tmpPath := tmpFile.Name()

	defer func() {
		if tmpFile != nil {
			if closeErr := tmpFile.Close(); closeErr != nil && !errors.Is(closeErr, os.ErrClosed) {
				slog.Warn("[WARN-CONFIG] failed to close temp file", "path", tmpPath, "error", closeErr)
			}
		}
		if err != nil {
			if removeErr := os.Remove(tmpPath); removeErr != nil && !errors.Is(removeErr, os.ErrNotExist) {
				slog.Warn("[WARN-CONFIG] failed to remove temp file", "path", tmpPath, "error", removeErr)
			}
		}
	}()

	if err = tmpFile.Chmod(0o600); err != nil {
		return fmt.Errorf("save config: chmod temp: %w", err)
	}
	if _, err = tmpFile.Write(data); err != nil {
		return fmt.Errorf("save config: write: %w", err)
	}
	if err = tmpFile.Sync(); err != nil {
		return fmt.Errorf("save config: sync: %w", err)
	}
	err = tmpFile.Close()
	tmpFile = nil
	if err != nil {
		return fmt.Errorf("save config: close: %w", err)
	}
	if err = os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("save config: rename: %w", err)
	}
	return nil
}

func readLimitedFile(path string, maxBytes int64) ([]byte, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return nil, fmt.Errorf("config path %s is a directory", path)
	}

	raw, err := io.ReadAll(io.LimitReader(file, maxBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(raw)) > maxBytes {
		return nil, fmt.Errorf("config file exceeds %d bytes", maxBytes)
	}
	return raw, nil
}

// Package battery enumerates batteries under /sys/class/power_supply.
package battery

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"
)

// DefaultRoot is the sysfs power supply class directory.
const DefaultRoot = "/sys/class/power_supply"

// ErrNoPowerSupply means the power supply class does not exist, so battery
// reporting cannot work on this system.
var ErrNoPowerSupply = errors.New("battery: power supply class not available")

// State is the charging state reported by the kernel.
type State uint8

const (
	Unknown State = iota
	Charging
	Discharging
	Empty
	Full
)

func (s State) String() string {
	switch s {
	case Charging:
		return "Charging"
	case Discharging:
		return "Discharging"
	case Empty:
		return "Empty"
	case Full:
		return "Full"
	default:
		return "Unknown"
	}
}

// parseState maps the sysfs status attribute. "Not charging" is reported by
// many firmwares when the charge threshold is reached, so it counts as Full.
func parseState(raw string) State {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "charging":
		return Charging
	case "discharging":
		return Discharging
	case "empty":
		return Empty
	case "full", "not charging":
		return Full
	default:
		return Unknown
	}
}

// Info is one battery reading.
type Info struct {
	Name  string
	State State
	// TimeToEmpty is zero unless discharging with a known rate.
	TimeToEmpty time.Duration
	// TimeToFull is zero unless charging with a known rate.
	TimeToFull time.Duration
	// Charge is the state of charge in [0, 1].
	Charge float64
}

// Percent returns Charge as a percentage.
func (i Info) Percent() float64 {
	return i.Charge * 100
}

// Manager is the long-lived battery handle.
type Manager struct {
	root string
}

// NewManager opens root ("" uses DefaultRoot).
func NewManager(root string) (*Manager, error) {
	if root == "" {
		root = DefaultRoot
	}
	info, err := os.Stat(root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNoPowerSupply, root)
		}
		return nil, fmt.Errorf("open power supply class: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s is not a directory", ErrNoPowerSupply, root)
	}
	return &Manager{root: root}, nil
}

// Batteries lists system batteries, sorted by name. Peripheral batteries
// (scope "Device", e.g. a wireless mouse) and mains adapters are skipped.
func (m *Manager) Batteries() ([]*Handle, error) {
	entries, err := os.ReadDir(m.root)
	if err != nil {
		return nil, fmt.Errorf("list power supplies: %w", err)
	}
	var handles []*Handle
	for _, entry := range entries {
		dir := filepath.Join(m.root, entry.Name())
		kind, err := readString(dir, "type")
		if err != nil || !strings.EqualFold(kind, "Battery") {
			continue
		}
		if scope, err := readString(dir, "scope"); err == nil && strings.EqualFold(scope, "Device") {
			continue
		}
		handles = append(handles, &Handle{Name: entry.Name(), dir: dir})
	}
	sort.Slice(handles, func(i, j int) bool { return handles[i].Name < handles[j].Name })
	return handles, nil
}

// Handle refers to one battery directory. Reading can fail if the battery
// was removed after enumeration.
type Handle struct {
	Name string
	dir  string
}

// Read samples the battery.
func (h *Handle) Read() (Info, error) {
	status, err := readString(h.dir, "status")
	if err != nil {
		return Info{}, fmt.Errorf("battery %s: %w", h.Name, err)
	}
	info := Info{Name: h.Name, State: parseState(status)}

	energy := newReading(h.dir)
	charge, err := energy.charge()
	if err != nil {
		return Info{}, fmt.Errorf("battery %s: %w", h.Name, err)
	}
	info.Charge = charge

	switch info.State {
	case Discharging:
		info.TimeToEmpty = energy.timeTo("time_to_empty_now", func(now, _ float64) float64 { return now })
	case Charging:
		info.TimeToFull = energy.timeTo("time_to_full_now", func(now, full float64) float64 { return full - now })
	}
	return info, nil
}

// reading reads either the energy_* (µWh, µW) or the charge_* (µAh, µA)
// attribute family, whichever the driver exposes.
type reading struct {
	dir string
}

func newReading(dir string) reading {
	return reading{dir: dir}
}

func (r reading) charge() (float64, error) {
	if capacity, err := readFloat(r.dir, "capacity"); err == nil {
		return clamp(capacity / 100), nil
	}
	now, full, ok := r.levels()
	if !ok || full <= 0 {
		return 0, errors.New("no capacity, energy or charge attributes")
	}
	return clamp(now / full), nil
}

func (r reading) levels() (now, full float64, ok bool) {
	for _, family := range []string{"energy", "charge"} {
		n, errNow := readFloat(r.dir, family+"_now")
		f, errFull := readFloat(r.dir, family+"_full")
		if errNow == nil && errFull == nil {
			return n, f, true
		}
	}
	return 0, 0, false
}

func (r reading) rate() (float64, bool) {
	for _, name := range []string{"power_now", "current_now"} {
		if v, err := readFloat(r.dir, name); err == nil && v != 0 {
			if v < 0 {
				v = -v
			}
			return v, true
		}
	}
	return 0, false
}

// timeTo prefers the driver's own estimate (seconds) and otherwise divides
// the remaining amount by the current rate.
func (r reading) timeTo(attribute string, remaining func(now, full float64) float64) time.Duration {
	if seconds, err := readFloat(r.dir, attribute); err == nil && seconds > 0 {
		return time.Duration(seconds * float64(time.Second))
	}
	now, full, ok := r.levels()
	if !ok {
		return 0
	}
	rate, ok := r.rate()
	if !ok {
		return 0
	}
	left := remaining(now, full)
	if left <= 0 {
		return 0
	}
	return time.Duration(left / rate * float64(time.Hour))
}

func clamp(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}

func readString(dir, name string) (string, error) {
	data, err := os.ReadFile(filepath.Join(dir, name))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

func readFloat(dir, name string) (float64, error) {
	raw, err := readString(dir, name)
	if err != nil {
		return 0, err
	}
	return strconv.ParseFloat(raw, 64)
}

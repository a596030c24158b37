// Package status builds and republishes the status line on a wall-clock
// aligned cadence.
package status

import (
	"fmt"
	"log/slog"
	"time"

	"policyd/internal/battery"
	"policyd/internal/clock"
	"policyd/internal/eventloop"
	"policyd/internal/metrics"
)

// MetricsSource is refreshed once per tick. *metrics.Source satisfies it.
type MetricsSource interface {
	Refresh() (metrics.Snapshot, error)
}

// BatterySource enumerates batteries once per tick. *battery.Manager
// satisfies it.
type BatterySource interface {
	Batteries() ([]*battery.Handle, error)
}

// Scheduler arms repeating timers. *eventloop.Loop satisfies it.
type Scheduler interface {
	Clock() clock.Clock
	Repeat(name string, first time.Time, period time.Duration, fn func()) (*eventloop.Timer, error)
}

// Options configures an Aggregator.
type Options struct {
	Period    time.Duration
	Formatter Formatter
	// Location for the timestamp; nil means time.Local.
	Location *time.Location
	// ProcRoot and PowerSupplyRoot are used by Open.
	ProcRoot        string
	PowerSupplyRoot string
	// DisableBattery skips battery enumeration entirely.
	DisableBattery bool
}

// Aggregator owns the long-lived metrics and battery handles. Tick is only
// called from the event loop.
type Aggregator struct {
	metrics   MetricsSource
	batteries BatterySource
	sink      Sink
	clock     clock.Clock
	opts      Options
	last      []string
}

// New builds an aggregator from already-acquired handles. A nil batteries
// disables battery reporting.
func New(source MetricsSource, batteries BatterySource, sink Sink, clk clock.Clock, opts Options) *Aggregator {
	if opts.Period <= 0 {
		opts.Period = DefaultPeriod
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if clk == nil {
		clk = clock.Real()
	}
	if opts.DisableBattery {
		batteries = nil
	}
	return &Aggregator{metrics: source, batteries: batteries, sink: sink, clock: clk, opts: opts}
}

// Open acquires the handles from procfs and sysfs. Failing to open the
// metrics source is fatal. Failing to open the battery manager disables
// battery reporting with a warning.
func Open(sink Sink, clk clock.Clock, opts Options) (*Aggregator, error) {
	source, err := metrics.NewSource(opts.ProcRoot)
	if err != nil {
		return nil, fmt.Errorf("status: %w", err)
	}
	var batteries BatterySource
	if !opts.DisableBattery {
		manager, err := battery.NewManager(opts.PowerSupplyRoot)
		if err != nil {
			slog.Warn("[WARN-STATUS] battery reporting disabled", "error", err)
		} else {
			batteries = manager
		}
	}
	return New(source, batteries, sink, clk, opts), nil
}

// Period returns the publish cadence.
func (a *Aggregator) Period() time.Duration {
	return a.opts.Period
}

// BatteryEnabled reports whether battery segments can appear.
func (a *Aggregator) BatteryEnabled() bool {
	return a.batteries != nil
}

// Last returns the lines published by the most recent tick.
func (a *Aggregator) Last() []string {
	return append([]string(nil), a.last...)
}

// Start publishes once immediately, then arms a repeating timer whose first
// deadline is the next wall-clock multiple of the period.
func (a *Aggregator) Start(s Scheduler) (*eventloop.Timer, error) {
	a.Tick()
	now := s.Clock().Now()
	first := now.Add(DurationUntilWallClockMultiple(now, a.opts.Period))
	timer, err := s.Repeat("status", first, a.opts.Period, func() { a.Tick() })
	if err != nil {
		return nil, fmt.Errorf("status: arm timer: %w", err)
	}
	slog.Debug("[DEBUG-STATUS] status timer armed", "first", first, "period", a.opts.Period)
	return timer, nil
}

// Tick samples once and publishes one line per readable battery, or a single
// line without the battery segment when there is none. It returns the
// published lines.
func (a *Aggregator) Tick() []string {
	snapshot, err := a.metrics.Refresh()
	if err != nil {
		slog.Warn("[WARN-STATUS] metrics refresh failed, skipping tick", "error", err)
		return nil
	}
	base := Sample{
		CPU:    snapshot.CPU,
		Memory: snapshot.Memory,
		Time:   a.clock.Now().In(a.opts.Location),
	}

	var lines []string
	for _, info := range a.readBatteries() {
		sample := base
		sample.Battery = &info
		lines = append(lines, a.opts.Formatter.Format(sample))
	}
	if len(lines) == 0 {
		lines = append(lines, a.opts.Formatter.Format(base))
	}

	for _, line := range lines {
		if a.sink != nil {
			a.sink.Publish(line)
		}
	}
	a.last = lines
	return lines
}

// readBatteries returns every battery that could be read. A battery that
// fails mid-read is skipped so the others still publish.
func (a *Aggregator) readBatteries() []battery.Info {
	if a.batteries == nil {
		return nil
	}
	handles, err := a.batteries.Batteries()
	if err != nil {
		slog.Warn("[WARN-STATUS] battery enumeration failed", "error", err)
		return nil
	}
	infos := make([]battery.Info, 0, len(handles))
	for _, handle := range handles {
		info, err := handle.Read()
		if err != nil {
			slog.Warn("[WARN-STATUS] skipping unreadable battery", "battery", handle.Name, "error", err)
			continue
		}
		infos = append(infos, info)
	}
	return infos
}

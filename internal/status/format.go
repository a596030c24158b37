package status

import (
	"fmt"
	"strings"
	"time"

	"policyd/internal/battery"
	"policyd/internal/metrics"
)

const (
	// DefaultSeparator is a dimmed pipe in pango markup.
	DefaultSeparator = ` <span color="#333333">|</span> `
	// DefaultTimeFormat renders YYYY-MM-DD HH:MM:SS.
	DefaultTimeFormat = "2006-01-02 15:04:05"
	// DefaultPeriod is the publish cadence.
	DefaultPeriod = 5 * time.Second
)

const gib = 1 << 30

// Sample is everything one status line is built from.
type Sample struct {
	CPU     float64 // mean busy fraction in [0,1]
	Memory  metrics.Memory
	Battery *battery.Info
	Time    time.Time
}

// Formatter renders samples. The zero value uses the defaults.
type Formatter struct {
	Separator  string
	TimeFormat string
}

// Format builds the line. Fields are always in the order battery, memory,
// CPU, time; the battery segment is omitted when Sample.Battery is nil.
func (f Formatter) Format(s Sample) string {
	sep := f.Separator
	if sep == "" {
		sep = DefaultSeparator
	}
	layout := f.TimeFormat
	if layout == "" {
		layout = DefaultTimeFormat
	}

	segments := make([]string, 0, 4)
	if s.Battery != nil {
		segments = append(segments, fmt.Sprintf("BAT: M-%s DT-%s CT-%s Capacity-%.0f%%",
			s.Battery.State,
			FormatMinutes(s.Battery.TimeToEmpty),
			FormatMinutes(s.Battery.TimeToFull),
			s.Battery.Percent(),
		))
	}
	segments = append(segments,
		fmt.Sprintf("MEM: %.1f/%.1f", float64(s.Memory.Used)/gib, float64(s.Memory.Total)/gib),
		fmt.Sprintf("CPU: %5.2f", s.CPU),
		s.Time.Format(layout),
	)
	return strings.Join(segments, sep)
}

// FormatMinutes renders d with minute granularity, e.g. "95 min".
func FormatMinutes(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	return fmt.Sprintf("%d min", int64(d/time.Minute))
}

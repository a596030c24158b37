// Package metrics samples CPU and memory usage from procfs.
//
// A Source is created once and refreshed every status tick. CPU usage is a
// delta against the previous reading the Source keeps per core, so the first
// Refresh after construction already reports usage since NewSource.
package metrics

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

// DefaultProcRoot is the procfs mount point.
const DefaultProcRoot = "/proc"

// sysinfoFn is replaced in tests.
var sysinfoFn = unix.Sysinfo

// CPUReading holds cumulative jiffies of one /proc/stat cpu line.
//
// busy = user + nice + system + irq + softirq + steal
// idle = idle + iowait
type CPUReading struct {
	Busy uint64
	Idle uint64
}

// Usage is the busy fraction in [0,1] between two readings of the same
// core. A counter that went backwards (CPU hot-unplug and replug) reports 0.
func Usage(previous, current CPUReading) float64 {
	if current.Busy < previous.Busy || current.Idle < previous.Idle {
		return 0
	}
	busy := current.Busy - previous.Busy
	total := busy + (current.Idle - previous.Idle)
	if total == 0 {
		return 0
	}
	return float64(busy) / float64(total)
}

// Memory is a used/total pair in bytes.
type Memory struct {
	Used  uint64
	Total uint64
}

// Snapshot is one refreshed sample.
type Snapshot struct {
	// Cores holds per-core usage fractions in [0,1], ordered by core name.
	Cores []float64
	// CPU is the arithmetic mean of Cores.
	CPU    float64
	Memory Memory
}

// Source is a metrics handle. It is not safe for concurrent use; the status
// aggregator only refreshes it from the event loop.
type Source struct {
	procRoot string
	previous map[string]CPUReading
}

// NewSource opens the metrics source under procRoot ("" uses /proc) and
// takes the baseline CPU reading. A failure here means the status line
// cannot be produced at all.
func NewSource(procRoot string) (*Source, error) {
	if procRoot == "" {
		procRoot = DefaultProcRoot
	}
	s := &Source{procRoot: procRoot}
	readings, _, err := s.readCores()
	if err != nil {
		return nil, fmt.Errorf("open metrics source: %w", err)
	}
	s.previous = readings
	return s, nil
}

// Refresh takes a fresh sample. Per-core usage is computed against the
// readings of the previous Refresh (or NewSource).
func (s *Source) Refresh() (Snapshot, error) {
	readings, order, err := s.readCores()
	if err != nil {
		return Snapshot{}, fmt.Errorf("refresh cpu: %w", err)
	}
	snapshot := Snapshot{Cores: make([]float64, 0, len(order))}
	var sum float64
	for _, name := range order {
		usage := 0.0
		if prev, ok := s.previous[name]; ok {
			usage = Usage(prev, readings[name])
		}
		snapshot.Cores = append(snapshot.Cores, usage)
		sum += usage
	}
	if len(snapshot.Cores) > 0 {
		snapshot.CPU = sum / float64(len(snapshot.Cores))
	}
	s.previous = readings

	memory, err := s.readMemory()
	if err != nil {
		return Snapshot{}, fmt.Errorf("refresh memory: %w", err)
	}
	snapshot.Memory = memory
	return snapshot, nil
}

// readCores parses the per-core "cpuN" lines of /proc/stat. The aggregate
// "cpu" line is skipped; the mean is computed from the cores.
func (s *Source) readCores() (map[string]CPUReading, []string, error) {
	file, err := os.Open(filepath.Join(s.procRoot, "stat"))
	if err != nil {
		return nil, nil, err
	}
	defer file.Close()

	readings := make(map[string]CPUReading)
	var order []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 || !strings.HasPrefix(fields[0], "cpu") || fields[0] == "cpu" {
			continue
		}
		reading, err := parseCPULine(fields)
		if err != nil {
			return nil, nil, err
		}
		readings[fields[0]] = reading
		order = append(order, fields[0])
	}
	if err := scanner.Err(); err != nil {
		return nil, nil, err
	}
	if len(order) == 0 {
		return nil, nil, errors.New("no per-core lines in stat")
	}
	return readings, order, nil
}

func parseCPULine(fields []string) (CPUReading, error) {
	// label user nice system idle iowait irq softirq steal [guest guest_nice]
	if len(fields) < 9 {
		return CPUReading{}, fmt.Errorf("short cpu line %q", fields[0])
	}
	values := make([]uint64, 8)
	for i := range values {
		parsed, err := strconv.ParseUint(fields[i+1], 10, 64)
		if err != nil {
			return CPUReading{}, fmt.Errorf("parse %s field %d: %w", fields[0], i+1, err)
		}
		values[i] = parsed
	}
	return CPUReading{
		Busy: values[0] + values[1] + values[2] + values[5] + values[6] + values[7],
		Idle: values[3] + values[4],
	}, nil
}

// readMemory prefers /proc/meminfo (MemAvailable accounts for reclaimable
// cache) and falls back to sysinfo(2).
func (s *Source) readMemory() (Memory, error) {
	memory, err := readMeminfo(filepath.Join(s.procRoot, "meminfo"))
	if err == nil {
		return memory, nil
	}
	var info unix.Sysinfo_t
	if sysErr := sysinfoFn(&info); sysErr != nil {
		return Memory{}, errors.Join(err, sysErr)
	}
	unit := uint64(info.Unit)
	if unit == 0 {
		unit = 1
	}
	total := uint64(info.Totalram) * unit
	free := (uint64(info.Freeram) + uint64(info.Bufferram)) * unit
	if free > total {
		free = total
	}
	return Memory{Used: total - free, Total: total}, nil
}

func readMeminfo(path string) (Memory, error) {
	file, err := os.Open(path)
	if err != nil {
		return Memory{}, err
	}
	defer file.Close()

	var total, available uint64
	var haveTotal, haveAvailable bool
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		key, rest, ok := strings.Cut(scanner.Text(), ":")
		if !ok {
			continue
		}
		var target *uint64
		switch key {
		case "MemTotal":
			target, haveTotal = &total, true
		case "MemAvailable":
			target, haveAvailable = &available, true
		default:
			continue
		}
		kb, err := strconv.ParseUint(strings.TrimSuffix(strings.TrimSpace(rest), " kB"), 10, 64)
		if err != nil {
			return Memory{}, fmt.Errorf("parse %s: %w", key, err)
		}
		*target = kb * 1024
	}
	if err := scanner.Err(); err != nil {
		return Memory{}, err
	}
	if !haveTotal || !haveAvailable {
		return Memory{}, fmt.Errorf("%s: MemTotal or MemAvailable missing", path)
	}
	if available > total {
		available = total
	}
	return Memory{Used: total - available, Total: total}, nil
}

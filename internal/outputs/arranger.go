// Package outputs keeps exactly one connected display active.
//
// The arranger is stateless between triggers: every Arrange call queries the
// host fresh and only issues commands for connectors whose state differs
// from the target, so repeated triggers converge without side effects.
package outputs

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"policyd/internal/host"
)

// DefaultPriority prefers the external display over the laptop panel.
var DefaultPriority = []string{"HDMI-A-1", "eDP-1"}

// Connectors is the host surface the arranger mutates. host.Outputs
// satisfies it.
type Connectors interface {
	Connectors(ctx context.Context) ([]host.Connector, error)
	SetConnectorEnabled(ctx context.Context, name string, enabled bool) error
	SetConnectorPosition(ctx context.Context, name string, x, y int) error
}

// Change is one host command issued by Arrange.
type Change struct {
	Connector string
	Enabled   bool
	// Positioned is true when the connector was moved to the origin.
	Positioned bool
}

func (c Change) String() string {
	switch {
	case c.Positioned:
		return c.Connector + " -> (0,0)"
	case c.Enabled:
		return c.Connector + " enabled"
	default:
		return c.Connector + " disabled"
	}
}

// Result reports the outcome of one arrangement pass.
type Result struct {
	// Active is the winning connector, or "" when nothing is connected.
	Active  string
	Changes []Change
}

// Arranger applies the single-active-display policy.
type Arranger struct {
	hostOutputs Connectors
	priority    []string
}

// NewArranger creates an arranger ranking connectors by priority. A nil or
// empty priority uses DefaultPriority.
func NewArranger(hostOutputs Connectors, priority []string) *Arranger {
	a := &Arranger{hostOutputs: hostOutputs}
	a.SetPriority(priority)
	return a
}

// SetPriority replaces the ranking used by subsequent Arrange calls.
func (a *Arranger) SetPriority(priority []string) {
	cleaned := make([]string, 0, len(priority))
	for _, name := range priority {
		name = strings.TrimSpace(name)
		if name == "" || slices.Contains(cleaned, name) {
			continue
		}
		cleaned = append(cleaned, name)
	}
	if len(cleaned) == 0 {
		cleaned = slices.Clone(DefaultPriority)
	}
	a.priority = cleaned
}

// Priority returns a copy of the active ranking.
func (a *Arranger) Priority() []string {
	return slices.Clone(a.priority)
}

// rank orders connectors: listed names by list position, then the rest by
// name.
func (a *Arranger) rank(connectors []host.Connector) []host.Connector {
	ranked := slices.Clone(connectors)
	index := func(name string) int {
		if i := slices.Index(a.priority, name); i >= 0 {
			return i
		}
		return len(a.priority)
	}
	slices.SortStableFunc(ranked, func(x, y host.Connector) int {
		ix, iy := index(x.Name), index(y.Name)
		if ix != iy {
			return ix - iy
		}
		return strings.Compare(x.Name, y.Name)
	})
	return ranked
}

// Arrange enables the highest-ranked connected connector at the origin and
// disables every other enabled connector, connected or not. With nothing
// connected it does nothing.
func (a *Arranger) Arrange(ctx context.Context) (Result, error) {
	connectors, err := a.hostOutputs.Connectors(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("query connectors: %w", err)
	}

	var result Result
	ranked := a.rank(connectors)
	winner := slices.IndexFunc(ranked, func(c host.Connector) bool { return c.Connected })
	if winner < 0 {
		slog.Debug("[DEBUG-OUTPUTS] no connected connector", "known", len(connectors))
		return result, nil
	}
	active := ranked[winner]
	result.Active = active.Name

	// Disable losers first so the winner never shares the origin.
	for _, c := range ranked {
		if c.Name == active.Name || !c.Enabled {
			continue
		}
		if err := a.hostOutputs.SetConnectorEnabled(ctx, c.Name, false); err != nil {
			return result, fmt.Errorf("disable %s: %w", c.Name, err)
		}
		result.Changes = append(result.Changes, Change{Connector: c.Name})
	}

	if !active.Enabled {
		if err := a.hostOutputs.SetConnectorEnabled(ctx, active.Name, true); err != nil {
			return result, fmt.Errorf("enable %s: %w", active.Name, err)
		}
		result.Changes = append(result.Changes, Change{Connector: active.Name, Enabled: true})
	}
	if active.X != 0 || active.Y != 0 {
		if err := a.hostOutputs.SetConnectorPosition(ctx, active.Name, 0, 0); err != nil {
			return result, fmt.Errorf("position %s: %w", active.Name, err)
		}
		result.Changes = append(result.Changes, Change{Connector: active.Name, Enabled: true, Positioned: true})
	}

	if len(result.Changes) > 0 {
		slog.Info("[DEBUG-OUTPUTS] arrangement applied", "active", result.Active, "changes", len(result.Changes))
	}
	return result, nil
}

// Trigger runs Arrange for an event and logs failures instead of returning
// them. The next trigger retries from fresh host state.
func (a *Arranger) Trigger(ctx context.Context, reason string) Result {
	result, err := a.Arrange(ctx)
	if err != nil {
		slog.Warn("[WARN-OUTPUTS] arrangement failed", "reason", reason, "error", err)
	}
	return result
}

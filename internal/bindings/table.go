package bindings

import (
	"sort"

	"policyd/internal/host"
	"policyd/internal/keys"
)

// Table owns one Registry per seat. Seats are independent: a binding on one
// seat never fires for another.
type Table struct {
	notifier Notifier
	seats    map[host.SeatName]*Registry
}

// NewTable creates an empty table whose registries report to notifier.
func NewTable(notifier Notifier) *Table {
	return &Table{
		notifier: notifier,
		seats:    make(map[host.SeatName]*Registry),
	}
}

// Seat returns the registry for seat, creating it on first use.
func (t *Table) Seat(seat host.SeatName) *Registry {
	if r, ok := t.seats[seat]; ok {
		return r
	}
	r := NewRegistry(seat, t.notifier)
	t.seats[seat] = r
	return r
}

// Seats returns the seats that have a registry, sorted.
func (t *Table) Seats() []host.SeatName {
	out := make([]host.SeatName, 0, len(t.seats))
	for seat := range t.seats {
		out = append(out, seat)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Dispatch routes a chord from seat to that seat's registry.
func (t *Table) Dispatch(seat host.SeatName, chord keys.Chord) bool {
	r, ok := t.seats[seat]
	if !ok {
		return false
	}
	return r.Dispatch(chord)
}

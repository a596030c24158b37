package main

import (
	"sort"
	"sync/atomic"

	"policyd/internal/logging"
)

func sortedKeys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// warningRelay forwards log warnings to a target installed after logging
// is configured (the status hub starts later than the logger).
type warningRelay struct {
	target atomic.Pointer[logging.WarningFunc]
}

func (r *warningRelay) set(fn logging.WarningFunc) {
	if fn == nil {
		r.target.Store(nil)
		return
	}
	r.target.Store(&fn)
}

func (r *warningRelay) forward(w logging.Warning) {
	if fn := r.target.Load(); fn != nil {
		(*fn)(w)
	}
}

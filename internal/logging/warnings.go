package logging

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"os"
	"runtime/debug"
	"slices"
	"strings"
	"time"
)

// Warning is one Warn-or-above record in a form the status hub can ship to
// bar clients.
type Warning struct {
	Time  time.Time
	Level slog.Level

	// Tag is the bracketed component prefix of the message without the
	// brackets, e.g. "WARN-OUTPUTS". Empty when the message has none.
	Tag string

	// Message is the record message with the tag removed.
	Message string

	// Attrs holds the logger and record attributes rendered as strings.
	// Group names qualify keys with a dot, e.g. "seat.name".
	Attrs map[string]string
}

// Text renders w back into a single log-style line.
func (w Warning) Text() string {
	var b strings.Builder
	if w.Tag != "" {
		b.WriteString("[" + w.Tag + "] ")
	}
	b.WriteString(w.Message)
	for _, key := range slices.Sorted(maps.Keys(w.Attrs)) {
		fmt.Fprintf(&b, " %s=%s", key, w.Attrs[key])
	}
	return b.String()
}

// WarningFunc receives forwarded warnings. It runs on the logging
// goroutine and must not block.
type WarningFunc func(Warning)

// SplitTag separates a leading "[TAG]" from msg. Tags are upper-case
// words joined by dashes, as used throughout the daemon's log lines.
func SplitTag(msg string) (tag, rest string) {
	if !strings.HasPrefix(msg, "[") {
		return "", msg
	}
	end := strings.IndexByte(msg, ']')
	if end < 2 {
		return "", msg
	}
	candidate := msg[1:end]
	for _, r := range candidate {
		if (r < 'A' || r > 'Z') && (r < '0' || r > '9') && r != '-' {
			return "", msg
		}
	}
	return candidate, strings.TrimSpace(msg[end+1:])
}

// warningHandler writes every record to base and hands records at or above
// minLevel to forward as a Warning.
type warningHandler struct {
	base     slog.Handler
	forward  WarningFunc
	minLevel slog.Level

	// attrs are the flattened WithAttrs values; prefix qualifies keys
	// added after a WithGroup.
	attrs  map[string]string
	prefix string
}

func newWarningHandler(base slog.Handler, minLevel slog.Level, forward WarningFunc) *warningHandler {
	return &warningHandler{base: base, forward: forward, minLevel: minLevel}
}

func (h *warningHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.base.Enabled(ctx, level)
}

// Handle forwards the warning even when base fails to write. A panicking
// WarningFunc is reported on stderr so logging never recurses into itself.
func (h *warningHandler) Handle(ctx context.Context, record slog.Record) error {
	err := h.base.Handle(ctx, record)
	if record.Level < h.minLevel {
		return err
	}

	w := Warning{Time: record.Time, Level: record.Level, Attrs: maps.Clone(h.attrs)}
	w.Tag, w.Message = SplitTag(record.Message)
	if record.NumAttrs() > 0 && w.Attrs == nil {
		w.Attrs = make(map[string]string, record.NumAttrs())
	}
	record.Attrs(func(a slog.Attr) bool {
		flatten(w.Attrs, h.prefix, a)
		return true
	})

	defer func() {
		if r := recover(); r != nil {
			fmt.Fprintf(os.Stderr, "[WARN-LOGGING] warning forwarder panicked: %v\n%s\n", r, debug.Stack())
		}
	}()
	h.forward(w)
	return err
}

func (h *warningHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return h
	}
	next := *h
	next.base = h.base.WithAttrs(attrs)
	next.attrs = maps.Clone(h.attrs)
	if next.attrs == nil {
		next.attrs = make(map[string]string, len(attrs))
	}
	for _, a := range attrs {
		flatten(next.attrs, h.prefix, a)
	}
	return &next
}

func (h *warningHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	next := *h
	next.base = h.base.WithGroup(name)
	next.prefix = h.prefix + name + "."
	return &next
}

func flatten(dst map[string]string, prefix string, a slog.Attr) {
	value := a.Value.Resolve()
	if value.Kind() == slog.KindGroup {
		groupPrefix := prefix
		if a.Key != "" {
			groupPrefix += a.Key + "."
		}
		for _, member := range value.Group() {
			flatten(dst, groupPrefix, member)
		}
		return
	}
	if a.Key == "" {
		return
	}
	dst[prefix+a.Key] = value.String()
}

// Package statushub broadcasts status lines to bar clients over websocket.
//
// # Frame protocol
//
// Every frame is one JSON text message:
//
//	{"type":"status","text":"BAT: ... | CPU: 12.00 | 2026-01-02 15:04:05","seq":7}
//	{"type":"warning","text":"arrangement failed","seq":8,"level":"WARN","tag":"WARN-OUTPUTS","attrs":{"reason":"startup"}}
//
// seq increases by one per frame the hub sends, across both types. A client
// that connects late first receives the most recent status frame. level, tag
// and attrs are only set on warning frames; text then holds the log message
// without its tag.
package statushub

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"policyd/internal/logging"
)

// Frame types.
const (
	TypeStatus  = "status"
	TypeWarning = "warning"
)

// Frame is one message sent to bar clients.
type Frame struct {
	Type  string            `json:"type"`
	Text  string            `json:"text"`
	Seq   uint64            `json:"seq"`
	Level string            `json:"level,omitempty"`
	Tag   string            `json:"tag,omitempty"`
	Attrs map[string]string `json:"attrs,omitempty"`
}

// Warning converts a warning frame back into the record it was built from.
func (f Frame) Warning() logging.Warning {
	var level slog.Level
	if f.Level != "" {
		_ = level.UnmarshalText([]byte(f.Level))
	}
	return logging.Warning{Level: level, Tag: f.Tag, Message: f.Text, Attrs: f.Attrs}
}

// EncodeFrame renders f as a websocket text payload.
func EncodeFrame(f Frame) ([]byte, error) {
	if f.Type != TypeStatus && f.Type != TypeWarning {
		return nil, fmt.Errorf("statushub: unknown frame type %q", f.Type)
	}
	return json.Marshal(f)
}

// DecodeFrame parses a payload produced by EncodeFrame.
func DecodeFrame(payload []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(payload, &f); err != nil {
		return Frame{}, fmt.Errorf("statushub: decode frame: %w", err)
	}
	switch f.Type {
	case TypeStatus, TypeWarning:
		return f, nil
	default:
		return Frame{}, fmt.Errorf("statushub: unknown frame type %q", f.Type)
	}
}

package main

import (
	"log/slog"

	"policyd/internal/host"
)

// postEvent is the host event sink. It runs on the transport goroutine and
// only queues the event; handleEvent runs on the loop.
func (a *App) postEvent(ev host.Event) {
	if err := a.loop.Post("event:"+string(ev.Kind()), func() { a.handleEvent(ev) }); err != nil {
		slog.Debug("[DEBUG-EVENT] event dropped after shutdown", "kind", ev.Kind(), "error", err)
	}
}

func (a *App) handleEvent(ev host.Event) {
	switch e := ev.(type) {
	case host.KeyEvent:
		a.table.Dispatch(e.Seat, e.Chord)
	case host.InputDeviceAdded:
		a.onDeviceAdded(e.Device)
	case host.ConnectorAdded:
		a.arranger.Trigger(a.ctx, "connector added: "+e.Connector)
	case host.ConnectorConnected:
		a.arranger.Trigger(a.ctx, "connector connected: "+e.Connector)
	case host.GraphicsInitialized:
		a.onGraphicsInitialized()
	default:
		slog.Debug("[DEBUG-EVENT] unhandled event", "kind", ev.Kind())
	}
}

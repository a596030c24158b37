package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"policyd/internal/host"
	"policyd/internal/host/memhost"
	"policyd/internal/keys"
)

// errExit ends the command loop.
var errExit = errors.New("exit")

const usage = `commands:
  press [seat] <chord>       deliver a chord, e.g. press Super+Return
  keyboard <id> [seat]       plug a keyboard
  pointer <id> [seat]        plug a pointer
  unplug <id>                remove a device
  connector <name>           add a disconnected connector
  connect <name>             connect a connector
  disconnect <name>          disconnect a connector
  graphics                   report graphics initialized
  state                      print connectors, grabs and the last status
  exit                       stop the simulator`

// execute runs one stdin command against h.
func execute(h *memhost.Host, line string, out io.Writer) error {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}
	cmd, args := fields[0], fields[1:]
	switch cmd {
	case "help":
		fmt.Fprintln(out, usage)
	case "exit", "quit":
		return errExit
	case "press":
		seat, spec, err := seatAndArg(args)
		if err != nil {
			return err
		}
		chord, err := keys.ParseChord(spec, 0)
		if err != nil {
			return err
		}
		if !h.Press(seat, chord) {
			fmt.Fprintf(out, "%s is not bound on %s\n", chord, seat)
		}
	case "keyboard", "pointer":
		id, seat, err := deviceArgs(args)
		if err != nil {
			return err
		}
		caps := host.CapKeyboard
		if cmd == "pointer" {
			caps = host.CapPointer
		}
		h.AddDevice(host.InputDevice{ID: id, Name: fmt.Sprintf("sim %s %d", cmd, id), Capabilities: caps, Seat: seat})
	case "unplug":
		id, _, err := deviceArgs(args)
		if err != nil {
			return err
		}
		h.RemoveDevice(id)
	case "connector":
		name, err := oneArg(cmd, args)
		if err != nil {
			return err
		}
		h.AddConnector(host.Connector{Name: name})
	case "connect":
		name, err := oneArg(cmd, args)
		if err != nil {
			return err
		}
		if _, ok := h.Connector(name); !ok {
			return fmt.Errorf("unknown connector %s", name)
		}
		h.Connect(name)
	case "disconnect":
		name, err := oneArg(cmd, args)
		if err != nil {
			return err
		}
		h.Disconnect(name)
	case "graphics":
		h.InitGraphics()
	case "state":
		printState(h, out)
	default:
		return fmt.Errorf("unknown command %q (try help)", cmd)
	}
	return nil
}

func oneArg(cmd string, args []string) (string, error) {
	if len(args) != 1 {
		return "", fmt.Errorf("%s takes one argument", cmd)
	}
	return args[0], nil
}

func seatAndArg(args []string) (host.SeatName, string, error) {
	switch len(args) {
	case 1:
		return "default", args[0], nil
	case 2:
		return host.SeatName(args[0]), args[1], nil
	default:
		return "", "", errors.New("usage: press [seat] <chord>")
	}
}

func deviceArgs(args []string) (host.DeviceID, host.SeatName, error) {
	if len(args) < 1 || len(args) > 2 {
		return 0, "", errors.New("usage: <id> [seat]")
	}
	id, err := strconv.ParseUint(args[0], 10, 64)
	if err != nil {
		return 0, "", fmt.Errorf("invalid device id %q", args[0])
	}
	seat := host.SeatName("default")
	if len(args) == 2 {
		seat = host.SeatName(args[1])
	}
	return host.DeviceID(id), seat, nil
}

func printState(h *memhost.Host, out io.Writer) {
	ctx := context.Background()
	connectors, _ := h.Connectors(ctx)
	for _, c := range connectors {
		fmt.Fprintf(out, "connector %s connected=%t enabled=%t at %d,%d\n", c.Name, c.Connected, c.Enabled, c.X, c.Y)
	}
	devices, _ := h.InputDevices(ctx)
	for _, d := range devices {
		fmt.Fprintf(out, "device %d %q seat=%s grabbed=%t\n", d.ID, d.Name, d.Seat, h.Grabbed(d.ID))
	}
	if statuses := h.Statuses(); len(statuses) > 0 {
		fmt.Fprintf(out, "status %s\n", statuses[len(statuses)-1])
	}
}

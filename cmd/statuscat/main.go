// Command statuscat prints the status lines policyd broadcasts from its
// status hub, one per line. It is meant to feed bars that read stdin.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/pflag"

	"policyd/internal/statushub"
)

const defaultURL = "ws://127.0.0.1:7788/ws"

const (
	exitOK    = 0
	exitError = 1
	exitUsage = 2
)

const dialTimeout = 5 * time.Second

type cliFlags struct {
	url      string
	warnings bool
	once     bool
}

func parseFlags(args []string, stderr io.Writer) (cliFlags, error) {
	var f cliFlags
	flags := pflag.NewFlagSet("statuscat", pflag.ContinueOnError)
	flags.SetOutput(stderr)
	flags.StringVar(&f.url, "url", defaultURL, "status hub websocket URL")
	flags.BoolVar(&f.warnings, "warnings", false, "print warning frames to stderr")
	flags.BoolVar(&f.once, "once", false, "exit after the first status line")
	if err := flags.Parse(args); err != nil {
		return f, err
	}
	if flags.NArg() > 0 {
		return f, fmt.Errorf("unexpected arguments: %s", strings.Join(flags.Args(), " "))
	}
	return f, nil
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	cancel()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	flags, err := parseFlags(args, stderr)
	if errors.Is(err, pflag.ErrHelp) {
		return exitOK
	}
	if err != nil {
		fmt.Fprintf(stderr, "statuscat: %v\n", err)
		return exitUsage
	}
	if err := tail(ctx, flags, stdout, stderr); err != nil {
		fmt.Fprintf(stderr, "statuscat: %v\n", err)
		return exitError
	}
	return exitOK
}

// tail reads frames until the hub closes the connection, ctx ends or, with
// --once, the first status line is printed.
func tail(ctx context.Context, flags cliFlags, stdout, stderr io.Writer) error {
	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, flags.url, nil)
	cancel()
	if err != nil {
		return fmt.Errorf("connect %s: %w", flags.url, err)
	}
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return fmt.Errorf("read: %w", err)
		}
		frame, err := statushub.DecodeFrame(payload)
		if err != nil {
			fmt.Fprintf(stderr, "statuscat: skipping frame: %v\n", err)
			continue
		}
		switch frame.Type {
		case statushub.TypeStatus:
			if _, err := fmt.Fprintln(stdout, frame.Text); err != nil {
				return err
			}
			if flags.once {
				return nil
			}
		case statushub.TypeWarning:
			if flags.warnings {
				fmt.Fprintf(stderr, "warning: %s\n", frame.Warning().Text())
			}
		}
	}
}

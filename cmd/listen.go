package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/channelhost/host/internal/config"
	"github.com/channelhost/host/internal/server"
)

// errStreamDone ends the listen loop without reconnecting.
var errStreamDone = errors.New("stream done")

func newListenCmd() *cobra.Command {
	var (
		f           clientFlags
		count       int
		noReconnect bool
	)

	cmd := &cobra.Command{
		Use:   "listen [channel]",
		Short: "Print events from an event channel until interrupted",
		Long: `Attach to an event channel and print one line per event.

Dropped connections are retried with exponential backoff unless
--no-reconnect is given. Each reconnect re-attaches, so the current
state is printed again.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			channelName := config.DefaultEventChannel
			if len(args) == 1 {
				channelName = args[0]
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			l := &listener{
				flags:   &f,
				channel: channelName,
				out:     cmd.OutOrStdout(),
				errOut:  cmd.ErrOrStderr(),
				limit:   count,
			}
			if noReconnect {
				err := l.session(ctx)
				if errors.Is(err, errStreamDone) {
					return nil
				}
				return err
			}
			return l.run(ctx)
		},
	}
	f.register(cmd)
	cmd.Flags().IntVar(&count, "count", 0, "Exit after this many events (0 = unlimited)")
	cmd.Flags().BoolVar(&noReconnect, "no-reconnect", false, "Exit when the connection drops")
	return cmd
}

// listener prints events from one channel across reconnects.
type listener struct {
	flags   *clientFlags
	channel string
	out     io.Writer
	errOut  io.Writer
	limit   int
	seen    int
}

// run keeps a session alive with exponential backoff between attempts.
func (l *listener) run(ctx context.Context) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 30 * time.Second
	b.MaxElapsedTime = 0

	op := func() error {
		err := l.session(ctx, b.Reset)
		if errors.Is(err, errStreamDone) || ctx.Err() != nil {
			return backoff.Permanent(errStreamDone)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		fmt.Fprintf(l.errOut, "connection lost (%v), retrying in %s\n", err, wait.Round(time.Millisecond))
	}

	err := backoff.RetryNotify(op, backoff.WithContext(b, ctx), notify)
	if err == nil || errors.Is(err, errStreamDone) || errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// session connects, attaches and prints events until the connection drops,
// ctx ends or the event limit is reached. onAttached runs once the host
// accepted the listen.
func (l *listener) session(ctx context.Context, onAttached ...func()) error {
	conn, err := l.flags.dial(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	listen := server.Message{Type: server.MessageTypeEventListen, Payload: server.StreamPayload{Channel: l.channel}}
	if err := conn.WriteJSON(listen); err != nil {
		return fmt.Errorf("send listen: %w", err)
	}

	// Unblock ReadJSON when ctx ends.
	stop := context.AfterFunc(ctx, func() {
		conn.SetReadDeadline(time.Now())
	})
	defer stop()

	attached := false
	for {
		var env envelope
		if err := conn.ReadJSON(&env); err != nil {
			if ctx.Err() != nil {
				l.cancel(conn)
				return errStreamDone
			}
			return fmt.Errorf("read: %w", err)
		}

		line, isEvent, err := formatEvent(env)
		if err != nil {
			return backoff.Permanent(err)
		}
		if !isEvent {
			continue
		}
		if !attached {
			attached = true
			for _, fn := range onAttached {
				fn()
			}
		}

		fmt.Fprintln(l.out, line)
		l.seen++
		if l.limit > 0 && l.seen >= l.limit {
			l.cancel(conn)
			return errStreamDone
		}
	}
}

// cancel detaches politely before the connection closes.
func (l *listener) cancel(conn *websocket.Conn) {
	conn.SetWriteDeadline(time.Now().Add(time.Second))
	conn.WriteJSON(server.Message{Type: server.MessageTypeEventCancel, Payload: server.StreamPayload{Channel: l.channel}})
	conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

// formatEvent renders an event envelope as one output line. Protocol errors
// from the host are returned as errors; other messages are skipped.
func formatEvent(env envelope) (line string, isEvent bool, err error) {
	switch env.Type {
	case server.MessageTypeEvent:
		var p struct {
			Data json.RawMessage `json:"data"`
		}
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return "", false, fmt.Errorf("decode event: %w", err)
		}
		var s string
		if json.Unmarshal(p.Data, &s) == nil {
			return s, true, nil
		}
		return string(p.Data), true, nil

	case server.MessageTypeEventError:
		var p server.EventErrorPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return "", false, fmt.Errorf("decode event error: %w", err)
		}
		return fmt.Sprintf("error %s: %s", p.Code, p.Message), true, nil

	case server.MessageTypeError:
		var p server.ErrorPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return "", false, fmt.Errorf("decode error: %w", err)
		}
		return "", false, fmt.Errorf("%s: %s", p.Code, p.Message)
	}
	return "", false, nil
}

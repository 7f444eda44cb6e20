package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/channelhost/host/internal/server"
)

// errNotImplemented is returned when the host does not know the method.
var errNotImplemented = errors.New("method not implemented")

func newCallCmd() *cobra.Command {
	var f clientFlags

	cmd := &cobra.Command{
		Use:   "call <channel> <method> [json-args]",
		Short: "Invoke a method on a running host",
		Example: `  channelhost call method.channel.example/getString getStringMethodChannel
  channelhost call method.channel.example/voidMethod voidMethodChannel`,
		Args: cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			var rawArgs json.RawMessage
			if len(args) == 3 {
				if !json.Valid([]byte(args[2])) {
					return fmt.Errorf("json-args is not valid JSON")
				}
				rawArgs = json.RawMessage(args[2])
			}

			result, err := callMethod(cmd, &f, args[0], args[1], rawArgs)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(result))
			return nil
		},
	}
	f.register(cmd)
	return cmd
}

// callMethod sends one method.call and waits for the reply carrying its id.
// It returns the JSON-encoded result.
func callMethod(cmd *cobra.Command, f *clientFlags, channelName, method string, args json.RawMessage) (json.RawMessage, error) {
	conn, err := f.dial(cmd.Context())
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	id := uuid.NewString()
	call := server.Message{
		Type:    server.MessageTypeMethodCall,
		Payload: server.MethodCallPayload{ID: id, Channel: channelName, Method: method, Args: args},
	}
	if err := conn.WriteJSON(call); err != nil {
		return nil, fmt.Errorf("send call: %w", err)
	}

	for {
		conn.SetReadDeadline(time.Now().Add(f.timeout))
		var env envelope
		if err := conn.ReadJSON(&env); err != nil {
			return nil, fmt.Errorf("read reply: %w", err)
		}

		switch env.Type {
		case server.MessageTypeMethodResult:
			var p struct {
				ID     string          `json:"id"`
				Result json.RawMessage `json:"result"`
			}
			if err := json.Unmarshal(env.Payload, &p); err != nil || p.ID != id {
				continue
			}
			return p.Result, nil

		case server.MessageTypeMethodError:
			var p server.MethodErrorPayload
			if err := json.Unmarshal(env.Payload, &p); err != nil || p.ID != id {
				continue
			}
			return nil, fmt.Errorf("%s: %s", p.Code, p.Message)

		case server.MessageTypeMethodNotImplemented:
			var p server.MethodNotImplementedPayload
			if err := json.Unmarshal(env.Payload, &p); err != nil || p.ID != id {
				continue
			}
			return nil, fmt.Errorf("%s on %s: %w", method, channelName, errNotImplemented)

		case server.MessageTypeError:
			var p server.ErrorPayload
			if err := json.Unmarshal(env.Payload, &p); err != nil {
				continue
			}
			return nil, fmt.Errorf("%s: %s", p.Code, p.Message)
		}
	}
}

// envelope is a host message with its payload left encoded.
type envelope struct {
	Type    server.MessageType `json:"type"`
	Payload json.RawMessage    `json:"payload"`
}

// Package server exposes the channel registry to remote clients over
// WebSocket. Clients call methods on method channels and listen to event
// channels; the host answers calls and pushes events as JSON envelopes.
package server

import (
	"encoding/json"

	"github.com/channelhost/host/internal/bridge"
	"github.com/channelhost/host/internal/channel"
)

// MessageType identifies the kind of message being sent over WebSocket.
// Each type has a specific payload structure defined below.
type MessageType string

const (
	// MessageTypeMethodCall is sent by clients to invoke a method.
	// Payload: MethodCallPayload
	MessageTypeMethodCall MessageType = "method.call"

	// MessageTypeMethodResult answers a successful call.
	// Payload: MethodResultPayload
	MessageTypeMethodResult MessageType = "method.result"

	// MessageTypeMethodError answers a call that failed.
	// Payload: MethodErrorPayload
	MessageTypeMethodError MessageType = "method.error"

	// MessageTypeMethodNotImplemented answers a call to an unknown method.
	// Payload: MethodNotImplementedPayload
	MessageTypeMethodNotImplemented MessageType = "method.not_implemented"

	// MessageTypeEventListen is sent by clients to attach to an event channel.
	// Payload: StreamPayload
	MessageTypeEventListen MessageType = "event.listen"

	// MessageTypeEventCancel is sent by clients to detach from an event channel.
	// Payload: StreamPayload
	MessageTypeEventCancel MessageType = "event.cancel"

	// MessageTypeEvent carries one success event.
	// Payload: EventPayload
	MessageTypeEvent MessageType = "event"

	// MessageTypeEventError carries one structured error event.
	// Payload: EventErrorPayload
	MessageTypeEventError MessageType = "event.error"

	// MessageTypeError reports a protocol-level error.
	// Payload: ErrorPayload
	MessageTypeError MessageType = "error"
)

// Message is the envelope for every WebSocket frame.
type Message struct {
	Type    MessageType `json:"type"`
	Payload any         `json:"payload,omitempty"`
}

// inboundMessage defers payload decoding until the type is known.
type inboundMessage struct {
	Type    MessageType     `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// MethodCallPayload is the payload of a method.call message.
type MethodCallPayload struct {
	ID      string          `json:"id"`
	Channel string          `json:"channel"`
	Method  string          `json:"method"`
	Args    json.RawMessage `json:"args,omitempty"`
}

// MethodResultPayload is the payload of a method.result message. Result is
// null for void methods.
type MethodResultPayload struct {
	ID     string `json:"id"`
	Result any    `json:"result"`
}

// MethodErrorPayload is the payload of a method.error message.
type MethodErrorPayload struct {
	ID      string `json:"id"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details"`
}

// MethodNotImplementedPayload is the payload of a method.not_implemented message.
type MethodNotImplementedPayload struct {
	ID string `json:"id"`
}

// StreamPayload names the event channel in listen and cancel messages.
type StreamPayload struct {
	Channel string `json:"channel"`
}

// EventPayload is the payload of an event message.
type EventPayload struct {
	Channel string `json:"channel"`
	Data    any    `json:"data"`
}

// EventErrorPayload is the payload of an event.error message.
type EventErrorPayload struct {
	Channel string `json:"channel"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details"`
}

// ErrorPayload is the payload of an error message.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewMethodResultMessage creates a method.result message.
func NewMethodResultMessage(id string, result any) Message {
	return Message{Type: MessageTypeMethodResult, Payload: MethodResultPayload{ID: id, Result: result}}
}

// NewMethodErrorMessage creates a method.error message.
func NewMethodErrorMessage(id string, ce *channel.ChannelError) Message {
	return Message{Type: MessageTypeMethodError, Payload: MethodErrorPayload{
		ID:      id,
		Code:    ce.Code,
		Message: ce.Message,
		Details: ce.Details,
	}}
}

// NewMethodNotImplementedMessage creates a method.not_implemented message.
func NewMethodNotImplementedMessage(id string) Message {
	return Message{Type: MessageTypeMethodNotImplemented, Payload: MethodNotImplementedPayload{ID: id}}
}

// NewStreamEventMessage converts a bridge event into an event or event.error
// message for the named channel.
func NewStreamEventMessage(channelName string, ev bridge.Event) Message {
	if ev.IsError() {
		return Message{Type: MessageTypeEventError, Payload: EventErrorPayload{
			Channel: channelName,
			Code:    ev.Code,
			Message: ev.Message,
		}}
	}
	return Message{Type: MessageTypeEvent, Payload: EventPayload{Channel: channelName, Data: ev.Payload()}}
}

// NewErrorMessage creates an error message.
func NewErrorMessage(code, message string) Message {
	return Message{Type: MessageTypeError, Payload: ErrorPayload{Code: code, Message: message}}
}

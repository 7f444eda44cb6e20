// Package channel provides named method and event channels between the host
// and a remote framework runtime.
//
// A MethodChannel answers one request with one reply. An EventChannel hands
// a remote listener to a StreamHandler, which pushes events until the
// listener cancels. Channels are addressed by name through a Registry.
package channel

import (
	"encoding/json"
)

// MessageCodec encodes and decodes channel arguments and results.
type MessageCodec interface {
	Encode(value any) ([]byte, error)
	Decode(data []byte) (any, error)
}

// JSONCodec implements MessageCodec using JSON encoding.
type JSONCodec struct{}

// Encode serializes the value to JSON bytes.
func (JSONCodec) Encode(value any) ([]byte, error) {
	return json.Marshal(value)
}

// Decode deserializes JSON bytes to a Go value. Empty input decodes to nil.
func (JSONCodec) Decode(data []byte) (any, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var result any
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, err
	}
	return result, nil
}

// DefaultCodec is the codec used by the transport.
var DefaultCodec MessageCodec = JSONCodec{}

// ChannelError is a structured error value sent to the remote side, either
// as a method reply or as an event on a stream.
type ChannelError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details"`
}

func (e *ChannelError) Error() string {
	if e.Message != "" {
		return e.Code + ": " + e.Message
	}
	return e.Code
}

// NewChannelError creates a ChannelError without details.
func NewChannelError(code, message string) *ChannelError {
	return &ChannelError{Code: code, Message: message}
}

// Package errors provides standardized error codes for the channel host.
//
// Error codes follow the format {domain}.{error} where:
//   - domain: The subsystem that generated the error (channel, server, battery, storage)
//   - error: The specific error type within that domain
//
// These codes are stable and can be used by remote clients for programmatic
// error handling. Human-readable messages are provided alongside codes.
package errors

import (
	"errors"
	"fmt"
)

// Error codes by domain.
const (
	// Channel domain - method channel routing
	CodeChannelNotFound       = "channel.not_found"       // No channel registered under this name
	CodeChannelNotImplemented = "channel.not_implemented" // Channel exists but does not know the method
	CodeChannelInvalidArgs    = "channel.invalid_args"    // Arguments could not be decoded

	// Stream domain - event stream bridge
	CodeStreamNotFound = "stream.not_found" // No event stream registered under this name
	CodeStreamNotOwner = "stream.not_owner" // Cancel from a client that does not own the stream

	// Server domain - WebSocket and network errors
	CodeServerUpgradeFailed  = "server.upgrade_failed"  // WebSocket upgrade failed
	CodeServerInvalidMessage = "server.invalid_message" // Malformed or invalid message
	CodeServerHandlerMissing = "server.handler_missing" // No handler for message type
	CodeServerSendFailed     = "server.send_failed"     // Failed to send message
	CodeServerRateLimited    = "server.rate_limited"    // Too many method calls per second

	// Auth domain
	CodeAuthRequired = "auth.required" // Authentication required
	CodeAuthInvalid  = "auth.invalid"  // Invalid token

	// Battery domain - OS power source readings
	CodeBatteryReadFailed  = "battery.read_failed"  // Reading the power source failed
	CodeBatteryUnsupported = "battery.unsupported"  // No battery source on this host
	CodeBatteryWatchFailed = "battery.watch_failed" // File watcher could not be installed

	// Storage domain - delivery audit
	CodeStorageOpenFailed  = "storage.open_failed"  // Database open failed
	CodeStorageQueryFailed = "storage.query_failed" // Database query failed
	CodeStorageSaveFailed  = "storage.save_failed"  // Failed to save data

	// Config domain
	CodeConfigInvalid = "config.invalid" // Configuration failed validation

	// General domain - catch-all errors
	CodeUnknown  = "error.unknown"  // Unknown error
	CodeInternal = "error.internal" // Internal server error
)

// CodedError wraps an error with a stable error code.
// This allows errors to carry both a code for programmatic handling
// and a message for human consumption.
type CodedError struct {
	Code    string // Stable error code (e.g., "channel.not_found")
	Message string // Human-readable error message
	Cause   error  // Underlying error (may be nil)
}

// Error implements the error interface.
func (e *CodedError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *CodedError) Unwrap() error {
	return e.Cause
}

// Is reports whether target is a CodedError with the same code. This lets
// package-level sentinels match errors that carry a more specific message.
func (e *CodedError) Is(target error) bool {
	var t *CodedError
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// New creates a new CodedError with the given code and message.
func New(code, message string) *CodedError {
	return &CodedError{
		Code:    code,
		Message: message,
	}
}

// Wrap creates a new CodedError wrapping an existing error.
func Wrap(code, message string, cause error) *CodedError {
	return &CodedError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// GetCode extracts the error code from an error.
// Falls back to CodeUnknown for errors that carry no code.
func GetCode(err error) string {
	if err == nil {
		return ""
	}

	var coded *CodedError
	if errors.As(err, &coded) {
		return coded.Code
	}

	return CodeUnknown
}

// GetMessage extracts a human-readable message from an error.
func GetMessage(err error) string {
	if err == nil {
		return ""
	}

	var coded *CodedError
	if errors.As(err, &coded) {
		return coded.Message
	}

	return err.Error()
}

// ToCodeAndMessage extracts both code and message from an error.
// This is the primary function for converting errors to client responses.
func ToCodeAndMessage(err error) (code, message string) {
	if err == nil {
		return "", ""
	}

	var coded *CodedError
	if errors.As(err, &coded) {
		return coded.Code, coded.Message
	}

	return CodeUnknown, err.Error()
}

// IsCode checks if an error has a specific error code.
func IsCode(err error, code string) bool {
	return GetCode(err) == code
}

// ChannelNotFound creates a "channel.not_found" error.
func ChannelNotFound(channel string) *CodedError {
	return New(CodeChannelNotFound, fmt.Sprintf("channel %q is not registered", channel))
}

// NotImplemented creates a "channel.not_implemented" error.
func NotImplemented(channel, method string) *CodedError {
	return New(CodeChannelNotImplemented, fmt.Sprintf("method %q not implemented on %q", method, channel))
}

// StreamNotFound creates a "stream.not_found" error.
func StreamNotFound(channel string) *CodedError {
	return New(CodeStreamNotFound, fmt.Sprintf("event stream %q is not registered", channel))
}

// InvalidMessage creates a "server.invalid_message" error.
func InvalidMessage(reason string) *CodedError {
	return New(CodeServerInvalidMessage, reason)
}

// RateLimited creates a "server.rate_limited" error.
func RateLimited() *CodedError {
	return New(CodeServerRateLimited, "too many method calls, slow down")
}

// BatteryReadFailed creates a "battery.read_failed" error.
func BatteryReadFailed(source string, cause error) *CodedError {
	return Wrap(CodeBatteryReadFailed, fmt.Sprintf("read battery state from %s", source), cause)
}

// ConfigInvalid creates a "config.invalid" error.
func ConfigInvalid(reason string) *CodedError {
	return New(CodeConfigInvalid, reason)
}

// Internal creates an "error.internal" error.
func Internal(message string, cause error) *CodedError {
	return Wrap(CodeInternal, message, cause)
}

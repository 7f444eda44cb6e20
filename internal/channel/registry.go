package channel

import (
	"errors"
	"sync"

	"github.com/channelhost/host/internal/bridge"
	hostErrors "github.com/channelhost/host/internal/errors"
)

// Sentinels. Errors returned by Dispatch match these with errors.Is.
var (
	ErrChannelNotFound      = hostErrors.New(hostErrors.CodeChannelNotFound, "channel not found")
	ErrMethodNotImplemented = hostErrors.New(hostErrors.CodeChannelNotImplemented, "method not implemented")
	ErrStreamNotFound       = hostErrors.New(hostErrors.CodeStreamNotFound, "event stream not found")
)

// MethodHandler handles a method call and returns its result. A nil result
// with a nil error is a void success.
type MethodHandler func(method string, args any) (any, error)

// MethodChannel is a named request/response channel.
type MethodChannel struct {
	name    string
	handler MethodHandler
}

// Name returns the channel name.
func (c *MethodChannel) Name() string { return c.name }

func (c *MethodChannel) handleCall(method string, args any) (any, error) {
	if c.handler == nil {
		return nil, hostErrors.NotImplemented(c.name, method)
	}
	return c.handler(method, args)
}

// StreamHandler is the listen/cancel pair behind an event channel.
type StreamHandler interface {
	OnListen(sink bridge.Sink) error
	OnCancel() error
}

// EventChannel is a named push channel.
type EventChannel struct {
	name    string
	handler StreamHandler
}

// Name returns the channel name.
func (c *EventChannel) Name() string { return c.name }

// Handler returns the stream handler behind the channel.
func (c *EventChannel) Handler() StreamHandler { return c.handler }

// Registry manages all registered channels by name.
type Registry struct {
	mu      sync.RWMutex
	methods map[string]*MethodChannel
	events  map[string]*EventChannel
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		methods: make(map[string]*MethodChannel),
		events:  make(map[string]*EventChannel),
	}
}

// NewMethodChannel registers and returns a method channel.
func (r *Registry) NewMethodChannel(name string, handler MethodHandler) *MethodChannel {
	ch := &MethodChannel{name: name, handler: handler}
	r.mu.Lock()
	r.methods[name] = ch
	r.mu.Unlock()
	return ch
}

// NewEventChannel registers and returns an event channel.
func (r *Registry) NewEventChannel(name string, handler StreamHandler) *EventChannel {
	ch := &EventChannel{name: name, handler: handler}
	r.mu.Lock()
	r.events[name] = ch
	r.mu.Unlock()
	return ch
}

// HasMethodChannel reports whether name is a registered method channel.
func (r *Registry) HasMethodChannel(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.methods[name] != nil
}

// EventChannel looks up an event channel.
func (r *Registry) EventChannel(name string) (*EventChannel, error) {
	r.mu.RLock()
	ch := r.events[name]
	r.mu.RUnlock()
	if ch == nil {
		return nil, hostErrors.StreamNotFound(name)
	}
	return ch, nil
}

// Names lists registered method and event channel names.
func (r *Registry) Names() (methods, events []string) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for name := range r.methods {
		methods = append(methods, name)
	}
	for name := range r.events {
		events = append(events, name)
	}
	return methods, events
}

// Dispatch routes a method call to its channel.
func (r *Registry) Dispatch(channel, method string, args any) (any, error) {
	r.mu.RLock()
	ch := r.methods[channel]
	r.mu.RUnlock()
	if ch == nil {
		return nil, hostErrors.ChannelNotFound(channel)
	}
	return ch.handleCall(method, args)
}

// IsNotImplemented reports whether err is the not-implemented sentinel.
func IsNotImplemented(err error) bool {
	return errors.Is(err, ErrMethodNotImplemented)
}

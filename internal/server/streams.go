package server

import (
	"sync"

	"github.com/channelhost/host/internal/bridge"
	"github.com/channelhost/host/internal/channel"
	hostErrors "github.com/channelhost/host/internal/errors"
	"github.com/channelhost/host/internal/storage"
)

// streamRoute tracks which client currently owns an event channel.
type streamRoute struct {
	handler channel.StreamHandler
	owner   *Client
}

// streamTable serializes listen and cancel across clients. The handler
// holds a single sink, so the most recent listener owns the stream.
type streamTable struct {
	mu     sync.Mutex
	routes map[string]*streamRoute
}

func newStreamTable() *streamTable {
	return &streamTable{routes: make(map[string]*streamRoute)}
}

func (t *streamTable) snapshot() map[string]bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]bool, len(t.routes))
	for name, route := range t.routes {
		out[name] = route.owner != nil
	}
	return out
}

func (t *streamTable) attachedCount() int {
	n := 0
	for _, route := range t.routes {
		if route.owner != nil {
			n++
		}
	}
	return n
}

// listen makes c the owner of the named event channel. The previous owner,
// if any, stops receiving events as soon as the handler swaps sinks.
func (s *Server) listen(c *Client, name string) error {
	ec, err := s.registry.EventChannel(name)
	if err != nil {
		return err
	}

	t := s.streams
	t.mu.Lock()
	defer t.mu.Unlock()

	// Checked under the table lock so Stop's detachAll cannot miss us.
	if s.isStopped() {
		return hostErrors.New(hostErrors.CodeInternal, "server is stopping")
	}

	route := t.routes[name]
	if route == nil {
		route = &streamRoute{handler: ec.Handler()}
		t.routes[name] = route
	}

	prev := route.owner
	route.owner = c
	// Recorded first: OnListen delivers the snapshot before it returns.
	s.recordAudit(storage.OpListen, name, c.id, bridge.Event{})
	if err := route.handler.OnListen(s.sinkFor(c, name)); err != nil {
		route.owner = prev
		return hostErrors.Internal("listen on "+name, err)
	}
	streamListeners.Set(float64(t.attachedCount()))

	if prev != nil && prev != c {
		prev.logger.Info().Str("channel", name).Str("new_owner", c.id).Msg("stream taken over")
	}
	c.logger.Info().Str("channel", name).Msg("stream listener attached")
	return nil
}

// cancel detaches the named channel if c owns it. Cancelling a stream
// nobody listens to is a no-op.
func (s *Server) cancel(c *Client, name string) error {
	if _, err := s.registry.EventChannel(name); err != nil {
		return err
	}

	t := s.streams
	t.mu.Lock()
	defer t.mu.Unlock()

	route := t.routes[name]
	if route == nil || route.owner == nil {
		return nil
	}
	if route.owner != c {
		return hostErrors.New(hostErrors.CodeStreamNotOwner, "stream "+name+" is owned by another client")
	}

	s.detachLocked(name, route)
	return nil
}

// detachClient cancels every stream c owns. Called when c disconnects.
func (s *Server) detachClient(c *Client) {
	t := s.streams
	t.mu.Lock()
	defer t.mu.Unlock()
	for name, route := range t.routes {
		if route.owner == c {
			s.detachLocked(name, route)
		}
	}
}

// detachAll cancels every attached stream. Called on shutdown.
func (s *Server) detachAll() {
	t := s.streams
	t.mu.Lock()
	defer t.mu.Unlock()
	for name, route := range t.routes {
		if route.owner != nil {
			s.detachLocked(name, route)
		}
	}
}

// detachLocked cancels one route. Caller must hold s.streams.mu.
func (s *Server) detachLocked(name string, route *streamRoute) {
	owner := route.owner
	if err := route.handler.OnCancel(); err != nil {
		s.logger.Warn().Err(err).Str("channel", name).Msg("stream cancel failed")
	}
	route.owner = nil
	streamListeners.Set(float64(s.streams.attachedCount()))

	owner.logger.Info().Str("channel", name).Msg("stream listener detached")
	s.recordAudit(storage.OpCancel, name, owner.id, bridge.Event{})
}

// sinkFor builds the sink handed to the stream handler for client c. It is
// called with the handler's lock held, so it only ever enqueues.
func (s *Server) sinkFor(c *Client, name string) bridge.Sink {
	return bridge.SinkFunc(func(ev bridge.Event) {
		if c.closing() {
			c.logger.Debug().Str("channel", name).Stringer("kind", ev.Kind).Msg("event skipped: client closing")
			return
		}
		if !c.trySend(NewStreamEventMessage(name, ev)) {
			eventsDroppedTotal.WithLabelValues(name).Inc()
			c.logger.Warn().Str("channel", name).Stringer("kind", ev.Kind).Msg("event dropped: client buffer full")
			return
		}
		eventsDeliveredTotal.WithLabelValues(name, ev.Kind.String()).Inc()
		s.recordAudit(storage.OpEvent, name, c.id, ev)
	})
}

// unregister removes c from the client set and releases its streams.
func (s *Server) unregister(c *Client) {
	s.mu.Lock()
	_, ok := s.clients[c]
	delete(s.clients, c)
	s.mu.Unlock()
	if ok {
		connectedClients.Dec()
	}
	s.detachClient(c)
}

func (s *Server) isStopped() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stopped
}

package server

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/channelhost/host/internal/auth"
	"github.com/channelhost/host/internal/log"
)

// NewServer creates a new WebSocket server.
// Call StartAsync() to begin accepting connections, or mount Handler()
// on an existing HTTP server.
func NewServer(cfg Config) *Server {
	return &Server{
		addr:      cfg.Addr,
		registry:  cfg.Registry,
		tokens:    auth.NewTokenValidator(cfg.AuthTokenHash),
		rateLimit: cfg.MethodRateLimit,
		clients:   make(map[*Client]bool),
		streams:   newStreamTable(),
		upgrader: websocket.Upgrader{
			// Remote runtimes connect from arbitrary origins; access is
			// controlled by the bearer token instead.
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		startTime: time.Now(),
		logger:    log.WithComponent("server"),
	}
}

// SetAuditStore enables the delivery audit. Rows beyond maxRows are pruned.
// Must be called before the server starts accepting connections.
func (s *Server) SetAuditStore(store AuditStore, maxRows int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.audit != nil {
		s.audit.close()
	}
	s.audit = nil
	if store != nil {
		s.audit = newAuditor(store, maxRows)
	}
}

// SetStatusHandler sets the handler for the /status endpoint.
func (s *Server) SetStatusHandler(handler http.Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statusHandler = handler
}

// Addr returns the server's listening address.
func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.addr
}

// RequireAuth reports whether clients must present a bearer token.
func (s *Server) RequireAuth() bool {
	return s.tokens.Enabled()
}

// Uptime returns how long ago the server was created.
func (s *Server) Uptime() time.Duration {
	return time.Since(s.startTime)
}

// ClientCount returns the number of connected clients.
func (s *Server) ClientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

// StreamOwners reports, for every event channel that has ever been listened
// to, whether a listener is currently attached.
func (s *Server) StreamOwners() map[string]bool {
	return s.streams.snapshot()
}

func (s *Server) auditor() *auditor {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.audit
}

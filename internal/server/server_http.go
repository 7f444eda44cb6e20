package server

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	hostErrors "github.com/channelhost/host/internal/errors"
)

// Handler returns the HTTP handler with all endpoints mounted.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Get("/ws", s.handleWebSocket)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	r.Handle("/metrics", promhttp.Handler())

	s.mu.RLock()
	statusHandler := s.statusHandler
	s.mu.RUnlock()
	if statusHandler != nil {
		r.Handle("/status", statusHandler)
	}

	return r
}

// handleWebSocket authenticates and upgrades a connection, then starts the
// client's read and write pumps.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if err := s.tokens.ValidateToken(extractBearerToken(r)); err != nil {
		code, message := hostErrors.ToCodeAndMessage(err)
		s.logger.Warn().Str("code", code).Str("remote", r.RemoteAddr).Msg("connection rejected: " + message)
		http.Error(w, "Unauthorized: "+message, http.StatusUnauthorized)
		return
	}

	s.mu.RLock()
	stopped := s.stopped
	s.mu.RUnlock()
	if stopped {
		http.Error(w, "server stopping", http.StatusServiceUnavailable)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn().Err(err).Str("code", hostErrors.CodeServerUpgradeFailed).Msg("websocket upgrade failed")
		return
	}

	id := uuid.NewString()
	client := &Client{
		id:     id,
		conn:   conn,
		send:   make(chan Message, channelBufferSize),
		done:   make(chan struct{}),
		server: s,
		logger: s.logger.With().Str("client", id).Logger(),
	}
	if s.rateLimit > 0 {
		client.callLimiter = rate.NewLimiter(rate.Limit(s.rateLimit), s.rateLimit)
	}

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		conn.Close()
		return
	}
	s.clients[client] = true
	count := len(s.clients)
	s.mu.Unlock()
	connectedClients.Inc()

	client.logger.Info().Int("clients", count).Str("remote", r.RemoteAddr).Msg("client connected")

	go client.writePump()
	go client.readPump()
}

// extractBearerToken extracts the token from an Authorization header.
// Supports both "Bearer <token>" header and "token" query parameter as fallback.
func extractBearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	const bearerPrefix = "bearer "
	if len(auth) > len(bearerPrefix) && strings.EqualFold(auth[:len(bearerPrefix)], bearerPrefix) {
		return auth[len(bearerPrefix):]
	}

	// Some WebSocket clients can't set custom headers.
	if token := r.URL.Query().Get("token"); token != "" {
		return token
	}

	return ""
}

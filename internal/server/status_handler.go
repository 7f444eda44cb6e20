package server

import (
	"encoding/json"
	"net"
	"net/http"

	"github.com/channelhost/host/internal/battery"
)

// StatusResponse contains host status information returned by the /status endpoint.
// This structure is used by the CLI to display host status to the user.
type StatusResponse struct {
	// ListeningAddress is the address the host is listening on.
	ListeningAddress string `json:"listening_address"`

	// ConnectedClients is the number of currently connected WebSocket clients.
	ConnectedClients int `json:"connected_clients"`

	// UptimeSeconds is how long the host has been running, in seconds.
	UptimeSeconds int64 `json:"uptime_seconds"`

	// TLSEnabled indicates whether the host is using TLS encryption.
	TLSEnabled bool `json:"tls_enabled"`

	// RequireAuth indicates whether clients must present a bearer token.
	RequireAuth bool `json:"require_auth"`

	// Streams maps each event channel to whether a listener is attached.
	Streams map[string]bool `json:"streams"`

	// BatterySource names the reader behind the battery channel.
	BatterySource string `json:"battery_source,omitempty"`

	// BatteryState is the last raw reading, if monitoring has run.
	BatteryState string `json:"battery_state,omitempty"`
}

// BatteryStatus exposes the notifier's last reading without taking a new one.
type BatteryStatus interface {
	Source() string
	Last() battery.RawState
}

// StatusHandler handles HTTP requests for host status.
// This endpoint is restricted to local machine addresses.
type StatusHandler struct {
	server     *Server
	tlsEnabled bool
	battery    BatteryStatus
}

// NewStatusHandler creates a new StatusHandler. battery may be nil.
func NewStatusHandler(s *Server, tlsEnabled bool, battery BatteryStatus) *StatusHandler {
	return &StatusHandler{
		server:     s,
		tlsEnabled: tlsEnabled,
		battery:    battery,
	}
}

// ServeHTTP handles GET /status. Non-local requests receive 403 and other
// methods receive 405.
func (h *StatusHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !isLoopbackRequest(r) {
		http.Error(w, "Forbidden: status endpoint is local-only", http.StatusForbidden)
		return
	}
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	resp := StatusResponse{
		ListeningAddress: h.server.Addr(),
		ConnectedClients: h.server.ClientCount(),
		UptimeSeconds:    int64(h.server.Uptime().Seconds()),
		TLSEnabled:       h.tlsEnabled,
		RequireAuth:      h.server.RequireAuth(),
		Streams:          h.server.StreamOwners(),
	}
	if h.battery != nil {
		resp.BatterySource = h.battery.Source()
		resp.BatteryState = string(h.battery.Last())
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
	}
}

// isLoopbackRequest reports whether the request came from the local machine.
// Unparseable addresses are rejected.
func isLoopbackRequest(r *http.Request) bool {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return false
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return false
	}
	return ip.IsLoopback()
}

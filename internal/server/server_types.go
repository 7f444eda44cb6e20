package server

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/channelhost/host/internal/auth"
	"github.com/channelhost/host/internal/channel"
)

// channelBufferSize is the buffer size for per-client send channels. If the
// buffer fills up, events for that slow client are dropped rather than
// blocking the event stream.
const channelBufferSize = 256

// Config holds the settings a Server is created with.
type Config struct {
	// Addr is the address to listen on (e.g., "127.0.0.1:7171").
	Addr string

	// Registry resolves method and event channels by name.
	Registry *channel.Registry

	// AuthTokenHash is a bcrypt hash of the bearer token clients must
	// present. Empty disables authentication.
	AuthTokenHash string

	// MethodRateLimit is the number of method calls per second each client
	// may make. Zero or less disables the limit.
	MethodRateLimit int
}

// Server manages WebSocket connections and routes channel traffic.
type Server struct {
	// addr is the address to listen on. After StartAsync it holds the
	// bound address, which matters when the port was 0.
	addr string

	registry  *channel.Registry
	tokens    *auth.TokenValidator
	rateLimit int

	// upgrader converts HTTP connections to WebSocket connections.
	upgrader websocket.Upgrader

	// clients tracks all connected WebSocket clients.
	clients map[*Client]bool

	// mu protects addr, clients, stopped and the optional collaborators.
	mu sync.RWMutex

	// stopped indicates whether the server has been stopped.
	stopped bool

	// streams maps event channels to the client that owns them.
	streams *streamTable

	// audit records stream activity. Nil when auditing is disabled.
	audit *auditor

	// statusHandler serves /status. Set via SetStatusHandler.
	statusHandler http.Handler

	// httpServer is the underlying HTTP server for graceful shutdown.
	httpServer *http.Server

	startTime time.Time
	logger    zerolog.Logger
}

// Client represents a single WebSocket connection.
// Each client has its own goroutine for writing messages,
// which prevents a slow client from blocking event delivery.
type Client struct {
	// id identifies the connection in logs and audit rows.
	id string

	// conn is the underlying WebSocket connection.
	conn *websocket.Conn

	// send is a buffered channel for outgoing messages.
	// The write goroutine reads from this and sends to the WebSocket.
	send chan Message

	// done is closed to signal the client should shut down.
	// All senders check done before sending.
	done chan struct{}

	// sendOnce ensures done is only closed once.
	// Both Stop() and readPump() may try to close it.
	sendOnce sync.Once

	// server is a reference back to the parent server.
	server *Server

	// callLimiter rate-limits method.call messages. Nil means unlimited.
	callLimiter *rate.Limiter

	logger zerolog.Logger
}

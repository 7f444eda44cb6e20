package server

import (
	"context"
	"crypto/tls"
	"errors"
	"net"
	"net/http"
	"time"

	hostErrors "github.com/channelhost/host/internal/errors"
)

// shutdownTimeout bounds how long Stop waits for in-flight HTTP requests.
const shutdownTimeout = 5 * time.Second

// TLSConfig holds the TLS configuration for the server.
type TLSConfig struct {
	// CertPath is the path to the TLS certificate file.
	CertPath string
	// KeyPath is the path to the TLS private key file.
	KeyPath string
}

// StartAsync starts the server in a goroutine and returns any startup errors.
//
// The returned channel receives nil if startup succeeded, or an error if
// the listener could not be created (e.g., port already in use).
func (s *Server) StartAsync() <-chan error {
	return s.start(nil)
}

// StartAsyncTLS is the TLS-enabled version of StartAsync. The server then
// only accepts wss:// connections.
func (s *Server) StartAsyncTLS(tlsCfg TLSConfig) <-chan error {
	return s.start(&tlsCfg)
}

func (s *Server) start(tlsCfg *TLSConfig) <-chan error {
	errCh := make(chan error, 1)
	fail := func(err error) <-chan error {
		errCh <- err
		close(errCh)
		return errCh
	}

	// Listen first so port conflicts surface immediately.
	ln, err := net.Listen("tcp", s.Addr())
	if err != nil {
		return fail(hostErrors.Wrap(hostErrors.CodeInternal, "listen on "+s.Addr(), err))
	}

	if tlsCfg != nil {
		cert, err := tls.LoadX509KeyPair(tlsCfg.CertPath, tlsCfg.KeyPath)
		if err != nil {
			ln.Close()
			return fail(hostErrors.Wrap(hostErrors.CodeInternal, "load TLS certificate", err))
		}
		ln = tls.NewListener(ln, &tls.Config{
			Certificates: []tls.Certificate{cert},
			MinVersion:   tls.VersionTLS12,
		})
	}

	httpServer := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.mu.Lock()
	s.addr = ln.Addr().String()
	s.httpServer = httpServer
	s.mu.Unlock()

	s.logger.Info().Str("addr", ln.Addr().String()).Bool("tls", tlsCfg != nil).Msg("server listening")
	errCh <- nil
	close(errCh)

	go func() {
		if err := httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("server error")
		}
	}()

	return errCh
}

// Stop gracefully shuts down the server. It cancels every attached event
// stream, signals all clients to close, flushes the audit queue and stops
// the HTTP server. Calling Stop more than once is a no-op.
func (s *Server) Stop() error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	clients := make([]*Client, 0, len(s.clients))
	for client := range s.clients {
		clients = append(clients, client)
	}
	httpServer := s.httpServer
	audit := s.audit
	s.mu.Unlock()

	// Streams first, so no event is queued to a client that is closing.
	s.detachAll()

	for _, client := range clients {
		client.closeSend()
	}

	if audit != nil {
		audit.close()
	}

	s.logger.Info().Int("clients", len(clients)).Msg("server stopping")

	if httpServer == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		return httpServer.Close()
	}
	return nil
}

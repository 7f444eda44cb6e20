package server

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/channelhost/host/internal/bridge"
	"github.com/channelhost/host/internal/log"
	"github.com/channelhost/host/internal/storage"
)

// auditQueueSize bounds the pending audit rows. Rows beyond it are dropped.
const auditQueueSize = 1024

// AuditStore persists stream audit rows.
type AuditStore interface {
	SaveAndPruneAudit(entry *storage.AuditEntry, maxRows int) error
}

// auditor writes audit rows off the delivery path. Sinks run under the
// stream handler's lock, so they only enqueue.
type auditor struct {
	store   AuditStore
	maxRows int
	logger  zerolog.Logger

	mu     sync.RWMutex
	closed bool
	queue  chan *storage.AuditEntry
	done   chan struct{}
}

func newAuditor(store AuditStore, maxRows int) *auditor {
	a := &auditor{
		store:   store,
		maxRows: maxRows,
		logger:  log.WithComponent("audit"),
		queue:   make(chan *storage.AuditEntry, auditQueueSize),
		done:    make(chan struct{}),
	}
	go a.run()
	return a
}

func (a *auditor) run() {
	defer close(a.done)
	for entry := range a.queue {
		if err := a.store.SaveAndPruneAudit(entry, a.maxRows); err != nil {
			a.logger.Warn().Err(err).Str("operation", entry.Operation).Msg("audit write failed")
		}
	}
}

func (a *auditor) record(entry *storage.AuditEntry) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return
	}
	select {
	case a.queue <- entry:
	default:
		a.logger.Warn().Str("operation", entry.Operation).Msg("audit queue full, row dropped")
	}
}

// close flushes pending rows and stops the writer.
func (a *auditor) close() {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	a.closed = true
	close(a.queue)
	a.mu.Unlock()
	<-a.done
}

func (s *Server) recordAudit(op, channelName, clientID string, ev bridge.Event) {
	a := s.auditor()
	if a == nil {
		return
	}
	entry := &storage.AuditEntry{
		Operation: op,
		Channel:   channelName,
		ClientID:  clientID,
		At:        time.Now(),
	}
	if op == storage.OpEvent {
		entry.Kind = ev.Kind.String()
		entry.Code = ev.Code
	}
	a.record(entry)
}

// Package bridge couples one OS battery subscription to one remote event sink.
//
// The bridge has two states. Detached holds no sink and keeps OS monitoring
// off. Attached holds exactly one sink and keeps monitoring on. The two are
// only ever changed together, by setSinkLocked, so "sink present" and
// "subscription active" cannot drift apart.
//
// Every transition runs under one mutex, including the delivery call, so an
// OS callback either completes before a cancel or observes the detached
// state and is dropped.
package bridge

import (
	"errors"
	"sync"

	"github.com/rs/zerolog"

	"github.com/channelhost/host/internal/battery"
	"github.com/channelhost/host/internal/log"
)

// ErrNilSink is returned by OnListen when called without a sink.
var ErrNilSink = errors.New("bridge: nil sink")

// Sink delivers one event to the remote consumer. Deliver is called with the
// bridge lock held; it must not block and must not call back into the bridge.
type Sink interface {
	Deliver(Event)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Event)

// Deliver implements Sink.
func (f SinkFunc) Deliver(e Event) { f(e) }

// Bridge is the event stream bridge for the battery channel.
type Bridge struct {
	mu       sync.Mutex
	notifier battery.Notifier
	sink     Sink
	// epoch counts Detached→Attached transitions. Each observer is bound to
	// the epoch it was registered in.
	epoch  uint64
	logger zerolog.Logger
}

// New creates a detached bridge around notifier.
func New(notifier battery.Notifier) *Bridge {
	return &Bridge{
		notifier: notifier,
		logger:   log.WithComponent("bridge"),
	}
}

// OnListen attaches sink and immediately delivers the current state to it.
// A second OnListen replaces the sink and re-delivers the snapshot without
// touching the OS subscription.
func (b *Bridge) OnListen(sink Sink) error {
	if sink == nil {
		return ErrNilSink
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	replaced := b.sink != nil
	b.setSinkLocked(sink)
	ev := Classify(b.notifier.Current())
	b.sink.Deliver(ev)

	b.logger.Debug().Bool("replaced", replaced).Stringer("snapshot", ev.Kind).Msg("listener attached")
	return nil
}

// OnCancel detaches the sink and turns OS monitoring off. It is safe to call
// any number of times. Once it returns no further delivery happens.
func (b *Bridge) OnCancel() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.sink == nil {
		return nil
	}
	b.setSinkLocked(nil)
	b.logger.Debug().Msg("listener detached")
	return nil
}

// Attached reports whether a sink is currently held.
func (b *Bridge) Attached() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sink != nil
}

// observerFor returns the notifier callback for one attachment.
func (b *Bridge) observerFor(epoch uint64) func(battery.RawState) {
	return func(raw battery.RawState) {
		b.handleRawState(epoch, raw)
	}
}

func (b *Bridge) handleRawState(epoch uint64, raw battery.RawState) {
	b.mu.Lock()
	defer b.mu.Unlock()

	// Observers are removed on detach, but one can already be in flight,
	// possibly across a cancel followed by a new listen.
	if b.sink == nil || epoch != b.epoch {
		return
	}
	b.sink.Deliver(Classify(raw))
}

// setSinkLocked is the only place sink and subscription change.
func (b *Bridge) setSinkLocked(sink Sink) {
	switch {
	case b.sink == nil && sink != nil:
		b.epoch++
		b.notifier.OnRawStateChanged(b.observerFor(b.epoch))
		b.notifier.Enable()
	case b.sink != nil && sink == nil:
		b.notifier.Disable()
		b.notifier.OnRawStateChanged(nil)
	}
	b.sink = sink
}

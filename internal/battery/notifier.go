package battery

import (
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/channelhost/host/internal/config"
	hostErrors "github.com/channelhost/host/internal/errors"
	"github.com/channelhost/host/internal/log"
)

// PollingNotifier turns a Reader into a change-notification stream.
//
// While enabled, a single goroutine re-reads the source on every tick (and
// on fsnotify writes for file-backed readers) and calls the observer when
// the reading differs from the previous one. Readings are delivered in the
// order they are taken.
type PollingNotifier struct {
	reader   Reader
	interval time.Duration
	logger   zerolog.Logger

	mu       sync.Mutex
	observer func(RawState)
	last     RawState
	enabled  bool
	gen      uint64
	stop     chan struct{}
}

// NewPollingNotifier creates a disabled notifier around reader.
func NewPollingNotifier(reader Reader, interval time.Duration) *PollingNotifier {
	if interval <= 0 {
		interval = time.Duration(config.DefaultBatteryPollMs) * time.Millisecond
	}
	return &PollingNotifier{
		reader:   reader,
		interval: interval,
		logger:   log.WithComponent("battery"),
		last:     RawUnknown,
	}
}

// New builds the notifier selected by cfg.
func New(cfg config.Battery) (*PollingNotifier, error) {
	var reader Reader
	switch cfg.Source {
	case "sysfs":
		reader = NewSysfsReader(cfg.Path)
	case "pmset":
		reader = NewPmsetReader()
	case "file":
		reader = &FileReader{Path: cfg.Path}
	case "auto", "":
		reader = defaultReader(runtime.GOOS)
	default:
		return nil, hostErrors.ConfigInvalid("unknown battery source " + cfg.Source)
	}
	return NewPollingNotifier(reader, cfg.PollInterval()), nil
}

func defaultReader(goos string) Reader {
	switch goos {
	case "linux", "android":
		return NewSysfsReader("")
	case "darwin":
		return NewPmsetReader()
	default:
		return unsupportedReader{goos: goos}
	}
}

// Source names the underlying reader.
func (n *PollingNotifier) Source() string { return n.reader.Source() }

// OnRawStateChanged implements Notifier.
func (n *PollingNotifier) OnRawStateChanged(fn func(RawState)) {
	n.mu.Lock()
	n.observer = fn
	n.mu.Unlock()
}

// Enabled reports whether monitoring is active.
func (n *PollingNotifier) Enabled() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.enabled
}

// Enable implements Notifier. It never calls the observer itself. The
// baseline it reads is what Current returns until the next change.
func (n *PollingNotifier) Enable() {
	n.mu.Lock()
	if n.enabled {
		n.mu.Unlock()
		return
	}
	n.enabled = true
	n.gen++
	gen := n.gen
	stop := make(chan struct{})
	n.stop = stop
	n.mu.Unlock()

	// Seed the baseline so the first tick only reports a real change.
	state := n.read()
	n.mu.Lock()
	if n.gen == gen {
		n.last = state
	}
	n.mu.Unlock()

	var watcher *fsnotify.Watcher
	if w, ok := n.reader.(watchable); ok && w.WatchPath() != "" {
		var err error
		watcher, err = n.watch(w.WatchPath())
		if err != nil {
			n.logger.Warn().Err(err).Str("path", w.WatchPath()).Msg("file watch unavailable, polling only")
		}
	}

	go n.run(gen, stop, watcher)
	n.logger.Debug().Str("source", n.reader.Source()).Dur("interval", n.interval).Msg("monitoring enabled")
}

// Disable implements Notifier. It does not wait for the polling goroutine;
// a reading that races with Disable is discarded by the generation check or
// by the observer's owner.
func (n *PollingNotifier) Disable() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if !n.enabled {
		return
	}
	n.enabled = false
	n.gen++
	close(n.stop)
	n.stop = nil
	n.logger.Debug().Str("source", n.reader.Source()).Msg("monitoring disabled")
}

// Current implements Notifier. While enabled it returns the reading the
// polling goroutine last committed, so the source is read once per attach
// and a snapshot never runs ahead of a change still being notified.
func (n *PollingNotifier) Current() RawState {
	n.mu.Lock()
	if n.enabled {
		defer n.mu.Unlock()
		return n.last
	}
	n.mu.Unlock()

	state := n.read()
	n.mu.Lock()
	if !n.enabled {
		n.last = state
	}
	n.mu.Unlock()
	return state
}

// Last returns the most recent reading without touching the source.
func (n *PollingNotifier) Last() RawState {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.last
}

func (n *PollingNotifier) read() RawState {
	state, err := n.reader.Read()
	if err != nil {
		n.logger.Debug().Err(err).Str("code", hostErrors.GetCode(err)).Msg("battery read failed")
		return RawUnknown
	}
	return state
}

func (n *PollingNotifier) watch(path string) (*fsnotify.Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, hostErrors.Wrap(hostErrors.CodeBatteryWatchFailed, "create watcher", err)
	}
	// Watch the directory so atomic replace-by-rename is seen too.
	if err := w.Add(filepath.Dir(path)); err != nil {
		_ = w.Close()
		return nil, hostErrors.Wrap(hostErrors.CodeBatteryWatchFailed, "watch "+filepath.Dir(path), err)
	}
	return w, nil
}

func (n *PollingNotifier) run(gen uint64, stop <-chan struct{}, watcher *fsnotify.Watcher) {
	ticker := time.NewTicker(n.interval)
	defer ticker.Stop()

	var events <-chan fsnotify.Event
	var errs <-chan error
	var target string
	if watcher != nil {
		defer watcher.Close()
		events = watcher.Events
		errs = watcher.Errors
		if w, ok := n.reader.(watchable); ok {
			target = filepath.Clean(w.WatchPath())
		}
	}

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			n.poll(gen)
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if filepath.Clean(ev.Name) == target && ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				n.poll(gen)
			}
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			n.logger.Warn().Err(err).Msg("fsnotify watcher error")
		}
	}
}

// poll takes a reading and notifies the observer if it changed.
func (n *PollingNotifier) poll(gen uint64) {
	state := n.read()

	n.mu.Lock()
	if n.gen != gen || state == n.last {
		n.mu.Unlock()
		return
	}
	n.last = state
	fn := n.observer
	n.mu.Unlock()

	if fn != nil {
		fn(state)
	}
}

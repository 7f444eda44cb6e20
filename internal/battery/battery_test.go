package battery

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/channelhost/host/internal/config"
	hostErrors "github.com/channelhost/host/internal/errors"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestParseRawState(t *testing.T) {
	tests := []struct {
		in   string
		want RawState
	}{
		{"Charging\n", RawCharging},
		{"Discharging", RawUnplugged},
		{"unplugged", RawUnplugged},
		{"Full", RawFull},
		{"charged", RawFull},
		{"Not charging", RawNotCharging},
		{"Unknown", RawUnknown},
		{"", RawUnknown},
		{"sideways", RawUnknown},
	}
	for _, tt := range tests {
		if got := ParseRawState(tt.in); got != tt.want {
			t.Errorf("ParseRawState(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func writeSupply(t *testing.T, root, name, kind, status string) {
	t.Helper()
	dir := filepath.Join(root, name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "type"), []byte(kind+"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if status != "" {
		if err := os.WriteFile(filepath.Join(dir, "status"), []byte(status+"\n"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
}

func TestSysfsReader(t *testing.T) {
	root := t.TempDir()
	writeSupply(t, root, "AC", "Mains", "")
	writeSupply(t, root, "BAT0", "Battery", "Discharging")

	r := NewSysfsReader(root)
	got, err := r.Read()
	if err != nil {
		t.Fatalf("Read() error: %v", err)
	}
	if got != RawUnplugged {
		t.Fatalf("Read() = %q, want unplugged", got)
	}
}

func TestSysfsReader_NoBattery(t *testing.T) {
	root := t.TempDir()
	writeSupply(t, root, "AC", "Mains", "")

	got, err := NewSysfsReader(root).Read()
	if !hostErrors.IsCode(err, hostErrors.CodeBatteryUnsupported) {
		t.Fatalf("err = %v, want battery.unsupported", err)
	}
	if got != RawUnknown {
		t.Fatalf("state = %q, want unknown", got)
	}
}

func TestSysfsReader_MissingRoot(t *testing.T) {
	_, err := NewSysfsReader(filepath.Join(t.TempDir(), "missing")).Read()
	if !hostErrors.IsCode(err, hostErrors.CodeBatteryReadFailed) {
		t.Fatalf("err = %v, want battery.read_failed", err)
	}
}

func TestParsePmsetOutput(t *testing.T) {
	tests := []struct {
		name   string
		output string
		want   RawState
	}{
		{
			name:   "discharging",
			output: "Now drawing from 'Battery Power'\n -InternalBattery-0 (id=4653155)\t87%; discharging; 4:12 remaining present: true\n",
			want:   RawUnplugged,
		},
		{
			name:   "charging",
			output: "Now drawing from 'AC Power'\n -InternalBattery-0 (id=4653155)\t42%; charging; 1:10 remaining present: true\n",
			want:   RawCharging,
		},
		{
			name:   "charged",
			output: "Now drawing from 'AC Power'\n -InternalBattery-0 (id=4653155)\t100%; charged; 0:00 remaining present: true\n",
			want:   RawFull,
		},
		{
			name:   "ac attached not charging",
			output: "Now drawing from 'AC Power'\n -InternalBattery-0 (id=4653155)\t80%; AC attached; not charging present: true\n",
			want:   RawNotCharging,
		},
		{
			name:   "desktop without battery",
			output: "Now drawing from 'AC Power'\n",
			want:   RawUnknown,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := parsePmsetOutput(tt.output); got != tt.want {
				t.Errorf("parsePmsetOutput() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestPmsetReader_CommandFailure(t *testing.T) {
	r := &PmsetReader{run: func() ([]byte, error) { return nil, errors.New("exec: not found") }}
	if _, err := r.Read(); !hostErrors.IsCode(err, hostErrors.CodeBatteryReadFailed) {
		t.Fatalf("err = %v, want battery.read_failed", err)
	}
}

func TestNew_SelectsReader(t *testing.T) {
	n, err := New(config.Battery{Source: "file", Path: "/tmp/x", PollMs: 10})
	if err != nil {
		t.Fatal(err)
	}
	if n.Source() != "file:/tmp/x" {
		t.Fatalf("Source() = %q", n.Source())
	}

	if _, err := New(config.Battery{Source: "acpi"}); !hostErrors.IsCode(err, hostErrors.CodeConfigInvalid) {
		t.Fatalf("err = %v, want config.invalid", err)
	}

	if r := defaultReader("plan9"); r.Source() != "unsupported:plan9" {
		t.Fatalf("defaultReader(plan9) = %q", r.Source())
	}
}

// fakeReader returns whatever state the test sets.
type fakeReader struct {
	mu    sync.Mutex
	state RawState
	err   error
}

func (f *fakeReader) Source() string { return "fake" }

func (f *fakeReader) Read() (RawState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state, f.err
}

func (f *fakeReader) set(s RawState) {
	f.mu.Lock()
	f.state = s
	f.mu.Unlock()
}

type recorder struct {
	mu     sync.Mutex
	states []RawState
	ch     chan RawState
}

func newRecorder() *recorder { return &recorder{ch: make(chan RawState, 16)} }

func (r *recorder) observe(s RawState) {
	r.mu.Lock()
	r.states = append(r.states, s)
	r.mu.Unlock()
	r.ch <- s
}

func (r *recorder) wait(t *testing.T) RawState {
	t.Helper()
	select {
	case s := <-r.ch:
		return s
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for state change")
		return RawUnknown
	}
}

func TestPollingNotifier_NotifiesOnChangeOnly(t *testing.T) {
	reader := &fakeReader{state: RawCharging}
	n := NewPollingNotifier(reader, 5*time.Millisecond)
	rec := newRecorder()
	n.OnRawStateChanged(rec.observe)

	n.Enable()
	defer n.Disable()

	if got := n.Current(); got != RawCharging {
		t.Fatalf("Current() = %q", got)
	}

	// Several ticks at the same state must not notify.
	time.Sleep(30 * time.Millisecond)
	select {
	case s := <-rec.ch:
		t.Fatalf("unexpected notification %q without a change", s)
	default:
	}

	reader.set(RawUnplugged)
	if got := rec.wait(t); got != RawUnplugged {
		t.Fatalf("notified %q, want unplugged", got)
	}
	reader.set(RawFull)
	if got := rec.wait(t); got != RawFull {
		t.Fatalf("notified %q, want full", got)
	}
}

func TestPollingNotifier_EnableDisableIdempotent(t *testing.T) {
	n := NewPollingNotifier(&fakeReader{state: RawFull}, 5*time.Millisecond)

	n.Enable()
	n.Enable()
	if !n.Enabled() {
		t.Fatal("expected enabled")
	}

	n.Disable()
	n.Disable()
	if n.Enabled() {
		t.Fatal("expected disabled")
	}
}

func TestPollingNotifier_NoNotificationAfterDisable(t *testing.T) {
	reader := &fakeReader{state: RawCharging}
	n := NewPollingNotifier(reader, 5*time.Millisecond)
	rec := newRecorder()
	n.OnRawStateChanged(rec.observe)

	n.Enable()
	n.Current()
	n.Disable()

	reader.set(RawUnplugged)
	time.Sleep(40 * time.Millisecond)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.states) != 0 {
		t.Fatalf("observer called after Disable: %v", rec.states)
	}
}

func TestPollingNotifier_ReadErrorIsUnknown(t *testing.T) {
	reader := &fakeReader{state: RawCharging}
	n := NewPollingNotifier(reader, 5*time.Millisecond)
	rec := newRecorder()
	n.OnRawStateChanged(rec.observe)

	n.Enable()
	defer n.Disable()
	n.Current()

	reader.mu.Lock()
	reader.err = errors.New("io error")
	reader.mu.Unlock()

	if got := rec.wait(t); got != RawUnknown {
		t.Fatalf("notified %q, want unknown", got)
	}
}

func TestPollingNotifier_FileWatchWakesBeforePoll(t *testing.T) {
	path := filepath.Join(t.TempDir(), "status")
	if err := os.WriteFile(path, []byte("charging\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	// An hour-long interval means only the fsnotify path can deliver in time.
	n := NewPollingNotifier(&FileReader{Path: path}, time.Hour)
	rec := newRecorder()
	n.OnRawStateChanged(rec.observe)

	n.Enable()
	defer n.Disable()
	if got := n.Current(); got != RawCharging {
		t.Fatalf("Current() = %q", got)
	}

	// Replace atomically so the reader never sees a half-written file.
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte("discharging\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Rename(tmp, path); err != nil {
		t.Fatal(err)
	}
	if got := rec.wait(t); got != RawUnplugged {
		t.Fatalf("notified %q, want unplugged", got)
	}
}

func TestPollingNotifier_LastDoesNotRead(t *testing.T) {
	reader := &fakeReader{state: RawCharging}
	n := NewPollingNotifier(reader, time.Hour)

	if got := n.Last(); got != RawUnknown {
		t.Fatalf("Last() before any reading = %q, want unknown", got)
	}
	if got := n.Current(); got != RawCharging {
		t.Fatalf("Current() while disabled = %q, want charging", got)
	}
	if got := n.Last(); got != RawCharging {
		t.Fatalf("Last() after Current = %q, want charging", got)
	}

	reader.set(RawFull)
	if got := n.Last(); got != RawCharging {
		t.Fatalf("Last() = %q, must not read the source", got)
	}
}

// countingReader counts how often the source is read.
type countingReader struct {
	fakeReader
	reads atomic.Int32
}

func (c *countingReader) Read() (RawState, error) {
	c.reads.Add(1)
	return c.fakeReader.Read()
}

func TestPollingNotifier_CurrentWhileEnabledReusesBaseline(t *testing.T) {
	reader := &countingReader{fakeReader: fakeReader{state: RawUnplugged}}
	n := NewPollingNotifier(reader, time.Hour)

	n.Enable()
	defer n.Disable()

	if got := n.Current(); got != RawUnplugged {
		t.Fatalf("Current() = %q, want unplugged", got)
	}
	n.Current()
	if got := reader.reads.Load(); got != 1 {
		t.Fatalf("source read %d times for enable plus two snapshots, want 1", got)
	}

	// A reading that has not been committed by the poll loop is not
	// reported ahead of its notification.
	reader.set(RawFull)
	if got := n.Current(); got != RawUnplugged {
		t.Fatalf("Current() = %q, want the committed reading", got)
	}
}

func TestPollingNotifier_CurrentTracksNotifiedChanges(t *testing.T) {
	reader := &fakeReader{state: RawCharging}
	n := NewPollingNotifier(reader, 5*time.Millisecond)
	rec := newRecorder()
	n.OnRawStateChanged(rec.observe)

	n.Enable()
	defer n.Disable()

	reader.set(RawUnplugged)
	if got := rec.wait(t); got != RawUnplugged {
		t.Fatalf("notified %q, want unplugged", got)
	}
	if got := n.Current(); got != RawUnplugged {
		t.Fatalf("Current() = %q after notification, want unplugged", got)
	}
}

package bridge

import (
	"sync"
	"testing"

	"github.com/channelhost/host/internal/battery"
)

// fakeNotifier stands in for the OS. Fire behaves like an OS notification:
// it reaches the observer only while one is registered.
type fakeNotifier struct {
	mu       sync.Mutex
	state    battery.RawState
	enabled  bool
	enables  int
	disables int
	observer func(battery.RawState)
	// lastObserver survives removal so tests can simulate a late callback.
	lastObserver func(battery.RawState)
}

func newFakeNotifier(state battery.RawState) *fakeNotifier {
	return &fakeNotifier{state: state}
}

func (f *fakeNotifier) Enable() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.enabled = true
	f.enables++
}

func (f *fakeNotifier) Disable() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.enabled = false
	f.disables++
}

func (f *fakeNotifier) OnRawStateChanged(fn func(battery.RawState)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.observer = fn
	if fn != nil {
		f.lastObserver = fn
	}
}

func (f *fakeNotifier) Current() battery.RawState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeNotifier) Fire(s battery.RawState) {
	f.mu.Lock()
	f.state = s
	fn := f.observer
	f.mu.Unlock()
	if fn != nil {
		fn(s)
	}
}

func (f *fakeNotifier) subscribed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.enabled && f.observer != nil
}

func (f *fakeNotifier) counts() (enables, disables int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.enables, f.disables
}

// collector records delivered events in wire form.
type collector struct {
	mu  sync.Mutex
	got []string
}

func (c *collector) Deliver(e Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e.IsError() {
		c.got = append(c.got, "error:"+e.Code)
		return
	}
	c.got = append(c.got, e.Payload())
}

func (c *collector) events() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.got...)
}

func assertEvents(t *testing.T, c *collector, want ...string) {
	t.Helper()
	got := c.events()
	if len(got) != len(want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("events = %v, want %v", got, want)
		}
	}
}

func assertCoupled(t *testing.T, b *Bridge, n *fakeNotifier) {
	t.Helper()
	if b.Attached() != n.subscribed() {
		t.Fatalf("attached=%v but subscribed=%v", b.Attached(), n.subscribed())
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		raw  battery.RawState
		want Kind
	}{
		{battery.RawFull, Charging},
		{battery.RawCharging, Charging},
		{battery.RawUnplugged, Discharging},
		{battery.RawUnknown, Unavailable},
		{battery.RawNotCharging, Unavailable},
		{battery.RawState(""), Unavailable},
		{battery.RawState("exploding"), Unavailable},
	}
	for _, tt := range tests {
		ev := Classify(tt.raw)
		if ev.Kind != tt.want {
			t.Errorf("Classify(%q) = %v, want %v", tt.raw, ev.Kind, tt.want)
		}
		if tt.want == Unavailable {
			if ev.Code != UnavailableCode || ev.Message != UnavailableMessage {
				t.Errorf("Classify(%q) unavailable = %+v", tt.raw, ev)
			}
		} else if ev.Code != "" || ev.Message != "" {
			t.Errorf("Classify(%q) success event carries error fields: %+v", tt.raw, ev)
		}
	}
}

func TestEventPayload(t *testing.T) {
	if got := (Event{Kind: Charging}).Payload(); got != "charging" {
		t.Errorf("Charging payload = %q", got)
	}
	if got := (Event{Kind: Discharging}).Payload(); got != "discharging" {
		t.Errorf("Discharging payload = %q", got)
	}
	if (Event{Kind: Charging}).IsError() || !(Event{Kind: Unavailable}).IsError() {
		t.Error("IsError mismatch")
	}
}

func TestOnListen_DeliversSnapshotImmediately(t *testing.T) {
	n := newFakeNotifier(battery.RawCharging)
	b := New(n)
	c := &collector{}

	if err := b.OnListen(c); err != nil {
		t.Fatalf("OnListen() error: %v", err)
	}
	assertEvents(t, c, "charging")
	assertCoupled(t, b, n)
}

func TestOnListen_UnavailableGoesThroughSink(t *testing.T) {
	n := newFakeNotifier(battery.RawUnknown)
	b := New(n)
	c := &collector{}

	if err := b.OnListen(c); err != nil {
		t.Fatalf("OnListen() error: %v", err)
	}
	assertEvents(t, c, "error:UNAVAILABLE")
}

func TestOnListen_NilSink(t *testing.T) {
	n := newFakeNotifier(battery.RawCharging)
	b := New(n)
	if err := b.OnListen(nil); err != ErrNilSink {
		t.Fatalf("OnListen(nil) = %v, want ErrNilSink", err)
	}
	if b.Attached() || n.subscribed() {
		t.Fatal("nil sink must not attach")
	}
}

func TestOnListen_ReplaceSinkKeepsSubscription(t *testing.T) {
	n := newFakeNotifier(battery.RawUnplugged)
	b := New(n)
	a, c := &collector{}, &collector{}

	_ = b.OnListen(a)
	_ = b.OnListen(c)

	if enables, _ := n.counts(); enables != 1 {
		t.Fatalf("Enable called %d times, want 1", enables)
	}
	assertEvents(t, a, "discharging")
	assertEvents(t, c, "discharging")

	n.Fire(battery.RawFull)
	assertEvents(t, a, "discharging")
	assertEvents(t, c, "discharging", "charging")
	assertCoupled(t, b, n)
}

func TestOnCancel_Idempotent(t *testing.T) {
	n := newFakeNotifier(battery.RawCharging)
	b := New(n)

	if err := b.OnCancel(); err != nil {
		t.Fatalf("OnCancel() on detached bridge: %v", err)
	}
	_ = b.OnListen(&collector{})
	if err := b.OnCancel(); err != nil {
		t.Fatalf("first OnCancel(): %v", err)
	}
	if err := b.OnCancel(); err != nil {
		t.Fatalf("second OnCancel(): %v", err)
	}

	if _, disables := n.counts(); disables != 1 {
		t.Fatalf("Disable called %d times, want 1", disables)
	}
	if b.Attached() {
		t.Fatal("expected detached")
	}
	assertCoupled(t, b, n)
}

func TestNoDeliveryWhileDetached(t *testing.T) {
	n := newFakeNotifier(battery.RawCharging)
	b := New(n)
	c := &collector{}

	_ = b.OnListen(c)
	_ = b.OnCancel()

	// A registered-then-removed observer that still fires must be dropped.
	n.lastObserver(battery.RawUnplugged)
	n.Fire(battery.RawFull)

	assertEvents(t, c, "charging")
}

func TestObserverFromEarlierListenIsDropped(t *testing.T) {
	n := newFakeNotifier(battery.RawUnplugged)
	b := New(n)

	_ = b.OnListen(&collector{})
	stale := n.lastObserver
	_ = b.OnCancel()

	c := &collector{}
	_ = b.OnListen(c)

	// A reading taken during the first listen lands after the second
	// listen's snapshot and must not reach the new sink.
	stale(battery.RawFull)
	assertEvents(t, c, "discharging")

	n.Fire(battery.RawFull)
	assertEvents(t, c, "discharging", "charging")
}

func TestEndToEndScenario(t *testing.T) {
	n := newFakeNotifier(battery.RawUnplugged)
	b := New(n)
	c := &collector{}

	_ = b.OnListen(c)
	assertEvents(t, c, "discharging")

	n.Fire(battery.RawFull)
	assertEvents(t, c, "discharging", "charging")

	_ = b.OnCancel()
	n.Fire(battery.RawCharging)
	assertEvents(t, c, "discharging", "charging")
}

func TestCouplingInvariantAcrossSequences(t *testing.T) {
	ops := []string{"listen", "listen", "cancel", "cancel", "listen", "cancel", "listen", "listen", "cancel"}
	n := newFakeNotifier(battery.RawFull)
	b := New(n)

	for i, op := range ops {
		switch op {
		case "listen":
			_ = b.OnListen(&collector{})
		case "cancel":
			_ = b.OnCancel()
		}
		if b.Attached() != n.subscribed() {
			t.Fatalf("step %d (%s): attached=%v subscribed=%v", i, op, b.Attached(), n.subscribed())
		}
	}

	enables, disables := n.counts()
	if enables != 3 || disables != 3 {
		t.Fatalf("enables=%d disables=%d, want 3 and 3", enables, disables)
	}
}

func TestConcurrentCallbacksNeverDeliverAfterCancel(t *testing.T) {
	n := newFakeNotifier(battery.RawCharging)
	b := New(n)

	for round := 0; round < 50; round++ {
		c := &collector{}
		_ = b.OnListen(c)

		var wg sync.WaitGroup
		stop := make(chan struct{})
		for i := 0; i < 4; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				states := []battery.RawState{battery.RawUnplugged, battery.RawFull}
				for j := 0; ; j++ {
					select {
					case <-stop:
						return
					default:
					}
					n.Fire(states[(i+j)%2])
				}
			}(i)
		}

		_ = b.OnCancel()
		after := len(c.events())
		close(stop)
		wg.Wait()

		if got := len(c.events()); got != after {
			t.Fatalf("round %d: %d deliveries after cancel returned", round, got-after)
		}
		assertCoupled(t, b, n)
	}
}

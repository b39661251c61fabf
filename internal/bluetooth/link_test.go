package bluetooth

import (
	"context"
	"sync"
	"testing"
	"time"
)

// payloadSink collects handler calls.
type payloadSink struct {
	mu       sync.Mutex
	payloads []uint32
}

func (s *payloadSink) handle(p uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.payloads = append(s.payloads, p)
}

func (s *payloadSink) got() []uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]uint32(nil), s.payloads...)
}

func mustNewLink(t *testing.T, adapter Adapter, sink *payloadSink) *Link {
	t.Helper()
	l, err := NewLink(adapter, "AA:BB:CC:DD:EE:FF", sink.handle, DefaultLinkOptions())
	if err != nil {
		t.Fatalf("NewLink() error = %v", err)
	}
	return l
}

// waitFor polls cond for up to a second.
func waitFor(t *testing.T, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}

func TestNewLinkValidation(t *testing.T) {
	sink := &payloadSink{}
	adapter := newMockAdapter(nil)
	if _, err := NewLink(nil, "AA", sink.handle, LinkOptions{}); err == nil {
		t.Error("NewLink(nil adapter) should fail")
	}
	if _, err := NewLink(adapter, "", sink.handle, LinkOptions{}); err == nil {
		t.Error("NewLink(empty address) should fail")
	}
	if _, err := NewLink(adapter, "AA", nil, LinkOptions{}); err == nil {
		t.Error("NewLink(nil handler) should fail")
	}
}

func TestNewLinkFillsDefaults(t *testing.T) {
	l, err := NewLink(newMockAdapter(nil), "AA", func(uint32) {}, LinkOptions{})
	if err != nil {
		t.Fatalf("NewLink() error = %v", err)
	}
	if l.opts != DefaultLinkOptions() {
		t.Errorf("opts = %+v, want %+v", l.opts, DefaultLinkOptions())
	}
}

func TestLinkDeliversPayloads(t *testing.T) {
	adapter := newMockAdapter(nil)
	sink := &payloadSink{}
	l := mustNewLink(t, adapter, sink)

	if err := l.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if !l.Connected() {
		t.Fatal("Connected() = false after Connect")
	}

	char := adapter.latestConnection().txChar
	char.SimulateNotification([]byte("0"))
	char.SimulateNotification([]byte{0x01})
	char.SimulateNotification(nil) // ignored

	got := sink.got()
	if len(got) != 2 || got[0] != 0 || got[1] != 1 {
		t.Errorf("payloads = %v, want [0 1]", got)
	}
	if l.Delivered() != 2 {
		t.Errorf("Delivered() = %d, want 2", l.Delivered())
	}
}

func TestLinkConnectFailure(t *testing.T) {
	adapter := newMockAdapter(nil)
	adapter.failConnects = 1
	l := mustNewLink(t, adapter, &payloadSink{})

	if err := l.Connect(context.Background()); err == nil {
		t.Fatal("Connect() should fail when the device is unreachable")
	}
	if l.Connected() {
		t.Error("Connected() = true after failed Connect")
	}
}

func TestLinkReconnectsAfterDisconnect(t *testing.T) {
	adapter := newMockAdapter(nil)
	sink := &payloadSink{}
	l := mustNewLink(t, adapter, sink)
	if err := l.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	first := adapter.latestConnection()

	first.SimulateDisconnect()

	if !waitFor(t, func() bool { return l.Connected() && adapter.latestConnection() != first }) {
		t.Fatal("link did not reconnect after SimulateDisconnect")
	}
	if !waitFor(t, func() bool { return !l.reconnecting.Load() }) {
		t.Error("reconnecting flag should be cleared after successful reconnect")
	}

	// Payloads flow through the new session.
	adapter.latestConnection().txChar.SimulateNotification([]byte("1"))
	if got := sink.got(); len(got) != 1 || got[0] != 1 {
		t.Errorf("payloads = %v, want [1]", got)
	}
}

func TestConcurrentDisconnectsDoNotStackReconnects(t *testing.T) {
	adapter := newMockAdapter(nil)
	l := mustNewLink(t, adapter, &payloadSink{})
	if err := l.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	// Hold the guard so the disconnect handler cannot spawn a loop.
	l.reconnecting.Store(true)
	adapter.latestConnection().SimulateDisconnect()
	time.Sleep(20 * time.Millisecond)

	if n := adapter.connectCount(); n != 1 {
		t.Errorf("connects = %d, want 1 (guard should block a second loop)", n)
	}
	l.reconnecting.Store(false)
}

func TestCloseStopsReconnectLoop(t *testing.T) {
	adapter := newMockAdapter(nil)
	l := mustNewLink(t, adapter, &payloadSink{})
	if err := l.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	// Every reconnect attempt fails, so the loop would otherwise back off forever.
	adapter.mu.Lock()
	adapter.failConnects = 1000
	adapter.mu.Unlock()

	adapter.latestConnection().SimulateDisconnect()
	time.Sleep(10 * time.Millisecond)

	if err := l.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	if !waitFor(t, func() bool { return !l.reconnecting.Load() }) {
		t.Error("reconnecting should be false after Close() stops the loop")
	}
}

func TestDisconnectAfterCloseDoesNotReconnect(t *testing.T) {
	adapter := newMockAdapter(nil)
	l := mustNewLink(t, adapter, &payloadSink{})
	if err := l.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	conn := adapter.latestConnection()

	if err := l.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if !conn.isDisconnected() {
		t.Error("Close() did not disconnect the session")
	}
	conn.SimulateDisconnect()
	time.Sleep(20 * time.Millisecond)

	if n := adapter.connectCount(); n != 1 {
		t.Errorf("connects = %d, want 1 after Close", n)
	}
}

func TestCloseDuringReconnectDialDropsNewSession(t *testing.T) {
	adapter := newMockAdapter(nil)
	sink := &payloadSink{}
	l := mustNewLink(t, adapter, sink)
	if err := l.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	gated, release := adapter.holdConnects()
	defer release()
	adapter.latestConnection().SimulateDisconnect()

	select {
	case <-gated:
	case <-time.After(time.Second):
		t.Fatal("reconnect loop never dialed")
	}
	if err := l.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	release()

	if !waitFor(t, func() bool { return !l.reconnecting.Load() }) {
		t.Fatal("reconnect loop still running after Close")
	}
	if n := adapter.connectCount(); n != 2 {
		t.Fatalf("connects = %d, want 2", n)
	}
	if l.Connected() {
		t.Error("Connected() = true after Close")
	}
	conn := adapter.latestConnection()
	if !conn.isDisconnected() {
		t.Error("session dialed during Close was not disconnected")
	}
	conn.txChar.SimulateNotification([]byte{1})
	if n := l.Delivered(); n != 0 {
		t.Errorf("Delivered() = %d, want 0 after Close", n)
	}
	if got := sink.got(); len(got) != 0 {
		t.Errorf("payloads = %v, want none after Close", got)
	}
}

func TestReconnectBackoff(t *testing.T) {
	delays := []time.Duration{
		1 * time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		16 * time.Second,
		30 * time.Second, // capped
		30 * time.Second, // still capped
	}

	for i, want := range delays {
		got := backoffDelay(i, 30)
		if got != want {
			t.Errorf("backoffDelay(%d, 30) = %v, want %v", i, got, want)
		}
	}
}

func TestBackoffDelayOverflowProtection(t *testing.T) {
	if got := backoffDelay(100, 30); got != 30*time.Second {
		t.Errorf("backoffDelay(100, 30) = %v, want 30s", got)
	}
	got := backoffDelay(31, 60)
	if got <= 0 || got > 60*time.Second {
		t.Errorf("backoffDelay(31, 60) = %v, want within (0, 60s]", got)
	}
}

func TestScanForDevices(t *testing.T) {
	adapter := newMockAdapter([]Device{
		{Name: "pdm-remote", Address: "AA:BB:CC:DD:EE:FF", RSSI: -45},
	})
	devices, err := ScanForDevices(adapter, DefaultServiceUUID, 10*time.Millisecond)
	if err != nil {
		t.Fatalf("ScanForDevices() error = %v", err)
	}
	if len(devices) != 1 || devices[0].Name != "pdm-remote" {
		t.Errorf("devices = %+v, want one pdm-remote", devices)
	}
}

package topology

import (
	"testing"
	"time"

	"github.com/corekv/docdriver/address"
	"github.com/corekv/docdriver/connection"
	"github.com/corekv/docdriver/description"
)

func newTestServerConfig(dialer *helloDialer, interval time.Duration) *serverConfig {
	return &serverConfig{
		pool:              &poolConfig{maxPoolSize: defaultMaxPoolSize, maxConnecting: defaultMaxConnecting},
		heartbeatInterval: interval,
		heartbeatTimeout:  time.Second,
		heartbeatConnectionOpts: []connection.Option{
			connection.WithDialer(dialer),
		},
	}
}

func TestMonitor_StartPublishesInitialDescription(t *testing.T) {
	dialer := &helloDialer{}
	m := newMonitor(address.Address("localhost:27017"), newTestServerConfig(dialer, time.Hour))
	defer m.stop()

	desc := m.start()
	if desc.Kind != description.RSPrimary {
		t.Fatalf("Kind = %v, want RSPrimary", desc.Kind)
	}
	if !desc.AverageRTTSet {
		t.Fatal("expected AverageRTTSet on the first heartbeat")
	}
	if dialer.dialCount() != 1 {
		t.Fatalf("dialCount = %d, want 1", dialer.dialCount())
	}
}

func TestMonitor_HeartbeatDialsFreshConnectionEveryTick(t *testing.T) {
	dialer := &helloDialer{}
	m := newMonitor(address.Address("localhost:27017"), newTestServerConfig(dialer, 10*time.Millisecond))
	defer m.stop()

	m.start()
	// Drain the description start() published from the initial check.
	<-m.updates

	select {
	case desc := <-m.updates:
		if desc.Kind != description.RSPrimary {
			t.Fatalf("Kind = %v, want RSPrimary", desc.Kind)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for a second heartbeat publish")
	}
	if dialer.dialCount() < 2 {
		t.Fatalf("dialCount = %d, want at least 2 after a ticked heartbeat", dialer.dialCount())
	}
}

func TestMonitor_HeartbeatFailureReportsUnknown(t *testing.T) {
	dialer := &helloDialer{fail: true}
	m := newMonitor(address.Address("localhost:27017"), newTestServerConfig(dialer, time.Hour))
	defer m.stop()

	desc := m.start()
	if desc.Kind != description.Unknown {
		t.Fatalf("Kind = %v, want Unknown on dial failure", desc.Kind)
	}
	if desc.LastError == nil {
		t.Fatal("expected LastError to be set")
	}
}

func TestMonitor_RequestImmediateCheckTriggersHeartbeat(t *testing.T) {
	dialer := &helloDialer{}
	m := newMonitor(address.Address("localhost:27017"), newTestServerConfig(dialer, time.Hour))
	defer m.stop()
	m.start()

	// Drain the initial publish so the next one observed is from the
	// requested check, not the synchronous start() heartbeat.
	<-m.updates

	m.requestImmediateCheck()

	select {
	case <-m.updates:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for the requested heartbeat")
	}
	if dialer.dialCount() < 2 {
		t.Fatalf("dialCount = %d, want at least 2", dialer.dialCount())
	}
}

func TestMonitor_UpdateAverageRTT_EWMA(t *testing.T) {
	m := &Monitor{}
	first := m.updateAverageRTT(100 * time.Millisecond)
	if first != 100*time.Millisecond {
		t.Fatalf("first sample = %v, want 100ms", first)
	}
	second := m.updateAverageRTT(0)
	want := time.Duration(0.2*float64(0) + 0.8*float64(100*time.Millisecond))
	if second != want {
		t.Fatalf("second sample = %v, want %v", second, want)
	}
}

package topology

import (
	"context"
	"testing"
	"time"

	"github.com/corekv/docdriver/connection"
	"github.com/corekv/docdriver/description"
)

func newTestTopology(t *testing.T, dialer *helloDialer) *Topology {
	t.Helper()
	topo, err := New(
		WithSeedList("localhost:27017"),
		WithServerSelectionTimeout(time.Second),
		WithServerOptions(
			WithHeartbeatInterval(time.Hour),
			WithConnectionOptions(connection.WithDialer(dialer)),
			WithHeartbeatConnectionOptions(connection.WithDialer(dialer)),
		),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return topo
}

func waitForDescription(t *testing.T, topo *Topology, want description.ServerKind) description.Topology {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		desc := topo.Description()
		if srv, ok := desc.Servers["localhost:27017"]; ok && srv.Kind == want {
			return desc
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for localhost:27017 to reach Kind %v", want)
	return description.Topology{}
}

var selectAll = description.SelectorFunc(func(t description.Topology) ([]description.Server, error) {
	out := make([]description.Server, 0, len(t.Servers))
	for _, s := range t.Servers {
		out = append(out, s)
	}
	return out, nil
})

func TestTopology_ConnectDiscoversSeed(t *testing.T) {
	dialer := &helloDialer{}
	topo := newTestTopology(t, dialer)
	if err := topo.Connect(); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer topo.Disconnect(context.Background())

	waitForDescription(t, topo, description.RSPrimary)
}

func TestTopology_SelectServerReturnsDiscoveredServer(t *testing.T) {
	dialer := &helloDialer{}
	topo := newTestTopology(t, dialer)
	if err := topo.Connect(); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer topo.Disconnect(context.Background())

	waitForDescription(t, topo, description.RSPrimary)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	srv, err := topo.SelectServer(ctx, selectAll)
	if err != nil {
		t.Fatalf("SelectServer: %v", err)
	}
	if srv.Address() != "localhost:27017" {
		t.Fatalf("Address = %q, want localhost:27017", srv.Address())
	}
}

func TestTopology_SelectServerTimesOutWithNoCandidates(t *testing.T) {
	dialer := &helloDialer{}
	topo := newTestTopology(t, dialer)
	if err := topo.Connect(); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer topo.Disconnect(context.Background())

	none := description.SelectorFunc(func(t description.Topology) ([]description.Server, error) {
		return nil, nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := topo.SelectServer(ctx, none); err == nil {
		t.Fatal("expected SelectServer to fail when no candidate ever matches")
	}
}

func TestTopology_ConnectTwiceFails(t *testing.T) {
	dialer := &helloDialer{}
	topo := newTestTopology(t, dialer)
	if err := topo.Connect(); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer topo.Disconnect(context.Background())

	if err := topo.Connect(); err != ErrTopologyConnected {
		t.Fatalf("second Connect = %v, want ErrTopologyConnected", err)
	}
}

func TestTopology_AdvanceClusterTimeKeepsMax(t *testing.T) {
	topo := newTestTopology(t, &helloDialer{})

	newer := description.ClusterTime{T: 100, I: 1}
	older := description.ClusterTime{T: 50, I: 1}

	topo.AdvanceClusterTime(newer)
	topo.AdvanceClusterTime(older)

	got := topo.ClusterTime()
	if got.T != newer.T || got.I != newer.I {
		t.Fatalf("ClusterTime = %+v, want the newer value %+v to win", got, newer)
	}
}

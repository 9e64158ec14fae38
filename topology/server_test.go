package topology

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/corekv/docdriver/address"
	"github.com/corekv/docdriver/connection"
	"github.com/corekv/docdriver/description"
)

func newTestServer(dialer *helloDialer, interval time.Duration) *Server {
	addr := address.Address("localhost:27017")
	return NewServer(addr, nil,
		WithMaxPoolSize(2),
		WithHeartbeatInterval(interval),
		WithHeartbeatTimeout(time.Second),
		WithConnectionOptions(connection.WithDialer(dialer)),
		WithHeartbeatConnectionOptions(connection.WithDialer(dialer)),
	)
}

func TestServer_ConnectPublishesDescriptionAndOpensPool(t *testing.T) {
	dialer := &helloDialer{}
	s := newTestServer(dialer, time.Hour)
	s.Connect()
	defer s.Disconnect()

	if s.Description().Kind != description.RSPrimary {
		t.Fatalf("Kind = %v, want RSPrimary", s.Description().Kind)
	}

	conn, err := s.Connection(context.Background())
	if err != nil {
		t.Fatalf("Connection: %v", err)
	}
	s.CheckInConnection(conn)
}

func TestServer_SubscribeReceivesCurrentThenUpdates(t *testing.T) {
	dialer := &helloDialer{}
	s := newTestServer(dialer, 10*time.Millisecond)
	s.Connect()
	defer s.Disconnect()

	ch, unsubscribe, err := s.Subscribe()
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer unsubscribe()

	select {
	case desc := <-ch:
		if desc.Kind != description.RSPrimary {
			t.Fatalf("initial Kind = %v, want RSPrimary", desc.Kind)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for the pre-populated current description")
	}

	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for a heartbeat-driven update")
	}
}

func TestServer_ProcessHandshakeErrorMarksUnknownAndClearsPool(t *testing.T) {
	dialer := &helloDialer{}
	s := newTestServer(dialer, time.Hour)
	s.Connect()
	defer s.Disconnect()

	netErr := connection.Error{Wrapped: errors.New("broken pipe")}
	s.ProcessHandshakeError(netErr)

	if s.Description().Kind != description.Unknown {
		t.Fatalf("Kind after handshake error = %v, want Unknown", s.Description().Kind)
	}
}

func TestServer_ConnectionAfterDisconnectFails(t *testing.T) {
	dialer := &helloDialer{}
	s := newTestServer(dialer, time.Hour)
	s.Connect()
	s.Disconnect()

	if _, err := s.Connection(context.Background()); err != ErrServerClosed {
		t.Fatalf("Connection after Disconnect = %v, want ErrServerClosed", err)
	}
}

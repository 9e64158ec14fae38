package topology

import (
	"context"
	"testing"
	"time"

	"github.com/corekv/docdriver/address"
	"github.com/corekv/docdriver/connection"
)

func newTestPool(t *testing.T, dialer *helloDialer, maxPoolSize uint64) *Pool {
	t.Helper()
	cfg := &poolConfig{
		maxPoolSize:      maxPoolSize,
		maxConnecting:    defaultMaxConnecting,
		maintainInterval: time.Hour, // keep the maintenance ticker quiet during tests
		connectionOpts:   []connection.Option{connection.WithDialer(dialer)},
	}
	return newPool(address.Address("localhost:27017"), cfg)
}

func TestPool_CheckOutBeforeReady(t *testing.T) {
	p := newTestPool(t, &helloDialer{}, 2)
	defer p.close()

	if _, err := p.CheckOut(context.Background()); err != ErrPoolCleared {
		t.Fatalf("CheckOut before ready() = %v, want ErrPoolCleared", err)
	}
}

func TestPool_CheckOutCheckInReusesIdle(t *testing.T) {
	dialer := &helloDialer{}
	p := newTestPool(t, dialer, 2)
	p.ready()
	defer p.close()

	c1, err := p.CheckOut(context.Background())
	if err != nil {
		t.Fatalf("CheckOut: %v", err)
	}
	if dialer.dialCount() != 1 {
		t.Fatalf("dialCount = %d, want 1", dialer.dialCount())
	}
	p.CheckIn(c1)

	c2, err := p.CheckOut(context.Background())
	if err != nil {
		t.Fatalf("CheckOut: %v", err)
	}
	if c2.ID() != c1.ID() {
		t.Fatalf("expected the idle connection to be reused, got a fresh dial")
	}
	if dialer.dialCount() != 1 {
		t.Fatalf("dialCount = %d after reuse, want still 1", dialer.dialCount())
	}
	p.CheckIn(c2)
}

func TestPool_ClearBumpsGenerationAndDropsIdle(t *testing.T) {
	dialer := &helloDialer{}
	p := newTestPool(t, dialer, 2)
	p.ready()
	defer p.close()

	c1, err := p.CheckOut(context.Background())
	if err != nil {
		t.Fatalf("CheckOut: %v", err)
	}
	p.CheckIn(c1)

	p.clear(nil)

	// The pool is paused immediately after clear; CheckOut must fail until
	// the next successful heartbeat calls ready() again (spec.md §4.4).
	if _, err := p.CheckOut(context.Background()); err != ErrPoolCleared {
		t.Fatalf("CheckOut after clear = %v, want ErrPoolCleared", err)
	}

	p.ready()
	c2, err := p.CheckOut(context.Background())
	if err != nil {
		t.Fatalf("CheckOut after re-ready: %v", err)
	}
	if c2.ID() == c1.ID() {
		t.Fatalf("expected a fresh dial after clear, got the stale idle connection back")
	}
	if dialer.dialCount() != 2 {
		t.Fatalf("dialCount = %d, want 2", dialer.dialCount())
	}
	p.CheckIn(c2)
}

func TestPool_CheckOutBlocksAtMaxPoolSize(t *testing.T) {
	dialer := &helloDialer{}
	p := newTestPool(t, dialer, 1)
	p.ready()
	defer p.close()

	c1, err := p.CheckOut(context.Background())
	if err != nil {
		t.Fatalf("CheckOut: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := p.CheckOut(ctx); err == nil {
		t.Fatal("expected CheckOut to block and time out while the single slot is held")
	}

	p.CheckIn(c1)
	c2, err := p.CheckOut(context.Background())
	if err != nil {
		t.Fatalf("CheckOut after release: %v", err)
	}
	p.CheckIn(c2)
}

func TestPool_CloseRejectsFurtherCheckOuts(t *testing.T) {
	p := newTestPool(t, &helloDialer{}, 2)
	p.ready()
	p.close()

	if _, err := p.CheckOut(context.Background()); err != ErrPoolClosed {
		t.Fatalf("CheckOut after close = %v, want ErrPoolClosed", err)
	}
}

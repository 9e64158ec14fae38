package topology

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/corekv/docdriver/address"
	"github.com/corekv/docdriver/connection"
	"github.com/corekv/docdriver/event"
)

// ErrPoolClosed is returned by CheckOut once the pool has been closed.
var ErrPoolClosed = errors.New("topology: connection pool is closed")

// ErrPoolCleared is returned by CheckOut while the pool is paused (e.g.
// immediately after an SDAM error cleared it, spec.md §4.4).
var ErrPoolCleared = errors.New("topology: connection pool has been cleared")

type poolState uint8

const (
	poolPaused poolState = iota
	poolReady
	poolClosed
)

// Pool is spec.md component D: one server's connection pool. New
// connections are capped at maxPoolSize total (a weighted semaphore of that
// size doubles as the FIFO wait queue, since semaphore.Weighted grants
// blocked Acquire calls in FIFO order) and at maxConnecting concurrently
// establishing connections, matching the teacher's
// x/mongo/driverlegacy/topology.Server.sem usage generalized from an
// unbounded to a small, configurable connecting cap.
type Pool struct {
	address address.Address
	cfg     *poolConfig

	slots      *semaphore.Weighted
	connecting *semaphore.Weighted

	mu                 sync.Mutex
	state              poolState
	generation         uint64
	serviceGenerations map[[12]byte]uint64 // load-balanced mode only, spec.md §4.4
	idle               []*connection.Connection
	totalConns         uint64

	closeOnce    sync.Once
	maintainOnce sync.Once
	stopCh       chan struct{}
	wg           sync.WaitGroup
}

func newPool(addr address.Address, cfg *poolConfig) *Pool {
	maxSize := cfg.maxPoolSize
	if maxSize == 0 {
		maxSize = defaultMaxPoolSize
	}
	maxConnecting := cfg.maxConnecting
	if maxConnecting == 0 {
		maxConnecting = defaultMaxConnecting
	}
	p := &Pool{
		address:            addr,
		cfg:                cfg,
		slots:              semaphore.NewWeighted(int64(maxSize)),
		connecting:         semaphore.NewWeighted(maxConnecting),
		serviceGenerations: make(map[[12]byte]uint64),
		stopCh:             make(chan struct{}),
	}
	return p
}

// ready transitions the pool to accepting checkouts and starts its
// maintenance loop (spec.md §4.4, "marked Ready once the server's first
// successful heartbeat arrives").
func (p *Pool) ready() {
	p.mu.Lock()
	if p.state == poolClosed {
		p.mu.Unlock()
		return
	}
	first := p.state == poolPaused
	p.state = poolReady
	p.mu.Unlock()
	if first {
		p.emitPoolEvent("ready", nil)
	}
	p.maintainOnce.Do(func() {
		p.wg.Add(1)
		go p.maintain()
	})
}

// clear pauses the pool and bumps its generation, invalidating every
// outstanding and idle connection without forcibly closing checked-out
// ones (spec.md §4.4: "in-flight operations are allowed to finish; their
// connections are discarded on check-in").
func (p *Pool) clear(serviceID *[12]byte) {
	p.mu.Lock()
	p.state = poolPaused
	if serviceID != nil {
		p.serviceGenerations[*serviceID]++
	} else {
		p.generation++
	}
	idle := p.idle
	p.idle = nil
	p.mu.Unlock()

	for _, c := range idle {
		c.Close()
	}
	p.emitPoolEvent("cleared", nil)
}

func (p *Pool) currentGeneration(serviceID *[12]byte) uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	if serviceID != nil {
		return p.serviceGenerations[*serviceID]
	}
	return p.generation
}

// stale reports whether conn was established under a generation this pool
// has since invalidated via clear (spec.md §4.4).
func (p *Pool) stale(c *connection.Connection) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	serviceID := c.ServiceID()
	if serviceID != nil {
		return c.Generation() != p.serviceGenerations[*serviceID]
	}
	return c.Generation() != p.generation
}

// CheckOut acquires a live connection, reusing an idle one when available
// and otherwise dialing a fresh one, bounded by maxPoolSize/maxConnecting
// (spec.md §4.4).
func (p *Pool) CheckOut(ctx context.Context) (*connection.Connection, error) {
	p.emitCheckOutEvent("checkOutStarted", "", 0, "")
	started := time.Now()

	p.mu.Lock()
	state := p.state
	p.mu.Unlock()
	switch state {
	case poolClosed:
		p.emitCheckOutEvent("checkOutFailed", "", time.Since(started), "poolClosed")
		return nil, ErrPoolClosed
	case poolPaused:
		p.emitCheckOutEvent("checkOutFailed", "", time.Since(started), "poolCleared")
		return nil, ErrPoolCleared
	}

	if err := p.slots.Acquire(ctx, 1); err != nil {
		p.emitCheckOutEvent("checkOutFailed", "", time.Since(started), "timeout")
		return nil, err
	}

	p.mu.Lock()
	if p.state != poolReady {
		p.mu.Unlock()
		p.slots.Release(1)
		p.emitCheckOutEvent("checkOutFailed", "", time.Since(started), "poolCleared")
		return nil, ErrPoolCleared
	}
	if c := p.popIdleLocked(); c != nil {
		p.mu.Unlock()
		p.emitCheckOutEvent("checkedOut", c.ID(), time.Since(started), "")
		return c, nil
	}
	generation := p.generation
	p.mu.Unlock()

	if err := p.connecting.Acquire(ctx, 1); err != nil {
		p.slots.Release(1)
		p.emitCheckOutEvent("checkOutFailed", "", time.Since(started), "timeout")
		return nil, err
	}
	conn, err := connection.Connect(ctx, p.address, generation, p.cfg.commandMonitor, p.cfg.connectionOpts...)
	p.connecting.Release(1)
	if err != nil {
		p.slots.Release(1)
		p.emitCheckOutEvent("checkOutFailed", "", time.Since(started), "connectionError")
		return nil, err
	}
	p.emitConnectionEvent(conn.ID(), "created", "")
	p.emitCheckOutEvent("checkedOut", conn.ID(), time.Since(started), "")
	return conn, nil
}

// popIdleLocked discards every stale/expired idle connection it encounters
// and returns the first live one, or nil. Callers must hold p.mu.
func (p *Pool) popIdleLocked() *connection.Connection {
	for len(p.idle) > 0 {
		c := p.idle[0]
		p.idle = p.idle[1:]
		if !c.Alive() || c.Expired() || p.staleLocked(c) {
			go func(c *connection.Connection) {
				p.emitConnectionEvent(c.ID(), "closed", event.ReasonStale)
				c.Close()
			}(c)
			continue
		}
		return c
	}
	return nil
}

func (p *Pool) staleLocked(c *connection.Connection) bool {
	if serviceID := c.ServiceID(); serviceID != nil {
		return c.Generation() != p.serviceGenerations[*serviceID]
	}
	return c.Generation() != p.generation
}

// CheckIn returns conn to the pool, or closes it if it's dead, expired, or
// stale (spec.md §4.4).
func (p *Pool) CheckIn(conn *connection.Connection) {
	defer p.slots.Release(1)

	p.mu.Lock()
	closed := p.state == poolClosed
	stale := !closed && p.staleLocked(conn)
	if !closed && conn.Alive() && !conn.Expired() && !stale {
		p.idle = append(p.idle, conn)
		p.mu.Unlock()
		p.emitCheckOutEvent("checkedIn", conn.ID(), 0, "")
		return
	}
	p.mu.Unlock()

	reason := event.ReasonError
	switch {
	case closed:
		reason = event.ReasonPoolClosed
	case stale:
		reason = event.ReasonStale
	case conn.Expired():
		reason = event.ReasonIdle
	}
	p.emitConnectionEvent(conn.ID(), "closed", reason)
	p.emitCheckOutEvent("checkedIn", conn.ID(), 0, "")
	conn.Close()
}

// maintain prunes idle connections that have outlived maxIdleTime, every
// maintainInterval (spec.md §4.4 maintenance loop, ~500ms in the teacher).
func (p *Pool) maintain() {
	defer p.wg.Done()
	interval := p.cfg.maintainInterval
	if interval <= 0 {
		interval = defaultMaintainInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.pruneIdle()
		}
	}
}

func (p *Pool) pruneIdle() {
	p.mu.Lock()
	if p.state != poolReady {
		p.mu.Unlock()
		return
	}
	kept := p.idle[:0]
	var dead []*connection.Connection
	for _, c := range p.idle {
		if !c.Alive() || c.Expired() || p.staleLocked(c) {
			dead = append(dead, c)
			continue
		}
		kept = append(kept, c)
	}
	p.idle = kept
	p.mu.Unlock()

	for _, c := range dead {
		p.emitConnectionEvent(c.ID(), "closed", event.ReasonIdle)
		c.Close()
	}
}

// close tears the pool down: no further checkouts succeed, the
// maintenance loop stops, and every idle connection is closed. In-flight
// checked-out connections are closed as they're checked back in.
func (p *Pool) close() {
	p.closeOnce.Do(func() {
		p.mu.Lock()
		p.state = poolClosed
		idle := p.idle
		p.idle = nil
		p.mu.Unlock()

		close(p.stopCh)
		p.wg.Wait()

		for _, c := range idle {
			c.Close()
		}
		p.emitPoolEvent("closed", nil)
	})
}

func (p *Pool) emitPoolEvent(typ string, err error) {
	if p.cfg.poolMonitor == nil {
		return
	}
	p.cfg.poolMonitor.Pool(event.PoolEvent{Address: p.address.String(), Type: typ, Error: err})
}

func (p *Pool) emitConnectionEvent(connID, typ string, reason event.ConnectionClosedReason) {
	if p.cfg.poolMonitor == nil {
		return
	}
	p.cfg.poolMonitor.Connection(event.ConnectionEvent{
		Address: p.address.String(), ConnectionID: connID, Type: typ, Reason: reason,
	})
}

func (p *Pool) emitCheckOutEvent(typ, connID string, dur time.Duration, reason string) {
	if p.cfg.poolMonitor == nil {
		return
	}
	p.cfg.poolMonitor.CheckOut(event.CheckOutEvent{
		Address: p.address.String(), ConnectionID: connID, Type: typ, Duration: dur, Reason: reason,
	})
}

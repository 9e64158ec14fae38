package topology

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/corekv/docdriver/address"
	"github.com/corekv/docdriver/description"
	"github.com/corekv/docdriver/event"
)

// ErrTopologyClosed is returned once a Topology has been disconnected.
var ErrTopologyClosed = errors.New("topology: closed")

// ErrTopologyConnected is returned by Connect on an already-connected
// Topology.
var ErrTopologyConnected = errors.New("topology: already connected")

type topologyState uint8

const (
	topoDisconnected topologyState = iota
	topoConnected
	topoDisconnecting
)

// Topology is spec.md component F: the single-writer aggregate view over
// every known Server, folding each heartbeat through
// description.Topology.ApplyServer and publishing the result to
// subscribers and to SelectServer. Grounded on
// muendelezaji-mongo-go-driver's x/mongo/driver/topology.Topology (the
// apply/diff/subscriber-fanout shape and SelectServer's two-phase
// description-then-subscription loop), adapted to call the
// already-implemented description.Topology.ApplyServer instead of a
// private fsm type.
type Topology struct {
	cfg *topologyConfig

	mu    sync.Mutex
	state topologyState
	desc  description.Topology

	serversMu sync.Mutex
	servers   map[address.Address]*Server

	subMu       sync.Mutex
	subscribers map[uint64]chan description.Topology
	nextSubID   uint64
	closed      bool

	rng *rand.Rand

	opCounts opCounters
}

// New constructs a Topology from opts; call Connect to start monitoring.
func New(opts ...Option) (*Topology, error) {
	cfg := newTopologyConfig(opts...)
	t := &Topology{
		cfg:         cfg,
		desc:        description.NewUnknownTopology(),
		servers:     make(map[address.Address]*Server),
		subscribers: make(map[uint64]chan description.Topology),
		rng:         rand.New(rand.NewSource(time.Now().UnixNano())),
		opCounts:    newOpCounters(),
	}
	if cfg.replicaSetName != "" {
		t.desc.Kind = description.ReplicaSetNoPrimary
		t.desc.SetName = cfg.replicaSetName
	}
	if cfg.directConnection {
		t.desc.Kind = description.Single
	}
	if cfg.loadBalanced {
		t.desc.Kind = description.LoadBalanced
	}
	return t, nil
}

// Connect starts a Server (Pool+Monitor) for every seed address.
func (t *Topology) Connect() error {
	t.mu.Lock()
	if t.state != topoDisconnected {
		t.mu.Unlock()
		return ErrTopologyConnected
	}
	t.state = topoConnected
	t.mu.Unlock()

	// Servers are started after serversMu is released: srv.Connect runs
	// applyServer, which takes serversMu itself.
	var started []*Server
	t.serversMu.Lock()
	for _, a := range t.cfg.seedList {
		addr := address.Address(a).Canonicalize()
		if _, ok := t.servers[addr]; ok {
			continue
		}
		srv := NewServer(addr, t.applyServer, t.cfg.serverOpts...)
		t.servers[addr] = srv
		started = append(started, srv)
	}
	t.serversMu.Unlock()
	for _, srv := range started {
		srv.Connect()
	}
	return nil
}

// Disconnect stops every Server and closes subscriber channels.
func (t *Topology) Disconnect(ctx context.Context) error {
	t.mu.Lock()
	if t.state != topoConnected {
		t.mu.Unlock()
		return ErrTopologyClosed
	}
	t.state = topoDisconnecting
	t.mu.Unlock()

	t.serversMu.Lock()
	servers := make([]*Server, 0, len(t.servers))
	for _, s := range t.servers {
		servers = append(servers, s)
	}
	t.servers = make(map[address.Address]*Server)
	t.serversMu.Unlock()

	for _, s := range servers {
		s.Disconnect()
	}

	t.subMu.Lock()
	for id, ch := range t.subscribers {
		close(ch)
		delete(t.subscribers, id)
	}
	t.closed = true
	t.subMu.Unlock()

	t.mu.Lock()
	t.state = topoDisconnected
	t.mu.Unlock()
	return nil
}

// Description returns the current aggregate snapshot.
func (t *Topology) Description() description.Topology {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.desc
}

// applyServer is the updateCallback every Server invokes on each fresh
// heartbeat; it folds desc into the aggregate Topology under a single
// writer lock, adds/removes Servers as membership changes, and
// republishes to subscribers (spec.md §4.6). The gossiped cluster time is
// advanced separately, by AdvanceClusterTime.
func (t *Topology) applyServer(desc description.Server) description.Server {
	t.mu.Lock()
	prev := t.desc
	previousServer, hadPrevious := prev.Servers[desc.Addr]
	next := t.desc.ApplyServer(desc)
	t.desc = next
	t.mu.Unlock()

	if t.cfg.sdamMonitor != nil {
		newServer, ok := next.Servers[desc.Addr]
		if !ok {
			newServer = desc
		}
		if !hadPrevious || previousServer.Kind != newServer.Kind {
			t.cfg.sdamMonitor.ServerDescriptionChanged(event.ServerChangedEvent{
				Address:  desc.Addr.String(),
				Previous: previousServer,
				New:      newServer,
			})
		}
	}

	t.reconcileServers(next)
	t.publish(prev, next)

	// Return the description actually stored for this address so the
	// Server's own cache matches what the Topology accepted (a stale
	// primary demoted to Unknown, for instance).
	if stored, ok := next.Servers[desc.Addr]; ok {
		return stored
	}
	return desc
}

// reconcileServers adds a Server for any address that newly appears in the
// topology and disconnects any that disappeared (spec.md §4.6, replica-set
// membership changes via syncRSMembers).
func (t *Topology) reconcileServers(next description.Topology) {
	t.serversMu.Lock()
	var toAdd []address.Address
	for addr := range next.Servers {
		if _, ok := t.servers[addr]; !ok {
			toAdd = append(toAdd, addr)
		}
	}
	var toRemove []*Server
	for addr, srv := range t.servers {
		if _, ok := next.Servers[addr]; !ok {
			toRemove = append(toRemove, srv)
			delete(t.servers, addr)
		}
	}
	for _, addr := range toAdd {
		srv := NewServer(addr, t.applyServer, t.cfg.serverOpts...)
		t.servers[addr] = srv
	}
	t.serversMu.Unlock()

	for _, addr := range toAdd {
		t.serversMu.Lock()
		srv := t.servers[addr]
		t.serversMu.Unlock()
		if srv != nil {
			srv.Connect()
		}
		if t.cfg.sdamMonitor != nil {
			t.cfg.sdamMonitor.ServerOpening(event.ServerOpeningEvent{Address: addr.String()})
		}
	}
	for _, srv := range toRemove {
		go srv.Disconnect()
		if t.cfg.sdamMonitor != nil {
			t.cfg.sdamMonitor.ServerClosed(event.ServerClosedEvent{Address: srv.Address().String()})
		}
	}
}

func (t *Topology) publish(prev, next description.Topology) {
	if t.cfg.sdamMonitor != nil {
		t.cfg.sdamMonitor.TopologyDescriptionChanged(event.TopologyChangedEvent{Previous: prev, New: next})
	}

	t.subMu.Lock()
	defer t.subMu.Unlock()
	desc := next
	for _, ch := range t.subscribers {
		select {
		case <-ch:
		default:
		}
		ch <- desc
	}
}

// RequestImmediateCheck has every Server heartbeat now instead of waiting
// for its ticker (spec.md §4.6, used after a retryable error).
func (t *Topology) RequestImmediateCheck() {
	t.serversMu.Lock()
	defer t.serversMu.Unlock()
	for _, s := range t.servers {
		s.RequestImmediateCheck()
	}
}

// Subscribe returns a channel fed every description.Topology this Topology
// computes, pre-populated with the current snapshot.
func (t *Topology) Subscribe() (<-chan description.Topology, func(), error) {
	t.subMu.Lock()
	defer t.subMu.Unlock()
	if t.closed {
		return nil, nil, ErrTopologyClosed
	}
	ch := make(chan description.Topology, 1)
	ch <- t.Description()
	id := t.nextSubID
	t.nextSubID++
	t.subscribers[id] = ch

	unsubscribe := func() {
		t.subMu.Lock()
		defer t.subMu.Unlock()
		if c, ok := t.subscribers[id]; ok {
			close(c)
			delete(t.subscribers, id)
		}
	}
	return ch, unsubscribe, nil
}

// SelectServer implements spec.md §4.7: narrow by the selector, apply the
// latency window, and pick one candidate, blocking on topology updates
// (and retrying) until a suitable server appears or the timeout/context
// expires.
func (t *Topology) SelectServer(ctx context.Context, selector description.Selector) (*Server, error) {
	t.mu.Lock()
	if t.state != topoConnected {
		t.mu.Unlock()
		return nil, ErrTopologyClosed
	}
	t.mu.Unlock()

	var timeoutCh <-chan time.Time
	if t.cfg.serverSelectionTimeout > 0 {
		timer := time.NewTimer(t.cfg.serverSelectionTimeout)
		defer timer.Stop()
		timeoutCh = timer.C
	}

	current := t.Description()
	suitable, err := t.selectFrom(current, selector)
	if err != nil {
		return nil, err
	}
	if srv := t.pick(suitable); srv != nil {
		return srv, nil
	}

	updates, unsubscribe, err := t.Subscribe()
	if err != nil {
		return nil, err
	}
	defer unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return nil, &ServerSelectionError{Wrapped: ctx.Err(), Desc: current}
		case <-timeoutCh:
			return nil, &ServerSelectionError{Wrapped: description.ErrServerSelection, Desc: current}
		case current = <-updates:
		}

		suitable, err := t.selectFrom(current, selector)
		if err != nil {
			return nil, err
		}
		if srv := t.pick(suitable); srv != nil {
			return srv, nil
		}
		t.RequestImmediateCheck()
	}
}

func (t *Topology) selectFrom(desc description.Topology, selector description.Selector) ([]description.Server, error) {
	if desc.HasCompatibilityError() {
		return nil, desc.CompatibilityError
	}
	if desc.Kind == description.LoadBalanced {
		out := make([]description.Server, 0, len(desc.Servers))
		for _, s := range desc.Servers {
			out = append(out, s)
		}
		return out, nil
	}

	candidates, err := selector.SelectServers(desc)
	if err != nil {
		return nil, err
	}
	candidates = description.ApplyLatencyWindow(candidates, t.cfg.localThreshold)
	return candidates, nil
}

func (t *Topology) pick(candidates []description.Server) *Server {
	if len(candidates) == 0 {
		return nil
	}
	chosen, ok := description.Pick(candidates, &t.opCounts, t.rng)
	if !ok {
		return nil
	}
	t.serversMu.Lock()
	srv := t.servers[chosen.Addr]
	t.serversMu.Unlock()
	return srv
}

// HandleApplicationError implements spec.md §4.6 rule 5 for errors
// observed by the executor on an already-checked-out connection: it
// dispatches to the owning Server's ProcessApplicationError, and also
// triggers a pool clear on pre-4.2 servers or when the server reports it
// is shutting down.
func (t *Topology) HandleApplicationError(addr address.Address, err error, tv description.TopologyVersion, maxWireVersion int32, shuttingDown bool) {
	t.serversMu.Lock()
	srv := t.servers[addr]
	t.serversMu.Unlock()
	if srv == nil {
		return
	}
	clearPool := shuttingDown || maxWireVersion < 8
	srv.ProcessApplicationError(err, tv, clearPool)
}

// AdvanceClusterTime folds a gossiped $clusterTime into the aggregate
// snapshot if it is newer than the one currently held (spec.md §4.6 rule
//3 and spec.md §4.9's causal-consistency propagation).
func (t *Topology) AdvanceClusterTime(ct description.ClusterTime) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.desc.ClusterTime = description.MaxClusterTime(t.desc.ClusterTime, ct)
}

// ClusterTime returns the latest gossiped cluster time.
func (t *Topology) ClusterTime() description.ClusterTime {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.desc.ClusterTime
}

// Server returns the Server instance for addr (for the executor to obtain
// a connection once SelectServer has named a candidate), or nil.
func (t *Topology) Server(addr address.Address) *Server {
	t.serversMu.Lock()
	defer t.serversMu.Unlock()
	return t.servers[addr]
}

// opCounters tracks in-flight operation counts per address for
// description.Pick's step-8 tiebreak (spec.md §4.7).
type opCounters struct {
	mu     sync.Mutex
	counts map[address.Address]int64
}

func newOpCounters() opCounters {
	return opCounters{counts: make(map[address.Address]int64)}
}

func (c *opCounters) Count(addr address.Address) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counts[addr]
}

func (c *opCounters) Inc(addr address.Address) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counts[addr]++
}

func (c *opCounters) Dec(addr address.Address) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counts[addr]--
}

// ServerSelectionError is returned when SelectServer times out, carrying
// the topology snapshot last observed so the diagnostic lists every known
// server and its type (spec.md §8).
type ServerSelectionError struct {
	Wrapped error
	Desc    description.Topology
}

func (e *ServerSelectionError) Error() string {
	return fmt.Sprintf("%v: %s", e.Wrapped, description.DiagnosticString(e.Desc))
}

func (e *ServerSelectionError) Unwrap() error { return e.Wrapped }

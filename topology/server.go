package topology

import (
	"context"
	"errors"
	"sync"

	"github.com/corekv/docdriver/address"
	"github.com/corekv/docdriver/connection"
	"github.com/corekv/docdriver/description"
)

// ErrServerClosed is returned by Server.Connection once the server has
// been disconnected.
var ErrServerClosed = errors.New("topology: server is closed")

// updateCallback lets the owning Topology fold a new description.Server
// into its aggregate view and returns the description that should actually
// be stored (spec.md §4.6 rule 2, "ApplyServer ... may itself be stale").
type updateCallback func(description.Server) description.Server

// Server is spec.md's per-server unit: a Pool plus a Monitor, wired so each
// fresh heartbeat both updates the locally-cached description.Server and
// feeds the owning Topology's single-writer update loop. Grounded on the
// teacher's x/mongo/driver/topology.Server, generalized by splitting the
// heartbeat machinery out into the standalone Monitor type above.
type Server struct {
	addr address.Address
	pool *Pool
	mon  *Monitor

	callback updateCallback

	mu   sync.RWMutex
	desc description.Server

	subMu       sync.Mutex
	subscribers map[uint64]chan description.Server
	nextSubID   uint64
	closed      bool

	done chan struct{}
	wg   sync.WaitGroup
}

// NewServer constructs a Server for addr without starting its monitoring
// goroutine; call Connect to start it.
func NewServer(addr address.Address, callback updateCallback, opts ...ServerOption) *Server {
	cfg := newServerConfig(opts...)
	return &Server{
		addr:        addr,
		pool:        newPool(addr, cfg.pool),
		mon:         newMonitor(addr, cfg),
		callback:    callback,
		desc:        description.NewDefaultServer(addr),
		subscribers: make(map[uint64]chan description.Server),
		done:        make(chan struct{}),
	}
}

// Connect starts the Server's monitoring goroutine and marks its pool
// Ready once the first heartbeat completes.
func (s *Server) Connect() {
	desc := s.mon.start()
	s.updateDescription(desc)
	s.pool.ready()
	s.wg.Add(1)
	go s.watchHeartbeats()
}

// watchHeartbeats folds every description the Monitor publishes into this
// Server's cached state and notifies subscribers, until Disconnect.
func (s *Server) watchHeartbeats() {
	defer s.wg.Done()
	for {
		select {
		case <-s.done:
			return
		case desc := <-s.mon.updates:
			s.updateDescription(desc)
		}
	}
}

func (s *Server) updateDescription(desc description.Server) {
	if s.callback != nil {
		desc = s.callback(desc)
	}
	s.mu.Lock()
	s.desc = desc
	s.mu.Unlock()

	s.subMu.Lock()
	for _, ch := range s.subscribers {
		select {
		case <-ch:
		default:
		}
		ch <- desc
	}
	s.subMu.Unlock()
}

// Description returns the most recently observed description.Server.
func (s *Server) Description() description.Server {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.desc
}

// Address returns the server's address.
func (s *Server) Address() address.Address { return s.addr }

// Connection checks a live connection out of this server's Pool.
func (s *Server) Connection(ctx context.Context) (*connection.Connection, error) {
	s.subMu.Lock()
	closed := s.closed
	s.subMu.Unlock()
	if closed {
		return nil, ErrServerClosed
	}
	conn, err := s.pool.CheckOut(ctx)
	if err != nil {
		s.ProcessHandshakeError(err)
		return nil, err
	}
	return conn, nil
}

// CheckInConnection returns conn to this server's Pool.
func (s *Server) CheckInConnection(conn *connection.Connection) {
	s.pool.CheckIn(conn)
}

// RequestImmediateCheck asks the Monitor to heartbeat now rather than
// waiting for its ticker (spec.md §4.6, used after an application error).
func (s *Server) RequestImmediateCheck() {
	s.mon.requestImmediateCheck()
}

// ProcessHandshakeError implements SDAM error handling for failures that
// occur establishing a connection, before any command has been run on it
// (spec.md §4.6 rule 5): the server is marked Unknown and its pool cleared.
func (s *Server) ProcessHandshakeError(err error) {
	if err == nil || !connection.NetworkError(err) {
		return
	}
	s.updateDescription(description.NewServerFromError(s.addr, err, s.Description().TopologyVersion))
	s.pool.clear(s.Description().ServiceID)
}

// ProcessApplicationError implements SDAM error handling for errors
// observed on a connection returned from an already-completed operation
// (spec.md §4.6 rule 5, "not master"/"node is recovering" handling is
// driven by the caller via the command's error code; this records the
// consequence once the caller has classified the error).
func (s *Server) ProcessApplicationError(err error, staleness description.TopologyVersion, clearPool bool) {
	cur := s.Description()
	if description.CompareTopologyVersion(cur.TopologyVersion, &staleness) >= 0 {
		return
	}
	s.updateDescription(description.NewServerFromError(s.addr, err, &staleness))
	s.RequestImmediateCheck()
	if clearPool {
		s.pool.clear(cur.ServiceID)
	}
}

// Subscribe returns a channel fed every description.Server this Server
// observes, pre-populated with the current one.
func (s *Server) Subscribe() (<-chan description.Server, func(), error) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	if s.closed {
		return nil, nil, ErrServerClosed
	}
	ch := make(chan description.Server, 1)
	ch <- s.Description()
	id := s.nextSubID
	s.nextSubID++
	s.subscribers[id] = ch

	unsubscribe := func() {
		s.subMu.Lock()
		defer s.subMu.Unlock()
		if c, ok := s.subscribers[id]; ok {
			close(c)
			delete(s.subscribers, id)
		}
	}
	return ch, unsubscribe, nil
}

// Disconnect stops the Monitor and closes the Pool.
func (s *Server) Disconnect() {
	s.subMu.Lock()
	if s.closed {
		s.subMu.Unlock()
		return
	}
	s.closed = true
	for id, ch := range s.subscribers {
		close(ch)
		delete(s.subscribers, id)
	}
	s.subMu.Unlock()

	close(s.done)
	s.wg.Wait()
	s.mon.stop()
	s.pool.close()
}

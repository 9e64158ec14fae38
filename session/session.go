// Package session implements spec.md component H: the LIFO pool of server
// session records and the logical-session/transaction state carried on a
// ClientSession. Grounded on the teacher's operation builder idiom (struct
// wrapping mutable state plus cheap accessor methods) and on description's
// immutable-snapshot pattern for ClusterTime.
package session

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/v2/x/bsonx/bsoncore"
)

// endSessionsBuffer is how far ahead of a server's advertised
// logicalSessionTimeout a session is treated as "about to expire" and
// discarded rather than reused (spec.md §4.8).
const endSessionsBuffer = time.Minute

// Server is a single server-session record: the random id the server
// correlates retried/related operations by, plus bookkeeping the pool
// needs to decide whether it is still usable.
type Server struct {
	ID       bsoncore.Document // {id: Binary(subtype 4, <16-byte UUIDv4>)}
	LastUsed time.Time
	Dirty    bool // set when a network error occurred mid-command under this session
}

func newServerSession() *Server {
	id := uuid.New()
	idx, doc := bsoncore.AppendDocumentStart(nil)
	doc = bsoncore.AppendBinaryElement(doc, "id", 0x04, id[:])
	doc, _ = bsoncore.AppendDocumentEnd(doc, idx)
	return &Server{ID: doc, LastUsed: time.Now()}
}

// expired reports whether s is within endSessionsBuffer of timeout, the
// point the pool discards rather than reuses it (spec.md §4.8).
func (s *Server) expired(timeout time.Duration) bool {
	if timeout <= 0 {
		return false
	}
	return time.Since(s.LastUsed) >= timeout-endSessionsBuffer
}

// Pool is the LIFO stack of Server records described by spec.md §4.8:
// checkOut pops the freshest record (most likely to still be alive
// server-side), discarding any that are dirty or near expiry; checkIn
// pushes a still-usable record back on top.
type Pool struct {
	mu      sync.Mutex
	stack   []*Server
	timeout time.Duration
}

// NewPool constructs a session Pool. timeout is the server's advertised
// logicalSessionTimeoutMinutes, converted to a time.Duration; zero
// disables the near-expiry check, so records are pooled and reused
// regardless of age.
func NewPool(timeout time.Duration) *Pool {
	return &Pool{timeout: timeout}
}

// SetTimeout updates the pool's notion of the server's session timeout,
// called whenever a fresh hello reply changes it.
func (p *Pool) SetTimeout(timeout time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.timeout = timeout
}

// CheckOut pops the top record, discarding and retrying past any that
// are within one minute of expiring, and allocates a fresh one if the
// stack runs dry.
func (p *Pool) CheckOut() *Server {
	p.mu.Lock()
	defer p.mu.Unlock()
	for len(p.stack) > 0 {
		top := p.stack[len(p.stack)-1]
		p.stack = p.stack[:len(p.stack)-1]
		if top.Dirty || top.expired(p.timeout) {
			continue
		}
		return top
	}
	return newServerSession()
}

// CheckIn pushes sess back onto the stack unless it is dirty or near
// expiry, in which case it is simply dropped (spec.md §4.8).
func (p *Pool) CheckIn(sess *Server) {
	if sess == nil {
		return
	}
	sess.LastUsed = time.Now()
	p.mu.Lock()
	defer p.mu.Unlock()
	if sess.Dirty || sess.expired(p.timeout) {
		return
	}
	p.stack = append(p.stack, sess)
}

// Drain empties the pool, returning every record it held so the caller
// can send them in an endSessions batch during shutdown.
func (p *Pool) Drain() []*Server {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := p.stack
	p.stack = nil
	return out
}

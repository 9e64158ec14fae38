// Package cursor implements spec.md component K: the getMore-driven
// iterator an Executor hands ownership of (id, ns, initial batch, and an
// optional pinned connection/session) to once an operation's reply
// carries a cursor sub-document. Grounded on the teacher's operation
// builder idiom (driver/operation.go's CursorResponse), generalized into
// a stateful iterator the way database/sql.Rows exposes Next/Close over
// a driver-level result set.
package cursor

import (
	"context"

	"go.mongodb.org/mongo-driver/v2/x/bsonx/bsoncore"

	"github.com/corekv/docdriver/connection"
	"github.com/corekv/docdriver/driver"
	"github.com/corekv/docdriver/operation"
	"github.com/corekv/docdriver/session"
	"github.com/corekv/docdriver/topology"
)

// non-resumable-by-killCursors codes: a getMore failing with either of
// these means the server has already forgotten the cursor (spec.md
// §4.10's error policy).
const (
	codeCursorNotFound = 43
	codeCursorKilled   = 237
)

// Cursor is a single-consumer iterator over a server-side cursor. It is
// not safe for concurrent use from more than one goroutine.
type Cursor struct {
	database   string
	collection string

	topo *topology.Topology
	srv  *topology.Server
	conn *connection.Connection // pinned once id != 0

	sess            *session.ClientSession
	implicitSession bool

	id        int64
	batch     []bsoncore.Document
	idx       int
	batchSize *int32

	current   bsoncore.Document
	err       error
	exhausted bool
}

// New wraps the first batch an operation's reply produced. srv/conn are
// the server/connection the operation ran on; they are retained (pinned)
// only while id != 0.
func New(topo *topology.Topology, srv *topology.Server, conn *connection.Connection, sess *session.ClientSession, implicitSession bool, database, collection string, cr operation.CursorResponse, batchSize *int32) *Cursor {
	c := &Cursor{
		database:        database,
		collection:      collection,
		topo:            topo,
		id:              cr.ID,
		batch:           cr.Batch,
		batchSize:       batchSize,
		sess:            sess,
		implicitSession: implicitSession,
	}
	if cr.ID != 0 {
		c.srv, c.conn = srv, conn
	} else {
		c.exhausted = true
		c.releaseSession()
	}
	return c
}

// ID returns the server-side cursor id; 0 once exhausted.
func (c *Cursor) ID() int64 { return c.id }

// Exhausted reports whether the cursor has delivered every document the
// server will ever produce (the final getMore returned id 0, or a
// CursorNotFound/CursorKilled error was observed).
func (c *Cursor) Exhausted() bool { return c.exhausted }

// Current returns the document Next most recently advanced to.
func (c *Cursor) Current() bsoncore.Document { return c.current }

// Err returns the error (if any) that caused Next to return false.
func (c *Cursor) Err() error { return c.err }

// Next advances the cursor, fetching a fresh batch via getMore once the
// buffered one is exhausted. It returns false when there are no more
// documents (exhausted) or an error occurred (check Err).
func (c *Cursor) Next(ctx context.Context) bool {
	if c.err != nil {
		return false
	}
	if c.idx < len(c.batch) {
		c.current = c.batch[c.idx]
		c.idx++
		return true
	}
	if c.id == 0 {
		return false
	}
	if err := c.getMore(ctx); err != nil {
		c.err = err
		return false
	}
	if c.idx >= len(c.batch) {
		return c.id != 0 && c.Next(ctx)
	}
	c.current = c.batch[c.idx]
	c.idx++
	return true
}

func (c *Cursor) getMore(ctx context.Context) error {
	gm := &operation.GetMore{
		Collection: c.collection,
		Database:   c.database,
		ID:         c.id,
		BatchSize:  c.batchSize,
		Session:    c.sess,
	}
	err := gm.Execute(ctx, c.topo, c.srv, c.conn)
	if err != nil {
		c.handleGetMoreError(err)
		return err
	}

	res := gm.Result()
	c.batch = res.Batch
	c.idx = 0
	c.id = res.ID
	if c.id == 0 {
		c.exhausted = true
		c.releaseSession()
	}
	return nil
}

// handleGetMoreError applies spec.md §4.10's error policy: a
// CursorNotFound/CursorKilled reply means the server already forgot the
// cursor, so Close must not send killCursors; a network error means the
// pinned connection cannot be trusted again and must never be reused.
func (c *Cursor) handleGetMoreError(err error) {
	c.exhausted = true
	var cmdErr *driver.Error
	if e, ok := err.(*driver.Error); ok {
		cmdErr = e
	}
	if cmdErr != nil && (cmdErr.Code == codeCursorNotFound || cmdErr.Code == codeCursorKilled) {
		c.id = 0
		c.releaseSession()
		return
	}
	if connection.NetworkError(err) {
		if c.conn != nil {
			c.conn.Close()
		}
		c.id = 0
	}
	c.releaseSession()
}

// Close releases the cursor's resources: if the server hasn't already
// forgotten it, a killCursors is sent (best-effort); an implicit session
// is checked back into the pool. Idempotent (spec.md §8).
func (c *Cursor) Close(ctx context.Context) error {
	if c.id == 0 && c.conn == nil && c.sess == nil {
		return nil
	}
	var killErr error
	if c.id != 0 && c.conn != nil {
		kc := &operation.KillCursors{Collection: c.collection, Database: c.database, ID: c.id}
		killErr = kc.Execute(ctx, c.topo, c.srv, c.conn)
	}
	c.id = 0
	if c.conn != nil && c.srv != nil {
		c.srv.CheckInConnection(c.conn)
	}
	c.conn = nil
	c.releaseSession()
	return killErr
}

func (c *Cursor) releaseSession() {
	if c.sess != nil && c.implicitSession {
		c.sess.EndSession()
	}
	c.sess = nil
}

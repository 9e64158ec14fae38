package client

import (
	"context"

	"go.mongodb.org/mongo-driver/v2/x/bsonx/bsoncore"

	"github.com/corekv/docdriver/changestream"
	"github.com/corekv/docdriver/cursor"
	"github.com/corekv/docdriver/operation"
	"github.com/corekv/docdriver/session"
)

// Database is a named database handle bound to a Client. Grounded on the
// teacher's mongo/database.go layering: a thin value holding its parent
// Client plus a name, with every method translating directly into an
// operation.* command against the Client's Topology.
type Database struct {
	client *Client
	name   string
}

// Name returns the database's name.
func (db *Database) Name() string { return db.name }

// Collection returns a handle to the named collection within db.
func (db *Database) Collection(name string) *Collection {
	return &Collection{db: db, name: name}
}

// RunCommand executes an arbitrary command against db, the same escape
// hatch the teacher's Database.RunCommand exposes for anything not
// wrapped by a dedicated method.
func (db *Database) RunCommand(ctx context.Context, cmd bsoncore.Document, sess *session.ClientSession) (bsoncore.Document, error) {
	op := &operation.RunCommand{Database: db.name, Command: cmd, Session: sess}
	if err := op.Execute(ctx, db.client.topo, db.client.sessPool); err != nil {
		return nil, err
	}
	return op.Result(), nil
}

// Drop runs dropDatabase against db.
func (db *Database) Drop(ctx context.Context, sess *session.ClientSession) error {
	op := &operation.DropDatabase{Database: db.name, Session: sess}
	return op.Execute(ctx, db.client.topo, db.client.sessPool)
}

// ListCollections returns a Cursor over every collection matching filter
// (nil for all collections) defined in db.
func (db *Database) ListCollections(ctx context.Context, filter bsoncore.Document, sess *session.ClientSession) (*cursor.Cursor, error) {
	op := &operation.ListCollections{Database: db.name, Filter: filter, Session: sess}
	if err := op.Execute(ctx, db.client.topo, db.client.sessPool); err != nil {
		return nil, err
	}
	return cursor.New(db.client.topo, op.Server(), op.Conn(), sess, sess == nil, db.name, "", op.Result(), nil), nil
}

// Aggregate runs a database-level (collection: "") aggregation pipeline,
// used for $currentOp, $listLocalSessions, and cross-collection change
// streams (spec.md §4.10/§4.11).
func (db *Database) Aggregate(ctx context.Context, pipeline []bsoncore.Document, sess *session.ClientSession) (*cursor.Cursor, error) {
	op := &operation.Aggregate{Database: db.name, Pipeline: pipeline, Session: sess}
	if err := op.Execute(ctx, db.client.topo, db.client.sessPool); err != nil {
		return nil, err
	}
	return cursor.New(db.client.topo, op.Server(), op.Conn(), sess, sess == nil, db.name, "", op.Result(), nil), nil
}

// Watch opens a database-level change stream (spec.md §4.11), observing
// every collection in db.
func (db *Database) Watch(ctx context.Context, pipeline []bsoncore.Document, opts changestream.Options) (*changestream.ChangeStream, error) {
	return changestream.Open(ctx, db.client.topo, db.client.sessPool, db.name, "", pipeline, opts)
}

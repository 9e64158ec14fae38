package client

import (
	"context"

	"go.mongodb.org/mongo-driver/v2/x/bsonx/bsoncore"

	"github.com/corekv/docdriver/changestream"
	"github.com/corekv/docdriver/cursor"
	"github.com/corekv/docdriver/description"
	"github.com/corekv/docdriver/operation"
	"github.com/corekv/docdriver/session"
)

// Collection is a named collection handle, grounded on the teacher's
// mongo/collection.go: every CRUD method here builds the matching
// operation.* type and hands its result back through a Cursor or a plain
// result struct, rather than going through a bson-codec marshaling layer
// (this core works in raw bsoncore.Document throughout, per spec.md §4.1).
type Collection struct {
	db   *Database
	name string
}

// Name returns the collection's name.
func (c *Collection) Name() string { return c.name }

// InsertOptions carries the per-call settings every write method accepts.
type InsertOptions struct {
	Ordered      *bool
	WriteConcern description.WriteConcern
	Session      *session.ClientSession
	Retryable    bool
}

// InsertMany inserts documents, returning the server's InsertResult.
func (c *Collection) InsertMany(ctx context.Context, documents []bsoncore.Document, opts InsertOptions) (operation.InsertResult, error) {
	op := &operation.Insert{
		Collection:   c.name,
		Database:     c.db.name,
		Documents:    documents,
		Ordered:      opts.Ordered,
		Session:      opts.Session,
		WriteConcern: opts.WriteConcern,
		Retryable:    opts.Retryable,
	}
	if err := op.Execute(ctx, c.db.client.topo, c.db.client.sessPool); err != nil {
		return operation.InsertResult{}, err
	}
	return op.Result(), nil
}

// InsertOne is InsertMany for a single document.
func (c *Collection) InsertOne(ctx context.Context, document bsoncore.Document, opts InsertOptions) (operation.InsertResult, error) {
	return c.InsertMany(ctx, []bsoncore.Document{document}, opts)
}

// FindOptions carries the settings Find accepts.
type FindOptions struct {
	Sort           bsoncore.Document
	Projection     bsoncore.Document
	Limit          *int64
	Skip           *int64
	BatchSize      *int32
	ReadConcern    description.ReadConcern
	ReadPreference description.ReadPref
	Session        *session.ClientSession
}

// Find runs a find command and returns a Cursor over the matching
// documents (spec.md §4.10).
func (c *Collection) Find(ctx context.Context, filter bsoncore.Document, opts FindOptions) (*cursor.Cursor, error) {
	op := &operation.Find{
		Collection:     c.name,
		Database:       c.db.name,
		Filter:         filter,
		Sort:           opts.Sort,
		Projection:     opts.Projection,
		Limit:          opts.Limit,
		Skip:           opts.Skip,
		BatchSize:      opts.BatchSize,
		Session:        opts.Session,
		ReadConcern:    opts.ReadConcern,
		ReadPreference: opts.ReadPreference,
	}
	if err := op.Execute(ctx, c.db.client.topo, c.db.client.sessPool); err != nil {
		return nil, err
	}
	return cursor.New(c.db.client.topo, op.Server(), op.Conn(), opts.Session, opts.Session == nil,
		c.db.name, c.name, op.Result(), opts.BatchSize), nil
}

// FindOne runs Find with a limit of one and drains the Cursor's single
// batch, returning the one matching document or nil.
func (c *Collection) FindOne(ctx context.Context, filter bsoncore.Document, opts FindOptions) (bsoncore.Document, error) {
	one := int64(1)
	opts.Limit = &one
	cur, err := c.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	if !cur.Next(ctx) {
		return nil, cur.Err()
	}
	return cur.Current(), nil
}

// UpdateOptions carries the settings Update{One,Many} accept.
type UpdateOptions struct {
	Upsert       bool
	WriteConcern description.WriteConcern
	Session      *session.ClientSession
	Retryable    bool
}

func (c *Collection) update(ctx context.Context, filter, update bsoncore.Document, multi bool, opts UpdateOptions) (operation.UpdateResult, error) {
	op := &operation.Update{
		Collection: c.name,
		Database:   c.db.name,
		Updates: []operation.UpdateStatement{{
			Filter: filter,
			Update: update,
			Multi:  multi,
			Upsert: opts.Upsert,
		}},
		Session:      opts.Session,
		WriteConcern: opts.WriteConcern,
		Retryable:    opts.Retryable,
	}
	if err := op.Execute(ctx, c.db.client.topo, c.db.client.sessPool); err != nil {
		return operation.UpdateResult{}, err
	}
	return op.Result(), nil
}

// UpdateOne updates at most one matching document.
func (c *Collection) UpdateOne(ctx context.Context, filter, update bsoncore.Document, opts UpdateOptions) (operation.UpdateResult, error) {
	return c.update(ctx, filter, update, false, opts)
}

// UpdateMany updates every matching document.
func (c *Collection) UpdateMany(ctx context.Context, filter, update bsoncore.Document, opts UpdateOptions) (operation.UpdateResult, error) {
	return c.update(ctx, filter, update, true, opts)
}

// DeleteOptions carries the settings Delete{One,Many} accept.
type DeleteOptions struct {
	WriteConcern description.WriteConcern
	Session      *session.ClientSession
	Retryable    bool
}

func (c *Collection) delete(ctx context.Context, filter bsoncore.Document, limit int32, opts DeleteOptions) (operation.DeleteResult, error) {
	op := &operation.Delete{
		Collection:   c.name,
		Database:     c.db.name,
		Deletes:      []operation.DeleteStatement{{Filter: filter, Limit: limit}},
		Session:      opts.Session,
		WriteConcern: opts.WriteConcern,
		Retryable:    opts.Retryable,
	}
	if err := op.Execute(ctx, c.db.client.topo, c.db.client.sessPool); err != nil {
		return operation.DeleteResult{}, err
	}
	return op.Result(), nil
}

// DeleteOne deletes at most one matching document.
func (c *Collection) DeleteOne(ctx context.Context, filter bsoncore.Document, opts DeleteOptions) (operation.DeleteResult, error) {
	return c.delete(ctx, filter, 1, opts)
}

// DeleteMany deletes every matching document.
func (c *Collection) DeleteMany(ctx context.Context, filter bsoncore.Document, opts DeleteOptions) (operation.DeleteResult, error) {
	return c.delete(ctx, filter, 0, opts)
}

// CountDocuments counts the documents in c matching filter via the
// count command (spec.md's distillation of the teacher's $count-pipeline
// rewrite keeps the legacy count command, since this core's operation
// package implements it directly).
func (c *Collection) CountDocuments(ctx context.Context, filter bsoncore.Document, opts FindOptions) (int64, error) {
	op := &operation.Count{
		Collection:     c.name,
		Database:       c.db.name,
		Filter:         filter,
		Limit:          opts.Limit,
		Skip:           opts.Skip,
		Session:        opts.Session,
		ReadConcern:    opts.ReadConcern,
		ReadPreference: opts.ReadPreference,
	}
	if err := op.Execute(ctx, c.db.client.topo, c.db.client.sessPool); err != nil {
		return 0, err
	}
	return op.Result(), nil
}

// AggregateOptions carries the settings Aggregate accepts.
type AggregateOptions struct {
	BatchSize      *int32
	MaxAwaitTimeMS *int64
	ReadConcern    description.ReadConcern
	ReadPreference description.ReadPref
	Session        *session.ClientSession
}

// Aggregate runs an aggregation pipeline against c, returning a Cursor
// over the result documents.
func (c *Collection) Aggregate(ctx context.Context, pipeline []bsoncore.Document, opts AggregateOptions) (*cursor.Cursor, error) {
	op := &operation.Aggregate{
		Collection:     c.name,
		Database:       c.db.name,
		Pipeline:       pipeline,
		BatchSize:      opts.BatchSize,
		MaxAwaitTimeMS: opts.MaxAwaitTimeMS,
		Session:        opts.Session,
		ReadConcern:    opts.ReadConcern,
		ReadPreference: opts.ReadPreference,
	}
	if err := op.Execute(ctx, c.db.client.topo, c.db.client.sessPool); err != nil {
		return nil, err
	}
	return cursor.New(c.db.client.topo, op.Server(), op.Conn(), opts.Session, opts.Session == nil,
		c.db.name, c.name, op.Result(), opts.BatchSize), nil
}

// Watch opens a change stream scoped to c (spec.md §4.11).
func (c *Collection) Watch(ctx context.Context, pipeline []bsoncore.Document, opts changestream.Options) (*changestream.ChangeStream, error) {
	return changestream.Open(ctx, c.db.client.topo, c.db.client.sessPool, c.db.name, c.name, pipeline, opts)
}

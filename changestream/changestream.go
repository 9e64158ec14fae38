// Package changestream implements spec.md component L: an aggregate
// pipeline seeded with $changeStream plus a Cursor, with the resume loop
// of spec.md §4.11 layered on top. Grounded on operation.Aggregate (the
// underlying command) and cursor.Cursor (the underlying iterator).
package changestream

import (
	"context"

	"go.mongodb.org/mongo-driver/v2/x/bsonx/bsoncore"

	"github.com/corekv/docdriver/connection"
	"github.com/corekv/docdriver/cursor"
	"github.com/corekv/docdriver/description"
	"github.com/corekv/docdriver/driver"
	"github.com/corekv/docdriver/operation"
	"github.com/corekv/docdriver/session"
	"github.com/corekv/docdriver/topology"
)

// nonResumableCodes refuses the resume loop outright (spec.md §4.11).
var nonResumableCodes = map[int32]bool{
	237:   true, // CursorKilled
	11601: true, // Interrupted
	136:   true, // CappedPositionLost
}

// FullDocument controls how much of the post-change document a change
// event carries.
type FullDocument string

const (
	FullDocumentDefault       FullDocument = ""
	FullDocumentUpdateLookup  FullDocument = "updateLookup"
	FullDocumentRequired      FullDocument = "required"
	FullDocumentWhenAvailable FullDocument = "whenAvailable"
)

// Options configures where a change stream starts and how it reports
// full documents (spec.md §4.11).
type Options struct {
	ResumeAfter          bsoncore.Document
	StartAfter           bsoncore.Document
	StartAtOperationTime *session.OperationTime
	FullDocument         FullDocument
	BatchSize            *int32
	MaxAwaitTimeMS       *int64
}

// ChangeStream is a resumable iterator over a $changeStream aggregation.
type ChangeStream struct {
	database   string
	collection string
	pipeline   []bsoncore.Document
	opts       Options

	topo     *topology.Topology
	sessPool *session.Pool
	sess     *session.ClientSession

	cur *cursor.Cursor

	resumeToken       bsoncore.Document
	startAfterPending bool
	current           bsoncore.Document
	err               error
}

// Open runs the initial aggregate with a $changeStream stage prepended to
// pipeline and returns a live ChangeStream. collection == "" opens a
// database-level (or, with database == "", a cluster-level) stream.
func Open(ctx context.Context, topo *topology.Topology, sessPool *session.Pool, database, collection string, pipeline []bsoncore.Document, opts Options) (*ChangeStream, error) {
	cs := &ChangeStream{
		database:          database,
		collection:        collection,
		pipeline:          pipeline,
		opts:              opts,
		topo:              topo,
		sessPool:          sessPool,
		resumeToken:       opts.ResumeAfter,
		startAfterPending: opts.StartAfter != nil,
	}
	if opts.StartAfter != nil {
		cs.resumeToken = opts.StartAfter
	}
	if err := cs.runAggregate(ctx); err != nil {
		return nil, err
	}
	return cs, nil
}

func (cs *ChangeStream) changeStreamStage() bsoncore.Document {
	idx, stage := bsoncore.AppendDocumentStart(nil)
	csIdx, csDoc := bsoncore.AppendDocumentStart(nil)
	switch {
	case cs.startAfterPending && cs.opts.StartAfter != nil:
		csDoc = bsoncore.AppendDocumentElement(csDoc, "startAfter", cs.opts.StartAfter)
	case cs.resumeToken != nil:
		csDoc = bsoncore.AppendDocumentElement(csDoc, "resumeAfter", cs.resumeToken)
	case cs.opts.StartAtOperationTime != nil:
		csDoc = bsoncore.AppendTimestampElement(csDoc, "startAtOperationTime", cs.opts.StartAtOperationTime.T, cs.opts.StartAtOperationTime.I)
	}
	if cs.opts.FullDocument != FullDocumentDefault {
		csDoc = bsoncore.AppendStringElement(csDoc, "fullDocument", string(cs.opts.FullDocument))
	}
	csDoc, _ = bsoncore.AppendDocumentEnd(csDoc, csIdx)
	stage = bsoncore.AppendDocumentElement(stage, "$changeStream", csDoc)
	stage, _ = bsoncore.AppendDocumentEnd(stage, idx)
	return stage
}

func (cs *ChangeStream) runAggregate(ctx context.Context) error {
	if cs.sess == nil {
		cs.sess = session.NewClientSession(cs.sessPool, true)
	}

	pipeline := append([]bsoncore.Document{cs.changeStreamStage()}, cs.pipeline...)
	agg := &operation.Aggregate{
		Collection:     cs.collection,
		Database:       cs.database,
		Pipeline:       pipeline,
		BatchSize:      cs.opts.BatchSize,
		MaxAwaitTimeMS: cs.opts.MaxAwaitTimeMS,
		Session:        cs.sess,
		ReadConcern:    description.ReadConcern{},
	}
	if err := agg.Execute(ctx, cs.topo, cs.sessPool); err != nil {
		return err
	}

	res := agg.Result()
	cs.cur = cursor.New(cs.topo, agg.Server(), agg.Conn(), cs.sess, true, cs.database, cs.collection, res, cs.opts.BatchSize)
	cs.startAfterPending = false
	return nil
}

// Next advances to the next change event, transparently resuming the
// underlying cursor on a resumable error per spec.md §4.11.
func (cs *ChangeStream) Next(ctx context.Context) bool {
	if cs.err != nil {
		return false
	}
	if cs.cur.Next(ctx) {
		cs.current = cs.cur.Current()
		if id, err := cs.current.LookupErr("_id"); err == nil {
			if doc, ok := id.DocumentOK(); ok {
				cs.resumeToken = doc
			}
		}
		return true
	}

	err := cs.cur.Err()
	if err == nil {
		return false // genuinely exhausted, not an error
	}
	if !cs.resumable(err) {
		cs.err = err
		return false
	}

	_ = cs.cur.Close(ctx)
	if rerr := cs.runAggregate(ctx); rerr != nil {
		cs.err = rerr
		return false
	}
	return cs.Next(ctx)
}

func (cs *ChangeStream) resumable(err error) bool {
	cmdErr, ok := err.(*driver.Error)
	if !ok {
		return connection.NetworkError(err)
	}
	if nonResumableCodes[cmdErr.Code] {
		return false
	}
	if cmdErr.HasErrorLabel(driver.NonResumableChangeStreamError) {
		return false
	}
	return true
}

// Current returns the change document Next most recently advanced to.
func (cs *ChangeStream) Current() bsoncore.Document { return cs.current }

// Err returns the error (if any) that ended iteration.
func (cs *ChangeStream) Err() error { return cs.err }

// ResumeToken returns the cached resume token, usable to re-open a new
// ChangeStream later from where this one left off.
func (cs *ChangeStream) ResumeToken() bsoncore.Document { return cs.resumeToken }

// Close releases the underlying cursor and implicit session.
func (cs *ChangeStream) Close(ctx context.Context) error {
	if cs.cur == nil {
		return nil
	}
	return cs.cur.Close(ctx)
}

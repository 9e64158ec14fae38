package operation

import (
	"context"

	"go.mongodb.org/mongo-driver/v2/x/bsonx/bsoncore"

	"github.com/corekv/docdriver/description"
	"github.com/corekv/docdriver/driver"
	"github.com/corekv/docdriver/session"
	"github.com/corekv/docdriver/topology"
)

// UpdateStatement is one entry of an update command's "updates" array.
type UpdateStatement struct {
	Filter bsoncore.Document
	Update bsoncore.Document
	Multi  bool
	Upsert bool
}

func (s UpdateStatement) toDocument() bsoncore.Document {
	idx, doc := bsoncore.AppendDocumentStart(nil)
	doc = bsoncore.AppendDocumentElement(doc, "q", s.Filter)
	doc = bsoncore.AppendDocumentElement(doc, "u", s.Update)
	if s.Multi {
		doc = bsoncore.AppendBooleanElement(doc, "multi", true)
	}
	if s.Upsert {
		doc = bsoncore.AppendBooleanElement(doc, "upsert", true)
	}
	doc, _ = bsoncore.AppendDocumentEnd(doc, idx)
	return bsoncore.Document(doc)
}

// UpdateResult is an update command's {n, nModified} reply.
type UpdateResult struct {
	N         int32
	NModified int32
}

// Update runs a single update command, write-retryable only when every
// statement is single-document (spec.md §4.9's "single-statement or
// unordered bulk" retryable-write condition).
type Update struct {
	Collection   string
	Database     string
	Updates      []UpdateStatement
	Ordered      *bool
	Session      *session.ClientSession
	WriteConcern description.WriteConcern
	Retryable    bool

	result UpdateResult
}

func (op *Update) Result() UpdateResult { return op.result }

func (op *Update) command(dst []byte, _ description.Server) ([]byte, error) {
	dst = bsoncore.AppendStringElement(dst, "update", op.Collection)
	docs := make([]bsoncore.Document, len(op.Updates))
	for i, u := range op.Updates {
		docs[i] = u.toDocument()
	}
	dst = appendDocumentArray(dst, "updates", docs)
	if op.Ordered != nil {
		dst = bsoncore.AppendBooleanElement(dst, "ordered", *op.Ordered)
	}
	return dst, nil
}

func (op *Update) processResponse(reply bsoncore.Document) error {
	op.result.N = lookupCount(reply, "n")
	op.result.NModified = lookupCount(reply, "nModified")
	return nil
}

func (op *Update) Execute(ctx context.Context, topo *topology.Topology, sessPool *session.Pool) error {
	retryMode := driver.RetryNone
	if op.Retryable && op.WriteConcern.Acknowledged() && len(op.Updates) == 1 && !op.Updates[0].Multi {
		retryMode = driver.RetryWrite
	}
	o := &driver.Operation{
		CommandName:       "update",
		Database:          op.Database,
		CommandFn:         op.command,
		ProcessResponseFn: op.processResponse,
		Selector:          writeSelector(),
		Session:           op.Session,
		RetryMode:         retryMode,
		WriteConcern:      op.WriteConcern,
	}
	_, err := o.Execute(ctx, topo, sessPool)
	return err
}

package operation

import (
	"context"

	"go.mongodb.org/mongo-driver/v2/x/bsonx/bsoncore"

	"github.com/corekv/docdriver/description"
	"github.com/corekv/docdriver/driver"
	"github.com/corekv/docdriver/session"
	"github.com/corekv/docdriver/topology"
)

// DeleteStatement is one entry of a delete command's "deletes" array.
type DeleteStatement struct {
	Filter bsoncore.Document
	Limit  int32 // 0 = all matching, 1 = first matching only
}

func (s DeleteStatement) toDocument() bsoncore.Document {
	idx, doc := bsoncore.AppendDocumentStart(nil)
	doc = bsoncore.AppendDocumentElement(doc, "q", s.Filter)
	doc = bsoncore.AppendInt32Element(doc, "limit", s.Limit)
	doc, _ = bsoncore.AppendDocumentEnd(doc, idx)
	return bsoncore.Document(doc)
}

// DeleteResult is a delete command's {n} reply.
type DeleteResult struct {
	N int32
}

// Delete runs a single delete command.
type Delete struct {
	Collection   string
	Database     string
	Deletes      []DeleteStatement
	Ordered      *bool
	Session      *session.ClientSession
	WriteConcern description.WriteConcern
	Retryable    bool

	result DeleteResult
}

func (op *Delete) Result() DeleteResult { return op.result }

func (op *Delete) command(dst []byte, _ description.Server) ([]byte, error) {
	dst = bsoncore.AppendStringElement(dst, "delete", op.Collection)
	docs := make([]bsoncore.Document, len(op.Deletes))
	for i, d := range op.Deletes {
		docs[i] = d.toDocument()
	}
	dst = appendDocumentArray(dst, "deletes", docs)
	if op.Ordered != nil {
		dst = bsoncore.AppendBooleanElement(dst, "ordered", *op.Ordered)
	}
	return dst, nil
}

func (op *Delete) processResponse(reply bsoncore.Document) error {
	op.result.N = lookupCount(reply, "n")
	return nil
}

func (op *Delete) Execute(ctx context.Context, topo *topology.Topology, sessPool *session.Pool) error {
	retryMode := driver.RetryNone
	if op.Retryable && op.WriteConcern.Acknowledged() && len(op.Deletes) == 1 && op.Deletes[0].Limit == 1 {
		retryMode = driver.RetryWrite
	}
	o := &driver.Operation{
		CommandName:       "delete",
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

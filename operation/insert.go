package operation

import (
	"context"

	"go.mongodb.org/mongo-driver/v2/x/bsonx/bsoncore"

	"github.com/corekv/docdriver/description"
	"github.com/corekv/docdriver/driver"
	"github.com/corekv/docdriver/session"
	"github.com/corekv/docdriver/topology"
)

// InsertResult is an insert command's {n, writeErrors} reply, reduced to
// the count of documents the server accepted.
type InsertResult struct {
	N int32
}

// Insert runs an insert command for one collection, possibly split across
// multiple commands by the caller when the batch exceeds maxWriteBatchSize
// (spec.md §4.9's batch-splitting note); this type issues exactly one
// insert command per Execute call.
type Insert struct {
	Collection   string
	Database     string
	Documents    []bsoncore.Document
	Ordered      *bool
	Session      *session.ClientSession
	WriteConcern description.WriteConcern
	Retryable    bool

	result InsertResult
}

// Result returns the outcome of the last Execute call.
func (op *Insert) Result() InsertResult { return op.result }

func (op *Insert) command(dst []byte, _ description.Server) ([]byte, error) {
	dst = bsoncore.AppendStringElement(dst, "insert", op.Collection)
	dst = appendDocumentArray(dst, "documents", op.Documents)
	if op.Ordered != nil {
		dst = bsoncore.AppendBooleanElement(dst, "ordered", *op.Ordered)
	}
	return dst, nil
}

func (op *Insert) processResponse(reply bsoncore.Document) error {
	op.result.N = lookupCount(reply, "n")
	return nil
}

// Execute runs the insert against topo, acquiring a session from sessPool
// if op.Session is nil.
func (op *Insert) Execute(ctx context.Context, topo *topology.Topology, sessPool *session.Pool) error {
	retryMode := driver.RetryNone
	if op.Retryable && op.WriteConcern.Acknowledged() {
		retryMode = driver.RetryWrite
	}
	o := &driver.Operation{
		CommandName:       "insert",
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

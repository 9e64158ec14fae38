package operation

import (
	"context"

	"go.mongodb.org/mongo-driver/v2/x/bsonx/bsoncore"

	"github.com/corekv/docdriver/connection"
	"github.com/corekv/docdriver/description"
	"github.com/corekv/docdriver/driver"
	"github.com/corekv/docdriver/session"
	"github.com/corekv/docdriver/topology"
)

// Aggregate runs an aggregate command. Collection may be "" to run a
// database/cluster-level aggregation (change streams against a whole
// database or deployment use this).
type Aggregate struct {
	Collection     string
	Database       string
	Pipeline       []bsoncore.Document
	BatchSize      *int32
	MaxAwaitTimeMS *int64
	Session        *session.ClientSession
	ReadConcern    description.ReadConcern
	ReadPreference description.ReadPref

	result     CursorResponse
	lastResult *driver.Result
}

func (op *Aggregate) Result() CursorResponse { return op.result }

// Server and Conn identify the exact server/connection the aggregate ran
// on, so a cursor-producing caller (changestream.Open) can pin its
// getMores to the same one instead of selecting afresh.
func (op *Aggregate) Server() *topology.Server {
	if op.lastResult == nil {
		return nil
	}
	return op.lastResult.Server
}

func (op *Aggregate) Conn() *connection.Connection {
	if op.lastResult == nil {
		return nil
	}
	return op.lastResult.Conn
}

func (op *Aggregate) command(dst []byte, _ description.Server) ([]byte, error) {
	if op.Collection != "" {
		dst = bsoncore.AppendStringElement(dst, "aggregate", op.Collection)
	} else {
		dst = bsoncore.AppendInt32Element(dst, "aggregate", 1)
	}
	dst = appendDocumentArray(dst, "pipeline", op.Pipeline)

	cidx, cursor := bsoncore.AppendDocumentStart(nil)
	if op.BatchSize != nil {
		cursor = bsoncore.AppendInt32Element(cursor, "batchSize", *op.BatchSize)
	}
	cursor, _ = bsoncore.AppendDocumentEnd(cursor, cidx)
	dst = bsoncore.AppendDocumentElement(dst, "cursor", cursor)

	if op.MaxAwaitTimeMS != nil {
		dst = bsoncore.AppendInt64Element(dst, "maxTimeMS", *op.MaxAwaitTimeMS)
	}
	return dst, nil
}

func (op *Aggregate) processResponse(reply bsoncore.Document) error {
	cr, err := parseCursorResponse(reply)
	if err != nil {
		return err
	}
	op.result = cr
	return nil
}

func (op *Aggregate) Execute(ctx context.Context, topo *topology.Topology, sessPool *session.Pool) error {
	o := &driver.Operation{
		CommandName:       "aggregate",
		Database:          op.Database,
		CommandFn:         op.command,
		ProcessResponseFn: op.processResponse,
		Selector:          readSelector(op.ReadPreference),
		Session:           op.Session,
		RetryMode:         driver.RetryRead,
		ReadConcern:       op.ReadConcern,
		ReadPreference:    op.ReadPreference,
	}
	res, err := o.Execute(ctx, topo, sessPool)
	if err != nil {
		return err
	}
	op.lastResult = res
	return nil
}

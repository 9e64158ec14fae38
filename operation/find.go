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

// Find runs a find command, producing the cursor sub-document spec.md
// §4.10 hands off to a Cursor.
type Find struct {
	Collection     string
	Database       string
	Filter         bsoncore.Document
	Sort           bsoncore.Document
	Projection     bsoncore.Document
	Limit          *int64
	Skip           *int64
	BatchSize      *int32
	Tailable       bool
	AwaitData      bool
	MaxAwaitTimeMS *int64
	Session        *session.ClientSession
	ReadConcern    description.ReadConcern
	ReadPreference description.ReadPref

	result     CursorResponse
	lastResult *driver.Result
}

// Result returns the cursor sub-document of the last Execute call.
func (op *Find) Result() CursorResponse { return op.result }

// Server and Conn identify the exact server/connection the find ran on, so
// the caller can pin the resulting cursor's getMores to it.
func (op *Find) Server() *topology.Server {
	if op.lastResult == nil {
		return nil
	}
	return op.lastResult.Server
}

func (op *Find) Conn() *connection.Connection {
	if op.lastResult == nil {
		return nil
	}
	return op.lastResult.Conn
}

func (op *Find) command(dst []byte, _ description.Server) ([]byte, error) {
	dst = bsoncore.AppendStringElement(dst, "find", op.Collection)
	if op.Filter != nil {
		dst = bsoncore.AppendDocumentElement(dst, "filter", op.Filter)
	}
	if op.Sort != nil {
		dst = bsoncore.AppendDocumentElement(dst, "sort", op.Sort)
	}
	if op.Projection != nil {
		dst = bsoncore.AppendDocumentElement(dst, "projection", op.Projection)
	}
	if op.Skip != nil {
		dst = bsoncore.AppendInt64Element(dst, "skip", *op.Skip)
	}
	if op.Limit != nil {
		dst = bsoncore.AppendInt64Element(dst, "limit", *op.Limit)
	}
	if op.BatchSize != nil {
		dst = bsoncore.AppendInt32Element(dst, "batchSize", *op.BatchSize)
	}
	if op.Tailable {
		dst = bsoncore.AppendBooleanElement(dst, "tailable", true)
	}
	if op.AwaitData {
		dst = bsoncore.AppendBooleanElement(dst, "awaitData", true)
	}
	if op.MaxAwaitTimeMS != nil {
		dst = bsoncore.AppendInt64Element(dst, "maxTimeMS", *op.MaxAwaitTimeMS)
	}
	return dst, nil
}

func (op *Find) processResponse(reply bsoncore.Document) error {
	cr, err := parseCursorResponse(reply)
	if err != nil {
		return err
	}
	op.result = cr
	return nil
}

func (op *Find) Execute(ctx context.Context, topo *topology.Topology, sessPool *session.Pool) error {
	o := &driver.Operation{
		CommandName:       "find",
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

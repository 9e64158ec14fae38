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

// ListCollections runs a listCollections command.
type ListCollections struct {
	Database string
	Filter   bsoncore.Document
	Session  *session.ClientSession

	result     CursorResponse
	lastResult *driver.Result
}

func (op *ListCollections) Result() CursorResponse { return op.result }

func (op *ListCollections) Server() *topology.Server {
	if op.lastResult == nil {
		return nil
	}
	return op.lastResult.Server
}

func (op *ListCollections) Conn() *connection.Connection {
	if op.lastResult == nil {
		return nil
	}
	return op.lastResult.Conn
}

func (op *ListCollections) command(dst []byte, _ description.Server) ([]byte, error) {
	dst = bsoncore.AppendInt32Element(dst, "listCollections", 1)
	if op.Filter != nil {
		dst = bsoncore.AppendDocumentElement(dst, "filter", op.Filter)
	}
	return dst, nil
}

func (op *ListCollections) processResponse(reply bsoncore.Document) error {
	cr, err := parseCursorResponse(reply)
	if err != nil {
		return err
	}
	op.result = cr
	return nil
}

func (op *ListCollections) Execute(ctx context.Context, topo *topology.Topology, sessPool *session.Pool) error {
	o := &driver.Operation{
		CommandName:       "listCollections",
		Database:          op.Database,
		CommandFn:         op.command,
		ProcessResponseFn: op.processResponse,
		Selector:          writeSelector(),
		Session:           op.Session,
		RetryMode:         driver.RetryRead,
	}
	res, err := o.Execute(ctx, topo, sessPool)
	if err != nil {
		return err
	}
	op.lastResult = res
	return nil
}

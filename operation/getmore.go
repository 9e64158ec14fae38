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

// GetMore issues a getMore against the server that produced a cursor,
// pinned to that server/connection (spec.md §4.10): it never goes
// through fresh server selection.
type GetMore struct {
	Collection     string
	Database       string
	ID             int64
	BatchSize      *int32
	MaxAwaitTimeMS *int64 // tailable-await cursors only
	Session        *session.ClientSession

	result CursorResponse
}

func (op *GetMore) Result() CursorResponse { return op.result }

func (op *GetMore) command(dst []byte, _ description.Server) ([]byte, error) {
	dst = bsoncore.AppendInt64Element(dst, "getMore", op.ID)
	dst = bsoncore.AppendStringElement(dst, "collection", op.Collection)
	if op.BatchSize != nil {
		dst = bsoncore.AppendInt32Element(dst, "batchSize", *op.BatchSize)
	}
	if op.MaxAwaitTimeMS != nil {
		dst = bsoncore.AppendInt64Element(dst, "maxTimeMS", *op.MaxAwaitTimeMS)
	}
	return dst, nil
}

func (op *GetMore) processResponse(reply bsoncore.Document) error {
	cr, err := parseCursorResponse(reply)
	if err != nil {
		return err
	}
	op.result = cr
	return nil
}

// Execute runs getMore pinned to srv/conn (the cursor's owning server and
// connection); it participates in neither server selection nor retry.
func (op *GetMore) Execute(ctx context.Context, topo *topology.Topology, srv *topology.Server, conn *connection.Connection) error {
	o := &driver.Operation{
		CommandName:       "getMore",
		Database:          op.Database,
		CommandFn:         op.command,
		ProcessResponseFn: op.processResponse,
		Session:           op.Session,
		PinnedServer:      srv,
		PinnedConnection:  conn,
	}
	_, err := o.Execute(ctx, topo, nil)
	return err
}

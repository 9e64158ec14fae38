package operation

import (
	"context"

	"go.mongodb.org/mongo-driver/v2/x/bsonx/bsoncore"

	"github.com/corekv/docdriver/connection"
	"github.com/corekv/docdriver/description"
	"github.com/corekv/docdriver/driver"
	"github.com/corekv/docdriver/topology"
)

// KillCursors sends a single cursor id to the server it was issued from
// (spec.md §4.10's close()). Best-effort: the caller should not surface
// its error beyond logging, since the cursor is considered closed either
// way.
type KillCursors struct {
	Collection string
	Database   string
	ID         int64
}

func (op *KillCursors) command(dst []byte, _ description.Server) ([]byte, error) {
	dst = bsoncore.AppendStringElement(dst, "killCursors", op.Collection)
	idx, arr := bsoncore.AppendArrayElementStart(dst, "cursors")
	arr = bsoncore.AppendInt64Element(arr, "0", op.ID)
	arr, _ = bsoncore.AppendArrayEnd(arr, idx)
	return arr, nil
}

// Execute sends killCursors pinned to srv/conn.
func (op *KillCursors) Execute(ctx context.Context, topo *topology.Topology, srv *topology.Server, conn *connection.Connection) error {
	o := &driver.Operation{
		CommandName:      "killCursors",
		Database:         op.Database,
		CommandFn:        op.command,
		PinnedServer:     srv,
		PinnedConnection: conn,
	}
	_, err := o.Execute(ctx, topo, nil)
	return err
}

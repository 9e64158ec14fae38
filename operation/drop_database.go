package operation

import (
	"context"

	"go.mongodb.org/mongo-driver/v2/x/bsonx/bsoncore"

	"github.com/corekv/docdriver/description"
	"github.com/corekv/docdriver/driver"
	"github.com/corekv/docdriver/session"
	"github.com/corekv/docdriver/topology"
)

// DropDatabase runs a dropDatabase command.
type DropDatabase struct {
	Database     string
	Session      *session.ClientSession
	WriteConcern description.WriteConcern
}

func (op *DropDatabase) command(dst []byte, _ description.Server) ([]byte, error) {
	dst = bsoncore.AppendInt32Element(dst, "dropDatabase", 1)
	return dst, nil
}

func (op *DropDatabase) Execute(ctx context.Context, topo *topology.Topology, sessPool *session.Pool) error {
	o := &driver.Operation{
		CommandName:  "dropDatabase",
		Database:     op.Database,
		CommandFn:    op.command,
		Selector:     writeSelector(),
		Session:      op.Session,
		WriteConcern: op.WriteConcern,
	}
	_, err := o.Execute(ctx, topo, sessPool)
	return err
}

package operation

import (
	"context"

	"go.mongodb.org/mongo-driver/v2/x/bsonx/bsoncore"

	"github.com/corekv/docdriver/description"
	"github.com/corekv/docdriver/driver"
	"github.com/corekv/docdriver/session"
	"github.com/corekv/docdriver/topology"
)

// CommitTransaction runs a commitTransaction command. It is retryable up
// to once regardless of retryWrites (spec.md §4.8); "commit-on-commit"
// (calling commit again after a successful commit) is allowed, since the
// ClientSession's own state machine already permits re-sending from
// Committed.
type CommitTransaction struct {
	Database     string
	Session      *session.ClientSession
	WriteConcern description.WriteConcern
}

func (op *CommitTransaction) command(dst []byte, _ description.Server) ([]byte, error) {
	dst = bsoncore.AppendInt32Element(dst, "commitTransaction", 1)
	return dst, nil
}

func (op *CommitTransaction) Execute(ctx context.Context, topo *topology.Topology) error {
	o := &driver.Operation{
		CommandName:  "commitTransaction",
		Database:     op.Database,
		CommandFn:    op.command,
		Selector:     writeSelector(),
		Session:      op.Session,
		RetryMode:    driver.RetryWrite,
		WriteConcern: op.WriteConcern,
	}
	_, err := o.Execute(ctx, topo, nil)
	return err
}

// AbortTransaction runs an abortTransaction command. Callers treat its
// error as fire-and-forget per spec.md §4.8.
type AbortTransaction struct {
	Database string
	Session  *session.ClientSession
}

func (op *AbortTransaction) command(dst []byte, _ description.Server) ([]byte, error) {
	dst = bsoncore.AppendInt32Element(dst, "abortTransaction", 1)
	return dst, nil
}

func (op *AbortTransaction) Execute(ctx context.Context, topo *topology.Topology) error {
	o := &driver.Operation{
		CommandName: "abortTransaction",
		Database:    op.Database,
		CommandFn:   op.command,
		Selector:    writeSelector(),
		Session:     op.Session,
		RetryMode:   driver.RetryWrite,
	}
	_, err := o.Execute(ctx, topo, nil)
	return err
}

// EndSessions sends an endSessions admin command for a batch of
// server-session ids, used to release a session pool's records back to
// the server on client Disconnect (spec.md §4.8).
type EndSessions struct {
	IDs []bsoncore.Document
}

func (op *EndSessions) command(dst []byte, _ description.Server) ([]byte, error) {
	return appendDocumentArray(dst, "endSessions", op.IDs), nil
}

func (op *EndSessions) Execute(ctx context.Context, topo *topology.Topology) error {
	if len(op.IDs) == 0 {
		return nil
	}
	o := &driver.Operation{
		CommandName: "endSessions",
		Database:    "admin",
		CommandFn:   op.command,
	}
	_, err := o.Execute(ctx, topo, nil)
	return err
}

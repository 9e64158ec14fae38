package operation

import (
	"context"

	"go.mongodb.org/mongo-driver/v2/x/bsonx/bsoncore"

	"github.com/corekv/docdriver/description"
	"github.com/corekv/docdriver/driver"
	"github.com/corekv/docdriver/session"
	"github.com/corekv/docdriver/topology"
)

// Count runs a count command (via the aggregation-pipeline-free legacy
// "count" command, which remains the simplest way to answer
// estimatedDocumentCount/countDocuments without building a pipeline).
type Count struct {
	Collection     string
	Database       string
	Filter         bsoncore.Document
	Limit          *int64
	Skip           *int64
	Session        *session.ClientSession
	ReadConcern    description.ReadConcern
	ReadPreference description.ReadPref

	result int64
}

func (op *Count) Result() int64 { return op.result }

func (op *Count) command(dst []byte, _ description.Server) ([]byte, error) {
	dst = bsoncore.AppendStringElement(dst, "count", op.Collection)
	if op.Filter != nil {
		dst = bsoncore.AppendDocumentElement(dst, "query", op.Filter)
	}
	if op.Skip != nil {
		dst = bsoncore.AppendInt64Element(dst, "skip", *op.Skip)
	}
	if op.Limit != nil {
		dst = bsoncore.AppendInt64Element(dst, "limit", *op.Limit)
	}
	return dst, nil
}

func (op *Count) processResponse(reply bsoncore.Document) error {
	op.result = int64(lookupCount(reply, "n"))
	return nil
}

func (op *Count) Execute(ctx context.Context, topo *topology.Topology, sessPool *session.Pool) error {
	o := &driver.Operation{
		CommandName:       "count",
		Database:          op.Database,
		CommandFn:         op.command,
		ProcessResponseFn: op.processResponse,
		Selector:          readSelector(op.ReadPreference),
		Session:           op.Session,
		RetryMode:         driver.RetryRead,
		ReadConcern:       op.ReadConcern,
		ReadPreference:    op.ReadPreference,
	}
	_, err := o.Execute(ctx, topo, sessPool)
	return err
}

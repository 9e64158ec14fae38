package operation

import (
	"context"

	"go.mongodb.org/mongo-driver/v2/x/bsonx/bsoncore"

	"github.com/corekv/docdriver/description"
	"github.com/corekv/docdriver/driver"
	"github.com/corekv/docdriver/session"
	"github.com/corekv/docdriver/topology"
)

// RunCommand executes an arbitrary pre-built command document against a
// database, the escape hatch every higher-level operation (and
// Database.RunCommand) bottoms out on. The caller is responsible for
// supplying the command body's own fields; ReadPreference controls
// selection the same as any other read.
type RunCommand struct {
	Database       string
	Command        bsoncore.Document
	ReadPreference description.ReadPref
	Session        *session.ClientSession

	reply bsoncore.Document
}

// Result returns the raw reply of the most recent Execute.
func (op *RunCommand) Result() bsoncore.Document { return op.reply }

func (op *RunCommand) command(dst []byte, _ description.Server) ([]byte, error) {
	elems, err := op.Command.Elements()
	if err != nil {
		return nil, err
	}
	for _, e := range elems {
		dst = bsoncore.AppendValueElement(dst, e.Key(), e.Value())
	}
	return dst, nil
}

func (op *RunCommand) processResponse(reply bsoncore.Document) error {
	op.reply = reply
	return nil
}

func (op *RunCommand) Execute(ctx context.Context, topo *topology.Topology, sessPool *session.Pool) error {
	o := &driver.Operation{
		CommandName:       firstKey(op.Command),
		Database:          op.Database,
		CommandFn:         op.command,
		ProcessResponseFn: op.processResponse,
		Selector:          readSelector(op.ReadPreference),
		Session:           op.Session,
		ReadPreference:    op.ReadPreference,
	}
	_, err := o.Execute(ctx, topo, sessPool)
	return err
}

func firstKey(doc bsoncore.Document) string {
	elems, err := doc.Elements()
	if err != nil || len(elems) == 0 {
		return "runCommand"
	}
	return elems[0].Key()
}

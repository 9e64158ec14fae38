package driver

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/x/bsonx/bsoncore"

	"github.com/corekv/docdriver/connection"
	"github.com/corekv/docdriver/description"
	"github.com/corekv/docdriver/internal/logger"
	"github.com/corekv/docdriver/session"
	"github.com/corekv/docdriver/topology"
)

// RetryMode classifies how a failed Operation may be retried, per
// spec.md §4.9 step 8.
type RetryMode uint8

const (
	RetryNone RetryMode = iota
	RetryRead
	RetryWrite
)

// CommandFn appends an operation's command-specific fields to dst (which
// already has its document-start byte written) and returns the extended
// slice; it may be called more than once across retries, e.g. to bump
// txnNumber or recompute a batch. Grounded on the teacher's
// operation/hello.go CommandFn field.
type CommandFn func(dst []byte, desc description.Server) ([]byte, error)

// ProcessResponseFn receives the server's reply document once it is known
// to be ok:1, so an Operation can stash whatever shape of result its
// caller wants (a cursor sub-document, a count, etc).
type ProcessResponseFn func(reply bsoncore.Document) error

// Operation is one command to run against the cluster: selection
// criteria, a way to build the command body, and a way to consume the
// reply. It is deliberately a plain struct of function fields rather
// than an interface, mirroring the teacher's operation builders.
type Operation struct {
	CommandName string
	Database    string
	CommandFn   CommandFn
	ProcessResponseFn ProcessResponseFn

	Selector description.Selector

	// Session is the caller's explicit session, or nil to let Execute
	// acquire (and check back in) an implicit one when sessPool is non-nil
	// and WriteConcern is acknowledged. Execute does not check whether the
	// deployment supports sessions.
	Session *session.ClientSession

	RetryMode      RetryMode
	ReadConcern    description.ReadConcern
	WriteConcern   description.WriteConcern
	ReadPreference description.ReadPref

	// PinnedConnection/PinnedServer, when both set, bypass server
	// selection and connection check-out entirely (spec.md §4.9 step 2-3:
	// sharded-transaction statements after the first one, and
	// getMore/killCursors against a cursor's owning server).
	PinnedConnection *connection.Connection
	PinnedServer     *topology.Server

	Logger *logger.Logger
}

// Result is the outcome of a successful Execute: the raw reply plus the
// gossip fields the caller may want (clusterTime/operationTime were
// already folded into the topology and session as a side effect).
type Result struct {
	Reply  bsoncore.Document
	Server *topology.Server
	Conn   *connection.Connection
}

// Execute runs op against topo, acquiring sessions from sessPool as
// needed, following the select -> checkout -> attach -> send -> interpret
// -> retry -> release flow of spec.md §4.9.
func (op *Operation) Execute(ctx context.Context, topo *topology.Topology, sessPool *session.Pool) (*Result, error) {
	sess := op.Session
	implicitSession := false
	if sess == nil && op.WriteConcern.Acknowledged() && sessPool != nil {
		sess = session.NewClientSession(sessPool, true)
		implicitSession = true
	}
	if implicitSession {
		defer sess.EndSession()
	}
	// A retryable write outside a transaction takes a fresh txnNumber here;
	// the retry below resends it unchanged. commitTransaction and
	// abortTransaction reuse the transaction's number.
	if sess != nil && op.RetryMode == RetryWrite && !sess.InProgress() &&
		op.CommandName != "commitTransaction" && op.CommandName != "abortTransaction" {
		sess.NextTxnNumber()
	}

	res, err := op.attempt(ctx, topo, sess)
	if err == nil {
		return res, nil
	}
	if op.RetryMode == RetryNone || !op.retryable(err) {
		return nil, err
	}
	if sess != nil && connection.NetworkError(err) {
		sess.MarkDirty()
	}

	op.log(logger.LevelDebug, "retrying operation after error", "error", err)
	res, retryErr := op.attempt(ctx, topo, sess)
	if retryErr != nil {
		return nil, retryErr
	}
	return res, nil
}

func (op *Operation) attempt(ctx context.Context, topo *topology.Topology, sess *session.ClientSession) (*Result, error) {
	srv := op.PinnedServer
	var conn *connection.Connection
	var err error

	if srv == nil {
		srv, err = topo.SelectServer(ctx, op.Selector)
		if err != nil {
			return nil, err
		}
	}

	if op.PinnedConnection != nil {
		conn = op.PinnedConnection
	} else {
		conn, err = srv.Connection(ctx)
		if err != nil {
			return nil, err
		}
		defer srv.CheckInConnection(conn)
	}

	srvDesc := conn.Description()
	cmd, err := op.buildCommand(srvDesc, sess, topo)
	if err != nil {
		return nil, err
	}
	op.log(logger.LevelDebug, "command started", "command", bsoncore.Document(cmd))

	reply, err := conn.RunCommand(ctx, op.Database, cmd)
	if err != nil {
		if connection.NetworkError(err) {
			topo.HandleApplicationError(srv.Address(), err, description.TopologyVersion{}, srvDesc.MaxWireVersion, false)
		}
		return nil, err
	}
	op.log(logger.LevelDebug, "command succeeded", "reply", reply)

	op.interpretGossip(reply, sess, topo)

	if cmdErr := parseCommandError(reply); cmdErr != nil {
		if tv := srvDesc.TopologyVersion; tv != nil {
			cmdErr.TopologyVersion = tv
		}
		if readRetryableCodes[cmdErr.Code] {
			topo.HandleApplicationError(srv.Address(), cmdErr, description.TopologyVersion{}, srvDesc.MaxWireVersion, cmdErr.Code == 91)
		}
		return nil, cmdErr
	}

	if op.ProcessResponseFn != nil {
		if err := op.ProcessResponseFn(reply); err != nil {
			return nil, err
		}
	}
	return &Result{Reply: reply, Server: srv, Conn: conn}, nil
}

// buildCommand assembles the full wire command: the operation's own
// fields via CommandFn, then $db, lsid, $clusterTime, txnNumber,
// transaction flags, readConcern, and readPreference, per spec.md §4.9
// step 5.
func (op *Operation) buildCommand(srvDesc description.Server, sess *session.ClientSession, topo *topology.Topology) (bsoncore.Document, error) {
	idx, dst := bsoncore.AppendDocumentStart(nil)

	var err error
	dst, err = op.CommandFn(dst, srvDesc)
	if err != nil {
		return nil, fmt.Errorf("building %s command: %w", op.CommandName, err)
	}

	dst = bsoncore.AppendStringElement(dst, "$db", op.Database)

	clusterTime := topo.ClusterTime()
	if sess != nil {
		clusterTime = description.MaxClusterTime(clusterTime, sess.ClusterTime)
	}
	if len(clusterTime.Raw) > 0 {
		dst = bsoncore.AppendDocumentElement(dst, "$clusterTime", bsoncore.Document(clusterTime.Raw))
	}

	retryable := op.RetryMode == RetryWrite
	inTxn := sess != nil && sess.InProgress()

	if sess != nil {
		dst = bsoncore.AppendDocumentElement(dst, "lsid", sess.LSID())

		if retryable || inTxn {
			dst = bsoncore.AppendInt64Element(dst, "txnNumber", sess.TxnNumber())
		}

		if inTxn {
			dst = bsoncore.AppendBooleanElement(dst, "autocommit", false)
			if sess.ApplyCommand() {
				dst = bsoncore.AppendBooleanElement(dst, "startTransaction", true)
			}
		}

		if sess.CausalConsistency && !inTxn && (sess.OperationTime != session.OperationTime{}) {
			rcIdx, rc := bsoncore.AppendDocumentStart(nil)
			if !op.ReadConcern.IsZero() {
				rc = bsoncore.AppendStringElement(rc, "level", op.ReadConcern.Level)
			}
			rc = bsoncore.AppendTimestampElement(rc, "afterClusterTime", sess.OperationTime.T, sess.OperationTime.I)
			rc, _ = bsoncore.AppendDocumentEnd(rc, rcIdx)
			dst = bsoncore.AppendDocumentElement(dst, "readConcern", rc)
		} else if !op.ReadConcern.IsZero() {
			rcIdx, rc := bsoncore.AppendDocumentStart(nil)
			rc = bsoncore.AppendStringElement(rc, "level", op.ReadConcern.Level)
			rc, _ = bsoncore.AppendDocumentEnd(rc, rcIdx)
			dst = bsoncore.AppendDocumentElement(dst, "readConcern", rc)
		}
	} else if !op.ReadConcern.IsZero() {
		rcIdx, rc := bsoncore.AppendDocumentStart(nil)
		rc = bsoncore.AppendStringElement(rc, "level", op.ReadConcern.Level)
		rc, _ = bsoncore.AppendDocumentEnd(rc, rcIdx)
		dst = bsoncore.AppendDocumentElement(dst, "readConcern", rc)
	}

	if !op.WriteConcern.IsZero() {
		wcIdx, wc := bsoncore.AppendDocumentStart(nil)
		if op.WriteConcern.W != nil {
			switch w := op.WriteConcern.W.(type) {
			case int:
				wc = bsoncore.AppendInt32Element(wc, "w", int32(w))
			case string:
				wc = bsoncore.AppendStringElement(wc, "w", w)
			}
		}
		if op.WriteConcern.Journal != nil {
			wc = bsoncore.AppendBooleanElement(wc, "j", *op.WriteConcern.Journal)
		}
		if op.WriteConcern.WTimeout != 0 {
			wc = bsoncore.AppendInt64Element(wc, "wtimeout", op.WriteConcern.WTimeout)
		}
		wc, _ = bsoncore.AppendDocumentEnd(wc, wcIdx)
		dst = bsoncore.AppendDocumentElement(dst, "writeConcern", wc)
	}

	if op.ReadPreference.Mode() != description.PrimaryMode {
		rpIdx, rp := bsoncore.AppendDocumentStart(nil)
		rp = bsoncore.AppendStringElement(rp, "mode", readPrefModeString(op.ReadPreference.Mode()))
		rp, _ = bsoncore.AppendDocumentEnd(rp, rpIdx)
		dst = bsoncore.AppendDocumentElement(dst, "$readPreference", rp)
	}

	dst, err = bsoncore.AppendDocumentEnd(dst, idx)
	if err != nil {
		return nil, err
	}
	return bsoncore.Document(dst), nil
}

func readPrefModeString(m description.ReadPrefMode) string {
	switch m {
	case description.PrimaryPreferredMode:
		return "primaryPreferred"
	case description.SecondaryMode:
		return "secondary"
	case description.SecondaryPreferredMode:
		return "secondaryPreferred"
	case description.NearestMode:
		return "nearest"
	default:
		return "primary"
	}
}

// interpretGossip extracts $clusterTime/operationTime from a reply and
// feeds them back into the topology and, if present, the session
// (spec.md §4.9 step 6 and §4.8's causal consistency).
func (op *Operation) interpretGossip(reply bsoncore.Document, sess *session.ClientSession, topo *topology.Topology) {
	if v, err := reply.LookupErr("$clusterTime"); err == nil {
		if doc, ok := v.DocumentOK(); ok {
			ct := parseClusterTime(doc)
			topo.AdvanceClusterTime(ct)
			if sess != nil {
				sess.AdvanceClusterTime(ct)
			}
		}
	}
	if v, err := reply.LookupErr("operationTime"); err == nil {
		if t, i, ok := v.TimestampOK(); ok && sess != nil {
			sess.AdvanceOperationTime(session.OperationTime{T: t, I: i})
		}
	}
}

func parseClusterTime(doc bsoncore.Document) description.ClusterTime {
	ct := description.ClusterTime{Raw: doc}
	if v, err := doc.LookupErr("clusterTime"); err == nil {
		if t, i, ok := v.TimestampOK(); ok {
			ct.T, ct.I = t, i
		}
	}
	return ct
}

func (op *Operation) retryable(err error) bool {
	switch op.RetryMode {
	case RetryRead:
		return readRetryable(err)
	case RetryWrite:
		return writeRetryable(err)
	default:
		return false
	}
}

func (op *Operation) log(level logger.Level, msg string, kv ...interface{}) {
	if op.Logger == nil {
		return
	}
	op.Logger.Print(level, logger.ComponentCommand, msg, kv...)
}

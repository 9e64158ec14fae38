package session

import (
	"errors"
	"sync"

	"go.mongodb.org/mongo-driver/v2/x/bsonx/bsoncore"

	"github.com/corekv/docdriver/description"
)

// TransactionState is the ClientSession transaction state machine of
// spec.md §4.8.
type TransactionState uint8

const (
	TransactionNone TransactionState = iota
	TransactionStarting
	TransactionInProgress
	TransactionCommitted
	TransactionAborted
)

// OperationTime is the BSON Timestamp a server's reply carries in its
// "operationTime" field, tracked for causal consistency (spec.md §4.8).
type OperationTime struct {
	T, I uint32
}

// After reports whether ot is strictly newer than other.
func (ot OperationTime) After(other OperationTime) bool {
	if ot.T != other.T {
		return ot.T > other.T
	}
	return ot.I > other.I
}

// TransactionOptions carries the settings a transaction is started with
// and must reuse across every statement and the final commit/abort
// (spec.md §4.8).
type TransactionOptions struct {
	ReadConcern    description.ReadConcern
	WriteConcern   description.WriteConcern
	ReadPreference description.ReadPref
}

var (
	// ErrTransactionStateTransition is returned by StartTransaction when
	// the session is already inside a transaction.
	ErrTransactionStateTransition = errors.New("session: cannot start a transaction while another is in progress")
	// ErrNoTransactionInProgress is returned by CommitTransaction /
	// AbortTransaction when there is nothing to commit or abort.
	ErrNoTransactionInProgress = errors.New("session: no transaction in progress")
)

// ClientSession is a logical session bound to one server-session record,
// tracking causal-consistency timestamps, retryable-write/transaction
// txnNumbers, and the transaction state machine (spec.md §4.8).
type ClientSession struct {
	mu sync.Mutex

	pool    *Pool
	Server  *Server
	Implicit bool

	CausalConsistency bool
	ClusterTime       description.ClusterTime
	OperationTime     OperationTime

	txnNumber int64

	TransactionState   TransactionState
	transactionOptions TransactionOptions
	PinnedServerAddr   string // sharded-transaction mongos pinning, set after the first statement
}

// NewClientSession checks out a server-session record from pool and wraps
// it as a new ClientSession. Causal consistency defaults on, per spec.md
// §4.8 ("enabled by default unless snapshot is enabled"); this core does
// not implement snapshot reads.
func NewClientSession(pool *Pool, implicit bool) *ClientSession {
	return &ClientSession{
		pool:              pool,
		Server:            pool.CheckOut(),
		Implicit:          implicit,
		CausalConsistency: true,
	}
}

// LSID returns the session's {id: Binary(...)} document, the value the
// "lsid" command field is set to.
func (cs *ClientSession) LSID() bsoncore.Document {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	if cs.Server == nil {
		return nil
	}
	return cs.Server.ID
}

// AdvanceClusterTime folds a gossiped $clusterTime into the session if it
// is newer than the one already held.
func (cs *ClientSession) AdvanceClusterTime(ct description.ClusterTime) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.ClusterTime = description.MaxClusterTime(cs.ClusterTime, ct)
}

// AdvanceOperationTime folds a reply's operationTime into the session if
// it is newer than the one already held, feeding causal consistency.
func (cs *ClientSession) AdvanceOperationTime(ot OperationTime) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	if ot.After(cs.OperationTime) {
		cs.OperationTime = ot
	}
}

// NextTxnNumber advances the txnNumber counter and returns the new value.
// The executor calls it once for each fresh retryable write outside a
// transaction; StartTransaction advances the counter itself for a new
// transaction, and a retry resends TxnNumber unchanged.
func (cs *ClientSession) NextTxnNumber() int64 {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.txnNumber++
	return cs.txnNumber
}

// TxnNumber returns the current txnNumber without advancing it, used to
// resend the same number on a retry.
func (cs *ClientSession) TxnNumber() int64 {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cs.txnNumber
}

// StartTransaction transitions None/Committed/Aborted -> Starting,
// recording the options every statement and the eventual commit/abort
// must reuse.
func (cs *ClientSession) StartTransaction(opts TransactionOptions) error {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	if cs.TransactionState == TransactionStarting || cs.TransactionState == TransactionInProgress {
		return ErrTransactionStateTransition
	}
	cs.TransactionState = TransactionStarting
	cs.transactionOptions = opts
	cs.PinnedServerAddr = ""
	cs.txnNumber++
	return nil
}

// ApplyCommand marks the transaction InProgress on the first statement
// sent under it and reports whether startTransaction/autocommit fields
// belong on the outgoing command.
func (cs *ClientSession) ApplyCommand() (startTransaction bool) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	if cs.TransactionState == TransactionStarting {
		cs.TransactionState = TransactionInProgress
		return true
	}
	return false
}

// TransactionOptions returns the options the active (or most recently
// active) transaction was started with.
func (cs *ClientSession) TransactionOptions() TransactionOptions {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cs.transactionOptions
}

// InProgress reports whether a transaction is Starting or InProgress and
// therefore the current command must carry autocommit:false.
func (cs *ClientSession) InProgress() bool {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cs.TransactionState == TransactionStarting || cs.TransactionState == TransactionInProgress
}

// CommitTransaction transitions InProgress (or a no-op Starting
// transaction) to Committed. The caller is responsible for actually
// sending the commitTransaction command when a non-empty transaction is
// in progress; this only updates local state.
func (cs *ClientSession) CommitTransaction() error {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	if cs.TransactionState != TransactionStarting && cs.TransactionState != TransactionInProgress && cs.TransactionState != TransactionCommitted {
		return ErrNoTransactionInProgress
	}
	cs.TransactionState = TransactionCommitted
	return nil
}

// AbortTransaction transitions InProgress to Aborted. The caller sends
// the abortTransaction command best-effort; failures are swallowed by
// the caller, not reported here.
func (cs *ClientSession) AbortTransaction() error {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	if cs.TransactionState != TransactionStarting && cs.TransactionState != TransactionInProgress {
		return ErrNoTransactionInProgress
	}
	cs.TransactionState = TransactionAborted
	return nil
}

// MarkDirty records that a network error occurred mid-command under this
// session's server-session record, so the pool discards it on check-in
// instead of reusing it (spec.md §4.8).
func (cs *ClientSession) MarkDirty() {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	if cs.Server != nil {
		cs.Server.Dirty = true
	}
}

// EndSession returns the underlying server-session record to the pool.
// A transaction left InProgress is marked Aborted locally; no
// abortTransaction command is sent to the server.
func (cs *ClientSession) EndSession() {
	cs.mu.Lock()
	if cs.TransactionState == TransactionInProgress {
		cs.TransactionState = TransactionAborted
	}
	srv := cs.Server
	cs.Server = nil
	cs.mu.Unlock()
	if srv != nil && cs.pool != nil {
		cs.pool.CheckIn(srv)
	}
}

package client

import (
	"context"

	"github.com/corekv/docdriver/operation"
	"github.com/corekv/docdriver/session"
)

// Session is an explicit client session, grounded on spec.md §4.8's
// ClientSession/transaction state machine. It wraps session.ClientSession
// with the commit/abort command-sending the bare session package leaves to
// its caller.
type Session struct {
	client *Client
	cs     *session.ClientSession
}

// EndSession returns the session's server-session record to the pool.
func (s *Session) EndSession() { s.cs.EndSession() }

// ClientSession exposes the underlying session, e.g. to pass as an
// operation's Session field.
func (s *Session) ClientSession() *session.ClientSession { return s.cs }

// StartTransaction begins a transaction on s (spec.md §4.8); every
// Collection/Database method called with this session's ClientSession
// from here until Commit or Abort runs inside it.
func (s *Session) StartTransaction(opts session.TransactionOptions) error {
	return s.cs.StartTransaction(opts)
}

// CommitTransaction sends commitTransaction if a transaction has any
// statements in it, then marks the session Committed either way.
func (s *Session) CommitTransaction(ctx context.Context) error {
	if !s.cs.InProgress() {
		return s.cs.CommitTransaction()
	}
	opts := s.cs.TransactionOptions()
	op := &operation.CommitTransaction{Database: "admin", Session: s.cs, WriteConcern: opts.WriteConcern}
	if err := op.Execute(ctx, s.client.topo); err != nil {
		return err
	}
	return s.cs.CommitTransaction()
}

// AbortTransaction sends abortTransaction best-effort and marks the
// session Aborted regardless of the command's outcome (spec.md §4.8).
func (s *Session) AbortTransaction(ctx context.Context) error {
	if err := s.cs.AbortTransaction(); err != nil {
		return err
	}
	op := &operation.AbortTransaction{Database: "admin", Session: s.cs}
	_ = op.Execute(ctx, s.client.topo)
	return nil
}

// WithTransaction runs fn inside a new transaction, committing on success
// and aborting on any error fn returns (spec.md §4.8's convenience
// wrapper, grounded on the teacher's mongo/session.go WithTransaction).
func (s *Session) WithTransaction(ctx context.Context, fn func(ctx context.Context) (interface{}, error), opts session.TransactionOptions) (interface{}, error) {
	if err := s.StartTransaction(opts); err != nil {
		return nil, err
	}
	result, err := fn(ctx)
	if err != nil {
		_ = s.AbortTransaction(ctx)
		return nil, err
	}
	if err := s.CommitTransaction(ctx); err != nil {
		return nil, err
	}
	return result, nil
}

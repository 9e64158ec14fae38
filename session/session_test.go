package session

import (
	"testing"
	"time"
)

func TestPoolCheckOutAllocatesWhenEmpty(t *testing.T) {
	p := NewPool(30 * time.Minute)
	s := p.CheckOut()
	if s == nil || len(s.ID) == 0 {
		t.Fatalf("expected a freshly allocated server session, got %+v", s)
	}
}

func TestPoolCheckInThenCheckOutReusesRecord(t *testing.T) {
	p := NewPool(30 * time.Minute)
	s := p.CheckOut()
	p.CheckIn(s)

	got := p.CheckOut()
	if string(got.ID) != string(s.ID) {
		t.Fatalf("expected the checked-in record to be reused")
	}
}

func TestPoolCheckInDiscardsDirty(t *testing.T) {
	p := NewPool(30 * time.Minute)
	s := p.CheckOut()
	s.Dirty = true
	p.CheckIn(s)

	got := p.CheckOut()
	if string(got.ID) == string(s.ID) {
		t.Fatalf("expected a dirty session to be discarded, not reused")
	}
}

func TestPoolCheckOutDiscardsNearExpiry(t *testing.T) {
	p := NewPool(time.Minute) // endSessionsBuffer alone consumes the whole timeout
	s := p.CheckOut()
	s.LastUsed = time.Now().Add(-2 * time.Minute)
	p.CheckIn(s)

	got := p.CheckOut()
	if string(got.ID) == string(s.ID) {
		t.Fatalf("expected a near-expiry session to be discarded, not reused")
	}
}

func TestPoolDrainEmptiesStack(t *testing.T) {
	p := NewPool(30 * time.Minute)
	a := p.CheckOut()
	b := p.CheckOut()
	p.CheckIn(a)
	p.CheckIn(b)

	drained := p.Drain()
	if len(drained) != 2 {
		t.Fatalf("expected 2 drained sessions, got %d", len(drained))
	}
	if len(p.Drain()) != 0 {
		t.Fatalf("expected the pool to be empty after Drain")
	}
}

func TestClientSessionNextTxnNumberIsMonotonic(t *testing.T) {
	p := NewPool(30 * time.Minute)
	cs := NewClientSession(p, true)

	a := cs.NextTxnNumber()
	b := cs.NextTxnNumber()
	if b <= a {
		t.Fatalf("expected strictly increasing txnNumbers, got %d then %d", a, b)
	}
	if cs.TxnNumber() != b {
		t.Fatalf("TxnNumber() should report the last value handed out")
	}
}

func TestClientSessionTransactionStateMachine(t *testing.T) {
	p := NewPool(30 * time.Minute)
	cs := NewClientSession(p, false)

	if err := cs.StartTransaction(TransactionOptions{}); err != nil {
		t.Fatalf("StartTransaction: %v", err)
	}
	if err := cs.StartTransaction(TransactionOptions{}); err != ErrTransactionStateTransition {
		t.Fatalf("expected ErrTransactionStateTransition starting a second transaction, got %v", err)
	}

	if first := cs.ApplyCommand(); !first {
		t.Fatalf("expected the first command under the transaction to report startTransaction=true")
	}
	if cs.TransactionState != TransactionInProgress {
		t.Fatalf("expected InProgress after the first statement, got %v", cs.TransactionState)
	}
	if again := cs.ApplyCommand(); again {
		t.Fatalf("expected the second command to not re-report startTransaction")
	}

	if err := cs.CommitTransaction(); err != nil {
		t.Fatalf("CommitTransaction: %v", err)
	}
	if cs.TransactionState != TransactionCommitted {
		t.Fatalf("expected Committed, got %v", cs.TransactionState)
	}

	if err := cs.AbortTransaction(); err != ErrNoTransactionInProgress {
		t.Fatalf("expected ErrNoTransactionInProgress aborting a committed transaction, got %v", err)
	}
}

func TestClientSessionAdvanceOperationTimeIsMonotonic(t *testing.T) {
	p := NewPool(30 * time.Minute)
	cs := NewClientSession(p, true)

	cs.AdvanceOperationTime(OperationTime{T: 10, I: 1})
	cs.AdvanceOperationTime(OperationTime{T: 5, I: 9})
	if cs.OperationTime != (OperationTime{T: 10, I: 1}) {
		t.Fatalf("expected the newer operationTime to stick, got %+v", cs.OperationTime)
	}
	cs.AdvanceOperationTime(OperationTime{T: 10, I: 2})
	if cs.OperationTime != (OperationTime{T: 10, I: 2}) {
		t.Fatalf("expected a later I at the same T to advance, got %+v", cs.OperationTime)
	}
}

func TestClientSessionEndSessionChecksInRecord(t *testing.T) {
	p := NewPool(30 * time.Minute)
	cs := NewClientSession(p, true)
	lsid := cs.LSID()

	cs.EndSession()

	if cs.Server != nil {
		t.Fatalf("expected Server to be cleared after EndSession")
	}
	got := p.CheckOut()
	if string(got.ID) != string(lsid) {
		t.Fatalf("expected EndSession to check the record back into the pool")
	}
}

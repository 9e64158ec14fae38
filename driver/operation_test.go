package driver

import (
	"errors"
	"testing"

	"go.mongodb.org/mongo-driver/v2/x/bsonx/bsoncore"

	"github.com/corekv/docdriver/connection"
)

func buildReply(t *testing.T, build func(dst []byte) []byte) bsoncore.Document {
	t.Helper()
	idx, dst := bsoncore.AppendDocumentStart(nil)
	dst = build(dst)
	dst, err := bsoncore.AppendDocumentEnd(dst, idx)
	if err != nil {
		t.Fatalf("AppendDocumentEnd: %v", err)
	}
	return dst
}

func TestParseCommandErrorReturnsNilOnOK(t *testing.T) {
	reply := buildReply(t, func(dst []byte) []byte {
		return bsoncore.AppendDoubleElement(dst, "ok", 1)
	})
	if err := parseCommandError(reply); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
}

func TestParseCommandErrorExtractsCodeAndLabels(t *testing.T) {
	reply := buildReply(t, func(dst []byte) []byte {
		dst = bsoncore.AppendDoubleElement(dst, "ok", 0)
		dst = bsoncore.AppendInt32Element(dst, "code", 112)
		dst = bsoncore.AppendStringElement(dst, "codeName", "WriteConflict")
		dst = bsoncore.AppendStringElement(dst, "errmsg", "boom")
		idx, arr := bsoncore.AppendArrayElementStart(dst, "errorLabels")
		arr = bsoncore.AppendStringElement(arr, "0", RetryableWriteErrorLabel)
		arr, _ = bsoncore.AppendArrayEnd(arr, idx)
		return arr
	})

	err := parseCommandError(reply)
	if err == nil {
		t.Fatal("expected a non-nil error")
	}
	if err.Code != 112 || err.Name != "WriteConflict" || err.Message != "boom" {
		t.Fatalf("unexpected error fields: %+v", err)
	}
	if !err.HasErrorLabel(RetryableWriteErrorLabel) {
		t.Fatalf("expected RetryableWriteError label, got %v", err.Labels)
	}
}

func TestParseCommandErrorSurfacesWriteConcernErrorEvenWhenOK(t *testing.T) {
	wcIdx, wc := bsoncore.AppendDocumentStart(nil)
	wc = bsoncore.AppendInt32Element(wc, "code", 64)
	wc = bsoncore.AppendStringElement(wc, "errmsg", "timed out waiting for replication")
	wc, _ = bsoncore.AppendDocumentEnd(wc, wcIdx)

	reply := buildReply(t, func(dst []byte) []byte {
		dst = bsoncore.AppendDoubleElement(dst, "ok", 1)
		return bsoncore.AppendDocumentElement(dst, "writeConcernError", bsoncore.Document(wc))
	})

	err := parseCommandError(reply)
	if err == nil {
		t.Fatal("expected a non-nil error despite ok:1")
	}
	if err.WriteConcernError == nil || err.WriteConcernError.Code != 64 {
		t.Fatalf("unexpected writeConcernError: %+v", err.WriteConcernError)
	}
}

func TestReadRetryableAcceptsNetworkErrorsAndCodeList(t *testing.T) {
	if !readRetryable(connection.Error{ConnectionID: "1", Wrapped: errors.New("broken pipe")}) {
		t.Fatal("expected a connection.Error to be read-retryable")
	}
	if !readRetryable(&Error{Code: 91}) {
		t.Fatal("expected ShutdownInProgress (91) to be read-retryable")
	}
	if readRetryable(&Error{Code: 11000}) {
		t.Fatal("did not expect DuplicateKey (11000) to be read-retryable")
	}
}

func TestWriteRetryableRequiresLabelOrNetworkError(t *testing.T) {
	if writeRetryable(&Error{Code: 11000}) {
		t.Fatal("a plain command error without the retryable label should not be write-retryable")
	}
	if !writeRetryable(&Error{Code: 112, Labels: []string{RetryableWriteErrorLabel}}) {
		t.Fatal("expected a RetryableWriteError-labeled error to be write-retryable")
	}
}

func TestErrorRedactStripsMessageAndRaw(t *testing.T) {
	e := &Error{Code: 1, Message: "sensitive document contents", Raw: bsoncore.Document{0}}
	r := e.Redact()
	if r.Message != "[redacted]" || r.Raw != nil {
		t.Fatalf("expected redacted message/raw, got %+v", r)
	}
	if e.Message != "sensitive document contents" {
		t.Fatal("Redact must not mutate the receiver")
	}
}

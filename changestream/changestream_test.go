package changestream

import (
	"errors"
	"testing"

	"go.mongodb.org/mongo-driver/v2/x/bsonx/bsoncore"

	"github.com/corekv/docdriver/connection"
	"github.com/corekv/docdriver/driver"
)

func TestChangeStreamStagePrefersStartAfterOverResumeToken(t *testing.T) {
	startAfter := mustDoc(t, func(dst []byte) []byte {
		return bsoncore.AppendInt32Element(dst, "_data", 1)
	})
	cs := &ChangeStream{
		opts:              Options{StartAfter: startAfter},
		resumeToken:       mustDoc(t, func(dst []byte) []byte { return bsoncore.AppendInt32Element(dst, "_data", 2) }),
		startAfterPending: true,
	}

	stage := cs.changeStreamStage()
	inner, err := stage.LookupErr("$changeStream")
	if err != nil {
		t.Fatalf("missing $changeStream stage: %v", err)
	}
	innerDoc, ok := inner.DocumentOK()
	if !ok {
		t.Fatal("$changeStream value is not a document")
	}
	if _, err := innerDoc.LookupErr("startAfter"); err != nil {
		t.Fatalf("expected startAfter to win while pending, got error: %v", err)
	}
	if _, err := innerDoc.LookupErr("resumeAfter"); err == nil {
		t.Fatal("did not expect resumeAfter when startAfter is pending")
	}
}

func TestChangeStreamStageFallsBackToResumeToken(t *testing.T) {
	cs := &ChangeStream{
		resumeToken: mustDoc(t, func(dst []byte) []byte { return bsoncore.AppendInt32Element(dst, "_data", 3) }),
	}
	stage := cs.changeStreamStage()
	inner, _ := stage.LookupErr("$changeStream")
	innerDoc, _ := inner.DocumentOK()
	if _, err := innerDoc.LookupErr("resumeAfter"); err != nil {
		t.Fatalf("expected resumeAfter, got error: %v", err)
	}
}

func TestChangeStreamStageIncludesFullDocumentWhenSet(t *testing.T) {
	cs := &ChangeStream{opts: Options{FullDocument: FullDocumentUpdateLookup}}
	stage := cs.changeStreamStage()
	inner, _ := stage.LookupErr("$changeStream")
	innerDoc, _ := inner.DocumentOK()
	v, err := innerDoc.LookupErr("fullDocument")
	if err != nil {
		t.Fatalf("expected fullDocument field: %v", err)
	}
	if v.StringValue() != "updateLookup" {
		t.Fatalf("expected updateLookup, got %q", v.StringValue())
	}
}

func TestResumableAcceptsNetworkErrors(t *testing.T) {
	cs := &ChangeStream{}
	err := connection.Error{ConnectionID: "1", Wrapped: errors.New("broken pipe")}
	if !cs.resumable(err) {
		t.Fatal("expected a network error to be resumable")
	}
}

func TestResumableRejectsNonResumableCodes(t *testing.T) {
	cs := &ChangeStream{}
	if cs.resumable(&driver.Error{Code: 136}) {
		t.Fatal("expected CappedPositionLost (136) to be non-resumable")
	}
	if cs.resumable(&driver.Error{Code: 237}) {
		t.Fatal("expected CursorKilled (237) to be non-resumable")
	}
	if cs.resumable(&driver.Error{Code: 11601}) {
		t.Fatal("expected Interrupted (11601) to be non-resumable")
	}
}

func TestResumableRejectsNonResumableLabel(t *testing.T) {
	cs := &ChangeStream{}
	err := &driver.Error{Code: 1, Labels: []string{driver.NonResumableChangeStreamError}}
	if cs.resumable(err) {
		t.Fatal("expected the NonResumableChangeStreamError label to block resumption")
	}
}

func TestResumableAcceptsOrdinaryCommandErrors(t *testing.T) {
	cs := &ChangeStream{}
	if !cs.resumable(&driver.Error{Code: 6}) {
		t.Fatal("expected an ordinary command error (e.g. HostUnreachable) to be resumable")
	}
}

// Next itself needs a live cursor, so this test repeats the _id lookup
// Next performs on each event and checks that it yields a resume token.
func TestResumeTokenExtractedFromIDDocument(t *testing.T) {
	cs := &ChangeStream{
		resumeToken: nil,
	}
	doc := mustDoc(t, func(dst []byte) []byte {
		idIdx, idDoc := bsoncore.AppendDocumentStart(nil)
		idDoc = bsoncore.AppendStringElement(idDoc, "_data", "82...")
		idDoc, _ = bsoncore.AppendDocumentEnd(idDoc, idIdx)
		return bsoncore.AppendDocumentElement(dst, "_id", idDoc)
	})
	cs.current = doc
	if id, err := cs.current.LookupErr("_id"); err == nil {
		if resumeDoc, ok := id.DocumentOK(); ok {
			cs.resumeToken = resumeDoc
		}
	}
	if cs.resumeToken == nil {
		t.Fatal("expected a resume token to be extracted from the _id field")
	}
}

func mustDoc(t *testing.T, build func(dst []byte) []byte) bsoncore.Document {
	t.Helper()
	idx, dst := bsoncore.AppendDocumentStart(nil)
	dst = build(dst)
	dst, err := bsoncore.AppendDocumentEnd(dst, idx)
	if err != nil {
		t.Fatalf("AppendDocumentEnd: %v", err)
	}
	return bsoncore.Document(dst)
}

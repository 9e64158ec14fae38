package operation

import (
	"testing"

	"go.mongodb.org/mongo-driver/v2/x/bsonx/bsoncore"

	"github.com/corekv/docdriver/description"
)

func buildDoc(t *testing.T, build func(idx int32, dst []byte) []byte) bsoncore.Document {
	t.Helper()
	idx, dst := bsoncore.AppendDocumentStart(nil)
	dst = build(idx, dst)
	dst, err := bsoncore.AppendDocumentEnd(dst, idx)
	if err != nil {
		t.Fatalf("AppendDocumentEnd: %v", err)
	}
	return dst
}

func TestInsertCommandShape(t *testing.T) {
	op := &Insert{
		Collection: "widgets",
		Documents: []bsoncore.Document{
			buildDoc(t, func(_ int32, dst []byte) []byte {
				return bsoncore.AppendInt32Element(dst, "_id", 1)
			}),
		},
	}

	idx, dst := bsoncore.AppendDocumentStart(nil)
	dst, err := op.command(dst, description.Server{})
	if err != nil {
		t.Fatalf("command: %v", err)
	}
	dst, _ = bsoncore.AppendDocumentEnd(dst, idx)
	cmd := bsoncore.Document(dst)

	name, ok := cmd.Lookup("insert").StringValueOK()
	if !ok || name != "widgets" {
		t.Fatalf("expected insert:\"widgets\", got %q ok=%v", name, ok)
	}
	docs, ok := cmd.Lookup("documents").ArrayOK()
	if !ok {
		t.Fatalf("expected a documents array")
	}
	vals, err := docs.Values()
	if err != nil || len(vals) != 1 {
		t.Fatalf("expected exactly one document, got %d (err=%v)", len(vals), err)
	}
}

func TestDeleteStatementEncodesLimit(t *testing.T) {
	stmt := DeleteStatement{Filter: buildDoc(t, func(_ int32, dst []byte) []byte {
		return bsoncore.AppendInt32Element(dst, "_id", 1)
	}), Limit: 1}

	doc := stmt.toDocument()
	limit, ok := doc.Lookup("limit").Int32OK()
	if !ok || limit != 1 {
		t.Fatalf("expected limit:1, got %d ok=%v", limit, ok)
	}
}

func TestParseCursorResponseReadsFirstBatch(t *testing.T) {
	batchDoc := buildDoc(t, func(_ int32, dst []byte) []byte {
		return bsoncore.AppendInt32Element(dst, "_id", 1)
	})

	cursorDoc := buildDoc(t, func(_ int32, dst []byte) []byte {
		dst = bsoncore.AppendInt64Element(dst, "id", 0)
		dst = bsoncore.AppendStringElement(dst, "ns", "db.coll")
		aidx, arr := bsoncore.AppendArrayElementStart(dst, "firstBatch")
		arr = bsoncore.AppendDocumentElement(arr, "0", batchDoc)
		arr, _ = bsoncore.AppendArrayEnd(arr, aidx)
		return arr
	})

	reply := buildDoc(t, func(_ int32, dst []byte) []byte {
		return bsoncore.AppendDocumentElement(dst, "cursor", cursorDoc)
	})

	cr, err := parseCursorResponse(reply)
	if err != nil {
		t.Fatalf("parseCursorResponse: %v", err)
	}
	if cr.ID != 0 || cr.Namespace != "db.coll" || len(cr.Batch) != 1 {
		t.Fatalf("unexpected cursor response: %+v", cr)
	}
}

func TestLookupCountHandlesMissingField(t *testing.T) {
	reply := buildDoc(t, func(_ int32, dst []byte) []byte { return dst })
	if got := lookupCount(reply, "n"); got != 0 {
		t.Fatalf("expected 0 for a missing field, got %d", got)
	}
}

package cursor

import (
	"context"
	"testing"

	"go.mongodb.org/mongo-driver/v2/x/bsonx/bsoncore"

	"github.com/corekv/docdriver/operation"
)

func doc(t *testing.T, n int32) bsoncore.Document {
	t.Helper()
	idx, dst := bsoncore.AppendDocumentStart(nil)
	dst = bsoncore.AppendInt32Element(dst, "_id", n)
	dst, err := bsoncore.AppendDocumentEnd(dst, idx)
	if err != nil {
		t.Fatalf("AppendDocumentEnd: %v", err)
	}
	return dst
}

func TestCursorIteratesExhaustedFirstBatch(t *testing.T) {
	cr := operation.CursorResponse{ID: 0, Namespace: "db.coll", Batch: []bsoncore.Document{doc(t, 1), doc(t, 2)}}
	c := New(nil, nil, nil, nil, false, "db", "coll", cr, nil)

	ctx := context.Background()
	var seen []int32
	for c.Next(ctx) {
		v, _ := c.Current().Lookup("_id").Int32OK()
		seen = append(seen, v)
	}
	if c.Err() != nil {
		t.Fatalf("unexpected error: %v", c.Err())
	}
	if len(seen) != 2 || seen[0] != 1 || seen[1] != 2 {
		t.Fatalf("unexpected documents: %v", seen)
	}
	if c.ID() != 0 || !c.Exhausted() {
		t.Fatalf("expected an exhausted, id-0 cursor once the sole batch drains")
	}
}

func TestCursorCloseIsIdempotent(t *testing.T) {
	cr := operation.CursorResponse{ID: 0, Batch: nil}
	c := New(nil, nil, nil, nil, false, "db", "coll", cr, nil)

	ctx := context.Background()
	if err := c.Close(ctx); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := c.Close(ctx); err != nil {
		t.Fatalf("second Close should be a no-op, got: %v", err)
	}
}

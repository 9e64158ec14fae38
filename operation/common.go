// Package operation implements spec.md's command layer: one type per
// wire command (Insert, Update, Delete, Find, Aggregate, GetMore,
// KillCursors, ListCollections, DropDatabase, Count, CommitTransaction,
// AbortTransaction, EndSessions), each a small builder wrapping a
// driver.Operation. Grounded on the teacher's x/mongo/driver/operation
// package (one file per command, a command(dst, desc) method, a
// Result()/processResponse() pair), trimmed of the teacher's
// operationgen-generated setter-per-field boilerplate.
package operation

import (
	"time"

	"go.mongodb.org/mongo-driver/v2/x/bsonx/bsoncore"

	"github.com/corekv/docdriver/description"
)

// writeSelector and readSelector pick a Primary (writes) or the caller's
// ReadPref (reads) among the topology's current servers, per spec.md §4.7.
func writeSelector() description.Selector {
	return description.ReadPrefSelector(description.Primary(), 10*time.Second)
}

func readSelector(rp description.ReadPref) description.Selector {
	return description.ReadPrefSelector(rp, 10*time.Second)
}

// appendDocumentArray appends an array element named key containing each
// of docs in order, a pattern every batch-taking command (insert,
// update, delete) shares.
func appendDocumentArray(dst []byte, key string, docs []bsoncore.Document) []byte {
	idx, arr := bsoncore.AppendArrayElementStart(dst, key)
	for i, doc := range docs {
		arr = bsoncore.AppendDocumentElement(arr, itoa(i), doc)
	}
	arr, _ = bsoncore.AppendArrayEnd(arr, idx)
	return arr
}

func itoa(i int) string {
	if i == 0 {
		return "0"
	}
	var buf [20]byte
	pos := len(buf)
	for i > 0 {
		pos--
		buf[pos] = byte('0' + i%10)
		i /= 10
	}
	return string(buf[pos:])
}

// lookupCount reads an integer-valued reply field that the server may
// encode as an int32 or a double depending on version, returning 0 if
// absent or of an unexpected type.
func lookupCount(reply bsoncore.Document, key string) int32 {
	v, err := reply.LookupErr(key)
	if err != nil {
		return 0
	}
	if n, ok := v.Int32OK(); ok {
		return n
	}
	if n, ok := v.Int64OK(); ok {
		return int32(n)
	}
	if n, ok := v.DoubleOK(); ok {
		return int32(n)
	}
	return 0
}

// CursorResponse is the {id, ns, firstBatch|nextBatch, postBatchResumeToken}
// sub-document every cursor-producing command returns (spec.md §4.10).
type CursorResponse struct {
	ID                   int64
	Namespace            string
	Batch                []bsoncore.Document
	PostBatchResumeToken bsoncore.Document
}

// parseCursorResponse extracts the "cursor" sub-document of reply,
// reading either firstBatch (find/aggregate) or nextBatch (getMore).
func parseCursorResponse(reply bsoncore.Document) (CursorResponse, error) {
	v, err := reply.LookupErr("cursor")
	if err != nil {
		return CursorResponse{}, err
	}
	doc, ok := v.DocumentOK()
	if !ok {
		return CursorResponse{}, err
	}

	var cr CursorResponse
	elems, err := doc.Elements()
	if err != nil {
		return CursorResponse{}, err
	}
	for _, e := range elems {
		switch e.Key() {
		case "id":
			cr.ID, _ = e.Value().Int64OK()
		case "ns":
			cr.Namespace, _ = e.Value().StringValueOK()
		case "firstBatch", "nextBatch":
			arr, ok := e.Value().ArrayOK()
			if !ok {
				continue
			}
			vals, _ := arr.Values()
			for _, val := range vals {
				if d, ok := val.DocumentOK(); ok {
					cr.Batch = append(cr.Batch, d)
				}
			}
		case "postBatchResumeToken":
			d, ok := e.Value().DocumentOK()
			if ok {
				cr.PostBatchResumeToken = d
			}
		}
	}
	return cr, nil
}

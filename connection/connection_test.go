package connection

import (
	"context"
	"io"
	"net"
	"testing"
	"time"

	"go.mongodb.org/mongo-driver/v2/x/bsonx/bsoncore"

	"github.com/corekv/docdriver/address"
	"github.com/corekv/docdriver/description"
	"github.com/corekv/docdriver/wiremessage"
)

// fakeDialer hands back a pre-established net.Conn, the client half of a
// net.Pipe, so the handshake can be driven against an in-process fake
// server without touching the network (mirrors the teacher's practice of
// testing connection.connection against a bufconn-style pipe rather than
// a real mongod).
type fakeDialer struct{ conn net.Conn }

func (d fakeDialer) DialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	return d.conn, nil
}

func readWireMessage(t *testing.T, conn net.Conn) []byte {
	t.Helper()
	var sizeBuf [4]byte
	if _, err := io.ReadFull(conn, sizeBuf[:]); err != nil {
		t.Fatalf("read size: %v", err)
	}
	size := int32(sizeBuf[0]) | int32(sizeBuf[1])<<8 | int32(sizeBuf[2])<<16 | int32(sizeBuf[3])<<24
	buf := make([]byte, size)
	copy(buf, sizeBuf[:])
	if _, err := io.ReadFull(conn, buf[4:]); err != nil {
		t.Fatalf("read body: %v", err)
	}
	return buf
}

// runFakeServer answers len(handlers) round trips on server, one per
// handler, in order. It stops (without error) if the client never sends a
// request for a given step, so a test can deliberately short-circuit the
// exchange to exercise dead-connection behavior.
func runFakeServer(t *testing.T, server net.Conn, handlers ...func(bsoncore.Document) bsoncore.Document) {
	t.Helper()
	for _, h := range handlers {
		wm := readWireMessage(t, server)
		msg, err := (wiremessage.Codec{}).Decode(wm)
		if err != nil {
			t.Errorf("decode request: %v", err)
			return
		}
		reply := h(msg.Body)
		out, err := (wiremessage.Codec{}).Encode(wiremessage.NextRequestID(), reply)
		if err != nil {
			t.Errorf("encode reply: %v", err)
			return
		}
		if _, err := server.Write(out); err != nil {
			t.Errorf("write reply: %v", err)
			return
		}
	}
}

func buildHelloReplyDoc(maxWire, minWire int32, isPrimary bool) bsoncore.Document {
	idx, doc := bsoncore.AppendDocumentStart(nil)
	doc = bsoncore.AppendDoubleElement(doc, "ok", 1)
	doc = bsoncore.AppendInt32Element(doc, "maxWireVersion", maxWire)
	doc = bsoncore.AppendInt32Element(doc, "minWireVersion", minWire)
	doc = bsoncore.AppendBooleanElement(doc, "isWritablePrimary", isPrimary)
	doc, _ = bsoncore.AppendDocumentEnd(doc, idx)
	return doc
}

func commandFirstKey(t *testing.T, body bsoncore.Document) string {
	t.Helper()
	elems, err := body.Elements()
	if err != nil || len(elems) == 0 {
		t.Fatalf("command has no elements: %v", err)
	}
	return elems[0].Key()
}

func TestConnect_HelloHandshake_NoAuth(t *testing.T) {
	client, server := net.Pipe()
	defer server.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		runFakeServer(t, server, func(body bsoncore.Document) bsoncore.Document {
			if key := commandFirstKey(t, body); key != "hello" {
				t.Errorf("expected hello command, got %q", key)
			}
			return buildHelloReplyDoc(21, 6, true)
		})
	}()

	conn, err := Connect(context.Background(), address.Address("localhost:27017"), 1, nil, WithDialer(fakeDialer{conn: client}))
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	<-done

	if !conn.Alive() {
		t.Fatal("expected a freshly-connected connection to be alive")
	}
	if conn.Generation() != 1 {
		t.Fatalf("generation = %d, want 1", conn.Generation())
	}
	desc := conn.Description()
	if desc.Kind != description.RSPrimary {
		t.Fatalf("Kind = %v, want RSPrimary", desc.Kind)
	}
	if desc.MaxWireVersion != 21 || desc.MinWireVersion != 6 {
		t.Fatalf("wire version range = [%d,%d], want [6,21]", desc.MinWireVersion, desc.MaxWireVersion)
	}
}

func TestConnection_RunCommand_RoundTrip(t *testing.T) {
	client, server := net.Pipe()
	defer server.Close()

	handshakeDone := make(chan struct{})
	go func() {
		defer close(handshakeDone)
		runFakeServer(t, server, func(body bsoncore.Document) bsoncore.Document {
			return buildHelloReplyDoc(21, 6, true)
		})
	}()

	conn, err := Connect(context.Background(), address.Address("localhost:27017"), 1, nil, WithDialer(fakeDialer{conn: client}))
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	<-handshakeDone

	cmdDone := make(chan struct{})
	go func() {
		defer close(cmdDone)
		runFakeServer(t, server, func(body bsoncore.Document) bsoncore.Document {
			if key := commandFirstKey(t, body); key != "ping" {
				t.Errorf("expected ping command, got %q", key)
			}
			idx, doc := bsoncore.AppendDocumentStart(nil)
			doc = bsoncore.AppendDoubleElement(doc, "ok", 1)
			doc, _ = bsoncore.AppendDocumentEnd(doc, idx)
			return doc
		})
	}()

	idx, pingDoc := bsoncore.AppendDocumentStart(nil)
	pingDoc = bsoncore.AppendInt32Element(pingDoc, "ping", 1)
	pingDoc, _ = bsoncore.AppendDocumentEnd(pingDoc, idx)

	reply, err := conn.RunCommand(context.Background(), "admin", pingDoc)
	if err != nil {
		t.Fatalf("RunCommand: %v", err)
	}
	<-cmdDone

	elems, err := reply.Elements()
	if err != nil {
		t.Fatalf("reply.Elements: %v", err)
	}
	if len(elems) == 0 || elems[0].Key() != "ok" {
		t.Fatalf("unexpected reply: %v", reply)
	}
}

func TestConnection_IOErrorMarksDead(t *testing.T) {
	client, server := net.Pipe()

	handshakeDone := make(chan struct{})
	go func() {
		defer close(handshakeDone)
		runFakeServer(t, server, func(body bsoncore.Document) bsoncore.Document {
			return buildHelloReplyDoc(21, 6, true)
		})
	}()

	conn, err := Connect(context.Background(), address.Address("localhost:27017"), 1, nil, WithDialer(fakeDialer{conn: client}))
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	<-handshakeDone

	// Server goes away mid-conversation; the next round trip must fail
	// with a network error and mark the connection dead without a panic
	// (spec.md §4.3: any I/O error marks the connection dead).
	server.Close()

	idx, pingDoc := bsoncore.AppendDocumentStart(nil)
	pingDoc = bsoncore.AppendInt32Element(pingDoc, "ping", 1)
	pingDoc, _ = bsoncore.AppendDocumentEnd(pingDoc, idx)

	_, err = conn.RunCommand(context.Background(), "admin", pingDoc)
	if err == nil {
		t.Fatal("expected RunCommand to fail once the peer is gone")
	}
	if !NetworkError(err) {
		t.Fatalf("expected a connection.Error, got %T: %v", err, err)
	}
	if conn.Alive() {
		t.Fatal("expected connection to be marked dead after an I/O error")
	}
	if !conn.Expired() {
		t.Fatal("a dead connection must report Expired")
	}
}

func TestConnection_Expired_IdleTimeout(t *testing.T) {
	c := &Connection{idleTimeout: time.Millisecond}
	c.bumpIdleDeadline()
	time.Sleep(5 * time.Millisecond)
	if !c.Expired() {
		t.Fatal("expected connection past its idle deadline to be Expired")
	}
}

func TestFirstKeyAndRedaction(t *testing.T) {
	cases := []struct {
		name    string
		build   func() bsoncore.Document
		redact  bool
		wantKey string
	}{
		{
			name: "plain find is not redacted",
			build: func() bsoncore.Document {
				idx, doc := bsoncore.AppendDocumentStart(nil)
				doc = bsoncore.AppendStringElement(doc, "find", "coll")
				doc, _ = bsoncore.AppendDocumentEnd(doc, idx)
				return doc
			},
			redact:  false,
			wantKey: "find",
		},
		{
			name: "saslStart is redacted",
			build: func() bsoncore.Document {
				idx, doc := bsoncore.AppendDocumentStart(nil)
				doc = bsoncore.AppendInt32Element(doc, "saslStart", 1)
				doc, _ = bsoncore.AppendDocumentEnd(doc, idx)
				return doc
			},
			redact:  true,
			wantKey: "saslStart",
		},
		{
			name: "hello carrying speculativeAuthenticate is redacted",
			build: func() bsoncore.Document {
				sidx, sdoc := bsoncore.AppendDocumentStart(nil)
				sdoc = bsoncore.AppendStringElement(sdoc, "mechanism", "SCRAM-SHA-256")
				sdoc, _ = bsoncore.AppendDocumentEnd(sdoc, sidx)

				idx, doc := bsoncore.AppendDocumentStart(nil)
				doc = bsoncore.AppendInt32Element(doc, "hello", 1)
				doc = bsoncore.AppendDocumentElement(doc, "speculativeAuthenticate", sdoc)
				doc, _ = bsoncore.AppendDocumentEnd(doc, idx)
				return doc
			},
			redact:  true,
			wantKey: "hello",
		},
		{
			name: "plain hello is not redacted",
			build: func() bsoncore.Document {
				idx, doc := bsoncore.AppendDocumentStart(nil)
				doc = bsoncore.AppendInt32Element(doc, "hello", 1)
				doc, _ = bsoncore.AppendDocumentEnd(doc, idx)
				return doc
			},
			redact:  false,
			wantKey: "hello",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			key, redact := firstKeyAndRedaction(tc.build())
			if key != tc.wantKey {
				t.Fatalf("key = %q, want %q", key, tc.wantKey)
			}
			if redact != tc.redact {
				t.Fatalf("redact = %v, want %v", redact, tc.redact)
			}
		})
	}
}

func TestNegotiateCompressors(t *testing.T) {
	zstd, _ := wiremessage.CompressorIDByName("zstd")
	snappy, _ := wiremessage.CompressorIDByName("snappy")

	got := negotiateCompressors([]wiremessage.CompressorID{zstd, snappy}, []string{"snappy"})
	if len(got) != 1 || got[0] != snappy {
		t.Fatalf("negotiateCompressors = %v, want [snappy]", got)
	}

	none := negotiateCompressors([]wiremessage.CompressorID{zstd}, nil)
	if len(none) != 0 {
		t.Fatalf("negotiateCompressors with no server support = %v, want empty", none)
	}
}

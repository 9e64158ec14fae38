package topology

import (
	"context"
	"io"
	"net"
	"sync/atomic"

	"go.mongodb.org/mongo-driver/v2/x/bsonx/bsoncore"

	"github.com/corekv/docdriver/wiremessage"
)

// helloDialer answers every dial with a fresh net.Pipe whose server half
// replies "ok:1, isWritablePrimary:true" to any command it's sent, looping
// until the client side is closed. This stands in for a real mongod across
// both Pool.CheckOut (one dial per pooled connection) and Monitor.heartbeat
// (one fresh dial per tick), mirroring connection_test.go's net.Pipe
// pattern one layer up.
type helloDialer struct {
	dials int32
	fail  bool
}

func (d *helloDialer) DialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	atomic.AddInt32(&d.dials, 1)
	if d.fail {
		return nil, errDial
	}
	client, server := net.Pipe()
	go serveHello(server)
	return client, nil
}

func (d *helloDialer) dialCount() int32 { return atomic.LoadInt32(&d.dials) }

var errDial = dialError("dial refused")

type dialError string

func (e dialError) Error() string { return string(e) }

func serveHello(server net.Conn) {
	defer server.Close()
	for {
		wm, err := readFrame(server)
		if err != nil {
			return
		}
		if _, err := (wiremessage.Codec{}).Decode(wm); err != nil {
			return
		}
		reply := helloReplyDoc()
		out, err := (wiremessage.Codec{}).Encode(wiremessage.NextRequestID(), reply)
		if err != nil {
			return
		}
		if _, err := server.Write(out); err != nil {
			return
		}
	}
}

func readFrame(conn net.Conn) ([]byte, error) {
	var sizeBuf [4]byte
	if _, err := io.ReadFull(conn, sizeBuf[:]); err != nil {
		return nil, err
	}
	size := int32(sizeBuf[0]) | int32(sizeBuf[1])<<8 | int32(sizeBuf[2])<<16 | int32(sizeBuf[3])<<24
	buf := make([]byte, size)
	copy(buf, sizeBuf[:])
	if _, err := io.ReadFull(conn, buf[4:]); err != nil {
		return nil, err
	}
	return buf, nil
}

func helloReplyDoc() bsoncore.Document {
	idx, doc := bsoncore.AppendDocumentStart(nil)
	doc = bsoncore.AppendDoubleElement(doc, "ok", 1)
	doc = bsoncore.AppendInt32Element(doc, "maxWireVersion", 21)
	doc = bsoncore.AppendInt32Element(doc, "minWireVersion", 6)
	doc = bsoncore.AppendBooleanElement(doc, "isWritablePrimary", true)
	doc, _ = bsoncore.AppendDocumentEnd(doc, idx)
	return doc
}

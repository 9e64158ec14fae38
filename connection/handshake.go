package connection

import (
	"context"
	"crypto/tls"
	"errors"
	"net"
	"runtime"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/v2/x/bsonx/bsoncore"

	"github.com/corekv/docdriver/address"
	"github.com/corekv/docdriver/description"
)

const driverName = "docdriver"
const driverVersion = "0.1.0"

// buildHello constructs the initial handshake command (spec.md §4.3): a
// hello with driver/os/platform metadata and an application name, plus an
// embedded speculativeAuthenticate document when the caller has one ready.
func buildHello(appName string, speculativeAuth bsoncore.Document) bsoncore.Document {
	idx, doc := bsoncore.AppendDocumentStart(nil)
	doc = bsoncore.AppendInt32Element(doc, "hello", 1)

	if appName != "" {
		aidx, adoc := bsoncore.AppendDocumentStart(nil)
		adoc = bsoncore.AppendStringElement(adoc, "name", appName)
		adoc, _ = bsoncore.AppendDocumentEnd(adoc, aidx)
		doc = bsoncore.AppendDocumentElement(doc, "application", adoc)
	}

	didx, ddoc := bsoncore.AppendDocumentStart(nil)
	ddoc = bsoncore.AppendStringElement(ddoc, "name", driverName)
	ddoc = bsoncore.AppendStringElement(ddoc, "version", driverVersion)
	ddoc, _ = bsoncore.AppendDocumentEnd(ddoc, didx)
	doc = bsoncore.AppendDocumentElement(doc, "driver", ddoc)

	oidx, odoc := bsoncore.AppendDocumentStart(nil)
	odoc = bsoncore.AppendStringElement(odoc, "type", runtime.GOOS)
	odoc = bsoncore.AppendStringElement(odoc, "architecture", runtime.GOARCH)
	odoc, _ = bsoncore.AppendDocumentEnd(odoc, oidx)
	doc = bsoncore.AppendDocumentElement(doc, "os", odoc)

	doc = bsoncore.AppendStringElement(doc, "platform", runtime.Version())

	if speculativeAuth != nil {
		doc = bsoncore.AppendDocumentElement(doc, "speculativeAuthenticate", speculativeAuth)
	}

	doc, _ = bsoncore.AppendDocumentEnd(doc, idx)
	return doc
}

// parseHelloReply extracts the fields that feed description.Server plus
// the speculativeAuthenticate subdocument (if present) and the server's
// advertised compression algorithms.
func parseHelloReply(addr address.Address, reply bsoncore.Document) (desc description.Server, speculativeAuth bsoncore.Document, compressors []string, err error) {
	desc = description.NewDefaultServer(addr)
	desc.Kind = description.Standalone
	desc.LastUpdateTime = time.Now()

	elems, err := reply.Elements()
	if err != nil {
		return description.Server{}, nil, nil, err
	}

	var isPrimary, isSecondary, isArbiter, isMongos bool

	for _, e := range elems {
		switch e.Key() {
		case "ok":
			ok := false
			if v, isOK := e.Value().DoubleOK(); isOK {
				ok = v == 1
			} else if v, isOK := e.Value().Int32OK(); isOK {
				ok = v == 1
			}
			if !ok {
				return description.Server{}, nil, nil, errors.New("connection: hello command failed")
			}
		case "maxWireVersion":
			v, _ := e.Value().Int32OK()
			desc.MaxWireVersion = v
		case "minWireVersion":
			v, _ := e.Value().Int32OK()
			desc.MinWireVersion = v
		case "setName":
			s, _ := e.Value().StringValueOK()
			desc.SetName = s
		case "setVersion":
			v, _ := e.Value().Int32OK()
			v64 := int64(v)
			desc.SetVersion = &v64
		case "electionId":
			oid, ok := e.Value().ObjectIDOK()
			if ok {
				eid := description.ElectionID(oid)
				desc.ElectionID = &eid
			}
		case "ismaster", "isWritablePrimary":
			isPrimary, _ = e.Value().BooleanOK()
		case "secondary":
			isSecondary, _ = e.Value().BooleanOK()
		case "arbiterOnly":
			isArbiter, _ = e.Value().BooleanOK()
		case "hidden":
			desc.Hidden, _ = e.Value().BooleanOK()
		case "msg":
			s, _ := e.Value().StringValueOK()
			isMongos = s == "isdbgrid"
		case "hosts":
			desc.Hosts = addressArray(e.Value())
		case "passives":
			desc.Passives = addressArray(e.Value())
		case "arbiters":
			desc.Arbiters = addressArray(e.Value())
		case "tags":
			desc.Tags = tagSet(e.Value())
		case "speculativeAuthenticate":
			doc, ok := e.Value().DocumentOK()
			if ok {
				speculativeAuth = doc
			}
		case "compression":
			compressors = stringArray(e.Value())
		case "serviceId":
			oid, ok := e.Value().ObjectIDOK()
			if ok {
				id := [12]byte(oid)
				desc.ServiceID = &id
			}
		}
	}

	switch {
	case isMongos:
		desc.Kind = description.Mongos
	case isPrimary:
		desc.Kind = description.RSPrimary
	case isSecondary:
		desc.Kind = description.RSSecondary
	case isArbiter:
		desc.Kind = description.RSArbiter
	case desc.SetName != "":
		desc.Kind = description.RSOther
	}

	return desc, speculativeAuth, compressors, nil
}

func stringArray(v bsoncore.Value) []string {
	arr, ok := v.ArrayOK()
	if !ok {
		return nil
	}
	vals, err := arr.Values()
	if err != nil {
		return nil
	}
	out := make([]string, 0, len(vals))
	for _, elemVal := range vals {
		if s, ok := elemVal.StringValueOK(); ok {
			out = append(out, s)
		}
	}
	return out
}

func addressArray(v bsoncore.Value) []address.Address {
	names := stringArray(v)
	out := make([]address.Address, 0, len(names))
	for _, n := range names {
		out = append(out, address.Address(n).Canonicalize())
	}
	return out
}

func tagSet(v bsoncore.Value) description.TagSet {
	doc, ok := v.DocumentOK()
	if !ok {
		return nil
	}
	elems, err := doc.Elements()
	if err != nil {
		return nil
	}
	var tags description.TagSet
	for _, e := range elems {
		if s, ok := e.Value().StringValueOK(); ok {
			tags = append(tags, description.Tag{Name: e.Key(), Value: s})
		}
	}
	return tags
}

// configureTLS wraps nc in a TLS client connection, deriving ServerName
// from addr's host when the config does not already set one.
// This is the one seam of the excluded TLS-stack collaborator this core
// still owns: handing an established net.Conn off to crypto/tls.
func configureTLS(ctx context.Context, nc net.Conn, addr address.Address, cfg *tls.Config) (net.Conn, error) {
	cfg = cfg.Clone()
	if cfg.ServerName == "" {
		host := string(addr)
		if i := strings.LastIndex(host, ":"); i != -1 {
			host = host[:i]
		}
		cfg.ServerName = host
	}

	client := tls.Client(nc, cfg)
	done := make(chan error, 1)
	go func() { done <- client.HandshakeContext(ctx) }()

	select {
	case err := <-done:
		if err != nil {
			return nil, err
		}
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return client, nil
}

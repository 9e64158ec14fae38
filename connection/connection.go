// Package connection implements spec.md component C: a single duplex
// stream to one mongod/mongos, its hello/auth handshake, and a
// single-in-flight sendCommand primitive. Grounded on the teacher's
// core/connection/connection.go (compress/uncompress pair, dead-on-I/O-error
// semantics, idle/lifetime deadline tracking) generalized from OP_QUERY/
// OP_REPLY to OP_MSG via the wiremessage package.
package connection

import (
	"context"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"go.mongodb.org/mongo-driver/v2/x/bsonx/bsoncore"

	"github.com/corekv/docdriver/address"
	"github.com/corekv/docdriver/auth"
	"github.com/corekv/docdriver/description"
	"github.com/corekv/docdriver/event"
	"github.com/corekv/docdriver/wiremessage"
)

var globalConnectionID uint64

func nextConnectionID() uint64 { return atomic.AddUint64(&globalConnectionID, 1) }

// commandsToRedact have their command/reply bodies hidden from command
// events (spec.md §4.3): hello carrying speculativeAuthenticate, and any
// sasl* command.
var commandsToRedact = map[string]bool{
	"saslstart":    true,
	"saslcontinue": true,
	"getnonce":     true,
	"authenticate": true,
	"createuser":   true,
	"updateuser":   true,
}

// Connection owns one duplex stream to a server (spec.md §4.3).
type Connection struct {
	id         string
	addr       address.Address
	nc         netConn
	codec      wiremessage.Codec
	generation uint64
	serviceID  *[12]byte // set only in load-balanced mode, for per-service generation tracking

	description description.Server

	dead         bool
	idleTimeout  time.Duration
	idleDeadline time.Time
	lifeDeadline time.Time
	readTimeout  time.Duration
	writeTimeout time.Duration

	monitor event.CommandMonitor
}

// netConn is the subset of net.Conn this package depends on directly.
type netConn interface {
	io.ReadWriteCloser
	SetReadDeadline(time.Time) error
	SetWriteDeadline(time.Time) error
}

// Connect dials addr, runs the hello/auth handshake, and returns a ready
// Connection. generation is recorded as-is so the owning Pool can later
// detect staleness by comparing against its current generation counter.
func Connect(ctx context.Context, addr address.Address, generation uint64, monitor event.CommandMonitor, opts ...Option) (*Connection, error) {
	cfg := newConfig(opts...)

	dialed, err := cfg.dialer.DialContext(ctx, addr.Network(), addr.String())
	if err != nil {
		return nil, fmt.Errorf("connection: dial %s: %w", addr, err)
	}
	if cfg.tlsConfig != nil {
		dialed, err = configureTLS(ctx, dialed, addr, cfg.tlsConfig)
		if err != nil {
			return nil, fmt.Errorf("connection: tls handshake with %s: %w", addr, err)
		}
	}
	var nc netConn = dialed

	var lifeDeadline time.Time
	if cfg.lifetimeTimeout > 0 {
		lifeDeadline = time.Now().Add(cfg.lifetimeTimeout)
	}

	c := &Connection{
		id:           fmt.Sprintf("%s[-%d]", addr, nextConnectionID()),
		addr:         addr,
		nc:           nc,
		generation:   generation,
		idleTimeout:  cfg.idleTimeout,
		lifeDeadline: lifeDeadline,
		readTimeout:  cfg.readTimeout,
		writeTimeout: cfg.writeTimeout,
		monitor:      monitor,
	}
	c.bumpIdleDeadline()

	hsCtx := ctx
	var cancel context.CancelFunc
	if cfg.handshakeTimeout > 0 {
		hsCtx, cancel = context.WithTimeout(ctx, cfg.handshakeTimeout)
		defer cancel()
	}

	desc, compressors, err := c.handshake(hsCtx, cfg)
	if err != nil {
		c.nc.Close()
		return nil, err
	}
	c.description = desc
	c.serviceID = desc.ServiceID
	c.codec = wiremessage.Codec{Compressors: compressors}
	return c, nil
}

// handshake sends hello with driver metadata and an optional speculative
// auth document, then runs the authenticator if the server didn't already
// satisfy it speculatively (spec.md §4.3).
func (c *Connection) handshake(ctx context.Context, cfg *config) (description.Server, []wiremessage.CompressorID, error) {
	var authenticator auth.Authenticator
	var specDoc bsoncore.Document
	if cfg.credential != nil {
		a, err := auth.NewAuthenticator(*cfg.credential)
		if err != nil {
			return description.Server{}, nil, err
		}
		authenticator = a
		specDoc, err = a.SpeculativeAuthenticateDoc(cfg.credential.Source)
		if err != nil {
			return description.Server{}, nil, err
		}
	}

	helloDoc := buildHello(cfg.appName, specDoc)
	reply, err := c.roundTrip(ctx, "admin", helloDoc, true)
	if err != nil {
		return description.Server{}, nil, fmt.Errorf("connection: hello: %w", err)
	}

	desc, speculativeAuth, serverCompressors, err := parseHelloReply(c.addr, reply)
	if err != nil {
		return description.Server{}, nil, err
	}

	negotiated := negotiateCompressors(cfg.compressors, serverCompressors)

	if authenticator != nil && speculativeAuth == nil {
		var err error
		if cfg.credential.Mechanism == "" {
			mechs, mechErr := lookupSaslSupportedMechs(ctx, c, *cfg.credential)
			if mechErr != nil {
				return description.Server{}, nil, mechErr
			}
			cred, negErr := auth.NegotiateMechanism(*cfg.credential, mechs)
			if negErr != nil {
				return description.Server{}, nil, negErr
			}
			authenticator, err = auth.NewAuthenticator(cred)
			if err != nil {
				return description.Server{}, nil, err
			}
		}
		if err := authenticator.Auth(ctx, c, nil); err != nil {
			return description.Server{}, nil, err
		}
	} else if authenticator != nil {
		if err := authenticator.Auth(ctx, c, speculativeAuth); err != nil {
			return description.Server{}, nil, err
		}
	}

	return desc, negotiated, nil
}

func lookupSaslSupportedMechs(ctx context.Context, conn *Connection, cred auth.Credential) ([]string, error) {
	idx, doc := bsoncore.AppendDocumentStart(nil)
	doc = bsoncore.AppendInt32Element(doc, "hello", 1)
	doc = bsoncore.AppendStringElement(doc, "saslSupportedMechs", auth.SaslSupportedMechsArg(cred))
	doc, _ = bsoncore.AppendDocumentEnd(doc, idx)

	reply, err := conn.RunCommand(ctx, "admin", doc)
	if err != nil {
		return nil, err
	}
	elems, err := reply.Elements()
	if err != nil {
		return nil, err
	}
	var mechs []string
	for _, e := range elems {
		if e.Key() != "saslSupportedMechs" {
			continue
		}
		arr, ok := e.Value().ArrayOK()
		if !ok {
			continue
		}
		vals, _ := arr.Values()
		for _, v := range vals {
			if s, ok := v.StringValueOK(); ok {
				mechs = append(mechs, s)
			}
		}
	}
	return mechs, nil
}

func negotiateCompressors(configured []wiremessage.CompressorID, serverNames []string) []wiremessage.CompressorID {
	var out []wiremessage.CompressorID
	for _, id := range configured {
		for _, name := range serverNames {
			if id.Name() == name {
				out = append(out, id)
			}
		}
	}
	return out
}

// RunCommand implements auth.ConnectionHandshaker: a single request/reply
// round trip against db through the connection's negotiated codec, which
// leaves handshake and auth commands uncompressed by first key (spec.md
// §4.1).
func (c *Connection) RunCommand(ctx context.Context, db string, body bsoncore.Document) (bsoncore.Document, error) {
	return c.roundTrip(ctx, db, body, false)
}

func (c *Connection) roundTrip(ctx context.Context, db string, body bsoncore.Document, isHandshake bool) (bsoncore.Document, error) {
	firstKey, redacted := firstKeyAndRedaction(body)

	started := time.Now()
	if c.monitor != nil {
		c.monitor.Started(event.CommandStartedEvent{
			ConnectionID: c.id, Database: db, CommandName: firstKey, Command: redactIf(redacted, body),
		})
	}

	requestID := wiremessage.NextRequestID()
	wm, err := c.codecForWrite(isHandshake).Encode(requestID, body)
	if err != nil {
		return nil, c.fail(err, "unable to encode command")
	}
	if err := c.write(ctx, wm); err != nil {
		return nil, err
	}

	replyWM, err := c.read(ctx)
	if err != nil {
		if c.monitor != nil {
			c.monitor.Failed(event.CommandFailedEvent{ConnectionID: c.id, CommandName: firstKey, Duration: time.Since(started), Failure: err})
		}
		return nil, err
	}

	msg, err := c.codecForWrite(isHandshake).Decode(replyWM)
	if err != nil {
		return nil, c.fail(err, "unable to decode reply")
	}

	if c.monitor != nil {
		c.monitor.Succeeded(event.CommandSucceededEvent{
			ConnectionID: c.id, CommandName: firstKey, Duration: time.Since(started), Reply: redactIf(redacted, msg.Body),
		})
	}
	return msg.Body, nil
}

// codecForWrite returns an uncompressed codec during the handshake, since
// hello/auth commands must never be compressed (spec.md §4.1); afterward
// the negotiated codec applies uniformly (Codec.Encode itself also
// excludes non-compressible commands by first key).
func (c *Connection) codecForWrite(isHandshake bool) wiremessage.Codec {
	if isHandshake {
		return wiremessage.Codec{}
	}
	return c.codec
}

func firstKeyAndRedaction(body bsoncore.Document) (string, bool) {
	elems, err := body.Elements()
	if err != nil || len(elems) == 0 {
		return "", false
	}
	key := elems[0].Key()
	redact := commandsToRedact[lower(key)]
	if key == "hello" || key == "ismaster" || key == "isMaster" {
		for _, e := range elems {
			if e.Key() == "speculativeAuthenticate" {
				redact = true
			}
		}
	}
	return key, redact
}

func redactIf(redact bool, doc bsoncore.Document) bsoncore.Document {
	if !redact {
		return doc
	}
	return nil
}

func lower(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}

func (c *Connection) write(ctx context.Context, wm []byte) error {
	if c.dead {
		return c.fail(nil, "connection is dead")
	}
	deadline := c.deadlineFor(ctx, c.writeTimeout)
	if err := c.nc.SetWriteDeadline(deadline); err != nil {
		return c.fail(err, "failed to set write deadline")
	}
	if _, err := c.nc.Write(wm); err != nil {
		c.markDead()
		return c.fail(err, "unable to write wire message")
	}
	c.bumpIdleDeadline()
	return nil
}

func (c *Connection) read(ctx context.Context) ([]byte, error) {
	if c.dead {
		return nil, c.fail(nil, "connection is dead")
	}
	deadline := c.deadlineFor(ctx, c.readTimeout)
	if err := c.nc.SetReadDeadline(deadline); err != nil {
		return nil, c.fail(err, "failed to set read deadline")
	}

	var sizeBuf [4]byte
	if _, err := io.ReadFull(c.nc, sizeBuf[:]); err != nil {
		c.markDead()
		return nil, c.fail(err, "unable to read message length")
	}
	size := int32(sizeBuf[0]) | int32(sizeBuf[1])<<8 | int32(sizeBuf[2])<<16 | int32(sizeBuf[3])<<24
	if size < 16 {
		c.markDead()
		return nil, c.fail(fmt.Errorf("size %d too small", size), "malformed message length")
	}

	buf := make([]byte, size)
	copy(buf, sizeBuf[:])
	if _, err := io.ReadFull(c.nc, buf[4:]); err != nil {
		c.markDead()
		return nil, c.fail(err, "unable to read full message")
	}

	c.bumpIdleDeadline()
	return buf, nil
}

func (c *Connection) deadlineFor(ctx context.Context, timeout time.Duration) time.Time {
	deadline := time.Time{}
	if timeout != 0 {
		deadline = time.Now().Add(timeout)
	}
	if dl, ok := ctx.Deadline(); ok && (deadline.IsZero() || dl.Before(deadline)) {
		deadline = dl
	}
	return deadline
}

func (c *Connection) fail(wrapped error, msg string) error {
	return Error{ConnectionID: c.id, Wrapped: wrapped, message: msg}
}

func (c *Connection) markDead() { c.dead = true }

func (c *Connection) bumpIdleDeadline() {
	if c.idleTimeout > 0 {
		c.idleDeadline = time.Now().Add(c.idleTimeout)
	}
}

// Alive reports whether the connection has not failed an I/O operation.
func (c *Connection) Alive() bool { return !c.dead }

// Expired reports idle-timeout, lifetime, or dead status (consumed by
// Pool.checkOut/checkIn's staleness checks, spec.md §4.4).
func (c *Connection) Expired() bool {
	now := time.Now()
	if !c.idleDeadline.IsZero() && now.After(c.idleDeadline) {
		return true
	}
	if !c.lifeDeadline.IsZero() && now.After(c.lifeDeadline) {
		return true
	}
	return c.dead
}

func (c *Connection) ID() string                      { return c.id }
func (c *Connection) Address() address.Address        { return c.addr }
func (c *Connection) Generation() uint64               { return c.generation }
func (c *Connection) Description() description.Server { return c.description }

// ServiceID returns the load balancer's serviceId for this connection, or
// nil outside load-balanced mode (spec.md §4.4 per-service generations).
func (c *Connection) ServiceID() *[12]byte { return c.serviceID }

// Close closes the underlying stream. Idempotent.
func (c *Connection) Close() error {
	c.dead = true
	return c.nc.Close()
}

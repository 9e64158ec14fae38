package connection

import (
	"context"
	"crypto/tls"
	"net"
	"time"

	"github.com/corekv/docdriver/auth"
	"github.com/corekv/docdriver/wiremessage"
)

// Dialer is used to make network connections, matching the teacher's
// core/connection.Dialer so a caller can substitute a custom transport
// (the TLS/SRV/DNS stack is an excluded collaborator; this is the seam it
// plugs into).
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// DefaultDialer is the Dialer used when none is supplied via WithDialer.
var DefaultDialer Dialer = &net.Dialer{}

type config struct {
	appName          string
	compressors      []wiremessage.CompressorID
	credential       *auth.Credential
	dialer           Dialer
	tlsConfig        *tls.Config
	idleTimeout      time.Duration
	lifetimeTimeout  time.Duration
	readTimeout      time.Duration
	writeTimeout     time.Duration
	handshakeTimeout time.Duration
}

// Option configures a Connection at construction (teacher idiom:
// functional options, e.g. mongo/options).
type Option func(*config)

func newConfig(opts ...Option) *config {
	cfg := &config{
		dialer:           DefaultDialer,
		handshakeTimeout: 10 * time.Second,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}

func WithAppName(name string) Option {
	return func(c *config) { c.appName = name }
}

func WithCompressors(ids ...wiremessage.CompressorID) Option {
	return func(c *config) { c.compressors = ids }
}

func WithCredential(cred auth.Credential) Option {
	return func(c *config) { c.credential = &cred }
}

func WithDialer(d Dialer) Option {
	return func(c *config) { c.dialer = d }
}

func WithTLSConfig(t *tls.Config) Option {
	return func(c *config) { c.tlsConfig = t }
}

func WithIdleTimeout(d time.Duration) Option {
	return func(c *config) { c.idleTimeout = d }
}

func WithLifetimeTimeout(d time.Duration) Option {
	return func(c *config) { c.lifetimeTimeout = d }
}

func WithReadTimeout(d time.Duration) Option {
	return func(c *config) { c.readTimeout = d }
}

func WithWriteTimeout(d time.Duration) Option {
	return func(c *config) { c.writeTimeout = d }
}

func WithHandshakeTimeout(d time.Duration) Option {
	return func(c *config) { c.handshakeTimeout = d }
}

// Package topology implements spec.md components D (Pool), E (Monitor), and
// F (Topology): the per-server connection pool, the heartbeat loop that
// keeps description.Server snapshots fresh, and the single-writer loop that
// folds them into a description.Topology and serves SelectServer. Grounded
// on the teacher's x/mongo/driver/topology/server.go (Server/heartbeat/RTT
// EWMA/subscriber channels) and x/mongo/driverlegacy/topology/server.go
// (the semaphore.Weighted connection cap this package generalizes into the
// Pool's maxConnecting bound), with the Topology update loop grounded on
// muendelezaji-mongo-go-driver's x/mongo/driver/topology/topology.go
// (apply/diff/subscriber-fanout shape), folding server descriptions via
// the already-implemented description.Topology.ApplyServer.
package topology

import (
	"time"

	"github.com/corekv/docdriver/connection"
	"github.com/corekv/docdriver/description"
	"github.com/corekv/docdriver/event"
)

const (
	defaultMaxPoolSize        = 100
	defaultMinPoolSize        = 0
	defaultMaxConnecting      = 2
	defaultMaintainInterval   = 500 * time.Millisecond
	defaultHeartbeatInterval  = 10 * time.Second
	defaultHeartbeatTimeout   = 10 * time.Second
	defaultLocalThreshold     = description.DefaultLocalThreshold
	defaultServerSelectionTMO = 30 * time.Second
)

// poolConfig configures a single server's connection Pool.
type poolConfig struct {
	maxPoolSize      uint64
	minPoolSize      uint64
	maxConnecting    int64
	maxIdleTime      time.Duration
	maintainInterval time.Duration
	connectionOpts   []connection.Option
	commandMonitor   event.CommandMonitor
	poolMonitor      event.PoolMonitor
}

// serverConfig configures a Server (its Pool plus its Monitor).
type serverConfig struct {
	pool              *poolConfig
	heartbeatInterval time.Duration
	heartbeatTimeout  time.Duration
	appName                 string
	sdamMonitor             event.SDAMMonitor
	heartbeatConnectionOpts []connection.Option
}

// ServerOption configures a Server/Pool pair at construction.
type ServerOption func(*serverConfig)

func newServerConfig(opts ...ServerOption) *serverConfig {
	cfg := &serverConfig{
		pool: &poolConfig{
			maxPoolSize:      defaultMaxPoolSize,
			minPoolSize:      defaultMinPoolSize,
			maxConnecting:    defaultMaxConnecting,
			maintainInterval: defaultMaintainInterval,
		},
		heartbeatInterval: defaultHeartbeatInterval,
		heartbeatTimeout:  defaultHeartbeatTimeout,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}

func WithMaxPoolSize(n uint64) ServerOption {
	return func(c *serverConfig) { c.pool.maxPoolSize = n }
}

func WithMinPoolSize(n uint64) ServerOption {
	return func(c *serverConfig) { c.pool.minPoolSize = n }
}

func WithMaxConnecting(n int64) ServerOption {
	return func(c *serverConfig) { c.pool.maxConnecting = n }
}

func WithMaxIdleTime(d time.Duration) ServerOption {
	return func(c *serverConfig) { c.pool.maxIdleTime = d }
}

func WithConnectionOptions(opts ...connection.Option) ServerOption {
	return func(c *serverConfig) { c.pool.connectionOpts = append(c.pool.connectionOpts, opts...) }
}

func WithCommandMonitor(m event.CommandMonitor) ServerOption {
	return func(c *serverConfig) { c.pool.commandMonitor = m }
}

func WithPoolMonitor(m event.PoolMonitor) ServerOption {
	return func(c *serverConfig) { c.pool.poolMonitor = m }
}

func WithSDAMMonitor(m event.SDAMMonitor) ServerOption {
	return func(c *serverConfig) { c.sdamMonitor = m }
}

func WithHeartbeatInterval(d time.Duration) ServerOption {
	return func(c *serverConfig) { c.heartbeatInterval = d }
}

func WithHeartbeatTimeout(d time.Duration) ServerOption {
	return func(c *serverConfig) { c.heartbeatTimeout = d }
}

func WithServerAppName(name string) ServerOption {
	return func(c *serverConfig) { c.appName = name }
}

// WithHeartbeatConnectionOptions sets the connection.Options used for the
// dedicated monitoring connection (spec.md §4.5). These are kept separate
// from WithConnectionOptions so a credential used for application traffic
// is never also attempted on the heartbeat connection (the teacher's
// heartbeat() deliberately swaps in "a basic handshaker ... to make sure we
// don't do auth").
func WithHeartbeatConnectionOptions(opts ...connection.Option) ServerOption {
	return func(c *serverConfig) { c.heartbeatConnectionOpts = append(c.heartbeatConnectionOpts, opts...) }
}

// topologyConfig configures a Topology.
type topologyConfig struct {
	seedList               []string
	replicaSetName         string
	directConnection       bool
	loadBalanced           bool
	localThreshold         time.Duration
	serverSelectionTimeout time.Duration
	serverOpts             []ServerOption
	sdamMonitor            event.SDAMMonitor
}

// Option configures a Topology at construction.
type Option func(*topologyConfig)

func newTopologyConfig(opts ...Option) *topologyConfig {
	cfg := &topologyConfig{
		localThreshold:         defaultLocalThreshold,
		serverSelectionTimeout: defaultServerSelectionTMO,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}

func WithSeedList(addrs ...string) Option {
	return func(c *topologyConfig) { c.seedList = addrs }
}

func WithReplicaSetName(name string) Option {
	return func(c *topologyConfig) { c.replicaSetName = name }
}

func WithDirectConnection(direct bool) Option {
	return func(c *topologyConfig) { c.directConnection = direct }
}

func WithLoadBalanced(lb bool) Option {
	return func(c *topologyConfig) { c.loadBalanced = lb }
}

func WithLocalThreshold(d time.Duration) Option {
	return func(c *topologyConfig) { c.localThreshold = d }
}

func WithServerSelectionTimeout(d time.Duration) Option {
	return func(c *topologyConfig) { c.serverSelectionTimeout = d }
}

func WithServerOptions(opts ...ServerOption) Option {
	return func(c *topologyConfig) { c.serverOpts = append(c.serverOpts, opts...) }
}

func WithTopologySDAMMonitor(m event.SDAMMonitor) Option {
	return func(c *topologyConfig) { c.sdamMonitor = m }
}

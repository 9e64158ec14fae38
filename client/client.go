// Package client is the driver's top-level glue: it wires
// internal/config's settings into a topology.Topology and a
// session.Pool, exposes the event monitors to internal/metrics and
// internal/admin, and hands out Database/Collection handles over the
// operation/cursor/changestream layers underneath. Grounded on the
// teacher's mongo/client.go (the Connect/Disconnect lifecycle and
// Database accessor) with the monitor wiring and admin server lifecycle
// adapted from JeelKantaria-db-bouncer's proxy startup/shutdown path.
package client

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"time"

	"go.mongodb.org/mongo-driver/v2/x/bsonx/bsoncore"

	"github.com/corekv/docdriver/auth"
	"github.com/corekv/docdriver/connection"
	"github.com/corekv/docdriver/description"
	"github.com/corekv/docdriver/event"
	"github.com/corekv/docdriver/internal/admin"
	"github.com/corekv/docdriver/internal/config"
	"github.com/corekv/docdriver/internal/metrics"
	"github.com/corekv/docdriver/operation"
	"github.com/corekv/docdriver/session"
	"github.com/corekv/docdriver/topology"
)

// Client is a connected handle onto a deployment: one Topology, one
// session.Pool, and the ambient metrics/admin surface built around them.
type Client struct {
	cfg      *config.Config
	topo     *topology.Topology
	sessPool *session.Pool
	metrics  *metrics.Collector
	admin    *admin.Server
}

// Connect builds a Client from cfg and starts its Topology's monitoring
// goroutines (spec.md §4.6). The returned Client is ready for use as soon
// as Connect returns; operations block on server selection until a usable
// server description arrives.
func Connect(cfg *config.Config) (*Client, error) {
	c := &Client{cfg: cfg, metrics: metrics.New()}

	connOpts, err := connectionOptions(cfg)
	if err != nil {
		return nil, err
	}

	serverOpts := []topology.ServerOption{
		topology.WithMaxPoolSize(cfg.Pool.MaxPoolSize),
		topology.WithMinPoolSize(cfg.Pool.MinPoolSize),
		topology.WithMaxConnecting(cfg.Pool.MaxConnecting),
		topology.WithMaxIdleTime(cfg.Pool.MaxIdleTime),
		topology.WithConnectionOptions(connOpts...),
		topology.WithServerAppName(cfg.AppName),
		topology.WithHeartbeatInterval(cfg.HeartbeatInterval),
		topology.WithPoolMonitor(poolMonitor(c.metrics)),
		topology.WithCommandMonitor(commandMonitor(c.metrics)),
		topology.WithSDAMMonitor(sdamMonitor(c.metrics)),
	}

	topo, err := topology.New(
		topology.WithSeedList(cfg.Hosts...),
		topology.WithReplicaSetName(cfg.ReplicaSet),
		topology.WithDirectConnection(cfg.DirectConnection),
		topology.WithLoadBalanced(cfg.LoadBalanced),
		topology.WithLocalThreshold(cfg.LocalThreshold),
		topology.WithServerSelectionTimeout(cfg.ServerSelectionTimeout),
		topology.WithServerOptions(serverOpts...),
		topology.WithTopologySDAMMonitor(sdamMonitor(c.metrics)),
	)
	if err != nil {
		return nil, fmt.Errorf("client: building topology: %w", err)
	}
	if err := topo.Connect(); err != nil {
		return nil, fmt.Errorf("client: connecting topology: %w", err)
	}
	c.topo = topo
	c.sessPool = session.NewPool(30 * time.Minute)

	if cfg.Admin.Enabled {
		c.admin = admin.New(topo.Description, c.metrics)
		if err := c.admin.Start(cfg.Admin.Bind); err != nil {
			topo.Disconnect(context.Background())
			return nil, fmt.Errorf("client: starting admin server: %w", err)
		}
	}

	return c, nil
}

// connectionOptions translates cfg's Auth/TLS settings into the
// connection.Option slice every server's Pool dials with.
func connectionOptions(cfg *config.Config) ([]connection.Option, error) {
	opts := []connection.Option{
		connection.WithAppName(cfg.AppName),
	}

	if cfg.Auth.Username != "" {
		opts = append(opts, connection.WithCredential(auth.Credential{
			Username:  cfg.Auth.Username,
			Password:  cfg.Auth.Password,
			Source:    cfg.Auth.Source,
			Mechanism: cfg.Auth.Mechanism,
		}))
	}

	if cfg.TLS.Enabled {
		tlsCfg, err := buildTLSConfig(cfg.TLS)
		if err != nil {
			return nil, fmt.Errorf("client: building TLS config: %w", err)
		}
		opts = append(opts, connection.WithTLSConfig(tlsCfg))
	}

	return opts, nil
}

func buildTLSConfig(cfg config.TLS) (*tls.Config, error) {
	tlsCfg := &tls.Config{InsecureSkipVerify: cfg.Insecure}

	if cfg.CAFile != "" {
		pem, err := os.ReadFile(cfg.CAFile)
		if err != nil {
			return nil, fmt.Errorf("reading ca_file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("ca_file %s contained no usable certificates", cfg.CAFile)
		}
		tlsCfg.RootCAs = pool
	}

	if cfg.CertFile != "" && cfg.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("loading client certificate: %w", err)
		}
		tlsCfg.Certificates = []tls.Certificate{cert}
	}

	return tlsCfg, nil
}

// metricsPoolMonitor, metricsCommandMonitor, and metricsSDAMMonitor adapt
// internal/metrics.Collector onto the event package's monitor interfaces,
// the seam every Pool/Connection/Topology already calls through.
type metricsPoolMonitor struct{ m *metrics.Collector }

func (a metricsPoolMonitor) Pool(evt event.PoolEvent) {
	if evt.Type == "cleared" {
		a.m.PoolCleared(evt.Address)
	}
}
func (a metricsPoolMonitor) Connection(event.ConnectionEvent)   {}
func (a metricsPoolMonitor) CheckOut(evt event.CheckOutEvent) {
	if evt.Type == "checkedOut" {
		a.m.CheckOutDuration(evt.Address, evt.Duration)
	}
}

func poolMonitor(m *metrics.Collector) event.PoolMonitor { return metricsPoolMonitor{m: m} }

type metricsCommandMonitor struct{ m *metrics.Collector }

func (a metricsCommandMonitor) Started(event.CommandStartedEvent) {}
func (a metricsCommandMonitor) Succeeded(evt event.CommandSucceededEvent) {
	a.m.CommandCompleted(evt.CommandName, evt.Duration, "")
}
func (a metricsCommandMonitor) Failed(evt event.CommandFailedEvent) {
	a.m.CommandCompleted(evt.CommandName, evt.Duration, "network")
}

func commandMonitor(m *metrics.Collector) event.CommandMonitor { return metricsCommandMonitor{m: m} }

type metricsSDAMMonitor struct{ m *metrics.Collector }

func (a metricsSDAMMonitor) ServerDescriptionChanged(evt event.ServerChangedEvent) {
	if srv, ok := evt.New.(description.Server); ok {
		a.m.SetServerType(evt.Address, srv.Kind.String())
	}
}
func (a metricsSDAMMonitor) ServerOpening(event.ServerOpeningEvent) {}
func (a metricsSDAMMonitor) ServerClosed(evt event.ServerClosedEvent) {
	a.m.RemoveServer(evt.Address)
}
func (a metricsSDAMMonitor) TopologyDescriptionChanged(event.TopologyChangedEvent) {}
func (a metricsSDAMMonitor) TopologyOpening(event.TopologyOpeningEvent)            {}
func (a metricsSDAMMonitor) TopologyClosed(event.TopologyClosedEvent)              {}
func (a metricsSDAMMonitor) ServerHeartbeatStarted(event.ServerHeartbeatStartedEvent) {}
func (a metricsSDAMMonitor) ServerHeartbeatSucceeded(evt event.ServerHeartbeatSucceededEvent) {
	a.m.HeartbeatCompleted(evt.Address, evt.Duration, true)
}
func (a metricsSDAMMonitor) ServerHeartbeatFailed(evt event.ServerHeartbeatFailedEvent) {
	a.m.HeartbeatCompleted(evt.Address, evt.Duration, false)
}

func sdamMonitor(m *metrics.Collector) event.SDAMMonitor { return metricsSDAMMonitor{m: m} }

// Disconnect ends every outstanding server session (spec.md §4.8's
// endSessions admin command), stops the admin server, and tears the
// Topology's monitoring goroutines down.
func (c *Client) Disconnect(ctx context.Context) error {
	if c.admin != nil {
		if err := c.admin.Stop(ctx); err != nil {
			return err
		}
	}

	if c.sessPool != nil {
		if ids := c.sessPool.Drain(); len(ids) > 0 {
			docs := make([]bsoncore.Document, len(ids))
			for i, s := range ids {
				docs[i] = s.ID
			}
			op := &operation.EndSessions{IDs: docs}
			_ = op.Execute(ctx, c.topo)
		}
	}

	return c.topo.Disconnect(ctx)
}

// Database returns a handle to the named database. No network round trip
// occurs until an operation is run against it.
func (c *Client) Database(name string) *Database {
	return &Database{client: c, name: name}
}

// StartSession checks an explicit ClientSession out of the session pool
// (spec.md §4.8); the caller must call EndSession when done.
func (c *Client) StartSession() *Session {
	return &Session{
		client: c,
		cs:     session.NewClientSession(c.sessPool, false),
	}
}

// Ping runs {ping: 1} against a selectable server, the cheapest possible
// round trip to confirm the deployment is reachable.
func (c *Client) Ping(ctx context.Context, rp description.ReadPref) error {
	idx, cmd := bsoncore.AppendDocumentStart(nil)
	cmd = bsoncore.AppendInt32Element(cmd, "ping", 1)
	cmd, _ = bsoncore.AppendDocumentEnd(cmd, idx)

	op := &operation.RunCommand{Database: "admin", Command: cmd, ReadPreference: rp}
	return op.Execute(ctx, c.topo, c.sessPool)
}

// Topology exposes the underlying topology for the admin/metrics surface
// and for tests; not intended for application command execution.
func (c *Client) Topology() *topology.Topology { return c.topo }

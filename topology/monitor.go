package topology

import (
	"context"
	"sync"
	"time"

	"github.com/corekv/docdriver/address"
	"github.com/corekv/docdriver/connection"
	"github.com/corekv/docdriver/description"
	"github.com/corekv/docdriver/event"
)

// minHeartbeatInterval rate-limits RequestImmediateCheck so a flurry of
// application errors can't drive the heartbeat loop into a busy spin,
// matching the teacher's topology.Server.
const minHeartbeatInterval = 500 * time.Millisecond

// Monitor is spec.md component E: a dedicated, non-pooled connection that
// periodically sends hello and publishes the resulting description.Server,
// generalized from the teacher's Server.heartbeat/Server.update into a
// standalone type the Server wraps. Streaming ("awaitable") hello and
// connection reuse across heartbeats are not implemented; every heartbeat
// dials a fresh monitoring connection (whose own hello handshake is the
// heartbeat itself) and closes it once the reply is in hand, a deliberate
// simplification recorded in DESIGN.md.
type Monitor struct {
	address address.Address
	cfg     *serverConfig
	sdam    event.SDAMMonitor

	checkNow chan struct{}
	done     chan struct{}

	mu            sync.Mutex
	averageRTT    time.Duration
	averageRTTSet bool

	updates chan description.Server
	wg      sync.WaitGroup
}

func newMonitor(addr address.Address, cfg *serverConfig) *Monitor {
	return &Monitor{
		address:  addr,
		cfg:      cfg,
		sdam:     cfg.sdamMonitor,
		checkNow: make(chan struct{}, 1),
		done:     make(chan struct{}),
		updates:  make(chan description.Server, 1),
	}
}

// start launches the heartbeat loop. The first heartbeat runs synchronously
// so the caller has an initial description.Server before returning.
func (m *Monitor) start() description.Server {
	desc := m.heartbeat(context.Background())
	m.publish(desc)
	m.wg.Add(1)
	go m.loop()
	return desc
}

func (m *Monitor) loop() {
	defer m.wg.Done()
	interval := m.cfg.heartbeatInterval
	if interval <= 0 {
		interval = defaultHeartbeatInterval
	}
	ticker := time.NewTicker(interval)
	rateLimiter := time.NewTicker(minHeartbeatInterval)
	defer ticker.Stop()
	defer rateLimiter.Stop()

	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
		case <-m.checkNow:
			select {
			case <-rateLimiter.C:
			case <-m.done:
				return
			}
		}

		m.publish(m.heartbeat(context.Background()))
	}
}

// heartbeat dials a fresh monitoring connection; its own hello handshake
// is the heartbeat, and the resulting description.Server's RTT feeds the
// EWMA average (spec.md §4.5).
func (m *Monitor) heartbeat(ctx context.Context) description.Server {
	m.emitHeartbeatStarted()
	started := time.Now()

	hbCtx := ctx
	var cancel context.CancelFunc
	if m.cfg.heartbeatTimeout > 0 {
		hbCtx, cancel = context.WithTimeout(ctx, m.cfg.heartbeatTimeout)
		defer cancel()
	}
	c, err := connection.Connect(hbCtx, m.address, 0, nil, m.cfg.heartbeatConnectionOpts...)
	if err != nil {
		m.emitHeartbeatFailed(time.Since(started), err)
		return description.NewServerFromError(m.address, err, nil)
	}
	defer c.Close()

	rtt := time.Since(started)
	m.emitHeartbeatSucceeded(rtt)
	desc := c.Description()
	desc.AverageRTT = m.updateAverageRTT(rtt)
	desc.AverageRTTSet = true
	return desc
}

func (m *Monitor) updateAverageRTT(delay time.Duration) time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.averageRTTSet {
		m.averageRTT = delay
		m.averageRTTSet = true
	} else {
		const alpha = 0.2
		m.averageRTT = time.Duration(alpha*float64(delay) + (1-alpha)*float64(m.averageRTT))
	}
	return m.averageRTT
}

func (m *Monitor) publish(desc description.Server) {
	select {
	case <-m.updates:
	default:
	}
	m.updates <- desc
}

// requestImmediateCheck asks the loop to heartbeat now instead of waiting
// for the ticker, rate-limited to minHeartbeatInterval (spec.md §4.6, used
// after an SDAM error to rediscover a primary quickly).
func (m *Monitor) requestImmediateCheck() {
	select {
	case m.checkNow <- struct{}{}:
	default:
	}
}

func (m *Monitor) stop() {
	close(m.done)
	m.wg.Wait()
}

func (m *Monitor) emitHeartbeatStarted() {
	if m.sdam == nil {
		return
	}
	m.sdam.ServerHeartbeatStarted(event.ServerHeartbeatStartedEvent{Address: m.address.String()})
}

func (m *Monitor) emitHeartbeatSucceeded(d time.Duration) {
	if m.sdam == nil {
		return
	}
	m.sdam.ServerHeartbeatSucceeded(event.ServerHeartbeatSucceededEvent{Address: m.address.String(), Duration: d})
}

func (m *Monitor) emitHeartbeatFailed(d time.Duration, err error) {
	if m.sdam == nil {
		return
	}
	m.sdam.ServerHeartbeatFailed(event.ServerHeartbeatFailedEvent{Address: m.address.String(), Duration: d, Failure: err})
}

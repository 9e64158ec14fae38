// Package admin exposes a small debug HTTP server for /healthz and
// /metrics. Grounded on JeelKantaria-db-bouncer's internal/api/server.go
// (a gorilla/mux Server wrapping an http.Server, started/stopped
// alongside the rest of the process) and internal/health/checker.go's
// Status enum, retargeted from per-tenant TCP probes onto this driver's
// own topology snapshot: health here means "SelectServer would succeed
// against a usable server", not a protocol-level ping.
package admin

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"runtime"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/corekv/docdriver/description"
	"github.com/corekv/docdriver/internal/metrics"
)

// Status mirrors spec.md §8's health classification of a deployment.
type Status int

const (
	StatusUnknown Status = iota
	StatusHealthy
	StatusUnhealthy
)

func (s Status) String() string {
	switch s {
	case StatusHealthy:
		return "healthy"
	case StatusUnhealthy:
		return "unhealthy"
	default:
		return "unknown"
	}
}

// TopologySnapshot is the subset of topology.Topology the server needs;
// satisfied by (*topology.Topology).Description, kept as an interface so
// this package doesn't import topology and risk a cycle back through
// client.
type TopologySnapshot func() description.Topology

// Server is the driver's debug HTTP server.
type Server struct {
	snapshot   TopologySnapshot
	metrics    *metrics.Collector
	httpServer *http.Server
	startTime  time.Time
}

// New constructs a Server. snapshot is polled fresh on every /healthz
// request; m may be nil to disable /metrics.
func New(snapshot TopologySnapshot, m *metrics.Collector) *Server {
	return &Server{snapshot: snapshot, metrics: m, startTime: time.Now()}
}

// Start begins serving on bind (host:port) in the background.
func (s *Server) Start(bind string) error {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", s.healthHandler).Methods(http.MethodGet)
	r.HandleFunc("/status", s.statusHandler).Methods(http.MethodGet)
	if s.metrics != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.metrics.Registry, promhttp.HandlerOpts{}))
	}

	s.httpServer = &http.Server{
		Addr:         bind,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	ln, err := net.Listen("tcp", bind)
	if err != nil {
		return fmt.Errorf("admin: listen on %s: %w", bind, err)
	}
	go s.httpServer.Serve(ln)
	return nil
}

// Stop gracefully shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) status() (Status, description.Topology) {
	desc := s.snapshot()
	if desc.HasCompatibilityError() {
		return StatusUnhealthy, desc
	}
	for _, srv := range desc.Servers {
		if srv.Kind != description.Unknown {
			return StatusHealthy, desc
		}
	}
	if len(desc.Servers) == 0 {
		return StatusUnknown, desc
	}
	return StatusUnhealthy, desc
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	status, desc := s.status()

	code := http.StatusOK
	if status == StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}

	servers := make(map[string]string, len(desc.Servers))
	for addr, srv := range desc.Servers {
		servers[string(addr)] = srv.Kind.String()
	}

	writeJSON(w, code, map[string]interface{}{
		"status":       status.String(),
		"topologyKind": desc.Kind.String(),
		"servers":      servers,
	})
}

func (s *Server) statusHandler(w http.ResponseWriter, r *http.Request) {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"uptime_seconds": int(time.Since(s.startTime).Seconds()),
		"go_version":     runtime.Version(),
		"goroutines":     runtime.NumGoroutine(),
		"memory_mb":      float64(mem.Alloc) / 1024 / 1024,
	})
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

package client

import (
	"testing"
	"time"

	"github.com/corekv/docdriver/event"
	"github.com/corekv/docdriver/internal/config"
	"github.com/corekv/docdriver/internal/metrics"
)

func TestConnectionOptionsOmitsCredentialWithoutUsername(t *testing.T) {
	cfg := &config.Config{Hosts: []string{"localhost:27017"}, AppName: "widgets"}
	opts, err := connectionOptions(cfg)
	if err != nil {
		t.Fatalf("connectionOptions: %v", err)
	}
	if len(opts) != 1 {
		t.Fatalf("expected only the app name option with no credential configured, got %d", len(opts))
	}
}

func TestConnectionOptionsAddsCredentialWithUsername(t *testing.T) {
	cfg := &config.Config{
		Hosts: []string{"localhost:27017"},
		Auth:  config.Auth{Username: "app", Password: "hunter2", Source: "admin"},
	}
	opts, err := connectionOptions(cfg)
	if err != nil {
		t.Fatalf("connectionOptions: %v", err)
	}
	if len(opts) != 2 {
		t.Fatalf("expected an app name option plus a credential option, got %d", len(opts))
	}
}

func TestBuildTLSConfigRejectsMissingCAFile(t *testing.T) {
	_, err := buildTLSConfig(config.TLS{Enabled: true, CAFile: "/nonexistent/ca.pem"})
	if err == nil {
		t.Fatal("expected an error for a missing CA file")
	}
}

func TestBuildTLSConfigHonorsInsecureSkipVerify(t *testing.T) {
	tlsCfg, err := buildTLSConfig(config.TLS{Enabled: true, Insecure: true})
	if err != nil {
		t.Fatalf("buildTLSConfig: %v", err)
	}
	if !tlsCfg.InsecureSkipVerify {
		t.Fatal("expected InsecureSkipVerify to carry through")
	}
}

func TestMetricsPoolMonitorRecordsClearedEvents(t *testing.T) {
	c := metrics.New()
	m := poolMonitor(c)
	m.Pool(event.PoolEvent{Address: "localhost:27017", Type: "cleared"})

	mfs, err := c.Registry.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	var found bool
	for _, mf := range mfs {
		if mf.GetName() == "docdriver_pool_cleared_total" {
			for _, metric := range mf.GetMetric() {
				if metric.GetCounter().GetValue() == 1 {
					found = true
				}
			}
		}
	}
	if !found {
		t.Fatal("expected PoolCleared to have incremented the cleared counter")
	}
}

func TestMetricsCommandMonitorClassifiesFailures(t *testing.T) {
	c := metrics.New()
	m := commandMonitor(c)
	m.Succeeded(event.CommandSucceededEvent{CommandName: "find", Duration: time.Millisecond})
	m.Failed(event.CommandFailedEvent{CommandName: "find", Duration: time.Millisecond})

	mfs, _ := c.Registry.Gather()
	var errCount float64
	for _, mf := range mfs {
		if mf.GetName() == "docdriver_command_errors_total" {
			for _, metric := range mf.GetMetric() {
				errCount += metric.GetCounter().GetValue()
			}
		}
	}
	if errCount != 1 {
		t.Fatalf("expected exactly one recorded command error, got %v", errCount)
	}
}

func TestMetricsSDAMMonitorIgnoresNonServerDescriptionPayloads(t *testing.T) {
	c := metrics.New()
	m := sdamMonitor(c)
	// New is documented as carrying a description.Server; a monitor that
	// receives anything else (or a zero value from an untyped caller)
	// must not panic.
	m.ServerDescriptionChanged(event.ServerChangedEvent{Address: "localhost:27017", New: "not-a-server"})
}

package admin

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/corekv/docdriver/address"
	"github.com/corekv/docdriver/description"
)

func TestHealthHandlerReportsUnknownWithNoServers(t *testing.T) {
	s := New(func() description.Topology { return description.NewUnknownTopology() }, nil)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	s.healthHandler(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 for an unknown (not yet unhealthy) topology, got %d", w.Code)
	}
	var body map[string]interface{}
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decoding body: %v", err)
	}
	if body["status"] != "unknown" {
		t.Fatalf("expected status unknown, got %v", body["status"])
	}
}

func TestHealthHandlerReportsHealthyWithAKnownServer(t *testing.T) {
	desc := description.NewUnknownTopology()
	desc.Kind = description.Single
	desc.Servers = map[address.Address]description.Server{
		"localhost:27017": {Addr: "localhost:27017", Kind: description.Standalone},
	}
	s := New(func() description.Topology { return desc }, nil)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	s.healthHandler(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var body map[string]interface{}
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decoding body: %v", err)
	}
	if body["status"] != "healthy" {
		t.Fatalf("expected status healthy, got %v", body["status"])
	}
}

func TestHealthHandlerReportsUnhealthyWhenEveryServerIsUnknown(t *testing.T) {
	desc := description.NewUnknownTopology()
	desc.Servers = map[address.Address]description.Server{
		"localhost:27017": {Addr: "localhost:27017", Kind: description.Unknown},
	}
	s := New(func() description.Topology { return desc }, nil)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	s.healthHandler(w, req)

	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", w.Code)
	}
}

func TestStatusHandlerReturnsProcessInfo(t *testing.T) {
	s := New(func() description.Topology { return description.NewUnknownTopology() }, nil)

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	w := httptest.NewRecorder()
	s.statusHandler(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var body map[string]interface{}
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decoding body: %v", err)
	}
	if _, ok := body["go_version"]; !ok {
		t.Fatal("expected a go_version field")
	}
}

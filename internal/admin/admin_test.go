package admin

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/danmuck/replica/internal/backend"
	"github.com/danmuck/replica/internal/server"
	"github.com/danmuck/replica/internal/testutil/testlog"
)

func get(t *testing.T, a *Admin, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rr := httptest.NewRecorder()
	a.Router().ServeHTTP(rr, req)
	return rr
}

func TestReadyWaitsForFirstStep(t *testing.T) {
	testlog.Start(t)
	a := New("replicad", ":0", nil, nil)

	if rr := get(t, a, "/health"); rr.Code != http.StatusOK {
		t.Fatalf("health: got %d", rr.Code)
	}
	if rr := get(t, a, "/ready"); rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 before first step, got %d", rr.Code)
	}
	a.Board().Publish(nil)
	if rr := get(t, a, "/ready"); rr.Code != http.StatusOK {
		t.Fatalf("expected 200 after first step, got %d body=%s", rr.Code, rr.Body.String())
	}
}

func TestClientsReflectLatestSnapshot(t *testing.T) {
	testlog.Start(t)
	board := NewBoard()
	a := New("replicad", ":0", nil, board)

	id := backend.NewClientID()
	board.Publish([]server.ClientSnapshot{{ID: backend.NewClientID()}})
	board.Publish([]server.ClientSnapshot{{
		ID:         id,
		Authorized: true,
		UpdateTick: 42,
		Entities:   3,
		Stats:      server.ClientStats{Messages: 7},
	}})

	rr := get(t, a, "/clients")
	if rr.Code != http.StatusOK {
		t.Fatalf("clients: got %d", rr.Code)
	}
	var list struct {
		Count   int                     `json:"count"`
		Clients []server.ClientSnapshot `json:"clients"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &list); err != nil {
		t.Fatalf("decode clients: %v", err)
	}
	if list.Count != 1 || list.Clients[0].ID != id || list.Clients[0].Stats.Messages != 7 {
		t.Fatalf("unexpected clients payload: %+v", list)
	}

	rr = get(t, a, "/clients/"+id.String())
	if rr.Code != http.StatusOK {
		t.Fatalf("client: got %d", rr.Code)
	}
	var one server.ClientSnapshot
	if err := json.Unmarshal(rr.Body.Bytes(), &one); err != nil {
		t.Fatalf("decode client: %v", err)
	}
	if one.UpdateTick != 42 || one.Entities != 3 || !one.Authorized {
		t.Fatalf("unexpected client payload: %+v", one)
	}

	if rr := get(t, a, "/clients/"+backend.NewClientID().String()); rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown client, got %d", rr.Code)
	}
}

func TestMetricsExposeRequests(t *testing.T) {
	testlog.Start(t)
	a := New("replicad-metrics", ":0", nil, nil)
	_ = get(t, a, "/health")

	rr := get(t, a, "/metrics")
	if rr.Code != http.StatusOK {
		t.Fatalf("metrics: got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), `replica_http_requests_total{method="GET",node="replicad-metrics",path="/health",status="200"}`) {
		t.Fatalf("expected request counter in metrics output")
	}
}

func TestMountServesHandler(t *testing.T) {
	testlog.Start(t)
	a := New("replicad", ":0", nil, nil)
	a.Mount("/replica", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	if rr := get(t, a, "/replica"); rr.Code != http.StatusTeapot {
		t.Fatalf("expected mounted handler, got %d", rr.Code)
	}
}

func TestCorsAllowsConfiguredOrigin(t *testing.T) {
	testlog.Start(t)
	a := New("replicad", ":0", []string{"http://dash.local"}, nil)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "http://dash.local")
	rr := httptest.NewRecorder()
	a.Router().ServeHTTP(rr, req)
	if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "http://dash.local" {
		t.Fatalf("expected allowed origin header, got %q", got)
	}
}

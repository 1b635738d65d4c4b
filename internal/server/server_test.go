package server

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/stakeflow/stakeflow/internal/amount"
	"github.com/stakeflow/stakeflow/internal/chain"
	"github.com/stakeflow/stakeflow/internal/config"
	"github.com/stakeflow/stakeflow/internal/logging"
	"github.com/stakeflow/stakeflow/internal/metrics"
	"github.com/stakeflow/stakeflow/internal/notification"
	"github.com/stakeflow/stakeflow/internal/routes"
	"github.com/stakeflow/stakeflow/internal/workflow"
)

var (
	account = common.HexToAddress("0x00000000000000000000000000000000000a11ce")
	adapter = common.HexToAddress("0x000000000000000000000000000000000000ada9")
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	sim := chain.NewSimulated(adapter)
	chain.SeedBalance(sim, account, amount.Units(1000))

	logger := logging.Discard()
	rec := metrics.New()
	feed := notification.NewFeed(50)
	engine, err := workflow.NewEngine(workflow.Deps{
		Ledger:   sim,
		Notifier: notification.Multi{notification.NewLoggerNotifier(logger), feed},
		Metrics:  rec,
		Logger:   logger,
	}, workflow.DefaultOptions())
	if err != nil {
		t.Fatalf("engine: %v", err)
	}
	t.Cleanup(engine.Close)

	srv, err := New(routes.Deps{
		Cfg:     config.Config{AppName: "test", AppEnv: "test", SubmitRateLimit: 10},
		Logger:  logger,
		Ledger:  sim,
		Engine:  engine,
		Feed:    feed,
		Metrics: rec,
	})
	if err != nil {
		t.Fatalf("server: %v", err)
	}
	return srv
}

func call(t *testing.T, srv *Server, method, path, body string) (int, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := srv.App().Test(req, -1)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	var decoded map[string]any
	if len(raw) > 0 && strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		if err := json.Unmarshal(raw, &decoded); err != nil {
			t.Fatalf("decode %s: %v", raw, err)
		}
	}
	return resp.StatusCode, decoded
}

func TestSetupRequiresBackingServicesOutsideDev(t *testing.T) {
	sim := chain.NewSimulated(adapter)
	engine, err := workflow.NewEngine(workflow.Deps{Ledger: sim, Logger: logging.Discard()}, workflow.DefaultOptions())
	if err != nil {
		t.Fatalf("engine: %v", err)
	}
	defer engine.Close()

	_, err = New(routes.Deps{Cfg: config.Config{AppEnv: "production"}, Logger: logging.Discard(), Engine: engine})
	if err == nil {
		t.Fatal("expected production setup without postgres to fail")
	}
}

func TestHealthAndPing(t *testing.T) {
	srv := newTestServer(t)

	status, body := call(t, srv, http.MethodGet, "/healthz", "")
	if status != http.StatusOK {
		t.Fatalf("healthz status %d: %v", status, body)
	}
	checks, _ := body["status"].(map[string]any)
	if checks["ledger"] != "ok" {
		t.Fatalf("expected ledger check, got %v", body)
	}

	status, body = call(t, srv, http.MethodGet, "/api/v1/ping", "")
	if status != http.StatusOK || body["request_id"] == "" {
		t.Fatalf("ping: %d %v", status, body)
	}
}

func TestRejectionRendersJSONErrorAndNotification(t *testing.T) {
	srv := newTestServer(t)

	status, _ := call(t, srv, http.MethodPost, "/api/v1/account/connect", `{"address":"`+account.Hex()+`"}`)
	if status != http.StatusOK {
		t.Fatalf("connect status %d", status)
	}

	status, body := call(t, srv, http.MethodPost, "/api/v1/stake", `{"amount":"10"}`)
	if status != http.StatusUnprocessableEntity || body["error"] != "no allowance granted" {
		t.Fatalf("expected rejection, got %d %v", status, body)
	}

	status, body = call(t, srv, http.MethodGet, "/api/v1/notifications", "")
	if status != http.StatusOK {
		t.Fatalf("notifications status %d", status)
	}
	items, _ := body["notifications"].([]any)
	if len(items) != 1 {
		t.Fatalf("expected one notification, got %v", body)
	}
	first, _ := items[0].(map[string]any)
	if first["severity"] != "error" || first["body"] != "no allowance granted" {
		t.Fatalf("unexpected notification %v", first)
	}

	status, body = call(t, srv, http.MethodGet, "/api/v1/transactions?limit=500", "")
	if status != http.StatusBadRequest {
		t.Fatalf("expected bad limit to fail, got %d %v", status, body)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	srv := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	resp, err := srv.App().Test(req, -1)
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(raw), "go_goroutines") {
		t.Fatalf("unexpected metrics response %d", resp.StatusCode)
	}
}

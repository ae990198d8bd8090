package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-desktop/strategy-eval/internal/dataprovider"
	"github.com/atlas-desktop/strategy-eval/internal/evaluator"
	"github.com/atlas-desktop/strategy-eval/internal/strategy"
	"github.com/atlas-desktop/strategy-eval/pkg/types"
)

func newTestServer() *Server {
	logger := zap.NewNop()
	provider := dataprovider.NewSyntheticProvider(logger, 42)
	registry := strategy.NewRegistry(logger)
	eval := evaluator.NewEvaluator(logger, provider, 2)

	return NewServer(logger, &types.ServerConfig{
		Host: "127.0.0.1",
		Port: 0,
	}, provider, registry, eval)
}

func apiConfig() types.BacktestConfig {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	return types.BacktestConfig{
		Symbols:        []string{"BTC/USDT"},
		Timeframe:      types.Timeframe1d,
		StartDate:      start,
		EndDate:        start.AddDate(0, 0, 60),
		InitialCapital: decimal.NewFromInt(10000),
	}
}

func postJSON(t *testing.T, handler http.Handler, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	payload, err := json.Marshal(body)
	if err != nil {
		t.Fatal(err)
	}
	req := httptest.NewRequest("POST", path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestHealthEndpoint(t *testing.T) {
	server := newTestServer()

	req := httptest.NewRequest("GET", "/api/v1/health", nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["status"] != "healthy" {
		t.Fatalf("body = %v", body)
	}
}

func TestListStrategies(t *testing.T) {
	server := newTestServer()

	req := httptest.NewRequest("GET", "/api/v1/strategies", nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body struct {
		Strategies []struct {
			Name       string                `json:"name"`
			Parameters []types.ParameterSpec `json:"parameters"`
		} `json:"strategies"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Strategies) != 3 {
		t.Fatalf("strategies = %d, want the 3 builtins", len(body.Strategies))
	}
	for _, s := range body.Strategies {
		if len(s.Parameters) == 0 {
			t.Errorf("strategy %q has no parameter schema", s.Name)
		}
	}
}

func TestListSymbols(t *testing.T) {
	server := newTestServer()

	req := httptest.NewRequest("GET", "/api/v1/symbols", nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body struct {
		Symbols []string `json:"symbols"`
		Count   int      `json:"count"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Count != 3 || len(body.Symbols) != 3 {
		t.Fatalf("symbols = %v count = %d, want the 3 synthetic symbols", body.Symbols, body.Count)
	}
	if body.Symbols[0] != "BTC/USDT" {
		t.Fatalf("symbols = %v, want BTC/USDT first", body.Symbols)
	}
}

func TestGetData(t *testing.T) {
	server := newTestServer()

	req := httptest.NewRequest("GET", "/api/v1/data/BTC-USDT?timeframe=1d&start=2024-01-01T00:00:00Z&end=2024-02-01T00:00:00Z", nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body struct {
		Count int `json:"count"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Count == 0 {
		t.Fatal("no bars returned")
	}
}

func TestRunBacktestLifecycle(t *testing.T) {
	server := newTestServer()

	rec := postJSON(t, server.Handler(), "/api/v1/backtest", map[string]interface{}{
		"strategy": "momentum",
		"config":   apiConfig(),
	})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202: %s", rec.Code, rec.Body.String())
	}

	var accepted struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &accepted); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if accepted.ID == "" {
		t.Fatal("no run id returned")
	}

	// Poll until the background run lands
	deadline := time.Now().Add(5 * time.Second)
	var status string
	for time.Now().Before(deadline) {
		req := httptest.NewRequest("GET", "/api/v1/backtest/"+accepted.ID, nil)
		poll := httptest.NewRecorder()
		server.Handler().ServeHTTP(poll, req)
		if poll.Code != http.StatusOK {
			t.Fatalf("status = %d on poll", poll.Code)
		}
		var body struct {
			Status string `json:"status"`
		}
		if err := json.Unmarshal(poll.Body.Bytes(), &body); err != nil {
			t.Fatalf("decode: %v", err)
		}
		status = body.Status
		if status != string(types.StatusRunning) && status != string(types.StatusConfigured) {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if status != string(types.StatusCompleted) {
		t.Fatalf("final status = %q, want completed", status)
	}

	// Trades are available once the run is complete
	req := httptest.NewRequest("GET", fmt.Sprintf("/api/v1/backtest/%s/trades", accepted.ID), nil)
	trades := httptest.NewRecorder()
	server.Handler().ServeHTTP(trades, req)
	if trades.Code != http.StatusOK {
		t.Fatalf("trades status = %d, want 200", trades.Code)
	}
}

func TestRunBacktestUnknownStrategy(t *testing.T) {
	server := newTestServer()

	rec := postJSON(t, server.Handler(), "/api/v1/backtest", map[string]interface{}{
		"strategy": "astrology",
		"config":   apiConfig(),
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestRunBacktestValidationIssues(t *testing.T) {
	server := newTestServer()

	config := apiConfig()
	config.Symbols = nil
	config.InitialCapital = decimal.Zero

	rec := postJSON(t, server.Handler(), "/api/v1/backtest", map[string]interface{}{
		"strategy": "momentum",
		"config":   config,
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400: %s", rec.Code, rec.Body.String())
	}

	var body struct {
		Issues []types.FieldIssue `json:"issues"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Issues) == 0 {
		t.Fatal("no structured issues in the validation response")
	}
}

func TestGetBacktestNotFound(t *testing.T) {
	server := newTestServer()

	req := httptest.NewRequest("GET", "/api/v1/backtest/ghost", nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestCompareRequiresTwoStrategies(t *testing.T) {
	server := newTestServer()

	rec := postJSON(t, server.Handler(), "/api/v1/compare", map[string]interface{}{
		"strategies": []string{"momentum"},
		"config":     apiConfig(),
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400 for a single strategy", rec.Code)
	}
}

func TestCompareEndpoint(t *testing.T) {
	server := newTestServer()

	rec := postJSON(t, server.Handler(), "/api/v1/compare", map[string]interface{}{
		"strategies": []string{"momentum", "moving_average"},
		"config":     apiConfig(),
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}

	var body struct {
		Best     string `json:"best"`
		Rankings []struct {
			Strategy string `json:"strategy"`
		} `json:"rankings"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Rankings) != 2 {
		t.Fatalf("ranking entries = %d, want 2", len(body.Rankings))
	}
	if body.Best == "" {
		t.Fatal("no best strategy named")
	}
}

func TestMetricsEndpoint(t *testing.T) {
	server := newTestServer()

	// Generate one instrumented request first
	req := httptest.NewRequest("GET", "/api/v1/health", nil)
	server.Handler().ServeHTTP(httptest.NewRecorder(), req)

	req = httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !bytes.Contains(rec.Body.Bytes(), []byte("http_requests_total")) {
		t.Fatal("request counter missing from metrics exposition")
	}
}

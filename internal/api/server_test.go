package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/crypto"

	"AgentFlow/internal/agent"
	"AgentFlow/internal/engine"
	"AgentFlow/internal/history"
	"AgentFlow/internal/session"
)

func staticProvider(state agent.PortfolioState) engine.StateProvider {
	return engine.StateProviderFunc(func(_ context.Context) (agent.PortfolioState, error) {
		return state, nil
	})
}

func newTestServer(t *testing.T) (*Server, history.Store) {
	t.Helper()
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	client, err := session.NewSigningClient(key)
	if err != nil {
		t.Fatalf("create signing client: %v", err)
	}
	manager := session.NewManager(client, session.WithConfirmWait(0))
	store := history.NewMemoryStore()
	eng := engine.New(agent.DefaultConfig(), nil)
	provider := staticProvider(agent.PortfolioState{TotalValueUsd: 1500, LastUpdated: 1700000000})
	return NewServer(":0", eng, provider, store, manager, 30*time.Second), store
}

func TestHandlePortfolio(t *testing.T) {
	server, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/portfolio", nil)
	rec := httptest.NewRecorder()
	server.handlePortfolio(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status code: got %d want %d", rec.Code, http.StatusOK)
	}
	var got agent.PortfolioState
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if got.TotalValueUsd != 1500 {
		t.Fatalf("unexpected total value: %f", got.TotalValueUsd)
	}
}

func TestHandleStatus(t *testing.T) {
	server, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/engine/status", nil)
	rec := httptest.NewRecorder()
	server.handleStatus(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status code: got %d want %d", rec.Code, http.StatusOK)
	}
	var got map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if running, _ := got["running"].(bool); running {
		t.Fatal("engine should not be running")
	}
}

func TestHandleRunOnceRejectsGet(t *testing.T) {
	server, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/engine/run", nil)
	rec := httptest.NewRecorder()
	server.handleRunOnce(rec, req)

	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("unexpected status code: got %d want %d", rec.Code, http.StatusMethodNotAllowed)
	}
}

func TestHandleExecutionsFilters(t *testing.T) {
	server, store := newTestServer(t)
	ctx := context.Background()

	seed := []*history.Record{
		{ID: "r1", Strategy: "rebalancer", Action: "rebalance", Amount: "100", Success: true, ExecutedAt: 100, CreatedAt: 100},
		{ID: "r2", Strategy: "yield-optimizer", Action: "swap", Amount: "200", Success: false, ExecutedAt: 200, CreatedAt: 200},
	}
	for _, record := range seed {
		if err := store.Append(ctx, record); err != nil {
			t.Fatalf("append record: %v", err)
		}
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/executions?strategy=rebalancer", nil)
	rec := httptest.NewRecorder()
	server.handleExecutions(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status code: got %d want %d", rec.Code, http.StatusOK)
	}
	var got []*history.Record
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(got) != 1 || got[0].ID != "r1" {
		t.Fatalf("unexpected records: %+v", got)
	}
}

func TestHandleExecutionStats(t *testing.T) {
	server, store := newTestServer(t)
	ctx := context.Background()
	if err := store.Append(ctx, &history.Record{
		ID: "r1", Strategy: "rebalancer", Action: "rebalance",
		Amount: "100", Success: true, ExecutedAt: 100, CreatedAt: 100,
	}); err != nil {
		t.Fatalf("append record: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/executions/stats", nil)
	rec := httptest.NewRecorder()
	server.handleExecutionStats(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status code: got %d want %d", rec.Code, http.StatusOK)
	}
	var got history.Stats
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if got.Total != 1 || got.Succeeded != 1 {
		t.Fatalf("unexpected stats: %+v", got)
	}
}

func TestHandleSessionLifecycle(t *testing.T) {
	server, _ := newTestServer(t)

	// 尚无会话时应返回 404。
	req := httptest.NewRequest(http.MethodGet, "/api/v1/session", nil)
	rec := httptest.NewRecorder()
	server.handleSession(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unexpected status code: got %d want %d", rec.Code, http.StatusNotFound)
	}

	body := strings.NewReader(`{"deposit":"500000000"}`)
	req = httptest.NewRequest(http.MethodPost, "/api/v1/session", body)
	rec = httptest.NewRecorder()
	server.handleSession(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status code: got %d want %d, body %s", rec.Code, http.StatusOK, rec.Body.String())
	}
	var created session.Session
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if created.Status != session.StatusActive {
		t.Fatalf("unexpected session status: %s", created.Status)
	}

	// 已有活跃会话时重复开启应冲突。
	body = strings.NewReader(`{"deposit":"500000000"}`)
	req = httptest.NewRequest(http.MethodPost, "/api/v1/session", body)
	rec = httptest.NewRecorder()
	server.handleSession(rec, req)
	if rec.Code != http.StatusConflict {
		t.Fatalf("unexpected status code: got %d want %d", rec.Code, http.StatusConflict)
	}

	req = httptest.NewRequest(http.MethodPost, "/api/v1/session/settle", nil)
	rec = httptest.NewRecorder()
	server.handleSettle(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status code: got %d want %d, body %s", rec.Code, http.StatusOK, rec.Body.String())
	}

	body = strings.NewReader(`{"deposit":"100"}`)
	req = httptest.NewRequest(http.MethodPost, "/api/v1/session", body)
	rec = httptest.NewRecorder()
	server.handleSession(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("session should reopen after settlement: got %d, body %s", rec.Code, rec.Body.String())
	}
}

func TestHandleSessionRejectsInvalidDeposit(t *testing.T) {
	server, _ := newTestServer(t)

	body := strings.NewReader(`{"deposit":"-5"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/session", body)
	rec := httptest.NewRecorder()
	server.handleSession(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unexpected status code: got %d want %d", rec.Code, http.StatusBadRequest)
	}
}

package agentflow

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestPortfolioDecodesSnapshot(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/portfolio" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		if r.Method != http.MethodGet {
			t.Fatalf("unexpected method: %s", r.Method)
		}
		_ = json.NewEncoder(w).Encode(Portfolio{
			TotalValueUsd: 1500,
			LastUpdated:   1700000000,
		})
	}))
	defer srv.Close()

	client, err := NewClient(srv.URL, srv.Client())
	if err != nil {
		t.Fatalf("create client: %v", err)
	}

	portfolio, err := client.Portfolio(context.Background())
	if err != nil {
		t.Fatalf("fetch portfolio: %v", err)
	}
	if portfolio.TotalValueUsd != 1500 {
		t.Fatalf("expected total value 1500, got %f", portfolio.TotalValueUsd)
	}
}

func TestExecutionsEncodesFilters(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/executions" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		query := r.URL.Query()
		if query.Get("limit") != "5" {
			t.Fatalf("expected limit 5, got %q", query.Get("limit"))
		}
		if query.Get("strategy") != "rebalancer" {
			t.Fatalf("expected strategy rebalancer, got %q", query.Get("strategy"))
		}
		if query.Get("success") != "true" {
			t.Fatalf("expected success true, got %q", query.Get("success"))
		}
		if query.Get("order") != "asc" {
			t.Fatalf("expected order asc, got %q", query.Get("order"))
		}
		_ = json.NewEncoder(w).Encode([]ExecutionRecord{{ID: "r1", Strategy: "rebalancer"}})
	}))
	defer srv.Close()

	client, err := NewClient(srv.URL, srv.Client())
	if err != nil {
		t.Fatalf("create client: %v", err)
	}

	success := true
	records, err := client.Executions(context.Background(), ListOptions{
		Limit:      5,
		Strategies: []string{"rebalancer"},
		Success:    &success,
		Ascending:  true,
	})
	if err != nil {
		t.Fatalf("list executions: %v", err)
	}
	if len(records) != 1 || records[0].ID != "r1" {
		t.Fatalf("unexpected records: %+v", records)
	}
}

func TestOpenSessionPostsDeposit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/session" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		if r.Method != http.MethodPost {
			t.Fatalf("unexpected method: %s", r.Method)
		}
		var payload map[string]string
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		if payload["deposit"] != "500000000" {
			t.Fatalf("unexpected deposit: %q", payload["deposit"])
		}
		_ = json.NewEncoder(w).Encode(Session{ID: "session-1", Status: "active"})
	}))
	defer srv.Close()

	client, err := NewClient(srv.URL, srv.Client())
	if err != nil {
		t.Fatalf("create client: %v", err)
	}

	created, err := client.OpenSession(context.Background(), "500000000")
	if err != nil {
		t.Fatalf("open session: %v", err)
	}
	if created.Status != "active" {
		t.Fatalf("unexpected session status: %s", created.Status)
	}
}

func TestErrorResponsesSurfaceAsAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "当前没有会话", http.StatusNotFound)
	}))
	defer srv.Close()

	client, err := NewClient(srv.URL, srv.Client())
	if err != nil {
		t.Fatalf("create client: %v", err)
	}

	_, err = client.Session(context.Background())
	apiErr, ok := err.(*APIError)
	if !ok {
		t.Fatalf("expected APIError, got %T: %v", err, err)
	}
	if apiErr.StatusCode != http.StatusNotFound {
		t.Fatalf("unexpected status: %d", apiErr.StatusCode)
	}
}

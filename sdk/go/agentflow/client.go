package agentflow

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"time"
)

// DefaultHTTPTimeout defines the timeout used by clients created without a
// custom http.Client. It is intentionally short to avoid hanging network calls.
const DefaultHTTPTimeout = 15 * time.Second

// Client wraps the HTTP interactions with the AgentFlow REST API.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
}

// Portfolio is the aggregated holdings snapshot returned by the daemon.
type Portfolio struct {
	Address       string                    `json:"address"`
	Balances      map[string][]TokenBalance `json:"balances"`
	TotalValueUsd float64                   `json:"total_value_usd"`
	LastUpdated   int64                     `json:"last_updated"`
}

// TokenBalance describes a single token holding on one chain.
type TokenBalance struct {
	Token    string  `json:"token"`
	Symbol   string  `json:"symbol"`
	Decimals uint8   `json:"decimals"`
	Balance  string  `json:"balance"`
	ValueUsd float64 `json:"value_usd"`
}

// EngineStatus reports whether the periodic loop is running.
type EngineStatus struct {
	Running    bool     `json:"running"`
	Strategies []string `json:"strategies"`
	Interval   string   `json:"interval"`
}

// RunResult summarises a manually triggered decision cycle.
type RunResult struct {
	Executed int               `json:"executed"`
	Results  []ExecutionResult `json:"results"`
}

// ExecutionResult mirrors the daemon's execution outcome payload.
type ExecutionResult struct {
	Success    bool   `json:"success"`
	TxHash     string `json:"tx_hash,omitempty"`
	Error      string `json:"error,omitempty"`
	GasUsed    string `json:"gas_used,omitempty"`
	ExecutedAt int64  `json:"executed_at"`
}

// ExecutionRecord is one entry of the execution journal.
type ExecutionRecord struct {
	ID         string  `json:"id"`
	DecisionID string  `json:"decision_id"`
	Strategy   string  `json:"strategy"`
	Action     string  `json:"action"`
	FromChain  uint64  `json:"from_chain"`
	ToChain    uint64  `json:"to_chain"`
	FromToken  string  `json:"from_token"`
	ToToken    string  `json:"to_token"`
	Amount     string  `json:"amount"`
	Reason     string  `json:"reason"`
	Confidence float64 `json:"confidence"`
	Priority   int     `json:"priority"`
	Success    bool    `json:"success"`
	TxHash     string  `json:"tx_hash,omitempty"`
	Error      string  `json:"error,omitempty"`
	GasUsed    string  `json:"gas_used,omitempty"`
	ExecutedAt int64   `json:"executed_at"`
	CreatedAt  int64   `json:"created_at"`
}

// JournalStats aggregates the execution journal.
type JournalStats struct {
	Total           int            `json:"total"`
	Succeeded       int            `json:"succeeded"`
	Failed          int            `json:"failed"`
	ByStrategy      map[string]int `json:"by_strategy,omitempty"`
	OldestCreatedAt int64          `json:"oldest_created_at,omitempty"`
	NewestCreatedAt int64          `json:"newest_created_at,omitempty"`
}

// Session mirrors the daemon's payment session payload.
type Session struct {
	ID           string `json:"id"`
	ChannelID    string `json:"channel_id"`
	Participant  string `json:"participant"`
	Deposit      string `json:"deposit"`
	Balance      string `json:"balance"`
	Nonce        uint64 `json:"nonce"`
	Status       string `json:"status"`
	CreatedAt    int64  `json:"created_at"`
	LastActivity int64  `json:"last_activity"`
}

// SettlementResult is the outcome of closing a session on-chain.
type SettlementResult struct {
	Success      bool   `json:"success"`
	TxHash       string `json:"tx_hash"`
	FinalBalance string `json:"final_balance"`
	SettledAt    int64  `json:"settled_at"`
}

// ListOptions filter the execution journal query.
type ListOptions struct {
	Limit      int
	Offset     int
	Strategies []string
	Success    *bool
	Since      int64
	Until      int64
	Ascending  bool
}

// APIError represents server side validation or internal errors.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("agentflow api error (%d): %s", e.StatusCode, e.Message)
}

// NewClient instantiates a client for the AgentFlow API. When httpClient is
// nil, a default client with a sensible timeout is used.
func NewClient(rawURL string, httpClient *http.Client) (*Client, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	return &Client{baseURL: parsed, httpClient: httpClient}, nil
}

// Portfolio fetches the current holdings snapshot.
func (c *Client) Portfolio(ctx context.Context) (Portfolio, error) {
	var out Portfolio
	if err := c.get(ctx, "/api/v1/portfolio", &out); err != nil {
		return Portfolio{}, err
	}
	return out, nil
}

// RunOnce triggers a synchronous decision cycle.
func (c *Client) RunOnce(ctx context.Context) (RunResult, error) {
	var out RunResult
	if err := c.post(ctx, "/api/v1/engine/run", nil, &out); err != nil {
		return RunResult{}, err
	}
	return out, nil
}

// StartEngine starts the periodic evaluation loop.
func (c *Client) StartEngine(ctx context.Context) error {
	return c.post(ctx, "/api/v1/engine/start", nil, nil)
}

// StopEngine stops the periodic evaluation loop.
func (c *Client) StopEngine(ctx context.Context) error {
	return c.post(ctx, "/api/v1/engine/stop", nil, nil)
}

// Status reports the engine state and enabled strategies.
func (c *Client) Status(ctx context.Context) (EngineStatus, error) {
	var out EngineStatus
	if err := c.get(ctx, "/api/v1/engine/status", &out); err != nil {
		return EngineStatus{}, err
	}
	return out, nil
}

// Executions lists journal entries matching the given filters.
func (c *Client) Executions(ctx context.Context, opts ListOptions) ([]ExecutionRecord, error) {
	query := url.Values{}
	if opts.Limit > 0 {
		query.Set("limit", strconv.Itoa(opts.Limit))
	}
	if opts.Offset > 0 {
		query.Set("offset", strconv.Itoa(opts.Offset))
	}
	for _, strategy := range opts.Strategies {
		query.Add("strategy", strategy)
	}
	if opts.Success != nil {
		query.Set("success", strconv.FormatBool(*opts.Success))
	}
	if opts.Since > 0 {
		query.Set("since", strconv.FormatInt(opts.Since, 10))
	}
	if opts.Until > 0 {
		query.Set("until", strconv.FormatInt(opts.Until, 10))
	}
	if opts.Ascending {
		query.Set("order", "asc")
	}

	endpoint := "/api/v1/executions"
	if encoded := query.Encode(); encoded != "" {
		endpoint += "?" + encoded
	}
	var out []ExecutionRecord
	if err := c.get(ctx, endpoint, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Stats returns aggregate journal statistics.
func (c *Client) Stats(ctx context.Context) (JournalStats, error) {
	var out JournalStats
	if err := c.get(ctx, "/api/v1/executions/stats", &out); err != nil {
		return JournalStats{}, err
	}
	return out, nil
}

// Session fetches the current payment session, if any.
func (c *Client) Session(ctx context.Context) (Session, error) {
	var out Session
	if err := c.get(ctx, "/api/v1/session", &out); err != nil {
		return Session{}, err
	}
	return out, nil
}

// OpenSession opens a payment session with the given deposit (base units,
// decimal string).
func (c *Client) OpenSession(ctx context.Context, deposit string) (Session, error) {
	var out Session
	payload := map[string]string{"deposit": deposit}
	if err := c.post(ctx, "/api/v1/session", payload, &out); err != nil {
		return Session{}, err
	}
	return out, nil
}

// SettleSession settles and closes the current session.
func (c *Client) SettleSession(ctx context.Context) (SettlementResult, error) {
	var out SettlementResult
	if err := c.post(ctx, "/api/v1/session/settle", nil, &out); err != nil {
		return SettlementResult{}, err
	}
	return out, nil
}

func (c *Client) post(ctx context.Context, endpoint string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}
	req, err := c.newRequest(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.do(req, out)
}

func (c *Client) get(ctx context.Context, endpoint string, out any) error {
	req, err := c.newRequest(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string, body io.Reader) (*http.Request, error) {
	parsed, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse endpoint: %w", err)
	}
	rel := &url.URL{Path: path.Join(c.baseURL.Path, parsed.Path), RawQuery: parsed.RawQuery}
	u := c.baseURL.ResolveReference(rel)
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	return req, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read error response: %w", err)
		}
		return &APIError{
			StatusCode: resp.StatusCode,
			Message:    string(bytes.TrimSpace(data)),
		}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

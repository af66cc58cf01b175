package api

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"strconv"
	"time"

	"AgentFlow/internal/engine"
	xerrors "AgentFlow/internal/errors"
	"AgentFlow/internal/history"
	"AgentFlow/internal/observability/metrics"
	"AgentFlow/internal/session"
)

// Server 负责暴露 REST 接口，供外部观察与驱动智能体。
type Server struct {
	addr     string
	engine   *engine.Engine
	provider engine.StateProvider
	store    history.Store
	sessions *session.Manager
	interval time.Duration
}

// NewServer 构造 API 服务实例。
func NewServer(addr string, eng *engine.Engine, provider engine.StateProvider,
	store history.Store, sessions *session.Manager, interval time.Duration) *Server {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Server{
		addr:     addr,
		engine:   eng,
		provider: provider,
		store:    store,
		sessions: sessions,
		interval: interval,
	}
}

// Mux 返回路由表，测试时可直接挂载到 httptest。
func (s *Server) Mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/portfolio", s.instrument("portfolio", s.handlePortfolio))
	mux.HandleFunc("/api/v1/engine/run", s.instrument("engine_run", s.handleRunOnce))
	mux.HandleFunc("/api/v1/engine/start", s.instrument("engine_start", s.handleStart))
	mux.HandleFunc("/api/v1/engine/stop", s.instrument("engine_stop", s.handleStop))
	mux.HandleFunc("/api/v1/engine/status", s.instrument("engine_status", s.handleStatus))
	mux.HandleFunc("/api/v1/executions", s.instrument("executions", s.handleExecutions))
	mux.HandleFunc("/api/v1/executions/stats", s.instrument("execution_stats", s.handleExecutionStats))
	mux.HandleFunc("/api/v1/session", s.instrument("session", s.handleSession))
	mux.HandleFunc("/api/v1/session/settle", s.instrument("session_settle", s.handleSettle))
	mux.Handle("/metrics", metrics.Handler())
	return mux
}

// Start 启动 HTTP 服务，直到上下文取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           withContext(ctx, s.Mux()),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// handlePortfolio 返回当前的组合快照。
func (s *Server) handlePortfolio(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "仅支持 GET", http.StatusMethodNotAllowed)
		return
	}
	if s.provider == nil {
		http.Error(w, "组合状态提供者未初始化", http.StatusServiceUnavailable)
		return
	}
	state, err := s.provider.FetchState(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	writeJSON(w, state)
}

// handleRunOnce 同步触发一个完整的决策周期。
func (s *Server) handleRunOnce(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "仅支持 POST", http.StatusMethodNotAllowed)
		return
	}
	if s.engine == nil || s.provider == nil {
		http.Error(w, "引擎未初始化", http.StatusServiceUnavailable)
		return
	}
	state, err := s.provider.FetchState(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	results := s.engine.RunOnce(r.Context(), state)
	writeJSON(w, map[string]any{
		"executed": len(results),
		"results":  results,
	})
}

// handleStart 启动周期性评估循环。
func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "仅支持 POST", http.StatusMethodNotAllowed)
		return
	}
	if s.engine == nil {
		http.Error(w, "引擎未初始化", http.StatusServiceUnavailable)
		return
	}
	if err := s.engine.Start(s.provider, s.interval); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]any{"running": true})
}

// handleStop 停止周期性评估循环。
func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "仅支持 POST", http.StatusMethodNotAllowed)
		return
	}
	if s.engine == nil {
		http.Error(w, "引擎未初始化", http.StatusServiceUnavailable)
		return
	}
	s.engine.Stop()
	writeJSON(w, map[string]any{"running": false})
}

// handleStatus 返回引擎运行状态与启用的策略。
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "仅支持 GET", http.StatusMethodNotAllowed)
		return
	}
	if s.engine == nil {
		http.Error(w, "引擎未初始化", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, map[string]any{
		"running":    s.engine.Running(),
		"strategies": s.engine.Strategies(),
		"interval":   s.interval.String(),
	})
}

// handleExecutions 按过滤条件列出执行日志。
func (s *Server) handleExecutions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "仅支持 GET", http.StatusMethodNotAllowed)
		return
	}
	if s.store == nil {
		http.Error(w, "执行日志未初始化", http.StatusServiceUnavailable)
		return
	}

	var opts []history.ListOption
	query := r.URL.Query()
	if raw := query.Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			opts = append(opts, history.WithLimit(parsed))
		}
	}
	if raw := query.Get("offset"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			opts = append(opts, history.WithOffset(parsed))
		}
	}
	if strategies := query["strategy"]; len(strategies) > 0 {
		opts = append(opts, history.WithStrategies(strategies...))
	}
	if raw := query.Get("success"); raw != "" {
		if parsed, err := strconv.ParseBool(raw); err == nil {
			opts = append(opts, history.WithSuccess(parsed))
		}
	}
	if raw := query.Get("since"); raw != "" {
		if parsed, err := strconv.ParseInt(raw, 10, 64); err == nil {
			opts = append(opts, history.WithExecutedSince(parsed))
		}
	}
	if raw := query.Get("until"); raw != "" {
		if parsed, err := strconv.ParseInt(raw, 10, 64); err == nil {
			opts = append(opts, history.WithExecutedUntil(parsed))
		}
	}
	if query.Get("order") == "asc" {
		opts = append(opts, history.WithSortOrder(history.SortByExecutedAsc))
	}

	records, err := s.store.List(r.Context(), opts...)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if records == nil {
		records = []*history.Record{}
	}
	writeJSON(w, records)
}

// handleExecutionStats 返回执行日志统计。
func (s *Server) handleExecutionStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "仅支持 GET", http.StatusMethodNotAllowed)
		return
	}
	if s.store == nil {
		http.Error(w, "执行日志未初始化", http.StatusServiceUnavailable)
		return
	}
	stats, err := s.store.Stats(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, stats)
}

type createSessionRequest struct {
	Deposit string `json:"deposit"`
}

// handleSession 查询或开启支付会话。
func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	if s.sessions == nil {
		http.Error(w, "会话管理器未初始化", http.StatusServiceUnavailable)
		return
	}
	switch r.Method {
	case http.MethodGet:
		current := s.sessions.Session()
		if current == nil {
			http.Error(w, "当前没有会话", http.StatusNotFound)
			return
		}
		writeJSON(w, current)
	case http.MethodPost:
		var req createSessionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "请求体解析失败", http.StatusBadRequest)
			return
		}
		deposit, ok := new(big.Int).SetString(req.Deposit, 10)
		if !ok || deposit.Sign() <= 0 {
			http.Error(w, "deposit 必须为正整数", http.StatusBadRequest)
			return
		}
		created, err := s.sessions.CreateSession(r.Context(), deposit)
		if err != nil {
			http.Error(w, err.Error(), statusOf(err))
			return
		}
		writeJSON(w, created)
	default:
		http.Error(w, "仅支持 GET/POST", http.StatusMethodNotAllowed)
	}
}

// handleSettle 结算当前会话。
func (s *Server) handleSettle(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "仅支持 POST", http.StatusMethodNotAllowed)
		return
	}
	if s.sessions == nil {
		http.Error(w, "会话管理器未初始化", http.StatusServiceUnavailable)
		return
	}
	result, err := s.sessions.SettleSession(r.Context())
	if err != nil {
		http.Error(w, err.Error(), statusOf(err))
		return
	}
	writeJSON(w, result)
}

// instrument 包装处理器以记录请求指标。
func (s *Server) instrument(name string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		handler(recorder, r)
		metrics.ObserveHTTPRequest(name, r.Method, recorder.status, time.Since(start))
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// statusOf 将内部错误码映射为 HTTP 状态码。
func statusOf(err error) int {
	switch xerrors.CodeOf(err) {
	case xerrors.CodeInvalidArgument:
		return http.StatusBadRequest
	case xerrors.CodeNotFound:
		return http.StatusNotFound
	case session.CodeSessionState, session.CodeStaleNonce:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(payload)
}

// withContext 确保请求处理能够感知根上下文取消。
func withContext(ctx context.Context, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-ctx.Done():
			http.Error(w, "服务已关闭", http.StatusServiceUnavailable)
			return
		default:
		}
		handler.ServeHTTP(w, r)
	})
}

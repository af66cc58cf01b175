package engine

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"sort"
	"sync"
	"time"

	"AgentFlow/internal/agent"
	xerrors "AgentFlow/internal/errors"
	"AgentFlow/internal/observability/alerting"
	"AgentFlow/internal/observability/metrics"
	"AgentFlow/internal/strategy"
	"AgentFlow/pkg/logger"
)

// 引擎相关错误码。
const (
	CodeStrategyNotFound  xerrors.Code = "STRATEGY_NOT_FOUND"
	CodeRiskLimitExceeded xerrors.Code = "RISK_LIMIT_EXCEEDED"
	CodeExecutionFailure  xerrors.Code = "EXECUTION_FAILURE"
	CodeStateFetchFailure xerrors.Code = "STATE_FETCH_FAILURE"
)

func init() {
	xerrors.Register(CodeStrategyNotFound, xerrors.Attributes{
		Message:   "decision references an unknown strategy",
		Severity:  xerrors.SeverityWarning,
		Retryable: false,
		Alert:     true,
	})
	xerrors.Register(CodeRiskLimitExceeded, xerrors.Attributes{
		Message:   "decision exceeds configured risk limit",
		Severity:  xerrors.SeverityWarning,
		Retryable: false,
		Alert:     true,
	})
	xerrors.Register(CodeExecutionFailure, xerrors.Attributes{
		Message:   "decision execution failed",
		Severity:  xerrors.SeverityCritical,
		Retryable: true,
		Alert:     true,
	})
	xerrors.Register(CodeStateFetchFailure, xerrors.Attributes{
		Message:   "portfolio state fetch failed",
		Severity:  xerrors.SeverityWarning,
		Retryable: true,
		Alert:     false,
	})
}

// StateProvider 在每个周期开始时提供组合快照，是引擎唯一的异步边界。
type StateProvider interface {
	FetchState(ctx context.Context) (agent.PortfolioState, error)
}

// StateProviderFunc 允许用函数充当 StateProvider。
type StateProviderFunc func(ctx context.Context) (agent.PortfolioState, error)

// FetchState 实现 StateProvider 接口。
func (f StateProviderFunc) FetchState(ctx context.Context) (agent.PortfolioState, error) {
	return f(ctx)
}

// Events 汇总引擎的观察者回调。所有回调均为可选，且在引擎
// 自己的协程内同步调用，实现方不应阻塞。
type Events struct {
	OnDecision  func(decision agent.Decision)
	OnExecution func(decision agent.Decision, result agent.ExecutionResult)
	OnError     func(err error)
}

// Engine 是自治决策引擎：每个周期对组合快照运行全部启用的策略，
// 按优先级排序产出的决策，经风控闸门过滤后逐个执行。
// 配置在构造时一次性固定，调整配置需要构造新的引擎实例。
type Engine struct {
	cfg        agent.AgentConfig
	strategies []strategy.Strategy
	byName     map[string]strategy.Strategy
	events     Events
	alerts     alerting.Dispatcher

	// mu 保护 Start/Stop 的生命周期字段。
	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}

	// inFlight 为真表示上一个周期尚未结束，新的周期直接跳过，
	// 保证任意时刻至多一个评估周期在执行。
	flightMu sync.Mutex
	inFlight bool

	// 按 UTC 日期累计的已执行交易量，用于 maxDailyVolume 风控。
	volumeMu    sync.Mutex
	volumeDay   string
	dailyVolume *big.Int

	now func() time.Time
}

// Option 定义可选的引擎配置。
type Option func(*Engine)

// WithEvents 注册观察者回调。
func WithEvents(events Events) Option {
	return func(e *Engine) {
		e.events = events
	}
}

// WithAlerts 注册告警分发器。错误码注册表中标记为需要告警的
// 错误会在周期内通过该分发器广播。
func WithAlerts(alerts alerting.Dispatcher) Option {
	return func(e *Engine) {
		e.alerts = alerts
	}
}

// WithClock 替换时间源，仅测试使用。
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// New 创建一个决策引擎。策略集合的顺序即评估顺序，构造后不可变。
func New(cfg agent.AgentConfig, strategies []strategy.Strategy, opts ...Option) *Engine {
	e := &Engine{
		cfg:         cfg,
		strategies:  strategies,
		byName:      make(map[string]strategy.Strategy, len(strategies)),
		dailyVolume: new(big.Int),
		now:         time.Now,
	}
	for _, s := range strategies {
		e.byName[s.Name()] = s
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// EvaluateStrategies 按固定顺序评估所有策略。单个策略出错会被隔离：
// 通过 OnError 上报后继续评估其余策略，绝不中断整个周期。
// 返回的决策按优先级降序排列，优先级相同时保持评估顺序（稳定排序）。
func (e *Engine) EvaluateStrategies(state agent.PortfolioState) []agent.Decision {
	decisions := make([]agent.Decision, 0, len(e.strategies))
	for _, s := range e.strategies {
		decision, err := s.Evaluate(state)
		if err != nil {
			e.reportError(xerrors.Wrap(strategy.CodeEvaluationFailure, err,
				fmt.Sprintf("策略 %s 评估失败", s.Name())))
			continue
		}
		if decision == nil {
			continue
		}
		e.emitDecision(*decision)
		decisions = append(decisions, *decision)
	}
	sort.SliceStable(decisions, func(i, j int) bool {
		return decisions[i].Priority > decisions[j].Priority
	})
	return decisions
}

// ExecuteDecision 把决策交还给产出它的策略执行。策略不存在
// 或执行出错都会收敛为失败结果，不向调用方抛出。
func (e *Engine) ExecuteDecision(ctx context.Context, decision agent.Decision) agent.ExecutionResult {
	s, ok := e.byName[decision.Strategy]
	if !ok {
		err := xerrors.New(CodeStrategyNotFound,
			fmt.Sprintf("决策 %s 引用了未知策略 %s", decision.ID, decision.Strategy))
		e.reportError(err)
		result := agent.ExecutionResult{
			Success:    false,
			Error:      err.Error(),
			ExecutedAt: e.now().Unix(),
		}
		e.emitExecution(decision, result)
		return result
	}

	result, err := s.Execute(ctx, decision)
	if err != nil {
		e.reportError(xerrors.Wrap(CodeExecutionFailure, err,
			fmt.Sprintf("决策 %s 执行失败", decision.ID)))
		result = agent.ExecutionResult{
			Success:    false,
			Error:      err.Error(),
			ExecutedAt: e.now().Unix(),
		}
	}
	if result.ExecutedAt == 0 {
		result.ExecutedAt = e.now().Unix()
	}
	e.emitExecution(decision, result)
	return result
}

// RunOnce 执行一个完整周期：评估、风控过滤、按优先级逐个执行。
// 任何一次执行失败都会终止本周期剩余决策（快速失败），
// 避免在状态已经异常之后继续叠加风险；后续周期不受影响。
func (e *Engine) RunOnce(ctx context.Context, state agent.PortfolioState) []agent.ExecutionResult {
	decisions := e.EvaluateStrategies(state)
	results := make([]agent.ExecutionResult, 0, len(decisions))
	for _, decision := range decisions {
		if !e.passRiskGate(decision) {
			continue
		}
		result := e.ExecuteDecision(ctx, decision)
		results = append(results, result)
		if !result.Success {
			logger.L().Warn("执行失败，终止本周期剩余决策",
				slog.String("decision_id", decision.ID),
				slog.String("strategy", decision.Strategy),
				slog.String("error", result.Error),
			)
			break
		}
		e.recordVolume(decision.Amount)
	}
	metrics.ObserveEngineCycle()
	return results
}

// Start 启动周期性评估循环。已在运行时为空操作。
// 每个 tick 先拉取组合快照再执行 RunOnce；tick 级失败通过
// OnError 上报，不影响后续 tick。上一个周期未结束时跳过本次 tick。
func (e *Engine) Start(provider StateProvider, interval time.Duration) error {
	if provider == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "未配置组合状态提供者")
	}
	if interval <= 0 {
		return xerrors.New(xerrors.CodeInvalidArgument, "评估周期必须为正")
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		return nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	e.running = true
	e.cancel = cancel
	e.done = make(chan struct{})

	go e.loop(ctx, provider, interval)
	logger.Audit().Info("决策引擎启动",
		slog.String("agent", e.cfg.Name),
		slog.Duration("interval", interval),
	)
	return nil
}

func (e *Engine) loop(ctx context.Context, provider StateProvider, interval time.Duration) {
	defer close(e.done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.tick(ctx, provider)
		}
	}
}

// tick 执行一次评估周期。前一个周期尚未结束时直接跳过。
func (e *Engine) tick(ctx context.Context, provider StateProvider) {
	e.flightMu.Lock()
	if e.inFlight {
		e.flightMu.Unlock()
		logger.L().Warn("上一周期尚未结束，跳过本次评估")
		return
	}
	e.inFlight = true
	e.flightMu.Unlock()
	defer func() {
		e.flightMu.Lock()
		e.inFlight = false
		e.flightMu.Unlock()
	}()

	state, err := provider.FetchState(ctx)
	if err != nil {
		e.reportError(xerrors.Wrap(CodeStateFetchFailure, err, "获取组合快照失败"))
		return
	}
	e.RunOnce(ctx, state)
}

// Stop 取消后续 tick 并清除运行标记，幂等。正在执行的周期
// 不会被中断，以免把会话的 nonce 或余额留在不一致状态。
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	e.cancel()
	e.running = false
	e.cancel = nil
	done := e.done
	e.mu.Unlock()

	// 等待循环协程退出后再返回，RunOnce 不持有 mu，不会死锁。
	if done != nil {
		<-done
	}
	logger.Audit().Info("决策引擎停止", slog.String("agent", e.cfg.Name))
}

// Running 报告周期循环是否在运行。
func (e *Engine) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

// Strategies 返回启用的策略名称，顺序与评估顺序一致。
func (e *Engine) Strategies() []string {
	names := make([]string, 0, len(e.strategies))
	for _, s := range e.strategies {
		names = append(names, s.Name())
	}
	return names
}

// passRiskGate 对单个决策执行风控检查：单笔上限与当日累计上限。
// 被拒绝的决策通过 OnError 上报后丢弃，周期继续。
func (e *Engine) passRiskGate(decision agent.Decision) bool {
	maxTrade := e.cfg.RiskLimits.MaxTradeSize.BigInt()
	if maxTrade.Sign() > 0 && decision.Amount != nil && decision.Amount.Cmp(maxTrade) > 0 {
		e.reportError(xerrors.New(CodeRiskLimitExceeded,
			fmt.Sprintf("决策 %s 金额 %s 超出单笔上限 %s",
				decision.ID, decision.Amount, maxTrade)))
		return false
	}

	maxDaily := e.cfg.RiskLimits.MaxDailyVolume.BigInt()
	if maxDaily.Sign() > 0 && decision.Amount != nil {
		e.volumeMu.Lock()
		defer e.volumeMu.Unlock()
		e.rollVolumeDayLocked()
		projected := new(big.Int).Add(e.dailyVolume, decision.Amount)
		if projected.Cmp(maxDaily) > 0 {
			e.reportError(xerrors.New(CodeRiskLimitExceeded,
				fmt.Sprintf("决策 %s 将使当日交易量达到 %s，超出上限 %s",
					decision.ID, projected, maxDaily)))
			return false
		}
	}
	return true
}

// recordVolume 在执行成功后累计当日交易量。
func (e *Engine) recordVolume(amount *big.Int) {
	if amount == nil {
		return
	}
	e.volumeMu.Lock()
	defer e.volumeMu.Unlock()
	e.rollVolumeDayLocked()
	e.dailyVolume.Add(e.dailyVolume, amount)
}

// rollVolumeDayLocked 在 UTC 日期变更时清零累计量。调用方持有 volumeMu。
func (e *Engine) rollVolumeDayLocked() {
	day := e.now().UTC().Format("2006-01-02")
	if day != e.volumeDay {
		e.volumeDay = day
		e.dailyVolume = new(big.Int)
	}
}

func (e *Engine) emitDecision(decision agent.Decision) {
	logger.Audit().Info("策略产出决策",
		slog.String("decision_id", decision.ID),
		slog.String("strategy", decision.Strategy),
		slog.String("action", string(decision.Action)),
		slog.String("amount", decision.Amount.String()),
		slog.Float64("confidence", decision.Confidence),
		slog.Int("priority", decision.Priority),
	)
	if e.events.OnDecision != nil {
		e.events.OnDecision(decision)
	}
}

func (e *Engine) emitExecution(decision agent.Decision, result agent.ExecutionResult) {
	metrics.ObserveExecution(decision.Strategy, result.Success)
	if e.events.OnExecution != nil {
		e.events.OnExecution(decision, result)
	}
}

func (e *Engine) reportError(err error) {
	logger.L().Error("引擎周期内发生错误", slog.Any("error", err))
	if e.alerts != nil {
		if event, ok := alerting.FromError(err); ok {
			if notifyErr := e.alerts.Notify(context.Background(), event); notifyErr != nil {
				logger.L().Warn("发送告警失败", slog.Any("error", notifyErr))
			}
		}
	}
	if e.events.OnError != nil {
		e.events.OnError(err)
	}
}

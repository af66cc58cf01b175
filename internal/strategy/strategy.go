package strategy

import (
	"context"
	"math/big"

	"AgentFlow/internal/agent"
	xerrors "AgentFlow/internal/errors"
)

// 策略相关错误码。
const (
	CodeEvaluationFailure xerrors.Code = "EVALUATION_FAILURE"
	CodeMarketUnavailable xerrors.Code = "MARKET_UNAVAILABLE"
)

func init() {
	xerrors.Register(CodeEvaluationFailure, xerrors.Attributes{
		Message:   "strategy evaluation failed",
		Severity:  xerrors.SeverityWarning,
		Retryable: true,
		Alert:     false,
	})
	xerrors.Register(CodeMarketUnavailable, xerrors.Attributes{
		Message:   "market data unavailable",
		Severity:  xerrors.SeverityInfo,
		Retryable: true,
		Alert:     false,
	})
}

// 各策略的固定执行优先级：套利窗口转瞬即逝，必须排在最前。
const (
	PriorityArbitrage = 10
	PriorityRebalance = 5
	PriorityYield     = 3
)

// Strategy 是所有交易策略的统一契约。Evaluate 必须是纯函数：
// 仅依赖输入快照与策略自身的不可变配置，无可操作机会时返回 (nil, nil)。
type Strategy interface {
	Name() string
	Evaluate(state agent.PortfolioState) (*agent.Decision, error)
	Execute(ctx context.Context, decision agent.Decision) (agent.ExecutionResult, error)
}

// PriceQuote 描述某条链上交易对的参考价格与流动性。
type PriceQuote struct {
	Chain     agent.ChainID
	Price     *big.Int
	Liquidity *big.Int
}

// PriceSource 提供跨链参考价格，数据不可用时返回 false。
// 生产实现对接 DEX 报价，测试中以固定报价桩替代。
type PriceSource interface {
	ReferencePrice(chain agent.ChainID, base, quote string) (PriceQuote, bool)
}

// YieldOpportunity 描述一个收益机会。
type YieldOpportunity struct {
	Protocol string
	Chain    agent.ChainID
	Token    string
	Apy      float64
	Tvl      *big.Int
}

// YieldSource 列出当前可用的收益机会。
type YieldSource interface {
	Opportunities() []YieldOpportunity
}

// Router 将已批准的决策路由到正确的结算路径。
type Router interface {
	Execute(ctx context.Context, decision agent.Decision) (agent.ExecutionResult, error)
}

// Deps 汇总策略运行所需的外部协作者。
type Deps struct {
	Prices PriceSource
	Yields YieldSource
	Router Router
}

// Build 按配置构造启用的策略集合，顺序固定：再平衡、套利、收益。
// 策略集在引擎构造时一次性确定，不支持运行时注册。
func Build(cfg agent.StrategyConfig, deps Deps) []Strategy {
	var strategies []Strategy
	if cfg.Rebalance.Enabled {
		strategies = append(strategies, NewRebalancer(cfg.Rebalance, deps.Router))
	}
	if cfg.Arbitrage.Enabled {
		strategies = append(strategies, NewArbitrageScanner(cfg.Arbitrage, deps.Prices, deps.Router))
	}
	if cfg.Yield.Enabled {
		strategies = append(strategies, NewYieldOptimizer(cfg.Yield, deps.Yields, deps.Router))
	}
	return strategies
}

// route 调用路由器并把错误收敛为失败结果，避免错误穿透到引擎循环。
func route(ctx context.Context, router Router, decision agent.Decision) (agent.ExecutionResult, error) {
	if router == nil {
		return agent.ExecutionResult{}, xerrors.New(xerrors.CodeInitializationFailure, "未配置执行路由器")
	}
	return router.Execute(ctx, decision)
}

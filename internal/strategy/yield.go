package strategy

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/big"
	"sort"

	"github.com/google/uuid"

	"AgentFlow/internal/agent"
	"AgentFlow/pkg/logger"
)

// minIdleBalance 是部署收益策略所需的最低闲置余额（100 USDC）。
var minIdleBalance = big.NewInt(100_000000)

// YieldOptimizer 在允许的协议中选择 APY 最高的机会，部署一半闲置资金。
type YieldOptimizer struct {
	cfg    agent.YieldConfig
	yields YieldSource
	router Router
}

// NewYieldOptimizer 构造收益优化策略。
func NewYieldOptimizer(cfg agent.YieldConfig, yields YieldSource, router Router) *YieldOptimizer {
	return &YieldOptimizer{cfg: cfg, yields: yields, router: router}
}

// Name 实现 Strategy 接口。
func (y *YieldOptimizer) Name() string { return "yield" }

// Evaluate 选出允许协议中 APY 最高且达到下限的机会。
// APY 相同时按协议名字典序取最小者，保证结果确定。
func (y *YieldOptimizer) Evaluate(state agent.PortfolioState) (*agent.Decision, error) {
	if y.yields == nil {
		return nil, nil
	}

	allowed := make(map[string]bool, len(y.cfg.Protocols))
	for _, protocol := range y.cfg.Protocols {
		allowed[protocol] = true
	}

	candidates := make([]YieldOpportunity, 0)
	for _, opp := range y.yields.Opportunities() {
		if allowed[opp.Protocol] && opp.Apy >= y.cfg.MinApy {
			candidates = append(candidates, opp)
		}
	}
	if len(candidates) == 0 {
		return nil, nil
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].Apy != candidates[j].Apy {
			return candidates[i].Apy > candidates[j].Apy
		}
		return candidates[i].Protocol < candidates[j].Protocol
	})
	best := candidates[0]

	idle := state.Balance(best.Chain, "USDC")
	if idle == nil || idle.Balance == nil || idle.Balance.Cmp(minIdleBalance) < 0 {
		return nil, nil
	}

	toToken, ok := agent.TokenAddress(best.Chain, best.Token)
	if !ok {
		return nil, fmt.Errorf("链 %d 缺少 %s 地址", best.Chain, best.Token)
	}

	decision := &agent.Decision{
		ID:        "yield-" + uuid.NewString(),
		Strategy:  y.Name(),
		Action:    agent.ActionSwap,
		FromChain: best.Chain,
		ToChain:   best.Chain,
		FromToken: idle.Token,
		ToToken:   toToken,
		// 只部署一半闲置资金，保留流动性。
		Amount:     new(big.Int).Div(idle.Balance, big.NewInt(2)),
		Reason:     fmt.Sprintf("部署到 %s，APY %.2f%%", best.Protocol, best.Apy),
		Confidence: math.Min(best.Apy/(y.cfg.MinApy*2), 1),
		Priority:   PriorityYield,
	}
	return decision, nil
}

// Execute 实现 Strategy 接口。
func (y *YieldOptimizer) Execute(ctx context.Context, decision agent.Decision) (agent.ExecutionResult, error) {
	logger.Audit().Info("执行收益决策",
		slog.String("decision_id", decision.ID),
		slog.String("reason", decision.Reason),
	)
	return route(ctx, y.router, decision)
}

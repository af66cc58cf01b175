package strategy

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/big"

	"github.com/google/uuid"

	"AgentFlow/internal/agent"
	"AgentFlow/pkg/logger"
)

// defaultArbAmount 是源链余额为零时的保底交易量（100 USDC）。
var defaultArbAmount = big.NewInt(100_000000)

// ArbitrageScanner 比较 WETH/USDC 在两条链上的参考价格，
// 价差超过配置的基点阈值时把资金从低价链搬向高价链。
type ArbitrageScanner struct {
	cfg    agent.ArbitrageConfig
	prices PriceSource
	router Router
}

// NewArbitrageScanner 构造套利策略。
func NewArbitrageScanner(cfg agent.ArbitrageConfig, prices PriceSource, router Router) *ArbitrageScanner {
	return &ArbitrageScanner{cfg: cfg, prices: prices, router: router}
}

// Name 实现 Strategy 接口。
func (s *ArbitrageScanner) Name() string { return "arbitrage" }

// Evaluate 扫描跨链价差。价格源不可用或价差不足阈值时返回 nil。
func (s *ArbitrageScanner) Evaluate(state agent.PortfolioState) (*agent.Decision, error) {
	if s.prices == nil {
		return nil, nil
	}

	baseQuote, ok := s.prices.ReferencePrice(agent.ChainBase, "WETH", "USDC")
	if !ok {
		return nil, nil
	}
	arbQuote, ok := s.prices.ReferencePrice(agent.ChainArbitrum, "WETH", "USDC")
	if !ok {
		return nil, nil
	}
	if baseQuote.Price == nil || arbQuote.Price == nil || baseQuote.Price.Sign() <= 0 {
		return nil, nil
	}

	// 以 Base 价格为基准计算基点价差。
	diff := new(big.Int).Sub(baseQuote.Price, arbQuote.Price)
	diff.Mul(diff, big.NewInt(10000))
	diff.Div(diff, baseQuote.Price)
	spreadBps := diff.Int64()

	absSpread := spreadBps
	if absSpread < 0 {
		absSpread = -absSpread
	}
	if absSpread < s.cfg.MinProfitBps {
		return nil, nil
	}

	// 资金从低价链流向高价链。
	fromChain, toChain := agent.ChainBase, agent.ChainArbitrum
	if spreadBps > 0 {
		fromChain, toChain = agent.ChainArbitrum, agent.ChainBase
	}

	amount := new(big.Int).Set(defaultArbAmount)
	if usdc := state.Balance(fromChain, "USDC"); usdc != nil && usdc.Balance != nil && usdc.Balance.Sign() > 0 {
		// 默认动用源链可用余额的 10%。
		amount = new(big.Int).Div(usdc.Balance, big.NewInt(10))
	}

	fromToken, _ := agent.TokenAddress(fromChain, "USDC")
	toToken, _ := agent.TokenAddress(toChain, "USDC")

	decision := &agent.Decision{
		ID:         "arb-" + uuid.NewString(),
		Strategy:   s.Name(),
		Action:     agent.ActionBridge,
		FromChain:  fromChain,
		ToChain:    toChain,
		FromToken:  fromToken,
		ToToken:    toToken,
		Amount:     amount,
		Reason:     fmt.Sprintf("跨链套利机会: 价差 %d bps", absSpread),
		Confidence: math.Min(float64(absSpread)/float64(s.cfg.MinProfitBps*2), 1),
		Priority:   PriorityArbitrage,
	}
	return decision, nil
}

// Execute 实现 Strategy 接口。
func (s *ArbitrageScanner) Execute(ctx context.Context, decision agent.Decision) (agent.ExecutionResult, error) {
	logger.Audit().Info("执行套利决策",
		slog.String("decision_id", decision.ID),
		slog.String("reason", decision.Reason),
		slog.String("amount", decision.Amount.String()),
	)
	return route(ctx, s.router, decision)
}

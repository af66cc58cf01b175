package strategy

import (
	"context"
	"math/big"
	"testing"

	"AgentFlow/internal/agent"
)

type stubRouter struct {
	executed []agent.Decision
	result   agent.ExecutionResult
	err      error
}

func (r *stubRouter) Execute(_ context.Context, decision agent.Decision) (agent.ExecutionResult, error) {
	r.executed = append(r.executed, decision)
	return r.result, r.err
}

func portfolioWithAllocations(usdcBase, wethBase float64) agent.PortfolioState {
	total := usdcBase + wethBase
	usdcAddr, _ := agent.TokenAddress(agent.ChainBase, "USDC")
	wethAddr, _ := agent.TokenAddress(agent.ChainBase, "WETH")
	return agent.PortfolioState{
		Balances: map[agent.ChainID][]agent.TokenBalance{
			agent.ChainBase: {
				{Token: usdcAddr, Symbol: "USDC", Decimals: 6, Balance: big.NewInt(1), ValueUsd: usdcBase},
				{Token: wethAddr, Symbol: "WETH", Decimals: 18, Balance: big.NewInt(1), ValueUsd: wethBase},
			},
		},
		TotalValueUsd: total,
	}
}

func TestRebalancerNoDeviationReturnsNil(t *testing.T) {
	cfg := agent.RebalanceConfig{
		Enabled: true,
		TargetAllocations: map[string]float64{
			"8453:USDC": 50,
			"8453:WETH": 50,
		},
		RebalanceThreshold: 5,
	}
	r := NewRebalancer(cfg, &stubRouter{})

	decision, err := r.Evaluate(portfolioWithAllocations(500, 500))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if decision != nil {
		t.Fatalf("expected no decision for matched allocations, got %+v", decision)
	}
}

func TestRebalancerFiresOnDeviation(t *testing.T) {
	cfg := agent.RebalanceConfig{
		Enabled: true,
		TargetAllocations: map[string]float64{
			"8453:WETH": 50,
		},
		RebalanceThreshold: 5,
	}
	r := NewRebalancer(cfg, &stubRouter{})

	// WETH 当前 20%，目标 50%，偏离 30 个百分点。
	decision, err := r.Evaluate(portfolioWithAllocations(800, 200))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if decision == nil {
		t.Fatalf("expected a rebalance decision")
	}
	if decision.Confidence < 0 || decision.Confidence > 1 {
		t.Fatalf("confidence out of range: %v", decision.Confidence)
	}
	if decision.Confidence != 1 {
		t.Fatalf("deviation 30 over threshold 5 should cap confidence at 1, got %v", decision.Confidence)
	}
	if decision.Priority != PriorityRebalance {
		t.Fatalf("unexpected priority: %d", decision.Priority)
	}
	// WETH 低配：买入方向为 USDC -> WETH。
	usdcAddr, _ := agent.TokenAddress(agent.ChainBase, "USDC")
	wethAddr, _ := agent.TokenAddress(agent.ChainBase, "WETH")
	if decision.FromToken != usdcAddr || decision.ToToken != wethAddr {
		t.Fatalf("unexpected direction: from %s to %s", decision.FromToken, decision.ToToken)
	}
	if decision.FromChain != decision.ToChain {
		t.Fatalf("rebalance must not cross chains")
	}
	// 需要移动 30% * 1000 USD = 300 USD -> 300_000000 个 6 位小数单位。
	if decision.Amount.Cmp(big.NewInt(300_000000)) != 0 {
		t.Fatalf("unexpected amount: %s", decision.Amount)
	}
}

func TestRebalancerBelowThresholdReturnsNil(t *testing.T) {
	cfg := agent.RebalanceConfig{
		Enabled: true,
		TargetAllocations: map[string]float64{
			"8453:USDC": 50,
			"8453:WETH": 50,
		},
		RebalanceThreshold: 5,
	}
	r := NewRebalancer(cfg, &stubRouter{})

	decision, err := r.Evaluate(portfolioWithAllocations(520, 480))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if decision != nil {
		t.Fatalf("deviation 2 below threshold 5 should not fire, got %+v", decision)
	}
}

func TestRebalancerTieBreakIsLexical(t *testing.T) {
	cfg := agent.RebalanceConfig{
		Enabled: true,
		// 两个资产偏离幅度完全相同（各差 20 个百分点）。
		TargetAllocations: map[string]float64{
			"8453:WETH": 40,
			"8453:USDC": 60,
		},
		RebalanceThreshold: 5,
	}
	r := NewRebalancer(cfg, &stubRouter{})

	// USDC 40% / WETH 60%。
	decision, err := r.Evaluate(portfolioWithAllocations(400, 600))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if decision == nil {
		t.Fatalf("expected a decision")
	}
	// 字典序 "8453:USDC" < "8453:WETH"，应选中 USDC（低配，买入方向）。
	usdcAddr, _ := agent.TokenAddress(agent.ChainBase, "USDC")
	if decision.FromToken != usdcAddr {
		t.Fatalf("tie-break should pick lexically smallest key, got from %s", decision.FromToken)
	}
}

func TestRebalancerEmptyPortfolioReturnsNil(t *testing.T) {
	cfg := agent.RebalanceConfig{
		Enabled:            true,
		TargetAllocations:  map[string]float64{"8453:USDC": 100},
		RebalanceThreshold: 5,
	}
	r := NewRebalancer(cfg, &stubRouter{})

	decision, err := r.Evaluate(agent.PortfolioState{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if decision != nil {
		t.Fatalf("zero-value portfolio should not fire")
	}
}

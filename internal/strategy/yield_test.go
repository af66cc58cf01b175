package strategy

import (
	"math/big"
	"testing"

	"AgentFlow/internal/agent"
)

type stubYieldSource struct {
	opportunities []YieldOpportunity
}

func (s *stubYieldSource) Opportunities() []YieldOpportunity {
	return s.opportunities
}

func yieldConfig() agent.YieldConfig {
	return agent.YieldConfig{Enabled: true, MinApy: 3, Protocols: []string{"aave", "compound"}}
}

func baseUsdcState(balance int64) agent.PortfolioState {
	usdcAddr, _ := agent.TokenAddress(agent.ChainBase, "USDC")
	return agent.PortfolioState{
		Balances: map[agent.ChainID][]agent.TokenBalance{
			agent.ChainBase: {
				{Token: usdcAddr, Symbol: "USDC", Decimals: 6, Balance: big.NewInt(balance)},
			},
		},
	}
}

func TestYieldPicksHighestApy(t *testing.T) {
	yields := &stubYieldSource{opportunities: []YieldOpportunity{
		{Protocol: "aave", Chain: agent.ChainBase, Token: "USDC", Apy: 4.2},
		{Protocol: "compound", Chain: agent.ChainBase, Token: "USDC", Apy: 5.8},
	}}
	y := NewYieldOptimizer(yieldConfig(), yields, &stubRouter{})

	decision, err := y.Evaluate(baseUsdcState(1000_000000))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if decision == nil {
		t.Fatalf("expected a yield decision")
	}
	if decision.Priority != PriorityYield {
		t.Fatalf("unexpected priority: %d", decision.Priority)
	}
	// 部署一半闲置资金。
	if decision.Amount.Cmp(big.NewInt(500_000000)) != 0 {
		t.Fatalf("unexpected amount: %s", decision.Amount)
	}
	if decision.FromChain != decision.ToChain {
		t.Fatalf("yield deployment must stay on one chain")
	}
	if decision.Confidence < 0 || decision.Confidence > 1 {
		t.Fatalf("confidence out of range: %v", decision.Confidence)
	}
}

func TestYieldIgnoresDisallowedProtocols(t *testing.T) {
	yields := &stubYieldSource{opportunities: []YieldOpportunity{
		{Protocol: "unknown-farm", Chain: agent.ChainBase, Token: "USDC", Apy: 50},
	}}
	y := NewYieldOptimizer(yieldConfig(), yields, &stubRouter{})

	decision, err := y.Evaluate(baseUsdcState(1000_000000))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if decision != nil {
		t.Fatalf("protocols outside the allow-list must be ignored")
	}
}

func TestYieldBelowMinApyReturnsNil(t *testing.T) {
	yields := &stubYieldSource{opportunities: []YieldOpportunity{
		{Protocol: "aave", Chain: agent.ChainBase, Token: "USDC", Apy: 2.5},
	}}
	y := NewYieldOptimizer(yieldConfig(), yields, &stubRouter{})

	decision, err := y.Evaluate(baseUsdcState(1000_000000))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if decision != nil {
		t.Fatalf("APY below minimum must not fire")
	}
}

func TestYieldRequiresMinimumIdleBalance(t *testing.T) {
	yields := &stubYieldSource{opportunities: []YieldOpportunity{
		{Protocol: "aave", Chain: agent.ChainBase, Token: "USDC", Apy: 6},
	}}
	y := NewYieldOptimizer(yieldConfig(), yields, &stubRouter{})

	// 99 USDC，低于 100 USDC 下限。
	decision, err := y.Evaluate(baseUsdcState(99_000000))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if decision != nil {
		t.Fatalf("idle balance below floor must not fire")
	}
}

func TestYieldApyTieBreakIsLexical(t *testing.T) {
	yields := &stubYieldSource{opportunities: []YieldOpportunity{
		{Protocol: "compound", Chain: agent.ChainBase, Token: "USDC", Apy: 5},
		{Protocol: "aave", Chain: agent.ChainBase, Token: "USDC", Apy: 5},
	}}
	y := NewYieldOptimizer(yieldConfig(), yields, &stubRouter{})

	decision, err := y.Evaluate(baseUsdcState(1000_000000))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if decision == nil {
		t.Fatalf("expected a decision")
	}
	if got, want := decision.Reason, "部署到 aave，APY 5.00%"; got != want {
		t.Fatalf("unexpected reason: %q", got)
	}
}

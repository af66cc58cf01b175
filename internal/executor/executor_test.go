package executor

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"AgentFlow/internal/agent"
	"AgentFlow/internal/bridge"
	"AgentFlow/internal/session"
)

type fakeSessions struct {
	active bool
	trades []session.TradeParams
}

func (s *fakeSessions) IsActive() bool { return s.active }

func (s *fakeSessions) ExecuteTrade(_ context.Context, params session.TradeParams) (session.TradeResult, error) {
	s.trades = append(s.trades, params)
	return session.TradeResult{
		Success:      true,
		Nonce:        uint64(len(s.trades)),
		InputAmount:  params.Amount,
		OutputAmount: params.Amount,
		NewBalance:   big.NewInt(0),
		Timestamp:    42,
	}, nil
}

type fakeBridger struct {
	requests []bridge.Params
}

func (b *fakeBridger) BridgeTokens(_ context.Context, params bridge.Params) (bridge.Result, error) {
	b.requests = append(b.requests, params)
	return bridge.Result{Success: true, TxHash: common.Hash{31: 7}, ExecutedAt: 42}, nil
}

type fakeDirect struct {
	trades []agent.Decision
}

func (d *fakeDirect) Trade(_ context.Context, decision agent.Decision) (agent.ExecutionResult, error) {
	d.trades = append(d.trades, decision)
	return agent.ExecutionResult{Success: true, ExecutedAt: 42}, nil
}

func sameChainDecision() agent.Decision {
	from, _ := agent.TokenAddress(agent.ChainBase, "USDC")
	to, _ := agent.TokenAddress(agent.ChainBase, "WETH")
	return agent.Decision{
		ID:        "d-1",
		Strategy:  "rebalance",
		Action:    agent.ActionRebalance,
		FromChain: agent.ChainBase,
		ToChain:   agent.ChainBase,
		FromToken: from,
		ToToken:   to,
		Amount:    big.NewInt(100_000000),
	}
}

func crossChainDecision() agent.Decision {
	d := sameChainDecision()
	d.Action = agent.ActionBridge
	d.ToChain = agent.ChainArbitrum
	to, _ := agent.TokenAddress(agent.ChainArbitrum, "USDC")
	d.ToToken = to
	return d
}

func TestCrossChainRoutesToBridge(t *testing.T) {
	sessions := &fakeSessions{active: true}
	bridger := &fakeBridger{}
	direct := &fakeDirect{}
	e := New(sessions, bridger, direct)

	result, err := e.Execute(context.Background(), crossChainDecision())
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !result.Success {
		t.Fatalf("expected success")
	}
	if len(bridger.requests) != 1 {
		t.Fatalf("cross-chain decision must go through the bridge")
	}
	// 会话活跃与否不影响跨链路由。
	if len(sessions.trades) != 0 || len(direct.trades) != 0 {
		t.Fatalf("cross-chain decision must not touch trade paths")
	}
}

func TestSameChainPrefersActiveSession(t *testing.T) {
	sessions := &fakeSessions{active: true}
	direct := &fakeDirect{}
	e := New(sessions, &fakeBridger{}, direct)

	if _, err := e.Execute(context.Background(), sameChainDecision()); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if len(sessions.trades) != 1 {
		t.Fatalf("active session must carry the trade")
	}
	if len(direct.trades) != 0 {
		t.Fatalf("direct path must not be used while session is active")
	}
	// 滑点保护按默认基点换算。
	if got := sessions.trades[0].MinOutput; got.Cmp(big.NewInt(99_000000)) != 0 {
		t.Fatalf("unexpected min output: %s", got)
	}
}

func TestSameChainFallsBackWithoutSession(t *testing.T) {
	sessions := &fakeSessions{active: false}
	direct := &fakeDirect{}
	e := New(sessions, &fakeBridger{}, direct)

	if _, err := e.Execute(context.Background(), sameChainDecision()); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if len(direct.trades) != 1 {
		t.Fatalf("inactive session must fall back to direct execution")
	}
	if len(sessions.trades) != 0 {
		t.Fatalf("session path must not be used while inactive")
	}
}

func TestExecuteRejectsNonPositiveAmount(t *testing.T) {
	e := New(&fakeSessions{}, &fakeBridger{}, &fakeDirect{})

	d := sameChainDecision()
	d.Amount = big.NewInt(0)
	if _, err := e.Execute(context.Background(), d); err == nil {
		t.Fatalf("zero amount must be rejected")
	}
}

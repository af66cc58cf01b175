package bridge

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"AgentFlow/internal/agent"
)

func usdcParams(amount int64) Params {
	fromToken, _ := agent.TokenAddress(agent.ChainBase, "USDC")
	toToken, _ := agent.TokenAddress(agent.ChainArbitrum, "USDC")
	return Params{
		FromChain:  agent.ChainBase,
		ToChain:    agent.ChainArbitrum,
		FromToken:  fromToken,
		ToToken:    toToken,
		FromAmount: big.NewInt(amount),
	}
}

func TestQuoteFeeAndSlippage(t *testing.T) {
	q := NewSimulatedQuoter()

	quote, err := q.Quote(usdcParams(1000_000000))
	if err != nil {
		t.Fatalf("quote: %v", err)
	}
	// 0.05% 费用：1000 USDC -> 0.5 USDC。
	if quote.Fee.Cmp(big.NewInt(500000)) != 0 {
		t.Fatalf("unexpected fee: %s", quote.Fee)
	}
	if quote.ToAmount.Cmp(big.NewInt(999_500000)) != 0 {
		t.Fatalf("unexpected to amount: %s", quote.ToAmount)
	}
	// 0.5% 滑点保护。
	wantMin := new(big.Int).Mul(quote.ToAmount, big.NewInt(995))
	wantMin.Div(wantMin, big.NewInt(1000))
	if quote.ToAmountMin.Cmp(wantMin) != 0 {
		t.Fatalf("unexpected min amount: %s", quote.ToAmountMin)
	}
	if quote.EstimatedTime != 120 {
		t.Fatalf("expected 120s between the two L2s, got %d", quote.EstimatedTime)
	}
}

func TestQuoteStepsAreOrdered(t *testing.T) {
	q := NewSimulatedQuoter()

	quote, err := q.Quote(usdcParams(100_000000))
	if err != nil {
		t.Fatalf("quote: %v", err)
	}
	if len(quote.Steps) != 2 {
		t.Fatalf("expected 2 steps, got %d", len(quote.Steps))
	}
	// 授权必须先于过桥。
	if quote.Steps[0].Type != StepApprove || quote.Steps[1].Type != StepBridge {
		t.Fatalf("unexpected step order: %s, %s", quote.Steps[0].Type, quote.Steps[1].Type)
	}
}

func TestQuoteRejectsSameChain(t *testing.T) {
	q := NewSimulatedQuoter()

	params := usdcParams(100_000000)
	params.ToChain = params.FromChain
	if _, err := q.Quote(params); err == nil {
		t.Fatalf("same-chain quote must fail")
	}
}

func TestRouterExecutesAllSteps(t *testing.T) {
	r := NewRouter(NewSimulatedQuoter(), nil)

	result, err := r.BridgeUSDC(context.Background(), agent.ChainBase, agent.ChainArbitrum,
		big.NewInt(500_000000), common.Address{})
	if err != nil {
		t.Fatalf("bridge: %v", err)
	}
	if !result.Success {
		t.Fatalf("bridge should succeed: %s", result.Error)
	}
	if result.TxHash == (common.Hash{}) {
		t.Fatalf("result must carry a transaction hash")
	}
	if result.ToAmount == nil || result.ToAmount.Sign() <= 0 {
		t.Fatalf("result must carry the received amount")
	}
	if result.ToAmount.Cmp(result.FromAmount) >= 0 {
		t.Fatalf("received amount must be net of fee and slippage")
	}
}

// haltingExecutor 在过桥步骤上固定失败。
type haltingExecutor struct {
	executed []StepType
}

func (e *haltingExecutor) ExecuteStep(_ context.Context, step Step) (common.Hash, error) {
	e.executed = append(e.executed, step.Type)
	if step.Type == StepBridge {
		return common.Hash{}, errors.New("bridge congested")
	}
	return common.Hash{31: 1}, nil
}

func TestRouterStepFailureBecomesFailedResult(t *testing.T) {
	executor := &haltingExecutor{}
	r := NewRouter(NewSimulatedQuoter(), executor)

	result, err := r.BridgeTokens(context.Background(), usdcParams(100_000000))
	if err != nil {
		t.Fatalf("step failure must not surface as an error: %v", err)
	}
	if result.Success {
		t.Fatalf("result must be marked failed")
	}
	if result.Error == "" {
		t.Fatalf("failed result must carry the cause")
	}
	// 授权成功后过桥失败，两步都被尝试过。
	if len(executor.executed) != 2 {
		t.Fatalf("expected 2 attempted steps, got %d", len(executor.executed))
	}
}

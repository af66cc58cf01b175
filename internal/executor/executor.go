package executor

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"AgentFlow/internal/agent"
	"AgentFlow/internal/bridge"
	xerrors "AgentFlow/internal/errors"
	"AgentFlow/internal/session"
	"AgentFlow/pkg/logger"
)

// defaultSlippageBps 是会话交易的默认滑点保护（1%），
// 与模拟定价的固定折价一致。
const defaultSlippageBps = 100

// tradeDeadline 是会话交易消息的有效期。
const tradeDeadline = 5 * time.Minute

// SessionTrader 是执行器需要的会话能力子集。
type SessionTrader interface {
	IsActive() bool
	ExecuteTrade(ctx context.Context, params session.TradeParams) (session.TradeResult, error)
}

// Bridger 是执行器需要的跨链能力子集。
type Bridger interface {
	BridgeTokens(ctx context.Context, params bridge.Params) (bridge.Result, error)
}

// DirectTrader 在没有活跃会话时承接同链交易。
type DirectTrader interface {
	Trade(ctx context.Context, decision agent.Decision) (agent.ExecutionResult, error)
}

// Executor 是无状态的决策路由器：跨链决策走桥，同链决策优先
// 走活跃会话（免 gas），否则回退到直接链上执行。路由规则
// 纯粹取决于链对是否相等，对调用方保持统一接口。
type Executor struct {
	sessions    SessionTrader
	bridger     Bridger
	direct      DirectTrader
	owner       common.Address
	slippageBps int64
	now         func() time.Time
}

// Option 定义可选的执行器配置。
type Option func(*Executor)

// WithOwner 设置跨链请求的发起地址。
func WithOwner(owner common.Address) Option {
	return func(e *Executor) {
		e.owner = owner
	}
}

// WithSlippageBps 设置会话交易的滑点保护基点。
func WithSlippageBps(bps int64) Option {
	return func(e *Executor) {
		if bps > 0 {
			e.slippageBps = bps
		}
	}
}

// New 构造执行器。direct 为 nil 时使用模拟的链上执行。
func New(sessions SessionTrader, bridger Bridger, direct DirectTrader, opts ...Option) *Executor {
	e := &Executor{
		sessions:    sessions,
		bridger:     bridger,
		direct:      direct,
		slippageBps: defaultSlippageBps,
		now:         time.Now,
	}
	if e.direct == nil {
		e.direct = &simulatedTrader{now: time.Now}
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// Execute 实现 strategy.Router：按链对路由决策。
func (e *Executor) Execute(ctx context.Context, decision agent.Decision) (agent.ExecutionResult, error) {
	if decision.Amount == nil || decision.Amount.Sign() <= 0 {
		return agent.ExecutionResult{}, xerrors.New(xerrors.CodeInvalidArgument,
			fmt.Sprintf("决策 %s 数量非法", decision.ID))
	}
	if decision.CrossChain() {
		return e.executeCrossChain(ctx, decision)
	}
	return e.executeSameChain(ctx, decision)
}

// executeCrossChain 经由桥执行跨链决策。
func (e *Executor) executeCrossChain(ctx context.Context, decision agent.Decision) (agent.ExecutionResult, error) {
	if e.bridger == nil {
		return agent.ExecutionResult{}, xerrors.New(xerrors.CodeInitializationFailure, "未配置跨链路由")
	}
	result, err := e.bridger.BridgeTokens(ctx, bridge.Params{
		FromChain:   decision.FromChain,
		ToChain:     decision.ToChain,
		FromToken:   decision.FromToken,
		ToToken:     decision.ToToken,
		FromAmount:  decision.Amount,
		FromAddress: e.owner,
	})
	if err != nil {
		return agent.ExecutionResult{}, err
	}
	return agent.ExecutionResult{
		Success:    result.Success,
		TxHash:     result.TxHash,
		Error:      result.Error,
		ExecutedAt: result.ExecutedAt,
	}, nil
}

// executeSameChain 优先走活跃会话，否则回退到直接链上执行。
func (e *Executor) executeSameChain(ctx context.Context, decision agent.Decision) (agent.ExecutionResult, error) {
	if e.sessions != nil && e.sessions.IsActive() {
		return e.executeViaSession(ctx, decision)
	}
	return e.direct.Trade(ctx, decision)
}

func (e *Executor) executeViaSession(ctx context.Context, decision agent.Decision) (agent.ExecutionResult, error) {
	minOutput := new(big.Int).Mul(decision.Amount, big.NewInt(10000-e.slippageBps))
	minOutput.Div(minOutput, big.NewInt(10000))

	result, err := e.sessions.ExecuteTrade(ctx, session.TradeParams{
		FromToken: decision.FromToken,
		ToToken:   decision.ToToken,
		Amount:    decision.Amount,
		MinOutput: minOutput,
		Deadline:  e.now().Add(tradeDeadline).Unix(),
	})
	if err != nil {
		return agent.ExecutionResult{}, err
	}

	logger.L().Debug("决策经会话执行",
		slog.String("decision_id", decision.ID),
		slog.Uint64("nonce", result.Nonce),
		slog.String("output", result.OutputAmount.String()),
	)
	// 会话内交易不上链，结果不携带交易哈希与 gas 消耗。
	return agent.ExecutionResult{
		Success:    result.Success,
		ExecutedAt: result.Timestamp,
	}, nil
}

// simulatedTrader 模拟直接链上执行，生成确定性交易哈希。
type simulatedTrader struct {
	now func() time.Time
}

func (t *simulatedTrader) Trade(_ context.Context, decision agent.Decision) (agent.ExecutionResult, error) {
	seed := fmt.Sprintf("trade|%d|%s|%s|%s",
		decision.FromChain, decision.FromToken.Hex(), decision.ToToken.Hex(), decision.Amount)
	return agent.ExecutionResult{
		Success:    true,
		TxHash:     crypto.Keccak256Hash([]byte(seed)),
		GasUsed:    big.NewInt(150000),
		ExecutedAt: t.now().Unix(),
	}, nil
}

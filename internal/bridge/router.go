package bridge

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"AgentFlow/internal/agent"
	xerrors "AgentFlow/internal/errors"
	"AgentFlow/pkg/logger"
)

// StepExecutor 执行报价中的单个步骤并返回交易哈希。
type StepExecutor interface {
	ExecuteStep(ctx context.Context, step Step) (common.Hash, error)
}

// Router 按报价的步骤顺序执行跨链：先授权后过桥。
// 任一步骤失败都收敛为失败结果，不向调用方抛出。
type Router struct {
	quoter   Quoter
	executor StepExecutor
	now      func() time.Time
}

// NewRouter 构造跨链路由器。executor 为 nil 时使用模拟执行。
func NewRouter(quoter Quoter, executor StepExecutor) *Router {
	if executor == nil {
		executor = &simulatedStepExecutor{}
	}
	return &Router{quoter: quoter, executor: executor, now: time.Now}
}

// BridgeTokens 为给定请求取报价并执行。
func (r *Router) BridgeTokens(ctx context.Context, params Params) (Result, error) {
	if r.quoter == nil {
		return Result{}, xerrors.New(xerrors.CodeInitializationFailure, "未配置跨链报价器")
	}
	quote, err := r.quoter.Quote(params)
	if err != nil {
		return Result{
			Success:    false,
			FromAmount: params.FromAmount,
			Error:      err.Error(),
			ExecutedAt: r.now().Unix(),
		}, nil
	}
	return r.ExecuteQuote(ctx, quote)
}

// ExecuteQuote 按顺序执行报价的全部步骤，返回最后一步的交易哈希。
// 实际到账数额以滑点保护后的最小产出计。
func (r *Router) ExecuteQuote(ctx context.Context, quote Quote) (Result, error) {
	var txHash common.Hash
	for _, step := range quote.Steps {
		hash, err := r.executor.ExecuteStep(ctx, step)
		if err != nil {
			logger.L().Error("跨链步骤执行失败",
				slog.String("quote_id", quote.ID),
				slog.String("step", string(step.Type)),
				slog.Any("error", err),
			)
			return Result{
				Success:    false,
				FromAmount: quote.FromAmount,
				Error:      xerrors.Wrap(CodeBridgeFailure, err, fmt.Sprintf("步骤 %s 失败", step.Type)).Error(),
				ExecutedAt: r.now().Unix(),
			}, nil
		}
		txHash = hash
	}

	logger.Audit().Info("跨链执行完成",
		slog.String("quote_id", quote.ID),
		slog.Uint64("from_chain", uint64(quote.FromChain)),
		slog.Uint64("to_chain", uint64(quote.ToChain)),
		slog.String("from_amount", quote.FromAmount.String()),
		slog.String("to_amount_min", quote.ToAmountMin.String()),
		slog.String("tx_hash", txHash.Hex()),
	)
	return Result{
		Success:    true,
		TxHash:     txHash,
		FromAmount: quote.FromAmount,
		ToAmount:   new(big.Int).Set(quote.ToAmountMin),
		ExecutedAt: r.now().Unix(),
	}, nil
}

// BridgeUSDC 在两条链的 USDC 之间搬运资金。
func (r *Router) BridgeUSDC(ctx context.Context, fromChain, toChain agent.ChainID, amount *big.Int, from common.Address) (Result, error) {
	fromToken, ok := agent.TokenAddress(fromChain, "USDC")
	if !ok {
		return Result{}, xerrors.New(CodeQuoteFailure, fmt.Sprintf("链 %d 不支持 USDC", fromChain))
	}
	toToken, ok := agent.TokenAddress(toChain, "USDC")
	if !ok {
		return Result{}, xerrors.New(CodeQuoteFailure, fmt.Sprintf("链 %d 不支持 USDC", toChain))
	}
	return r.BridgeTokens(ctx, Params{
		FromChain:   fromChain,
		ToChain:     toChain,
		FromToken:   fromToken,
		ToToken:     toToken,
		FromAmount:  amount,
		FromAddress: from,
	})
}

// simulatedStepExecutor 不上链，只生成确定性的模拟交易哈希。
type simulatedStepExecutor struct{}

func (s *simulatedStepExecutor) ExecuteStep(_ context.Context, step Step) (common.Hash, error) {
	seed := fmt.Sprintf("step|%s|%d|%s|%s", step.Type, step.Chain, step.Token.Hex(), step.Amount)
	return crypto.Keccak256Hash([]byte(seed)), nil
}

package bridge

import (
	"math/big"
	"time"

	"github.com/google/uuid"

	"AgentFlow/internal/agent"
	xerrors "AgentFlow/internal/errors"
)

// 报价模拟参数：万分之五的桥费，千分之五的滑点保护。
var (
	feeBps      = big.NewInt(5)
	slippageNum = big.NewInt(995)
	bpsDenom    = big.NewInt(10000)
	permille    = big.NewInt(1000)
)

// defaultEstimatedGas 是跨链交易的估算 gas 用量。
var defaultEstimatedGas = big.NewInt(150000)

// 两条 L2 之间的预计结算时长，其余链对取默认值。
const (
	l2PairTime  = 120 * time.Second
	defaultTime = 300 * time.Second
)

// SimulatedQuoter 生成确定性的模拟报价。生产实现应替换为
// 聚合器 API 调用，报价结构保持不变。
type SimulatedQuoter struct {
	bridgeName string
}

// NewSimulatedQuoter 构造模拟报价器。
func NewSimulatedQuoter() *SimulatedQuoter {
	return &SimulatedQuoter{bridgeName: "stargate"}
}

// Quote 实现 Quoter 接口。
func (q *SimulatedQuoter) Quote(params Params) (Quote, error) {
	if params.FromAmount == nil || params.FromAmount.Sign() <= 0 {
		return Quote{}, xerrors.New(xerrors.CodeInvalidArgument, "跨链数量必须为正")
	}
	if params.FromChain == params.ToChain {
		return Quote{}, xerrors.New(xerrors.CodeInvalidArgument, "跨链报价要求源链与目标链不同")
	}
	if !agent.IsSupportedChain(params.FromChain) || !agent.IsSupportedChain(params.ToChain) {
		return Quote{}, xerrors.New(CodeQuoteFailure, "不支持的链")
	}

	fee := new(big.Int).Mul(params.FromAmount, feeBps)
	fee.Div(fee, bpsDenom)
	toAmount := new(big.Int).Sub(params.FromAmount, fee)
	toAmountMin := new(big.Int).Mul(toAmount, slippageNum)
	toAmountMin.Div(toAmountMin, permille)

	return Quote{
		ID:            "quote-" + uuid.NewString(),
		FromChain:     params.FromChain,
		ToChain:       params.ToChain,
		FromToken:     params.FromToken,
		ToToken:       params.ToToken,
		FromAmount:    new(big.Int).Set(params.FromAmount),
		ToAmount:      toAmount,
		ToAmountMin:   toAmountMin,
		Fee:           fee,
		EstimatedGas:  new(big.Int).Set(defaultEstimatedGas),
		EstimatedTime: int64(estimateTime(params.FromChain, params.ToChain).Seconds()),
		BridgeName:    q.bridgeName,
		Steps: []Step{
			{
				Type:     StepApprove,
				Chain:    params.FromChain,
				Token:    params.FromToken,
				Amount:   new(big.Int).Set(params.FromAmount),
				Protocol: "lifi",
			},
			{
				Type:     StepBridge,
				Chain:    params.FromChain,
				Token:    params.FromToken,
				Amount:   new(big.Int).Set(params.FromAmount),
				Protocol: q.bridgeName,
			},
		},
	}, nil
}

// estimateTime 估算两条链之间的结算时长。
func estimateTime(from, to agent.ChainID) time.Duration {
	if agent.IsSupportedChain(from) && agent.IsSupportedChain(to) {
		return l2PairTime
	}
	return defaultTime
}

package bridge

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"AgentFlow/internal/agent"
	xerrors "AgentFlow/internal/errors"
)

// 跨链桥相关错误码。
const (
	CodeQuoteFailure  xerrors.Code = "BRIDGE_QUOTE_FAILURE"
	CodeBridgeFailure xerrors.Code = "BRIDGE_FAILURE"
)

func init() {
	xerrors.Register(CodeQuoteFailure, xerrors.Attributes{
		Message:   "bridge quote failed",
		Severity:  xerrors.SeverityWarning,
		Retryable: true,
		Alert:     false,
	})
	xerrors.Register(CodeBridgeFailure, xerrors.Attributes{
		Message:   "bridge execution failed",
		Severity:  xerrors.SeverityCritical,
		Retryable: true,
		Alert:     true,
	})
}

// StepType 是报价执行步骤的类别。
type StepType string

const (
	StepApprove StepType = "approve"
	StepBridge  StepType = "bridge"
	StepSwap    StepType = "swap"
)

// Params 描述一次跨链请求。
type Params struct {
	FromChain   agent.ChainID
	ToChain     agent.ChainID
	FromToken   common.Address
	ToToken     common.Address
	FromAmount  *big.Int
	FromAddress common.Address
}

// Step 是报价中的一个有序执行步骤。
type Step struct {
	Type     StepType       `json:"type"`
	Chain    agent.ChainID  `json:"chain"`
	Token    common.Address `json:"token"`
	Amount   *big.Int       `json:"amount"`
	Protocol string         `json:"protocol"`
}

// Quote 是跨链报价：产出数额、滑点保护后的最小产出、费用、
// 预计结算时间与有序执行步骤。Steps 的顺序即执行顺序。
type Quote struct {
	ID            string         `json:"id"`
	FromChain     agent.ChainID  `json:"from_chain"`
	ToChain       agent.ChainID  `json:"to_chain"`
	FromToken     common.Address `json:"from_token"`
	ToToken       common.Address `json:"to_token"`
	FromAmount    *big.Int       `json:"from_amount"`
	ToAmount      *big.Int       `json:"to_amount"`
	ToAmountMin   *big.Int       `json:"to_amount_min"`
	Fee           *big.Int       `json:"fee"`
	EstimatedGas  *big.Int       `json:"estimated_gas"`
	EstimatedTime int64          `json:"estimated_time"`
	BridgeName    string         `json:"bridge_name"`
	Steps         []Step         `json:"steps"`
}

// Result 是一次跨链执行的结果。
type Result struct {
	Success    bool        `json:"success"`
	TxHash     common.Hash `json:"tx_hash"`
	FromAmount *big.Int    `json:"from_amount"`
	ToAmount   *big.Int    `json:"to_amount"`
	Error      string      `json:"error,omitempty"`
	ExecutedAt int64       `json:"executed_at"`
}

// Quoter 提供跨链报价。
type Quoter interface {
	Quote(params Params) (Quote, error)
}

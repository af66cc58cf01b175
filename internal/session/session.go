package session

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	xerrors "AgentFlow/internal/errors"
)

// 会话相关错误码。
const (
	CodeSessionState      xerrors.Code = "SESSION_STATE"
	CodeStaleNonce        xerrors.Code = "STALE_NONCE"
	CodeSigningFailure    xerrors.Code = "SIGNING_FAILURE"
	CodeSettlementFailure xerrors.Code = "SETTLEMENT_FAILURE"
)

func init() {
	xerrors.Register(CodeSessionState, xerrors.Attributes{
		Message:   "invalid session state transition",
		Severity:  xerrors.SeverityWarning,
		Retryable: false,
		Alert:     true,
	})
	xerrors.Register(CodeStaleNonce, xerrors.Attributes{
		Message:   "trade nonce is stale",
		Severity:  xerrors.SeverityCritical,
		Retryable: false,
		Alert:     true,
	})
	xerrors.Register(CodeSigningFailure, xerrors.Attributes{
		Message:   "trade signing failed",
		Severity:  xerrors.SeverityWarning,
		Retryable: true,
		Alert:     false,
	})
	xerrors.Register(CodeSettlementFailure, xerrors.Attributes{
		Message:   "session settlement failed",
		Severity:  xerrors.SeverityCritical,
		Retryable: true,
		Alert:     true,
	})
}

// Status 表示会话生命周期状态。状态只能沿
// opening -> active -> settling -> closed 推进，不允许跳跃。
type Status string

const (
	StatusOpening  Status = "opening"
	StatusActive   Status = "active"
	StatusSettling Status = "settling"
	StatusClosed   Status = "closed"
)

// Session 是链下结算上下文。余额只会因为一次成功签名的交易
// 或一次结算而变化；nonce 严格单调递增，每笔成功交易恰好加一。
// 可变字段由 Manager 独占持有，外部只能拿到副本。
type Session struct {
	ID           string         `json:"id"`
	ChannelID    common.Hash    `json:"channel_id"`
	Participant  common.Address `json:"participant"`
	Deposit      *big.Int       `json:"deposit"`
	Balance      *big.Int       `json:"balance"`
	Nonce        uint64         `json:"nonce"`
	Status       Status         `json:"status"`
	CreatedAt    int64          `json:"created_at"`
	LastActivity int64          `json:"last_activity"`
}

// clone 返回会话的深拷贝，大整数字段独立分配。
func (s *Session) clone() *Session {
	if s == nil {
		return nil
	}
	out := *s
	if s.Deposit != nil {
		out.Deposit = new(big.Int).Set(s.Deposit)
	}
	if s.Balance != nil {
		out.Balance = new(big.Int).Set(s.Balance)
	}
	return &out
}

// TradeParams 描述一笔会话内交易。
type TradeParams struct {
	FromToken common.Address `json:"from_token"`
	ToToken   common.Address `json:"to_token"`
	Amount    *big.Int       `json:"amount"`
	MinOutput *big.Int       `json:"min_output"`
	Deadline  int64          `json:"deadline"`
}

// TradeResult 是一次签名交易的结果。Nonce 为交易完成后的下一个 nonce。
type TradeResult struct {
	Success      bool     `json:"success"`
	Nonce        uint64   `json:"nonce"`
	InputAmount  *big.Int `json:"input_amount"`
	OutputAmount *big.Int `json:"output_amount"`
	NewBalance   *big.Int `json:"new_balance"`
	Signature    []byte   `json:"signature"`
	Timestamp    int64    `json:"timestamp"`
}

// SettlementResult 是一次链上结算的结果。
type SettlementResult struct {
	Success      bool        `json:"success"`
	TxHash       common.Hash `json:"tx_hash"`
	FinalBalance *big.Int    `json:"final_balance"`
	SettledAt    int64       `json:"settled_at"`
}

// ChannelState 是通道的权威状态快照。
type ChannelState struct {
	ChannelID common.Hash `json:"channel_id"`
	Balances  [2]*big.Int `json:"balances"`
	Nonce     uint64      `json:"nonce"`
	IsFinal   bool        `json:"is_final"`
}

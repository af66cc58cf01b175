package history

import (
	"math/big"
	"time"

	"github.com/google/uuid"

	"AgentFlow/internal/agent"
	xerrors "AgentFlow/internal/errors"
)

// 执行日志相关错误码。
const (
	CodeRecordNotFound xerrors.Code = "RECORD_NOT_FOUND"
	CodeRecordInvalid  xerrors.Code = "RECORD_INVALID"
)

func init() {
	xerrors.Register(CodeRecordNotFound, xerrors.Attributes{
		Message:   "execution record not found",
		Severity:  xerrors.SeverityInfo,
		Retryable: false,
		Alert:     false,
	})
	xerrors.Register(CodeRecordInvalid, xerrors.Attributes{
		Message:   "execution record invalid",
		Severity:  xerrors.SeverityInfo,
		Retryable: false,
		Alert:     false,
	})
}

// Record 是执行日志中的一条记录：决策及其结果的快照。
// 数额以十进制字符串保存，保证任意精度不丢失。
type Record struct {
	ID         string  `json:"id"`
	DecisionID string  `json:"decision_id"`
	Strategy   string  `json:"strategy"`
	Action     string  `json:"action"`
	FromChain  uint64  `json:"from_chain"`
	ToChain    uint64  `json:"to_chain"`
	FromToken  string  `json:"from_token"`
	ToToken    string  `json:"to_token"`
	Amount     string  `json:"amount"`
	Reason     string  `json:"reason"`
	Confidence float64 `json:"confidence"`
	Priority   int     `json:"priority"`
	Success    bool    `json:"success"`
	TxHash     string  `json:"tx_hash,omitempty"`
	Error      string  `json:"error,omitempty"`
	GasUsed    string  `json:"gas_used,omitempty"`
	ExecutedAt int64   `json:"executed_at"`
	CreatedAt  int64   `json:"created_at"`
}

// NewRecord 把决策与执行结果转换为日志记录。
func NewRecord(decision agent.Decision, result agent.ExecutionResult) *Record {
	record := &Record{
		ID:         uuid.NewString(),
		DecisionID: decision.ID,
		Strategy:   decision.Strategy,
		Action:     string(decision.Action),
		FromChain:  uint64(decision.FromChain),
		ToChain:    uint64(decision.ToChain),
		FromToken:  decision.FromToken.Hex(),
		ToToken:    decision.ToToken.Hex(),
		Reason:     decision.Reason,
		Confidence: decision.Confidence,
		Priority:   decision.Priority,
		Success:    result.Success,
		Error:      result.Error,
		ExecutedAt: result.ExecutedAt,
		CreatedAt:  time.Now().Unix(),
	}
	if decision.Amount != nil {
		record.Amount = decision.Amount.String()
	}
	if result.TxHash != ([32]byte{}) {
		record.TxHash = result.TxHash.Hex()
	}
	if result.GasUsed != nil {
		record.GasUsed = result.GasUsed.String()
	}
	return record
}

// AmountBig 把记录中的数额还原为大整数，非法时返回 false。
func (r *Record) AmountBig() (*big.Int, bool) {
	if r == nil || r.Amount == "" {
		return nil, false
	}
	return new(big.Int).SetString(r.Amount, 10)
}

// Stats 聚合执行日志的统计信息，用于仪表盘或健康检查。
type Stats struct {
	Total           int            `json:"total"`
	Succeeded       int            `json:"succeeded"`
	Failed          int            `json:"failed"`
	ByStrategy      map[string]int `json:"by_strategy,omitempty"`
	OldestCreatedAt int64          `json:"oldest_created_at,omitempty"`
	NewestCreatedAt int64          `json:"newest_created_at,omitempty"`
}

package agent

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// ChainID 标识一条支持的链（如 Base=8453、Arbitrum=42161）。
type ChainID uint64

// Action 表示决策的动作类型。
type Action string

const (
	ActionSwap      Action = "swap"
	ActionBridge    Action = "bridge"
	ActionRebalance Action = "rebalance"
	ActionHold      Action = "hold"
)

// IsValidAction 检查给定的动作是否为支持的枚举值。
func IsValidAction(action Action) bool {
	switch action {
	case ActionSwap, ActionBridge, ActionRebalance, ActionHold:
		return true
	default:
		return false
	}
}

// TokenBalance 描述单个代币在某条链上的持仓。
type TokenBalance struct {
	Token    common.Address `json:"token"`
	Symbol   string         `json:"symbol"`
	Decimals uint8          `json:"decimals"`
	Balance  *big.Int       `json:"balance"`
	ValueUsd float64        `json:"value_usd"`
}

// PortfolioState 是一次完整的持仓快照，构造后不可变。
type PortfolioState struct {
	Address       common.Address            `json:"address"`
	Balances      map[ChainID][]TokenBalance `json:"balances"`
	TotalValueUsd float64                   `json:"total_value_usd"`
	LastUpdated   int64                     `json:"last_updated"`
}

// Balance 返回指定链上指定符号的持仓，不存在时返回 nil。
func (s PortfolioState) Balance(chain ChainID, symbol string) *TokenBalance {
	for i := range s.Balances[chain] {
		if s.Balances[chain][i].Symbol == symbol {
			return &s.Balances[chain][i]
		}
	}
	return nil
}

// Decision 是策略提出的一次行动建议，创建后不再修改。
type Decision struct {
	ID         string         `json:"id"`
	Strategy   string         `json:"strategy"`
	Action     Action         `json:"action"`
	FromChain  ChainID        `json:"from_chain"`
	ToChain    ChainID        `json:"to_chain"`
	FromToken  common.Address `json:"from_token"`
	ToToken    common.Address `json:"to_token"`
	Amount     *big.Int       `json:"amount"`
	Reason     string         `json:"reason"`
	Confidence float64        `json:"confidence"`
	Priority   int            `json:"priority"`
}

// CrossChain 判断决策是否需要跨链执行。
func (d Decision) CrossChain() bool {
	return d.FromChain != d.ToChain
}

// ExecutionResult 汇总一次决策执行的结果。
type ExecutionResult struct {
	Success    bool        `json:"success"`
	TxHash     common.Hash `json:"tx_hash,omitempty"`
	Error      string      `json:"error,omitempty"`
	GasUsed    *big.Int    `json:"gas_used,omitempty"`
	ExecutedAt int64       `json:"executed_at"`
}

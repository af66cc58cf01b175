package agent

import (
	"encoding/json"
	"fmt"
	"math/big"
	"strings"

	xerrors "AgentFlow/internal/errors"
)

// Amount 是以十进制字符串序列化的精确整数金额。
// 配置与接口层禁止使用浮点数表示代币数量。
type Amount struct {
	value big.Int
}

// NewAmount 由 int64 构造金额。
func NewAmount(v int64) Amount {
	var a Amount
	a.value.SetInt64(v)
	return a
}

// AmountFromBig 拷贝一个 big.Int 构造金额。
func AmountFromBig(v *big.Int) Amount {
	var a Amount
	if v != nil {
		a.value.Set(v)
	}
	return a
}

// BigInt 返回金额的 big.Int 拷贝。
func (a Amount) BigInt() *big.Int {
	return new(big.Int).Set(&a.value)
}

// Cmp 比较两个金额。
func (a Amount) Cmp(b Amount) int {
	return a.value.Cmp(&b.value)
}

// String 返回十进制表示。
func (a Amount) String() string {
	return a.value.String()
}

// MarshalJSON 实现 json.Marshaler，始终输出字符串。
func (a Amount) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.value.String())
}

// UnmarshalJSON 实现 json.Unmarshaler，兼容字符串与裸整数两种写法。
func (a *Amount) UnmarshalJSON(data []byte) error {
	text := strings.TrimSpace(string(data))
	if strings.HasPrefix(text, `"`) {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		text = strings.TrimSpace(s)
	}
	if text == "" {
		a.value.SetInt64(0)
		return nil
	}
	if _, ok := a.value.SetString(text, 10); !ok {
		return fmt.Errorf("无法解析金额 %q", text)
	}
	return nil
}

// RebalanceConfig 控制再平衡策略。目标配置以 "链ID:符号" 为键，值为百分比。
type RebalanceConfig struct {
	Enabled            bool               `json:"enabled"`
	TargetAllocations  map[string]float64 `json:"targetAllocations"`
	RebalanceThreshold float64            `json:"rebalanceThreshold"`
}

// ArbitrageConfig 控制跨链套利策略，阈值均以基点表示。
type ArbitrageConfig struct {
	Enabled        bool  `json:"enabled"`
	MinProfitBps   int64 `json:"minProfitBps"`
	MaxSlippageBps int64 `json:"maxSlippageBps"`
}

// YieldConfig 控制收益优化策略。
type YieldConfig struct {
	Enabled   bool     `json:"enabled"`
	MinApy    float64  `json:"minApy"`
	Protocols []string `json:"protocols"`
}

// StrategyConfig 汇总全部策略开关与参数。
type StrategyConfig struct {
	Rebalance RebalanceConfig `json:"rebalance"`
	Arbitrage ArbitrageConfig `json:"arbitrage"`
	Yield     YieldConfig     `json:"yield"`
}

// RiskLimits 是独立于策略置信度的全局风控上限。
type RiskLimits struct {
	MaxTradeSize   Amount  `json:"maxTradeSize"`
	MaxDailyVolume Amount  `json:"maxDailyVolume"`
	MaxSlippage    float64 `json:"maxSlippage"`
}

// SessionConfig 描述链下结算会话的默认参数。
type SessionConfig struct {
	AutoDeposit         bool   `json:"autoDeposit"`
	DepositAmount       Amount `json:"depositAmount"`
	SettlementThreshold Amount `json:"settlementThreshold"`
}

// AgentConfig 是引擎构造时一次性加载的外部配置，生命周期内不可变。
type AgentConfig struct {
	Version       string         `json:"version,omitempty"`
	Name          string         `json:"name,omitempty"`
	Strategies    StrategyConfig `json:"strategies"`
	RiskLimits    RiskLimits     `json:"riskLimits"`
	YellowSession SessionConfig  `json:"yellowSession"`
}

// DefaultConfig 返回文档化的默认配置，配置解析失败时作为兜底。
func DefaultConfig() AgentConfig {
	return AgentConfig{
		Version: "1.0",
		Strategies: StrategyConfig{
			Rebalance: RebalanceConfig{
				Enabled: true,
				TargetAllocations: map[string]float64{
					"8453:USDC":  40,
					"8453:WETH":  30,
					"42161:USDC": 20,
					"42161:WETH": 10,
				},
				RebalanceThreshold: 5,
			},
			Arbitrage: ArbitrageConfig{
				Enabled:        true,
				MinProfitBps:   10,
				MaxSlippageBps: 50,
			},
			Yield: YieldConfig{
				Enabled:   false,
				MinApy:    3,
				Protocols: []string{"aave", "compound"},
			},
		},
		RiskLimits: RiskLimits{
			MaxTradeSize:   NewAmount(1_000_000000),
			MaxDailyVolume: NewAmount(10_000_000000),
			MaxSlippage:    1,
		},
		YellowSession: SessionConfig{
			AutoDeposit:         true,
			DepositAmount:       NewAmount(500_000000),
			SettlementThreshold: NewAmount(100_000000),
		},
	}
}

// ParseConfig 解析并校验 JSON 配置。校验失败返回 CONFIG_INVALID 错误，
// 由调用方决定是否回退到默认配置。
func ParseConfig(data []byte) (AgentConfig, error) {
	var cfg AgentConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return AgentConfig{}, xerrors.Wrap(xerrors.CodeConfigInvalid, err, "解析代理配置失败")
	}
	if err := cfg.Validate(); err != nil {
		return AgentConfig{}, err
	}
	return cfg, nil
}

// Encode 序列化配置，金额字段保持精确的字符串形式。
func (c AgentConfig) Encode() ([]byte, error) {
	return json.MarshalIndent(c, "", "  ")
}

// Validate 检查阈值范围，越界即视为无效配置。
func (c AgentConfig) Validate() error {
	reb := c.Strategies.Rebalance
	if reb.Enabled && (reb.RebalanceThreshold < 1 || reb.RebalanceThreshold > 50) {
		return xerrors.New(xerrors.CodeConfigInvalid,
			fmt.Sprintf("再平衡阈值 %v 超出 [1,50]", reb.RebalanceThreshold))
	}
	arb := c.Strategies.Arbitrage
	if arb.Enabled && (arb.MinProfitBps < 1 || arb.MinProfitBps > 1000) {
		return xerrors.New(xerrors.CodeConfigInvalid,
			fmt.Sprintf("最小套利利润 %d bps 超出 [1,1000]", arb.MinProfitBps))
	}
	if arb.Enabled && (arb.MaxSlippageBps < 1 || arb.MaxSlippageBps > 500) {
		return xerrors.New(xerrors.CodeConfigInvalid,
			fmt.Sprintf("最大滑点 %d bps 超出 [1,500]", arb.MaxSlippageBps))
	}
	yld := c.Strategies.Yield
	if yld.Enabled && (yld.MinApy < 0 || yld.MinApy > 100) {
		return xerrors.New(xerrors.CodeConfigInvalid,
			fmt.Sprintf("最低 APY %v 超出 [0,100]", yld.MinApy))
	}
	if c.RiskLimits.MaxTradeSize.BigInt().Sign() <= 0 {
		return xerrors.New(xerrors.CodeConfigInvalid, "最大单笔额度必须为正数")
	}
	if c.RiskLimits.MaxDailyVolume.BigInt().Sign() <= 0 {
		return xerrors.New(xerrors.CodeConfigInvalid, "最大日交易量必须为正数")
	}
	return nil
}

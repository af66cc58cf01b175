package web3

import (
	"context"
	"fmt"
	"math"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"AgentFlow/internal/agent"
	xerrors "AgentFlow/internal/errors"
)

// ClientSource resolves a chain client for a numeric chain identifier.
// Implemented by the provider registry.
type ClientSource interface {
	ClientForChain(chain agent.ChainID) (Client, bool)
}

// TokenSpec names a token tracked per chain when building snapshots.
type TokenSpec struct {
	Symbol   string
	Decimals uint8
}

// PriceFunc returns an advisory USD price for a token symbol.
type PriceFunc func(symbol string) float64

// defaultTrackedTokens 是每条链默认跟踪的代币。
var defaultTrackedTokens = []TokenSpec{
	{Symbol: "USDC", Decimals: 6},
	{Symbol: "WETH", Decimals: 18},
}

// defaultPrices 是演示用的静态估值，USD 价值仅作参考，
// 决策中的数额始终使用精确整数单位。
func defaultPrices(symbol string) float64 {
	switch symbol {
	case "USDC":
		return 1
	case "WETH":
		return 2000
	default:
		return 0
	}
}

// PortfolioSource 周期性地从各链客户端读取余额，拼装组合快照。
// 满足引擎的状态提供者契约。
type PortfolioSource struct {
	clients ClientSource
	owner   common.Address
	tokens  []TokenSpec
	price   PriceFunc
	now     func() time.Time
}

// PortfolioOption 定义可选配置。
type PortfolioOption func(*PortfolioSource)

// WithTrackedTokens 覆盖默认跟踪的代币列表。
func WithTrackedTokens(tokens []TokenSpec) PortfolioOption {
	return func(p *PortfolioSource) {
		if len(tokens) > 0 {
			p.tokens = tokens
		}
	}
}

// WithPriceFunc 覆盖估值函数。
func WithPriceFunc(price PriceFunc) PortfolioOption {
	return func(p *PortfolioSource) {
		if price != nil {
			p.price = price
		}
	}
}

// NewPortfolioSource 构造组合快照提供者。
func NewPortfolioSource(clients ClientSource, owner common.Address, opts ...PortfolioOption) *PortfolioSource {
	p := &PortfolioSource{
		clients: clients,
		owner:   owner,
		tokens:  defaultTrackedTokens,
		price:   defaultPrices,
		now:     time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p
}

// FetchState 读取所有受支持链上跟踪代币的余额。单条链读取失败
// 会使整个快照失败：决策必须建立在完整的组合视图上。
func (p *PortfolioSource) FetchState(ctx context.Context) (agent.PortfolioState, error) {
	if p.clients == nil {
		return agent.PortfolioState{}, xerrors.New(xerrors.CodeInitializationFailure, "未配置链客户端来源")
	}

	state := agent.PortfolioState{
		Address:     p.owner,
		Balances:    make(map[agent.ChainID][]agent.TokenBalance),
		LastUpdated: p.now().Unix(),
	}
	for _, chain := range agent.SupportedChains {
		client, ok := p.clients.ClientForChain(chain)
		if !ok {
			continue
		}
		for _, spec := range p.tokens {
			addr, ok := agent.TokenAddress(chain, spec.Symbol)
			if !ok {
				continue
			}
			balance, err := client.TokenBalance(ctx, addr, p.owner)
			if err != nil {
				return agent.PortfolioState{}, xerrors.Wrap(xerrors.CodeChainFailure, err,
					fmt.Sprintf("读取链 %d 上 %s 余额失败", chain, spec.Symbol))
			}
			valueUsd := tokenValueUsd(balance, spec.Decimals, p.price(spec.Symbol))
			state.Balances[chain] = append(state.Balances[chain], agent.TokenBalance{
				Token:    addr,
				Symbol:   spec.Symbol,
				Decimals: spec.Decimals,
				Balance:  balance,
				ValueUsd: valueUsd,
			})
			state.TotalValueUsd += valueUsd
		}
	}
	return state, nil
}

// tokenValueUsd 将整数余额折算为参考 USD 价值。
func tokenValueUsd(balance *big.Int, decimals uint8, price float64) float64 {
	if balance == nil || balance.Sign() == 0 || price == 0 {
		return 0
	}
	value, _ := new(big.Float).SetInt(balance).Float64()
	return value / math.Pow10(int(decimals)) * price
}

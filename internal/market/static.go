package market

import (
	"encoding/json"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"AgentFlow/internal/agent"
	"AgentFlow/internal/strategy"
)

// PriceEntry 描述静态数据文件中的一条价格。
type PriceEntry struct {
	Chain     uint64 `json:"chain"`
	Base      string `json:"base"`
	Quote     string `json:"quote"`
	Price     string `json:"price"`
	Liquidity string `json:"liquidity"`
}

// YieldEntry 描述静态数据文件中的一个收益机会。
type YieldEntry struct {
	Protocol string `json:"protocol"`
	Chain    uint64 `json:"chain"`
	Token    string `json:"token"`
	Apy      float64 `json:"apy"`
	Tvl      string `json:"tvl"`
}

// Data 是静态行情文件的顶层结构。
type Data struct {
	Prices []PriceEntry `json:"prices"`
	Yields []YieldEntry `json:"yields"`
}

type priceKey struct {
	chain agent.ChainID
	pair  string
}

// StaticSource 从 JSON 文件加载行情快照，同时充当价格源与收益源。
// 数据在加载后可通过 Update 原子替换，供运维脚本刷新行情。
type StaticSource struct {
	mu     sync.RWMutex
	prices map[priceKey]strategy.PriceQuote
	yields []strategy.YieldOpportunity
}

// NewStaticSource 由内存数据构造行情源。
func NewStaticSource(data Data) *StaticSource {
	s := &StaticSource{}
	s.Update(data)
	return s
}

// LoadStaticSource 从 JSON 文件加载行情数据。
func LoadStaticSource(path string) (*StaticSource, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("行情文件路径不能为空")
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("解析行情文件路径失败: %w", err)
	}

	file, err := os.Open(absPath)
	if err != nil {
		return nil, fmt.Errorf("读取行情文件失败: %w", err)
	}
	defer file.Close()

	var data Data
	if err := json.NewDecoder(file).Decode(&data); err != nil {
		return nil, fmt.Errorf("解析行情文件失败: %w", err)
	}

	return NewStaticSource(data), nil
}

// Update 原子替换全部行情数据。
func (s *StaticSource) Update(data Data) {
	prices := make(map[priceKey]strategy.PriceQuote, len(data.Prices))
	for _, entry := range data.Prices {
		price, ok := new(big.Int).SetString(entry.Price, 10)
		if !ok || price.Sign() <= 0 {
			continue
		}
		liquidity, ok := new(big.Int).SetString(entry.Liquidity, 10)
		if !ok {
			liquidity = new(big.Int)
		}
		key := priceKey{
			chain: agent.ChainID(entry.Chain),
			pair:  pairOf(entry.Base, entry.Quote),
		}
		prices[key] = strategy.PriceQuote{
			Chain:     agent.ChainID(entry.Chain),
			Price:     price,
			Liquidity: liquidity,
		}
	}

	yields := make([]strategy.YieldOpportunity, 0, len(data.Yields))
	for _, entry := range data.Yields {
		tvl, ok := new(big.Int).SetString(entry.Tvl, 10)
		if !ok {
			tvl = new(big.Int)
		}
		yields = append(yields, strategy.YieldOpportunity{
			Protocol: strings.ToLower(strings.TrimSpace(entry.Protocol)),
			Chain:    agent.ChainID(entry.Chain),
			Token:    strings.ToUpper(strings.TrimSpace(entry.Token)),
			Apy:      entry.Apy,
			Tvl:      tvl,
		})
	}

	s.mu.Lock()
	s.prices = prices
	s.yields = yields
	s.mu.Unlock()
}

// ReferencePrice 实现 strategy.PriceSource。
func (s *StaticSource) ReferencePrice(chain agent.ChainID, base, quote string) (strategy.PriceQuote, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.prices[priceKey{chain: chain, pair: pairOf(base, quote)}]
	return entry, ok
}

// Opportunities 实现 strategy.YieldSource。
func (s *StaticSource) Opportunities() []strategy.YieldOpportunity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]strategy.YieldOpportunity, len(s.yields))
	copy(out, s.yields)
	return out
}

func pairOf(base, quote string) string {
	return strings.ToUpper(strings.TrimSpace(base)) + "/" + strings.ToUpper(strings.TrimSpace(quote))
}

var (
	_ strategy.PriceSource = (*StaticSource)(nil)
	_ strategy.YieldSource = (*StaticSource)(nil)
)

package market

import (
	"os"
	"path/filepath"
	"testing"
)

func sampleData() Data {
	return Data{
		Prices: []PriceEntry{
			{Chain: 8453, Base: "WETH", Quote: "USDC", Price: "2000000000", Liquidity: "500000000000"},
			{Chain: 42161, Base: "weth", Quote: "usdc", Price: "2004000000", Liquidity: "400000000000"},
		},
		Yields: []YieldEntry{
			{Protocol: "Aave", Chain: 8453, Token: "usdc", Apy: 4.2, Tvl: "120000000000000"},
		},
	}
}

func TestStaticSourceReferencePrice(t *testing.T) {
	source := NewStaticSource(sampleData())

	quote, ok := source.ReferencePrice(8453, "WETH", "USDC")
	if !ok {
		t.Fatal("应当返回 Base 链报价")
	}
	if quote.Price.String() != "2000000000" {
		t.Fatalf("报价不符: %s", quote.Price)
	}

	// 大小写不敏感。
	if _, ok := source.ReferencePrice(42161, "weth", "USDC"); !ok {
		t.Fatal("币对匹配应当忽略大小写")
	}

	if _, ok := source.ReferencePrice(8453, "WETH", "DAI"); ok {
		t.Fatal("未配置的币对不应返回报价")
	}
}

func TestStaticSourceOpportunities(t *testing.T) {
	source := NewStaticSource(sampleData())

	opportunities := source.Opportunities()
	if len(opportunities) != 1 {
		t.Fatalf("期望 1 个收益机会, 实际 %d", len(opportunities))
	}
	if opportunities[0].Protocol != "aave" || opportunities[0].Token != "USDC" {
		t.Fatalf("收益机会未规整: %+v", opportunities[0])
	}
}

func TestStaticSourceSkipsInvalidPrices(t *testing.T) {
	source := NewStaticSource(Data{
		Prices: []PriceEntry{
			{Chain: 8453, Base: "WETH", Quote: "USDC", Price: "not-a-number"},
			{Chain: 8453, Base: "WETH", Quote: "USDC", Price: "-1"},
		},
	})
	if _, ok := source.ReferencePrice(8453, "WETH", "USDC"); ok {
		t.Fatal("非法价格条目应当被跳过")
	}
}

func TestLoadStaticSourceFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "market.json")
	content := `{"prices":[{"chain":8453,"base":"WETH","quote":"USDC","price":"2000000000","liquidity":"1"}],"yields":[]}`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("写入临时文件失败: %v", err)
	}

	source, err := LoadStaticSource(path)
	if err != nil {
		t.Fatalf("加载行情文件失败: %v", err)
	}
	if _, ok := source.ReferencePrice(8453, "WETH", "USDC"); !ok {
		t.Fatal("文件中的报价应当可用")
	}

	if _, err := LoadStaticSource(filepath.Join(dir, "missing.json")); err == nil {
		t.Fatal("缺失文件应当返回错误")
	}
}

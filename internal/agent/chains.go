package agent

import "github.com/ethereum/go-ethereum/common"

// 当前支持的两条链。
const (
	ChainBase     ChainID = 8453
	ChainArbitrum ChainID = 42161
)

// SupportedChains 按固定顺序列出所有支持的链。
var SupportedChains = []ChainID{ChainBase, ChainArbitrum}

// 各链上的常用代币地址。
var tokenAddresses = map[ChainID]map[string]common.Address{
	ChainBase: {
		"USDC": common.HexToAddress("0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913"),
		"WETH": common.HexToAddress("0x4200000000000000000000000000000000000006"),
	},
	ChainArbitrum: {
		"USDC": common.HexToAddress("0xaf88d065e77c8cC2239327C5EDb3A432268e5831"),
		"WETH": common.HexToAddress("0x82aF49447D8a07e3bd95BD0d56f35241523fBab1"),
	},
}

// TokenAddress 返回指定链上代币符号对应的合约地址。
func TokenAddress(chain ChainID, symbol string) (common.Address, bool) {
	tokens, ok := tokenAddresses[chain]
	if !ok {
		return common.Address{}, false
	}
	addr, ok := tokens[symbol]
	return addr, ok
}

// IsSupportedChain 判断链是否受支持。
func IsSupportedChain(chain ChainID) bool {
	_, ok := tokenAddresses[chain]
	return ok
}

package web3

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// ChainSnapshot represents summarized network metadata for reporting.
type ChainSnapshot struct {
	ChainID     string
	BlockNumber string
	Notes       string
}

// RegistryStatus mirrors the on-chain agent registry entry: whether the
// agent address is authorized to trade and the contract-enforced limits.
// Read-only from the core's perspective.
type RegistryStatus struct {
	Authorized       bool
	MaxSwapAmount    *big.Int
	DailyVolumeLimit *big.Int
}

// Client defines the common interface that any chain implementation must
// provide so higher layers can read portfolio and registry state uniformly.
type Client interface {
	FetchChainSnapshot(ctx context.Context) (ChainSnapshot, error)
	NativeBalance(ctx context.Context, owner common.Address) (*big.Int, error)
	TokenBalance(ctx context.Context, token, owner common.Address) (*big.Int, error)
	RegistryStatus(ctx context.Context, registry, agent common.Address) (RegistryStatus, error)
	ResolveText(ctx context.Context, name, key string) (string, error)
	Close()
}

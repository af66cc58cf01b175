package provider

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"AgentFlow/internal/agent"
	"AgentFlow/internal/config"
)

func TestNewRegistryLoadsShippedChainConfig(t *testing.T) {
	registry, err := NewRegistry(context.Background(), config.Web3Config{
		ChainConfig:  filepath.Join("..", "..", "..", "configs", "chain.yaml"),
		DefaultChain: "base",
	})
	if err != nil {
		t.Fatalf("load shipped chain config: %v", err)
	}
	defer registry.Close()

	chains := registry.Chains()
	if len(chains) != 2 || chains[0] != "arbitrum" || chains[1] != "base" {
		t.Fatalf("unexpected chains: %v", chains)
	}
	if _, ok := registry.ClientForChain(agent.ChainBase); !ok {
		t.Fatal("base chain client not indexed by chain id")
	}
	if _, ok := registry.ClientForChain(agent.ChainArbitrum); !ok {
		t.Fatal("arbitrum chain client not indexed by chain id")
	}
	if registry.DefaultChain() != "base" {
		t.Fatalf("unexpected default chain: %s", registry.DefaultChain())
	}
	if _, err := registry.DefaultClient(); err != nil {
		t.Fatalf("default client: %v", err)
	}
	// 出厂配置的注册合约是零地址，不应被收录。
	if _, ok := registry.RegistryContract("base"); ok {
		t.Fatal("zero registry address must not be recorded")
	}
}

func TestNewRegistryAcceptsTypeAliases(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chain.yaml")
	content := `chains:
  alpha:
    type: ethereum
    chain_id: 8453
    rpc_url: http://127.0.0.1:8545
    registry: "0x00000000000000000000000000000000000000aa"
  beta:
    type: evm
    chain_id: 42161
    rpc_url: http://127.0.0.1:8546
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	registry, err := NewRegistry(context.Background(), config.Web3Config{ChainConfig: path})
	if err != nil {
		t.Fatalf("both type spellings must be accepted: %v", err)
	}
	defer registry.Close()

	if len(registry.Chains()) != 2 {
		t.Fatalf("unexpected chains: %v", registry.Chains())
	}
	addr, ok := registry.RegistryContract("alpha")
	if !ok {
		t.Fatal("alpha registry contract missing")
	}
	if addr != common.HexToAddress("0x00000000000000000000000000000000000000aa") {
		t.Fatalf("unexpected registry address: %s", addr.Hex())
	}
}

func TestNewRegistryRejectsUnknownChainType(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chain.yaml")
	content := `chains:
  solana:
    type: svm
    chain_id: 1
    rpc_url: http://127.0.0.1:8899
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	if _, err := NewRegistry(context.Background(), config.Web3Config{ChainConfig: path}); err == nil {
		t.Fatal("expected an error for an unsupported chain type")
	}
}

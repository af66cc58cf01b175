package web3

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"AgentFlow/internal/agent"
)

// fakeClient 给所有代币返回固定余额。
type fakeClient struct {
	balance *big.Int
	err     error
}

func (c *fakeClient) FetchChainSnapshot(_ context.Context) (ChainSnapshot, error) {
	return ChainSnapshot{}, nil
}

func (c *fakeClient) NativeBalance(_ context.Context, _ common.Address) (*big.Int, error) {
	return big.NewInt(0), nil
}

func (c *fakeClient) TokenBalance(_ context.Context, _, _ common.Address) (*big.Int, error) {
	return c.balance, c.err
}

func (c *fakeClient) RegistryStatus(_ context.Context, _, _ common.Address) (RegistryStatus, error) {
	return RegistryStatus{}, nil
}

func (c *fakeClient) ResolveText(_ context.Context, _, _ string) (string, error) {
	return "", nil
}

func (c *fakeClient) Close() {}

type fakeSource struct {
	clients map[agent.ChainID]Client
}

func (s *fakeSource) ClientForChain(chain agent.ChainID) (Client, bool) {
	client, ok := s.clients[chain]
	return client, ok
}

func TestFetchStateAggregatesChains(t *testing.T) {
	source := &fakeSource{clients: map[agent.ChainID]Client{
		agent.ChainBase:     &fakeClient{balance: big.NewInt(100_000000)},
		agent.ChainArbitrum: &fakeClient{balance: big.NewInt(50_000000)},
	}}
	p := NewPortfolioSource(source, common.Address{},
		WithTrackedTokens([]TokenSpec{{Symbol: "USDC", Decimals: 6}}))

	state, err := p.FetchState(context.Background())
	if err != nil {
		t.Fatalf("fetch state: %v", err)
	}
	if len(state.Balances[agent.ChainBase]) != 1 || len(state.Balances[agent.ChainArbitrum]) != 1 {
		t.Fatalf("expected one tracked token per chain, got %+v", state.Balances)
	}
	// 100 + 50 USDC，USDC 估值 1 美元。
	if state.TotalValueUsd != 150 {
		t.Fatalf("unexpected total value: %v", state.TotalValueUsd)
	}
}

func TestFetchStateFailsOnPartialRead(t *testing.T) {
	source := &fakeSource{clients: map[agent.ChainID]Client{
		agent.ChainBase:     &fakeClient{balance: big.NewInt(100_000000)},
		agent.ChainArbitrum: &fakeClient{err: errors.New("rpc timeout")},
	}}
	p := NewPortfolioSource(source, common.Address{})

	if _, err := p.FetchState(context.Background()); err == nil {
		t.Fatalf("partial reads must fail the whole snapshot")
	}
}

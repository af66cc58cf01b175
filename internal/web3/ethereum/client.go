package ethereum

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"AgentFlow/internal/web3"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	gethrpc "github.com/ethereum/go-ethereum/rpc"
)

// ensRegistryAddress is the canonical ENS registry deployment.
var ensRegistryAddress = common.HexToAddress("0x00000000000C2E074eC69A0dFb2997BA6C7d2e1e")

const erc20ABI = `[{"constant":true,"inputs":[{"name":"owner","type":"address"}],"name":"balanceOf","outputs":[{"name":"","type":"uint256"}],"type":"function"}]`

const ensRegistryABI = `[{"constant":true,"inputs":[{"name":"node","type":"bytes32"}],"name":"resolver","outputs":[{"name":"","type":"address"}],"type":"function"}]`

const ensResolverABI = `[{"constant":true,"inputs":[{"name":"node","type":"bytes32"},{"name":"key","type":"string"}],"name":"text","outputs":[{"name":"","type":"string"}],"type":"function"}]`

const agentRegistryABI = `[{"constant":true,"inputs":[{"name":"agent","type":"address"}],"name":"agents","outputs":[{"name":"authorized","type":"bool"},{"name":"maxSwapAmount","type":"uint256"},{"name":"dailyVolumeLimit","type":"uint256"}],"type":"function"}]`

// Config describes how to construct an EVM compatible client.
type Config struct {
	Name    string
	RPCURL  string
	WSURL   string
	ChainID uint64
	Notes   string
}

// caller mirrors the subset of ethclient methods the client needs,
// so tests can substitute a fake backend.
type caller interface {
	ChainID(ctx context.Context) (*big.Int, error)
	BlockNumber(ctx context.Context) (uint64, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// Client implements the web3.Client interface for EVM compatible chains.
type Client struct {
	name      string
	notes     string
	rpcClient *gethrpc.Client
	backend   caller

	erc20    abi.ABI
	registry abi.ABI
	resolver abi.ABI
	agents   abi.ABI

	mu sync.Mutex
}

// NewClient dials the configured RPC endpoint and returns a ready-to-use client.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	rpcURL := strings.TrimSpace(cfg.RPCURL)
	if rpcURL == "" {
		return nil, errors.New("未配置以太坊 RPC 地址")
	}

	rpcClient, err := gethrpc.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("连接以太坊节点失败: %w", err)
	}

	c := &Client{
		name:      cfg.Name,
		notes:     cfg.Notes,
		rpcClient: rpcClient,
		backend:   ethclient.NewClient(rpcClient),
	}
	if err := c.parseABIs(); err != nil {
		rpcClient.Close()
		return nil, err
	}
	return c, nil
}

// NewBackendClient wraps an existing backend, used by tests.
func NewBackendClient(name string, backend caller) (*Client, error) {
	c := &Client{name: name, backend: backend, notes: "injected backend"}
	if err := c.parseABIs(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Client) parseABIs() error {
	for _, entry := range []struct {
		target *abi.ABI
		source string
	}{
		{&c.erc20, erc20ABI},
		{&c.registry, ensRegistryABI},
		{&c.resolver, ensResolverABI},
		{&c.agents, agentRegistryABI},
	} {
		parsed, err := abi.JSON(strings.NewReader(entry.source))
		if err != nil {
			return fmt.Errorf("解析 ABI 失败: %w", err)
		}
		*entry.target = parsed
	}
	return nil
}

// Close releases network connections held by the client.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.rpcClient != nil {
		c.rpcClient.Close()
		c.rpcClient = nil
	}
	c.backend = nil
}

// FetchChainSnapshot gathers lightweight metadata from the chain.
func (c *Client) FetchChainSnapshot(ctx context.Context) (web3.ChainSnapshot, error) {
	backend, err := c.activeBackend()
	if err != nil {
		return web3.ChainSnapshot{}, err
	}
	chainID, err := backend.ChainID(ctx)
	if err != nil {
		return web3.ChainSnapshot{}, fmt.Errorf("获取链 ID 失败: %w", err)
	}
	blockNumber, err := backend.BlockNumber(ctx)
	if err != nil {
		return web3.ChainSnapshot{}, fmt.Errorf("获取最新区块高度失败: %w", err)
	}
	return web3.ChainSnapshot{
		ChainID:     toHexBig(chainID),
		BlockNumber: fmt.Sprintf("0x%x", blockNumber),
		Notes:       c.notes,
	}, nil
}

// NativeBalance returns the owner's native token balance.
func (c *Client) NativeBalance(ctx context.Context, owner common.Address) (*big.Int, error) {
	backend, err := c.activeBackend()
	if err != nil {
		return nil, err
	}
	balance, err := backend.BalanceAt(ctx, owner, nil)
	if err != nil {
		return nil, fmt.Errorf("查询原生余额失败: %w", err)
	}
	return balance, nil
}

// TokenBalance reads an ERC-20 balance via eth_call.
func (c *Client) TokenBalance(ctx context.Context, token, owner common.Address) (*big.Int, error) {
	backend, err := c.activeBackend()
	if err != nil {
		return nil, err
	}
	input, err := c.erc20.Pack("balanceOf", owner)
	if err != nil {
		return nil, fmt.Errorf("编码 balanceOf 调用失败: %w", err)
	}
	output, err := backend.CallContract(ctx, ethereum.CallMsg{To: &token, Data: input}, nil)
	if err != nil {
		return nil, fmt.Errorf("查询代币余额失败: %w", err)
	}
	values, err := c.erc20.Unpack("balanceOf", output)
	if err != nil {
		return nil, fmt.Errorf("解码 balanceOf 返回失败: %w", err)
	}
	balance, ok := values[0].(*big.Int)
	if !ok {
		return nil, errors.New("balanceOf 返回类型异常")
	}
	return balance, nil
}

// RegistryStatus reads the agent registry entry for the given address.
func (c *Client) RegistryStatus(ctx context.Context, registry, agent common.Address) (web3.RegistryStatus, error) {
	backend, err := c.activeBackend()
	if err != nil {
		return web3.RegistryStatus{}, err
	}
	input, err := c.agents.Pack("agents", agent)
	if err != nil {
		return web3.RegistryStatus{}, fmt.Errorf("编码注册表调用失败: %w", err)
	}
	output, err := backend.CallContract(ctx, ethereum.CallMsg{To: &registry, Data: input}, nil)
	if err != nil {
		return web3.RegistryStatus{}, fmt.Errorf("查询注册表失败: %w", err)
	}
	values, err := c.agents.Unpack("agents", output)
	if err != nil {
		return web3.RegistryStatus{}, fmt.Errorf("解码注册表返回失败: %w", err)
	}
	if len(values) != 3 {
		return web3.RegistryStatus{}, errors.New("注册表返回字段数量异常")
	}
	authorized, _ := values[0].(bool)
	maxSwap, _ := values[1].(*big.Int)
	dailyLimit, _ := values[2].(*big.Int)
	return web3.RegistryStatus{
		Authorized:       authorized,
		MaxSwapAmount:    maxSwap,
		DailyVolumeLimit: dailyLimit,
	}, nil
}

// ResolveText resolves an ENS text record: namehash the name, look up the
// resolver in the registry, then query the text record on the resolver.
func (c *Client) ResolveText(ctx context.Context, name, key string) (string, error) {
	backend, err := c.activeBackend()
	if err != nil {
		return "", err
	}
	node := Namehash(name)

	input, err := c.registry.Pack("resolver", node)
	if err != nil {
		return "", fmt.Errorf("编码 resolver 调用失败: %w", err)
	}
	output, err := backend.CallContract(ctx, ethereum.CallMsg{To: &ensRegistryAddress, Data: input}, nil)
	if err != nil {
		return "", fmt.Errorf("查询解析器失败: %w", err)
	}
	values, err := c.registry.Unpack("resolver", output)
	if err != nil {
		return "", fmt.Errorf("解码解析器地址失败: %w", err)
	}
	resolverAddr, ok := values[0].(common.Address)
	if !ok || resolverAddr == (common.Address{}) {
		return "", fmt.Errorf("名称 %s 未配置解析器", name)
	}

	input, err = c.resolver.Pack("text", node, key)
	if err != nil {
		return "", fmt.Errorf("编码 text 调用失败: %w", err)
	}
	output, err = backend.CallContract(ctx, ethereum.CallMsg{To: &resolverAddr, Data: input}, nil)
	if err != nil {
		return "", fmt.Errorf("查询文本记录失败: %w", err)
	}
	values, err = c.resolver.Unpack("text", output)
	if err != nil {
		return "", fmt.Errorf("解码文本记录失败: %w", err)
	}
	text, _ := values[0].(string)
	return text, nil
}

func (c *Client) activeBackend() (caller, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.backend == nil {
		return nil, errors.New("未初始化的以太坊客户端")
	}
	return c.backend, nil
}

// Namehash implements the ENS name hashing algorithm (EIP-137).
func Namehash(name string) [32]byte {
	var node [32]byte
	if name == "" {
		return node
	}
	labels := strings.Split(strings.ToLower(name), ".")
	for i := len(labels) - 1; i >= 0; i-- {
		labelHash := crypto.Keccak256([]byte(labels[i]))
		node = [32]byte(crypto.Keccak256(node[:], labelHash))
	}
	return node
}

func toHexBig(n *big.Int) string {
	if n == nil {
		return "0x0"
	}
	return "0x" + n.Text(16)
}

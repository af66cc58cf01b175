package session

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	xerrors "AgentFlow/internal/errors"
)

// Client 定义会话底层的协议操作：开通道、签名交易、提交结算。
// 生产实现对接清算所合约，测试与演示使用本地模拟实现。
type Client interface {
	OpenChannel(ctx context.Context, deposit *big.Int) (common.Hash, error)
	ChannelState(ctx context.Context, channelID common.Hash) (ChannelState, error)
	SignTrade(ctx context.Context, params TradeParams, nonce uint64, balance *big.Int) (TradeResult, error)
	SettleChannel(ctx context.Context, channelID common.Hash, final ChannelState) (common.Hash, error)
}

// tradeMessage 是参与签名的规范化交易消息。字段顺序固定，
// 数额以十进制字符串编码，保证双方可以逐字节复现。
type tradeMessage struct {
	FromToken string `json:"fromToken"`
	ToToken   string `json:"toToken"`
	Amount    string `json:"amount"`
	MinOutput string `json:"minOutput"`
	Deadline  int64  `json:"deadline"`
	Nonce     string `json:"nonce"`
}

// EncodeTradeMessage 生成待签名的规范化交易消息字节。
func EncodeTradeMessage(params TradeParams, nonce uint64) ([]byte, error) {
	msg := tradeMessage{
		FromToken: params.FromToken.Hex(),
		ToToken:   params.ToToken.Hex(),
		Amount:    params.Amount.String(),
		MinOutput: params.MinOutput.String(),
		Deadline:  params.Deadline,
		Nonce:     fmt.Sprintf("%d", nonce),
	}
	return json.Marshal(msg)
}

// SigningClient 是本地模拟的会话客户端：用 secp256k1 私钥对交易消息
// 做个人签名，同时扮演对手方，维护通道记录的 nonce 并拒绝重放。
// 通道开仓与结算不上链，只生成确定性的模拟交易哈希。
type SigningClient struct {
	key         *ecdsa.PrivateKey
	participant common.Address

	// mu 保护通道账本。recordedNonce 是通道已确认的下一个期望 nonce，
	// 落后于它的签名请求一律视为重放。
	mu            sync.Mutex
	channelID     common.Hash
	deposit       *big.Int
	recordedNonce uint64
	final         bool

	now func() time.Time
}

// NewSigningClient 用给定私钥构造模拟客户端。
func NewSigningClient(key *ecdsa.PrivateKey) (*SigningClient, error) {
	if key == nil {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "未提供签名私钥")
	}
	return &SigningClient{
		key:         key,
		participant: crypto.PubkeyToAddress(key.PublicKey),
		deposit:     new(big.Int),
		now:         time.Now,
	}, nil
}

// Participant 返回签名者地址。
func (c *SigningClient) Participant() common.Address {
	return c.participant
}

// OpenChannel 模拟开仓：记录押金并返回由押金与时间派生的通道标识。
func (c *SigningClient) OpenChannel(_ context.Context, deposit *big.Int) (common.Hash, error) {
	if deposit == nil || deposit.Sign() <= 0 {
		return common.Hash{}, xerrors.New(xerrors.CodeInvalidArgument, "押金必须为正")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	seed := fmt.Sprintf("channel|%s|%s|%d", c.participant.Hex(), deposit.String(), c.now().UnixNano())
	c.channelID = crypto.Keccak256Hash([]byte(seed))
	c.deposit = new(big.Int).Set(deposit)
	c.recordedNonce = 0
	c.final = false
	return c.channelID, nil
}

// ChannelState 返回通道当前的权威状态。
func (c *SigningClient) ChannelState(_ context.Context, channelID common.Hash) (ChannelState, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if channelID != c.channelID {
		return ChannelState{}, xerrors.New(xerrors.CodeNotFound,
			fmt.Sprintf("未知通道 %s", channelID.Hex()))
	}
	return ChannelState{
		ChannelID: c.channelID,
		Balances:  [2]*big.Int{new(big.Int).Set(c.deposit), new(big.Int)},
		Nonce:     c.recordedNonce,
		IsFinal:   c.final,
	}, nil
}

// SignTrade 以当前 nonce 签名交易消息并推进通道账本。
// nonce 落后于通道记录视为重放，超前视为乱序，均拒绝且不产生任何状态变化。
func (c *SigningClient) SignTrade(_ context.Context, params TradeParams, nonce uint64, balance *big.Int) (TradeResult, error) {
	if params.Amount == nil || params.Amount.Sign() <= 0 {
		return TradeResult{}, xerrors.New(xerrors.CodeInvalidArgument, "交易数量必须为正")
	}
	if balance == nil || balance.Cmp(params.Amount) < 0 {
		return TradeResult{}, xerrors.New(xerrors.CodeInvalidArgument, "会话余额不足")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.final {
		return TradeResult{}, xerrors.New(CodeSessionState, "通道已终结，无法继续交易")
	}
	if nonce < c.recordedNonce {
		return TradeResult{}, xerrors.New(CodeStaleNonce,
			fmt.Sprintf("nonce %d 已过期，通道当前为 %d", nonce, c.recordedNonce))
	}
	if nonce > c.recordedNonce {
		return TradeResult{}, xerrors.New(CodeStaleNonce,
			fmt.Sprintf("nonce %d 超前于通道当前的 %d", nonce, c.recordedNonce))
	}

	message, err := EncodeTradeMessage(params, nonce)
	if err != nil {
		return TradeResult{}, xerrors.Wrap(CodeSigningFailure, err, "编码交易消息失败")
	}
	signature, err := crypto.Sign(accounts.TextHash(message), c.key)
	if err != nil {
		return TradeResult{}, xerrors.Wrap(CodeSigningFailure, err, "签名交易消息失败")
	}

	// 简化的链下定价：固定 1% 滑点。生产实现应查询 DEX 报价。
	output := new(big.Int).Mul(params.Amount, big.NewInt(99))
	output.Div(output, big.NewInt(100))
	if params.MinOutput != nil && output.Cmp(params.MinOutput) < 0 {
		return TradeResult{}, xerrors.New(CodeSigningFailure,
			fmt.Sprintf("产出 %s 低于最小产出 %s", output, params.MinOutput))
	}

	newBalance := new(big.Int).Sub(balance, params.Amount)
	newBalance.Add(newBalance, output)

	c.recordedNonce = nonce + 1
	return TradeResult{
		Success:      true,
		Nonce:        nonce + 1,
		InputAmount:  new(big.Int).Set(params.Amount),
		OutputAmount: output,
		NewBalance:   newBalance,
		Signature:    signature,
		Timestamp:    c.now().Unix(),
	}, nil
}

// SettleChannel 模拟结算：标记通道终结并返回模拟交易哈希。
func (c *SigningClient) SettleChannel(_ context.Context, channelID common.Hash, final ChannelState) (common.Hash, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if channelID != c.channelID {
		return common.Hash{}, xerrors.New(xerrors.CodeNotFound,
			fmt.Sprintf("未知通道 %s", channelID.Hex()))
	}
	if !final.IsFinal {
		return common.Hash{}, xerrors.New(CodeSettlementFailure, "结算状态必须标记为终结")
	}
	c.final = true
	seed := fmt.Sprintf("settle|%s|%d", c.channelID.Hex(), c.now().UnixNano())
	return crypto.Keccak256Hash([]byte(seed)), nil
}

// VerifyTradeSignature 恢复签名者地址并与期望参与者比对，
// 供对手方校验交易消息使用。
func VerifyTradeSignature(params TradeParams, nonce uint64, signature []byte, participant common.Address) error {
	message, err := EncodeTradeMessage(params, nonce)
	if err != nil {
		return xerrors.Wrap(CodeSigningFailure, err, "编码交易消息失败")
	}
	pub, err := crypto.SigToPub(accounts.TextHash(message), signature)
	if err != nil {
		return xerrors.Wrap(CodeSigningFailure, err, "恢复签名公钥失败")
	}
	recovered := crypto.PubkeyToAddress(*pub)
	if !bytes.Equal(recovered.Bytes(), participant.Bytes()) {
		return xerrors.New(CodeSigningFailure,
			fmt.Sprintf("签名者 %s 与参与者 %s 不符", recovered.Hex(), participant.Hex()))
	}
	return nil
}

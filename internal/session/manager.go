package session

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	xerrors "AgentFlow/internal/errors"
	"AgentFlow/pkg/logger"
)

// defaultConfirmWait 是模拟实现中通道确认的等待时长。
const defaultConfirmWait = time.Second

// Manager 管理唯一一个链下结算会话的生命周期：
// opening -> active -> settling -> closed，不允许跳跃。
// 会话的可变字段由 Manager 独占，所有方法都以互斥锁串行化，
// 因此 nonce 推进在并发调用下仍然逐笔有序。
type Manager struct {
	client Client

	mu      sync.Mutex
	session *Session

	confirmWait time.Duration
	now         func() time.Time
}

// ManagerOption 定义可选的 Manager 配置。
type ManagerOption func(*Manager)

// WithConfirmWait 设置通道确认等待时长，仅测试使用。
func WithConfirmWait(wait time.Duration) ManagerOption {
	return func(m *Manager) {
		if wait >= 0 {
			m.confirmWait = wait
		}
	}
}

// WithManagerClock 替换时间源，仅测试使用。
func WithManagerClock(now func() time.Time) ManagerOption {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// NewManager 构造会话管理器。
func NewManager(client Client, opts ...ManagerOption) *Manager {
	m := &Manager{
		client:      client,
		confirmWait: defaultConfirmWait,
		now:         time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	return m
}

// CreateSession 以给定押金开启新会话。已有活跃会话时直接报错：
// 这是调用方的时序错误，必须先结算再开新会话。
// 确认等待受 ctx 约束，超时或取消时会话停留在 opening。
func (m *Manager) CreateSession(ctx context.Context, deposit *big.Int) (*Session, error) {
	if m.client == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "未配置会话客户端")
	}
	if deposit == nil || deposit.Sign() <= 0 {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "押金必须为正")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session != nil && m.session.Status == StatusActive {
		return nil, xerrors.New(CodeSessionState, "会话已处于活跃状态，请先结算")
	}

	channelID, err := m.client.OpenChannel(ctx, deposit)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeChainFailure, err, "开启状态通道失败")
	}

	now := m.now().Unix()
	participant := common.Address{}
	if p, ok := m.client.(interface{ Participant() common.Address }); ok {
		participant = p.Participant()
	}
	m.session = &Session{
		ID:           "session-" + uuid.NewString(),
		ChannelID:    channelID,
		Participant:  participant,
		Deposit:      new(big.Int).Set(deposit),
		Balance:      new(big.Int).Set(deposit),
		Nonce:        0,
		Status:       StatusOpening,
		CreatedAt:    now,
		LastActivity: now,
	}

	if err := m.waitForConfirmation(ctx); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeTimeout, err, "等待通道确认失败")
	}
	m.session.Status = StatusActive

	logger.Audit().Info("会话开启",
		slog.String("session_id", m.session.ID),
		slog.String("channel_id", channelID.Hex()),
		slog.String("deposit", deposit.String()),
	)
	return m.session.clone(), nil
}

// ExecuteTrade 以会话当前 nonce 签名一笔交易。成功时原子地
// 把 nonce 恰好加一、余额更新为交易后余额并刷新活跃时间；
// 任何失败都不改变会话状态，不存在部分推进。
func (m *Manager) ExecuteTrade(ctx context.Context, params TradeParams) (TradeResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil || m.session.Status != StatusActive {
		return TradeResult{}, xerrors.New(CodeSessionState, "没有活跃会话")
	}

	result, err := m.client.SignTrade(ctx, params, m.session.Nonce, m.session.Balance)
	if err != nil {
		return TradeResult{}, err
	}
	if !result.Success {
		return result, nil
	}
	if result.Nonce != m.session.Nonce+1 {
		return TradeResult{}, xerrors.New(CodeStaleNonce,
			fmt.Sprintf("客户端返回 nonce %d，期望 %d", result.Nonce, m.session.Nonce+1))
	}

	m.session.Nonce = result.Nonce
	m.session.Balance = new(big.Int).Set(result.NewBalance)
	m.session.LastActivity = m.now().Unix()

	logger.Audit().Info("会话交易完成",
		slog.String("session_id", m.session.ID),
		slog.Uint64("nonce", m.session.Nonce),
		slog.String("input", result.InputAmount.String()),
		slog.String("output", result.OutputAmount.String()),
		slog.String("balance", m.session.Balance.String()),
	)
	return result, nil
}

// SettleSession 将当前会话结算上链。结算失败时回退到 active，
// 保留会话以便重试；成功后状态为 closed，不允许再交易。
func (m *Manager) SettleSession(ctx context.Context) (SettlementResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		return SettlementResult{}, xerrors.New(CodeSessionState, "没有可结算的会话")
	}
	if m.session.Status == StatusClosed {
		return SettlementResult{}, xerrors.New(CodeSessionState, "会话已关闭")
	}
	if m.session.Status != StatusActive {
		return SettlementResult{}, xerrors.New(CodeSessionState,
			fmt.Sprintf("会话状态 %s 不允许结算", m.session.Status))
	}

	m.session.Status = StatusSettling

	state, err := m.client.ChannelState(ctx, m.session.ChannelID)
	if err != nil {
		m.session.Status = StatusActive
		return SettlementResult{}, xerrors.Wrap(CodeSettlementFailure, err, "查询通道状态失败")
	}
	state.IsFinal = true

	txHash, err := m.client.SettleChannel(ctx, m.session.ChannelID, state)
	if err != nil {
		// 结算失败回退到 active：会话仍然有效，调用方可以重试。
		m.session.Status = StatusActive
		return SettlementResult{}, xerrors.Wrap(CodeSettlementFailure, err, "提交结算失败")
	}

	m.session.Status = StatusClosed
	result := SettlementResult{
		Success:      true,
		TxHash:       txHash,
		FinalBalance: new(big.Int).Set(m.session.Balance),
		SettledAt:    m.now().Unix(),
	}
	logger.Audit().Info("会话结算完成",
		slog.String("session_id", m.session.ID),
		slog.String("tx_hash", txHash.Hex()),
		slog.String("final_balance", result.FinalBalance.String()),
	)
	return result, nil
}

// Session 返回当前会话的副本，没有会话时返回 nil。
func (m *Manager) Session() *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session.clone()
}

// IsActive 报告当前是否存在活跃会话。
func (m *Manager) IsActive() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session != nil && m.session.Status == StatusActive
}

// Balance 返回当前会话余额，没有会话时为零。
func (m *Manager) Balance() *big.Int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil || m.session.Balance == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(m.session.Balance)
}

// TradeCount 返回已完成的交易笔数，即当前 nonce。
func (m *Manager) TradeCount() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		return 0
	}
	return m.session.Nonce
}

// waitForConfirmation 等待通道确认。模拟实现使用固定时长，
// 但始终受 ctx 约束，保证等待可取消。
func (m *Manager) waitForConfirmation(ctx context.Context) error {
	if m.confirmWait <= 0 {
		return nil
	}
	timer := time.NewTimer(m.confirmWait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

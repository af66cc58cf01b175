package events

import (
	"context"
	"math/big"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"AgentFlow/internal/agent"
	xerrors "AgentFlow/internal/errors"
	"AgentFlow/internal/history"
	"AgentFlow/internal/observability/alerting"
)

func TestMemoryBusDeliversEvents(t *testing.T) {
	bus := NewMemoryBus(8)
	defer bus.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var (
		mu       sync.Mutex
		received []Event
	)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = bus.Consume(ctx, 2, func(_ context.Context, event Event) error {
			mu.Lock()
			received = append(received, event)
			mu.Unlock()
			return nil
		})
	}()

	decision := agent.Decision{
		ID:       "dec-1",
		Strategy: "rebalancer",
		Action:   agent.ActionRebalance,
		Amount:   big.NewInt(100_000000),
	}
	if err := bus.Publish(ctx, NewDecisionEvent(decision)); err != nil {
		t.Fatalf("发布决策事件失败: %v", err)
	}
	if err := bus.Publish(ctx, NewSessionEvent(TypeSessionOpened, "session-1", "")); err != nil {
		t.Fatalf("发布会话事件失败: %v", err)
	}

	deadline := time.After(2 * time.Second)
	for {
		mu.Lock()
		count := len(received)
		mu.Unlock()
		if count == 2 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("等待事件超时, 已收到 %d 条", count)
		case <-time.After(10 * time.Millisecond):
		}
	}

	cancel()
	<-done

	mu.Lock()
	defer mu.Unlock()
	types := map[Type]bool{}
	for _, event := range received {
		types[event.Type] = true
	}
	if !types[TypeDecision] || !types[TypeSessionOpened] {
		t.Fatalf("事件类型缺失: %+v", types)
	}
}

func TestMemoryBusRejectsAfterClose(t *testing.T) {
	bus := NewMemoryBus(1)
	_ = bus.Close()
	if err := bus.Publish(context.Background(), NewSessionEvent(TypeSessionSettled, "s", "")); err == nil {
		t.Fatal("关闭后的总线应拒绝发布")
	}
}

func TestEventEncodeDecodeRoundTrip(t *testing.T) {
	record := &history.Record{
		ID:         "r1",
		DecisionID: "dec-1",
		Strategy:   "arbitrage-scanner",
		Action:     "bridge",
		FromChain:  42161,
		ToChain:    8453,
		Amount:     "500000000",
		Success:    true,
		ExecutedAt: 1700000000,
		CreatedAt:  1700000000,
	}
	event := NewExecutionEvent(record)

	data, err := event.Encode()
	if err != nil {
		t.Fatalf("序列化失败: %v", err)
	}
	decoded, err := DecodeEvent(data)
	if err != nil {
		t.Fatalf("反序列化失败: %v", err)
	}
	if decoded.Type != TypeExecution {
		t.Fatalf("事件类型不符: %s", decoded.Type)
	}
	if decoded.Record == nil || decoded.Record.ID != "r1" || decoded.Record.Amount != "500000000" {
		t.Fatalf("执行记录不符: %+v", decoded.Record)
	}
}

func TestRecorderPersistsExecutionEvents(t *testing.T) {
	store := history.NewMemoryStore()
	defer store.Close()
	recorder := NewRecorder(store)
	ctx := context.Background()

	record := &history.Record{
		ID:         "r1",
		DecisionID: "dec-1",
		Strategy:   "rebalancer",
		Action:     "rebalance",
		FromChain:  8453,
		ToChain:    8453,
		Amount:     "100000000",
		Success:    true,
		ExecutedAt: 100,
		CreatedAt:  100,
	}
	if err := recorder.Handle(ctx, NewExecutionEvent(record)); err != nil {
		t.Fatalf("处理执行事件失败: %v", err)
	}
	// 非执行事件不应写入日志。
	if err := recorder.Handle(ctx, NewSessionEvent(TypeSessionOpened, "s", "")); err != nil {
		t.Fatalf("处理会话事件失败: %v", err)
	}

	stats, err := store.Stats(ctx)
	if err != nil {
		t.Fatalf("统计失败: %v", err)
	}
	if stats.Total != 1 || stats.Succeeded != 1 {
		t.Fatalf("日志统计不符: %+v", stats)
	}
}

// stubDispatcher 记录收到的告警事件。
type stubDispatcher struct {
	mu     sync.Mutex
	events []alerting.Event
}

func (d *stubDispatcher) Notify(_ context.Context, event alerting.Event) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.events = append(d.events, event)
	return nil
}

func TestRecorderForwardsAlertWorthyErrors(t *testing.T) {
	dispatcher := &stubDispatcher{}
	recorder := NewRecorder(history.NewMemoryStore(), WithAlertDispatcher(dispatcher))
	ctx := context.Background()

	alertErr := xerrors.New(xerrors.CodeChainFailure, "rpc unreachable")
	if err := recorder.Handle(ctx, NewErrorEvent(alertErr)); err != nil {
		t.Fatalf("处理错误事件失败: %v", err)
	}

	// 注册表中未标记告警的错误码不应转发。
	quietErr := xerrors.New(xerrors.CodeInvalidArgument, "bad input")
	if err := recorder.Handle(ctx, NewErrorEvent(quietErr)); err != nil {
		t.Fatalf("处理普通事件失败: %v", err)
	}

	dispatcher.mu.Lock()
	defer dispatcher.mu.Unlock()
	if len(dispatcher.events) != 1 {
		t.Fatalf("应转发 1 条告警，实际 %d 条", len(dispatcher.events))
	}
	if dispatcher.events[0].Code != xerrors.CodeChainFailure {
		t.Fatalf("告警错误码不符: %s", dispatcher.events[0].Code)
	}
}

func TestMemoryBusCloseDuringPublishDoesNotPanic(t *testing.T) {
	bus := NewMemoryBus(1)
	ctx := context.Background()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		// 缓冲填满后发布会阻塞，关闭信号必须让它带错误返回。
		for i := 0; i < 100; i++ {
			_ = bus.Publish(ctx, NewSessionEvent(TypeSessionOpened, "s", ""))
		}
	}()

	_ = bus.Close()
	wg.Wait()

	if err := bus.Publish(ctx, NewSessionEvent(TypeSessionOpened, "s", "")); err == nil {
		t.Fatal("关闭后的总线应拒绝发布")
	}
}

func TestMemoryBusDrainsBufferedEventsOnClose(t *testing.T) {
	bus := NewMemoryBus(8)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	for i := 0; i < 3; i++ {
		if err := bus.Publish(ctx, NewSessionEvent(TypeSessionOpened, "s", "")); err != nil {
			t.Fatalf("发布事件失败: %v", err)
		}
	}
	_ = bus.Close()

	var received atomic.Int64
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = bus.Consume(ctx, 1, func(_ context.Context, _ Event) error {
			received.Add(1)
			return nil
		})
	}()

	deadline := time.After(2 * time.Second)
	for received.Load() < 3 {
		select {
		case <-deadline:
			t.Fatalf("关闭前缓冲的事件应被消费，收到 %d 条", received.Load())
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
	<-done
}

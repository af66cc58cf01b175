package events

import (
	"context"
	"sync"

	xerrors "AgentFlow/internal/errors"
)

// MemoryBus 使用 channel 模拟事件总线，主要用于测试与单机部署。
type MemoryBus struct {
	ch   chan []byte
	done chan struct{}

	mu     sync.Mutex
	closed bool
}

// NewMemoryBus 创建一个内存事件总线。
func NewMemoryBus(size int) *MemoryBus {
	if size <= 0 {
		size = 64
	}
	return &MemoryBus{
		ch:   make(chan []byte, size),
		done: make(chan struct{}),
	}
}

// Publish 将事件投递到总线。总线关闭后投递报错；
// 与 Close 并发时通过 done 信号退出，不会向已关闭的通道发送。
func (b *MemoryBus) Publish(ctx context.Context, event Event) error {
	data, err := event.Encode()
	if err != nil {
		return err
	}
	select {
	case <-b.done:
		return xerrors.New(xerrors.CodeBusFailure, "事件总线已关闭")
	default:
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-b.done:
		return xerrors.New(xerrors.CodeBusFailure, "事件总线已关闭")
	case b.ch <- data:
		return nil
	}
}

// Consume 启动指定数量的工作协程消费事件。总线关闭后先清空
// 缓冲中剩余的事件再退出。
func (b *MemoryBus) Consume(ctx context.Context, workerCount int, handler Handler) error {
	if workerCount <= 0 {
		workerCount = 1
	}
	var wg sync.WaitGroup
	for i := 0; i < workerCount; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case data := <-b.ch:
					b.dispatch(ctx, data, handler)
				case <-b.done:
					b.drain(ctx, handler)
					return
				}
			}
		}()
	}
	<-ctx.Done()
	wg.Wait()
	return ctx.Err()
}

func (b *MemoryBus) dispatch(ctx context.Context, data []byte, handler Handler) {
	event, err := DecodeEvent(data)
	if err != nil {
		return
	}
	_ = handler(ctx, event)
}

func (b *MemoryBus) drain(ctx context.Context, handler Handler) {
	for {
		select {
		case data := <-b.ch:
			b.dispatch(ctx, data, handler)
		default:
			return
		}
	}
}

// Close 关闭内存总线，幂等。发送通道不关闭，由 done 信号驱动退出，
// 避免与并发 Publish 竞争。
func (b *MemoryBus) Close() error {
	b.mu.Lock()
	if !b.closed {
		close(b.done)
		b.closed = true
	}
	b.mu.Unlock()
	return nil
}

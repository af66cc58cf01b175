package events

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	xerrors "AgentFlow/internal/errors"
)

// RedisBusConfig 描述 Redis 事件流的连接参数。
type RedisBusConfig struct {
	Address   string
	Password  string
	DB        int
	Stream    string
	BlockWait time.Duration
}

// RedisBus 使用 Redis Stream 实现事件总线。
type RedisBus struct {
	client *redis.Client
	stream string
	wait   time.Duration
	lastID string
}

// NewRedisBus 创建 Redis 事件总线实例。
func NewRedisBus(cfg RedisBusConfig) (*RedisBus, error) {
	if cfg.Address == "" {
		return nil, xerrors.New(xerrors.CodeConfigInvalid, "Redis address 不能为空")
	}
	stream := cfg.Stream
	if stream == "" {
		stream = "agentflow:executions"
	}
	wait := cfg.BlockWait
	if wait <= 0 {
		wait = 5 * time.Second
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeBusFailure, err, "连接 Redis 失败")
	}
	return &RedisBus{client: client, stream: stream, wait: wait, lastID: "$"}, nil
}

// Publish 通过 XADD 将事件写入 Stream。
func (b *RedisBus) Publish(ctx context.Context, event Event) error {
	data, err := event.Encode()
	if err != nil {
		return err
	}
	if err := b.client.XAdd(ctx, &redis.XAddArgs{
		Stream: b.stream,
		Values: map[string]any{"payload": string(data)},
	}).Err(); err != nil {
		return xerrors.Wrap(xerrors.CodeBusFailure, err, "Redis 发布事件失败")
	}
	return nil
}

// Consume 通过 XREAD 阻塞读取 Stream 中的新事件。
func (b *RedisBus) Consume(ctx context.Context, workerCount int, handler Handler) error {
	if workerCount <= 0 {
		workerCount = 1
	}
	eventCh := make(chan Event, workerCount)
	errCh := make(chan error, 1)

	go func() {
		defer close(eventCh)
		lastID := b.lastID
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}
			streams, err := b.client.XRead(ctx, &redis.XReadArgs{
				Streams: []string{b.stream, lastID},
				Block:   b.wait,
			}).Result()
			if err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, redis.ErrClosed) {
					return
				}
				if err == redis.Nil {
					continue
				}
				errCh <- xerrors.Wrap(xerrors.CodeBusFailure, err, "Redis 读取事件失败")
				return
			}
			for _, stream := range streams {
				for _, message := range stream.Messages {
					lastID = message.ID
					payload, ok := message.Values["payload"].(string)
					if !ok {
						continue
					}
					event, decodeErr := DecodeEvent([]byte(payload))
					if decodeErr != nil {
						continue
					}
					select {
					case <-ctx.Done():
						return
					case eventCh <- event:
					}
				}
			}
		}
	}()

	var wg sync.WaitGroup
	for i := 0; i < workerCount; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for event := range eventCh {
				_ = handler(ctx, event)
			}
		}()
	}

	select {
	case <-ctx.Done():
		wg.Wait()
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// Close 关闭 Redis 连接。
func (b *RedisBus) Close() error {
	if b == nil || b.client == nil {
		return nil
	}
	return b.client.Close()
}

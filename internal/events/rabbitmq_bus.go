package events

import (
	"context"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	xerrors "AgentFlow/internal/errors"
)

// RabbitMQBusConfig 描述 RabbitMQ 事件总线的连接参数。
type RabbitMQBusConfig struct {
	URL        string
	Queue      string
	Prefetch   int
	Durable    bool
	AutoDelete bool
}

// RabbitMQBus 使用 RabbitMQ 实现事件总线。
type RabbitMQBus struct {
	conn  *amqp.Connection
	ch    *amqp.Channel
	queue string
}

// NewRabbitMQBus 创建 RabbitMQ 事件总线实例。
func NewRabbitMQBus(cfg RabbitMQBusConfig) (*RabbitMQBus, error) {
	if cfg.URL == "" {
		return nil, xerrors.New(xerrors.CodeConfigInvalid, "RabbitMQ URL 不能为空")
	}
	queue := cfg.Queue
	if queue == "" {
		queue = "agentflow.executions"
	}
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeBusFailure, err, "连接 RabbitMQ 失败")
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, xerrors.Wrap(xerrors.CodeBusFailure, err, "创建 RabbitMQ channel 失败")
	}
	if cfg.Prefetch > 0 {
		if err := ch.Qos(cfg.Prefetch, 0, false); err != nil {
			ch.Close()
			conn.Close()
			return nil, xerrors.Wrap(xerrors.CodeBusFailure, err, "设置 RabbitMQ QOS 失败")
		}
	}
	_, err = ch.QueueDeclare(queue, cfg.Durable, cfg.AutoDelete, false, false, nil)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, xerrors.Wrap(xerrors.CodeBusFailure, err, "声明 RabbitMQ 队列失败")
	}
	return &RabbitMQBus{conn: conn, ch: ch, queue: queue}, nil
}

// Publish 将事件投递到 RabbitMQ。
func (b *RabbitMQBus) Publish(ctx context.Context, event Event) error {
	if b == nil || b.ch == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "RabbitMQ 总线未初始化")
	}
	data, err := event.Encode()
	if err != nil {
		return err
	}
	if err := b.ch.PublishWithContext(ctx, "", b.queue, false, false, amqp.Publishing{
		ContentType: "application/json",
		Body:        data,
	}); err != nil {
		return xerrors.Wrap(xerrors.CodeBusFailure, err, "RabbitMQ 发布事件失败")
	}
	return nil
}

// Consume 使用手动确认模式消费事件。
func (b *RabbitMQBus) Consume(ctx context.Context, workerCount int, handler Handler) error {
	if b == nil || b.ch == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "RabbitMQ 总线未初始化")
	}
	if workerCount <= 0 {
		workerCount = 1
	}
	msgs, err := b.ch.Consume(b.queue, "", false, false, false, false, nil)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeBusFailure, err, "订阅 RabbitMQ 队列失败")
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
				case msg, ok := <-msgs:
					if !ok {
						return
					}
					event, decodeErr := DecodeEvent(msg.Body)
					if decodeErr != nil {
						_ = msg.Ack(false)
						continue
					}
					_ = handler(ctx, event)
					_ = msg.Ack(false)
				}
			}
		}()
	}

	<-ctx.Done()
	wg.Wait()
	return ctx.Err()
}

// Close 关闭 RabbitMQ 连接。
func (b *RabbitMQBus) Close() error {
	if b == nil {
		return nil
	}
	if b.ch != nil {
		_ = b.ch.Close()
	}
	if b.conn != nil {
		return b.conn.Close()
	}
	return nil
}

package events

import (
	"context"
	"time"

	xerrors "AgentFlow/internal/errors"
	"AgentFlow/internal/history"
	"AgentFlow/internal/observability/alerting"
	"AgentFlow/pkg/logger"
)

// Recorder 订阅执行事件并将其持久化到执行日志，
// 同时把需要告警的错误事件转发给告警分发器。
type Recorder struct {
	store  history.Store
	alerts alerting.Dispatcher
}

// RecorderOption 定义可选的记录器配置。
type RecorderOption func(*Recorder)

// WithAlertDispatcher 配置告警分发器。
func WithAlertDispatcher(alerts alerting.Dispatcher) RecorderOption {
	return func(r *Recorder) {
		r.alerts = alerts
	}
}

// NewRecorder 创建一个日志记录消费者。
func NewRecorder(store history.Store, opts ...RecorderOption) *Recorder {
	r := &Recorder{store: store}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// Handle 处理单个事件：执行事件落库，错误事件按错误码判定是否告警，
// 其余事件直接跳过。
func (r *Recorder) Handle(ctx context.Context, event Event) error {
	switch event.Type {
	case TypeExecution:
		if event.Record == nil {
			return nil
		}
		if err := r.store.Append(ctx, event.Record); err != nil {
			logger.L().Warn("持久化执行事件失败",
				"event_id", event.ID,
				"record_id", event.Record.ID,
				"error", err)
			return err
		}
	case TypeEngineError:
		r.dispatchAlert(ctx, event)
	}
	return nil
}

// dispatchAlert 根据事件携带的错误码查注册表，需要告警时转发。
func (r *Recorder) dispatchAlert(ctx context.Context, event Event) {
	if r.alerts == nil {
		return
	}
	attr := xerrors.AttributesOf(event.Code)
	if !attr.Alert {
		return
	}
	alert := alerting.Event{
		Code:       event.Code,
		Message:    event.Detail,
		Severity:   attr.Severity,
		OccurredAt: time.Unix(event.OccurredAt, 0),
	}
	if err := r.alerts.Notify(ctx, alert); err != nil {
		logger.L().Warn("转发告警失败", "event_id", event.ID, "error", err)
	}
}

// Run 在指定的消费者上持续消费事件，直到 ctx 取消。
func (r *Recorder) Run(ctx context.Context, consumer Consumer, workerCount int) error {
	return consumer.Consume(ctx, workerCount, r.Handle)
}

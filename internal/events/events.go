package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"AgentFlow/internal/agent"
	xerrors "AgentFlow/internal/errors"
	"AgentFlow/internal/history"
)

// 事件总线相关错误码。
const (
	CodeEventInvalid xerrors.Code = "EVENT_INVALID"
)

func init() {
	xerrors.Register(CodeEventInvalid, xerrors.Attributes{
		Message:  "invalid event payload",
		Severity: xerrors.SeverityWarning,
	})
}

// Type 标识事件类别。
type Type string

const (
	TypeDecision       Type = "decision"
	TypeExecution      Type = "execution"
	TypeSessionOpened  Type = "session.opened"
	TypeSessionSettled Type = "session.settled"
	TypeEngineError    Type = "engine.error"
)

// Event 是事件总线上流转的统一载体。
type Event struct {
	ID         string          `json:"id"`
	Type       Type            `json:"type"`
	OccurredAt int64           `json:"occurred_at"`
	Decision   *agent.Decision `json:"decision,omitempty"`
	Record     *history.Record `json:"record,omitempty"`
	SessionID  string          `json:"session_id,omitempty"`
	Code       xerrors.Code    `json:"code,omitempty"`
	Detail     string          `json:"detail,omitempty"`
}

// NewDecisionEvent 由策略决策构造事件。
func NewDecisionEvent(decision agent.Decision) Event {
	return Event{
		ID:         uuid.NewString(),
		Type:       TypeDecision,
		OccurredAt: time.Now().Unix(),
		Decision:   &decision,
	}
}

// NewExecutionEvent 由执行记录构造事件。
func NewExecutionEvent(record *history.Record) Event {
	return Event{
		ID:         uuid.NewString(),
		Type:       TypeExecution,
		OccurredAt: time.Now().Unix(),
		Record:     record,
	}
}

// NewSessionEvent 构造会话生命周期事件。
func NewSessionEvent(eventType Type, sessionID, detail string) Event {
	return Event{
		ID:         uuid.NewString(),
		Type:       eventType,
		OccurredAt: time.Now().Unix(),
		SessionID:  sessionID,
		Detail:     detail,
	}
}

// NewErrorEvent 构造引擎错误事件，保留错误码供下游告警判定。
func NewErrorEvent(err error) Event {
	detail := ""
	if err != nil {
		detail = err.Error()
	}
	return Event{
		ID:         uuid.NewString(),
		Type:       TypeEngineError,
		OccurredAt: time.Now().Unix(),
		Code:       xerrors.CodeOf(err),
		Detail:     detail,
	}
}

// Encode 将事件序列化为可投递的字节流。
func (e Event) Encode() ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, xerrors.Wrap(CodeEventInvalid, err, "序列化事件失败")
	}
	return data, nil
}

// DecodeEvent 反序列化事件字节流。
func DecodeEvent(data []byte) (Event, error) {
	var event Event
	if err := json.Unmarshal(data, &event); err != nil {
		return Event{}, xerrors.Wrap(CodeEventInvalid, err, "解析事件失败")
	}
	return event, nil
}

// Handler 处理来自事件总线的单个事件。
type Handler func(ctx context.Context, event Event) error

// Publisher 负责向总线投递事件。
type Publisher interface {
	Publish(ctx context.Context, event Event) error
	Close() error
}

// Consumer 负责从总线消费事件。
type Consumer interface {
	Consume(ctx context.Context, workerCount int, handler Handler) error
	Close() error
}

// Bus 同时具备发布与消费能力。
type Bus interface {
	Publisher
	Consumer
}

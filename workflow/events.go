package workflow

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

const (
	EventMetadataKey     = "key"
	EventTypeMetadataKey = "event_type"
	DefaultEventTopic    = "approval_workflow.events"
)

// Event 生命周期事件, 每一条历史记录对应一个事件
type Event struct {
	ID           string         `json:"id"`
	Type         HistoryAction  `json:"type"`
	Timestamp    time.Time      `json:"timestamp"`
	DefinitionID int64          `json:"definition_id,omitempty"`
	InstanceID   int64          `json:"instance_id,omitempty"`
	TaskID       int64          `json:"task_id,omitempty"`
	NodeID       string         `json:"node_id,omitempty"`
	PerformedBy  string         `json:"performed_by,omitempty"`
	Description  string         `json:"description,omitempty"`
	Payload      map[string]any `json:"payload,omitempty"`
}

// Key 同一个实例的事件用同一个key, 方便下游按实例分区
func (e *Event) Key() string {
	switch {
	case e.InstanceID != 0:
		return "instance_" + strconv.FormatInt(e.InstanceID, 10)
	case e.DefinitionID != 0:
		return "definition_" + strconv.FormatInt(e.DefinitionID, 10)
	}
	return e.ID
}

// EventSink 通知的扩展点, 事务提交之后才会调用, 返回的错误只记录日志
type EventSink interface {
	Emit(ctx context.Context, event *Event) error
}

type NopEventSink struct{}

func (NopEventSink) Emit(context.Context, *Event) error { return nil }

// EventSinkFunc 方便测试和简单场景
type EventSinkFunc func(ctx context.Context, event *Event) error

func (f EventSinkFunc) Emit(ctx context.Context, event *Event) error { return f(ctx, event) }

// WatermillEventSink 把事件发布到 watermill 的 publisher, 可以是 gochannel/kafka 等
type WatermillEventSink struct {
	publisher message.Publisher
	topic     string
}

func NewWatermillEventSink(publisher message.Publisher, topic string) *WatermillEventSink {
	if topic == "" {
		topic = DefaultEventTopic
	}
	return &WatermillEventSink{publisher: publisher, topic: topic}
}

func (s *WatermillEventSink) Emit(ctx context.Context, event *Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return errors.WithMessagef(err, "marshal event failed, type: %s", event.Type)
	}
	msg := message.NewMessage(event.ID, payload)
	msg.SetContext(ctx)
	msg.Metadata.Set(EventMetadataKey, event.Key())
	msg.Metadata.Set(EventTypeMetadataKey, event.Type)
	if err := s.publisher.Publish(s.topic, msg); err != nil {
		return errors.WithMessagef(err, "publish event failed, topic: %s, type: %s", s.topic, event.Type)
	}
	return nil
}

// DecodeEvent 订阅方使用
func DecodeEvent(msg *message.Message) (*Event, error) {
	event := &Event{}
	if err := json.Unmarshal(msg.Payload, event); err != nil {
		return nil, errors.WithMessagef(err, "unmarshal event failed, uuid: %s", msg.UUID)
	}
	return event, nil
}

func newEvent(action HistoryAction, ts time.Time) *Event {
	return &Event{
		ID:        uuid.NewString(),
		Type:      action,
		Timestamp: ts,
	}
}

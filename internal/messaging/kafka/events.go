package kafka

import (
	"encoding/json"
	"time"

	"github.com/vladislavdragonenkov/orderedit/internal/domain"
)

// Topics для Kafka
const (
	TopicOrderEvents     = "oms.order.events"
	TopicDeadLetterQueue = "oms.dlq" // Dead Letter Queue для failed messages
)

// Kafka headers сообщений outbox
const (
	HeaderEventType     = "x-event-type"
	HeaderRetryCount    = "x-retry-count"
	HeaderOriginalTopic = "x-original-topic"
)

// Envelope — конверт outbox-сообщения в Kafka.
type Envelope struct {
	ID            string          `json:"id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	PublishedAt   time.Time       `json:"published_at"`
}

// NewEnvelope оборачивает outbox-сообщение.
func NewEnvelope(msg domain.OutboxMessage, publishedAt time.Time) Envelope {
	payload := json.RawMessage(msg.Payload)
	if len(payload) == 0 {
		payload = json.RawMessage("null")
	}
	return Envelope{
		ID:            msg.ID,
		AggregateType: msg.AggregateType,
		AggregateID:   msg.AggregateID,
		EventType:     msg.EventType,
		Payload:       payload,
		PublishedAt:   publishedAt.UTC(),
	}
}

// ParseEnvelope разбирает конверт из значения сообщения.
func ParseEnvelope(value []byte) (Envelope, error) {
	var env Envelope
	err := json.Unmarshal(value, &env)
	return env, err
}

// ParseOrderEvent разбирает полезную нагрузку события заказа.
func ParseOrderEvent(env Envelope) (domain.OrderEvent, error) {
	var event domain.OrderEvent
	err := json.Unmarshal(env.Payload, &event)
	return event, err
}

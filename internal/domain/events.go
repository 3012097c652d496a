package domain

import "time"

// AggregateTypeOrder — тип агрегата в outbox-сообщениях заказа.
const AggregateTypeOrder = "order"

// Типы событий заказа, публикуемых через outbox.
const (
	EventOrderPlaced       = "order.placed"
	EventOrderRecalculated = "order.recalculated"
	EventVersionCreated    = "order.version.created"
	EventVersionMerged     = "order.version.merged"
	EventVersionDeleted    = "order.version.deleted"
)

// OrderEvent — полезная нагрузка outbox-сообщения заказа.
type OrderEvent struct {
	OrderID    string            `json:"order_id"`
	VersionID  string            `json:"version_id,omitempty"`
	TotalPrice string            `json:"total_price,omitempty"`
	Currency   string            `json:"currency,omitempty"`
	Occurred   time.Time         `json:"occurred_at"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

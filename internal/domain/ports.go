package domain

import (
	"context"
	"time"
)

// OutboxPublisher доставляет события заказов во внешний брокер.
// Повторная доставка того же сообщения допустима: потребители
// дедуплицируют по OutboxMessage.ID.
type OutboxPublisher interface {
	Publish(ctx context.Context, msg OutboxMessage) error
}

// OutboxRepository хранит события, записанные вместе с изменением заказа,
// до их публикации воркером.
type OutboxRepository interface {
	Enqueue(ctx context.Context, msg OutboxMessage) (OutboxMessage, error)
	// PullPending возвращает самые старые неопубликованные сообщения.
	PullPending(ctx context.Context, limit int) ([]OutboxMessage, error)
	Stats(ctx context.Context) (OutboxStats, error)
	MarkSent(ctx context.Context, id string) error
	// MarkFailed снимает сообщение с публикации и запоминает причину.
	MarkFailed(ctx context.Context, id, reason string) error
}

// TimelineRepository хранит историю заказа: оформление, пересчёты, слияния версий.
type TimelineRepository interface {
	Append(ctx context.Context, event TimelineEvent) error
	List(ctx context.Context, orderID string) ([]TimelineEvent, error)
}

// OutboxMessage — событие заказа в ожидании публикации.
// AggregateID используется как ключ партиционирования.
type OutboxMessage struct {
	ID            string
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}

// OutboxStats описывает backlog неопубликованных событий.
type OutboxStats struct {
	PendingCount    int
	FailedCount     int
	OldestPendingAt time.Time
}

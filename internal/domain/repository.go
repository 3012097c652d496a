package domain

import "context"

// OrderRepository описывает требования к версионируемому хранилищу заказов.
type OrderRepository interface {
	// Create сохраняет новый заказ в live-версии.
	Create(ctx context.Context, order Order) error
	// Load возвращает заказ в версии или ErrOrderNotFound.
	Load(ctx context.Context, id, versionID string) (Order, error)
	// Save приводит строки заказа в order.VersionID к состоянию order.
	Save(ctx context.Context, order Order) error
}

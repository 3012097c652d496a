package domain

import "time"

const (
	TimelineOrderPlaced       = "order_placed"
	TimelineVersionCreated    = "version_created"
	TimelineOrderRecalculated = "order_recalculated"
	TimelineVersionMerged     = "version_merged"
	TimelineVersionDeleted    = "version_deleted"
)

// TimelineEvent описывает событие в жизненном цикле заказа.
type TimelineEvent struct {
	OrderID  string
	Type     string
	Reason   string
	Occurred time.Time
}

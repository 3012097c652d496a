package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/vladislavdragonenkov/orderedit/internal/domain"
)

func TestTimelineRepository_PostgresAppendAndList(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	timelineRepo := NewTimelineRepository(store)
	ctx := context.Background()

	placedAt := time.Now().UTC().Add(-time.Minute).Round(time.Microsecond)
	if err := timelineRepo.Append(ctx, domain.TimelineEvent{
		OrderID:  "timeline-order",
		Type:     domain.TimelineOrderPlaced,
		Occurred: placedAt,
	}); err != nil {
		t.Fatalf("append placed event: %v", err)
	}

	// Нулевое время заполняется текущим.
	if err := timelineRepo.Append(ctx, domain.TimelineEvent{
		OrderID: "timeline-order",
		Type:    domain.TimelineOrderRecalculated,
		Reason:  "recalculate",
	}); err != nil {
		t.Fatalf("append event with zero occurred: %v", err)
	}

	events, err := timelineRepo.List(ctx, "timeline-order")
	if err != nil {
		t.Fatalf("list timeline events: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 timeline events, got %d", len(events))
	}
	if events[0].Type != domain.TimelineOrderPlaced || events[1].Type != domain.TimelineOrderRecalculated {
		t.Fatalf("events should be sorted by occurred asc: %+v", events)
	}
	if !events[0].Occurred.Equal(placedAt) {
		t.Fatalf("expected occurred %v, got %v", placedAt, events[0].Occurred)
	}
	if events[1].Reason != "recalculate" {
		t.Fatalf("unexpected reason: %q", events[1].Reason)
	}
}

func TestTimelineRepository_PostgresValidation(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	timelineRepo := NewTimelineRepository(store)
	ctx := context.Background()

	err := timelineRepo.Append(ctx, domain.TimelineEvent{Type: domain.TimelineOrderPlaced})
	if !errors.Is(err, domain.ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument for event without order, got %v", err)
	}

	events, err := timelineRepo.List(ctx, "missing-order")
	if err != nil {
		t.Fatalf("list for missing order should not fail: %v", err)
	}
	if len(events) != 0 {
		t.Fatalf("expected no events for missing order, got %d", len(events))
	}
}

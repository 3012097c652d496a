package app

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/orderedit/internal/domain"
	"github.com/vladislavdragonenkov/orderedit/internal/recalc"
)

const defaultKeyboardID = "0a3c8f0693f34ee49a2ccdbf2b7ce1a5"

func TestNewRecalcService_MemoryRoundTrip(t *testing.T) {
	logger := log.WithField("test", "dependencies")
	ctx := context.Background()

	deps, err := initRuntimeDependencies(ctx, DefaultConfig(), logger)
	require.NoError(t, err)
	cat, err := loadCatalog("")
	require.NoError(t, err)

	svc, err := newRecalcService(DefaultConfig(), deps, cat, prometheus.NewRegistry(), logger)
	require.NoError(t, err)

	placed, res, err := svc.PlaceOrder(ctx, recalc.PlaceRequest{
		OrderNumber:      "10001",
		ShippingMethodID: "standard",
		Addresses:        []domain.OrderAddress{{ID: "addr-1", City: "Berlin", CountryID: "DE"}},
		BillingAddressID: "addr-1",
		Items:            []recalc.PlaceItem{{ProductID: defaultKeyboardID, Quantity: 2}},
	})
	require.NoError(t, err)
	require.NotNil(t, res.Errors)
	require.Equal(t, "EUR", placed.Currency)

	v, err := svc.CreateVersion(ctx, placed.ID, "", "edit")
	require.NoError(t, err)
	_, err = svc.Recalculate(ctx, placed.ID, v.ID, recalc.Options{})
	require.NoError(t, err)
	_, err = svc.MergeVersion(ctx, v.ID)
	require.NoError(t, err)

	events, err := deps.timelineRepo.List(ctx, placed.ID)
	require.NoError(t, err)
	require.NotEmpty(t, events)

	stats, err := deps.outboxRepo.Stats(ctx)
	require.NoError(t, err)
	require.Positive(t, stats.PendingCount)
}

func TestLoadCatalog_MissingFile(t *testing.T) {
	_, err := loadCatalog("/nonexistent/catalog.yaml")
	require.Error(t, err)
}

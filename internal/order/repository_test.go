package order_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/orderedit/internal/domain"
	"github.com/vladislavdragonenkov/orderedit/internal/order"
	"github.com/vladislavdragonenkov/orderedit/internal/price"
	"github.com/vladislavdragonenkov/orderedit/internal/storage/memory"
	"github.com/vladislavdragonenkov/orderedit/internal/versioning"
)

func newRepository(t *testing.T) (*order.Repository, *versioning.Manager) {
	t.Helper()
	schema, err := order.Schema()
	require.NoError(t, err)
	mgr := versioning.NewManager(memory.NewRowStore(), memory.NewLocker(), schema)
	return order.NewRepository(mgr), mgr
}

func amount(v string) price.CalculatedPrice {
	d := decimal.RequireFromString(v)
	return price.CalculatedPrice{UnitPrice: d, TotalPrice: d, Quantity: 1}
}

func sampleOrder() domain.Order {
	parent := "li-1"
	address := "addr-1"
	return domain.Order{
		ID:            "order-1",
		OrderNumber:   "10001",
		OrderDateTime: time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC),
		StateID:       "open",
		Currency:      "EUR",
		TaxState:      price.TaxStateGross,
		Rounding:      price.DefaultRounding(),
		Price:         price.CartPrice{TotalPrice: decimal.RequireFromString("34.99")},
		ShippingCosts: amount("4.99"),
		RuleIDs:       []string{"cart-any"},

		BillingAddressID:          address,
		PrimaryOrderDeliveryID:    "del-1",
		PrimaryOrderTransactionID: "tx-1",

		LineItems: []domain.OrderLineItem{
			{ID: "li-1", Identifier: "bundle", Type: "container", Label: "Bundle", Quantity: 1, Position: 1, Price: amount("30"), Description: "gift set"},
			{ID: "li-2", ParentID: &parent, Identifier: "child", Type: "product", Label: "Child", Quantity: 1, Position: 1, Price: amount("30"), Good: true},
		},
		Addresses: []domain.OrderAddress{{ID: address, City: "Berlin", CountryID: "DE"}},
		Deliveries: []domain.OrderDelivery{{
			ID:                     "del-1",
			ShippingOrderAddressID: &address,
			ShippingMethodID:       "standard",
			ShippingCosts:          amount("4.99"),
			StateID:                "open",
			CustomFields:           map[string]string{domain.CustomFieldOriginalID: "del-1"},
			Positions: []domain.OrderDeliveryPosition{
				{ID: "pos-1", OrderLineItemID: "li-2", Quantity: 1, Price: amount("30")},
			},
		}},
		Transactions: []domain.OrderTransaction{{ID: "tx-1", PaymentMethodID: "invoice", Amount: amount("34.99"), StateID: "open"}},
		Customer:     &domain.OrderCustomer{ID: "cust-1", Email: "buyer@example.com"},
		TagIDs:       []string{"vip"},
	}
}

func TestRepository_CreateLoad(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo, _ := newRepository(t)
	require.NoError(t, repo.Create(ctx, sampleOrder()))

	got, err := repo.Load(ctx, "order-1", domain.LiveVersionID)
	require.NoError(t, err)
	assert.Equal(t, domain.LiveVersionID, got.VersionID)
	assert.Equal(t, "10001", got.OrderNumber)
	require.Len(t, got.LineItems, 2)
	assert.Equal(t, "li-1", got.LineItems[0].ID)
	require.NotNil(t, got.LineItems[1].ParentID)
	assert.Equal(t, "li-1", *got.LineItems[1].ParentID)
	require.Len(t, got.Deliveries, 1)
	require.Len(t, got.Deliveries[0].Positions, 1)
	assert.Equal(t, "order-1", got.Deliveries[0].OrderID)
	assert.True(t, decimal.RequireFromString("4.99").Equal(got.Deliveries[0].ShippingCosts.TotalPrice))
	require.NotNil(t, got.Customer)
	assert.Equal(t, "buyer@example.com", got.Customer.Email)
	assert.Equal(t, []string{"vip"}, got.TagIDs)
	require.NoError(t, got.Validate())

	err = repo.Create(ctx, sampleOrder())
	require.ErrorIs(t, err, domain.ErrRowExists)

	_, err = repo.Load(ctx, "order-1", "unknown-version")
	require.ErrorIs(t, err, domain.ErrOrderNotFound)
}

func TestRepository_SaveInVersionKeepsLive(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo, mgr := newRepository(t)
	require.NoError(t, repo.Create(ctx, sampleOrder()))
	v, err := mgr.CreateVersion(ctx, order.EntityOrder, "order-1", versioning.CreateOptions{})
	require.NoError(t, err)

	edited, err := repo.Load(ctx, "order-1", v.ID)
	require.NoError(t, err)
	edited.LineItems[0].Description = ""
	edited.LineItems = append(edited.LineItems, domain.OrderLineItem{
		ID: "li-3", Identifier: "credit", Type: "credit", Label: "Credit", Quantity: 1, Position: 2, Price: amount("-5"),
	})
	edited.Customer = nil
	require.NoError(t, repo.Save(ctx, edited))

	versioned, err := repo.Load(ctx, "order-1", v.ID)
	require.NoError(t, err)
	require.Len(t, versioned.LineItems, 3)
	assert.Empty(t, versioned.LineItems[0].Description, "cleared field is written as null")
	assert.Nil(t, versioned.Customer)

	liveOrder, err := repo.Load(ctx, "order-1", domain.LiveVersionID)
	require.NoError(t, err)
	assert.Len(t, liveOrder.LineItems, 2)
	assert.Equal(t, "gift set", liveOrder.LineItems[0].Description)
	assert.NotNil(t, liveOrder.Customer)

	before, err := mgr.Commits(ctx, v.ID)
	require.NoError(t, err)
	require.NoError(t, repo.Save(ctx, versioned))
	after, err := mgr.Commits(ctx, v.ID)
	require.NoError(t, err)
	assert.Len(t, after, len(before), "unchanged order writes no commits")

	_, err = mgr.Merge(ctx, v.ID)
	require.NoError(t, err)
	merged, err := repo.Load(ctx, "order-1", domain.LiveVersionID)
	require.NoError(t, err)
	assert.Len(t, merged.LineItems, 3)
	assert.Nil(t, merged.Customer)
}

func TestRepository_SaveDeletesRemovedDelivery(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo, mgr := newRepository(t)
	require.NoError(t, repo.Create(ctx, sampleOrder()))
	v, err := mgr.CreateVersion(ctx, order.EntityOrder, "order-1", versioning.CreateOptions{})
	require.NoError(t, err)

	edited, err := repo.Load(ctx, "order-1", v.ID)
	require.NoError(t, err)
	edited.Deliveries = nil
	edited.PrimaryOrderDeliveryID = ""
	require.NoError(t, repo.Save(ctx, edited))

	_, err = mgr.Get(ctx, order.EntityDeliveryPosition, "pos-1", v.ID)
	require.ErrorIs(t, err, domain.ErrRowNotFound)

	edited.VersionID = ""
	require.ErrorIs(t, repo.Save(ctx, edited), domain.ErrInvalidArgument)
}

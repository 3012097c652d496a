package cart

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/orderedit/internal/price"
)

func mustItem(t *testing.T, id string, typ LineItemType, qty int) *LineItem {
	t.Helper()
	item, err := NewLineItem(id, typ, qty)
	require.NoError(t, err)
	return item
}

func TestDefaultFlags(t *testing.T) {
	t.Parallel()

	tests := []struct {
		typ      LineItemType
		good     bool
		shipping bool
	}{
		{LineItemProduct, true, true},
		{LineItemCustom, true, true},
		{LineItemCredit, false, false},
		{LineItemPromotion, false, false},
		{LineItemContainer, false, false},
	}
	for _, tt := range tests {
		flags, err := DefaultFlags(tt.typ)
		require.NoError(t, err)
		assert.Equal(t, tt.good, flags.Good, tt.typ)
		assert.Equal(t, tt.shipping, flags.ShippingCostAware, tt.typ)
	}

	_, err := DefaultFlags("bundle")
	require.ErrorIs(t, err, ErrUnknownLineItemType)

	_, err = NewLineItem("x", LineItemProduct, 0)
	require.ErrorIs(t, err, ErrLineItemQuantity)
}

func TestLineItems_AddStacksStackableItems(t *testing.T) {
	t.Parallel()

	c := New("token")
	first := mustItem(t, "p1", LineItemProduct, 1)
	def := price.NewQuantityDefinition(decimal.NewFromInt(10), nil, 1, false)
	first.PriceDefinition = &def

	require.NoError(t, c.AddLineItems(first))
	require.NoError(t, c.AddLineItems(mustItem(t, "p1", LineItemProduct, 2)))

	require.Len(t, c.LineItems, 1)
	assert.Equal(t, 3, c.LineItems[0].Quantity)
	assert.Equal(t, 3, c.LineItems[0].PriceDefinition.Quantity)

	require.NoError(t, c.AddLineItems(mustItem(t, "credit", LineItemCredit, 1)))
	err := c.AddLineItems(mustItem(t, "credit", LineItemCredit, 1))
	require.ErrorIs(t, err, ErrLineItemNotStackable)
}

func TestLineItems_TreeOperations(t *testing.T) {
	t.Parallel()

	container := mustItem(t, "box", LineItemContainer, 1)
	container.Children = LineItems{
		mustItem(t, "child-1", LineItemProduct, 1),
		mustItem(t, "child-2", LineItemProduct, 2),
	}
	items := LineItems{mustItem(t, "p1", LineItemProduct, 1), container}

	flat := items.Flatten()
	ids := make([]string, 0, len(flat))
	for _, item := range flat {
		ids = append(ids, item.ID)
	}
	assert.Equal(t, []string{"p1", "box", "child-1", "child-2"}, ids)
	assert.Len(t, items.GoodsFlat(), 3)
	assert.NotNil(t, items.Find("child-2"))

	items = items.Remove("child-1")
	assert.Nil(t, items.Find("child-1"))
	assert.Len(t, items.Get("box").Children, 1)
}

func TestCart_CloneIsDeep(t *testing.T) {
	t.Parallel()

	c := New("token")
	item := mustItem(t, "p1", LineItemProduct, 1)
	item.Payload["k"] = "v"
	require.NoError(t, c.AddLineItems(item))
	c.Deliveries = Deliveries{{ID: "d1", Positions: []DeliveryPosition{{LineItemID: "p1", Quantity: 1}}}}
	c.AddPromotionCode("SAVE")
	c.AddPromotionCode("SAVE")

	clone := c.Clone()
	clone.LineItems[0].Quantity = 5
	clone.LineItems[0].Payload["k"] = "changed"
	clone.Deliveries[0].Positions[0].Quantity = 5
	clone.RemovePromotionCode("SAVE")

	assert.Equal(t, 1, c.LineItems[0].Quantity)
	assert.Equal(t, "v", c.LineItems[0].Payload["k"])
	assert.Equal(t, 1, c.Deliveries[0].Positions[0].Quantity)
	assert.Equal(t, []string{"SAVE"}, c.PromotionCodes)
	assert.Empty(t, clone.PromotionCodes)
	assert.Equal(t, map[string]string{"p1": "d1"}, c.PositionIndex())
}

func TestErrors_AddDeduplicatesByKey(t *testing.T) {
	t.Parallel()

	var errs Errors
	errs = errs.Add(Error{Key: "a", Level: LevelWarning})
	errs = errs.Add(Error{Key: "a", Level: LevelError})
	errs = errs.Add(Error{Key: "b", Level: LevelNotice})

	require.Len(t, errs, 2)
	assert.Equal(t, LevelWarning, errs[0].Level)
	assert.True(t, errs.Has("b"))
}

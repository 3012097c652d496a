package order

import "github.com/vladislavdragonenkov/orderedit/internal/versioning"

// Сущности заказа в хранилище строк.
const (
	EntityOrder            = "order"
	EntityLineItem         = "order_line_item"
	EntityAddress          = "order_address"
	EntityDelivery         = "order_delivery"
	EntityDeliveryPosition = "order_delivery_position"
	EntityTransaction      = "order_transaction"
	EntityCustomer         = "order_customer"
	EntityTag              = "tag"
	EntityOrderTag         = "order_tag"
)

const (
	fieldOrderID         = "orderId"
	fieldParentID        = "parentId"
	fieldDeliveryID      = "orderDeliveryId"
	fieldLineItemID      = "orderLineItemId"
	fieldShippingAddress = "shippingOrderAddressId"
	fieldTagID           = "tagId"
)

// Schema возвращает описание сущностей заказа. Теги являются справочником и не версионируются,
// связь заказа с тегом владеется заказом.
func Schema() (*versioning.Schema, error) {
	owned := versioning.ForeignKey{Field: fieldOrderID, Reference: EntityOrder, Cascade: true}
	return versioning.NewSchema(
		versioning.Definition{Entity: EntityOrder, Versioned: true},
		versioning.Definition{Entity: EntityLineItem, Versioned: true, ForeignKeys: []versioning.ForeignKey{
			owned,
			{Field: fieldParentID, Reference: EntityLineItem, Nullable: true, Cascade: true},
		}},
		versioning.Definition{Entity: EntityAddress, Versioned: true, ForeignKeys: []versioning.ForeignKey{owned}},
		versioning.Definition{Entity: EntityDelivery, Versioned: true, ForeignKeys: []versioning.ForeignKey{
			owned,
			{Field: fieldShippingAddress, Reference: EntityAddress, Nullable: true},
		}},
		versioning.Definition{Entity: EntityDeliveryPosition, Versioned: true, ForeignKeys: []versioning.ForeignKey{
			{Field: fieldDeliveryID, Reference: EntityDelivery, Cascade: true},
			{Field: fieldLineItemID, Reference: EntityLineItem, Cascade: true},
		}},
		versioning.Definition{Entity: EntityTransaction, Versioned: true, ForeignKeys: []versioning.ForeignKey{owned}},
		versioning.Definition{Entity: EntityCustomer, Versioned: true, ForeignKeys: []versioning.ForeignKey{owned}},
		versioning.Definition{Entity: EntityTag},
		versioning.Definition{Entity: EntityOrderTag, Versioned: true, ForeignKeys: []versioning.ForeignKey{
			owned,
			{Field: fieldTagID, Reference: EntityTag},
		}},
	)
}

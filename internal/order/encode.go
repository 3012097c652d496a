package order

import (
	"github.com/vladislavdragonenkov/orderedit/internal/domain"
	"github.com/vladislavdragonenkov/orderedit/internal/versioning"
)

// Поля агрегата, которые хранятся отдельными сущностями.
var (
	orderNestedFields    = []string{"versionId", "lineItems", "deliveries", "transactions", "addresses", "orderCustomer", "tagIds"}
	deliveryNestedFields = []string{"positions"}
)

// encodeOrder раскладывает заказ на строки в порядке: заказ, адреса, позиции,
// доставки с позициями доставки, платежи, клиент, связи с тегами.
func encodeOrder(o domain.Order) ([]versioning.Row, error) {
	var rows []versioning.Row
	add := func(entity, id string, v any, drop ...string) error {
		data, err := versioning.Encode(v)
		if err != nil {
			return err
		}
		for _, field := range drop {
			delete(data, field)
		}
		rows = append(rows, versioning.Row{Entity: entity, ID: id, VersionID: o.VersionID, Data: data})
		return nil
	}

	if err := add(EntityOrder, o.ID, o, orderNestedFields...); err != nil {
		return nil, err
	}
	for _, a := range o.Addresses {
		a.OrderID = o.ID
		if err := add(EntityAddress, a.ID, a); err != nil {
			return nil, err
		}
	}
	for _, li := range o.LineItems {
		li.OrderID = o.ID
		if err := add(EntityLineItem, li.ID, li); err != nil {
			return nil, err
		}
	}
	for _, d := range o.Deliveries {
		d.OrderID = o.ID
		if err := add(EntityDelivery, d.ID, d, deliveryNestedFields...); err != nil {
			return nil, err
		}
		for _, pos := range d.Positions {
			pos.OrderDeliveryID = d.ID
			if err := add(EntityDeliveryPosition, pos.ID, pos); err != nil {
				return nil, err
			}
		}
	}
	for _, tr := range o.Transactions {
		tr.OrderID = o.ID
		if err := add(EntityTransaction, tr.ID, tr); err != nil {
			return nil, err
		}
	}
	if o.Customer != nil {
		customer := *o.Customer
		customer.OrderID = o.ID
		if customer.ID == "" {
			customer.ID = o.ID
		}
		if err := add(EntityCustomer, customer.ID, customer); err != nil {
			return nil, err
		}
	}
	for _, tagID := range o.TagIDs {
		link := map[string]string{fieldOrderID: o.ID, fieldTagID: tagID}
		if err := add(EntityOrderTag, tagRowID(o.ID, tagID), link); err != nil {
			return nil, err
		}
	}
	return rows, nil
}

func tagRowID(orderID, tagID string) string {
	return orderID + ":" + tagID
}

package order

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/vladislavdragonenkov/orderedit/internal/domain"
	"github.com/vladislavdragonenkov/orderedit/internal/versioning"
)

// Repository хранит агрегат заказа строками версионируемых сущностей.
type Repository struct {
	versions *versioning.Manager
}

// NewRepository создаёт репозиторий поверх менеджера версий со схемой Schema.
func NewRepository(versions *versioning.Manager) *Repository {
	return &Repository{versions: versions}
}

// Create сохраняет новый заказ в live-версии вместе с тегами-справочниками.
func (r *Repository) Create(ctx context.Context, o domain.Order) error {
	o.VersionID = domain.LiveVersionID
	if err := o.Validate(); err != nil {
		return err
	}
	rows, err := encodeOrder(o)
	if err != nil {
		return err
	}

	ops := make([]versioning.Operation, 0, len(rows)+len(o.TagIDs))
	for _, tagID := range o.TagIDs {
		ops = append(ops, versioning.Operation{
			Kind:   versioning.OpUpsert,
			Entity: EntityTag,
			ID:     tagID,
			Data:   versioning.Data{"id": versioning.StringValue(tagID)},
		})
	}
	for _, row := range rows {
		ops = append(ops, versioning.Operation{Kind: versioning.OpInsert, Entity: row.Entity, ID: row.ID, Data: row.Data})
	}
	if err := r.versions.Write(ctx, domain.LiveVersionID, ops...); err != nil {
		return fmt.Errorf("create order %s: %w", o.ID, err)
	}
	return nil
}

// Load собирает заказ из строк версии. Строки live-версии в другую версию не подмешиваются.
func (r *Repository) Load(ctx context.Context, id, versionID string) (domain.Order, error) {
	stored, err := r.load(ctx, id, versionID)
	if err != nil {
		return domain.Order{}, err
	}
	return stored.order, nil
}

// Save приводит строки заказа в o.VersionID к состоянию o: отсутствующие строки
// удаляются, изменённые поля обновляются, неизменные строки не пишутся.
func (r *Repository) Save(ctx context.Context, o domain.Order) error {
	if o.VersionID == "" {
		return fmt.Errorf("%w: order version is required", domain.ErrInvalidArgument)
	}
	if err := o.Validate(); err != nil {
		return err
	}
	current, err := r.load(ctx, o.ID, o.VersionID)
	if err != nil {
		return err
	}
	desired, err := encodeOrder(o)
	if err != nil {
		return err
	}

	keep := make(map[rowKey]struct{}, len(desired))
	ops := make([]versioning.Operation, 0, len(desired))
	for _, row := range desired {
		k := rowKey{row.Entity, row.ID}
		keep[k] = struct{}{}
		data := row.Data
		if old, ok := current.rows[k]; ok {
			data = withClearedFields(data, old.Data)
		}
		ops = append(ops, versioning.Operation{Kind: versioning.OpUpsert, Entity: row.Entity, ID: row.ID, Data: data})
	}

	var stale []rowKey
	for k := range current.rows {
		if _, ok := keep[k]; !ok {
			stale = append(stale, k)
		}
	}
	sort.Slice(stale, func(i, j int) bool {
		if stale[i].entity != stale[j].entity {
			return stale[i].entity < stale[j].entity
		}
		return stale[i].id < stale[j].id
	})
	for _, k := range stale {
		ops = append(ops, versioning.Operation{Kind: versioning.OpDelete, Entity: k.entity, ID: k.id})
	}

	if err := r.versions.Write(ctx, o.VersionID, ops...); err != nil {
		return fmt.Errorf("save order %s: %w", o.ID, err)
	}
	return nil
}

// withClearedFields явно обнуляет поля, исчезнувшие из новой строки:
// обновление переносит только переданные поля.
func withClearedFields(data, old versioning.Data) versioning.Data {
	out := data.Clone()
	for field := range old {
		if _, ok := out[field]; !ok {
			out[field] = json.RawMessage("null")
		}
	}
	return out
}

type rowKey struct {
	entity string
	id     string
}

type storedOrder struct {
	order domain.Order
	rows  map[rowKey]versioning.Row
}

func (r *Repository) load(ctx context.Context, id, versionID string) (storedOrder, error) {
	root, err := r.versions.Get(ctx, EntityOrder, id, versionID)
	if errors.Is(err, domain.ErrRowNotFound) {
		return storedOrder{}, fmt.Errorf("%w: %s in version %s", domain.ErrOrderNotFound, id, versionID)
	}
	if err != nil {
		return storedOrder{}, err
	}

	stored := storedOrder{rows: map[rowKey]versioning.Row{{EntityOrder, id}: root}}
	o := &stored.order
	if err := versioning.Decode(root.Data, o); err != nil {
		return storedOrder{}, err
	}
	o.ID = id
	o.VersionID = versionID

	find := func(entity, field, value string) ([]versioning.Row, error) {
		rows, err := r.versions.Find(ctx, versioning.Query{Entity: entity, VersionID: versionID, Field: field, Value: value})
		if err != nil {
			return nil, err
		}
		for _, row := range rows {
			stored.rows[rowKey{row.Entity, row.ID}] = row
		}
		return rows, nil
	}

	rows, err := find(EntityLineItem, fieldOrderID, id)
	if err != nil {
		return storedOrder{}, err
	}
	if err := decodeRows(rows, &o.LineItems); err != nil {
		return storedOrder{}, err
	}
	o.LineItems = treeOrder(o.LineItems)

	if rows, err = find(EntityAddress, fieldOrderID, id); err != nil {
		return storedOrder{}, err
	}
	if err := decodeRows(rows, &o.Addresses); err != nil {
		return storedOrder{}, err
	}

	if rows, err = find(EntityDelivery, fieldOrderID, id); err != nil {
		return storedOrder{}, err
	}
	if err := decodeRows(rows, &o.Deliveries); err != nil {
		return storedOrder{}, err
	}
	itemIndex := make(map[string]int, len(o.LineItems))
	for i, li := range o.LineItems {
		itemIndex[li.ID] = i
	}
	for i := range o.Deliveries {
		d := &o.Deliveries[i]
		if rows, err = find(EntityDeliveryPosition, fieldDeliveryID, d.ID); err != nil {
			return storedOrder{}, err
		}
		if err := decodeRows(rows, &d.Positions); err != nil {
			return storedOrder{}, err
		}
		sort.SliceStable(d.Positions, func(a, b int) bool {
			return itemIndex[d.Positions[a].OrderLineItemID] < itemIndex[d.Positions[b].OrderLineItemID]
		})
	}
	sort.SliceStable(o.Deliveries, func(a, b int) bool {
		return deliveryRank(o, o.Deliveries[a]) < deliveryRank(o, o.Deliveries[b])
	})

	if rows, err = find(EntityTransaction, fieldOrderID, id); err != nil {
		return storedOrder{}, err
	}
	if err := decodeRows(rows, &o.Transactions); err != nil {
		return storedOrder{}, err
	}
	sort.SliceStable(o.Transactions, func(a, b int) bool {
		return o.Transactions[a].ID == o.PrimaryOrderTransactionID && o.Transactions[b].ID != o.PrimaryOrderTransactionID
	})

	if rows, err = find(EntityCustomer, fieldOrderID, id); err != nil {
		return storedOrder{}, err
	}
	if len(rows) > 0 {
		var customer domain.OrderCustomer
		if err := versioning.Decode(rows[0].Data, &customer); err != nil {
			return storedOrder{}, err
		}
		o.Customer = &customer
	}

	if rows, err = find(EntityOrderTag, fieldOrderID, id); err != nil {
		return storedOrder{}, err
	}
	o.TagIDs = nil
	for _, row := range rows {
		if tagID, ok := row.Data.String(fieldTagID); ok {
			o.TagIDs = append(o.TagIDs, tagID)
		}
	}
	return stored, nil
}

// deliveryRank ставит основную доставку первой, доставки-скидки последними.
func deliveryRank(o *domain.Order, d domain.OrderDelivery) int {
	switch {
	case d.ID == o.PrimaryOrderDeliveryID:
		return 0
	case d.IsPromotion():
		return 2
	default:
		return 1
	}
}

// treeOrder раскладывает позиции в обход дерева в глубину по Position.
func treeOrder(items []domain.OrderLineItem) []domain.OrderLineItem {
	byParent := make(map[string][]domain.OrderLineItem)
	known := make(map[string]struct{}, len(items))
	for _, li := range items {
		known[li.ID] = struct{}{}
	}
	for _, li := range items {
		parent := ""
		if li.ParentID != nil {
			if _, ok := known[*li.ParentID]; ok {
				parent = *li.ParentID
			}
		}
		byParent[parent] = append(byParent[parent], li)
	}
	for _, level := range byParent {
		sort.SliceStable(level, func(i, j int) bool {
			if level[i].Position != level[j].Position {
				return level[i].Position < level[j].Position
			}
			return level[i].ID < level[j].ID
		})
	}

	out := make([]domain.OrderLineItem, 0, len(items))
	var walk func(parent string)
	walk = func(parent string) {
		for _, li := range byParent[parent] {
			out = append(out, li)
			walk(li.ID)
		}
	}
	walk("")
	return out
}

func decodeRows[T any](rows []versioning.Row, out *[]T) error {
	*out = make([]T, 0, len(rows))
	for _, row := range rows {
		var v T
		if err := versioning.Decode(row.Data, &v); err != nil {
			return err
		}
		*out = append(*out, v)
	}
	return nil
}

package feed

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/tablewire/tablewire/internal/entity"
	"github.com/tablewire/tablewire/internal/realtime/router"
	"github.com/tablewire/tablewire/internal/store"
)

type orderFeed struct {
	store  *store.Store
	logger *zap.Logger
}

// NewOrderFeed registers the order stream handlers, including the line-item
// level events that carry authoritative totals.
func NewOrderFeed(s *store.Store, logger *zap.Logger) []router.Registration {
	f := &orderFeed{store: s, logger: logger}
	return []router.Registration{
		{Event: "order:created", Handler: f.created},
		{Event: "order:updated", Handler: f.updated},
		{Event: "order:status_changed", Handler: f.statusChanged},
		{Event: "order:payment_requested", Handler: f.paymentRequested},
		{Event: "order:payment_completed", Handler: f.paymentCompleted},
		{Event: "order:payment_failed", Handler: f.paymentFailed},
		{Event: "order:item_created", Handler: f.itemUpserted},
		{Event: "order:item_quantity_changed", Handler: f.itemUpserted},
		{Event: "order:item_status_changed", Handler: f.itemUpserted},
		{Event: "order:item_deleted", Handler: f.itemDeleted},
		{Event: "order:voucher_applied", Handler: f.voucherApplied},
		{Event: "order:voucher_removed", Handler: f.voucherRemoved},
		{Event: "order:merged", Handler: f.merged},
		{Event: "order:support_requested", Handler: f.supportRequested},
	}
}

// orderID tolerates every observed id spelling.
func orderID(p router.Payload) string {
	if id := p.String("orderId", "order_id", "id"); id != "" {
		return id
	}
	if sub, ok := p.Sub("order"); ok {
		return sub.String("id", "orderId")
	}
	return ""
}

// normalizeOrder maps one order payload onto a store patch. Monetary totals
// are copied verbatim from the event; the server is the sole source of truth
// for aggregation, so nothing here ever sums line items.
func normalizeOrder(p router.Payload) store.Record {
	rec := store.Record{}
	if customer := p.String("customer_id", "user_id", "customerId"); customer != "" {
		rec["customer_id"] = customer
	}
	if table := p.String("table_id", "tableId"); table != "" {
		rec["table_id"] = table
	}
	if status := p.String("status"); status != "" {
		rec["status"] = status
	}
	if payment := p.String("payment_status", "paymentStatus"); payment != "" {
		rec["payment_status"] = payment
	}
	if subtotal, ok := p.Float("total_amount", "subtotal", "total"); ok {
		rec["total_amount"] = subtotal
	}
	if final, ok := p.Float("final_amount", "finalAmount"); ok {
		rec["final_amount"] = final
	}
	if voucher := p.String("voucher_id", "voucherId"); voucher != "" {
		rec["voucher_id"] = voucher
	}
	if created := p.String("created_at", "createdAt"); created != "" {
		rec["created_at"] = created
	}
	if updated := p.String("updated_at", "updatedAt"); updated != "" {
		rec["updated_at"] = updated
	}
	return rec
}

// totalsPatch extracts only the authoritative total snapshot from an event.
func totalsPatch(p router.Payload) store.Record {
	patch := store.Record{}
	if subtotal, ok := p.Float("total_amount", "subtotal", "total"); ok {
		patch["total_amount"] = subtotal
	}
	if final, ok := p.Float("final_amount", "finalAmount"); ok {
		patch["final_amount"] = final
	}
	return patch
}

func (f *orderFeed) created(ctx context.Context, data json.RawMessage) error {
	return f.upsertFull(data)
}

func (f *orderFeed) updated(ctx context.Context, data json.RawMessage) error {
	return f.upsertFull(data)
}

func (f *orderFeed) upsertFull(data json.RawMessage) error {
	p, err := router.Decode(data)
	if err != nil {
		return err
	}
	id := orderID(p)
	if id == "" {
		f.logger.Warn("order event without id; skipping")
		return nil
	}
	f.store.Upsert(store.Orders, id, normalizeOrder(p))
	return nil
}

// statusChanged patches only the status axis; every other field on the
// record is left untouched.
func (f *orderFeed) statusChanged(ctx context.Context, data json.RawMessage) error {
	p, err := router.Decode(data)
	if err != nil {
		return err
	}
	id := orderID(p)
	status := p.String("status")
	if id == "" || status == "" {
		return nil
	}

	if rec, ok := f.store.Get(store.Orders, id); ok {
		if current, ok := rec["status"].(string); ok && current != status {
			from := entity.OrderStatus(current)
			if !from.CanTransition(entity.OrderStatus(status)) {
				f.logger.Warn("unexpected order status transition",
					zap.String("order_id", id),
					zap.String("from", current),
					zap.String("to", status),
				)
			}
		}
	}

	patch := store.Record{"status": status}
	if updated := p.String("updated_at", "updatedAt"); updated != "" {
		patch["updated_at"] = updated
	}
	f.store.Upsert(store.Orders, id, patch)
	return nil
}

func (f *orderFeed) paymentRequested(ctx context.Context, data json.RawMessage) error {
	return f.paymentPatch(data, entity.PaymentPending, "")
}

func (f *orderFeed) paymentCompleted(ctx context.Context, data json.RawMessage) error {
	return f.paymentPatch(data, entity.PaymentPaid, entity.OrderCompleted)
}

func (f *orderFeed) paymentFailed(ctx context.Context, data json.RawMessage) error {
	return f.paymentPatch(data, entity.PaymentFailed, "")
}

func (f *orderFeed) paymentPatch(data json.RawMessage, payment entity.PaymentStatus, status entity.OrderStatus) error {
	p, err := router.Decode(data)
	if err != nil {
		return err
	}
	id := orderID(p)
	if id == "" {
		return nil
	}
	patch := normalizeOrder(p)
	patch["payment_status"] = string(payment)
	if status != "" && patch["status"] == nil {
		patch["status"] = string(status)
	}
	f.store.Upsert(store.Orders, id, patch)
	return nil
}

// itemUpserted covers item created, quantity changed, and item status
// changed: the item record is replaced and the parent order's totals are
// taken from the event snapshot.
func (f *orderFeed) itemUpserted(ctx context.Context, data json.RawMessage) error {
	p, err := router.Decode(data)
	if err != nil {
		return err
	}
	item, ok := p.Sub("item", "order_item")
	if !ok {
		item = p
	}
	itemID := item.String("id", "itemId", "item_id")
	parentID := orderID(p)
	if itemID == "" {
		f.logger.Warn("order item event without item id; skipping")
		return nil
	}

	rec := store.Record{}
	if parentID != "" {
		rec["order_id"] = parentID
	}
	if dish := item.String("dish_id", "dishId"); dish != "" {
		rec["dish_id"] = dish
	}
	if qty, ok := item.Int("quantity"); ok {
		rec["quantity"] = qty
	}
	if price, ok := item.Float("price"); ok {
		rec["price"] = price
	}
	if status := item.String("status"); status != "" {
		rec["status"] = status
	}
	f.store.Upsert(store.OrderItems, itemID, rec)

	if parentID != "" {
		if patch := totalsPatch(p); len(patch) > 0 {
			f.store.Upsert(store.Orders, parentID, patch)
		}
	}
	return nil
}

func (f *orderFeed) itemDeleted(ctx context.Context, data json.RawMessage) error {
	p, err := router.Decode(data)
	if err != nil {
		return err
	}
	itemID := p.String("itemId", "item_id")
	if itemID == "" {
		if item, ok := p.Sub("item", "order_item"); ok {
			itemID = item.String("id")
		}
	}
	if itemID != "" {
		f.store.Remove(store.OrderItems, itemID)
	}
	if parentID := orderID(p); parentID != "" {
		if patch := totalsPatch(p); len(patch) > 0 {
			f.store.Upsert(store.Orders, parentID, patch)
		}
	}
	return nil
}

func (f *orderFeed) voucherApplied(ctx context.Context, data json.RawMessage) error {
	p, err := router.Decode(data)
	if err != nil {
		return err
	}
	id := orderID(p)
	if id == "" {
		return nil
	}
	patch := normalizeOrder(p)
	if voucher := p.String("voucher_id", "voucherId"); voucher != "" {
		patch["voucher_id"] = voucher
	}
	f.store.Upsert(store.Orders, id, patch)
	return nil
}

func (f *orderFeed) voucherRemoved(ctx context.Context, data json.RawMessage) error {
	p, err := router.Decode(data)
	if err != nil {
		return err
	}
	id := orderID(p)
	if id == "" {
		return nil
	}
	patch := normalizeOrder(p)
	patch["voucher_id"] = ""
	f.store.Upsert(store.Orders, id, patch)
	return nil
}

func (f *orderFeed) merged(ctx context.Context, data json.RawMessage) error {
	p, err := router.Decode(data)
	if err != nil {
		return err
	}
	id := orderID(p)
	if id == "" {
		return nil
	}
	f.store.Upsert(store.Orders, id, normalizeOrder(p))
	if merged := p.String("mergedOrderId", "merged_order_id", "sourceOrderId"); merged != "" && merged != id {
		f.store.Remove(store.Orders, merged)
	}
	return nil
}

func (f *orderFeed) supportRequested(ctx context.Context, data json.RawMessage) error {
	p, err := router.Decode(data)
	if err != nil {
		return err
	}
	id := orderID(p)
	if id == "" {
		return nil
	}
	f.store.Upsert(store.Orders, id, store.Record{"support_requested": true})
	return nil
}

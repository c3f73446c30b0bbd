package feed

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/tablewire/tablewire/internal/entity"
	"github.com/tablewire/tablewire/internal/realtime/router"
	"github.com/tablewire/tablewire/internal/store"
)

type reservationFeed struct {
	store  *store.Store
	logger *zap.Logger
}

// NewReservationFeed registers the reservation stream handlers.
func NewReservationFeed(s *store.Store, logger *zap.Logger) []router.Registration {
	f := &reservationFeed{store: s, logger: logger}
	return []router.Registration{
		{Event: "reservation:created", Handler: f.upsertFull},
		{Event: "reservation:updated", Handler: f.upsertFull},
		{Event: "reservation:status_changed", Handler: f.statusChanged},
		{Event: "reservation:checked_in", Handler: f.checkedIn},
		{Event: "reservation:deposit_payment_requested", Handler: f.depositPatch(entity.PaymentPending)},
		{Event: "reservation:deposit_payment_completed", Handler: f.depositPatch(entity.PaymentPaid)},
		{Event: "reservation:deposit_payment_failed", Handler: f.depositPatch(entity.PaymentFailed)},
	}
}

func reservationID(p router.Payload) string {
	if id := p.String("reservationId", "reservation_id", "id"); id != "" {
		return id
	}
	if sub, ok := p.Sub("reservation"); ok {
		return sub.String("id", "reservationId")
	}
	return ""
}

func normalizeReservation(p router.Payload) store.Record {
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
	if date := p.String("date", "reservation_date"); date != "" {
		rec["date"] = date
	}
	if t := p.String("time", "reservation_time"); t != "" {
		rec["time"] = t
	}
	if people, ok := p.Int("num_people", "numPeople", "party_size"); ok {
		rec["num_people"] = people
	}
	if event := p.String("event_type", "eventType"); event != "" {
		rec["event_type"] = event
	}
	if created := p.String("created_at", "createdAt"); created != "" {
		rec["created_at"] = created
	}
	if updated := p.String("updated_at", "updatedAt"); updated != "" {
		rec["updated_at"] = updated
	}
	return rec
}

func (f *reservationFeed) upsertFull(ctx context.Context, data json.RawMessage) error {
	p, err := router.Decode(data)
	if err != nil {
		return err
	}
	id := reservationID(p)
	if id == "" {
		f.logger.Warn("reservation event without id; skipping")
		return nil
	}
	f.store.Upsert(store.Reservations, id, normalizeReservation(p))
	return nil
}

func (f *reservationFeed) statusChanged(ctx context.Context, data json.RawMessage) error {
	p, err := router.Decode(data)
	if err != nil {
		return err
	}
	id := reservationID(p)
	status := p.String("status")
	if id == "" || status == "" {
		return nil
	}

	if rec, ok := f.store.Get(store.Reservations, id); ok {
		if current, ok := rec["status"].(string); ok && current != status {
			from := entity.ReservationStatus(current)
			if !from.CanTransition(entity.ReservationStatus(status)) {
				f.logger.Warn("unexpected reservation status transition",
					zap.String("reservation_id", id),
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
	f.store.Upsert(store.Reservations, id, patch)
	return nil
}

func (f *reservationFeed) checkedIn(ctx context.Context, data json.RawMessage) error {
	p, err := router.Decode(data)
	if err != nil {
		return err
	}
	id := reservationID(p)
	if id == "" {
		return nil
	}
	patch := store.Record{"status": string(entity.ReservationCheckedIn)}
	if at := p.String("checked_in_at", "checkedInAt", "timestamp"); at != "" {
		patch["checked_in_at"] = at
	}
	f.store.Upsert(store.Reservations, id, patch)
	return nil
}

func (f *reservationFeed) depositPatch(status entity.PaymentStatus) router.Handler {
	return func(ctx context.Context, data json.RawMessage) error {
		p, err := router.Decode(data)
		if err != nil {
			return err
		}
		id := reservationID(p)
		if id == "" {
			return nil
		}
		patch := normalizeReservation(p)
		patch["deposit_status"] = string(status)
		f.store.Upsert(store.Reservations, id, patch)
		return nil
	}
}

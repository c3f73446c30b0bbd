package entity

import "time"

// ReservationStatus enumerates the reservation lifecycle.
type ReservationStatus string

const (
	ReservationPending   ReservationStatus = "pending"
	ReservationConfirmed ReservationStatus = "confirmed"
	ReservationCheckedIn ReservationStatus = "checked_in"
	ReservationCompleted ReservationStatus = "completed"
	ReservationCancelled ReservationStatus = "cancelled"
	ReservationNoShow    ReservationStatus = "no_show"
)

// Terminal reports whether the reservation can no longer change state.
func (s ReservationStatus) Terminal() bool {
	switch s {
	case ReservationCompleted, ReservationCancelled, ReservationNoShow:
		return true
	}
	return false
}

// CanTransition reports whether the lifecycle permits moving to next.
// Cancelled and no_show are reachable only from pending or confirmed.
func (s ReservationStatus) CanTransition(next ReservationStatus) bool {
	switch next {
	case ReservationCancelled, ReservationNoShow:
		return s == ReservationPending || s == ReservationConfirmed
	case ReservationConfirmed:
		return s == ReservationPending
	case ReservationCheckedIn:
		return s == ReservationConfirmed
	case ReservationCompleted:
		return s == ReservationCheckedIn
	default:
		return false
	}
}

// Reservation is a table reservation as held in the store.
type Reservation struct {
	ID         string            `json:"id"`
	CustomerID string            `json:"customer_id,omitempty"`
	TableID    string            `json:"table_id,omitempty"`
	Status     ReservationStatus `json:"status"`
	Date       string            `json:"date,omitempty"`
	Time       string            `json:"time,omitempty"`
	PartySize  int               `json:"num_people,omitempty"`
	EventType  string            `json:"event_type,omitempty"`
	PreOrders  []OrderItem       `json:"pre_orders,omitempty"`
	CreatedAt  time.Time         `json:"created_at,omitempty"`
	UpdatedAt  time.Time         `json:"updated_at,omitempty"`
}

package entity

import (
	"strings"
	"testing"
)

func TestOrderStatusCanTransition(t *testing.T) {
	tests := []struct {
		name string
		from OrderStatus
		to   OrderStatus
		want bool
	}{
		{"pendingToPaid", OrderPending, OrderPaid, true},
		{"paidToDining", OrderPaid, OrderDining, true},
		{"diningToWaitingPayment", OrderDining, OrderWaitingPayment, true},
		{"waitingPaymentToCompleted", OrderWaitingPayment, OrderCompleted, true},
		{"pendingToDiningSkips", OrderPending, OrderDining, false},
		{"cancelFromAnyActive", OrderDining, OrderCancelled, true},
		{"cancelFromCompleted", OrderCompleted, OrderCancelled, false},
		{"completedIsTerminal", OrderCompleted, OrderPending, false},
		{"selfTransition", OrderPaid, OrderPaid, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.from.CanTransition(tt.to); got != tt.want {
				t.Errorf("%s -> %s = %v, want %v", tt.from, tt.to, got, tt.want)
			}
		})
	}
}

func TestPaymentStatusCanTransition(t *testing.T) {
	tests := []struct {
		name string
		from PaymentStatus
		to   PaymentStatus
		want bool
	}{
		{"unpaidToPending", PaymentUnpaid, PaymentPending, true},
		{"pendingToPaid", PaymentPending, PaymentPaid, true},
		{"pendingToFailed", PaymentPending, PaymentFailed, true},
		{"failedRetriesToPending", PaymentFailed, PaymentPending, true},
		{"paidIsTerminal", PaymentPaid, PaymentPending, false},
		{"unpaidStraightToPaid", PaymentUnpaid, PaymentPaid, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.from.CanTransition(tt.to); got != tt.want {
				t.Errorf("%s -> %s = %v, want %v", tt.from, tt.to, got, tt.want)
			}
		})
	}
}

func TestReservationStatusCanTransition(t *testing.T) {
	tests := []struct {
		name string
		from ReservationStatus
		to   ReservationStatus
		want bool
	}{
		{"pendingToConfirmed", ReservationPending, ReservationConfirmed, true},
		{"confirmedToCheckedIn", ReservationConfirmed, ReservationCheckedIn, true},
		{"checkedInToCompleted", ReservationCheckedIn, ReservationCompleted, true},
		{"pendingToCancelled", ReservationPending, ReservationCancelled, true},
		{"confirmedToNoShow", ReservationConfirmed, ReservationNoShow, true},
		{"checkedInToCancelled", ReservationCheckedIn, ReservationCancelled, false},
		{"completedIsTerminal", ReservationCompleted, ReservationPending, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.from.CanTransition(tt.to); got != tt.want {
				t.Errorf("%s -> %s = %v, want %v", tt.from, tt.to, got, tt.want)
			}
		})
	}
}

func TestSessionStatusCanTransition(t *testing.T) {
	if !SessionActive.CanTransition(SessionClosed) {
		t.Error("active -> closed should be valid")
	}
	if !SessionClosed.CanTransition(SessionActive) {
		t.Error("closed sessions can reopen")
	}
	if SessionActive.CanTransition(SessionActive) {
		t.Error("self transition should be invalid")
	}
}

func TestDeliveryStatusAdvance(t *testing.T) {
	tests := []struct {
		name string
		from DeliveryStatus
		to   DeliveryStatus
		want DeliveryStatus
	}{
		{"sentToDelivered", DeliverySent, DeliveryDelivered, DeliveryDelivered},
		{"deliveredToRead", DeliveryDelivered, DeliveryRead, DeliveryRead},
		{"readNeverRegresses", DeliveryRead, DeliverySent, DeliveryRead},
		{"deliveredNeverRegresses", DeliveryDelivered, DeliverySent, DeliveryDelivered},
		{"sentSkipsToRead", DeliverySent, DeliveryRead, DeliveryRead},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.from.Advance(tt.to); got != tt.want {
				t.Errorf("Advance(%s, %s) = %s, want %s", tt.from, tt.to, got, tt.want)
			}
		})
	}
}

func TestRefKeys(t *testing.T) {
	prov := Provisional("msg-1-abc")
	if !prov.IsProvisional() {
		t.Error("Provisional ref not provisional")
	}
	if prov.Key() != "tmp:msg-1-abc" {
		t.Errorf("provisional key = %q", prov.Key())
	}

	conf := Confirmed("m-42")
	if conf.IsProvisional() {
		t.Error("Confirmed ref is provisional")
	}
	if conf.Key() != "m-42" {
		t.Errorf("confirmed key = %q", conf.Key())
	}
}

func TestNewCorrelationID(t *testing.T) {
	a := NewCorrelationID()
	b := NewCorrelationID()
	if !strings.HasPrefix(a, "msg-") {
		t.Errorf("correlation id %q lacks msg- prefix", a)
	}
	if a == b {
		t.Errorf("consecutive correlation ids collide: %q", a)
	}
}

package entity

import (
	"fmt"
	"math/rand"
	"time"
)

// RefKind distinguishes the two identity states an entity can be in.
type RefKind string

const (
	// RefProvisional marks an identity backed by a client correlation id,
	// awaiting server confirmation.
	RefProvisional RefKind = "provisional"
	// RefConfirmed marks a server-assigned identity.
	RefConfirmed RefKind = "confirmed"
)

// Ref is the tagged identity of a store record. A record is either provisional
// (addressed by the correlation id of the mutation that created it) or
// confirmed (addressed by its server id); the distinction is structural, never
// inferred from the shape of the id string.
type Ref struct {
	Kind  RefKind
	Value string
}

// Provisional builds a Ref for a not-yet-confirmed record.
func Provisional(correlationID string) Ref {
	return Ref{Kind: RefProvisional, Value: correlationID}
}

// Confirmed builds a Ref for a server-assigned id.
func Confirmed(id string) Ref {
	return Ref{Kind: RefConfirmed, Value: id}
}

// IsProvisional reports whether the record still awaits confirmation.
func (r Ref) IsProvisional() bool {
	return r.Kind == RefProvisional
}

// Key returns the store key for the identity. Provisional keys carry a
// namespace segment so a server id can never collide with one.
func (r Ref) Key() string {
	if r.Kind == RefProvisional {
		return "tmp:" + r.Value
	}
	return r.Value
}

// NewCorrelationID generates a correlation id unique within the client
// session: millisecond timestamp plus a random suffix, mirroring the ids the
// backend echoes back on acknowledgment.
func NewCorrelationID() string {
	return fmt.Sprintf("msg-%d-%06x", time.Now().UnixMilli(), rand.Intn(1<<24))
}

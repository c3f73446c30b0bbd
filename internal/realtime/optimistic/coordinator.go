package optimistic

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/tablewire/tablewire/internal/config"
	"github.com/tablewire/tablewire/internal/entity"
	"github.com/tablewire/tablewire/internal/realtime/conn"
	"github.com/tablewire/tablewire/internal/store"
	"github.com/tablewire/tablewire/pkg/errorbank"
)

var tracer = otel.Tracer("github.com/tablewire/tablewire/realtime/optimistic")

// Status is the terminal fate of an optimistic mutation.
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
	StatusTimeout Status = "timeout"
)

// Result is delivered to the caller exactly once per Begin.
type Result struct {
	Status        Status
	CorrelationID string
	ServerID      string
	Err           error
}

// Mutation describes one speculative write.
type Mutation struct {
	// Family is the entity family the provisional record belongs to.
	Family store.Family
	// Event is the outbound mutation event name.
	Event string
	// Payload is sent on the channel; the correlation id is injected under
	// "clientMessageId" so the server can echo it back.
	Payload map[string]any
	// Provisional is the optimistic snapshot applied to the store
	// immediately, before any network round-trip completes.
	Provisional store.Record
}

// Ack is a server acknowledgment, already normalized by the feed handler.
type Ack struct {
	CorrelationID string
	Success       bool
	ServerID      string
	Error         string
	// Extra is merged onto the record on success, alongside the id swap.
	Extra store.Record
}

type pending struct {
	family store.Family
	key    string
	timer  *time.Timer
	result chan Result
}

// Coordinator stamps speculative writes with correlation ids, applies
// provisional store state, and reconciles later acknowledgments. It
// guarantees one terminal resolution per correlation id; duplicate acks and
// acks for unknown ids are inert.
type Coordinator struct {
	store   *store.Store
	mgr     *conn.Manager
	logger  *zap.Logger
	timeout time.Duration

	mu      sync.Mutex
	pending map[string]*pending
}

// Module provides the coordinator.
var Module = fx.Provide(NewCoordinator)

// NewCoordinator wires the coordinator with the configured ack deadline.
func NewCoordinator(s *store.Store, mgr *conn.Manager, cfg config.Config, logger *zap.Logger) *Coordinator {
	return &Coordinator{
		store:   s,
		mgr:     mgr,
		logger:  logger,
		timeout: cfg.Realtime.AckTimeout,
		pending: make(map[string]*pending),
	}
}

// Begin applies the provisional entity and emits the mutation. The returned
// channel delivers exactly one Result and is then closed. When the channel
// is down the provisional entity is rolled back and an error returned; this
// layer does not guarantee delivery across disconnects.
func (c *Coordinator) Begin(ctx context.Context, m Mutation) (string, <-chan Result, error) {
	correlationID := entity.NewCorrelationID()
	key := entity.Provisional(correlationID).Key()

	_, span := tracer.Start(ctx, "optimistic.begin", trace.WithAttributes(
		attribute.String("realtime.event", m.Event),
		attribute.String("realtime.correlation_id", correlationID),
	))
	defer span.End()

	provisional := m.Provisional.Clone()
	if provisional == nil {
		provisional = store.Record{}
	}
	provisional["client_message_id"] = correlationID
	provisional["provisional"] = true
	c.store.Upsert(m.Family, key, provisional)

	payload := make(map[string]any, len(m.Payload)+1)
	for k, v := range m.Payload {
		payload[k] = v
	}
	payload["clientMessageId"] = correlationID

	if err := c.mgr.Emit(m.Event, payload); err != nil {
		c.store.Remove(m.Family, key)
		span.RecordError(err)
		return "", nil, err
	}

	p := &pending{
		family: m.Family,
		key:    key,
		result: make(chan Result, 1),
	}

	// The entry must be registered and the timer armed under the same lock:
	// expire takes the lock before it looks up the id, so even a deadline
	// that has already passed cannot fire against a half-registered entry.
	c.mu.Lock()
	c.pending[correlationID] = p
	p.timer = time.AfterFunc(c.timeout, func() { c.expire(correlationID) })
	c.mu.Unlock()

	c.logger.Debug("optimistic mutation begun",
		zap.String("event", m.Event),
		zap.String("correlation_id", correlationID),
	)
	return correlationID, p.result, nil
}

// Resolve reconciles an acknowledgment. Success with a server id substitutes
// the provisional identity across the store; failure rolls the provisional
// entity back entirely. The second delivery of the same ack is a no-op.
func (c *Coordinator) Resolve(ack Ack) {
	c.mu.Lock()
	p, ok := c.pending[ack.CorrelationID]
	if ok {
		delete(c.pending, ack.CorrelationID)
	}
	c.mu.Unlock()
	if !ok {
		// Duplicate delivery, or an ack arriving after every listener is
		// gone; the provisional record is keyed independently, so this is
		// simply inert.
		return
	}
	p.timer.Stop()

	if !ack.Success {
		c.store.Remove(p.family, p.key)
		err := errorbank.Unprocessable("mutation rejected",
			errorbank.WithDetail("correlation_id", ack.CorrelationID),
			errorbank.WithDetail("reason", ack.Error),
		)
		c.deliver(p, Result{Status: StatusFailed, CorrelationID: ack.CorrelationID, Err: err})
		return
	}

	extra := ack.Extra.Clone()
	if extra == nil {
		extra = store.Record{}
	}
	extra["provisional"] = false

	if ack.ServerID != "" {
		c.store.ReplaceID(p.family, p.key, ack.ServerID, extra)
	} else {
		c.store.Upsert(p.family, p.key, extra)
	}
	c.deliver(p, Result{
		Status:        StatusSuccess,
		CorrelationID: ack.CorrelationID,
		ServerID:      ack.ServerID,
	})
}

// expire drops the pending record once the deadline passes. The provisional
// entity stays in the store so a slow acknowledgment does not make the entry
// flicker away; it remains flagged unconfirmed and readers may render a
// stale indicator for it.
func (c *Coordinator) expire(correlationID string) {
	c.mu.Lock()
	p, ok := c.pending[correlationID]
	if ok {
		delete(c.pending, correlationID)
	}
	c.mu.Unlock()
	if !ok {
		return
	}

	c.logger.Warn("acknowledgment deadline passed",
		zap.String("correlation_id", correlationID),
	)
	c.deliver(p, Result{Status: StatusTimeout, CorrelationID: correlationID})
}

func (c *Coordinator) deliver(p *pending, r Result) {
	p.result <- r
	close(p.result)
}

// PendingCount reports how many mutations still await acknowledgment.
func (c *Coordinator) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

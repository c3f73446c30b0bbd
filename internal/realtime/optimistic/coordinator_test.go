package optimistic

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/tablewire/tablewire/internal/config"
	"github.com/tablewire/tablewire/internal/entity"
	"github.com/tablewire/tablewire/internal/realtime/conn"
	"github.com/tablewire/tablewire/internal/realtime/transport"
	"github.com/tablewire/tablewire/internal/store"
)

func newTestCoordinator(t *testing.T, timeout time.Duration) (*Coordinator, *store.Store, *transport.Pipe) {
	t.Helper()
	pipe := transport.NewPipe()
	pipe.SetConnected(true)
	cfg := config.Config{Realtime: config.Realtime{AckTimeout: timeout}}
	mgr := conn.NewManager(pipe, cfg, zap.NewNop())
	s := store.New()
	return NewCoordinator(s, mgr, cfg, zap.NewNop()), s, pipe
}

func sendMessageMutation(text string) Mutation {
	return Mutation{
		Family: store.ChatMessages,
		Event:  "chat:send_message",
		Payload: map[string]any{
			"sessionId": "s1",
			"message":   text,
		},
		Provisional: store.Record{
			"session_id":      "s1",
			"message_text":    text,
			"delivery_status": "sent",
		},
	}
}

func awaitResult(t *testing.T, results <-chan Result) Result {
	t.Helper()
	select {
	case r := <-results:
		return r
	case <-time.After(2 * time.Second):
		t.Fatal("no result delivered")
		return Result{}
	}
}

func TestBeginAppliesProvisionalAndEmits(t *testing.T) {
	c, s, pipe := newTestCoordinator(t, time.Second)

	correlationID, _, err := c.Begin(context.Background(), sendMessageMutation("Hello"))
	if err != nil {
		t.Fatalf("begin: %v", err)
	}

	key := entity.Provisional(correlationID).Key()
	rec, ok := s.Get(store.ChatMessages, key)
	if !ok {
		t.Fatal("provisional record missing")
	}
	if rec["provisional"] != true || rec["client_message_id"] != correlationID {
		t.Errorf("provisional record = %v", rec)
	}
	if rec["message_text"] != "Hello" {
		t.Errorf("message_text = %v", rec["message_text"])
	}

	frames := pipe.SentNamed("chat:send_message")
	if len(frames) != 1 {
		t.Fatalf("sent frames = %d, want 1", len(frames))
	}
	var payload map[string]any
	if err := json.Unmarshal(frames[0].Data, &payload); err != nil {
		t.Fatalf("decode frame: %v", err)
	}
	if payload["clientMessageId"] != correlationID {
		t.Errorf("clientMessageId = %v, want %s", payload["clientMessageId"], correlationID)
	}
	if payload["message"] != "Hello" {
		t.Errorf("message = %v", payload["message"])
	}
}

func TestResolveSuccessSubstitutesIdentity(t *testing.T) {
	c, s, _ := newTestCoordinator(t, time.Second)

	correlationID, results, err := c.Begin(context.Background(), sendMessageMutation("Hello"))
	if err != nil {
		t.Fatalf("begin: %v", err)
	}

	c.Resolve(Ack{
		CorrelationID: correlationID,
		Success:       true,
		ServerID:      "m-42",
		Extra:         store.Record{"delivery_status": "delivered"},
	})

	r := awaitResult(t, results)
	if r.Status != StatusSuccess || r.ServerID != "m-42" {
		t.Errorf("result = %+v", r)
	}

	if _, ok := s.Get(store.ChatMessages, entity.Provisional(correlationID).Key()); ok {
		t.Error("provisional key survived confirmation")
	}
	rec, ok := s.Get(store.ChatMessages, "m-42")
	if !ok {
		t.Fatal("confirmed record missing")
	}
	if rec["provisional"] != false || rec["delivery_status"] != "delivered" || rec["message_text"] != "Hello" {
		t.Errorf("confirmed record = %v", rec)
	}
	if c.PendingCount() != 0 {
		t.Errorf("pending = %d, want 0", c.PendingCount())
	}
}

func TestResolveFailureRollsBack(t *testing.T) {
	c, s, _ := newTestCoordinator(t, time.Second)

	correlationID, results, err := c.Begin(context.Background(), sendMessageMutation("Hello"))
	if err != nil {
		t.Fatalf("begin: %v", err)
	}

	c.Resolve(Ack{CorrelationID: correlationID, Success: false, Error: "session closed"})

	r := awaitResult(t, results)
	if r.Status != StatusFailed || r.Err == nil {
		t.Errorf("result = %+v", r)
	}
	if _, ok := s.Get(store.ChatMessages, entity.Provisional(correlationID).Key()); ok {
		t.Error("provisional record survived rejection")
	}
}

func TestDuplicateAckInert(t *testing.T) {
	c, s, _ := newTestCoordinator(t, time.Second)

	correlationID, results, err := c.Begin(context.Background(), sendMessageMutation("Hello"))
	if err != nil {
		t.Fatalf("begin: %v", err)
	}

	ack := Ack{CorrelationID: correlationID, Success: true, ServerID: "m-42"}
	c.Resolve(ack)
	awaitResult(t, results)

	// Second delivery of the same ack, and an ack for an id never issued,
	// must both leave the store untouched.
	c.Resolve(ack)
	c.Resolve(Ack{CorrelationID: "msg-0-000000", Success: false})

	if _, ok := s.Get(store.ChatMessages, "m-42"); !ok {
		t.Error("confirmed record lost after duplicate ack")
	}
	if s.Count(store.ChatMessages) != 1 {
		t.Errorf("count = %d, want 1", s.Count(store.ChatMessages))
	}
}

func TestTimeoutLeavesProvisionalEntity(t *testing.T) {
	c, s, _ := newTestCoordinator(t, 20*time.Millisecond)

	correlationID, results, err := c.Begin(context.Background(), sendMessageMutation("Hello"))
	if err != nil {
		t.Fatalf("begin: %v", err)
	}

	r := awaitResult(t, results)
	if r.Status != StatusTimeout {
		t.Errorf("result status = %s, want timeout", r.Status)
	}

	// The entity stays visible, still flagged unconfirmed.
	rec, ok := s.Get(store.ChatMessages, entity.Provisional(correlationID).Key())
	if !ok {
		t.Fatal("provisional record removed on timeout")
	}
	if rec["provisional"] != true {
		t.Errorf("provisional flag = %v", rec["provisional"])
	}
	if c.PendingCount() != 0 {
		t.Errorf("pending = %d, want 0", c.PendingCount())
	}

	// A very late ack after the timeout is inert.
	c.Resolve(Ack{CorrelationID: correlationID, Success: true, ServerID: "m-42"})
	if _, ok := s.Get(store.ChatMessages, "m-42"); ok {
		t.Error("late ack mutated the store after timeout")
	}
}

func TestExpiredDeadlineStillDeliversTimeout(t *testing.T) {
	// A deadline that has effectively already passed when Begin returns must
	// still resolve the mutation instead of leaving it registered forever.
	c, _, _ := newTestCoordinator(t, time.Nanosecond)

	_, results, err := c.Begin(context.Background(), sendMessageMutation("Hello"))
	if err != nil {
		t.Fatalf("begin: %v", err)
	}

	r := awaitResult(t, results)
	if r.Status != StatusTimeout {
		t.Errorf("result status = %s, want timeout", r.Status)
	}
	if c.PendingCount() != 0 {
		t.Errorf("pending = %d, want 0", c.PendingCount())
	}
}

func TestBeginWhileDisconnectedRollsBack(t *testing.T) {
	c, s, pipe := newTestCoordinator(t, time.Second)
	pipe.SetConnected(false)

	_, _, err := c.Begin(context.Background(), sendMessageMutation("Hello"))
	if err == nil {
		t.Fatal("begin while disconnected should fail")
	}
	if s.Count(store.ChatMessages) != 0 {
		t.Error("provisional record left behind after failed emit")
	}
	if c.PendingCount() != 0 {
		t.Errorf("pending = %d, want 0", c.PendingCount())
	}
}

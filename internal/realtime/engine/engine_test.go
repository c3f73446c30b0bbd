package engine

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/tablewire/tablewire/internal/config"
	"github.com/tablewire/tablewire/internal/realtime/conn"
	"github.com/tablewire/tablewire/internal/realtime/router"
	"github.com/tablewire/tablewire/internal/realtime/transport"
)

func newTestEngine(t *testing.T, regs []router.Registration) (*Engine, *transport.Pipe, *conn.Tracker) {
	t.Helper()
	pipe := transport.NewPipe()
	mgr := conn.NewManager(pipe, config.Config{}, zap.NewNop())
	tracker := conn.NewTracker(mgr, zap.NewNop())
	e := NewEngine(Params{
		Transport:     pipe,
		Tracker:       tracker,
		Logger:        zap.NewNop(),
		Registrations: regs,
	})
	if err := e.start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = e.stop(ctx)
	})
	return e, pipe, tracker
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestDispatchRoutesByEventName(t *testing.T) {
	got := make(chan string, 8)
	regs := []router.Registration{
		{Event: "order:created", Handler: func(ctx context.Context, data json.RawMessage) error {
			got <- "order:created"
			return nil
		}},
		{Event: "order:updated", Handler: func(ctx context.Context, data json.RawMessage) error {
			got <- "order:updated"
			return nil
		}},
	}
	_, pipe, _ := newTestEngine(t, regs)

	pipe.Inject(transport.Frame{Event: "order:updated", Data: json.RawMessage(`{"id":"o1"}`)})

	select {
	case event := <-got:
		if event != "order:updated" {
			t.Errorf("dispatched %s", event)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("frame not dispatched")
	}
}

func TestUnknownEventIgnored(t *testing.T) {
	handled := make(chan struct{}, 1)
	regs := []router.Registration{
		{Event: "order:created", Handler: func(ctx context.Context, data json.RawMessage) error {
			handled <- struct{}{}
			return nil
		}},
	}
	_, pipe, _ := newTestEngine(t, regs)

	pipe.Inject(transport.Frame{Event: "mystery:event"})
	pipe.Inject(transport.Frame{Event: "order:created"})

	select {
	case <-handled:
	case <-time.After(2 * time.Second):
		t.Fatal("known event not dispatched after unknown one")
	}
}

// A malformed payload may fail or even panic its handler; the loop itself
// must keep dispatching.
func TestLoopSurvivesFailingAndPanickingHandlers(t *testing.T) {
	handled := make(chan string, 8)
	regs := []router.Registration{
		{Event: "bad:error", Handler: func(ctx context.Context, data json.RawMessage) error {
			_, err := router.Decode(data)
			return err
		}},
		{Event: "bad:panic", Handler: func(ctx context.Context, data json.RawMessage) error {
			var target map[string]string
			// Unchecked decode of a mistyped payload.
			_ = json.Unmarshal(data, &target)
			panic("unexpected payload shape: " + target["kind"])
		}},
		{Event: "good", Handler: func(ctx context.Context, data json.RawMessage) error {
			handled <- "good"
			return nil
		}},
	}
	_, pipe, _ := newTestEngine(t, regs)

	pipe.Inject(transport.Frame{Event: "bad:error", Data: json.RawMessage(`{"broken`)})
	pipe.Inject(transport.Frame{Event: "bad:panic", Data: json.RawMessage(`{"kind":"x"}`)})
	pipe.Inject(transport.Frame{Event: "good"})

	select {
	case <-handled:
	case <-time.After(2 * time.Second):
		t.Fatal("loop died before dispatching the good frame")
	}
}

func TestReconnectTriggersResync(t *testing.T) {
	_, pipe, tracker := newTestEngine(t, nil)

	// Joined while down, so nothing is announced yet.
	tracker.Join(conn.OrderTopic("o1"))
	if got := len(pipe.Sent()); got != 0 {
		t.Fatalf("frames while disconnected = %d", got)
	}

	pipe.SetConnected(true)
	waitFor(t, func() bool { return len(pipe.SentNamed("order:join")) == 1 })

	// A drop does not announce anything; the next connect replays once more.
	pipe.SetConnected(false)
	pipe.SetConnected(true)
	waitFor(t, func() bool { return len(pipe.SentNamed("order:join")) == 2 })
}

func TestDuplicateRegistrationKeepsFirst(t *testing.T) {
	got := make(chan string, 8)
	regs := []router.Registration{
		{Event: "order:created", Handler: func(ctx context.Context, data json.RawMessage) error {
			got <- "first"
			return nil
		}},
		{Event: "order:created", Handler: func(ctx context.Context, data json.RawMessage) error {
			got <- "second"
			return nil
		}},
	}
	_, pipe, _ := newTestEngine(t, regs)

	pipe.Inject(transport.Frame{Event: "order:created"})

	select {
	case winner := <-got:
		if winner != "first" {
			t.Errorf("winner = %s, want first", winner)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("frame not dispatched")
	}
}

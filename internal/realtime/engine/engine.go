package engine

import (
	"context"
	"encoding/json"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/tablewire/tablewire/internal/realtime/conn"
	"github.com/tablewire/tablewire/internal/realtime/router"
	"github.com/tablewire/tablewire/internal/realtime/transport"
)

var tracer = otel.Tracer("github.com/tablewire/tablewire/realtime/engine")

// Params collects dependencies via Fx.
type Params struct {
	fx.In

	Transport     transport.Transport
	Tracker       *conn.Tracker
	Logger        *zap.Logger
	Registrations []router.Registration `group:"realtime.handlers"`
}

// Engine is the single dispatch loop for the realtime channel. One goroutine
// consumes inbound frames and connection transitions, so every store write
// driven by an event is serialized without locks in the handlers themselves.
type Engine struct {
	transport     transport.Transport
	tracker       *conn.Tracker
	logger        *zap.Logger
	registrations map[string]router.Handler
	cancel        context.CancelFunc
	done          chan struct{}
}

// NewEngine builds the engine and its registration table.
func NewEngine(p Params) *Engine {
	reg := make(map[string]router.Handler, len(p.Registrations))
	for _, r := range p.Registrations {
		if r.Event == "" || r.Handler == nil {
			continue
		}
		if _, exists := reg[r.Event]; exists {
			p.Logger.Warn("duplicate handler registration", zap.String("event", r.Event))
			continue
		}
		reg[r.Event] = r.Handler
	}
	return &Engine{
		transport:     p.Transport,
		tracker:       p.Tracker,
		logger:        p.Logger,
		registrations: reg,
	}
}

// Module wires the engine into the Fx lifecycle.
var Module = fx.Options(
	fx.Provide(NewEngine),
	fx.Invoke(func(lc fx.Lifecycle, engine *Engine) {
		lc.Append(fx.Hook{
			OnStart: engine.start,
			OnStop:  engine.stop,
		})
	}),
)

func (e *Engine) start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel
	e.done = make(chan struct{})

	go e.loop(runCtx)

	e.logger.Info("dispatch engine started", zap.Int("handlers", len(e.registrations)))
	return nil
}

func (e *Engine) stop(ctx context.Context) error {
	if e.cancel == nil {
		return nil
	}
	e.cancel()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-e.done:
		e.logger.Info("dispatch engine stopped")
		return nil
	}
}

func (e *Engine) loop(ctx context.Context) {
	defer close(e.done)
	for {
		select {
		case <-ctx.Done():
			return
		case up := <-e.transport.States():
			if up {
				e.logger.Info("realtime channel connected")
				e.tracker.Resync()
			} else {
				e.logger.Warn("realtime channel disconnected")
			}
		case frame := <-e.transport.Frames():
			e.dispatch(ctx, frame)
		}
	}
}

// dispatch runs one handler. A failing or panicking handler degrades to a
// single stale entity; it must never take the loop down with it.
func (e *Engine) dispatch(ctx context.Context, frame transport.Frame) {
	handler, ok := e.registrations[frame.Event]
	if !ok {
		e.logger.Debug("no handler for event", zap.String("event", frame.Event))
		return
	}

	ctx, span := tracer.Start(ctx, "realtime.dispatch", trace.WithAttributes(
		attribute.String("realtime.event", frame.Event),
	))
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("handler panicked",
				zap.String("event", frame.Event),
				zap.Any("panic", r),
			)
			span.SetStatus(codes.Error, "handler panic")
		}
	}()

	if err := handler(ctx, json.RawMessage(frame.Data)); err != nil {
		e.logger.Warn("handler failed",
			zap.String("event", frame.Event),
			zap.Error(err),
		)
		span.RecordError(err)
		span.SetStatus(codes.Error, "handler error")
	}
}

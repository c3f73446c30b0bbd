package transport

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/tablewire/tablewire/internal/config"
)

// Frame is one named event on the duplex channel.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// NewFrame marshals payload into a Frame for the given event name.
func NewFrame(event string, payload any) (Frame, error) {
	if payload == nil {
		return Frame{Event: event}, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return Frame{}, fmt.Errorf("encode %s payload: %w", event, err)
	}
	return Frame{Event: event, Data: data}, nil
}

// Transport is the duplex, multiplexed, named-event channel the sync layer
// consumes. Inbound frames and connection state transitions are delivered on
// channels so a single dispatch goroutine can serialize all handling.
type Transport interface {
	// Dial establishes the channel, authenticating with token when non-empty.
	// Reconnection after Dial succeeds is the transport's own concern.
	Dial(ctx context.Context, token string) error
	// Close tears the channel down and stops reconnecting.
	Close() error
	// Emit sends a frame. It fails when the channel is down; pending sends
	// are discarded, never queued.
	Emit(Frame) error
	// Frames yields inbound frames in server-emission order per topic.
	Frames() <-chan Frame
	// States yields connected transitions (true on every successful
	// connect, false on every drop).
	States() <-chan bool
	// Connected reports the current channel state.
	Connected() bool
}

// Module provides the configured transport to the Fx graph.
var Module = fx.Provide(New)

// New selects the transport driver from configuration.
func New(cfg config.Config, logger *zap.Logger) (Transport, error) {
	switch cfg.Realtime.Driver {
	case "websocket":
		return NewWebSocket(cfg.Realtime, logger), nil
	case "pipe":
		logger.Info("realtime transport using in-process pipe")
		return NewPipe(), nil
	default:
		return nil, fmt.Errorf("unsupported realtime driver: %s", cfg.Realtime.Driver)
	}
}

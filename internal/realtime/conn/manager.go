package conn

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/tablewire/tablewire/internal/config"
	"github.com/tablewire/tablewire/internal/realtime/transport"
	"github.com/tablewire/tablewire/pkg/errorbank"
)

// Module provides the connection manager and subscription tracker.
var Module = fx.Provide(NewManager, NewTracker)

// Manager owns the single duplex channel for this client. Every other
// realtime component receives it explicitly; there is no ambient singleton.
type Manager struct {
	transport transport.Transport
	cfg       config.Realtime
	logger    *zap.Logger
}

// NewManager wires the manager around the configured transport.
func NewManager(t transport.Transport, cfg config.Config, logger *zap.Logger) *Manager {
	return &Manager{transport: t, cfg: cfg.Realtime, logger: logger}
}

// Connect dials the channel. An empty token falls back to the configured one;
// when both are empty the connection is anonymous, which the customer-facing
// backend permits.
func (m *Manager) Connect(ctx context.Context, token string) error {
	if token == "" {
		token = m.cfg.AuthToken
	}
	m.logger.Info("connecting realtime channel",
		zap.String("url", m.cfg.URL),
		zap.Bool("authenticated", token != ""),
	)
	if err := m.transport.Dial(ctx, token); err != nil {
		return errorbank.Unavailable("realtime channel connect failed", errorbank.WithCause(err))
	}
	return nil
}

// Disconnect tears the channel down.
func (m *Manager) Disconnect() error {
	m.logger.Info("disconnecting realtime channel")
	return m.transport.Close()
}

// Connected reports whether writes will currently be delivered.
func (m *Manager) Connected() bool {
	return m.transport.Connected()
}

// Emit sends a named event. While disconnected the send is discarded and an
// unavailable error returned; delivery across disconnects is not guaranteed
// by this layer.
func (m *Manager) Emit(event string, payload any) error {
	frame, err := transport.NewFrame(event, payload)
	if err != nil {
		return errorbank.BadRequest("invalid event payload", errorbank.WithCause(err))
	}
	if err := m.transport.Emit(frame); err != nil {
		return errorbank.Unavailable("realtime channel unavailable",
			errorbank.WithCause(err),
			errorbank.WithDetail("event", event),
		)
	}
	return nil
}

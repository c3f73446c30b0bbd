package firehose

import (
	"context"
	"encoding/json"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/tablewire/tablewire/internal/messaging"
	"github.com/tablewire/tablewire/internal/store"
)

// Publisher republishes every reconciled store change to the messaging
// backend so downstream consumers can follow local state without speaking
// the realtime protocol themselves.
type Publisher struct {
	client messaging.Client
	logger *zap.Logger

	changes chan store.Change
	done    chan struct{}
}

// Module wires the publisher and hooks it to the store on startup.
var Module = fx.Options(
	fx.Provide(NewPublisher),
	fx.Invoke(func(lc fx.Lifecycle, p *Publisher, s *store.Store) {
		lc.Append(fx.Hook{
			OnStart: func(ctx context.Context) error {
				p.Start(s)
				return nil
			},
			OnStop: func(ctx context.Context) error {
				p.Stop()
				return nil
			},
		})
	}),
)

type changeEnvelope struct {
	Family string       `json:"family"`
	ID     string       `json:"id"`
	Kind   string       `json:"kind"`
	Record store.Record `json:"record,omitempty"`
}

// NewPublisher builds an idle publisher.
func NewPublisher(client messaging.Client, logger *zap.Logger) *Publisher {
	return &Publisher{
		client:  client,
		logger:  logger,
		changes: make(chan store.Change, 1024),
		done:    make(chan struct{}),
	}
}

// Start subscribes to the store and begins forwarding changes. Store
// observers run on the writer's goroutine, so the subscription only enqueues
// and a dedicated goroutine does the publishing.
func (p *Publisher) Start(s *store.Store) {
	s.Subscribe(func(c store.Change) {
		select {
		case p.changes <- c:
		default:
			p.logger.Warn("firehose buffer full, dropping change",
				zap.String("family", string(c.Family)),
				zap.String("id", c.ID),
			)
		}
	})
	go p.pump()
}

// Stop shuts the forwarding goroutine down.
func (p *Publisher) Stop() {
	close(p.done)
}

func (p *Publisher) pump() {
	for {
		select {
		case <-p.done:
			return
		case c := <-p.changes:
			p.publish(c)
		}
	}
}

func (p *Publisher) publish(c store.Change) {
	env := changeEnvelope{
		Family: string(c.Family),
		ID:     c.ID,
		Kind:   string(c.Kind),
		Record: c.Record,
	}
	value, err := json.Marshal(env)
	if err != nil {
		p.logger.Error("failed to encode store change", zap.Error(err))
		return
	}

	key := []byte(env.Family + ":" + env.ID)
	if err := p.client.Publish(context.Background(), key, value); err != nil {
		p.logger.Warn("failed to publish store change",
			zap.String("topic", p.client.Topic()),
			zap.String("key", string(key)),
			zap.Error(err),
		)
	}
}

package app

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/tablewire/tablewire/internal/cache"
	"github.com/tablewire/tablewire/internal/config"
	"github.com/tablewire/tablewire/internal/firehose"
	"github.com/tablewire/tablewire/internal/logger"
	"github.com/tablewire/tablewire/internal/messaging"
	"github.com/tablewire/tablewire/internal/observability"
	"github.com/tablewire/tablewire/internal/realtime/conn"
	"github.com/tablewire/tablewire/internal/realtime/engine"
	"github.com/tablewire/tablewire/internal/realtime/feed"
	"github.com/tablewire/tablewire/internal/realtime/optimistic"
	"github.com/tablewire/tablewire/internal/realtime/transport"
	"github.com/tablewire/tablewire/internal/realtime/typing"
	httpserver "github.com/tablewire/tablewire/internal/server/http"
	"github.com/tablewire/tablewire/internal/snapshot"
	"github.com/tablewire/tablewire/internal/store"
	"github.com/tablewire/tablewire/internal/transport/http/gateway"
)

// Core provides the sync agent without any HTTP surface: configuration,
// observability, the realtime channel, the normalized store, and every feed
// that reconciles events into it.
var Core = fx.Options(
	config.Module,
	logger.Module,
	observability.Module,
	cache.Module,
	messaging.Module,
	store.Module,
	transport.Module,
	conn.Module,
	typing.Module,
	optimistic.Module,
	feed.Module,
	engine.Module,
	snapshot.Module,
	firehose.Module,
	fx.Invoke(runSync),
)

// Agent is the full process: the core sync loop plus the local HTTP gateway.
var Agent = fx.Options(
	Core,
	httpserver.Module,
	gateway.Module,
)

// Module is the default application wiring.
var Module = Agent

// runSync hydrates the store from the REST snapshot, then dials the realtime
// channel so the delta stream lands on top of the snapshot.
func runSync(lc fx.Lifecycle, mgr *conn.Manager, loader *snapshot.Loader, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			counts, err := loader.LoadAll(ctx, snapshot.Filters{})
			if err != nil {
				// The delta stream still converges without a snapshot; a
				// degraded start beats no start.
				logger.Warn("snapshot load failed; starting from empty state", zap.Error(err))
			} else {
				for family, n := range counts {
					logger.Info("snapshot loaded",
						zap.String("family", string(family)),
						zap.Int("records", n),
					)
				}
			}
			return mgr.Connect(ctx, "")
		},
		OnStop: func(ctx context.Context) error {
			return mgr.Disconnect()
		},
	})
}

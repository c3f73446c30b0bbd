package feed

import (
	"go.uber.org/fx"
)

// Module contributes every feed's handler registrations to the dispatch
// engine through the "realtime.handlers" group, one constructor per entity
// family.
var Module = fx.Module("feed",
	fx.Provide(
		fx.Annotate(NewChatFeed, fx.ResultTags(`group:"realtime.handlers,flatten"`)),
		fx.Annotate(NewOrderFeed, fx.ResultTags(`group:"realtime.handlers,flatten"`)),
		fx.Annotate(NewReservationFeed, fx.ResultTags(`group:"realtime.handlers,flatten"`)),
		fx.Annotate(NewNotificationFeed, fx.ResultTags(`group:"realtime.handlers,flatten"`)),
	),
	fx.Provide(NewUnread),
)

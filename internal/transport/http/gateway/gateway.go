package gateway

import (
	"net/http"
	"sync"
	"time"

	echo "github.com/labstack/echo/v4"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/tablewire/tablewire/internal/config"
	"github.com/tablewire/tablewire/internal/entity"
	"github.com/tablewire/tablewire/internal/presentation/http/response"
	"github.com/tablewire/tablewire/internal/realtime/conn"
	"github.com/tablewire/tablewire/internal/realtime/feed"
	"github.com/tablewire/tablewire/internal/realtime/optimistic"
	"github.com/tablewire/tablewire/internal/realtime/typing"
	"github.com/tablewire/tablewire/internal/store"
	"github.com/tablewire/tablewire/pkg/errorbank"
)

// Module provides the gateway and mounts its routes on the Echo server.
var Module = fx.Options(
	fx.Provide(NewHandler),
	fx.Invoke(func(e *echo.Echo, h *Handler) { h.Register(e) }),
)

// Handler serves the reconciled local state and forwards user intents onto
// the realtime channel. It never mutates confirmed records directly; writes
// go out as mutations and come back as events.
type Handler struct {
	store    *store.Store
	mgr      *conn.Manager
	tracker  *conn.Tracker
	coord    *optimistic.Coordinator
	notifier *typing.Notifier
	remote   *typing.Tracker
	unread   *feed.Unread
	role     string
	logger   *zap.Logger

	mu           sync.Mutex
	outcomes     map[string]mutationOutcome
	outcomeOrder []string
}

// mutationOutcome is the last known fate of an optimistic send, kept so a
// client that received the 202 can come back and learn whether the server
// accepted it.
type mutationOutcome struct {
	Status   string `json:"status"`
	ServerID string `json:"server_id,omitempty"`
	Error    string `json:"error,omitempty"`
}

// maxOutcomes bounds the retained send outcomes; the oldest are evicted.
const maxOutcomes = 1024

// NewHandler wires the gateway against the realtime components.
func NewHandler(
	s *store.Store,
	mgr *conn.Manager,
	tracker *conn.Tracker,
	coord *optimistic.Coordinator,
	notifier *typing.Notifier,
	remote *typing.Tracker,
	unread *feed.Unread,
	cfg config.Config,
	logger *zap.Logger,
) *Handler {
	return &Handler{
		store:    s,
		mgr:      mgr,
		tracker:  tracker,
		coord:    coord,
		notifier: notifier,
		remote:   remote,
		unread:   unread,
		role:     cfg.Realtime.Role,
		logger:   logger,
		outcomes: make(map[string]mutationOutcome),
	}
}

// Register mounts all gateway routes.
func (h *Handler) Register(e *echo.Echo) {
	e.GET("/status", h.status)

	e.GET("/orders", h.listFamily(store.Orders))
	e.GET("/orders/:id", h.getFamily(store.Orders))
	e.GET("/orders/:id/items", h.orderItems)
	e.POST("/orders/:id/watch", h.watch(conn.OrderTopic))
	e.DELETE("/orders/:id/watch", h.unwatch(conn.OrderTopic))
	e.POST("/orders/:id/support", h.requestSupport)

	e.GET("/reservations", h.listFamily(store.Reservations))
	e.GET("/reservations/:id", h.getFamily(store.Reservations))
	e.POST("/reservations/:id/watch", h.watch(conn.ReservationTopic))
	e.DELETE("/reservations/:id/watch", h.unwatch(conn.ReservationTopic))

	e.GET("/chat/sessions", h.listFamily(store.ChatSessions))
	e.GET("/chat/sessions/:id", h.getFamily(store.ChatSessions))
	e.GET("/chat/sessions/:id/messages", h.sessionMessages)
	e.GET("/chat/sessions/:id/typing", h.sessionTyping)
	e.POST("/chat/sessions/:id/watch", h.watch(conn.ChatSessionTopic))
	e.DELETE("/chat/sessions/:id/watch", h.unwatch(conn.ChatSessionTopic))
	e.POST("/chat/sessions/:id/messages", h.sendMessage)
	e.GET("/chat/messages/:id/status", h.messageOutcome)
	e.POST("/chat/sessions/:id/typing", h.typingSignal)
	e.POST("/chat/sessions/:id/read", h.markRead)

	e.GET("/notifications", h.listNotifications)
	e.POST("/notifications/:id/read", h.markNotificationRead)
	e.POST("/notifications/read_all", h.markAllNotificationsRead)
}

func (h *Handler) status(c echo.Context) error {
	topics := h.tracker.Joined()
	names := make([]string, 0, len(topics))
	for _, t := range topics {
		names = append(names, t.String())
	}
	return response.New(c).WithData(map[string]any{
		"connected":            h.mgr.Connected(),
		"topics":               names,
		"pending_mutations":    h.coord.PendingCount(),
		"unread_notifications": h.unread.Count(),
	}).Build()
}

func (h *Handler) listFamily(family store.Family) echo.HandlerFunc {
	return func(c echo.Context) error {
		return response.New(c).
			WithData(h.store.List(family)).
			WithMeta("count", h.store.Count(family)).
			Build()
	}
}

func (h *Handler) getFamily(family store.Family) echo.HandlerFunc {
	return func(c echo.Context) error {
		id := c.Param("id")
		rec, ok := h.store.Get(family, id)
		if !ok {
			return response.New(c).WithError(errorbank.NotFound(
				string(family)+" not found",
				errorbank.WithDetail("id", id),
			)).Build()
		}
		return response.New(c).WithData(rec).Build()
	}
}

func (h *Handler) orderItems(c echo.Context) error {
	id := c.Param("id")
	items := h.store.ListByIndex(store.OrderItems, "order_id", id)
	return response.New(c).WithData(items).WithMeta("count", len(items)).Build()
}

func (h *Handler) sessionMessages(c echo.Context) error {
	id := c.Param("id")
	messages := h.store.ListByIndex(store.ChatMessages, "session_id", id)
	return response.New(c).WithData(messages).WithMeta("count", len(messages)).Build()
}

func (h *Handler) sessionTyping(c echo.Context) error {
	return response.New(c).WithData(map[string]any{
		"participants": h.remote.Typing(c.Param("id")),
	}).Build()
}

func (h *Handler) watch(topic func(string) conn.Topic) echo.HandlerFunc {
	return func(c echo.Context) error {
		h.tracker.Join(topic(c.Param("id")))
		return response.New(c).WithStatus(http.StatusAccepted).Build()
	}
}

func (h *Handler) unwatch(topic func(string) conn.Topic) echo.HandlerFunc {
	return func(c echo.Context) error {
		h.tracker.Leave(topic(c.Param("id")))
		return response.New(c).WithStatus(http.StatusAccepted).Build()
	}
}

type sendMessageRequest struct {
	Message  string `json:"message"`
	SenderID string `json:"sender_id"`
}

// sendMessage begins an optimistic send: the provisional message is visible
// in the store immediately and the response carries its correlation id. The
// acknowledgment arrives later through the event stream.
func (h *Handler) sendMessage(c echo.Context) error {
	sessionID := c.Param("id")

	var req sendMessageRequest
	if err := c.Bind(&req); err != nil {
		return response.New(c).WithError(errorbank.BadRequest("invalid request body",
			errorbank.WithCause(err))).Build()
	}
	if req.Message == "" {
		return response.New(c).WithError(errorbank.BadRequest("message is required")).Build()
	}

	sender := entity.SenderCustomer
	if h.role == "staff" {
		sender = entity.SenderHuman
	}
	provisional, err := store.RecordOf(entity.ChatMessage{
		SessionID:  sessionID,
		SenderRole: sender,
		SenderID:   req.SenderID,
		Text:       req.Message,
		Status:     entity.DeliverySent,
		Timestamp:  time.Now().UTC(),
	})
	if err != nil {
		return response.New(c).WithError(err).Build()
	}

	correlationID, results, err := h.coord.Begin(c.Request().Context(), optimistic.Mutation{
		Family: store.ChatMessages,
		Event:  "chat:send_message",
		Payload: map[string]any{
			"sessionId": sessionID,
			"message":   req.Message,
		},
		Provisional: provisional,
	})
	if err != nil {
		return response.New(c).WithError(err).Build()
	}

	h.recordOutcome(correlationID, mutationOutcome{Status: "pending"})
	go h.watchSendResult(correlationID, results)

	key := entity.Provisional(correlationID).Key()
	rec, _ := h.store.Get(store.ChatMessages, key)
	return response.New(c).
		WithStatus(http.StatusAccepted).
		WithData(rec).
		WithMeta("correlation_id", correlationID).
		Build()
}

// watchSendResult drains the coordinator's result channel. Rejections and
// timeouts surface here; the provisional 202 has long been answered by the
// time they arrive, so the outcome is logged and retained for polling.
func (h *Handler) watchSendResult(correlationID string, results <-chan optimistic.Result) {
	r, ok := <-results
	if !ok {
		return
	}

	out := mutationOutcome{Status: string(r.Status), ServerID: r.ServerID}
	if r.Err != nil {
		out.Error = r.Err.Error()
	}
	h.recordOutcome(correlationID, out)

	switch r.Status {
	case optimistic.StatusSuccess:
		h.logger.Debug("message send confirmed",
			zap.String("correlation_id", correlationID),
			zap.String("server_id", r.ServerID),
		)
	case optimistic.StatusFailed:
		h.logger.Warn("message send rejected",
			zap.String("correlation_id", correlationID),
			zap.Error(r.Err),
		)
	case optimistic.StatusTimeout:
		h.logger.Warn("message send unacknowledged",
			zap.String("correlation_id", correlationID),
		)
	}
}

func (h *Handler) recordOutcome(correlationID string, out mutationOutcome) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, known := h.outcomes[correlationID]; !known {
		h.outcomeOrder = append(h.outcomeOrder, correlationID)
		if len(h.outcomeOrder) > maxOutcomes {
			delete(h.outcomes, h.outcomeOrder[0])
			h.outcomeOrder = h.outcomeOrder[1:]
		}
	}
	h.outcomes[correlationID] = out
}

// messageOutcome reports the fate of an optimistic send by correlation id.
func (h *Handler) messageOutcome(c echo.Context) error {
	id := c.Param("id")
	h.mu.Lock()
	out, ok := h.outcomes[id]
	h.mu.Unlock()
	if !ok {
		return response.New(c).WithError(errorbank.NotFound("unknown message send",
			errorbank.WithDetail("correlation_id", id))).Build()
	}
	return response.New(c).WithData(out).Build()
}

type typingRequest struct {
	Active bool `json:"active"`
}

func (h *Handler) typingSignal(c echo.Context) error {
	sessionID := c.Param("id")

	var req typingRequest
	if err := c.Bind(&req); err != nil {
		return response.New(c).WithError(errorbank.BadRequest("invalid request body",
			errorbank.WithCause(err))).Build()
	}

	if req.Active {
		h.notifier.Activity(sessionID)
	} else {
		h.notifier.Clear(sessionID)
	}
	return response.New(c).WithStatus(http.StatusAccepted).Build()
}

// markRead announces the read mark; the unread counter resets when the
// server confirms with its messages-read event.
func (h *Handler) markRead(c echo.Context) error {
	sessionID := c.Param("id")
	if err := h.mgr.Emit("chat:mark_read", map[string]any{"sessionId": sessionID}); err != nil {
		return response.New(c).WithError(err).Build()
	}
	return response.New(c).WithStatus(http.StatusAccepted).Build()
}

func (h *Handler) listNotifications(c echo.Context) error {
	return response.New(c).
		WithData(h.store.List(store.Notifications)).
		WithMeta("unread", h.unread.Count()).
		Build()
}

func (h *Handler) markNotificationRead(c echo.Context) error {
	id := c.Param("id")
	if err := h.mgr.Emit("notification:mark_read", map[string]any{"notificationId": id}); err != nil {
		return response.New(c).WithError(err).Build()
	}
	return response.New(c).WithStatus(http.StatusAccepted).Build()
}

func (h *Handler) markAllNotificationsRead(c echo.Context) error {
	if err := h.mgr.Emit("notification:mark_all_read", map[string]any{}); err != nil {
		return response.New(c).WithError(err).Build()
	}
	return response.New(c).WithStatus(http.StatusAccepted).Build()
}

func (h *Handler) requestSupport(c echo.Context) error {
	id := c.Param("id")
	if err := h.mgr.Emit("order:request_support", map[string]any{"orderId": id}); err != nil {
		return response.New(c).WithError(err).Build()
	}
	return response.New(c).WithStatus(http.StatusAccepted).Build()
}

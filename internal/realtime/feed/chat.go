package feed

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/tablewire/tablewire/internal/config"
	"github.com/tablewire/tablewire/internal/entity"
	"github.com/tablewire/tablewire/internal/realtime/optimistic"
	"github.com/tablewire/tablewire/internal/realtime/router"
	"github.com/tablewire/tablewire/internal/realtime/typing"
	"github.com/tablewire/tablewire/internal/store"
)

type chatFeed struct {
	store  *store.Store
	typing *typing.Tracker
	coord  *optimistic.Coordinator
	role   string
	logger *zap.Logger
}

// NewChatFeed registers the chat session and message stream handlers.
func NewChatFeed(
	s *store.Store,
	tracker *typing.Tracker,
	coord *optimistic.Coordinator,
	cfg config.Config,
	logger *zap.Logger,
) []router.Registration {
	f := &chatFeed{
		store:  s,
		typing: tracker,
		coord:  coord,
		role:   cfg.Realtime.Role,
		logger: logger,
	}
	return []router.Registration{
		{Event: "chat:new_message", Handler: f.newMessage},
		{Event: "chat:message_ack", Handler: f.messageAck},
		{Event: "chat:typing", Handler: f.typingSignal},
		{Event: "chat:messages_read", Handler: f.messagesRead},
		{Event: "chat:session_new", Handler: f.sessionNew},
		{Event: "chat:session_status_changed", Handler: f.sessionStatusChanged},
		{Event: "chat:agent_assigned", Handler: f.agentAssigned},
	}
}

// normalizeMessage flattens the payload shape variance of chat:new_message:
// ids may arrive as id or serverMessageId, session references as session_id
// or sessionId, and the body as message_text or text.
func normalizeMessage(p router.Payload) store.Record {
	rec := store.Record{
		"session_id":      p.String("session_id", "sessionId"),
		"message_text":    p.String("message_text", "text"),
		"delivery_status": string(entity.DeliveryDelivered),
		"provisional":     false,
	}
	if sender := p.String("sender_type", "senderType"); sender != "" {
		rec["sender_type"] = sender
	} else if p.String("sender_id", "senderId") == "" {
		rec["sender_type"] = string(entity.SenderBot)
	}
	if senderID := p.String("sender_id", "senderId"); senderID != "" {
		rec["sender_id"] = senderID
	}
	if ts := p.String("timestamp", "created_at", "createdAt"); ts != "" {
		rec["timestamp"] = ts
	} else {
		rec["timestamp"] = time.Now().UTC().Format(time.RFC3339)
	}
	if corr := p.String("clientMessageId", "client_message_id"); corr != "" {
		rec["client_message_id"] = corr
	}
	return rec
}

func (f *chatFeed) newMessage(ctx context.Context, data json.RawMessage) error {
	p, err := router.Decode(data)
	if err != nil {
		return err
	}
	id := p.String("id", "serverMessageId", "message_id")
	if id == "" {
		f.logger.Warn("chat message without id; skipping")
		return nil
	}
	rec := normalizeMessage(p)
	sessionID, _ := rec["session_id"].(string)
	f.store.Upsert(store.ChatMessages, id, rec)

	if sessionID == "" {
		return nil
	}

	patch := store.Record{
		"last_message": rec["message_text"],
		"updated_at":   rec["timestamp"],
	}
	if f.countsAsUnread(rec) {
		current := 0
		if session, ok := f.store.Get(store.ChatSessions, sessionID); ok {
			if n, ok := router.Payload(session).Int("unread_count"); ok {
				current = n
			}
		}
		patch["unread_count"] = current + 1
	}
	f.store.Upsert(store.ChatSessions, sessionID, patch)
	return nil
}

// countsAsUnread reports whether the message came from the far side of the
// conversation for this client role.
func (f *chatFeed) countsAsUnread(rec store.Record) bool {
	sender, _ := rec["sender_type"].(string)
	if f.role == "staff" {
		return sender == string(entity.SenderCustomer)
	}
	return sender != string(entity.SenderCustomer)
}

func (f *chatFeed) messageAck(ctx context.Context, data json.RawMessage) error {
	p, err := router.Decode(data)
	if err != nil {
		return err
	}
	correlationID := p.String("clientMessageId", "client_message_id")
	if correlationID == "" {
		return nil
	}

	status := strings.ToLower(p.String("status"))
	failure := p.String("error") != "" || status == "error" || status == "failed"

	f.coord.Resolve(optimistic.Ack{
		CorrelationID: correlationID,
		Success:       !failure,
		ServerID:      p.String("serverMessageId", "server_message_id", "id"),
		Error:         p.String("error"),
		Extra: store.Record{
			"delivery_status": string(entity.DeliveryDelivered),
		},
	})
	return nil
}

func (f *chatFeed) typingSignal(ctx context.Context, data json.RawMessage) error {
	p, err := router.Decode(data)
	if err != nil {
		return err
	}
	sessionID := p.String("sessionId", "session_id")
	if sessionID == "" {
		return nil
	}
	participant := p.String("userId", "user_id")
	if participant == "" {
		// Staff-side emitters identify themselves only with a flag.
		if isAdmin, _ := p.Bool("isAdmin"); isAdmin {
			participant = "admin"
		} else {
			participant = "customer"
		}
	}
	isTyping, _ := p.Bool("isTyping")
	f.typing.Set(sessionID, participant, isTyping)
	return nil
}

func (f *chatFeed) messagesRead(ctx context.Context, data json.RawMessage) error {
	p, err := router.Decode(data)
	if err != nil {
		return err
	}
	sessionID := p.String("sessionId", "session_id")
	readAt := time.Now().UTC().Format(time.RFC3339)

	for _, messageID := range p.Strings("messageIds", "messageId") {
		status := entity.DeliverySent
		if rec, ok := f.store.Get(store.ChatMessages, messageID); ok {
			if s, ok := rec["delivery_status"].(string); ok {
				status = entity.DeliveryStatus(s)
			}
		}
		f.store.Upsert(store.ChatMessages, messageID, store.Record{
			"delivery_status": string(status.Advance(entity.DeliveryRead)),
			"read_at":         readAt,
		})
	}

	if sessionID != "" {
		f.store.Upsert(store.ChatSessions, sessionID, store.Record{"unread_count": 0})
	}
	return nil
}

func (f *chatFeed) sessionNew(ctx context.Context, data json.RawMessage) error {
	p, err := router.Decode(data)
	if err != nil {
		return err
	}
	id := p.String("id", "session_id", "sessionId")
	if id == "" {
		return nil
	}
	rec := store.Record{
		"status":       string(entity.SessionActive),
		"bot_enabled":  true,
		"handled_by":   string(entity.HandledByBot),
		"unread_count": 0,
	}
	if status := p.String("status"); status != "" {
		rec["status"] = status
	}
	if enabled, ok := p.Bool("bot_enabled"); ok {
		rec["bot_enabled"] = enabled
		if !enabled {
			rec["handled_by"] = string(entity.HandledByHuman)
		}
	}
	if userID := p.String("user_id", "userId", "customer_id"); userID != "" {
		rec["user_id"] = userID
	}
	if channel := p.String("channel"); channel != "" {
		rec["channel"] = channel
	}
	if created := p.String("created_at", "createdAt"); created != "" {
		rec["created_at"] = created
	}
	f.store.Upsert(store.ChatSessions, id, rec)
	return nil
}

func (f *chatFeed) sessionStatusChanged(ctx context.Context, data json.RawMessage) error {
	p, err := router.Decode(data)
	if err != nil {
		return err
	}
	id := p.String("sessionId", "session_id", "id")
	status := p.String("status")
	if id == "" || status == "" {
		return nil
	}

	if rec, ok := f.store.Get(store.ChatSessions, id); ok {
		if current, ok := rec["status"].(string); ok {
			from := entity.SessionStatus(current)
			if !from.CanTransition(entity.SessionStatus(status)) && current != status {
				f.logger.Warn("unexpected session status transition",
					zap.String("session_id", id),
					zap.String("from", current),
					zap.String("to", status),
				)
			}
		}
	}
	f.store.Upsert(store.ChatSessions, id, store.Record{"status": status})
	return nil
}

func (f *chatFeed) agentAssigned(ctx context.Context, data json.RawMessage) error {
	p, err := router.Decode(data)
	if err != nil {
		return err
	}
	id := p.String("sessionId", "session_id", "id")
	if id == "" {
		return nil
	}
	patch := store.Record{
		"handled_by":  string(entity.HandledByHuman),
		"bot_enabled": false,
	}
	if agent := p.String("agentId", "agent_id", "userId"); agent != "" {
		patch["agent_id"] = agent
	}
	f.store.Upsert(store.ChatSessions, id, patch)
	return nil
}

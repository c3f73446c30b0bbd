package feed

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/tablewire/tablewire/internal/realtime/router"
	"github.com/tablewire/tablewire/internal/store"
)

// Unread is the incrementally maintained count of unread notifications.
type Unread struct {
	n atomic.Int64
}

// NewUnread builds a zeroed counter.
func NewUnread() *Unread { return &Unread{} }

// Count returns the current unread total.
func (u *Unread) Count() int { return int(u.n.Load()) }

func (u *Unread) add(delta int) {
	if u.n.Add(int64(delta)) < 0 {
		u.n.Store(0)
	}
}

type notificationFeed struct {
	store  *store.Store
	unread *Unread
	logger *zap.Logger
}

// NewNotificationFeed registers the notification stream handlers. Targeted
// and broadcast notifications share one normalization path.
func NewNotificationFeed(s *store.Store, unread *Unread, logger *zap.Logger) []router.Registration {
	f := &notificationFeed{store: s, unread: unread, logger: logger}
	return []router.Registration{
		{Event: "notification:new", Handler: f.incoming},
		{Event: "notification:broadcast", Handler: f.incoming},
		{Event: "notification:update", Handler: f.update},
	}
}

func normalizeNotification(p router.Payload) store.Record {
	rec := store.Record{
		"message": p.String("message", "body", "content"),
		"read":    false,
	}
	if read, ok := p.Bool("read"); ok {
		rec["read"] = read
	}
	if user := p.String("user_id", "userId"); user != "" {
		rec["user_id"] = user
	}
	if category := p.String("type", "category"); category != "" {
		rec["type"] = category
	}
	if title := p.String("title"); title != "" {
		rec["title"] = title
	}
	if meta, ok := p.Sub("metadata", "meta"); ok {
		rec["metadata"] = map[string]any(meta)
	}
	if created := p.String("created_at", "createdAt", "timestamp"); created != "" {
		rec["created_at"] = created
	} else {
		rec["created_at"] = time.Now().UTC().Format(time.RFC3339)
	}
	return rec
}

func (f *notificationFeed) incoming(ctx context.Context, data json.RawMessage) error {
	p, err := router.Decode(data)
	if err != nil {
		return err
	}
	id := p.String("id", "notificationId", "notification_id")
	if id == "" {
		f.logger.Warn("notification without id; skipping")
		return nil
	}
	rec := normalizeNotification(p)

	// Redelivery of a known notification must not inflate the counter.
	_, known := f.store.Get(store.Notifications, id)
	f.store.Upsert(store.Notifications, id, rec)
	if read, _ := rec["read"].(bool); !read && !known {
		f.unread.add(1)
	}
	return nil
}

func (f *notificationFeed) update(ctx context.Context, data json.RawMessage) error {
	p, err := router.Decode(data)
	if err != nil {
		return err
	}
	id := p.String("id", "notificationId", "notification_id")
	if id == "" {
		return nil
	}

	wasRead := false
	if rec, ok := f.store.Get(store.Notifications, id); ok {
		wasRead, _ = rec["read"].(bool)
	}

	patch := store.Record{}
	if read, ok := p.Bool("read"); ok {
		patch["read"] = read
		if read && !wasRead {
			f.unread.add(-1)
		} else if !read && wasRead {
			f.unread.add(1)
		}
	}
	if title := p.String("title"); title != "" {
		patch["title"] = title
	}
	if message := p.String("message", "body"); message != "" {
		patch["message"] = message
	}
	if len(patch) == 0 {
		return nil
	}
	f.store.Upsert(store.Notifications, id, patch)
	return nil
}

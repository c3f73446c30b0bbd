package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/tablewire/tablewire/internal/cache"
	"github.com/tablewire/tablewire/internal/config"
	"github.com/tablewire/tablewire/internal/realtime/router"
	"github.com/tablewire/tablewire/internal/store"
	"github.com/tablewire/tablewire/pkg/errorbank"
)

// Filters are passed through to the platform REST API verbatim. The agent
// never filters or sorts locally; the server owns query semantics.
type Filters struct {
	Search    string
	Status    string
	StartDate string
	EndDate   string
	SortBy    string
	SortOrder string
}

// Loader hydrates the store from the platform REST API before the delta
// stream is applied on top. Pages are cached so a quick agent restart does
// not hammer the platform.
type Loader struct {
	store  *store.Store
	cache  cache.Store
	cfg    config.REST
	client *http.Client
	logger *zap.Logger
}

// Module provides the loader.
var Module = fx.Provide(NewLoader)

// NewLoader builds the loader against the configured REST base URL.
func NewLoader(s *store.Store, c cache.Store, cfg config.Config, logger *zap.Logger) *Loader {
	return &Loader{
		store:  s,
		cache:  c,
		cfg:    cfg.REST,
		client: &http.Client{Timeout: cfg.REST.Timeout},
		logger: logger,
	}
}

// LoadAll fetches every family and returns the per-family record counts.
func (l *Loader) LoadAll(ctx context.Context, f Filters) (map[store.Family]int, error) {
	counts := make(map[store.Family]int)

	families := []struct {
		path   string
		family store.Family
		ingest func(router.Payload) int
	}{
		{"/orders", store.Orders, l.ingestOrder},
		{"/reservations", store.Reservations, l.ingestReservation},
		{"/chat/sessions", store.ChatSessions, l.ingestChatSession},
		{"/notifications", store.Notifications, l.ingestNotification},
	}

	for _, fam := range families {
		n, err := l.loadFamily(ctx, fam.path, f, fam.ingest)
		if err != nil {
			return counts, fmt.Errorf("load %s: %w", fam.path, err)
		}
		counts[fam.family] = n
	}
	return counts, nil
}

func (l *Loader) loadFamily(ctx context.Context, path string, f Filters, ingest func(router.Payload) int) (int, error) {
	total := 0
	for page := 1; ; page++ {
		items, err := l.fetchPage(ctx, path, page, f)
		if err != nil {
			return total, err
		}
		for _, raw := range items {
			p, err := router.Decode(raw)
			if err != nil {
				l.logger.Warn("skipping undecodable snapshot item",
					zap.String("path", path),
					zap.Error(err),
				)
				continue
			}
			total += ingest(p)
		}
		if len(items) < l.cfg.PageLimit {
			return total, nil
		}
	}
}

// fetchPage returns one page of list items, consulting the cache first.
func (l *Loader) fetchPage(ctx context.Context, path string, page int, f Filters) ([]json.RawMessage, error) {
	query := url.Values{}
	query.Set("page", strconv.Itoa(page))
	query.Set("limit", strconv.Itoa(l.cfg.PageLimit))
	setIfPresent(query, "sort_by", f.SortBy)
	setIfPresent(query, "sort_order", f.SortOrder)
	setIfPresent(query, "search", f.Search)
	setIfPresent(query, "status", f.Status)
	setIfPresent(query, "start_date", f.StartDate)
	setIfPresent(query, "end_date", f.EndDate)

	target := strings.TrimRight(l.cfg.BaseURL, "/") + path + "?" + query.Encode()
	cacheKey := "snapshot:" + path + "?" + query.Encode()

	if body, err := l.cache.Get(ctx, cacheKey); err == nil {
		return decodePage(body)
	} else if !errors.Is(err, cache.ErrCacheMiss) {
		l.logger.Warn("snapshot cache read failed", zap.String("key", cacheKey), zap.Error(err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := l.client.Do(req)
	if err != nil {
		return nil, errorbank.Unavailable("snapshot fetch failed",
			errorbank.WithCause(err),
			errorbank.WithDetail("path", path),
		)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errorbank.Unavailable("snapshot fetch failed",
			errorbank.WithDetail("path", path),
			errorbank.WithDetail("status", resp.StatusCode),
		)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if err := l.cache.Set(ctx, cacheKey, body, 0); err != nil {
		l.logger.Warn("snapshot cache write failed", zap.String("key", cacheKey), zap.Error(err))
	}
	return decodePage(body)
}

func setIfPresent(q url.Values, key, value string) {
	if value != "" {
		q.Set(key, value)
	}
}

// decodePage tolerates both an enveloped list ({"data": [...]}) and a bare
// JSON array.
func decodePage(body []byte) ([]json.RawMessage, error) {
	var env struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(body, &env); err == nil && len(env.Data) > 0 {
		body = env.Data
	}
	var items []json.RawMessage
	if err := json.Unmarshal(body, &items); err != nil {
		return nil, fmt.Errorf("decode snapshot page: %w", err)
	}
	return items, nil
}

// recordFrom copies the payload into a store patch, dropping the id and any
// explicitly skipped keys.
func recordFrom(p router.Payload, skip ...string) store.Record {
	rec := make(store.Record, len(p))
	for k, v := range p {
		rec[k] = v
	}
	delete(rec, "id")
	for _, k := range skip {
		delete(rec, k)
	}
	return rec
}

// ingestOrder stores the order and unpacks any embedded line items into
// their own family.
func (l *Loader) ingestOrder(p router.Payload) int {
	id := p.String("id")
	if id == "" {
		return 0
	}
	l.store.Upsert(store.Orders, id, recordFrom(p, "items", "order_items"))

	items, ok := p["items"].([]any)
	if !ok {
		items, _ = p["order_items"].([]any)
	}
	for _, raw := range items {
		obj, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		item := router.Payload(obj)
		itemID := item.String("id")
		if itemID == "" {
			continue
		}
		rec := recordFrom(item)
		rec["order_id"] = id
		l.store.Upsert(store.OrderItems, itemID, rec)
	}
	return 1
}

func (l *Loader) ingestReservation(p router.Payload) int {
	id := p.String("id")
	if id == "" {
		return 0
	}
	l.store.Upsert(store.Reservations, id, recordFrom(p))
	return 1
}

func (l *Loader) ingestChatSession(p router.Payload) int {
	id := p.String("id")
	if id == "" {
		return 0
	}
	l.store.Upsert(store.ChatSessions, id, recordFrom(p, "messages"))

	messages, _ := p["messages"].([]any)
	for _, raw := range messages {
		obj, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		msg := router.Payload(obj)
		msgID := msg.String("id")
		if msgID == "" {
			continue
		}
		rec := recordFrom(msg)
		rec["session_id"] = id
		l.store.Upsert(store.ChatMessages, msgID, rec)
	}
	return 1
}

func (l *Loader) ingestNotification(p router.Payload) int {
	id := p.String("id")
	if id == "" {
		return 0
	}
	l.store.Upsert(store.Notifications, id, recordFrom(p))
	return 1
}

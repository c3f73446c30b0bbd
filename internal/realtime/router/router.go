package router

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
)

// Handler reconciles one inbound event against the store. Handlers only
// upsert or remove records; they never emit outbound mutations, so an event
// can never induce a send loop.
type Handler func(ctx context.Context, data json.RawMessage) error

// Registration binds an inbound event name to its handler. Feed packages
// contribute registrations through the Fx group "realtime.handlers" so the
// table is assembled once, centrally.
type Registration struct {
	Event   string
	Handler Handler
}

// Payload is a decoded event body. Backend emitters disagree on field names
// (an id may travel as "id", "orderId" or nested under a sub-object), so
// accessors take alternate keys and fall back in order.
type Payload map[string]any

// Decode parses an event body. Missing or null bodies decode to an empty
// payload rather than an error; handlers apply defensive fallbacks instead of
// failing the dispatch loop.
func Decode(data json.RawMessage) (Payload, error) {
	if len(data) == 0 {
		return Payload{}, nil
	}
	var p Payload
	if err := json.Unmarshal(data, &p); err != nil {
		// Bare values (a join ack echoing just the id) arrive unwrapped.
		var s string
		if json.Unmarshal(data, &s) == nil {
			return Payload{"id": s}, nil
		}
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	if p == nil {
		p = Payload{}
	}
	return p, nil
}

// String returns the first non-empty string value among the keys. Numeric
// ids are rendered to their decimal form.
func (p Payload) String(keys ...string) string {
	for _, k := range keys {
		switch v := p[k].(type) {
		case string:
			if v != "" {
				return v
			}
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64)
		}
	}
	return ""
}

// Float returns the first numeric value among the keys.
func (p Payload) Float(keys ...string) (float64, bool) {
	for _, k := range keys {
		switch v := p[k].(type) {
		case float64:
			return v, true
		case string:
			if f, err := strconv.ParseFloat(v, 64); err == nil {
				return f, true
			}
		}
	}
	return 0, false
}

// Int returns the first integer value among the keys.
func (p Payload) Int(keys ...string) (int, bool) {
	if f, ok := p.Float(keys...); ok {
		return int(f), true
	}
	return 0, false
}

// Bool returns the value under key when it is a boolean.
func (p Payload) Bool(key string) (bool, bool) {
	v, ok := p[key].(bool)
	return v, ok
}

// Sub returns the nested object under the first matching key.
func (p Payload) Sub(keys ...string) (Payload, bool) {
	for _, k := range keys {
		if m, ok := p[k].(map[string]any); ok {
			return Payload(m), true
		}
	}
	return nil, false
}

// Strings collects string values under key, accepting both a single string
// and an array (read receipts carry either one messageId or a messageIds
// list depending on origin).
func (p Payload) Strings(keys ...string) []string {
	for _, k := range keys {
		switch v := p[k].(type) {
		case string:
			if v != "" {
				return []string{v}
			}
		case []any:
			out := make([]string, 0, len(v))
			for _, item := range v {
				if s, ok := item.(string); ok && s != "" {
					out = append(out, s)
				}
			}
			if len(out) > 0 {
				return out
			}
		}
	}
	return nil
}

// Has reports whether the key is present at all, distinguishing an absent
// field from an explicit zero value.
func (p Payload) Has(key string) bool {
	_, ok := p[key]
	return ok
}

package store

import (
	"encoding/json"
	"sort"
	"sync"

	"go.uber.org/fx"
)

// Family names one of the independent entity mappings held by the store.
type Family string

const (
	Orders        Family = "order"
	OrderItems    Family = "order_item"
	Reservations  Family = "reservation"
	ChatSessions  Family = "chat_session"
	ChatMessages  Family = "chat_message"
	Notifications Family = "notification"
)

// Record is a normalized entity snapshot. Records are stored as open maps so
// that partial patches from independent event streams merge without each
// handler knowing the full shape of the entity.
type Record map[string]any

// Clone returns a deep copy of the record.
func (r Record) Clone() Record {
	if r == nil {
		return nil
	}
	out := make(Record, len(r))
	for k, v := range r {
		if nested, ok := v.(map[string]any); ok {
			out[k] = map[string]any(Record(nested).Clone())
			continue
		}
		out[k] = v
	}
	return out
}

// RecordOf flattens a typed entity into a Record through its JSON tags, so
// writers can build records against the typed contract instead of raw keys.
func RecordOf(v any) (Record, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var rec Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// Bind materializes the record into dst through its JSON tags. Keys the
// destination type does not declare are dropped; the record is unchanged.
func (r Record) Bind(dst any) error {
	raw, err := json.Marshal(r)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, dst)
}

// ChangeKind tags a store notification.
type ChangeKind string

const (
	ChangeUpsert ChangeKind = "upsert"
	ChangeRemove ChangeKind = "remove"
)

// Change describes one store mutation, delivered to subscribers.
type Change struct {
	Family Family
	ID     string
	Kind   ChangeKind
	Record Record
}

// Store is the normalized in-memory state shared by every realtime component.
// All writes go through Upsert/Remove/ReplaceID so observers see a consistent
// stream of changes; event-driven writers are serialized by the dispatch
// engine, while the lock below covers gateway reads.
type Store struct {
	mu       sync.RWMutex
	families map[Family]map[string]Record

	subMu sync.RWMutex
	subs  []func(Change)
}

// Module provides the store to the Fx graph.
var Module = fx.Provide(New)

// New builds an empty store.
func New() *Store {
	return &Store{families: make(map[Family]map[string]Record)}
}

// Subscribe registers an observer for every subsequent change. Observers run
// on the writer's goroutine and must not call back into the store's write API.
func (s *Store) Subscribe(fn func(Change)) {
	if fn == nil {
		return
	}
	s.subMu.Lock()
	s.subs = append(s.subs, fn)
	s.subMu.Unlock()
}

func (s *Store) notify(c Change) {
	s.subMu.RLock()
	subs := s.subs
	s.subMu.RUnlock()
	for _, fn := range subs {
		fn(c)
	}
}

// Upsert deep-merges patch onto the record stored under (family, id),
// creating it when absent. Nested maps merge key-wise; scalars and slices are
// replaced. The resulting record equals the merge of all patches in call order.
func (s *Store) Upsert(family Family, id string, patch Record) {
	if id == "" {
		return
	}

	s.mu.Lock()
	records := s.families[family]
	if records == nil {
		records = make(map[string]Record)
		s.families[family] = records
	}
	current := records[id]
	if current == nil {
		current = make(Record, len(patch)+1)
		records[id] = current
	}
	merge(current, patch)
	current["id"] = id
	snapshot := current.Clone()
	s.mu.Unlock()

	s.notify(Change{Family: family, ID: id, Kind: ChangeUpsert, Record: snapshot})
}

func merge(dst Record, patch Record) {
	for k, v := range patch {
		nested, ok := v.(map[string]any)
		if !ok {
			dst[k] = v
			continue
		}
		existing, ok := dst[k].(map[string]any)
		if !ok {
			dst[k] = map[string]any(Record(nested).Clone())
			continue
		}
		merge(existing, nested)
	}
}

// Remove deletes the record under (family, id). Removing an absent id is a
// no-op and produces no notification.
func (s *Store) Remove(family Family, id string) {
	s.mu.Lock()
	records := s.families[family]
	if _, ok := records[id]; !ok {
		s.mu.Unlock()
		return
	}
	delete(records, id)
	s.mu.Unlock()

	s.notify(Change{Family: family, ID: id, Kind: ChangeRemove})
}

// Get returns a copy of the record under (family, id).
func (s *Store) Get(family Family, id string) (Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.families[family][id]
	if !ok {
		return nil, false
	}
	return rec.Clone(), true
}

// List returns copies of every record in the family, ordered by id for
// deterministic iteration.
func (s *Store) List(family Family) []Record {
	s.mu.RLock()
	records := s.families[family]
	ids := make([]string, 0, len(records))
	for id := range records {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := make([]Record, 0, len(ids))
	for _, id := range ids {
		out = append(out, records[id].Clone())
	}
	s.mu.RUnlock()
	return out
}

// ListByIndex returns every record in the family whose field equals value,
// e.g. all chat messages for one session.
func (s *Store) ListByIndex(family Family, field string, value any) []Record {
	all := s.List(family)
	out := all[:0]
	for _, rec := range all {
		if rec[field] == value {
			out = append(out, rec)
		}
	}
	return out
}

// Count returns the number of records in the family.
func (s *Store) Count(family Family) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.families[family])
}

// ReplaceID rebinds the record under oldID to newID: identity substitution,
// not a new record. Extra is merged under the new id in the same operation so
// acknowledgment fields land atomically with the rename. When a record already
// exists under newID (the confirming event raced the acknowledgment) the two
// are merged and the old key is dropped.
func (s *Store) ReplaceID(family Family, oldID, newID string, extra Record) bool {
	if oldID == "" || newID == "" || oldID == newID {
		return false
	}

	s.mu.Lock()
	records := s.families[family]
	rec, ok := records[oldID]
	if !ok {
		s.mu.Unlock()
		return false
	}
	delete(records, oldID)
	if existing, ok := records[newID]; ok {
		merge(rec, existing)
	}
	merge(rec, extra)
	rec["id"] = newID
	records[newID] = rec
	snapshot := rec.Clone()
	s.mu.Unlock()

	s.notify(Change{Family: family, ID: oldID, Kind: ChangeRemove})
	s.notify(Change{Family: family, ID: newID, Kind: ChangeUpsert, Record: snapshot})
	return true
}

// Reset drops all state, used when a session ends.
func (s *Store) Reset() {
	s.mu.Lock()
	s.families = make(map[Family]map[string]Record)
	s.mu.Unlock()
}

package conn

import (
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"
)

// TopicFamily names the entity stream a topic belongs to.
type TopicFamily string

const (
	TopicOrder       TopicFamily = "order"
	TopicReservation TopicFamily = "reservation"
	TopicChatSession TopicFamily = "chat-session"
)

// Topic is a logical room scoped to one entity instance.
type Topic struct {
	Family TopicFamily
	ID     string
}

// OrderTopic builds the room for one order.
func OrderTopic(id string) Topic { return Topic{Family: TopicOrder, ID: id} }

// ReservationTopic builds the room for one reservation.
func ReservationTopic(id string) Topic { return Topic{Family: TopicReservation, ID: id} }

// ChatSessionTopic builds the room for one chat session.
func ChatSessionTopic(id string) Topic { return Topic{Family: TopicChatSession, ID: id} }

// String renders the namespaced topic name.
func (t Topic) String() string {
	return fmt.Sprintf("%s:%s", t.Family, t.ID)
}

// joinEvent maps the topic family to the backend's join event name. The room
// id travels as the bare payload, matching the existing wire contract.
func (t Topic) joinEvent() string {
	switch t.Family {
	case TopicChatSession:
		return "chat:join_session"
	default:
		return string(t.Family) + ":join"
	}
}

func (t Topic) leaveEvent() string {
	switch t.Family {
	case TopicChatSession:
		return "chat:leave_session"
	default:
		return string(t.Family) + ":leave"
	}
}

// Tracker records which rooms the client wants joined and keeps the server
// view in sync across reconnects. Join and Leave are idempotent; a join
// issued while disconnected is recorded as desired and replayed on the next
// connect rather than dropped.
type Tracker struct {
	mgr    *Manager
	logger *zap.Logger

	mu      sync.Mutex
	desired map[Topic]struct{}
}

// NewTracker builds an empty tracker bound to the connection manager.
func NewTracker(mgr *Manager, logger *zap.Logger) *Tracker {
	return &Tracker{
		mgr:     mgr,
		logger:  logger,
		desired: make(map[Topic]struct{}),
	}
}

// Join marks the topic desired and announces it when connected. Calling Join
// twice for the same topic is a no-op after the first.
func (t *Tracker) Join(topic Topic) {
	if topic.ID == "" {
		return
	}
	t.mu.Lock()
	if _, ok := t.desired[topic]; ok {
		t.mu.Unlock()
		return
	}
	t.desired[topic] = struct{}{}
	t.mu.Unlock()

	t.announce(topic)
}

func (t *Tracker) announce(topic Topic) {
	if !t.mgr.Connected() {
		t.logger.Debug("join deferred until connect", zap.Stringer("topic", topic))
		return
	}
	if err := t.mgr.Emit(topic.joinEvent(), topic.ID); err != nil {
		t.logger.Warn("join failed; will retry on reconnect",
			zap.Stringer("topic", topic),
			zap.Error(err),
		)
	}
}

// Leave unmarks the topic and announces the departure when connected.
// Leaving a topic that was never joined is a no-op. In-flight optimistic
// mutations tied to the topic are unaffected; they resolve or time out on
// their own.
func (t *Tracker) Leave(topic Topic) {
	t.mu.Lock()
	if _, ok := t.desired[topic]; !ok {
		t.mu.Unlock()
		return
	}
	delete(t.desired, topic)
	t.mu.Unlock()

	if !t.mgr.Connected() {
		return
	}
	if err := t.mgr.Emit(topic.leaveEvent(), topic.ID); err != nil {
		t.logger.Warn("leave failed", zap.Stringer("topic", topic), zap.Error(err))
	}
}

// Joined returns the currently desired topics, sorted for stable output.
func (t *Tracker) Joined() []Topic {
	t.mu.Lock()
	out := make([]Topic, 0, len(t.desired))
	for topic := range t.desired {
		out = append(out, topic)
	}
	t.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

// Resync re-announces every desired topic; called once per connected
// transition so each room is rejoined exactly once.
func (t *Tracker) Resync() {
	topics := t.Joined()
	if len(topics) == 0 {
		return
	}
	t.logger.Info("resubscribing topics", zap.Int("count", len(topics)))
	for _, topic := range topics {
		t.announce(topic)
	}
}

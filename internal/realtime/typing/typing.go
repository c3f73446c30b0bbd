package typing

import (
	"sort"
	"sync"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/tablewire/tablewire/internal/config"
	"github.com/tablewire/tablewire/internal/realtime/conn"
)

// Module provides the local notifier and the remote tracker.
var Module = fx.Provide(NewNotifier, NewTracker)

type typingPayload struct {
	SessionID string `json:"sessionId"`
	IsTyping  bool   `json:"isTyping"`
}

// Notifier turns raw keystroke activity into start/stop typing signals with a
// trailing quiet-period timeout, one timer per chat session.
type Notifier struct {
	mgr    *conn.Manager
	logger *zap.Logger
	quiet  time.Duration

	mu     sync.Mutex
	timers map[string]*time.Timer
}

// NewNotifier builds the notifier with the configured quiet period.
func NewNotifier(mgr *conn.Manager, cfg config.Config, logger *zap.Logger) *Notifier {
	return &Notifier{
		mgr:    mgr,
		logger: logger,
		quiet:  cfg.Realtime.TypingQuietPeriod,
		timers: make(map[string]*time.Timer),
	}
}

// Activity records one keystroke in the session. The first call emits a
// single start signal; every call re-arms the quiet timer, and only its
// expiry emits the matching stop.
func (n *Notifier) Activity(sessionID string) {
	if sessionID == "" {
		return
	}
	n.mu.Lock()
	if timer, ok := n.timers[sessionID]; ok {
		timer.Reset(n.quiet)
		n.mu.Unlock()
		return
	}
	n.timers[sessionID] = time.AfterFunc(n.quiet, func() { n.quietExpired(sessionID) })
	n.mu.Unlock()

	n.emit(sessionID, true)
}

// Clear is the fast path for a cleared input: it emits the stop signal
// immediately and cancels the quiet timer instead of waiting it out.
func (n *Notifier) Clear(sessionID string) {
	n.mu.Lock()
	timer, ok := n.timers[sessionID]
	if ok {
		timer.Stop()
		delete(n.timers, sessionID)
	}
	n.mu.Unlock()
	if ok {
		n.emit(sessionID, false)
	}
}

func (n *Notifier) quietExpired(sessionID string) {
	n.mu.Lock()
	_, ok := n.timers[sessionID]
	if ok {
		delete(n.timers, sessionID)
	}
	n.mu.Unlock()
	if ok {
		n.emit(sessionID, false)
	}
}

func (n *Notifier) emit(sessionID string, isTyping bool) {
	err := n.mgr.Emit("chat:typing", typingPayload{SessionID: sessionID, IsTyping: isTyping})
	if err != nil {
		n.logger.Debug("typing signal dropped",
			zap.String("session_id", sessionID),
			zap.Bool("typing", isTyping),
			zap.Error(err),
		)
	}
}

// Tracker holds transient remote typing state per (session, participant).
// An entry is cleared by an incoming stop signal, superseded by a new start,
// or expired after the TTL so a lost stop-signal cannot stick forever.
type Tracker struct {
	ttl time.Duration

	mu       sync.Mutex
	sessions map[string]map[string]*time.Timer
}

// NewTracker builds the tracker with the configured remote TTL. A zero TTL
// disables expiry.
func NewTracker(cfg config.Config) *Tracker {
	return &Tracker{
		ttl:      cfg.Realtime.TypingRemoteTTL,
		sessions: make(map[string]map[string]*time.Timer),
	}
}

// Set records a remote participant's typing state.
func (t *Tracker) Set(sessionID, participantID string, isTyping bool) {
	if sessionID == "" || participantID == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	participants := t.sessions[sessionID]
	if !isTyping {
		if timer, ok := participants[participantID]; ok {
			if timer != nil {
				timer.Stop()
			}
			delete(participants, participantID)
			if len(participants) == 0 {
				delete(t.sessions, sessionID)
			}
		}
		return
	}

	if participants == nil {
		participants = make(map[string]*time.Timer)
		t.sessions[sessionID] = participants
	}
	if timer, ok := participants[participantID]; ok && timer != nil {
		timer.Reset(t.ttl)
		return
	}
	var timer *time.Timer
	if t.ttl > 0 {
		timer = time.AfterFunc(t.ttl, func() { t.Set(sessionID, participantID, false) })
	}
	participants[participantID] = timer
}

// Typing lists the participants currently typing in the session.
func (t *Tracker) Typing(sessionID string) []string {
	t.mu.Lock()
	participants := t.sessions[sessionID]
	out := make([]string, 0, len(participants))
	for id := range participants {
		out = append(out, id)
	}
	t.mu.Unlock()
	sort.Strings(out)
	return out
}

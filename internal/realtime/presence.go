package realtime

import (
	"sort"
	"strings"
	"sync"
	"time"
)

// Status is a user's presence status.
type Status string

const (
	StatusOnline  Status = "online"
	StatusAway    Status = "away"
	StatusBusy    Status = "busy"
	StatusOffline Status = "offline"
)

// ParseStatus accepts the client-settable statuses (online, away, busy).
// Offline is derived from the connection registry and cannot be requested.
func ParseStatus(raw string) (Status, error) {
	switch s := Status(strings.ToLower(strings.TrimSpace(raw))); s {
	case StatusOnline, StatusAway, StatusBusy:
		return s, nil
	default:
		return "", ErrInvalidStatus
	}
}

// PresenceState is one user's presence.
type PresenceState struct {
	UserID         string    `json:"user_id"`
	Status         Status    `json:"status"`
	LastActivityAt time.Time `json:"last_activity_at"`
}

// PresenceTracker owns the per-user presence state machine. Every mutating
// method reports whether the visible status changed so the caller can decide
// to broadcast.
//
// This type is safe for concurrent use.
type PresenceTracker struct {
	mu     sync.Mutex
	states map[string]*PresenceState
	idle   time.Duration
	now    func() time.Time
}

// NewPresenceTracker returns a tracker that marks online users away after
// idle of inactivity.
func NewPresenceTracker(idle time.Duration, now func() time.Time) *PresenceTracker {
	if now == nil {
		now = time.Now
	}
	return &PresenceTracker{
		states: make(map[string]*PresenceState),
		idle:   idle,
		now:    now,
	}
}

func (p *PresenceTracker) state(userID string) *PresenceState {
	st, ok := p.states[userID]
	if !ok {
		st = &PresenceState{UserID: userID, Status: StatusOffline}
		p.states[userID] = st
	}
	return st
}

// Connected records a new connection. An offline user becomes online; a
// user already present only has activity refreshed (away wakes up).
func (p *PresenceTracker) Connected(userID string) (PresenceState, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	st := p.state(userID)
	st.LastActivityAt = p.now()
	if st.Status == StatusOffline || st.Status == StatusAway {
		st.Status = StatusOnline
		return *st, true
	}
	return *st, false
}

// Touch records activity. Away users return to online; busy stays busy.
// Offline or unknown users are left alone.
func (p *PresenceTracker) Touch(userID string) (PresenceState, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	st, ok := p.states[userID]
	if !ok || st.Status == StatusOffline {
		return PresenceState{UserID: userID, Status: StatusOffline}, false
	}
	st.LastActivityAt = p.now()
	if st.Status == StatusAway {
		st.Status = StatusOnline
		return *st, true
	}
	return *st, false
}

// SetStatus applies an explicit client request. Invalid values return
// ErrInvalidStatus and offline users ErrNotConnected, both without mutation.
func (p *PresenceTracker) SetStatus(userID, raw string) (PresenceState, bool, error) {
	s, err := ParseStatus(raw)
	if err != nil {
		return PresenceState{}, false, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	st, ok := p.states[userID]
	if !ok || st.Status == StatusOffline {
		return PresenceState{}, false, ErrNotConnected
	}
	st.LastActivityAt = p.now()
	if st.Status == s {
		return *st, false, nil
	}
	st.Status = s
	return *st, true, nil
}

// Offline marks userID offline once its last connection is gone.
func (p *PresenceTracker) Offline(userID string) (PresenceState, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	st := p.state(userID)
	if st.Status == StatusOffline {
		return *st, false
	}
	st.Status = StatusOffline
	return *st, true
}

// Sweep moves online users idle for longer than the threshold to away and
// returns the new states, sorted by user id.
func (p *PresenceTracker) Sweep() []PresenceState {
	p.mu.Lock()
	defer p.mu.Unlock()
	now := p.now()
	var out []PresenceState
	for _, st := range p.states {
		if st.Status == StatusOnline && now.Sub(st.LastActivityAt) > p.idle {
			st.Status = StatusAway
			out = append(out, *st)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

// Get returns userID's presence. Unknown users read as offline.
func (p *PresenceTracker) Get(userID string) PresenceState {
	p.mu.Lock()
	defer p.mu.Unlock()
	if st, ok := p.states[userID]; ok {
		return *st
	}
	return PresenceState{UserID: userID, Status: StatusOffline}
}

// Len reports the number of tracked users.
func (p *PresenceTracker) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.states)
}

// Package usage accumulates per-user session and activity statistics for the
// reporting endpoints.
package usage

import (
	"math"
	"sync"
	"time"

	"github.com/samber/lo"
)

const (
	EventLogin  = "login"
	EventLogout = "logout"
)

// ConnectionEvent is one entry of a user's login/logout history.
type ConnectionEvent struct {
	Event           string    `json:"event"`
	Timestamp       time.Time `json:"timestamp"`
	SessionDuration *int64    `json:"sessionDuration,omitempty"`
}

// Record holds the usage statistics of one user.
type Record struct {
	UserID            string            `json:"userId"`
	Nickname          string            `json:"nickname"`
	MessagesSent      int64             `json:"messagesSent"`
	LoginCount        int64             `json:"loginCount"`
	LastActive        time.Time         `json:"lastActive"`
	TotalTimeOnline   int64             `json:"totalTimeOnline"` // seconds
	LastLoginTime     time.Time         `json:"lastLoginTime"`
	ConnectionHistory []ConnectionEvent `json:"connectionHistory"`
}

func (r *Record) clone() Record {
	c := *r
	c.ConnectionHistory = lo.Map(r.ConnectionHistory, func(e ConnectionEvent, _ int) ConnectionEvent {
		if e.SessionDuration != nil {
			e.SessionDuration = lo.ToPtr(*e.SessionDuration)
		}
		return e
	})
	return c
}

// Ledger is an in-memory, append-only store of usage records keyed by userId.
// It is safe for concurrent use.
type Ledger struct {
	mu      sync.RWMutex
	records map[string]*Record
	order   []string
	now     func() time.Time
}

// Option customizes a Ledger.
type Option func(*Ledger)

// WithClock overrides the ledger clock.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

func NewLedger(opts ...Option) *Ledger {
	l := &Ledger{
		records: make(map[string]*Record),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Ensure creates a zeroed record for userID unless one already exists.
func (l *Ledger) Ensure(userID, nickname string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.records[userID]; ok {
		return
	}
	now := l.now().UTC()
	l.records[userID] = &Record{
		UserID:            userID,
		Nickname:          nickname,
		LastActive:        now,
		LastLoginTime:     now,
		ConnectionHistory: []ConnectionEvent{},
	}
	l.order = append(l.order, userID)
}

func (l *Ledger) RecordLogin(userID string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec, ok := l.records[userID]
	if !ok {
		return
	}
	now := l.now().UTC()
	rec.LoginCount++
	rec.LastLoginTime = now
	rec.ConnectionHistory = append(rec.ConnectionHistory, ConnectionEvent{
		Event:     EventLogin,
		Timestamp: now,
	})
}

// RecordLogout closes the session opened by the last login and adds its
// duration, in whole seconds, to the user's time online.
func (l *Ledger) RecordLogout(userID string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec, ok := l.records[userID]
	if !ok {
		return
	}
	now := l.now().UTC()
	seconds := int64(math.Floor(now.Sub(rec.LastLoginTime).Seconds()))
	if seconds < 0 {
		seconds = 0
	}
	rec.TotalTimeOnline += seconds
	rec.LastActive = now
	rec.ConnectionHistory = append(rec.ConnectionHistory, ConnectionEvent{
		Event:           EventLogout,
		Timestamp:       now,
		SessionDuration: lo.ToPtr(seconds),
	})
}

// RecordMessage counts a sent message. Unknown users are ignored.
func (l *Ledger) RecordMessage(userID string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec, ok := l.records[userID]
	if !ok {
		return
	}
	rec.MessagesSent++
	rec.LastActive = l.now().UTC()
}

// All returns a copy of every record, in creation order.
func (l *Ledger) All() []Record {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return lo.Map(l.order, func(id string, _ int) Record {
		return l.records[id].clone()
	})
}

// Get returns a copy of the record of userID.
func (l *Ledger) Get(userID string) (Record, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	rec, ok := l.records[userID]
	if !ok {
		return Record{}, false
	}
	return rec.clone(), true
}

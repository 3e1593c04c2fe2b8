package chat

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/samber/lo"
)

// State is the lifecycle state of one connection as seen by the Router.
type State int

const (
	StatePending State = iota
	StateBound
	StateClosed
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateBound:
		return "bound"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// RouterConfig holds the policy knobs of a Router.
type RouterConfig struct {
	// PendingTimeout bounds how long a connection may stay unbound. Zero
	// disables the timeout.
	PendingTimeout time.Duration
	// AllowUnverified admits identity claims from connections that did not
	// present a valid credential.
	AllowUnverified bool
	// MaxContentLength caps message content, in runes. Zero disables the cap.
	MaxContentLength int
}

// Option customizes a Router.
type Option func(*Router)

// WithClock overrides the clock used to stamp messages.
func WithClock(now func() time.Time) Option {
	return func(r *Router) { r.now = now }
}

// WithMessageSink hands every stamped message to sink before it is broadcast.
func WithMessageSink(sink MessageSink) Option {
	return func(r *Router) { r.sink = sink }
}

type session struct {
	state    State
	verified *Identity
	identity Identity
	timer    *time.Timer
}

// Router applies connection lifecycle and chat events one at a time and fans
// the resulting frames out through a Transport.
type Router struct {
	mu        sync.Mutex
	cfg       RouterConfig
	log       *slog.Logger
	transport Transport
	ledger    Ledger
	sink      MessageSink
	registry  *Registry
	validate  *validator.Validate
	sessions  map[string]*session
	open      []string // open connection ids, in open order
	now       func() time.Time
	lastStamp time.Time
}

func NewRouter(cfg RouterConfig, transport Transport, ledger Ledger, log *slog.Logger, opts ...Option) *Router {
	if log == nil {
		log = slog.Default()
	}
	r := &Router{
		cfg:       cfg,
		log:       log,
		transport: transport,
		ledger:    ledger,
		registry:  NewRegistry(),
		validate:  validator.New(),
		sessions:  make(map[string]*session),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Open admits a new transport in the Pending state. verified is the identity
// proven by the credential presented with the transport, or nil.
func (r *Router) Open(connectionID string, verified *Identity) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s, exists := r.sessions[connectionID]; exists {
		r.log.Warn("Connection opened twice", "connection", connectionID, "state", s.state)
		return
	}

	s := &session{state: StatePending, verified: verified}
	if r.cfg.PendingTimeout > 0 {
		s.timer = time.AfterFunc(r.cfg.PendingTimeout, func() {
			r.expire(connectionID)
		})
	}
	r.sessions[connectionID] = s
	r.open = append(r.open, connectionID)
	r.log.Debug("Connection pending", "connection", connectionID, "verified", verified != nil)
}

// expire disconnects connectionID if it is still Pending. The lock is held
// across Disconnect so a concurrent claim cannot bind the connection first.
func (r *Router) expire(connectionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[connectionID]
	if !ok || s.state != StatePending {
		return
	}
	r.log.Info("Closing connection that never claimed an identity",
		"connection", connectionID, "timeout", r.cfg.PendingTimeout)
	r.transport.Disconnect(connectionID)
}

// ClaimIdentity binds connectionID to claim. Re-claiming the same identity on
// a bound connection only rebroadcasts the roster.
func (r *Router) ClaimIdentity(connectionID string, claim Identity) error {
	if err := r.validate.Struct(claim); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidClaim, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.lookup(connectionID)
	if !ok {
		return nil
	}

	if s.verified != nil {
		if claim.UserID != s.verified.UserID {
			return ErrIdentityMismatch
		}
		claim = *s.verified
	} else if !r.cfg.AllowUnverified {
		return ErrCredentialMissing
	} else if r.heldByVerified(claim.UserID) {
		return ErrIdentityTaken
	}

	if s.state == StateBound {
		if s.identity != claim {
			return ErrIdentityConflict
		}
		r.log.Debug("Identity re-claimed", "connection", connectionID, "user", claim.UserID)
		r.broadcastRoster()
		return nil
	}

	firstConnection := r.registry.Count(claim.UserID) == 0
	r.registry.Register(connectionID, claim.UserID, claim.Nickname)
	if s.timer != nil {
		s.timer.Stop()
	}
	s.state = StateBound
	s.identity = claim

	r.ledger.Ensure(claim.UserID, claim.Nickname)
	if firstConnection {
		r.ledger.RecordLogin(claim.UserID)
	}

	r.log.Info("User connected",
		"user", claim.UserID,
		"nickname", claim.Nickname,
		"connection", connectionID,
		"connections", r.registry.Count(claim.UserID))
	r.broadcastRoster()
	return nil
}

// Message stamps content as a message from the identity bound to
// connectionID and broadcasts it to every open connection, sender included.
func (r *Router) Message(connectionID, content string) (Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.lookup(connectionID)
	if !ok {
		return Message{}, nil
	}
	if s.state != StateBound {
		return Message{}, ErrNotBound
	}
	return r.publish(s.identity, content)
}

// Publish stamps and broadcasts a message on behalf of sender without a
// connection, as done for messages posted over HTTP.
func (r *Router) Publish(sender Identity, content string) (Message, error) {
	if err := r.validate.Struct(sender); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrInvalidClaim, err)
	}

	if err := r.checkContent(content); err != nil {
		return Message{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	// HTTP senders may never have opened a connection
	r.ledger.Ensure(sender.UserID, sender.Nickname)
	return r.publish(sender, content)
}

func (r *Router) publish(sender Identity, content string) (Message, error) {
	if err := r.checkContent(content); err != nil {
		return Message{}, err
	}

	msg := Message{
		ID:             r.nextID(),
		SenderID:       sender.UserID,
		SenderNickname: sender.Nickname,
		Content:        content,
		Timestamp:      r.stamp(),
	}

	r.ledger.RecordMessage(sender.UserID)
	if r.sink != nil {
		if err := r.sink.Save(msg); err != nil {
			r.log.Error("Failed to persist message", "message", msg.ID, "error", err)
		}
	}

	r.broadcast(EventNewMessage, msg, "")
	return msg, nil
}

// Typing relays a typing indicator to every open connection except the sender.
func (r *Router) Typing(connectionID string, isTyping bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.lookup(connectionID)
	if !ok {
		return nil
	}
	if s.state != StateBound {
		return ErrNotBound
	}

	r.broadcast(EventUserTyping, Typing{
		UserID:   s.identity.UserID,
		Nickname: s.identity.Nickname,
		IsTyping: isTyping,
	}, connectionID)
	return nil
}

// Close is the terminal event of a connection. It records a logout when the
// connection was the last one of its user and rebroadcasts the roster.
func (r *Router) Close(connectionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[connectionID]
	if !ok {
		r.log.Debug("Close for unknown connection", "connection", connectionID)
		return
	}
	delete(r.sessions, connectionID)
	r.open = lo.Without(r.open, connectionID)
	if s.timer != nil {
		s.timer.Stop()
	}

	previous := s.state
	s.state = StateClosed
	if previous != StateBound {
		r.log.Debug("Pending connection closed", "connection", connectionID)
		return
	}

	conn, ok := r.registry.Unregister(connectionID)
	if !ok {
		return
	}
	remaining := r.registry.Count(conn.UserID)
	if remaining == 0 {
		r.ledger.RecordLogout(conn.UserID)
	}

	r.log.Info("User disconnected",
		"user", conn.UserID,
		"nickname", conn.Nickname,
		"connection", connectionID,
		"connections", remaining)
	r.broadcastRoster()
}

// Roster returns the current deduplicated roster.
func (r *Router) Roster() []RosterEntry {
	return Aggregate(r.registry.Snapshot())
}

// State reports the state of connectionID. Closed connections are forgotten
// and reported as not found.
func (r *Router) State(connectionID string) (State, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[connectionID]
	if !ok {
		return StateClosed, false
	}
	return s.state, true
}

// OpenConnections returns the number of connections that have not closed yet.
func (r *Router) OpenConnections() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.open)
}

// heldByVerified reports whether a connection bound through a verified
// credential currently holds userID.
func (r *Router) heldByVerified(userID string) bool {
	for _, s := range r.sessions {
		if s.state == StateBound && s.verified != nil && s.identity.UserID == userID {
			return true
		}
	}
	return false
}

func (r *Router) lookup(connectionID string) (*session, bool) {
	s, ok := r.sessions[connectionID]
	if !ok {
		r.log.Debug("Event for unknown connection", "connection", connectionID)
		return nil, false
	}
	return s, true
}

func (r *Router) checkContent(content string) error {
	if strings.TrimSpace(content) == "" {
		return ErrEmptyContent
	}
	if r.cfg.MaxContentLength > 0 {
		if err := r.validate.Var(content, fmt.Sprintf("max=%d", r.cfg.MaxContentLength)); err != nil {
			return ErrContentTooLong
		}
	}
	return nil
}

func (r *Router) nextID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// stamp returns the current UTC time, never earlier than the previous stamp.
func (r *Router) stamp() time.Time {
	now := r.now().UTC()
	if now.Before(r.lastStamp) {
		now = r.lastStamp
	}
	r.lastStamp = now
	return now
}

func (r *Router) broadcastRoster() {
	r.broadcast(EventActiveUsers, Aggregate(r.registry.Snapshot()), "")
}

// broadcast encodes payload once and enqueues it for every open connection
// but except. Delivery failures are isolated to their recipient.
func (r *Router) broadcast(event string, payload any, except string) {
	frame, err := Encode(event, payload)
	if err != nil {
		r.log.Error("Failed to encode frame", "event", event, "error", err)
		return
	}

	delivered := 0
	for _, id := range r.open {
		if id == except {
			continue
		}
		if err := r.transport.Send(id, frame); err != nil {
			r.log.Warn("Delivery failed", "event", event, "connection", id, "error", err)
			continue
		}
		delivered++
	}
	r.log.Debug("Broadcast", "event", event, "recipients", delivered)
}

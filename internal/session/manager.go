package session

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rzbill/ripple/internal/auth"
	"github.com/rzbill/ripple/internal/messages"
	"github.com/rzbill/ripple/internal/pipeline"
	"github.com/rzbill/ripple/internal/policy"
	logpkg "github.com/rzbill/ripple/pkg/log"
)

// Authorizer is the subscribe-side authorization contract, satisfied by
// *policy.Gate.
type Authorizer interface {
	CheckSubscribe(ctx context.Context, channel string, ident auth.Identity) bool
}

// Publisher is the publish pipeline contract, satisfied by
// *pipeline.Pipeline.
type Publisher interface {
	Publish(ctx context.Context, channel, event string, payload json.RawMessage, ident auth.Identity, senderType string) (*messages.Message, error)
}

// Options are the session lifecycle tunables.
type Options struct {
	IdleTimeout   time.Duration
	SweepInterval time.Duration
}

// Manager owns all per-connection state: the session table and the room
// indexes (room to sessions, session to channels). Rooms exist for
// subscribed channels and for identity addressing (sub:<subject>,
// role:<role>); only channel rooms count as subscriptions.
type Manager struct {
	authz  Authorizer
	pub    Publisher
	logger logpkg.Logger
	opts   Options

	mu       sync.RWMutex
	sessions map[string]*Session
	rooms    map[string]map[string]struct{}
	closed   bool
}

// NewManager creates a session manager. The publisher is bound separately
// because the pipeline needs the manager as its broadcaster.
func NewManager(authz Authorizer, opts Options, logger logpkg.Logger) *Manager {
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = 5 * time.Minute
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = 30 * time.Second
	}
	return &Manager{
		authz:    authz,
		logger:   logger.WithComponent("session"),
		opts:     opts,
		sessions: make(map[string]*Session),
		rooms:    make(map[string]map[string]struct{}),
	}
}

// BindPublisher attaches the publish pipeline.
func (m *Manager) BindPublisher(p Publisher) { m.pub = p }

func subjectRoom(subject string) string { return "sub:" + subject }
func roleRoom(role string) string       { return "role:" + role }

// Connect registers a new authenticated session and joins its identity
// rooms. Returns nil if the manager is shutting down.
func (m *Manager) Connect(ident auth.Identity, sender Sender) *Session {
	s := &Session{
		ID:          uuid.NewString(),
		Identity:    ident,
		ConnectedAt: time.Now(),
		sender:      sender,
		subs:        make(map[string]struct{}),
	}
	s.Touch()

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.sessions[s.ID] = s
	m.joinRoomLocked(s.ID, subjectRoom(ident.Subject))
	if ident.Role != "" {
		m.joinRoomLocked(s.ID, roleRoom(ident.Role))
	}
	m.mu.Unlock()

	m.logger.Info("session opened",
		logpkg.Str("session", s.ID),
		logpkg.Str("subject", ident.Subject),
		logpkg.Str("role", ident.Role),
	)
	return s
}

// Disconnect removes a session and all of its room memberships. Safe to
// call more than once; only the first call tears down and reports true.
// Callers must invoke this only on genuine disconnects, never on
// recoverable transport errors.
func (m *Manager) Disconnect(sessionID, reason string) bool {
	m.mu.Lock()
	s, ok := m.sessions[sessionID]
	if !ok {
		m.mu.Unlock()
		return false
	}
	delete(m.sessions, sessionID)
	m.leaveAllRoomsLocked(sessionID)
	m.mu.Unlock()

	m.logger.Info("session closed",
		logpkg.Str("session", sessionID),
		logpkg.Str("subject", s.Identity.Subject),
		logpkg.Str("reason", reason),
	)
	return true
}

// Subscribe authorizes and joins a channel room, returning the ack to send.
// Subscribing twice is a no-op success.
func (m *Manager) Subscribe(ctx context.Context, s *Session, channel string) Ack {
	s.Touch()

	m.mu.RLock()
	_, already := s.subs[channel]
	m.mu.RUnlock()
	if already {
		return okAck(channel)
	}

	if !m.authz.CheckSubscribe(ctx, channel, s.Identity) {
		return failAck(channel, CodeUnauthorized, "subscribe not authorized")
	}

	m.mu.Lock()
	if _, live := m.sessions[s.ID]; !live {
		// disconnected while the probe was in flight; drop silently
		m.mu.Unlock()
		return failAck(channel, CodeInternal, "session closed")
	}
	s.subs[channel] = struct{}{}
	m.joinRoomLocked(s.ID, channel)
	m.mu.Unlock()

	m.logger.Debug("subscribed", logpkg.Str("session", s.ID), logpkg.Str("channel", channel))
	return okAck(channel)
}

// Unsubscribe leaves a channel room. Fire-and-forget: always succeeds,
// even when not subscribed.
func (m *Manager) Unsubscribe(s *Session, channel string) {
	s.Touch()
	m.mu.Lock()
	delete(s.subs, channel)
	m.leaveRoomLocked(s.ID, channel)
	m.mu.Unlock()
}

// Publish checks local subscription membership, then delegates to the
// pipeline. Failures surface as asynchronous error events on the session;
// a publish without a prior subscribe never reaches the pipeline.
func (m *Manager) Publish(ctx context.Context, s *Session, channel, event string, payload json.RawMessage) {
	s.Touch()

	m.mu.RLock()
	_, subscribed := s.subs[channel]
	m.mu.RUnlock()
	if !subscribed {
		m.emitError(s, channel, CodeNotSubscribed, "publish requires an active subscription")
		return
	}

	_, err := m.pub.Publish(ctx, channel, event, payload, s.Identity, messages.SenderTypeUser)
	switch {
	case err == nil:
	case errors.Is(err, policy.ErrUnauthorized):
		m.emitError(s, channel, CodeUnauthorized, "publish not authorized")
	default:
		m.logger.Error("publish failed",
			logpkg.Str("session", s.ID),
			logpkg.Str("channel", channel),
			logpkg.Err(err),
		)
		m.emitError(s, channel, CodeInternal, "publish failed")
	}
}

// IsSubscribed reports channel membership for a session.
func (m *Manager) IsSubscribed(s *Session, channel string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := s.subs[channel]
	return ok
}

// Broadcast implements pipeline.Broadcaster: it delivers the envelope to a
// snapshot of the channel room and returns the audience size at broadcast
// time. Send failures are logged, not retried; a dead transport is torn
// down by its own read loop.
func (m *Manager) Broadcast(channel string, env pipeline.Envelope) int {
	targets := m.roomSnapshot(channel)
	frame := EventFrame{Type: "event", Envelope: env}
	for _, s := range targets {
		if err := s.Send(frame); err != nil {
			m.logger.Debug("broadcast send failed",
				logpkg.Str("session", s.ID),
				logpkg.Str("channel", channel),
				logpkg.Err(err),
			)
		}
	}
	return len(targets)
}

// SendToSubject delivers a frame to every session of one subject.
func (m *Manager) SendToSubject(subject string, v interface{}) int {
	return m.sendToRoom(subjectRoom(subject), v)
}

// SendToRole delivers a frame to every session holding a role.
func (m *Manager) SendToRole(role string, v interface{}) int {
	return m.sendToRoom(roleRoom(role), v)
}

func (m *Manager) sendToRoom(room string, v interface{}) int {
	targets := m.roomSnapshot(room)
	for _, s := range targets {
		_ = s.Send(v)
	}
	return len(targets)
}

// RoomSize returns the current membership count of a room.
func (m *Manager) RoomSize(room string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.rooms[room])
}

// Count returns the number of live sessions.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// StartSweep runs the idle eviction loop until ctx is cancelled. Sessions
// silent past the idle timeout are force-disconnected.
func (m *Manager) StartSweep(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(m.opts.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.sweep()
			case <-ctx.Done():
				return
			}
		}
	}()
}

func (m *Manager) sweep() {
	cutoff := time.Now().Add(-m.opts.IdleTimeout)

	m.mu.RLock()
	var idle []*Session
	for _, s := range m.sessions {
		if s.LastActivity().Before(cutoff) {
			idle = append(idle, s)
		}
	}
	m.mu.RUnlock()

	for _, s := range idle {
		if m.Disconnect(s.ID, "idle timeout") {
			_ = s.sender.Close("idle timeout")
		}
	}
}

// Shutdown broadcasts a notice to every session, closes all transports,
// and clears the state. New connects are refused afterwards.
func (m *Manager) Shutdown(notice string) {
	m.mu.Lock()
	m.closed = true
	all := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		all = append(all, s)
	}
	m.sessions = make(map[string]*Session)
	m.rooms = make(map[string]map[string]struct{})
	m.mu.Unlock()

	frame := Notice{Type: "notice", Message: notice}
	for _, s := range all {
		_ = s.Send(frame)
		_ = s.sender.Close("server shutdown")
	}
	m.logger.Info("session manager shut down", logpkg.Int("sessions", len(all)))
}

func (m *Manager) roomSnapshot(room string) []*Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := m.rooms[room]
	out := make([]*Session, 0, len(ids))
	for sid := range ids {
		if s, ok := m.sessions[sid]; ok {
			out = append(out, s)
		}
	}
	return out
}

func (m *Manager) joinRoomLocked(sessionID, room string) {
	members, ok := m.rooms[room]
	if !ok {
		members = make(map[string]struct{})
		m.rooms[room] = members
	}
	members[sessionID] = struct{}{}
}

func (m *Manager) leaveRoomLocked(sessionID, room string) {
	members, ok := m.rooms[room]
	if !ok {
		return
	}
	delete(members, sessionID)
	if len(members) == 0 {
		delete(m.rooms, room)
	}
}

func (m *Manager) leaveAllRoomsLocked(sessionID string) {
	for room, members := range m.rooms {
		delete(members, sessionID)
		if len(members) == 0 {
			delete(m.rooms, room)
		}
	}
}

func (m *Manager) emitError(s *Session, channel, code, message string) {
	err := s.Send(ErrorEvent{Type: "error", Channel: channel, Code: code, Message: message})
	if err != nil {
		m.logger.Debug("emit error failed", logpkg.Str("session", s.ID), logpkg.Err(err))
	}
}

// Package presence tracks which users are online and on which sessions.
package presence

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"

	"ringrelay/internal/metrics"
	"ringrelay/internal/privacy"
	"ringrelay/internal/protocol"
)

var ErrInvalidRegistration = errors.New("user id and session id are required")

// Broadcaster delivers an event to every connected session
type Broadcaster interface {
	Broadcast(evt protocol.Outbound)
}

// ConnectHook runs synchronously after a session registers
type ConnectHook func(ctx context.Context, userID, sessionID string)

// Registry maps users to their live sessions. A session id belongs to at most
// one user; a user with no sessions is offline.
type Registry struct {
	logger      *logrus.Logger
	broadcaster Broadcaster
	mirror      Mirror

	mu       sync.RWMutex
	sessions map[string]map[string]struct{}
	owners   map[string]string

	hooksMu sync.RWMutex
	hooks   []ConnectHook
}

type Option func(*Registry)

// WithMirror publishes online/offline transitions to a shared store
func WithMirror(m Mirror) Option {
	return func(r *Registry) { r.mirror = m }
}

func NewRegistry(broadcaster Broadcaster, logger *logrus.Logger, opts ...Option) *Registry {
	r := &Registry{
		logger:      logger,
		broadcaster: broadcaster,
		sessions:    make(map[string]map[string]struct{}),
		owners:      make(map[string]string),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// OnConnect installs a hook run after every registration
func (r *Registry) OnConnect(hook ConnectHook) {
	r.hooksMu.Lock()
	defer r.hooksMu.Unlock()
	r.hooks = append(r.hooks, hook)
}

// Register adds sessionID to userID's set. It is idempotent; a session id
// owned by another user is moved. The roster is broadcast afterwards and the
// connect hooks run before Register returns.
func (r *Registry) Register(ctx context.Context, userID, sessionID string) error {
	if userID == "" || sessionID == "" {
		return ErrInvalidRegistration
	}

	r.mu.Lock()
	var displaced string
	if owner, ok := r.owners[sessionID]; ok && owner != userID {
		if r.removeLocked(sessionID) {
			displaced = owner
		}
	}
	set, online := r.sessions[userID]
	if !online {
		set = make(map[string]struct{})
		r.sessions[userID] = set
	}
	set[sessionID] = struct{}{}
	r.owners[sessionID] = userID
	roster := r.onlineLocked()
	sessionCount := len(r.owners)
	r.mu.Unlock()

	r.logger.WithFields(logrus.Fields{
		"user_id":    privacy.MaskUserID(userID),
		"session_id": privacy.MaskSessionID(sessionID),
		"online":     len(roster),
	}).Debug("Session registered")

	if displaced != "" {
		r.mirrorOffline(ctx, displaced)
	}
	if !online {
		r.mirrorOnline(ctx, userID)
	}

	r.publish(roster, sessionCount)
	r.runHooks(ctx, userID, sessionID)
	return nil
}

// Deregister removes sessionID. It returns the owning user and whether that
// user went offline. Unknown sessions are ignored.
func (r *Registry) Deregister(ctx context.Context, sessionID string) (string, bool) {
	r.mu.Lock()
	userID, ok := r.owners[sessionID]
	if !ok {
		r.mu.Unlock()
		return "", false
	}
	offline := r.removeLocked(sessionID)
	roster := r.onlineLocked()
	sessionCount := len(r.owners)
	r.mu.Unlock()

	r.logger.WithFields(logrus.Fields{
		"user_id":    privacy.MaskUserID(userID),
		"session_id": privacy.MaskSessionID(sessionID),
		"offline":    offline,
	}).Debug("Session deregistered")

	metrics.SetGauge(metrics.WSSessionsActive, float64(sessionCount), nil, "Registered realtime sessions")
	if offline {
		r.mirrorOffline(ctx, userID)
		r.publish(roster, sessionCount)
	}
	return userID, offline
}

// SessionsFor returns a copy of the user's session ids; empty means offline
func (r *Registry) SessionsFor(userID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	set := r.sessions[userID]
	if len(set) == 0 {
		return nil
	}
	ids := make([]string, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (r *Registry) IsOnline(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions[userID]) > 0
}

// OnlineUsers returns a sorted snapshot of users with at least one session
func (r *Registry) OnlineUsers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.onlineLocked()
}

// ClusterOnlineUsers returns the mirror's cluster-wide roster, falling back to
// the local roster without a mirror
func (r *Registry) ClusterOnlineUsers(ctx context.Context) ([]string, error) {
	if r.mirror == nil {
		return r.OnlineUsers(), nil
	}
	return r.mirror.OnlineUsers(ctx)
}

// Close forgets every session and releases the mirror
func (r *Registry) Close(ctx context.Context) {
	r.mu.Lock()
	users := make([]string, 0, len(r.sessions))
	for userID := range r.sessions {
		users = append(users, userID)
	}
	r.sessions = make(map[string]map[string]struct{})
	r.owners = make(map[string]string)
	r.mu.Unlock()

	if r.mirror == nil {
		return
	}
	for _, userID := range users {
		r.mirrorOffline(ctx, userID)
	}
	r.mirror.Close()
}

// removeLocked drops a session and reports whether its owner went offline
func (r *Registry) removeLocked(sessionID string) bool {
	userID, ok := r.owners[sessionID]
	if !ok {
		return false
	}
	delete(r.owners, sessionID)

	set := r.sessions[userID]
	delete(set, sessionID)
	if len(set) == 0 {
		delete(r.sessions, userID)
		return true
	}
	return false
}

func (r *Registry) onlineLocked() []string {
	users := make([]string, 0, len(r.sessions))
	for userID := range r.sessions {
		users = append(users, userID)
	}
	sort.Strings(users)
	return users
}

func (r *Registry) publish(roster []string, sessionCount int) {
	metrics.SetGauge(metrics.OnlineUsers, float64(len(roster)), nil, "Users with at least one session")
	metrics.SetGauge(metrics.WSSessionsActive, float64(sessionCount), nil, "Registered realtime sessions")
	if r.broadcaster != nil {
		r.broadcaster.Broadcast(protocol.OnlineUsers(roster))
	}
}

func (r *Registry) runHooks(ctx context.Context, userID, sessionID string) {
	r.hooksMu.RLock()
	hooks := make([]ConnectHook, len(r.hooks))
	copy(hooks, r.hooks)
	r.hooksMu.RUnlock()

	for _, hook := range hooks {
		hook(ctx, userID, sessionID)
	}
}

func (r *Registry) mirrorOnline(ctx context.Context, userID string) {
	if r.mirror == nil {
		return
	}
	if err := r.mirror.MarkOnline(ctx, userID); err != nil {
		r.logger.WithError(err).WithField("user_id", privacy.MaskUserID(userID)).Warn("Failed to mirror online presence")
	}
}

func (r *Registry) mirrorOffline(ctx context.Context, userID string) {
	if r.mirror == nil {
		return
	}
	if err := r.mirror.MarkOffline(ctx, userID); err != nil {
		r.logger.WithError(err).WithField("user_id", privacy.MaskUserID(userID)).Warn("Failed to mirror offline presence")
	}
}

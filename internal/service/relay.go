package service

import (
	"ringrelay/internal/metrics"
	"ringrelay/internal/protocol"
)

// RelayResult is the outcome of a signaling operation
type RelayResult int

const (
	// Delivered means the event was queued on at least one target session
	Delivered RelayResult = iota
	// TargetOffline means the target had no session to receive the event
	TargetOffline
	// PersistenceFailed means a store write the operation depends on failed
	PersistenceFailed
	// Skipped means there was nothing to relay, e.g. an acknowledgement that changed no rows
	Skipped
)

func (r RelayResult) String() string {
	switch r {
	case Delivered:
		return "delivered"
	case TargetOffline:
		return "target_offline"
	case PersistenceFailed:
		return "persistence_failed"
	case Skipped:
		return "skipped"
	default:
		return "unknown"
	}
}

// Emitter queues events on transport sessions
type Emitter interface {
	EmitTo(sessionIDs []string, evt protocol.Outbound) int
}

// Presence answers which sessions a user currently has
type Presence interface {
	SessionsFor(userID string) []string
	IsOnline(userID string) bool
}

// Relay addresses events to users through the presence registry
type Relay struct {
	presence Presence
	emitter  Emitter
}

func NewRelay(presence Presence, emitter Emitter) *Relay {
	return &Relay{presence: presence, emitter: emitter}
}

func (r *Relay) IsOnline(userID string) bool {
	return r.presence.IsOnline(userID)
}

// ToUser emits evt on every session of userID
func (r *Relay) ToUser(userID string, evt protocol.Outbound) RelayResult {
	return r.emit(r.presence.SessionsFor(userID), evt)
}

// ToUserExcept emits evt on every session of userID other than exceptSession
func (r *Relay) ToUserExcept(userID, exceptSession string, evt protocol.Outbound) RelayResult {
	sessions := r.presence.SessionsFor(userID)
	others := sessions[:0:0]
	for _, id := range sessions {
		if id != exceptSession {
			others = append(others, id)
		}
	}
	return r.emit(others, evt)
}

// ToSession emits evt on a single session
func (r *Relay) ToSession(sessionID string, evt protocol.Outbound) RelayResult {
	if sessionID == "" {
		return r.emit(nil, evt)
	}
	return r.emit([]string{sessionID}, evt)
}

func (r *Relay) emit(sessions []string, evt protocol.Outbound) RelayResult {
	result := TargetOffline
	if len(sessions) > 0 && r.emitter.EmitTo(sessions, evt) > 0 {
		result = Delivered
	}
	metrics.IncrementCounter(metrics.RelayEventsTotal, map[string]string{
		"event":  evt.Event,
		"result": result.String(),
	}, "Outbound events relayed to sessions")
	return result
}

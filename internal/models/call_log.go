package models

import (
	"errors"
	"fmt"
	"time"
)

// CallType is the media kind requested when a call is initiated
type CallType string

const (
	CallTypeAudio CallType = "audio"
	CallTypeVideo CallType = "video"
)

// Valid reports whether t is a known call type
func (t CallType) Valid() bool {
	return t == CallTypeAudio || t == CallTypeVideo
}

// CallStatus is the persisted outcome of a call
type CallStatus string

const (
	CallStatusMissed   CallStatus = "missed"
	CallStatusDeclined CallStatus = "declined"
	CallStatusAnswered CallStatus = "answered"
)

// ErrInvalidCallTransition is returned when a status change is not allowed
var ErrInvalidCallTransition = errors.New("invalid call status transition")

// Valid reports whether s is a known call status
func (s CallStatus) Valid() bool {
	switch s {
	case CallStatusMissed, CallStatusDeclined, CallStatusAnswered:
		return true
	}
	return false
}

// CanTransition reports whether a log in status s may move to next.
// Only a missed call can be finalized; declined and answered are terminal.
func (s CallStatus) CanTransition(next CallStatus) bool {
	return s == CallStatusMissed && (next == CallStatusDeclined || next == CallStatusAnswered)
}

// Transition returns next if the move is allowed
func (s CallStatus) Transition(next CallStatus) (CallStatus, error) {
	if !s.CanTransition(next) {
		return s, fmt.Errorf("%w: %s -> %s", ErrInvalidCallTransition, s, next)
	}
	return next, nil
}

// CallLog is the persisted record of one call attempt
type CallLog struct {
	ID        string     `json:"id"`
	CallerID  string     `json:"callerId"`
	CalleeID  string     `json:"calleeId"`
	CallType  CallType   `json:"callType"`
	Status    CallStatus `json:"status"`
	Duration  int64      `json:"duration"`
	CreatedAt time.Time  `json:"createdAt"`
}

// IsParticipant reports whether userID is the caller or the callee
func (c *CallLog) IsParticipant(userID string) bool {
	return c.Peer(userID) != ""
}

// Peer returns the other party of the call, or "" if userID is not a participant
func (c *CallLog) Peer(userID string) string {
	switch userID {
	case c.CallerID:
		return c.CalleeID
	case c.CalleeID:
		return c.CallerID
	}
	return ""
}

// AnsweredDuration returns the whole seconds between creation and endedAt
func (c *CallLog) AnsweredDuration(endedAt time.Time) int64 {
	d := int64(endedAt.Sub(c.CreatedAt) / time.Second)
	if d < 0 {
		return 0
	}
	return d
}

// PopulatedCallLog is a call log with both parties resolved to display projections
type PopulatedCallLog struct {
	ID        string      `json:"id"`
	Caller    UserSummary `json:"caller"`
	Callee    UserSummary `json:"callee"`
	CallType  CallType    `json:"callType"`
	Status    CallStatus  `json:"status"`
	Duration  int64       `json:"duration"`
	CreatedAt time.Time   `json:"createdAt"`
}

// CallLogView is the per-recipient shape of a call log; ReceiverID names the other party
type CallLogView struct {
	PopulatedCallLog
	ReceiverID string `json:"receiverId"`
}

// ViewFor renders the log for userID with the other participant as receiver
func (p *PopulatedCallLog) ViewFor(userID string) CallLogView {
	receiver := p.Callee.ID
	if userID == p.Callee.ID {
		receiver = p.Caller.ID
	}
	return CallLogView{PopulatedCallLog: *p, ReceiverID: receiver}
}

package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"ringrelay/internal/models"
)

var (
	ErrUnknownEvent   = errors.New("unknown event")
	ErrMalformedFrame = errors.New("malformed frame")
	ErrInvalidPayload = errors.New("invalid payload")
)

// Inbound is one of the client-to-server payloads. The set is closed: only
// types in this package implement it.
type Inbound interface {
	EventName() string
	validate() error
}

// CallUser starts a call
type CallUser struct {
	To       string          `json:"to"`
	Offer    json.RawMessage `json:"offer"`
	CallType models.CallType `json:"callType"`
}

// AnswerCall accepts an incoming call
type AnswerCall struct {
	To     string          `json:"to"`
	Answer json.RawMessage `json:"answer"`
	CallID string          `json:"callId"`
}

// DeclineCall rejects an incoming call
type DeclineCall struct {
	To     string `json:"to"`
	CallID string `json:"callId"`
}

// Hangup ends a call from either side
type Hangup struct {
	To     string `json:"to"`
	CallID string `json:"callId"`
}

// RenegotiateCall carries a fresh offer for an established call
type RenegotiateCall struct {
	To     string          `json:"to"`
	Offer  json.RawMessage `json:"offer"`
	CallID string          `json:"callId"`
}

// ICECandidate carries one trickled candidate
type ICECandidate struct {
	To        string          `json:"to"`
	Candidate json.RawMessage `json:"candidate"`
	CallID    string          `json:"callId"`
}

// Typing signals that the sender started typing
type Typing struct {
	To string `json:"to"`
}

// StopTyping signals that the sender stopped typing
type StopTyping struct {
	To string `json:"to"`
}

// MarkMessagesSeen acknowledges every message from a sender in a conversation as seen
type MarkMessagesSeen struct {
	ConversationID string `json:"conversationId"`
	SenderID       string `json:"userIdOfSender"`
}

// MarkMessagesDelivered acknowledges every message from a sender in a conversation as delivered
type MarkMessagesDelivered struct {
	ConversationID string `json:"conversationId"`
	SenderID       string `json:"userIdOfSender"`
}

func (*CallUser) EventName() string              { return EventCallUser }
func (*AnswerCall) EventName() string            { return EventAnswerCall }
func (*DeclineCall) EventName() string           { return EventDeclineCall }
func (*Hangup) EventName() string                { return EventHangup }
func (*RenegotiateCall) EventName() string       { return EventRenegotiateCall }
func (*ICECandidate) EventName() string          { return EventICECandidate }
func (*Typing) EventName() string                { return EventTyping }
func (*StopTyping) EventName() string            { return EventStopTyping }
func (*MarkMessagesSeen) EventName() string      { return EventMarkMessagesSeen }
func (*MarkMessagesDelivered) EventName() string { return EventMarkMessagesDelivered }

func (p *CallUser) validate() error {
	if err := requireFields(userField("to", p.To)); err != nil {
		return err
	}
	if !hasJSON(p.Offer) {
		return missing("offer")
	}
	if !p.CallType.Valid() {
		return fmt.Errorf("%w: callType must be audio or video", ErrInvalidPayload)
	}
	return nil
}

func (p *AnswerCall) validate() error {
	if err := requireFields(userField("to", p.To), field{name: "callId", value: p.CallID}); err != nil {
		return err
	}
	if !hasJSON(p.Answer) {
		return missing("answer")
	}
	return nil
}

func (p *DeclineCall) validate() error {
	return requireFields(userField("to", p.To), field{name: "callId", value: p.CallID})
}

func (p *Hangup) validate() error {
	return requireFields(userField("to", p.To), field{name: "callId", value: p.CallID})
}

func (p *RenegotiateCall) validate() error {
	if err := requireFields(userField("to", p.To), field{name: "callId", value: p.CallID}); err != nil {
		return err
	}
	if !hasJSON(p.Offer) {
		return missing("offer")
	}
	return nil
}

func (p *ICECandidate) validate() error {
	if err := requireFields(userField("to", p.To), field{name: "callId", value: p.CallID}); err != nil {
		return err
	}
	if !hasJSON(p.Candidate) {
		return missing("candidate")
	}
	return nil
}

func (p *Typing) validate() error     { return requireFields(userField("to", p.To)) }
func (p *StopTyping) validate() error { return requireFields(userField("to", p.To)) }

func (p *MarkMessagesSeen) validate() error {
	return requireFields(field{name: "conversationId", value: p.ConversationID}, userField("userIdOfSender", p.SenderID))
}

func (p *MarkMessagesDelivered) validate() error {
	return requireFields(field{name: "conversationId", value: p.ConversationID}, userField("userIdOfSender", p.SenderID))
}

// Frame is a decoded inbound envelope
type Frame struct {
	Payload Inbound
	Ack     uint64
}

// Decode parses one inbound frame into its typed payload. Unknown events,
// unknown fields and missing required fields are rejected.
func Decode(raw []byte) (Frame, error) {
	var env Envelope
	if err := strictUnmarshal(raw, &env); err != nil {
		return Frame{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}

	payload, err := newPayload(env.Event)
	if err != nil {
		return Frame{Ack: env.Ack}, err
	}
	if !hasJSON(env.Data) {
		return Frame{Ack: env.Ack}, fmt.Errorf("%w: %s has no data", ErrInvalidPayload, env.Event)
	}
	if err := strictUnmarshal(env.Data, payload); err != nil {
		return Frame{Ack: env.Ack}, fmt.Errorf("%w: %s: %v", ErrInvalidPayload, env.Event, err)
	}
	if err := payload.validate(); err != nil {
		return Frame{Ack: env.Ack}, fmt.Errorf("%s: %w", env.Event, err)
	}
	return Frame{Payload: payload, Ack: env.Ack}, nil
}

func newPayload(event string) (Inbound, error) {
	switch event {
	case EventCallUser:
		return &CallUser{}, nil
	case EventAnswerCall:
		return &AnswerCall{}, nil
	case EventDeclineCall:
		return &DeclineCall{}, nil
	case EventHangup:
		return &Hangup{}, nil
	case EventRenegotiateCall:
		return &RenegotiateCall{}, nil
	case EventICECandidate:
		return &ICECandidate{}, nil
	case EventTyping:
		return &Typing{}, nil
	case EventStopTyping:
		return &StopTyping{}, nil
	case EventMarkMessagesSeen:
		return &MarkMessagesSeen{}, nil
	case EventMarkMessagesDelivered:
		return &MarkMessagesDelivered{}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, event)
}

func strictUnmarshal(raw []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return err
	}
	if dec.More() {
		return errors.New("trailing data after JSON value")
	}
	return nil
}

type field struct {
	name   string
	value  string
	userID bool
}

func userField(name, value string) field {
	return field{name: name, value: value, userID: true}
}

func requireFields(fields ...field) error {
	for _, f := range fields {
		if strings.TrimSpace(f.value) == "" {
			return missing(f.name)
		}
		if f.userID {
			if err := models.ValidateUserID(f.value); err != nil {
				return fmt.Errorf("%w: %s: %v", ErrInvalidPayload, f.name, err)
			}
		}
	}
	return nil
}

func missing(name string) error {
	return fmt.Errorf("%w: %s is required", ErrInvalidPayload, name)
}

func hasJSON(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && !bytes.Equal(trimmed, []byte("null"))
}

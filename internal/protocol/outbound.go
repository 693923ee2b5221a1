package protocol

import (
	"encoding/json"

	"ringrelay/internal/models"
)

// Outbound is a server-to-client event
type Outbound struct {
	Event string
	Data  any
	Ack   uint64
}

// MarshalJSON renders the event as an envelope
func (o Outbound) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Event string `json:"event"`
		Data  any    `json:"data"`
		Ack   uint64 `json:"ack,omitempty"`
	}{o.Event, o.Data, o.Ack})
}

type IncomingCallPayload struct {
	From     string          `json:"from"`
	Offer    json.RawMessage `json:"offer"`
	CallID   string          `json:"callId"`
	CallType models.CallType `json:"callType"`
}

type UserOfflinePayload struct {
	UserID string `json:"userId"`
}

type CallAcceptedPayload struct {
	From   string          `json:"from"`
	Answer json.RawMessage `json:"answer"`
	CallID string          `json:"callId"`
}

type CallRefPayload struct {
	CallID string `json:"callId"`
}

type CallPeerPayload struct {
	From   string `json:"from"`
	CallID string `json:"callId"`
}

type RenegotiatePayload struct {
	From   string          `json:"from"`
	Offer  json.RawMessage `json:"offer"`
	CallID string          `json:"callId"`
}

type ICECandidatePayload struct {
	From      string          `json:"from"`
	Candidate json.RawMessage `json:"candidate"`
	CallID    string          `json:"callId"`
}

type TypingPayload struct {
	From string `json:"from"`
}

type MessagesSeenPayload struct {
	ConversationID string `json:"conversationId"`
}

// MessagesDeliveredPayload carries exactly one of ConversationID (explicit
// acknowledgement) or ReceiverID (reconnect reconciliation).
type MessagesDeliveredPayload struct {
	ConversationID string `json:"conversationId,omitempty"`
	ReceiverID     string `json:"receiverId,omitempty"`
}

type CallFailedPayload struct {
	Message string `json:"message"`
	Reason  string `json:"reason"`
}

type AckPayload struct {
	OK     bool   `json:"ok"`
	CallID string `json:"callId,omitempty"`
	Error  string `json:"error,omitempty"`
}

func OnlineUsers(ids []string) Outbound {
	if ids == nil {
		ids = []string{}
	}
	return Outbound{Event: EventOnlineUsers, Data: ids}
}

func IncomingCall(from string, offer json.RawMessage, callID string, callType models.CallType) Outbound {
	return Outbound{Event: EventIncomingCall, Data: IncomingCallPayload{From: from, Offer: offer, CallID: callID, CallType: callType}}
}

func UserOffline(userID string) Outbound {
	return Outbound{Event: EventUserOffline, Data: UserOfflinePayload{UserID: userID}}
}

func CallAccepted(from string, answer json.RawMessage, callID string) Outbound {
	return Outbound{Event: EventCallAccepted, Data: CallAcceptedPayload{From: from, Answer: answer, CallID: callID}}
}

func CallAnsweredElsewhere(callID string) Outbound {
	return Outbound{Event: EventCallAnsweredElsewhere, Data: CallRefPayload{CallID: callID}}
}

func CallDeclined(from, callID string) Outbound {
	return Outbound{Event: EventCallDeclined, Data: CallPeerPayload{From: from, CallID: callID}}
}

func CallDeclinedElsewhere(callID string) Outbound {
	return Outbound{Event: EventCallDeclinedElsewhere, Data: CallRefPayload{CallID: callID}}
}

func HangupFrom(from, callID string) Outbound {
	return Outbound{Event: EventHangup, Data: CallPeerPayload{From: from, CallID: callID}}
}

func Renegotiate(from string, offer json.RawMessage, callID string) Outbound {
	return Outbound{Event: EventRenegotiateCall, Data: RenegotiatePayload{From: from, Offer: offer, CallID: callID}}
}

func ICE(from string, candidate json.RawMessage, callID string) Outbound {
	return Outbound{Event: EventICECandidate, Data: ICECandidatePayload{From: from, Candidate: candidate, CallID: callID}}
}

func TypingFrom(from string) Outbound {
	return Outbound{Event: EventTyping, Data: TypingPayload{From: from}}
}

func StopTypingFrom(from string) Outbound {
	return Outbound{Event: EventStopTyping, Data: TypingPayload{From: from}}
}

func MessagesSeen(conversationID string) Outbound {
	return Outbound{Event: EventMessagesSeen, Data: MessagesSeenPayload{ConversationID: conversationID}}
}

func MessagesDeliveredIn(conversationID string) Outbound {
	return Outbound{Event: EventMessagesDelivered, Data: MessagesDeliveredPayload{ConversationID: conversationID}}
}

func MessagesDeliveredTo(receiverID string) Outbound {
	return Outbound{Event: EventMessagesDelivered, Data: MessagesDeliveredPayload{ReceiverID: receiverID}}
}

func NewMessage(msg *models.Message) Outbound {
	return Outbound{Event: EventNewMessage, Data: msg}
}

func NewCallLog(view models.CallLogView) Outbound {
	return Outbound{Event: EventNewCallLog, Data: view}
}

func CallFailed(message, reason string) Outbound {
	return Outbound{Event: EventCallFailed, Data: CallFailedPayload{Message: message, Reason: reason}}
}

// Reply builds the acknowledgement for a client request that carried an ack id
func Reply(ack uint64, payload AckPayload) Outbound {
	return Outbound{Event: EventAck, Data: payload, Ack: ack}
}

// Package protocol defines the JSON envelopes exchanged over realtime sessions.
package protocol

import "encoding/json"

// Inbound event names
const (
	EventCallUser              = "call-user"
	EventAnswerCall            = "answer-call"
	EventDeclineCall           = "decline-call"
	EventHangup                = "hangup"
	EventRenegotiateCall       = "renegotiate-call"
	EventICECandidate          = "ice-candidate"
	EventTyping                = "typing"
	EventStopTyping            = "stop-typing"
	EventMarkMessagesSeen      = "markMessagesAsSeen"
	EventMarkMessagesDelivered = "markMessagesAsDelivered"
)

// Outbound-only event names
const (
	EventOnlineUsers           = "getOnlineUsers"
	EventIncomingCall          = "incoming-call"
	EventUserOffline           = "user-offline"
	EventCallAccepted          = "call-accepted"
	EventCallAnsweredElsewhere = "call-answered-elsewhere"
	EventCallDeclined          = "call-declined"
	EventCallDeclinedElsewhere = "call-declined-elsewhere"
	EventMessagesSeen          = "messagesSeen"
	EventMessagesDelivered     = "messagesDelivered"
	EventNewMessage            = "newMessage"
	EventNewCallLog            = "newCallLog"
	EventCallFailed            = "call-failed"
	EventAck                   = "ack"
)

// Envelope is the frame shape on the wire. Ack is set by clients that want a
// reply correlated to the request.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
	Ack   uint64          `json:"ack,omitempty"`
}

package models

import "time"

// Message is a single chat message between two users.
// Delivered and Seen only ever move from false to true.
type Message struct {
	ID             string    `json:"id"`
	SenderID       string    `json:"senderId"`
	ReceiverID     string    `json:"receiverId"`
	ConversationID string    `json:"conversationId"`
	Text           string    `json:"text"`
	Image          string    `json:"image,omitempty"`
	Delivered      bool      `json:"delivered"`
	Seen           bool      `json:"seen"`
	CreatedAt      time.Time `json:"createdAt"`
}

// Conversation groups the messages exchanged by an unordered pair of users
type Conversation struct {
	ID           string    `json:"id"`
	Participants [2]string `json:"participants"`
	MessageIDs   []string  `json:"messages"`
	CreatedAt    time.Time `json:"createdAt"`
}

// HasParticipant reports whether userID takes part in the conversation
func (c *Conversation) HasParticipant(userID string) bool {
	return c.Participants[0] == userID || c.Participants[1] == userID
}

// ParticipantPair returns the normalised (lower id first) form of an unordered pair
func ParticipantPair(a, b string) (string, string) {
	if b < a {
		return b, a
	}
	return a, b
}

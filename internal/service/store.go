package service

import (
	"context"

	"ringrelay/internal/models"
)

// MessageStore persists conversations and their messages. Message text goes
// in and comes out as plaintext; encryption at rest is the store's concern.
type MessageStore interface {
	FindConversation(ctx context.Context, userA, userB string) (*models.Conversation, error)
	FindOrCreateConversation(ctx context.Context, userA, userB string) (*models.Conversation, error)
	GetConversation(ctx context.Context, id string) (*models.Conversation, error)
	SaveMessage(ctx context.Context, msg *models.Message) error
	ListConversationMessages(ctx context.Context, conversationID string) ([]*models.Message, error)
	MarkMessagesDelivered(ctx context.Context, conversationID, senderID, receiverID string) (int64, error)
	MarkMessagesSeen(ctx context.Context, conversationID, senderID, receiverID string) (int64, error)
	DeliverPending(ctx context.Context, receiverID string) ([]string, error)
}

// CallLogStore persists call logs. UpdateCallStatus only moves a log out of
// missed and reports whether it did.
type CallLogStore interface {
	CreateCallLog(ctx context.Context, log *models.CallLog) error
	GetCallLog(ctx context.Context, id string) (*models.CallLog, error)
	UpdateCallStatus(ctx context.Context, id string, next models.CallStatus, duration int64) (bool, error)
	GetPopulatedCallLog(ctx context.Context, id string) (*models.PopulatedCallLog, error)
	ListCallLogs(ctx context.Context, userID string, limit int) ([]*models.PopulatedCallLog, error)
}

type UserStore interface {
	UpsertUser(ctx context.Context, user *models.User) error
	SendFriendRequest(ctx context.Context, from, to string) error
	AcceptFriendRequest(ctx context.Context, userID, from string) error
	ListFriends(ctx context.Context, userID string) ([]models.UserSummary, error)
	ListFriendRequests(ctx context.Context, userID string) ([]models.FriendRequest, error)
}

// Store is everything the realtime core reads and writes
type Store interface {
	MessageStore
	CallLogStore
	UserStore
}

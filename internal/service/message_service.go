package service

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"ringrelay/internal/constants"
	apperrors "ringrelay/internal/errors"
	"ringrelay/internal/metrics"
	"ringrelay/internal/models"
	"ringrelay/internal/privacy"
	"ringrelay/internal/protocol"
)

const sendMessageFailed = "Failed to send message"

// ImageUploader stores an inline data: URI image and returns its public URL
type ImageUploader interface {
	UploadDataURI(ctx context.Context, ownerID, dataURI string) (string, error)
}

type SendMessageInput struct {
	SenderID   string
	ReceiverID string
	Text       string
	Image      string
}

// MessageService persists chat messages and pushes them and their
// acknowledgements to whoever is online.
type MessageService struct {
	store   MessageStore
	relay   *Relay
	images  ImageUploader
	logger  *logrus.Logger
	timeout time.Duration
	now     func() time.Time
}

type MessageOption func(*MessageService)

// WithImageUploader enables data: URI images
func WithImageUploader(u ImageUploader) MessageOption {
	return func(s *MessageService) { s.images = u }
}

func NewMessageService(store MessageStore, relay *Relay, logger *logrus.Logger, timeout time.Duration, opts ...MessageOption) *MessageService {
	if timeout <= 0 {
		timeout = constants.DefaultPersistenceTimeout
	}
	s := &MessageService{
		store:   store,
		relay:   relay,
		logger:  logger,
		timeout: timeout,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SendMessage stores a message and pushes it to the receiver's sessions. The
// message is marked delivered up front when the receiver is online at send time.
func (s *MessageService) SendMessage(ctx context.Context, in SendMessageInput) (*models.Message, error) {
	if in.ReceiverID == "" {
		return nil, apperrors.NewValidationError("receiverId", in.ReceiverID, "is required")
	}
	if in.SenderID == in.ReceiverID {
		return nil, apperrors.NewValidationError("receiverId", in.ReceiverID, "cannot message yourself")
	}
	if strings.TrimSpace(in.Text) == "" && in.Image == "" {
		return nil, apperrors.NewValidationError("text", "", "message needs text or an image")
	}

	image, err := s.resolveImage(ctx, in.SenderID, in.Image)
	if err != nil {
		return nil, err
	}

	pctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	conv, err := s.store.FindOrCreateConversation(pctx, in.SenderID, in.ReceiverID)
	if err != nil {
		return nil, s.sendFailure("find conversation", err)
	}

	msg := &models.Message{
		ID:             uuid.NewString(),
		SenderID:       in.SenderID,
		ReceiverID:     in.ReceiverID,
		ConversationID: conv.ID,
		Text:           in.Text,
		Image:          image,
		Delivered:      s.relay.IsOnline(in.ReceiverID),
		CreatedAt:      s.now().UTC(),
	}
	if err := s.store.SaveMessage(pctx, msg); err != nil {
		return nil, s.sendFailure("save message", err)
	}
	if !msg.Delivered && s.relay.IsOnline(in.ReceiverID) {
		// The receiver connected while the row was being written, so their
		// pending delivery ran without it.
		msg.Delivered = s.catchUpDelivery(pctx, msg)
	}

	if msg.Delivered {
		s.relay.ToUser(in.ReceiverID, protocol.NewMessage(msg))
	}

	metrics.IncrementCounter(metrics.MessagesSentTotal, map[string]string{
		"delivered": strconv.FormatBool(msg.Delivered),
	}, "Chat messages persisted")
	s.logger.WithFields(logrus.Fields{
		LogFieldUserID:         privacy.MaskUserID(in.SenderID),
		LogFieldTargetID:       privacy.MaskUserID(in.ReceiverID),
		LogFieldMessageID:      msg.ID,
		LogFieldConversationID: conv.ID,
		"delivered":            msg.Delivered,
		"text":                 ContentField(ctx, msg.Text),
	}).Debug("Message sent")

	return msg, nil
}

func (s *MessageService) catchUpDelivery(ctx context.Context, msg *models.Message) bool {
	changed, err := s.store.MarkMessagesDelivered(ctx, msg.ConversationID, msg.SenderID, msg.ReceiverID)
	if err != nil {
		s.logger.WithError(err).WithField(LogFieldMessageID, msg.ID).Warn("Failed to mark message delivered after late connect")
		return false
	}
	return changed > 0
}

// MarkAsSeen flips seen (and delivered) on the reader's messages from senderID
// and tells the sender, but only when something changed.
func (s *MessageService) MarkAsSeen(ctx context.Context, readerID, conversationID, senderID string) (RelayResult, error) {
	return s.acknowledge(ctx, "mark messages seen", s.store.MarkMessagesSeen,
		readerID, conversationID, senderID, protocol.MessagesSeen(conversationID))
}

// MarkAsDelivered flips delivered on the reader's messages from senderID and
// tells the sender, but only when something changed.
func (s *MessageService) MarkAsDelivered(ctx context.Context, readerID, conversationID, senderID string) (RelayResult, error) {
	return s.acknowledge(ctx, "mark messages delivered", s.store.MarkMessagesDelivered,
		readerID, conversationID, senderID, protocol.MessagesDeliveredIn(conversationID))
}

type bulkMark func(ctx context.Context, conversationID, senderID, receiverID string) (int64, error)

func (s *MessageService) acknowledge(ctx context.Context, operation string, mark bulkMark, readerID, conversationID, senderID string, evt protocol.Outbound) (RelayResult, error) {
	pctx, cancel := context.WithTimeout(ctx, s.timeout)
	changed, err := mark(pctx, conversationID, senderID, readerID)
	cancel()
	if err != nil {
		metrics.IncrementCounter(metrics.PersistenceFailuresTotal, map[string]string{"operation": operation}, "Store operations that failed")
		return PersistenceFailed, wrapPersistence(operation, err, s.timeout)
	}
	if changed == 0 {
		return Skipped, nil
	}
	return s.relay.ToUser(senderID, evt), nil
}

// DeliverPending marks everything waiting for userID as delivered and tells
// each distinct sender. It returns how many senders were affected.
func (s *MessageService) DeliverPending(ctx context.Context, userID string) (int, error) {
	pctx, cancel := context.WithTimeout(ctx, s.timeout)
	senders, err := s.store.DeliverPending(pctx, userID)
	cancel()
	if err != nil {
		metrics.IncrementCounter(metrics.PersistenceFailuresTotal, map[string]string{"operation": "deliver pending"}, "Store operations that failed")
		return 0, wrapPersistence("deliver pending", err, s.timeout)
	}

	for _, sender := range senders {
		s.relay.ToUser(sender, protocol.MessagesDeliveredTo(userID))
	}
	return len(senders), nil
}

// OnConnect is the presence connect hook running pending delivery
func (s *MessageService) OnConnect(ctx context.Context, userID, sessionID string) {
	n, err := s.DeliverPending(ctx, userID)
	entry := s.logger.WithFields(logrus.Fields{
		LogFieldUserID:    privacy.MaskUserID(userID),
		LogFieldSessionID: privacy.MaskSessionID(sessionID),
	})
	if err != nil {
		apperrors.LogError(entry, err, "Failed to deliver pending messages")
		return
	}
	if n > 0 {
		entry.WithField(LogFieldCount, n).Debug("Delivered pending messages")
	}
}

// Conversation returns the messages userID exchanged with otherID, oldest
// first. No conversation yields an empty list.
func (s *MessageService) Conversation(ctx context.Context, userID, otherID string) ([]*models.Message, error) {
	if otherID == "" || otherID == userID {
		return nil, apperrors.NewValidationError("userId", otherID, "must name another user")
	}

	pctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	conv, err := s.store.FindConversation(pctx, userID, otherID)
	if err != nil {
		return nil, wrapPersistence("find conversation", err, s.timeout)
	}
	if conv == nil {
		return []*models.Message{}, nil
	}

	messages, err := s.store.ListConversationMessages(pctx, conv.ID)
	if err != nil {
		return nil, wrapPersistence("list messages", err, s.timeout)
	}
	return messages, nil
}

// ConversationByID returns a conversation with its message ids. Users outside
// the conversation get the same not-found error as for a missing one.
func (s *MessageService) ConversationByID(ctx context.Context, userID, conversationID string) (*models.Conversation, error) {
	pctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	conv, err := s.store.GetConversation(pctx, conversationID)
	if err != nil {
		return nil, wrapPersistence("get conversation", err, s.timeout)
	}
	if conv == nil || !conv.HasParticipant(userID) {
		return nil, apperrors.NewNotFoundError("conversation", conversationID)
	}
	return conv, nil
}

func (s *MessageService) resolveImage(ctx context.Context, ownerID, image string) (string, error) {
	if !strings.HasPrefix(image, "data:") {
		return image, nil
	}
	if s.images == nil {
		return "", apperrors.NewValidationError("image", "data URI", "inline images are not enabled")
	}
	url, err := s.images.UploadDataURI(ctx, ownerID, image)
	if err != nil {
		if _, ok := apperrors.As(err); ok {
			return "", err
		}
		return "", apperrors.NewMediaError("upload", "image", err)
	}
	return url, nil
}

// sendFailure hides the store error behind a generic message
func (s *MessageService) sendFailure(operation string, err error) error {
	metrics.IncrementCounter(metrics.PersistenceFailuresTotal, map[string]string{"operation": operation}, "Store operations that failed")
	return wrapPersistence(operation, err, s.timeout).WithUserMessage(sendMessageFailed)
}

package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"ringrelay/internal/models"
)

type rowScanner interface {
	Scan(dest ...any) error
}

// FindConversation looks up the conversation of an unordered pair. It returns
// nil when none exists. MessageIDs is not populated.
func (d *Database) FindConversation(ctx context.Context, userA, userB string) (*models.Conversation, error) {
	a, b := models.ParticipantPair(userA, userB)
	conv, err := scanConversation(d.db.QueryRowContext(ctx, SelectConversationByPairQuery, a, b))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find conversation: %w", err)
	}
	return conv, nil
}

// FindOrCreateConversation returns the pair's conversation, creating it on first use.
// Concurrent first messages between the same pair converge on one row.
func (d *Database) FindOrCreateConversation(ctx context.Context, userA, userB string) (*models.Conversation, error) {
	if userA == userB {
		return nil, fmt.Errorf("conversation requires two distinct participants")
	}

	conv, err := d.FindConversation(ctx, userA, userB)
	if err != nil || conv != nil {
		return conv, err
	}

	a, b := models.ParticipantPair(userA, userB)
	err = withRetry(ctx, "create conversation", func() error {
		_, err := d.db.ExecContext(ctx, InsertConversationQuery, uuid.NewString(), a, b, time.Now().UTC())
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create conversation: %w", err)
	}

	conv, err = d.FindConversation(ctx, a, b)
	if err != nil {
		return nil, err
	}
	if conv == nil {
		return nil, fmt.Errorf("conversation missing after create")
	}
	return conv, nil
}

// GetConversation returns a conversation with its ordered message ids, or nil
func (d *Database) GetConversation(ctx context.Context, id string) (*models.Conversation, error) {
	conv, err := scanConversation(d.db.QueryRowContext(ctx, SelectConversationByIDQuery, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get conversation: %w", err)
	}

	rows, err := d.db.QueryContext(ctx, SelectConversationMessageIDsQuery, id)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversation messages: %w", err)
	}
	defer func() { _ = rows.Close() }()

	conv.MessageIDs = []string{}
	for rows.Next() {
		var messageID string
		if err := rows.Scan(&messageID); err != nil {
			return nil, fmt.Errorf("failed to scan message id: %w", err)
		}
		conv.MessageIDs = append(conv.MessageIDs, messageID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate message ids: %w", err)
	}
	return conv, nil
}

// SaveMessage writes the message row and appends it to its conversation. The
// two writes run concurrently inside one transaction; either both land or neither.
func (d *Database) SaveMessage(ctx context.Context, msg *models.Message) error {
	encryptedText, err := d.cipher.Encrypt(msg.Text)
	if err != nil {
		return fmt.Errorf("failed to encrypt message text: %w", err)
	}

	return withRetry(ctx, "save message", func() error {
		return d.inTx(ctx, func(tx *sql.Tx) error {
			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				_, err := tx.ExecContext(gctx, InsertMessageQuery,
					msg.ID,
					msg.SenderID,
					msg.ReceiverID,
					msg.ConversationID,
					encryptedText,
					msg.Image,
					msg.Delivered,
					msg.Seen,
					msg.CreatedAt.UTC(),
				)
				if err != nil {
					return fmt.Errorf("failed to insert message: %w", err)
				}
				return nil
			})
			g.Go(func() error {
				_, err := tx.ExecContext(gctx, AppendConversationMessageQuery, msg.ConversationID, msg.ID)
				if err != nil {
					return fmt.Errorf("failed to append message to conversation: %w", err)
				}
				return nil
			})
			return g.Wait()
		})
	})
}

// GetMessage returns a message with decrypted text, or nil
func (d *Database) GetMessage(ctx context.Context, id string) (*models.Message, error) {
	msg, err := d.scanMessage(d.db.QueryRowContext(ctx, SelectMessageQuery, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get message: %w", err)
	}
	return msg, nil
}

// ListConversationMessages returns the conversation's messages in append order
func (d *Database) ListConversationMessages(ctx context.Context, conversationID string) ([]*models.Message, error) {
	rows, err := d.db.QueryContext(ctx, SelectConversationMessagesQuery, conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer func() { _ = rows.Close() }()

	messages := []*models.Message{}
	for rows.Next() {
		msg, err := d.scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate messages: %w", err)
	}
	return messages, nil
}

// MarkMessagesDelivered flips delivered on the receiver's undelivered messages
// from senderID in the conversation. It returns the number of rows changed.
func (d *Database) MarkMessagesDelivered(ctx context.Context, conversationID, senderID, receiverID string) (int64, error) {
	return d.bulkUpdate(ctx, "mark messages delivered", MarkMessagesDeliveredQuery, conversationID, senderID, receiverID)
}

// MarkMessagesSeen flips seen (and delivered) on the receiver's unseen messages
// from senderID in the conversation. It returns the number of rows changed.
func (d *Database) MarkMessagesSeen(ctx context.Context, conversationID, senderID, receiverID string) (int64, error) {
	return d.bulkUpdate(ctx, "mark messages seen", MarkMessagesSeenQuery, conversationID, senderID, receiverID)
}

// DeliverPending marks every undelivered message addressed to receiverID as
// delivered and returns the distinct senders whose messages changed.
func (d *Database) DeliverPending(ctx context.Context, receiverID string) ([]string, error) {
	var senders []string
	err := withRetry(ctx, "deliver pending", func() error {
		senders = senders[:0]
		seen := make(map[string]struct{})

		rows, err := d.db.QueryContext(ctx, DeliverPendingQuery, receiverID)
		if err != nil {
			return err
		}
		defer func() { _ = rows.Close() }()

		for rows.Next() {
			var senderID string
			if err := rows.Scan(&senderID); err != nil {
				return err
			}
			if _, dup := seen[senderID]; dup {
				continue
			}
			seen[senderID] = struct{}{}
			senders = append(senders, senderID)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("failed to deliver pending messages: %w", err)
	}
	return senders, nil
}

func (d *Database) bulkUpdate(ctx context.Context, name, query string, args ...any) (int64, error) {
	var changed int64
	err := withRetry(ctx, name, func() error {
		res, err := d.db.ExecContext(ctx, query, args...)
		if err != nil {
			return err
		}
		changed, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("failed to %s: %w", name, err)
	}
	return changed, nil
}

func (d *Database) scanMessage(row rowScanner) (*models.Message, error) {
	msg := &models.Message{}
	var storedText string
	if err := row.Scan(
		&msg.ID,
		&msg.SenderID,
		&msg.ReceiverID,
		&msg.ConversationID,
		&storedText,
		&msg.Image,
		&msg.Delivered,
		&msg.Seen,
		&msg.CreatedAt,
	); err != nil {
		return nil, err
	}
	msg.Text = d.cipher.Decrypt(storedText)
	return msg, nil
}

func scanConversation(row rowScanner) (*models.Conversation, error) {
	conv := &models.Conversation{}
	if err := row.Scan(&conv.ID, &conv.Participants[0], &conv.Participants[1], &conv.CreatedAt); err != nil {
		return nil, err
	}
	return conv, nil
}

package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"ringrelay/internal/models"
)

// UpsertUser stores the display projection of an authenticated user
func (d *Database) UpsertUser(ctx context.Context, user *models.User) error {
	err := withRetry(ctx, "upsert user", func() error {
		_, err := d.db.ExecContext(ctx, UpsertUserQuery, user.ID, user.Username, user.Tag, user.ProfilePic)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to upsert user: %w", err)
	}
	return nil
}

// GetUser returns the user or nil when unknown
func (d *Database) GetUser(ctx context.Context, id string) (*models.User, error) {
	user := &models.User{}
	err := d.db.QueryRowContext(ctx, SelectUserQuery, id).Scan(
		&user.ID, &user.Username, &user.Tag, &user.ProfilePic, &user.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return user, nil
}

// SendFriendRequest records a pending request from -> to. Both invariants
// (not already friends, at most one pending request per ordered pair) are
// checked and written in the same transaction.
func (d *Database) SendFriendRequest(ctx context.Context, from, to string) error {
	if from == to {
		return models.ErrSelfFriendRequest
	}

	return withRetry(ctx, "send friend request", func() error {
		return d.inTx(ctx, func(tx *sql.Tx) error {
			friends, err := exists(ctx, tx, SelectFriendshipQuery, from, to)
			if err != nil {
				return fmt.Errorf("failed to check friendship: %w", err)
			}
			if friends {
				return models.ErrAlreadyFriends
			}

			pending, err := exists(ctx, tx, SelectFriendRequestQuery, from, to)
			if err != nil {
				return fmt.Errorf("failed to check pending request: %w", err)
			}
			if pending {
				return models.ErrFriendRequestPending
			}

			if _, err := tx.ExecContext(ctx, InsertFriendRequestQuery, from, to, time.Now().UTC()); err != nil {
				return fmt.Errorf("failed to insert friend request: %w", err)
			}
			return nil
		})
	})
}

// AcceptFriendRequest consumes the pending request from -> userID and makes
// the two users mutual friends. A crossing request userID -> from is dropped too.
func (d *Database) AcceptFriendRequest(ctx context.Context, userID, from string) error {
	return withRetry(ctx, "accept friend request", func() error {
		return d.inTx(ctx, func(tx *sql.Tx) error {
			res, err := tx.ExecContext(ctx, DeleteFriendRequestQuery, from, userID)
			if err != nil {
				return fmt.Errorf("failed to consume friend request: %w", err)
			}
			n, err := res.RowsAffected()
			if err != nil {
				return err
			}
			if n == 0 {
				return models.ErrFriendRequestMissing
			}

			if _, err := tx.ExecContext(ctx, DeleteFriendRequestQuery, userID, from); err != nil {
				return fmt.Errorf("failed to drop crossing request: %w", err)
			}
			if _, err := tx.ExecContext(ctx, InsertFriendshipQuery, userID, from); err != nil {
				return fmt.Errorf("failed to insert friendship: %w", err)
			}
			if _, err := tx.ExecContext(ctx, InsertFriendshipQuery, from, userID); err != nil {
				return fmt.Errorf("failed to insert friendship: %w", err)
			}
			return nil
		})
	})
}

func (d *Database) ListFriends(ctx context.Context, userID string) ([]models.UserSummary, error) {
	rows, err := d.db.QueryContext(ctx, SelectFriendsQuery, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query friends: %w", err)
	}
	defer func() { _ = rows.Close() }()

	friends := []models.UserSummary{}
	for rows.Next() {
		var f models.UserSummary
		if err := rows.Scan(&f.ID, &f.Username, &f.Tag, &f.ProfilePic); err != nil {
			return nil, fmt.Errorf("failed to scan friend: %w", err)
		}
		friends = append(friends, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate friends: %w", err)
	}
	return friends, nil
}

func (d *Database) ListFriendRequests(ctx context.Context, userID string) ([]models.FriendRequest, error) {
	rows, err := d.db.QueryContext(ctx, SelectFriendRequestsQuery, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query friend requests: %w", err)
	}
	defer func() { _ = rows.Close() }()

	requests := []models.FriendRequest{}
	for rows.Next() {
		var r models.FriendRequest
		if err := rows.Scan(&r.From, &r.To, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan friend request: %w", err)
		}
		requests = append(requests, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate friend requests: %w", err)
	}
	return requests, nil
}

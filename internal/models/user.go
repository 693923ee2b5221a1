package models

import (
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

const maxUserIDLength = 128

var ErrInvalidUserID = errors.New("invalid user ID")

// Friend request outcomes reported by the store
var (
	ErrAlreadyFriends       = errors.New("users are already friends")
	ErrFriendRequestPending = errors.New("friend request already pending")
	ErrFriendRequestMissing = errors.New("friend request not found")
	ErrSelfFriendRequest    = errors.New("cannot send a friend request to yourself")
)

// User is the locally stored projection of an authenticated identity
type User struct {
	ID         string    `json:"id"`
	Username   string    `json:"username"`
	Tag        string    `json:"tag"`
	ProfilePic string    `json:"profilePic"`
	CreatedAt  time.Time `json:"createdAt"`
}

// UserSummary is the subset of user fields that may be sent to other users
type UserSummary struct {
	ID         string `json:"id"`
	Username   string `json:"username"`
	Tag        string `json:"tag"`
	ProfilePic string `json:"profilePic"`
}

// FriendRequest is a pending request addressed to a user
type FriendRequest struct {
	From      string    `json:"from"`
	To        string    `json:"to"`
	CreatedAt time.Time `json:"createdAt"`
}

// ValidateUserID performs basic validation of a user id taken from a URL or payload
func ValidateUserID(userID string) error {
	if strings.TrimSpace(userID) == "" {
		return fmt.Errorf("%w: cannot be empty", ErrInvalidUserID)
	}
	if len(userID) > maxUserIDLength {
		return fmt.Errorf("%w: too long (max %d characters)", ErrInvalidUserID, maxUserIDLength)
	}
	if !utf8.ValidString(userID) || strings.ContainsAny(userID, "\x00\n\r\t/") {
		return fmt.Errorf("%w: contains invalid characters", ErrInvalidUserID)
	}
	return nil
}

package service

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"ringrelay/internal/constants"
	apperrors "ringrelay/internal/errors"
	"ringrelay/internal/models"
	"ringrelay/internal/privacy"
)

// FriendService manages friend requests and friendships
type FriendService struct {
	store   UserStore
	logger  *logrus.Logger
	timeout time.Duration
}

func NewFriendService(store UserStore, logger *logrus.Logger, timeout time.Duration) *FriendService {
	if timeout <= 0 {
		timeout = constants.DefaultPersistenceTimeout
	}
	return &FriendService{store: store, logger: logger, timeout: timeout}
}

// SendRequest records a pending request from -> to
func (s *FriendService) SendRequest(ctx context.Context, from, to string) error {
	if to == "" {
		return apperrors.NewValidationError("userId", to, "is required")
	}

	pctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if err := s.store.SendFriendRequest(pctx, from, to); err != nil {
		return classifyFriendError("send friend request", err, s.timeout)
	}

	s.logger.WithFields(logrus.Fields{
		LogFieldUserID:   privacy.MaskUserID(from),
		LogFieldTargetID: privacy.MaskUserID(to),
	}).Info("Friend request sent")
	return nil
}

// Accept turns the pending request from -> userID into a friendship
func (s *FriendService) Accept(ctx context.Context, userID, from string) error {
	pctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if err := s.store.AcceptFriendRequest(pctx, userID, from); err != nil {
		return classifyFriendError("accept friend request", err, s.timeout)
	}

	s.logger.WithFields(logrus.Fields{
		LogFieldUserID:   privacy.MaskUserID(userID),
		LogFieldTargetID: privacy.MaskUserID(from),
	}).Info("Friend request accepted")
	return nil
}

func (s *FriendService) Friends(ctx context.Context, userID string) ([]models.UserSummary, error) {
	pctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	friends, err := s.store.ListFriends(pctx, userID)
	if err != nil {
		return nil, wrapPersistence("list friends", err, s.timeout)
	}
	return friends, nil
}

func (s *FriendService) Requests(ctx context.Context, userID string) ([]models.FriendRequest, error) {
	pctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	requests, err := s.store.ListFriendRequests(pctx, userID)
	if err != nil {
		return nil, wrapPersistence("list friend requests", err, s.timeout)
	}
	return requests, nil
}

func classifyFriendError(operation string, err error, timeout time.Duration) error {
	switch {
	case errors.Is(err, models.ErrSelfFriendRequest):
		return apperrors.NewValidationError("userId", "", err.Error())
	case errors.Is(err, models.ErrAlreadyFriends), errors.Is(err, models.ErrFriendRequestPending):
		return apperrors.NewConflictError(err.Error(), err)
	case errors.Is(err, models.ErrFriendRequestMissing):
		return apperrors.NewNotFoundError("friend request", "")
	default:
		return wrapPersistence(operation, err, timeout)
	}
}

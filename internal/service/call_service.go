package service

import (
	"context"
	"errors"
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

const callFailedMessage = "Call could not be completed"

// Origin identifies the user and the session an operation came from
type Origin struct {
	UserID    string
	SessionID string
}

// CallService drives the signaling state machine of one-to-one calls. Live
// relays are best-effort and never rolled back; the call log records the
// outcome, and the store's conditional update is the authority on it.
type CallService struct {
	store   CallLogStore
	relay   *Relay
	sync    *CallLogSync
	logger  *logrus.Logger
	timeout time.Duration
	now     func() time.Time
}

func NewCallService(store CallLogStore, relay *Relay, sync *CallLogSync, logger *logrus.Logger, timeout time.Duration) *CallService {
	if timeout <= 0 {
		timeout = constants.DefaultPersistenceTimeout
	}
	return &CallService{
		store:   store,
		relay:   relay,
		sync:    sync,
		logger:  logger,
		timeout: timeout,
		now:     time.Now,
	}
}

// Initiate starts a call from origin to req.To. It returns the id of the new
// call log, which is empty when the target is offline or persistence failed.
func (s *CallService) Initiate(ctx context.Context, origin Origin, req *protocol.CallUser) (string, RelayResult, error) {
	if req.To == origin.UserID {
		return "", Skipped, apperrors.NewValidationError("to", req.To, "cannot call yourself")
	}

	if !s.relay.IsOnline(req.To) {
		s.relay.ToSession(origin.SessionID, protocol.UserOffline(req.To))
		return "", TargetOffline, apperrors.NewTargetOfflineError(req.To)
	}

	log := &models.CallLog{
		ID:        uuid.NewString(),
		CallerID:  origin.UserID,
		CalleeID:  req.To,
		CallType:  req.CallType,
		Status:    models.CallStatusMissed,
		CreatedAt: s.now().UTC(),
	}

	pctx, cancel := context.WithTimeout(ctx, s.timeout)
	err := s.store.CreateCallLog(pctx, log)
	cancel()
	if err != nil {
		return "", PersistenceFailed, s.persistenceFailure(origin, "create call log", err)
	}

	result := s.relay.ToUser(req.To, protocol.IncomingCall(origin.UserID, req.Offer, log.ID, req.CallType))

	s.logger.WithFields(logrus.Fields{
		LogFieldUserID:   privacy.MaskUserID(origin.UserID),
		LogFieldTargetID: privacy.MaskUserID(req.To),
		LogFieldCallID:   privacy.MaskCallID(log.ID),
		LogFieldCallType: req.CallType,
		LogFieldResult:   result.String(),
	}).Info("Call initiated")

	s.syncLog(ctx, log.ID)
	return log.ID, result, nil
}

// Accept relays the callee's answer to the caller and stops the callee's
// other devices from ringing. The log is not touched.
func (s *CallService) Accept(ctx context.Context, origin Origin, req *protocol.AnswerCall) (RelayResult, error) {
	result := s.relay.ToUser(req.To, protocol.CallAccepted(origin.UserID, req.Answer, req.CallID))
	s.relay.ToUserExcept(origin.UserID, origin.SessionID, protocol.CallAnsweredElsewhere(req.CallID))

	if result == TargetOffline {
		return result, apperrors.NewTargetOfflineError(req.To)
	}
	return result, nil
}

// Decline relays the refusal to the caller, stops the callee's other devices
// and finalizes the log as declined.
func (s *CallService) Decline(ctx context.Context, origin Origin, req *protocol.DeclineCall) (RelayResult, error) {
	log, loadErr := s.participantLog(ctx, origin, req.CallID)
	if loadErr != nil && !isPersistenceError(loadErr) {
		return Skipped, loadErr
	}

	result := s.relay.ToUser(req.To, protocol.CallDeclined(origin.UserID, req.CallID))
	s.relay.ToUserExcept(origin.UserID, origin.SessionID, protocol.CallDeclinedElsewhere(req.CallID))

	if loadErr != nil {
		return PersistenceFailed, s.persistenceFailure(origin, "load call log", loadErr)
	}
	if log == nil {
		return result, nil
	}
	next, err := log.Status.Transition(models.CallStatusDeclined)
	if err != nil {
		return result, apperrors.NewInvalidTransitionError(log.ID, string(log.Status), string(models.CallStatusDeclined))
	}

	if err := s.finalize(ctx, origin, log, next, 0); err != nil {
		if isPersistenceError(err) {
			return PersistenceFailed, err
		}
		return result, err
	}
	return result, nil
}

// Hangup relays the hangup to the other party. A log still in missed is
// finalized as answered with the elapsed whole seconds as its duration.
func (s *CallService) Hangup(ctx context.Context, origin Origin, req *protocol.Hangup) (RelayResult, error) {
	log, loadErr := s.participantLog(ctx, origin, req.CallID)
	if loadErr != nil && !isPersistenceError(loadErr) {
		return Skipped, loadErr
	}

	result := s.relay.ToUser(req.To, protocol.HangupFrom(origin.UserID, req.CallID))

	if loadErr != nil {
		return PersistenceFailed, s.persistenceFailure(origin, "load call log", loadErr)
	}
	if log == nil || log.Status != models.CallStatusMissed {
		return result, nil
	}

	if err := s.finalize(ctx, origin, log, models.CallStatusAnswered, log.AnsweredDuration(s.now())); err != nil {
		if isPersistenceError(err) {
			return PersistenceFailed, err
		}
		return result, err
	}
	return result, nil
}

// Renegotiate relays a mid-call offer verbatim
func (s *CallService) Renegotiate(_ context.Context, origin Origin, req *protocol.RenegotiateCall) (RelayResult, error) {
	result := s.relay.ToUser(req.To, protocol.Renegotiate(origin.UserID, req.Offer, req.CallID))
	if result == TargetOffline {
		return result, apperrors.NewTargetOfflineError(req.To)
	}
	return result, nil
}

// RelayICECandidate forwards a candidate verbatim; nothing is persisted
func (s *CallService) RelayICECandidate(_ context.Context, origin Origin, req *protocol.ICECandidate) (RelayResult, error) {
	result := s.relay.ToUser(req.To, protocol.ICE(origin.UserID, req.Candidate, req.CallID))
	if result == TargetOffline {
		return result, apperrors.NewTargetOfflineError(req.To)
	}
	return result, nil
}

// History returns the user's most recent calls shaped like newCallLog events
func (s *CallService) History(ctx context.Context, userID string, limit int) ([]models.CallLogView, error) {
	if limit <= 0 {
		limit = constants.DefaultCallHistoryLimit
	}

	pctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	logs, err := s.store.ListCallLogs(pctx, userID, limit)
	if err != nil {
		return nil, apperrors.NewDatabaseError("list call logs", err)
	}

	views := make([]models.CallLogView, 0, len(logs))
	for _, log := range logs {
		views = append(views, log.ViewFor(userID))
	}
	return views, nil
}

// participantLog loads callID and checks that origin takes part in it. A
// missing log is returned as nil without error.
func (s *CallService) participantLog(ctx context.Context, origin Origin, callID string) (*models.CallLog, error) {
	pctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	log, err := s.store.GetCallLog(pctx, callID)
	if err != nil {
		return nil, wrapPersistence("get call log", err, s.timeout)
	}
	if log == nil {
		s.logger.WithField(LogFieldCallID, privacy.MaskCallID(callID)).Debug("Skipping call log update: log not found")
		return nil, nil
	}
	if !log.IsParticipant(origin.UserID) {
		return nil, apperrors.NewForbiddenError("call", callID)
	}
	return log, nil
}

func (s *CallService) finalize(ctx context.Context, origin Origin, log *models.CallLog, next models.CallStatus, duration int64) error {
	pctx, cancel := context.WithTimeout(ctx, s.timeout)
	changed, err := s.store.UpdateCallStatus(pctx, log.ID, next, duration)
	cancel()
	if err != nil {
		if errors.Is(err, models.ErrInvalidCallTransition) {
			return apperrors.NewInvalidTransitionError(log.ID, string(log.Status), string(next))
		}
		return s.persistenceFailure(origin, "update call status", err)
	}
	if !changed {
		// Another event finalized the log first.
		s.logger.WithFields(logrus.Fields{
			LogFieldCallID: privacy.MaskCallID(log.ID),
			LogFieldStatus: next,
		}).Debug("Skipping call status update: log already final")
		return nil
	}

	metrics.IncrementCounter(metrics.CallTransitionsTotal, map[string]string{"status": string(next)}, "Call log status transitions")
	s.logger.WithFields(logrus.Fields{
		LogFieldUserID: privacy.MaskUserID(origin.UserID),
		LogFieldCallID: privacy.MaskCallID(log.ID),
		LogFieldStatus: next,
		"duration_s":   duration,
	}).Info("Call status changed")

	s.syncLog(ctx, log.ID)
	return nil
}

func (s *CallService) syncLog(ctx context.Context, callID string) {
	pctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if err := s.sync.EmitCallLogUpdate(pctx, callID); err != nil {
		s.logger.WithError(err).WithField(LogFieldCallID, privacy.MaskCallID(callID)).Warn("Failed to synchronize call log")
	}
}

// persistenceFailure tells the initiating session that the call failed and
// returns the classified error.
func (s *CallService) persistenceFailure(origin Origin, operation string, err error) error {
	metrics.IncrementCounter(metrics.PersistenceFailuresTotal, map[string]string{"operation": operation}, "Store operations that failed")
	s.relay.ToSession(origin.SessionID, protocol.CallFailed(callFailedMessage, "Failed to "+operation))
	return wrapPersistence(operation, err, s.timeout)
}

// wrapPersistence classifies a store error; it leaves already classified errors alone
func wrapPersistence(operation string, err error, timeout time.Duration) *apperrors.AppError {
	if appErr, ok := apperrors.As(err); ok {
		return appErr
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return apperrors.NewTimeoutError(operation, timeout.String())
	}
	return apperrors.NewDatabaseError(operation, err)
}

func isPersistenceError(err error) bool {
	switch apperrors.GetCode(err) {
	case apperrors.ErrCodeDatabaseQuery, apperrors.ErrCodeTimeout:
		return true
	}
	return false
}

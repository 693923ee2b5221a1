package service

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"

	"ringrelay/internal/constants"
	apperrors "ringrelay/internal/errors"
	"ringrelay/internal/hub"
	"ringrelay/internal/metrics"
	"ringrelay/internal/models"
	"ringrelay/internal/privacy"
	"ringrelay/internal/protocol"
	"ringrelay/internal/tracing"
)

// SessionRegistry tracks which sessions belong to which user
type SessionRegistry interface {
	Register(ctx context.Context, userID, sessionID string) error
	Deregister(ctx context.Context, sessionID string) (string, bool)
}

// Gateway routes the lifecycle and inbound events of realtime sessions to the
// services. It implements hub.Dispatcher.
type Gateway struct {
	users    UserStore
	sessions SessionRegistry
	calls    *CallService
	messages *MessageService
	typing   *TypingRelay
	logger   *logrus.Logger
	timeout  time.Duration
}

var _ hub.Dispatcher = (*Gateway)(nil)

func NewGateway(users UserStore, sessions SessionRegistry, calls *CallService, messages *MessageService, typing *TypingRelay, logger *logrus.Logger, timeout time.Duration) *Gateway {
	if timeout <= 0 {
		timeout = constants.DefaultPersistenceTimeout
	}
	return &Gateway{
		users:    users,
		sessions: sessions,
		calls:    calls,
		messages: messages,
		typing:   typing,
		logger:   logger,
		timeout:  timeout,
	}
}

// Connected records the user's display projection and registers the session.
// Registration runs the presence connect hooks, so pending messages are
// delivered before the first inbound event of the session is read.
func (g *Gateway) Connected(ctx context.Context, c hub.Client) error {
	user := &models.User{
		ID:         c.Identity.UserID,
		Username:   c.Identity.Username,
		Tag:        c.Identity.Tag,
		ProfilePic: c.Identity.ProfilePic,
	}

	pctx, cancel := context.WithTimeout(ctx, g.timeout)
	err := g.users.UpsertUser(pctx, user)
	cancel()
	if err != nil {
		g.logger.WithError(err).WithField(LogFieldUserID, privacy.MaskUserID(user.ID)).Warn("Failed to record user projection")
	}

	return g.sessions.Register(ctx, c.UserID(), c.SessionID)
}

func (g *Gateway) Disconnected(ctx context.Context, c hub.Client) {
	userID, offline := g.sessions.Deregister(ctx, c.SessionID)
	if offline {
		g.logger.WithField(LogFieldUserID, privacy.MaskUserID(userID)).Debug("User went offline")
	}
}

// Dispatch handles one inbound event and returns the acknowledgement for the sender
func (g *Gateway) Dispatch(ctx context.Context, c hub.Client, in protocol.Inbound) protocol.AckPayload {
	event := in.EventName()
	start := time.Now()

	ctx, span := tracing.StartSpan(ctx, "ws."+event,
		attribute.String("ws.event", event),
		attribute.String("ws.session_id", privacy.MaskSessionID(c.SessionID)),
	)
	defer span.End()

	origin := Origin{UserID: c.UserID(), SessionID: c.SessionID}

	var (
		callID string
		result RelayResult
		err    error
	)

	switch req := in.(type) {
	case *protocol.CallUser:
		callID, result, err = g.calls.Initiate(ctx, origin, req)
	case *protocol.AnswerCall:
		callID = req.CallID
		result, err = g.calls.Accept(ctx, origin, req)
	case *protocol.DeclineCall:
		callID = req.CallID
		result, err = g.calls.Decline(ctx, origin, req)
	case *protocol.Hangup:
		callID = req.CallID
		result, err = g.calls.Hangup(ctx, origin, req)
	case *protocol.RenegotiateCall:
		callID = req.CallID
		result, err = g.calls.Renegotiate(ctx, origin, req)
	case *protocol.ICECandidate:
		callID = req.CallID
		result, err = g.calls.RelayICECandidate(ctx, origin, req)
	case *protocol.Typing:
		result = g.typing.Typing(origin.UserID, req.To)
	case *protocol.StopTyping:
		result = g.typing.StopTyping(origin.UserID, req.To)
	case *protocol.MarkMessagesSeen:
		result, err = g.messages.MarkAsSeen(ctx, origin.UserID, req.ConversationID, req.SenderID)
	case *protocol.MarkMessagesDelivered:
		result, err = g.messages.MarkAsDelivered(ctx, origin.UserID, req.ConversationID, req.SenderID)
	default:
		result = Skipped
		err = apperrors.New(apperrors.ErrCodeInvalidInput, "unsupported event "+event)
	}

	labels := map[string]string{"event": event, "result": result.String()}
	metrics.IncrementCounter(metrics.WSEventsTotal, labels, "Inbound realtime events handled")
	metrics.RecordTimer(metrics.WSEventDuration, time.Since(start), map[string]string{"event": event}, "Inbound realtime event handling time")

	span.SetAttributes(attribute.String("ws.result", result.String()))
	if callID != "" {
		span.SetAttributes(attribute.String("call.id", callID))
	}

	if err != nil {
		tracing.RecordError(ctx, err)
		entry := g.logger.WithFields(logrus.Fields{
			LogFieldEvent:     event,
			LogFieldUserID:    privacy.MaskUserID(origin.UserID),
			LogFieldSessionID: privacy.MaskSessionID(origin.SessionID),
			LogFieldResult:    result.String(),
		})
		apperrors.LogError(entry, err, "Failed to handle realtime event")
		return protocol.AckPayload{OK: false, CallID: callID, Error: apperrors.GetUserMessage(err)}
	}

	return protocol.AckPayload{OK: true, CallID: callID}
}

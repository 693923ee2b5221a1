package service

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"ringrelay/internal/privacy"
	"ringrelay/internal/protocol"
)

// CallLogSync pushes the current state of a call log to both participants
type CallLogSync struct {
	store  CallLogStore
	relay  *Relay
	logger *logrus.Logger
}

func NewCallLogSync(store CallLogStore, relay *Relay, logger *logrus.Logger) *CallLogSync {
	return &CallLogSync{store: store, relay: relay, logger: logger}
}

// EmitCallLogUpdate sends newCallLog to the caller and the callee, each shaped
// with receiverId naming the other party. A missing log is not an error.
func (s *CallLogSync) EmitCallLogUpdate(ctx context.Context, callID string) error {
	log, err := s.store.GetPopulatedCallLog(ctx, callID)
	if err != nil {
		return fmt.Errorf("failed to load call log: %w", err)
	}
	if log == nil {
		s.logger.WithField(LogFieldCallID, privacy.MaskCallID(callID)).Debug("Skipping call log sync: log not found")
		return nil
	}

	callerResult := s.relay.ToUser(log.Caller.ID, protocol.NewCallLog(log.ViewFor(log.Caller.ID)))
	calleeResult := s.relay.ToUser(log.Callee.ID, protocol.NewCallLog(log.ViewFor(log.Callee.ID)))

	s.logger.WithFields(logrus.Fields{
		LogFieldCallID: privacy.MaskCallID(callID),
		LogFieldStatus: log.Status,
		"caller":       callerResult.String(),
		"callee":       calleeResult.String(),
	}).Debug("Call log synchronized")
	return nil
}

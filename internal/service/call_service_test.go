package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	apperrors "ringrelay/internal/errors"
	"ringrelay/internal/models"
	"ringrelay/internal/protocol"
)

func TestCallService_Decline(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	h := newHarness(t, db)
	h.connect(t, "x", "x-1")
	h.connect(t, "y", "y-1")
	h.connect(t, "y", "y-2")

	callID := startCall(t, h, models.CallTypeAudio)
	h.emitter.reset()

	result, err := h.calls.Decline(ctx, Origin{UserID: "y", SessionID: "y-2"}, &protocol.DeclineCall{To: "x", CallID: callID})
	require.NoError(t, err)
	assert.Equal(t, Delivered, result)

	declined := h.emitter.named("x-1", protocol.EventCallDeclined)
	require.Len(t, declined, 1)
	assert.Equal(t, protocol.CallPeerPayload{From: "y", CallID: callID}, declined[0])
	assert.Len(t, h.emitter.named("y-1", protocol.EventCallDeclinedElsewhere), 1)
	assert.Empty(t, h.emitter.named("y-2", protocol.EventCallDeclinedElsewhere))

	log, err := db.GetCallLog(ctx, callID)
	require.NoError(t, err)
	assert.Equal(t, models.CallStatusDeclined, log.Status)
	assert.Equal(t, models.CallStatusDeclined, lastCallLog(t, h, "x-1").Status)
	assert.Equal(t, models.CallStatusDeclined, lastCallLog(t, h, "y-1").Status)

	t.Run("second decline is an invalid transition", func(t *testing.T) {
		h.emitter.reset()
		result, err := h.calls.Decline(ctx, Origin{UserID: "y", SessionID: "y-1"}, &protocol.DeclineCall{To: "x", CallID: callID})
		assert.Equal(t, Delivered, result, "the relay still happens")
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeInvalidTransition))
		assert.Zero(t, h.emitter.count(protocol.EventNewCallLog))
	})

	t.Run("hangup after decline keeps the log declined", func(t *testing.T) {
		h.emitter.reset()
		_, err := h.calls.Hangup(ctx, Origin{UserID: "x", SessionID: "x-1"}, &protocol.Hangup{To: "y", CallID: callID})
		require.NoError(t, err)

		log, err := db.GetCallLog(ctx, callID)
		require.NoError(t, err)
		assert.Equal(t, models.CallStatusDeclined, log.Status)
		assert.Zero(t, h.emitter.count(protocol.EventNewCallLog))
	})
}

func TestCallService_NonParticipantIsIgnored(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	h := newHarness(t, db)
	h.connect(t, "x", "x-1")
	h.connect(t, "y", "y-1")
	h.connect(t, "z", "z-1")

	callID := startCall(t, h, models.CallTypeAudio)
	h.emitter.reset()

	result, err := h.calls.Hangup(ctx, Origin{UserID: "z", SessionID: "z-1"}, &protocol.Hangup{To: "y", CallID: callID})
	assert.Equal(t, Skipped, result)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeAuthorization))

	result, err = h.calls.Decline(ctx, Origin{UserID: "z", SessionID: "z-1"}, &protocol.DeclineCall{To: "x", CallID: callID})
	assert.Equal(t, Skipped, result)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeAuthorization))

	assert.Zero(t, h.emitter.count(protocol.EventHangup))
	assert.Zero(t, h.emitter.count(protocol.EventCallDeclined))

	log, err := db.GetCallLog(ctx, callID)
	require.NoError(t, err)
	assert.Equal(t, models.CallStatusMissed, log.Status)
}

func TestCallService_UnknownCallStillRelays(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, setupTestDB(t))
	h.connect(t, "x", "x-1")
	h.connect(t, "y", "y-1")

	result, err := h.calls.Hangup(ctx, Origin{UserID: "y", SessionID: "y-1"}, &protocol.Hangup{To: "x", CallID: "no-such-call"})
	require.NoError(t, err)
	assert.Equal(t, Delivered, result)
	assert.Len(t, h.emitter.named("x-1", protocol.EventHangup), 1)
	assert.Zero(t, h.emitter.count(protocol.EventNewCallLog))
}

func TestCallService_RejectsSelfCall(t *testing.T) {
	store := &mockStore{}
	store.On("DeliverPending", mock.Anything, "x").Return(nil, nil)

	h := newHarness(t, store)
	h.connect(t, "x", "x-1")

	_, result, err := h.calls.Initiate(context.Background(), Origin{UserID: "x", SessionID: "x-1"},
		&protocol.CallUser{To: "x", Offer: testOffer, CallType: models.CallTypeAudio})

	assert.Equal(t, Skipped, result)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeValidationFailed))
}

func TestCallService_CreateFailureSendsCallFailed(t *testing.T) {
	store := &mockStore{}
	store.On("DeliverPending", mock.Anything, mock.Anything).Return(nil, nil)
	store.On("CreateCallLog", mock.Anything, mock.AnythingOfType("*models.CallLog")).Return(errors.New("disk I/O error"))

	h := newHarness(t, store)
	h.connect(t, "x", "x-1")
	h.connect(t, "y", "y-1")

	callID, result, err := h.calls.Initiate(context.Background(), Origin{UserID: "x", SessionID: "x-1"},
		&protocol.CallUser{To: "y", Offer: testOffer, CallType: models.CallTypeAudio})

	assert.Empty(t, callID)
	assert.Equal(t, PersistenceFailed, result)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeDatabaseQuery))

	failed := h.emitter.named("x-1", protocol.EventCallFailed)
	require.Len(t, failed, 1)
	assert.Equal(t, callFailedMessage, failed[0].(protocol.CallFailedPayload).Message)
	assert.Zero(t, h.emitter.count(protocol.EventIncomingCall), "nothing rings when the log could not be written")
	store.AssertExpectations(t)
}

func TestCallService_UpdateFailureKeepsRelay(t *testing.T) {
	log := &models.CallLog{
		ID:        "call-1",
		CallerID:  "x",
		CalleeID:  "y",
		CallType:  models.CallTypeAudio,
		Status:    models.CallStatusMissed,
		CreatedAt: time.Now().Add(-time.Minute),
	}

	store := &mockStore{}
	store.On("DeliverPending", mock.Anything, mock.Anything).Return(nil, nil)
	store.On("GetCallLog", mock.Anything, "call-1").Return(log, nil)
	store.On("UpdateCallStatus", mock.Anything, "call-1", models.CallStatusDeclined, int64(0)).Return(false, errors.New("database is closed"))

	h := newHarness(t, store)
	h.connect(t, "x", "x-1")
	h.connect(t, "y", "y-1")

	result, err := h.calls.Decline(context.Background(), Origin{UserID: "y", SessionID: "y-1"}, &protocol.DeclineCall{To: "x", CallID: "call-1"})

	assert.Equal(t, PersistenceFailed, result)
	assert.Error(t, err)
	assert.Len(t, h.emitter.named("x-1", protocol.EventCallDeclined), 1, "the live relay is not rolled back")
	assert.Len(t, h.emitter.named("y-1", protocol.EventCallFailed), 1)
	store.AssertExpectations(t)
}

func TestCallService_PersistenceTimeout(t *testing.T) {
	store := &mockStore{}
	store.On("DeliverPending", mock.Anything, mock.Anything).Return(nil, nil)
	store.On("CreateCallLog", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			<-args.Get(0).(context.Context).Done()
		}).
		Return(context.DeadlineExceeded)

	h := newHarness(t, store)
	h.calls.timeout = 20 * time.Millisecond
	h.connect(t, "x", "x-1")
	h.connect(t, "y", "y-1")

	_, result, err := h.calls.Initiate(context.Background(), Origin{UserID: "x", SessionID: "x-1"},
		&protocol.CallUser{To: "y", Offer: testOffer, CallType: models.CallTypeVideo})

	assert.Equal(t, PersistenceFailed, result)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeTimeout))
	assert.Len(t, h.emitter.named("x-1", protocol.EventCallFailed), 1)
}

func TestCallService_RelayOnlyEvents(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, setupTestDB(t))
	h.connect(t, "x", "x-1")
	h.connect(t, "y", "y-1")

	candidate := json.RawMessage(`{"candidate":"candidate:1 1 UDP 2122252543 10.0.0.1 54321 typ host","sdpMid":"0"}`)
	result, err := h.calls.RelayICECandidate(ctx, Origin{UserID: "x", SessionID: "x-1"},
		&protocol.ICECandidate{To: "y", Candidate: candidate, CallID: "call-1"})
	require.NoError(t, err)
	assert.Equal(t, Delivered, result)

	ice := h.emitter.named("y-1", protocol.EventICECandidate)
	require.Len(t, ice, 1)
	assert.JSONEq(t, string(candidate), string(ice[0].(protocol.ICECandidatePayload).Candidate))

	result, err = h.calls.Renegotiate(ctx, Origin{UserID: "y", SessionID: "y-1"},
		&protocol.RenegotiateCall{To: "x", Offer: testOffer, CallID: "call-1"})
	require.NoError(t, err)
	assert.Equal(t, Delivered, result)
	assert.Equal(t, protocol.RenegotiatePayload{From: "y", Offer: testOffer, CallID: "call-1"},
		h.emitter.named("x-1", protocol.EventRenegotiateCall)[0])

	result, err = h.calls.RelayICECandidate(ctx, Origin{UserID: "x", SessionID: "x-1"},
		&protocol.ICECandidate{To: "ghost", Candidate: candidate, CallID: "call-1"})
	assert.Equal(t, TargetOffline, result)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeTargetOffline))
}

func TestCallService_History(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	h := newHarness(t, db)
	h.connect(t, "x", "x-1")
	h.connect(t, "y", "y-1")

	first := startCall(t, h, models.CallTypeAudio)
	second := startCall(t, h, models.CallTypeVideo)

	views, err := h.calls.History(ctx, "y", 0)
	require.NoError(t, err)
	require.Len(t, views, 2)

	ids := []string{views[0].ID, views[1].ID}
	assert.ElementsMatch(t, []string{first, second}, ids)
	for _, v := range views {
		assert.Equal(t, "x", v.ReceiverID)
	}
}

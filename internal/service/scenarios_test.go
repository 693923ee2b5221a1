package service

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "ringrelay/internal/errors"
	"ringrelay/internal/models"
	"ringrelay/internal/protocol"
)

var testOffer = json.RawMessage(`{"type":"offer","sdp":"v=0"}`)

// startCall has x (session x-1) ring y and returns the call id
func startCall(t *testing.T, h *harness, callType models.CallType) string {
	t.Helper()

	callID, result, err := h.calls.Initiate(context.Background(),
		Origin{UserID: "x", SessionID: "x-1"},
		&protocol.CallUser{To: "y", Offer: testOffer, CallType: callType})
	require.NoError(t, err)
	require.Equal(t, Delivered, result)
	require.NotEmpty(t, callID)
	return callID
}

func lastCallLog(t *testing.T, h *harness, session string) models.CallLogView {
	t.Helper()

	logs := h.emitter.named(session, protocol.EventNewCallLog)
	require.NotEmpty(t, logs, "no newCallLog for %s", session)
	return logs[len(logs)-1].(models.CallLogView)
}

func TestScenario_CallToOfflineUser(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	h := newHarness(t, db)
	h.connect(t, "x", "x-1")

	callID, result, err := h.calls.Initiate(ctx,
		Origin{UserID: "x", SessionID: "x-1"},
		&protocol.CallUser{To: "y", Offer: testOffer, CallType: models.CallTypeVideo})

	assert.Empty(t, callID)
	assert.Equal(t, TargetOffline, result)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeTargetOffline))

	offline := h.emitter.named("x-1", protocol.EventUserOffline)
	require.Len(t, offline, 1)
	assert.Equal(t, protocol.UserOfflinePayload{UserID: "y"}, offline[0])

	logs, err := db.ListCallLogs(ctx, "x", 10)
	require.NoError(t, err)
	assert.Empty(t, logs, "no call log is written for an offline target")
	assert.Zero(t, h.emitter.count(protocol.EventIncomingCall))
}

func TestScenario_CallToOnlineUser(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	h := newHarness(t, db)
	h.connect(t, "x", "x-1")
	h.connect(t, "y", "y-1")
	h.connect(t, "y", "y-2")

	callID := startCall(t, h, models.CallTypeVideo)

	log, err := db.GetCallLog(ctx, callID)
	require.NoError(t, err)
	require.NotNil(t, log)
	assert.Equal(t, models.CallStatusMissed, log.Status)
	assert.Equal(t, "x", log.CallerID)
	assert.Equal(t, "y", log.CalleeID)

	for _, session := range []string{"y-1", "y-2"} {
		incoming := h.emitter.named(session, protocol.EventIncomingCall)
		require.Len(t, incoming, 1, session)
		payload := incoming[0].(protocol.IncomingCallPayload)
		assert.Equal(t, callID, payload.CallID)
		assert.Equal(t, "x", payload.From)
		assert.Equal(t, models.CallTypeVideo, payload.CallType)
		assert.JSONEq(t, string(testOffer), string(payload.Offer))
	}
	assert.Empty(t, h.emitter.named("x-1", protocol.EventIncomingCall))

	callerView := lastCallLog(t, h, "x-1")
	assert.Equal(t, models.CallStatusMissed, callerView.Status)
	assert.Equal(t, "y", callerView.ReceiverID)

	calleeView := lastCallLog(t, h, "y-2")
	assert.Equal(t, models.CallStatusMissed, calleeView.Status)
	assert.Equal(t, "x", calleeView.ReceiverID)
	assert.Equal(t, callID, calleeView.ID)
}

func TestScenario_HangupFinalizesMissedCall(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	h := newHarness(t, db)
	h.connect(t, "x", "x-1")
	h.connect(t, "y", "y-1")

	callID := startCall(t, h, models.CallTypeAudio)
	log, err := db.GetCallLog(ctx, callID)
	require.NoError(t, err)

	h.calls.now = func() time.Time { return log.CreatedAt.Add(42*time.Second + 700*time.Millisecond) }
	h.emitter.reset()

	result, err := h.calls.Hangup(ctx, Origin{UserID: "y", SessionID: "y-1"}, &protocol.Hangup{To: "x", CallID: callID})
	require.NoError(t, err)
	assert.Equal(t, Delivered, result)

	hangups := h.emitter.named("x-1", protocol.EventHangup)
	require.Len(t, hangups, 1)
	assert.Equal(t, protocol.CallPeerPayload{From: "y", CallID: callID}, hangups[0])

	log, err = db.GetCallLog(ctx, callID)
	require.NoError(t, err)
	assert.Equal(t, models.CallStatusAnswered, log.Status)
	assert.Equal(t, int64(42), log.Duration)

	for _, session := range []string{"x-1", "y-1"} {
		view := lastCallLog(t, h, session)
		assert.Equal(t, models.CallStatusAnswered, view.Status)
		assert.Equal(t, int64(42), view.Duration)
	}

	// A second hangup leaves the log alone and sends no further update.
	h.emitter.reset()
	_, err = h.calls.Hangup(ctx, Origin{UserID: "x", SessionID: "x-1"}, &protocol.Hangup{To: "y", CallID: callID})
	require.NoError(t, err)
	assert.Zero(t, h.emitter.count(protocol.EventNewCallLog))
}

func TestScenario_PendingMessageDeliveredOnConnect(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	h := newHarness(t, db)
	h.connect(t, "x", "x-1")

	msg, err := h.messages.SendMessage(ctx, SendMessageInput{SenderID: "x", ReceiverID: "y", Text: "hi"})
	require.NoError(t, err)
	assert.False(t, msg.Delivered)
	assert.Equal(t, "hi", msg.Text)
	assert.Zero(t, h.emitter.count(protocol.EventNewMessage))

	stored, err := db.GetMessage(ctx, msg.ID)
	require.NoError(t, err)
	assert.False(t, stored.Delivered)

	h.connect(t, "y", "y-1")

	stored, err = db.GetMessage(ctx, msg.ID)
	require.NoError(t, err)
	assert.True(t, stored.Delivered)
	assert.False(t, stored.Seen)

	delivered := h.emitter.named("x-1", protocol.EventMessagesDelivered)
	require.Len(t, delivered, 1)
	assert.Equal(t, protocol.MessagesDeliveredPayload{ReceiverID: "y"}, delivered[0])

	// A second device connecting finds nothing pending.
	h.connect(t, "y", "y-2")
	assert.Len(t, h.emitter.named("x-1", protocol.EventMessagesDelivered), 1)
}

func TestScenario_AnsweredOnOneDevice(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	h := newHarness(t, db)
	h.connect(t, "x", "x-1")
	h.connect(t, "y", "y-1")
	h.connect(t, "y", "y-2")

	callID := startCall(t, h, models.CallTypeVideo)
	h.emitter.reset()

	answer := json.RawMessage(`{"type":"answer","sdp":"v=0"}`)
	result, err := h.calls.Accept(ctx, Origin{UserID: "y", SessionID: "y-1"},
		&protocol.AnswerCall{To: "x", Answer: answer, CallID: callID})
	require.NoError(t, err)
	assert.Equal(t, Delivered, result)

	elsewhere := h.emitter.named("y-2", protocol.EventCallAnsweredElsewhere)
	require.Len(t, elsewhere, 1)
	assert.Equal(t, protocol.CallRefPayload{CallID: callID}, elsewhere[0])
	assert.Empty(t, h.emitter.named("y-1", protocol.EventCallAnsweredElsewhere))

	accepted := h.emitter.named("x-1", protocol.EventCallAccepted)
	require.Len(t, accepted, 1)
	assert.Equal(t, "y", accepted[0].(protocol.CallAcceptedPayload).From)

	log, err := db.GetCallLog(ctx, callID)
	require.NoError(t, err)
	assert.Equal(t, models.CallStatusMissed, log.Status, "accepting does not touch the log")
}

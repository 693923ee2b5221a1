package service

import (
	"context"
	"io"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"ringrelay/internal/database"
	"ringrelay/internal/models"
	"ringrelay/internal/presence"
	"ringrelay/internal/protocol"
)

const (
	testSecret  = "a-message-secret-that-is-long-enough-0123"
	broadcastID = "*"
)

type sentEvent struct {
	session string
	evt     protocol.Outbound
}

// recordingEmitter stands in for the hub: every session it is asked about is live
type recordingEmitter struct {
	mu   sync.Mutex
	sent []sentEvent
}

func (e *recordingEmitter) EmitTo(sessionIDs []string, evt protocol.Outbound) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, id := range sessionIDs {
		e.sent = append(e.sent, sentEvent{session: id, evt: evt})
	}
	return len(sessionIDs)
}

func (e *recordingEmitter) Broadcast(evt protocol.Outbound) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sent = append(e.sent, sentEvent{session: broadcastID, evt: evt})
}

// named returns the payloads of event sent to session, in order
func (e *recordingEmitter) named(session, event string) []any {
	e.mu.Lock()
	defer e.mu.Unlock()

	var out []any
	for _, s := range e.sent {
		if s.session == session && s.evt.Event == event {
			out = append(out, s.evt.Data)
		}
	}
	return out
}

func (e *recordingEmitter) count(event string) int {
	e.mu.Lock()
	defer e.mu.Unlock()

	n := 0
	for _, s := range e.sent {
		if s.evt.Event == event {
			n++
		}
	}
	return n
}

func (e *recordingEmitter) reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sent = nil
}

func newTestLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func setupTestDB(t *testing.T) *database.Database {
	t.Helper()

	cipher, err := database.NewMessageCipher(testSecret)
	require.NoError(t, err)

	db, err := database.New(models.DatabaseConfig{Path: filepath.Join(t.TempDir(), "ringrelay.db")}, cipher)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

// harness wires the realtime core the same way main does, over a given store
type harness struct {
	store    Store
	emitter  *recordingEmitter
	registry *presence.Registry
	relay    *Relay
	calls    *CallService
	messages *MessageService
	typing   *TypingRelay
	friends  *FriendService
	gateway  *Gateway
}

func newHarness(t *testing.T, store Store, opts ...MessageOption) *harness {
	t.Helper()

	logger := newTestLogger()
	emitter := &recordingEmitter{}
	registry := presence.NewRegistry(emitter, logger)
	relay := NewRelay(registry, emitter)
	logSync := NewCallLogSync(store, relay, logger)

	h := &harness{
		store:    store,
		emitter:  emitter,
		registry: registry,
		relay:    relay,
		calls:    NewCallService(store, relay, logSync, logger, time.Second),
		messages: NewMessageService(store, relay, logger, time.Second, opts...),
		typing:   NewTypingRelay(relay),
		friends:  NewFriendService(store, logger, time.Second),
	}
	h.gateway = NewGateway(store, registry, h.calls, h.messages, h.typing, logger, time.Second)
	registry.OnConnect(h.messages.OnConnect)
	return h
}

func (h *harness) connect(t *testing.T, userID, sessionID string) {
	t.Helper()
	require.NoError(t, h.registry.Register(context.Background(), userID, sessionID))
}

// mockStore is a testify mock of Store used for failure paths
type mockStore struct {
	mock.Mock
}

func (m *mockStore) FindConversation(ctx context.Context, userA, userB string) (*models.Conversation, error) {
	args := m.Called(ctx, userA, userB)
	conv, _ := args.Get(0).(*models.Conversation)
	return conv, args.Error(1)
}

func (m *mockStore) FindOrCreateConversation(ctx context.Context, userA, userB string) (*models.Conversation, error) {
	args := m.Called(ctx, userA, userB)
	conv, _ := args.Get(0).(*models.Conversation)
	return conv, args.Error(1)
}

func (m *mockStore) GetConversation(ctx context.Context, id string) (*models.Conversation, error) {
	args := m.Called(ctx, id)
	conv, _ := args.Get(0).(*models.Conversation)
	return conv, args.Error(1)
}

func (m *mockStore) SaveMessage(ctx context.Context, msg *models.Message) error {
	return m.Called(ctx, msg).Error(0)
}

func (m *mockStore) ListConversationMessages(ctx context.Context, conversationID string) ([]*models.Message, error) {
	args := m.Called(ctx, conversationID)
	msgs, _ := args.Get(0).([]*models.Message)
	return msgs, args.Error(1)
}

func (m *mockStore) MarkMessagesDelivered(ctx context.Context, conversationID, senderID, receiverID string) (int64, error) {
	args := m.Called(ctx, conversationID, senderID, receiverID)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockStore) MarkMessagesSeen(ctx context.Context, conversationID, senderID, receiverID string) (int64, error) {
	args := m.Called(ctx, conversationID, senderID, receiverID)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockStore) DeliverPending(ctx context.Context, receiverID string) ([]string, error) {
	args := m.Called(ctx, receiverID)
	senders, _ := args.Get(0).([]string)
	return senders, args.Error(1)
}

func (m *mockStore) CreateCallLog(ctx context.Context, log *models.CallLog) error {
	return m.Called(ctx, log).Error(0)
}

func (m *mockStore) GetCallLog(ctx context.Context, id string) (*models.CallLog, error) {
	args := m.Called(ctx, id)
	log, _ := args.Get(0).(*models.CallLog)
	return log, args.Error(1)
}

func (m *mockStore) UpdateCallStatus(ctx context.Context, id string, next models.CallStatus, duration int64) (bool, error) {
	args := m.Called(ctx, id, next, duration)
	return args.Bool(0), args.Error(1)
}

func (m *mockStore) GetPopulatedCallLog(ctx context.Context, id string) (*models.PopulatedCallLog, error) {
	args := m.Called(ctx, id)
	log, _ := args.Get(0).(*models.PopulatedCallLog)
	return log, args.Error(1)
}

func (m *mockStore) ListCallLogs(ctx context.Context, userID string, limit int) ([]*models.PopulatedCallLog, error) {
	args := m.Called(ctx, userID, limit)
	logs, _ := args.Get(0).([]*models.PopulatedCallLog)
	return logs, args.Error(1)
}

func (m *mockStore) UpsertUser(ctx context.Context, user *models.User) error {
	return m.Called(ctx, user).Error(0)
}

func (m *mockStore) SendFriendRequest(ctx context.Context, from, to string) error {
	return m.Called(ctx, from, to).Error(0)
}

func (m *mockStore) AcceptFriendRequest(ctx context.Context, userID, from string) error {
	return m.Called(ctx, userID, from).Error(0)
}

func (m *mockStore) ListFriends(ctx context.Context, userID string) ([]models.UserSummary, error) {
	args := m.Called(ctx, userID)
	friends, _ := args.Get(0).([]models.UserSummary)
	return friends, args.Error(1)
}

func (m *mockStore) ListFriendRequests(ctx context.Context, userID string) ([]models.FriendRequest, error) {
	args := m.Called(ctx, userID)
	requests, _ := args.Get(0).([]models.FriendRequest)
	return requests, args.Error(1)
}

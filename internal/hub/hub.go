// Package hub owns the websocket sessions of one process.
package hub

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"ringrelay/internal/auth"
	"ringrelay/internal/constants"
	"ringrelay/internal/privacy"
	"ringrelay/internal/protocol"
)

// Client identifies one authenticated session
type Client struct {
	SessionID string
	Identity  auth.Identity
}

func (c Client) UserID() string { return c.Identity.UserID }

// Dispatcher receives the lifecycle and inbound events of every session.
// Events of one session are dispatched sequentially in arrival order.
type Dispatcher interface {
	Connected(ctx context.Context, c Client) error
	Disconnected(ctx context.Context, c Client)
	Dispatch(ctx context.Context, c Client, in protocol.Inbound) protocol.AckPayload
}

// Authenticator resolves the identity of an upgrade request
type Authenticator interface {
	Authenticate(r *http.Request) (auth.Identity, error)
}

type Config struct {
	SendBufferSize int
	MaxFrameBytes  int
	WriteTimeout   time.Duration
	PingInterval   time.Duration
	OriginPatterns []string
	// SessionContext decorates the context every session's callbacks run under
	SessionContext func(context.Context) context.Context
}

func (c Config) withDefaults() Config {
	if c.SendBufferSize <= 0 {
		c.SendBufferSize = constants.DefaultSendBufferSize
	}
	if c.MaxFrameBytes <= 0 {
		c.MaxFrameBytes = constants.DefaultMaxFrameBytes
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = time.Duration(constants.DefaultWriteTimeoutSec) * time.Second
	}
	if c.PingInterval <= 0 {
		c.PingInterval = time.Duration(constants.DefaultPingIntervalSec) * time.Second
	}
	return c
}

type session struct {
	client    Client
	conn      *websocket.Conn
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func (s *session) close(code websocket.StatusCode, reason string) {
	s.closeOnce.Do(func() {
		close(s.done)
		_ = s.conn.Close(code, reason)
	})
}

// Hub tracks live sessions and fans events out to them
type Hub struct {
	cfg        Config
	logger     *logrus.Logger
	dispatcher Dispatcher

	baseCtx context.Context
	cancel  context.CancelFunc

	mu       sync.RWMutex
	sessions map[string]*session
	wg       sync.WaitGroup
}

func New(cfg Config, logger *logrus.Logger) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		cfg:      cfg.withDefaults(),
		logger:   logger,
		baseCtx:  ctx,
		cancel:   cancel,
		sessions: make(map[string]*session),
	}
}

// SetDispatcher installs the event handler. It must be called before serving.
func (h *Hub) SetDispatcher(d Dispatcher) {
	h.dispatcher = d
}

// Handler authenticates the upgrade request and serves the session
func (h *Hub) Handler(authn Authenticator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := authn.Authenticate(r)
		if err != nil {
			h.logger.WithError(err).Debug("Rejected websocket upgrade")
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		h.Serve(w, r, id)
	}
}

// Serve upgrades the request and blocks until the session ends
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, id auth.Identity) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.cfg.OriginPatterns,
	})
	if err != nil {
		h.logger.WithError(err).Warn("Failed to upgrade connection")
		return
	}
	conn.SetReadLimit(int64(h.cfg.MaxFrameBytes))

	s := &session{
		client: Client{SessionID: uuid.NewString(), Identity: id},
		conn:   conn,
		send:   make(chan []byte, h.cfg.SendBufferSize),
		done:   make(chan struct{}),
	}

	h.wg.Add(1)
	defer h.wg.Done()

	ctx, cancel := context.WithCancel(h.baseCtx)
	defer cancel()
	if h.cfg.SessionContext != nil {
		ctx = h.cfg.SessionContext(ctx)
	}

	logger := h.logger.WithFields(logrus.Fields{
		"user_id":    privacy.MaskUserID(id.UserID),
		"session_id": privacy.MaskSessionID(s.client.SessionID),
	})

	h.add(s)
	go h.writeLoop(ctx, s)

	if err := h.dispatcher.Connected(ctx, s.client); err != nil {
		logger.WithError(err).Error("Failed to register session")
		h.remove(s)
		s.close(websocket.StatusInternalError, "registration failed")
		return
	}
	logger.Info("Session connected")

	h.readLoop(ctx, s, logger)

	h.remove(s)
	s.close(websocket.StatusNormalClosure, "")

	cleanupCtx, cleanupCancel := context.WithTimeout(context.Background(), h.cfg.WriteTimeout)
	defer cleanupCancel()
	h.dispatcher.Disconnected(cleanupCtx, s.client)
	logger.Info("Session disconnected")
}

func (h *Hub) readLoop(ctx context.Context, s *session, logger *logrus.Entry) {
	for {
		typ, data, err := s.conn.Read(ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway || errors.Is(err, context.Canceled) {
				logger.Debug("Session closed by peer")
			} else {
				logger.WithError(err).Debug("Session read failed")
			}
			return
		}
		if typ != websocket.MessageText {
			logger.Warn("Ignoring binary frame")
			continue
		}

		frame, err := protocol.Decode(data)
		if err != nil {
			logger.WithError(err).Warn("Rejected inbound frame")
			if frame.Ack != 0 {
				h.enqueue(s, protocol.Reply(frame.Ack, protocol.AckPayload{Error: err.Error()}))
			}
			continue
		}

		reply := h.dispatcher.Dispatch(ctx, s.client, frame.Payload)
		if frame.Ack != 0 {
			h.enqueue(s, protocol.Reply(frame.Ack, reply))
		}
	}
}

func (h *Hub) writeLoop(ctx context.Context, s *session) {
	ticker := time.NewTicker(h.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.close(websocket.StatusGoingAway, "server shutting down")
			return
		case <-s.done:
			return
		case frame := <-s.send:
			wctx, cancel := context.WithTimeout(ctx, h.cfg.WriteTimeout)
			err := s.conn.Write(wctx, websocket.MessageText, frame)
			cancel()
			if err != nil {
				s.close(websocket.StatusInternalError, "write failed")
				return
			}
		case <-ticker.C:
			pctx, cancel := context.WithTimeout(ctx, h.cfg.WriteTimeout)
			err := s.conn.Ping(pctx)
			cancel()
			if err != nil {
				s.close(websocket.StatusPolicyViolation, "ping timeout")
				return
			}
		}
	}
}

// EmitTo queues evt on each listed session and returns how many accepted it.
// A session whose buffer is full is closed rather than silently skipped, so
// per-session ordering is never broken by a dropped frame.
func (h *Hub) EmitTo(sessionIDs []string, evt protocol.Outbound) int {
	if len(sessionIDs) == 0 {
		return 0
	}

	frame, err := json.Marshal(evt)
	if err != nil {
		h.logger.WithError(err).WithField("event", evt.Event).Error("Failed to encode outbound event")
		return 0
	}

	h.mu.RLock()
	targets := make([]*session, 0, len(sessionIDs))
	for _, id := range sessionIDs {
		if s, ok := h.sessions[id]; ok {
			targets = append(targets, s)
		}
	}
	h.mu.RUnlock()

	delivered := 0
	for _, s := range targets {
		if h.push(s, frame) {
			delivered++
		}
	}
	return delivered
}

// Broadcast queues evt on every session
func (h *Hub) Broadcast(evt protocol.Outbound) {
	h.mu.RLock()
	ids := make([]string, 0, len(h.sessions))
	for id := range h.sessions {
		ids = append(ids, id)
	}
	h.mu.RUnlock()

	h.EmitTo(ids, evt)
}

func (h *Hub) SessionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

// Close ends every session and waits for their handlers to return
func (h *Hub) Close(ctx context.Context) error {
	h.cancel()

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *Hub) enqueue(s *session, evt protocol.Outbound) {
	frame, err := json.Marshal(evt)
	if err != nil {
		h.logger.WithError(err).Error("Failed to encode reply")
		return
	}
	h.push(s, frame)
}

func (h *Hub) push(s *session, frame []byte) bool {
	select {
	case <-s.done:
		return false
	default:
	}

	select {
	case s.send <- frame:
		return true
	default:
		h.logger.WithField("session_id", privacy.MaskSessionID(s.client.SessionID)).Warn("Closing slow session")
		go s.close(websocket.StatusPolicyViolation, "send buffer full")
		return false
	}
}

func (h *Hub) add(s *session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sessions[s.client.SessionID] = s
}

func (h *Hub) remove(s *session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if current, ok := h.sessions[s.client.SessionID]; ok && current == s {
		delete(h.sessions, s.client.SessionID)
	}
}

package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/lalith-99/chatline/internal/chat"
	"github.com/lalith-99/chatline/internal/middleware"
	"github.com/lalith-99/chatline/internal/models"
	"github.com/lalith-99/chatline/internal/realtime"
	"go.uber.org/zap"
)

// Frame types on the socket.
const (
	frameSubscribe    = "subscribe"
	frameUnsubscribe  = "unsubscribe"
	frameMessage      = "message"
	frameSubscribed   = "subscribed"
	frameUnsubscribed = "unsubscribed"
	frameError        = "error"
)

type clientFrame struct {
	Type           string    `json:"type"`
	ConversationID uuid.UUID `json:"conversation_id"`
	Since          string    `json:"since,omitempty"`
	Body           string    `json:"body,omitempty"`
}

type serverFrame struct {
	Type           string           `json:"type"`
	ConversationID *uuid.UUID       `json:"conversation_id,omitempty"`
	Message        *messageResponse `json:"message,omitempty"`
	Next           string           `json:"next,omitempty"`
	Error          string           `json:"error,omitempty"`
	Status         int              `json:"status,omitempty"`
}

// SocketHandler serves GET /v1/ws: one persistent connection per client
// that can follow any number of conversations.
type SocketHandler struct {
	registry *chat.Registry
	log      *chat.Log
	hub      *realtime.Hub
	presence *realtime.Presence
	mediaURL string
	logger   *zap.Logger
	upgrader websocket.Upgrader

	// online counts the sockets following each (user, conversation) so
	// closing one tab does not take the user offline.
	onlineMu sync.Mutex
	online   map[presenceKey]int
}

type presenceKey struct {
	userID         uuid.UUID
	conversationID uuid.UUID
}

func NewSocketHandler(registry *chat.Registry, log *chat.Log, hub *realtime.Hub, presence *realtime.Presence, mediaURL string, logger *zap.Logger) *SocketHandler {
	return &SocketHandler{
		registry: registry,
		log:      log,
		hub:      hub,
		presence: presence,
		mediaURL: mediaURL,
		logger:   logger,
		online:   make(map[presenceKey]int),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Auth is by bearer token, never by cookie.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// Serve upgrades the request and runs the session until the client
// disconnects.
func (h *SocketHandler) Serve(c *gin.Context) {
	userID := middleware.GetUserID(c)

	ws, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		h.logger.Debug("websocket upgrade failed", zap.Error(err))
		return
	}

	conn := realtime.NewConnection(userID, ws)
	conn.Start()

	ctx, cancel := context.WithCancel(context.Background())
	s := &session{
		h:      h,
		conn:   conn,
		userID: userID,
		ctx:    ctx,
		subs:   make(map[uuid.UUID]*liveSub),
	}
	h.logger.Debug("socket connected", zap.String("user_id", userID.String()), zap.String("conn_id", conn.ID.String()))

	err = conn.ReadLoop(s.handleFrame, s.touch)
	cancel()
	s.closeAll()
	conn.Close(websocket.CloseNormalClosure, "")

	if err != nil {
		h.logger.Debug("socket read ended", zap.String("conn_id", conn.ID.String()), zap.Error(err))
	}
}

func (h *SocketHandler) join(userID, conversationID uuid.UUID) {
	h.onlineMu.Lock()
	defer h.onlineMu.Unlock()
	k := presenceKey{userID, conversationID}
	h.online[k]++
	h.presence.MarkOnline(userID, conversationID)
}

func (h *SocketHandler) part(userID, conversationID uuid.UUID) {
	h.onlineMu.Lock()
	defer h.onlineMu.Unlock()
	k := presenceKey{userID, conversationID}
	if h.online[k] > 1 {
		h.online[k]--
		return
	}
	delete(h.online, k)
	h.presence.MarkOffline(userID, conversationID)
}

type liveSub struct {
	sub      *realtime.Subscription
	presence bool
	stop     context.CancelFunc
}

type session struct {
	h      *SocketHandler
	conn   *realtime.Connection
	userID uuid.UUID
	ctx    context.Context

	mu   sync.Mutex
	subs map[uuid.UUID]*liveSub
}

func (s *session) handleFrame(data []byte) {
	var f clientFrame
	if err := json.Unmarshal(data, &f); err != nil {
		s.sendError(nil, http.StatusBadRequest, "malformed frame")
		return
	}
	if f.ConversationID == uuid.Nil {
		s.sendError(nil, http.StatusBadRequest, "conversation_id is required")
		return
	}

	switch f.Type {
	case frameSubscribe:
		s.subscribe(f.ConversationID, f.Since)
	case frameUnsubscribe:
		s.unsubscribe(f.ConversationID)
	case frameMessage:
		if _, err := s.h.log.Append(s.ctx, f.ConversationID, s.userID, f.Body, nil); err != nil {
			s.sendChatError(&f.ConversationID, err, "send message")
		}
	default:
		s.sendError(&f.ConversationID, http.StatusBadRequest, "unknown frame type "+f.Type)
	}
}

// subscribe registers with the hub first and backfills from the log
// second, so nothing committed in between is missed. The pump drops
// anything the backfill already covered.
func (s *session) subscribe(conversationID uuid.UUID, since string) {
	cursor, err := chat.ParseCursor(since)
	if err != nil {
		s.sendError(&conversationID, http.StatusBadRequest, "invalid since cursor")
		return
	}

	s.unsubscribe(conversationID)

	conv, err := s.h.registry.Resolve(s.ctx, conversationID)
	if err != nil {
		s.sendChatError(&conversationID, err, "subscribe")
		return
	}
	sub, err := s.h.hub.Subscribe(s.ctx, s.userID, conversationID)
	if err != nil {
		s.sendChatError(&conversationID, err, "subscribe")
		return
	}

	last := int64(cursor)
	for m, err := range s.h.log.Messages(s.ctx, conversationID, s.userID, cursor, chat.MaxPageSize) {
		if err != nil {
			sub.Close()
			s.sendChatError(&conversationID, err, "subscribe")
			return
		}
		if !s.deliver(s.ctx, m) {
			sub.Close()
			return
		}
		last = m.Seq
	}
	sub.Skip(last)

	ctx, stop := context.WithCancel(s.ctx)
	live := &liveSub{sub: sub, stop: stop, presence: conv.Kind != models.KindFriendPair}
	s.mu.Lock()
	s.subs[conversationID] = live
	s.mu.Unlock()

	if live.presence {
		s.h.join(s.userID, conversationID)
	}
	s.send(serverFrame{Type: frameSubscribed, ConversationID: &conversationID, Next: chat.Cursor(last).String()})

	go s.pump(ctx, live, last)
}

// pump forwards live messages in order. A jump in Seq means the hub
// dropped something for this subscriber; the gap is refilled from the
// log, page by page, before the newer message goes out.
func (s *session) pump(ctx context.Context, live *liveSub, last int64) {
	conversationID := live.sub.ConversationID
	for {
		m, err := live.sub.Next(ctx)
		if err != nil {
			// A closed subscription with a live ctx was closed by the
			// server side: the user left or the conversation is gone.
			if errors.Is(err, realtime.ErrSubscriptionClosed) && ctx.Err() == nil {
				s.forget(conversationID, live)
				s.send(serverFrame{Type: frameUnsubscribed, ConversationID: &conversationID})
			}
			return
		}
		if m.Seq <= last {
			continue
		}
		if m.Seq > last+1 {
			var ok bool
			if last, ok = s.refill(ctx, conversationID, last, m.Seq); !ok {
				return
			}
		}
		if !s.push(m) {
			return
		}
		last = m.Seq
	}
}

// refill sends everything after last and before upTo from the log,
// waiting on the writer. It reports the last Seq sent and false once
// the connection is gone.
func (s *session) refill(ctx context.Context, conversationID uuid.UUID, last, upTo int64) (int64, bool) {
	for last < upTo-1 {
		page, err := s.h.log.ListSince(ctx, conversationID, s.userID, chat.Cursor(last), chat.MaxPageSize)
		if err != nil {
			s.h.logger.Warn("gap refill failed",
				zap.String("conversation_id", conversationID.String()),
				zap.Int64("after", last),
				zap.Error(err),
			)
			return last, ctx.Err() == nil
		}
		if len(page.Messages) == 0 {
			return last, true
		}
		for _, gm := range page.Messages {
			if gm.Seq >= upTo {
				return last, true
			}
			if !s.deliver(ctx, gm) {
				return last, false
			}
			last = gm.Seq
		}
	}
	return last, true
}

func (s *session) unsubscribe(conversationID uuid.UUID) {
	s.mu.Lock()
	live, ok := s.subs[conversationID]
	delete(s.subs, conversationID)
	s.mu.Unlock()
	if !ok {
		return
	}
	s.release(live)
	s.send(serverFrame{Type: frameUnsubscribed, ConversationID: &conversationID})
}

// forget drops a subscription the server side closed (leave or delete).
func (s *session) forget(conversationID uuid.UUID, live *liveSub) {
	s.mu.Lock()
	if s.subs[conversationID] == live {
		delete(s.subs, conversationID)
	}
	s.mu.Unlock()
	s.release(live)
}

func (s *session) release(live *liveSub) {
	live.stop()
	live.sub.Close()
	if live.presence {
		s.h.part(s.userID, live.sub.ConversationID)
	}
}

func (s *session) closeAll() {
	s.mu.Lock()
	all := s.subs
	s.subs = make(map[uuid.UUID]*liveSub)
	s.mu.Unlock()
	for _, live := range all {
		s.release(live)
	}
}

// touch runs on every pong and keeps the user's presence fresh in each
// followed room.
func (s *session) touch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, live := range s.subs {
		if live.presence {
			s.h.presence.Touch(s.userID, id)
		}
	}
}

func messageFrame(mediaURL string, m models.Message) serverFrame {
	resp := presentMessage(mediaURL, m)
	id := m.ConversationID
	return serverFrame{Type: frameMessage, ConversationID: &id, Message: &resp}
}

// deliver sends a message from history, waiting for buffer space.
func (s *session) deliver(ctx context.Context, m models.Message) bool {
	payload, ok := s.encode(messageFrame(s.h.mediaURL, m))
	return ok && s.conn.SendWait(ctx, payload) == nil
}

// push sends a live message. A client that cannot keep up is dropped
// and catches up with ListSince on reconnect.
func (s *session) push(m models.Message) bool {
	payload, ok := s.encode(messageFrame(s.h.mediaURL, m))
	return ok && s.conn.Send(payload) == nil
}

func (s *session) sendChatError(conversationID *uuid.UUID, err error, action string) {
	status := statusFor(err)
	if status == 0 {
		s.h.logger.Error("socket "+action+" failed", zap.Error(err))
		s.sendError(conversationID, http.StatusInternalServerError, "failed to "+action)
		return
	}
	s.sendError(conversationID, status, errorMessage(err))
}

func (s *session) sendError(conversationID *uuid.UUID, status int, msg string) {
	s.send(serverFrame{Type: frameError, ConversationID: conversationID, Status: status, Error: msg})
}

// send writes a control frame. Control frames answer the client and
// wait for buffer space like history does.
func (s *session) send(f serverFrame) bool {
	payload, ok := s.encode(f)
	return ok && s.conn.SendWait(s.ctx, payload) == nil
}

func (s *session) encode(f serverFrame) ([]byte, bool) {
	payload, err := json.Marshal(f)
	if err != nil {
		s.h.logger.Error("encode frame", zap.Error(err))
		return nil, false
	}
	return payload, true
}

// Package realtime delivers committed messages to live subscribers and
// tracks who is online in which conversation.
package realtime

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/lalith-99/chatline/internal/models"
	"go.uber.org/zap"
)

// ErrSubscriptionClosed is returned by Next once the subscription has
// been closed, by the caller or by a leave/delete.
var ErrSubscriptionClosed = errors.New("realtime: subscription closed")

// Authorizer resolves a conversation and checks membership.
// *chat.Registry satisfies it.
type Authorizer interface {
	Authorize(ctx context.Context, userID, conversationID uuid.UUID) (*models.Conversation, error)
}

// Hub fans committed messages out to subscriptions on this node.
type Hub struct {
	auth   Authorizer
	depth  int
	logger *zap.Logger

	mu     sync.RWMutex
	byConv map[uuid.UUID]map[*Subscription]struct{}

	dropped atomic.Int64
}

func NewHub(auth Authorizer, queueDepth int, logger *zap.Logger) *Hub {
	if queueDepth <= 0 {
		queueDepth = 64
	}
	return &Hub{
		auth:   auth,
		depth:  queueDepth,
		logger: logger,
		byConv: make(map[uuid.UUID]map[*Subscription]struct{}),
	}
}

// Subscribe registers userID for live messages of conversationID.
// Non-members get the authorizer's error (chat.ErrUnauthorized).
//
// Messages committed before the subscription existed are not delivered;
// callers backfill with the message log after subscribing.
func (h *Hub) Subscribe(ctx context.Context, userID, conversationID uuid.UUID) (*Subscription, error) {
	if _, err := h.auth.Authorize(ctx, userID, conversationID); err != nil {
		return nil, err
	}
	sub := &Subscription{
		ConversationID: conversationID,
		UserID:         userID,
		hub:            h,
		ch:             make(chan models.Message, h.depth),
		done:           make(chan struct{}),
	}

	h.mu.Lock()
	set := h.byConv[conversationID]
	if set == nil {
		set = make(map[*Subscription]struct{})
		h.byConv[conversationID] = set
	}
	set[sub] = struct{}{}
	h.mu.Unlock()

	return sub, nil
}

// Unsubscribe removes sub. Safe to call more than once.
func (h *Hub) Unsubscribe(sub *Subscription) {
	h.mu.Lock()
	if set := h.byConv[sub.ConversationID]; set != nil {
		delete(set, sub)
		if len(set) == 0 {
			delete(h.byConv, sub.ConversationID)
		}
	}
	h.mu.Unlock()
	sub.shut()
}

// Publish pushes msg to every subscription of its conversation without
// blocking. A subscriber whose queue is full misses the message; it can
// recover it with the log's ListSince.
func (h *Hub) Publish(msg models.Message) {
	h.mu.RLock()
	set := h.byConv[msg.ConversationID]
	subs := make([]*Subscription, 0, len(set))
	for s := range set {
		subs = append(subs, s)
	}
	h.mu.RUnlock()

	for _, s := range subs {
		if s.offer(msg) == offerDropped {
			n := h.dropped.Add(1)
			h.logger.Debug("subscriber queue full, message dropped",
				zap.String("conversation_id", msg.ConversationID.String()),
				zap.String("user_id", s.UserID.String()),
				zap.Int64("seq", msg.Seq),
				zap.Int64("dropped_total", n),
			)
		}
	}
}

// Dropped is the number of deliveries lost to saturated queues.
func (h *Hub) Dropped() int64 { return h.dropped.Load() }

// Subscribers reports how many live subscriptions conversationID has.
func (h *Hub) Subscribers(conversationID uuid.UUID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.byConv[conversationID])
}

// MemberLeft closes userID's subscriptions to conversationID.
func (h *Hub) MemberLeft(conversationID, userID uuid.UUID) {
	h.closeWhere(conversationID, func(s *Subscription) bool { return s.UserID == userID })
}

// ConversationDeleted closes every subscription to conversationID.
func (h *Hub) ConversationDeleted(conversationID uuid.UUID) {
	h.closeWhere(conversationID, func(*Subscription) bool { return true })
}

// Close shuts every subscription down.
func (h *Hub) Close() {
	h.mu.Lock()
	all := h.byConv
	h.byConv = make(map[uuid.UUID]map[*Subscription]struct{})
	h.mu.Unlock()

	for _, set := range all {
		for s := range set {
			s.shut()
		}
	}
}

func (h *Hub) closeWhere(conversationID uuid.UUID, match func(*Subscription) bool) {
	var closing []*Subscription

	h.mu.Lock()
	set := h.byConv[conversationID]
	for s := range set {
		if match(s) {
			delete(set, s)
			closing = append(closing, s)
		}
	}
	if len(set) == 0 {
		delete(h.byConv, conversationID)
	}
	h.mu.Unlock()

	for _, s := range closing {
		s.shut()
	}
}

type offerResult int

const (
	offerDelivered offerResult = iota
	offerStale
	offerDropped
)

// Subscription is one subscriber's view of a conversation's live
// messages. Messages arrive in strictly increasing Seq order; a message
// with a Seq at or below the last delivered one is discarded.
type Subscription struct {
	ConversationID uuid.UUID
	UserID         uuid.UUID

	hub  *Hub
	ch   chan models.Message
	done chan struct{}

	mu      sync.Mutex
	lastSeq int64
	closed  bool
}

// Next waits for the next message. It returns ctx.Err() if ctx ends
// first, leaving the subscription intact, and ErrSubscriptionClosed once
// the subscription is closed.
func (s *Subscription) Next(ctx context.Context) (models.Message, error) {
	select {
	case msg := <-s.ch:
		return msg, nil
	default:
	}
	select {
	case msg := <-s.ch:
		return msg, nil
	case <-s.done:
		return models.Message{}, ErrSubscriptionClosed
	case <-ctx.Done():
		return models.Message{}, fmt.Errorf("wait for message: %w", ctx.Err())
	}
}

// C exposes the delivery queue for select loops.
func (s *Subscription) C() <-chan models.Message { return s.ch }

// Done is closed when the subscription ends.
func (s *Subscription) Done() <-chan struct{} { return s.done }

// Close unsubscribes. Always succeeds.
func (s *Subscription) Close() { s.hub.Unsubscribe(s) }

// Skip marks every Seq up to seq as already seen, so a live message the
// subscriber has obtained through backfill is not delivered twice.
func (s *Subscription) Skip(seq int64) {
	s.mu.Lock()
	if seq > s.lastSeq {
		s.lastSeq = seq
	}
	s.mu.Unlock()
}

func (s *Subscription) offer(msg models.Message) offerResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || msg.Seq <= s.lastSeq {
		return offerStale
	}
	select {
	case s.ch <- msg:
		s.lastSeq = msg.Seq
		return offerDelivered
	default:
		return offerDropped
	}
}

func (s *Subscription) shut() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.done)
}

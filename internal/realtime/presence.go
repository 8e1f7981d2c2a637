package realtime

import (
	"bytes"
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Presence tracks which users are online in which rooms and groups.
// State lives only in this process and is lost on restart.
type Presence struct {
	timeout time.Duration
	now     func() time.Time
	logger  *zap.Logger

	mu    sync.Mutex
	rooms map[uuid.UUID]map[uuid.UUID]time.Time // room -> user -> last seen
}

func NewPresence(timeout time.Duration, logger *zap.Logger) *Presence {
	return &Presence{
		timeout: timeout,
		now:     time.Now,
		logger:  logger,
		rooms:   make(map[uuid.UUID]map[uuid.UUID]time.Time),
	}
}

// MarkOnline is idempotent; a repeat call only refreshes liveness.
func (p *Presence) MarkOnline(userID, roomID uuid.UUID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	users := p.rooms[roomID]
	if users == nil {
		users = make(map[uuid.UUID]time.Time)
		p.rooms[roomID] = users
	}
	users[userID] = p.now()
}

// MarkOffline is idempotent.
func (p *Presence) MarkOffline(userID, roomID uuid.UUID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.removeLocked(userID, roomID)
}

// Touch refreshes liveness for a user already online in roomID.
func (p *Presence) Touch(userID, roomID uuid.UUID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if users := p.rooms[roomID]; users != nil {
		if _, ok := users[userID]; ok {
			users[userID] = p.now()
		}
	}
}

func (p *Presence) OnlineCount(roomID uuid.UUID) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.rooms[roomID])
}

func (p *Presence) IsOnline(userID, roomID uuid.UUID) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.rooms[roomID][userID]
	return ok
}

// Online lists the users online in roomID in a stable order.
func (p *Presence) Online(roomID uuid.UUID) []uuid.UUID {
	p.mu.Lock()
	out := make([]uuid.UUID, 0, len(p.rooms[roomID]))
	for u := range p.rooms[roomID] {
		out = append(out, u)
	}
	p.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return bytes.Compare(out[i][:], out[j][:]) < 0 })
	return out
}

// Sweep marks offline every entry not refreshed within the timeout as
// of now. It returns the number of entries removed.
func (p *Presence) Sweep(now time.Time) int {
	if p.timeout <= 0 {
		return 0
	}
	cutoff := now.Add(-p.timeout)
	removed := 0

	p.mu.Lock()
	defer p.mu.Unlock()
	for roomID, users := range p.rooms {
		for userID, seen := range users {
			if seen.Before(cutoff) {
				delete(users, userID)
				removed++
			}
		}
		if len(users) == 0 {
			delete(p.rooms, roomID)
		}
	}
	return removed
}

// Run sweeps until ctx is done. The interval is half the timeout so an
// entry never outlives it by more than that.
func (p *Presence) Run(ctx context.Context) {
	if p.timeout <= 0 {
		return
	}
	ticker := time.NewTicker(p.timeout / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := p.Sweep(p.now()); n > 0 {
				p.logger.Debug("presence sweep", zap.Int("expired", n))
			}
		}
	}
}

// MemberLeft forgets the user's presence in the conversation.
func (p *Presence) MemberLeft(conversationID, userID uuid.UUID) {
	p.MarkOffline(userID, conversationID)
}

// ConversationDeleted forgets the whole room.
func (p *Presence) ConversationDeleted(conversationID uuid.UUID) {
	p.mu.Lock()
	delete(p.rooms, conversationID)
	p.mu.Unlock()
}

func (p *Presence) removeLocked(userID, roomID uuid.UUID) {
	users := p.rooms[roomID]
	if users == nil {
		return
	}
	delete(users, userID)
	if len(users) == 0 {
		delete(p.rooms, roomID)
	}
}

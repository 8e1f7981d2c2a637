package memory

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lalith-99/chatline/internal/chat"
	"github.com/lalith-99/chatline/internal/models"
)

type MessageStore struct {
	db *DB
}

func NewMessageStore(db *DB) *MessageStore {
	return &MessageStore{db: db}
}

// Append bumps the conversation's LastSeq and stores the message under
// the same write lock, which is the in-memory equivalent of the
// row-locked UPDATE ... RETURNING in the Postgres store.
func (s *MessageStore) Append(ctx context.Context, msg *models.Message) (*models.Message, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	c, ok := s.db.conversations[msg.ConversationID]
	if !ok {
		return nil, fmt.Errorf("append message: %w", chat.ErrNotFound)
	}
	c.LastSeq++

	stored := *msg
	stored.ID = uuid.New()
	stored.Seq = c.LastSeq
	stored.CreatedAt = time.Now().UTC()
	if msg.Attachment != nil {
		a := *msg.Attachment
		stored.Attachment = &a
	}
	s.db.messages[msg.ConversationID] = append(s.db.messages[msg.ConversationID], stored)

	out := stored
	return &out, nil
}

func (s *MessageStore) ListSince(ctx context.Context, conversationID uuid.UUID, after int64, limit int) ([]models.Message, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()

	log := s.db.messages[conversationID]
	out := make([]models.Message, 0)
	// Seq values are 1..n in slice order, so the first candidate is at
	// index after.
	start := int(after)
	if start < 0 {
		start = 0
	}
	for i := start; i < len(log) && len(out) < limit; i++ {
		out = append(out, log[i])
	}
	return out, nil
}

func (s *MessageStore) AttachmentInUse(ctx context.Context, key string) (bool, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()
	for _, log := range s.db.messages {
		for _, m := range log {
			if m.Attachment != nil && m.Attachment.Key == key {
				return true, nil
			}
		}
	}
	for _, k := range s.db.previews {
		if k == key {
			return true, nil
		}
	}
	return false, nil
}

func (s *MessageStore) ConversationsWithAttachment(ctx context.Context, key string) ([]uuid.UUID, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()
	out := make([]uuid.UUID, 0)
	for conversationID, log := range s.db.messages {
		for _, m := range log {
			if m.Attachment != nil && m.Attachment.Key == key {
				out = append(out, conversationID)
				break
			}
		}
	}
	return out, nil
}

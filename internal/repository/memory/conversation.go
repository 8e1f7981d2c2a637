package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/lalith-99/chatline/internal/chat"
	"github.com/lalith-99/chatline/internal/models"
)

type ConversationStore struct {
	db *DB
}

func NewConversationStore(db *DB) *ConversationStore {
	return &ConversationStore{db: db}
}

func (s *ConversationStore) CreateRoom(ctx context.Context, ownerID uuid.UUID, name, showName, about string) (*models.Conversation, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	if _, taken := s.db.roomNames[name]; taken {
		return nil, fmt.Errorf("insert room %q: %w", name, chat.ErrConflict)
	}
	owner := ownerID
	now := time.Now().UTC()
	c := &models.Conversation{
		ID:        uuid.New(),
		Kind:      models.KindRoom,
		Name:      name,
		ShowName:  showName,
		About:     about,
		OwnerID:   &owner,
		CreatedAt: now,
	}
	s.db.conversations[c.ID] = c
	s.db.roomNames[name] = c.ID
	s.db.members[c.ID] = map[uuid.UUID]models.Member{
		ownerID: {ConversationID: c.ID, UserID: ownerID, Role: models.RoleOwner, JoinedAt: now},
	}
	return cloneConversation(c), nil
}

func (s *ConversationStore) CreateGroup(ctx context.Context, ownerID uuid.UUID, name, about string, memberIDs []uuid.UUID) (*models.Conversation, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	owner := ownerID
	now := time.Now().UTC()
	c := &models.Conversation{
		ID:        uuid.New(),
		Kind:      models.KindGroup,
		Name:      name,
		ShowName:  name,
		About:     about,
		OwnerID:   &owner,
		CreatedAt: now,
	}
	members := map[uuid.UUID]models.Member{
		ownerID: {ConversationID: c.ID, UserID: ownerID, Role: models.RoleOwner, JoinedAt: now},
	}
	for _, id := range memberIDs {
		if _, ok := members[id]; ok {
			continue
		}
		members[id] = models.Member{ConversationID: c.ID, UserID: id, Role: models.RoleMember, JoinedAt: now}
	}
	s.db.conversations[c.ID] = c
	s.db.members[c.ID] = members
	return cloneConversation(c), nil
}

func (s *ConversationStore) EnsureFriendPair(ctx context.Context, a, b uuid.UUID) (*models.Conversation, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	key := [2]uuid.UUID{a, b}
	if id, ok := s.db.pairs[key]; ok {
		return cloneConversation(s.db.conversations[id]), nil
	}
	ua, ub := a, b
	c := &models.Conversation{
		ID:        uuid.New(),
		Kind:      models.KindFriendPair,
		UserA:     &ua,
		UserB:     &ub,
		CreatedAt: time.Now().UTC(),
	}
	s.db.conversations[c.ID] = c
	s.db.pairs[key] = c.ID
	return cloneConversation(c), nil
}

func (s *ConversationStore) GetByID(ctx context.Context, conversationID uuid.UUID) (*models.Conversation, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()
	c, ok := s.db.conversations[conversationID]
	if !ok {
		return nil, nil
	}
	return cloneConversation(c), nil
}

func (s *ConversationStore) ListForUser(ctx context.Context, userID uuid.UUID) ([]models.Conversation, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()

	out := make([]models.Conversation, 0)
	for id, c := range s.db.conversations {
		if c.Kind == models.KindFriendPair {
			if c.IsPairMember(userID) {
				out = append(out, *c)
			}
			continue
		}
		if _, ok := s.db.members[id][userID]; ok {
			out = append(out, *c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *ConversationStore) Delete(ctx context.Context, conversationID uuid.UUID) ([]string, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	c, ok := s.db.conversations[conversationID]
	if !ok {
		return nil, fmt.Errorf("delete conversation: %w", chat.ErrNotFound)
	}

	keys := make([]string, 0)
	for _, m := range s.db.messages[conversationID] {
		if m.Attachment != nil {
			keys = append(keys, m.Attachment.Key)
		}
	}

	delete(s.db.messages, conversationID)
	delete(s.db.members, conversationID)
	delete(s.db.conversations, conversationID)
	switch c.Kind {
	case models.KindRoom:
		delete(s.db.roomNames, c.Name)
	case models.KindFriendPair:
		delete(s.db.pairs, [2]uuid.UUID{*c.UserA, *c.UserB})
	}
	return keys, nil
}

package memory

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/lalith-99/chatline/internal/models"
)

type MembershipStore struct {
	db *DB
}

func NewMembershipStore(db *DB) *MembershipStore {
	return &MembershipStore{db: db}
}

func (s *MembershipStore) AddMember(ctx context.Context, conversationID, userID uuid.UUID, role string) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	set, ok := s.db.members[conversationID]
	if !ok {
		set = make(map[uuid.UUID]models.Member)
		s.db.members[conversationID] = set
	}
	if _, exists := set[userID]; exists {
		return nil
	}
	set[userID] = models.Member{
		ConversationID: conversationID,
		UserID:         userID,
		Role:           role,
		JoinedAt:       time.Now().UTC(),
	}
	return nil
}

func (s *MembershipStore) RemoveMember(ctx context.Context, conversationID, userID uuid.UUID) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	delete(s.db.members[conversationID], userID)
	return nil
}

func (s *MembershipStore) ListMembers(ctx context.Context, conversationID uuid.UUID) ([]models.Member, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()

	members := make([]models.Member, 0, len(s.db.members[conversationID]))
	for _, m := range s.db.members[conversationID] {
		members = append(members, m)
	}
	sort.Slice(members, func(i, j int) bool { return members[i].JoinedAt.Before(members[j].JoinedAt) })
	return members, nil
}

func (s *MembershipStore) IsMember(ctx context.Context, conversationID, userID uuid.UUID) (bool, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()
	_, ok := s.db.members[conversationID][userID]
	return ok, nil
}

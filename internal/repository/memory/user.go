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

type UserStore struct {
	db *DB
}

func NewUserStore(db *DB) *UserStore {
	return &UserStore{db: db}
}

func (s *UserStore) Create(ctx context.Context, email, displayName, passwordHash string) (*models.User, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	for _, u := range s.db.users {
		if u.Email == email {
			return nil, fmt.Errorf("insert user: %w", chat.ErrConflict)
		}
	}
	u := &models.User{
		ID:           uuid.New(),
		Email:        email,
		DisplayName:  displayName,
		PasswordHash: passwordHash,
		CreatedAt:    time.Now().UTC(),
	}
	s.db.users[u.ID] = u
	cp := *u
	return &cp, nil
}

func (s *UserStore) GetByID(ctx context.Context, userID uuid.UUID) (*models.User, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()
	u, ok := s.db.users[userID]
	if !ok {
		return nil, nil
	}
	cp := *u
	return &cp, nil
}

func (s *UserStore) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()
	for _, u := range s.db.users {
		if u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, nil
}

type FriendRequestStore struct {
	db *DB
}

func NewFriendRequestStore(db *DB) *FriendRequestStore {
	return &FriendRequestStore{db: db}
}

func (s *FriendRequestStore) Create(ctx context.Context, req *models.FriendRequest) (*models.FriendRequest, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	stored := *req
	stored.ID = uuid.New()
	stored.Status = models.RequestPending
	stored.CreatedAt = time.Now().UTC()
	s.db.requests[stored.ID] = &stored
	out := stored
	return &out, nil
}

func (s *FriendRequestStore) GetByID(ctx context.Context, requestID uuid.UUID) (*models.FriendRequest, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()
	r, ok := s.db.requests[requestID]
	if !ok {
		return nil, nil
	}
	out := *r
	return &out, nil
}

func (s *FriendRequestStore) ListIncoming(ctx context.Context, userID uuid.UUID) ([]models.FriendRequest, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()
	out := make([]models.FriendRequest, 0)
	for _, r := range s.db.requests {
		if r.ToUser == userID && r.Status == models.RequestPending {
			out = append(out, *r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *FriendRequestStore) SetStatus(ctx context.Context, requestID uuid.UUID, status models.FriendRequestStatus) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	r, ok := s.db.requests[requestID]
	if !ok {
		return fmt.Errorf("update friend request: %w", chat.ErrNotFound)
	}
	r.Status = status
	return nil
}

type LinkStore struct {
	db *DB
}

func NewLinkStore(db *DB) *LinkStore {
	return &LinkStore{db: db}
}

func (s *LinkStore) Create(ctx context.Context, userID uuid.UUID, url, name string) (*models.Link, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	l := &models.Link{
		ID:        uuid.New(),
		UserID:    userID,
		URL:       url,
		Name:      name,
		CreatedAt: time.Now().UTC(),
	}
	s.db.links[l.ID] = l
	out := *l
	out.PreviewKey = s.db.previews[url]
	return &out, nil
}

func (s *LinkStore) ListByUser(ctx context.Context, userID uuid.UUID) ([]models.Link, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()
	out := make([]models.Link, 0)
	for _, l := range s.db.links {
		if l.UserID != userID {
			continue
		}
		cp := *l
		cp.PreviewKey = s.db.previews[l.URL]
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *LinkStore) GetPreview(ctx context.Context, url string) (string, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()
	return s.db.previews[url], nil
}

func (s *LinkStore) SavePreview(ctx context.Context, url, key string) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	s.db.previews[url] = key
	return nil
}

func (s *LinkStore) PreviewInUse(ctx context.Context, key string) (bool, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()
	for _, k := range s.db.previews {
		if k == key {
			return true, nil
		}
	}
	return false, nil
}

// Package memory implements the repository interfaces on in-process maps.
// Handlers and services are tested against it instead of Postgres; it
// honours the same contracts, including the per-conversation sequencer.
package memory

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/lalith-99/chatline/internal/models"
	"github.com/lalith-99/chatline/internal/repository"
)

var (
	_ repository.UserRepository          = (*UserStore)(nil)
	_ repository.ConversationRepository  = (*ConversationStore)(nil)
	_ repository.MembershipRepository    = (*MembershipStore)(nil)
	_ repository.MessageRepository       = (*MessageStore)(nil)
	_ repository.FriendRequestRepository = (*FriendRequestStore)(nil)
	_ repository.LinkRepository          = (*LinkStore)(nil)
	_ repository.BlobLocker              = (*BlobLocks)(nil)
)

// DB is the shared state behind all memory stores, so that cascades
// (deleting a conversation removes its messages) behave as they do in
// Postgres.
type DB struct {
	mu sync.RWMutex

	users         map[uuid.UUID]*models.User
	conversations map[uuid.UUID]*models.Conversation
	roomNames     map[string]uuid.UUID
	pairs         map[[2]uuid.UUID]uuid.UUID
	members       map[uuid.UUID]map[uuid.UUID]models.Member
	messages      map[uuid.UUID][]models.Message
	requests      map[uuid.UUID]*models.FriendRequest
	links         map[uuid.UUID]*models.Link
	previews      map[string]string
}

func New() *DB {
	return &DB{
		users:         make(map[uuid.UUID]*models.User),
		conversations: make(map[uuid.UUID]*models.Conversation),
		roomNames:     make(map[string]uuid.UUID),
		pairs:         make(map[[2]uuid.UUID]uuid.UUID),
		members:       make(map[uuid.UUID]map[uuid.UUID]models.Member),
		messages:      make(map[uuid.UUID][]models.Message),
		requests:      make(map[uuid.UUID]*models.FriendRequest),
		links:         make(map[uuid.UUID]*models.Link),
		previews:      make(map[string]string),
	}
}

// Stores bundles one of each store over the same DB.
type Stores struct {
	Users          *UserStore
	Conversations  *ConversationStore
	Memberships    *MembershipStore
	Messages       *MessageStore
	FriendRequests *FriendRequestStore
	Links          *LinkStore
	BlobLocks      *BlobLocks
}

func NewStores() *Stores {
	db := New()
	return &Stores{
		Users:          &UserStore{db: db},
		Conversations:  &ConversationStore{db: db},
		Memberships:    &MembershipStore{db: db},
		Messages:       &MessageStore{db: db},
		FriendRequests: &FriendRequestStore{db: db},
		Links:          &LinkStore{db: db},
		BlobLocks:      NewBlobLocks(),
	}
}

func cloneConversation(c *models.Conversation) *models.Conversation {
	cp := *c
	return &cp
}

// BlobLocks is the in-process BlobLocker: one mutex per key, forgotten
// once nobody holds or waits for it.
type BlobLocks struct {
	mu sync.Mutex
	m  map[string]*blobLock
}

type blobLock struct {
	ch   chan struct{}
	refs int
}

func NewBlobLocks() *BlobLocks {
	return &BlobLocks{m: make(map[string]*blobLock)}
}

// LockBlob waits for key's lock or for ctx to end.
func (b *BlobLocks) LockBlob(ctx context.Context, key string) (func(), error) {
	b.mu.Lock()
	l, ok := b.m[key]
	if !ok {
		l = &blobLock{ch: make(chan struct{}, 1)}
		b.m[key] = l
	}
	l.refs++
	b.mu.Unlock()

	select {
	case l.ch <- struct{}{}:
	case <-ctx.Done():
		b.forget(key, l)
		return nil, ctx.Err()
	}
	return func() {
		<-l.ch
		b.forget(key, l)
	}, nil
}

func (b *BlobLocks) forget(key string, l *blobLock) {
	b.mu.Lock()
	l.refs--
	if l.refs == 0 {
		delete(b.m, key)
	}
	b.mu.Unlock()
}

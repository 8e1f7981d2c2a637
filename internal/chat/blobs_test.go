package chat_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/lalith-99/chatline/internal/chat"
	"github.com/lalith-99/chatline/internal/models"
	"github.com/lalith-99/chatline/internal/repository"
	"github.com/lalith-99/chatline/internal/repository/memory"
	"github.com/lalith-99/chatline/internal/storage"
	"github.com/lalith-99/chatline/internal/testutil"
)

// pausingStore parks the next Put after the bytes are stored, once armed.
type pausingStore struct {
	*storage.MemoryStore
	armed  atomic.Bool
	stored chan struct{}
	resume chan struct{}
}

func (s *pausingStore) Put(ctx context.Context, r io.Reader, declaredMime string) (string, int64, error) {
	key, size, err := s.MemoryStore.Put(ctx, r, declaredMime)
	if s.armed.CompareAndSwap(true, false) {
		s.stored <- struct{}{}
		<-s.resume
	}
	return key, size, err
}

// pausingMessages parks the next Append before it commits, once armed.
type pausingMessages struct {
	repository.MessageRepository
	armed   atomic.Bool
	entered chan struct{}
	resume  chan struct{}
}

func (m *pausingMessages) Append(ctx context.Context, msg *models.Message) (*models.Message, error) {
	if m.armed.CompareAndSwap(true, false) {
		m.entered <- struct{}{}
		<-m.resume
	}
	return m.MessageRepository.Append(ctx, msg)
}

type blobCore struct {
	registry *chat.Registry
	log      *chat.Log
	blobs    storage.Store
}

func newBlobCore(t *testing.T, blobs storage.Store, messages func(repository.MessageRepository) repository.MessageRepository) *blobCore {
	t.Helper()
	stores := memory.NewStores()
	logger := testutil.Logger()
	registry := chat.NewRegistry(stores.Conversations, stores.Memberships, stores.Messages, stores.FriendRequests, blobs, stores.BlobLocks, logger)
	var repo repository.MessageRepository = stores.Messages
	if messages != nil {
		repo = messages(repo)
	}
	log := chat.NewLog(registry, repo, blobs, nil, chat.LogConfig{MaxMessageLength: 512, MaxAttachmentBytes: 1024}, logger)
	return &blobCore{registry: registry, log: log, blobs: blobs}
}

func (c *blobCore) rooms(t *testing.T, owner uuid.UUID) (*models.Conversation, *models.Conversation) {
	t.Helper()
	ctx := context.Background()
	a, err := c.registry.CreateRoom(ctx, owner, "a-"+uuid.NewString()[:8], "", "")
	if err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}
	b, err := c.registry.CreateRoom(ctx, owner, "b-"+uuid.NewString()[:8], "", "")
	if err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}
	return a, b
}

func upload(data []byte) *chat.Upload {
	return &chat.Upload{Name: "pic.png", Size: int64(len(data)), Reader: bytes.NewReader(data)}
}

type appendResult struct {
	msg *models.Message
	err error
}

func TestDeleteBetweenPutAndCommitKeepsAttachmentsWhole(t *testing.T) {
	store := &pausingStore{
		MemoryStore: storage.NewMemoryStore(),
		stored:      make(chan struct{}),
		resume:      make(chan struct{}),
	}
	core := newBlobCore(t, store, nil)
	ctx := context.Background()
	owner := uuid.New()
	first, second := core.rooms(t, owner)
	data := []byte("the same picture twice")

	if _, err := core.log.Append(ctx, first.ID, owner, "", upload(data)); err != nil {
		t.Fatalf("Append: %v", err)
	}

	store.armed.Store(true)
	done := make(chan appendResult, 1)
	go func() {
		m, err := core.log.Append(ctx, second.ID, owner, "", upload(data))
		done <- appendResult{m, err}
	}()
	testutil.RequireReceive(t, store.stored)

	// The only committed reference goes away while the second append
	// is between storing its bytes and committing.
	if err := core.registry.Delete(ctx, owner, first.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	close(store.resume)
	res := testutil.RequireReceive(t, done)

	if res.err == nil {
		if _, err := core.log.Attachment(ctx, owner, res.msg.Attachment.Key); err != nil {
			t.Fatalf("committed message points at a missing blob: %v", err)
		}
		return
	}
	if !errors.Is(res.err, chat.ErrStorageUnavailable) {
		t.Errorf("err = %v, want ErrStorageUnavailable", res.err)
	}
	page, err := core.log.ListSince(ctx, second.ID, owner, 0, 0)
	if err != nil {
		t.Fatalf("ListSince: %v", err)
	}
	if len(page.Messages) != 0 {
		t.Errorf("failed append left %d messages", len(page.Messages))
	}
}

func TestDeleteWaitsForInFlightCommit(t *testing.T) {
	var msgs *pausingMessages
	core := newBlobCore(t, storage.NewMemoryStore(), func(inner repository.MessageRepository) repository.MessageRepository {
		msgs = &pausingMessages{MessageRepository: inner, entered: make(chan struct{}), resume: make(chan struct{})}
		return msgs
	})
	ctx := context.Background()
	owner := uuid.New()
	first, second := core.rooms(t, owner)
	data := []byte("shared across rooms")

	if _, err := core.log.Append(ctx, first.ID, owner, "", upload(data)); err != nil {
		t.Fatalf("Append: %v", err)
	}

	msgs.armed.Store(true)
	appended := make(chan appendResult, 1)
	go func() {
		m, err := core.log.Append(ctx, second.ID, owner, "", upload(data))
		appended <- appendResult{m, err}
	}()
	testutil.RequireReceive(t, msgs.entered)

	deleted := make(chan error, 1)
	go func() { deleted <- core.registry.Delete(ctx, owner, first.ID) }()

	select {
	case err := <-deleted:
		t.Fatalf("Delete finished while a commit held the blob: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	close(msgs.resume)
	res := testutil.RequireReceive(t, appended)
	if res.err != nil {
		t.Fatalf("Append: %v", res.err)
	}
	if err := testutil.RequireReceive(t, deleted); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	got, err := core.log.Attachment(ctx, owner, res.msg.Attachment.Key)
	if err != nil || !bytes.Equal(got, data) {
		t.Fatalf("Attachment = %q (%v), want the shared bytes", got, err)
	}
}

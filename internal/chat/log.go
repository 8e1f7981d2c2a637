package chat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/lalith-99/chatline/internal/models"
	"github.com/lalith-99/chatline/internal/repository"
	"github.com/lalith-99/chatline/internal/storage"
	"go.uber.org/zap"
)

const (
	DefaultPageSize = 50
	MaxPageSize     = 200

	appendAttempts = 3
	appendBackoff  = 20 * time.Millisecond
)

// Publisher receives every committed message, in order per conversation.
type Publisher interface {
	Publish(msg models.Message)
}

// LogConfig bounds what a single message may carry.
type LogConfig struct {
	MaxMessageLength   int   // runes
	MaxAttachmentBytes int64 // bytes
}

// Upload is an attachment being sent with a message. Size is the size
// the client declared; the stream is still cut off at the configured
// bound if it lies.
type Upload struct {
	Name     string
	Size     int64
	MimeType string
	Reader   io.Reader
}

// Page is one forward-ordered slice of a conversation's history. Next is
// the cursor to pass to the following call; it equals the input cursor
// when the page is empty.
type Page struct {
	Messages []models.Message
	Next     Cursor
}

// Log is the append-only, per-conversation ordered message store.
type Log struct {
	registry  *Registry
	messages  repository.MessageRepository
	blobs     storage.Store
	publisher Publisher
	cfg       LogConfig
	logger    *zap.Logger

	locks keyedMutex
}

func NewLog(registry *Registry, messages repository.MessageRepository, blobs storage.Store, publisher Publisher, cfg LogConfig, logger *zap.Logger) *Log {
	return &Log{
		registry:  registry,
		messages:  messages,
		blobs:     blobs,
		publisher: publisher,
		cfg:       cfg,
		logger:    logger,
		locks:     keyedMutex{m: make(map[uuid.UUID]*keyedEntry)},
	}
}

// Append validates and stores a message from author and hands it to the
// publisher. Once validation passes the append no longer observes ctx
// cancellation: it either commits fully or leaves no trace.
func (l *Log) Append(ctx context.Context, conversationID, author uuid.UUID, text string, upload *Upload) (*models.Message, error) {
	if _, err := l.registry.Authorize(ctx, author, conversationID); err != nil {
		return nil, err
	}
	if l.cfg.MaxMessageLength > 0 && utf8.RuneCountInString(text) > l.cfg.MaxMessageLength {
		return nil, fmt.Errorf("message longer than %d characters: %w", l.cfg.MaxMessageLength, ErrPayloadTooLarge)
	}
	if upload != nil && upload.Reader == nil {
		upload = nil
	}
	if strings.TrimSpace(text) == "" && upload == nil {
		return nil, ErrEmptyMessage
	}
	if upload != nil && l.cfg.MaxAttachmentBytes > 0 && upload.Size > l.cfg.MaxAttachmentBytes {
		return nil, fmt.Errorf("attachment of %d bytes exceeds %d: %w", upload.Size, l.cfg.MaxAttachmentBytes, ErrPayloadTooLarge)
	}

	ctx = context.WithoutCancel(ctx)

	msg := &models.Message{
		ConversationID: conversationID,
		SenderID:       author,
		Body:           text,
	}
	if upload != nil {
		att, err := l.storeUpload(ctx, upload)
		if err != nil {
			return nil, err
		}
		msg.Attachment = att

		// Hold the blob until the reference commits so a concurrent
		// delete elsewhere cannot drop the bytes underneath it.
		unlockBlob, err := l.registry.blobLocks.LockBlob(ctx, att.Key)
		if err != nil {
			return nil, fmt.Errorf("lock attachment: %w: %v", ErrStorageUnavailable, err)
		}
		defer unlockBlob()
		if _, err := l.blobs.SizeOf(ctx, att.Key); err != nil {
			// Released between Put and the lock. Nothing refers to it,
			// so failing here leaves no trace.
			l.logger.Warn("attachment vanished before commit", zap.String("key", att.Key), zap.Error(err))
			return nil, fmt.Errorf("attachment %s released concurrently: %w", att.Key, ErrStorageUnavailable)
		}
	}

	unlock := l.locks.lock(conversationID)
	defer unlock()

	stored, err := l.appendWithRetry(ctx, msg)
	if err != nil {
		if msg.Attachment != nil {
			l.registry.releaseLocked(ctx, msg.Attachment.Key)
		}
		return nil, err
	}

	if l.publisher != nil {
		l.publisher.Publish(*stored)
	}
	return stored, nil
}

func (l *Log) storeUpload(ctx context.Context, upload *Upload) (*models.Attachment, error) {
	mimeType := upload.MimeType
	if mimeType == "" || mimeType == "application/octet-stream" {
		if guessed := MimeTypeFor(upload.Name); guessed != "" {
			mimeType = guessed
		}
	}

	r := upload.Reader
	if l.cfg.MaxAttachmentBytes > 0 {
		r = storage.LimitReader(r, l.cfg.MaxAttachmentBytes)
	}
	key, size, err := l.blobs.Put(ctx, r, mimeType)
	if err != nil {
		if errors.Is(err, storage.ErrTooLarge) {
			return nil, fmt.Errorf("attachment exceeds %d bytes: %w", l.cfg.MaxAttachmentBytes, ErrPayloadTooLarge)
		}
		l.logger.Error("attachment put failed", zap.String("name", upload.Name), zap.Error(err))
		return nil, fmt.Errorf("store attachment: %w: %v", ErrStorageUnavailable, err)
	}

	category := CategoryForMime(mimeType)
	if category == models.CategoryUnknown {
		category = AttachmentCategory(upload.Name)
	}
	return &models.Attachment{
		Key:      key,
		Name:     upload.Name,
		Size:     size,
		MimeType: mimeType,
		Category: category,
	}, nil
}

func (l *Log) appendWithRetry(ctx context.Context, msg *models.Message) (*models.Message, error) {
	var err error
	for attempt := 1; attempt <= appendAttempts; attempt++ {
		var stored *models.Message
		stored, err = l.messages.Append(ctx, msg)
		if err == nil {
			return stored, nil
		}
		if !errors.Is(err, ErrSequencerContention) {
			return nil, fmt.Errorf("append message: %w", err)
		}
		l.logger.Debug("sequencer contention, retrying",
			zap.String("conversation_id", msg.ConversationID.String()),
			zap.Int("attempt", attempt),
		)
		if attempt < appendAttempts {
			time.Sleep(appendBackoff * time.Duration(attempt))
		}
	}
	return nil, fmt.Errorf("append message after %d attempts: %w", appendAttempts, err)
}

// ListSince returns up to limit messages with an order key after cursor,
// oldest first. reader must be a member.
func (l *Log) ListSince(ctx context.Context, conversationID, reader uuid.UUID, cursor Cursor, limit int) (Page, error) {
	if _, err := l.registry.Authorize(ctx, reader, conversationID); err != nil {
		return Page{}, err
	}
	return l.page(ctx, conversationID, cursor, limit)
}

func clampPageSize(limit int) int {
	if limit <= 0 {
		return DefaultPageSize
	}
	return min(limit, MaxPageSize)
}

func (l *Log) page(ctx context.Context, conversationID uuid.UUID, cursor Cursor, limit int) (Page, error) {
	msgs, err := l.messages.ListSince(ctx, conversationID, int64(cursor), clampPageSize(limit))
	if err != nil {
		return Page{}, fmt.Errorf("list messages: %w", err)
	}
	next := cursor
	if n := len(msgs); n > 0 {
		next = Cursor(msgs[n-1].Seq)
	}
	return Page{Messages: msgs, Next: next}, nil
}

// Messages walks the history after cursor page by page. The sequence is
// finite: it ends at the newest message that existed when the last page
// was fetched. Ranging over it again starts over from cursor.
func (l *Log) Messages(ctx context.Context, conversationID, reader uuid.UUID, cursor Cursor, pageSize int) iter.Seq2[models.Message, error] {
	return func(yield func(models.Message, error) bool) {
		if _, err := l.registry.Authorize(ctx, reader, conversationID); err != nil {
			yield(models.Message{}, err)
			return
		}
		size := clampPageSize(pageSize)
		at := cursor
		for {
			p, err := l.page(ctx, conversationID, at, size)
			if err != nil {
				yield(models.Message{}, err)
				return
			}
			for _, m := range p.Messages {
				if !yield(m, nil) {
					return
				}
			}
			if len(p.Messages) < size {
				return
			}
			at = p.Next
		}
	}
}

// Attachment returns the blob behind key if userID belongs to some conversation holding a message that carries it.
func (l *Log) Attachment(ctx context.Context, userID uuid.UUID, key string) ([]byte, error) {
	if !storage.ValidKey(key) {
		return nil, fmt.Errorf("attachment %q: %w", key, ErrNotFound)
	}
	convs, err := l.messages.ConversationsWithAttachment(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("find attachment: %w", err)
	}
	if len(convs) == 0 {
		return nil, fmt.Errorf("attachment %s: %w", key, ErrNotFound)
	}

	allowed := false
	for _, id := range convs {
		if _, err := l.registry.Authorize(ctx, userID, id); err == nil {
			allowed = true
			break
		} else if !errors.Is(err, ErrUnauthorized) && !errors.Is(err, ErrNotFound) {
			return nil, err
		}
	}
	if !allowed {
		return nil, fmt.Errorf("attachment %s: %w", key, ErrUnauthorized)
	}

	data, err := l.blobs.Get(ctx, key)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("attachment %s: %w", key, ErrNotFound)
		}
		return nil, fmt.Errorf("read attachment: %w: %v", ErrStorageUnavailable, err)
	}
	return data, nil
}

// keyedMutex hands out one mutex per conversation and forgets it once
// nobody holds or waits for it.
type keyedMutex struct {
	mu sync.Mutex
	m  map[uuid.UUID]*keyedEntry
}

type keyedEntry struct {
	mu   sync.Mutex
	refs int
}

func (k *keyedMutex) lock(id uuid.UUID) (unlock func()) {
	k.mu.Lock()
	e, ok := k.m[id]
	if !ok {
		e = &keyedEntry{}
		k.m[id] = e
	}
	e.refs++
	k.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		k.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(k.m, id)
		}
		k.mu.Unlock()
	}
}

// Package jobs holds background work that runs outside request handling.
package jobs

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/hibiken/asynq"
	"github.com/lalith-99/chatline/internal/repository"
	"github.com/lalith-99/chatline/internal/storage"
	"github.com/zeebo/blake3"
	"go.uber.org/zap"
)

const (
	TypeLinkPreview = "link:preview"

	previewMaxRetry   = 5
	previewTimeout    = 30 * time.Second
	previewFetchLimit = 1 << 20
)

type linkPreviewPayload struct {
	URL string `json:"url"`
}

// LinkPreviewTaskID is stable per URL, so enqueueing the same URL twice
// while a task is pending collapses into one task.
func LinkPreviewTaskID(rawURL string) string {
	sum := blake3.Sum256([]byte(rawURL))
	return "link-preview:" + hex.EncodeToString(sum[:])
}

// Enqueuer is the part of *asynq.Client the scheduler uses.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// PreviewScheduler queues preview fetches for newly saved links.
type PreviewScheduler struct {
	client Enqueuer
	logger *zap.Logger
}

func NewPreviewScheduler(client Enqueuer, logger *zap.Logger) *PreviewScheduler {
	return &PreviewScheduler{client: client, logger: logger}
}

// Schedule enqueues a preview fetch for rawURL. A task already queued
// for the same URL counts as success.
func (s *PreviewScheduler) Schedule(ctx context.Context, rawURL string) error {
	payload, err := json.Marshal(linkPreviewPayload{URL: rawURL})
	if err != nil {
		return fmt.Errorf("marshal preview payload: %w", err)
	}
	task := asynq.NewTask(TypeLinkPreview, payload,
		asynq.TaskID(LinkPreviewTaskID(rawURL)),
		asynq.MaxRetry(previewMaxRetry),
		asynq.Timeout(previewTimeout),
	)
	info, err := s.client.EnqueueContext(ctx, task)
	if err != nil {
		if errors.Is(err, asynq.ErrTaskIDConflict) || errors.Is(err, asynq.ErrDuplicateTask) {
			return nil
		}
		return fmt.Errorf("enqueue link preview: %w", err)
	}
	s.logger.Debug("link preview enqueued", zap.String("task_id", info.ID), zap.String("url", rawURL))
	return nil
}

// PreviewHandler fetches a site's favicon and records it as the preview
// image for a link URL. Running it again for a URL that already has a
// preview does nothing.
type PreviewHandler struct {
	links  repository.LinkRepository
	blobs  storage.Store
	locks  repository.BlobLocker
	client *http.Client
	logger *zap.Logger
}

func NewPreviewHandler(links repository.LinkRepository, blobs storage.Store, locks repository.BlobLocker, client *http.Client, logger *zap.Logger) *PreviewHandler {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &PreviewHandler{links: links, blobs: blobs, locks: locks, client: client, logger: logger}
}

// ProcessTask implements asynq.Handler. Permanent failures are wrapped
// with asynq.SkipRetry.
func (h *PreviewHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var p linkPreviewPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return fmt.Errorf("decode preview payload: %v: %w", err, asynq.SkipRetry)
	}

	existing, err := h.links.GetPreview(ctx, p.URL)
	if err != nil {
		return fmt.Errorf("get preview: %w", err)
	}
	if existing != "" {
		return nil
	}

	iconURL, err := faviconURL(p.URL)
	if err != nil {
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, iconURL, nil)
	if err != nil {
		return fmt.Errorf("build favicon request: %v: %w", err, asynq.SkipRetry)
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("fetch favicon: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return fmt.Errorf("fetch favicon: status %d: %w", resp.StatusCode, asynq.SkipRetry)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return fmt.Errorf("fetch favicon: status %d", resp.StatusCode)
	}

	key, size, err := h.blobs.Put(ctx, storage.LimitReader(resp.Body, previewFetchLimit), resp.Header.Get("Content-Type"))
	if err != nil {
		if errors.Is(err, storage.ErrTooLarge) {
			return fmt.Errorf("favicon larger than %d bytes: %w", previewFetchLimit, asynq.SkipRetry)
		}
		return fmt.Errorf("store favicon: %w", err)
	}
	if err := h.savePreview(ctx, p.URL, key); err != nil {
		return err
	}

	h.logger.Info("link preview stored",
		zap.String("url", p.URL),
		zap.String("key", key),
		zap.Int64("size", size),
	)
	return nil
}

// savePreview records the preview under the blob's lock. A blob released
// by a conversation delete between Put and the lock fails the attempt,
// and the retry fetches it again.
func (h *PreviewHandler) savePreview(ctx context.Context, rawURL, key string) error {
	unlock, err := h.locks.LockBlob(ctx, key)
	if err != nil {
		return fmt.Errorf("lock preview blob: %w", err)
	}
	defer unlock()

	if _, err := h.blobs.SizeOf(ctx, key); err != nil {
		return fmt.Errorf("preview blob %s released before save: %w", key, err)
	}
	if err := h.links.SavePreview(ctx, rawURL, key); err != nil {
		return fmt.Errorf("save preview: %w", err)
	}
	return nil
}

func faviconURL(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse link url: %w", err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", fmt.Errorf("link url %q is not an absolute http(s) url", rawURL)
	}
	return (&url.URL{Scheme: u.Scheme, Host: u.Host, Path: "/favicon.ico"}).String(), nil
}

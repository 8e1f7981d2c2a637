package realtime

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/lalith-99/chatline/internal/models"
	"github.com/lalith-99/chatline/internal/testutil"
	"github.com/redis/go-redis/v9"
)

func TestEnvelopeRoundTrip(t *testing.T) {
	created := time.Date(2026, 3, 14, 15, 9, 26, 535897000, time.UTC)
	tests := []struct {
		name string
		msg  models.Message
	}{
		{
			name: "text only",
			msg: models.Message{
				ID: uuid.New(), ConversationID: uuid.New(), Seq: 42,
				SenderID: uuid.New(), Body: "hello", CreatedAt: created,
			},
		},
		{
			name: "attachment without text",
			msg: models.Message{
				ID: uuid.New(), ConversationID: uuid.New(), Seq: 1,
				SenderID: uuid.New(), CreatedAt: created,
				Attachment: &models.Attachment{
					Key: "ab12", Name: "cat.png", Size: 2048,
					MimeType: "image/png", Category: models.CategoryImage,
				},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := encodeEnvelope("node-a", tt.msg)
			if err != nil {
				t.Fatalf("encodeEnvelope: %v", err)
			}
			origin, got, err := decodeEnvelope(data)
			if err != nil {
				t.Fatalf("decodeEnvelope: %v", err)
			}
			if origin != "node-a" {
				t.Errorf("origin = %q, want node-a", origin)
			}
			if got.ID != tt.msg.ID || got.ConversationID != tt.msg.ConversationID ||
				got.SenderID != tt.msg.SenderID || got.Seq != tt.msg.Seq || got.Body != tt.msg.Body {
				t.Errorf("decoded %+v, want %+v", got, tt.msg)
			}
			if !got.CreatedAt.Equal(tt.msg.CreatedAt) {
				t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, tt.msg.CreatedAt)
			}
			switch {
			case tt.msg.Attachment == nil && got.Attachment != nil:
				t.Errorf("unexpected attachment %+v", got.Attachment)
			case tt.msg.Attachment != nil && (got.Attachment == nil || *got.Attachment != *tt.msg.Attachment):
				t.Errorf("attachment = %+v, want %+v", got.Attachment, tt.msg.Attachment)
			}
		})
	}
}

func TestDecodeEnvelopeRejectsGarbage(t *testing.T) {
	if _, _, err := decodeEnvelope([]byte("not cbor at all")); err == nil {
		t.Fatal("decodeEnvelope accepted garbage")
	}
}

func TestRelayDeliverSkipsOwnOrigin(t *testing.T) {
	auth := newFakeAuth()
	hub := NewHub(auth, 8, testutil.Logger())
	conv, user := uuid.New(), uuid.New()
	auth.allow(user, conv)
	sub, err := hub.Subscribe(context.Background(), user, conv)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	relay := NewRelay(nil, hub, "node-a", testutil.Logger())

	own, _ := encodeEnvelope("node-a", msg(conv, 1, "mine"))
	if err := relay.deliver(own); err != nil {
		t.Fatalf("deliver own: %v", err)
	}
	testutil.RequireNoNext(t, sub, 20*time.Millisecond)

	foreign, _ := encodeEnvelope("node-b", msg(conv, 1, "theirs"))
	if err := relay.deliver(foreign); err != nil {
		t.Fatalf("deliver foreign: %v", err)
	}
	if got := testutil.RequireNext(t, sub); got.Body != "theirs" {
		t.Errorf("body = %q, want theirs", got.Body)
	}
}

func TestRelayPublishDeliversLocallyWhenRedisDown(t *testing.T) {
	auth := newFakeAuth()
	hub := NewHub(auth, 8, testutil.Logger())
	conv, user := uuid.New(), uuid.New()
	auth.allow(user, conv)
	sub, err := hub.Subscribe(context.Background(), user, conv)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer rdb.Close()

	relay := NewRelay(rdb, hub, "node-a", testutil.Logger())
	relay.Publish(msg(conv, 1, "local"))

	if got := testutil.RequireNext(t, sub); got.Body != "local" {
		t.Errorf("body = %q, want local", got.Body)
	}
}

func TestRelayPublishNeverWaitsOnRedis(t *testing.T) {
	hub := NewHub(newFakeAuth(), 8, testutil.Logger())
	relay := NewRelay(nil, hub, "node-a", testutil.Logger())
	conv := uuid.New()

	const extra = 5
	for i := range relayQueueSize + extra {
		relay.Publish(msg(conv, int64(i+1), "burst"))
	}
	if got := relay.Dropped(); got != extra {
		t.Errorf("Dropped = %d, want %d", got, extra)
	}
	if got := len(relay.out); got != relayQueueSize {
		t.Errorf("queued = %d, want %d", got, relayQueueSize)
	}
}

func TestRelayForwardDrainsQueueWhenRedisDown(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer rdb.Close()

	relay := NewRelay(rdb, NewHub(newFakeAuth(), 8, testutil.Logger()), "node-a", testutil.Logger())
	conv := uuid.New()
	for i := range 3 {
		relay.Publish(msg(conv, int64(i+1), "queued"))
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		relay.Forward(ctx)
		close(done)
	}()
	testutil.Eventually(t, func() bool { return len(relay.out) == 0 }, "queue drained")
	cancel()
	testutil.RequireReceive(t, done)
	if got := relay.Dropped(); got != 0 {
		t.Errorf("Dropped = %d, want 0", got)
	}
}

package postgres

import (
	"context"
	"os"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/lalith-99/chatline/internal/db"
	"github.com/lalith-99/chatline/internal/models"
	"github.com/lalith-99/chatline/internal/testutil"
)

// openTestDB connects to CHATLINE_TEST_DATABASE_URL and applies the
// schema. Tests that need it skip when the variable is unset.
func openTestDB(t *testing.T) *Stores {
	t.Helper()
	url := os.Getenv("CHATLINE_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("CHATLINE_TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	database, err := db.New(ctx, url, testutil.Logger())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(database.Close)
	if err := database.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return NewStores(database.Pool())
}

func TestMessageSequencerIsGapFree(t *testing.T) {
	stores := openTestDB(t)
	ctx := context.Background()

	user, err := stores.Users.Create(ctx, uuid.NewString()+"@example.com", "seq", "x")
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	room, err := stores.Conversations.CreateRoom(ctx, user.ID, "seq-"+uuid.NewString()[:8], "", "")
	if err != nil {
		t.Fatalf("create room: %v", err)
	}

	const writers, each = 8, 20
	var wg sync.WaitGroup
	errs := make(chan error, writers*each)
	for range writers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range each {
				_, err := stores.Messages.Append(ctx, &models.Message{ConversationID: room.ID, SenderID: user.ID, Body: "x"})
				if err != nil {
					errs <- err
				}
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("append: %v", err)
	}

	msgs, err := stores.Messages.ListSince(ctx, room.ID, 0, writers*each+10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(msgs) != writers*each {
		t.Fatalf("got %d messages, want %d", len(msgs), writers*each)
	}
	for i, m := range msgs {
		if m.Seq != int64(i+1) {
			t.Fatalf("message %d has seq %d", i, m.Seq)
		}
	}

	page, err := stores.Messages.ListSince(ctx, room.ID, 150, 5)
	if err != nil {
		t.Fatalf("list page: %v", err)
	}
	if len(page) != 5 || page[0].Seq != 151 {
		t.Errorf("page after 150 = %d messages starting at %d", len(page), page[0].Seq)
	}
}

func TestAppendKeepsAttachment(t *testing.T) {
	stores := openTestDB(t)
	ctx := context.Background()

	user, err := stores.Users.Create(ctx, uuid.NewString()+"@example.com", "att", "x")
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	room, err := stores.Conversations.CreateRoom(ctx, user.ID, "att-"+uuid.NewString()[:8], "", "")
	if err != nil {
		t.Fatalf("create room: %v", err)
	}

	key := "blake3-" + uuid.NewString()
	att := &models.Attachment{Key: key, Name: "a.png", Size: 42, MimeType: "image/png", Category: models.CategoryImage}
	if _, err := stores.Messages.Append(ctx, &models.Message{ConversationID: room.ID, SenderID: user.ID, Attachment: att}); err != nil {
		t.Fatalf("append: %v", err)
	}

	msgs, err := stores.Messages.ListSince(ctx, room.ID, 0, 10)
	if err != nil || len(msgs) != 1 {
		t.Fatalf("list = %v (%v)", msgs, err)
	}
	if got := msgs[0].Attachment; got == nil || *got != *att {
		t.Errorf("attachment = %+v, want %+v", got, att)
	}
	inUse, err := stores.Messages.AttachmentInUse(ctx, key)
	if err != nil || !inUse {
		t.Errorf("AttachmentInUse = %v (%v)", inUse, err)
	}
}

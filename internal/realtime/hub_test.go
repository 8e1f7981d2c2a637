package realtime

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/lalith-99/chatline/internal/models"
	"github.com/lalith-99/chatline/internal/testutil"
)

var errNotMember = errors.New("not a member")

type fakeAuth struct {
	mu      sync.Mutex
	members map[uuid.UUID]map[uuid.UUID]bool
}

func newFakeAuth() *fakeAuth {
	return &fakeAuth{members: make(map[uuid.UUID]map[uuid.UUID]bool)}
}

func (a *fakeAuth) allow(userID, conversationID uuid.UUID) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.members[conversationID] == nil {
		a.members[conversationID] = make(map[uuid.UUID]bool)
	}
	a.members[conversationID][userID] = true
}

func (a *fakeAuth) Authorize(ctx context.Context, userID, conversationID uuid.UUID) (*models.Conversation, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.members[conversationID][userID] {
		return nil, errNotMember
	}
	return &models.Conversation{ID: conversationID, Kind: models.KindRoom}, nil
}

func msg(conv uuid.UUID, seq int64, body string) models.Message {
	return models.Message{ID: uuid.New(), ConversationID: conv, Seq: seq, Body: body}
}

func TestHubSubscribeRequiresMembership(t *testing.T) {
	auth := newFakeAuth()
	hub := NewHub(auth, 4, testutil.Logger())
	conv, user := uuid.New(), uuid.New()

	if _, err := hub.Subscribe(context.Background(), user, conv); !errors.Is(err, errNotMember) {
		t.Fatalf("Subscribe by non-member: err = %v, want %v", err, errNotMember)
	}
	if n := hub.Subscribers(conv); n != 0 {
		t.Errorf("Subscribers = %d, want 0", n)
	}
}

func TestHubDeliversInOrder(t *testing.T) {
	auth := newFakeAuth()
	hub := NewHub(auth, 16, testutil.Logger())
	conv, alice, bob := uuid.New(), uuid.New(), uuid.New()
	auth.allow(alice, conv)
	auth.allow(bob, conv)

	subA, err := hub.Subscribe(context.Background(), alice, conv)
	if err != nil {
		t.Fatalf("Subscribe alice: %v", err)
	}
	subB, err := hub.Subscribe(context.Background(), bob, conv)
	if err != nil {
		t.Fatalf("Subscribe bob: %v", err)
	}

	for i := int64(1); i <= 5; i++ {
		hub.Publish(msg(conv, i, "m"))
	}
	// Stale and duplicate keys are discarded.
	hub.Publish(msg(conv, 3, "dup"))
	// Other conversations never leak in.
	hub.Publish(msg(uuid.New(), 6, "elsewhere"))

	for _, sub := range []*Subscription{subA, subB} {
		for want := int64(1); want <= 5; want++ {
			got := testutil.RequireNext(t, sub)
			if got.Seq != want {
				t.Fatalf("user %s: seq = %d, want %d", sub.UserID, got.Seq, want)
			}
		}
		testutil.RequireNoNext(t, sub, 20*time.Millisecond)
	}
}

func TestHubDropsOnSaturation(t *testing.T) {
	auth := newFakeAuth()
	hub := NewHub(auth, 2, testutil.Logger())
	conv, user := uuid.New(), uuid.New()
	auth.allow(user, conv)

	sub, err := hub.Subscribe(context.Background(), user, conv)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	// Publish never blocks even though nobody reads.
	done := make(chan struct{})
	go func() {
		for i := int64(1); i <= 5; i++ {
			hub.Publish(msg(conv, i, "m"))
		}
		close(done)
	}()
	testutil.RequireReceive(t, done)

	if got := hub.Dropped(); got != 3 {
		t.Errorf("Dropped = %d, want 3", got)
	}
	if got := testutil.RequireNext(t, sub); got.Seq != 1 {
		t.Errorf("first seq = %d, want 1", got.Seq)
	}
	if got := testutil.RequireNext(t, sub); got.Seq != 2 {
		t.Errorf("second seq = %d, want 2", got.Seq)
	}

	// After draining, delivery resumes with a gap the reader must refill.
	hub.Publish(msg(conv, 6, "m"))
	if got := testutil.RequireNext(t, sub); got.Seq != 6 {
		t.Errorf("seq after drain = %d, want 6", got.Seq)
	}
}

func TestSubscriptionSkip(t *testing.T) {
	auth := newFakeAuth()
	hub := NewHub(auth, 8, testutil.Logger())
	conv, user := uuid.New(), uuid.New()
	auth.allow(user, conv)

	sub, err := hub.Subscribe(context.Background(), user, conv)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	sub.Skip(3)

	hub.Publish(msg(conv, 2, "backfilled"))
	hub.Publish(msg(conv, 3, "backfilled"))
	hub.Publish(msg(conv, 4, "live"))

	if got := testutil.RequireNext(t, sub); got.Seq != 4 {
		t.Errorf("seq = %d, want 4", got.Seq)
	}
}

func TestSubscriptionNextCancellation(t *testing.T) {
	auth := newFakeAuth()
	hub := NewHub(auth, 8, testutil.Logger())
	conv, user := uuid.New(), uuid.New()
	auth.allow(user, conv)

	sub, err := hub.Subscribe(context.Background(), user, conv)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := sub.Next(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("Next with cancelled ctx: err = %v, want context.Canceled", err)
	}

	// A cancelled wait leaves the subscription usable.
	hub.Publish(msg(conv, 1, "after cancel"))
	if got := testutil.RequireNext(t, sub); got.Body != "after cancel" {
		t.Errorf("body = %q, want %q", got.Body, "after cancel")
	}
}

func TestSubscriptionCloseIdempotent(t *testing.T) {
	auth := newFakeAuth()
	hub := NewHub(auth, 8, testutil.Logger())
	conv, user := uuid.New(), uuid.New()
	auth.allow(user, conv)

	sub, err := hub.Subscribe(context.Background(), user, conv)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	sub.Close()
	sub.Close()
	hub.Unsubscribe(sub)

	if n := hub.Subscribers(conv); n != 0 {
		t.Errorf("Subscribers = %d, want 0", n)
	}
	if _, err := sub.Next(context.Background()); !errors.Is(err, ErrSubscriptionClosed) {
		t.Errorf("Next after Close: err = %v, want ErrSubscriptionClosed", err)
	}
	hub.Publish(msg(conv, 1, "nobody"))
	if hub.Dropped() != 0 {
		t.Errorf("Dropped = %d, want 0 for closed subscription", hub.Dropped())
	}
}

func TestHubMembershipObserver(t *testing.T) {
	auth := newFakeAuth()
	hub := NewHub(auth, 8, testutil.Logger())
	conv, alice, bob := uuid.New(), uuid.New(), uuid.New()
	auth.allow(alice, conv)
	auth.allow(bob, conv)

	subA, _ := hub.Subscribe(context.Background(), alice, conv)
	subB, _ := hub.Subscribe(context.Background(), bob, conv)

	hub.MemberLeft(conv, alice)
	testutil.RequireReceive(t, subA.Done())
	select {
	case <-subB.Done():
		t.Fatal("bob's subscription closed when alice left")
	default:
	}
	if n := hub.Subscribers(conv); n != 1 {
		t.Errorf("Subscribers after leave = %d, want 1", n)
	}

	hub.ConversationDeleted(conv)
	testutil.RequireReceive(t, subB.Done())
	if n := hub.Subscribers(conv); n != 0 {
		t.Errorf("Subscribers after delete = %d, want 0", n)
	}
}

func TestHubClose(t *testing.T) {
	auth := newFakeAuth()
	hub := NewHub(auth, 8, testutil.Logger())
	convs := []uuid.UUID{uuid.New(), uuid.New()}
	user := uuid.New()

	var subs []*Subscription
	for _, c := range convs {
		auth.allow(user, c)
		s, err := hub.Subscribe(context.Background(), user, c)
		if err != nil {
			t.Fatalf("Subscribe: %v", err)
		}
		subs = append(subs, s)
	}

	hub.Close()
	for _, s := range subs {
		testutil.RequireReceive(t, s.Done())
	}
}

func TestHubConcurrentPublishers(t *testing.T) {
	auth := newFakeAuth()
	hub := NewHub(auth, 1024, testutil.Logger())
	conv, user := uuid.New(), uuid.New()
	auth.allow(user, conv)

	sub, err := hub.Subscribe(context.Background(), user, conv)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	// Several publishers racing on the same increasing sequence: the
	// subscription must still see keys strictly increasing.
	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := int64(1); i <= 100; i++ {
				hub.Publish(msg(conv, i, "m"))
			}
		}()
	}
	wg.Wait()
	sub.Close()

	var last int64
	for {
		m, err := sub.Next(context.Background())
		if err != nil {
			break
		}
		if m.Seq <= last {
			t.Fatalf("seq %d after %d", m.Seq, last)
		}
		last = m.Seq
	}
	if last != 100 {
		t.Errorf("last seq = %d, want 100", last)
	}
}

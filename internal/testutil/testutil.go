// Package testutil holds helpers shared by package tests.
package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/lalith-99/chatline/internal/models"
	"go.uber.org/zap"
)

// Timeout bounds every wait in the helpers below.
const Timeout = 2 * time.Second

// Logger returns a logger that discards output.
func Logger() *zap.Logger { return zap.NewNop() }

// Receiver is satisfied by *realtime.Subscription.
type Receiver interface {
	Next(ctx context.Context) (models.Message, error)
}

// RequireNext waits up to Timeout for the next message on r and fails
// the test if none arrives.
func RequireNext(t testing.TB, r Receiver) models.Message {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), Timeout)
	defer cancel()
	msg, err := r.Next(ctx)
	if err != nil {
		t.Fatalf("waiting for message: %v", err)
	}
	return msg
}

// RequireNoNext fails the test if r yields a message within d.
func RequireNoNext(t testing.TB, r Receiver, d time.Duration) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	if msg, err := r.Next(ctx); err == nil {
		t.Fatalf("unexpected message seq=%d body=%q", msg.Seq, msg.Body)
	}
}

// RequireReceive waits up to Timeout for a value on ch.
func RequireReceive[T any](t testing.TB, ch <-chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(Timeout):
		t.Fatalf("timed out after %s waiting on channel", Timeout)
	}
	var zero T
	return zero
}

// Eventually polls cond until it is true or Timeout passes.
func Eventually(t testing.TB, cond func() bool, what string) {
	t.Helper()
	deadline := time.Now().Add(Timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

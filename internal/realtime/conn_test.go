package realtime

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/lalith-99/chatline/internal/testutil"
)

// socketPair returns a server-side Connection, not yet started, and the
// client end of the same websocket.
func socketPair(t *testing.T) (*Connection, *websocket.Conn) {
	t.Helper()
	accepted := make(chan *websocket.Conn, 1)
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		accepted <- ws
	}))
	t.Cleanup(srv.Close)

	client, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	resp.Body.Close()
	t.Cleanup(func() { client.Close() })

	conn := NewConnection(uuid.New(), testutil.RequireReceive(t, accepted))
	t.Cleanup(func() { conn.Close(websocket.CloseNormalClosure, "") })
	return conn, client
}

func isClosed(c *Connection) bool {
	select {
	case <-c.Closed():
		return true
	default:
		return false
	}
}

func TestSendWaitHoldsUntilWriterDrains(t *testing.T) {
	conn, client := socketPair(t)

	for i := range sendBufferSize {
		if err := conn.Send([]byte(fmt.Sprintf("%d", i))); err != nil {
			t.Fatalf("Send %d: %v", i, err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := conn.SendWait(ctx, []byte("late")); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("SendWait on a full buffer = %v, want DeadlineExceeded", err)
	}
	if isClosed(conn) {
		t.Fatal("SendWait closed the connection")
	}

	conn.Start()
	ctx, cancel = context.WithTimeout(context.Background(), testutil.Timeout)
	defer cancel()
	if err := conn.SendWait(ctx, []byte("last")); err != nil {
		t.Fatalf("SendWait: %v", err)
	}

	client.SetReadDeadline(time.Now().Add(testutil.Timeout))
	for i := range sendBufferSize {
		_, data, err := client.ReadMessage()
		if err != nil {
			t.Fatalf("read %d: %v", i, err)
		}
		if string(data) != fmt.Sprintf("%d", i) {
			t.Fatalf("frame %d = %q", i, data)
		}
	}
	if _, data, err := client.ReadMessage(); err != nil || string(data) != "last" {
		t.Fatalf("final frame = %q (%v), want last", data, err)
	}
}

func TestSendDisconnectsSlowReader(t *testing.T) {
	conn, client := socketPair(t)

	for range sendBufferSize {
		if err := conn.Send([]byte("x")); err != nil {
			t.Fatalf("Send: %v", err)
		}
	}
	if err := conn.Send([]byte("overflow")); err == nil {
		t.Fatal("Send past the buffer succeeded")
	}
	if !isClosed(conn) {
		t.Fatal("connection still open after overflow")
	}
	if err := conn.SendWait(context.Background(), []byte("x")); !errors.Is(err, ErrConnectionClosed) {
		t.Errorf("SendWait after close = %v, want ErrConnectionClosed", err)
	}

	client.SetReadDeadline(time.Now().Add(testutil.Timeout))
	_, _, err := client.ReadMessage()
	if !websocket.IsCloseError(err, websocket.CloseGoingAway) {
		t.Errorf("client read = %v, want close 1001", err)
	}
}

func TestWriteFailureClosesConnection(t *testing.T) {
	conn, _ := socketPair(t)
	conn.ws.UnderlyingConn().Close()
	conn.Start()

	if err := conn.Send([]byte("into the void")); err != nil {
		t.Fatalf("Send: %v", err)
	}
	testutil.RequireReceive(t, conn.Closed())
}

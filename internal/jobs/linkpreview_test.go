package jobs

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/lalith-99/chatline/internal/repository/memory"
	"github.com/lalith-99/chatline/internal/storage"
	"go.uber.org/zap"
)

func TestLinkPreviewTaskID(t *testing.T) {
	a := LinkPreviewTaskID("https://go.dev")
	if a != LinkPreviewTaskID("https://go.dev") {
		t.Error("task id is not stable")
	}
	if a == LinkPreviewTaskID("https://go.dev/doc") {
		t.Error("different urls share a task id")
	}
	if !strings.HasPrefix(a, "link-preview:") || len(a) != len("link-preview:")+64 {
		t.Errorf("task id = %q", a)
	}
}

type fakeEnqueuer struct {
	tasks []*asynq.Task
	opts  [][]asynq.Option
	err   error
}

func (f *fakeEnqueuer) EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	f.tasks = append(f.tasks, task)
	f.opts = append(f.opts, opts)
	if f.err != nil {
		return nil, f.err
	}
	return &asynq.TaskInfo{ID: "id", Type: task.Type()}, nil
}

func TestScheduleEnqueuesKeyedTask(t *testing.T) {
	q := &fakeEnqueuer{}
	s := NewPreviewScheduler(q, zap.NewNop())

	if err := s.Schedule(context.Background(), "https://go.dev"); err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	if len(q.tasks) != 1 {
		t.Fatalf("enqueued %d tasks, want 1", len(q.tasks))
	}
	task := q.tasks[0]
	if task.Type() != TypeLinkPreview {
		t.Errorf("type = %q", task.Type())
	}
	var p linkPreviewPayload
	if err := json.Unmarshal(task.Payload(), &p); err != nil || p.URL != "https://go.dev" {
		t.Errorf("payload = %s (%v)", task.Payload(), err)
	}

	var taskID string
	for _, o := range q.opts[0] {
		if o.Type() == asynq.TaskIDOpt {
			taskID = o.Value().(string)
		}
	}
	if taskID != LinkPreviewTaskID("https://go.dev") {
		t.Errorf("task id option = %q", taskID)
	}
}

func TestScheduleDuplicateIsSuccess(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		wantErr bool
	}{
		{"conflict", asynq.ErrTaskIDConflict, false},
		{"duplicate", asynq.ErrDuplicateTask, false},
		{"redis down", errors.New("dial tcp: connection refused"), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewPreviewScheduler(&fakeEnqueuer{err: tt.err}, zap.NewNop())
			err := s.Schedule(context.Background(), "https://go.dev")
			if (err != nil) != tt.wantErr {
				t.Errorf("err = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func previewTask(t *testing.T, rawURL string) *asynq.Task {
	t.Helper()
	payload, err := json.Marshal(linkPreviewPayload{URL: rawURL})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return asynq.NewTask(TypeLinkPreview, payload)
}

func TestPreviewHandlerStoresFavicon(t *testing.T) {
	icon := []byte("\x00\x00\x01\x00fake icon")
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.URL.Path != "/favicon.ico" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "image/x-icon")
		w.Write(icon)
	}))
	defer srv.Close()

	stores := memory.NewStores()
	blobs := storage.NewMemoryStore()
	h := NewPreviewHandler(stores.Links, blobs, stores.BlobLocks, srv.Client(), zap.NewNop())
	ctx := context.Background()
	link := srv.URL + "/some/page?q=1"

	if err := h.ProcessTask(ctx, previewTask(t, link)); err != nil {
		t.Fatalf("ProcessTask: %v", err)
	}
	key, err := stores.Links.GetPreview(ctx, link)
	if err != nil {
		t.Fatalf("GetPreview: %v", err)
	}
	if key != storage.KeyOf(icon) {
		t.Errorf("preview key = %q, want content address of the icon", key)
	}
	got, err := blobs.Get(ctx, key)
	if err != nil || !bytes.Equal(got, icon) {
		t.Errorf("stored icon = %q (%v)", got, err)
	}

	// A second run finds the preview and does not fetch again.
	if err := h.ProcessTask(ctx, previewTask(t, link)); err != nil {
		t.Fatalf("second ProcessTask: %v", err)
	}
	if n := hits.Load(); n != 1 {
		t.Errorf("favicon fetched %d times, want 1", n)
	}
}

func TestPreviewHandlerFailures(t *testing.T) {
	var status atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(int(status.Load()))
		w.Write(bytes.Repeat([]byte("x"), previewFetchLimit+10))
	}))
	defer srv.Close()

	tests := []struct {
		name      string
		status    int
		task      *asynq.Task
		wantSkip  bool
		wantError bool
	}{
		{"not found is permanent", http.StatusNotFound, previewTask(t, srv.URL), true, true},
		{"server error retries", http.StatusBadGateway, previewTask(t, srv.URL), false, true},
		{"too large is permanent", http.StatusOK, previewTask(t, srv.URL), true, true},
		{"relative url is permanent", http.StatusOK, previewTask(t, "/just/a/path"), true, true},
		{"bad payload is permanent", http.StatusOK, asynq.NewTask(TypeLinkPreview, []byte("{")), true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status.Store(int32(tt.status))
			stores := memory.NewStores()
			blobs := storage.NewMemoryStore()
			h := NewPreviewHandler(stores.Links, blobs, stores.BlobLocks, srv.Client(), zap.NewNop())

			err := h.ProcessTask(context.Background(), tt.task)
			if (err != nil) != tt.wantError {
				t.Fatalf("err = %v, wantError %v", err, tt.wantError)
			}
			if got := errors.Is(err, asynq.SkipRetry); got != tt.wantSkip {
				t.Errorf("SkipRetry = %v, want %v (err %v)", got, tt.wantSkip, err)
			}
			if blobs.Len() != 0 {
				t.Errorf("failed fetch stored %d blobs", blobs.Len())
			}
		})
	}
}

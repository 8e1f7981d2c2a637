package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestFSStoreRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		mime string
		data []byte
	}{
		{"text compressed", "text/plain", []byte(strings.Repeat("hello chat ", 500))},
		{"json compressed", "application/json", []byte(`{"a":1,"b":[1,2,3]}`)},
		{"image raw", "image/png", []byte{0x89, 'P', 'N', 'G', 1, 2, 3, 4}},
		{"empty", "application/octet-stream", []byte{}},
	}

	store, err := NewFSStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFSStore: %v", err)
	}
	ctx := context.Background()

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key, size, err := store.Put(ctx, bytes.NewReader(tt.data), tt.mime)
			if err != nil {
				t.Fatalf("Put: %v", err)
			}
			if key != KeyOf(tt.data) {
				t.Errorf("key = %s, want content address %s", key, KeyOf(tt.data))
			}
			if size != int64(len(tt.data)) {
				t.Errorf("size = %d, want %d", size, len(tt.data))
			}

			got, err := store.Get(ctx, key)
			if err != nil {
				t.Fatalf("Get: %v", err)
			}
			if !bytes.Equal(got, tt.data) {
				t.Errorf("Get returned %d bytes, want %d", len(got), len(tt.data))
			}

			sizeOf, err := store.SizeOf(ctx, key)
			if err != nil {
				t.Fatalf("SizeOf: %v", err)
			}
			if sizeOf != int64(len(tt.data)) {
				t.Errorf("SizeOf = %d, want %d", sizeOf, len(tt.data))
			}
		})
	}
}

func TestFSStoreCompressesText(t *testing.T) {
	root := t.TempDir()
	store, err := NewFSStore(root)
	if err != nil {
		t.Fatalf("NewFSStore: %v", err)
	}
	data := []byte(strings.Repeat("abcdefgh", 4096))
	key, _, err := store.Put(context.Background(), bytes.NewReader(data), "text/plain")
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	info, err := os.Stat(filepath.Join(root, key[:2], key))
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if info.Size() >= int64(len(data)) {
		t.Errorf("stored %d bytes for %d bytes of repetitive text, expected compression", info.Size(), len(data))
	}
}

func TestFSStoreFailedPutLeavesNothing(t *testing.T) {
	root := t.TempDir()
	store, err := NewFSStore(root)
	if err != nil {
		t.Fatalf("NewFSStore: %v", err)
	}

	reader := LimitReader(bytes.NewReader(make([]byte, 2048)), 1024)
	if _, _, err := store.Put(context.Background(), reader, "image/png"); !errors.Is(err, ErrTooLarge) {
		t.Fatalf("Put error = %v, want ErrTooLarge", err)
	}

	entries, err := os.ReadDir(root)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("store root has %d entries after failed put, want 0", len(entries))
	}
}

func TestFSStoreMissingKey(t *testing.T) {
	store, err := NewFSStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFSStore: %v", err)
	}
	ctx := context.Background()
	missing := KeyOf([]byte("never stored"))

	if _, err := store.Get(ctx, missing); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get error = %v, want ErrNotFound", err)
	}
	if _, err := store.SizeOf(ctx, missing); !errors.Is(err, ErrNotFound) {
		t.Errorf("SizeOf error = %v, want ErrNotFound", err)
	}
	if _, err := store.Get(ctx, "../../etc/passwd"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get with path traversal key = %v, want ErrNotFound", err)
	}
	if err := store.Delete(ctx, missing); err != nil {
		t.Errorf("Delete of missing key: %v", err)
	}
}

func TestLimitReader(t *testing.T) {
	exact, err := io.ReadAll(LimitReader(bytes.NewReader(make([]byte, 100)), 100))
	if err != nil {
		t.Fatalf("reading exactly the limit: %v", err)
	}
	if len(exact) != 100 {
		t.Errorf("read %d bytes, want 100", len(exact))
	}

	_, err = io.ReadAll(LimitReader(bytes.NewReader(make([]byte, 101)), 100))
	if !errors.Is(err, ErrTooLarge) {
		t.Errorf("reading past the limit: err = %v, want ErrTooLarge", err)
	}
}

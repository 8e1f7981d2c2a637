// Package storage is the attachment blob store. Blobs are addressed by
// the hex BLAKE3 digest of their content, so writing the same bytes twice
// yields the same key and one stored copy.
package storage

import (
	"context"
	"encoding/hex"
	"errors"
	"io"
	"regexp"

	"github.com/zeebo/blake3"
)

// ErrNotFound is returned for keys that were never stored or were deleted.
var ErrNotFound = errors.New("storage: blob not found")

// ErrTooLarge is returned by LimitReader once more than the allowed
// number of bytes has been read.
var ErrTooLarge = errors.New("storage: blob exceeds size limit")

// Store is the attachment store boundary.
type Store interface {
	// Put consumes r and stores its content. The write is all-or-nothing:
	// if r returns an error, nothing becomes visible under any key.
	Put(ctx context.Context, r io.Reader, declaredMime string) (key string, size int64, err error)

	// Get returns the original (uncompressed) bytes.
	Get(ctx context.Context, key string) ([]byte, error)

	// SizeOf returns the original size without reading the content.
	SizeOf(ctx context.Context, key string) (int64, error)

	// Delete removes the blob. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
}

// KeyOf computes the content address for data.
func KeyOf(data []byte) string {
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:])
}

var keyPattern = regexp.MustCompile(`^[0-9a-f]{64}$`)

// ValidKey reports whether key has the shape of a content address. Used
// to keep arbitrary path segments out of filesystem lookups.
func ValidKey(key string) bool {
	return keyPattern.MatchString(key)
}

// LimitReader wraps r so that reading more than limit bytes fails with
// ErrTooLarge instead of silently truncating like io.LimitReader.
func LimitReader(r io.Reader, limit int64) io.Reader {
	return &limitedReader{r: r, remaining: limit}
}

type limitedReader struct {
	r         io.Reader
	remaining int64
}

func (l *limitedReader) Read(p []byte) (int, error) {
	if l.remaining < 0 {
		return 0, ErrTooLarge
	}
	// Read one byte past the limit so an exactly-sized input still
	// reaches EOF cleanly.
	if int64(len(p)) > l.remaining+1 {
		p = p[:l.remaining+1]
	}
	n, err := l.r.Read(p)
	l.remaining -= int64(n)
	if l.remaining < 0 {
		return n, ErrTooLarge
	}
	return n, err
}

package storage

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/zeebo/blake3"
)

// Every blob file starts with a fixed header: one compression tag byte
// followed by the original size as a big-endian uint64. SizeOf only has
// to read these nine bytes.
const headerSize = 9

const (
	compressionNone byte = 0
	compressionZstd byte = 1
)

var zstdDecoder *zstd.Decoder

func init() {
	var err error
	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("storage: zstd decoder initialization failed: " + err.Error())
	}
}

// FSStore keeps blobs on the local filesystem under root, sharded by the
// first two hex characters of the key.
type FSStore struct {
	root string
}

// NewFSStore creates root if needed.
func NewFSStore(root string) (*FSStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create attachment dir: %w", err)
	}
	return &FSStore{root: root}, nil
}

var _ Store = (*FSStore)(nil)

func (s *FSStore) path(key string) string {
	return filepath.Join(s.root, key[:2], key)
}

// Put streams r into a temp file while hashing it, then renames the file
// to its content address. Text-like content is zstd-compressed on the
// way; media formats are already compressed and are stored as-is.
func (s *FSStore) Put(ctx context.Context, r io.Reader, declaredMime string) (string, int64, error) {
	tmp, err := os.CreateTemp(s.root, ".upload-*")
	if err != nil {
		return "", 0, fmt.Errorf("create temp blob: %w", err)
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			tmp.Close()
			os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(make([]byte, headerSize)); err != nil {
		return "", 0, fmt.Errorf("reserve blob header: %w", err)
	}

	tag := compressionNone
	if compressible(declaredMime) {
		tag = compressionZstd
	}

	hasher := blake3.New()
	source := io.TeeReader(&contextReader{ctx: ctx, r: r}, hasher)

	var size int64
	if tag == compressionZstd {
		encoder, err := zstd.NewWriter(tmp, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			return "", 0, fmt.Errorf("create zstd writer: %w", err)
		}
		size, err = io.Copy(encoder, source)
		if err != nil {
			encoder.Close()
			return "", 0, fmt.Errorf("write blob: %w", err)
		}
		if err := encoder.Close(); err != nil {
			return "", 0, fmt.Errorf("flush zstd writer: %w", err)
		}
	} else {
		size, err = io.Copy(tmp, source)
		if err != nil {
			return "", 0, fmt.Errorf("write blob: %w", err)
		}
	}

	header := make([]byte, headerSize)
	header[0] = tag
	binary.BigEndian.PutUint64(header[1:], uint64(size))
	if _, err := tmp.WriteAt(header, 0); err != nil {
		return "", 0, fmt.Errorf("write blob header: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return "", 0, fmt.Errorf("sync blob: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", 0, fmt.Errorf("close blob: %w", err)
	}

	key := hex.EncodeToString(hasher.Sum(nil))
	final := s.path(key)
	if _, err := os.Stat(final); err == nil {
		// Same content already stored.
		os.Remove(tmpName)
		committed = true
		return key, size, nil
	}
	if err := os.MkdirAll(filepath.Dir(final), 0o755); err != nil {
		return "", 0, fmt.Errorf("create blob shard: %w", err)
	}
	if err := os.Rename(tmpName, final); err != nil {
		return "", 0, fmt.Errorf("commit blob: %w", err)
	}
	committed = true
	return key, size, nil
}

func (s *FSStore) Get(ctx context.Context, key string) ([]byte, error) {
	if !ValidKey(key) {
		return nil, ErrNotFound
	}
	raw, err := os.ReadFile(s.path(key))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("read blob: %w", err)
	}
	if len(raw) < headerSize {
		return nil, fmt.Errorf("blob %s: truncated header", key)
	}
	tag := raw[0]
	size := binary.BigEndian.Uint64(raw[1:headerSize])
	body := raw[headerSize:]

	switch tag {
	case compressionNone:
		if uint64(len(body)) != size {
			return nil, fmt.Errorf("blob %s: size %d does not match header %d", key, len(body), size)
		}
		return body, nil
	case compressionZstd:
		out, err := zstdDecoder.DecodeAll(body, make([]byte, 0, size))
		if err != nil {
			return nil, fmt.Errorf("blob %s: zstd decompress: %w", key, err)
		}
		if uint64(len(out)) != size {
			return nil, fmt.Errorf("blob %s: decompressed %d bytes, expected %d", key, len(out), size)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("blob %s: unknown compression tag %d", key, tag)
	}
}

func (s *FSStore) SizeOf(ctx context.Context, key string) (int64, error) {
	if !ValidKey(key) {
		return 0, ErrNotFound
	}
	f, err := os.Open(s.path(key))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, ErrNotFound
		}
		return 0, fmt.Errorf("open blob: %w", err)
	}
	defer f.Close()

	header := make([]byte, headerSize)
	if _, err := io.ReadFull(f, header); err != nil {
		return 0, fmt.Errorf("read blob header: %w", err)
	}
	return int64(binary.BigEndian.Uint64(header[1:])), nil
}

func (s *FSStore) Delete(ctx context.Context, key string) error {
	if !ValidKey(key) {
		return nil
	}
	if err := os.Remove(s.path(key)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("delete blob: %w", err)
	}
	return nil
}

// compressible picks zstd for text-like payloads.
func compressible(mime string) bool {
	mime = strings.ToLower(mime)
	switch {
	case strings.HasPrefix(mime, "text/"):
		return true
	case strings.Contains(mime, "json"), strings.Contains(mime, "xml"),
		strings.Contains(mime, "javascript"), strings.Contains(mime, "csv"):
		return true
	}
	return false
}

// contextReader stops a long upload once the request is gone.
type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}

package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// BlobLocks takes a session-level advisory lock per blob key, so the
// server nodes and the worker agree on who may touch a blob's references.
// The lock lives on one pooled connection until unlock.
type BlobLocks struct {
	pool *pgxpool.Pool
}

func NewBlobLocks(pool *pgxpool.Pool) *BlobLocks {
	return &BlobLocks{pool: pool}
}

func (b *BlobLocks) LockBlob(ctx context.Context, key string) (func(), error) {
	conn, err := b.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire lock connection: %w", err)
	}
	if _, err := conn.Exec(ctx, `SELECT pg_advisory_lock(hashtextextended($1, 0))`, "blob:"+key); err != nil {
		conn.Release()
		return nil, fmt.Errorf("lock blob %s: %w", key, err)
	}

	return func() {
		ctx := context.Background()
		if _, err := conn.Exec(ctx, `SELECT pg_advisory_unlock(hashtextextended($1, 0))`, "blob:"+key); err != nil {
			// Closing the session drops every lock it held.
			_ = conn.Conn().Close(ctx)
		}
		conn.Release()
	}, nil
}

package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lalith-99/chatline/internal/models"
)

type LinkStore struct {
	pool *pgxpool.Pool
}

func NewLinkStore(pool *pgxpool.Pool) *LinkStore {
	return &LinkStore{pool: pool}
}

func (s *LinkStore) Create(ctx context.Context, userID uuid.UUID, url, name string) (*models.Link, error) {
	query := `
		WITH inserted AS (
			INSERT INTO links (id, user_id, url, name, created_at)
			VALUES ($1, $2, $3, $4, now())
			RETURNING id, user_id, url, name, created_at
		)
		SELECT i.id, i.user_id, i.url, i.name, COALESCE(p.image_key, ''), i.created_at
		FROM inserted i
		LEFT JOIN link_previews p ON p.url = i.url`

	var l models.Link
	err := s.pool.QueryRow(ctx, query, uuid.New(), userID, url, name).Scan(
		&l.ID, &l.UserID, &l.URL, &l.Name, &l.PreviewKey, &l.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert link: %w", err)
	}
	return &l, nil
}

func (s *LinkStore) ListByUser(ctx context.Context, userID uuid.UUID) ([]models.Link, error) {
	query := `
		SELECT l.id, l.user_id, l.url, l.name, COALESCE(p.image_key, ''), l.created_at
		FROM links l
		LEFT JOIN link_previews p ON p.url = l.url
		WHERE l.user_id = $1
		ORDER BY l.created_at DESC`

	rows, err := s.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("list links: %w", err)
	}
	defer rows.Close()

	links := make([]models.Link, 0)
	for rows.Next() {
		var l models.Link
		if err := rows.Scan(&l.ID, &l.UserID, &l.URL, &l.Name, &l.PreviewKey, &l.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan link: %w", err)
		}
		links = append(links, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate links: %w", err)
	}
	return links, nil
}

func (s *LinkStore) GetPreview(ctx context.Context, url string) (string, error) {
	var key string
	err := s.pool.QueryRow(ctx, `SELECT image_key FROM link_previews WHERE url = $1`, url).Scan(&key)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("get link preview: %w", err)
	}
	return key, nil
}

func (s *LinkStore) SavePreview(ctx context.Context, url, key string) error {
	query := `
		INSERT INTO link_previews (url, image_key, fetched_at)
		VALUES ($1, $2, now())
		ON CONFLICT (url) DO UPDATE SET image_key = EXCLUDED.image_key, fetched_at = now()`

	if _, err := s.pool.Exec(ctx, query, url, key); err != nil {
		return fmt.Errorf("save link preview: %w", err)
	}
	return nil
}

func (s *LinkStore) PreviewInUse(ctx context.Context, key string) (bool, error) {
	var inUse bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM link_previews WHERE image_key = $1)`, key).Scan(&inUse)
	if err != nil {
		return false, fmt.Errorf("check preview reference: %w", err)
	}
	return inUse, nil
}

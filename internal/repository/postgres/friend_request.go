package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lalith-99/chatline/internal/chat"
	"github.com/lalith-99/chatline/internal/models"
)

const friendRequestColumns = `id, from_user, to_user, invite_message, group_id, status, created_at`

type FriendRequestStore struct {
	pool *pgxpool.Pool
}

func NewFriendRequestStore(pool *pgxpool.Pool) *FriendRequestStore {
	return &FriendRequestStore{pool: pool}
}

func scanFriendRequest(row pgx.Row) (*models.FriendRequest, error) {
	var r models.FriendRequest
	err := row.Scan(
		&r.ID,
		&r.FromUser,
		&r.ToUser,
		&r.InviteMessage,
		&r.GroupID,
		&r.Status,
		&r.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *FriendRequestStore) Create(ctx context.Context, req *models.FriendRequest) (*models.FriendRequest, error) {
	query := `
		INSERT INTO friend_requests (id, from_user, to_user, invite_message, group_id, status, created_at)
		VALUES ($1, $2, $3, $4, $5, 'pending', now())
		RETURNING ` + friendRequestColumns

	r, err := scanFriendRequest(s.pool.QueryRow(ctx, query,
		uuid.New(), req.FromUser, req.ToUser, req.InviteMessage, req.GroupID))
	if err != nil {
		if isForeignKeyViolation(err) {
			return nil, fmt.Errorf("insert friend request: unknown user: %w", chat.ErrNotFound)
		}
		return nil, fmt.Errorf("insert friend request: %w", err)
	}
	return r, nil
}

func (s *FriendRequestStore) GetByID(ctx context.Context, requestID uuid.UUID) (*models.FriendRequest, error) {
	query := `
		SELECT ` + friendRequestColumns + `
		FROM friend_requests
		WHERE id = $1`

	r, err := scanFriendRequest(s.pool.QueryRow(ctx, query, requestID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get friend request: %w", err)
	}
	return r, nil
}

func (s *FriendRequestStore) ListIncoming(ctx context.Context, userID uuid.UUID) ([]models.FriendRequest, error) {
	query := `
		SELECT ` + friendRequestColumns + `
		FROM friend_requests
		WHERE to_user = $1 AND status = 'pending'
		ORDER BY created_at DESC`

	rows, err := s.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("list friend requests: %w", err)
	}
	defer rows.Close()

	requests := make([]models.FriendRequest, 0)
	for rows.Next() {
		r, err := scanFriendRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("scan friend request: %w", err)
		}
		requests = append(requests, *r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate friend requests: %w", err)
	}
	return requests, nil
}

func (s *FriendRequestStore) SetStatus(ctx context.Context, requestID uuid.UUID, status models.FriendRequestStatus) error {
	tag, err := s.pool.Exec(ctx, `UPDATE friend_requests SET status = $2 WHERE id = $1`, requestID, string(status))
	if err != nil {
		return fmt.Errorf("update friend request: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update friend request: %w", chat.ErrNotFound)
	}
	return nil
}

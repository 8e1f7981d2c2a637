package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lalith-99/chatline/internal/chat"
	"github.com/lalith-99/chatline/internal/models"
)

type MembershipStore struct {
	pool *pgxpool.Pool
}

func NewMembershipStore(pool *pgxpool.Pool) *MembershipStore {
	return &MembershipStore{pool: pool}
}

// execer is satisfied by both the pool and a transaction.
type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// addMember is idempotent: ON CONFLICT DO NOTHING turns a second join
// into a no-op instead of a primary key violation.
func addMember(ctx context.Context, db execer, conversationID, userID uuid.UUID, role string) error {
	query := `
		INSERT INTO conversation_members (conversation_id, user_id, role, joined_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (conversation_id, user_id) DO NOTHING`

	_, err := db.Exec(ctx, query, conversationID, userID, role)
	return err
}

func (s *MembershipStore) AddMember(ctx context.Context, conversationID, userID uuid.UUID, role string) error {
	if err := addMember(ctx, s.pool, conversationID, userID, role); err != nil {
		if isForeignKeyViolation(err) {
			return fmt.Errorf("add member: %w", chat.ErrNotFound)
		}
		return fmt.Errorf("add member: %w", err)
	}
	return nil
}

// RemoveMember deletes zero rows for a non-member, which is not an error.
func (s *MembershipStore) RemoveMember(ctx context.Context, conversationID, userID uuid.UUID) error {
	query := `
		DELETE FROM conversation_members
		WHERE conversation_id = $1 AND user_id = $2`

	_, err := s.pool.Exec(ctx, query, conversationID, userID)
	if err != nil {
		return fmt.Errorf("remove member: %w", err)
	}
	return nil
}

func (s *MembershipStore) ListMembers(ctx context.Context, conversationID uuid.UUID) ([]models.Member, error) {
	query := `
		SELECT conversation_id, user_id, role, joined_at
		FROM conversation_members
		WHERE conversation_id = $1
		ORDER BY joined_at`

	rows, err := s.pool.Query(ctx, query, conversationID)
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	defer rows.Close()

	members := make([]models.Member, 0)
	for rows.Next() {
		var m models.Member
		if err := rows.Scan(&m.ConversationID, &m.UserID, &m.Role, &m.JoinedAt); err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		members = append(members, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate members: %w", err)
	}

	return members, nil
}

// IsMember runs before every send and subscribe. EXISTS stops at the
// first matching row.
func (s *MembershipStore) IsMember(ctx context.Context, conversationID, userID uuid.UUID) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM conversation_members
			WHERE conversation_id = $1 AND user_id = $2
		)`

	var exists bool
	err := s.pool.QueryRow(ctx, query, conversationID, userID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check membership: %w", err)
	}
	return exists, nil
}

var _ execer = (pgx.Tx)(nil)

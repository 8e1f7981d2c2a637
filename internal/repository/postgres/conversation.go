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

const conversationColumns = `id, kind, name, show_name, about, owner_id, user_a, user_b, image_key, last_seq, created_at`

type ConversationStore struct {
	pool *pgxpool.Pool
}

func NewConversationStore(pool *pgxpool.Pool) *ConversationStore {
	return &ConversationStore{pool: pool}
}

func scanConversation(row pgx.Row) (*models.Conversation, error) {
	var c models.Conversation
	err := row.Scan(
		&c.ID,
		&c.Kind,
		&c.Name,
		&c.ShowName,
		&c.About,
		&c.OwnerID,
		&c.UserA,
		&c.UserB,
		&c.ImageKey,
		&c.LastSeq,
		&c.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// CreateRoom inserts the room and the owner's membership in one
// transaction. The partial unique index on room names reports a taken
// name as chat.ErrConflict.
func (s *ConversationStore) CreateRoom(ctx context.Context, ownerID uuid.UUID, name, showName, about string) (*models.Conversation, error) {
	var room *models.Conversation
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		query := `
			INSERT INTO conversations (id, kind, name, show_name, about, owner_id, created_at)
			VALUES ($1, 'room', $2, $3, $4, $5, now())
			RETURNING ` + conversationColumns

		var err error
		room, err = scanConversation(tx.QueryRow(ctx, query, uuid.New(), name, showName, about, ownerID))
		if err != nil {
			return err
		}
		return addMember(ctx, tx, room.ID, ownerID, models.RoleOwner)
	})
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("insert room %q: %w", name, chat.ErrConflict)
		}
		return nil, fmt.Errorf("insert room: %w", err)
	}
	return room, nil
}

func (s *ConversationStore) CreateGroup(ctx context.Context, ownerID uuid.UUID, name, about string, memberIDs []uuid.UUID) (*models.Conversation, error) {
	var group *models.Conversation
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		query := `
			INSERT INTO conversations (id, kind, name, show_name, about, owner_id, created_at)
			VALUES ($1, 'group', $2, $2, $3, $4, now())
			RETURNING ` + conversationColumns

		var err error
		group, err = scanConversation(tx.QueryRow(ctx, query, uuid.New(), name, about, ownerID))
		if err != nil {
			return err
		}
		if err := addMember(ctx, tx, group.ID, ownerID, models.RoleOwner); err != nil {
			return err
		}
		for _, id := range memberIDs {
			if err := addMember(ctx, tx, group.ID, id, models.RoleMember); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		if isForeignKeyViolation(err) {
			return nil, fmt.Errorf("insert group: unknown member: %w", chat.ErrInvalidInput)
		}
		return nil, fmt.Errorf("insert group: %w", err)
	}
	return group, nil
}

// EnsureFriendPair relies on the partial unique index over (user_a,
// user_b): of two concurrent inserts one wins, the other does nothing,
// and both read back the same row.
func (s *ConversationStore) EnsureFriendPair(ctx context.Context, a, b uuid.UUID) (*models.Conversation, error) {
	insert := `
		INSERT INTO conversations (id, kind, user_a, user_b, created_at)
		VALUES ($1, 'friend_pair', $2, $3, now())
		ON CONFLICT (user_a, user_b) WHERE kind = 'friend_pair' DO NOTHING`

	if _, err := s.pool.Exec(ctx, insert, uuid.New(), a, b); err != nil {
		if isForeignKeyViolation(err) {
			return nil, fmt.Errorf("insert friend pair: unknown user: %w", chat.ErrInvalidInput)
		}
		return nil, fmt.Errorf("insert friend pair: %w", err)
	}

	query := `
		SELECT ` + conversationColumns + `
		FROM conversations
		WHERE kind = 'friend_pair' AND user_a = $1 AND user_b = $2`

	c, err := scanConversation(s.pool.QueryRow(ctx, query, a, b))
	if err != nil {
		return nil, fmt.Errorf("get friend pair: %w", err)
	}
	return c, nil
}

func (s *ConversationStore) GetByID(ctx context.Context, conversationID uuid.UUID) (*models.Conversation, error) {
	query := `
		SELECT ` + conversationColumns + `
		FROM conversations
		WHERE id = $1`

	c, err := scanConversation(s.pool.QueryRow(ctx, query, conversationID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get conversation: %w", err)
	}
	return c, nil
}

func (s *ConversationStore) ListForUser(ctx context.Context, userID uuid.UUID) ([]models.Conversation, error) {
	query := `
		SELECT ` + conversationColumns + `
		FROM conversations c
		WHERE c.user_a = $1 OR c.user_b = $1
		   OR EXISTS (
				SELECT 1 FROM conversation_members m
				WHERE m.conversation_id = c.id AND m.user_id = $1
		   )
		ORDER BY c.created_at DESC`

	rows, err := s.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	conversations := make([]models.Conversation, 0)
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		conversations = append(conversations, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate conversations: %w", err)
	}

	return conversations, nil
}

// Delete locks the conversation row, so no append can commit between
// collecting the attachment keys and removing the messages. Members and
// messages go through ON DELETE CASCADE.
func (s *ConversationStore) Delete(ctx context.Context, conversationID uuid.UUID) ([]string, error) {
	var keys []string
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		var id uuid.UUID
		err := tx.QueryRow(ctx, `SELECT id FROM conversations WHERE id = $1 FOR UPDATE`, conversationID).Scan(&id)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return chat.ErrNotFound
			}
			return err
		}

		rows, err := tx.Query(ctx, `
			SELECT DISTINCT attachment_key
			FROM messages
			WHERE conversation_id = $1 AND attachment_key IS NOT NULL`, conversationID)
		if err != nil {
			return err
		}
		keys, err = pgx.CollectRows(rows, pgx.RowTo[string])
		if err != nil {
			return err
		}

		_, err = tx.Exec(ctx, `DELETE FROM conversations WHERE id = $1`, conversationID)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("delete conversation: %w", err)
	}
	return keys, nil
}

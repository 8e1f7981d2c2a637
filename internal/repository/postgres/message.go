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

const messageColumns = `id, conversation_id, seq, sender_id, body, created_at,
	attachment_key, attachment_name, attachment_size, attachment_mime, attachment_cat`

type MessageStore struct {
	pool *pgxpool.Pool
}

func NewMessageStore(pool *pgxpool.Pool) *MessageStore {
	return &MessageStore{pool: pool}
}

func scanMessage(row pgx.Row) (models.Message, error) {
	var (
		m                      models.Message
		key, name, mime, categ *string
		size                   *int64
	)
	err := row.Scan(
		&m.ID,
		&m.ConversationID,
		&m.Seq,
		&m.SenderID,
		&m.Body,
		&m.CreatedAt,
		&key,
		&name,
		&size,
		&mime,
		&categ,
	)
	if err != nil {
		return models.Message{}, err
	}
	if key != nil {
		m.Attachment = &models.Attachment{Key: *key}
		if name != nil {
			m.Attachment.Name = *name
		}
		if size != nil {
			m.Attachment.Size = *size
		}
		if mime != nil {
			m.Attachment.MimeType = *mime
		}
		m.Attachment.Category = models.CategoryUnknown
		if categ != nil {
			m.Attachment.Category = *categ
		}
	}
	return m, nil
}

// Append is the sequencer. The UPDATE takes the conversation's row lock
// and bumps last_seq; the lock is held until the message row commits, so
// concurrent appends to one conversation get consecutive keys and a
// rolled-back append leaves no gap.
func (s *MessageStore) Append(ctx context.Context, msg *models.Message) (*models.Message, error) {
	out := *msg
	out.ID = uuid.New()

	var key, name, mime, categ *string
	var size *int64
	if a := msg.Attachment; a != nil {
		att := *a
		out.Attachment = &att
		key, name, mime, categ = &att.Key, &att.Name, &att.MimeType, &att.Category
		size = &att.Size
	}

	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `
			UPDATE conversations SET last_seq = last_seq + 1
			WHERE id = $1
			RETURNING last_seq`, msg.ConversationID).Scan(&out.Seq)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return chat.ErrNotFound
			}
			return err
		}

		return tx.QueryRow(ctx, `
			INSERT INTO messages (id, conversation_id, seq, sender_id, body, created_at,
				attachment_key, attachment_name, attachment_size, attachment_mime, attachment_cat)
			VALUES ($1, $2, $3, $4, $5, now(), $6, $7, $8, $9, $10)
			RETURNING created_at`,
			out.ID, out.ConversationID, out.Seq, out.SenderID, out.Body,
			key, name, size, mime, categ,
		).Scan(&out.CreatedAt)
	})
	if err != nil {
		if isContention(err) {
			return nil, fmt.Errorf("append message: %w", chat.ErrSequencerContention)
		}
		return nil, fmt.Errorf("append message: %w", err)
	}
	return &out, nil
}

func (s *MessageStore) ListSince(ctx context.Context, conversationID uuid.UUID, after int64, limit int) ([]models.Message, error) {
	query := `
		SELECT ` + messageColumns + `
		FROM messages
		WHERE conversation_id = $1 AND seq > $2
		ORDER BY seq
		LIMIT $3`

	rows, err := s.pool.Query(ctx, query, conversationID, after, limit)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	messages := make([]models.Message, 0)
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}

	return messages, nil
}

func (s *MessageStore) AttachmentInUse(ctx context.Context, key string) (bool, error) {
	var inUse bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM messages WHERE attachment_key = $1)
		    OR EXISTS (SELECT 1 FROM link_previews WHERE image_key = $1)`, key).Scan(&inUse)
	if err != nil {
		return false, fmt.Errorf("check attachment reference: %w", err)
	}
	return inUse, nil
}

func (s *MessageStore) ConversationsWithAttachment(ctx context.Context, key string) ([]uuid.UUID, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT DISTINCT conversation_id
		FROM messages
		WHERE attachment_key = $1`, key)
	if err != nil {
		return nil, fmt.Errorf("find attachment conversations: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
	if err != nil {
		return nil, fmt.Errorf("scan attachment conversations: %w", err)
	}
	return ids, nil
}

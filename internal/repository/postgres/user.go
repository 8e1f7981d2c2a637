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

const userColumns = `id, email, display_name, password_hash, avatar_key, created_at`

type UserStore struct {
	pool *pgxpool.Pool
}

func NewUserStore(pool *pgxpool.Pool) *UserStore {
	return &UserStore{pool: pool}
}

func scanUser(row pgx.Row) (*models.User, error) {
	var u models.User
	err := row.Scan(
		&u.ID,
		&u.Email,
		&u.DisplayName,
		&u.PasswordHash,
		&u.AvatarKey,
		&u.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// Create inserts a new user row. A taken email is chat.ErrConflict.
func (s *UserStore) Create(ctx context.Context, email, displayName, passwordHash string) (*models.User, error) {
	query := `
		INSERT INTO users (id, email, display_name, password_hash, created_at)
		VALUES ($1, $2, $3, $4, now())
		RETURNING ` + userColumns

	u, err := scanUser(s.pool.QueryRow(ctx, query, uuid.New(), email, displayName, passwordHash))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("insert user: %w", chat.ErrConflict)
		}
		return nil, fmt.Errorf("insert user: %w", err)
	}
	return u, nil
}

func (s *UserStore) GetByID(ctx context.Context, userID uuid.UUID) (*models.User, error) {
	query := `
		SELECT ` + userColumns + `
		FROM users
		WHERE id = $1`

	u, err := scanUser(s.pool.QueryRow(ctx, query, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

// GetByEmail is the login lookup.
func (s *UserStore) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	query := `
		SELECT ` + userColumns + `
		FROM users
		WHERE email = $1`

	u, err := scanUser(s.pool.QueryRow(ctx, query, email))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get user by email: %w", err)
	}
	return u, nil
}

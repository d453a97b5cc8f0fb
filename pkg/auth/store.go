package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// PostgresTokenStore implements TokenStore using PostgreSQL
type PostgresTokenStore struct {
	db *sql.DB
}

// NewPostgresTokenStore creates a new PostgresTokenStore
func NewPostgresTokenStore(db *sql.DB) *PostgresTokenStore {
	return &PostgresTokenStore{db: db}
}

// FindByHash loads a token and its owner
func (s *PostgresTokenStore) FindByHash(ctx context.Context, tokenHash string) (*APIToken, *User, error) {
	query := `
		SELECT t.id, t.user_id, t.token_prefix, t.name, t.expires_at, t.created_at, t.revoked_at,
		       u.id, u.email, u.full_name, u.is_manager, u.is_active, u.customer_id, u.created_at
		FROM api_tokens t
		JOIN users u ON u.id = t.user_id
		WHERE t.token_hash = $1
	`
	token := &APIToken{TokenHash: tokenHash}
	user := &User{}
	var expiresAt, revokedAt sql.NullTime
	var fullName, customerID sql.NullString
	err := s.db.QueryRowContext(ctx, query, tokenHash).Scan(
		&token.ID, &token.UserID, &token.TokenPrefix, &token.Name, &expiresAt, &token.CreatedAt, &revokedAt,
		&user.ID, &user.Email, &fullName, &user.IsManager, &user.IsActive, &customerID, &user.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil, ErrTokenNotFound
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get token: %w", err)
	}

	if expiresAt.Valid {
		token.ExpiresAt = &expiresAt.Time
	}
	if revokedAt.Valid {
		token.RevokedAt = &revokedAt.Time
	}
	user.FullName = fullName.String
	if customerID.Valid {
		user.CustomerID = &customerID.String
	}

	return token, user, nil
}

// InsertToken stores a new token
func (s *PostgresTokenStore) InsertToken(ctx context.Context, token *APIToken) error {
	query := `
		INSERT INTO api_tokens (user_id, token_hash, token_prefix, name, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`
	err := s.db.QueryRowContext(ctx, query, token.UserID, token.TokenHash, token.TokenPrefix,
		token.Name, token.ExpiresAt, token.CreatedAt).Scan(&token.ID)
	if err != nil {
		return fmt.Errorf("failed to insert token: %w", err)
	}
	return nil
}

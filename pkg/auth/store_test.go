package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var tokenColumns = []string{
	"id", "user_id", "token_prefix", "name", "expires_at", "created_at", "revoked_at",
	"id", "email", "full_name", "is_manager", "is_active", "customer_id", "created_at",
}

func TestPostgresTokenStore_FindByHash(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewPostgresTokenStore(db)
	now := time.Now()

	t.Run("found", func(t *testing.T) {
		mock.ExpectQuery("SELECT (.+) FROM api_tokens t JOIN users u").
			WithArgs("hash1").
			WillReturnRows(sqlmock.NewRows(tokenColumns).
				AddRow(1, 7, "sbk_abcdefgh", "console", nil, now, nil,
					7, "manager@school.test", "Pat Manager", true, true, "cus_123", now))

		token, user, err := store.FindByHash(context.Background(), "hash1")
		require.NoError(t, err)
		assert.Equal(t, int64(1), token.ID)
		assert.Equal(t, "hash1", token.TokenHash)
		assert.Nil(t, token.ExpiresAt)
		assert.Nil(t, token.RevokedAt)
		assert.Equal(t, "manager@school.test", user.Email)
		require.NotNil(t, user.CustomerID)
		assert.Equal(t, "cus_123", *user.CustomerID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("not found", func(t *testing.T) {
		mock.ExpectQuery("SELECT (.+) FROM api_tokens t JOIN users u").
			WithArgs("missing").
			WillReturnRows(sqlmock.NewRows(tokenColumns))

		_, _, err := store.FindByHash(context.Background(), "missing")
		assert.ErrorIs(t, err, ErrTokenNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("database error", func(t *testing.T) {
		mock.ExpectQuery("SELECT (.+) FROM api_tokens t JOIN users u").
			WithArgs("hash2").
			WillReturnError(errors.New("timeout"))

		_, _, err := store.FindByHash(context.Background(), "hash2")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to get token")
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPostgresTokenStore_InsertToken(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewPostgresTokenStore(db)
	token := &APIToken{UserID: 7, TokenHash: "h", TokenPrefix: "sbk_abcdefgh", Name: "ci", CreatedAt: time.Now()}

	mock.ExpectQuery("INSERT INTO api_tokens").
		WithArgs(int64(7), "h", "sbk_abcdefgh", "ci", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(42))

	require.NoError(t, store.InsertToken(context.Background(), token))
	assert.Equal(t, int64(42), token.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

const (
	// TokenPrefix identifies school billing tokens
	TokenPrefix = "sbk_"
	// TokenLength is the total length of random bytes (32 bytes = 256 bits)
	TokenLength = 32
)

var (
	// ErrInvalidToken is returned for malformed, unknown, revoked or expired tokens
	ErrInvalidToken = errors.New("invalid or expired token")
	// ErrTokenNotFound is returned by stores when no token matches the hash
	ErrTokenNotFound = errors.New("token not found")
)

// TokenGenerator generates and validates API tokens
type TokenGenerator struct{}

// NewTokenGenerator creates a new token generator
func NewTokenGenerator() *TokenGenerator {
	return &TokenGenerator{}
}

// GenerateToken creates a new API token
// Format: sbk_<base64url(32 random bytes)>
func (tg *TokenGenerator) GenerateToken() (token string, tokenHash string, tokenPrefix string, err error) {
	randomBytes := make([]byte, TokenLength)
	if _, err := rand.Read(randomBytes); err != nil {
		return "", "", "", fmt.Errorf("failed to generate random bytes: %w", err)
	}

	encodedToken := base64.RawURLEncoding.EncodeToString(randomBytes)
	fullToken := TokenPrefix + encodedToken

	return fullToken, tg.HashToken(fullToken), tg.ExtractPrefix(fullToken), nil
}

// HashToken computes the SHA256 hash of a token for lookup
func (tg *TokenGenerator) HashToken(token string) string {
	hash := sha256.Sum256([]byte(token))
	return hex.EncodeToString(hash[:])
}

// ValidateTokenFormat checks if a token has the correct format
func (tg *TokenGenerator) ValidateTokenFormat(token string) error {
	if !strings.HasPrefix(token, TokenPrefix) {
		return fmt.Errorf("token must start with %q", TokenPrefix)
	}

	encodedPart := strings.TrimPrefix(token, TokenPrefix)
	if len(encodedPart) == 0 {
		return fmt.Errorf("token is too short")
	}

	if _, err := base64.RawURLEncoding.DecodeString(encodedPart); err != nil {
		return fmt.Errorf("invalid token encoding: %w", err)
	}

	return nil
}

// ExtractPrefix extracts the prefix from a token for display
func (tg *TokenGenerator) ExtractPrefix(token string) string {
	if !strings.HasPrefix(token, TokenPrefix) {
		return ""
	}

	encodedPart := strings.TrimPrefix(token, TokenPrefix)
	if len(encodedPart) >= 8 {
		return TokenPrefix + encodedPart[:8]
	}

	return token
}

// TokenStore persists tokens and resolves them to users
type TokenStore interface {
	FindByHash(ctx context.Context, tokenHash string) (*APIToken, *User, error)
	InsertToken(ctx context.Context, token *APIToken) error
}

// TokenManager manages API token lifecycle
type TokenManager struct {
	generator *TokenGenerator
	store     TokenStore
	cache     *expirable.LRU[string, *AuthContext]
	now       func() time.Time
}

// NewTokenManager creates a new token manager. Validated tokens are cached for ttl;
// a zero cacheSize disables the cache.
func NewTokenManager(store TokenStore, cacheSize int, ttl time.Duration) *TokenManager {
	tm := &TokenManager{
		generator: NewTokenGenerator(),
		store:     store,
		now:       time.Now,
	}
	if cacheSize > 0 {
		tm.cache = expirable.NewLRU[string, *AuthContext](cacheSize, nil, ttl)
	}
	return tm
}

// CreateToken creates and stores a new API token. The plaintext token is returned once.
func (tm *TokenManager) CreateToken(ctx context.Context, userID int64, name string, expiresAt *time.Time) (*APIToken, string, error) {
	token, tokenHash, tokenPrefix, err := tm.generator.GenerateToken()
	if err != nil {
		return nil, "", fmt.Errorf("failed to generate token: %w", err)
	}

	apiToken := &APIToken{
		UserID:      userID,
		TokenHash:   tokenHash,
		TokenPrefix: tokenPrefix,
		Name:        name,
		ExpiresAt:   expiresAt,
		CreatedAt:   tm.now(),
	}

	if err := tm.store.InsertToken(ctx, apiToken); err != nil {
		return nil, "", fmt.Errorf("failed to store token: %w", err)
	}

	return apiToken, token, nil
}

// ValidateToken resolves a bearer token to its auth context
func (tm *TokenManager) ValidateToken(ctx context.Context, token string) (*AuthContext, error) {
	if err := tm.generator.ValidateTokenFormat(token); err != nil {
		return nil, ErrInvalidToken
	}

	tokenHash := tm.generator.HashToken(token)
	if tm.cache != nil {
		if authCtx, ok := tm.cache.Get(tokenHash); ok && authCtx.Token.IsUsable(tm.now()) {
			return authCtx, nil
		}
	}

	apiToken, user, err := tm.store.FindByHash(ctx, tokenHash)
	if errors.Is(err, ErrTokenNotFound) {
		return nil, ErrInvalidToken
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up token: %w", err)
	}
	if !apiToken.IsUsable(tm.now()) || !user.IsActive {
		return nil, ErrInvalidToken
	}

	authCtx := &AuthContext{User: user, Token: apiToken}
	if tm.cache != nil {
		tm.cache.Add(tokenHash, authCtx)
	}
	return authCtx, nil
}

// ForgetUser drops every cached auth context of a user, so the next request
// reloads the user's row. Returns how many entries were dropped.
func (tm *TokenManager) ForgetUser(userID int64) int {
	if tm.cache == nil {
		return 0
	}
	dropped := 0
	for _, tokenHash := range tm.cache.Keys() {
		if authCtx, ok := tm.cache.Peek(tokenHash); ok && authCtx.User != nil && authCtx.User.ID == userID {
			if tm.cache.Remove(tokenHash) {
				dropped++
			}
		}
	}
	return dropped
}

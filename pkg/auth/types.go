package auth

import "time"

// User is an authenticated account
type User struct {
	ID         int64     `json:"id"`
	Email      string    `json:"email"`
	FullName   string    `json:"full_name,omitempty"`
	IsManager  bool      `json:"is_manager"`
	IsActive   bool      `json:"is_active"`
	CustomerID *string   `json:"customer,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// APIToken represents an API token
type APIToken struct {
	ID          int64      `json:"id"`
	UserID      int64      `json:"user_id"`
	TokenHash   string     `json:"-"` // Never expose hash
	TokenPrefix string     `json:"token_prefix"`
	Name        string     `json:"name"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	RevokedAt   *time.Time `json:"revoked_at,omitempty"`
}

// IsUsable reports whether the token is neither revoked nor expired at now
func (t *APIToken) IsUsable(now time.Time) bool {
	if t.RevokedAt != nil {
		return false
	}
	if t.ExpiresAt != nil && !now.Before(*t.ExpiresAt) {
		return false
	}
	return true
}

// AuthContext holds authenticated user information
type AuthContext struct {
	User  *User
	Token *APIToken
}

// IsManager checks if the caller holds the manager capability
func (ac *AuthContext) IsManager() bool {
	return ac != nil && ac.User != nil && ac.User.IsActive && ac.User.IsManager
}

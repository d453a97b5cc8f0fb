// Package auth provides bearer-token authentication for the billing API.
//
// # Tokens
//
// Tokens have the form sbk_<base64url(32 random bytes)>. Only the SHA256 hash is
// stored; the plaintext is shown once when the token is created.
//
//	manager := auth.NewTokenManager(auth.NewPostgresTokenStore(db), 1024, time.Minute)
//	apiToken, plaintext, err := manager.CreateToken(ctx, userID, "billing console", nil)
//
// Validation resolves the token to an AuthContext carrying the user. Results are
// held in an expiring LRU so hot tokens do not hit Postgres on every request.
//
//	authCtx, err := manager.ValidateToken(ctx, plaintext)
//	if authCtx.IsManager() {
//		// may administer school billing
//	}
//
// # Related Packages
//
//   - pkg/middleware: Authentication and manager gating
package auth

package api

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"
)

// Sessions resolves a bearer token to the user it signs in.
type Sessions interface {
	Verify(token string) (userID string, ok bool)
}

// StaticTokens is a fixed token-to-user table.
type StaticTokens map[string]string

// Verify compares token against every known token in constant time.
func (t StaticTokens) Verify(token string) (string, bool) {
	var userID string
	found := false
	for known, user := range t {
		if subtle.ConstantTimeCompare([]byte(token), []byte(known)) == 1 {
			userID, found = user, true
		}
	}
	return userID, found && userID != ""
}

type userIDKey struct{}

// WithUserID returns a context carrying the signed-in user.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey{}, userID)
}

// UserID returns the user set by SessionAuth.
func UserID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(userIDKey{}).(string)
	return id, ok && id != ""
}

// SessionAuth rejects requests without a verified bearer session. The
// verified user is available to handlers via UserID.
func SessionAuth(s Sessions) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			auth := r.Header.Get("Authorization")
			const prefix = "Bearer "
			if !strings.HasPrefix(auth, prefix) {
				httpError(w, http.StatusUnauthorized, "Unauthorized")
				return
			}
			userID, ok := s.Verify(auth[len(prefix):])
			if !ok {
				httpError(w, http.StatusUnauthorized, "Unauthorized")
				return
			}
			next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), userID)))
		})
	}
}

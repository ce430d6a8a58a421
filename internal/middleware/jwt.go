package myMiddleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"go-notify/internal/model"
)

// 1. Context key for the authenticated user
type contextKey string

const UserKey contextKey = "user"

// 2. What we need from the auth package
// This interface decouples 'middleware' from 'auth'
type TokenVerifier interface {
	Verify(tokenString string) (model.User, error)
}

// 3. The Middleware Structure
type AuthMiddleware struct {
	verifier TokenVerifier
	log      *zap.Logger
}

func NewAuthMiddleware(v TokenVerifier, log *zap.Logger) *AuthMiddleware {
	return &AuthMiddleware{verifier: v, log: log.Named("auth")}
}

// 4. The actual Handler
// A missing token is 401; a token that fails verification is 403.
func (am *AuthMiddleware) Handle(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenString := bearerToken(r.Header.Get("Authorization"))

		// Fallback: Check Query Param (EventSource cannot set headers)
		if tokenString == "" {
			tokenString = r.URL.Query().Get("token")
		}

		if tokenString == "" {
			am.log.Warn("missing authentication token", zap.String("path", r.URL.Path))
			writeError(w, http.StatusUnauthorized, "missing authentication token")
			return
		}

		user, err := am.verifier.Verify(tokenString)
		if err != nil {
			am.log.Warn("token verification failed", zap.Error(err))
			writeError(w, http.StatusForbidden, "token verification failed")
			return
		}

		next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), user)))
	})
}

func bearerToken(header string) string {
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

func WithUser(ctx context.Context, u model.User) context.Context {
	return context.WithValue(ctx, UserKey, u)
}

func UserFromContext(ctx context.Context) (model.User, bool) {
	u, ok := ctx.Value(UserKey).(model.User)
	return u, ok
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

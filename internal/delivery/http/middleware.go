package http

import (
	"context"
	"net/http"
	"strings"

	"medichat/internal/entity"
	"medichat/pkg/apperror"
)

type contextKey string

const UserContextKey contextKey = "user"

// TokenValidator verifies access tokens issued by the authentication service.
type TokenValidator interface {
	ValidateAccessToken(token string) (*entity.TokenClaims, error)
}

type AuthMiddleware struct {
	tokens TokenValidator
}

func NewAuthMiddleware(tokens TokenValidator) *AuthMiddleware {
	return &AuthMiddleware{
		tokens: tokens,
	}
}

// Authenticate accepts "Authorization: Bearer <token>", or a token query
// parameter for websocket upgrades where browsers cannot set headers.
func (m *AuthMiddleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r)
		if !ok {
			writeJSON(w, http.StatusUnauthorized, Response{Message: "authorization header required"})
			return
		}

		claims, err := m.tokens.ValidateAccessToken(token)
		if err != nil {
			writeJSON(w, http.StatusUnauthorized, Response{Message: "invalid or expired token"})
			return
		}

		ctx := context.WithValue(r.Context(), UserContextKey, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireAdmin must run after Authenticate.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, ok := ClaimsFromContext(r.Context())
		if !ok || !claims.IsAdmin() {
			writeError(w, r, apperror.Forbidden("administrator role required"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func ClaimsFromContext(ctx context.Context) (entity.TokenClaims, bool) {
	claims, ok := ctx.Value(UserContextKey).(*entity.TokenClaims)
	if !ok || claims == nil {
		return entity.TokenClaims{}, false
	}
	return *claims, true
}

func bearerToken(r *http.Request) (string, bool) {
	if header := r.Header.Get("Authorization"); header != "" {
		scheme, token, ok := strings.Cut(header, " ")
		if !ok || !strings.EqualFold(scheme, "Bearer") || token == "" {
			return "", false
		}
		return token, true
	}
	if token := r.URL.Query().Get("token"); token != "" {
		return token, true
	}
	return "", false
}

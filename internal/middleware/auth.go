package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/labbooking/server/internal/auth"
	"github.com/labbooking/server/internal/http/response"
	"github.com/labbooking/server/internal/logging"
	"github.com/labbooking/server/internal/model"
)

type contextKey string

const (
	userKey    contextKey = "user"
	sessionKey contextKey = "session"
)

// Authenticator resolves a bearer token for a platform
type Authenticator interface {
	Authenticate(ctx context.Context, rawToken string, platform model.Platform) (*auth.Identity, error)
}

// AuthMiddleware validates the bearer token against the platform and attaches
// the user and its session to the request context
func AuthMiddleware(authn Authenticator, platform model.Platform, log logging.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r)
			if !ok {
				response.Error(w, http.StatusUnauthorized, "Unauthorized User")
				return
			}

			id, err := authn.Authenticate(r.Context(), token, platform)
			if err != nil {
				code, msg := authFailure(err)
				if code == http.StatusInternalServerError {
					log.Error(r.Context(), "authentication failed", "platform", platform.String(), "error", err)
				}
				response.Error(w, code, msg)
				return
			}

			ctx := context.WithValue(r.Context(), userKey, &id.User)
			ctx = context.WithValue(ctx, sessionKey, &id.Session)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(r *http.Request) (string, bool) {
	parts := strings.SplitN(r.Header.Get("Authorization"), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}
	token := strings.TrimSpace(parts[1])
	return token, token != ""
}

func authFailure(err error) (int, string) {
	switch {
	case errors.Is(err, auth.ErrTokenExpired):
		return http.StatusUnauthorized, "Token is Expired"
	case errors.Is(err, auth.ErrTokenNotFound):
		return http.StatusUnauthorized, "Token not found"
	case errors.Is(err, auth.ErrUserDeactivated):
		return http.StatusUnauthorized, "User is deactivated"
	case errors.Is(err, auth.ErrUnauthenticated):
		return http.StatusUnauthorized, "Unauthorized User"
	case errors.Is(err, auth.ErrForbidden):
		return http.StatusForbidden, "Unauthorized user"
	default:
		return http.StatusInternalServerError, "Internal server error"
	}
}

// GetUser returns the user attached to the request context (set by AuthMiddleware)
func GetUser(ctx context.Context) (*model.User, bool) {
	u, ok := ctx.Value(userKey).(*model.User)
	return u, ok
}

// GetSession returns the session backing the request's token
func GetSession(ctx context.Context) (*model.SessionToken, bool) {
	s, ok := ctx.Value(sessionKey).(*model.SessionToken)
	return s, ok
}

// GetUserID extracts user ID from context
func GetUserID(ctx context.Context) (uuid.UUID, bool) {
	u, ok := GetUser(ctx)
	if !ok || u == nil {
		return uuid.Nil, false
	}
	return u.ID, true
}

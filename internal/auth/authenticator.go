package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/labbooking/server/internal/model"
	"github.com/labbooking/server/internal/repo"
)

// Identity is the resolved caller of an authenticated request
type Identity struct {
	User    model.User
	Session model.SessionToken
}

// Authenticator resolves bearer tokens to users. One instance is built at startup
// and shared by every protected route.
type Authenticator struct {
	tokens   *JWTService
	users    repo.UserRepo
	sessions repo.SessionRepo
	policy   *AccessPolicy
	now      func() time.Time
}

// NewAuthenticator creates a new token validator
func NewAuthenticator(tokens *JWTService, users repo.UserRepo, sessions repo.SessionRepo, policy *AccessPolicy) *Authenticator {
	if policy == nil {
		policy = DefaultAccessPolicy()
	}
	return &Authenticator{
		tokens:   tokens,
		users:    users,
		sessions: sessions,
		policy:   policy,
		now:      time.Now,
	}
}

// Authenticate validates rawToken for the platform: signature, owner, backing
// session, expiry and role, in that order.
func (a *Authenticator) Authenticate(ctx context.Context, rawToken string, platform model.Platform) (*Identity, error) {
	rawToken = strings.TrimSpace(rawToken)
	if rawToken == "" {
		return nil, ErrUnauthenticated
	}

	claims, err := a.tokens.Verify(rawToken, platform)
	if err != nil {
		return nil, err
	}
	userID, err := claims.UserID()
	if err != nil {
		return nil, ErrUnauthenticated
	}

	user, err := a.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrUnauthenticated
		}
		return nil, err
	}
	if !user.Usable() {
		return nil, ErrUserDeactivated
	}

	session, err := a.sessions.FindActive(ctx, HashToken(rawToken), user.ID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrTokenNotFound
		}
		return nil, err
	}
	if !session.ValidAt(a.now()) {
		return nil, ErrTokenExpired
	}

	if !a.policy.Allows(user.Role, platform) {
		return nil, ErrForbidden
	}
	return &Identity{User: user, Session: session}, nil
}

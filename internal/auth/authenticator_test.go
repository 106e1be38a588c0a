package auth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/labbooking/server/internal/model"
)

func TestAuthenticate_Rejections(t *testing.T) {
	env := newTestEnv(t)
	user := env.register(t, testPhone, testPassword)
	res, err := env.login(testPhone, testPassword)
	require.NoError(t, err)
	ctx := context.Background()

	t.Run("empty token", func(t *testing.T) {
		_, err := env.authn.Authenticate(ctx, "  ", model.PlatformUserApp)
		assert.ErrorIs(t, err, ErrUnauthenticated)
	})

	t.Run("garbage token", func(t *testing.T) {
		_, err := env.authn.Authenticate(ctx, "not.a.jwt", model.PlatformUserApp)
		assert.ErrorIs(t, err, ErrUnauthenticated)
	})

	t.Run("wrong platform secret", func(t *testing.T) {
		_, err := env.authn.Authenticate(ctx, res.Token, model.PlatformAdmin)
		assert.ErrorIs(t, err, ErrUnauthenticated)
	})

	t.Run("signed but never stored", func(t *testing.T) {
		orphan, _, err := env.tokens.Sign(user, model.PlatformUserApp, env.clock.Now())
		require.NoError(t, err)
		_, err = env.authn.Authenticate(ctx, orphan, model.PlatformUserApp)
		assert.ErrorIs(t, err, ErrTokenNotFound)
	})
}

func TestAuthenticate_DeactivatedUser(t *testing.T) {
	env := newTestEnv(t)
	user := env.register(t, testPhone, testPassword)
	res, err := env.login(testPhone, testPassword)
	require.NoError(t, err)

	env.users.update(user.ID, func(u *model.User) { u.IsActive = false })

	_, err = env.authn.Authenticate(context.Background(), res.Token, model.PlatformUserApp)
	assert.ErrorIs(t, err, ErrUnauthenticated)
	assert.ErrorIs(t, err, ErrUserDeactivated)
	assert.Equal(t, "user is deactivated", err.Error())
}

func TestAuthenticate_ExpiresByTime(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, testPhone, testPassword)
	res, err := env.login(testPhone, testPassword)
	require.NoError(t, err)

	env.clock.Advance(10000*time.Second - time.Second)
	_, err = env.authn.Authenticate(context.Background(), res.Token, model.PlatformUserApp)
	require.NoError(t, err)

	env.clock.Advance(2 * time.Second)
	_, err = env.authn.Authenticate(context.Background(), res.Token, model.PlatformUserApp)
	assert.ErrorIs(t, err, ErrTokenExpired)
}

func TestAuthenticate_SessionExpiryCheckedAfterLookup(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, testPhone, testPassword)
	res, err := env.login(testPhone, testPassword)
	require.NoError(t, err)

	// session row shorter lived than the JWT
	env.sessions.mu.Lock()
	env.sessions.sessions[0].ExpiresAt = env.clock.Now().Add(time.Minute)
	env.sessions.mu.Unlock()

	env.clock.Advance(time.Minute)
	_, err = env.authn.Authenticate(context.Background(), res.Token, model.PlatformUserApp)
	assert.ErrorIs(t, err, ErrTokenExpired)
}

func TestAuthenticate_RoleRevokedFromPlatform(t *testing.T) {
	env := newTestEnv(t)
	user := env.register(t, testPhone, testPassword)
	env.users.update(user.ID, func(u *model.User) { u.Role = model.RoleAdmin })

	res, err := env.svc.Login(context.Background(), LoginInput{
		Phone: testPhone, Password: testPassword, Platform: model.PlatformAdmin,
	})
	require.NoError(t, err)

	env.users.update(user.ID, func(u *model.User) { u.Role = model.RoleUser })
	_, err = env.authn.Authenticate(context.Background(), res.Token, model.PlatformAdmin)
	assert.ErrorIs(t, err, ErrForbidden)
}

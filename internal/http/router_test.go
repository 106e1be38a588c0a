package http

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/labbooking/server/internal/auth"
	"github.com/labbooking/server/internal/http/handlers"
	"github.com/labbooking/server/internal/logging"
	"github.com/labbooking/server/internal/model"
)

type nopService struct{}

func (nopService) Register(context.Context, auth.RegisterInput) (*model.User, error) {
	return &model.User{ID: uuid.New()}, nil
}

func (nopService) Login(context.Context, auth.LoginInput) (*auth.LoginResult, error) {
	return &auth.LoginResult{Token: "tok"}, nil
}

func (nopService) RequestOTP(context.Context, string) error { return nil }
func (nopService) VerifyAndReset(context.Context, auth.ResetInput) error { return nil }
func (nopService) ResetPassword(context.Context, uuid.UUID, string, string) error { return nil }
func (nopService) Logout(context.Context, uuid.UUID) error { return nil }
func (nopService) Profile(_ context.Context, id uuid.UUID) (*model.User, error) { return &model.User{ID: id}, nil }

type rejectAll struct{}

func (rejectAll) Authenticate(context.Context, string, model.Platform) (*auth.Identity, error) {
	return nil, auth.ErrUnauthenticated
}

func newTestRouter(withAdmin bool) http.Handler {
	cfg := RouterConfig{
		UserApp:       handlers.NewAuthHandler(nopService{}, model.PlatformUserApp, logging.Discard()),
		Authenticator: rejectAll{},
		CORSOrigin:    "https://lab.example",
		Log:           logging.Discard(),
	}
	if withAdmin {
		cfg.Admin = handlers.NewAuthHandler(nopService{}, model.PlatformAdmin, logging.Discard())
	}
	return NewRouter(cfg)
}

func request(h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestRouter_PublicRoutes(t *testing.T) {
	r := newTestRouter(false)

	assert.Equal(t, http.StatusOK, request(r, http.MethodGet, "/health", "").Code)
	assert.Equal(t, http.StatusOK, request(r, http.MethodPost, "/api/v1/userapp/auth/register", `{"phone":"9876543210"}`).Code)
	assert.Equal(t, http.StatusOK, request(r, http.MethodPost, "/api/v1/userapp/auth/login", `{"phone":"9876543210"}`).Code)
	assert.Equal(t, http.StatusOK, request(r, http.MethodPut, "/api/v1/userapp/auth/send-otp", `{"phone":"9876543210"}`).Code)
	assert.Equal(t, http.StatusOK, request(r, http.MethodPut, "/api/v1/userapp/auth/forgot-password", `{}`).Code)
}

func TestRouter_ProtectedRoutesRequireToken(t *testing.T) {
	r := newTestRouter(true)

	for _, tc := range []struct{ method, path string }{
		{http.MethodGet, "/api/v1/userapp/auth/me"},
		{http.MethodPost, "/api/v1/userapp/auth/logout"},
		{http.MethodPut, "/api/v1/userapp/auth/reset-password"},
		{http.MethodGet, "/api/v1/admin/auth/me"},
	} {
		assert.Equal(t, http.StatusUnauthorized, request(r, tc.method, tc.path, "{}").Code, tc.path)
	}
}

func TestRouter_AdminRoutesOnlyWhenConfigured(t *testing.T) {
	assert.Equal(t, http.StatusNotFound, request(newTestRouter(false), http.MethodPost, "/api/v1/admin/auth/login", "{}").Code)
	assert.Equal(t, http.StatusOK, request(newTestRouter(true), http.MethodPost, "/api/v1/admin/auth/login", "{}").Code)

	// admins do not self-register
	assert.Equal(t, http.StatusNotFound, request(newTestRouter(true), http.MethodPost, "/api/v1/admin/auth/register", "{}").Code)
}

func TestRouter_BodyLimit(t *testing.T) {
	r := newTestRouter(false)
	body := `{"phone":"` + strings.Repeat("9", maxBodyBytes) + `"}`
	rec := request(r, http.MethodPost, "/api/v1/userapp/auth/login", body)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestRouter_CORS(t *testing.T) {
	r := newTestRouter(false)
	req := httptest.NewRequest(http.MethodOptions, "/api/v1/userapp/auth/login", nil)
	req.Header.Set("Origin", "https://lab.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	require.Contains(t, []int{http.StatusOK, http.StatusNoContent}, rec.Code)
	assert.Equal(t, "https://lab.example", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestAllowedOrigins(t *testing.T) {
	assert.Equal(t, []string{"*"}, allowedOrigins(""))
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, allowedOrigins(" https://a.example, https://b.example ,"))
}

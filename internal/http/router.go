package http

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/labbooking/server/internal/http/handlers"
	"github.com/labbooking/server/internal/logging"
	"github.com/labbooking/server/internal/middleware"
	"github.com/labbooking/server/internal/model"
)

// maxBodyBytes caps JSON request bodies
const maxBodyBytes = 16 << 10

// RouterConfig holds the collaborators of the HTTP surface. Admin may be nil,
// in which case the admin platform routes are not mounted.
type RouterConfig struct {
	UserApp       *handlers.AuthHandler
	Admin         *handlers.AuthHandler
	Authenticator middleware.Authenticator
	CORSOrigin    string
	Log           logging.Logger
}

// NewRouter creates a new HTTP router with all routes configured
func NewRouter(cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(30 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: allowedOrigins(cfg.CORSOrigin),
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions},
		AllowedHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:         300,
	}))
	r.Use(chimw.RequestSize(maxBodyBytes))

	healthHandler := handlers.NewHealthHandler()
	r.Get("/health", healthHandler.ServeHTTP)

	// 20 per 10min per IP for OTP verification
	verifyLimiter := middleware.NewRateLimiter(10*time.Minute, 20)

	r.Route("/api/v1/userapp/auth", func(r chi.Router) {
		h := cfg.UserApp
		r.Post("/register", h.HandleRegister)
		r.Post("/login", h.HandleLogin)
		r.Put("/send-otp", h.HandleSendOTP)
		r.With(middleware.RateLimitMiddleware(verifyLimiter, middleware.GetIPKey)).
			Put("/forgot-password", h.HandleForgotPassword)

		// Protected routes (require valid JWT)
		r.Group(func(r chi.Router) {
			r.Use(middleware.AuthMiddleware(cfg.Authenticator, model.PlatformUserApp, cfg.Log))
			r.Put("/reset-password", h.HandleResetPassword)
			r.Post("/logout", h.HandleLogout)
			r.Get("/me", h.HandleMe)
		})
	})

	if cfg.Admin != nil {
		r.Route("/api/v1/admin/auth", func(r chi.Router) {
			h := cfg.Admin
			r.Post("/login", h.HandleLogin)
			r.Group(func(r chi.Router) {
				r.Use(middleware.AuthMiddleware(cfg.Authenticator, model.PlatformAdmin, cfg.Log))
				r.Put("/reset-password", h.HandleResetPassword)
				r.Post("/logout", h.HandleLogout)
				r.Get("/me", h.HandleMe)
			})
		})
	}

	return r
}

func allowedOrigins(raw string) []string {
	var out []string
	for _, o := range strings.Split(raw, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	if len(out) == 0 {
		return []string{"*"}
	}
	return out
}

package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/labbooking/server/internal/auth"
	"github.com/labbooking/server/internal/http/response"
	"github.com/labbooking/server/internal/logging"
	"github.com/labbooking/server/internal/middleware"
	"github.com/labbooking/server/internal/model"
)

// AuthService is the part of auth.Service the handlers call
type AuthService interface {
	Register(ctx context.Context, in auth.RegisterInput) (*model.User, error)
	Login(ctx context.Context, in auth.LoginInput) (*auth.LoginResult, error)
	RequestOTP(ctx context.Context, phone string) error
	VerifyAndReset(ctx context.Context, in auth.ResetInput) error
	ResetPassword(ctx context.Context, userID uuid.UUID, password, confirm string) error
	Logout(ctx context.Context, userID uuid.UUID) error
	Profile(ctx context.Context, userID uuid.UUID) (*model.User, error)
}

const otpSentMessage = "OTP sent to your registered phone number."

// AuthHandler handles authentication endpoints for one platform
type AuthHandler struct {
	svc      AuthService
	platform model.Platform
	log      logging.Logger

	loginIPLimiter *middleware.RateLimiter
	otpIPLimiter   *middleware.RateLimiter
}

// NewAuthHandler creates a new auth handler
func NewAuthHandler(svc AuthService, platform model.Platform, log logging.Logger) *AuthHandler {
	// IP rate limiters: 20 per 10min for login, 10 per 10min for send-otp (phone limit is store-based)
	return &AuthHandler{
		svc:            svc,
		platform:       platform,
		log:            log.With("platform", platform.String()),
		loginIPLimiter: middleware.NewRateLimiter(10*time.Minute, 20),
		otpIPLimiter:   middleware.NewRateLimiter(10*time.Minute, 10),
	}
}

// userResponse is the user object in API responses
type userResponse struct {
	ID                 string     `json:"id"`
	Phone              string     `json:"phone"`
	Email              *string    `json:"email"`
	Name               *string    `json:"name"`
	Role               model.Role `json:"role"`
	LanguagePreference string     `json:"languagePreference"`
	CreatedAt          time.Time  `json:"createdAt"`
}

func newUserResponse(u *model.User) userResponse {
	return userResponse{
		ID:                 u.ID.String(),
		Phone:              u.Phone,
		Email:              u.Email,
		Name:               u.Name,
		Role:               u.Role,
		LanguagePreference: u.LanguagePreference,
		CreatedAt:          u.CreatedAt,
	}
}

type loginResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
	userResponse
}

type registerRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Phone    string `json:"phone"`
	Password string `json:"password"`
}

type loginRequest struct {
	Phone    string `json:"phone"`
	Password string `json:"password"`
}

type sendOTPRequest struct {
	Phone string `json:"phone"`
}

type forgotPasswordRequest struct {
	Phone           string `json:"phone"`
	Code            string `json:"code"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirmPassword"`
}

type resetPasswordRequest struct {
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirmPassword"`
}

// HandleRegister handles POST /register
func (h *AuthHandler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !decode(w, r, &req) {
		return
	}
	user, err := h.svc.Register(r.Context(), auth.RegisterInput{
		Name:     req.Name,
		Email:    req.Email,
		Phone:    req.Phone,
		Password: req.Password,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	response.Success(w, "register successfully", newUserResponse(user))
}

// HandleLogin handles POST /login
func (h *AuthHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	if !h.loginIPLimiter.Allow(middleware.GetIPKey(r)) {
		response.Error(w, http.StatusTooManyRequests, "Too many requests, please try again later")
		return
	}
	var req loginRequest
	if !decode(w, r, &req) {
		return
	}
	res, err := h.svc.Login(r.Context(), auth.LoginInput{
		Phone:     req.Phone,
		Password:  req.Password,
		Platform:  h.platform,
		IP:        clientIP(r),
		UserAgent: r.UserAgent(),
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	response.Success(w, "Login Successful", loginResponse{
		Token:        res.Token,
		ExpiresAt:    res.ExpiresAt,
		userResponse: newUserResponse(&res.User),
	})
}

// HandleSendOTP handles PUT /send-otp. Once the phone passes validation the
// answer does not reveal whether an account exists.
func (h *AuthHandler) HandleSendOTP(w http.ResponseWriter, r *http.Request) {
	var req sendOTPRequest
	if !decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Phone) == "" {
		response.JSON(w, http.StatusBadRequest, response.Envelope{
			Status:  response.StatusValidationError,
			Message: "Insufficient request parameters! phone is required.",
		})
		return
	}
	if !h.otpIPLimiter.Allow(middleware.GetIPKey(r)) {
		response.Error(w, http.StatusTooManyRequests, "Too many requests, please try again later")
		return
	}

	err := h.svc.RequestOTP(r.Context(), req.Phone)
	if err != nil && !errors.Is(err, auth.ErrUserNotFound) {
		h.fail(w, r, err)
		return
	}
	if err != nil {
		h.log.Info(r.Context(), "otp requested for unknown phone", "phone", logging.MaskPhone(req.Phone))
	}
	response.Success(w, otpSentMessage, nil)
}

// HandleForgotPassword handles PUT /forgot-password
func (h *AuthHandler) HandleForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req forgotPasswordRequest
	if !decode(w, r, &req) {
		return
	}
	err := h.svc.VerifyAndReset(r.Context(), auth.ResetInput{
		Phone:           req.Phone,
		Code:            strings.TrimSpace(req.Code),
		Password:        req.Password,
		ConfirmPassword: req.ConfirmPassword,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	response.Success(w, "Password reset successfully", nil)
}

// HandleResetPassword handles PUT /reset-password (protected)
func (h *AuthHandler) HandleResetPassword(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		response.Error(w, http.StatusUnauthorized, "Unauthorized User")
		return
	}
	var req resetPasswordRequest
	if !decode(w, r, &req) {
		return
	}
	if err := h.svc.ResetPassword(r.Context(), userID, req.Password, req.ConfirmPassword); err != nil {
		h.fail(w, r, err)
		return
	}
	response.Success(w, "Password reset successfully", nil)
}

// HandleLogout handles POST /logout (protected)
func (h *AuthHandler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		response.Error(w, http.StatusUnauthorized, "Unauthorized User")
		return
	}
	if err := h.svc.Logout(r.Context(), userID); err != nil {
		h.fail(w, r, err)
		return
	}
	response.Success(w, "Logout successful", nil)
}

// HandleMe handles GET /me (protected). Returns the authenticated user.
func (h *AuthHandler) HandleMe(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		response.Error(w, http.StatusUnauthorized, "Unauthorized User")
		return
	}
	user, err := h.svc.Profile(r.Context(), userID)
	if err != nil {
		if errors.Is(err, auth.ErrUserNotFound) {
			response.Error(w, http.StatusUnauthorized, "User is deactivated")
			return
		}
		h.fail(w, r, err)
		return
	}
	response.Success(w, "Profile fetched", newUserResponse(user))
}

// fail maps a service error to the response envelope. Credential and lockout
// failures are all answered with 400 and the error's own message.
func (h *AuthHandler) fail(w http.ResponseWriter, r *http.Request, err error) {
	var (
		verr   *auth.ValidationError
		locked *auth.LockedError
	)
	switch {
	case errors.As(err, &verr):
		response.JSON(w, http.StatusBadRequest, response.Envelope{
			Status:  response.StatusValidationError,
			Message: verr.Msg,
		})
	case errors.As(err, &locked):
		secs := int(locked.RetryAfter.Round(time.Second).Seconds())
		if secs < 1 {
			secs = 1
		}
		w.Header().Set("Retry-After", strconv.Itoa(secs))
		response.Error(w, http.StatusBadRequest, locked.Error())
	case errors.Is(err, auth.ErrOTPRateLimited):
		response.Error(w, http.StatusTooManyRequests, err.Error())
	case errors.Is(err, auth.ErrDuplicate),
		errors.Is(err, auth.ErrUserNotFound),
		errors.Is(err, auth.ErrInvalidCredentials),
		errors.Is(err, auth.ErrInvalidOTP),
		errors.Is(err, auth.ErrForbidden):
		response.Error(w, http.StatusBadRequest, err.Error())
	default:
		h.log.Error(r.Context(), "request failed", "path", r.URL.Path, "error", err)
		response.Error(w, http.StatusInternalServerError, "Internal server error")
	}
}

// decode reads a JSON body into v, answering 400 itself when it cannot
func decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			response.Error(w, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		response.Error(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

// clientIP returns the request host; chi's RealIP has already resolved proxies
func clientIP(r *http.Request) string {
	key := middleware.GetIPKey(r)
	return strings.TrimPrefix(key, "ip:")
}

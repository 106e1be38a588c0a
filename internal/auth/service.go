package auth

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/labbooking/server/internal/logging"
	"github.com/labbooking/server/internal/model"
	"github.com/labbooking/server/internal/repo"
)

// SMSSender delivers an OTP code to a phone number
type SMSSender interface {
	SendOTP(ctx context.Context, phone, code string) error
}

// Notifier tells a user that their password was changed
type Notifier interface {
	PasswordChanged(ctx context.Context, user model.User) error
}

// Options tunes the auth flows. Zero values fall back to the defaults below.
type Options struct {
	MaxLoginRetry int
	LockoutWindow time.Duration

	OTPSalt          string
	OTPTTL           time.Duration
	OTPRequestLimit  int
	OTPRequestWindow time.Duration

	LegacyPasswordConfirm bool
	RevokeSessionsOnReset bool

	BcryptCost      int
	DispatchTimeout time.Duration
}

func (o *Options) setDefaults() {
	if o.MaxLoginRetry <= 0 {
		o.MaxLoginRetry = 5
	}
	if o.LockoutWindow <= 0 {
		o.LockoutWindow = 2 * time.Minute
	}
	if o.OTPTTL <= 0 {
		o.OTPTTL = 5 * time.Minute
	}
	if o.OTPRequestLimit <= 0 {
		o.OTPRequestLimit = 3
	}
	if o.OTPRequestWindow <= 0 {
		o.OTPRequestWindow = 10 * time.Minute
	}
	if o.BcryptCost == 0 {
		o.BcryptCost = bcrypt.DefaultCost
	}
	if o.DispatchTimeout <= 0 {
		o.DispatchTimeout = 15 * time.Second
	}
}

// Deps are the collaborators of Service. Notifier may be nil.
type Deps struct {
	Users    repo.UserRepo
	Sessions repo.SessionRepo
	OTPs     repo.OtpRepo
	Tokens   *JWTService
	Policy   *AccessPolicy
	SMS      SMSSender
	Notifier Notifier
	Log      logging.Logger
}

// Service orchestrates registration, login, logout and password resets
type Service struct {
	users    repo.UserRepo
	sessions repo.SessionRepo
	otps     repo.OtpRepo
	tokens   *JWTService
	policy   *AccessPolicy
	sms      SMSSender
	notifier Notifier
	log      logging.Logger
	opts     Options

	now func() time.Time
	wg  sync.WaitGroup
}

// NewService creates a new auth service
func NewService(d Deps, opts Options) *Service {
	opts.setDefaults()
	policy := d.Policy
	if policy == nil {
		policy = DefaultAccessPolicy()
	}
	log := d.Log
	if log == nil {
		log = logging.Discard()
	}
	return &Service{
		users:    d.Users,
		sessions: d.Sessions,
		otps:     d.OTPs,
		tokens:   d.Tokens,
		policy:   policy,
		sms:      d.SMS,
		notifier: d.Notifier,
		log:      log.With("component", "auth"),
		opts:     opts,
		now:      time.Now,
	}
}

// Wait blocks until background SMS and mail deliveries have finished
func (s *Service) Wait() {
	s.wg.Wait()
}

// RegisterInput is the payload of a registration
type RegisterInput struct {
	Name     string
	Email    string
	Phone    string
	Password string
}

// Register creates an active user account with the user role
func (s *Service) Register(ctx context.Context, in RegisterInput) (*model.User, error) {
	phone := strings.TrimSpace(in.Phone)
	email := strings.TrimSpace(in.Email)
	name := strings.TrimSpace(in.Name)

	if phone == "" && email == "" {
		return nil, invalid("phone", "Insufficient request parameters! email or phone is required.")
	}
	if in.Password == "" {
		return nil, invalid("password", "Insufficient request parameters! password is required.")
	}
	if phone != "" && !validPhone(phone) {
		return nil, invalid("phone", "Invalid values in parameters, phone must be numeric")
	}
	if email != "" {
		addr, err := mail.ParseAddress(email)
		if err != nil || addr.Address != email {
			return nil, invalid("email", "Invalid values in parameters, email is not valid")
		}
	}
	if len(in.Password) < minPasswordLen || len(in.Password) > maxPasswordLen {
		return nil, invalid("password", fmt.Sprintf("password must be between %d and %d characters", minPasswordLen, maxPasswordLen))
	}

	if email != "" {
		taken, err := s.users.ExistsByEmail(ctx, email)
		if err != nil {
			return nil, err
		}
		if taken {
			return nil, &DuplicateError{Field: "email", Value: email}
		}
	}
	if phone != "" {
		taken, err := s.users.ExistsByPhone(ctx, phone)
		if err != nil {
			return nil, err
		}
		if taken {
			return nil, &DuplicateError{Field: "phone", Value: phone}
		}
	}

	hash, err := hashPassword(in.Password, s.opts.BcryptCost)
	if err != nil {
		return nil, err
	}
	user := model.User{
		Phone:        phone,
		PasswordHash: hash,
		Role:         model.RoleUser,
	}
	if email != "" {
		user.Email = &email
	}
	if name != "" {
		user.Name = &name
	}

	created, err := s.users.Create(ctx, user)
	if err != nil {
		if errors.Is(err, repo.ErrDuplicate) {
			return nil, withMessage(ErrDuplicate, "user already exists")
		}
		return nil, err
	}
	s.log.Info(ctx, "user registered", "user_id", created.ID, "phone", logging.MaskPhone(phone))
	return &created, nil
}

// LoginInput is the payload of a login attempt
type LoginInput struct {
	Phone     string
	Password  string
	Platform  model.Platform
	IP        string
	UserAgent string
}

// LoginResult is a freshly issued session
type LoginResult struct {
	Token     string
	ExpiresAt time.Time
	User      model.User
	Session   model.SessionToken
}

// Login checks the lockout state, verifies the password and issues a session token.
//
// Once a user has MaxLoginRetry failed attempts the next attempt places a lock for
// LockoutWindow. Attempts during the lock fail without touching the counter; the
// first attempt after it has elapsed clears counter and lock before the password
// is checked.
func (s *Service) Login(ctx context.Context, in LoginInput) (*LoginResult, error) {
	phone := strings.TrimSpace(in.Phone)
	if phone == "" {
		return nil, invalid("phone", "Insufficient request parameters! phone is required.")
	}
	if !validPhone(phone) {
		return nil, invalid("phone", "Invalid values in parameters, phone must be numeric")
	}
	if in.Password == "" {
		return nil, invalid("password", "Insufficient request parameters! password is required.")
	}
	if !s.tokens.Supports(in.Platform) {
		return nil, withMessage(ErrForbidden, "Platform not exists")
	}

	user, err := s.users.GetActiveByPhone(ctx, phone)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}

	now := s.now()
	if err := s.checkLockout(ctx, &user, now); err != nil {
		return nil, err
	}

	if !checkPassword(user.PasswordHash, in.Password) {
		count, err := s.users.IncrementLoginRetry(ctx, user.ID)
		if err != nil {
			return nil, err
		}
		s.log.Info(ctx, "login failed", "user_id", user.ID, "retry_count", count)
		return nil, ErrInvalidCredentials
	}

	if user.Role == 0 {
		return nil, withMessage(ErrForbidden, "You have not been assigned any role")
	}
	if !s.policy.Allows(user.Role, in.Platform) {
		return nil, ErrForbidden
	}

	if user.LoginRetryCount != 0 {
		if err := s.users.ResetLoginRetry(ctx, user.ID); err != nil {
			return nil, err
		}
		user.LoginRetryCount = 0
	}

	token, expiresAt, err := s.tokens.Sign(user, in.Platform, now)
	if err != nil {
		return nil, err
	}
	session, err := s.sessions.Create(ctx, model.SessionToken{
		UserID:    user.ID,
		TokenHash: HashToken(token),
		Platform:  in.Platform,
		IssuedAt:  now,
		ExpiresAt: expiresAt,
		RequestIP: optional(in.IP),
		UserAgent: optional(in.UserAgent),
	})
	if err != nil {
		return nil, err
	}

	s.log.Info(ctx, "login succeeded", "user_id", user.ID, "platform", in.Platform.String())
	return &LoginResult{
		Token:     token,
		ExpiresAt: expiresAt,
		User:      user,
		Session:   session,
	}, nil
}

// checkLockout applies the lockout rules to a freshly loaded user. It returns a
// *LockedError when the attempt must be refused, and clears an elapsed lock in
// place otherwise.
func (s *Service) checkLockout(ctx context.Context, user *model.User, now time.Time) error {
	if user.LoginRetryCount < s.opts.MaxLoginRetry {
		return nil
	}

	switch {
	case user.LoginLockUntil == nil:
		until := now.Add(s.opts.LockoutWindow)
		placed, err := s.users.LockLogin(ctx, user.ID, until, s.opts.MaxLoginRetry)
		if err != nil {
			return err
		}
		if placed {
			s.log.Warn(ctx, "login locked", "user_id", user.ID, "until", until)
			return &LockedError{RetryAfter: s.opts.LockoutWindow}
		}
		// a concurrent attempt changed the row first; report its lock
		current, err := s.users.GetByID(ctx, user.ID)
		if err != nil {
			return err
		}
		if current.LockedAt(now) {
			return &LockedError{RetryAfter: current.LoginLockUntil.Sub(now)}
		}
		return &LockedError{RetryAfter: s.opts.LockoutWindow}

	case user.LockedAt(now):
		return &LockedError{RetryAfter: user.LoginLockUntil.Sub(now)}

	default:
		if _, err := s.users.ClearExpiredLock(ctx, user.ID, now); err != nil {
			return err
		}
		user.LoginRetryCount = 0
		user.LoginLockUntil = nil
		return nil
	}
}

// Logout deactivates every active session of the user
func (s *Service) Logout(ctx context.Context, userID uuid.UUID) error {
	n, err := s.sessions.DeactivateAllForUser(ctx, userID)
	if err != nil {
		return err
	}
	s.log.Info(ctx, "user logged out", "user_id", userID, "sessions", n)
	return nil
}

// Profile returns the active user with the given id
func (s *Service) Profile(ctx context.Context, userID uuid.UUID) (*model.User, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	if !user.Usable() {
		return nil, ErrUserNotFound
	}
	return &user, nil
}

func optional(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}

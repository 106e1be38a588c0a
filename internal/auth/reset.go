package auth

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"

	"github.com/labbooking/server/internal/logging"
	"github.com/labbooking/server/internal/model"
	"github.com/labbooking/server/internal/repo"
)

// RequestOTP issues a password reset code for the phone and sends it by SMS in the
// background. Delivery failures are logged and do not undo the stored code.
// The login lockout rules apply here too: a user at the retry limit is locked
// instead of getting a code.
func (s *Service) RequestOTP(ctx context.Context, phone string) error {
	phone = strings.TrimSpace(phone)
	if phone == "" {
		return invalid("phone", "Insufficient request parameters! phone is required.")
	}
	if !validPhone(phone) {
		return invalid("phone", "Invalid values in parameters, phone must be numeric")
	}

	user, err := s.users.GetActiveByPhone(ctx, phone)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return ErrUserNotFound
		}
		return err
	}

	now := s.now()
	if err := s.checkLockout(ctx, &user, now); err != nil {
		return err
	}

	canonical := NormalizePhone(phone)
	count, err := s.otps.CountRecentRequests(ctx, canonical, now.Add(-s.opts.OTPRequestWindow))
	if err != nil {
		return err
	}
	if count >= s.opts.OTPRequestLimit {
		s.log.Warn(ctx, "otp request throttled", "phone", logging.MaskPhone(canonical), "count", count)
		return ErrOTPRateLimited
	}

	code := generateOTPCode()
	err = s.otps.Create(ctx, model.OTPRecord{
		Phone:     canonical,
		CodeHash:  hashOTPHex(canonical, code, s.opts.OTPSalt),
		CreatedAt: now,
		ExpiresAt: now.Add(s.opts.OTPTTL),
	})
	if err != nil {
		return err
	}
	if err := s.users.MarkResetRequested(ctx, user.ID, now); err != nil {
		return err
	}

	s.dispatchOTP(ctx, canonical, code)
	return nil
}

// ResetInput is the payload of an OTP password reset
type ResetInput struct {
	Phone           string
	Code            string
	Password        string
	ConfirmPassword string
}

// VerifyAndReset checks the code against the newest OTP record for the phone and
// replaces the password. Older records never match.
func (s *Service) VerifyAndReset(ctx context.Context, in ResetInput) error {
	phone := strings.TrimSpace(in.Phone)
	if phone == "" {
		return invalid("phone", "Insufficient request parameters! phone is required.")
	}
	if in.Code == "" {
		return invalid("code", "Insufficient request parameters! code and newPassword is required.")
	}
	if err := checkNewPassword(in.Password, in.ConfirmPassword, s.opts.LegacyPasswordConfirm); err != nil {
		return err
	}

	user, err := s.users.GetActiveByPhone(ctx, phone)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return withMessage(ErrUserNotFound, "Invalid User")
		}
		return err
	}

	canonical := NormalizePhone(phone)
	now := s.now()
	rec, err := s.otps.Latest(ctx, canonical, now)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return ErrInvalidOTP
		}
		return err
	}
	if !otpMatches(rec.CodeHash, canonical, in.Code, s.opts.OTPSalt) {
		attempts, err := s.otps.IncrementAttempt(ctx, canonical, now)
		if err != nil && !errors.Is(err, repo.ErrNotFound) {
			return err
		}
		s.log.Info(ctx, "otp mismatch", "user_id", user.ID, "attempts", attempts)
		return ErrInvalidOTP
	}

	if err := s.setPassword(ctx, user, in.Password); err != nil {
		return err
	}
	if err := s.otps.Consume(ctx, canonical); err != nil {
		s.log.Error(ctx, "failed to consume otp", "user_id", user.ID, "error", err)
	}
	if s.opts.RevokeSessionsOnReset {
		n, err := s.sessions.DeactivateAllForUser(ctx, user.ID)
		if err != nil {
			s.log.Error(ctx, "failed to revoke sessions after reset", "user_id", user.ID, "error", err)
		} else {
			s.log.Info(ctx, "sessions revoked after reset", "user_id", user.ID, "sessions", n)
		}
	}
	return nil
}

// ResetPassword changes the password of an authenticated user. No OTP is involved.
func (s *Service) ResetPassword(ctx context.Context, userID uuid.UUID, password, confirm string) error {
	if err := checkNewPassword(password, confirm, s.opts.LegacyPasswordConfirm); err != nil {
		return err
	}
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return withMessage(ErrUserNotFound, "User not found")
		}
		return err
	}
	if !user.Usable() {
		return withMessage(ErrUserNotFound, "User not found")
	}
	return s.setPassword(ctx, user, password)
}

func (s *Service) setPassword(ctx context.Context, user model.User, password string) error {
	hash, err := hashPassword(password, s.opts.BcryptCost)
	if err != nil {
		return err
	}
	if err := s.users.UpdatePassword(ctx, user.ID, hash); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return withMessage(ErrUserNotFound, "User not found")
		}
		return err
	}
	s.log.Info(ctx, "password changed", "user_id", user.ID)
	s.notifyPasswordChanged(ctx, user)
	return nil
}

func (s *Service) dispatchOTP(ctx context.Context, phone, code string) {
	if s.sms == nil {
		s.log.Warn(ctx, "no sms sender configured, otp not delivered", "phone", logging.MaskPhone(phone))
		return
	}
	s.goDetached(ctx, func(ctx context.Context) {
		if err := s.sms.SendOTP(ctx, phone, code); err != nil {
			s.log.Error(ctx, "otp delivery failed", "phone", logging.MaskPhone(phone), "error", err)
		}
	})
}

func (s *Service) notifyPasswordChanged(ctx context.Context, user model.User) {
	if s.notifier == nil || user.Email == nil {
		return
	}
	s.goDetached(ctx, func(ctx context.Context) {
		if err := s.notifier.PasswordChanged(ctx, user); err != nil {
			s.log.Error(ctx, "password change notification failed", "user_id", user.ID, "error", err)
		}
	})
}

// goDetached runs fn after the request returns. fn keeps the request's values
// but not its cancellation, and is bounded by DispatchTimeout.
func (s *Service) goDetached(ctx context.Context, fn func(context.Context)) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.DispatchTimeout)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer cancel()
		fn(ctx)
	}()
}

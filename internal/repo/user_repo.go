package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/labbooking/server/internal/model"
)

// UserRepo defines the interface for credential record operations.
// Lockout bookkeeping is done with conditional single-statement updates so that
// concurrent login attempts cannot both pass a check before either update lands.
type UserRepo interface {
	Create(ctx context.Context, user model.User) (model.User, error)
	GetByID(ctx context.Context, id uuid.UUID) (model.User, error)
	GetActiveByPhone(ctx context.Context, phone string) (model.User, error)
	ExistsByPhone(ctx context.Context, phone string) (bool, error)
	ExistsByEmail(ctx context.Context, email string) (bool, error)

	// IncrementLoginRetry adds one failed attempt and returns the new count
	IncrementLoginRetry(ctx context.Context, id uuid.UUID) (int, error)
	// LockLogin sets the lock and counts the attempt only if the user has reached
	// maxRetry and no lock is set yet. Reports whether this call placed the lock.
	LockLogin(ctx context.Context, id uuid.UUID, until time.Time, maxRetry int) (bool, error)
	// ClearExpiredLock resets counter and lock only if the lock elapsed at now
	ClearExpiredLock(ctx context.Context, id uuid.UUID, now time.Time) (bool, error)
	ResetLoginRetry(ctx context.Context, id uuid.UUID) error
	// MarkResetRequested records that a password reset code was issued
	MarkResetRequested(ctx context.Context, id uuid.UUID, at time.Time) error
	// UpdatePassword stores a new hash and clears retry, lock and reset bookkeeping
	UpdatePassword(ctx context.Context, id uuid.UUID, passwordHash string) error
}

type userRepo struct {
	db *sql.DB
}

// NewUserRepo creates a new UserRepo instance
func NewUserRepo(db *sql.DB) UserRepo {
	return &userRepo{db: db}
}

const userColumns = `id, phone, email, name, password_hash, role, language_preference, login_retry_count, login_lock_until, is_active, is_deleted, created_at, updated_at`

func scanUser(row *sql.Row) (model.User, error) {
	var u model.User
	var phone sql.NullString
	err := row.Scan(
		&u.ID,
		&phone,
		&u.Email,
		&u.Name,
		&u.PasswordHash,
		&u.Role,
		&u.LanguagePreference,
		&u.LoginRetryCount,
		&u.LoginLockUntil,
		&u.IsActive,
		&u.IsDeleted,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.User{}, ErrNotFound
		}
		return model.User{}, fmt.Errorf("failed to query user: %w", err)
	}
	u.Phone = phone.String
	return u, nil
}

// Create inserts a new active user
func (r *userRepo) Create(ctx context.Context, user model.User) (model.User, error) {
	var phone *string
	if user.Phone != "" {
		phone = &user.Phone
	}
	lang := user.LanguagePreference
	if lang == "" {
		lang = "en"
	}
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO users (phone, email, name, password_hash, role, language_preference)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING `+userColumns,
		phone, user.Email, user.Name, user.PasswordHash, user.Role, lang,
	)
	created, err := scanUser(row)
	if err != nil {
		if isUniqueViolation(err) {
			return model.User{}, ErrDuplicate
		}
		return model.User{}, fmt.Errorf("failed to insert user: %w", err)
	}
	return created, nil
}

// GetByID retrieves a user by ID regardless of status
func (r *userRepo) GetByID(ctx context.Context, id uuid.UUID) (model.User, error) {
	return scanUser(r.db.QueryRowContext(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE id = $1
	`, id))
}

// GetActiveByPhone retrieves an active, non-deleted user by phone number
func (r *userRepo) GetActiveByPhone(ctx context.Context, phone string) (model.User, error) {
	return scanUser(r.db.QueryRowContext(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE phone = $1 AND is_active AND NOT is_deleted
	`, phone))
}

// ExistsByPhone reports whether a non-deleted user owns the phone
func (r *userRepo) ExistsByPhone(ctx context.Context, phone string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM users WHERE phone = $1 AND NOT is_deleted)
	`, phone).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check phone: %w", err)
	}
	return exists, nil
}

// ExistsByEmail reports whether a non-deleted user owns the email (case-insensitive)
func (r *userRepo) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM users WHERE lower(email) = lower($1) AND NOT is_deleted)
	`, email).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check email: %w", err)
	}
	return exists, nil
}

func (r *userRepo) IncrementLoginRetry(ctx context.Context, id uuid.UUID) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `
		UPDATE users
		SET login_retry_count = login_retry_count + 1, updated_at = now()
		WHERE id = $1 AND is_active AND NOT is_deleted
		RETURNING login_retry_count
	`, id).Scan(&count)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, ErrNotFound
		}
		return 0, fmt.Errorf("increment login retry: %w", err)
	}
	return count, nil
}

func (r *userRepo) LockLogin(ctx context.Context, id uuid.UUID, until time.Time, maxRetry int) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE users
		SET login_lock_until = $2, login_retry_count = login_retry_count + 1, updated_at = now()
		WHERE id = $1 AND is_active AND NOT is_deleted AND login_retry_count >= $3 AND login_lock_until IS NULL
	`, id, until, maxRetry)
	if err != nil {
		return false, fmt.Errorf("lock login: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("lock login: %w", err)
	}
	return n == 1, nil
}

func (r *userRepo) ClearExpiredLock(ctx context.Context, id uuid.UUID, now time.Time) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE users
		SET login_retry_count = 0, login_lock_until = NULL, updated_at = now()
		WHERE id = $1 AND login_lock_until IS NOT NULL AND login_lock_until <= $2
	`, id, now)
	if err != nil {
		return false, fmt.Errorf("clear expired lock: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("clear expired lock: %w", err)
	}
	return n == 1, nil
}

func (r *userRepo) ResetLoginRetry(ctx context.Context, id uuid.UUID) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE users
		SET login_retry_count = 0, updated_at = now()
		WHERE id = $1 AND login_retry_count <> 0
	`, id)
	if err != nil {
		return fmt.Errorf("reset login retry: %w", err)
	}
	return nil
}

func (r *userRepo) MarkResetRequested(ctx context.Context, id uuid.UUID, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE users
		SET password_reset_requested_at = $2, updated_at = now()
		WHERE id = $1
	`, id, at)
	if err != nil {
		return fmt.Errorf("mark reset requested: %w", err)
	}
	return nil
}

func (r *userRepo) UpdatePassword(ctx context.Context, id uuid.UUID, passwordHash string) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE users
		SET password_hash = $2, login_retry_count = 0, login_lock_until = NULL, password_reset_requested_at = NULL, updated_at = now()
		WHERE id = $1 AND is_active AND NOT is_deleted
	`, id, passwordHash)
	if err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/labbooking/server/internal/model"
)

// MaxOTPAttempts is the number of wrong codes after which a record stops verifying
const MaxOTPAttempts = 5

// OtpRepo stores password reset codes. Only the newest unexpired record for a
// phone is ever returned; expiry is the storage layer's job. A record with
// MaxOTPAttempts wrong guesses is no longer returned either.
type OtpRepo interface {
	Create(ctx context.Context, rec model.OTPRecord) error
	Latest(ctx context.Context, phone string, now time.Time) (model.OTPRecord, error)
	IncrementAttempt(ctx context.Context, phone string, now time.Time) (int, error)
	Consume(ctx context.Context, phone string) error
	CountRecentRequests(ctx context.Context, phone string, since time.Time) (int, error)
}

type otpRepo struct {
	db *sql.DB
}

// NewOtpRepo creates a PostgreSQL-backed OtpRepo
func NewOtpRepo(db *sql.DB) OtpRepo {
	return &otpRepo{db: db}
}

// Create inserts a new record. Older records stay for request counting but are shadowed by this one.
func (r *otpRepo) Create(ctx context.Context, rec model.OTPRecord) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO otp_records (phone, code_hash, created_at, expires_at)
		VALUES ($1, $2, $3, $4)
	`, rec.Phone, rec.CodeHash, rec.CreatedAt, rec.ExpiresAt)
	if err != nil {
		return fmt.Errorf("insert otp record: %w", err)
	}
	return nil
}

// Latest returns the newest unexpired record for the phone. A consumed or
// exhausted newest record hides older ones.
func (r *otpRepo) Latest(ctx context.Context, phone string, now time.Time) (model.OTPRecord, error) {
	var rec model.OTPRecord
	var consumedAt *time.Time
	err := r.db.QueryRowContext(ctx, `
		SELECT phone, code_hash, created_at, expires_at, attempt_count, consumed_at
		FROM otp_records
		WHERE phone = $1 AND expires_at > $2
		ORDER BY created_at DESC
		LIMIT 1
	`, phone, now).Scan(
		&rec.Phone,
		&rec.CodeHash,
		&rec.CreatedAt,
		&rec.ExpiresAt,
		&rec.Attempts,
		&consumedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.OTPRecord{}, ErrNotFound
		}
		return model.OTPRecord{}, fmt.Errorf("query otp record: %w", err)
	}
	if consumedAt != nil || rec.Attempts >= MaxOTPAttempts {
		return model.OTPRecord{}, ErrNotFound
	}
	return rec, nil
}

// IncrementAttempt records a wrong code against the newest open record and
// returns its new attempt count
func (r *otpRepo) IncrementAttempt(ctx context.Context, phone string, now time.Time) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `
		UPDATE otp_records
		SET attempt_count = attempt_count + 1
		WHERE id = (
			SELECT id FROM otp_records
			WHERE phone = $1 AND expires_at > $2
			ORDER BY created_at DESC
			LIMIT 1
		) AND consumed_at IS NULL
		RETURNING attempt_count
	`, phone, now).Scan(&count)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, ErrNotFound
		}
		return 0, fmt.Errorf("increment otp attempt: %w", err)
	}
	return count, nil
}

// Consume marks every open record of the phone as used
func (r *otpRepo) Consume(ctx context.Context, phone string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE otp_records SET consumed_at = now() WHERE phone = $1 AND consumed_at IS NULL
	`, phone)
	if err != nil {
		return fmt.Errorf("consume otp records: %w", err)
	}
	return nil
}

// CountRecentRequests returns the number of records created for the phone since the given time
func (r *otpRepo) CountRecentRequests(ctx context.Context, phone string, since time.Time) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM otp_records
		WHERE phone = $1 AND created_at >= $2
	`, phone, since).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count recent otp requests: %w", err)
	}
	return count, nil
}

package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/labbooking/server/internal/model"
)

// requestHistory bounds how far back CountRecentRequests can look
const requestHistory = time.Hour

type redisOtpRepo struct {
	redis redis.UniversalClient
}

// NewRedisOtpRepo creates an OtpRepo whose records expire through Redis key TTLs.
// Each phone has a single code key, so a new record replaces the previous one.
func NewRedisOtpRepo(client redis.UniversalClient) OtpRepo {
	return &redisOtpRepo{redis: client}
}

type redisOTP struct {
	Phone     string    `json:"phone"`
	CodeHash  string    `json:"code_hash"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

func otpCodeKey(phone string) string {
	return "otp:code:" + phone
}

// otpAttemptKey counts wrong guesses against the current code. It is written
// with the same TTL as the code key and removed with it.
func otpAttemptKey(phone string) string {
	return "otp:try:" + phone
}

func otpRequestKey(phone string) string {
	return "otp:req:" + phone
}

func (r *redisOtpRepo) Create(ctx context.Context, rec model.OTPRecord) error {
	ttl := rec.ExpiresAt.Sub(rec.CreatedAt)
	if ttl <= 0 {
		return fmt.Errorf("otp record already expired")
	}
	payload, err := json.Marshal(redisOTP{
		Phone:     rec.Phone,
		CodeHash:  rec.CodeHash,
		CreatedAt: rec.CreatedAt,
		ExpiresAt: rec.ExpiresAt,
	})
	if err != nil {
		return fmt.Errorf("encode otp record: %w", err)
	}

	created := rec.CreatedAt.UnixMilli()
	cutoff := rec.CreatedAt.Add(-requestHistory).UnixMilli()
	reqKey := otpRequestKey(rec.Phone)

	_, err = r.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, otpCodeKey(rec.Phone), payload, ttl)
		pipe.Set(ctx, otpAttemptKey(rec.Phone), 0, ttl)
		// members must be unique or same-millisecond requests collapse into one
		member := strconv.FormatInt(created, 10) + ":" + uuid.NewString()
		pipe.ZAdd(ctx, reqKey, redis.Z{Score: float64(created), Member: member})
		pipe.ZRemRangeByScore(ctx, reqKey, "-inf", "("+strconv.FormatInt(cutoff, 10))
		pipe.Expire(ctx, reqKey, requestHistory)
		return nil
	})
	if err != nil {
		return fmt.Errorf("store otp record: %w", err)
	}
	return nil
}

func (r *redisOtpRepo) Latest(ctx context.Context, phone string, now time.Time) (model.OTPRecord, error) {
	raw, err := r.redis.Get(ctx, otpCodeKey(phone)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return model.OTPRecord{}, ErrNotFound
		}
		return model.OTPRecord{}, fmt.Errorf("load otp record: %w", err)
	}
	var rec redisOTP
	if err := json.Unmarshal(raw, &rec); err != nil {
		return model.OTPRecord{}, fmt.Errorf("decode otp record: %w", err)
	}
	if !rec.ExpiresAt.After(now) {
		return model.OTPRecord{}, ErrNotFound
	}

	attempts, err := r.redis.Get(ctx, otpAttemptKey(phone)).Int()
	if err != nil && !errors.Is(err, redis.Nil) {
		return model.OTPRecord{}, fmt.Errorf("load otp attempts: %w", err)
	}
	if attempts >= MaxOTPAttempts {
		return model.OTPRecord{}, ErrNotFound
	}
	return model.OTPRecord{
		Phone:     rec.Phone,
		CodeHash:  rec.CodeHash,
		CreatedAt: rec.CreatedAt,
		ExpiresAt: rec.ExpiresAt,
		Attempts:  attempts,
	}, nil
}

// IncrementAttempt bumps the attempt counter of the current code. The counter
// is re-aligned with the code key's remaining TTL so it never outlives it.
func (r *redisOtpRepo) IncrementAttempt(ctx context.Context, phone string, _ time.Time) (int, error) {
	var (
		incr *redis.IntCmd
		pttl *redis.DurationCmd
	)
	_, err := r.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, otpAttemptKey(phone))
		pttl = pipe.PTTL(ctx, otpCodeKey(phone))
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("increment otp attempt: %w", err)
	}
	if ttl := pttl.Val(); ttl <= 0 {
		// no live code; drop the counter the INCR may have created
		if err := r.redis.Del(ctx, otpAttemptKey(phone)).Err(); err != nil {
			return 0, fmt.Errorf("increment otp attempt: %w", err)
		}
		return 0, ErrNotFound
	} else if err := r.redis.PExpire(ctx, otpAttemptKey(phone), ttl).Err(); err != nil {
		return 0, fmt.Errorf("increment otp attempt: %w", err)
	}
	return int(incr.Val()), nil
}

func (r *redisOtpRepo) Consume(ctx context.Context, phone string) error {
	if err := r.redis.Del(ctx, otpCodeKey(phone), otpAttemptKey(phone)).Err(); err != nil {
		return fmt.Errorf("consume otp record: %w", err)
	}
	return nil
}

func (r *redisOtpRepo) CountRecentRequests(ctx context.Context, phone string, since time.Time) (int, error) {
	n, err := r.redis.ZCount(ctx, otpRequestKey(phone), strconv.FormatInt(since.UnixMilli(), 10), "+inf").Result()
	if err != nil {
		return 0, fmt.Errorf("count recent otp requests: %w", err)
	}
	return int(n), nil
}

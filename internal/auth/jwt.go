package auth

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/labbooking/server/internal/model"
)

// Claims are the identity claims carried by a session token. Subject is the user id.
type Claims struct {
	Phone    string `json:"phone,omitempty"`
	Email    string `json:"email,omitempty"`
	Name     string `json:"name,omitempty"`
	Platform string `json:"platform"`
	jwt.RegisteredClaims
}

// UserID parses the subject claim
func (c *Claims) UserID() (uuid.UUID, error) {
	return uuid.Parse(c.Subject)
}

// JWTService signs and verifies session tokens with one HMAC secret per platform
type JWTService struct {
	secrets map[model.Platform][]byte
	ttl     time.Duration
	now     func() time.Time
}

// NewJWTService creates a JWT service. Platforms with an empty secret are not served.
func NewJWTService(secrets map[model.Platform]string, ttl time.Duration) *JWTService {
	s := &JWTService{
		secrets: make(map[model.Platform][]byte, len(secrets)),
		ttl:     ttl,
		now:     time.Now,
	}
	for p, secret := range secrets {
		if secret != "" {
			s.secrets[p] = []byte(secret)
		}
	}
	return s
}

// Supports reports whether tokens can be issued for the platform
func (s *JWTService) Supports(platform model.Platform) bool {
	_, ok := s.secrets[platform]
	return ok
}

// TTL returns the lifetime of issued tokens
func (s *JWTService) TTL() time.Duration {
	return s.ttl
}

// Sign issues a token for the user on the platform. The returned expiry is also
// the expiry of the session row backing the token.
func (s *JWTService) Sign(user model.User, platform model.Platform, now time.Time) (string, time.Time, error) {
	secret, ok := s.secrets[platform]
	if !ok {
		return "", time.Time{}, fmt.Errorf("no signing secret for platform %s", platform)
	}
	expiresAt := now.Add(s.ttl)
	claims := &Claims{
		Phone:    user.Phone,
		Platform: platform.String(),
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   user.ID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	if user.Email != nil {
		claims.Email = *user.Email
	}
	if user.Name != nil {
		claims.Name = *user.Name
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign token: %w", err)
	}
	return tokenString, expiresAt, nil
}

// Verify checks the token signature against the platform secret. An elapsed exp
// claim yields ErrTokenExpired, anything else ErrUnauthenticated.
func (s *JWTService) Verify(tokenString string, platform model.Platform) (*Claims, error) {
	secret, ok := s.secrets[platform]
	if !ok {
		return nil, fmt.Errorf("%w: platform %s not configured", ErrUnauthenticated, platform)
	}
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return secret, nil
	}, jwt.WithTimeFunc(s.now), jwt.WithExpirationRequired())
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrUnauthenticated
	}
	if claims.Platform != platform.String() {
		return nil, fmt.Errorf("%w: token issued for %q", ErrUnauthenticated, claims.Platform)
	}
	return claims, nil
}

// HashToken returns the SHA-256 hex digest under which a token's session is stored
func HashToken(token string) string {
	hash := sha256.Sum256([]byte(token))
	return hex.EncodeToString(hash[:])
}

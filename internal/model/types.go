package model

import (
	"time"

	"github.com/google/uuid"
)

// Role is the user type stored on the credential record
type Role int

const (
	RoleUser  Role = 1
	RoleAdmin Role = 2
)

// Platform is the logical channel a credential authenticates against
type Platform int

const (
	PlatformUserApp Platform = 1
	PlatformAdmin   Platform = 2
)

// String returns the route/config name of the platform
func (p Platform) String() string {
	switch p {
	case PlatformUserApp:
		return "userapp"
	case PlatformAdmin:
		return "admin"
	default:
		return "unknown"
	}
}

// ParsePlatform maps a platform name back to its value
func ParsePlatform(name string) (Platform, bool) {
	switch name {
	case "userapp":
		return PlatformUserApp, true
	case "admin":
		return PlatformAdmin, true
	}
	return 0, false
}

// ParseRole maps a role name to its value
func ParseRole(name string) (Role, bool) {
	switch name {
	case "user":
		return RoleUser, true
	case "admin":
		return RoleAdmin, true
	}
	return 0, false
}

// User represents a credential record
type User struct {
	ID                 uuid.UUID
	Phone              string
	Email              *string
	Name               *string
	PasswordHash       string
	Role               Role
	LanguagePreference string
	LoginRetryCount    int
	LoginLockUntil     *time.Time
	IsActive           bool
	IsDeleted          bool
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// Usable reports whether the user may authenticate at all
func (u *User) Usable() bool {
	return u.IsActive && !u.IsDeleted
}

// LockedAt reports whether a lockout is in effect at now
func (u *User) LockedAt(now time.Time) bool {
	return u.LoginLockUntil != nil && u.LoginLockUntil.After(now)
}

// SessionToken backs an issued bearer token. Only the SHA-256 of the token is stored.
type SessionToken struct {
	ID            uuid.UUID
	UserID        uuid.UUID
	TokenHash     string
	Platform      Platform
	IssuedAt      time.Time
	ExpiresAt     time.Time
	IsActive      bool
	RequestIP     *string
	UserAgent     *string
	DeactivatedAt *time.Time
}

// ValidAt reports whether the session authorizes requests at now
func (s *SessionToken) ValidAt(now time.Time) bool {
	return s.IsActive && now.Before(s.ExpiresAt)
}

// OTPRecord is a one-time password reset code issued to a phone
type OTPRecord struct {
	Phone     string
	CodeHash  string
	CreatedAt time.Time
	ExpiresAt time.Time
	// Attempts counts wrong codes submitted against this record
	Attempts int
}

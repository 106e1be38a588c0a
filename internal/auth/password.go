package auth

import (
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// bcrypt ignores input past 72 bytes, so longer passwords are rejected outright
const (
	minPasswordLen = 6
	maxPasswordLen = 72
)

func hashPassword(password string, cost int) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}

func checkPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// checkNewPassword validates a new password and its confirmation. legacy compares
// the two case-insensitively.
func checkNewPassword(password, confirm string, legacy bool) error {
	if password == "" || confirm == "" {
		return invalid("password", "Insufficient request parameters! password is required.")
	}
	if len(password) < minPasswordLen {
		return invalid("password", fmt.Sprintf("password must be at least %d characters", minPasswordLen))
	}
	if len(password) > maxPasswordLen {
		return invalid("password", fmt.Sprintf("password must be at most %d bytes", maxPasswordLen))
	}
	same := password == confirm
	if legacy {
		same = strings.EqualFold(password, confirm)
	}
	if !same {
		return invalid("confirmPassword", "password and confirm password should be same")
	}
	return nil
}

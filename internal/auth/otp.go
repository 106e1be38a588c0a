package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"math/rand/v2"
	"regexp"
	"strings"
)

const (
	otpLength     = 6
	countryPrefix = "91"
)

var phonePattern = regexp.MustCompile(`^\+?[0-9]{6,15}$`)

func validPhone(phone string) bool {
	return phonePattern.MatchString(phone)
}

// NormalizePhone returns the canonical international form OTP records are keyed
// by: spaces and a leading '+' removed, country prefix added unless present.
func NormalizePhone(phone string) string {
	p := strings.ReplaceAll(strings.TrimSpace(phone), " ", "")
	p = strings.TrimPrefix(p, "+")
	if strings.HasPrefix(p, countryPrefix) {
		return p
	}
	return countryPrefix + p
}

// generateOTPCode returns a fixed-width numeric code. The code is single use
// with a short TTL, so math/rand is enough.
func generateOTPCode() string {
	return fmt.Sprintf("%0*d", otpLength, rand.IntN(1_000_000))
}

// hashOTPHex returns SHA-256(phone:code:salt) as hex for storage
func hashOTPHex(phone, code, salt string) string {
	return hex.EncodeToString(hashOTPBytes(phone, code, salt))
}

func hashOTPBytes(phone, code, salt string) []byte {
	hash := sha256.Sum256([]byte(phone + ":" + code + ":" + salt))
	return hash[:]
}

// otpMatches compares a submitted code with a stored hash in constant time
func otpMatches(storedHex, phone, code, salt string) bool {
	stored, err := hex.DecodeString(storedHex)
	if err != nil {
		return false
	}
	return subtle.ConstantTimeCompare(stored, hashOTPBytes(phone, code, salt)) == 1
}

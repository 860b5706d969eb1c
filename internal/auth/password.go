package auth

import (
	"errors"
	"unicode/utf8"

	"golang.org/x/crypto/bcrypt"

	"github.com/smartdevs17/financial-tracker/pkg/utils"
)

// Password bounds. bcrypt ignores everything past 72 bytes.
const (
	MinPasswordLength = 8
	MaxPasswordLength = 72
)

// ValidatePassword checks the password length
func ValidatePassword(password string) error {
	if password == "" {
		return utils.NewAppError(utils.ErrCodeValidation, "This field is required.", "password")
	}
	if utf8.RuneCountInString(password) < MinPasswordLength {
		return utils.NewAppError(utils.ErrCodeValidation,
			"This password is too short. It must contain at least 8 characters.", "password")
	}
	if len(password) > MaxPasswordLength {
		return utils.NewAppError(utils.ErrCodeValidation, "This password is too long.", "password")
	}
	return nil
}

// HashPassword hashes a password with bcrypt
func HashPassword(password string) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", utils.NewAppError(utils.ErrCodeInternal, "Failed to hash password", err.Error())
	}
	return string(hashed), nil
}

// CheckPassword reports whether password matches the stored hash
func CheckPassword(hash, password string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	if err != nil && !errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
		utils.Component("auth").WithError(err).Warn("Stored password hash is unusable")
	}
	return err == nil
}

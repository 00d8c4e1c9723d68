package auth

import (
	"errors"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/crypto/bcrypt"
)

const (
	minPasswordLen = 8
	maxPasswordLen = 16

	passwordSpecials = `!@#$%^&*()_+=-{}[]\|:;"'<>,.?/`
)

var (
	ErrPasswordLength    = errors.New("password must be 8-16 characters long")
	ErrPasswordUppercase = errors.New("password must include at least one uppercase letter")
	ErrPasswordSpecial   = errors.New("password must include at least one special character")
)

// HashPassword returns a bcrypt hash of password.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// CheckPassword reports whether password matches the stored bcrypt hash.
func CheckPassword(password, stored string) bool {
	if stored == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(stored), []byte(password)) == nil
}

// ValidatePassword enforces length 8-16, one uppercase letter and one
// special character.
func ValidatePassword(password string) error {
	n := utf8.RuneCountInString(password)
	if n < minPasswordLen || n > maxPasswordLen {
		return ErrPasswordLength
	}
	hasUpper := false
	for _, r := range password {
		if unicode.IsUpper(r) {
			hasUpper = true
			break
		}
	}
	if !hasUpper {
		return ErrPasswordUppercase
	}
	if !strings.ContainsAny(password, passwordSpecials) {
		return ErrPasswordSpecial
	}
	return nil
}

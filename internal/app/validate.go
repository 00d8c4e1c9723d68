package app

import (
	"net/mail"
	"strings"
	"unicode/utf8"

	"storerate/pkg/auth"
)

const (
	minNameLen    = 3
	maxNameLen    = 60
	maxAddressLen = 400
	minScore      = 1
	maxScore      = 5
)

type validator struct {
	fields []FieldError
}

func (v *validator) add(field, msg string) {
	v.fields = append(v.fields, FieldError{Field: field, Message: msg})
}

func (v *validator) name(field, name string) {
	n := utf8.RuneCountInString(name)
	if n < minNameLen || n > maxNameLen {
		v.add(field, "Name must be 3-60 chars")
	}
}

func (v *validator) email(field, email string) {
	if !validEmail(email) {
		v.add(field, "Invalid email")
	}
}

func (v *validator) address(field, address string) {
	if utf8.RuneCountInString(address) > maxAddressLen {
		v.add(field, "Address max 400 chars")
	}
}

func (v *validator) password(field, password string) {
	if err := auth.ValidatePassword(password); err != nil {
		v.add(field, err.Error())
	}
}

func (v *validator) required(field, value string) {
	if value == "" {
		v.add(field, "is required")
	}
}

func (v *validator) err() error {
	if len(v.fields) == 0 {
		return nil
	}
	return &ValidationError{Fields: v.fields}
}

// validEmail accepts a bare addr-spec with a dotted domain.
func validEmail(email string) bool {
	if email == "" || len(email) > 254 {
		return false
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email || addr.Name != "" {
		return false
	}
	at := strings.LastIndexByte(email, '@')
	domain := email[at+1:]
	return strings.Contains(domain, ".") && !strings.HasPrefix(domain, ".") && !strings.HasSuffix(domain, ".")
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// ValidateScore rejects anything outside the integer range 1..5.
func ValidateScore(score int) error {
	if score < minScore || score > maxScore {
		return &ValidationError{Fields: []FieldError{{Field: "score", Message: "Score must be an integer between 1 and 5"}}}
	}
	return nil
}

package app

import (
	"errors"
	"strings"
)

var (
	// ErrUnauthenticated is returned when no valid bearer credential is presented.
	ErrUnauthenticated = errors.New("authentication required")
	// ErrForbidden is returned when the caller's role is outside the allowed set.
	ErrForbidden = errors.New("forbidden")

	// ErrInvalidCredentials is shown to end users on a failed login and must not
	// reveal whether the email exists.
	ErrInvalidCredentials = errors.New("Invalid credentials")
	// ErrIncorrectPassword is returned when the old password does not match.
	ErrIncorrectPassword = errors.New("Old password is incorrect")

	ErrEmailInUse      = errors.New("Email already in use")
	ErrStoreEmailInUse = errors.New("Store email already exists")

	ErrAccountNotFound = errors.New("User not found")
	ErrStoreNotFound   = errors.New("Store not found")

	ErrAdminDeletion = errors.New("Cannot delete admin")
)

// FieldError describes one rejected input field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError lists every rejected field of a request. It is returned
// before any state is touched.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	msgs := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		msgs = append(msgs, f.Field+": "+f.Message)
	}
	return "validation failed: " + strings.Join(msgs, "; ")
}

// Kind classifies err into the taxonomy answered over HTTP.
type Kind int

const (
	KindUnexpected Kind = iota
	KindValidation
	KindUnauthenticated
	KindForbidden
	KindNotFound
	KindConflict
)

// KindOf maps err onto its Kind. Unknown errors are unexpected.
func KindOf(err error) Kind {
	var verr *ValidationError
	switch {
	case err == nil:
		return KindUnexpected
	case errors.As(err, &verr):
		return KindValidation
	case errors.Is(err, ErrUnauthenticated), errors.Is(err, ErrInvalidCredentials), errors.Is(err, ErrIncorrectPassword):
		return KindUnauthenticated
	case errors.Is(err, ErrForbidden), errors.Is(err, ErrAdminDeletion):
		return KindForbidden
	case errors.Is(err, ErrAccountNotFound), errors.Is(err, ErrStoreNotFound):
		return KindNotFound
	case errors.Is(err, ErrEmailInUse), errors.Is(err, ErrStoreEmailInUse):
		return KindConflict
	default:
		return KindUnexpected
	}
}

package app

import (
	"errors"
	"fmt"
	"strings"

	"storerate/internal/util"
	"storerate/pkg/auth"
	"storerate/pkg/domain"
	"storerate/pkg/store"
)

// SignUpInput is the self-registration form. The role is always USER.
type SignUpInput struct {
	Name     string
	Email    string
	Address  string
	Password string
}

// SignUp registers a USER account.
func (a *App) SignUp(in SignUpInput) (domain.Account, error) {
	return a.createAccount(in.Name, in.Email, in.Address, in.Password, domain.RoleUser)
}

// Login verifies credentials and issues a token bound to the account's
// identity at this moment.
func (a *App) Login(email, password string) (string, domain.Principal, error) {
	email = normalizeEmail(email)
	v := &validator{}
	v.email("email", email)
	v.required("password", password)
	if err := v.err(); err != nil {
		return "", domain.Principal{}, err
	}
	account, ok, err := a.store.GetAccountByEmail(email)
	if err != nil {
		return "", domain.Principal{}, fmt.Errorf("fetch account: %w", err)
	}
	if !ok || !auth.CheckPassword(password, account.PasswordHash) {
		return "", domain.Principal{}, ErrInvalidCredentials
	}
	principal := account.Principal()
	token, err := a.sessions.NewSession(principal)
	if err != nil {
		return "", domain.Principal{}, fmt.Errorf("issue access token: %w", err)
	}
	return token, principal, nil
}

// Logout revokes the presented token until it would have expired.
func (a *App) Logout(token string) error {
	if err := a.sessions.DeleteSession(token); err != nil {
		return fmt.Errorf("revoke token: %w", err)
	}
	return nil
}

// Authenticate resolves a bearer token to the principal it was issued for.
func (a *App) Authenticate(token string) (domain.Principal, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return domain.Principal{}, ErrUnauthenticated
	}
	p, ok, err := a.sessions.GetPrincipalByToken(token)
	if errors.Is(err, store.ErrSessionBackend) {
		return domain.Principal{}, fmt.Errorf("resolve token: %w", err)
	}
	if err != nil || !ok {
		return domain.Principal{}, ErrUnauthenticated
	}
	return p, nil
}

// RequireRole fails with ErrForbidden unless p's role is in allowed.
func RequireRole(p domain.Principal, allowed auth.RoleSet) error {
	if !auth.Allowed(p.Role, allowed) {
		return ErrForbidden
	}
	return nil
}

func (a *App) createAccount(name, email, address, password string, role domain.Role) (domain.Account, error) {
	email = normalizeEmail(email)
	v := &validator{}
	v.name("name", name)
	v.email("email", email)
	v.address("address", address)
	v.password("password", password)
	if err := v.err(); err != nil {
		return domain.Account{}, err
	}
	exists, err := a.store.HasAccountEmail(email)
	if err != nil {
		return domain.Account{}, fmt.Errorf("check email: %w", err)
	}
	if exists {
		return domain.Account{}, ErrEmailInUse
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return domain.Account{}, fmt.Errorf("hash password: %w", err)
	}
	now := a.now()
	account := domain.Account{
		ID:           util.NewID(),
		Name:         name,
		Email:        email,
		Address:      address,
		PasswordHash: hash,
		Role:         role,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := a.store.CreateAccount(account); err != nil {
		if errors.Is(err, store.ErrDuplicateEmail) {
			return domain.Account{}, ErrEmailInUse
		}
		return domain.Account{}, fmt.Errorf("save account: %w", err)
	}
	return account, nil
}

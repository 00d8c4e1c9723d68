package app

import (
	"errors"
	"fmt"

	"storerate/pkg/auth"
	"storerate/pkg/domain"
	"storerate/pkg/store"
)

// NewAccountInput is the admin account creation form.
type NewAccountInput struct {
	Name     string
	Email    string
	Address  string
	Password string
	Role     string
}

// CreateAccount registers an account of any role on behalf of an admin.
func (a *App) CreateAccount(in NewAccountInput) (domain.Account, error) {
	role, ok := domain.ParseRole(in.Role)
	if !ok {
		v := &validator{}
		v.add("role", "Role must be one of ADMIN, OWNER, USER")
		v.name("name", in.Name)
		v.email("email", normalizeEmail(in.Email))
		v.address("address", in.Address)
		v.password("password", in.Password)
		return domain.Account{}, v.err()
	}
	return a.createAccount(in.Name, in.Email, in.Address, in.Password, role)
}

// GetAccountDetail returns one account. For an OWNER it also carries the
// average over every rating of every store it owns.
func (a *App) GetAccountDetail(id string) (domain.AccountDetail, error) {
	account, ok, err := a.store.GetAccountByID(id)
	if err != nil {
		return domain.AccountDetail{}, fmt.Errorf("fetch account: %w", err)
	}
	if !ok {
		return domain.AccountDetail{}, ErrAccountNotFound
	}
	detail := domain.AccountDetail{AccountSummary: account.Summary()}
	if account.Role != domain.RoleOwner {
		return detail, nil
	}
	stores, err := a.store.ListStores(domain.StoreFilter{OwnerID: account.ID})
	if err != nil {
		return domain.AccountDetail{}, fmt.Errorf("list owned stores: %w", err)
	}
	sums, err := a.store.RatingSummaries(storeIDs(stores))
	if err != nil {
		return domain.AccountDetail{}, fmt.Errorf("summarize ratings: %w", err)
	}
	total, count := 0, 0
	for _, s := range sums {
		total += s.Sum
		count += s.Count
	}
	if count > 0 {
		avg := roundedAverage(total, count)
		detail.OwnerAverage = &avg
	}
	return detail, nil
}

// DeleteAccount removes an account with its ratings and, for an OWNER, its
// stores and their ratings. ADMIN accounts are never removed.
func (a *App) DeleteAccount(id string) (domain.CascadeResult, error) {
	res, err := a.store.DeleteAccount(id)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			return domain.CascadeResult{}, ErrAccountNotFound
		case errors.Is(err, store.ErrProtectedAccount):
			return domain.CascadeResult{}, ErrAdminDeletion
		}
		return domain.CascadeResult{}, fmt.Errorf("delete account: %w", err)
	}
	a.metrics.CascadeRemoved(len(res.AccountIDs), len(res.StoreIDs), len(res.RatingIDs))
	return res, nil
}

// UpdatePassword replaces the caller's password after checking the old one.
func (a *App) UpdatePassword(accountID, oldPassword, newPassword string) error {
	v := &validator{}
	v.required("oldPassword", oldPassword)
	v.required("newPassword", newPassword)
	if newPassword != "" {
		v.password("newPassword", newPassword)
	}
	if err := v.err(); err != nil {
		return err
	}
	account, ok, err := a.store.GetAccountByID(accountID)
	if err != nil {
		return fmt.Errorf("fetch account: %w", err)
	}
	if !ok {
		return ErrAccountNotFound
	}
	if !auth.CheckPassword(oldPassword, account.PasswordHash) {
		return ErrIncorrectPassword
	}
	return a.setPassword(accountID, newPassword)
}

// ResetPassword sets the caller's password without the old one.
func (a *App) ResetPassword(accountID, password string) error {
	v := &validator{}
	v.password("password", password)
	if err := v.err(); err != nil {
		return err
	}
	return a.setPassword(accountID, password)
}

func (a *App) setPassword(accountID, password string) error {
	hash, err := auth.HashPassword(password)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	if err := a.store.SetPasswordHash(accountID, hash); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrAccountNotFound
		}
		return fmt.Errorf("update password: %w", err)
	}
	return nil
}

package app

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"storerate/internal/util"
	"storerate/pkg/domain"
	"storerate/pkg/store"
)

// NewStoreInput is the admin store creation form. OwnerID is optional.
type NewStoreInput struct {
	Name    string
	Email   string
	Address string
	OwnerID string
}

// CreateStore registers a store, optionally owned by an OWNER account.
func (a *App) CreateStore(in NewStoreInput) (domain.Store, error) {
	email := normalizeEmail(in.Email)
	ownerID := strings.TrimSpace(in.OwnerID)
	v := &validator{}
	if n := utf8.RuneCountInString(strings.TrimSpace(in.Name)); n == 0 || n > maxNameLen {
		v.add("name", "Store name must be 1-60 chars")
	}
	v.email("email", email)
	v.address("address", in.Address)
	if ownerID != "" {
		owner, ok, err := a.store.GetAccountByID(ownerID)
		if err != nil {
			return domain.Store{}, fmt.Errorf("fetch owner: %w", err)
		}
		if !ok || owner.Role != domain.RoleOwner {
			v.add("ownerId", "Owner must be an existing OWNER account")
		}
	}
	if err := v.err(); err != nil {
		return domain.Store{}, err
	}

	exists, err := a.store.HasStoreEmail(email)
	if err != nil {
		return domain.Store{}, fmt.Errorf("check store email: %w", err)
	}
	if exists {
		return domain.Store{}, ErrStoreEmailInUse
	}
	now := a.now()
	st := domain.Store{
		ID:        util.NewID(),
		Name:      strings.TrimSpace(in.Name),
		Email:     email,
		Address:   in.Address,
		OwnerID:   ownerID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := a.store.CreateStore(st); err != nil {
		switch {
		case errors.Is(err, store.ErrDuplicateEmail):
			return domain.Store{}, ErrStoreEmailInUse
		case errors.Is(err, store.ErrNotFound):
			return domain.Store{}, &ValidationError{Fields: []FieldError{{Field: "ownerId", Message: "Owner must be an existing OWNER account"}}}
		}
		return domain.Store{}, fmt.Errorf("save store: %w", err)
	}
	return st, nil
}

// DeleteStore removes a store together with its ratings.
func (a *App) DeleteStore(id string) (domain.CascadeResult, error) {
	res, err := a.store.DeleteStore(id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.CascadeResult{}, ErrStoreNotFound
		}
		return domain.CascadeResult{}, fmt.Errorf("delete store: %w", err)
	}
	a.metrics.CascadeRemoved(len(res.AccountIDs), len(res.StoreIDs), len(res.RatingIDs))
	return res, nil
}

package store

import (
	"errors"
	"time"

	"storerate/pkg/domain"
)

var (
	// ErrNotFound is returned when a row addressed by id does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrDuplicateEmail is returned when a unique email index rejects a write.
	ErrDuplicateEmail = errors.New("email already in use")
	// ErrProtectedAccount is returned when a cascade targets an ADMIN account.
	ErrProtectedAccount = errors.New("admin accounts cannot be deleted")
	// ErrSessionBackend is returned when token revocation state cannot be read.
	ErrSessionBackend = errors.New("session backend unavailable")
)

// Store defines persistence operations for accounts, stores, and ratings.
type Store interface {
	// accounts
	CreateAccount(domain.Account) error
	SetPasswordHash(accountID, hash string) error
	HasAccountEmail(email string) (bool, error)
	GetAccountByEmail(email string) (domain.Account, bool, error)
	GetAccountByID(id string) (domain.Account, bool, error)
	ListAccounts(domain.AccountFilter) ([]domain.Account, error)
	AccountCount() (int, error)
	// DeleteAccount removes the account, its ratings and, for owners, every
	// owned store with that store's ratings, in one transaction.
	DeleteAccount(id string) (domain.CascadeResult, error)

	// stores
	CreateStore(domain.Store) error
	HasStoreEmail(email string) (bool, error)
	GetStore(id string) (domain.Store, bool, error)
	ListStores(domain.StoreFilter) ([]domain.Store, error)
	StoreCount() (int, error)
	// DeleteStore removes the store and its ratings in one transaction.
	DeleteStore(id string) (domain.CascadeResult, error)

	// ratings
	UpsertRating(domain.Rating) (domain.Rating, error)
	GetRating(accountID, storeID string) (domain.Rating, bool, error)
	RatingCount() (int, error)
	RatingSummaries(storeIDs []string) (map[string]domain.RatingSummary, error)
	AccountScores(accountID string, storeIDs []string) (map[string]int, error)
	ListRaters(storeIDs []string) ([]domain.Rater, error)
}

// SessionStore issues and resolves access tokens.
type SessionStore interface {
	NewSession(domain.Principal) (string, error)
	GetPrincipalByToken(token string) (domain.Principal, bool, error)
	DeleteSession(token string) error
}

// JWK represents a JSON Web Key entry used by JWKS endpoints.
type JWK struct {
	Kty string `json:"kty"`
	Use string `json:"use"`
	Kid string `json:"kid"`
	Alg string `json:"alg"`
	N   string `json:"n,omitempty"`
	E   string `json:"e,omitempty"`
}

// JWKSProvider is an optional capability exposed by session stores that can
// publish JSON Web Keys.
type JWKSProvider interface {
	JWKS() []JWK
}

// TokenRevoker tracks revoked token ids until expiry.
type TokenRevoker interface {
	Revoke(tokenID string, ttl time.Duration) error
	IsRevoked(tokenID string) (bool, error)
}

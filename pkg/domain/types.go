package domain

import (
	"strings"
	"time"
)

type Role string

const (
	RoleAdmin Role = "ADMIN"
	RoleOwner Role = "OWNER"
	RoleUser  Role = "USER"
)

// ParseRole maps a case-insensitive role name onto the closed Role set.
func ParseRole(raw string) (Role, bool) {
	switch Role(strings.ToUpper(strings.TrimSpace(raw))) {
	case RoleAdmin:
		return RoleAdmin, true
	case RoleOwner:
		return RoleOwner, true
	case RoleUser:
		return RoleUser, true
	default:
		return "", false
	}
}

type Account struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Email        string    `json:"email"`
	Address      string    `json:"address"`
	PasswordHash string    `json:"-"`
	Role         Role      `json:"role"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

type Store struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Address   string    `json:"address"`
	OwnerID   string    `json:"ownerId,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type Rating struct {
	ID        string    `json:"id"`
	AccountID string    `json:"userId"`
	StoreID   string    `json:"storeId"`
	Score     int       `json:"score"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// RatingSummary is the raw aggregate of one store's ratings.
type RatingSummary struct {
	StoreID string
	Sum     int
	Count   int
}

// Rater is a rating joined with the account that filed it.
type Rater struct {
	RatingID  string
	StoreID   string
	AccountID string
	Name      string
	Email     string
	Score     int
}

// Principal is the identity bound into an access token at issue time.
type Principal struct {
	ID    string `json:"id"`
	Role  Role   `json:"role"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// AccountFilter selects and orders accounts. Text fields match
// case-insensitive substrings; Role matches exactly when set.
type AccountFilter struct {
	Name    string
	Email   string
	Address string
	Role    Role
	SortBy  string
	Desc    bool
}

// StoreFilter selects and orders stores.
type StoreFilter struct {
	Name    string
	Address string
	OwnerID string
	SortBy  string
	Desc    bool
}

// CascadeResult lists every row removed by a cascading delete.
type CascadeResult struct {
	AccountIDs []string `json:"accountIds"`
	StoreIDs   []string `json:"storeIds"`
	RatingIDs  []string `json:"ratingIds"`
}

package store

import "time"

// GORM models used for persistence.
type AccountModel struct {
	ID           string    `gorm:"primaryKey"`
	Name         string    `gorm:"size:60;not null;index"`
	Email        string    `gorm:"uniqueIndex;not null"`
	Address      string    `gorm:"size:400"`
	PasswordHash string    `gorm:"not null"`
	Role         string    `gorm:"size:16;not null;index"`
	CreatedAt    time.Time `gorm:"not null"`
	UpdatedAt    time.Time
}

type StoreModel struct {
	ID        string    `gorm:"primaryKey"`
	Name      string    `gorm:"not null;index"`
	Email     string    `gorm:"uniqueIndex;not null"`
	Address   string    `gorm:"size:400"`
	OwnerID   *string   `gorm:"index"`
	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time

	Owner *AccountModel `gorm:"foreignKey:OwnerID;constraint:OnDelete:RESTRICT"`
}

type RatingModel struct {
	ID        string    `gorm:"primaryKey"`
	AccountID string    `gorm:"not null;uniqueIndex:idx_rating_account_store"`
	StoreID   string    `gorm:"not null;uniqueIndex:idx_rating_account_store;index"`
	Score     int       `gorm:"not null;check:chk_rating_score,score >= 1 AND score <= 5"`
	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time

	Account *AccountModel `gorm:"foreignKey:AccountID;constraint:OnDelete:RESTRICT"`
	Store   *StoreModel   `gorm:"foreignKey:StoreID;constraint:OnDelete:RESTRICT"`
}

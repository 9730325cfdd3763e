package models

import "time"

// GMBToken is a Google My Business OAuth grant. Access and refresh tokens are
// stored encrypted; at most one row per franchisee is active.
type GMBToken struct {
	ID                    uint `gorm:"primaryKey"`
	FranchiseeID          uint `gorm:"index;not null"`
	EncryptedAccessToken  []byte
	EncryptedRefreshToken []byte
	TokenType             string `gorm:"size:20"`
	Expiry                time.Time
	Scope                 string `gorm:"size:255"`
	AccountID             string `gorm:"size:100"`
	LocationID            string `gorm:"size:100"`
	Active                bool   `gorm:"index;not null;default:true"`
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

package models

import "time"

type SMSConsent struct {
	ID           uint   `gorm:"primaryKey"`
	Phone        string `gorm:"size:20;uniqueIndex;not null"` // E.164
	FranchiseeID *uint  `gorm:"index"`
	OptedIn      bool   `gorm:"not null"`
	Source       string `gorm:"size:30"` // web_form, inbound_sms, admin
	ChangedAt    time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

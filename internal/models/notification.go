package models

import "time"

type NotificationChannel string

const (
	ChannelInApp NotificationChannel = "in_app"
	ChannelSMS   NotificationChannel = "sms"
)

type NotificationStatus string

const (
	NotificationPending NotificationStatus = "pending"
	NotificationSent    NotificationStatus = "sent"
	NotificationFailed  NotificationStatus = "failed"
	NotificationRead    NotificationStatus = "read"
)

type Notification struct {
	ID           uint  `gorm:"primaryKey"`
	UserID       *uint `gorm:"index"`
	FranchiseeID *uint `gorm:"index"`
	Kind         string              `gorm:"size:50;not null"` // job_submitted, job_status, sms, magic_link
	Title        string              `gorm:"size:150"`
	Body         string              `gorm:"type:text"`
	Channel      NotificationChannel `gorm:"size:20;not null"`
	Recipient    string              `gorm:"size:50"` // phone number for sms
	Status       NotificationStatus  `gorm:"size:20;index;not null"`
	ProviderID   string              `gorm:"size:64"`
	Error        string              `gorm:"size:255"`
	ReadAt       *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

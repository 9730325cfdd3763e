package models

import "time"

type FranchiseePhoto struct {
	ID           uint `gorm:"primaryKey"`
	FranchiseeID uint `gorm:"index;not null"`
	JobID        *uint `gorm:"index"`
	TechnicianID *uint
	ObjectKey    string `gorm:"size:255;not null;uniqueIndex"`
	URL          string `gorm:"size:500;not null"`
	ContentType  string `gorm:"size:50"`
	SizeBytes    int64
	CreatedAt    time.Time
}

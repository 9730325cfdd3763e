package models

import "time"

type Technician struct {
	ID           uint `gorm:"primaryKey"`
	FranchiseeID uint `gorm:"index;not null"`
	Franchisee   Franchisee
	Name         string `gorm:"size:100;not null"`
	Email        string `gorm:"size:150"`
	Phone        string `gorm:"size:30"`
	LoginCode    string `gorm:"size:12;uniqueIndex"`
	Active       bool   `gorm:"default:true"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

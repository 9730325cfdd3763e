package models

import "time"

type Franchisee struct {
	ID           uint   `gorm:"primaryKey"`
	Name         string `gorm:"size:100;not null;unique"`
	BusinessName string `gorm:"size:150"`
	Email        string `gorm:"size:150"`
	Phone        string `gorm:"size:30"`
	Address      string `gorm:"size:255"`
	City         string `gorm:"size:100"`
	State        string `gorm:"size:50"`
	ZipCode      string `gorm:"size:20"`
	// GMBLocationName is the display name used in generated posts.
	GMBLocationName string `gorm:"size:150"`
	Active          bool   `gorm:"default:true"`
	CreatedAt       time.Time
	UpdatedAt       time.Time

	Users       []User
	Technicians []Technician
}

package models

import "time"

type UserRole string

const (
	RoleAdmin      UserRole = "admin"
	RoleFranchisee UserRole = "franchisee"
	RoleTechnician UserRole = "technician"
)

type User struct {
	ID           uint `gorm:"primaryKey"`
	FranchiseeID *uint `gorm:"index"`
	Franchisee   *Franchisee
	TechnicianID *uint `gorm:"uniqueIndex"`
	Name         string   `gorm:"size:100;not null"`
	Email        string   `gorm:"size:150;uniqueIndex;not null"`
	PasswordHash string   `gorm:"size:255"` // technicians created on first code login have none
	Role         UserRole `gorm:"size:20;not null"`
	LastLoginAt  *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

package models

import "time"

type JobStatus string

const (
	JobStatusSubmitted JobStatus = "submitted"
	JobStatusApproved  JobStatus = "approved"
	JobStatusPublished JobStatus = "published"
	JobStatusRejected  JobStatus = "rejected"
)

// CanTransition reports whether a job may move from s to next.
func (s JobStatus) CanTransition(next JobStatus) bool {
	switch s {
	case JobStatusSubmitted:
		return next == JobStatusApproved || next == JobStatusRejected
	case JobStatusApproved:
		return next == JobStatusPublished || next == JobStatusRejected
	default:
		return false
	}
}

type JobSubmission struct {
	ID              uint `gorm:"primaryKey"`
	FranchiseeID    uint `gorm:"index;not null"`
	Franchisee      Franchisee
	TechnicianID    uint `gorm:"index;not null"`
	Technician      Technician
	ServiceCategory string    `gorm:"size:50;not null"` // residential, automotive, commercial, roadside
	ServiceType     string    `gorm:"size:100;not null"`
	CustomerName    string    `gorm:"size:100"`
	CustomerPhone   string    `gorm:"size:30"`
	Address         string    `gorm:"size:255"`
	City            string    `gorm:"size:100"`
	Description     string    `gorm:"type:text"`
	Status          JobStatus `gorm:"size:20;index;not null;default:submitted"`
	SubmittedAt     time.Time `gorm:"index;not null"`
	CreatedAt       time.Time
	UpdatedAt       time.Time

	Photos []FranchiseePhoto `gorm:"foreignKey:JobID"`
}

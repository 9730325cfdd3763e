package models

import "time"

type ContentKind string

const (
	ContentSummary    ContentKind = "summary"
	ContentSocialPost ContentKind = "social_post"
	ContentGMBPost    ContentKind = "gmb_post"
	ContentReport     ContentKind = "report"
)

type GeneratedContent struct {
	ID           uint        `gorm:"primaryKey"`
	FranchiseeID uint        `gorm:"index;not null"`
	JobID        *uint       `gorm:"index"`
	Kind         ContentKind `gorm:"size:20;not null"`
	PromptHash   string      `gorm:"size:64;index;not null"`
	Prompt       string      `gorm:"type:text"`
	Body         string      `gorm:"type:text;not null"`
	Model        string      `gorm:"size:50"`
	AudioURL     string      `gorm:"size:500"`
	PublishedAt  *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Package notifications stores in-app notices for franchisee users and
// serves them back to the web client.
package notifications

import (
	"fmt"

	"gorm.io/gorm"

	"pal-backend/internal/models"
)

const (
	KindJobSubmitted = "job_submitted"
	KindJobStatus    = "job_status"
	KindSMS          = "sms"
	KindMagicLink    = "magic_link"
)

// NotifyFranchisee creates one unread in-app notification for every owner
// account of the franchisee. It returns the number created.
func NotifyFranchisee(tx *gorm.DB, franchiseeID uint, kind, title, body string) (int, error) {
	var owners []uint
	if err := tx.Model(&models.User{}).
		Where("franchisee_id = ? AND role = ?", franchiseeID, models.RoleFranchisee).
		Pluck("id", &owners).Error; err != nil {
		return 0, fmt.Errorf("load franchisee owners: %w", err)
	}
	if len(owners) == 0 {
		return 0, nil
	}

	rows := make([]models.Notification, 0, len(owners))
	for _, uid := range owners {
		uid := uid
		rows = append(rows, models.Notification{
			UserID:       &uid,
			FranchiseeID: &franchiseeID,
			Kind:         kind,
			Title:        title,
			Body:         body,
			Channel:      models.ChannelInApp,
			Status:       models.NotificationPending,
		})
	}
	if err := tx.Create(&rows).Error; err != nil {
		return 0, fmt.Errorf("create notifications: %w", err)
	}
	return len(rows), nil
}

// UnreadCount counts the user's in-app notifications that are not yet read.
func UnreadCount(db *gorm.DB, userID uint) (int64, error) {
	var n int64
	err := db.Model(&models.Notification{}).
		Where("user_id = ? AND channel = ? AND read_at IS NULL", userID, models.ChannelInApp).
		Count(&n).Error
	return n, err
}

package notifications

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"pal-backend/internal/auth"
	"pal-backend/internal/database"
	"pal-backend/internal/models"
)

type NotificationResponse struct {
	ID        uint    `json:"id"`
	Kind      string  `json:"kind"`
	Title     string  `json:"title"`
	Body      string  `json:"body"`
	Read      bool    `json:"read"`
	ReadAt    *string `json:"read_at"`
	CreatedAt string  `json:"created_at"`
}

func toResponse(n *models.Notification) NotificationResponse {
	r := NotificationResponse{
		ID:        n.ID,
		Kind:      n.Kind,
		Title:     n.Title,
		Body:      n.Body,
		Read:      n.ReadAt != nil,
		CreatedAt: n.CreatedAt.Format(time.RFC3339),
	}
	if n.ReadAt != nil {
		s := n.ReadAt.Format(time.RFC3339)
		r.ReadAt = &s
	}
	return r
}

// GET /api/notifications?unread=true&limit=50
func ListHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, err := auth.CurrentIdentity(c)
		if err != nil {
			return err
		}

		limit := c.QueryInt("limit", 50)
		if limit <= 0 || limit > 200 {
			limit = 50
		}

		q := database.DB.
			Where("user_id = ? AND channel = ?", id.UserID, models.ChannelInApp).
			Order("created_at DESC, id DESC").
			Limit(limit)
		if c.QueryBool("unread", false) {
			q = q.Where("read_at IS NULL")
		}

		var list []models.Notification
		if err := q.Find(&list).Error; err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "Could not list notifications")
		}

		res := make([]NotificationResponse, 0, len(list))
		for i := range list {
			res = append(res, toResponse(&list[i]))
		}
		return c.JSON(res)
	}
}

// GET /api/notifications/unread-count
func UnreadCountHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, err := auth.CurrentIdentity(c)
		if err != nil {
			return err
		}
		n, err := UnreadCount(database.DB, id.UserID)
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "Could not count notifications")
		}
		return c.JSON(fiber.Map{"unread": n})
	}
}

// POST /api/notifications/:id/read
func MarkReadHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, err := auth.CurrentIdentity(c)
		if err != nil {
			return err
		}
		nid, err := auth.ParamID(c, "id")
		if err != nil {
			return err
		}

		var n models.Notification
		if err := database.DB.First(&n, "id = ? AND user_id = ?", nid, id.UserID).Error; err != nil {
			return fiber.NewError(fiber.StatusNotFound, "Notification not found")
		}
		if n.ReadAt == nil {
			now := time.Now()
			if err := database.DB.Model(&n).Updates(map[string]any{
				"read_at": now,
				"status":  models.NotificationRead,
			}).Error; err != nil {
				return fiber.NewError(fiber.StatusInternalServerError, "Could not update notification")
			}
			n.ReadAt = &now
		}
		return c.JSON(toResponse(&n))
	}
}

// POST /api/notifications/read-all
func MarkAllReadHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, err := auth.CurrentIdentity(c)
		if err != nil {
			return err
		}

		res := database.DB.Model(&models.Notification{}).
			Where("user_id = ? AND channel = ? AND read_at IS NULL", id.UserID, models.ChannelInApp).
			Updates(map[string]any{"read_at": time.Now(), "status": models.NotificationRead})
		if res.Error != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "Could not update notifications")
		}
		return c.JSON(fiber.Map{"updated": res.RowsAffected})
	}
}

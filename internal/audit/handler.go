package audit

import (
	"errors"
	"strconv"

	"github.com/gofiber/fiber/v2"

	"pal-backend/internal/auth"
	"pal-backend/internal/database"
	"pal-backend/internal/models"
)

type AuditLogResponse struct {
	ID           uint               `json:"id"`
	CreatedAt    string             `json:"created_at"`
	FranchiseeID *uint              `json:"franchisee_id"`
	UserID       uint               `json:"user_id"`
	UserName     string             `json:"user_name"`
	EntityType   string             `json:"entity_type"`
	EntityID     uint               `json:"entity_id"`
	Action       models.AuditAction `json:"action"`
	Description  string             `json:"description"`
	IsUndone     bool               `json:"is_undone"`
	UndoneBy     *uint              `json:"undone_by"`
	UndoneAt     *string            `json:"undone_at"`
}

// GET /api/audit-logs?entity_type=technician&entity_id=1&franchisee_id=1
func ListAuditLogsHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		franchiseeID, err := auth.FranchiseeFilter(c)
		if err != nil {
			return err
		}

		dbq := database.DB.Model(&models.AuditLog{})
		if franchiseeID != nil {
			dbq = dbq.Where("franchisee_id = ?", *franchiseeID)
		}
		if uid, err := strconv.ParseUint(c.Query("user_id"), 10, 64); err == nil && uid > 0 {
			dbq = dbq.Where("user_id = ?", uid)
		}
		if entityType := c.Query("entity_type"); entityType != "" {
			dbq = dbq.Where("entity_type = ?", entityType)
		}
		if eid, err := strconv.ParseUint(c.Query("entity_id"), 10, 64); err == nil && eid > 0 {
			dbq = dbq.Where("entity_id = ?", eid)
		}

		limit := c.QueryInt("limit", 100)
		if limit <= 0 || limit > 500 {
			limit = 100
		}

		var logs []models.AuditLog
		if err := dbq.Order("created_at DESC, id DESC").Limit(limit).Find(&logs).Error; err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "Could not list audit logs")
		}

		resp := make([]AuditLogResponse, 0, len(logs))
		for _, l := range logs {
			var undoneAt *string
			if l.UndoneAt != nil {
				formatted := l.UndoneAt.Format("2006-01-02 15:04:05")
				undoneAt = &formatted
			}
			resp = append(resp, AuditLogResponse{
				ID:           l.ID,
				CreatedAt:    l.CreatedAt.Format("2006-01-02 15:04:05"),
				FranchiseeID: l.FranchiseeID,
				UserID:       l.UserID,
				UserName:     l.UserName,
				EntityType:   l.EntityType,
				EntityID:     l.EntityID,
				Action:       l.Action,
				Description:  l.Description,
				IsUndone:     l.IsUndone,
				UndoneBy:     l.UndoneBy,
				UndoneAt:     undoneAt,
			})
		}
		return c.JSON(resp)
	}
}

// POST /api/audit-logs/:id/undo
func UndoAuditLogHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		logID, err := auth.ParamID(c, "id")
		if err != nil {
			return err
		}
		user, err := auth.CurrentUser(c)
		if err != nil {
			return err
		}

		var entry models.AuditLog
		if err := database.DB.First(&entry, "id = ?", logID).Error; err != nil {
			return fiber.NewError(fiber.StatusNotFound, "Audit log not found")
		}

		switch user.Role {
		case models.RoleAdmin:
		case models.RoleFranchisee:
			if user.FranchiseeID == nil || entry.FranchiseeID == nil || *entry.FranchiseeID != *user.FranchiseeID {
				return fiber.NewError(fiber.StatusForbidden, "You can only undo changes in your own franchise")
			}
		default:
			return fiber.NewError(fiber.StatusForbidden, "You are not allowed to undo changes")
		}

		if err := UndoLog(logID, user.ID, user.Name); err != nil {
			if errors.Is(err, ErrAlreadyUndone) || errors.Is(err, ErrNotUndoable) {
				return fiber.NewError(fiber.StatusConflict, err.Error())
			}
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}

		return c.JSON(fiber.Map{"message": "Change undone"})
	}
}

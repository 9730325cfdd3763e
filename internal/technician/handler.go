package technician

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"pal-backend/internal/audit"
	"pal-backend/internal/auth"
	"pal-backend/internal/database"
	"pal-backend/internal/logger"
	"pal-backend/internal/models"
)

type TechnicianResponse struct {
	ID           uint   `json:"id"`
	FranchiseeID uint   `json:"franchisee_id"`
	Name         string `json:"name"`
	Email        string `json:"email"`
	Phone        string `json:"phone"`
	LoginCode    string `json:"login_code"`
	Active       bool   `json:"active"`
	CreatedAt    string `json:"created_at"`
}

type CreateTechnicianRequest struct {
	FranchiseeID *uint  `json:"franchisee_id"` // admin only
	Name         string `json:"name"`
	Email        string `json:"email"`
	Phone        string `json:"phone"`
}

type UpdateTechnicianRequest struct {
	Name   *string `json:"name"`
	Email  *string `json:"email"`
	Phone  *string `json:"phone"`
	Active *bool   `json:"active"`
}

func toResponse(t *models.Technician) TechnicianResponse {
	return TechnicianResponse{
		ID:           t.ID,
		FranchiseeID: t.FranchiseeID,
		Name:         t.Name,
		Email:        t.Email,
		Phone:        t.Phone,
		LoginCode:    t.LoginCode,
		Active:       t.Active,
		CreatedAt:    t.CreatedAt.Format("2006-01-02 15:04:05"),
	}
}

// create stores a technician with a fresh login code and writes its audit log
// in the same transaction.
func create(tx *gorm.DB, franchiseeID uint, name, email, phone string, actor *models.User) (*models.Technician, error) {
	code, err := database.UniqueLoginCode(tx)
	if err != nil {
		return nil, err
	}
	tech := models.Technician{
		FranchiseeID: franchiseeID,
		Name:         name,
		Email:        email,
		Phone:        phone,
		LoginCode:    code,
		Active:       true,
	}
	if err := tx.Create(&tech).Error; err != nil {
		return nil, err
	}
	err = audit.WriteLogTx(tx, audit.LogOptions{
		FranchiseeID: &franchiseeID,
		UserID:       actor.ID,
		UserName:     actor.Name,
		EntityType:   audit.EntityTechnician,
		EntityID:     tech.ID,
		Action:       models.AuditActionCreate,
		Description:  "Technician created: " + tech.Name,
		After:        tech,
	})
	if err != nil {
		return nil, err
	}
	return &tech, nil
}

func CreateTechnicianHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		var body CreateTechnicianRequest
		if err := c.BodyParser(&body); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
		}

		franchiseeID, err := auth.ResolveFranchiseeFromBody(c, body.FranchiseeID)
		if err != nil {
			return err
		}
		if err := ensureFranchiseeExists(franchiseeID); err != nil {
			return err
		}

		body.Name = strings.TrimSpace(body.Name)
		if body.Name == "" {
			return fiber.NewError(fiber.StatusBadRequest, "Technician name is required")
		}

		actor, err := auth.CurrentUser(c)
		if err != nil {
			return err
		}

		var tech *models.Technician
		err = database.DB.Transaction(func(tx *gorm.DB) error {
			var err error
			tech, err = create(tx, franchiseeID, body.Name,
				strings.ToLower(strings.TrimSpace(body.Email)), strings.TrimSpace(body.Phone), actor)
			return err
		})
		if err != nil {
			logger.L().Error("create technician", zap.Uint("franchisee_id", franchiseeID), zap.Error(err))
			return fiber.NewError(fiber.StatusInternalServerError, "Could not create technician")
		}

		return c.Status(fiber.StatusCreated).JSON(toResponse(tech))
	}
}

// ListTechniciansHandler lists the caller's technicians; admins may pass
// ?franchisee_id= or see all. ?active=true hides deactivated ones.
func ListTechniciansHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		fid, err := auth.FranchiseeFilter(c)
		if err != nil {
			return err
		}

		q := database.DB.Order("name ASC")
		if fid != nil {
			q = q.Where("franchisee_id = ?", *fid)
		}
		if c.Query("active") == "true" {
			q = q.Where("active = ?", true)
		}

		var techs []models.Technician
		if err := q.Find(&techs).Error; err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "Could not list technicians")
		}

		res := make([]TechnicianResponse, 0, len(techs))
		for i := range techs {
			res = append(res, toResponse(&techs[i]))
		}
		return c.JSON(res)
	}
}

func GetTechnicianHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		tech, err := load(c)
		if err != nil {
			return err
		}
		return c.JSON(toResponse(tech))
	}
}

func UpdateTechnicianHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		tech, err := load(c)
		if err != nil {
			return err
		}

		var body UpdateTechnicianRequest
		if err := c.BodyParser(&body); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
		}

		before := *tech
		updates := map[string]any{}
		if body.Name != nil {
			name := strings.TrimSpace(*body.Name)
			if name == "" {
				return fiber.NewError(fiber.StatusBadRequest, "Technician name is required")
			}
			updates["name"] = name
		}
		if body.Email != nil {
			updates["email"] = strings.ToLower(strings.TrimSpace(*body.Email))
		}
		if body.Phone != nil {
			updates["phone"] = strings.TrimSpace(*body.Phone)
		}
		if body.Active != nil {
			updates["active"] = *body.Active
		}
		if len(updates) == 0 {
			return c.JSON(toResponse(tech))
		}

		if err := applyUpdate(c, tech, before, updates, "Technician updated: "+before.Name); err != nil {
			return err
		}
		return c.JSON(toResponse(tech))
	}
}

// RegenerateCodeHandler issues a new login code; the old one stops working
// immediately.
func RegenerateCodeHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		tech, err := load(c)
		if err != nil {
			return err
		}

		code, err := database.UniqueLoginCode(database.DB)
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "Could not generate login code")
		}

		before := *tech
		if err := applyUpdate(c, tech, before, map[string]any{"login_code": code}, "Login code regenerated: "+tech.Name); err != nil {
			return err
		}
		return c.JSON(toResponse(tech))
	}
}

// DeleteTechnicianHandler removes a technician with no job history. Technicians
// with jobs can only be deactivated so their submissions keep an author.
func DeleteTechnicianHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		tech, err := load(c)
		if err != nil {
			return err
		}

		var jobs int64
		database.DB.Model(&models.JobSubmission{}).Where("technician_id = ?", tech.ID).Count(&jobs)
		if jobs > 0 {
			return fiber.NewError(fiber.StatusConflict, "Technician has job submissions; deactivate instead")
		}

		actor, err := auth.CurrentUser(c)
		if err != nil {
			return err
		}

		err = database.DB.Transaction(func(tx *gorm.DB) error {
			if err := tx.Where("technician_id = ?", tech.ID).Delete(&models.User{}).Error; err != nil {
				return err
			}
			if err := tx.Model(&models.FranchiseePhoto{}).Where("technician_id = ?", tech.ID).Update("technician_id", nil).Error; err != nil {
				return err
			}
			if err := tx.Delete(&models.Technician{}, "id = ?", tech.ID).Error; err != nil {
				return err
			}
			return audit.WriteLogTx(tx, audit.LogOptions{
				FranchiseeID: &tech.FranchiseeID,
				UserID:       actor.ID,
				UserName:     actor.Name,
				EntityType:   audit.EntityTechnician,
				EntityID:     tech.ID,
				Action:       models.AuditActionDelete,
				Description:  "Technician deleted: " + tech.Name,
				Before:       tech,
			})
		})
		if err != nil {
			logger.L().Error("delete technician", zap.Uint("technician_id", tech.ID), zap.Error(err))
			return fiber.NewError(fiber.StatusInternalServerError, "Could not delete technician")
		}
		return c.SendStatus(fiber.StatusNoContent)
	}
}

func applyUpdate(c *fiber.Ctx, tech *models.Technician, before models.Technician, updates map[string]any, description string) error {
	actor, err := auth.CurrentUser(c)
	if err != nil {
		return err
	}

	err = database.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(tech).Updates(updates).Error; err != nil {
			return err
		}
		if err := tx.First(tech, "id = ?", tech.ID).Error; err != nil {
			return err
		}
		return audit.WriteLogTx(tx, audit.LogOptions{
			FranchiseeID: &tech.FranchiseeID,
			UserID:       actor.ID,
			UserName:     actor.Name,
			EntityType:   audit.EntityTechnician,
			EntityID:     tech.ID,
			Action:       models.AuditActionUpdate,
			Description:  description,
			Before:       before,
			After:        tech,
		})
	})
	if err != nil {
		logger.L().Error("update technician", zap.Uint("technician_id", tech.ID), zap.Error(err))
		return fiber.NewError(fiber.StatusInternalServerError, "Could not update technician")
	}
	return nil
}

// load fetches the :id technician and enforces franchisee scope.
func load(c *fiber.Ctx) (*models.Technician, error) {
	id, err := auth.ParamID(c, "id")
	if err != nil {
		return nil, err
	}

	var tech models.Technician
	if err := database.DB.First(&tech, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fiber.NewError(fiber.StatusNotFound, "Technician not found")
		}
		return nil, fiber.NewError(fiber.StatusInternalServerError, "Could not load technician")
	}
	if err := auth.EnsureFranchiseeAccess(c, tech.FranchiseeID); err != nil {
		return nil, err
	}
	return &tech, nil
}

func ensureFranchiseeExists(id uint) error {
	var f models.Franchisee
	if err := database.DB.Select("id", "active").First(&f, "id = ?", id).Error; err != nil {
		return fiber.NewError(fiber.StatusNotFound, "Franchisee not found")
	}
	if !f.Active {
		return fiber.NewError(fiber.StatusConflict, "Franchisee is inactive")
	}
	return nil
}

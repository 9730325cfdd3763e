package auth

import (
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"pal-backend/internal/config"
	"pal-backend/internal/database"
	"pal-backend/internal/logger"
	"pal-backend/internal/logincode"
	"pal-backend/internal/models"
)

type TechLoginRequest struct {
	Code string `json:"code"`
}

// TechnicianEmail is the synthetic address given to technician accounts,
// which sign in with a code and never with email and password.
func TechnicianEmail(technicianID uint) string {
	return fmt.Sprintf("tech-%d@technicians.local", technicianID)
}

// TechLoginHandler signs a technician in with the short code issued by their
// franchisee. The technician's user account is created on first login.
func TechLoginHandler(cfg *config.Config) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var body TechLoginRequest
		if err := c.BodyParser(&body); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
		}

		code := logincode.Normalize(body.Code)
		if !logincode.Valid(code) {
			return fiber.NewError(fiber.StatusUnauthorized, "Invalid login code")
		}

		var tech models.Technician
		if err := database.DB.Preload("Franchisee").
			Where("login_code = ? AND active = ?", code, true).
			First(&tech).Error; err != nil {
			return fiber.NewError(fiber.StatusUnauthorized, "Invalid login code")
		}
		if !tech.Franchisee.Active {
			return fiber.NewError(fiber.StatusForbidden, "Franchisee account is inactive")
		}

		user, err := technicianUser(&tech)
		if err != nil {
			logger.L().Error("technician user lookup failed", zap.Uint("technician_id", tech.ID), zap.Error(err))
			return fiber.NewError(fiber.StatusInternalServerError, "Could not sign in")
		}

		return issueSession(c, cfg, user)
	}
}

func technicianUser(tech *models.Technician) (*models.User, error) {
	var user models.User
	err := database.DB.Where("technician_id = ?", tech.ID).First(&user).Error
	if err == nil {
		return &user, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	franchiseeID := tech.FranchiseeID
	technicianID := tech.ID
	user = models.User{
		Name:         tech.Name,
		Email:        TechnicianEmail(tech.ID),
		Role:         models.RoleTechnician,
		FranchiseeID: &franchiseeID,
		TechnicianID: &technicianID,
	}
	if err := database.DB.Create(&user).Error; err != nil {
		return nil, err
	}
	logger.L().Info("technician account created", zap.Uint("technician_id", tech.ID), zap.Uint("user_id", user.ID))
	return &user, nil
}

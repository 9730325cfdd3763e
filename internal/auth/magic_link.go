package auth

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"pal-backend/internal/config"
	"pal-backend/internal/database"
	"pal-backend/internal/logger"
	"pal-backend/internal/magiclink"
	"pal-backend/internal/models"
)

// LinkDeliverer sends a sign-in link to a user by whatever channel is
// available to them.
type LinkDeliverer interface {
	DeliverMagicLink(ctx context.Context, user *models.User, link string) error
}

type MagicLinkRequest struct {
	Email string `json:"email"`
}

type MagicLinkVerifyRequest struct {
	Token string `json:"token"`
}

// MagicLinkURL is the frontend URL a token is embedded in.
func MagicLinkURL(cfg *config.Config, token string) string {
	return strings.TrimRight(cfg.PublicBaseURL, "/") + "/auth/magic?token=" + url.QueryEscape(token)
}

// RequestMagicLinkHandler always answers 202 so callers cannot probe which
// addresses have accounts.
func RequestMagicLinkHandler(cfg *config.Config, store magiclink.Store, deliver LinkDeliverer) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var body MagicLinkRequest
		if err := c.BodyParser(&body); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
		}
		email := strings.TrimSpace(strings.ToLower(body.Email))
		if email == "" {
			return fiber.NewError(fiber.StatusBadRequest, "Email is required")
		}

		accepted := func() error {
			return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
				"message": "If an account exists for that address, a sign-in link is on its way",
			})
		}

		user, err := magicLinkUser(email)
		if err != nil {
			if !errors.Is(err, gorm.ErrRecordNotFound) {
				logger.L().Error("magic link user lookup failed", zap.Error(err))
			}
			return accepted()
		}

		token, err := magiclink.NewToken()
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "Could not create sign-in link")
		}
		payload := magiclink.Payload{UserID: user.ID, Email: user.Email, IssuedAt: time.Now().UTC()}
		if err := store.Save(c.UserContext(), token, payload, cfg.MagicLinkTTL); err != nil {
			logger.L().Error("magic link save failed", zap.Uint("user_id", user.ID), zap.Error(err))
			return fiber.NewError(fiber.StatusServiceUnavailable, "Could not create sign-in link")
		}

		if deliver != nil {
			if err := deliver.DeliverMagicLink(c.UserContext(), user, MagicLinkURL(cfg, token)); err != nil {
				logger.L().Warn("magic link delivery failed", zap.Uint("user_id", user.ID), zap.Error(err))
			}
		}
		return accepted()
	}
}

// magicLinkUser resolves an address to an account. Technician accounts carry a
// synthetic email, so an active technician's own address is matched too and
// their account is created on first use.
func magicLinkUser(email string) (*models.User, error) {
	var user models.User
	err := database.DB.Where("email = ?", email).First(&user).Error
	if err == nil {
		return &user, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	var tech models.Technician
	if err := database.DB.Preload("Franchisee").
		Where("LOWER(email) = ? AND active = ?", email, true).
		First(&tech).Error; err != nil {
		return nil, err
	}
	if !tech.Franchisee.Active {
		return nil, gorm.ErrRecordNotFound
	}
	return technicianUser(&tech)
}

func VerifyMagicLinkHandler(cfg *config.Config, store magiclink.Store) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var body MagicLinkVerifyRequest
		if err := c.BodyParser(&body); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
		}
		if strings.TrimSpace(body.Token) == "" {
			return fiber.NewError(fiber.StatusBadRequest, "Token is required")
		}

		payload, err := store.Consume(c.UserContext(), strings.TrimSpace(body.Token))
		if errors.Is(err, magiclink.ErrInvalidToken) {
			return fiber.NewError(fiber.StatusUnauthorized, "Sign-in link is invalid or expired")
		}
		if err != nil {
			logger.L().Error("magic link consume failed", zap.Error(err))
			return fiber.NewError(fiber.StatusServiceUnavailable, "Could not verify sign-in link")
		}

		var user models.User
		if err := database.DB.First(&user, payload.UserID).Error; err != nil || user.Email != payload.Email {
			return fiber.NewError(fiber.StatusUnauthorized, "Sign-in link is invalid or expired")
		}

		return issueSession(c, cfg, &user)
	}
}

package gmb

import (
	"errors"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"pal-backend/internal/auth"
	"pal-backend/internal/config"
	"pal-backend/internal/database"
	"pal-backend/internal/logger"
	"pal-backend/internal/models"
)

type StatusResponse struct {
	Connected  bool    `json:"connected"`
	ExpiresAt  *string `json:"expires_at,omitempty"`
	Scope      string  `json:"scope,omitempty"`
	AccountID  string  `json:"account_id,omitempty"`
	LocationID string  `json:"location_id,omitempty"`
}

type LocationRequest struct {
	AccountID  string `json:"account_id"`
	LocationID string `json:"location_id"`
}

type PublishRequest struct {
	ContentID *uint  `json:"content_id"`
	Summary   string `json:"summary"`
	PhotoURL  string `json:"photo_url"`
}

func settingsURL(cfg *config.Config, result string) string {
	return strings.TrimRight(cfg.PublicBaseURL, "/") + "/settings?gmb=" + url.QueryEscape(result)
}

// GET /api/gmb/connect
func ConnectHandler(cfg *config.Config, svc *Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if !cfg.GoogleEnabled() {
			return fiber.NewError(fiber.StatusServiceUnavailable, "Google Business integration is not configured")
		}
		franchiseeID, err := auth.ResolveFranchiseeFromQuery(c)
		if err != nil {
			return err
		}
		id, err := auth.CurrentIdentity(c)
		if err != nil {
			return err
		}

		state, err := SignState(cfg.JWTSecret, franchiseeID, id.UserID, time.Now())
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "Could not start Google authorization")
		}
		return c.JSON(fiber.Map{"url": svc.AuthURL(state)})
	}
}

// GET /api/gmb/callback?code=&state=
// Google redirects the browser here, so the outcome is a redirect back to the
// settings page rather than JSON.
func CallbackHandler(cfg *config.Config, svc *Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if e := c.Query("error"); e != "" {
			logger.L().Info("google authorization declined", zap.String("error", e))
			return c.Redirect(settingsURL(cfg, "denied"), fiber.StatusFound)
		}

		franchiseeID, userID, err := ParseState(cfg.JWTSecret, c.Query("state"))
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "Invalid or expired state")
		}
		code := c.Query("code")
		if code == "" {
			return fiber.NewError(fiber.StatusBadRequest, "code is required")
		}

		tok, err := svc.Exchange(c.UserContext(), code)
		if err != nil {
			logger.L().Warn("google code exchange", zap.Uint("franchisee_id", franchiseeID), zap.Error(err))
			return c.Redirect(settingsURL(cfg, "error"), fiber.StatusFound)
		}
		if _, err := svc.SaveToken(franchiseeID, tok); err != nil {
			logger.L().Error("save google token", zap.Uint("franchisee_id", franchiseeID), zap.Error(err))
			return c.Redirect(settingsURL(cfg, "error"), fiber.StatusFound)
		}

		logger.L().Info("google business connected", zap.Uint("franchisee_id", franchiseeID), zap.Uint("user_id", userID))
		return c.Redirect(settingsURL(cfg, "connected"), fiber.StatusFound)
	}
}

// GET /api/gmb/status
func StatusHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		franchiseeID, err := auth.ResolveFranchiseeFromQuery(c)
		if err != nil {
			return err
		}
		row, err := ActiveToken(database.DB, franchiseeID)
		if errors.Is(err, ErrNoActiveToken) {
			return c.JSON(StatusResponse{Connected: false})
		}
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "Could not load Google Business status")
		}
		exp := row.Expiry.Format(time.RFC3339)
		return c.JSON(StatusResponse{
			Connected:  true,
			ExpiresAt:  &exp,
			Scope:      row.Scope,
			AccountID:  row.AccountID,
			LocationID: row.LocationID,
		})
	}
}

// DELETE /api/gmb/token
func DisconnectHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		franchiseeID, err := auth.ResolveFranchiseeFromQuery(c)
		if err != nil {
			return err
		}
		found, err := Deactivate(database.DB, franchiseeID)
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "Could not disconnect Google Business")
		}
		if !found {
			return fiber.NewError(fiber.StatusNotFound, "Google Business is not connected")
		}
		return c.SendStatus(fiber.StatusNoContent)
	}
}

// PUT /api/gmb/location
func SetLocationHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		franchiseeID, err := auth.ResolveFranchiseeFromQuery(c)
		if err != nil {
			return err
		}
		var body LocationRequest
		if err := c.BodyParser(&body); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
		}
		body.AccountID = strings.TrimPrefix(strings.TrimSpace(body.AccountID), "accounts/")
		body.LocationID = strings.TrimPrefix(strings.TrimSpace(body.LocationID), "locations/")
		if body.AccountID == "" || body.LocationID == "" {
			return fiber.NewError(fiber.StatusBadRequest, "account_id and location_id are required")
		}

		row, err := ActiveToken(database.DB, franchiseeID)
		if errors.Is(err, ErrNoActiveToken) {
			return fiber.NewError(fiber.StatusConflict, "Google Business is not connected")
		}
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "Could not load Google Business grant")
		}
		if err := database.DB.Model(row).Updates(map[string]any{
			"account_id":  body.AccountID,
			"location_id": body.LocationID,
		}).Error; err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "Could not save location")
		}
		return c.JSON(StatusResponse{Connected: true, Scope: row.Scope, AccountID: body.AccountID, LocationID: body.LocationID})
	}
}

// POST /api/gmb/posts
// The text comes from stored generated content when content_id is given.
func PublishPostHandler(svc *Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		franchiseeID, err := auth.ResolveFranchiseeFromQuery(c)
		if err != nil {
			return err
		}
		var body PublishRequest
		if err := c.BodyParser(&body); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
		}

		var content *models.GeneratedContent
		if body.ContentID != nil {
			var gc models.GeneratedContent
			if err := database.DB.First(&gc, "id = ? AND franchisee_id = ?", *body.ContentID, franchiseeID).Error; err != nil {
				return fiber.NewError(fiber.StatusNotFound, "Content not found")
			}
			content = &gc
			if strings.TrimSpace(body.Summary) == "" {
				body.Summary = gc.Body
			}
		}
		body.Summary = strings.TrimSpace(body.Summary)
		if body.Summary == "" {
			return fiber.NewError(fiber.StatusBadRequest, "summary or content_id is required")
		}
		if utf8.RuneCountInString(body.Summary) > 1500 {
			return fiber.NewError(fiber.StatusBadRequest, "Google Business posts are limited to 1500 characters")
		}

		post, err := svc.Publish(c.UserContext(), franchiseeID, LocalPost{Summary: body.Summary, PhotoURL: body.PhotoURL})
		switch {
		case errors.Is(err, ErrNoActiveToken):
			return fiber.NewError(fiber.StatusConflict, "Google Business is not connected")
		case errors.Is(err, ErrLocationNotSet):
			return fiber.NewError(fiber.StatusConflict, "Choose a Google Business location first")
		case err != nil:
			logger.L().Warn("publish google post", zap.Uint("franchisee_id", franchiseeID), zap.Error(err))
			return fiber.NewError(fiber.StatusBadGateway, "Google Business rejected the post")
		}

		if content != nil {
			now := time.Now()
			if err := database.DB.Model(content).Update("published_at", now).Error; err != nil {
				logger.L().Warn("mark content published", zap.Uint("content_id", content.ID), zap.Error(err))
			}
		}
		return c.Status(fiber.StatusCreated).JSON(post)
	}
}

package sms

import (
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	twclient "github.com/twilio/twilio-go/client"
	"go.uber.org/zap"

	"pal-backend/internal/auth"
	"pal-backend/internal/database"
	"pal-backend/internal/logger"
	"pal-backend/internal/models"
)

type ConsentRequest struct {
	FranchiseeID *uint  `json:"franchisee_id"` // admin only
	Phone        string `json:"phone"`
	OptedIn      bool   `json:"opted_in"`
}

type ConsentResponse struct {
	Phone        string `json:"phone"`
	FranchiseeID *uint  `json:"franchisee_id"`
	OptedIn      bool   `json:"opted_in"`
	Source       string `json:"source"`
	ChangedAt    string `json:"changed_at"`
}

type SendRequest struct {
	FranchiseeID *uint  `json:"franchisee_id"` // admin only
	Phone        string `json:"phone"`
	Body         string `json:"body"`
}

func toConsentResponse(c *models.SMSConsent) ConsentResponse {
	return ConsentResponse{
		Phone:        c.Phone,
		FranchiseeID: c.FranchiseeID,
		OptedIn:      c.OptedIn,
		Source:       c.Source,
		ChangedAt:    c.ChangedAt.Format(time.RFC3339),
	}
}

// POST /api/sms/consent
func RecordConsentHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		var body ConsentRequest
		if err := c.BodyParser(&body); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
		}
		franchiseeID, err := auth.ResolveFranchiseeFromBody(c, body.FranchiseeID)
		if err != nil {
			return err
		}

		id, err := auth.CurrentIdentity(c)
		if err != nil {
			return err
		}
		source := SourceWebForm
		if id.IsAdmin() {
			source = SourceAdmin
		}

		row, err := SetConsent(database.DB, body.Phone, &franchiseeID, body.OptedIn, source)
		if errors.Is(err, ErrInvalidPhone) {
			return fiber.NewError(fiber.StatusBadRequest, "Phone number is invalid")
		}
		if errors.Is(err, ErrConsentOwned) {
			return fiber.NewError(fiber.StatusConflict, "Phone number is registered to another franchisee")
		}
		if err != nil {
			logger.L().Error("record sms consent", zap.Error(err))
			return fiber.NewError(fiber.StatusInternalServerError, "Could not record consent")
		}
		return c.JSON(toConsentResponse(row))
	}
}

// GET /api/sms/consent
func ListConsentHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		fid, err := auth.FranchiseeFilter(c)
		if err != nil {
			return err
		}
		q := database.DB.Order("changed_at DESC")
		if fid != nil {
			q = q.Where("franchisee_id = ?", *fid)
		}

		var rows []models.SMSConsent
		if err := q.Find(&rows).Error; err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "Could not list consent records")
		}
		res := make([]ConsentResponse, 0, len(rows))
		for i := range rows {
			res = append(res, toConsentResponse(&rows[i]))
		}
		return c.JSON(res)
	}
}

// POST /api/sms/send
func SendHandler(svc *Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var body SendRequest
		if err := c.BodyParser(&body); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
		}
		franchiseeID, err := auth.ResolveFranchiseeFromBody(c, body.FranchiseeID)
		if err != nil {
			return err
		}
		body.Body = strings.TrimSpace(body.Body)
		if body.Body == "" {
			return fiber.NewError(fiber.StatusBadRequest, "Message body is required")
		}
		if len(body.Body) > 1600 {
			return fiber.NewError(fiber.StatusBadRequest, "Message body is too long")
		}

		n, err := svc.Send(c.UserContext(), franchiseeID, body.Phone, body.Body)
		switch {
		case errors.Is(err, ErrInvalidPhone):
			return fiber.NewError(fiber.StatusBadRequest, "Phone number is invalid")
		case errors.Is(err, ErrConsentMissing):
			return fiber.NewError(fiber.StatusUnprocessableEntity, "Recipient has not opted in to text messages")
		case errors.Is(err, ErrDisabled):
			return fiber.NewError(fiber.StatusServiceUnavailable, "Text messaging is not configured")
		case err != nil:
			return fiber.NewError(fiber.StatusBadGateway, "Text message could not be delivered")
		}

		return c.Status(fiber.StatusCreated).JSON(fiber.Map{
			"id":          n.ID,
			"status":      models.NotificationSent,
			"recipient":   n.Recipient,
			"provider_id": n.ProviderID,
		})
	}
}

var (
	optOutWords = map[string]bool{"STOP": true, "STOPALL": true, "UNSUBSCRIBE": true, "CANCEL": true, "END": true, "QUIT": true}
	optInWords  = map[string]bool{"START": true, "YES": true, "UNSTOP": true}
)

// InboundHandler is the Twilio messaging webhook. STOP style keywords opt the
// sender out and START style keywords opt them back in. The X-Twilio-Signature
// header is verified against webhookURL; without an authToken every request is
// refused with 503.
func InboundHandler(authToken, webhookURL string) fiber.Handler {
	if authToken == "" {
		return func(c *fiber.Ctx) error {
			return fiber.NewError(fiber.StatusServiceUnavailable, "Text messaging is not configured")
		}
	}
	validator := twclient.NewRequestValidator(authToken)

	return func(c *fiber.Ctx) error {
		params := map[string]string{}
		c.Request().PostArgs().VisitAll(func(k, v []byte) {
			params[string(k)] = string(v)
		})
		if !validator.Validate(webhookURL, params, c.Get("X-Twilio-Signature")) {
			return fiber.NewError(fiber.StatusForbidden, "Invalid signature")
		}

		from := c.FormValue("From")
		word := strings.ToUpper(strings.TrimSpace(c.FormValue("Body")))
		if fields := strings.Fields(word); len(fields) > 0 {
			word = fields[0]
		}

		var optedIn *bool
		switch {
		case optOutWords[word]:
			v := false
			optedIn = &v
		case optInWords[word]:
			v := true
			optedIn = &v
		}

		if optedIn != nil {
			if _, err := SetConsent(database.DB, from, nil, *optedIn, SourceInbound); err != nil {
				logger.L().Warn("inbound sms consent", zap.String("keyword", word), zap.Error(err))
			} else {
				logger.L().Info("inbound sms consent", zap.String("keyword", word), zap.Bool("opted_in", *optedIn))
			}
		}

		c.Set(fiber.HeaderContentType, "text/xml")
		return c.SendString(`<?xml version="1.0" encoding="UTF-8"?><Response></Response>`)
	}
}

// Package sms sends consented text messages through Twilio and keeps the
// opt-in ledger that inbound STOP and START replies update.
package sms

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"pal-backend/internal/database"
	"pal-backend/internal/metrics"
	"pal-backend/internal/models"
	"pal-backend/internal/notifications"
)

var (
	ErrConsentMissing = errors.New("recipient has not consented to SMS")
	ErrDisabled       = errors.New("sms delivery is not configured")
	ErrConsentOwned   = errors.New("phone consent belongs to another franchisee")
)

const (
	SourceWebForm = "web_form"
	SourceInbound = "inbound_sms"
	SourceAdmin   = "admin"
)

type Service struct {
	sender Sender
	log    *zap.Logger
}

// NewService returns a service that records consent. With a nil sender every
// Send fails with ErrDisabled.
func NewService(sender Sender, log *zap.Logger) *Service {
	return &Service{sender: sender, log: log.Named("sms")}
}

func (s *Service) Enabled() bool { return s.sender != nil }

// HasConsent reports whether phone (already E.164) is opted in.
func HasConsent(db *gorm.DB, phone string) (bool, error) {
	var c models.SMSConsent
	err := db.Where("phone = ?", phone).First(&c).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return c.OptedIn, nil
}

// SetConsent upserts the consent row for phone. A row owned by one franchisee
// cannot be changed by another and yields ErrConsentOwned. A nil franchiseeID
// (inbound replies) updates the opt-in without touching ownership.
func SetConsent(db *gorm.DB, phone string, franchiseeID *uint, optedIn bool, source string) (*models.SMSConsent, error) {
	normalized, err := NormalizePhone(phone)
	if err != nil {
		return nil, err
	}

	row := models.SMSConsent{
		Phone:        normalized,
		FranchiseeID: franchiseeID,
		OptedIn:      optedIn,
		Source:       source,
		ChangedAt:    time.Now(),
	}
	updateCols := []string{"opted_in", "source", "changed_at", "updated_at"}
	if franchiseeID != nil {
		updateCols = append(updateCols, "franchisee_id")
	}
	conflict := clause.OnConflict{
		Columns:   []clause.Column{{Name: "phone"}},
		DoUpdates: clause.AssignmentColumns(updateCols),
	}
	if franchiseeID != nil {
		conflict.Where = clause.Where{Exprs: []clause.Expression{clause.Expr{
			SQL:  "(sms_consents.franchisee_id IS NULL OR sms_consents.franchisee_id = ?)",
			Vars: []any{*franchiseeID},
		}}}
	}
	res := db.Clauses(conflict).Create(&row)
	if res.Error != nil {
		return nil, fmt.Errorf("save sms consent: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, ErrConsentOwned
	}

	if err := db.Where("phone = ?", normalized).First(&row).Error; err != nil {
		return nil, fmt.Errorf("reload sms consent: %w", err)
	}
	return &row, nil
}

// Send delivers body to phone on behalf of a franchisee. The number must have
// an opted-in consent record. Every attempt that reaches the provider is
// recorded as an sms Notification.
func (s *Service) Send(ctx context.Context, franchiseeID uint, phone, body string) (*models.Notification, error) {
	return s.send(ctx, notifications.KindSMS, franchiseeID, phone, body)
}

func (s *Service) send(ctx context.Context, kind string, franchiseeID uint, phone, body string) (*models.Notification, error) {
	to, err := NormalizePhone(phone)
	if err != nil {
		return nil, err
	}

	ok, err := HasConsent(database.DB, to)
	if err != nil {
		return nil, fmt.Errorf("check consent: %w", err)
	}
	if !ok {
		metrics.SMSMessages.WithLabelValues("blocked").Inc()
		return nil, ErrConsentMissing
	}
	if s.sender == nil {
		return nil, ErrDisabled
	}

	n := models.Notification{
		FranchiseeID: &franchiseeID,
		Kind:         kind,
		Body:         body,
		Channel:      models.ChannelSMS,
		Recipient:    to,
		Status:       models.NotificationPending,
	}
	if err := database.DB.Create(&n).Error; err != nil {
		return nil, fmt.Errorf("record sms: %w", err)
	}

	sid, sendErr := s.sender.Send(ctx, to, body)
	updates := map[string]any{"status": models.NotificationSent, "provider_id": sid}
	if sendErr != nil {
		msg := sendErr.Error()
		if len(msg) > 255 {
			msg = msg[:255]
		}
		updates = map[string]any{"status": models.NotificationFailed, "error": msg}
		metrics.SMSMessages.WithLabelValues("failed").Inc()
		s.log.Warn("sms send failed", zap.Uint("franchisee_id", franchiseeID), zap.Uint("notification_id", n.ID), zap.Error(sendErr))
	} else {
		metrics.SMSMessages.WithLabelValues("sent").Inc()
		s.log.Info("sms sent", zap.Uint("franchisee_id", franchiseeID), zap.String("sid", sid))
	}
	if err := database.DB.Model(&n).Updates(updates).Error; err != nil {
		s.log.Error("update sms notification", zap.Uint("notification_id", n.ID), zap.Error(err))
	}

	if sendErr != nil {
		return &n, fmt.Errorf("send sms: %w", sendErr)
	}
	return &n, nil
}

// DeliverMagicLink texts a sign-in link to technician accounts whose phone has
// consent. Other accounts get the link in the server log at debug level.
func (s *Service) DeliverMagicLink(ctx context.Context, user *models.User, link string) error {
	if user.TechnicianID == nil || user.FranchiseeID == nil {
		s.log.Debug("magic link issued", zap.Uint("user_id", user.ID), zap.String("link", link))
		return nil
	}

	var tech models.Technician
	if err := database.DB.Select("id", "phone").First(&tech, "id = ?", *user.TechnicianID).Error; err != nil {
		return fmt.Errorf("load technician: %w", err)
	}
	if tech.Phone == "" {
		s.log.Debug("magic link issued", zap.Uint("user_id", user.ID), zap.String("link", link))
		return nil
	}

	_, err := s.send(ctx, notifications.KindMagicLink, *user.FranchiseeID, tech.Phone, "Your PAL sign-in link: "+link)
	if errors.Is(err, ErrConsentMissing) || errors.Is(err, ErrDisabled) || errors.Is(err, ErrInvalidPhone) {
		s.log.Debug("magic link not texted", zap.Uint("user_id", user.ID), zap.Error(err))
		return nil
	}
	return err
}

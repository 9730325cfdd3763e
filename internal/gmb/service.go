// Package gmb connects franchisees to Google Business Profile (formerly
// Google My Business) and keeps their OAuth grants fresh.
package gmb

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"golang.org/x/sync/singleflight"
	"gorm.io/gorm"

	"pal-backend/internal/config"
	"pal-backend/internal/crypto"
	"pal-backend/internal/database"
	"pal-backend/internal/metrics"
	"pal-backend/internal/models"
)

const (
	Scope = "https://www.googleapis.com/auth/business.manage"

	// refreshWindow is how close to expiry a token is refreshed ahead of use.
	refreshWindow = 5 * time.Minute

	defaultAPIBase = "https://mybusiness.googleapis.com"
)

var ErrNoActiveToken = errors.New("no active google business token")

type Service struct {
	oauth   *oauth2.Config
	cipher  *crypto.Cipher
	group   singleflight.Group
	apiBase string
	now     func() time.Time
	log     *zap.Logger
}

func NewService(cfg *config.Config, cipher *crypto.Cipher, log *zap.Logger) *Service {
	return &Service{
		oauth: &oauth2.Config{
			ClientID:     cfg.Google.ClientID,
			ClientSecret: cfg.Google.ClientSecret,
			RedirectURL:  cfg.Google.RedirectURL,
			Scopes:       []string{Scope},
			Endpoint:     google.Endpoint,
		},
		cipher:  cipher,
		apiBase: defaultAPIBase,
		now:     time.Now,
		log:     log.Named("gmb"),
	}
}

// SaveToken makes tok the franchisee's only active grant. Account and location
// ids carry over from the grant it replaces.
func (s *Service) SaveToken(franchiseeID uint, tok *oauth2.Token) (*models.GMBToken, error) {
	access, err := s.cipher.Encrypt(tok.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("encrypt access token: %w", err)
	}
	var refresh []byte
	if tok.RefreshToken != "" {
		if refresh, err = s.cipher.Encrypt(tok.RefreshToken); err != nil {
			return nil, fmt.Errorf("encrypt refresh token: %w", err)
		}
	}

	row := models.GMBToken{
		FranchiseeID:          franchiseeID,
		EncryptedAccessToken:  access,
		EncryptedRefreshToken: refresh,
		TokenType:             tok.Type(),
		Expiry:                tok.Expiry,
		Active:                true,
	}
	if scope, ok := tok.Extra("scope").(string); ok {
		row.Scope = scope
	}

	err = database.DB.Transaction(func(tx *gorm.DB) error {
		var prev models.GMBToken
		err := tx.Where("franchisee_id = ? AND active = ?", franchiseeID, true).Order("id DESC").First(&prev).Error
		switch {
		case err == nil:
			row.AccountID = prev.AccountID
			row.LocationID = prev.LocationID
			if row.Scope == "" {
				row.Scope = prev.Scope
			}
			// Google omits the refresh token on refresh responses
			if len(row.EncryptedRefreshToken) == 0 {
				row.EncryptedRefreshToken = prev.EncryptedRefreshToken
			}
		case !errors.Is(err, gorm.ErrRecordNotFound):
			return err
		}

		if err := tx.Model(&models.GMBToken{}).
			Where("franchisee_id = ? AND active = ?", franchiseeID, true).
			Update("active", false).Error; err != nil {
			return err
		}
		return tx.Create(&row).Error
	})
	if err != nil {
		return nil, fmt.Errorf("save gmb token: %w", err)
	}
	return &row, nil
}

// ActiveToken returns the franchisee's active grant row.
func ActiveToken(db *gorm.DB, franchiseeID uint) (*models.GMBToken, error) {
	var row models.GMBToken
	err := db.Where("franchisee_id = ? AND active = ?", franchiseeID, true).Order("id DESC").First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNoActiveToken
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

func (s *Service) decode(row *models.GMBToken) (*oauth2.Token, error) {
	access, err := s.cipher.Decrypt(row.EncryptedAccessToken)
	if err != nil {
		return nil, fmt.Errorf("decrypt access token: %w", err)
	}
	var refresh string
	if len(row.EncryptedRefreshToken) > 0 {
		if refresh, err = s.cipher.Decrypt(row.EncryptedRefreshToken); err != nil {
			return nil, fmt.Errorf("decrypt refresh token: %w", err)
		}
	}
	return &oauth2.Token{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    row.TokenType,
		Expiry:       row.Expiry,
	}, nil
}

func (s *Service) fresh(row *models.GMBToken) bool {
	return row.Expiry.After(s.now().Add(refreshWindow))
}

// ValidToken returns a usable access token for the franchisee, refreshing it
// when it expires within five minutes. Concurrent refreshes for the same
// franchisee share one token request.
func (s *Service) ValidToken(ctx context.Context, franchiseeID uint) (*oauth2.Token, error) {
	row, err := ActiveToken(database.DB, franchiseeID)
	if err != nil {
		return nil, err
	}
	if s.fresh(row) {
		return s.decode(row)
	}

	v, err, _ := s.group.Do(strconv.FormatUint(uint64(franchiseeID), 10), func() (any, error) {
		// another caller may have refreshed while we waited
		row, err := ActiveToken(database.DB, franchiseeID)
		if err != nil {
			return nil, err
		}
		if s.fresh(row) {
			return s.decode(row)
		}
		return s.refresh(ctx, franchiseeID, row)
	})
	if err != nil {
		return nil, err
	}
	return v.(*oauth2.Token), nil
}

func (s *Service) refresh(ctx context.Context, franchiseeID uint, row *models.GMBToken) (*oauth2.Token, error) {
	current, err := s.decode(row)
	if err != nil {
		return nil, err
	}
	if current.RefreshToken == "" {
		return nil, ErrNoActiveToken
	}

	// an expired access token forces the source to use the refresh token
	current.AccessToken = ""
	current.Expiry = time.Unix(1, 0)

	tok, err := s.oauth.TokenSource(ctx, current).Token()
	if err != nil {
		metrics.GMBTokenRefreshes.WithLabelValues("failed").Inc()
		s.log.Warn("token refresh failed", zap.Uint("franchisee_id", franchiseeID), zap.Error(err))
		return nil, fmt.Errorf("refresh gmb token: %w", err)
	}
	if tok.RefreshToken == "" {
		tok.RefreshToken = current.RefreshToken
	}
	if _, err := s.SaveToken(franchiseeID, tok); err != nil {
		metrics.GMBTokenRefreshes.WithLabelValues("failed").Inc()
		return nil, err
	}

	metrics.GMBTokenRefreshes.WithLabelValues("refreshed").Inc()
	s.log.Info("token refreshed", zap.Uint("franchisee_id", franchiseeID), zap.Time("expiry", tok.Expiry))
	return tok, nil
}

// Deactivate disconnects the franchisee. It reports whether a grant existed.
func Deactivate(db *gorm.DB, franchiseeID uint) (bool, error) {
	res := db.Model(&models.GMBToken{}).
		Where("franchisee_id = ? AND active = ?", franchiseeID, true).
		Update("active", false)
	return res.RowsAffected > 0, res.Error
}

// AuthURL is the Google consent screen URL. Offline access with a forced
// consent prompt makes Google return a refresh token every time.
func (s *Service) AuthURL(state string) string {
	return s.oauth.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
}

func (s *Service) Exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	return s.oauth.Exchange(ctx, code)
}

// Package content generates job summaries, social posts, Google Business
// posts and activity reports with a text model, caching results by prompt.
package content

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"pal-backend/internal/database"
	"pal-backend/internal/metrics"
	"pal-backend/internal/models"
)

var (
	ErrUnknownKind = errors.New("unknown content kind")
	ErrDisabled    = errors.New("content generation is not configured")
)

type Service struct {
	gen Generator
	log *zap.Logger
}

// NewService wraps gen. A nil generator still serves content cached for the
// same prompt by whichever model produced it.
func NewService(gen Generator, log *zap.Logger) *Service {
	return &Service{gen: gen, log: log.Named("content")}
}

// PromptHash identifies a prompt for a given kind and model.
func PromptHash(kind models.ContentKind, model, prompt string) string {
	sum := sha256.Sum256([]byte(string(kind) + "\x00" + model + "\x00" + prompt))
	return hex.EncodeToString(sum[:])
}

type Request struct {
	FranchiseeID uint
	JobID        *uint
	Kind         models.ContentKind
	Prompt       string
	Refresh      bool
}

func (s *Service) model() string {
	if s.gen == nil {
		return ""
	}
	return s.gen.Model()
}

// Generate returns stored content for an identical prompt unless Refresh is
// set, otherwise it calls the model and stores the result. The bool reports a
// cache hit.
func (s *Service) Generate(ctx context.Context, req Request) (*models.GeneratedContent, bool, error) {
	hash := PromptHash(req.Kind, s.model(), req.Prompt)

	if !req.Refresh {
		q := database.DB.Where("franchisee_id = ? AND kind = ?", req.FranchiseeID, req.Kind)
		if s.gen == nil {
			q = q.Where("prompt = ?", req.Prompt)
		} else {
			q = q.Where("prompt_hash = ?", hash)
		}
		var cached models.GeneratedContent
		err := q.Order("id DESC").First(&cached).Error
		if err == nil {
			metrics.ContentGenerations.WithLabelValues(string(req.Kind), "cached").Inc()
			return &cached, true, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, false, fmt.Errorf("load cached content: %w", err)
		}
	}

	if s.gen == nil {
		return nil, false, ErrDisabled
	}

	body, err := s.gen.Generate(ctx, systemInstruction, req.Prompt)
	if err != nil {
		metrics.ContentGenerations.WithLabelValues(string(req.Kind), "failed").Inc()
		s.log.Warn("generation failed", zap.String("kind", string(req.Kind)), zap.Uint("franchisee_id", req.FranchiseeID), zap.Error(err))
		return nil, false, err
	}

	row := models.GeneratedContent{
		FranchiseeID: req.FranchiseeID,
		JobID:        req.JobID,
		Kind:         req.Kind,
		PromptHash:   hash,
		Prompt:       req.Prompt,
		Body:         body,
		Model:        s.gen.Model(),
	}
	if err := database.DB.Create(&row).Error; err != nil {
		return nil, false, fmt.Errorf("store content: %w", err)
	}
	metrics.ContentGenerations.WithLabelValues(string(req.Kind), "generated").Inc()
	return &row, false, nil
}

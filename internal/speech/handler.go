package speech

import (
	"bytes"
	"fmt"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"pal-backend/internal/auth"
	"pal-backend/internal/content"
	"pal-backend/internal/database"
	"pal-backend/internal/logger"
	"pal-backend/internal/models"
	"pal-backend/internal/storage"
)

// AudioHandler serves POST /api/content/:id/audio. Existing audio is returned
// unless ?refresh=true. A nil synth answers 503.
func AudioHandler(synth Synthesizer, store storage.ObjectStore) fiber.Handler {
	return func(c *fiber.Ctx) error {
		cid, err := auth.ParamID(c, "id")
		if err != nil {
			return err
		}

		var gc models.GeneratedContent
		if err := database.DB.First(&gc, "id = ?", cid).Error; err != nil {
			return fiber.NewError(fiber.StatusNotFound, "Content not found")
		}
		if err := auth.EnsureFranchiseeAccess(c, gc.FranchiseeID); err != nil {
			return err
		}

		if gc.AudioURL != "" && !c.QueryBool("refresh", false) {
			return c.JSON(content.ToResponse(&gc, true))
		}
		if synth == nil {
			return fiber.NewError(fiber.StatusServiceUnavailable, "Text to speech is not configured")
		}

		audio, err := synth.Synthesize(c.UserContext(), gc.Body)
		if err != nil {
			logger.L().Warn("synthesize audio", zap.Uint("content_id", gc.ID), zap.Error(err))
			return fiber.NewError(fiber.StatusBadGateway, "Audio could not be generated")
		}

		key := fmt.Sprintf("franchisees/%d/audio/%d-%s.mp3", gc.FranchiseeID, gc.ID, uuid.NewString())
		if err := store.Put(c.UserContext(), key, bytes.NewReader(audio), "audio/mpeg"); err != nil {
			logger.L().Error("store audio", zap.String("key", key), zap.Error(err))
			return fiber.NewError(fiber.StatusBadGateway, "Audio could not be stored")
		}

		url := store.URL(key)
		if err := database.DB.Model(&gc).Update("audio_url", url).Error; err != nil {
			if derr := store.Delete(c.UserContext(), key); derr != nil {
				logger.L().Error("orphaned audio object", zap.String("key", key), zap.Error(derr))
			}
			return fiber.NewError(fiber.StatusInternalServerError, "Could not save audio")
		}
		gc.AudioURL = url
		return c.Status(fiber.StatusCreated).JSON(content.ToResponse(&gc, false))
	}
}

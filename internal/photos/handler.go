package photos

import (
	"errors"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"pal-backend/internal/audit"
	"pal-backend/internal/auth"
	"pal-backend/internal/database"
	"pal-backend/internal/logger"
	"pal-backend/internal/models"
	"pal-backend/internal/storage"
)

type PhotoResponse struct {
	ID           uint   `json:"id"`
	FranchiseeID uint   `json:"franchisee_id"`
	JobID        *uint  `json:"job_id"`
	TechnicianID *uint  `json:"technician_id"`
	URL          string `json:"url"`
	ContentType  string `json:"content_type"`
	SizeBytes    int64  `json:"size_bytes"`
	CreatedAt    string `json:"created_at"`
}

func toResponse(p *models.FranchiseePhoto) PhotoResponse {
	return PhotoResponse{
		ID:           p.ID,
		FranchiseeID: p.FranchiseeID,
		JobID:        p.JobID,
		TechnicianID: p.TechnicianID,
		URL:          p.URL,
		ContentType:  p.ContentType,
		SizeBytes:    p.SizeBytes,
		CreatedAt:    p.CreatedAt.Format(time.RFC3339),
	}
}

func formUint(c *fiber.Ctx, key string) (*uint, error) {
	raw := c.FormValue(key)
	if raw == "" {
		return nil, nil
	}
	n, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || n == 0 {
		return nil, fiber.NewError(fiber.StatusBadRequest, key+" is invalid")
	}
	v := uint(n)
	return &v, nil
}

// POST /api/photos (multipart: photo, optional job_id, franchisee_id for admins)
func UploadPhotoHandler(store storage.ObjectStore, maxBytes int64) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, err := auth.CurrentIdentity(c)
		if err != nil {
			return err
		}
		bodyFID, err := formUint(c, "franchisee_id")
		if err != nil {
			return err
		}
		franchiseeID, err := auth.ResolveFranchiseeFromBody(c, bodyFID)
		if err != nil {
			return err
		}
		jobID, err := formUint(c, "job_id")
		if err != nil {
			return err
		}

		if jobID != nil {
			var job models.JobSubmission
			if err := database.DB.Select("id", "franchisee_id", "technician_id").First(&job, "id = ?", *jobID).Error; err != nil ||
				job.FranchiseeID != franchiseeID ||
				(id.Role == models.RoleTechnician && (id.TechnicianID == nil || *id.TechnicianID != job.TechnicianID)) {
				return fiber.NewError(fiber.StatusNotFound, "Job not found")
			}
		}

		fh, err := c.FormFile("photo")
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "photo is required")
		}
		if fh.Size > maxBytes {
			return fiber.NewError(fiber.StatusRequestEntityTooLarge, "Photo exceeds the upload limit")
		}
		file, err := fh.Open()
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "Could not open upload")
		}
		defer file.Close()

		photo, err := Save(c.UserContext(), database.DB, store, maxBytes, Upload{
			FranchiseeID: franchiseeID,
			JobID:        jobID,
			TechnicianID: id.TechnicianID,
			DeclaredType: fh.Header.Get(fiber.HeaderContentType),
			Size:         fh.Size,
			Body:         file,
		})
		switch {
		case errors.Is(err, ErrFileTooLarge):
			return fiber.NewError(fiber.StatusRequestEntityTooLarge, "Photo exceeds the upload limit")
		case errors.Is(err, ErrUnsupportedFileType):
			return fiber.NewError(fiber.StatusUnsupportedMediaType, "Only JPEG, PNG, WebP and HEIC photos are accepted")
		case err != nil:
			logger.L().Error("photo upload", zap.Uint("franchisee_id", franchiseeID), zap.Error(err))
			return fiber.NewError(fiber.StatusBadGateway, "Could not store photo")
		}

		return c.Status(fiber.StatusCreated).JSON(toResponse(photo))
	}
}

// GET /api/photos?job_id=
func ListPhotosHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, err := auth.CurrentIdentity(c)
		if err != nil {
			return err
		}

		q := database.DB.Order("created_at DESC, id DESC")
		if id.Role == models.RoleTechnician {
			if id.TechnicianID == nil {
				return fiber.NewError(fiber.StatusForbidden, "No technician linked to this account")
			}
			q = q.Where("technician_id = ?", *id.TechnicianID)
		} else {
			fid, err := auth.FranchiseeFilter(c)
			if err != nil {
				return err
			}
			if fid != nil {
				q = q.Where("franchisee_id = ?", *fid)
			}
		}
		if jid := c.QueryInt("job_id", 0); jid > 0 {
			q = q.Where("job_id = ?", jid)
		}

		var list []models.FranchiseePhoto
		if err := q.Limit(500).Find(&list).Error; err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "Could not list photos")
		}
		res := make([]PhotoResponse, 0, len(list))
		for i := range list {
			res = append(res, toResponse(&list[i]))
		}
		return c.JSON(res)
	}
}

// DELETE /api/photos/:id
// The object is removed first so a failed delete never leaves a row pointing
// at nothing.
func DeletePhotoHandler(store storage.ObjectStore) fiber.Handler {
	return func(c *fiber.Ctx) error {
		pid, err := auth.ParamID(c, "id")
		if err != nil {
			return err
		}

		var photo models.FranchiseePhoto
		if err := database.DB.First(&photo, "id = ?", pid).Error; err != nil {
			return fiber.NewError(fiber.StatusNotFound, "Photo not found")
		}
		if err := auth.EnsureFranchiseeAccess(c, photo.FranchiseeID); err != nil {
			return err
		}
		actor, err := auth.CurrentUser(c)
		if err != nil {
			return err
		}

		if err := store.Delete(c.UserContext(), photo.ObjectKey); err != nil {
			logger.L().Error("delete photo object", zap.String("key", photo.ObjectKey), zap.Error(err))
			return fiber.NewError(fiber.StatusBadGateway, "Could not delete photo")
		}

		err = database.DB.Transaction(func(tx *gorm.DB) error {
			if err := tx.Delete(&models.FranchiseePhoto{}, "id = ?", photo.ID).Error; err != nil {
				return err
			}
			return audit.WriteLogTx(tx, audit.LogOptions{
				FranchiseeID: &photo.FranchiseeID,
				UserID:       actor.ID,
				UserName:     actor.Name,
				EntityType:   audit.EntityPhoto,
				EntityID:     photo.ID,
				Action:       models.AuditActionDelete,
				Description:  "Photo deleted",
				Before:       photo,
			})
		})
		if err != nil {
			logger.L().Error("delete photo row", zap.Uint("photo_id", photo.ID), zap.Error(err))
			return fiber.NewError(fiber.StatusInternalServerError, "Could not delete photo")
		}
		return c.SendStatus(fiber.StatusNoContent)
	}
}

package content

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"pal-backend/internal/auth"
	"pal-backend/internal/database"
	"pal-backend/internal/models"
)

type ContentResponse struct {
	ID          uint               `json:"id"`
	Kind        models.ContentKind `json:"kind"`
	JobID       *uint              `json:"job_id"`
	Body        string             `json:"body"`
	Model       string             `json:"model"`
	AudioURL    string             `json:"audio_url,omitempty"`
	Cached      bool               `json:"cached"`
	PublishedAt *string            `json:"published_at"`
	CreatedAt   string             `json:"created_at"`
}

type ReportRequest struct {
	FranchiseeID *uint  `json:"franchisee_id"` // admin only
	From         string `json:"from"`
	To           string `json:"to"`
	Refresh      bool   `json:"refresh"`
}

func ToResponse(c *models.GeneratedContent, cached bool) ContentResponse {
	r := ContentResponse{
		ID:        c.ID,
		Kind:      c.Kind,
		JobID:     c.JobID,
		Body:      c.Body,
		Model:     c.Model,
		AudioURL:  c.AudioURL,
		Cached:    cached,
		CreatedAt: c.CreatedAt.Format(time.RFC3339),
	}
	if c.PublishedAt != nil {
		s := c.PublishedAt.Format(time.RFC3339)
		r.PublishedAt = &s
	}
	return r
}

func statusFor(err error) error {
	switch {
	case errors.Is(err, ErrDisabled):
		return fiber.NewError(fiber.StatusServiceUnavailable, "Content generation is not configured")
	default:
		return fiber.NewError(fiber.StatusBadGateway, "The writing assistant is unavailable, try again shortly")
	}
}

// JobContentHandler serves POST /api/content/jobs/:id/{summary,social-post,gmb-post}.
// ?refresh=true skips the cache.
func JobContentHandler(svc *Service, kind models.ContentKind) fiber.Handler {
	return func(c *fiber.Ctx) error {
		jid, err := auth.ParamID(c, "id")
		if err != nil {
			return err
		}

		var job models.JobSubmission
		if err := database.DB.Preload("Technician").Preload("Franchisee").First(&job, "id = ?", jid).Error; err != nil {
			return fiber.NewError(fiber.StatusNotFound, "Job not found")
		}
		if err := auth.EnsureFranchiseeAccess(c, job.FranchiseeID); err != nil {
			return err
		}
		if job.Status == models.JobStatusRejected {
			return fiber.NewError(fiber.StatusConflict, "Rejected jobs cannot be used for content")
		}

		prompt, err := JobPrompt(kind, &job, &job.Franchisee)
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}

		row, cached, err := svc.Generate(c.UserContext(), Request{
			FranchiseeID: job.FranchiseeID,
			JobID:        &job.ID,
			Kind:         kind,
			Prompt:       prompt,
			Refresh:      c.QueryBool("refresh", false),
		})
		if err != nil {
			return statusFor(err)
		}

		status := fiber.StatusCreated
		if cached {
			status = fiber.StatusOK
		}
		return c.Status(status).JSON(ToResponse(row, cached))
	}
}

// POST /api/content/report
// Dates are inclusive YYYY-MM-DD; the range defaults to the last seven days.
func ReportHandler(svc *Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var body ReportRequest
		if err := c.BodyParser(&body); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
		}
		franchiseeID, err := auth.ResolveFranchiseeFromBody(c, body.FranchiseeID)
		if err != nil {
			return err
		}

		to := time.Now().UTC().Truncate(24 * time.Hour)
		if body.To != "" {
			if to, err = time.Parse("2006-01-02", body.To); err != nil {
				return fiber.NewError(fiber.StatusBadRequest, "to must be YYYY-MM-DD")
			}
		}
		from := to.AddDate(0, 0, -6)
		if body.From != "" {
			if from, err = time.Parse("2006-01-02", body.From); err != nil {
				return fiber.NewError(fiber.StatusBadRequest, "from must be YYYY-MM-DD")
			}
		}
		if from.After(to) {
			return fiber.NewError(fiber.StatusBadRequest, "from must not be after to")
		}
		if to.Sub(from) > 366*24*time.Hour {
			return fiber.NewError(fiber.StatusBadRequest, "Reports cover at most one year")
		}

		var f models.Franchisee
		if err := database.DB.First(&f, "id = ?", franchiseeID).Error; err != nil {
			return fiber.NewError(fiber.StatusNotFound, "Franchisee not found")
		}

		stats, err := CollectStats(franchiseeID, from, to)
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "Could not collect report data")
		}

		row, cached, err := svc.Generate(c.UserContext(), Request{
			FranchiseeID: franchiseeID,
			Kind:         models.ContentReport,
			Prompt:       ReportPrompt(&f, stats),
			Refresh:      body.Refresh,
		})
		if err != nil {
			return statusFor(err)
		}

		return c.JSON(fiber.Map{
			"report": ToResponse(row, cached),
			"stats": fiber.Map{
				"from":        stats.From.Format("2006-01-02"),
				"to":          stats.To.Format("2006-01-02"),
				"total":       stats.Total,
				"by_status":   stats.ByStatus,
				"by_category": stats.ByCategory,
				"photos":      stats.Photos,
			},
		})
	}
}

// CollectStats counts the franchisee's jobs and photos between from and to,
// both days inclusive.
func CollectStats(franchiseeID uint, from, to time.Time) (ReportStats, error) {
	s := ReportStats{From: from, To: to, ByStatus: map[string]int64{}, ByCategory: map[string]int64{}}
	end := to.AddDate(0, 0, 1)

	type bucket struct {
		Name  string
		Total int64
	}
	var rows []bucket
	base := database.DB.Model(&models.JobSubmission{}).
		Where("franchisee_id = ? AND submitted_at >= ? AND submitted_at < ?", franchiseeID, from, end)

	if err := base.Session(&gorm.Session{}).Select("status AS name, COUNT(*) AS total").Group("status").Scan(&rows).Error; err != nil {
		return s, err
	}
	for _, r := range rows {
		s.ByStatus[r.Name] = r.Total
		s.Total += r.Total
	}

	rows = nil
	if err := base.Session(&gorm.Session{}).Select("service_category AS name, COUNT(*) AS total").Group("service_category").Scan(&rows).Error; err != nil {
		return s, err
	}
	for _, r := range rows {
		s.ByCategory[r.Name] = r.Total
	}

	err := database.DB.Model(&models.FranchiseePhoto{}).
		Where("franchisee_id = ? AND created_at >= ? AND created_at < ?", franchiseeID, from, end).
		Count(&s.Photos).Error
	return s, err
}

// GET /api/content?kind=&job_id=
func ListContentHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		fid, err := auth.FranchiseeFilter(c)
		if err != nil {
			return err
		}
		q := database.DB.Order("created_at DESC, id DESC").Limit(200)
		if fid != nil {
			q = q.Where("franchisee_id = ?", *fid)
		}
		if kind := c.Query("kind"); kind != "" {
			q = q.Where("kind = ?", kind)
		}
		if jid := c.QueryInt("job_id", 0); jid > 0 {
			q = q.Where("job_id = ?", jid)
		}

		var list []models.GeneratedContent
		if err := q.Find(&list).Error; err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "Could not list content")
		}
		res := make([]ContentResponse, 0, len(list))
		for i := range list {
			res = append(res, ToResponse(&list[i], false))
		}
		return c.JSON(res)
	}
}

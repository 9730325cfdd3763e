package jobs

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"pal-backend/internal/audit"
	"pal-backend/internal/auth"
	"pal-backend/internal/database"
	"pal-backend/internal/logger"
	"pal-backend/internal/models"
	"pal-backend/internal/notifications"
	"pal-backend/internal/sms"
)

var validate = validator.New()

// errStatusChanged means another request moved the job after it was loaded.
var errStatusChanged = errors.New("job status changed")

type CreateJobRequest struct {
	ServiceCategory string `json:"service_category" validate:"required,oneof=residential automotive commercial roadside"`
	ServiceType     string `json:"service_type" validate:"required,max=100"`
	CustomerName    string `json:"customer_name" validate:"max=100"`
	CustomerPhone   string `json:"customer_phone" validate:"max=30"`
	Address         string `json:"address" validate:"max=255"`
	City            string `json:"city" validate:"max=100"`
	Description     string `json:"description" validate:"required,max=4000"`
}

type UpdateStatusRequest struct {
	Status models.JobStatus `json:"status"`
}

type PhotoRef struct {
	ID  uint   `json:"id"`
	URL string `json:"url"`
}

type JobResponse struct {
	ID              uint             `json:"id"`
	FranchiseeID    uint             `json:"franchisee_id"`
	TechnicianID    uint             `json:"technician_id"`
	TechnicianName  string           `json:"technician_name"`
	ServiceCategory string           `json:"service_category"`
	ServiceType     string           `json:"service_type"`
	CustomerName    string           `json:"customer_name"`
	CustomerPhone   string           `json:"customer_phone"`
	Address         string           `json:"address"`
	City            string           `json:"city"`
	Description     string           `json:"description"`
	Status          models.JobStatus `json:"status"`
	SubmittedAt     string           `json:"submitted_at"`
	Photos          []PhotoRef       `json:"photos,omitempty"`
}

type ListResponse struct {
	Items    []JobResponse `json:"items"`
	Total    int64         `json:"total"`
	Page     int           `json:"page"`
	PageSize int           `json:"page_size"`
}

func toResponse(j *models.JobSubmission) JobResponse {
	r := JobResponse{
		ID:              j.ID,
		FranchiseeID:    j.FranchiseeID,
		TechnicianID:    j.TechnicianID,
		TechnicianName:  j.Technician.Name,
		ServiceCategory: j.ServiceCategory,
		ServiceType:     j.ServiceType,
		CustomerName:    j.CustomerName,
		CustomerPhone:   j.CustomerPhone,
		Address:         j.Address,
		City:            j.City,
		Description:     j.Description,
		Status:          j.Status,
		SubmittedAt:     j.SubmittedAt.Format(time.RFC3339),
	}
	for _, p := range j.Photos {
		r.Photos = append(r.Photos, PhotoRef{ID: p.ID, URL: p.URL})
	}
	return r
}

// SMSNotifier is the part of sms.Service job handlers use.
type SMSNotifier interface {
	Send(ctx context.Context, franchiseeID uint, phone, body string) (*models.Notification, error)
}

// POST /api/jobs
// Technicians submit jobs for their own franchisee. Owners are notified in
// app, and by text when the franchisee phone has opted in.
func CreateJobHandler(notifier SMSNotifier) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, err := auth.CurrentIdentity(c)
		if err != nil {
			return err
		}
		if id.TechnicianID == nil || id.FranchiseeID == nil {
			return fiber.NewError(fiber.StatusForbidden, "Only technicians can submit jobs")
		}

		var body CreateJobRequest
		if err := c.BodyParser(&body); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
		}
		trim(&body)
		if err := validate.Struct(&body); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, validationMessage(err))
		}

		var tech models.Technician
		if err := database.DB.Preload("Franchisee").First(&tech, "id = ?", *id.TechnicianID).Error; err != nil {
			return fiber.NewError(fiber.StatusForbidden, "Technician not found")
		}
		if !tech.Active {
			return fiber.NewError(fiber.StatusForbidden, "Technician is inactive")
		}

		job := models.JobSubmission{
			FranchiseeID:    tech.FranchiseeID,
			TechnicianID:    tech.ID,
			ServiceCategory: body.ServiceCategory,
			ServiceType:     body.ServiceType,
			CustomerName:    body.CustomerName,
			CustomerPhone:   body.CustomerPhone,
			Address:         body.Address,
			City:            body.City,
			Description:     body.Description,
			Status:          models.JobStatusSubmitted,
			SubmittedAt:     time.Now(),
		}

		title := fmt.Sprintf("New %s job from %s", job.ServiceCategory, tech.Name)
		err = database.DB.Transaction(func(tx *gorm.DB) error {
			if err := tx.Omit("Franchisee", "Technician", "Photos").Create(&job).Error; err != nil {
				return err
			}
			if err := audit.WriteLogTx(tx, audit.LogOptions{
				FranchiseeID: &job.FranchiseeID,
				UserID:       id.UserID,
				UserName:     tech.Name,
				EntityType:   audit.EntityJobSubmission,
				EntityID:     job.ID,
				Action:       models.AuditActionCreate,
				Description:  title,
				After:        job,
			}); err != nil {
				return err
			}
			_, err := notifications.NotifyFranchisee(tx, job.FranchiseeID, notifications.KindJobSubmitted, title, job.ServiceType)
			return err
		})
		if err != nil {
			logger.L().Error("create job", zap.Uint("technician_id", tech.ID), zap.Error(err))
			return fiber.NewError(fiber.StatusInternalServerError, "Could not save job")
		}

		if notifier != nil && tech.Franchisee.Phone != "" {
			msg := fmt.Sprintf("PAL: %s. Review it in the dashboard.", title)
			_, err := notifier.Send(c.UserContext(), job.FranchiseeID, tech.Franchisee.Phone, msg)
			if err != nil && !errors.Is(err, sms.ErrConsentMissing) && !errors.Is(err, sms.ErrDisabled) {
				logger.L().Warn("job sms notification", zap.Uint("job_id", job.ID), zap.Error(err))
			}
		}

		job.Technician = tech
		return c.Status(fiber.StatusCreated).JSON(toResponse(&job))
	}
}

func trim(b *CreateJobRequest) {
	b.ServiceCategory = strings.ToLower(strings.TrimSpace(b.ServiceCategory))
	b.ServiceType = strings.TrimSpace(b.ServiceType)
	b.CustomerName = strings.TrimSpace(b.CustomerName)
	b.CustomerPhone = strings.TrimSpace(b.CustomerPhone)
	b.Address = strings.TrimSpace(b.Address)
	b.City = strings.TrimSpace(b.City)
	b.Description = strings.TrimSpace(b.Description)
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		f := verrs[0]
		switch f.Tag() {
		case "required":
			return f.Field() + " is required"
		case "oneof":
			return f.Field() + " must be one of: " + f.Param()
		default:
			return f.Field() + " is invalid"
		}
	}
	return "Invalid request body"
}

// GET /api/jobs
func ListJobsHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		q, err := filteredQuery(c)
		if err != nil {
			return err
		}

		page := c.QueryInt("page", 1)
		if page < 1 {
			page = 1
		}
		size := c.QueryInt("page_size", 25)
		if size < 1 || size > 100 {
			size = 25
		}

		var total int64
		if err := q.Session(&gorm.Session{}).Model(&models.JobSubmission{}).Count(&total).Error; err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "Could not count jobs")
		}

		var list []models.JobSubmission
		if err := q.Preload("Technician").
			Order("submitted_at DESC, id DESC").
			Offset((page - 1) * size).Limit(size).
			Find(&list).Error; err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "Could not list jobs")
		}

		items := make([]JobResponse, 0, len(list))
		for i := range list {
			items = append(items, toResponse(&list[i]))
		}
		return c.JSON(ListResponse{Items: items, Total: total, Page: page, PageSize: size})
	}
}

// filteredQuery applies scope and the status, technician_id, from and to
// query filters shared by the list and export endpoints.
func filteredQuery(c *fiber.Ctx) (*gorm.DB, error) {
	id, err := auth.CurrentIdentity(c)
	if err != nil {
		return nil, err
	}

	q := database.DB.Model(&models.JobSubmission{})
	if id.Role == models.RoleTechnician {
		if id.TechnicianID == nil {
			return nil, fiber.NewError(fiber.StatusForbidden, "No technician linked to this account")
		}
		q = q.Where("technician_id = ?", *id.TechnicianID)
	} else {
		fid, err := auth.FranchiseeFilter(c)
		if err != nil {
			return nil, err
		}
		if fid != nil {
			q = q.Where("franchisee_id = ?", *fid)
		}
		if tid := c.QueryInt("technician_id", 0); tid > 0 {
			q = q.Where("technician_id = ?", tid)
		}
	}

	if s := c.Query("status"); s != "" {
		switch models.JobStatus(s) {
		case models.JobStatusSubmitted, models.JobStatusApproved, models.JobStatusPublished, models.JobStatusRejected:
			q = q.Where("status = ?", s)
		default:
			return nil, fiber.NewError(fiber.StatusBadRequest, "Unknown status")
		}
	}
	if cat := c.Query("category"); cat != "" {
		q = q.Where("service_category = ?", strings.ToLower(cat))
	}

	if raw := c.Query("from"); raw != "" {
		from, err := time.Parse("2006-01-02", raw)
		if err != nil {
			return nil, fiber.NewError(fiber.StatusBadRequest, "from must be YYYY-MM-DD")
		}
		q = q.Where("submitted_at >= ?", from)
	}
	if raw := c.Query("to"); raw != "" {
		to, err := time.Parse("2006-01-02", raw)
		if err != nil {
			return nil, fiber.NewError(fiber.StatusBadRequest, "to must be YYYY-MM-DD")
		}
		q = q.Where("submitted_at < ?", to.AddDate(0, 0, 1))
	}
	return q, nil
}

// GET /api/jobs/:id
func GetJobHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		job, err := load(c, true)
		if err != nil {
			return err
		}
		return c.JSON(toResponse(job))
	}
}

// PUT /api/jobs/:id/status
func UpdateStatusHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		job, err := load(c, false)
		if err != nil {
			return err
		}

		var body UpdateStatusRequest
		if err := c.BodyParser(&body); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
		}
		if !job.Status.CanTransition(body.Status) {
			return fiber.NewError(fiber.StatusConflict,
				fmt.Sprintf("Cannot change status from %s to %s", job.Status, body.Status))
		}

		actor, err := auth.CurrentUser(c)
		if err != nil {
			return err
		}

		before := *job
		err = database.DB.Transaction(func(tx *gorm.DB) error {
			res := tx.Model(&models.JobSubmission{}).
				Where("id = ? AND status = ?", job.ID, before.Status).
				Update("status", body.Status)
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				return errStatusChanged
			}
			job.Status = body.Status
			if err := audit.WriteLogTx(tx, audit.LogOptions{
				FranchiseeID: &job.FranchiseeID,
				UserID:       actor.ID,
				UserName:     actor.Name,
				EntityType:   audit.EntityJobSubmission,
				EntityID:     job.ID,
				Action:       models.AuditActionUpdate,
				Description:  fmt.Sprintf("Job %d %s", job.ID, body.Status),
				Before:       before,
				After:        job,
			}); err != nil {
				return err
			}
			return notifyTechnician(tx, job)
		})
		if errors.Is(err, errStatusChanged) {
			return fiber.NewError(fiber.StatusConflict, "Job status changed, reload and try again")
		}
		if err != nil {
			logger.L().Error("update job status", zap.Uint("job_id", job.ID), zap.Error(err))
			return fiber.NewError(fiber.StatusInternalServerError, "Could not update job")
		}

		return c.JSON(toResponse(job))
	}
}

func notifyTechnician(tx *gorm.DB, job *models.JobSubmission) error {
	var ids []uint
	err := tx.Model(&models.User{}).Where("technician_id = ?", job.TechnicianID).Pluck("id", &ids).Error
	if err != nil || len(ids) == 0 {
		return err
	}
	uid := ids[0]
	return tx.Create(&models.Notification{
		UserID:       &uid,
		FranchiseeID: &job.FranchiseeID,
		Kind:         notifications.KindJobStatus,
		Title:        fmt.Sprintf("Your %s job was %s", job.ServiceType, job.Status),
		Channel:      models.ChannelInApp,
		Status:       models.NotificationPending,
	}).Error
}

// DELETE /api/jobs/:id
// Photos stay in the franchisee library with their job link cleared.
func DeleteJobHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		job, err := load(c, false)
		if err != nil {
			return err
		}
		actor, err := auth.CurrentUser(c)
		if err != nil {
			return err
		}

		err = database.DB.Transaction(func(tx *gorm.DB) error {
			if err := tx.Model(&models.FranchiseePhoto{}).Where("job_id = ?", job.ID).Update("job_id", nil).Error; err != nil {
				return err
			}
			if err := tx.Model(&models.GeneratedContent{}).Where("job_id = ?", job.ID).Update("job_id", nil).Error; err != nil {
				return err
			}
			if err := tx.Delete(&models.JobSubmission{}, "id = ?", job.ID).Error; err != nil {
				return err
			}
			return audit.WriteLogTx(tx, audit.LogOptions{
				FranchiseeID: &job.FranchiseeID,
				UserID:       actor.ID,
				UserName:     actor.Name,
				EntityType:   audit.EntityJobSubmission,
				EntityID:     job.ID,
				Action:       models.AuditActionDelete,
				Description:  fmt.Sprintf("Job %d deleted", job.ID),
				Before:       job,
			})
		})
		if err != nil {
			logger.L().Error("delete job", zap.Uint("job_id", job.ID), zap.Error(err))
			return fiber.NewError(fiber.StatusInternalServerError, "Could not delete job")
		}
		return c.SendStatus(fiber.StatusNoContent)
	}
}

// load fetches the :id job. Technicians only see their own submissions and
// other callers are held to their franchisee.
func load(c *fiber.Ctx, withRelations bool) (*models.JobSubmission, error) {
	jid, err := auth.ParamID(c, "id")
	if err != nil {
		return nil, err
	}
	id, err := auth.CurrentIdentity(c)
	if err != nil {
		return nil, err
	}

	q := database.DB
	if withRelations {
		q = q.Preload("Technician").Preload("Photos")
	}
	var job models.JobSubmission
	if err := q.First(&job, "id = ?", jid).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fiber.NewError(fiber.StatusNotFound, "Job not found")
		}
		return nil, fiber.NewError(fiber.StatusInternalServerError, "Could not load job")
	}

	if id.Role == models.RoleTechnician {
		if id.TechnicianID == nil || *id.TechnicianID != job.TechnicianID {
			return nil, fiber.NewError(fiber.StatusNotFound, "Job not found")
		}
		return &job, nil
	}
	if err := auth.EnsureFranchiseeAccess(c, job.FranchiseeID); err != nil {
		return nil, err
	}
	return &job, nil
}

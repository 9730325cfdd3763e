package dashboard

import (
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"pal-backend/internal/auth"
	"pal-backend/internal/database"
	"pal-backend/internal/logger"
	"pal-backend/internal/models"
	"pal-backend/internal/notifications"
)

const (
	defaultWeeks = 8
	maxWeeks     = 52
)

var now = time.Now

type WeekPoint struct {
	Label     string `json:"label"` // monday of the week, YYYY-MM-DD
	Total     int    `json:"total"`
	Approved  int    `json:"approved"`
	Published int    `json:"published"`
	Rejected  int    `json:"rejected"`
}

type SummaryResponse struct {
	FranchiseeID        *uint            `json:"franchisee_id"`
	ActiveTechnicians   int64            `json:"active_technicians"`
	JobsByStatus        map[string]int64 `json:"jobs_by_status"`
	TotalJobs           int64            `json:"total_jobs"`
	Photos              int64            `json:"photos"`
	UnreadNotifications int64            `json:"unread_notifications"`
	Weeks               []WeekPoint      `json:"weeks"`
}

// weekStart returns the monday 00:00 UTC of t's week.
func weekStart(t time.Time) time.Time {
	t = t.UTC()
	d := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	offset := (int(d.Weekday()) + 6) % 7
	return d.AddDate(0, 0, -offset)
}

// GET /api/dashboard/summary?weeks=8&franchisee_id=1
// Admins without franchisee_id get totals across every franchisee. Technicians
// only see their own jobs.
func SummaryHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, err := auth.CurrentIdentity(c)
		if err != nil {
			return err
		}
		fid, err := auth.FranchiseeFilter(c)
		if err != nil {
			return err
		}

		weeks := defaultWeeks
		if raw := c.Query("weeks"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n <= 0 || n > maxWeeks {
				return fiber.NewError(fiber.StatusBadRequest, "weeks must be between 1 and 52")
			}
			weeks = n
		}

		scoped := func(model any) *gorm.DB {
			q := database.DB.Model(model)
			if fid != nil {
				q = q.Where("franchisee_id = ?", *fid)
			}
			return q
		}
		jobs := func() *gorm.DB {
			q := scoped(&models.JobSubmission{})
			if id.Role == models.RoleTechnician && id.TechnicianID != nil {
				q = q.Where("technician_id = ?", *id.TechnicianID)
			}
			return q
		}

		resp := SummaryResponse{FranchiseeID: fid, JobsByStatus: map[string]int64{}}

		if err := scoped(&models.Technician{}).Where("active = ?", true).Count(&resp.ActiveTechnicians).Error; err != nil {
			return summaryFailed(err)
		}

		type statusRow struct {
			Status string `gorm:"column:status"`
			Total  int64  `gorm:"column:total"`
		}
		var rows []statusRow
		if err := jobs().Select("status, COUNT(*) AS total").Group("status").Scan(&rows).Error; err != nil {
			return summaryFailed(err)
		}
		for _, s := range []models.JobStatus{models.JobStatusSubmitted, models.JobStatusApproved, models.JobStatusPublished, models.JobStatusRejected} {
			resp.JobsByStatus[string(s)] = 0
		}
		for _, r := range rows {
			resp.JobsByStatus[r.Status] = r.Total
			resp.TotalJobs += r.Total
		}

		if err := scoped(&models.FranchiseePhoto{}).Count(&resp.Photos).Error; err != nil {
			return summaryFailed(err)
		}

		unread, err := notifications.UnreadCount(database.DB, id.UserID)
		if err != nil {
			return summaryFailed(err)
		}
		resp.UnreadNotifications = unread

		resp.Weeks, err = weeklyChart(jobs(), weeks)
		if err != nil {
			return summaryFailed(err)
		}
		return c.JSON(resp)
	}
}

// weeklyChart buckets jobs by submission week. Buckets are computed here
// rather than with date_trunc so the query also runs on sqlite.
func weeklyChart(q *gorm.DB, weeks int) ([]WeekPoint, error) {
	first := weekStart(now()).AddDate(0, 0, -7*(weeks-1))

	type jobRow struct {
		Status      models.JobStatus
		SubmittedAt time.Time
	}
	var rows []jobRow
	if err := q.Select("status, submitted_at").Where("submitted_at >= ?", first).Scan(&rows).Error; err != nil {
		return nil, err
	}

	points := make([]WeekPoint, weeks)
	for i := range points {
		points[i].Label = first.AddDate(0, 0, 7*i).Format("2006-01-02")
	}
	for _, r := range rows {
		i := int(weekStart(r.SubmittedAt).Sub(first).Hours() / (24 * 7))
		if i < 0 || i >= weeks {
			continue
		}
		p := &points[i]
		p.Total++
		switch r.Status {
		case models.JobStatusApproved:
			p.Approved++
		case models.JobStatusPublished:
			p.Published++
		case models.JobStatusRejected:
			p.Rejected++
		}
	}
	return points, nil
}

func summaryFailed(err error) error {
	logger.L().Error("dashboard summary", zap.Error(err))
	return fiber.NewError(fiber.StatusInternalServerError, "Could not build dashboard")
}

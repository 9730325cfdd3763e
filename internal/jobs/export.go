package jobs

import (
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"pal-backend/internal/logger"
	"pal-backend/internal/models"
)

const exportLimit = 5000

var exportHeader = []any{
	"ID", "Submitted", "Status", "Technician", "Category", "Service",
	"Customer", "Customer Phone", "Address", "City", "Description",
}

// BuildWorkbook writes jobs to a single "Jobs" sheet with a bold header row.
func BuildWorkbook(list []models.JobSubmission) (*excelize.File, error) {
	f := excelize.NewFile()
	const sheet = "Jobs"
	if err := f.SetSheetName("Sheet1", sheet); err != nil {
		return nil, err
	}

	if err := f.SetSheetRow(sheet, "A1", &exportHeader); err != nil {
		return nil, err
	}
	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return nil, err
	}
	if err := f.SetRowStyle(sheet, 1, 1, bold); err != nil {
		return nil, err
	}

	for i, j := range list {
		row := []any{
			j.ID,
			j.SubmittedAt.Format("2006-01-02 15:04"),
			string(j.Status),
			j.Technician.Name,
			j.ServiceCategory,
			j.ServiceType,
			j.CustomerName,
			j.CustomerPhone,
			j.Address,
			j.City,
			j.Description,
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return nil, err
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return nil, err
		}
	}

	_ = f.SetColWidth(sheet, "B", "B", 18)
	_ = f.SetColWidth(sheet, "D", "F", 20)
	_ = f.SetColWidth(sheet, "K", "K", 60)
	return f, nil
}

// GET /api/jobs/export
// Accepts the same filters as the list endpoint.
func ExportJobsHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		q, err := filteredQuery(c)
		if err != nil {
			return err
		}

		var list []models.JobSubmission
		if err := q.Preload("Technician").
			Order("submitted_at DESC, id DESC").
			Limit(exportLimit).
			Find(&list).Error; err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "Could not load jobs")
		}

		book, err := BuildWorkbook(list)
		if err != nil {
			logger.L().Error("build jobs workbook", zap.Error(err))
			return fiber.NewError(fiber.StatusInternalServerError, "Could not build export")
		}
		defer book.Close()

		buf, err := book.WriteToBuffer()
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "Could not build export")
		}

		name := fmt.Sprintf("jobs-%s.xlsx", time.Now().Format("20060102"))
		c.Set(fiber.HeaderContentType, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
		c.Set(fiber.HeaderContentDisposition, `attachment; filename="`+name+`"`)
		return c.Send(buf.Bytes())
	}
}

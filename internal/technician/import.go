package technician

import (
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"pal-backend/internal/auth"
	"pal-backend/internal/database"
	"pal-backend/internal/logger"
	"pal-backend/internal/models"
)

type ImportRow struct {
	Name  string
	Email string
	Phone string
}

type ImportResult struct {
	Created []TechnicianResponse `json:"created"`
	Skipped []string             `json:"skipped"`
	Message string               `json:"message"`
}

// ParseRoster reads name, email and phone from the first three columns of the
// workbook's first sheet. A leading header row is detected and skipped.
func ParseRoster(f *excelize.File) ([]ImportRow, error) {
	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("workbook has no sheets")
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("read sheet %q: %w", sheets[0], err)
	}

	start := 0
	if len(rows) > 0 && len(rows[0]) > 0 {
		first := strings.ToUpper(strings.TrimSpace(rows[0][0]))
		if strings.Contains(first, "NAME") || strings.Contains(first, "TECHNICIAN") {
			start = 1
		}
	}

	out := make([]ImportRow, 0, len(rows))
	for _, row := range rows[start:] {
		if len(row) == 0 {
			continue
		}
		r := ImportRow{Name: strings.TrimSpace(row[0])}
		if r.Name == "" {
			continue
		}
		if len(row) > 1 {
			r.Email = strings.ToLower(strings.TrimSpace(row[1]))
		}
		if len(row) > 2 {
			r.Phone = strings.TrimSpace(row[2])
		}
		out = append(out, r)
	}
	return out, nil
}

// POST /api/technicians/import
// Rows whose name already exists for the franchisee are skipped.
func ImportTechniciansHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		franchiseeID, err := auth.ResolveFranchiseeFromQuery(c)
		if err != nil {
			return err
		}
		if err := ensureFranchiseeExists(franchiseeID); err != nil {
			return err
		}

		fileHeader, err := c.FormFile("file")
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "file is required")
		}
		if !strings.HasSuffix(strings.ToLower(fileHeader.Filename), ".xlsx") {
			return fiber.NewError(fiber.StatusBadRequest, "Only .xlsx files can be imported")
		}

		file, err := fileHeader.Open()
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "Could not open upload")
		}
		defer file.Close()

		book, err := excelize.OpenReader(file)
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "Could not read workbook: "+err.Error())
		}
		defer book.Close()

		rows, err := ParseRoster(book)
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		if len(rows) == 0 {
			return fiber.NewError(fiber.StatusBadRequest, "Workbook has no technician rows")
		}

		actor, err := auth.CurrentUser(c)
		if err != nil {
			return err
		}

		res := ImportResult{Created: []TechnicianResponse{}, Skipped: []string{}}
		err = database.DB.Transaction(func(tx *gorm.DB) error {
			var existing []string
			if err := tx.Model(&models.Technician{}).Where("franchisee_id = ?", franchiseeID).Pluck("name", &existing).Error; err != nil {
				return err
			}
			seen := make(map[string]bool, len(existing))
			for _, n := range existing {
				seen[strings.ToLower(n)] = true
			}

			for _, r := range rows {
				key := strings.ToLower(r.Name)
				if seen[key] {
					res.Skipped = append(res.Skipped, r.Name)
					continue
				}
				tech, err := create(tx, franchiseeID, r.Name, r.Email, r.Phone, actor)
				if err != nil {
					return err
				}
				seen[key] = true
				res.Created = append(res.Created, toResponse(tech))
			}
			return nil
		})
		if err != nil {
			logger.L().Error("import technicians", zap.Uint("franchisee_id", franchiseeID), zap.Error(err))
			return fiber.NewError(fiber.StatusInternalServerError, "Could not import technicians")
		}

		res.Message = fmt.Sprintf("%d technicians created, %d skipped", len(res.Created), len(res.Skipped))
		logger.L().Info("technicians imported",
			zap.Uint("franchisee_id", franchiseeID),
			zap.Int("created", len(res.Created)),
			zap.Int("skipped", len(res.Skipped)),
		)
		return c.JSON(res)
	}
}

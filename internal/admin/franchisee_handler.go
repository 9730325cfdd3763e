package admin

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"pal-backend/internal/auth"
	"pal-backend/internal/database"
	"pal-backend/internal/logger"
	"pal-backend/internal/models"
)

type FranchiseeResponse struct {
	ID              uint   `json:"id"`
	Name            string `json:"name"`
	BusinessName    string `json:"business_name"`
	Email           string `json:"email"`
	Phone           string `json:"phone"`
	Address         string `json:"address"`
	City            string `json:"city"`
	State           string `json:"state"`
	ZipCode         string `json:"zip_code"`
	GMBLocationName string `json:"gmb_location_name"`
	Active          bool   `json:"active"`
	CreatedAt       string `json:"created_at"`
}

type CreateFranchiseeRequest struct {
	Name            string `json:"name"`
	BusinessName    string `json:"business_name"`
	Email           string `json:"email"`
	Phone           string `json:"phone"`
	Address         string `json:"address"`
	City            string `json:"city"`
	State           string `json:"state"`
	ZipCode         string `json:"zip_code"`
	GMBLocationName string `json:"gmb_location_name"`
}

type UpdateFranchiseeRequest struct {
	Name            *string `json:"name"`
	BusinessName    *string `json:"business_name"`
	Email           *string `json:"email"`
	Phone           *string `json:"phone"`
	Address         *string `json:"address"`
	City            *string `json:"city"`
	State           *string `json:"state"`
	ZipCode         *string `json:"zip_code"`
	GMBLocationName *string `json:"gmb_location_name"`
	Active          *bool   `json:"active"`
}

type CreateOwnerRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

func toFranchiseeResponse(f *models.Franchisee) FranchiseeResponse {
	return FranchiseeResponse{
		ID:              f.ID,
		Name:            f.Name,
		BusinessName:    f.BusinessName,
		Email:           f.Email,
		Phone:           f.Phone,
		Address:         f.Address,
		City:            f.City,
		State:           f.State,
		ZipCode:         f.ZipCode,
		GMBLocationName: f.GMBLocationName,
		Active:          f.Active,
		CreatedAt:       f.CreatedAt.Format("2006-01-02 15:04:05"),
	}
}

func CreateFranchiseeHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		var body CreateFranchiseeRequest
		if err := c.BodyParser(&body); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
		}

		body.Name = strings.TrimSpace(body.Name)
		if body.Name == "" {
			return fiber.NewError(fiber.StatusBadRequest, "Franchisee name is required")
		}

		var existing int64
		database.DB.Model(&models.Franchisee{}).Where("name = ?", body.Name).Count(&existing)
		if existing > 0 {
			return fiber.NewError(fiber.StatusConflict, "A franchisee with this name already exists")
		}

		f := models.Franchisee{
			Name:            body.Name,
			BusinessName:    strings.TrimSpace(body.BusinessName),
			Email:           strings.ToLower(strings.TrimSpace(body.Email)),
			Phone:           strings.TrimSpace(body.Phone),
			Address:         strings.TrimSpace(body.Address),
			City:            strings.TrimSpace(body.City),
			State:           strings.TrimSpace(body.State),
			ZipCode:         strings.TrimSpace(body.ZipCode),
			GMBLocationName: strings.TrimSpace(body.GMBLocationName),
			Active:          true,
		}

		if err := database.DB.Create(&f).Error; err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "Could not create franchisee")
		}

		return c.Status(fiber.StatusCreated).JSON(toFranchiseeResponse(&f))
	}
}

// ListFranchiseesHandler returns all franchisees; ?active=true narrows to
// active ones.
func ListFranchiseesHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		q := database.DB.Order("name ASC")
		if c.Query("active") == "true" {
			q = q.Where("active = ?", true)
		}

		var list []models.Franchisee
		if err := q.Find(&list).Error; err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "Could not list franchisees")
		}

		res := make([]FranchiseeResponse, 0, len(list))
		for i := range list {
			res = append(res, toFranchiseeResponse(&list[i]))
		}
		return c.JSON(res)
	}
}

func GetFranchiseeHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, err := auth.ParamID(c, "id")
		if err != nil {
			return err
		}
		if err := auth.EnsureFranchiseeAccess(c, id); err != nil {
			return err
		}

		var f models.Franchisee
		if err := database.DB.First(&f, "id = ?", id).Error; err != nil {
			return fiber.NewError(fiber.StatusNotFound, "Franchisee not found")
		}
		return c.JSON(toFranchiseeResponse(&f))
	}
}

func UpdateFranchiseeHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, err := auth.ParamID(c, "id")
		if err != nil {
			return err
		}

		var f models.Franchisee
		if err := database.DB.First(&f, "id = ?", id).Error; err != nil {
			return fiber.NewError(fiber.StatusNotFound, "Franchisee not found")
		}

		var body UpdateFranchiseeRequest
		if err := c.BodyParser(&body); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
		}

		updates := map[string]any{}
		if body.Name != nil {
			name := strings.TrimSpace(*body.Name)
			if name == "" {
				return fiber.NewError(fiber.StatusBadRequest, "Franchisee name is required")
			}
			var clash int64
			database.DB.Model(&models.Franchisee{}).Where("name = ? AND id <> ?", name, f.ID).Count(&clash)
			if clash > 0 {
				return fiber.NewError(fiber.StatusConflict, "A franchisee with this name already exists")
			}
			updates["name"] = name
		}
		setTrimmed(updates, "business_name", body.BusinessName)
		if body.Email != nil {
			updates["email"] = strings.ToLower(strings.TrimSpace(*body.Email))
		}
		setTrimmed(updates, "phone", body.Phone)
		setTrimmed(updates, "address", body.Address)
		setTrimmed(updates, "city", body.City)
		setTrimmed(updates, "state", body.State)
		setTrimmed(updates, "zip_code", body.ZipCode)
		setTrimmed(updates, "gmb_location_name", body.GMBLocationName)
		// map updates so that active=false is written
		if body.Active != nil {
			updates["active"] = *body.Active
		}

		if len(updates) > 0 {
			if err := database.DB.Model(&f).Updates(updates).Error; err != nil {
				return fiber.NewError(fiber.StatusInternalServerError, "Could not update franchisee")
			}
		}
		if err := database.DB.First(&f, "id = ?", id).Error; err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "Could not reload franchisee")
		}

		return c.JSON(toFranchiseeResponse(&f))
	}
}

func setTrimmed(updates map[string]any, column string, v *string) {
	if v != nil {
		updates[column] = strings.TrimSpace(*v)
	}
}

// DeleteFranchiseeHandler refuses to remove a franchisee that still has
// technicians or jobs unless ?force=true, in which case dependent rows go too.
func DeleteFranchiseeHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, err := auth.ParamID(c, "id")
		if err != nil {
			return err
		}

		var f models.Franchisee
		if err := database.DB.First(&f, "id = ?", id).Error; err != nil {
			return fiber.NewError(fiber.StatusNotFound, "Franchisee not found")
		}

		var techCount, jobCount int64
		database.DB.Model(&models.Technician{}).Where("franchisee_id = ?", id).Count(&techCount)
		database.DB.Model(&models.JobSubmission{}).Where("franchisee_id = ?", id).Count(&jobCount)

		force := c.QueryBool("force", false)
		if (techCount > 0 || jobCount > 0) && !force {
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{
				"error":       "Franchisee still has technicians or jobs; pass force=true to delete them",
				"technicians": techCount,
				"jobs":        jobCount,
			})
		}

		err = database.DB.Transaction(func(tx *gorm.DB) error {
			dependents := []any{
				&models.GeneratedContent{},
				&models.FranchiseePhoto{},
				&models.JobSubmission{},
				&models.GMBToken{},
				&models.Notification{},
				&models.User{},
				&models.Technician{},
			}
			for _, m := range dependents {
				if err := tx.Where("franchisee_id = ?", id).Delete(m).Error; err != nil {
					return err
				}
			}
			if err := tx.Model(&models.SMSConsent{}).Where("franchisee_id = ?", id).Update("franchisee_id", nil).Error; err != nil {
				return err
			}
			return tx.Delete(&models.Franchisee{}, "id = ?", id).Error
		})
		if err != nil {
			logger.L().Error("delete franchisee", zap.Uint("franchisee_id", id), zap.Error(err))
			return fiber.NewError(fiber.StatusInternalServerError, "Could not delete franchisee")
		}

		logger.L().Info("franchisee deleted",
			zap.Uint("franchisee_id", id),
			zap.Bool("force", force),
			zap.Int64("technicians", techCount),
			zap.Int64("jobs", jobCount),
		)
		return c.SendStatus(fiber.StatusNoContent)
	}
}

// CreateFranchiseeOwnerHandler creates a login for a franchisee. The plain
// password is echoed once in the response and never stored.
func CreateFranchiseeOwnerHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, err := auth.ParamID(c, "id")
		if err != nil {
			return err
		}

		var f models.Franchisee
		if err := database.DB.First(&f, "id = ?", id).Error; err != nil {
			return fiber.NewError(fiber.StatusNotFound, "Franchisee not found")
		}

		var body CreateOwnerRequest
		if err := c.BodyParser(&body); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
		}

		body.Email = strings.ToLower(strings.TrimSpace(body.Email))
		body.Name = strings.TrimSpace(body.Name)

		if body.Name == "" || body.Email == "" || body.Password == "" {
			return fiber.NewError(fiber.StatusBadRequest, "Name, email and password are required")
		}
		if len(body.Password) < 8 {
			return fiber.NewError(fiber.StatusBadRequest, "Password must be at least 8 characters")
		}

		var exist int64
		database.DB.Model(&models.User{}).Where("email = ?", body.Email).Count(&exist)
		if exist > 0 {
			return fiber.NewError(fiber.StatusConflict, "Email is already registered")
		}

		hash, err := bcrypt.GenerateFromPassword([]byte(body.Password), bcrypt.DefaultCost)
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "Could not hash password")
		}

		user := models.User{
			Name:         body.Name,
			Email:        body.Email,
			PasswordHash: string(hash),
			Role:         models.RoleFranchisee,
			FranchiseeID: &f.ID,
		}
		if err := database.DB.Create(&user).Error; err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "Could not create franchisee user")
		}

		return c.Status(fiber.StatusCreated).JSON(fiber.Map{
			"user":     auth.NewUserResponse(&user),
			"password": body.Password,
		})
	}
}

// ListFranchiseeUsersHandler lists owner accounts; technician logins are
// listed through the technician endpoints.
func ListFranchiseeUsersHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, err := auth.ParamID(c, "id")
		if err != nil {
			return err
		}

		var users []models.User
		if err := database.DB.
			Where("franchisee_id = ? AND role = ?", id, models.RoleFranchisee).
			Order("created_at DESC").
			Find(&users).Error; err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "Could not list users")
		}

		res := make([]auth.UserResponse, 0, len(users))
		for i := range users {
			res = append(res, auth.NewUserResponse(&users[i]))
		}
		return c.JSON(res)
	}
}

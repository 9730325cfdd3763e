package auth

import (
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"pal-backend/internal/config"
	"pal-backend/internal/database"
	"pal-backend/internal/logger"
	"pal-backend/internal/models"
)

type RegisterAdminRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type UserResponse struct {
	ID           uint            `json:"id"`
	Name         string          `json:"name"`
	Email        string          `json:"email"`
	Role         models.UserRole `json:"role"`
	FranchiseeID *uint           `json:"franchisee_id"`
	TechnicianID *uint           `json:"technician_id,omitempty"`
}

func NewUserResponse(u *models.User) UserResponse {
	return UserResponse{
		ID:           u.ID,
		Name:         u.Name,
		Email:        u.Email,
		Role:         u.Role,
		FranchiseeID: u.FranchiseeID,
		TechnicianID: u.TechnicianID,
	}
}

// RegisterAdminHandler bootstraps the first admin account. It is refused once
// any admin exists.
func RegisterAdminHandler(cfg *config.Config) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var body RegisterAdminRequest
		if err := c.BodyParser(&body); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
		}

		body.Email = strings.TrimSpace(strings.ToLower(body.Email))
		body.Name = strings.TrimSpace(body.Name)

		if body.Email == "" || body.Password == "" || body.Name == "" {
			return fiber.NewError(fiber.StatusBadRequest, "Name, email and password are required")
		}
		if len(body.Password) < 8 {
			return fiber.NewError(fiber.StatusBadRequest, "Password must be at least 8 characters")
		}

		user, err := CreateAdmin(body.Name, body.Email, body.Password)
		if err != nil {
			return err
		}

		return c.Status(fiber.StatusCreated).JSON(NewUserResponse(user))
	}
}

// CreateAdmin stores the bootstrap admin. Shared by the HTTP handler and the
// create-admin command.
func CreateAdmin(name, email, password string) (*models.User, error) {
	var count int64
	if err := database.DB.Model(&models.User{}).Where("role = ?", models.RoleAdmin).Count(&count).Error; err != nil {
		return nil, fiber.NewError(fiber.StatusInternalServerError, "Could not check existing admins")
	}
	if count > 0 {
		return nil, fiber.NewError(fiber.StatusForbidden, "An admin already exists")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fiber.NewError(fiber.StatusInternalServerError, "Could not hash password")
	}

	user := models.User{
		Name:         name,
		Email:        email,
		PasswordHash: string(hash),
		Role:         models.RoleAdmin,
	}
	if err := database.DB.Create(&user).Error; err != nil {
		return nil, fiber.NewError(fiber.StatusInternalServerError, "Could not create admin")
	}
	return &user, nil
}

func LoginHandler(cfg *config.Config) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var body LoginRequest
		if err := c.BodyParser(&body); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
		}

		body.Email = strings.TrimSpace(strings.ToLower(body.Email))

		var user models.User
		if err := database.DB.Where("email = ?", body.Email).First(&user).Error; err != nil {
			return fiber.NewError(fiber.StatusUnauthorized, "Invalid email or password")
		}

		if user.PasswordHash == "" {
			return fiber.NewError(fiber.StatusUnauthorized, "Invalid email or password")
		}
		if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(body.Password)); err != nil {
			return fiber.NewError(fiber.StatusUnauthorized, "Invalid email or password")
		}

		return issueSession(c, cfg, &user)
	}
}

// issueSession stamps the login time, signs a token and returns it both in the
// body and as the session cookie.
func issueSession(c *fiber.Ctx, cfg *config.Config, user *models.User) error {
	now := time.Now()
	if err := database.DB.Model(&models.User{}).Where("id = ?", user.ID).Update("last_login_at", now).Error; err != nil {
		logger.L().Warn("last login stamp failed", zap.Uint("user_id", user.ID), zap.Error(err))
	}

	token, err := GenerateToken(cfg.JWTSecret, user)
	if err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, "Could not create token")
	}

	c.Cookie(&fiber.Cookie{
		Name:     SessionCookie,
		Value:    token,
		Path:     "/",
		Expires:  now.Add(TokenTTL),
		HTTPOnly: true,
		Secure:   cfg.CookieSecure,
		SameSite: fiber.CookieSameSiteLaxMode,
	})

	return c.JSON(fiber.Map{
		"token": token,
		"user":  NewUserResponse(user),
	})
}

func LogoutHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		c.ClearCookie(SessionCookie)
		return c.SendStatus(fiber.StatusNoContent)
	}
}

func MeHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		user, err := CurrentUser(c)
		if err != nil {
			return err
		}

		response := fiber.Map{"user": NewUserResponse(user)}

		if user.FranchiseeID != nil {
			var f models.Franchisee
			if err := database.DB.First(&f, *user.FranchiseeID).Error; err == nil {
				response["franchisee"] = fiber.Map{
					"id":            f.ID,
					"name":          f.Name,
					"business_name": f.BusinessName,
					"phone":         f.Phone,
					"city":          f.City,
					"state":         f.State,
				}
			}
		}
		if user.TechnicianID != nil {
			var t models.Technician
			if err := database.DB.First(&t, *user.TechnicianID).Error; err == nil {
				response["technician"] = fiber.Map{
					"id":    t.ID,
					"name":  t.Name,
					"phone": t.Phone,
				}
			}
		}

		return c.JSON(response)
	}
}

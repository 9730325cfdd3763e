package auth

import (
	"strconv"

	"github.com/gofiber/fiber/v2"

	"pal-backend/internal/database"
	"pal-backend/internal/models"
)

// Identity is the authenticated caller as established by JWTMiddleware.
type Identity struct {
	UserID       uint
	Role         models.UserRole
	FranchiseeID *uint
	TechnicianID *uint
}

func (i Identity) IsAdmin() bool { return i.Role == models.RoleAdmin }

func CurrentIdentity(c *fiber.Ctx) (Identity, error) {
	userID, ok := c.Locals(CtxUserIDKey).(uint)
	if !ok {
		return Identity{}, fiber.NewError(fiber.StatusForbidden, "User missing from session")
	}
	role, ok := c.Locals(CtxUserRoleKey).(models.UserRole)
	if !ok {
		return Identity{}, fiber.NewError(fiber.StatusForbidden, "Role missing from session")
	}
	id := Identity{UserID: userID, Role: role}
	if f, ok := c.Locals(CtxFranchiseeIDKey).(*uint); ok && f != nil {
		id.FranchiseeID = f
	}
	if t, ok := c.Locals(CtxTechnicianIDKey).(*uint); ok && t != nil {
		id.TechnicianID = t
	}
	return id, nil
}

// CurrentUser loads the caller's user row, used where handlers need the
// display name (audit logs) or fresh data.
func CurrentUser(c *fiber.Ctx) (*models.User, error) {
	id, err := CurrentIdentity(c)
	if err != nil {
		return nil, err
	}
	var user models.User
	if err := database.DB.First(&user, "id = ?", id.UserID).Error; err != nil {
		return nil, fiber.NewError(fiber.StatusUnauthorized, "User not found")
	}
	return &user, nil
}

// pinned returns the franchisee a non-admin caller is bound to.
func pinned(id Identity) (uint, error) {
	if id.FranchiseeID == nil {
		return 0, fiber.NewError(fiber.StatusForbidden, "No franchisee linked to this account")
	}
	return *id.FranchiseeID, nil
}

// ResolveFranchiseeFromQuery returns the franchisee a request acts on.
// Admins name it with ?franchisee_id=; everyone else is pinned to their own.
func ResolveFranchiseeFromQuery(c *fiber.Ctx) (uint, error) {
	id, err := CurrentIdentity(c)
	if err != nil {
		return 0, err
	}
	if !id.IsAdmin() {
		return pinned(id)
	}
	fid, err := parseID(c.Query("franchisee_id"))
	if err != nil {
		return 0, fiber.NewError(fiber.StatusBadRequest, "franchisee_id is required")
	}
	return fid, nil
}

// ResolveFranchiseeFromBody is ResolveFranchiseeFromQuery for JSON bodies.
func ResolveFranchiseeFromBody(c *fiber.Ctx, bodyID *uint) (uint, error) {
	id, err := CurrentIdentity(c)
	if err != nil {
		return 0, err
	}
	if !id.IsAdmin() {
		return pinned(id)
	}
	if bodyID == nil || *bodyID == 0 {
		return 0, fiber.NewError(fiber.StatusBadRequest, "franchisee_id is required")
	}
	return *bodyID, nil
}

// FranchiseeFilter is like ResolveFranchiseeFromQuery but lets admins omit the
// parameter to see every franchisee (nil result).
func FranchiseeFilter(c *fiber.Ctx) (*uint, error) {
	id, err := CurrentIdentity(c)
	if err != nil {
		return nil, err
	}
	if !id.IsAdmin() {
		fid, err := pinned(id)
		if err != nil {
			return nil, err
		}
		return &fid, nil
	}
	raw := c.Query("franchisee_id")
	if raw == "" {
		return nil, nil
	}
	fid, err := parseID(raw)
	if err != nil {
		return nil, fiber.NewError(fiber.StatusBadRequest, "franchisee_id is invalid")
	}
	return &fid, nil
}

// EnsureFranchiseeAccess rejects callers acting on another franchisee's record.
func EnsureFranchiseeAccess(c *fiber.Ctx, franchiseeID uint) error {
	id, err := CurrentIdentity(c)
	if err != nil {
		return err
	}
	if id.IsAdmin() {
		return nil
	}
	if id.FranchiseeID == nil || *id.FranchiseeID != franchiseeID {
		return fiber.NewError(fiber.StatusNotFound, "Record not found")
	}
	return nil
}

// ParamID parses a positive numeric route parameter.
func ParamID(c *fiber.Ctx, name string) (uint, error) {
	id, err := parseID(c.Params(name))
	if err != nil {
		return 0, fiber.NewError(fiber.StatusBadRequest, "Invalid "+name)
	}
	return id, nil
}

func parseID(raw string) (uint, error) {
	n, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || n == 0 {
		return 0, strconv.ErrSyntax
	}
	return uint(n), nil
}

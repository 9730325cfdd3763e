package testutil

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"pal-backend/internal/database"
	"pal-backend/internal/models"
)

func CreateFranchisee(t *testing.T, db *gorm.DB, name string) *models.Franchisee {
	t.Helper()
	f := &models.Franchisee{
		Name:         name,
		BusinessName: "Pop-A-Lock " + name,
		Phone:        "+15045550100",
		City:         "Lafayette",
		State:        "LA",
		Active:       true,
	}
	require.NoError(t, db.Create(f).Error)
	return f
}

// CreateUser stores a user with password "password123".
func CreateUser(t *testing.T, db *gorm.DB, email string, role models.UserRole, franchiseeID *uint) *models.User {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte("password123"), bcrypt.MinCost)
	require.NoError(t, err)
	u := &models.User{
		Name:         "User " + email,
		Email:        email,
		PasswordHash: string(hash),
		Role:         role,
		FranchiseeID: franchiseeID,
	}
	require.NoError(t, db.Create(u).Error)
	return u
}

func CreateTechnician(t *testing.T, db *gorm.DB, franchiseeID uint, name string) *models.Technician {
	t.Helper()
	code, err := database.UniqueLoginCode(db)
	require.NoError(t, err)
	tech := &models.Technician{
		FranchiseeID: franchiseeID,
		Name:         name,
		Phone:        "+13375550111",
		LoginCode:    code,
		Active:       true,
	}
	require.NoError(t, db.Create(tech).Error)
	return tech
}

// CreateTechnicianUser creates a technician together with its login user.
func CreateTechnicianUser(t *testing.T, db *gorm.DB, franchiseeID uint, name string) (*models.Technician, *models.User) {
	t.Helper()
	tech := CreateTechnician(t, db, franchiseeID, name)
	u := &models.User{
		Name:         name,
		Email:        fmt.Sprintf("tech-%d@technicians.local", tech.ID),
		Role:         models.RoleTechnician,
		FranchiseeID: &franchiseeID,
		TechnicianID: &tech.ID,
	}
	require.NoError(t, db.Create(u).Error)
	return tech, u
}

func CreateJob(t *testing.T, db *gorm.DB, tech *models.Technician, status models.JobStatus, at time.Time) *models.JobSubmission {
	t.Helper()
	job := &models.JobSubmission{
		FranchiseeID:    tech.FranchiseeID,
		TechnicianID:    tech.ID,
		ServiceCategory: "automotive",
		ServiceType:     "car lockout",
		CustomerName:    "Jane Doe",
		City:            "Lafayette",
		Description:     "Keys locked in a 2019 Camry at the grocery store.",
		Status:          status,
		SubmittedAt:     at,
	}
	require.NoError(t, db.Create(job).Error)
	return job
}

package audit

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pal-backend/internal/models"
	"pal-backend/internal/testutil"
)

func TestUndoCreateDeletesEntity(t *testing.T) {
	db := testutil.SetupDB(t)
	f := testutil.CreateFranchisee(t, db, "Lake Charles")
	tech := testutil.CreateTechnician(t, db, f.ID, "New Hire")

	require.NoError(t, WriteLog(LogOptions{
		FranchiseeID: &f.ID, UserID: 1, UserName: "Owner",
		EntityType: EntityTechnician, EntityID: tech.ID,
		Action: models.AuditActionCreate, Description: "Technician created", After: tech,
	}))

	var entry models.AuditLog
	require.NoError(t, db.First(&entry).Error)
	require.NoError(t, UndoLog(entry.ID, 2, "Admin"))

	var count int64
	db.Model(&models.Technician{}).Where("id = ?", tech.ID).Count(&count)
	assert.Zero(t, count)

	require.NoError(t, db.First(&entry, entry.ID).Error)
	assert.True(t, entry.IsUndone)
	require.NotNil(t, entry.UndoneBy)
	assert.Equal(t, uint(2), *entry.UndoneBy)

	var undo models.AuditLog
	require.NoError(t, db.Where("action = ?", models.AuditActionUndo).First(&undo).Error)
	assert.Equal(t, "Undo: Technician created", undo.Description)
	assert.Equal(t, uint(2), undo.UserID)

	assert.ErrorIs(t, UndoLog(entry.ID, 2, "Admin"), ErrAlreadyUndone)
}

func TestUndoJobCreateClearsLinks(t *testing.T) {
	db := testutil.SetupDB(t)
	f := testutil.CreateFranchisee(t, db, "Breaux Bridge")
	tech := testutil.CreateTechnician(t, db, f.ID, "Tech")
	job := testutil.CreateJob(t, db, tech, models.JobStatusSubmitted, testNow())

	photo := models.FranchiseePhoto{FranchiseeID: f.ID, JobID: &job.ID, ObjectKey: "franchisees/1/photos/a.jpg", URL: "https://cdn.example.com/a.jpg"}
	require.NoError(t, db.Create(&photo).Error)
	content := models.GeneratedContent{FranchiseeID: f.ID, JobID: &job.ID, Kind: models.ContentSummary, PromptHash: "h", Body: "Summary"}
	require.NoError(t, db.Create(&content).Error)

	require.NoError(t, WriteLog(LogOptions{
		FranchiseeID: &f.ID, UserID: 1, UserName: "Owner",
		EntityType: EntityJobSubmission, EntityID: job.ID,
		Action: models.AuditActionCreate, Description: "Job submitted", After: job,
	}))
	var entry models.AuditLog
	require.NoError(t, db.First(&entry).Error)
	require.NoError(t, UndoLog(entry.ID, 1, "Owner"))

	var count int64
	db.Model(&models.JobSubmission{}).Where("id = ?", job.ID).Count(&count)
	assert.Zero(t, count)

	require.NoError(t, db.First(&photo, photo.ID).Error)
	assert.Nil(t, photo.JobID)
	require.NoError(t, db.First(&content, content.ID).Error)
	assert.Nil(t, content.JobID)
}

func TestUndoTechnicianCreateWithJobsRefused(t *testing.T) {
	db := testutil.SetupDB(t)
	f := testutil.CreateFranchisee(t, db, "Crowley")
	tech := testutil.CreateTechnician(t, db, f.ID, "Busy")
	testutil.CreateJob(t, db, tech, models.JobStatusSubmitted, testNow())

	require.NoError(t, WriteLog(LogOptions{
		FranchiseeID: &f.ID, UserID: 1, UserName: "Owner",
		EntityType: EntityTechnician, EntityID: tech.ID,
		Action: models.AuditActionCreate, Description: "Technician created", After: tech,
	}))
	var entry models.AuditLog
	require.NoError(t, db.First(&entry).Error)
	assert.ErrorIs(t, UndoLog(entry.ID, 1, "Owner"), ErrNotUndoable)

	var count int64
	db.Model(&models.Technician{}).Where("id = ?", tech.ID).Count(&count)
	assert.Equal(t, int64(1), count)
}

func TestUndoUpdateRestoresJob(t *testing.T) {
	db := testutil.SetupDB(t)
	f := testutil.CreateFranchisee(t, db, "Opelousas")
	tech := testutil.CreateTechnician(t, db, f.ID, "Tech")
	job := testutil.CreateJob(t, db, tech, models.JobStatusSubmitted, testNow())

	before := *job
	require.NoError(t, db.Model(job).Updates(map[string]any{"status": models.JobStatusApproved, "city": "Sunset"}).Error)
	require.NoError(t, WriteLog(LogOptions{
		FranchiseeID: &f.ID, UserID: 1, UserName: "Owner",
		EntityType: EntityJobSubmission, EntityID: job.ID,
		Action: models.AuditActionUpdate, Description: "Job approved", Before: before, After: job,
	}))

	var entry models.AuditLog
	require.NoError(t, db.First(&entry).Error)
	require.NoError(t, UndoLog(entry.ID, 1, "Owner"))

	var got models.JobSubmission
	require.NoError(t, db.First(&got, job.ID).Error)
	assert.Equal(t, models.JobStatusSubmitted, got.Status)
	assert.Equal(t, "Lafayette", got.City)
}

func TestUndoDeleteRecreatesWithSameID(t *testing.T) {
	db := testutil.SetupDB(t)
	f := testutil.CreateFranchisee(t, db, "Thibodaux")
	tech := testutil.CreateTechnician(t, db, f.ID, "Gone Soon")

	require.NoError(t, db.Delete(&models.Technician{}, tech.ID).Error)
	require.NoError(t, WriteLog(LogOptions{
		FranchiseeID: &f.ID, UserID: 1, UserName: "Owner",
		EntityType: EntityTechnician, EntityID: tech.ID,
		Action: models.AuditActionDelete, Description: "Technician deleted", Before: tech,
	}))

	var entry models.AuditLog
	require.NoError(t, db.First(&entry).Error)
	require.NoError(t, UndoLog(entry.ID, 1, "Owner"))

	var got models.Technician
	require.NoError(t, db.First(&got, tech.ID).Error)
	assert.Equal(t, "Gone Soon", got.Name)
	assert.Equal(t, tech.LoginCode, got.LoginCode)
}

func TestUndoUnknownEntityRollsBack(t *testing.T) {
	db := testutil.SetupDB(t)
	require.NoError(t, WriteLog(LogOptions{
		UserID: 1, EntityType: "franchisee", EntityID: 1, Action: models.AuditActionCreate,
	}))

	var entry models.AuditLog
	require.NoError(t, db.First(&entry).Error)
	assert.ErrorIs(t, UndoLog(entry.ID, 1, "Admin"), ErrNotUndoable)

	require.NoError(t, db.First(&entry, entry.ID).Error)
	assert.False(t, entry.IsUndone)
}

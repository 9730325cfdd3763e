package technician

import (
	"bytes"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"pal-backend/internal/auth"
	"pal-backend/internal/auth/authtest"
	"pal-backend/internal/logincode"
	"pal-backend/internal/models"
	"pal-backend/internal/testutil"
)

func newApp(t *testing.T) *fiber.App {
	app, api := authtest.App(t)
	g := api.Group("/technicians", auth.RequireRole(models.RoleAdmin, models.RoleFranchisee))
	g.Post("/", CreateTechnicianHandler())
	g.Get("/", ListTechniciansHandler())
	g.Post("/import", ImportTechniciansHandler())
	g.Get("/:id", GetTechnicianHandler())
	g.Put("/:id", UpdateTechnicianHandler())
	g.Post("/:id/regenerate-code", RegenerateCodeHandler())
	g.Delete("/:id", DeleteTechnicianHandler())
	return app
}

func TestCreateAndUpdateWritesAudit(t *testing.T) {
	db := testutil.SetupDB(t)
	f := testutil.CreateFranchisee(t, db, "Lafayette")
	owner := testutil.CreateUser(t, db, "owner@example.com", models.RoleFranchisee, &f.ID)
	app := newApp(t)

	resp := authtest.Do(t, app, http.MethodPost, "/api/technicians/",
		CreateTechnicianRequest{Name: " Marcus ", Phone: "337-555-0100"}, owner)
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)
	var tech TechnicianResponse
	authtest.Decode(t, resp, &tech)
	assert.Equal(t, "Marcus", tech.Name)
	assert.Equal(t, f.ID, tech.FranchiseeID)
	assert.True(t, logincode.Valid(tech.LoginCode), tech.LoginCode)

	inactive := false
	resp = authtest.Do(t, app, http.MethodPut, fmt.Sprintf("/api/technicians/%d", tech.ID),
		UpdateTechnicianRequest{Active: &inactive}, owner)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	var updated TechnicianResponse
	authtest.Decode(t, resp, &updated)
	assert.False(t, updated.Active)

	var logs []models.AuditLog
	require.NoError(t, db.Order("id").Find(&logs).Error)
	require.Len(t, logs, 2)
	assert.Equal(t, models.AuditActionCreate, logs[0].Action)
	assert.Equal(t, models.AuditActionUpdate, logs[1].Action)
	assert.Equal(t, owner.ID, logs[1].UserID)
}

func TestAdminMustNameFranchisee(t *testing.T) {
	db := testutil.SetupDB(t)
	f := testutil.CreateFranchisee(t, db, "Lafayette")
	root := testutil.CreateUser(t, db, "admin@example.com", models.RoleAdmin, nil)
	app := newApp(t)

	resp := authtest.Do(t, app, http.MethodPost, "/api/technicians/", CreateTechnicianRequest{Name: "Ann"}, root)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)

	resp = authtest.Do(t, app, http.MethodPost, "/api/technicians/",
		CreateTechnicianRequest{Name: "Ann", FranchiseeID: &f.ID}, root)
	assert.Equal(t, fiber.StatusCreated, resp.StatusCode)
}

func TestOtherFranchiseeIsHidden(t *testing.T) {
	db := testutil.SetupDB(t)
	mine := testutil.CreateFranchisee(t, db, "Lafayette")
	theirs := testutil.CreateFranchisee(t, db, "Shreveport")
	owner := testutil.CreateUser(t, db, "owner@example.com", models.RoleFranchisee, &mine.ID)
	foreign := testutil.CreateTechnician(t, db, theirs.ID, "Not Mine")
	testutil.CreateTechnician(t, db, mine.ID, "Mine")
	app := newApp(t)

	resp := authtest.Do(t, app, http.MethodGet, fmt.Sprintf("/api/technicians/%d", foreign.ID), nil, owner)
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)

	resp = authtest.Do(t, app, http.MethodGet, "/api/technicians/", nil, owner)
	var list []TechnicianResponse
	authtest.Decode(t, resp, &list)
	require.Len(t, list, 1)
	assert.Equal(t, "Mine", list[0].Name)
}

func TestRegenerateCode(t *testing.T) {
	db := testutil.SetupDB(t)
	f := testutil.CreateFranchisee(t, db, "Lafayette")
	owner := testutil.CreateUser(t, db, "owner@example.com", models.RoleFranchisee, &f.ID)
	tech := testutil.CreateTechnician(t, db, f.ID, "Marcus")
	app := newApp(t)

	resp := authtest.Do(t, app, http.MethodPost, fmt.Sprintf("/api/technicians/%d/regenerate-code", tech.ID), nil, owner)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	var got TechnicianResponse
	authtest.Decode(t, resp, &got)
	assert.NotEqual(t, tech.LoginCode, got.LoginCode)

	var stored models.Technician
	require.NoError(t, db.First(&stored, tech.ID).Error)
	assert.Equal(t, got.LoginCode, stored.LoginCode)
}

func TestDeleteRefusedWithJobs(t *testing.T) {
	db := testutil.SetupDB(t)
	f := testutil.CreateFranchisee(t, db, "Lafayette")
	owner := testutil.CreateUser(t, db, "owner@example.com", models.RoleFranchisee, &f.ID)
	busy := testutil.CreateTechnician(t, db, f.ID, "Busy")
	testutil.CreateJob(t, db, busy, models.JobStatusSubmitted, busy.CreatedAt)
	idle, _ := testutil.CreateTechnicianUser(t, db, f.ID, "Idle")
	app := newApp(t)

	resp := authtest.Do(t, app, http.MethodDelete, fmt.Sprintf("/api/technicians/%d", busy.ID), nil, owner)
	assert.Equal(t, fiber.StatusConflict, resp.StatusCode)

	resp = authtest.Do(t, app, http.MethodDelete, fmt.Sprintf("/api/technicians/%d", idle.ID), nil, owner)
	require.Equal(t, fiber.StatusNoContent, resp.StatusCode)

	var users int64
	db.Model(&models.User{}).Where("technician_id = ?", idle.ID).Count(&users)
	assert.Zero(t, users)

	var entry models.AuditLog
	require.NoError(t, db.Where("action = ?", models.AuditActionDelete).First(&entry).Error)
	assert.Contains(t, entry.BeforeData, "Idle")
}

func rosterUpload(t *testing.T, rows [][]any) (*bytes.Buffer, string) {
	t.Helper()
	book := excelize.NewFile()
	defer book.Close()
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, err)
		require.NoError(t, book.SetSheetRow("Sheet1", cell, &row))
	}
	xlsx, err := book.WriteToBuffer()
	require.NoError(t, err)

	body := &bytes.Buffer{}
	w := multipart.NewWriter(body)
	part, err := w.CreateFormFile("file", "roster.xlsx")
	require.NoError(t, err)
	_, err = part.Write(xlsx.Bytes())
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return body, w.FormDataContentType()
}

func TestImportRoster(t *testing.T) {
	db := testutil.SetupDB(t)
	f := testutil.CreateFranchisee(t, db, "Lafayette")
	owner := testutil.CreateUser(t, db, "owner@example.com", models.RoleFranchisee, &f.ID)
	testutil.CreateTechnician(t, db, f.ID, "Existing Person")
	app := newApp(t)

	body, contentType := rosterUpload(t, [][]any{
		{"Name", "Email", "Phone"},
		{"Ava Broussard", "AVA@example.com", "3375550101"},
		{"existing person", "", ""},
		{"", "blank@example.com", ""},
		{"Luc Guidry", "", "3375550102"},
	})
	req := httptest.NewRequest(http.MethodPost, "/api/technicians/import", body)
	req.Header.Set("Content-Type", contentType)
	resp := authtest.Send(t, app, req, owner)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	var res ImportResult
	authtest.Decode(t, resp, &res)
	require.Len(t, res.Created, 2)
	assert.Equal(t, "ava@example.com", res.Created[0].Email)
	assert.Equal(t, []string{"existing person"}, res.Skipped)

	var count int64
	db.Model(&models.Technician{}).Where("franchisee_id = ?", f.ID).Count(&count)
	assert.Equal(t, int64(3), count)
}

func TestImportRejectsOtherFormats(t *testing.T) {
	db := testutil.SetupDB(t)
	f := testutil.CreateFranchisee(t, db, "Lafayette")
	owner := testutil.CreateUser(t, db, "owner@example.com", models.RoleFranchisee, &f.ID)
	app := newApp(t)

	body := &bytes.Buffer{}
	w := multipart.NewWriter(body)
	part, err := w.CreateFormFile("file", "roster.csv")
	require.NoError(t, err)
	_, _ = part.Write([]byte("name\nAva\n"))
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/technicians/import", body)
	req.Header.Set("Content-Type", w.FormDataContentType())
	resp := authtest.Send(t, app, req, owner)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}

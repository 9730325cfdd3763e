package content

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"google.golang.org/genai"

	"pal-backend/internal/auth/authtest"
	"pal-backend/internal/models"
	"pal-backend/internal/testutil"
)

type fakeGenerator struct {
	calls   int
	prompts []string
	err     error
}

func (f *fakeGenerator) Model() string { return "fake-1" }

func (f *fakeGenerator) Generate(_ context.Context, system, prompt string) (string, error) {
	f.calls++
	f.prompts = append(f.prompts, prompt)
	if f.err != nil {
		return "", f.err
	}
	return fmt.Sprintf("generated #%d", f.calls), nil
}

func newApp(t *testing.T, svc *Service) *fiber.App {
	app, api := authtest.App(t)
	api.Post("/content/jobs/:id/summary", JobContentHandler(svc, models.ContentSummary))
	api.Post("/content/jobs/:id/social-post", JobContentHandler(svc, models.ContentSocialPost))
	api.Post("/content/report", ReportHandler(svc))
	api.Get("/content", ListContentHandler())
	return app
}

func TestJobContentCachesByPrompt(t *testing.T) {
	db := testutil.SetupDB(t)
	f := testutil.CreateFranchisee(t, db, "Lafayette")
	owner := testutil.CreateUser(t, db, "owner@example.com", models.RoleFranchisee, &f.ID)
	tech := testutil.CreateTechnician(t, db, f.ID, "Marcus Landry")
	job := testutil.CreateJob(t, db, tech, models.JobStatusApproved, time.Now())
	gen := &fakeGenerator{}
	app := newApp(t, NewService(gen, zap.NewNop()))
	path := fmt.Sprintf("/api/content/jobs/%d/summary", job.ID)

	resp := authtest.Do(t, app, http.MethodPost, path, nil, owner)
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)
	var first ContentResponse
	authtest.Decode(t, resp, &first)
	assert.False(t, first.Cached)
	assert.Equal(t, "generated #1", first.Body)
	assert.Equal(t, "fake-1", first.Model)

	resp = authtest.Do(t, app, http.MethodPost, path, nil, owner)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	var second ContentResponse
	authtest.Decode(t, resp, &second)
	assert.True(t, second.Cached)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 1, gen.calls)

	resp = authtest.Do(t, app, http.MethodPost, path+"?refresh=true", nil, owner)
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)
	assert.Equal(t, 2, gen.calls)

	// a different kind is a different prompt
	resp = authtest.Do(t, app, http.MethodPost, fmt.Sprintf("/api/content/jobs/%d/social-post", job.ID), nil, owner)
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)
	assert.Equal(t, 3, gen.calls)

	assert.Contains(t, gen.prompts[0], "Technician first name: Marcus\n")
	assert.NotContains(t, gen.prompts[0], "Landry")

	resp = authtest.Do(t, app, http.MethodGet, "/api/content?kind=summary", nil, owner)
	var list []ContentResponse
	authtest.Decode(t, resp, &list)
	assert.Len(t, list, 2)
}

func TestCachedContentWithoutGenerator(t *testing.T) {
	db := testutil.SetupDB(t)
	f := testutil.CreateFranchisee(t, db, "Lafayette")
	owner := testutil.CreateUser(t, db, "owner@example.com", models.RoleFranchisee, &f.ID)
	tech := testutil.CreateTechnician(t, db, f.ID, "A")
	job := testutil.CreateJob(t, db, tech, models.JobStatusApproved, time.Now())
	path := fmt.Sprintf("/api/content/jobs/%d/summary", job.ID)

	app := newApp(t, NewService(&fakeGenerator{}, zap.NewNop()))
	resp := authtest.Do(t, app, http.MethodPost, path, nil, owner)
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)
	var first ContentResponse
	authtest.Decode(t, resp, &first)

	app = newApp(t, NewService(nil, zap.NewNop()))
	resp = authtest.Do(t, app, http.MethodPost, path, nil, owner)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	var cached ContentResponse
	authtest.Decode(t, resp, &cached)
	assert.True(t, cached.Cached)
	assert.Equal(t, first.ID, cached.ID)

	resp = authtest.Do(t, app, http.MethodPost, path+"?refresh=true", nil, owner)
	assert.Equal(t, fiber.StatusServiceUnavailable, resp.StatusCode)
}

func TestJobContentErrors(t *testing.T) {
	db := testutil.SetupDB(t)
	f := testutil.CreateFranchisee(t, db, "Lafayette")
	other := testutil.CreateFranchisee(t, db, "Monroe")
	stranger := testutil.CreateUser(t, db, "x@example.com", models.RoleFranchisee, &other.ID)
	owner := testutil.CreateUser(t, db, "owner@example.com", models.RoleFranchisee, &f.ID)
	tech := testutil.CreateTechnician(t, db, f.ID, "A")
	job := testutil.CreateJob(t, db, tech, models.JobStatusSubmitted, time.Now())
	rejected := testutil.CreateJob(t, db, tech, models.JobStatusRejected, time.Now())

	path := func(id uint) string { return fmt.Sprintf("/api/content/jobs/%d/summary", id) }

	app := newApp(t, NewService(nil, zap.NewNop()))
	assert.Equal(t, fiber.StatusServiceUnavailable, authtest.Do(t, app, http.MethodPost, path(job.ID), nil, owner).StatusCode)
	assert.Equal(t, fiber.StatusNotFound, authtest.Do(t, app, http.MethodPost, path(job.ID), nil, stranger).StatusCode)
	assert.Equal(t, fiber.StatusConflict, authtest.Do(t, app, http.MethodPost, path(rejected.ID), nil, owner).StatusCode)

	app = newApp(t, NewService(&fakeGenerator{err: errors.New("quota")}, zap.NewNop()))
	assert.Equal(t, fiber.StatusBadGateway, authtest.Do(t, app, http.MethodPost, path(job.ID), nil, owner).StatusCode)

	var stored int64
	db.Model(&models.GeneratedContent{}).Count(&stored)
	assert.Zero(t, stored)
}

func TestReport(t *testing.T) {
	db := testutil.SetupDB(t)
	f := testutil.CreateFranchisee(t, db, "Lafayette")
	owner := testutil.CreateUser(t, db, "owner@example.com", models.RoleFranchisee, &f.ID)
	tech := testutil.CreateTechnician(t, db, f.ID, "A")
	day := func(d int) time.Time { return time.Date(2026, 4, d, 15, 0, 0, 0, time.UTC) }
	testutil.CreateJob(t, db, tech, models.JobStatusApproved, day(6))
	testutil.CreateJob(t, db, tech, models.JobStatusSubmitted, day(7))
	testutil.CreateJob(t, db, tech, models.JobStatusSubmitted, day(12))
	testutil.CreateJob(t, db, tech, models.JobStatusSubmitted, day(20))
	gen := &fakeGenerator{}
	app := newApp(t, NewService(gen, zap.NewNop()))

	resp := authtest.Do(t, app, http.MethodPost, "/api/content/report", ReportRequest{From: "2026-04-06", To: "2026-04-12"}, owner)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	var out struct {
		Report ContentResponse `json:"report"`
		Stats  struct {
			Total    int64            `json:"total"`
			ByStatus map[string]int64 `json:"by_status"`
		} `json:"stats"`
	}
	authtest.Decode(t, resp, &out)
	assert.Equal(t, int64(3), out.Stats.Total)
	assert.Equal(t, int64(2), out.Stats.ByStatus["submitted"])
	assert.Equal(t, models.ContentReport, out.Report.Kind)
	require.Len(t, gen.prompts, 1)
	assert.True(t, strings.Contains(gen.prompts[0], "approved=1, submitted=2"), gen.prompts[0])

	resp = authtest.Do(t, app, http.MethodPost, "/api/content/report", ReportRequest{From: "2026-04-12", To: "2026-04-06"}, owner)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}

func TestPromptHashDependsOnKindAndModel(t *testing.T) {
	base := PromptHash(models.ContentSummary, "m1", "p")
	assert.Len(t, base, 64)
	assert.Equal(t, base, PromptHash(models.ContentSummary, "m1", "p"))
	assert.NotEqual(t, base, PromptHash(models.ContentSocialPost, "m1", "p"))
	assert.NotEqual(t, base, PromptHash(models.ContentSummary, "m2", "p"))
}

func TestRetryableGenAI(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "rate limited", err: genai.APIError{Code: 429}, want: true},
		{name: "server error", err: genai.APIError{Code: 503}, want: true},
		{name: "bad request", err: genai.APIError{Code: 400}, want: false},
		{name: "cancelled", err: context.Canceled, want: false},
		{name: "transport", err: errors.New("connection reset"), want: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, retryableGenAI(tt.err))
		})
	}
}

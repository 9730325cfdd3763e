// Package authtest builds authenticated requests against fiber apps in tests.
package authtest

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/require"

	"pal-backend/internal/auth"
	"pal-backend/internal/config"
	"pal-backend/internal/models"
	"pal-backend/internal/testutil"
)

func Config() *config.Config {
	return &config.Config{
		JWTSecret:     testutil.JWTSecret,
		PublicBaseURL: "https://app.example.com",
		PhotoMaxBytes: 1 << 20,
	}
}

// App returns a fiber app whose /api group is already behind JWTMiddleware.
// The app uses the default fiber error handler, which renders *fiber.Error
// messages as plain text with the error's status.
func App(t *testing.T) (*fiber.App, fiber.Router) {
	t.Helper()
	app := fiber.New()
	api := app.Group("/api", auth.JWTMiddleware(Config()))
	return app, api
}

func Token(t *testing.T, u *models.User) string {
	t.Helper()
	tok, err := auth.GenerateToken(testutil.JWTSecret, u)
	require.NoError(t, err)
	return tok
}

// Do sends a JSON request as u (anonymous when u is nil).
func Do(t *testing.T, app *fiber.App, method, path string, body any, u *models.User) *http.Response {
	t.Helper()
	var r io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, r)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return Send(t, app, req, u)
}

// Send executes a prepared request as u.
func Send(t *testing.T, app *fiber.App, req *http.Request, u *models.User) *http.Response {
	t.Helper()
	if u != nil {
		req.Header.Set("Authorization", "Bearer "+Token(t, u))
	}
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	return resp
}

func Decode(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, v), string(raw))
}

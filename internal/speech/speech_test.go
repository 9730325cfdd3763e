package speech

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/sethvargo/go-retry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pal-backend/internal/auth/authtest"
	"pal-backend/internal/content"
	"pal-backend/internal/models"
	"pal-backend/internal/storage"
	"pal-backend/internal/testutil"
)

func newTestClient(url string) *Client {
	c := NewClient(url, "xi-key", "voice 1")
	c.backoff = func() retry.Backoff { return retry.WithMaxRetries(2, retry.NewConstant(0)) }
	return c
}

func TestSynthesize(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := hits.Add(1)
		assert.Equal(t, "/v1/text-to-speech/voice%201", r.URL.EscapedPath())
		assert.Equal(t, "xi-key", r.Header.Get("xi-api-key"))
		assert.Equal(t, "audio/mpeg", r.Header.Get("Accept"))

		var body ttsRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "Hello Lafayette", body.Text)
		assert.Equal(t, defaultModel, body.ModelID)

		if n == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "audio/mpeg")
		_, _ = w.Write([]byte("ID3-audio"))
	}))
	defer srv.Close()

	audio, err := newTestClient(srv.URL).Synthesize(context.Background(), "Hello Lafayette")
	require.NoError(t, err)
	assert.Equal(t, []byte("ID3-audio"), audio)
	assert.Equal(t, int32(2), hits.Load())
}

func TestSynthesizeClientErrorIsNotRetried(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"detail":"invalid api key"}`))
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).Synthesize(context.Background(), "hi")
	require.Error(t, err)
	var se *statusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusUnauthorized, se.code)
	assert.Contains(t, err.Error(), "invalid api key")
	assert.Equal(t, int32(1), hits.Load())
}

type fakeSynth struct {
	calls int
	err   error
}

func (f *fakeSynth) Synthesize(_ context.Context, text string) ([]byte, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return []byte("mp3:" + text), nil
}

func TestAudioHandler(t *testing.T) {
	db := testutil.SetupDB(t)
	f := testutil.CreateFranchisee(t, db, "Lafayette")
	other := testutil.CreateFranchisee(t, db, "Baton Rouge")
	owner := testutil.CreateUser(t, db, "owner@example.com", models.RoleFranchisee, &f.ID)
	stranger := testutil.CreateUser(t, db, "other@example.com", models.RoleFranchisee, &other.ID)

	gc := &models.GeneratedContent{
		FranchiseeID: f.ID,
		Kind:         models.ContentSocialPost,
		PromptHash:   strings.Repeat("a", 64),
		Body:         "Locked out? We're on the way.",
	}
	require.NoError(t, db.Create(gc).Error)

	root := t.TempDir()
	store := storage.NewLocalStore(root, "http://localhost:8080")
	synth := &fakeSynth{}

	app, api := authtest.App(t)
	api.Post("/content/:id/audio", AudioHandler(synth, store))
	path := fmt.Sprintf("/api/content/%d/audio", gc.ID)

	resp := authtest.Do(t, app, http.MethodPost, path, nil, stranger)
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)

	resp = authtest.Do(t, app, http.MethodPost, path, nil, owner)
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)
	var out content.ContentResponse
	authtest.Decode(t, resp, &out)
	require.NotEmpty(t, out.AudioURL)
	assert.Equal(t, 1, synth.calls)

	var stored models.GeneratedContent
	require.NoError(t, db.First(&stored, gc.ID).Error)
	assert.Equal(t, out.AudioURL, stored.AudioURL)

	matches, err := filepath.Glob(filepath.Join(root, "franchisees", fmt.Sprint(f.ID), "audio", "*.mp3"))
	require.NoError(t, err)
	require.Len(t, matches, 1)
	raw, err := os.ReadFile(matches[0])
	require.NoError(t, err)
	assert.Equal(t, "mp3:Locked out? We're on the way.", string(raw))

	// existing audio is reused
	resp = authtest.Do(t, app, http.MethodPost, path, nil, owner)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, 1, synth.calls)

	resp = authtest.Do(t, app, http.MethodPost, path+"?refresh=true", nil, owner)
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)
	assert.Equal(t, 2, synth.calls)
}

func TestAudioHandlerFailures(t *testing.T) {
	db := testutil.SetupDB(t)
	f := testutil.CreateFranchisee(t, db, "Lafayette")
	owner := testutil.CreateUser(t, db, "owner@example.com", models.RoleFranchisee, &f.ID)
	gc := &models.GeneratedContent{FranchiseeID: f.ID, Kind: models.ContentSummary, PromptHash: "h", Body: "text"}
	require.NoError(t, db.Create(gc).Error)
	store := storage.NewLocalStore(t.TempDir(), "http://localhost:8080")
	path := fmt.Sprintf("/api/content/%d/audio", gc.ID)

	tests := []struct {
		name  string
		synth Synthesizer
		path  string
		want  int
	}{
		{name: "disabled", synth: nil, path: path, want: fiber.StatusServiceUnavailable},
		{name: "upstream failure", synth: &fakeSynth{err: errors.New("boom")}, path: path, want: fiber.StatusBadGateway},
		{name: "unknown content", synth: &fakeSynth{}, path: "/api/content/9999/audio", want: fiber.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app, api := authtest.App(t)
			api.Post("/content/:id/audio", AudioHandler(tt.synth, store))
			resp := authtest.Do(t, app, http.MethodPost, tt.path, nil, owner)
			assert.Equal(t, tt.want, resp.StatusCode)
		})
	}
}

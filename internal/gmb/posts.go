package gmb

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"golang.org/x/oauth2"

	"pal-backend/internal/database"
)

var ErrLocationNotSet = errors.New("google business location is not set")

type LocalPost struct {
	Summary  string
	PhotoURL string
}

type localPostBody struct {
	LanguageCode string      `json:"languageCode"`
	Summary      string      `json:"summary"`
	TopicType    string      `json:"topicType"`
	Media        []postMedia `json:"media,omitempty"`
}

type postMedia struct {
	MediaFormat string `json:"mediaFormat"`
	SourceURL   string `json:"sourceUrl"`
}

type PublishedPost struct {
	Name      string `json:"name"`
	SearchURL string `json:"searchUrl"`
	State     string `json:"state"`
}

// Publish creates a "what's new" post on the franchisee's location through the
// v4 localPosts endpoint, refreshing the grant first when needed.
func (s *Service) Publish(ctx context.Context, franchiseeID uint, post LocalPost) (*PublishedPost, error) {
	tok, err := s.ValidToken(ctx, franchiseeID)
	if err != nil {
		return nil, err
	}
	row, err := ActiveToken(database.DB, franchiseeID)
	if err != nil {
		return nil, err
	}
	if row.AccountID == "" || row.LocationID == "" {
		return nil, ErrLocationNotSet
	}

	body := localPostBody{LanguageCode: "en-US", Summary: post.Summary, TopicType: "STANDARD"}
	if post.PhotoURL != "" {
		body.Media = []postMedia{{MediaFormat: "PHOTO", SourceURL: post.PhotoURL}}
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	endpoint := fmt.Sprintf("%s/v4/accounts/%s/locations/%s/localPosts",
		s.apiBase, url.PathEscape(row.AccountID), url.PathEscape(row.LocationID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	client := oauth2.NewClient(ctx, oauth2.StaticTokenSource(tok))
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("publish local post: %w", err)
	}
	defer resp.Body.Close()

	payload, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("publish local post: google returned %d: %s", resp.StatusCode, bytes.TrimSpace(payload))
	}

	var out PublishedPost
	if err := json.Unmarshal(payload, &out); err != nil {
		return nil, fmt.Errorf("decode local post: %w", err)
	}
	return &out, nil
}

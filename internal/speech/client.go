// Package speech turns generated copy into audio through the ElevenLabs
// text-to-speech API.
package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"
)

const (
	defaultModel = "eleven_multilingual_v2"
	maxAudio     = 20 << 20
)

type Synthesizer interface {
	Synthesize(ctx context.Context, text string) ([]byte, error)
}

type Client struct {
	baseURL string
	apiKey  string
	voiceID string
	model   string
	http    *http.Client
	backoff func() retry.Backoff
}

func NewClient(baseURL, apiKey, voiceID string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		voiceID: voiceID,
		model:   defaultModel,
		http:    &http.Client{Timeout: 60 * time.Second},
		backoff: func() retry.Backoff {
			return retry.WithMaxRetries(2, retry.NewExponential(time.Second))
		},
	}
}

type ttsRequest struct {
	Text    string `json:"text"`
	ModelID string `json:"model_id"`
}

type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("elevenlabs returned %d: %s", e.code, e.body)
}

// Synthesize returns MP3 audio for text.
func (c *Client) Synthesize(ctx context.Context, text string) ([]byte, error) {
	payload, err := json.Marshal(ttsRequest{Text: text, ModelID: c.model})
	if err != nil {
		return nil, err
	}
	endpoint := c.baseURL + "/v1/text-to-speech/" + url.PathEscape(c.voiceID)

	var audio []byte
	err = retry.Do(ctx, c.backoff(), func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
		if err != nil {
			return err
		}
		req.Header.Set("xi-api-key", c.apiKey)
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "audio/mpeg")

		resp, err := c.http.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return err
			}
			return retry.RetryableError(err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			se := &statusError{code: resp.StatusCode, body: strings.TrimSpace(string(msg))}
			if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
				return retry.RetryableError(se)
			}
			return se
		}

		audio, err = io.ReadAll(io.LimitReader(resp.Body, maxAudio))
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("synthesize speech: %w", err)
	}
	return audio, nil
}

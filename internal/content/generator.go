package content

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"
	"google.golang.org/genai"
)

var ErrEmptyResponse = errors.New("model returned no text")

// Generator produces text for a system instruction and prompt.
type Generator interface {
	Generate(ctx context.Context, system, prompt string) (string, error)
	Model() string
}

type GeminiGenerator struct {
	client  *genai.Client
	model   string
	backoff func() retry.Backoff
}

func NewGeminiGenerator(ctx context.Context, apiKey, model string) (*GeminiGenerator, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return &GeminiGenerator{
		client: client,
		model:  model,
		backoff: func() retry.Backoff {
			return retry.WithMaxRetries(2, retry.WithJitterPercent(20, retry.NewExponential(500*time.Millisecond)))
		},
	}, nil
}

func (g *GeminiGenerator) Model() string { return g.model }

func (g *GeminiGenerator) Generate(ctx context.Context, system, prompt string) (string, error) {
	cfg := &genai.GenerateContentConfig{
		Temperature:     genai.Ptr[float32](0.7),
		MaxOutputTokens: 1024,
	}
	if system != "" {
		cfg.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
	}

	var text string
	err := retry.Do(ctx, g.backoff(), func(ctx context.Context) error {
		resp, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(prompt), cfg)
		if err != nil {
			if retryableGenAI(err) {
				return retry.RetryableError(err)
			}
			return err
		}
		text = strings.TrimSpace(resp.Text())
		if text == "" {
			return ErrEmptyResponse
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("gemini generate: %w", err)
	}
	return text, nil
}

func retryableGenAI(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code == 429 || apiErr.Code >= 500
	}
	return true
}

// Package insights asks an AI collaborator for a structured read on a
// project's state. The collaborator is opaque: we send a serialized
// summary and a prompt, and expect back text parsing to a fixed JSON
// shape. A response that fails to parse degrades to "AI analysis
// unavailable" instead of an error.
package insights

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	perrors "github.com/crewdeck/crewdeck/internal/errors"
	"github.com/crewdeck/crewdeck/internal/retry"
)

const (
	defaultAPIBase    = "https://api.anthropic.com/v1"
	apiVersion        = "2023-06-01"
	defaultModel      = "claude-sonnet-4-5"
	defaultMaxTokens  = 2048
	completionTimeout = 60 * time.Second
)

// Client speaks the Messages API. The API key is supplied per call: it
// comes out of the requesting session's credential set, not service
// configuration.
type Client struct {
	apiBase   string
	model     string
	maxTokens int
	client    *http.Client
	logger    zerolog.Logger
}

// ClientOption configures the client.
type ClientOption func(*Client)

func WithModel(model string) ClientOption {
	return func(c *Client) { c.model = model }
}

func WithAPIBase(base string) ClientOption {
	return func(c *Client) { c.apiBase = base }
}

func NewClient(logger zerolog.Logger, opts ...ClientOption) *Client {
	c := &Client{
		apiBase:   defaultAPIBase,
		model:     defaultModel,
		maxTokens: defaultMaxTokens,
		client:    &http.Client{Timeout: completionTimeout},
		logger:    logger.With().Str("component", "insights").Logger(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// ---- wire types ----

type messageRequest struct {
	Model     string    `json:"model"`
	MaxTokens int       `json:"max_tokens"`
	System    string    `json:"system,omitempty"`
	Messages  []message `json:"messages"`
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type messageResponse struct {
	Content []contentBlock `json:"content"`
	Error   *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// complete sends a blocking completion and returns the concatenated text.
// Rate limits and upstream 5xx responses are retried with backoff.
func (c *Client) complete(ctx context.Context, apiKey, system, prompt string) (string, error) {
	var text string
	err := retry.Do(ctx, retry.DefaultConfig(), func(ctx context.Context) error {
		var err error
		text, err = c.completeOnce(ctx, apiKey, system, prompt)
		return err
	})
	return text, err
}

func (c *Client) completeOnce(ctx context.Context, apiKey, system, prompt string) (string, error) {
	body, err := json.Marshal(messageRequest{
		Model:     c.model,
		MaxTokens: c.maxTokens,
		System:    system,
		Messages:  []message{{Role: "user", Content: prompt}},
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal completion request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiBase+"/messages", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create completion request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", apiKey)
	req.Header.Set("anthropic-version", apiVersion)

	resp, err := c.client.Do(req)
	if err != nil {
		return "", perrors.WrapAPIError("insights", 0, "completion", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read completion response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", perrors.NewAPIError("insights", resp.StatusCode, "completion rejected")
	}

	var mr messageResponse
	if err := json.Unmarshal(raw, &mr); err != nil {
		return "", fmt.Errorf("failed to decode completion response: %w", err)
	}
	if mr.Error != nil {
		return "", perrors.NewAPIError("insights", resp.StatusCode, mr.Error.Message)
	}

	var text string
	for _, block := range mr.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}
	return text, nil
}

package annotator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"emafutures/internal/breaker"
	"emafutures/internal/model"
)

const maxReplyBytes = 1 << 20

// Config configures the chat-completions client.
type Config struct {
	BaseURL     string        // e.g. https://api.openai.com/v1
	APIKey      string        // bearer token
	Model       string        // e.g. gpt-4o-mini
	Timeout     time.Duration // per request, default 15s
	MaxTokens   int           // default 600
	Temperature float64
}

// Client calls an OpenAI-compatible chat-completions endpoint.
type Client struct {
	cfg    Config
	client *http.Client
	cb     *breaker.Breaker
}

// NewClient creates a client. cb may be nil.
func NewClient(cfg Config, cb *breaker.Breaker) *Client {
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 600
	}
	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
	}
	return &Client{
		cfg: cfg,
		client: &http.Client{
			Timeout: cfg.Timeout,
		},
		cb: cb,
	}
}

// Configured reports whether credentials are present.
func (c *Client) Configured() bool {
	return c.cfg.BaseURL != "" && c.cfg.APIKey != ""
}

// TestConnection checks credentials with GET {base}/models.
func (c *Client) TestConnection(ctx context.Context) error {
	if !c.Configured() {
		return ErrNotConfigured
	}
	req, err := http.NewRequestWithContext(ctx, "GET", c.cfg.BaseURL+"/models", nil)
	if err != nil {
		return fmt.Errorf("annotator: create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxReplyBytes))

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%w: credentials rejected (status %d)", ErrNotConfigured, resp.StatusCode)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}
	return nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float64       `json:"temperature"`
}

// Annotate asks the model for narrative text. The returned narrative only
// holds the keys the model actually produced.
func (c *Client) Annotate(ctx context.Context, r Request) (model.Narrative, error) {
	if !c.Configured() {
		return model.Narrative{}, ErrNotConfigured
	}

	body, err := json.Marshal(chatRequest{
		Model: c.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: BuildPrompt(r)},
		},
		MaxTokens:   c.cfg.MaxTokens,
		Temperature: c.cfg.Temperature,
	})
	if err != nil {
		return model.Narrative{}, fmt.Errorf("annotator: marshal: %w", err)
	}

	var reply []byte
	call := func(ctx context.Context) error {
		var perr error
		reply, perr = c.post(ctx, body)
		return perr
	}
	if c.cb != nil {
		err = c.cb.ExecuteContext(ctx, call)
	} else {
		err = call(ctx)
	}
	if err != nil {
		if errors.Is(err, breaker.ErrCircuitOpen) {
			return model.Narrative{}, fmt.Errorf("%w: %w", ErrUnavailable, err)
		}
		return model.Narrative{}, err
	}

	content := gjson.GetBytes(reply, "choices.0.message.content")
	if !content.Exists() || content.Type != gjson.String {
		return model.Narrative{}, fmt.Errorf("%w: no message content", ErrMalformed)
	}
	n, err := ParseNarrative(content.String())
	if err != nil {
		log.Printf("[annotator] unparsable reply (%d bytes): %v", len(content.String()), err)
		return model.Narrative{}, err
	}
	return n, nil
}

func (c *Client) post(ctx context.Context, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, "POST", c.cfg.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("annotator: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxReplyBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %w", ErrUnavailable, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := gjson.GetBytes(data, "error.message").String()
		return nil, fmt.Errorf("%w: status %d %s", ErrUnavailable, resp.StatusCode, msg)
	}
	return data, nil
}

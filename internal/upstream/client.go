// Package upstream produces the paid content: a completion from an
// OpenAI-compatible service, or a static answer when none is configured.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	DefaultPrompt = "Explain x402 in one sentence"
	maxTokens     = 300
)

// Answer is what a paying client receives.
type Answer struct {
	Answer     string    `json:"answer"`
	Model      string    `json:"model"`
	UnlockedAt time.Time `json:"unlockedAt"`
}

// Content is satisfied by *Client and *Static.
type Content interface {
	Answer(ctx context.Context, prompt string) (*Answer, error)
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model     string        `json:"model"`
	Messages  []chatMessage `json:"messages"`
	MaxTokens int           `json:"max_tokens"`
}

type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// Client is an authenticated chat-completions REST client.
type Client struct {
	baseURL string
	apiKey  string
	model   string
	http    *http.Client
	now     func() time.Time
}

func NewClient(baseURL, apiKey, model string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		model:   model,
		http:    &http.Client{Timeout: 30 * time.Second},
		now:     time.Now,
	}
}

func (c *Client) do(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		bodyReader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, err
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.http.Do(req)
}

// Answer asks the model for a completion of prompt. An empty prompt uses
// DefaultPrompt.
func (c *Client) Answer(ctx context.Context, prompt string) (*Answer, error) {
	if strings.TrimSpace(prompt) == "" {
		prompt = DefaultPrompt
	}
	resp, err := c.do(ctx, http.MethodPost, "/v1/chat/completions", chatRequest{
		Model:     c.model,
		Messages:  []chatMessage{{Role: "user", Content: prompt}},
		MaxTokens: maxTokens,
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("upstream completion: status %d", resp.StatusCode)
	}

	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("upstream completion: decode: %w", err)
	}
	a := &Answer{Model: out.Model, UnlockedAt: c.now().UTC()}
	if a.Model == "" {
		a.Model = c.model
	}
	if len(out.Choices) > 0 {
		a.Answer = out.Choices[0].Message.Content
	}
	return a, nil
}

// BaseURL returns the configured base URL.
func (c *Client) BaseURL() string { return c.baseURL }

// Static answers every prompt with the same text.
type Static struct {
	Text  string
	Model string
	now   func() time.Time
}

func NewStatic(text string) *Static {
	return &Static{Text: text, Model: "static", now: time.Now}
}

func (s *Static) Answer(_ context.Context, _ string) (*Answer, error) {
	return &Answer{Answer: s.Text, Model: s.Model, UnlockedAt: s.now().UTC()}, nil
}

var (
	_ Content = (*Client)(nil)
	_ Content = (*Static)(nil)
)

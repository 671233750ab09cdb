// Package summarizer asks an OpenAI-compatible chat completion endpoint to
// describe a detected change in one paragraph.
package summarizer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

type Config struct {
	Endpoint  string        `mapstructure:"endpoint"`
	APIKey    string        `mapstructure:"api_key"`
	Model     string        `mapstructure:"model"`
	Timeout   time.Duration `mapstructure:"timeout"`
	MaxInput  int           `mapstructure:"max_input"`
	MaxTokens int           `mapstructure:"max_tokens"`
}

func (c Config) Enabled() bool { return c.Endpoint != "" }

var ErrEmptyReply = errors.New("summarizer returned no choices")

type Client struct {
	c   *http.Client
	cfg Config
}

func New(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Second
	}
	if cfg.MaxInput <= 0 {
		cfg.MaxInput = 4000
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 200
	}
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   cfg.Timeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	}
	return &Client{
		c:   &http.Client{Timeout: cfg.Timeout, Transport: otelhttp.NewTransport(transport)},
		cfg: cfg,
	}
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model     string    `json:"model"`
	Messages  []message `json:"messages"`
	MaxTokens int       `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message message `json:"message"`
	} `json:"choices"`
}

const systemPrompt = "You summarise changes on monitored web pages for an e-mail alert. " +
	"Answer with one short plain-text paragraph describing what changed."

func (cl *Client) Summarize(ctx context.Context, oldState, newState, hint string) (string, error) {
	var user strings.Builder
	if hint != "" {
		fmt.Fprintf(&user, "Page: %s\n", hint)
	}
	fmt.Fprintf(&user, "Before:\n%s\n\nAfter:\n%s", clip(oldState, cl.cfg.MaxInput), clip(newState, cl.cfg.MaxInput))

	body, err := json.Marshal(chatRequest{
		Model: cl.cfg.Model,
		Messages: []message{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: user.String()},
		},
		MaxTokens: cl.cfg.MaxTokens,
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cl.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	if cl.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+cl.cfg.APIKey)
	}

	resp, err := cl.c.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("summarizer status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode reply: %w", err)
	}
	if len(out.Choices) == 0 {
		return "", ErrEmptyReply
	}
	return strings.TrimSpace(out.Choices[0].Message.Content), nil
}

func clip(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}

package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Failure kinds surfaced by the gateway. Callers decide fallback behavior on
// the kind alone, never on error internals.
var (
	ErrUpstreamUnreachable = errors.New("upstream unreachable")
	ErrBadResponseShape    = errors.New("invalid upstream response shape")
)

// StatusError reports a non-success upstream HTTP status together with the
// error body the upstream returned (JSON when parseable, raw text otherwise).
type StatusError struct {
	Code int
	Body []byte
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("upstream status %d: %s", e.Code, string(e.Body))
}

type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type Config struct {
	BaseURL string
	APIKey  string
	Model   string
}

// Completion carries the verbatim upstream envelope alongside the extracted
// assistant message.
type Completion struct {
	Raw     json.RawMessage
	Message ChatMessage
}

type Client struct {
	cfg Config

	httpClient *http.Client
	// streamClient has no overall timeout: http.Client.Timeout covers the
	// full body read, which would cut long-lived streams.
	streamClient *http.Client
}

func NewClient(cfg Config) *Client {
	return &Client{
		cfg:          cfg,
		httpClient:   &http.Client{Timeout: 90 * time.Second},
		streamClient: &http.Client{},
	}
}

// Complete issues one blocking completion request and validates the envelope
// contains at least one choice with a message.
func (c *Client) Complete(ctx context.Context, messages []ChatMessage) (*Completion, error) {
	resp, err := c.post(ctx, c.httpClient, messages, false)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read completion response: %v", ErrUpstreamUnreachable, err)
	}
	if resp.StatusCode >= 300 {
		return nil, &StatusError{Code: resp.StatusCode, Body: raw}
	}

	var parsed struct {
		Choices []struct {
			Message ChatMessage `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadResponseShape, err)
	}
	if len(parsed.Choices) == 0 || parsed.Choices[0].Message.Content == "" {
		return nil, ErrBadResponseShape
	}

	return &Completion{Raw: raw, Message: parsed.Choices[0].Message}, nil
}

// Stream issues a streaming completion request and returns the open response
// body without buffering it. The caller owns closing the body.
func (c *Client) Stream(ctx context.Context, messages []ChatMessage) (io.ReadCloser, error) {
	resp, err := c.post(ctx, c.streamClient, messages, true)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		return nil, &StatusError{Code: resp.StatusCode, Body: raw}
	}
	return resp.Body, nil
}

func (c *Client) post(ctx context.Context, client *http.Client, messages []ChatMessage, stream bool) (*http.Response, error) {
	reqBody := map[string]interface{}{
		"model":    c.cfg.Model,
		"messages": messages,
		"stream":   stream,
	}
	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal completion request failed: %w", err)
	}

	url := strings.TrimRight(c.cfg.BaseURL, "/") + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, fmt.Errorf("build completion request failed: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstreamUnreachable, err)
	}
	return resp, nil
}

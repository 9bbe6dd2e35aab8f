// Package bootstrap talks to the collaborator backend that issues
// short-lived realtime credentials and serves tool definitions. Both are
// fetched before a transport opens; neither is owned by the session engine.
package bootstrap

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

	"github.com/samelhousseini/gpt-realtime-agents/internal/protocol"
	"github.com/samelhousseini/gpt-realtime-agents/internal/reliability"
)

const (
	defaultRequestTimeout = 10 * time.Second
	maxFetchAttempts      = 3
	backoffBase           = 200 * time.Millisecond
	backoffCap            = 2 * time.Second
)

var ErrBootstrap = errors.New("bootstrap failed")

// Credentials is the payload needed to open any transport variant. The
// ephemeral key is short-lived and must never be logged in full.
type Credentials struct {
	SessionID    string `json:"session_id"`
	EphemeralKey string `json:"ephemeral_key"`
	WebRTCURL    string `json:"webrtc_url"`
	Deployment   string `json:"deployment"`
	Voice        string `json:"voice"`
}

// RedactedKey keeps just enough of the ephemeral key to correlate logs.
func (c Credentials) RedactedKey() string {
	if len(c.EphemeralKey) <= 4 {
		return "****"
	}
	return c.EphemeralKey[:4] + "****"
}

type Client struct {
	baseURL string
	client  *http.Client
}

func NewClient(baseURL string, client *http.Client) *Client {
	if client == nil {
		client = &http.Client{Timeout: defaultRequestTimeout}
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), client: client}
}

type sessionRequest struct {
	Deployment string `json:"deployment,omitempty"`
	Voice      string `json:"voice,omitempty"`
}

// IssueSession requests fresh credentials. Retried with capped backoff on
// retryable statuses; issuing a session twice is harmless.
func (c *Client) IssueSession(ctx context.Context, deployment, voice string) (Credentials, error) {
	body, err := json.Marshal(sessionRequest{Deployment: deployment, Voice: voice})
	if err != nil {
		return Credentials{}, fmt.Errorf("%w: encode request: %v", ErrBootstrap, err)
	}

	var creds Credentials
	err = c.fetch(ctx, http.MethodPost, "/api/session", body, &creds)
	if err != nil {
		return Credentials{}, err
	}
	if creds.EphemeralKey == "" {
		return Credentials{}, fmt.Errorf("%w: session response missing ephemeral key", ErrBootstrap)
	}
	log.Printf("bootstrap: issued session %s (key %s)", creds.SessionID, creds.RedactedKey())
	return creds, nil
}

type toolsResponse struct {
	Tools      []protocol.Tool `json:"tools"`
	ToolChoice string          `json:"tool_choice"`
}

// FetchTools retrieves the tool definitions the session registers with the
// model. Callers normally go through ToolCache instead.
func (c *Client) FetchTools(ctx context.Context) ([]protocol.Tool, string, error) {
	var resp toolsResponse
	if err := c.fetch(ctx, http.MethodGet, "/api/tools", nil, &resp); err != nil {
		return nil, "", err
	}
	if resp.ToolChoice == "" {
		resp.ToolChoice = "auto"
	}
	return resp.Tools, resp.ToolChoice, nil
}

func (c *Client) fetch(ctx context.Context, method, path string, body []byte, out any) error {
	var lastErr error
	for attempt := 0; attempt < maxFetchAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(reliability.ExponentialBackoff(attempt-1, backoffBase, backoffCap)):
			}
		}

		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrBootstrap, err)
		}
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.client.Do(req)
		if err != nil {
			lastErr = err
			continue
		}
		data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		resp.Body.Close()
		if err != nil {
			lastErr = err
			continue
		}
		if resp.StatusCode != http.StatusOK {
			lastErr = fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
			if reliability.IsRetryableHTTPStatus(resp.StatusCode) {
				continue
			}
			return fmt.Errorf("%w: %s %s: %v", ErrBootstrap, method, path, lastErr)
		}
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("%w: decode %s response: %v", ErrBootstrap, path, err)
		}
		return nil
	}
	return fmt.Errorf("%w: %s %s after %d attempts: %v", ErrBootstrap, method, path, maxFetchAttempts, lastErr)
}

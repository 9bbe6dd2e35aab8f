package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/samelhousseini/gpt-realtime-agents/internal/reliability"
)

const defaultExecuteTimeout = 15 * time.Second

// ExecError is returned when the executor endpoint rejects a call.
// Retryable mirrors the HTTP status classification; the orchestrator never
// retries, but callers with idempotent tools can.
type ExecError struct {
	Status    int
	Body      string
	Retryable bool
}

func (e *ExecError) Error() string {
	return fmt.Sprintf("executor returned %d: %s", e.Status, e.Body)
}

// HTTPExecutor bridges tool calls to the collaborator backend's
// function-call endpoint.
type HTTPExecutor struct {
	baseURL string
	client  *http.Client
}

func NewHTTPExecutor(baseURL string, client *http.Client) *HTTPExecutor {
	if client == nil {
		client = &http.Client{Timeout: defaultExecuteTimeout}
	}
	return &HTTPExecutor{baseURL: strings.TrimRight(baseURL, "/"), client: client}
}

type executeRequest struct {
	Name      string `json:"name"`
	CallID    string `json:"call_id"`
	Arguments string `json:"arguments"`
}

type executeResponse struct {
	CallID string          `json:"call_id"`
	Output json.RawMessage `json:"output"`
}

// Execute posts one call and returns the executor's JSON output verbatim.
func (e *HTTPExecutor) Execute(ctx context.Context, name, callID, arguments string) (string, error) {
	body, err := json.Marshal(executeRequest{Name: name, CallID: callID, Arguments: arguments})
	if err != nil {
		return "", fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/api/function-call", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("call executor: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read executor response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", &ExecError{
			Status:    resp.StatusCode,
			Body:      strings.TrimSpace(string(data)),
			Retryable: reliability.IsRetryableHTTPStatus(resp.StatusCode),
		}
	}

	var decoded executeResponse
	if err := json.Unmarshal(data, &decoded); err != nil {
		return "", fmt.Errorf("decode executor response: %w", err)
	}
	if decoded.CallID != "" && decoded.CallID != callID {
		return "", fmt.Errorf("executor answered for call %s, want %s", decoded.CallID, callID)
	}
	if len(decoded.Output) == 0 {
		return "{}", nil
	}
	return string(decoded.Output), nil
}

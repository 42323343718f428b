package comfy

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

	contracts "comfyrelay/internal/contracts/comfy"
)

// Client talks to the execution server.
type Client interface {
	Ping(ctx context.Context) error
	QueuePrompt(ctx context.Context, workflow map[string]any) (string, error)
	// History returns the entry for promptID; ok is false while the server
	// has no entry yet or answers with a non-200 status.
	History(ctx context.Context, promptID string) (entry contracts.HistoryEntry, ok bool, err error)
}

// StatusError is returned when the server answers with an unexpected status.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("comfy http %d: %s", e.StatusCode, e.Body)
}

type HTTPClient struct {
	baseURL       string
	client        *http.Client
	healthTimeout time.Duration
}

func NewHTTPClient(baseURL string, healthTimeout time.Duration) *HTTPClient {
	if healthTimeout <= 0 {
		healthTimeout = 2 * time.Second
	}
	return &HTTPClient{
		baseURL:       strings.TrimRight(baseURL, "/"),
		client:        &http.Client{Timeout: 60 * time.Second},
		healthTimeout: healthTimeout,
	}
}

// Ping requests GET / with the short health timeout. Any response counts as
// reachable.
func (c *HTTPClient) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.healthTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/", nil)
	if err != nil {
		return err
	}
	res, err := c.client.Do(req)
	if err != nil {
		return err
	}
	_, _ = io.Copy(io.Discard, res.Body)
	return res.Body.Close()
}

func (c *HTTPClient) QueuePrompt(ctx context.Context, workflow map[string]any) (string, error) {
	body, err := json.Marshal(contracts.PromptRequest{Prompt: workflow})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/prompt", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := c.client.Do(req)
	if err != nil {
		return "", err
	}
	defer res.Body.Close()

	raw, err := io.ReadAll(res.Body)
	if err != nil {
		return "", err
	}
	if res.StatusCode != http.StatusOK {
		return "", &StatusError{StatusCode: res.StatusCode, Body: string(raw)}
	}

	var out contracts.PromptResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("decode prompt response: %w", err)
	}
	if out.PromptID == "" {
		return "", fmt.Errorf("prompt response has no prompt_id: %s", string(raw))
	}
	return out.PromptID, nil
}

func (c *HTTPClient) History(ctx context.Context, promptID string) (contracts.HistoryEntry, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/history/"+url.PathEscape(promptID), nil)
	if err != nil {
		return contracts.HistoryEntry{}, false, err
	}

	res, err := c.client.Do(req)
	if err != nil {
		return contracts.HistoryEntry{}, false, err
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, res.Body)
		return contracts.HistoryEntry{}, false, nil
	}

	var history contracts.History
	if err := json.NewDecoder(res.Body).Decode(&history); err != nil {
		return contracts.HistoryEntry{}, false, fmt.Errorf("decode history: %w", err)
	}

	entry, ok := history[promptID]
	return entry, ok, nil
}

package comfy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// DefaultTimeout bounds every individual worker call. Retrying is the
// poller's job; the client never retries internally so backoff stays at a
// single layer.
const DefaultTimeout = 30 * time.Second

// Client implements the three-call job protocol against ComfyUI workers:
// submit a prompt, fetch job history, fetch an output image.
type Client struct {
	httpClient *http.Client
}

// NewClient creates a client with the given per-request timeout. A zero
// timeout falls back to DefaultTimeout.
func NewClient(timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Submit posts a job payload to the worker and returns the worker-issued
// job id. A response without a prompt_id is a hard SubmitError, never a
// silent fallback.
func (c *Client) Submit(ctx context.Context, workerURL string, payload JobPayload) (string, error) {
	body, err := json.Marshal(map[string]any{"prompt": payload})
	if err != nil {
		return "", &SubmitError{Worker: workerURL, Reason: "failed to marshal payload", Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, workerURL+"/prompt", bytes.NewReader(body))
	if err != nil {
		return "", &SubmitError{Worker: workerURL, Reason: "failed to create request", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", &SubmitError{Worker: workerURL, Reason: "worker unreachable", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return "", &SubmitError{
			Worker: workerURL,
			Reason: fmt.Sprintf("status %d: %s", resp.StatusCode, string(respBody)),
		}
	}

	var result struct {
		PromptID string `json:"prompt_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", &SubmitError{Worker: workerURL, Reason: "invalid JSON response", Err: err}
	}
	if result.PromptID == "" {
		return "", &SubmitError{Worker: workerURL, Reason: "response missing prompt_id"}
	}

	return result.PromptID, nil
}

// History fetches the job record by id. A record without an outputs
// section means the job is still running; callers poll again.
func (c *Client) History(ctx context.Context, workerURL, jobID string) (*HistoryEntry, error) {
	histURL := fmt.Sprintf("%s/history/%s", workerURL, jobID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, histURL, nil)
	if err != nil {
		return nil, &HTTPError{Op: "history", URL: histURL, Err: err}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &HTTPError{Op: "history", URL: histURL, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &HTTPError{Op: "history", URL: histURL, StatusCode: resp.StatusCode}
	}

	// The worker keys the response by job id.
	var history map[string]HistoryEntry
	if err := json.NewDecoder(resp.Body).Decode(&history); err != nil {
		return nil, &HTTPError{Op: "history", URL: histURL, Err: err}
	}

	entry, ok := history[jobID]
	if !ok {
		return &HistoryEntry{}, nil
	}
	return &entry, nil
}

// FetchImage downloads one output blob referenced by a history entry.
func (c *Client) FetchImage(ctx context.Context, workerURL string, ref ImageRef) ([]byte, error) {
	params := url.Values{}
	params.Set("filename", ref.Filename)
	params.Set("subfolder", ref.Subfolder)
	params.Set("type", ref.Type)
	viewURL := workerURL + "/view?" + params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, viewURL, nil)
	if err != nil {
		return nil, &HTTPError{Op: "view", URL: viewURL, Err: err}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &HTTPError{Op: "view", URL: viewURL, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &HTTPError{Op: "view", URL: viewURL, StatusCode: resp.StatusCode}
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &HTTPError{Op: "view", URL: viewURL, Err: err}
	}
	return data, nil
}

// CheckHealth probes the worker's stats endpoint. A 200 means the worker
// can accept jobs.
func (c *Client) CheckHealth(ctx context.Context, workerURL string) error {
	statsURL := workerURL + "/system_stats"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, statsURL, nil)
	if err != nil {
		return &HTTPError{Op: "health", URL: statsURL, Err: err}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &HTTPError{Op: "health", URL: statsURL, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &HTTPError{Op: "health", URL: statsURL, StatusCode: resp.StatusCode}
	}
	return nil
}

package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

const defaultQueueBaseURL = "https://queue.fal.run"

var (
	// ErrMissingInput is returned before any remote call when a required
	// payload field is empty.
	ErrMissingInput = errors.New("inference: required input missing")

	// ErrJobFailed marks a terminal upstream failure. One submission yields
	// one outcome; resubmission is always a caller decision.
	ErrJobFailed = errors.New("inference: job failed")
)

// Client talks to the asynchronous generation queue API: submit a named job,
// poll its status while collecting progress log lines, then fetch the result.
type Client struct {
	httpClient   *http.Client
	baseURL      string
	apiKey       string
	pollInterval time.Duration
}

// NewClientFromEnv constructs a Client from INFERENCE_* environment
// variables. INFERENCE_API_KEY (or FAL_KEY) is required.
func NewClientFromEnv() (*Client, error) {
	apiKey := strings.TrimSpace(firstNonEmpty(
		os.Getenv("INFERENCE_API_KEY"),
		os.Getenv("FAL_KEY"),
	))
	if apiKey == "" {
		return nil, errors.New("inference: INFERENCE_API_KEY environment variable is required")
	}

	baseURL := strings.TrimSpace(os.Getenv("INFERENCE_BASE_URL"))
	if baseURL == "" {
		baseURL = defaultQueueBaseURL
	}
	baseURL = strings.TrimRight(baseURL, "/")
	if !strings.HasPrefix(baseURL, "http://") && !strings.HasPrefix(baseURL, "https://") {
		return nil, fmt.Errorf("inference: invalid base URL %q", baseURL)
	}

	pollInterval := 2 * time.Second
	if raw := strings.TrimSpace(os.Getenv("INFERENCE_POLL_INTERVAL")); raw != "" {
		if parsed, err := time.ParseDuration(raw); err == nil && parsed > 0 {
			pollInterval = parsed
		}
	}

	return &Client{
		httpClient:   &http.Client{Timeout: 60 * time.Second},
		baseURL:      baseURL,
		apiKey:       apiKey,
		pollInterval: pollInterval,
	}, nil
}

// NewClient builds a client against an explicit endpoint. Mainly useful for
// tests.
func NewClient(httpClient *http.Client, baseURL, apiKey string, pollInterval time.Duration) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}
	return &Client{
		httpClient:   httpClient,
		baseURL:      strings.TrimRight(baseURL, "/"),
		apiKey:       apiKey,
		pollInterval: pollInterval,
	}
}

// Submit validates that every required payload field is present and non-empty,
// then enqueues the job. Validation failures are reported with ErrMissingInput
// before any network traffic happens.
func (c *Client) Submit(ctx context.Context, model string, payload map[string]any, required ...string) (*Job, error) {
	if c == nil {
		return nil, errors.New("inference: client is nil")
	}
	model = strings.TrimSpace(model)
	if model == "" {
		return nil, fmt.Errorf("%w: model", ErrMissingInput)
	}
	for _, field := range required {
		if emptyPayloadValue(payload[field]) {
			return nil, fmt.Errorf("%w: %s", ErrMissingInput, field)
		}
	}

	body := &bytes.Buffer{}
	if err := json.NewEncoder(body).Encode(payload); err != nil {
		return nil, fmt.Errorf("inference: encode payload: %w", err)
	}

	endpoint := c.baseURL + "/" + strings.TrimPrefix(model, "/")
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("inference: build submit request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Key "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("inference: submit %s: %w", model, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("inference: submit %s: %s: %s", model, resp.Status, readSnippet(resp.Body))
	}

	var job Job
	if err := json.NewDecoder(resp.Body).Decode(&job); err != nil {
		return nil, fmt.Errorf("inference: decode submit response: %w", err)
	}
	if job.RequestID == "" {
		return nil, errors.New("inference: submit response contains no request id")
	}
	job.Model = model
	if job.StatusURL == "" {
		job.StatusURL = fmt.Sprintf("%s/%s/requests/%s/status", c.baseURL, model, job.RequestID)
	}
	if job.ResponseURL == "" {
		job.ResponseURL = fmt.Sprintf("%s/%s/requests/%s", c.baseURL, model, job.RequestID)
	}

	return &job, nil
}

// Await polls the job until it reaches a terminal state. While in progress it
// scans each new batch of log lines for a percentage figure and reports the
// last parsed value through onProgress; the figures are best-effort and may
// repeat or regress. On completion the result payload is fetched and
// returned; a terminal upstream failure surfaces as ErrJobFailed.
func (c *Client) Await(ctx context.Context, job *Job, onProgress func(int)) (Result, error) {
	if c == nil {
		return nil, errors.New("inference: client is nil")
	}
	if job == nil || job.StatusURL == "" {
		return nil, errors.New("inference: job handle is empty")
	}

	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	seenLogs := 0
	for {
		status, err := c.fetchStatus(ctx, job)
		if err != nil {
			return nil, err
		}

		if len(status.Logs) > seenLogs {
			batch := make([]string, 0, len(status.Logs)-seenLogs)
			for _, line := range status.Logs[seenLogs:] {
				batch = append(batch, line.Message)
			}
			seenLogs = len(status.Logs)
			if percent, ok := percentFromLogs(batch); ok && onProgress != nil {
				onProgress(percent)
			}
		}

		switch strings.ToUpper(strings.TrimSpace(status.Status)) {
		case "COMPLETED", "OK":
			return c.fetchResult(ctx, job)
		case "FAILED", "ERROR", "CANCELLED":
			detail := strings.TrimSpace(status.Error)
			if detail == "" {
				detail = strings.ToLower(status.Status)
			}
			return nil, fmt.Errorf("%w: %s", ErrJobFailed, detail)
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("inference: await %s: %w", job.RequestID, ctx.Err())
		case <-ticker.C:
		}
	}
}

func (c *Client) fetchStatus(ctx context.Context, job *Job) (*statusResponse, error) {
	endpoint := job.StatusURL
	if strings.Contains(endpoint, "?") {
		endpoint += "&logs=1"
	} else {
		endpoint += "?logs=1"
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("inference: build status request: %w", err)
	}
	req.Header.Set("Authorization", "Key "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("inference: poll %s: %w", job.RequestID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("inference: poll %s: %s: %s", job.RequestID, resp.Status, readSnippet(resp.Body))
	}

	var status statusResponse
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return nil, fmt.Errorf("inference: decode status response: %w", err)
	}
	return &status, nil
}

func (c *Client) fetchResult(ctx context.Context, job *Job) (Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, job.ResponseURL, nil)
	if err != nil {
		return nil, fmt.Errorf("inference: build result request: %w", err)
	}
	req.Header.Set("Authorization", "Key "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("inference: fetch result %s: %w", job.RequestID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: %s: %s", ErrJobFailed, resp.Status, readSnippet(resp.Body))
	}

	var result Result
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("inference: decode result: %w", err)
	}
	return result, nil
}

func emptyPayloadValue(value any) bool {
	switch v := value.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(v) == ""
	default:
		return false
	}
}

func readSnippet(body io.Reader) string {
	snippet, _ := io.ReadAll(io.LimitReader(body, 4<<10))
	return strings.TrimSpace(string(snippet))
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}

package inference

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubmitRejectsMissingInputBeforeAnyRequest(t *testing.T) {
	var hits atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := NewClient(server.Client(), server.URL, "test-key", 5*time.Millisecond)

	payload := map[string]any{"prompt": "  ", "image_url": "https://cdn.example.com/a.png"}
	job, err := client.Submit(context.Background(), "fal-ai/minimax/video-01-live", payload, "prompt", "image_url")

	assert.Nil(t, job)
	assert.ErrorIs(t, err, ErrMissingInput)
	assert.Contains(t, err.Error(), "prompt")
	assert.EqualValues(t, 0, hits.Load())
}

func TestSubmitRejectsMissingModel(t *testing.T) {
	client := NewClient(nil, "http://unused.invalid", "test-key", 5*time.Millisecond)

	_, err := client.Submit(context.Background(), "  ", map[string]any{"prompt": "x"}, "prompt")
	assert.ErrorIs(t, err, ErrMissingInput)
}

func TestSubmitAndAwaitHappyPath(t *testing.T) {
	const model = "fal-ai/minimax/video-01-live"
	var statusCalls atomic.Int64

	mux := http.NewServeMux()
	mux.HandleFunc("POST /"+model, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Key test-key", r.Header.Get("Authorization"))

		var payload map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		assert.Equal(t, "a cat on a skateboard", payload["prompt"])

		json.NewEncoder(w).Encode(map[string]any{"request_id": "req-123"})
	})
	mux.HandleFunc("GET /"+model+"/requests/req-123/status", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "1", r.URL.Query().Get("logs"))

		if statusCalls.Add(1) == 1 {
			json.NewEncoder(w).Encode(map[string]any{
				"status": "IN_PROGRESS",
				"logs": []map[string]string{
					{"message": "rendering frames"},
					{"message": "progress: 42%"},
				},
			})
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"status": "COMPLETED",
			"logs": []map[string]string{
				{"message": "rendering frames"},
				{"message": "progress: 42%"},
				{"message": "progress: 100%"},
			},
		})
	})
	mux.HandleFunc("GET /"+model+"/requests/req-123", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"video": map[string]any{"url": "https://media.example.com/out.mp4"},
		})
	})

	server := httptest.NewServer(mux)
	defer server.Close()

	client := NewClient(server.Client(), server.URL, "test-key", 5*time.Millisecond)

	job, err := client.Submit(context.Background(), model, map[string]any{"prompt": "a cat on a skateboard"}, "prompt")
	require.NoError(t, err)
	assert.Equal(t, "req-123", job.RequestID)
	assert.True(t, strings.HasPrefix(job.StatusURL, server.URL))

	var seen []int
	result, err := client.Await(context.Background(), job, func(percent int) {
		seen = append(seen, percent)
	})
	require.NoError(t, err)
	assert.Equal(t, "https://media.example.com/out.mp4", result.VideoURL())
	assert.Equal(t, []int{42, 100}, seen)
}

func TestAwaitSurfacesJobFailure(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /status", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"status": "FAILED", "error": "model exploded"})
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	client := NewClient(server.Client(), server.URL, "test-key", 5*time.Millisecond)
	job := &Job{RequestID: "req-9", StatusURL: server.URL + "/status", ResponseURL: server.URL + "/result"}

	_, err := client.Await(context.Background(), job, nil)
	assert.ErrorIs(t, err, ErrJobFailed)
	assert.Contains(t, err.Error(), "model exploded")
}

func TestAwaitStopsOnContextCancel(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /status", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"status": "IN_QUEUE"})
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	client := NewClient(server.Client(), server.URL, "test-key", 5*time.Millisecond)
	job := &Job{RequestID: "req-9", StatusURL: server.URL + "/status", ResponseURL: server.URL + "/result"}

	_, err := client.Await(ctx, job, nil)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

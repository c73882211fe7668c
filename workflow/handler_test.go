package workflow

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"mediagen_back/generations"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestModule(t *testing.T, runner *fakeRunner) (*gin.Engine, *Module) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	router := gin.New()
	module, err := RegisterRoutes(router, newFakeAssets(), runner, nil, &fakeRecords{}, nil)
	require.NoError(t, err)
	return router, module
}

func TestRunRejectsMissingInputsBeforeStreaming(t *testing.T) {
	runner := &fakeRunner{}
	router, module := newTestModule(t, runner)
	session := module.NewSession(mustType(t, generations.TypeBroll))

	recorder := httptest.NewRecorder()
	request := httptest.NewRequest(http.MethodPost, "/generate/broll/sessions/"+session.ID+"/run", nil)
	router.ServeHTTP(recorder, request)

	assert.Equal(t, http.StatusBadRequest, recorder.Code)
	assert.Contains(t, recorder.Header().Get("Content-Type"), "application/json")
	assert.Contains(t, recorder.Body.String(), "missing inputs")
	assert.Equal(t, 0, runner.submitCount())
}

func TestRunWhileBusyRespondsConflict(t *testing.T) {
	runner := &fakeRunner{
		result: videoResult("https://inference.example.com/tmp/out.mp4"),
		block:  make(chan struct{}),
	}
	router, module := newTestModule(t, runner)
	session := module.NewSession(mustType(t, generations.TypeBroll))
	setInputs(t, session, "Demo", "fal-ai/minimax/video-01-live", "a cat")

	done := make(chan error, 1)
	go func() { done <- session.Generate(context.Background(), nil) }()
	require.Eventually(t, func() bool {
		return session.Snapshot().State == StateInProgress
	}, 2*time.Second, 5*time.Millisecond)

	recorder := httptest.NewRecorder()
	request := httptest.NewRequest(http.MethodPost, "/generate/broll/sessions/"+session.ID+"/run", nil)
	router.ServeHTTP(recorder, request)

	assert.Equal(t, http.StatusConflict, recorder.Code)
	assert.Contains(t, recorder.Header().Get("Content-Type"), "application/json")

	close(runner.block)
	require.NoError(t, <-done)
}

func TestRunStreamsProgressAndCompletion(t *testing.T) {
	runner := &fakeRunner{
		result:   videoResult("https://inference.example.com/tmp/out.mp4"),
		progress: []int{40},
	}
	router, module := newTestModule(t, runner)
	session := module.NewSession(mustType(t, generations.TypeBroll))
	setInputs(t, session, "Demo", "fal-ai/minimax/video-01-live", "a cat")

	recorder := httptest.NewRecorder()
	request := httptest.NewRequest(http.MethodPost, "/generate/broll/sessions/"+session.ID+"/run", nil)
	router.ServeHTTP(recorder, request)

	assert.Equal(t, http.StatusOK, recorder.Code)
	assert.Equal(t, "text/event-stream", recorder.Header().Get("Content-Type"))
	body := recorder.Body.String()
	assert.True(t, strings.Contains(body, "event: completed"))
	assert.Contains(t, body, "https://inference.example.com/tmp/out.mp4")
	assert.Equal(t, StateCompleted, session.Snapshot().State)
}

func TestRunUnknownSession(t *testing.T) {
	router, _ := newTestModule(t, &fakeRunner{})

	recorder := httptest.NewRecorder()
	request := httptest.NewRequest(http.MethodPost, "/generate/broll/sessions/nope/run", nil)
	router.ServeHTTP(recorder, request)

	assert.Equal(t, http.StatusNotFound, recorder.Code)
}

package workflow

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"

	"mediagen_back/authorization"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// Module owns the generation sessions and their HTTP surface.
type Module struct {
	assets   AssetStore
	runner   JobRunner
	keywords Keyworder
	records  RecordStore
	fetch    *http.Client

	mu       sync.Mutex
	sessions map[string]*Session
}

// RegisterRoutes mounts the workflow endpoints under /generate. guard may be
// nil, in which case the surface is open.
func RegisterRoutes(router *gin.Engine, assets AssetStore, runner JobRunner, keywords Keyworder, records RecordStore, guard *authorization.Guard) (*Module, error) {
	if assets == nil {
		return nil, errors.New("workflow: asset store is required")
	}
	if runner == nil {
		return nil, errors.New("workflow: job runner is required")
	}
	if records == nil {
		return nil, errors.New("workflow: record store is required")
	}

	module := &Module{
		assets:   assets,
		runner:   runner,
		keywords: keywords,
		records:  records,
		sessions: make(map[string]*Session),
	}

	group := router.Group("/generate")
	if guard != nil {
		group.Use(guard.RequireAuthenticated())
	}
	group.GET("", module.handleTypes)
	typed := group.Group("/:type")
	typed.POST("", module.handleCreateSession)
	typed.GET("/models", module.handleModels)

	scoped := typed.Group("/sessions/:session")
	scoped.GET("", module.handleStatus)
	scoped.PUT("/inputs", module.handleSetInputs)
	scoped.POST("/assets", module.handleAttachAsset)
	scoped.POST("/run", module.handleRun)
	scoped.POST("/save", module.handleSave)
	scoped.GET("/download", module.handleDownload)
	scoped.DELETE("", module.handleClose)

	return module, nil
}

// NewSession creates and registers a session for the given media type.
func (m *Module) NewSession(mediaType *MediaType) *Session {
	session := NewSession(uuid.NewString(), mediaType, m.assets, m.runner, m.keywords, m.records, m.fetch)

	m.mu.Lock()
	m.sessions[session.ID] = session
	m.mu.Unlock()
	return session
}

func (m *Module) lookup(id string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	session, ok := m.sessions[id]
	return session, ok
}

func (m *Module) handleTypes(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"types": TypeNames()})
}

func (m *Module) mediaTypeFromPath(c *gin.Context) (*MediaType, bool) {
	mediaType, ok := LookupType(strings.TrimSpace(c.Param("type")))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown media type"})
		return nil, false
	}
	return mediaType, true
}

func (m *Module) sessionFromPath(c *gin.Context) (*Session, bool) {
	mediaType, ok := m.mediaTypeFromPath(c)
	if !ok {
		return nil, false
	}
	session, ok := m.lookup(strings.TrimSpace(c.Param("session")))
	if !ok || session.MediaType != mediaType {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown session"})
		return nil, false
	}
	return session, true
}

func (m *Module) handleCreateSession(c *gin.Context) {
	mediaType, ok := m.mediaTypeFromPath(c)
	if !ok {
		return
	}
	session := m.NewSession(mediaType)
	c.JSON(http.StatusCreated, session.Snapshot())
}

func (m *Module) handleModels(c *gin.Context) {
	mediaType, ok := m.mediaTypeFromPath(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"type":   mediaType.Name,
		"models": mediaType.Models,
	})
}

func (m *Module) handleStatus(c *gin.Context) {
	session, ok := m.sessionFromPath(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, session.Snapshot())
}

func (m *Module) handleSetInputs(c *gin.Context) {
	session, ok := m.sessionFromPath(c)
	if !ok {
		return
	}

	var patch InputPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request payload"})
		return
	}
	if err := session.SetInputs(patch); err != nil {
		c.JSON(statusForError(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, session.Snapshot())
}

func (m *Module) handleAttachAsset(c *gin.Context) {
	session, ok := m.sessionFromPath(c)
	if !ok {
		return
	}

	fieldName := strings.TrimSpace(c.PostForm("field"))
	if fieldName == "" && len(session.MediaType.AssetFields) == 1 {
		fieldName = session.MediaType.AssetFields[0].Name
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file is required"})
		return
	}

	url, err := session.AttachAsset(c.Request.Context(), fieldName, fileHeader)
	if err != nil {
		c.JSON(statusForError(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"field": fieldName, "url": url})
}

func (m *Module) handleRun(c *gin.Context) {
	session, ok := m.sessionFromPath(c)
	if !ok {
		return
	}

	// Reject what can be rejected with a proper status code before the
	// response commits to an event stream.
	if err := session.CheckRunnable(); err != nil {
		c.JSON(statusForError(err), gin.H{"error": err.Error()})
		return
	}

	flusher, canFlush := c.Writer.(http.Flusher)
	if !canFlush {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "streaming unsupported"})
		return
	}

	progress := make(chan int, 8)
	done := make(chan error, 1)

	// The run continues server-side even if the client goes away; the
	// session status endpoint reports the outcome after a reconnect.
	go func() {
		done <- session.Generate(context.WithoutCancel(c.Request.Context()), func(percent int) {
			select {
			case progress <- percent:
			default:
			}
		})
	}()

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.WriteHeader(http.StatusOK)
	flusher.Flush()

	clientGone := c.Request.Context().Done()
	for {
		select {
		case <-clientGone:
			return
		case percent := <-progress:
			if err := streamEvent(c.Writer, flusher, "progress", gin.H{"percent": percent}); err != nil {
				return
			}
		case err := <-done:
			if err != nil {
				streamEvent(c.Writer, flusher, "failed", gin.H{"error": err.Error()})
				return
			}
			status := session.Snapshot()
			streamEvent(c.Writer, flusher, "completed", gin.H{
				"job_id":     status.JobID,
				"output_url": status.OutputURL,
			})
			return
		}
	}
}

func (m *Module) handleSave(c *gin.Context) {
	session, ok := m.sessionFromPath(c)
	if !ok {
		return
	}

	record, err := session.Save(c.Request.Context())
	if err != nil {
		c.JSON(statusForError(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"record": record})
}

func (m *Module) handleDownload(c *gin.Context) {
	session, ok := m.sessionFromPath(c)
	if !ok {
		return
	}

	if err := session.Download(c.Request.Context(), c.Writer); err != nil {
		if errors.Is(err, ErrNoResult) {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		if !c.Writer.Written() {
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		}
	}
}

func (m *Module) handleClose(c *gin.Context) {
	session, ok := m.sessionFromPath(c)
	if !ok {
		return
	}

	m.mu.Lock()
	delete(m.sessions, session.ID)
	m.mu.Unlock()

	session.Close(c.Request.Context())
	c.Status(http.StatusNoContent)
}

func statusForError(err error) int {
	var missing *MissingInputError
	switch {
	case errors.Is(err, ErrBusy):
		return http.StatusConflict
	case errors.Is(err, ErrNoResult):
		return http.StatusConflict
	case errors.Is(err, ErrClosed):
		return http.StatusGone
	case errors.As(err, &missing):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

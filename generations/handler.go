package generations

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"mediagen_back/authorization"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"gorm.io/gorm"
)

// URLSigner resolves stored asset URLs to temporary signed ones so records in
// non-public buckets stay fetchable.
type URLSigner interface {
	Owns(assetURL string) bool
	PresignedURL(ctx context.Context, raw string, expiry time.Duration) (string, error)
}

const detailURLExpiry = 15 * time.Minute

// Module exposes the record browser surface: filtered listing, project name
// derivation, live snapshot streams and the detail lookup.
type Module struct {
	store  *Store
	signer URLSigner
}

var feedUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 8 * 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// RegisterRoutes mounts the browse endpoints under /generations. signer and
// guard may be nil; without a signer detail responses carry the stored URL
// as-is, without a guard the surface is open.
func RegisterRoutes(router *gin.Engine, store *Store, signer URLSigner, guard *authorization.Guard) (*Module, error) {
	if store == nil {
		return nil, errors.New("generations: store is required")
	}

	module := &Module{store: store, signer: signer}

	group := router.Group("/generations")
	if guard != nil {
		group.Use(guard.RequireAuthenticated())
	}
	group.GET("", module.handleList)
	group.GET("/projects", module.handleProjects)
	group.GET("/stream", module.handleStream)
	group.GET("/ws", module.handleSocket)
	group.GET("/detail/:type/:id", module.handleDetail)

	return module, nil
}

func (m *Module) handleList(c *gin.Context) {
	recordType := strings.TrimSpace(c.Query("type"))
	snapshot, err := m.store.Snapshot(c.Request.Context(), recordType)
	if err != nil {
		if errors.Is(err, ErrUnknownType) {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("unknown generation type %q", recordType)})
			return
		}
		log.Printf("generations: list failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load generations"})
		return
	}

	filtered := Filter(snapshot, c.Query("project"), c.Query("search"))
	c.JSON(http.StatusOK, gin.H{
		"generations": filtered,
		"projects":    ProjectNames(snapshot),
	})
}

func (m *Module) handleProjects(c *gin.Context) {
	recordType := strings.TrimSpace(c.Query("type"))
	snapshot, err := m.store.Snapshot(c.Request.Context(), recordType)
	if err != nil {
		if errors.Is(err, ErrUnknownType) {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("unknown generation type %q", recordType)})
			return
		}
		log.Printf("generations: load projects failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load projects"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"projects": ProjectNames(snapshot)})
}

func (m *Module) handleDetail(c *gin.Context) {
	recordType := strings.TrimSpace(c.Param("type"))
	if !KnownType(recordType) {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("unknown generation type %q", recordType)})
		return
	}

	docID, err := strconv.ParseUint(strings.TrimSpace(c.Param("id")), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid generation id"})
		return
	}

	record, err := m.store.GetByID(c.Request.Context(), uint(docID))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "generation not found"})
			return
		}
		log.Printf("generations: load detail failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load generation"})
		return
	}
	if record.Type != recordType {
		c.JSON(http.StatusNotFound, gin.H{"error": "generation not found"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"generation":   record,
		"download_url": m.downloadURL(c.Request.Context(), record.OutputURL),
	})
}

// downloadURL swaps a store-owned output URL for a temporary signed one.
// Foreign URLs and signing failures fall back to the stored value.
func (m *Module) downloadURL(ctx context.Context, outputURL string) string {
	if m.signer == nil || !m.signer.Owns(outputURL) {
		return outputURL
	}
	signed, err := m.signer.PresignedURL(ctx, outputURL, detailURLExpiry)
	if err != nil || signed == "" {
		log.Printf("generations: presign %s failed: %v", outputURL, err)
		return outputURL
	}
	return signed
}

// handleStream pushes full snapshots as Server-Sent Events until the client
// disconnects. The subscription is cancelled on teardown so the live feed is
// released.
func (m *Module) handleStream(c *gin.Context) {
	recordType := strings.TrimSpace(c.Query("type"))

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "streaming unsupported"})
		return
	}

	sub, err := m.store.Subscribe(c.Request.Context(), recordType)
	if err != nil {
		if errors.Is(err, ErrUnknownType) {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("unknown generation type %q", recordType)})
			return
		}
		log.Printf("generations: subscribe failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to open stream"})
		return
	}
	defer sub.Cancel()

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.WriteHeader(http.StatusOK)
	flusher.Flush()

	for snapshot := range sub.C {
		if err := streamEvent(c.Writer, flusher, "snapshot", gin.H{
			"generations": snapshot,
			"projects":    ProjectNames(snapshot),
		}); err != nil {
			return
		}
	}
}

// handleSocket serves the same live snapshot feed over a WebSocket.
func (m *Module) handleSocket(c *gin.Context) {
	recordType := strings.TrimSpace(c.Query("type"))
	if recordType != "" && !KnownType(recordType) {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("unknown generation type %q", recordType)})
		return
	}

	conn, err := feedUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("generations: websocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	sub, err := m.store.Subscribe(c.Request.Context(), recordType)
	if err != nil {
		_ = conn.WriteJSON(gin.H{"error": "failed to open stream"})
		return
	}
	defer sub.Cancel()

	// Drain client frames so closes are noticed promptly.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				sub.Cancel()
				return
			}
		}
	}()

	for snapshot := range sub.C {
		_ = conn.SetWriteDeadline(time.Now().Add(15 * time.Second))
		if err := conn.WriteJSON(gin.H{
			"generations": snapshot,
			"projects":    ProjectNames(snapshot),
		}); err != nil {
			return
		}
	}
}

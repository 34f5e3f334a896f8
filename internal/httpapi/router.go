// Package httpapi exposes the client-facing surface: reads against the
// apply target's current snapshot, writes appended to the leader's log,
// and a status endpoint backed by the event collector.
package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/cors"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "github.com/leifraft/leifraft/internal/httpapi/docs"
	"github.com/leifraft/leifraft/internal/raft"
)

// Store is the read/write surface the API needs from the node.
type Store interface {
	Get(key string) (string, bool)
}

// Submitter is the write path: appending a client command to the leader's
// own log. ErrNotLeader signals the caller should redirect instead.
type Submitter interface {
	SubmitSet(key, value string) error
	SubmitDelete(key string) error
	LeaderAddr() (string, bool)
}

// StatusSource feeds GET /v1/status.
type StatusSource interface {
	CurrentRole() string
	CurrentTerm() raft.TermIndex
	CommitIndex() raft.LogIndex
	RecentSnapshots() []StatusSnapshot
}

// StatusSnapshot is one collector entry rendered for the status endpoint.
type StatusSnapshot struct {
	Role       string    `json:"role"`
	Term       int64     `json:"term"`
	ObservedAt time.Time `json:"observed_at"`
}

// NewRouter builds the gin engine, cors-wrapped and swagger-documented,
// with the four client routes this service exposes. The returned
// http.Handler is what cmd/leifraftd hands to http.Server.
func NewRouter(store Store, submitter Submitter, status StatusSource) http.Handler {
	r := gin.New()
	r.Use(gin.Recovery())

	h := &handlers{store: store, submitter: submitter, status: status}

	r.GET("/v1/keys/:key", h.getKey)
	r.PUT("/v1/keys/:key", h.putKey)
	r.DELETE("/v1/keys/:key", h.deleteKey)
	r.GET("/v1/status", h.statusHandler)
	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	corsMiddleware := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPut, http.MethodDelete},
	})
	return corsMiddleware.Handler(r)
}

type handlers struct {
	store     Store
	submitter Submitter
	status    StatusSource
}

// getKey godoc
// @Summary Read a key
// @Param key path string true "key"
// @Success 200 {object} map[string]string
// @Failure 404
// @Router /v1/keys/{key} [get]
func (h *handlers) getKey(c *gin.Context) {
	key := c.Param("key")
	value, ok := h.store.Get(key)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "key not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"key": key, "value": value})
}

// putKey godoc
// @Summary Set a key
// @Param key path string true "key"
// @Success 200
// @Failure 303
// @Router /v1/keys/{key} [put]
func (h *handlers) putKey(c *gin.Context) {
	key := c.Param("key")
	var body struct {
		Value string `json:"value"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.submitter.SubmitSet(key, body.Value); err != nil {
		h.handleSubmitErr(c, err)
		return
	}
	c.Status(http.StatusOK)
}

// deleteKey godoc
// @Summary Delete a key
// @Param key path string true "key"
// @Success 200
// @Failure 303
// @Router /v1/keys/{key} [delete]
func (h *handlers) deleteKey(c *gin.Context) {
	key := c.Param("key")
	if err := h.submitter.SubmitDelete(key); err != nil {
		h.handleSubmitErr(c, err)
		return
	}
	c.Status(http.StatusOK)
}

func (h *handlers) handleSubmitErr(c *gin.Context, err error) {
	if err == ErrNotLeader {
		if addr, ok := h.submitter.LeaderAddr(); ok {
			c.Redirect(http.StatusSeeOther, "http://"+addr+c.Request.URL.Path)
			return
		}
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "no known leader"})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}

// status godoc
// @Summary Cluster status
// @Success 200
// @Router /v1/status [get]
func (h *handlers) statusHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"role":         h.status.CurrentRole(),
		"term":         h.status.CurrentTerm(),
		"commit_index": h.status.CommitIndex(),
		"recent":       h.status.RecentSnapshots(),
	})
}

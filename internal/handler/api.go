package handler

import (
	"errors"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"seedrelay/internal/dto"
	"seedrelay/internal/engine"
	"seedrelay/internal/store"
)

// API exposes the relay-to-puller control channel: list ready artifacts,
// claim one, confirm durable receipt. All state observation goes through
// the engine.
type API struct {
	engine *engine.Engine
}

// NewAPI wires the handlers to the engine.
func NewAPI(eng *engine.Engine) *API {
	return &API{engine: eng}
}

// Ready lists artifacts the puller may claim.
func (a *API) Ready(c *gin.Context) {
	ready, err := a.engine.ListReady()
	if err != nil {
		log.Printf("api: list ready: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	items := make([]dto.ReadyItem, 0, len(ready))
	for _, artifact := range ready {
		items = append(items, dto.ReadyItem{
			TaskID: artifact.TaskID,
			Name:   artifact.Name,
			Size:   artifact.SizeBytes,
		})
	}
	c.JSON(http.StatusOK, items)
}

// Claim reserves a ready artifact for the caller. A live reservation by
// another puller yields 409.
func (a *API) Claim(c *gin.Context) {
	var req dto.ClaimRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "task_id required"})
		return
	}

	info, err := a.engine.Claim(req.TaskID)
	if err != nil {
		respondStoreError(c, "claim", req.TaskID, err)
		return
	}
	c.JSON(http.StatusOK, dto.ClaimResponse{
		RelayEndpoint: info.RelayEndpoint,
		RelayPath:     info.RelayPath,
	})
}

// Confirm records durable receipt and reclaims relay storage.
func (a *API) Confirm(c *gin.Context) {
	var req dto.ClaimRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "task_id required"})
		return
	}

	if err := a.engine.Confirm(req.TaskID); err != nil {
		respondStoreError(c, "confirm", req.TaskID, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

func respondStoreError(c *gin.Context, op, taskID string, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	case errors.Is(err, store.ErrConflict), errors.Is(err, store.ErrInvalidTransition):
		c.JSON(http.StatusConflict, gin.H{"error": "conflict"})
	default:
		log.Printf("api: %s %s: %v", op, taskID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/linkdex/linkdex/internal/batch"
)

// StartBatchRequest is the batch creation payload.
type StartBatchRequest struct {
	URLs    []string      `json:"urls" binding:"required,min=1,max=500"`
	Options batch.Options `json:"options"`
}

// StartBatchHandler starts a batch import and returns its initial state.
func StartBatchHandler(manager *batch.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req StartBatchRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "Invalid batch request",
				"details": err.Error(),
			})
			return
		}

		state := manager.Start(req.URLs, req.Options)
		c.JSON(http.StatusAccepted, state)
	}
}

// GetBatchHandler returns the current state of a batch.
func GetBatchHandler(manager *batch.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		state := manager.GetState(c.Param("id"))
		if state == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "Batch not found"})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"batch": state,
			"stats": batch.ComputeStats(state.Items),
		})
	}
}

// CancelBatchHandler cancels a running batch.
func CancelBatchHandler(manager *batch.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !manager.Cancel(c.Param("id")) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Batch not found or not running"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"cancelled": true})
	}
}

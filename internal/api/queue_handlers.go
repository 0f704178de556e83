package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/linkdex/linkdex/internal/queue"
)

// QueueStatsHandler returns job counts grouped by status.
func QueueStatsHandler(q *queue.Queue) gin.HandlerFunc {
	return func(c *gin.Context) {
		stats, err := q.GetStats()
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to read queue stats"})
			return
		}
		c.JSON(http.StatusOK, stats)
	}
}

// GetJobHandler returns one job by id.
func GetJobHandler(q *queue.Queue) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := parseID(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid job ID"})
			return
		}
		job, err := q.Job(id)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to read job"})
			return
		}
		if job == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "Job not found"})
			return
		}
		c.JSON(http.StatusOK, job)
	}
}

// NodeJobsHandler lists all jobs for one node.
func NodeJobsHandler(q *queue.Queue) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := parseID(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid node ID"})
			return
		}
		jobs, err := q.JobsForNode(id)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to read jobs"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"jobs": jobs})
	}
}

// RetryFailedRequest optionally scopes a retry to one node.
type RetryFailedRequest struct {
	NodeID *uint `json:"node_id,omitempty"`
}

// RetryFailedHandler resets failed jobs to pending.
func RetryFailedHandler(q *queue.Queue) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req RetryFailedRequest
		if c.Request.ContentLength > 0 {
			if err := c.ShouldBindJSON(&req); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request format"})
				return
			}
		}
		n, err := q.RetryFailed(req.NodeID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retry jobs"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"retried": n})
	}
}

// CancelJobHandler deletes a still-pending job.
func CancelJobHandler(q *queue.Queue) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := parseID(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid job ID"})
			return
		}
		ok, err := q.Cancel(id)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to cancel job"})
			return
		}
		if !ok {
			c.JSON(http.StatusConflict, gin.H{"error": "Job is not pending"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"cancelled": true})
	}
}

// ClearCompletedHandler deletes completed jobs older than the cutoff.
func ClearCompletedHandler(q *queue.Queue) gin.HandlerFunc {
	return func(c *gin.Context) {
		olderThan := 24 * time.Hour
		if v := c.Query("older_than"); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid older_than duration"})
				return
			}
			olderThan = d
		}
		n, err := q.ClearCompleted(olderThan)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to clear jobs"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"cleared": n})
	}
}

func parseID(s string) (uint, error) {
	id, err := strconv.ParseUint(s, 10, 32)
	return uint(id), err
}

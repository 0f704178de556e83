package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/linkdex/linkdex/internal/db"
	"github.com/linkdex/linkdex/internal/logger"
	"github.com/linkdex/linkdex/internal/queue"
)

func newQueueRouter(t *testing.T) (*gin.Engine, *queue.Queue, *gorm.DB) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	conn := newTestDB(t)
	q := queue.New(conn, nil, logger.Nop(), queue.Config{})

	router := gin.New()
	router.GET("/queue/stats", QueueStatsHandler(q))
	router.GET("/queue/jobs/:id", GetJobHandler(q))
	router.GET("/nodes/:id/jobs", NodeJobsHandler(q))
	router.POST("/queue/retry-failed", RetryFailedHandler(q))
	router.DELETE("/queue/jobs/:id", CancelJobHandler(q))
	return router, q, conn
}

func deletePath(router *gin.Engine, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodDelete, path, nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func markFailed(t *testing.T, conn *gorm.DB, jobID uint) {
	t.Helper()
	require.NoError(t, conn.Model(&db.ProcessingJob{}).Where("id = ?", jobID).Updates(map[string]interface{}{
		"status":     db.JobFailed,
		"attempts":   3,
		"last_error": "boom",
	}).Error)
}

func TestQueueStatsHandler(t *testing.T) {
	router, q, _ := newQueueRouter(t)
	_, err := q.Enqueue(1, db.PhaseEnrichment, 0)
	require.NoError(t, err)

	w := getPath(router, "/queue/stats")
	require.Equal(t, http.StatusOK, w.Code)

	var stats queue.Stats
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &stats))
	assert.Equal(t, int64(1), stats.Pending)
}

func TestGetJobHandler(t *testing.T) {
	router, q, _ := newQueueRouter(t)
	job, err := q.Enqueue(5, db.PhaseEnrichment, 1)
	require.NoError(t, err)

	w := getPath(router, "/queue/jobs/"+strconv.Itoa(int(job.ID)))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"node_id":5`)

	assert.Equal(t, http.StatusNotFound, getPath(router, "/queue/jobs/999").Code)
	assert.Equal(t, http.StatusBadRequest, getPath(router, "/queue/jobs/xyz").Code)
}

func TestNodeJobsHandler(t *testing.T) {
	router, q, _ := newQueueRouter(t)
	_, err := q.EnqueueMany([]uint{7, 7, 8}, db.PhaseEnrichment, 0)
	require.NoError(t, err)

	w := getPath(router, "/nodes/7/jobs")
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Jobs []db.ProcessingJob `json:"jobs"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Len(t, resp.Jobs, 2)
}

func TestRetryFailedHandlerScopedToNode(t *testing.T) {
	router, q, conn := newQueueRouter(t)
	jobA, err := q.Enqueue(1, db.PhaseEnrichment, 0)
	require.NoError(t, err)
	jobB, err := q.Enqueue(2, db.PhaseEnrichment, 0)
	require.NoError(t, err)
	markFailed(t, conn, jobA.ID)
	markFailed(t, conn, jobB.ID)

	w := postJSON(t, router, "/queue/retry-failed", gin.H{"node_id": 1})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"retried":1`)

	loadedA, err := q.Job(jobA.ID)
	require.NoError(t, err)
	assert.Equal(t, db.JobPending, loadedA.Status)
	loadedB, err := q.Job(jobB.ID)
	require.NoError(t, err)
	assert.Equal(t, db.JobFailed, loadedB.Status)
}

func TestRetryFailedHandlerWithoutBodyRetriesAll(t *testing.T) {
	router, q, conn := newQueueRouter(t)
	job, err := q.Enqueue(1, db.PhaseEnrichment, 0)
	require.NoError(t, err)
	markFailed(t, conn, job.ID)

	req := httptest.NewRequest(http.MethodPost, "/queue/retry-failed", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"retried":1`)
}

func TestCancelJobHandler(t *testing.T) {
	router, q, _ := newQueueRouter(t)
	job, err := q.Enqueue(1, db.PhaseEnrichment, 0)
	require.NoError(t, err)

	path := "/queue/jobs/" + strconv.Itoa(int(job.ID))
	assert.Equal(t, http.StatusOK, deletePath(router, path).Code)
	assert.Equal(t, http.StatusConflict, deletePath(router, path).Code, "an already removed job cannot be cancelled")
}

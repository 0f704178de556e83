package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/linkdex/linkdex/internal/batch"
	"github.com/linkdex/linkdex/internal/cache"
	"github.com/linkdex/linkdex/internal/classify"
	"github.com/linkdex/linkdex/internal/config"
	"github.com/linkdex/linkdex/internal/db"
	"github.com/linkdex/linkdex/internal/extractor"
	"github.com/linkdex/linkdex/internal/fetcher"
	"github.com/linkdex/linkdex/internal/importer"
	"github.com/linkdex/linkdex/internal/logger"
	"github.com/linkdex/linkdex/internal/service"
)

const guidePageHTML = `<!doctype html>
<html><head><title>Getting Started</title>
<meta name="description" content="A short guide.">
</head><body><p>Guide body text.</p></body></html>`

type fakeFetcher struct{}

func (fakeFetcher) Fetch(ctx context.Context, url string) (*fetcher.Page, error) {
	// A real fetch dies as soon as its context does.
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &fetcher.Page{HTML: guidePageHTML, FinalURL: url, StatusCode: 200}, nil
}

type fakeClassifier struct{}

func (fakeClassifier) Classify(context.Context, string, string, string) (*classify.Classification, error) {
	return &classify.Classification{Category: "tutorial", ContentType: "article", Confidence: 0.9}, nil
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	conn, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "test.db")), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.Migrate(conn))
	return conn
}

func newTestImporter(t *testing.T, conn *gorm.DB) *importer.Importer {
	t.Helper()
	return importer.New(
		conn,
		cache.New(100, time.Hour),
		extractor.NewDefaultRegistry(logger.Nop()),
		fakeFetcher{},
		fakeClassifier{},
		nil,
		logger.Nop(),
	)
}

func postJSON(t *testing.T, router *gin.Engine, path string, payload interface{}) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(payload)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func getPath(router *gin.Engine, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestImportHandlerCreatesNode(t *testing.T) {
	gin.SetMode(gin.TestMode)
	conn := newTestDB(t)
	router := gin.New()
	router.POST("/import", ImportHandler(newTestImporter(t, conn)))

	w := postJSON(t, router, "/import", gin.H{"url": "https://example.com/guide"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var result importer.Result
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	assert.Equal(t, "Getting Started", result.Title)
	assert.Equal(t, "tutorial", result.Classification.Category)
	assert.False(t, result.Cached)
}

func TestImportHandlerCachedReturns200(t *testing.T) {
	gin.SetMode(gin.TestMode)
	conn := newTestDB(t)
	router := gin.New()
	router.POST("/import", ImportHandler(newTestImporter(t, conn)))

	first := postJSON(t, router, "/import", gin.H{"url": "https://example.com/guide"})
	require.Equal(t, http.StatusCreated, first.Code)

	second := postJSON(t, router, "/import", gin.H{"url": "https://example.com/guide"})
	assert.Equal(t, http.StatusOK, second.Code, "a cache hit is not a new resource")
	assert.Contains(t, second.Body.String(), `"cached":true`)
}

func TestImportHandlerErrorStatuses(t *testing.T) {
	gin.SetMode(gin.TestMode)
	conn := newTestDB(t)
	router := gin.New()
	router.POST("/import", ImportHandler(newTestImporter(t, conn)))

	w := postJSON(t, router, "/import", gin.H{"url": "ftp://example.com/file"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "invalid_url")

	// Same URL imported twice with force_refresh trips the storage-level
	// duplicate guard.
	require.Equal(t, http.StatusCreated, postJSON(t, router, "/import", gin.H{"url": "https://example.com/a"}).Code)
	w = postJSON(t, router, "/import", gin.H{"url": "https://example.com/a", "force_refresh": true})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, w.Body.String(), "duplicate")
}

func TestImportErrorStatusMapping(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, importErrorStatus(importer.CodeInvalidURL))
	assert.Equal(t, http.StatusConflict, importErrorStatus(importer.CodeDuplicate))
	assert.Equal(t, http.StatusUnprocessableEntity, importErrorStatus(importer.CodeExtractionFailed))
	assert.Equal(t, http.StatusInternalServerError, importErrorStatus(importer.CodeStorageFailed))
}

func TestGetNodeHandlerDecodesDetails(t *testing.T) {
	gin.SetMode(gin.TestMode)
	conn := newTestDB(t)

	details := extractor.MarshalDetails(&extractor.Details{
		Kind:  extractor.KindVideo,
		Video: &extractor.VideoDetails{VideoID: "abc123", Channel: "Some Channel"},
	})
	node, err := service.CreateNode(conn, &db.Node{
		URL:           "https://www.youtube.com/watch?v=abc123",
		NormalizedURL: "https://www.youtube.com/watch?v=abc123",
		Title:         "Build a Parser",
		ContentType:   db.ContentVideo,
		Details:       details,
	})
	require.NoError(t, err)

	router := gin.New()
	router.GET("/nodes/:id", GetNodeHandler(conn))

	w := getPath(router, "/nodes/"+strconv.Itoa(int(node.ID)))
	require.Equal(t, http.StatusOK, w.Code)

	var detail NodeDetail
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &detail))
	require.NotNil(t, detail.DetailFields)
	assert.Equal(t, extractor.KindVideo, detail.DetailFields.Kind)
	require.NotNil(t, detail.DetailFields.Video)
	assert.Equal(t, "abc123", detail.DetailFields.Video.VideoID)
}

func TestGetNodeHandlerNotFound(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.GET("/nodes/:id", GetNodeHandler(newTestDB(t)))

	assert.Equal(t, http.StatusNotFound, getPath(router, "/nodes/999").Code)
	assert.Equal(t, http.StatusBadRequest, getPath(router, "/nodes/abc").Code)
}

func TestListNodesHandlerPaginationAndFilters(t *testing.T) {
	gin.SetMode(gin.TestMode)
	conn := newTestDB(t)

	seed := []db.Node{
		{URL: "https://example.com/1", NormalizedURL: "https://example.com/1", Title: "Parsing 101", Category: "tutorial", ContentType: db.ContentArticle},
		{URL: "https://example.com/2", NormalizedURL: "https://example.com/2", Title: "Daily Brief", Category: "news", ContentType: db.ContentArticle},
		{URL: "https://example.com/3", NormalizedURL: "https://example.com/3", Title: "Parsing Deep Dive", Category: "tutorial", ContentType: db.ContentVideo},
	}
	for i := range seed {
		require.NoError(t, conn.Create(&seed[i]).Error)
	}

	router := gin.New()
	router.GET("/nodes", ListNodesHandler(conn))

	var resp PaginatedResponse
	w := getPath(router, "/nodes?size=2")
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, int64(3), resp.Total)
	assert.Equal(t, 2, resp.Pages)

	w = getPath(router, "/nodes?q=Parsing")
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, int64(2), resp.Total)

	w = getPath(router, "/nodes?category=news")
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, int64(1), resp.Total)

	w = getPath(router, "/nodes?content_type=video")
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, int64(1), resp.Total)
}

func TestLoginHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)
	conn := newTestDB(t)

	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret-pass"), bcrypt.MinCost)
	require.NoError(t, err)
	require.NoError(t, service.CreateUser(conn, "admin", string(hash)))

	cfg := config.AuthConfig{JWTSecret: "test-secret", TokenDuration: time.Hour}
	router := gin.New()
	router.POST("/auth/login", LoginHandler(conn, cfg, logger.Nop()))

	w := postJSON(t, router, "/auth/login", gin.H{"username": "admin", "password": "s3cret-pass"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp LoginResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.Token)
	assert.Equal(t, "admin", resp.Username)

	w = postJSON(t, router, "/auth/login", gin.H{"username": "admin", "password": "wrong-pass"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = postJSON(t, router, "/auth/login", gin.H{"username": "nobody", "password": "s3cret-pass"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = postJSON(t, router, "/auth/login", gin.H{"username": "a"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestStartBatchHandlerOutlivesRequest(t *testing.T) {
	gin.SetMode(gin.TestMode)
	conn := newTestDB(t)
	manager := batch.NewManager(newTestImporter(t, conn), cache.New(100, time.Hour), conn, nil, logger.Nop(), batch.Config{})
	t.Cleanup(manager.Close)

	router := gin.New()
	router.POST("/batches", StartBatchHandler(manager))

	body, err := json.Marshal(gin.H{"urls": []string{"https://example.com/g1", "https://example.com/g2"}})
	require.NoError(t, err)
	reqCtx, cancelReq := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodPost, "/batches", bytes.NewReader(body)).WithContext(reqCtx)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	// net/http cancels the request context the moment the handler returns;
	// the batch must keep importing regardless.
	cancelReq()

	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	var state batch.State
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &state))
	require.Len(t, state.Items, 2)

	require.Eventually(t, func() bool {
		s := manager.GetState(state.ID)
		return s != nil && s.CompletedAt != nil
	}, 5*time.Second, 10*time.Millisecond)

	stats := manager.GetStats(state.ID)
	require.NotNil(t, stats)
	assert.Equal(t, batch.Stats{Total: 2, Imported: 2}, *stats)
}

func TestStartBatchHandlerValidation(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	// Validation fails before the manager is touched.
	router.POST("/batches", StartBatchHandler(nil))

	w := postJSON(t, router, "/batches", gin.H{"urls": []string{}})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = postJSON(t, router, "/batches", gin.H{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

package batch

import (
	"context"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/linkdex/linkdex/internal/cache"
	"github.com/linkdex/linkdex/internal/classify"
	"github.com/linkdex/linkdex/internal/db"
	"github.com/linkdex/linkdex/internal/events"
	"github.com/linkdex/linkdex/internal/importer"
	"github.com/linkdex/linkdex/internal/logger"
)

// scriptedImporter maps URLs to canned outcomes and tracks call concurrency.
type scriptedImporter struct {
	mu      sync.Mutex
	results map[string]*importer.Result
	errors  map[string]*importer.Error
	calls   []string
	current int32
	peak    int32
	block   chan struct{}
}

func newScriptedImporter() *scriptedImporter {
	return &scriptedImporter{
		results: make(map[string]*importer.Result),
		errors:  make(map[string]*importer.Error),
	}
}

func (s *scriptedImporter) Import(_ context.Context, req importer.Request) (*importer.Result, *importer.Error) {
	n := atomic.AddInt32(&s.current, 1)
	defer atomic.AddInt32(&s.current, -1)
	for {
		p := atomic.LoadInt32(&s.peak)
		if n <= p || atomic.CompareAndSwapInt32(&s.peak, p, n) {
			break
		}
	}

	s.mu.Lock()
	s.calls = append(s.calls, req.URL)
	s.mu.Unlock()

	if s.block != nil {
		<-s.block
	}

	for _, stage := range []importer.Stage{importer.StageValidating, importer.StageFetching, importer.StageClassifying, importer.StageSaving} {
		if req.OnStage != nil {
			req.OnStage(stage)
		}
	}
	s.mu.Lock()
	impErr := s.errors[req.URL]
	result := s.results[req.URL]
	s.mu.Unlock()

	if impErr != nil {
		return nil, impErr
	}
	if result != nil {
		return result, nil
	}
	return &importer.Result{NodeID: 1, Title: "t"}, nil
}

func (s *scriptedImporter) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

// blockingImporter parks every call until its context is cancelled, then
// fails the way a fetch does.
type blockingImporter struct {
	started chan struct{}
}

func (b *blockingImporter) Import(ctx context.Context, _ importer.Request) (*importer.Result, *importer.Error) {
	select {
	case b.started <- struct{}{}:
	default:
	}
	<-ctx.Done()
	return nil, &importer.Error{Code: importer.CodeExtractionFailed, Message: "fetch failed: " + ctx.Err().Error()}
}

type captureSink struct {
	mu     sync.Mutex
	events []events.Event
}

func (s *captureSink) Emit(e events.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
}

func (s *captureSink) countByType(t events.Type) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, e := range s.events {
		if e.Type == t {
			n++
		}
	}
	return n
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := "file:" + filepath.Join(t.TempDir(), "test.db") + "?_busy_timeout=5000"
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.Migrate(conn))
	return conn
}

func newTestManager(t *testing.T, imp URLImporter, importCache *cache.ImportCache, sink events.Sink, cfg Config) *Manager {
	t.Helper()
	if importCache == nil {
		importCache = cache.New(100, time.Hour)
	}
	return NewManager(imp, importCache, newTestDB(t), sink, logger.Nop(), cfg)
}

func waitFinished(t *testing.T, m *Manager, batchID string) *State {
	t.Helper()
	var state *State
	require.Eventually(t, func() bool {
		state = m.GetState(batchID)
		return state != nil && state.CompletedAt != nil
	}, 5*time.Second, 10*time.Millisecond)
	return state
}

func TestBatchRunsAllItemsAndCompletes(t *testing.T) {
	t.Parallel()

	imp := newScriptedImporter()
	imp.results["https://a.example.com/1"] = &importer.Result{NodeID: 1, Title: "One", Classification: classification("news")}
	imp.results["https://a.example.com/2"] = &importer.Result{NodeID: 2, Title: "Two", Classification: classification("tools")}
	imp.errors["https://a.example.com/3"] = &importer.Error{Code: importer.CodeExtractionFailed, Message: "fetch failed: timeout"}

	sink := &captureSink{}
	m := newTestManager(t, imp, nil, sink, Config{})

	state := m.Start([]string{
		"https://a.example.com/1",
		"https://a.example.com/2",
		"https://a.example.com/3",
	}, Options{})
	require.Len(t, state.Items, 3)
	assert.Equal(t, StatusImporting, state.Status)
	assert.Equal(t, 2, state.Items[1].Line)

	final := waitFinished(t, m, state.ID)
	assert.Equal(t, StatusComplete, final.Status)

	stats := m.GetStats(state.ID)
	require.NotNil(t, stats)
	assert.Equal(t, Stats{Total: 3, Imported: 2, Failed: 1}, *stats)

	byURL := make(map[string]*Item)
	for _, item := range final.Items {
		byURL[item.URL] = item
	}
	assert.Equal(t, ItemImported, byURL["https://a.example.com/1"].Status)
	assert.Equal(t, "One", byURL["https://a.example.com/1"].Title)
	assert.Equal(t, uint(1), byURL["https://a.example.com/1"].NodeID)
	assert.Equal(t, 100, byURL["https://a.example.com/1"].Progress)
	assert.Equal(t, ItemFailed, byURL["https://a.example.com/3"].Status)
	assert.Equal(t, "fetch failed: timeout", byURL["https://a.example.com/3"].Error)

	assert.Equal(t, 1, sink.countByType(events.BatchComplete))
	assert.Positive(t, sink.countByType(events.BatchItem))
}

func TestBatchSkipDuplicatesUsesCachePrecheck(t *testing.T) {
	t.Parallel()

	imp := newScriptedImporter()
	importCache := cache.New(100, time.Hour)
	m := newTestManager(t, imp, importCache, nil, Config{})

	// Seed a cache entry whose node exists.
	node := &db.Node{URL: "https://a.example.com/seen", NormalizedURL: "https://a.example.com/seen", Title: "Seen"}
	require.NoError(t, m.conn.Create(node).Error)
	importCache.Set("https://a.example.com/seen", cache.Entry{NodeID: node.ID, Title: "Seen", Category: "news"})

	state := m.Start([]string{
		"https://a.example.com/seen",
		"https://a.example.com/new1",
		"https://a.example.com/new2",
	}, Options{SkipDuplicates: true})

	waitFinished(t, m, state.ID)

	stats := m.GetStats(state.ID)
	require.NotNil(t, stats)
	assert.Equal(t, Stats{Total: 3, Imported: 2, Duplicates: 1}, *stats)
	assert.Equal(t, 2, imp.callCount(), "the cache-resident URL must never reach the pipeline")

	final := m.GetState(state.ID)
	for _, item := range final.Items {
		if item.URL == "https://a.example.com/seen" {
			assert.Equal(t, ItemDuplicate, item.Status)
			assert.Equal(t, node.ID, item.NodeID)
			assert.Equal(t, "Seen", item.Title)
		}
	}
}

func TestBatchCachedResultCountsAsDuplicate(t *testing.T) {
	t.Parallel()

	imp := newScriptedImporter()
	imp.results["https://a.example.com/x"] = &importer.Result{NodeID: 9, Cached: true, Title: "X"}
	m := newTestManager(t, imp, nil, nil, Config{})

	state := m.Start([]string{"https://a.example.com/x"}, Options{})
	final := waitFinished(t, m, state.ID)

	assert.Equal(t, ItemDuplicate, final.Items[0].Status)
	assert.Equal(t, uint(9), final.Items[0].NodeID)
}

func TestBatchConcurrencyCeiling(t *testing.T) {
	t.Parallel()

	imp := newScriptedImporter()
	imp.block = make(chan struct{})
	m := newTestManager(t, imp, nil, nil, Config{})

	urls := []string{
		"https://a.example.com/1",
		"https://a.example.com/2",
		"https://a.example.com/3",
		"https://a.example.com/4",
		"https://a.example.com/5",
	}
	state := m.Start(urls, Options{MaxConcurrent: 2})

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&imp.current) == 2
	}, 2*time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(2), atomic.LoadInt32(&imp.peak))

	close(imp.block)
	waitFinished(t, m, state.ID)
	assert.Equal(t, int32(2), atomic.LoadInt32(&imp.peak))
	assert.Equal(t, 5, imp.callCount())
}

func TestBatchConcurrencyClampedToConfiguredMax(t *testing.T) {
	t.Parallel()

	m := newTestManager(t, newScriptedImporter(), nil, nil, Config{MaxConcurrency: 4})

	state := m.Start([]string{"https://a.example.com/1"}, Options{MaxConcurrent: 50})
	assert.Equal(t, 4, state.Options.MaxConcurrent)
	waitFinished(t, m, state.ID)
}

func TestBatchCancelFailsQueuedKeepsInFlight(t *testing.T) {
	t.Parallel()

	imp := newScriptedImporter()
	imp.block = make(chan struct{})
	sink := &captureSink{}
	m := newTestManager(t, imp, nil, sink, Config{})

	urls := []string{
		"https://a.example.com/1",
		"https://a.example.com/2",
		"https://a.example.com/3",
	}
	state := m.Start(urls, Options{MaxConcurrent: 1})

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&imp.current) == 1
	}, 2*time.Second, 5*time.Millisecond)

	require.True(t, m.Cancel(state.ID))
	assert.False(t, m.Cancel(state.ID), "a cancelled batch cannot be cancelled again")

	close(imp.block)
	final := waitFinished(t, m, state.ID)
	assert.Equal(t, StatusCancelled, final.Status)

	var cancelled, imported int
	for _, item := range final.Items {
		switch {
		case item.Error == "batch cancelled":
			cancelled++
			assert.Equal(t, ItemFailed, item.Status)
		case item.Status == ItemImported:
			imported++
		}
	}
	assert.Equal(t, 2, cancelled, "queued items are aborted")
	assert.Equal(t, 1, imported, "the in-flight item runs to its natural end")
	assert.Equal(t, 1, imp.callCount())
	assert.Equal(t, 1, sink.countByType(events.BatchCancelled))
	assert.Equal(t, 1, sink.countByType(events.BatchComplete))
}

func TestManagerCloseCancelsInFlightImports(t *testing.T) {
	t.Parallel()

	imp := &blockingImporter{started: make(chan struct{}, 1)}
	m := newTestManager(t, imp, nil, nil, Config{})

	state := m.Start([]string{"https://a.example.com/1"}, Options{})
	select {
	case <-imp.started:
	case <-time.After(2 * time.Second):
		t.Fatal("import never started")
	}
	m.Close()

	final := waitFinished(t, m, state.ID)
	assert.Equal(t, ItemFailed, final.Items[0].Status)
	assert.Contains(t, final.Items[0].Error, "context canceled")
}

func TestBatchCancelUnknownID(t *testing.T) {
	t.Parallel()

	m := newTestManager(t, newScriptedImporter(), nil, nil, Config{})
	assert.False(t, m.Cancel("no-such-batch"))
}

func TestBatchRetentionPurgesState(t *testing.T) {
	t.Parallel()

	m := newTestManager(t, newScriptedImporter(), nil, nil, Config{Retention: 50 * time.Millisecond})

	state := m.Start([]string{"https://a.example.com/1"}, Options{})

	require.Eventually(t, func() bool {
		return m.GetState(state.ID) == nil
	}, 2*time.Second, 10*time.Millisecond)
	assert.Nil(t, m.GetStats(state.ID))
}

func TestBatchSnapshotIsolation(t *testing.T) {
	t.Parallel()

	m := newTestManager(t, newScriptedImporter(), nil, nil, Config{})
	state := m.Start([]string{"https://a.example.com/1"}, Options{})

	state.Items[0].Status = ItemFailed
	state.Items[0].Error = "mutated copy"

	final := waitFinished(t, m, state.ID)
	assert.Equal(t, ItemImported, final.Items[0].Status)
	assert.Empty(t, final.Items[0].Error)
}

func TestComputeStats(t *testing.T) {
	t.Parallel()

	items := []*Item{
		{Status: ItemQueued},
		{Status: ItemFetching},
		{Status: ItemImported},
		{Status: ItemImported},
		{Status: ItemDuplicate},
		{Status: ItemFailed},
	}
	assert.Equal(t, Stats{Total: 6, Queued: 1, InProgress: 1, Imported: 2, Duplicates: 1, Failed: 1}, ComputeStats(items))
}

func classification(category string) classify.Classification {
	return classify.Classification{Category: category, Confidence: 0.8}
}

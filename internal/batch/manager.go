// Package batch drives many concurrent imports with live progress events,
// bounded per-batch concurrency and cooperative cancellation.
package batch

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/linkdex/linkdex/internal/cache"
	"github.com/linkdex/linkdex/internal/events"
	"github.com/linkdex/linkdex/internal/importer"
	"github.com/linkdex/linkdex/internal/logger"
	"github.com/linkdex/linkdex/internal/service"
)

const cancelledMessage = "batch cancelled"

// URLImporter is the single-URL pipeline consumed by the manager.
type URLImporter interface {
	Import(ctx context.Context, req importer.Request) (*importer.Result, *importer.Error)
}

// Config holds manager tuning.
type Config struct {
	DefaultConcurrency int
	MaxConcurrency     int
	// Retention is how long a finished batch stays queryable before it is
	// dropped from memory.
	Retention time.Duration
}

func (c Config) withDefaults() Config {
	if c.DefaultConcurrency <= 0 {
		c.DefaultConcurrency = 3
	}
	if c.MaxConcurrency <= 0 {
		c.MaxConcurrency = 10
	}
	if c.Retention <= 0 {
		c.Retention = 5 * time.Minute
	}
	return c
}

type batchRun struct {
	state    *State
	inFlight map[string]bool
	items    map[string]*Item
}

// Manager runs batches. Batches are transient: held in memory for the run
// plus a retention window, then discarded.
type Manager struct {
	imp   URLImporter
	cache *cache.ImportCache
	conn  *gorm.DB
	sink  events.Sink
	log   logger.Logger
	cfg   Config

	// baseCtx is the manager's own lifecycle context. Batch goroutines run
	// on it, never on a caller's context: the HTTP request context is
	// cancelled the moment the handler returns, long before items finish.
	baseCtx context.Context
	cancel  context.CancelFunc

	mu      sync.Mutex
	batches map[string]*batchRun
}

// NewManager creates a batch manager.
func NewManager(imp URLImporter, importCache *cache.ImportCache, conn *gorm.DB, sink events.Sink, log logger.Logger, cfg Config) *Manager {
	if sink == nil {
		sink = events.NopSink{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		imp:     imp,
		cache:   importCache,
		conn:    conn,
		sink:    sink,
		log:     log,
		cfg:     cfg.withDefaults(),
		baseCtx: ctx,
		cancel:  cancel,
		batches: make(map[string]*batchRun),
	}
}

// Close cancels the manager's context; in-flight imports observe the
// cancellation and fail fast. Called on shutdown.
func (m *Manager) Close() {
	m.cancel()
}

// Start accepts a URL list, registers the batch and returns its state
// immediately; processing continues asynchronously.
func (m *Manager) Start(urls []string, opts Options) *State {
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = m.cfg.DefaultConcurrency
	}
	if opts.MaxConcurrent > m.cfg.MaxConcurrency {
		opts.MaxConcurrent = m.cfg.MaxConcurrency
	}

	run := &batchRun{
		state: &State{
			ID:        uuid.NewString(),
			Options:   opts,
			Status:    StatusImporting,
			StartedAt: time.Now().UTC(),
		},
		inFlight: make(map[string]bool),
		items:    make(map[string]*Item),
	}
	for i, u := range urls {
		item := &Item{
			ID:     uuid.NewString(),
			URL:    u,
			Line:   i + 1,
			Status: ItemQueued,
		}
		run.state.Items = append(run.state.Items, item)
		run.items[item.ID] = item
	}

	m.mu.Lock()
	m.batches[run.state.ID] = run
	m.mu.Unlock()

	m.log.Info("batch started",
		logger.String("batch_id", run.state.ID),
		logger.Int("urls", len(urls)),
		logger.Int("max_concurrent", opts.MaxConcurrent),
	)

	snapshot := m.snapshot(run)
	go m.dispatch(run)
	return snapshot
}

// GetState returns a snapshot of the batch, or nil when unknown (or already
// purged).
func (m *Manager) GetState(batchID string) *State {
	m.mu.Lock()
	run, ok := m.batches[batchID]
	m.mu.Unlock()
	if !ok {
		return nil
	}
	return m.snapshot(run)
}

// GetStats computes the current per-status counts for a batch.
func (m *Manager) GetStats(batchID string) *Stats {
	state := m.GetState(batchID)
	if state == nil {
		return nil
	}
	stats := ComputeStats(state.Items)
	return &stats
}

// Cancel marks the batch cancelled and fails every still-queued item.
// Items already in flight run to their natural terminal status.
func (m *Manager) Cancel(batchID string) bool {
	m.mu.Lock()
	run, ok := m.batches[batchID]
	if !ok || run.state.Status != StatusImporting {
		m.mu.Unlock()
		return false
	}
	run.state.Status = StatusCancelled

	now := time.Now().UTC()
	var flipped []*Item
	for _, item := range run.state.Items {
		if item.Status == ItemQueued && !run.inFlight[item.ID] {
			item.Status = ItemFailed
			item.Error = cancelledMessage
			item.Progress = stageProgress[ItemFailed]
			item.CompletedAt = &now
			flipped = append(flipped, item)
		}
	}
	idle := len(run.inFlight) == 0
	m.mu.Unlock()

	for _, item := range flipped {
		m.emitItem(run.state.ID, item)
	}
	m.sink.Emit(events.New(events.BatchCancelled, map[string]interface{}{"batch_id": batchID}))
	m.log.Info("batch cancelled",
		logger.String("batch_id", batchID),
		logger.Int("aborted_items", len(flipped)),
	)

	if idle {
		m.finish(run)
	}
	return true
}

// dispatch starts as many queued items as the concurrency ceiling allows.
// It is re-invoked whenever an item finishes, keeping the ceiling saturated
// without a fixed worker pool.
func (m *Manager) dispatch(run *batchRun) {
	m.mu.Lock()
	if run.state.Status != StatusImporting {
		idle := len(run.inFlight) == 0
		m.mu.Unlock()
		if idle {
			m.finish(run)
		}
		return
	}

	available := run.state.Options.MaxConcurrent - len(run.inFlight)
	var started []*Item
	for _, item := range run.state.Items {
		if available <= 0 {
			break
		}
		if item.Status != ItemQueued || run.inFlight[item.ID] {
			continue
		}
		run.inFlight[item.ID] = true
		available--
		started = append(started, item)
	}

	done := len(run.inFlight) == 0 && allTerminal(run.state.Items)
	m.mu.Unlock()

	if done {
		m.complete(run)
		return
	}
	for _, item := range started {
		item := item
		go m.processItem(run, item)
	}
}

func (m *Manager) processItem(run *batchRun, item *Item) {
	defer func() {
		m.mu.Lock()
		delete(run.inFlight, item.ID)
		m.mu.Unlock()
		m.dispatch(run)
	}()

	now := time.Now().UTC()
	m.mu.Lock()
	item.StartedAt = &now
	m.mu.Unlock()
	m.transition(run, item, ItemValidating)

	// Duplicate pre-check: a cache hit whose node still exists never
	// reaches the orchestrator.
	if run.state.Options.SkipDuplicates {
		if entry := m.cache.Get(item.URL); entry != nil {
			if node, err := service.GetNodeByID(m.conn, entry.NodeID); err == nil && node != nil {
				m.mu.Lock()
				item.NodeID = entry.NodeID
				item.Title = entry.Title
				item.Favicon = entry.Favicon
				item.Category = entry.Category
				m.mu.Unlock()
				m.finishItem(run, item, ItemDuplicate, "")
				return
			}
			m.cache.Invalidate(item.URL)
		}
	}

	req := importer.Request{
		URL: item.URL,
		OnStage: func(stage importer.Stage) {
			switch stage {
			case importer.StageFetching:
				m.transition(run, item, ItemFetching)
			case importer.StageClassifying:
				m.transition(run, item, ItemClassifying)
			case importer.StageSaving:
				m.transition(run, item, ItemSaving)
			}
		},
	}
	// Without auto-classify the batch only creates records; the second
	// classification pass is left for explicit queue tooling.
	req.SkipEnrichment = !run.state.Options.AutoClassify

	result, impErr := m.imp.Import(m.baseCtx, req)
	if impErr != nil {
		if impErr.Code == importer.CodeDuplicate {
			m.finishItem(run, item, ItemDuplicate, "")
			return
		}
		m.finishItem(run, item, ItemFailed, impErr.Message)
		return
	}

	m.mu.Lock()
	item.NodeID = result.NodeID
	item.Title = result.Title
	item.Favicon = result.Favicon
	item.Category = result.Classification.Category
	m.mu.Unlock()

	if result.Cached {
		m.finishItem(run, item, ItemDuplicate, "")
		return
	}
	m.finishItem(run, item, ItemImported, "")
}

// transition moves an item to a non-terminal status and emits a progress
// event. Transitions after cancellation are suppressed for queued-aborted
// items but in-flight items keep reporting.
func (m *Manager) transition(run *batchRun, item *Item, status ItemStatus) {
	m.mu.Lock()
	if item.Status.Terminal() {
		m.mu.Unlock()
		return
	}
	item.Status = status
	item.Progress = stageProgress[status]
	m.mu.Unlock()
	m.emitItem(run.state.ID, item)
}

func (m *Manager) finishItem(run *batchRun, item *Item, status ItemStatus, errMsg string) {
	now := time.Now().UTC()
	m.mu.Lock()
	if !item.Status.Terminal() {
		item.Status = status
		item.Error = errMsg
		item.Progress = stageProgress[status]
		item.CompletedAt = &now
	}
	m.mu.Unlock()
	m.emitItem(run.state.ID, item)
}

// complete finalizes a batch whose items are all terminal.
func (m *Manager) complete(run *batchRun) {
	m.mu.Lock()
	if run.state.Status != StatusImporting {
		m.mu.Unlock()
		m.finish(run)
		return
	}
	run.state.Status = StatusComplete
	m.mu.Unlock()
	m.finish(run)
}

// finish stamps completion, emits the final stats event once and schedules
// the batch's removal from memory after the retention window.
func (m *Manager) finish(run *batchRun) {
	m.mu.Lock()
	if run.state.CompletedAt != nil {
		m.mu.Unlock()
		return
	}
	now := time.Now().UTC()
	run.state.CompletedAt = &now
	stats := ComputeStats(run.state.Items)
	batchID := run.state.ID
	status := run.state.Status
	m.mu.Unlock()

	m.sink.Emit(events.New(events.BatchComplete, map[string]interface{}{
		"batch_id": batchID,
		"status":   status,
		"stats":    stats,
	}))
	m.log.Info("batch finished",
		logger.String("batch_id", batchID),
		logger.String("status", string(status)),
		logger.Int("imported", stats.Imported),
		logger.Int("duplicates", stats.Duplicates),
		logger.Int("failed", stats.Failed),
	)

	time.AfterFunc(m.cfg.Retention, func() {
		m.mu.Lock()
		delete(m.batches, batchID)
		m.mu.Unlock()
	})
}

func (m *Manager) emitItem(batchID string, item *Item) {
	m.mu.Lock()
	snapshot := *item
	m.mu.Unlock()
	m.sink.Emit(events.New(events.BatchItem, map[string]interface{}{
		"batch_id": batchID,
		"item":     snapshot,
	}))
}

// snapshot deep-copies a run's state so callers never observe concurrent
// mutation.
func (m *Manager) snapshot(run *batchRun) *State {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := *run.state
	out.Items = make([]*Item, len(run.state.Items))
	for i, item := range run.state.Items {
		copied := *item
		out.Items[i] = &copied
	}
	return &out
}

func allTerminal(items []*Item) bool {
	for _, item := range items {
		if !item.Status.Terminal() {
			return false
		}
	}
	return true
}

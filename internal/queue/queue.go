// Package queue implements the durable background processing queue. The
// processing_jobs table is the source of truth; a timer-driven poll loop
// claims pending jobs up to a concurrency ceiling and executes them, with
// persisted retry across poll cycles.
package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/linkdex/linkdex/internal/db"
	"github.com/linkdex/linkdex/internal/events"
	"github.com/linkdex/linkdex/internal/logger"
)

// backoffSchedule is logged and recorded on retried jobs. It is not slept
// on: reclaim eligibility is governed by the poll interval.
var backoffSchedule = []time.Duration{time.Minute, 5 * time.Minute, 15 * time.Minute}

// Runner executes one phase of work for a claimed job. On success it returns
// a payload included in the success notification.
type Runner interface {
	Run(ctx context.Context, job *db.ProcessingJob) (interface{}, error)
}

// Config holds queue tuning.
type Config struct {
	PollInterval  time.Duration
	MaxConcurrent int
	MaxAttempts   int
	// InnerAttempts is the number of immediate in-process tries per
	// execution, absorbing transient errors without touching the persisted
	// attempt count.
	InnerAttempts int
	StopTimeout   time.Duration
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = 5 * time.Second
	}
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = 3
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.InnerAttempts <= 0 {
		c.InnerAttempts = 2
	}
	if c.StopTimeout <= 0 {
		c.StopTimeout = 30 * time.Second
	}
	return c
}

// Stats is the row count per job status.
type Stats struct {
	Pending    int64 `json:"pending"`
	Processing int64 `json:"processing"`
	Complete   int64 `json:"complete"`
	Failed     int64 `json:"failed"`
}

// Queue is the polling job queue.
type Queue struct {
	conn    *gorm.DB
	runners map[db.JobPhase]Runner
	sink    events.Sink
	log     logger.Logger
	cfg     Config

	mu       sync.Mutex
	running  bool
	active   int
	stopChan chan struct{}

	pollWG sync.WaitGroup
	jobWG  sync.WaitGroup
}

// New creates a queue. Runners are registered per phase before Start.
func New(conn *gorm.DB, sink events.Sink, log logger.Logger, cfg Config) *Queue {
	if sink == nil {
		sink = events.NopSink{}
	}
	return &Queue{
		conn:    conn,
		runners: make(map[db.JobPhase]Runner),
		sink:    sink,
		log:     log,
		cfg:     cfg.withDefaults(),
	}
}

// RegisterRunner binds a runner to a phase.
func (q *Queue) RegisterRunner(phase db.JobPhase, r Runner) {
	q.runners[phase] = r
}

// Enqueue inserts one pending job.
func (q *Queue) Enqueue(nodeID uint, phase db.JobPhase, priority int) (*db.ProcessingJob, error) {
	job := &db.ProcessingJob{
		NodeID:      nodeID,
		Phase:       phase,
		Status:      db.JobPending,
		Priority:    priority,
		MaxAttempts: q.cfg.MaxAttempts,
	}
	if err := q.conn.Create(job).Error; err != nil {
		return nil, fmt.Errorf("enqueue job: %w", err)
	}
	q.log.Debug("job enqueued",
		logger.Uint("job_id", job.ID),
		logger.Uint("node_id", nodeID),
		logger.String("phase", string(phase)),
		logger.Int("priority", priority),
	)
	return job, nil
}

// EnqueueMany inserts one pending job per node id.
func (q *Queue) EnqueueMany(nodeIDs []uint, phase db.JobPhase, priority int) ([]*db.ProcessingJob, error) {
	jobs := make([]*db.ProcessingJob, 0, len(nodeIDs))
	for _, id := range nodeIDs {
		job, err := q.Enqueue(id, phase, priority)
		if err != nil {
			return jobs, err
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

// Job retrieves a job by id, nil when absent.
func (q *Queue) Job(id uint) (*db.ProcessingJob, error) {
	var job db.ProcessingJob
	err := q.conn.First(&job, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// JobsForNode lists all jobs targeting a node, newest first.
func (q *Queue) JobsForNode(nodeID uint) ([]db.ProcessingJob, error) {
	var jobs []db.ProcessingJob
	err := q.conn.Where("node_id = ?", nodeID).Order("created_at DESC").Find(&jobs).Error
	return jobs, err
}

// GetStats counts jobs grouped by status.
func (q *Queue) GetStats() (*Stats, error) {
	type row struct {
		Status db.JobStatus
		N      int64
	}
	var rows []row
	err := q.conn.Model(&db.ProcessingJob{}).
		Select("status, COUNT(*) AS n").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	stats := &Stats{}
	for _, r := range rows {
		switch r.Status {
		case db.JobPending:
			stats.Pending = r.N
		case db.JobProcessing:
			stats.Processing = r.N
		case db.JobComplete:
			stats.Complete = r.N
		case db.JobFailed:
			stats.Failed = r.N
		}
	}
	return stats, nil
}

// RetryFailed resets failed jobs to pending with attempts zeroed, optionally
// scoped to one node. Returns how many jobs were reset.
func (q *Queue) RetryFailed(nodeID *uint) (int64, error) {
	query := q.conn.Model(&db.ProcessingJob{}).Where("status = ?", db.JobFailed)
	if nodeID != nil {
		query = query.Where("node_id = ?", *nodeID)
	}
	result := query.Updates(map[string]interface{}{
		"status":      db.JobPending,
		"attempts":    0,
		"last_error":  "",
		"retry_after": nil,
	})
	return result.RowsAffected, result.Error
}

// Cancel deletes a job only while it is still pending. A processing job
// cannot be cancelled mid-flight.
func (q *Queue) Cancel(jobID uint) (bool, error) {
	result := q.conn.Where("id = ? AND status = ?", jobID, db.JobPending).
		Delete(&db.ProcessingJob{})
	return result.RowsAffected > 0, result.Error
}

// ClearCompleted deletes complete jobs older than the cutoff. Returns how
// many were removed.
func (q *Queue) ClearCompleted(olderThan time.Duration) (int64, error) {
	cutoff := time.Now().Add(-olderThan)
	result := q.conn.Where("status = ? AND completed_at < ?", db.JobComplete, cutoff).
		Delete(&db.ProcessingJob{})
	return result.RowsAffected, result.Error
}

// Start launches the poll loop.
func (q *Queue) Start(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.running {
		return errors.New("queue is already running")
	}
	q.running = true
	q.stopChan = make(chan struct{})

	q.pollWG.Add(1)
	go q.pollLoop(ctx)

	q.log.Info("processing queue started",
		logger.Duration("poll_interval", q.cfg.PollInterval),
		logger.Int("max_concurrent", q.cfg.MaxConcurrent),
		logger.Int("max_attempts", q.cfg.MaxAttempts),
	)
	return nil
}

// Stop stops claiming new work immediately, then waits up to the configured
// timeout for in-flight jobs to finish.
func (q *Queue) Stop() error {
	q.mu.Lock()
	if !q.running {
		q.mu.Unlock()
		return nil
	}
	q.running = false
	close(q.stopChan)
	q.mu.Unlock()

	q.pollWG.Wait()

	done := make(chan struct{})
	go func() {
		q.jobWG.Wait()
		close(done)
	}()
	select {
	case <-done:
		q.log.Info("processing queue stopped")
	case <-time.After(q.cfg.StopTimeout):
		q.mu.Lock()
		active := q.active
		q.mu.Unlock()
		q.log.Warn("processing queue stop timed out with jobs still active",
			logger.Int("active", active),
		)
	}
	return nil
}

func (q *Queue) pollLoop(ctx context.Context) {
	defer q.pollWG.Done()

	ticker := time.NewTicker(q.cfg.PollInterval)
	defer ticker.Stop()

	// Claim immediately on start so restarts pick up committed work without
	// waiting a full interval.
	q.tick(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-q.stopChan:
			return
		case <-ticker.C:
			q.tick(ctx)
		}
	}
}

// tick claims up to the remaining concurrency capacity of pending jobs and
// launches them. It does not wait for jobs to finish.
func (q *Queue) tick(ctx context.Context) {
	q.mu.Lock()
	capacity := q.cfg.MaxConcurrent - q.active
	q.mu.Unlock()
	if capacity <= 0 {
		return
	}

	jobs, err := q.claim(capacity)
	if err != nil {
		q.log.Error("failed to claim jobs", logger.Err(err))
		return
	}

	for _, job := range jobs {
		job := job
		q.mu.Lock()
		q.active++
		q.mu.Unlock()

		q.jobWG.Add(1)
		go func() {
			defer q.jobWG.Done()
			defer func() {
				q.mu.Lock()
				q.active--
				q.mu.Unlock()
			}()
			q.execute(ctx, job)
		}()
	}
}

// claim flips up to limit pending jobs to processing. Each flip is a guarded
// UPDATE keyed on the pending status, so concurrent pollers can never claim
// the same job twice.
func (q *Queue) claim(limit int) ([]*db.ProcessingJob, error) {
	var candidates []db.ProcessingJob
	err := q.conn.
		Where("status = ? AND attempts < max_attempts", db.JobPending).
		Order("priority DESC, created_at ASC").
		Limit(limit).
		Find(&candidates).Error
	if err != nil {
		return nil, err
	}

	var claimed []*db.ProcessingJob
	for idx := range candidates {
		job := candidates[idx]
		result := q.conn.Model(&db.ProcessingJob{}).
			Where("id = ? AND status = ?", job.ID, db.JobPending).
			Update("status", db.JobProcessing)
		if result.Error != nil {
			return claimed, result.Error
		}
		if result.RowsAffected == 0 {
			// Another poller got there first.
			continue
		}
		job.Status = db.JobProcessing
		claimed = append(claimed, &job)
	}
	return claimed, nil
}

func (q *Queue) execute(ctx context.Context, job *db.ProcessingJob) {
	log := q.log.With(
		logger.Uint("job_id", job.ID),
		logger.Uint("node_id", job.NodeID),
		logger.String("phase", string(job.Phase)),
	)

	runner, ok := q.runners[job.Phase]
	if !ok {
		q.fail(job, fmt.Sprintf("no runner registered for phase %q", job.Phase), log)
		return
	}

	// Inner immediate retries absorb transient errors without burning a
	// persisted attempt.
	var payload interface{}
	var err error
	for attempt := 1; attempt <= q.cfg.InnerAttempts; attempt++ {
		payload, err = runner.Run(ctx, job)
		if err == nil {
			break
		}
		log.Debug("job execution attempt failed",
			logger.Int("inner_attempt", attempt),
			logger.Err(err),
		)
	}

	if err == nil {
		now := time.Now()
		updates := map[string]interface{}{
			"status":       db.JobComplete,
			"completed_at": now,
			"last_error":   "",
		}
		if dbErr := q.conn.Model(&db.ProcessingJob{}).Where("id = ?", job.ID).Updates(updates).Error; dbErr != nil {
			log.Error("failed to mark job complete", logger.Err(dbErr))
			return
		}
		log.Info("job complete")
		q.sink.Emit(events.New(events.EnrichmentComplete, payload))
		return
	}

	// Persisted failure path: increment attempts, then either retry on a
	// later tick or fail terminally at the ceiling.
	attempts := job.Attempts + 1
	if attempts >= job.MaxAttempts {
		q.fail(job, err.Error(), log)
		return
	}

	delay := backoffSchedule[min(attempts-1, len(backoffSchedule)-1)]
	retryAfter := time.Now().Add(delay)
	updates := map[string]interface{}{
		"status":      db.JobPending,
		"attempts":    attempts,
		"last_error":  err.Error(),
		"retry_after": retryAfter,
	}
	if dbErr := q.conn.Model(&db.ProcessingJob{}).Where("id = ?", job.ID).Updates(updates).Error; dbErr != nil {
		log.Error("failed to record job retry", logger.Err(dbErr))
		return
	}
	log.Warn("job failed, will retry",
		logger.Int("attempts", attempts),
		logger.Int("max_attempts", job.MaxAttempts),
		logger.Duration("backoff", delay),
		logger.Err(err),
	)
}

func (q *Queue) fail(job *db.ProcessingJob, message string, log logger.Logger) {
	now := time.Now()
	updates := map[string]interface{}{
		"status":       db.JobFailed,
		"attempts":     job.Attempts + 1,
		"last_error":   message,
		"completed_at": now,
	}
	if err := q.conn.Model(&db.ProcessingJob{}).Where("id = ?", job.ID).Updates(updates).Error; err != nil {
		log.Error("failed to mark job failed", logger.Err(err))
		return
	}
	log.Error("job failed terminally", logger.String("error", message))
	q.sink.Emit(events.New(events.EnrichmentFailed, map[string]interface{}{
		"job_id":  job.ID,
		"node_id": job.NodeID,
		"error":   message,
	}))
}

package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/egtimer/invoice-ai-processor/constants"
	"github.com/egtimer/invoice-ai-processor/internal/common"
	"github.com/egtimer/invoice-ai-processor/internal/entity"
	"github.com/egtimer/invoice-ai-processor/internal/jobs"
	"github.com/egtimer/invoice-ai-processor/internal/repository"
)

type task struct {
	documentID uuid.UUID
	force      bool
}

// Coordinator owns the worker pool and the per-document run gate. At most
// one run is active for a document at any time; a second start request
// returns the current job snapshot instead of queueing another run.
type Coordinator struct {
	pipe    *Pipeline
	docs    repository.DocumentRepository
	jobs    *jobs.Store
	logger  *slog.Logger
	timeout time.Duration

	ch   chan task
	wg   sync.WaitGroup
	once sync.Once

	mu     sync.Mutex
	closed bool
}

func NewCoordinator(pipe *Pipeline, docs repository.DocumentRepository, jobStore *jobs.Store, logger *slog.Logger, cfg common.ProcessingConfig) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = 4
	}
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = 256
	}
	timeout := cfg.RunTimeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}

	c := &Coordinator{
		pipe:    pipe,
		docs:    docs,
		jobs:    jobStore,
		logger:  logger,
		timeout: timeout,
		ch:      make(chan task, queueSize),
	}
	c.start(workers)
	return c
}

func (c *Coordinator) start(workers int) {
	c.once.Do(func() {
		for i := 0; i < workers; i++ {
			c.wg.Add(1)
			go func(workerID int) {
				defer c.wg.Done()
				c.logger.Info("worker started", "worker_id", workerID)

				for t := range c.ch {
					c.runTask(workerID, t)
				}

				c.logger.Info("worker stopped", "worker_id", workerID)
			}(i + 1)
		}
	})
}

func (c *Coordinator) runTask(workerID int, t task) {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	doc, err := c.docs.GetByID(ctx, t.documentID)
	if err != nil {
		c.logger.Error("processing failed", "worker_id", workerID, "document_id", t.documentID, "error", err)
		c.jobs.Fail(t.documentID, err.Error())
		return
	}

	if _, err := c.pipe.Run(ctx, doc, t.force); err != nil {
		c.logger.Error("processing failed", "worker_id", workerID, "document_id", t.documentID, "error", err)
		c.jobs.Fail(t.documentID, failureMessage(err))
		return
	}
	c.logger.Info("processed document successfully", "worker_id", workerID, "document_id", t.documentID)
}

// Register records an uploaded document as pending.
func (c *Coordinator) Register(id uuid.UUID) {
	c.jobs.Pending(id)
}

// Start queues a processing run for id. If a run is already active the
// current snapshot comes back without a second run being queued.
func (c *Coordinator) Start(ctx context.Context, id uuid.UUID) (entity.ProcessingJob, error) {
	return c.enqueue(ctx, id, false)
}

// Reprocess queues a fresh run that always escalates to the LLM and
// overwrites any stored result.
func (c *Coordinator) Reprocess(ctx context.Context, id uuid.UUID) (entity.ProcessingJob, error) {
	return c.enqueue(ctx, id, true)
}

func (c *Coordinator) enqueue(ctx context.Context, id uuid.UUID, force bool) (entity.ProcessingJob, error) {
	if _, err := c.docs.GetByID(ctx, id); err != nil {
		return entity.ProcessingJob{}, err
	}

	// The mutex is held across the channel send so Shutdown cannot close
	// the channel between the closed check and the send.
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return entity.ProcessingJob{}, common.WrapError(common.ErrInternal, "coordinator is shutting down")
	}

	job, acquired := c.jobs.Acquire(id)
	if !acquired {
		c.logger.Info("run already active", "document_id", id)
		return job, nil
	}

	select {
	case c.ch <- task{documentID: id, force: force}:
		c.logger.Info("queued document for processing", "document_id", id, "force", force)
	default:
		c.logger.Warn("queue full, applying backpressure", "document_id", id)
		c.ch <- task{documentID: id, force: force}
	}
	return job, nil
}

// Status returns the job snapshot for id. Uploaded documents that were never
// processed report a pending job.
func (c *Coordinator) Status(ctx context.Context, id uuid.UUID) (entity.ProcessingJob, error) {
	if job, ok := c.jobs.Get(id); ok {
		return job, nil
	}
	doc, err := c.docs.GetByID(ctx, id)
	if err != nil {
		return entity.ProcessingJob{}, err
	}
	return entity.ProcessingJob{
		DocumentID: doc.ID,
		Status:     constants.JobStatusPending,
		Message:    "uploaded",
		StartedAt:  doc.UploadedAt,
		UpdatedAt:  doc.UploadedAt,
	}, nil
}

// Shutdown stops accepting work and waits for in-flight runs to drain.
func (c *Coordinator) Shutdown(ctx context.Context) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.ch)
	c.mu.Unlock()

	done := make(chan struct{})
	go func() { defer close(done); c.wg.Wait() }()

	select {
	case <-ctx.Done():
		c.logger.Warn("shutdown interrupted by context")
	case <-done:
		c.logger.Info("queue drained, shutdown complete")
	}
}

func failureMessage(err error) string {
	if errors.Is(err, common.ErrParseFailure) {
		return "document could not be parsed"
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "processing timed out"
	}
	return err.Error()
}

// Package enrichment implements the background worker that drains the
// durable enrichment queue and dispatches claimed tasks to per-task-type
// handlers (spec.md §4.8-§4.9).
package enrichment

import (
	"context"
	"log/slog"
	"time"

	"github.com/JasonMadeSomething/voxscribe/internal/observe"
	"github.com/JasonMadeSomething/voxscribe/pkg/memory"
)

// staleTaskAge bounds how long a task may sit in "processing" before the
// worker's periodic sweep reclaims it. Not exposed as a config knob — the
// worker's own poll cadence already governs how quickly reclaimed work is
// retried, so this only needs to be comfortably longer than any single
// handler batch.
const staleTaskAge = 2 * time.Minute

// Result is one claimed task's processing outcome. A nil Err completes the
// task; a non-nil Err fails it with that error's message.
type Result struct {
	TaskID string
	Err    error
}

// Handler processes a batch of claimed tasks sharing one task_type. A
// Handler must be safe to call from the worker's single goroutine only — it
// need not be concurrency-safe, since the worker never dispatches two
// batches for the same task_type concurrently. Handlers are order-
// independent within a batch: nothing in spec.md requires or permits cross-
// item ordering.
type Handler interface {
	// TaskType is the enrichment_task.task_type this handler processes.
	TaskType() string

	// TargetTypes lists the target_type values this handler expects
	// (e.g. "idea" or "exchange").
	TargetTypes() []string

	// ModelID names the LLM model this handler requires to be warm before
	// dispatch, or "" if the handler does no LLM call.
	ModelID() string

	// BatchSize is this handler's preferred claim batch size. The worker
	// does not consult it: each tick fetches up to the worker's own batch
	// size and dispatches each task type's bucket to its handler whole.
	BatchSize() int

	// Process runs the handler over tasks, returning exactly one Result per
	// input task, in any order.
	Process(ctx context.Context, tasks []memory.EnrichmentTask) []Result
}

// ModelWarmer ensures a named model is available before a handler's batch
// is dispatched. Implemented by [ModelManager].
type ModelWarmer interface {
	Ensure(ctx context.Context, modelID string) error
}

// Worker is the single cooperative poll loop over the enrichment queue.
type Worker struct {
	queue    memory.QueueStore
	handlers map[string]Handler
	models   ModelWarmer
	metrics  *observe.Metrics

	batchSize       int
	pollInterval    time.Duration
	maxAttempts     int
	lastStaleReset  time.Time
}

// NewWorker creates a Worker. handlers is keyed by TaskType() for lookup
// convenience; duplicate task types overwrite earlier registrations.
func NewWorker(queue memory.QueueStore, models ModelWarmer, metrics *observe.Metrics, batchSize int, pollInterval time.Duration, maxAttempts int, handlers ...Handler) *Worker {
	w := &Worker{
		queue:        queue,
		handlers:     make(map[string]Handler, len(handlers)),
		models:       models,
		metrics:      metrics,
		batchSize:    batchSize,
		pollInterval: pollInterval,
		maxAttempts:  maxAttempts,
	}
	for _, h := range handlers {
		w.handlers[h.TaskType()] = h
	}
	return w
}

// Run polls until ctx is cancelled, sleeping pollInterval whenever a tick
// claims nothing.
func (w *Worker) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		w.sweepStale(ctx)

		processed := w.tick(ctx)
		if processed > 0 {
			continue
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(w.pollInterval):
		}
	}
}

func (w *Worker) sweepStale(ctx context.Context) {
	if time.Since(w.lastStaleReset) < staleTaskAge {
		return
	}
	w.lastStaleReset = time.Now()
	n, err := w.queue.ResetStale(ctx, staleTaskAge, w.maxAttempts)
	if err != nil {
		slog.Warn("enrichment worker: reset stale failed", "err", err)
		return
	}
	if n > 0 {
		slog.Info("enrichment worker: reclaimed stale tasks", "count", n)
	}
}

// tick fetches up to batchSize pending tasks, buckets them by task_type,
// claims and dispatches each bucket to its handler, and maps results back
// to complete/fail. Returns the number of tasks successfully claimed and
// dispatched.
func (w *Worker) tick(ctx context.Context) int {
	taskTypes := make([]string, 0, len(w.handlers))
	for tt := range w.handlers {
		taskTypes = append(taskTypes, tt)
	}

	tasks, err := w.queue.Pending(ctx, w.batchSize, taskTypes)
	if err != nil {
		slog.Error("enrichment worker: fetch pending failed", "err", err)
		return 0
	}
	if len(tasks) == 0 {
		return 0
	}

	buckets := make(map[string][]memory.EnrichmentTask)
	for _, t := range tasks {
		buckets[t.TaskType] = append(buckets[t.TaskType], t)
	}

	processed := 0
	for taskType, bucket := range buckets {
		handler, ok := w.handlers[taskType]
		if !ok {
			continue
		}

		if model := handler.ModelID(); model != "" && w.models != nil {
			if err := w.models.Ensure(ctx, model); err != nil {
				slog.Warn("enrichment worker: model not warm, skipping bucket", "task_type", taskType, "model", model, "err", err)
				continue
			}
		}

		claimed := make([]memory.EnrichmentTask, 0, len(bucket))
		for _, t := range bucket {
			ok, err := w.queue.Claim(ctx, t.ID)
			if err != nil {
				slog.Warn("enrichment worker: claim failed", "task_id", t.ID, "err", err)
				continue
			}
			if !ok {
				continue
			}
			claimed = append(claimed, t)
		}
		if len(claimed) == 0 {
			continue
		}

		processed += w.dispatch(ctx, handler, claimed)
	}
	return processed
}

func (w *Worker) dispatch(ctx context.Context, handler Handler, claimed []memory.EnrichmentTask) int {
	start := time.Now()
	results := handler.Process(ctx, claimed)
	if w.metrics != nil {
		w.metrics.HandlerBatchDuration.Record(ctx, time.Since(start).Seconds())
	}

	byID := make(map[string]Result, len(results))
	for _, r := range results {
		byID[r.TaskID] = r
	}

	for _, t := range claimed {
		r, ok := byID[t.ID]
		if !ok {
			// Handler dropped a claimed item instead of reporting it — treat
			// as a failure for that item so it is marked failed rather than
			// left stuck in "processing".
			r = Result{TaskID: t.ID, Err: errMissingResult}
		}

		outcome := "completed"
		if r.Err != nil {
			outcome = "failed"
			if err := w.queue.Fail(ctx, t.ID, r.Err.Error()); err != nil {
				slog.Warn("enrichment worker: mark failed failed", "task_id", t.ID, "err", err)
			}
		} else if err := w.queue.Complete(ctx, t.ID); err != nil {
			slog.Warn("enrichment worker: mark complete failed", "task_id", t.ID, "err", err)
		}

		if w.metrics != nil {
			w.metrics.RecordEnrichmentOutcome(ctx, handler.TaskType(), outcome)
		}
	}

	return len(claimed)
}

var errMissingResult = errNoResult{}

type errNoResult struct{}

func (errNoResult) Error() string { return "enrichment: handler returned no result for task" }

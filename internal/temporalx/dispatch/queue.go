package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.temporal.io/api/serviceerror"
	"go.temporal.io/sdk/activity"
	temporalsdkclient "go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
	"go.temporal.io/sdk/workflow"

	"github.com/yungbote/withdrawal-aggregator/internal/domain"
	"github.com/yungbote/withdrawal-aggregator/internal/pkg/logger"
	"github.com/yungbote/withdrawal-aggregator/internal/queue"
)

// temporalQueue runs each dispatched group as its own workflow. The workflow
// id is derived from the group id, so a repeat dispatch of the same group
// attaches to the running execution instead of starting a second one.
type temporalQueue struct {
	tc        temporalsdkclient.Client
	taskQueue string
	opts      queue.Options
	log       *logger.Logger
	start     startPolicy

	mu       sync.Mutex
	worker   worker.Worker
	stopOnce sync.Once
}

func NewQueue(tc temporalsdkclient.Client, taskQueue string, baseLog *logger.Logger, opts queue.Options) (queue.Queue, error) {
	if tc == nil {
		return nil, fmt.Errorf("temporal client is not configured")
	}
	if taskQueue == "" {
		return nil, fmt.Errorf("task queue required")
	}
	if opts.Attempts < 1 {
		opts.Attempts = queue.DefaultOptions().Attempts
	}
	if opts.BackoffDelay <= 0 {
		opts.BackoffDelay = queue.DefaultOptions().BackoffDelay
	}
	return &temporalQueue{
		tc:        tc,
		taskQueue: taskQueue,
		opts:      opts,
		log:       baseLog.With("component", "TemporalQueue", "task_queue", taskQueue),
		start:     defaultStartPolicy,
	}, nil
}

func (q *temporalQueue) Name() string { return q.taskQueue }

// WorkflowID is the deterministic execution id for a dispatched group.
func WorkflowID(taskQueue string, jobType queue.JobType, groupID string) string {
	return taskQueue + "-" + string(jobType) + "-" + groupID
}

func (q *temporalQueue) Enqueue(ctx context.Context, jobType queue.JobType, payload queue.Payload) (*queue.JobHandle, error) {
	id := WorkflowID(q.taskQueue, jobType, payload.GroupID)
	run, err := q.tc.ExecuteWorkflow(ctx, temporalsdkclient.StartWorkflowOptions{
		ID:        id,
		TaskQueue: q.taskQueue,
	}, WorkflowName, Input{
		JobType:     jobType,
		Payload:     payload,
		MaxAttempts: q.opts.Attempts,
		BackoffMS:   q.opts.BackoffDelay.Milliseconds(),
	})
	if err != nil {
		var started *serviceerror.WorkflowExecutionAlreadyStarted
		if errors.As(err, &started) {
			return &queue.JobHandle{ID: id, Queue: q.taskQueue}, nil
		}
		return nil, domain.Tag(domain.ErrDispatch, fmt.Errorf("start workflow %s: %w", id, err))
	}
	return &queue.JobHandle{ID: run.GetID(), Queue: q.taskQueue}, nil
}

func (q *temporalQueue) RegisterConsumer(ctx context.Context, concurrency int, h queue.Handler) error {
	if h == nil {
		return fmt.Errorf("handler required")
	}
	if concurrency < 1 {
		concurrency = 1
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.worker != nil {
		return fmt.Errorf("consumer already registered on task queue %s", q.taskQueue)
	}

	acts := &Activities{Log: q.log, Handler: h}
	w, err := q.startWithRetry(ctx, func() worker.Worker {
		w := worker.New(q.tc, q.taskQueue, worker.Options{
			MaxConcurrentActivityExecutionSize:     concurrency,
			MaxConcurrentWorkflowTaskExecutionSize: concurrency,
		})
		Register(w, acts)
		return w
	})
	if err != nil {
		return err
	}
	q.worker = w
	go func() {
		<-ctx.Done()
		q.stopWorker()
	}()

	q.log.Info("Temporal worker started", "concurrency", concurrency)
	return nil
}

// startPolicy bounds how long RegisterConsumer keeps retrying a worker that
// cannot reach the server.
type startPolicy struct {
	initial time.Duration
	max     time.Duration
	maxWait time.Duration
}

var defaultStartPolicy = startPolicy{
	initial: 250 * time.Millisecond,
	max:     5 * time.Second,
	maxWait: 60 * time.Second,
}

func (q *temporalQueue) startWithRetry(ctx context.Context, newWorker func() worker.Worker) (worker.Worker, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = q.start.initial
	b.MaxInterval = q.start.max
	b.Multiplier = 2
	b.RandomizationFactor = 0

	attempt := 0
	w, err := backoff.Retry(ctx, func() (worker.Worker, error) {
		attempt++
		w := newWorker()
		err := w.Start()
		if err == nil {
			return w, nil
		}
		w.Stop()
		var nfe *serviceerror.NamespaceNotFound
		if errors.As(err, &nfe) {
			return nil, backoff.Permanent(err)
		}
		return nil, err
	},
		backoff.WithBackOff(b),
		backoff.WithMaxElapsedTime(q.start.maxWait),
		backoff.WithNotify(func(err error, next time.Duration) {
			q.log.Warn("Temporal worker failed to start; retrying", "attempt", attempt, "retry_in", next, "error", err)
		}),
	)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("start temporal worker on %s after %d attempts: %w", q.taskQueue, attempt, err)
	}
	return w, nil
}

func (q *temporalQueue) stopWorker() {
	q.mu.Lock()
	w := q.worker
	q.mu.Unlock()
	if w == nil {
		return
	}
	q.stopOnce.Do(w.Stop)
}

// Close stops the worker, waiting for in-flight activities. The client is
// owned by the caller.
func (q *temporalQueue) Close() error {
	q.stopWorker()
	return nil
}

// Register binds the workflow and activity under their stable names.
func Register(r worker.Registry, acts *Activities) {
	r.RegisterWorkflowWithOptions(Workflow, workflow.RegisterOptions{Name: WorkflowName})
	r.RegisterActivityWithOptions(acts.ProcessBatch, activity.RegisterOptions{Name: ActivityProcessBatch})
}

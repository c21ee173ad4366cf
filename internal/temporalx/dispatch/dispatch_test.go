package dispatch

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.temporal.io/api/serviceerror"
	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/testsuite"
	"go.temporal.io/sdk/worker"
	"go.temporal.io/sdk/workflow"

	"github.com/yungbote/withdrawal-aggregator/internal/pkg/logger"
	"github.com/yungbote/withdrawal-aggregator/internal/queue"
)

func newEnv(t *testing.T, h queue.Handler) *testsuite.TestWorkflowEnvironment {
	t.Helper()
	var s testsuite.WorkflowTestSuite
	env := s.NewTestWorkflowEnvironment()
	acts := &Activities{Log: logger.NewNop(), Handler: h}
	env.RegisterWorkflowWithOptions(Workflow, workflow.RegisterOptions{Name: WorkflowName})
	env.RegisterActivityWithOptions(acts.ProcessBatch, activity.RegisterOptions{Name: ActivityProcessBatch})
	return env
}

func input(groupID string) Input {
	return Input{
		JobType:     queue.JobProcessBatch,
		Payload:     queue.Payload{GroupID: groupID},
		MaxAttempts: 3,
		BackoffMS:   1000,
	}
}

func TestWorkflow_Succeeds(t *testing.T) {
	var got atomic.Value
	env := newEnv(t, func(ctx context.Context, job *queue.Job) error {
		got.Store(*job)
		return nil
	})
	env.ExecuteWorkflow(WorkflowName, input("g-1"))

	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())
	job := got.Load().(queue.Job)
	assert.Equal(t, "g-1", job.Payload.GroupID)
	assert.Equal(t, queue.JobProcessBatch, job.Type)
	assert.Equal(t, 0, job.AttemptsMade)
	assert.Equal(t, 3, job.MaxAttempts)
}

func TestWorkflow_RetriesUntilSuccess(t *testing.T) {
	var calls atomic.Int32
	env := newEnv(t, func(ctx context.Context, job *queue.Job) error {
		if calls.Add(1) < 3 {
			return errors.New("settlement unavailable")
		}
		return nil
	})
	env.ExecuteWorkflow(WorkflowName, input("g-2"))

	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())
	assert.Equal(t, int32(3), calls.Load())
}

func TestWorkflow_ExhaustsAttempts(t *testing.T) {
	var calls atomic.Int32
	var sawFinal atomic.Bool
	env := newEnv(t, func(ctx context.Context, job *queue.Job) error {
		calls.Add(1)
		if job.FinalAttempt() {
			sawFinal.Store(true)
		}
		return errors.New("boom")
	})
	env.ExecuteWorkflow(WorkflowName, input("g-3"))

	require.True(t, env.IsWorkflowCompleted())
	require.Error(t, env.GetWorkflowError())
	assert.Equal(t, int32(3), calls.Load())
	assert.True(t, sawFinal.Load())
}

func TestWorkflow_RejectsMissingGroup(t *testing.T) {
	var calls atomic.Int32
	env := newEnv(t, func(ctx context.Context, job *queue.Job) error {
		calls.Add(1)
		return nil
	})
	env.ExecuteWorkflow(WorkflowName, input(""))

	require.True(t, env.IsWorkflowCompleted())
	require.Error(t, env.GetWorkflowError())
	assert.Zero(t, calls.Load())
}

func TestWorkflowID_IsStablePerGroup(t *testing.T) {
	a := WorkflowID("withdrawal", queue.JobProcessBatch, "g-1")
	assert.Equal(t, "withdrawal-processBatch-g-1", a)
	assert.Equal(t, a, WorkflowID("withdrawal", queue.JobProcessBatch, "g-1"))
	assert.NotEqual(t, a, WorkflowID("claim", queue.JobProcessBatch, "g-1"))
}

func TestNewQueue_RequiresClient(t *testing.T) {
	_, err := NewQueue(nil, "withdrawal", logger.NewNop(), queue.DefaultOptions())
	assert.Error(t, err)
}

// stubWorker fails Start with the queued errors, then succeeds.
type stubWorker struct {
	worker.Worker
	startErr error
	stops    *atomic.Int32
}

func (w *stubWorker) Start() error { return w.startErr }
func (w *stubWorker) Stop()        { w.stops.Add(1) }

func testQueue(maxWait time.Duration) *temporalQueue {
	return &temporalQueue{
		taskQueue: "withdrawal",
		log:       logger.NewNop(),
		start:     startPolicy{initial: time.Millisecond, max: 4 * time.Millisecond, maxWait: maxWait},
	}
}

func TestStartWithRetry_RetriesUntilStarted(t *testing.T) {
	q := testQueue(time.Second)
	var stops atomic.Int32
	errs := []error{errors.New("connection refused"), errors.New("connection refused")}
	built := 0

	w, err := q.startWithRetry(context.Background(), func() worker.Worker {
		built++
		sw := &stubWorker{stops: &stops}
		if built <= len(errs) {
			sw.startErr = errs[built-1]
		}
		return sw
	})
	require.NoError(t, err)
	require.NotNil(t, w)
	assert.Equal(t, 3, built)
	assert.Equal(t, int32(2), stops.Load(), "each failed worker is stopped before a fresh one is built")
}

func TestStartWithRetry_MissingNamespaceIsPermanent(t *testing.T) {
	q := testQueue(time.Second)
	var stops atomic.Int32
	built := 0

	_, err := q.startWithRetry(context.Background(), func() worker.Worker {
		built++
		return &stubWorker{startErr: serviceerror.NewNamespaceNotFound("aggregator"), stops: &stops}
	})
	require.Error(t, err)
	var nfe *serviceerror.NamespaceNotFound
	assert.True(t, errors.As(err, &nfe))
	assert.Equal(t, 1, built)
}

func TestStartWithRetry_GivesUpAfterMaxWait(t *testing.T) {
	q := testQueue(20 * time.Millisecond)
	var stops atomic.Int32

	_, err := q.startWithRetry(context.Background(), func() worker.Worker {
		return &stubWorker{startErr: errors.New("unavailable"), stops: &stops}
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unavailable")
	assert.Greater(t, stops.Load(), int32(1))
}

func TestStartWithRetry_StopsOnCancel(t *testing.T) {
	q := testQueue(time.Minute)
	ctx, cancel := context.WithCancel(context.Background())
	var stops atomic.Int32

	_, err := q.startWithRetry(ctx, func() worker.Worker {
		cancel()
		return &stubWorker{startErr: errors.New("unavailable"), stops: &stops}
	})
	assert.ErrorIs(t, err, context.Canceled)
}

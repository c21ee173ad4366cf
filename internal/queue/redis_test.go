package queue

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yungbote/withdrawal-aggregator/internal/domain"
	"github.com/yungbote/withdrawal-aggregator/internal/pkg/logger"
)

func fastOptions() Options {
	return Options{
		Attempts:         3,
		BackoffDelay:     5 * time.Millisecond,
		RemoveOnComplete: true,
		PollInterval:     2 * time.Millisecond,
	}
}

func newTestQueue(t *testing.T, opts Options) (*miniredis.Miniredis, *redisQueue) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	q, err := NewRedisQueue(rdb, "withdrawal", logger.NewNop(), opts)
	require.NoError(t, err)
	rq := q.(*redisQueue)
	t.Cleanup(func() { _ = rq.Close() })
	return mr, rq
}

func TestRetryDelay(t *testing.T) {
	assert.Equal(t, time.Second, RetryDelay(time.Second, 1))
	assert.Equal(t, 2*time.Second, RetryDelay(time.Second, 2))
	assert.Equal(t, 4*time.Second, RetryDelay(time.Second, 3))
	assert.Equal(t, time.Second, RetryDelay(time.Second, 0))
}

func TestDefaultOptions(t *testing.T) {
	o := DefaultOptions()
	assert.Equal(t, 3, o.Attempts)
	assert.Equal(t, time.Second, o.BackoffDelay)
	assert.True(t, o.RemoveOnComplete)
	assert.Equal(t, 30*time.Second, o.StallTimeout)

	n := Options{}.normalized()
	assert.Equal(t, 3, n.Attempts)
	assert.Equal(t, time.Second, n.BackoffDelay)
}

func TestEnqueue_WritesMessage(t *testing.T) {
	mr, q := newTestQueue(t, DefaultOptions())
	ctx := context.Background()

	h, err := q.Enqueue(ctx, JobProcessBatch, Payload{GroupID: "g-1"})
	require.NoError(t, err)
	assert.Equal(t, "withdrawal", h.Queue)
	require.NotEmpty(t, h.ID)

	raw := mr.HGet("bull:withdrawal:job:"+h.ID, "data")
	var msg Message
	require.NoError(t, json.Unmarshal([]byte(raw), &msg))
	assert.Equal(t, Message{Type: JobProcessBatch, Payload: Payload{GroupID: "g-1"}}, msg)
	assert.JSONEq(t, `{"type":"processBatch","payload":{"groupId":"g-1"}}`, raw)
	assert.Equal(t, "3", mr.HGet("bull:withdrawal:job:"+h.ID, "maxAttempts"))

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, Stats{Waiting: 1}, stats)
}

func TestConsumer_CompletesAndRemovesJob(t *testing.T) {
	mr, q := newTestQueue(t, fastOptions())
	ctx := context.Background()

	h, err := q.Enqueue(ctx, JobProcessBatch, Payload{GroupID: "g-ok"})
	require.NoError(t, err)

	var seen atomic.Value
	require.NoError(t, q.RegisterConsumer(ctx, 1, func(ctx context.Context, job *Job) error {
		seen.Store(*job)
		return nil
	}))

	require.Eventually(t, func() bool {
		return !mr.Exists("bull:withdrawal:job:" + h.ID)
	}, 2*time.Second, 5*time.Millisecond)

	job := seen.Load().(Job)
	assert.Equal(t, h.ID, job.ID)
	assert.Equal(t, JobProcessBatch, job.Type)
	assert.Equal(t, "g-ok", job.Payload.GroupID)
	assert.Equal(t, 0, job.AttemptsMade)
	assert.Equal(t, 3, job.MaxAttempts)

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, Stats{}, stats)
}

func TestConsumer_RetriesThenSucceeds(t *testing.T) {
	mr, q := newTestQueue(t, fastOptions())
	ctx := context.Background()

	h, err := q.Enqueue(ctx, JobProcessBatch, Payload{GroupID: "g-flaky"})
	require.NoError(t, err)

	var mu sync.Mutex
	var attempts []int
	require.NoError(t, q.RegisterConsumer(ctx, 1, func(ctx context.Context, job *Job) error {
		mu.Lock()
		defer mu.Unlock()
		attempts = append(attempts, job.AttemptsMade)
		if len(attempts) < 3 {
			return errors.New("settlement unavailable")
		}
		return nil
	}))

	require.Eventually(t, func() bool {
		return !mr.Exists("bull:withdrawal:job:" + h.ID)
	}, 2*time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int{0, 1, 2}, attempts)
}

func TestConsumer_ExhaustedJobIsFailed(t *testing.T) {
	mr, q := newTestQueue(t, fastOptions())
	ctx := context.Background()

	h, err := q.Enqueue(ctx, JobProcessBatch, Payload{GroupID: "g-bad"})
	require.NoError(t, err)

	var calls atomic.Int32
	var final atomic.Bool
	require.NoError(t, q.RegisterConsumer(ctx, 1, func(ctx context.Context, job *Job) error {
		calls.Add(1)
		if job.FinalAttempt() {
			final.Store(true)
		}
		return errors.New("boom")
	}))

	require.Eventually(t, func() bool {
		return mr.HGet("bull:withdrawal:job:"+h.ID, "status") == statusFailed
	}, 2*time.Second, 5*time.Millisecond)

	// Give a stray extra attempt a chance to show up.
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, int32(3), calls.Load())
	assert.True(t, final.Load())

	failed, err := q.Failed(ctx, 10)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, h.ID, failed[0].ID)
	assert.Equal(t, "g-bad", failed[0].GroupID)
	assert.Equal(t, 3, failed[0].AttemptsMade)
	assert.Equal(t, "boom", failed[0].Reason)
	assert.False(t, failed[0].FailedAt.IsZero())

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, Stats{Failed: 1}, stats)
}

func TestConsumer_PanicCountsAsFailure(t *testing.T) {
	mr, q := newTestQueue(t, Options{Attempts: 1, BackoffDelay: time.Millisecond, RemoveOnComplete: true, PollInterval: 2 * time.Millisecond})
	ctx := context.Background()

	h, err := q.Enqueue(ctx, JobProcessBatch, Payload{GroupID: "g-panic"})
	require.NoError(t, err)
	require.NoError(t, q.RegisterConsumer(ctx, 1, func(ctx context.Context, job *Job) error {
		panic("nil settlement client")
	}))

	require.Eventually(t, func() bool {
		return mr.HGet("bull:withdrawal:job:"+h.ID, "status") == statusFailed
	}, 2*time.Second, 5*time.Millisecond)
	assert.Contains(t, mr.HGet("bull:withdrawal:job:"+h.ID, "failedReason"), "nil settlement client")
}

func TestConsumer_ConcurrencyIsBounded(t *testing.T) {
	_, q := newTestQueue(t, fastOptions())
	ctx := context.Background()

	const jobs = 8
	for i := 0; i < jobs; i++ {
		_, err := q.Enqueue(ctx, JobProcessBatch, Payload{GroupID: "g"})
		require.NoError(t, err)
	}

	var inFlight, peak, done atomic.Int32
	require.NoError(t, q.RegisterConsumer(ctx, 2, func(ctx context.Context, job *Job) error {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		inFlight.Add(-1)
		done.Add(1)
		return nil
	}))

	require.Eventually(t, func() bool { return done.Load() == jobs }, 3*time.Second, 5*time.Millisecond)
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestConsumer_ClaimStampsActiveJob(t *testing.T) {
	mr, q := newTestQueue(t, fastOptions())
	ctx := context.Background()

	h, err := q.Enqueue(ctx, JobProcessBatch, Payload{GroupID: "g-slow"})
	require.NoError(t, err)

	release := make(chan struct{})
	require.NoError(t, q.RegisterConsumer(ctx, 1, func(ctx context.Context, job *Job) error {
		<-release
		return nil
	}))

	require.Eventually(t, func() bool {
		members, err := mr.ZMembers("bull:withdrawal:active-since")
		return err == nil && len(members) == 1 && members[0] == h.ID
	}, 2*time.Second, 5*time.Millisecond)
	close(release)

	require.Eventually(t, func() bool {
		return !mr.Exists("bull:withdrawal:active-since") && !mr.Exists("bull:withdrawal:job:"+h.ID)
	}, 2*time.Second, 5*time.Millisecond)
}

func TestConsumer_StalledJobIsRedelivered(t *testing.T) {
	opts := fastOptions()
	opts.StallTimeout = 30 * time.Millisecond
	mr, q := newTestQueue(t, opts)
	ctx := context.Background()

	h, err := q.Enqueue(ctx, JobProcessBatch, Payload{GroupID: "g-orphan"})
	require.NoError(t, err)
	// A consumer claimed the job and died before finishing it.
	require.NoError(t, q.rdb.LMove(ctx, "bull:withdrawal:wait", "bull:withdrawal:active", "RIGHT", "LEFT").Err())

	var calls atomic.Int32
	var seen atomic.Value
	require.NoError(t, q.RegisterConsumer(ctx, 1, func(ctx context.Context, job *Job) error {
		calls.Add(1)
		seen.Store(*job)
		return nil
	}))

	require.Eventually(t, func() bool {
		return !mr.Exists("bull:withdrawal:job:" + h.ID)
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(1), calls.Load())
	job := seen.Load().(Job)
	assert.Equal(t, "g-orphan", job.Payload.GroupID)
	assert.Equal(t, 0, job.AttemptsMade, "a stall is not a failed attempt")

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, Stats{}, stats)
}

func TestConsumer_HeartbeatKeepsLongJobClaimed(t *testing.T) {
	opts := fastOptions()
	opts.StallTimeout = 60 * time.Millisecond
	_, q := newTestQueue(t, opts)
	ctx := context.Background()

	_, err := q.Enqueue(ctx, JobProcessBatch, Payload{GroupID: "g-long"})
	require.NoError(t, err)

	var calls, done atomic.Int32
	require.NoError(t, q.RegisterConsumer(ctx, 2, func(ctx context.Context, job *Job) error {
		calls.Add(1)
		time.Sleep(300 * time.Millisecond)
		done.Add(1)
		return nil
	}))

	require.Eventually(t, func() bool { return done.Load() == 1 }, 3*time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), calls.Load(), "a live job must not be handed to a second consumer")
}

func TestRecoverStalled_FirstSightingStartsClock(t *testing.T) {
	_, q := newTestQueue(t, fastOptions())
	ctx := context.Background()

	_, err := q.Enqueue(ctx, JobProcessBatch, Payload{GroupID: "g-1"})
	require.NoError(t, err)
	require.NoError(t, q.rdb.LMove(ctx, "bull:withdrawal:wait", "bull:withdrawal:active", "RIGHT", "LEFT").Err())

	// First sighting only starts the clock.
	ids, err := q.recoverStalled(ctx)
	require.NoError(t, err)
	assert.Empty(t, ids)

	base := time.Now()
	q.now = func() time.Time { return base.Add(q.opts.StallTimeout + time.Second) }
	ids, err = q.recoverStalled(ctx)
	require.NoError(t, err)
	assert.Len(t, ids, 1)

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, Stats{Waiting: 1}, stats)
}

func TestRegisterConsumer_Twice(t *testing.T) {
	_, q := newTestQueue(t, fastOptions())
	noop := func(ctx context.Context, job *Job) error { return nil }
	require.NoError(t, q.RegisterConsumer(context.Background(), 1, noop))
	assert.Error(t, q.RegisterConsumer(context.Background(), 1, noop))
	assert.Error(t, (&redisQueue{}).RegisterConsumer(context.Background(), 1, nil))
}

func TestEnqueue_FailureIsDispatchError(t *testing.T) {
	mr, q := newTestQueue(t, DefaultOptions())
	mr.Close()

	_, err := q.Enqueue(context.Background(), JobProcessBatch, Payload{GroupID: "g"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrDispatch))
}

func TestJobFinalAttempt(t *testing.T) {
	assert.False(t, (&Job{AttemptsMade: 0, MaxAttempts: 3}).FinalAttempt())
	assert.False(t, (&Job{AttemptsMade: 1, MaxAttempts: 3}).FinalAttempt())
	assert.True(t, (&Job{AttemptsMade: 2, MaxAttempts: 3}).FinalAttempt())
}

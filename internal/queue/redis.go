package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/yungbote/withdrawal-aggregator/internal/domain"
	"github.com/yungbote/withdrawal-aggregator/internal/pkg/logger"
)

var tracer = otel.Tracer("github.com/yungbote/withdrawal-aggregator/internal/queue")

const (
	statusWaiting = "waiting"
	statusDelayed = "delayed"
	statusFailed  = "failed"
	statusDone    = "completed"
)

// promoteScript moves due delayed jobs back onto the wait list atomically.
var promoteScript = goredis.NewScript(`
local ids = redis.call("ZRANGEBYSCORE", KEYS[1], "-inf", ARGV[1], "LIMIT", "0", ARGV[2])
for _, id in ipairs(ids) do
	redis.call("ZREM", KEYS[1], id)
	redis.call("LPUSH", KEYS[2], id)
end
return #ids
`)

// claimScript moves the oldest waiting job to active and stamps its claim
// time in the same step, so no active job is ever untracked.
var claimScript = goredis.NewScript(`
local id = redis.call("RPOPLPUSH", KEYS[1], KEYS[2])
if id then
	redis.call("ZADD", KEYS[3], ARGV[1], id)
end
return id
`)

// recoverScript hands active jobs whose last heartbeat is older than ARGV[2]
// back to the wait list, next in line. Active jobs with no stamp (left by an
// older consumer) start their clock now.
var recoverScript = goredis.NewScript(`
local ids = redis.call("LRANGE", KEYS[1], 0, -1)
local moved = {}
for _, id in ipairs(ids) do
	local since = redis.call("ZSCORE", KEYS[2], id)
	if not since then
		redis.call("ZADD", KEYS[2], ARGV[1], id)
	elseif tonumber(since) <= tonumber(ARGV[2]) then
		redis.call("LREM", KEYS[1], 1, id)
		redis.call("ZREM", KEYS[2], id)
		redis.call("HINCRBY", ARGV[3] .. id, "stalledCounter", 1)
		redis.call("RPUSH", KEYS[3], id)
		moved[#moved + 1] = id
	end
end
return moved
`)

// redisQueue keeps the job layout of a bull queue: a hash per job plus
// wait/active/failed lists, a delayed sorted set scored by due time and an
// active-since sorted set holding the last heartbeat of every claimed job.
type redisQueue struct {
	rdb  goredis.UniversalClient
	name string
	opts Options
	log  *logger.Logger
	now  func() time.Time

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func NewRedisQueue(rdb goredis.UniversalClient, name string, baseLog *logger.Logger, opts Options) (Queue, error) {
	if rdb == nil {
		return nil, fmt.Errorf("redis client required")
	}
	if name == "" {
		return nil, fmt.Errorf("queue name required")
	}
	return &redisQueue{
		rdb:  rdb,
		name: name,
		opts: opts.normalized(),
		log:  baseLog.With("component", "RedisQueue", "queue", name),
		now:  time.Now,
	}, nil
}

func (q *redisQueue) Name() string { return q.name }

func (q *redisQueue) key(suffix string) string { return "bull:" + q.name + ":" + suffix }
func (q *redisQueue) jobKey(id string) string  { return q.key("job:" + id) }

func (q *redisQueue) Enqueue(ctx context.Context, jobType JobType, payload Payload) (*JobHandle, error) {
	ctx, span := tracer.Start(ctx, "queue.Enqueue")
	defer span.End()

	raw, err := json.Marshal(Message{Type: jobType, Payload: payload})
	if err != nil {
		return nil, domain.Tag(domain.ErrDispatch, err)
	}
	id := uuid.NewString()
	span.SetAttributes(attribute.String("job.id", id), attribute.String("group.id", payload.GroupID))

	_, err = q.rdb.TxPipelined(ctx, func(p goredis.Pipeliner) error {
		p.HSet(ctx, q.jobKey(id), map[string]any{
			"data":         string(raw),
			"attemptsMade": 0,
			"maxAttempts":  q.opts.Attempts,
			"status":       statusWaiting,
			"timestamp":    q.now().UnixMilli(),
		})
		p.LPush(ctx, q.key("wait"), id)
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return nil, domain.Tag(domain.ErrDispatch, fmt.Errorf("enqueue %s: %w", jobType, err))
	}
	return &JobHandle{ID: id, Queue: q.name}, nil
}

func (q *redisQueue) RegisterConsumer(ctx context.Context, concurrency int, h Handler) error {
	if h == nil {
		return fmt.Errorf("handler required")
	}
	if concurrency < 1 {
		concurrency = 1
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.running {
		return fmt.Errorf("consumer already registered on queue %s", q.name)
	}
	ctx, cancel := context.WithCancel(ctx)
	q.cancel = cancel
	q.running = true

	q.log.Info("Starting queue consumers", "concurrency", concurrency, "stall_timeout", q.opts.StallTimeout)
	q.wg.Add(1)
	go q.stallLoop(ctx)
	for i := 0; i < concurrency; i++ {
		q.wg.Add(1)
		go q.runLoop(ctx, i+1, h)
	}
	return nil
}

func (q *redisQueue) Close() error {
	q.mu.Lock()
	cancel := q.cancel
	q.cancel = nil
	q.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	q.wg.Wait()
	return nil
}

func (q *redisQueue) runLoop(ctx context.Context, workerID int, h Handler) {
	defer q.wg.Done()
	ticker := time.NewTicker(q.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			q.log.Debug("Queue consumer stopped", "worker_id", workerID)
			return
		case <-ticker.C:
			for ctx.Err() == nil {
				processed, err := q.processNext(ctx, workerID, h)
				if err != nil {
					if ctx.Err() == nil {
						q.log.Warn("Queue poll failed", "worker_id", workerID, "error", err)
					}
					break
				}
				if !processed {
					break
				}
			}
		}
	}
}

// stallLoop reclaims jobs whose consumer died mid-run. Live consumers keep
// their jobs fresh through heartbeat.
func (q *redisQueue) stallLoop(ctx context.Context) {
	defer q.wg.Done()
	interval := max(q.opts.StallTimeout/2, q.opts.PollInterval)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := q.recoverStalled(ctx); err != nil && ctx.Err() == nil {
			q.log.Warn("Stalled job check failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (q *redisQueue) recoverStalled(ctx context.Context) ([]string, error) {
	now := q.now()
	ids, err := recoverScript.Run(ctx, q.rdb,
		[]string{q.key("active"), q.key("active-since"), q.key("wait")},
		now.UnixMilli(), now.Add(-q.opts.StallTimeout).UnixMilli(), q.key("job:"),
	).StringSlice()
	if err != nil {
		return nil, fmt.Errorf("recover stalled jobs: %w", err)
	}
	for _, id := range ids {
		q.log.Warn("Stalled job returned to wait", "job_id", id, "stall_timeout", q.opts.StallTimeout)
	}
	return ids, nil
}

// heartbeat refreshes the claim stamp of id until the returned stop is called.
func (q *redisQueue) heartbeat(ctx context.Context, id string) (stop func()) {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(max(q.opts.StallTimeout/3, time.Millisecond))
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				err := q.rdb.ZAddXX(ctx, q.key("active-since"), goredis.Z{Score: float64(q.now().UnixMilli()), Member: id}).Err()
				if err != nil && ctx.Err() == nil {
					q.log.Warn("Job heartbeat failed", "job_id", id, "error", err)
				}
			}
		}
	}()
	return func() {
		cancel()
		<-done
	}
}

func (q *redisQueue) promoteDelayed(ctx context.Context) error {
	now := strconv.FormatInt(q.now().UnixMilli(), 10)
	return promoteScript.Run(ctx, q.rdb, []string{q.key("delayed"), q.key("wait")}, now, 100).Err()
}

// processNext claims and runs at most one job.
func (q *redisQueue) processNext(ctx context.Context, workerID int, h Handler) (bool, error) {
	if err := q.promoteDelayed(ctx); err != nil {
		return false, fmt.Errorf("promote delayed: %w", err)
	}
	id, err := claimScript.Run(ctx, q.rdb,
		[]string{q.key("wait"), q.key("active"), q.key("active-since")},
		q.now().UnixMilli(),
	).Text()
	if errors.Is(err, goredis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("claim job: %w", err)
	}

	// Bookkeeping must land even if the consumer is being stopped.
	bctx := context.WithoutCancel(ctx)

	fields, err := q.rdb.HGetAll(bctx, q.jobKey(id)).Result()
	if err != nil {
		return true, fmt.Errorf("load job %s: %w", id, err)
	}
	if len(fields) == 0 {
		q.log.Warn("Claimed job has no data; dropping", "job_id", id)
		_, err := q.rdb.TxPipelined(bctx, func(p goredis.Pipeliner) error {
			p.LRem(bctx, q.key("active"), 1, id)
			p.ZRem(bctx, q.key("active-since"), id)
			return nil
		})
		return true, err
	}
	job, err := decodeJob(id, fields)
	if err != nil {
		return true, q.moveToFailed(bctx, &Job{ID: id, MaxAttempts: q.opts.Attempts}, q.opts.Attempts, err)
	}

	stop := q.heartbeat(bctx, id)
	runErr := q.invoke(ctx, workerID, h, job)
	stop()
	if runErr == nil {
		return true, q.complete(bctx, job)
	}
	return true, q.retryOrFail(bctx, job, runErr)
}

func (q *redisQueue) invoke(ctx context.Context, workerID int, h Handler, job *Job) (err error) {
	ctx, span := tracer.Start(ctx, "queue.Handle")
	defer span.End()
	span.SetAttributes(
		attribute.String("job.id", job.ID),
		attribute.String("group.id", job.Payload.GroupID),
		attribute.Int("job.attempts_made", job.AttemptsMade),
	)
	defer func() {
		if r := recover(); r != nil {
			q.log.Error("Job handler panic", "worker_id", workerID, "job_id", job.ID, "panic", r)
			err = domain.Tag(domain.ErrHandler, fmt.Errorf("panic: %v", r))
		}
		if err != nil {
			span.RecordError(err)
		}
	}()
	return h(ctx, job)
}

func (q *redisQueue) complete(ctx context.Context, job *Job) error {
	_, err := q.rdb.TxPipelined(ctx, func(p goredis.Pipeliner) error {
		p.LRem(ctx, q.key("active"), 1, job.ID)
		p.ZRem(ctx, q.key("active-since"), job.ID)
		if q.opts.RemoveOnComplete {
			p.Del(ctx, q.jobKey(job.ID))
		} else {
			p.HSet(ctx, q.jobKey(job.ID), "status", statusDone, "finishedOn", q.now().UnixMilli())
			p.LPush(ctx, q.key("completed"), job.ID)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("complete job %s: %w", job.ID, err)
	}
	q.log.Info("Job completed", "job_id", job.ID, "group_id", job.Payload.GroupID, "attempts", job.AttemptsMade+1)
	return nil
}

func (q *redisQueue) retryOrFail(ctx context.Context, job *Job, runErr error) error {
	attempts := job.AttemptsMade + 1
	if attempts >= job.MaxAttempts {
		return q.moveToFailed(ctx, job, attempts, runErr)
	}
	delay := RetryDelay(q.opts.BackoffDelay, attempts)
	due := q.now().Add(delay).UnixMilli()
	_, err := q.rdb.TxPipelined(ctx, func(p goredis.Pipeliner) error {
		p.HSet(ctx, q.jobKey(job.ID),
			"attemptsMade", attempts,
			"failedReason", runErr.Error(),
			"status", statusDelayed,
		)
		p.LRem(ctx, q.key("active"), 1, job.ID)
		p.ZRem(ctx, q.key("active-since"), job.ID)
		p.ZAdd(ctx, q.key("delayed"), goredis.Z{Score: float64(due), Member: job.ID})
		return nil
	})
	if err != nil {
		return fmt.Errorf("schedule retry for job %s: %w", job.ID, err)
	}
	q.log.Warn("Job failed; retry scheduled",
		"job_id", job.ID,
		"group_id", job.Payload.GroupID,
		"attempt", attempts,
		"max_attempts", job.MaxAttempts,
		"delay", delay,
		"error", runErr,
	)
	return nil
}

// moveToFailed parks the job on the failed list. The error log line is the
// operational alert for exhausted jobs.
func (q *redisQueue) moveToFailed(ctx context.Context, job *Job, attempts int, runErr error) error {
	_, err := q.rdb.TxPipelined(ctx, func(p goredis.Pipeliner) error {
		p.HSet(ctx, q.jobKey(job.ID),
			"attemptsMade", attempts,
			"failedReason", runErr.Error(),
			"status", statusFailed,
			"finishedOn", q.now().UnixMilli(),
		)
		p.LRem(ctx, q.key("active"), 1, job.ID)
		p.ZRem(ctx, q.key("active-since"), job.ID)
		p.LPush(ctx, q.key("failed"), job.ID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("fail job %s: %w", job.ID, err)
	}
	q.log.Error("Job failed permanently",
		"job_id", job.ID,
		"group_id", job.Payload.GroupID,
		"attempts", attempts,
		"error", runErr,
	)
	return nil
}

func (q *redisQueue) Stats(ctx context.Context) (Stats, error) {
	var wait, active, delayed, failed *goredis.IntCmd
	_, err := q.rdb.Pipelined(ctx, func(p goredis.Pipeliner) error {
		wait = p.LLen(ctx, q.key("wait"))
		active = p.LLen(ctx, q.key("active"))
		delayed = p.ZCard(ctx, q.key("delayed"))
		failed = p.LLen(ctx, q.key("failed"))
		return nil
	})
	if err != nil {
		return Stats{}, fmt.Errorf("queue stats: %w", err)
	}
	return Stats{
		Waiting: wait.Val(),
		Active:  active.Val(),
		Delayed: delayed.Val(),
		Failed:  failed.Val(),
	}, nil
}

// Failed lists the most recently failed jobs, newest first.
func (q *redisQueue) Failed(ctx context.Context, limit int64) ([]FailedJob, error) {
	if limit <= 0 {
		limit = 50
	}
	ids, err := q.rdb.LRange(ctx, q.key("failed"), 0, limit-1).Result()
	if err != nil {
		return nil, fmt.Errorf("list failed jobs: %w", err)
	}
	out := make([]FailedJob, 0, len(ids))
	for _, id := range ids {
		fields, err := q.rdb.HGetAll(ctx, q.jobKey(id)).Result()
		if err != nil {
			return nil, fmt.Errorf("load failed job %s: %w", id, err)
		}
		if len(fields) == 0 {
			continue
		}
		fj := FailedJob{ID: id, Reason: fields["failedReason"]}
		if job, err := decodeJob(id, fields); err == nil {
			fj.Type = job.Type
			fj.GroupID = job.Payload.GroupID
			fj.AttemptsMade = job.AttemptsMade
		}
		if ms, err := strconv.ParseInt(fields["finishedOn"], 10, 64); err == nil {
			fj.FailedAt = time.UnixMilli(ms).UTC()
		}
		out = append(out, fj)
	}
	return out, nil
}

func decodeJob(id string, fields map[string]string) (*Job, error) {
	var msg Message
	if err := json.Unmarshal([]byte(fields["data"]), &msg); err != nil {
		return nil, fmt.Errorf("decode job %s: %w", id, err)
	}
	attempts, _ := strconv.Atoi(fields["attemptsMade"])
	maxAttempts, err := strconv.Atoi(fields["maxAttempts"])
	if err != nil || maxAttempts < 1 {
		maxAttempts = 1
	}
	return &Job{
		ID:           id,
		Type:         msg.Type,
		Payload:      msg.Payload,
		AttemptsMade: attempts,
		MaxAttempts:  maxAttempts,
	}, nil
}

package aggregate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/yungbote/withdrawal-aggregator/internal/data/groupstore"
	"github.com/yungbote/withdrawal-aggregator/internal/data/lease"
	"github.com/yungbote/withdrawal-aggregator/internal/data/repos/requests"
	"github.com/yungbote/withdrawal-aggregator/internal/domain"
	"github.com/yungbote/withdrawal-aggregator/internal/pkg/logger"
	"github.com/yungbote/withdrawal-aggregator/internal/queue"
)

var tracer = otel.Tracer("github.com/yungbote/withdrawal-aggregator/internal/jobs/aggregate")

type SkipReason string

const (
	SkipNone      SkipReason = ""
	SkipLocked    SkipReason = "locked"
	SkipNoPending SkipReason = "no_pending"
	SkipThreshold SkipReason = "threshold_not_met"
)

type Deps struct {
	Log    *logger.Logger
	Source requests.Source
	Store  groupstore.Store
	Queue  queue.Queue
	// Locker is optional; without it runs are not serialized.
	Locker lease.Locker
	Now    func() time.Time
}

type Settings struct {
	Type              domain.AggregatorType
	MinBatchSize      int
	MinWaitMinutes    int
	MaxGroupSize      int
	CreateParallelism int
	LockTTL           time.Duration
}

type Result struct {
	Type     domain.AggregatorType
	Pending  int
	Decision Decision
	GroupIDs []string
	Failed   int
	Skipped  SkipReason
}

type Job struct {
	deps Deps
	cfg  Settings
	log  *logger.Logger
}

func NewJob(deps Deps, cfg Settings) (*Job, error) {
	if err := cfg.Type.Validate(); err != nil {
		return nil, err
	}
	if deps.Source == nil || deps.Store == nil || deps.Queue == nil {
		return nil, fmt.Errorf("aggregate job missing deps")
	}
	if cfg.MaxGroupSize < 1 {
		return nil, domain.InvalidArgument("max group size must be positive")
	}
	if cfg.CreateParallelism < 1 {
		cfg.CreateParallelism = 1
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 5 * time.Minute
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Log == nil {
		deps.Log = logger.NewNop()
	}
	return &Job{
		deps: deps,
		cfg:  cfg,
		log:  deps.Log.With("component", "AggregateJob", "aggregator", string(cfg.Type)),
	}, nil
}

// Run performs one aggregation pass: collect pending requests that are not
// already in a retained group, and if the batching threshold is met, create
// one group per chunk and dispatch it.
func (j *Job) Run(ctx context.Context) (Result, error) {
	ctx, span := tracer.Start(ctx, "aggregate.Run")
	defer span.End()
	span.SetAttributes(attribute.String("aggregator.type", string(j.cfg.Type)))

	res := Result{Type: j.cfg.Type}

	if j.deps.Locker != nil {
		l, err := j.deps.Locker.Acquire(ctx, j.cfg.Type.LockKey(), j.cfg.LockTTL)
		if err != nil {
			return res, domain.Tag(domain.ErrStoreWrite, err)
		}
		if l == nil {
			j.log.Info("Another aggregation run holds the lock; skipping")
			res.Skipped = SkipLocked
			return res, nil
		}
		defer func() {
			if err := l.Release(context.WithoutCancel(ctx)); err != nil {
				j.log.Warn("Release run lock failed", "error", err)
			}
		}()
	}

	if n, err := j.deps.Store.Compact(ctx); err != nil {
		j.log.Warn("Group index compaction failed", "error", err)
	} else if n > 0 {
		j.log.Debug("Compacted group index", "removed", n)
	}

	processed, err := j.deps.Store.GetAllProcessedUUIDs(ctx)
	if err != nil {
		span.RecordError(err)
		return res, err
	}
	pending, err := j.deps.Source.FetchPending(ctx, j.cfg.Type, processed)
	if err != nil {
		span.RecordError(err)
		return res, err
	}
	res.Pending = len(pending)
	span.SetAttributes(attribute.Int("aggregator.pending", len(pending)))

	if len(pending) == 0 {
		j.log.Info("No pending requests")
		res.Skipped = SkipNoPending
		return res, nil
	}

	res.Decision = Evaluate(pending, j.deps.Now(), j.cfg.MinBatchSize, j.cfg.MinWaitMinutes)
	if !res.Decision.ShouldBatch() {
		j.log.Info("Batch threshold not met",
			"pending", len(pending),
			"min_batch_size", j.cfg.MinBatchSize,
			"oldest_age_minutes", res.Decision.OldestAgeMinutes,
			"min_wait_minutes", j.cfg.MinWaitMinutes,
		)
		res.Skipped = SkipThreshold
		return res, nil
	}

	chunks := Chunk(pending, j.cfg.MaxGroupSize)
	ids := make([]string, len(chunks))
	errs := make([]error, len(chunks))

	// Chunks are independent: one failing never cancels the others.
	var g errgroup.Group
	g.SetLimit(j.cfg.CreateParallelism)
	for i := range chunks {
		g.Go(func() error {
			ids[i], errs[i] = j.createAndDispatch(ctx, chunks[i])
			return nil
		})
	}
	_ = g.Wait()

	for i := range chunks {
		if errs[i] != nil {
			res.Failed++
			continue
		}
		res.GroupIDs = append(res.GroupIDs, ids[i])
	}

	j.log.Info("Aggregation run finished",
		"pending", len(pending),
		"groups", len(res.GroupIDs),
		"failed", res.Failed,
		"has_enough_requests", res.Decision.HasEnoughRequests,
		"is_old_enough", res.Decision.IsOldEnough,
	)
	if err := errors.Join(errs...); err != nil {
		span.RecordError(err)
		return res, err
	}
	return res, nil
}

func (j *Job) createAndDispatch(ctx context.Context, chunk []domain.PendingRequest) (string, error) {
	group := domain.NewPendingGroup(chunk, j.deps.Now())
	id, err := j.deps.Store.AddGroup(ctx, group)
	if err != nil {
		j.log.Error("Create group failed", "size", len(chunk), "error", err)
		return "", err
	}

	if _, err := j.deps.Queue.Enqueue(ctx, queue.JobProcessBatch, queue.Payload{GroupID: id}); err != nil {
		j.log.Error("Dispatch group failed", "group_id", id, "error", err)
		// Free the members so the next run picks them up again.
		if derr := j.deps.Store.DeleteGroup(context.WithoutCancel(ctx), id); derr != nil {
			j.log.Error("Orphaned group left undispatched", "group_id", id, "error", derr)
		}
		return "", err
	}
	j.log.Debug("Group dispatched", "group_id", id, "size", len(chunk))
	return id, nil
}

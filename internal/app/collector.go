package app

import (
	"context"
	"fmt"
	"time"

	"github.com/yungbote/withdrawal-aggregator/internal/data/db"
	"github.com/yungbote/withdrawal-aggregator/internal/jobs/aggregate"
)

func (a *App) AggregateJob() (*aggregate.Job, error) {
	if a.Repos.Requests == nil {
		return nil, fmt.Errorf("request source not wired (role %s)", a.Role)
	}
	return aggregate.NewJob(aggregate.Deps{
		Log:    a.Log,
		Source: a.Repos.Requests,
		Store:  a.Store,
		Queue:  a.Queue,
		Locker: a.Locker,
	}, aggregate.Settings{
		Type:              a.Cfg.AggregatorType,
		MinBatchSize:      a.Cfg.MinBatchSize,
		MinWaitMinutes:    a.Cfg.MinWaitMinutes,
		MaxGroupSize:      a.Cfg.GroupSize,
		CreateParallelism: a.Cfg.CreateParallelism,
		LockTTL:           a.Cfg.RunLockTTL(),
	})
}

// RunCollector performs a single aggregation pass.
func (a *App) RunCollector(ctx context.Context) (aggregate.Result, error) {
	job, err := a.AggregateJob()
	if err != nil {
		return aggregate.Result{}, err
	}

	start := time.Now()
	res, err := job.Run(ctx)
	outcome := string(res.Skipped)
	switch {
	case err != nil:
		outcome = "error"
	case outcome == "":
		outcome = "ok"
	}
	a.Metrics.ObserveRun(string(a.Cfg.AggregatorType), outcome, res.Pending, len(res.GroupIDs), res.Failed, time.Since(start))

	if err != nil {
		a.Log.Error("Aggregation run failed",
			"error", err,
			"retryable", db.IsRetryable(err),
			"groups", len(res.GroupIDs),
			"failed", res.Failed,
		)
		return res, err
	}
	return res, nil
}

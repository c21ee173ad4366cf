package app

import (
	"fmt"

	"github.com/yungbote/withdrawal-aggregator/internal/config"
	"github.com/yungbote/withdrawal-aggregator/internal/queue"
	"github.com/yungbote/withdrawal-aggregator/internal/temporalx/dispatch"
)

// wireQueue binds the dispatch queue named after the aggregator type, so the
// withdrawal and claim pipelines never share jobs.
func (a *App) wireQueue() error {
	name := string(a.Cfg.AggregatorType)
	opts := queue.DefaultOptions()
	if d := a.Cfg.QueueStallTimeout(); d > 0 {
		opts.StallTimeout = d
	}

	var (
		q   queue.Queue
		err error
	)
	switch a.Cfg.QueueBackend {
	case config.QueueBackendTemporal:
		q, err = dispatch.NewQueue(a.Temporal, a.temporalConfig().TaskQueue, a.Log, opts)
	default:
		q, err = queue.NewRedisQueue(a.Redis, name, a.Log, opts)
	}
	if err != nil {
		return fmt.Errorf("init %s queue: %w", a.Cfg.QueueBackend, err)
	}
	a.Queue = q
	a.onClose(func() { _ = q.Close() })
	a.Log.Info("Dispatch queue ready", "backend", a.Cfg.QueueBackend, "queue", q.Name())
	return nil
}

// Inspector returns the queue's backlog view, or nil when the backend has none.
func (a *App) Inspector() queue.Inspector {
	insp, _ := a.Queue.(queue.Inspector)
	return insp
}

package app

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	httpserver "github.com/yungbote/withdrawal-aggregator/internal/http"
	httpH "github.com/yungbote/withdrawal-aggregator/internal/http/handlers"
	"github.com/yungbote/withdrawal-aggregator/internal/jobs/processbatch"
	"github.com/yungbote/withdrawal-aggregator/internal/queue"
)

// ProcessBatchHandler builds the consumer-side handler. settler may be nil,
// in which case groups are only logged.
func (a *App) ProcessBatchHandler(settler processbatch.Settler) (queue.Handler, error) {
	if settler == nil {
		settler = processbatch.LogSettler{Log: a.Log}
	}
	h, err := processbatch.NewHandler(a.Cfg.AggregatorType, a.Store, settler, a.Log)
	if err != nil {
		return nil, err
	}
	return a.Metrics.InstrumentHandler(string(a.Cfg.AggregatorType), h.Handle), nil
}

func (a *App) AdminServer() *httpserver.Server {
	checks := map[string]httpH.Pinger{
		"redis": httpH.PingFunc(func(ctx context.Context) error { return a.Redis.Ping(ctx).Err() }),
	}
	if a.Postgres != nil {
		checks["postgres"] = a.Postgres
	}
	return httpserver.NewServer(httpserver.RouterConfig{
		ServiceName:   "withdrawal-aggregator-" + string(a.Role),
		Log:           a.Log.With("component", "AdminAPI"),
		Metrics:       a.Metrics,
		HealthHandler: httpH.NewHealthHandler(checks),
		GroupHandler:  httpH.NewGroupHandler(a.Cfg.AggregatorType, a.Store),
		QueueHandler:  httpH.NewQueueHandler(a.Queue.Name(), a.Inspector()),
	})
}

// RunProcessor consumes processBatch jobs and serves the admin API until ctx
// is done.
func (a *App) RunProcessor(ctx context.Context, settler processbatch.Settler) error {
	h, err := a.ProcessBatchHandler(settler)
	if err != nil {
		return err
	}
	if err := a.Queue.RegisterConsumer(ctx, a.Cfg.QueueConcurrency, h); err != nil {
		return fmt.Errorf("register consumer: %w", err)
	}

	a.Metrics.StartQueueCollector(ctx, a.Log, a.Queue.Name(), a.Inspector(), 15*time.Second)
	a.Metrics.StartRedisCollector(ctx, a.Log, a.Cfg.Redis.Addr, a.Redis, 15*time.Second)

	g, gctx := errgroup.WithContext(ctx)
	if a.Cfg.AdminAddr != "" {
		srv := a.AdminServer()
		g.Go(func() error {
			a.Log.Info("Admin API listening", "addr", a.Cfg.AdminAddr)
			return srv.Run(gctx, a.Cfg.AdminAddr)
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		return nil
	})
	err = g.Wait()
	a.Log.Info("Processor stopping")
	return err
}

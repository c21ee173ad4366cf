package app

import (
	"context"
	"fmt"

	goredis "github.com/redis/go-redis/v9"
	temporalsdkclient "go.temporal.io/sdk/client"

	"github.com/yungbote/withdrawal-aggregator/internal/config"
	"github.com/yungbote/withdrawal-aggregator/internal/data/db"
	"github.com/yungbote/withdrawal-aggregator/internal/data/groupstore"
	"github.com/yungbote/withdrawal-aggregator/internal/data/lease"
	"github.com/yungbote/withdrawal-aggregator/internal/data/repos"
	"github.com/yungbote/withdrawal-aggregator/internal/observability"
	"github.com/yungbote/withdrawal-aggregator/internal/pkg/logger"
	"github.com/yungbote/withdrawal-aggregator/internal/queue"
)

// Role selects which dependencies New wires. The collector reads the request
// tables; the processor only needs Redis and the queue.
type Role string

const (
	RoleCollector Role = "collector"
	RoleProcessor Role = "processor"
)

type App struct {
	Log     *logger.Logger
	Cfg     *config.Config
	Role    Role
	Metrics *observability.Metrics

	Redis    *goredis.Client
	Postgres *db.PostgresService
	Temporal temporalsdkclient.Client
	Repos    repos.Repos

	Store  groupstore.Store
	Queue  queue.Queue
	Locker lease.Locker

	closers []func()
}

func New(ctx context.Context, cfg *config.Config, log *logger.Logger, role Role) (*App, error) {
	if cfg == nil || log == nil {
		return nil, fmt.Errorf("app: config and logger required")
	}
	a := &App{
		Log:  log.With("aggregator", string(cfg.AggregatorType), "role", string(role)),
		Cfg:  cfg,
		Role: role,
	}
	if cfg.MetricsEnabled {
		a.Metrics = observability.NewMetrics()
	}

	shutdown := observability.InitOTel(ctx, a.Log, "withdrawal-aggregator-"+string(role), cfg.Otel)
	a.onClose(func() { _ = shutdown(context.Background()) })

	if err := a.wireClients(ctx); err != nil {
		a.Close()
		return nil, err
	}
	if err := a.wireData(); err != nil {
		a.Close()
		return nil, err
	}
	if err := a.wireQueue(); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) onClose(fn func()) {
	a.closers = append(a.closers, fn)
}

// Close releases resources in reverse construction order.
func (a *App) Close() {
	if a == nil {
		return
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
	a.Log.Sync()
}

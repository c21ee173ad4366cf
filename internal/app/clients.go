package app

import (
	"context"
	"fmt"

	redisclient "github.com/yungbote/withdrawal-aggregator/internal/clients/redis"
	"github.com/yungbote/withdrawal-aggregator/internal/config"
	"github.com/yungbote/withdrawal-aggregator/internal/data/db"
	"github.com/yungbote/withdrawal-aggregator/internal/temporalx"
)

func (a *App) wireClients(ctx context.Context) error {
	a.Log.Info("Wiring clients...")

	rdb, err := redisclient.NewClient(ctx, a.Cfg.Redis, a.Log)
	if err != nil {
		return fmt.Errorf("init redis: %w", err)
	}
	a.Redis = rdb
	a.onClose(func() { _ = rdb.Close() })

	if a.Role == RoleCollector {
		pg, err := db.NewPostgresService(a.Cfg.Postgres, a.Log)
		if err != nil {
			return fmt.Errorf("init postgres: %w", err)
		}
		a.Postgres = pg
		a.onClose(func() { _ = pg.Close() })
	}

	if a.Cfg.QueueBackend == config.QueueBackendTemporal {
		tc, err := temporalx.NewClient(ctx, a.temporalConfig(), a.Log)
		if err != nil {
			return fmt.Errorf("init temporal: %w", err)
		}
		a.Temporal = tc
		a.onClose(tc.Close)
	}
	return nil
}

func (a *App) temporalConfig() temporalx.Config {
	return temporalx.FromConfig(a.Cfg.Temporal, string(a.Cfg.AggregatorType))
}

package app

import (
	"fmt"

	"github.com/yungbote/withdrawal-aggregator/internal/data/groupstore"
	"github.com/yungbote/withdrawal-aggregator/internal/data/lease"
	"github.com/yungbote/withdrawal-aggregator/internal/data/repos"
)

func (a *App) wireData() error {
	store, err := groupstore.New(a.Redis, a.Cfg.AggregatorType, a.Log)
	if err != nil {
		return fmt.Errorf("init group store: %w", err)
	}
	a.Store = store
	a.Locker = lease.NewRedisLocker(a.Redis)
	if a.Postgres != nil {
		a.Repos = repos.New(a.Postgres.DB(), a.Log)
	}
	return nil
}

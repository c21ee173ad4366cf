package requests

import (
	"context"
	"fmt"
	"maps"
	"slices"

	"gorm.io/gorm"

	"github.com/yungbote/withdrawal-aggregator/internal/domain"
	"github.com/yungbote/withdrawal-aggregator/internal/pkg/logger"
)

// DefaultMaxInlineExclusions bounds the NOT IN list sent to the database.
// Postgres caps a statement at 65535 bind parameters.
const DefaultMaxInlineExclusions = 10000

// Source reads requests awaiting batching. Rows are projected to uuid and
// created_at and ordered oldest first.
type Source interface {
	FetchPending(ctx context.Context, t domain.AggregatorType, exclude map[string]struct{}) ([]domain.PendingRequest, error)
}

type requestRepo struct {
	db        *gorm.DB
	log       *logger.Logger
	maxInline int
}

func NewRequestRepo(db *gorm.DB, baseLog *logger.Logger) Source {
	return &requestRepo{
		db:        db,
		log:       baseLog.With("repo", "RequestRepo"),
		maxInline: DefaultMaxInlineExclusions,
	}
}

func (r *requestRepo) FetchPending(ctx context.Context, t domain.AggregatorType, exclude map[string]struct{}) ([]domain.PendingRequest, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}

	q := r.db.WithContext(ctx).
		Table(t.SourceTable()).
		Select("uuid", "created_at").
		Where("status = ?", domain.RequestStatusRequested)

	inline := len(exclude) > 0 && len(exclude) <= r.maxInline
	if inline {
		// gorm renders an empty slice as NOT IN (NULL), which matches nothing.
		q = q.Where("uuid NOT IN ?", slices.Sorted(maps.Keys(exclude)))
	}

	var rows []domain.PendingRequest
	if err := q.Order("created_at ASC").Order("uuid ASC").Scan(&rows).Error; err != nil {
		return nil, domain.Tag(domain.ErrSourceQuery, fmt.Errorf("fetch pending %s requests: %w", t, err))
	}

	if len(exclude) > 0 && !inline {
		r.log.Debug("Applying exclusion set in process", "type", t, "excluded", len(exclude))
		rows = slices.DeleteFunc(rows, func(p domain.PendingRequest) bool {
			_, done := exclude[p.UUID]
			return done
		})
	}
	return rows, nil
}

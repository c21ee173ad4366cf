package processbatch

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yungbote/withdrawal-aggregator/internal/data/groupstore"
	"github.com/yungbote/withdrawal-aggregator/internal/domain"
	"github.com/yungbote/withdrawal-aggregator/internal/pkg/logger"
	"github.com/yungbote/withdrawal-aggregator/internal/queue"
)

type settlerFunc func(ctx context.Context, t domain.AggregatorType, g *domain.RequestGroup) error

func (f settlerFunc) Settle(ctx context.Context, t domain.AggregatorType, g *domain.RequestGroup) error {
	return f(ctx, t, g)
}

func newStore(t *testing.T) groupstore.Store {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	s, err := groupstore.New(rdb, domain.AggregatorClaim, logger.NewNop())
	require.NoError(t, err)
	return s
}

func addGroup(t *testing.T, s groupstore.Store) string {
	t.Helper()
	g := domain.NewPendingGroup([]domain.PendingRequest{{UUID: "c-1"}, {UUID: "c-2"}}, time.Now())
	id, err := s.AddGroup(context.Background(), g)
	require.NoError(t, err)
	return id
}

func job(groupID string, attemptsMade int) *queue.Job {
	return &queue.Job{
		ID:           "job-1",
		Type:         queue.JobProcessBatch,
		Payload:      queue.Payload{GroupID: groupID},
		AttemptsMade: attemptsMade,
		MaxAttempts:  3,
	}
}

func TestHandle_SettlesGroup(t *testing.T) {
	s := newStore(t)
	id := addGroup(t, s)

	var settled []string
	h, err := NewHandler(domain.AggregatorClaim, s, settlerFunc(func(ctx context.Context, typ domain.AggregatorType, g *domain.RequestGroup) error {
		assert.Equal(t, domain.AggregatorClaim, typ)
		settled = append(settled, g.MemberUUIDs...)
		return nil
	}), logger.NewNop())
	require.NoError(t, err)

	require.NoError(t, h.Handle(context.Background(), job(id, 0)))
	assert.Equal(t, []string{"c-1", "c-2"}, settled)

	g, err := s.GetGroup(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, domain.GroupStatusSuccess, g.Status)

	// Redelivery of a settled group is acknowledged without settling again.
	require.NoError(t, h.Handle(context.Background(), job(id, 0)))
	assert.Len(t, settled, 2)
}

func TestHandle_FailureMarksGroupOnFinalAttempt(t *testing.T) {
	s := newStore(t)
	id := addGroup(t, s)
	h, err := NewHandler(domain.AggregatorClaim, s, settlerFunc(func(context.Context, domain.AggregatorType, *domain.RequestGroup) error {
		return errors.New("ledger timeout")
	}), logger.NewNop())
	require.NoError(t, err)
	ctx := context.Background()

	err = h.Handle(ctx, job(id, 0))
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrHandler))
	g, _ := s.GetGroup(ctx, id)
	assert.Equal(t, domain.GroupStatusProcessing, g.Status)

	require.Error(t, h.Handle(ctx, job(id, 2)))
	g, _ = s.GetGroup(ctx, id)
	assert.Equal(t, domain.GroupStatusFailed, g.Status)
	assert.Equal(t, "ledger timeout", g.LastError)
}

func TestHandle_MissingGroupIsAcked(t *testing.T) {
	s := newStore(t)
	h, err := NewHandler(domain.AggregatorClaim, s, LogSettler{Log: logger.NewNop()}, logger.NewNop())
	require.NoError(t, err)
	assert.NoError(t, h.Handle(context.Background(), job("gone", 0)))
}

func TestNewHandler_RequiresDeps(t *testing.T) {
	_, err := NewHandler(domain.AggregatorClaim, nil, nil, logger.NewNop())
	assert.Error(t, err)
}

package groupstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/yungbote/withdrawal-aggregator/internal/domain"
	"github.com/yungbote/withdrawal-aggregator/internal/pkg/logger"
)

// DefaultRetention is how long a group record, and therefore the dedup entry
// for its members, lives after creation.
const DefaultRetention = 30 * time.Minute

// mgetBatch bounds the number of keys fetched per MGET round trip.
const mgetBatch = 500

var tracer = otel.Tracer("github.com/yungbote/withdrawal-aggregator/internal/data/groupstore")

// Store is the dedup/group store of one aggregator type.
type Store interface {
	GetGroup(ctx context.Context, id string) (*domain.RequestGroup, error)
	AddGroup(ctx context.Context, group *domain.RequestGroup) (string, error)
	UpdateGroup(ctx context.Context, id string, upd domain.GroupUpdate) (bool, error)
	DeleteGroup(ctx context.Context, id string) error
	GetAllGroups(ctx context.Context) ([]*domain.RequestGroup, error)
	GetAllProcessedUUIDs(ctx context.Context) (map[string]struct{}, error)
	Compact(ctx context.Context) (int64, error)
}

type Option func(*redisStore)

func WithRetention(d time.Duration) Option {
	return func(s *redisStore) {
		if d > 0 {
			s.retention = d
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *redisStore) {
		if now != nil {
			s.now = now
		}
	}
}

type redisStore struct {
	rdb       goredis.UniversalClient
	typ       domain.AggregatorType
	prefix    string
	indexKey  string
	retention time.Duration
	now       func() time.Time
	log       *logger.Logger
}

func New(rdb goredis.UniversalClient, t domain.AggregatorType, baseLog *logger.Logger, opts ...Option) (Store, error) {
	if rdb == nil {
		return nil, fmt.Errorf("redis client required")
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	s := &redisStore{
		rdb:       rdb,
		typ:       t,
		prefix:    t.KeyPrefix(),
		indexKey:  t.GroupIndexKey(),
		retention: DefaultRetention,
		now:       time.Now,
		log:       baseLog.With("component", "GroupStore", "type", t),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *redisStore) key(id string) string { return s.prefix + id }

func (s *redisStore) GetGroup(ctx context.Context, id string) (*domain.RequestGroup, error) {
	raw, err := s.rdb.Get(ctx, s.key(id)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, domain.Tag(domain.ErrStoreRead, fmt.Errorf("get group %s: %w", id, err))
	}
	g, err := decodeGroup(id, raw)
	if err != nil {
		return nil, domain.Tag(domain.ErrStoreRead, err)
	}
	return g, nil
}

// AddGroup writes the record, its TTL and the index entry in one MULTI/EXEC so
// neither an unindexed record nor a dangling index entry can be observed.
func (s *redisStore) AddGroup(ctx context.Context, group *domain.RequestGroup) (string, error) {
	if group == nil || len(group.MemberUUIDs) == 0 {
		return "", domain.InvalidArgument("group must have at least one member")
	}
	ctx, span := tracer.Start(ctx, "groupstore.AddGroup")
	defer span.End()

	now := s.now()
	rec := *group
	rec.ID = uuid.NewString()
	if rec.Status == "" {
		rec.Status = domain.GroupStatusPending
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = rec.CreatedAt
	}
	raw, err := encodeGroup(&rec)
	if err != nil {
		return "", domain.Tag(domain.ErrStoreWrite, err)
	}
	span.SetAttributes(
		attribute.String("group.id", rec.ID),
		attribute.Int("group.size", len(rec.MemberUUIDs)),
	)

	key := s.key(rec.ID)
	_, err = s.rdb.TxPipelined(ctx, func(p goredis.Pipeliner) error {
		p.Set(ctx, key, raw, 0)
		p.Expire(ctx, key, s.retention)
		p.ZAdd(ctx, s.indexKey, goredis.Z{Score: float64(now.UnixMilli()), Member: rec.ID})
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return "", domain.Tag(domain.ErrStoreWrite, fmt.Errorf("add group: %w", err))
	}
	return rec.ID, nil
}

// UpdateGroup is a plain read-modify-write; concurrent writers to the same id
// race and the last one wins. The write keeps the remaining TTL and is skipped
// when the record expired in between.
func (s *redisStore) UpdateGroup(ctx context.Context, id string, upd domain.GroupUpdate) (bool, error) {
	current, err := s.GetGroup(ctx, id)
	if err != nil {
		return false, err
	}
	if current == nil {
		return false, nil
	}
	if upd.Status != nil {
		current.Status = *upd.Status
	}
	if upd.LastError != nil {
		current.LastError = *upd.LastError
	}
	current.UpdatedAt = s.now()

	raw, err := encodeGroup(current)
	if err != nil {
		return false, domain.Tag(domain.ErrStoreWrite, err)
	}
	err = s.rdb.SetArgs(ctx, s.key(id), raw, goredis.SetArgs{Mode: "XX", KeepTTL: true}).Err()
	if errors.Is(err, goredis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, domain.Tag(domain.ErrStoreWrite, fmt.Errorf("update group %s: %w", id, err))
	}
	return true, nil
}

func (s *redisStore) DeleteGroup(ctx context.Context, id string) error {
	_, err := s.rdb.TxPipelined(ctx, func(p goredis.Pipeliner) error {
		p.Del(ctx, s.key(id))
		p.ZRem(ctx, s.indexKey, id)
		return nil
	})
	if err != nil {
		return domain.Tag(domain.ErrStoreWrite, fmt.Errorf("delete group %s: %w", id, err))
	}
	return nil
}

// GetAllGroups walks the index and fetches records in MGET batches. Index
// entries whose record has expired are skipped, not removed; see Compact.
func (s *redisStore) GetAllGroups(ctx context.Context) ([]*domain.RequestGroup, error) {
	ctx, span := tracer.Start(ctx, "groupstore.GetAllGroups")
	defer span.End()

	ids, err := s.rdb.ZRange(ctx, s.indexKey, 0, -1).Result()
	if err != nil {
		return nil, domain.Tag(domain.ErrStoreRead, fmt.Errorf("read group index: %w", err))
	}
	out := make([]*domain.RequestGroup, 0, len(ids))
	stale := 0
	for start := 0; start < len(ids); start += mgetBatch {
		end := min(start+mgetBatch, len(ids))
		batch := ids[start:end]
		keys := make([]string, len(batch))
		for i, id := range batch {
			keys[i] = s.key(id)
		}
		vals, err := s.rdb.MGet(ctx, keys...).Result()
		if err != nil {
			return nil, domain.Tag(domain.ErrStoreRead, fmt.Errorf("fetch groups: %w", err))
		}
		for i, v := range vals {
			str, ok := v.(string)
			if !ok {
				stale++
				continue
			}
			g, err := decodeGroup(batch[i], []byte(str))
			if err != nil {
				return nil, domain.Tag(domain.ErrStoreRead, err)
			}
			out = append(out, g)
		}
	}
	span.SetAttributes(attribute.Int("groups.live", len(out)), attribute.Int("groups.stale", stale))
	if stale > 0 {
		s.log.Debug("Skipped expired group index entries", "stale", stale)
	}
	return out, nil
}

func (s *redisStore) GetAllProcessedUUIDs(ctx context.Context) (map[string]struct{}, error) {
	groups, err := s.GetAllGroups(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]struct{})
	for _, g := range groups {
		for _, id := range g.MemberUUIDs {
			out[id] = struct{}{}
		}
	}
	return out, nil
}

// compactScript removes index entries older than the cutoff whose record key
// is already gone. Expiry runs on the Redis clock while scores come from ours,
// so age alone never decides.
var compactScript = goredis.NewScript(`
local ids = redis.call("ZRANGEBYSCORE", KEYS[1], "-inf", ARGV[1], "LIMIT", "0", ARGV[3])
local removed = 0
for _, id in ipairs(ids) do
	if redis.call("EXISTS", ARGV[2] .. id) == 0 then
		redis.call("ZREM", KEYS[1], id)
		removed = removed + 1
	end
end
return removed
`)

// compactBatch bounds the index entries inspected per Compact call.
const compactBatch = 10000

// Compact drops index entries older than the retention window whose records
// have expired. Entries of records that are still live are kept regardless of
// their score.
func (s *redisStore) Compact(ctx context.Context) (int64, error) {
	cutoff := s.now().Add(-s.retention).UnixMilli()
	n, err := compactScript.Run(ctx, s.rdb, []string{s.indexKey},
		"("+strconv.FormatInt(cutoff, 10), s.prefix, compactBatch).Int64()
	if err != nil {
		return 0, domain.Tag(domain.ErrStoreWrite, fmt.Errorf("compact group index: %w", err))
	}
	if n > 0 {
		s.log.Info("Compacted group index", "removed", n)
	}
	return n, nil
}

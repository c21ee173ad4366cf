package aggregate

import (
	"time"

	"github.com/yungbote/withdrawal-aggregator/internal/domain"
)

// Decision records why a pending set was or was not batched.
type Decision struct {
	Count             int
	HasEnoughRequests bool
	IsOldEnough       bool
	OldestAgeMinutes  int64
}

func (d Decision) ShouldBatch() bool {
	return d.HasEnoughRequests || d.IsOldEnough
}

// Evaluate assumes pending is ordered oldest first. An empty set never batches.
func Evaluate(pending []domain.PendingRequest, now time.Time, minBatchSize, minWaitMinutes int) Decision {
	if len(pending) == 0 {
		return Decision{}
	}
	age := minutesBetween(now, pending[0].CreatedAt)
	return Decision{
		Count:             len(pending),
		HasEnoughRequests: len(pending) >= minBatchSize,
		IsOldEnough:       age >= int64(minWaitMinutes),
		OldestAgeMinutes:  age,
	}
}

func ShouldBatch(pending []domain.PendingRequest, now time.Time, minBatchSize, minWaitMinutes int) bool {
	return Evaluate(pending, now, minBatchSize, minWaitMinutes).ShouldBatch()
}

// minutesBetween counts whole minutes from since to now, truncated toward zero.
func minutesBetween(now, since time.Time) int64 {
	return int64(now.Sub(since) / time.Minute)
}

// Chunk splits items into contiguous runs of at most size elements, keeping
// order. A non-positive size yields one chunk.
func Chunk[T any](items []T, size int) [][]T {
	if len(items) == 0 {
		return nil
	}
	if size <= 0 || size >= len(items) {
		return [][]T{items}
	}
	out := make([][]T, 0, (len(items)+size-1)/size)
	for start := 0; start < len(items); start += size {
		end := start + size
		if end > len(items) {
			end = len(items)
		}
		out = append(out, items[start:end:end])
	}
	return out
}

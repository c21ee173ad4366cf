package domain

import (
	"fmt"
	"strings"
)

// AggregatorType selects one of the two request pipelines. Both share the same
// batching logic; storage keys, queues and source tables are disjoint.
type AggregatorType string

const (
	AggregatorWithdrawal AggregatorType = "withdrawal"
	AggregatorClaim      AggregatorType = "claim"
)

func ParseAggregatorType(s string) (AggregatorType, error) {
	t := AggregatorType(strings.ToLower(strings.TrimSpace(s)))
	if err := t.Validate(); err != nil {
		return "", err
	}
	return t, nil
}

func (t AggregatorType) Validate() error {
	switch t {
	case AggregatorWithdrawal, AggregatorClaim:
		return nil
	default:
		return InvalidArgument(fmt.Sprintf("unknown aggregator type %q", string(t)))
	}
}

func (t AggregatorType) String() string { return string(t) }

// KeyPrefix is the namespace of group records in the key-value store.
func (t AggregatorType) KeyPrefix() string {
	return string(t) + "-aggregator:"
}

// GroupIndexKey is the sorted set of group ids scored by creation time.
func (t AggregatorType) GroupIndexKey() string {
	return string(t) + ":groups"
}

// LockKey guards a single aggregation run per type.
func (t AggregatorType) LockKey() string {
	return string(t) + ":aggregator:lock"
}

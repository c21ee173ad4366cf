package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/yungbote/withdrawal-aggregator/internal/domain"
)

func SeedWithdrawal(tb testing.TB, ctx context.Context, tx *gorm.DB, status string, createdAt time.Time) *domain.Withdrawal {
	tb.Helper()
	w := &domain.Withdrawal{
		UUID:      uuid.NewString(),
		Status:    status,
		CreatedAt: createdAt.UTC(),
		UpdatedAt: createdAt.UTC(),
	}
	if err := tx.WithContext(ctx).Create(w).Error; err != nil {
		tb.Fatalf("seed withdrawal: %v", err)
	}
	return w
}

func SeedClaim(tb testing.TB, ctx context.Context, tx *gorm.DB, status string, createdAt time.Time) *domain.Claim {
	tb.Helper()
	c := &domain.Claim{
		UUID:      uuid.NewString(),
		Status:    status,
		CreatedAt: createdAt.UTC(),
		UpdatedAt: createdAt.UTC(),
	}
	if err := tx.WithContext(ctx).Create(c).Error; err != nil {
		tb.Fatalf("seed claim: %v", err)
	}
	return c
}

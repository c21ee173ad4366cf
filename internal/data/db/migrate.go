package db

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/yungbote/withdrawal-aggregator/internal/domain"
)

// AutoMigrateRequestTables creates the request tables. Production schemas are
// owned by the request service; this exists for local stacks and tests.
func AutoMigrateRequestTables(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&domain.Withdrawal{},
		&domain.Claim{},
	); err != nil {
		return fmt.Errorf("automigrate request tables: %w", err)
	}
	return nil
}

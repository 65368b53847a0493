package db

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/yungbote/schema-registry/internal/domain/registry"
)

func AutoMigrateAll(db *gorm.DB) error {
	return db.AutoMigrate(registry.Models()...)
}

// EnsureRegistryIndexes adds the read-path indexes AutoMigrate cannot express.
func EnsureRegistryIndexes(db *gorm.DB) error {
	// Latest composable lookup per target.
	if err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_schema_version_target_composable_created
		ON schema_version (target_id, is_composable, created_at DESC);
	`).Error; err != nil {
		return fmt.Errorf("create idx_schema_version_target_composable_created: %w", err)
	}

	if err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_schema_check_target_context
		ON schema_check (target_id, context_id, created_at DESC);
	`).Error; err != nil {
		return fmt.Errorf("create idx_schema_check_target_context: %w", err)
	}

	if err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_coordinate_usage_target_day
		ON coordinate_usage_daily (target_id, day);
	`).Error; err != nil {
		return fmt.Errorf("create idx_coordinate_usage_target_day: %w", err)
	}

	return nil
}

func (s *Service) AutoMigrateAll() error {
	s.log.Info("Auto migrating registry tables...", "driver", s.driver)
	if err := AutoMigrateAll(s.db); err != nil {
		s.log.Error("Auto migration failed", "error", err)
		return err
	}
	if err := EnsureRegistryIndexes(s.db); err != nil {
		s.log.Error("Registry index migration failed", "error", err)
		return err
	}
	return nil
}

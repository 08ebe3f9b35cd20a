package db

import (
	"fmt"

	"gorm.io/gorm"

	types "github.com/yungbote/forge-backend/internal/domain"
)

func AutoMigrateAll(db *gorm.DB) error {
	if err := db.AutoMigrate(types.Models()...); err != nil {
		return err
	}
	if db.Dialector.Name() == DriverPostgres {
		return EnsureQueueIndexes(db)
	}
	return nil
}

// EnsureQueueIndexes adds the partial index the claim query relies on.
func EnsureQueueIndexes(db *gorm.DB) error {
	if err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_job_run_runnable
		ON job_run (run_after, created_at)
		WHERE status IN ('queued', 'running');
	`).Error; err != nil {
		return fmt.Errorf("create idx_job_run_runnable: %w", err)
	}
	if err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_workflow_run_workflow_id_id
		ON workflow_run (workflow_id, id);
	`).Error; err != nil {
		return fmt.Errorf("create idx_workflow_run_workflow_id_id: %w", err)
	}
	if err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_workflow_artifact_workflow_id_id
		ON workflow_artifact (workflow_id, id);
	`).Error; err != nil {
		return fmt.Errorf("create idx_workflow_artifact_workflow_id_id: %w", err)
	}
	return nil
}

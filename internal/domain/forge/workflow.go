package forge

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/yungbote/forge-backend/internal/platform/ids"
)

type WorkflowStatus string

const (
	WorkflowStatusActive  WorkflowStatus = "active"
	WorkflowStatusDeleted WorkflowStatus = "deleted"
)

// Workflow is a tenant-owned build definition. At most one active workflow
// exists per (tenant, identifier).
type Workflow struct {
	ID               uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	TenantID         uuid.UUID      `gorm:"type:uuid;not null;uniqueIndex:idx_workflow_active_identifier,where:status = 'active'" json:"tenant_id"`
	Identifier       string         `gorm:"column:identifier;not null;uniqueIndex:idx_workflow_active_identifier,where:status = 'active'" json:"identifier"`
	Name             string         `gorm:"column:name;not null" json:"name"`
	Status           WorkflowStatus `gorm:"column:status;not null;index" json:"status"`
	ProviderID       uuid.UUID      `gorm:"type:uuid;column:provider_id;not null" json:"provider_id"`
	CurrentVersionID *uuid.UUID     `gorm:"type:uuid;column:current_version_id" json:"current_version_id,omitempty"`
	DeletedAt        *time.Time     `gorm:"column:deleted_at;index" json:"deleted_at,omitempty"`
	CreatedAt        time.Time      `gorm:"not null" json:"created_at"`
	UpdatedAt        time.Time      `gorm:"not null" json:"updated_at"`
}

func (Workflow) TableName() string { return "workflow" }

func (w *Workflow) BeforeCreate(*gorm.DB) error {
	if w.ID == uuid.Nil {
		w.ID = ids.New()
	}
	return nil
}

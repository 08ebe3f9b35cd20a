package forge

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/yungbote/forge-backend/internal/platform/ids"
)

type ArtifactType string

const (
	ArtifactTypeInput  ArtifactType = "input"
	ArtifactTypeOutput ArtifactType = "output"
)

// Artifact points at an object in storage. (run, storage key) is unique.
type Artifact struct {
	ID         uuid.UUID    `gorm:"type:uuid;primaryKey" json:"id"`
	WorkflowID uuid.UUID    `gorm:"type:uuid;column:workflow_id;not null;index" json:"workflow_id"`
	RunID      uuid.UUID    `gorm:"type:uuid;column:run_id;not null;uniqueIndex:idx_artifact_run_key,priority:1" json:"run_id"`
	Name       string       `gorm:"column:name;not null" json:"name"`
	Type       ArtifactType `gorm:"column:type;not null" json:"type"`
	Bucket     string       `gorm:"column:bucket;not null" json:"-"`
	StorageKey string       `gorm:"column:storage_key;not null;uniqueIndex:idx_artifact_run_key,priority:2" json:"-"`
	CreatedAt  time.Time    `gorm:"not null" json:"created_at"`
}

func (Artifact) TableName() string { return "workflow_artifact" }

func (a *Artifact) BeforeCreate(*gorm.DB) error {
	if a.ID == uuid.Nil {
		a.ID = ids.New()
	}
	return nil
}

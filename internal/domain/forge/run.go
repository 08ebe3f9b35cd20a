package forge

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/yungbote/forge-backend/internal/platform/ids"
)

type RunStatus string

const (
	RunStatusPending   RunStatus = "pending"
	RunStatusRunning   RunStatus = "running"
	RunStatusSucceeded RunStatus = "succeeded"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCanceled  RunStatus = "canceled"
)

func (s RunStatus) Terminal() bool {
	return s == RunStatusSucceeded || s == RunStatusFailed || s == RunStatusCanceled
}

// WorkflowRun is one execution of a pinned workflow version.
type WorkflowRun struct {
	ID                            uuid.UUID   `gorm:"type:uuid;primaryKey" json:"id"`
	WorkflowID                    uuid.UUID   `gorm:"type:uuid;column:workflow_id;not null;index" json:"workflow_id"`
	VersionID                     uuid.UUID   `gorm:"type:uuid;column:version_id;not null;index" json:"version_id"`
	ProviderID                    uuid.UUID   `gorm:"type:uuid;column:provider_id;not null" json:"provider_id"`
	Status                        RunStatus   `gorm:"column:status;not null;index" json:"status"`
	EncryptedEnvironmentVariables string      `gorm:"column:encrypted_environment_variables;not null;default:''" json:"-"`
	StartedAt                     *time.Time  `gorm:"column:started_at" json:"started_at,omitempty"`
	EndedAt                       *time.Time  `gorm:"column:ended_at" json:"ended_at,omitempty"`
	CreatedAt                     time.Time   `gorm:"not null" json:"created_at"`
	UpdatedAt                     time.Time   `gorm:"not null" json:"updated_at"`
	Steps                         []*RunStep  `gorm:"foreignKey:RunID" json:"steps,omitempty"`
	Artifacts                     []*Artifact `gorm:"foreignKey:RunID" json:"artifacts,omitempty"`
}

func (WorkflowRun) TableName() string { return "workflow_run" }

func (r *WorkflowRun) BeforeCreate(*gorm.DB) error {
	if r.ID == uuid.Nil {
		r.ID = ids.New()
	}
	return nil
}

type RunStepType string

const (
	RunStepTypeSetup    RunStepType = "setup"
	RunStepTypeInit     RunStepType = "init"
	RunStepTypeAction   RunStepType = "action"
	RunStepTypeCleanup  RunStepType = "cleanup"
	RunStepTypeTeardown RunStepType = "teardown"
)

type StepStatus string

const (
	StepStatusPending   StepStatus = "pending"
	StepStatusRunning   StepStatus = "running"
	StepStatusSucceeded StepStatus = "succeeded"
	StepStatusFailed    StepStatus = "failed"
	StepStatusCanceled  StepStatus = "canceled"
)

// RunStep is one user-visible phase of a run. Setup and teardown steps have
// no version step.
type RunStep struct {
	ID            uuid.UUID    `gorm:"type:uuid;primaryKey" json:"id"`
	RunID         uuid.UUID    `gorm:"type:uuid;column:run_id;not null;index:idx_run_step_order,priority:1" json:"run_id"`
	VersionStepID *uuid.UUID   `gorm:"type:uuid;column:version_step_id" json:"version_step_id,omitempty"`
	Type          RunStepType  `gorm:"column:type;not null" json:"type"`
	Name          string       `gorm:"column:name;not null" json:"name"`
	Status        StepStatus   `gorm:"column:status;not null" json:"status"`
	Index         int          `gorm:"column:step_index;not null;index:idx_run_step_order,priority:2" json:"index"`
	StartedAt     *time.Time   `gorm:"column:started_at" json:"started_at,omitempty"`
	EndedAt       *time.Time   `gorm:"column:ended_at" json:"ended_at,omitempty"`
	OutputBucket  string       `gorm:"column:output_bucket" json:"-"`
	OutputKey     string       `gorm:"column:output_key" json:"-"`
	CreatedAt     time.Time    `gorm:"not null" json:"created_at"`
	UpdatedAt     time.Time    `gorm:"not null" json:"updated_at"`
	VersionStep   *VersionStep `gorm:"foreignKey:VersionStepID" json:"version_step,omitempty"`
}

func (RunStep) TableName() string { return "workflow_run_step" }

func (s *RunStep) BeforeCreate(*gorm.DB) error {
	if s.ID == uuid.Nil {
		s.ID = ids.New()
	}
	return nil
}

func (s *RunStep) HasStoredOutput() bool {
	return s.OutputBucket != "" && s.OutputKey != ""
}

// RunOutputTemp buffers captured log lines until the run's output is flushed
// to object storage. Output holds newline-joined JSON [timestampMillis, line]
// records.
type RunOutputTemp struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	RunID     uuid.UUID `gorm:"type:uuid;column:run_id;not null;index" json:"run_id"`
	StepID    uuid.UUID `gorm:"type:uuid;column:step_id;not null;index:idx_run_output_step,priority:1" json:"step_id"`
	Output    string    `gorm:"column:output;type:text;not null" json:"output"`
	CreatedAt time.Time `gorm:"not null;index:idx_run_output_step,priority:2" json:"created_at"`
}

func (RunOutputTemp) TableName() string { return "workflow_run_output_temp" }

func (o *RunOutputTemp) BeforeCreate(*gorm.DB) error {
	if o.ID == uuid.Nil {
		o.ID = ids.New()
	}
	return nil
}

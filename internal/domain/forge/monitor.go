package forge

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type MonitorStage string

const (
	MonitorStageStart    MonitorStage = "start"
	MonitorStageWait     MonitorStage = "wait"
	MonitorStageTail     MonitorStage = "tail"
	MonitorStageFinalize MonitorStage = "finalize"
	MonitorStageDone     MonitorStage = "done"
)

type UploadTarget struct {
	Bucket     string `json:"bucket"`
	StorageKey string `json:"storage_key"`
}

// BuildMonitor is the durable state of one run's build lifecycle. Seq grows
// by one on every transition; a stage job carries the seq it was scheduled
// for and does nothing when the row has moved on.
type BuildMonitor struct {
	RunID             uuid.UUID                                   `gorm:"type:uuid;primaryKey" json:"run_id"`
	Stage             MonitorStage                                `gorm:"column:stage;not null;index" json:"stage"`
	Seq               int                                         `gorm:"column:seq;not null;default:0" json:"seq"`
	ProviderBuildID   string                                      `gorm:"column:provider_build_id" json:"provider_build_id,omitempty"`
	LogHandle         datatypes.JSON                              `gorm:"column:log_handle" json:"log_handle,omitempty"`
	ContinuationToken string                                      `gorm:"column:continuation_token;type:text" json:"-"`
	BuildStarted      bool                                        `gorm:"column:build_started;not null;default:false" json:"build_started"`
	BuildEnded        bool                                        `gorm:"column:build_ended;not null;default:false" json:"build_ended"`
	CurrentStepID     *uuid.UUID                                  `gorm:"type:uuid;column:current_step_id" json:"current_step_id,omitempty"`
	AfterEndCount     int                                         `gorm:"column:after_end_count;not null;default:0" json:"after_end_count"`
	WaitAttempts      int                                         `gorm:"column:wait_attempts;not null;default:0" json:"wait_attempts"`
	FinalizeAttempts  int                                         `gorm:"column:finalize_attempts;not null;default:0" json:"finalize_attempts"`
	ForceFailed       bool                                        `gorm:"column:force_failed;not null;default:false" json:"force_failed"`
	FailureReason     string                                      `gorm:"column:failure_reason" json:"failure_reason,omitempty"`
	UploadMappings    datatypes.JSONType[map[string]UploadTarget] `gorm:"column:upload_mappings" json:"upload_mappings"`
	ConfirmedUploads  datatypes.JSONSlice[string]                 `gorm:"column:confirmed_uploads" json:"confirmed_uploads"`
	NextActionAt      *time.Time                                  `gorm:"column:next_action_at" json:"next_action_at,omitempty"`
	CreatedAt         time.Time                                   `gorm:"not null" json:"created_at"`
	UpdatedAt         time.Time                                   `gorm:"not null" json:"updated_at"`
}

func (BuildMonitor) TableName() string { return "build_monitor" }

func (m *BuildMonitor) Mappings() map[string]UploadTarget {
	if m.UploadMappings.Data() == nil {
		return map[string]UploadTarget{}
	}
	return m.UploadMappings.Data()
}

func (m *BuildMonitor) IsConfirmed(stepID string) bool {
	for _, id := range m.ConfirmedUploads {
		if id == stepID {
			return true
		}
	}
	return false
}

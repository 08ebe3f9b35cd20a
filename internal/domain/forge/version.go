package forge

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/yungbote/forge-backend/internal/platform/ids"
)

// WorkflowVersion is an immutable snapshot of a workflow's steps.
type WorkflowVersion struct {
	ID         uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	WorkflowID uuid.UUID      `gorm:"type:uuid;column:workflow_id;not null;index" json:"workflow_id"`
	Identifier string         `gorm:"column:identifier;not null;uniqueIndex" json:"identifier"`
	Name       string         `gorm:"column:name" json:"name"`
	IsCurrent  bool           `gorm:"column:is_current;not null;default:false" json:"is_current"`
	ProviderID uuid.UUID      `gorm:"type:uuid;column:provider_id;not null" json:"provider_id"`
	CreatedAt  time.Time      `gorm:"not null" json:"created_at"`
	Steps      []*VersionStep `gorm:"foreignKey:VersionID" json:"steps,omitempty"`
}

func (WorkflowVersion) TableName() string { return "workflow_version" }

func (v *WorkflowVersion) BeforeCreate(*gorm.DB) error {
	if v.ID == uuid.Nil {
		v.ID = ids.New()
	}
	return nil
}

type StepType string

const (
	StepTypeScript           StepType = "script"
	StepTypeUploadArtifact   StepType = "upload_artifact"
	StepTypeDownloadArtifact StepType = "download_artifact"
)

// VersionStep is stored flat; Spec returns its typed form.
type VersionStep struct {
	ID                     uuid.UUID                   `gorm:"type:uuid;primaryKey" json:"id"`
	VersionID              uuid.UUID                   `gorm:"type:uuid;column:version_id;not null;uniqueIndex:idx_version_step_index" json:"version_id"`
	Index                  int                         `gorm:"column:step_index;not null;uniqueIndex:idx_version_step_index" json:"index"`
	Name                   string                      `gorm:"column:name;not null" json:"name"`
	Type                   StepType                    `gorm:"column:type;not null" json:"type"`
	InitScript             datatypes.JSONSlice[string] `gorm:"column:init_script" json:"init_script,omitempty"`
	ActionScript           datatypes.JSONSlice[string] `gorm:"column:action_script" json:"action_script,omitempty"`
	CleanupScript          datatypes.JSONSlice[string] `gorm:"column:cleanup_script" json:"cleanup_script,omitempty"`
	ArtifactToUploadPath   string                      `gorm:"column:artifact_to_upload_path" json:"artifact_to_upload_path,omitempty"`
	ArtifactToUploadName   string                      `gorm:"column:artifact_to_upload_name" json:"artifact_to_upload_name,omitempty"`
	ArtifactToDownloadID   *uuid.UUID                  `gorm:"type:uuid;column:artifact_to_download_id" json:"artifact_to_download_id,omitempty"`
	ArtifactToDownloadPath string                      `gorm:"column:artifact_to_download_path" json:"artifact_to_download_path,omitempty"`
	CreatedAt              time.Time                   `gorm:"not null" json:"created_at"`
}

func (VersionStep) TableName() string { return "workflow_version_step" }

func (s *VersionStep) BeforeCreate(*gorm.DB) error {
	if s.ID == uuid.Nil {
		s.ID = ids.New()
	}
	return nil
}

// StepSpec is the closed set of step kinds.
type StepSpec interface {
	Kind() StepType
	Init() []string
	Cleanup() []string
}

type ScriptStep struct {
	InitScript    []string
	ActionScript  []string
	CleanupScript []string
}

type UploadArtifactStep struct {
	InitScript    []string
	CleanupScript []string
	SourcePath    string
	ArtifactName  string
}

type DownloadArtifactStep struct {
	InitScript      []string
	CleanupScript   []string
	ArtifactID      uuid.UUID
	DestinationPath string
}

func (ScriptStep) Kind() StepType              { return StepTypeScript }
func (s ScriptStep) Init() []string            { return s.InitScript }
func (s ScriptStep) Cleanup() []string         { return s.CleanupScript }
func (UploadArtifactStep) Kind() StepType      { return StepTypeUploadArtifact }
func (s UploadArtifactStep) Init() []string    { return s.InitScript }
func (s UploadArtifactStep) Cleanup() []string { return s.CleanupScript }
func (DownloadArtifactStep) Kind() StepType    { return StepTypeDownloadArtifact }
func (s DownloadArtifactStep) Init() []string  { return s.InitScript }
func (s DownloadArtifactStep) Cleanup() []string {
	return s.CleanupScript
}

// Spec decodes the stored row into its typed step.
func (s *VersionStep) Spec() (StepSpec, error) {
	switch s.Type {
	case StepTypeScript:
		return ScriptStep{InitScript: s.InitScript, ActionScript: s.ActionScript, CleanupScript: s.CleanupScript}, nil
	case StepTypeUploadArtifact:
		if s.ArtifactToUploadPath == "" {
			return nil, fmt.Errorf("step %s: upload_artifact without source path", s.ID)
		}
		return UploadArtifactStep{
			InitScript:    s.InitScript,
			CleanupScript: s.CleanupScript,
			SourcePath:    s.ArtifactToUploadPath,
			ArtifactName:  s.ArtifactToUploadName,
		}, nil
	case StepTypeDownloadArtifact:
		if s.ArtifactToDownloadID == nil || s.ArtifactToDownloadPath == "" {
			return nil, fmt.Errorf("step %s: download_artifact without artifact or destination", s.ID)
		}
		return DownloadArtifactStep{
			InitScript:      s.InitScript,
			CleanupScript:   s.CleanupScript,
			ArtifactID:      *s.ArtifactToDownloadID,
			DestinationPath: s.ArtifactToDownloadPath,
		}, nil
	default:
		return nil, fmt.Errorf("step %s: unknown type %q", s.ID, s.Type)
	}
}

package services

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/yungbote/forge-backend/internal/data/repos"
	types "github.com/yungbote/forge-backend/internal/domain"
	"github.com/yungbote/forge-backend/internal/domain/forge"
	"github.com/yungbote/forge-backend/internal/platform/apierr"
	"github.com/yungbote/forge-backend/internal/platform/dbctx"
	"github.com/yungbote/forge-backend/internal/platform/ids"
	"github.com/yungbote/forge-backend/internal/platform/logger"
)

const versionIdentifierLength = 12

// VersionStepInput is one step of a new version. Which fields apply depends
// on Type.
type VersionStepInput struct {
	Name string         `json:"name"`
	Type forge.StepType `json:"type"`

	InitScript    []string `json:"init_script,omitempty"`
	ActionScript  []string `json:"action_script,omitempty"`
	CleanupScript []string `json:"cleanup_script,omitempty"`

	ArtifactID              string `json:"artifact_id,omitempty"`
	ArtifactDestinationPath string `json:"artifact_destination_path,omitempty"`

	ArtifactSourcePath string `json:"artifact_source_path,omitempty"`
	ArtifactName       string `json:"artifact_name,omitempty"`
}

type VersionInput struct {
	Name  string             `json:"name"`
	Steps []VersionStepInput `json:"steps"`
}

type VersionService interface {
	// Create stores a new version of w and makes it current.
	Create(dbc dbctx.Context, w *types.Workflow, in VersionInput) (*types.WorkflowVersion, error)
	Get(dbc dbctx.Context, w *types.Workflow, idOrIdentifier string) (*types.WorkflowVersion, error)
	List(dbc dbctx.Context, w *types.Workflow, page repos.Page) ([]*types.WorkflowVersion, error)
}

type versionService struct {
	db        *gorm.DB
	log       *logger.Logger
	workflows repos.WorkflowRepo
	versions  repos.WorkflowVersionRepo
	artifacts repos.ArtifactRepo
	providers ProviderService
}

func NewVersionService(db *gorm.DB, baseLog *logger.Logger, workflows repos.WorkflowRepo, versions repos.WorkflowVersionRepo, artifacts repos.ArtifactRepo, providers ProviderService) VersionService {
	return &versionService{
		db:        db,
		log:       baseLog.With("service", "VersionService"),
		workflows: workflows,
		versions:  versions,
		artifacts: artifacts,
		providers: providers,
	}
}

func (s *versionService) Create(dbc dbctx.Context, w *types.Workflow, in VersionInput) (*types.WorkflowVersion, error) {
	steps := make([]*types.VersionStep, 0, len(in.Steps))
	for i, st := range in.Steps {
		vs, err := stepFromInput(i, st)
		if err != nil {
			return nil, err
		}
		steps = append(steps, vs)
	}

	var v *types.WorkflowVersion
	err := dbc.InTx(s.db, func(dbc dbctx.Context) error {
		for _, vs := range steps {
			if vs.ArtifactToDownloadID == nil {
				continue
			}
			a, err := s.artifacts.GetForWorkflow(dbc, w.ID, *vs.ArtifactToDownloadID)
			if err != nil {
				return err
			}
			if a == nil {
				return apierr.NotFound("artifact %s not found", *vs.ArtifactToDownloadID)
			}
		}
		provider, err := s.providers.ResolveDefault(dbc)
		if err != nil {
			return err
		}
		v = &types.WorkflowVersion{
			WorkflowID: w.ID,
			Identifier: ids.Plain(versionIdentifierLength),
			Name:       strings.TrimSpace(in.Name),
			IsCurrent:  true,
			ProviderID: provider.ID,
			Steps:      steps,
		}
		if err := s.versions.Create(dbc, v); err != nil {
			return fmt.Errorf("create version: %w", err)
		}
		if err := s.workflows.SetCurrentVersion(dbc, w.ID, v.ID); err != nil {
			return err
		}
		return s.versions.ClearCurrentExcept(dbc, w.ID, v.ID)
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("Version created", "workflow_id", w.ID, "version_id", v.ID, "steps", len(steps))
	return v, nil
}

func stepFromInput(index int, in VersionStepInput) (*types.VersionStep, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, apierr.InvalidArgument("step %d: name is required", index)
	}
	vs := &types.VersionStep{
		Index:         index,
		Name:          name,
		Type:          in.Type,
		InitScript:    datatypes.JSONSlice[string](nonNil(in.InitScript)),
		CleanupScript: datatypes.JSONSlice[string](nonNil(in.CleanupScript)),
		ActionScript:  datatypes.JSONSlice[string]{},
	}
	switch in.Type {
	case forge.StepTypeScript:
		if len(in.ActionScript) == 0 {
			return nil, apierr.InvalidArgument("step %q: action script is required", name)
		}
		vs.ActionScript = in.ActionScript
	case forge.StepTypeDownloadArtifact:
		id, err := uuid.Parse(strings.TrimSpace(in.ArtifactID))
		if err != nil {
			return nil, apierr.InvalidArgument("step %q: invalid artifact id", name)
		}
		if strings.TrimSpace(in.ArtifactDestinationPath) == "" {
			return nil, apierr.InvalidArgument("step %q: destination path is required", name)
		}
		vs.ArtifactToDownloadID = &id
		vs.ArtifactToDownloadPath = in.ArtifactDestinationPath
	case forge.StepTypeUploadArtifact:
		if strings.TrimSpace(in.ArtifactSourcePath) == "" {
			return nil, apierr.InvalidArgument("step %q: source path is required", name)
		}
		if strings.TrimSpace(in.ArtifactName) == "" {
			return nil, apierr.InvalidArgument("step %q: artifact name is required", name)
		}
		vs.ArtifactToUploadPath = in.ArtifactSourcePath
		vs.ArtifactToUploadName = strings.TrimSpace(in.ArtifactName)
	default:
		return nil, apierr.InvalidArgument("step %q: unknown type %q", name, in.Type)
	}
	return vs, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func (s *versionService) Get(dbc dbctx.Context, w *types.Workflow, idOrIdentifier string) (*types.WorkflowVersion, error) {
	v, err := s.versions.GetForWorkflow(dbc, w.ID, strings.TrimSpace(idOrIdentifier))
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, apierr.NotFound("version %s not found", idOrIdentifier)
	}
	return v, nil
}

func (s *versionService) List(dbc dbctx.Context, w *types.Workflow, page repos.Page) ([]*types.WorkflowVersion, error) {
	return s.versions.ListByWorkflow(dbc, w.ID, page)
}

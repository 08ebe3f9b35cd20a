package services

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/yungbote/forge-backend/internal/data/repos"
	types "github.com/yungbote/forge-backend/internal/domain"
	"github.com/yungbote/forge-backend/internal/domain/forge"
	"github.com/yungbote/forge-backend/internal/modules/build"
	"github.com/yungbote/forge-backend/internal/platform/apierr"
	"github.com/yungbote/forge-backend/internal/platform/dbctx"
	"github.com/yungbote/forge-backend/internal/platform/logger"
)

var identifierPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,127}$`)

type WorkflowInput struct {
	Name       string `json:"name"`
	Identifier string `json:"identifier"`
}

type WorkflowService interface {
	// Upsert creates the tenant's active workflow for in.Identifier or renames
	// the existing one. created reports which happened.
	Upsert(dbc dbctx.Context, tenantID uuid.UUID, in WorkflowInput) (w *types.Workflow, created bool, err error)
	Get(dbc dbctx.Context, tenantID uuid.UUID, idOrIdentifier string) (*types.Workflow, error)
	List(dbc dbctx.Context, tenantID uuid.UUID, page repos.Page) ([]*types.Workflow, error)
	Update(dbc dbctx.Context, w *types.Workflow, name *string) (*types.Workflow, error)
	// Delete soft-deletes w and starts the cascade over its runs and artifacts.
	Delete(dbc dbctx.Context, w *types.Workflow) (*types.Workflow, error)
}

type workflowService struct {
	db        *gorm.DB
	log       *logger.Logger
	workflows repos.WorkflowRepo
	providers ProviderService
	build     build.Usecases
}

func NewWorkflowService(db *gorm.DB, baseLog *logger.Logger, workflows repos.WorkflowRepo, providers ProviderService, u build.Usecases) WorkflowService {
	return &workflowService{
		db:        db,
		log:       baseLog.With("service", "WorkflowService"),
		workflows: workflows,
		providers: providers,
		build:     u,
	}
}

func (s *workflowService) Upsert(dbc dbctx.Context, tenantID uuid.UUID, in WorkflowInput) (*types.Workflow, bool, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.Identifier = strings.TrimSpace(in.Identifier)
	if tenantID == uuid.Nil {
		return nil, false, apierr.InvalidArgument("tenant id is required")
	}
	if in.Name == "" {
		return nil, false, apierr.InvalidArgument("workflow name is required")
	}
	if !identifierPattern.MatchString(in.Identifier) {
		return nil, false, apierr.InvalidArgument("invalid workflow identifier %q", in.Identifier)
	}

	var (
		out     *types.Workflow
		created bool
	)
	err := dbc.InTx(s.db, func(dbc dbctx.Context) error {
		existing, err := s.workflows.GetActiveByIdentifier(dbc, tenantID, in.Identifier)
		if err != nil {
			return err
		}
		if existing != nil {
			if existing.Name != in.Name {
				if err := s.workflows.UpdateName(dbc, existing.ID, in.Name); err != nil {
					return err
				}
				existing.Name = in.Name
			}
			out = existing
			return nil
		}
		provider, err := s.providers.ResolveDefault(dbc)
		if err != nil {
			return err
		}
		w := &types.Workflow{
			TenantID:   tenantID,
			Identifier: in.Identifier,
			Name:       in.Name,
			Status:     forge.WorkflowStatusActive,
			ProviderID: provider.ID,
		}
		if err := s.workflows.Create(dbc, w); err != nil {
			return fmt.Errorf("create workflow: %w", err)
		}
		out, created = w, true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	if created {
		s.log.Info("Workflow created", "workflow_id", out.ID, "tenant_id", tenantID, "identifier", out.Identifier)
	}
	return out, created, nil
}

func (s *workflowService) Get(dbc dbctx.Context, tenantID uuid.UUID, idOrIdentifier string) (*types.Workflow, error) {
	idOrIdentifier = strings.TrimSpace(idOrIdentifier)
	if idOrIdentifier == "" {
		return nil, apierr.InvalidArgument("workflow id is required")
	}
	w, err := s.workflows.GetActive(dbc, tenantID, idOrIdentifier)
	if err != nil {
		return nil, err
	}
	if w == nil {
		return nil, apierr.NotFound("workflow %s not found", idOrIdentifier)
	}
	return w, nil
}

func (s *workflowService) List(dbc dbctx.Context, tenantID uuid.UUID, page repos.Page) ([]*types.Workflow, error) {
	return s.workflows.ListActive(dbc, tenantID, page)
}

func (s *workflowService) Update(dbc dbctx.Context, w *types.Workflow, name *string) (*types.Workflow, error) {
	if name == nil {
		return w, nil
	}
	trimmed := strings.TrimSpace(*name)
	if trimmed == "" {
		return nil, apierr.InvalidArgument("workflow name must not be empty")
	}
	if err := s.workflows.UpdateName(dbc, w.ID, trimmed); err != nil {
		return nil, err
	}
	out := *w
	out.Name = trimmed
	return &out, nil
}

func (s *workflowService) Delete(dbc dbctx.Context, w *types.Workflow) (*types.Workflow, error) {
	if _, err := s.build.BeginWorkflowDelete(dbc, w); err != nil {
		return nil, err
	}
	return s.workflows.GetByID(dbc, w.ID)
}

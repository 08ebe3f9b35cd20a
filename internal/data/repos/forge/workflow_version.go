package forge

import (
	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/yungbote/forge-backend/internal/domain"
	"github.com/yungbote/forge-backend/internal/platform/dbctx"
	"github.com/yungbote/forge-backend/internal/platform/logger"
)

type WorkflowVersionRepo interface {
	// Create inserts the version and its steps.
	Create(dbc dbctx.Context, v *types.WorkflowVersion) error
	GetByIDWithSteps(dbc dbctx.Context, id uuid.UUID) (*types.WorkflowVersion, error)
	GetForWorkflow(dbc dbctx.Context, workflowID uuid.UUID, idOrIdentifier string) (*types.WorkflowVersion, error)
	ListByWorkflow(dbc dbctx.Context, workflowID uuid.UUID, page Page) ([]*types.WorkflowVersion, error)
	ClearCurrentExcept(dbc dbctx.Context, workflowID uuid.UUID, keep uuid.UUID) error
	DeleteByWorkflowIDs(dbc dbctx.Context, workflowIDs []uuid.UUID) error
}

type workflowVersionRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewWorkflowVersionRepo(db *gorm.DB, baseLog *logger.Logger) WorkflowVersionRepo {
	return &workflowVersionRepo{db: db, log: baseLog.With("repo", "WorkflowVersionRepo")}
}

func (r *workflowVersionRepo) Create(dbc dbctx.Context, v *types.WorkflowVersion) error {
	return dbc.DB(r.db).Create(v).Error
}

func orderedSteps(db *gorm.DB) *gorm.DB {
	return db.Order("step_index ASC")
}

func (r *workflowVersionRepo) GetByIDWithSteps(dbc dbctx.Context, id uuid.UUID) (*types.WorkflowVersion, error) {
	return first[types.WorkflowVersion](dbc.DB(r.db).Preload("Steps", orderedSteps).Where("id = ?", id))
}

func (r *workflowVersionRepo) GetForWorkflow(dbc dbctx.Context, workflowID uuid.UUID, idOrIdentifier string) (*types.WorkflowVersion, error) {
	q := dbc.DB(r.db).Preload("Steps", orderedSteps).Where("workflow_id = ?", workflowID)
	if id, err := uuid.Parse(idOrIdentifier); err == nil {
		q = q.Where("(id = ? OR identifier = ?)", id, idOrIdentifier)
	} else {
		q = q.Where("identifier = ?", idOrIdentifier)
	}
	return first[types.WorkflowVersion](q)
}

func (r *workflowVersionRepo) ListByWorkflow(dbc dbctx.Context, workflowID uuid.UUID, page Page) ([]*types.WorkflowVersion, error) {
	var out []*types.WorkflowVersion
	q := dbc.DB(r.db).Preload("Steps", orderedSteps).Where("workflow_id = ?", workflowID)
	if err := page.apply(q).Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *workflowVersionRepo) ClearCurrentExcept(dbc dbctx.Context, workflowID uuid.UUID, keep uuid.UUID) error {
	return dbc.DB(r.db).Model(&types.WorkflowVersion{}).
		Where("workflow_id = ? AND id <> ? AND is_current = ?", workflowID, keep, true).
		Update("is_current", false).Error
}

func (r *workflowVersionRepo) DeleteByWorkflowIDs(dbc dbctx.Context, workflowIDs []uuid.UUID) error {
	if len(workflowIDs) == 0 {
		return nil
	}
	db := dbc.DB(r.db)
	versionIDs := db.Model(&types.WorkflowVersion{}).Select("id").Where("workflow_id IN ?", workflowIDs)
	if err := db.Where("version_id IN (?)", versionIDs).Delete(&types.VersionStep{}).Error; err != nil {
		return err
	}
	return db.Where("workflow_id IN ?", workflowIDs).Delete(&types.WorkflowVersion{}).Error
}

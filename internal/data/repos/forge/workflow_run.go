package forge

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/yungbote/forge-backend/internal/domain"
	"github.com/yungbote/forge-backend/internal/domain/forge"
	"github.com/yungbote/forge-backend/internal/platform/dbctx"
	"github.com/yungbote/forge-backend/internal/platform/logger"
)

type WorkflowRunRepo interface {
	Create(dbc dbctx.Context, run *types.WorkflowRun) error
	GetByID(dbc dbctx.Context, id uuid.UUID) (*types.WorkflowRun, error)
	// GetForWorkflow loads the run with steps and artifacts.
	GetForWorkflow(dbc dbctx.Context, workflowID uuid.UUID, runID uuid.UUID) (*types.WorkflowRun, error)
	ListByWorkflow(dbc dbctx.Context, workflowID uuid.UUID, page Page) ([]*types.WorkflowRun, error)
	ListIDsByWorkflowAfter(dbc dbctx.Context, workflowID uuid.UUID, after *uuid.UUID, limit int) ([]uuid.UUID, error)
	// TransitionStatus moves the run to `to` only from one of `from`.
	TransitionStatus(dbc dbctx.Context, id uuid.UUID, from []forge.RunStatus, to forge.RunStatus, extra map[string]interface{}) (bool, error)
	ClearEncryptedEnv(dbc dbctx.Context, id uuid.UUID) error
	// DeleteCascade removes the run with its steps, buffered output and monitor.
	DeleteCascade(dbc dbctx.Context, id uuid.UUID) (bool, error)
}

type workflowRunRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewWorkflowRunRepo(db *gorm.DB, baseLog *logger.Logger) WorkflowRunRepo {
	return &workflowRunRepo{db: db, log: baseLog.With("repo", "WorkflowRunRepo")}
}

func (r *workflowRunRepo) Create(dbc dbctx.Context, run *types.WorkflowRun) error {
	return dbc.DB(r.db).Omit("Steps", "Artifacts").Create(run).Error
}

func (r *workflowRunRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.WorkflowRun, error) {
	return first[types.WorkflowRun](dbc.DB(r.db).Where("id = ?", id))
}

func (r *workflowRunRepo) GetForWorkflow(dbc dbctx.Context, workflowID uuid.UUID, runID uuid.UUID) (*types.WorkflowRun, error) {
	return first[types.WorkflowRun](dbc.DB(r.db).
		Preload("Steps", orderedSteps).
		Preload("Steps.VersionStep").
		Preload("Artifacts", func(db *gorm.DB) *gorm.DB { return db.Order("id ASC") }).
		Where("id = ? AND workflow_id = ?", runID, workflowID))
}

func (r *workflowRunRepo) ListByWorkflow(dbc dbctx.Context, workflowID uuid.UUID, page Page) ([]*types.WorkflowRun, error) {
	var out []*types.WorkflowRun
	q := dbc.DB(r.db).Preload("Steps", orderedSteps).Where("workflow_id = ?", workflowID)
	if err := page.apply(q).Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *workflowRunRepo) ListIDsByWorkflowAfter(dbc dbctx.Context, workflowID uuid.UUID, after *uuid.UUID, limit int) ([]uuid.UUID, error) {
	var out []uuid.UUID
	q := dbc.DB(r.db).Model(&types.WorkflowRun{}).Where("workflow_id = ?", workflowID)
	if after != nil {
		q = q.Where("id > ?", *after)
	}
	err := q.Order("id ASC").Limit(limit).Pluck("id", &out).Error
	return out, err
}

func (r *workflowRunRepo) TransitionStatus(dbc dbctx.Context, id uuid.UUID, from []forge.RunStatus, to forge.RunStatus, extra map[string]interface{}) (bool, error) {
	updates := map[string]interface{}{"status": to, "updated_at": time.Now().UTC()}
	for k, v := range extra {
		updates[k] = v
	}
	res := dbc.DB(r.db).Model(&types.WorkflowRun{}).
		Where("id = ? AND status IN ?", id, from).
		Updates(updates)
	return res.RowsAffected > 0, res.Error
}

func (r *workflowRunRepo) ClearEncryptedEnv(dbc dbctx.Context, id uuid.UUID) error {
	return dbc.DB(r.db).Model(&types.WorkflowRun{}).Where("id = ?", id).
		Updates(map[string]interface{}{"encrypted_environment_variables": "", "updated_at": time.Now().UTC()}).Error
}

func (r *workflowRunRepo) DeleteCascade(dbc dbctx.Context, id uuid.UUID) (bool, error) {
	var deleted bool
	err := dbc.InTx(r.db, func(dbc dbctx.Context) error {
		db := dbc.DB(r.db)
		if err := db.Where("run_id = ?", id).Delete(&types.RunOutputTemp{}).Error; err != nil {
			return err
		}
		if err := db.Where("run_id = ?", id).Delete(&types.RunStep{}).Error; err != nil {
			return err
		}
		if err := db.Where("run_id = ?", id).Delete(&types.BuildMonitor{}).Error; err != nil {
			return err
		}
		res := db.Where("id = ?", id).Delete(&types.WorkflowRun{})
		deleted = res.RowsAffected > 0
		return res.Error
	})
	return deleted, err
}

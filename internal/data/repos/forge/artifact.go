package forge

import (
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	types "github.com/yungbote/forge-backend/internal/domain"
	"github.com/yungbote/forge-backend/internal/platform/dbctx"
	"github.com/yungbote/forge-backend/internal/platform/logger"
)

type ArtifactRepo interface {
	// Create inserts the artifact unless (run, storage key) already exists.
	Create(dbc dbctx.Context, a *types.Artifact) (bool, error)
	ExistsByRunAndKey(dbc dbctx.Context, runID uuid.UUID, storageKey string) (bool, error)
	GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Artifact, error)
	GetForWorkflow(dbc dbctx.Context, workflowID uuid.UUID, id uuid.UUID) (*types.Artifact, error)
	GetByIDs(dbc dbctx.Context, ids []uuid.UUID) ([]*types.Artifact, error)
	ListByRun(dbc dbctx.Context, runID uuid.UUID) ([]*types.Artifact, error)
	// ListByWorkflow pages the workflow's artifacts, restricted to runIDs when given.
	ListByWorkflow(dbc dbctx.Context, workflowID uuid.UUID, runIDs []uuid.UUID, page Page) ([]*types.Artifact, error)
	ListIDsByWorkflowAfter(dbc dbctx.Context, workflowID uuid.UUID, after *uuid.UUID, limit int) ([]uuid.UUID, error)
	Delete(dbc dbctx.Context, id uuid.UUID) (bool, error)
	// DeleteByRun removes every artifact of the run and returns the removed rows.
	DeleteByRun(dbc dbctx.Context, runID uuid.UUID) ([]*types.Artifact, error)
}

type artifactRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewArtifactRepo(db *gorm.DB, baseLog *logger.Logger) ArtifactRepo {
	return &artifactRepo{db: db, log: baseLog.With("repo", "ArtifactRepo")}
}

func (r *artifactRepo) Create(dbc dbctx.Context, a *types.Artifact) (bool, error) {
	res := dbc.DB(r.db).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "run_id"}, {Name: "storage_key"}},
		DoNothing: true,
	}).Create(a)
	return res.RowsAffected > 0, res.Error
}

func (r *artifactRepo) ExistsByRunAndKey(dbc dbctx.Context, runID uuid.UUID, storageKey string) (bool, error) {
	var count int64
	err := dbc.DB(r.db).Model(&types.Artifact{}).
		Where("run_id = ? AND storage_key = ?", runID, storageKey).
		Count(&count).Error
	return count > 0, err
}

func (r *artifactRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Artifact, error) {
	return first[types.Artifact](dbc.DB(r.db).Where("id = ?", id))
}

func (r *artifactRepo) GetForWorkflow(dbc dbctx.Context, workflowID uuid.UUID, id uuid.UUID) (*types.Artifact, error) {
	return first[types.Artifact](dbc.DB(r.db).Where("id = ? AND workflow_id = ?", id, workflowID))
}

func (r *artifactRepo) GetByIDs(dbc dbctx.Context, ids []uuid.UUID) ([]*types.Artifact, error) {
	var out []*types.Artifact
	if len(ids) == 0 {
		return out, nil
	}
	err := dbc.DB(r.db).Where("id IN ?", ids).Order("id ASC").Find(&out).Error
	return out, err
}

func (r *artifactRepo) ListByRun(dbc dbctx.Context, runID uuid.UUID) ([]*types.Artifact, error) {
	var out []*types.Artifact
	err := dbc.DB(r.db).Where("run_id = ?", runID).Order("id ASC").Find(&out).Error
	return out, err
}

func (r *artifactRepo) ListByWorkflow(dbc dbctx.Context, workflowID uuid.UUID, runIDs []uuid.UUID, page Page) ([]*types.Artifact, error) {
	var out []*types.Artifact
	q := dbc.DB(r.db).Where("workflow_id = ?", workflowID)
	if len(runIDs) > 0 {
		q = q.Where("run_id IN ?", runIDs)
	}
	if err := page.apply(q).Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *artifactRepo) ListIDsByWorkflowAfter(dbc dbctx.Context, workflowID uuid.UUID, after *uuid.UUID, limit int) ([]uuid.UUID, error) {
	var out []uuid.UUID
	q := dbc.DB(r.db).Model(&types.Artifact{}).Where("workflow_id = ?", workflowID)
	if after != nil {
		q = q.Where("id > ?", *after)
	}
	err := q.Order("id ASC").Limit(limit).Pluck("id", &out).Error
	return out, err
}

func (r *artifactRepo) Delete(dbc dbctx.Context, id uuid.UUID) (bool, error) {
	res := dbc.DB(r.db).Where("id = ?", id).Delete(&types.Artifact{})
	return res.RowsAffected > 0, res.Error
}

func (r *artifactRepo) DeleteByRun(dbc dbctx.Context, runID uuid.UUID) ([]*types.Artifact, error) {
	var out []*types.Artifact
	err := dbc.InTx(r.db, func(dbc dbctx.Context) error {
		db := dbc.DB(r.db)
		if err := db.Where("run_id = ?", runID).Order("id ASC").Find(&out).Error; err != nil {
			return err
		}
		if len(out) == 0 {
			return nil
		}
		ids := make([]uuid.UUID, 0, len(out))
		for _, a := range out {
			ids = append(ids, a.ID)
		}
		return db.Where("id IN ?", ids).Delete(&types.Artifact{}).Error
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

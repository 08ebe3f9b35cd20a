package forge

import (
	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/yungbote/forge-backend/internal/domain"
	"github.com/yungbote/forge-backend/internal/platform/dbctx"
	"github.com/yungbote/forge-backend/internal/platform/logger"
)

type RunOutputRepo interface {
	Create(dbc dbctx.Context, rows []*types.RunOutputTemp) error
	// ListByStep returns buffered output in capture order.
	ListByStep(dbc dbctx.Context, runID uuid.UUID, stepID uuid.UUID) ([]*types.RunOutputTemp, error)
	ListByRun(dbc dbctx.Context, runID uuid.UUID) ([]*types.RunOutputTemp, error)
	DeleteByRun(dbc dbctx.Context, runID uuid.UUID) (int64, error)
}

type runOutputRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewRunOutputRepo(db *gorm.DB, baseLog *logger.Logger) RunOutputRepo {
	return &runOutputRepo{db: db, log: baseLog.With("repo", "RunOutputRepo")}
}

func (r *runOutputRepo) Create(dbc dbctx.Context, rows []*types.RunOutputTemp) error {
	if len(rows) == 0 {
		return nil
	}
	return dbc.DB(r.db).Create(&rows).Error
}

func (r *runOutputRepo) ListByStep(dbc dbctx.Context, runID uuid.UUID, stepID uuid.UUID) ([]*types.RunOutputTemp, error) {
	var out []*types.RunOutputTemp
	err := dbc.DB(r.db).
		Where("run_id = ? AND step_id = ?", runID, stepID).
		Order("created_at ASC, id ASC").
		Find(&out).Error
	return out, err
}

func (r *runOutputRepo) ListByRun(dbc dbctx.Context, runID uuid.UUID) ([]*types.RunOutputTemp, error) {
	var out []*types.RunOutputTemp
	err := dbc.DB(r.db).
		Where("run_id = ?", runID).
		Order("created_at ASC, id ASC").
		Find(&out).Error
	return out, err
}

func (r *runOutputRepo) DeleteByRun(dbc dbctx.Context, runID uuid.UUID) (int64, error) {
	res := dbc.DB(r.db).Where("run_id = ?", runID).Delete(&types.RunOutputTemp{})
	return res.RowsAffected, res.Error
}

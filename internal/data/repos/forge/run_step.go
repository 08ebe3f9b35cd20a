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

type RunStepRepo interface {
	CreateBatch(dbc dbctx.Context, steps []*types.RunStep) error
	// ListByRun returns steps in planner order with their version steps.
	ListByRun(dbc dbctx.Context, runID uuid.UUID) ([]*types.RunStep, error)
	GetForRun(dbc dbctx.Context, runID uuid.UUID, stepID uuid.UUID) (*types.RunStep, error)
	Transition(dbc dbctx.Context, runID uuid.UUID, stepID uuid.UUID, from []forge.StepStatus, to forge.StepStatus, extra map[string]interface{}) (bool, error)
	TransitionAll(dbc dbctx.Context, runID uuid.UUID, from forge.StepStatus, to forge.StepStatus, extra map[string]interface{}) (int64, error)
	ExistsWithStatus(dbc dbctx.Context, runID uuid.UUID, status forge.StepStatus) (bool, error)
	SetOutputPointer(dbc dbctx.Context, stepID uuid.UUID, bucket, key string) error
}

type runStepRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewRunStepRepo(db *gorm.DB, baseLog *logger.Logger) RunStepRepo {
	return &runStepRepo{db: db, log: baseLog.With("repo", "RunStepRepo")}
}

func (r *runStepRepo) CreateBatch(dbc dbctx.Context, steps []*types.RunStep) error {
	if len(steps) == 0 {
		return nil
	}
	return dbc.DB(r.db).Omit("VersionStep").Create(&steps).Error
}

func (r *runStepRepo) ListByRun(dbc dbctx.Context, runID uuid.UUID) ([]*types.RunStep, error) {
	var out []*types.RunStep
	err := dbc.DB(r.db).Preload("VersionStep").Where("run_id = ?", runID).Order("step_index ASC").Find(&out).Error
	return out, err
}

func (r *runStepRepo) GetForRun(dbc dbctx.Context, runID uuid.UUID, stepID uuid.UUID) (*types.RunStep, error) {
	return first[types.RunStep](dbc.DB(r.db).Preload("VersionStep").Where("id = ? AND run_id = ?", stepID, runID))
}

func (r *runStepRepo) Transition(dbc dbctx.Context, runID uuid.UUID, stepID uuid.UUID, from []forge.StepStatus, to forge.StepStatus, extra map[string]interface{}) (bool, error) {
	updates := map[string]interface{}{"status": to, "updated_at": time.Now().UTC()}
	for k, v := range extra {
		updates[k] = v
	}
	res := dbc.DB(r.db).Model(&types.RunStep{}).
		Where("id = ? AND run_id = ? AND status IN ?", stepID, runID, from).
		Updates(updates)
	return res.RowsAffected > 0, res.Error
}

func (r *runStepRepo) TransitionAll(dbc dbctx.Context, runID uuid.UUID, from forge.StepStatus, to forge.StepStatus, extra map[string]interface{}) (int64, error) {
	updates := map[string]interface{}{"status": to, "updated_at": time.Now().UTC()}
	for k, v := range extra {
		updates[k] = v
	}
	res := dbc.DB(r.db).Model(&types.RunStep{}).
		Where("run_id = ? AND status = ?", runID, from).
		Updates(updates)
	return res.RowsAffected, res.Error
}

func (r *runStepRepo) ExistsWithStatus(dbc dbctx.Context, runID uuid.UUID, status forge.StepStatus) (bool, error) {
	var count int64
	err := dbc.DB(r.db).Model(&types.RunStep{}).Where("run_id = ? AND status = ?", runID, status).Count(&count).Error
	return count > 0, err
}

func (r *runStepRepo) SetOutputPointer(dbc dbctx.Context, stepID uuid.UUID, bucket, key string) error {
	return dbc.DB(r.db).Model(&types.RunStep{}).Where("id = ?", stepID).
		Updates(map[string]interface{}{"output_bucket": bucket, "output_key": key, "updated_at": time.Now().UTC()}).Error
}

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

type BuildMonitorRepo interface {
	Create(dbc dbctx.Context, m *types.BuildMonitor) error
	GetByRunID(dbc dbctx.Context, runID uuid.UUID) (*types.BuildMonitor, error)
	// AdvanceIfSeq applies updates and bumps seq only when the row is still at seq.
	AdvanceIfSeq(dbc dbctx.Context, runID uuid.UUID, seq int, updates map[string]interface{}) (bool, error)
	// MarkDone ends the lifecycle regardless of seq; false means it already ended.
	MarkDone(dbc dbctx.Context, runID uuid.UUID, reason string) (bool, error)
	ListStale(dbc dbctx.Context, before time.Time, limit int) ([]*types.BuildMonitor, error)
}

type buildMonitorRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewBuildMonitorRepo(db *gorm.DB, baseLog *logger.Logger) BuildMonitorRepo {
	return &buildMonitorRepo{db: db, log: baseLog.With("repo", "BuildMonitorRepo")}
}

func (r *buildMonitorRepo) Create(dbc dbctx.Context, m *types.BuildMonitor) error {
	return dbc.DB(r.db).Create(m).Error
}

func (r *buildMonitorRepo) GetByRunID(dbc dbctx.Context, runID uuid.UUID) (*types.BuildMonitor, error) {
	return first[types.BuildMonitor](dbc.DB(r.db).Where("run_id = ?", runID))
}

func (r *buildMonitorRepo) AdvanceIfSeq(dbc dbctx.Context, runID uuid.UUID, seq int, updates map[string]interface{}) (bool, error) {
	set := map[string]interface{}{
		"seq":        gorm.Expr("seq + 1"),
		"updated_at": time.Now().UTC(),
	}
	for k, v := range updates {
		set[k] = v
	}
	res := dbc.DB(r.db).Model(&types.BuildMonitor{}).
		Where("run_id = ? AND seq = ?", runID, seq).
		Updates(set)
	return res.RowsAffected > 0, res.Error
}

func (r *buildMonitorRepo) MarkDone(dbc dbctx.Context, runID uuid.UUID, reason string) (bool, error) {
	set := map[string]interface{}{
		"stage":          forge.MonitorStageDone,
		"seq":            gorm.Expr("seq + 1"),
		"next_action_at": nil,
		"updated_at":     time.Now().UTC(),
	}
	if reason != "" {
		set["failure_reason"] = reason
	}
	res := dbc.DB(r.db).Model(&types.BuildMonitor{}).
		Where("run_id = ? AND stage <> ?", runID, forge.MonitorStageDone).
		Updates(set)
	return res.RowsAffected > 0, res.Error
}

// ListStale returns unfinished monitors whose next action is overdue.
func (r *buildMonitorRepo) ListStale(dbc dbctx.Context, before time.Time, limit int) ([]*types.BuildMonitor, error) {
	var out []*types.BuildMonitor
	err := dbc.DB(r.db).
		Where("stage <> ? AND next_action_at IS NOT NULL AND next_action_at < ?", forge.MonitorStageDone, before).
		Order("next_action_at ASC").
		Limit(limit).
		Find(&out).Error
	return out, err
}

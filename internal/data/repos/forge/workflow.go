package forge

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	types "github.com/yungbote/forge-backend/internal/domain"
	"github.com/yungbote/forge-backend/internal/domain/forge"
	"github.com/yungbote/forge-backend/internal/platform/dbctx"
	"github.com/yungbote/forge-backend/internal/platform/logger"
)

type WorkflowRepo interface {
	Create(dbc dbctx.Context, w *types.Workflow) error
	GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Workflow, error)
	// LockActive share-locks the row for the rest of the transaction and
	// reports whether the workflow is still active. SoftDelete waits on it.
	LockActive(dbc dbctx.Context, id uuid.UUID) (bool, error)
	GetActive(dbc dbctx.Context, tenantID uuid.UUID, idOrIdentifier string) (*types.Workflow, error)
	GetActiveByIdentifier(dbc dbctx.Context, tenantID uuid.UUID, identifier string) (*types.Workflow, error)
	ListActive(dbc dbctx.Context, tenantID uuid.UUID, page Page) ([]*types.Workflow, error)
	UpdateName(dbc dbctx.Context, id uuid.UUID, name string) error
	SetCurrentVersion(dbc dbctx.Context, id uuid.UUID, versionID uuid.UUID) error
	SoftDelete(dbc dbctx.Context, id uuid.UUID, at time.Time) (bool, error)
	ListDeletedBefore(dbc dbctx.Context, cutoff time.Time, limit int) ([]uuid.UUID, error)
	HardDelete(dbc dbctx.Context, ids []uuid.UUID) (int64, error)
}

type workflowRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewWorkflowRepo(db *gorm.DB, baseLog *logger.Logger) WorkflowRepo {
	return &workflowRepo{db: db, log: baseLog.With("repo", "WorkflowRepo")}
}

func (r *workflowRepo) Create(dbc dbctx.Context, w *types.Workflow) error {
	return dbc.DB(r.db).Create(w).Error
}

func (r *workflowRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Workflow, error) {
	return first[types.Workflow](dbc.DB(r.db).Where("id = ?", id))
}

func (r *workflowRepo) LockActive(dbc dbctx.Context, id uuid.UUID) (bool, error) {
	w, err := first[types.Workflow](dbc.DB(r.db).Clauses(clause.Locking{Strength: "SHARE"}).Where("id = ?", id))
	if err != nil || w == nil {
		return false, err
	}
	return w.Status == forge.WorkflowStatusActive, nil
}

// GetActive resolves either the workflow id or its identifier.
func (r *workflowRepo) GetActive(dbc dbctx.Context, tenantID uuid.UUID, idOrIdentifier string) (*types.Workflow, error) {
	q := dbc.DB(r.db).Where("tenant_id = ? AND status = ?", tenantID, forge.WorkflowStatusActive)
	if id, err := uuid.Parse(idOrIdentifier); err == nil {
		q = q.Where("(id = ? OR identifier = ?)", id, idOrIdentifier)
	} else {
		q = q.Where("identifier = ?", idOrIdentifier)
	}
	return first[types.Workflow](q)
}

func (r *workflowRepo) GetActiveByIdentifier(dbc dbctx.Context, tenantID uuid.UUID, identifier string) (*types.Workflow, error) {
	return first[types.Workflow](dbc.DB(r.db).
		Where("tenant_id = ? AND identifier = ? AND status = ?", tenantID, identifier, forge.WorkflowStatusActive))
}

func (r *workflowRepo) ListActive(dbc dbctx.Context, tenantID uuid.UUID, page Page) ([]*types.Workflow, error) {
	var out []*types.Workflow
	q := dbc.DB(r.db).Where("tenant_id = ? AND status = ?", tenantID, forge.WorkflowStatusActive)
	if err := page.apply(q).Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *workflowRepo) UpdateName(dbc dbctx.Context, id uuid.UUID, name string) error {
	return dbc.DB(r.db).Model(&types.Workflow{}).Where("id = ?", id).
		Updates(map[string]interface{}{"name": name, "updated_at": time.Now().UTC()}).Error
}

func (r *workflowRepo) SetCurrentVersion(dbc dbctx.Context, id uuid.UUID, versionID uuid.UUID) error {
	return dbc.DB(r.db).Model(&types.Workflow{}).Where("id = ?", id).
		Updates(map[string]interface{}{"current_version_id": versionID, "updated_at": time.Now().UTC()}).Error
}

// SoftDelete flips an active workflow to deleted; false means it was not active.
func (r *workflowRepo) SoftDelete(dbc dbctx.Context, id uuid.UUID, at time.Time) (bool, error) {
	res := dbc.DB(r.db).Model(&types.Workflow{}).
		Where("id = ? AND status = ?", id, forge.WorkflowStatusActive).
		Updates(map[string]interface{}{
			"status":     forge.WorkflowStatusDeleted,
			"deleted_at": at,
			"updated_at": at,
		})
	return res.RowsAffected > 0, res.Error
}

func (r *workflowRepo) ListDeletedBefore(dbc dbctx.Context, cutoff time.Time, limit int) ([]uuid.UUID, error) {
	var out []uuid.UUID
	err := dbc.DB(r.db).Model(&types.Workflow{}).
		Where("status = ? AND deleted_at IS NOT NULL AND deleted_at < ?", forge.WorkflowStatusDeleted, cutoff).
		Order("id ASC").
		Limit(limit).
		Pluck("id", &out).Error
	return out, err
}

func (r *workflowRepo) HardDelete(dbc dbctx.Context, ids []uuid.UUID) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res := dbc.DB(r.db).Where("id IN ? AND status = ?", ids, forge.WorkflowStatusDeleted).Delete(&types.Workflow{})
	return res.RowsAffected, res.Error
}

// first returns nil, nil when no row matches.
func first[T any](q *gorm.DB) (*T, error) {
	var out T
	err := q.Limit(1).Take(&out).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &out, nil
}

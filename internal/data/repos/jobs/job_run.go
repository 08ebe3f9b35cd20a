package jobs

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	types "github.com/yungbote/forge-backend/internal/domain"
	jobstatus "github.com/yungbote/forge-backend/internal/domain/jobs"
	"github.com/yungbote/forge-backend/internal/platform/dbctx"
	"github.com/yungbote/forge-backend/internal/platform/logger"
)

// ClaimFilter narrows which jobs a worker lane may claim. Include wins over
// Exclude; both empty means any type.
type ClaimFilter struct {
	Include      []string
	Exclude      []string
	Now          time.Time
	StaleRunning time.Duration
}

type JobRunRepo interface {
	Create(dbc dbctx.Context, jobs []*types.JobRun) ([]*types.JobRun, error)
	GetByIDs(dbc dbctx.Context, ids []uuid.UUID) ([]*types.JobRun, error)
	ClaimNextRunnable(dbc dbctx.Context, filter ClaimFilter) (*types.JobRun, error)
	MarkSucceeded(dbc dbctx.Context, id uuid.UUID, result datatypes.JSON) error
	MarkRetry(dbc dbctx.Context, id uuid.UUID, errMsg string, runAfter time.Time) error
	MarkTerminal(dbc dbctx.Context, id uuid.UUID, status string, errMsg string) error
	UpdateFieldsUnlessStatus(dbc dbctx.Context, id uuid.UUID, disallowedStatuses []string, updates map[string]interface{}) (bool, error)
	Heartbeat(dbc dbctx.Context, id uuid.UUID) error
	ExistsRunnable(dbc dbctx.Context, jobType string, entityType string, entityID *uuid.UUID) (bool, error)
	CountRunnable(dbc dbctx.Context, now time.Time) (int64, error)
	PurgeFinishedBefore(dbc dbctx.Context, cutoff time.Time) (int64, error)
}

type jobRunRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewJobRunRepo(db *gorm.DB, baseLog *logger.Logger) JobRunRepo {
	return &jobRunRepo{
		db:  db,
		log: baseLog.With("repo", "JobRunRepo"),
	}
}

func (r *jobRunRepo) Create(dbc dbctx.Context, jobs []*types.JobRun) ([]*types.JobRun, error) {
	if len(jobs) == 0 {
		return []*types.JobRun{}, nil
	}
	if err := dbc.DB(r.db).Create(&jobs).Error; err != nil {
		return nil, err
	}
	return jobs, nil
}

func (r *jobRunRepo) GetByIDs(dbc dbctx.Context, ids []uuid.UUID) ([]*types.JobRun, error) {
	var out []*types.JobRun
	if len(ids) == 0 {
		return out, nil
	}
	if err := dbc.DB(r.db).Where("id IN ?", ids).Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// ClaimNextRunnable locks the oldest due job (queued, or running with a stale
// heartbeat) and marks it running. Concurrent claimers skip locked rows.
func (r *jobRunRepo) ClaimNextRunnable(dbc dbctx.Context, filter ClaimFilter) (*types.JobRun, error) {
	now := filter.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}
	staleCutoff := now.Add(-filter.StaleRunning)
	var claimed *types.JobRun
	err := dbc.DB(r.db).Transaction(func(txx *gorm.DB) error {
		var job types.JobRun
		q := txx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where("run_after <= ?", now).
			Where(`
        (
          status = ?
          OR (
            status = ?
            AND heartbeat_at IS NOT NULL
            AND heartbeat_at < ?
          )
        )
      `, jobstatus.JobStatusQueued, jobstatus.JobStatusRunning, staleCutoff)
		switch {
		case len(filter.Include) > 0:
			q = q.Where("job_type IN ?", filter.Include)
		case len(filter.Exclude) > 0:
			q = q.Where("job_type NOT IN ?", filter.Exclude)
		}
		qErr := q.Order("run_after ASC").Order("created_at ASC").Order("id ASC").First(&job).Error
		if errors.Is(qErr, gorm.ErrRecordNotFound) {
			return nil
		}
		if qErr != nil {
			return qErr
		}
		uErr := txx.Model(&types.JobRun{}).
			Where("id = ?", job.ID).
			Updates(map[string]interface{}{
				"status":       jobstatus.JobStatusRunning,
				"attempts":     gorm.Expr("attempts + 1"),
				"locked_at":    now,
				"heartbeat_at": now,
				"updated_at":   now,
			}).Error
		if uErr != nil {
			return uErr
		}
		job.Status = jobstatus.JobStatusRunning
		job.Attempts++
		job.LockedAt = &now
		job.HeartbeatAt = &now
		claimed = &job
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

func (r *jobRunRepo) MarkSucceeded(dbc dbctx.Context, id uuid.UUID, result datatypes.JSON) error {
	now := time.Now().UTC()
	updates := map[string]interface{}{
		"status":      jobstatus.JobStatusSucceeded,
		"error":       "",
		"finished_at": now,
		"updated_at":  now,
	}
	if len(result) > 0 {
		updates["result"] = result
	}
	return dbc.DB(r.db).Model(&types.JobRun{}).Where("id = ?", id).Updates(updates).Error
}

func (r *jobRunRepo) MarkRetry(dbc dbctx.Context, id uuid.UUID, errMsg string, runAfter time.Time) error {
	now := time.Now().UTC()
	return dbc.DB(r.db).Model(&types.JobRun{}).Where("id = ?", id).Updates(map[string]interface{}{
		"status":        jobstatus.JobStatusQueued,
		"error":         errMsg,
		"last_error_at": now,
		"run_after":     runAfter,
		"locked_at":     nil,
		"heartbeat_at":  nil,
		"updated_at":    now,
	}).Error
}

func (r *jobRunRepo) MarkTerminal(dbc dbctx.Context, id uuid.UUID, status string, errMsg string) error {
	now := time.Now().UTC()
	return dbc.DB(r.db).Model(&types.JobRun{}).Where("id = ?", id).Updates(map[string]interface{}{
		"status":        status,
		"error":         errMsg,
		"last_error_at": now,
		"finished_at":   now,
		"updated_at":    now,
	}).Error
}

func (r *jobRunRepo) UpdateFieldsUnlessStatus(dbc dbctx.Context, id uuid.UUID, disallowedStatuses []string, updates map[string]interface{}) (bool, error) {
	if id == uuid.Nil {
		return false, nil
	}
	if updates == nil {
		updates = map[string]interface{}{}
	}
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now().UTC()
	}
	q := dbc.DB(r.db).Model(&types.JobRun{}).Where("id = ?", id)
	if len(disallowedStatuses) == 1 {
		q = q.Where("status <> ?", disallowedStatuses[0])
	} else if len(disallowedStatuses) > 1 {
		q = q.Where("status NOT IN ?", disallowedStatuses)
	}
	res := q.Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *jobRunRepo) Heartbeat(dbc dbctx.Context, id uuid.UUID) error {
	if id == uuid.Nil {
		return nil
	}
	now := time.Now().UTC()
	return dbc.DB(r.db).Model(&types.JobRun{}).
		Where("id = ? AND status = ?", id, jobstatus.JobStatusRunning).
		Updates(map[string]interface{}{
			"heartbeat_at": now,
			"updated_at":   now,
		}).Error
}

func (r *jobRunRepo) ExistsRunnable(dbc dbctx.Context, jobType string, entityType string, entityID *uuid.UUID) (bool, error) {
	if jobType == "" {
		return false, nil
	}
	q := dbc.DB(r.db).Model(&types.JobRun{}).
		Where("job_type = ? AND status IN ?", jobType, []string{jobstatus.JobStatusQueued, jobstatus.JobStatusRunning})
	if entityType != "" {
		q = q.Where("entity_type = ?", entityType)
	}
	if entityID != nil && *entityID != uuid.Nil {
		q = q.Where("entity_id = ?", *entityID)
	}
	var count int64
	if err := q.Limit(1).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *jobRunRepo) CountRunnable(dbc dbctx.Context, now time.Time) (int64, error) {
	var count int64
	err := dbc.DB(r.db).Model(&types.JobRun{}).
		Where("status = ? AND run_after <= ?", jobstatus.JobStatusQueued, now).
		Count(&count).Error
	return count, err
}

// PurgeFinishedBefore deletes succeeded/failed/dead jobs finished before cutoff.
func (r *jobRunRepo) PurgeFinishedBefore(dbc dbctx.Context, cutoff time.Time) (int64, error) {
	res := dbc.DB(r.db).
		Where("status IN ? AND finished_at IS NOT NULL AND finished_at < ?",
			[]string{jobstatus.JobStatusSucceeded, jobstatus.JobStatusFailed, jobstatus.JobStatusDead}, cutoff).
		Delete(&types.JobRun{})
	return res.RowsAffected, res.Error
}

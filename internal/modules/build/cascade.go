package build

import (
	"fmt"

	"github.com/google/uuid"

	types "github.com/yungbote/forge-backend/internal/domain"
	"github.com/yungbote/forge-backend/internal/jobs/queue"
	"github.com/yungbote/forge-backend/internal/platform/apierr"
	"github.com/yungbote/forge-backend/internal/platform/dbctx"
)

const sweepBatch = 100

// BeginWorkflowDelete soft-deletes w and schedules removal of its runs and
// artifacts. It reports false when w was already deleted.
func (u Usecases) BeginWorkflowDelete(dbc dbctx.Context, w *types.Workflow) (bool, error) {
	var deleted bool
	err := dbc.InTx(u.deps.DB, func(dbc dbctx.Context) error {
		ok, err := u.deps.Workflows.SoftDelete(dbc, w.ID, u.now())
		if err != nil || !ok {
			return err
		}
		deleted = true
		workflowID := w.ID
		_, err = u.deps.Queue.EnqueueMany(dbc, []queue.Request{
			{
				JobType:    JobWorkflowRunsDelete,
				EntityType: entityWorkflow,
				EntityID:   &workflowID,
				Payload:    PagePayload{WorkflowID: workflowID, PageSize: u.deps.Limits.DeletePageSize},
			},
			{
				JobType:    JobWorkflowArtifactsDelete,
				EntityType: entityWorkflow,
				EntityID:   &workflowID,
				Payload:    PagePayload{WorkflowID: workflowID, PageSize: u.deps.Limits.DeletePageSize},
			},
		})
		return err
	})
	if err == nil && deleted {
		u.deps.Log.Info("Workflow deletion started", "workflow_id", w.ID)
	}
	return deleted, err
}

func (u Usecases) pageSize(p PagePayload) int {
	if p.PageSize > 0 {
		return p.PageSize
	}
	return u.deps.Limits.DeletePageSize
}

// fanOut enqueues one child job per id plus the next page job.
func (u Usecases) fanOut(dbc dbctx.Context, p PagePayload, ids []uuid.UUID, pageJob, childJob, childEntity string) error {
	if len(ids) == 0 {
		u.deps.Log.Debug("Delete pages exhausted", "workflow_id", p.WorkflowID, "job", pageJob)
		return nil
	}
	reqs := make([]queue.Request, 0, len(ids)+1)
	for _, id := range ids {
		id := id
		reqs = append(reqs, queue.Request{
			JobType:    childJob,
			EntityType: childEntity,
			EntityID:   &id,
			Payload:    EntityPayload{ID: id},
		})
	}
	cursor := ids[len(ids)-1]
	workflowID := p.WorkflowID
	reqs = append(reqs, queue.Request{
		JobType:    pageJob,
		EntityType: entityWorkflow,
		EntityID:   &workflowID,
		Payload:    PagePayload{WorkflowID: workflowID, Cursor: &cursor, PageSize: u.pageSize(p)},
	})
	_, err := u.deps.Queue.EnqueueMany(dbc, reqs)
	return err
}

// DeleteRunsPage schedules deletion of the next page of the workflow's runs.
func (u Usecases) DeleteRunsPage(dbc dbctx.Context, p PagePayload) error {
	ids, err := u.deps.Runs.ListIDsByWorkflowAfter(dbc, p.WorkflowID, p.Cursor, u.pageSize(p))
	if err != nil {
		return err
	}
	return u.fanOut(dbc, p, ids, JobWorkflowRunsDelete, JobWorkflowRunDelete, entityWorkflowRun)
}

// DeleteArtifactsPage schedules deletion of the next page of the workflow's artifacts.
func (u Usecases) DeleteArtifactsPage(dbc dbctx.Context, p PagePayload) error {
	ids, err := u.deps.Artifacts.ListIDsByWorkflowAfter(dbc, p.WorkflowID, p.Cursor, u.pageSize(p))
	if err != nil {
		return err
	}
	return u.fanOut(dbc, p, ids, JobWorkflowArtifactsDelete, JobWorkflowArtifactDelete, entityWorkflowArtifact)
}

func objectDelete(bucket, key string) queue.Request {
	return queue.Request{
		JobType: JobStorageObjectDelete,
		Payload: ObjectPayload{Bucket: bucket, Key: key},
	}
}

// DeleteRun removes the run with its steps and artifacts and schedules
// removal of the objects behind them. The run's own artifacts are swept here
// because an upload confirmed after the artifact pages passed would
// otherwise never be visited.
func (u Usecases) DeleteRun(dbc dbctx.Context, runID uuid.UUID) error {
	steps, err := u.deps.Steps.ListByRun(dbc, runID)
	if err != nil {
		return err
	}
	return dbc.InTx(u.deps.DB, func(dbc dbctx.Context) error {
		artifacts, err := u.deps.Artifacts.DeleteByRun(dbc, runID)
		if err != nil {
			return err
		}
		ok, err := u.deps.Runs.DeleteCascade(dbc, runID)
		if err != nil {
			return err
		}
		if !ok && len(artifacts) == 0 {
			return nil
		}
		var reqs []queue.Request
		for _, s := range steps {
			if s.HasStoredOutput() {
				reqs = append(reqs, objectDelete(s.OutputBucket, s.OutputKey))
			}
		}
		for _, a := range artifacts {
			reqs = append(reqs, objectDelete(a.Bucket, a.StorageKey))
		}
		if len(reqs) == 0 {
			return nil
		}
		_, err = u.deps.Queue.EnqueueMany(dbc, reqs)
		return err
	})
}

// DeleteArtifact removes the artifact row and schedules removal of its object.
func (u Usecases) DeleteArtifact(dbc dbctx.Context, artifactID uuid.UUID) error {
	return dbc.InTx(u.deps.DB, func(dbc dbctx.Context) error {
		a, err := u.deps.Artifacts.GetByID(dbc, artifactID)
		if err != nil || a == nil {
			return err
		}
		ok, err := u.deps.Artifacts.Delete(dbc, artifactID)
		if err != nil || !ok {
			return err
		}
		_, err = u.deps.Queue.Enqueue(dbc, objectDelete(a.Bucket, a.StorageKey))
		return err
	})
}

func (u Usecases) DeleteStorageObject(dbc dbctx.Context, p ObjectPayload) error {
	if p.Bucket == "" || p.Key == "" {
		return apierr.InvalidArgument("storage object delete without bucket or key")
	}
	if u.deps.Bucket == nil {
		return apierr.Storage(fmt.Errorf("object storage not configured"))
	}
	if err := u.deps.Bucket.Delete(dbc.Ctx, p.Bucket, p.Key); err != nil {
		return apierr.Storage(fmt.Errorf("delete object: %w", err))
	}
	return nil
}

type SweepResult struct {
	Workflows int64 `json:"workflows"`
	Jobs      int64 `json:"jobs"`
}

// Sweep hard-deletes workflows soft-deleted before the retention window,
// with their versions, and purges finished jobs past their retention.
func (u Usecases) Sweep(dbc dbctx.Context) (SweepResult, error) {
	var res SweepResult
	cutoff := u.now().Add(-u.deps.Limits.WorkflowRetention)
	for {
		ids, err := u.deps.Workflows.ListDeletedBefore(dbc, cutoff, sweepBatch)
		if err != nil {
			return res, err
		}
		if len(ids) == 0 {
			break
		}
		err = dbc.InTx(u.deps.DB, func(dbc dbctx.Context) error {
			if err := u.deps.Versions.DeleteByWorkflowIDs(dbc, ids); err != nil {
				return err
			}
			n, err := u.deps.Workflows.HardDelete(dbc, ids)
			res.Workflows += n
			return err
		})
		if err != nil {
			return res, err
		}
		if len(ids) < sweepBatch {
			break
		}
	}
	if u.deps.JobRuns != nil {
		n, err := u.deps.JobRuns.PurgeFinishedBefore(dbc, u.now().Add(-u.deps.Limits.JobRetention))
		if err != nil {
			return res, err
		}
		res.Jobs = n
	}
	u.deps.Log.Info("Retention sweep finished", "workflows", res.Workflows, "jobs", res.Jobs)
	return res, nil
}

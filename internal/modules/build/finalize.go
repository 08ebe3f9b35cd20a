package build

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/forge-backend/internal/domain/forge"
	"github.com/yungbote/forge-backend/internal/jobs/queue"
	"github.com/yungbote/forge-backend/internal/platform/buildprovider"
	"github.com/yungbote/forge-backend/internal/platform/dbctx"
)

// Outcome is what the provider reported when the build ended.
type Outcome struct {
	Succeeded bool
	EndedAt   *time.Time
	Reason    string
}

// Finalize waits for a terminal provider status, then applies it to the run.
func (u Usecases) Finalize(dbc dbctx.Context, p StagePayload) error {
	m, err := u.loadStage(dbc, p, forge.MonitorStageFinalize)
	if err != nil || m == nil {
		return err
	}
	if m.ForceFailed {
		return u.FinalizeRun(dbc.Ctx, m.RunID, Outcome{Reason: m.FailureReason})
	}
	prov, err := u.provider()
	if err != nil {
		return err
	}
	status, err := prov.PollStatus(dbc.Ctx, m.ProviderBuildID)
	if errors.Is(err, buildprovider.ErrBuildNotFound) {
		return u.FinalizeRun(dbc.Ctx, m.RunID, Outcome{Reason: "provider build not found"})
	}
	if err != nil {
		return fmt.Errorf("poll build: %w", err)
	}
	if status.Terminal() {
		return u.FinalizeRun(dbc.Ctx, m.RunID, Outcome{
			Succeeded: status.Succeeded(),
			EndedAt:   status.EndedAt,
			Reason:    failureReason(status),
		})
	}

	attempts := m.FinalizeAttempts + 1
	if attempts >= u.deps.Limits.MaxFinalizeAttempts {
		return u.FinalizeRun(dbc.Ctx, m.RunID, Outcome{
			Reason: fmt.Sprintf("build still %s after %d checks", status.Phase, attempts),
		})
	}
	_, err = u.advance(dbc, m, forge.MonitorStageFinalize, map[string]interface{}{
		"finalize_attempts": attempts,
	}, u.deps.Limits.FinalizeRetryDelay)
	return err
}

func failureReason(s buildprovider.Status) string {
	if s.Succeeded() {
		return ""
	}
	return fmt.Sprintf("build ended %s", s.Phase)
}

// ForceFail ends the run as failed. Stage jobs call it once their retries
// are exhausted.
func (u Usecases) ForceFail(ctx context.Context, runID uuid.UUID, reason string) error {
	return u.FinalizeRun(ctx, runID, Outcome{Reason: reason})
}

// FinalizeRun applies the terminal state once. Under the run lock a run that
// is already terminal is left untouched.
func (u Usecases) FinalizeRun(ctx context.Context, runID uuid.UUID, out Outcome) error {
	return u.deps.Locker.WithLock(ctx, "run:"+runID.String(), func(ctx context.Context) error {
		return dbctx.Context{Ctx: ctx}.InTx(u.deps.DB, func(dbc dbctx.Context) error {
			return u.finalizeLocked(dbc, runID, out)
		})
	})
}

func (u Usecases) finalizeLocked(dbc dbctx.Context, runID uuid.UUID, out Outcome) error {
	run, err := u.deps.Runs.GetByID(dbc, runID)
	if err != nil {
		return err
	}
	if run == nil {
		return nil
	}
	if run.Status.Terminal() {
		_, err := u.deps.Monitors.MarkDone(dbc, runID, "")
		return err
	}

	endedAt := u.now()
	if out.EndedAt != nil && !out.EndedAt.IsZero() {
		endedAt = out.EndedAt.UTC()
	}
	stepOutcome := forge.StepStatusFailed
	if out.Succeeded {
		stepOutcome = forge.StepStatusSucceeded
	}
	if _, err := u.deps.Steps.TransitionAll(dbc, runID, forge.StepStatusRunning, stepOutcome,
		map[string]interface{}{"ended_at": endedAt}); err != nil {
		return err
	}
	if _, err := u.deps.Steps.TransitionAll(dbc, runID, forge.StepStatusPending, forge.StepStatusCanceled, nil); err != nil {
		return err
	}
	anyFailed, err := u.deps.Steps.ExistsWithStatus(dbc, runID, forge.StepStatusFailed)
	if err != nil {
		return err
	}

	final := forge.RunStatusSucceeded
	if !out.Succeeded || anyFailed {
		final = forge.RunStatusFailed
	}
	moved, err := u.deps.Runs.TransitionStatus(dbc, runID,
		[]forge.RunStatus{forge.RunStatusPending, forge.RunStatusRunning}, final,
		map[string]interface{}{"ended_at": endedAt})
	if err != nil {
		return err
	}
	if !moved {
		return nil
	}

	var reqs []queue.Request
	if final == forge.RunStatusSucceeded {
		m, err := u.deps.Monitors.GetByRunID(dbc, runID)
		if err != nil {
			return err
		}
		if m != nil {
			reqs = append(reqs, u.reconcileUploads(runID, m.Mappings(), m.IsConfirmed)...)
		}
	}
	reqs = append(reqs, queue.Request{
		JobType:    JobRunOutputStore,
		EntityType: entityWorkflowRun,
		EntityID:   &runID,
		Payload:    RunPayload{RunID: runID},
	})
	if _, err := u.deps.Queue.EnqueueMany(dbc, reqs); err != nil {
		return err
	}
	if _, err := u.deps.Monitors.MarkDone(dbc, runID, out.Reason); err != nil {
		return err
	}
	u.deps.Log.Info("Run finalized", "run_id", runID, "status", final, "reason", out.Reason, "reconcile", len(reqs)-1)
	return nil
}

// reconcileUploads schedules materialization for mapped uploads that never
// produced a register sentinel.
func (u Usecases) reconcileUploads(runID uuid.UUID, mappings map[string]forge.UploadTarget, confirmed func(string) bool) []queue.Request {
	stepIDs := make([]string, 0, len(mappings))
	for id := range mappings {
		if !confirmed(id) {
			stepIDs = append(stepIDs, id)
		}
	}
	sort.Strings(stepIDs)
	reqs := make([]queue.Request, 0, len(stepIDs))
	for _, id := range stepIDs {
		stepID, err := uuid.Parse(id)
		if err != nil {
			continue
		}
		t := mappings[id]
		reqs = append(reqs, queue.Request{
			JobType:    JobArtifactMaterialize,
			EntityType: entityWorkflowRun,
			EntityID:   &runID,
			Payload:    MaterializePayload{RunID: runID, StepID: stepID, Bucket: t.Bucket, StorageKey: t.StorageKey},
		})
	}
	return reqs
}

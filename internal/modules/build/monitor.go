package build

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/datatypes"

	types "github.com/yungbote/forge-backend/internal/domain"
	"github.com/yungbote/forge-backend/internal/domain/forge"
	"github.com/yungbote/forge-backend/internal/jobs/queue"
	"github.com/yungbote/forge-backend/internal/platform/apierr"
	"github.com/yungbote/forge-backend/internal/platform/buildprovider"
	"github.com/yungbote/forge-backend/internal/platform/dbctx"
)

const (
	waitFastAttempts = 10
	waitFastDelay    = time.Second
	waitSlowDelay    = 5 * time.Second
)

// errStale aborts a transaction whose monitor row moved on underneath it.
var errStale = errors.New("build: monitor advanced concurrently")

var stageJobs = map[forge.MonitorStage]string{
	forge.MonitorStageStart:    JobBuildStart,
	forge.MonitorStageWait:     JobBuildWait,
	forge.MonitorStageTail:     JobBuildTail,
	forge.MonitorStageFinalize: JobBuildFinalize,
}

// WaitDelay is the pause before wait poll number attempts+1.
func WaitDelay(attempts int) time.Duration {
	if attempts < waitFastAttempts {
		return waitFastDelay
	}
	return waitSlowDelay
}

func (u Usecases) provider() (buildprovider.Adapter, error) {
	if u.deps.Provider == nil {
		return nil, apierr.ProviderMisconfigured(fmt.Errorf("no build provider configured"))
	}
	return u.deps.Provider, nil
}

// loadStage returns the monitor when it still expects this stage job, or
// nil when the job is a stale duplicate or the run is gone.
func (u Usecases) loadStage(dbc dbctx.Context, p StagePayload, stage forge.MonitorStage) (*types.BuildMonitor, error) {
	m, err := u.deps.Monitors.GetByRunID(dbc, p.RunID)
	if err != nil {
		return nil, err
	}
	if m == nil {
		u.deps.Log.Debug("Monitor gone; skipping", "run_id", p.RunID, "stage", stage)
		return nil, nil
	}
	if m.Stage != stage || m.Seq != p.Seq {
		u.deps.Log.Debug("Stale stage job; skipping",
			"run_id", p.RunID, "stage", stage, "seq", p.Seq, "current_stage", m.Stage, "current_seq", m.Seq)
		return nil, nil
	}
	return m, nil
}

// advance moves m to next and schedules the matching stage job in the same
// transaction. It reports false when m was no longer at its seq.
func (u Usecases) advance(dbc dbctx.Context, m *types.BuildMonitor, next forge.MonitorStage, updates map[string]interface{}, delay time.Duration) (bool, error) {
	jobType, ok := stageJobs[next]
	if !ok {
		return false, fmt.Errorf("build: no job for stage %q", next)
	}
	at := u.now().Add(delay)
	set := map[string]interface{}{"stage": next, "next_action_at": at}
	for k, v := range updates {
		set[k] = v
	}
	var advanced bool
	err := dbc.InTx(u.deps.DB, func(dbc dbctx.Context) error {
		ok, err := u.deps.Monitors.AdvanceIfSeq(dbc, m.RunID, m.Seq, set)
		if err != nil || !ok {
			return err
		}
		runID := m.RunID
		if _, err := u.deps.Queue.Enqueue(dbc, queue.Request{
			JobType:    jobType,
			EntityType: entityWorkflowRun,
			EntityID:   &runID,
			Payload:    StagePayload{RunID: runID, Seq: m.Seq + 1},
			Delay:      delay,
		}); err != nil {
			return err
		}
		advanced = true
		return nil
	})
	return advanced, err
}

// forceFinalize sends the monitor straight to finalize with a failed outcome.
func (u Usecases) forceFinalize(dbc dbctx.Context, m *types.BuildMonitor, reason string) error {
	u.deps.Log.Warn("Forcing run failure", "run_id", m.RunID, "reason", reason)
	_, err := u.advance(dbc, m, forge.MonitorStageFinalize, map[string]interface{}{
		"force_failed":   true,
		"failure_reason": reason,
	}, 0)
	return err
}

// Start submits the compiled build and moves the monitor to wait.
func (u Usecases) Start(dbc dbctx.Context, p StagePayload) error {
	m, err := u.loadStage(dbc, p, forge.MonitorStageStart)
	if err != nil || m == nil {
		return err
	}
	run, err := u.deps.Runs.GetByID(dbc, p.RunID)
	if err != nil {
		return err
	}
	if run == nil {
		return nil
	}
	if run.Status.Terminal() {
		_, err := u.deps.Monitors.MarkDone(dbc, run.ID, "")
		return err
	}
	prov, err := u.provider()
	if err != nil {
		return err
	}
	compiled, err := u.CompileRun(dbc, run)
	if err != nil {
		return err
	}
	buildID, err := u.submit(dbc.Ctx, prov, compiled.Request)
	if err != nil {
		return err
	}
	u.deps.Log.Info("Build submitted", "run_id", run.ID, "build_id", buildID, "provider", prov.Name(), "uploads", len(compiled.Uploads))

	_, err = u.advance(dbc, m, forge.MonitorStageWait, map[string]interface{}{
		"provider_build_id": buildID,
		"upload_mappings":   datatypes.NewJSONType(compiled.Uploads),
		"wait_attempts":     0,
	}, WaitDelay(0))
	return err
}

// submit starts the build unless the provider already holds one for the
// run. That happens when a start job is redelivered after the provider
// accepted the build but before the monitor advanced; upload keys are fixed
// per step, so the adopted build writes where the recompiled mappings point.
func (u Usecases) submit(ctx context.Context, prov buildprovider.Adapter, req buildprovider.BuildRequest) (string, error) {
	if f, ok := prov.(buildprovider.Finder); ok {
		id, err := f.FindBuild(ctx, req.RunID)
		if err != nil {
			return "", fmt.Errorf("find build: %w", err)
		}
		if id != "" {
			u.deps.Log.Warn("Adopting build already submitted", "run_id", req.RunID, "build_id", id)
			return id, nil
		}
	}
	id, err := prov.Start(ctx, req)
	if err != nil {
		return "", fmt.Errorf("start build: %w", err)
	}
	return id, nil
}

// Wait polls until the build is running with a log stream or has ended.
func (u Usecases) Wait(dbc dbctx.Context, p StagePayload) error {
	m, err := u.loadStage(dbc, p, forge.MonitorStageWait)
	if err != nil || m == nil {
		return err
	}
	prov, err := u.provider()
	if err != nil {
		return err
	}
	status, err := prov.PollStatus(dbc.Ctx, m.ProviderBuildID)
	if errors.Is(err, buildprovider.ErrBuildNotFound) {
		return u.forceFinalize(dbc, m, "provider build not found")
	}
	if err != nil {
		return fmt.Errorf("poll build: %w", err)
	}

	switch {
	case status.Terminal():
		updates := map[string]interface{}{}
		if status.Log != nil {
			updates["log_handle"] = encodeHandle(status.Log)
		}
		_, err = u.advance(dbc, m, forge.MonitorStageFinalize, updates, 0)
		return err
	case status.Running() && status.Log != nil:
		_, err = u.advance(dbc, m, forge.MonitorStageTail, map[string]interface{}{
			"log_handle":         encodeHandle(status.Log),
			"continuation_token": "",
			"after_end_count":    0,
		}, 0)
		return err
	}

	attempts := m.WaitAttempts + 1
	if attempts >= u.deps.Limits.MaxWaitAttempts {
		return u.forceFinalize(dbc, m, fmt.Sprintf("build did not start after %d polls", attempts))
	}
	_, err = u.advance(dbc, m, forge.MonitorStageWait, map[string]interface{}{
		"wait_attempts": attempts,
	}, WaitDelay(attempts))
	return err
}

func encodeHandle(h *buildprovider.LogHandle) datatypes.JSON {
	raw, _ := json.Marshal(h)
	return datatypes.JSON(raw)
}

func decodeHandle(raw datatypes.JSON) (buildprovider.LogHandle, bool) {
	var h buildprovider.LogHandle
	if len(raw) == 0 || json.Unmarshal(raw, &h) != nil || h.Resource == "" {
		return buildprovider.LogHandle{}, false
	}
	return h, true
}

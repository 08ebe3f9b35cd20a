package build

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	types "github.com/yungbote/forge-backend/internal/domain"
	"github.com/yungbote/forge-backend/internal/domain/forge"
	"github.com/yungbote/forge-backend/internal/platform/buildprovider"
	"github.com/yungbote/forge-backend/internal/platform/dbctx"
)

// tailState is the part of the monitor a log page can change.
type tailState struct {
	started   bool
	ended     bool
	current   *uuid.UUID
	confirmed []string
	buffers   map[uuid.UUID][]string
	order     []uuid.UUID
}

func newTailState(m *types.BuildMonitor) *tailState {
	st := &tailState{
		started:   m.BuildStarted,
		ended:     m.BuildEnded,
		confirmed: append([]string(nil), m.ConfirmedUploads...),
		buffers:   map[uuid.UUID][]string{},
	}
	if m.CurrentStepID != nil {
		id := *m.CurrentStepID
		st.current = &id
	}
	return st
}

func (st *tailState) capture(ev buildprovider.LogEvent) {
	if !st.started || st.ended || st.current == nil {
		return
	}
	line, _ := json.Marshal([]interface{}{ev.Timestamp.UnixMilli(), strings.TrimRight(ev.Message, "\r\n")})
	id := *st.current
	if _, ok := st.buffers[id]; !ok {
		st.order = append(st.order, id)
	}
	st.buffers[id] = append(st.buffers[id], string(line))
}

func (st *tailState) confirm(stepID string) {
	for _, id := range st.confirmed {
		if id == stepID {
			return
		}
	}
	st.confirmed = append(st.confirmed, stepID)
}

// Tail reads the next log page, applies its sentinel events, buffers step
// output, and schedules either another page or finalize.
func (u Usecases) Tail(dbc dbctx.Context, p StagePayload) error {
	m, err := u.loadStage(dbc, p, forge.MonitorStageTail)
	if err != nil || m == nil {
		return err
	}
	prov, err := u.provider()
	if err != nil {
		return err
	}
	handle, ok := decodeHandle(m.LogHandle)
	if !ok {
		return u.forceFinalize(dbc, m, "build log stream unavailable")
	}

	running := true
	status, err := prov.PollStatus(dbc.Ctx, m.ProviderBuildID)
	switch {
	case errors.Is(err, buildprovider.ErrBuildNotFound):
		running = false
	case err != nil:
		return fmt.Errorf("poll build: %w", err)
	default:
		running = status.Running()
	}

	page, err := prov.FetchLogPage(dbc.Ctx, handle, m.ContinuationToken)
	if err != nil {
		return fmt.Errorf("fetch log page: %w", err)
	}

	run, err := u.deps.Runs.GetByID(dbc, m.RunID)
	if err != nil {
		return err
	}
	if run == nil {
		return nil
	}
	steps, err := u.deps.Steps.ListByRun(dbc, m.RunID)
	if err != nil {
		return err
	}
	byID := make(map[uuid.UUID]*types.RunStep, len(steps))
	for _, s := range steps {
		byID[s.ID] = s
	}

	afterEnd := m.AfterEndCount
	if !running {
		afterEnd++
	}

	st := newTailState(m)
	err = dbc.InTx(u.deps.DB, func(dbc dbctx.Context) error {
		for _, ev := range page.Events {
			if err := u.applyEvent(dbc, run, m, byID, st, ev); err != nil {
				return err
			}
		}
		if err := u.flushBuffers(dbc, m.RunID, st); err != nil {
			return err
		}

		updates := map[string]interface{}{
			"continuation_token": page.NextToken,
			"build_started":      st.started,
			"build_ended":        st.ended,
			"current_step_id":    st.current,
			"after_end_count":    afterEnd,
			"confirmed_uploads":  datatypes.JSONSlice[string](st.confirmed),
		}
		next := forge.MonitorStageTail
		if page.NextToken == "" || (!running && (afterEnd >= u.deps.Limits.MaxAfterEndPolls || (len(page.Events) == 0 && st.ended))) {
			next = forge.MonitorStageFinalize
		}
		ok, err := u.advance(dbc, m, next, updates, u.deps.Limits.TailDelay)
		if err != nil {
			return err
		}
		if !ok {
			return errStale
		}
		return nil
	})
	if errors.Is(err, errStale) {
		u.deps.Log.Debug("Tail lost race; discarding page", "run_id", m.RunID, "seq", m.Seq)
		return nil
	}
	if err != nil {
		return err
	}
	u.deps.Log.Debug("Tailed log page",
		"run_id", m.RunID, "events", len(page.Events), "running", running, "after_end", afterEnd)
	return nil
}

func (u Usecases) applyEvent(dbc dbctx.Context, run *types.WorkflowRun, m *types.BuildMonitor, steps map[uuid.UUID]*types.RunStep, st *tailState, ev buildprovider.LogEvent) error {
	sentinel, ok := ParseEvent(ev.Message)
	if !ok {
		st.capture(ev)
		return nil
	}
	at := ev.Timestamp.UTC()
	if at.IsZero() {
		at = u.now()
	}

	switch sentinel.Type {
	case EventBuildStart:
		st.started = true
		_, err := u.deps.Runs.TransitionStatus(dbc, run.ID,
			[]forge.RunStatus{forge.RunStatusPending}, forge.RunStatusRunning,
			map[string]interface{}{"started_at": at})
		return err
	case EventBuildEnd:
		st.ended = true
		return nil
	case EventStepStart, EventStepEnd, EventUploadArtifactRegister:
	default:
		return nil
	}

	stepID, err := uuid.Parse(sentinel.StepID)
	if err != nil {
		u.deps.Log.Warn("Sentinel with bad step id", "run_id", run.ID, "type", sentinel.Type)
		return nil
	}
	step, ok := steps[stepID]
	if !ok {
		u.deps.Log.Warn("Sentinel for unknown step", "run_id", run.ID, "step_id", stepID, "type", sentinel.Type)
		return nil
	}

	switch sentinel.Type {
	case EventStepStart:
		st.current = &stepID
		_, err := u.deps.Steps.Transition(dbc, run.ID, stepID,
			[]forge.StepStatus{forge.StepStatusPending}, forge.StepStatusRunning,
			map[string]interface{}{"started_at": at})
		return err
	case EventStepEnd:
		if st.current != nil && *st.current == stepID {
			st.current = nil
		}
		_, err := u.deps.Steps.Transition(dbc, run.ID, stepID,
			[]forge.StepStatus{forge.StepStatusPending, forge.StepStatusRunning}, forge.StepStatusSucceeded,
			map[string]interface{}{"ended_at": at})
		return err
	default:
		target, ok := m.Mappings()[sentinel.StepID]
		if !ok || step.VersionStep == nil || step.VersionStep.Type != forge.StepTypeUploadArtifact {
			u.deps.Log.Warn("Upload registered without mapping", "run_id", run.ID, "step_id", stepID)
			return nil
		}
		if _, err := u.recordUpload(dbc, run, step, target); err != nil {
			return err
		}
		st.confirm(sentinel.StepID)
		return nil
	}
}

// flushBuffers writes one temp output row per step touched by the page.
func (u Usecases) flushBuffers(dbc dbctx.Context, runID uuid.UUID, st *tailState) error {
	if len(st.order) == 0 {
		return nil
	}
	now := u.now()
	rows := make([]*types.RunOutputTemp, 0, len(st.order))
	for _, stepID := range st.order {
		rows = append(rows, &types.RunOutputTemp{
			RunID:     runID,
			StepID:    stepID,
			Output:    strings.Join(st.buffers[stepID], "\n"),
			CreatedAt: now,
		})
	}
	return u.deps.Outputs.Create(dbc, rows)
}

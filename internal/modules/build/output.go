package build

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	types "github.com/yungbote/forge-backend/internal/domain"
	"github.com/yungbote/forge-backend/internal/jobs/queue"
	"github.com/yungbote/forge-backend/internal/platform/apierr"
	"github.com/yungbote/forge-backend/internal/platform/dbctx"
	"github.com/yungbote/forge-backend/internal/platform/gcp"
)

const (
	OutputSourceStorage = "storage"
	OutputSourceTemp    = "temp"

	outputFlushLimit = 4
)

type OutputLine struct {
	Timestamp time.Time `json:"timestamp"`
	Message   string    `json:"message"`
}

type StepOutput struct {
	StepID uuid.UUID    `json:"step_id"`
	Source string       `json:"source"`
	Output string       `json:"output"`
	Lines  []OutputLine `json:"lines"`
}

// OutputKey is where a step's log lives in the log bucket.
func OutputKey(runID, stepID uuid.UUID) string {
	return fmt.Sprintf("runs/%s/log/%s", runID, stepID)
}

// StoreOutput writes each step's buffered output to the log bucket, records
// the pointers and schedules removal of the buffers.
func (u Usecases) StoreOutput(dbc dbctx.Context, runID uuid.UUID) error {
	run, err := u.deps.Runs.GetByID(dbc, runID)
	if err != nil || run == nil {
		return err
	}
	if u.deps.Bucket == nil {
		return apierr.Storage(fmt.Errorf("object storage not configured"))
	}
	bucket, err := u.deps.Bucket.BucketName(gcp.BucketCategoryLog)
	if err != nil {
		return apierr.Storage(err)
	}
	steps, err := u.deps.Steps.ListByRun(dbc, runID)
	if err != nil {
		return err
	}

	contents := make([]string, len(steps))
	for i, s := range steps {
		rows, err := u.deps.Outputs.ListByStep(dbc, runID, s.ID)
		if err != nil {
			return err
		}
		contents[i] = joinRows(rows)
	}

	g, gctx := errgroup.WithContext(dbc.Ctx)
	g.SetLimit(outputFlushLimit)
	for i, s := range steps {
		key, body := OutputKey(runID, s.ID), contents[i]
		g.Go(func() error {
			if err := u.deps.Bucket.Put(gctx, bucket, key, strings.NewReader(body), "text/plain"); err != nil {
				return apierr.Storage(fmt.Errorf("put step output %s: %w", key, err))
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	return dbc.InTx(u.deps.DB, func(dbc dbctx.Context) error {
		for _, s := range steps {
			if err := u.deps.Steps.SetOutputPointer(dbc, s.ID, bucket, OutputKey(runID, s.ID)); err != nil {
				return err
			}
		}
		_, err := u.deps.Queue.Enqueue(dbc, queue.Request{
			JobType:    JobRunOutputCleanup,
			EntityType: entityWorkflowRun,
			EntityID:   &runID,
			Payload:    RunPayload{RunID: runID},
			Delay:      u.deps.Limits.CleanupDelay,
		})
		if err == nil {
			u.deps.Log.Info("Run output stored", "run_id", runID, "steps", len(steps))
		}
		return err
	})
}

// CleanupOutput drops buffered output and the run's sealed environment.
func (u Usecases) CleanupOutput(dbc dbctx.Context, runID uuid.UUID) error {
	return dbc.InTx(u.deps.DB, func(dbc dbctx.Context) error {
		n, err := u.deps.Outputs.DeleteByRun(dbc, runID)
		if err != nil {
			return err
		}
		if err := u.deps.Runs.ClearEncryptedEnv(dbc, runID); err != nil {
			return err
		}
		u.deps.Log.Debug("Run output buffers removed", "run_id", runID, "rows", n)
		return nil
	})
}

// ReadOutput returns a step's log from storage once flushed, otherwise from
// the temp buffers.
func (u Usecases) ReadOutput(dbc dbctx.Context, step *types.RunStep) (StepOutput, error) {
	out := StepOutput{StepID: step.ID}
	if step.HasStoredOutput() && u.deps.Bucket != nil {
		raw, err := u.deps.Bucket.Get(dbc.Ctx, step.OutputBucket, step.OutputKey)
		if err != nil {
			return StepOutput{}, apierr.Storage(fmt.Errorf("read step output: %w", err))
		}
		out.Source = OutputSourceStorage
		out.Output = string(raw)
	} else {
		rows, err := u.deps.Outputs.ListByStep(dbc, step.RunID, step.ID)
		if err != nil {
			return StepOutput{}, err
		}
		out.Source = OutputSourceTemp
		out.Output = joinRows(rows)
	}
	out.Lines = ParseOutput(out.Output)
	return out, nil
}

func joinRows(rows []*types.RunOutputTemp) string {
	parts := make([]string, 0, len(rows))
	for _, r := range rows {
		if r.Output != "" {
			parts = append(parts, r.Output)
		}
	}
	return strings.Join(parts, "\n")
}

// ParseOutput decodes [timestampMillis, message] records, one per line.
// Lines that are not records are skipped.
func ParseOutput(raw string) []OutputLine {
	lines := []OutputLine{}
	for _, rec := range bytes.Split([]byte(raw), []byte("\n")) {
		if len(bytes.TrimSpace(rec)) == 0 {
			continue
		}
		var tuple []json.RawMessage
		if json.Unmarshal(rec, &tuple) != nil || len(tuple) != 2 {
			continue
		}
		var ms int64
		var msg string
		if json.Unmarshal(tuple[0], &ms) != nil || json.Unmarshal(tuple[1], &msg) != nil {
			continue
		}
		lines = append(lines, OutputLine{Timestamp: time.UnixMilli(ms).UTC(), Message: msg})
	}
	return lines
}

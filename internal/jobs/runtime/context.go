package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/yungbote/forge-backend/internal/domain"
	"github.com/yungbote/forge-backend/internal/platform/apierr"
	"github.com/yungbote/forge-backend/internal/platform/ctxutil"
	"github.com/yungbote/forge-backend/internal/platform/dbctx"
	"github.com/yungbote/forge-backend/internal/platform/logger"
)

/*
Context is the execution handle for one claimed job.
  - Ctx carries cancellation plus the job's trace and job data
  - DB is the shared handle; handlers open their own transactions
  - Job is the claimed job_run row, already marked running

Handlers report their outcome by return value. The worker owns every
job_run status write.
*/
type Context struct {
	Ctx context.Context
	DB  *gorm.DB
	Job *types.JobRun
	Log *logger.Logger

	result any
}

func NewContext(ctx context.Context, db *gorm.DB, job *types.JobRun, baseLog *logger.Logger) *Context {
	c := &Context{Ctx: ctx, DB: db, Job: job, Log: baseLog}
	if job != nil {
		c.Ctx = ctxutil.WithJobData(c.Ctx, &ctxutil.JobData{
			JobID:   job.ID.String(),
			JobType: job.JobType,
			Attempt: job.Attempts,
		})
		c.Log = baseLog.With("job_id", job.ID.String(), "job_type", job.JobType, "attempt", job.Attempts)
		if parent, ok := c.PayloadUUID("parent_job_id"); ok {
			c.Log = c.Log.With("parent_job_id", parent.String())
		}
		c.applyTraceData()
	}
	return c
}

func (c *Context) applyTraceData() {
	var ids struct {
		TraceID   string `json:"trace_id"`
		RequestID string `json:"request_id"`
	}
	if len(c.Job.Payload) == 0 || json.Unmarshal(c.Job.Payload, &ids) != nil {
		return
	}
	traceID := strings.TrimSpace(ids.TraceID)
	reqID := strings.TrimSpace(ids.RequestID)
	if traceID == "" && reqID == "" {
		return
	}
	c.Ctx = ctxutil.WithTraceData(c.Ctx, &ctxutil.TraceData{TraceID: traceID, RequestID: reqID})
}

// DBC returns a non-transactional dbctx bound to the job's context.
func (c *Context) DBC() dbctx.Context {
	return dbctx.Context{Ctx: c.Ctx}
}

// Decode unmarshals the payload into v. A malformed payload can never
// succeed, so the error is permanent.
func (c *Context) Decode(v any) error {
	if c.Job == nil || len(c.Job.Payload) == 0 {
		return apierr.InvalidArgument("job has no payload")
	}
	if err := json.Unmarshal(c.Job.Payload, v); err != nil {
		return apierr.InvalidArgument("decode %s payload: %v", c.Job.JobType, err)
	}
	return nil
}

// PayloadUUID reads a string field of the payload as a uuid.
func (c *Context) PayloadUUID(key string) (uuid.UUID, bool) {
	var m map[string]any
	if c.Job == nil || json.Unmarshal(c.Job.Payload, &m) != nil {
		return uuid.Nil, false
	}
	v, ok := m[key]
	if !ok || v == nil {
		return uuid.Nil, false
	}
	id, err := uuid.Parse(fmt.Sprint(v))
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}

func (c *Context) Attempt() int {
	if c.Job == nil {
		return 0
	}
	return c.Job.Attempts
}

// LastAttempt reports whether a retryable failure now would kill the job.
func (c *Context) LastAttempt() bool {
	return c.Job != nil && c.Job.MaxAttempts > 0 && c.Job.Attempts >= c.Job.MaxAttempts
}

// SetResult records the value stored on job_run.result when the job succeeds.
func (c *Context) SetResult(v any) { c.result = v }

func (c *Context) Result() any { return c.result }

package runtime

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	types "github.com/yungbote/forge-backend/internal/domain"
	"github.com/yungbote/forge-backend/internal/platform/apierr"
	"github.com/yungbote/forge-backend/internal/platform/ctxutil"
	"github.com/yungbote/forge-backend/internal/platform/logger"
)

type noopHandler struct{ t string }

func (h noopHandler) Type() string       { return h.t }
func (h noopHandler) Run(*Context) error { return nil }

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(noopHandler{t: "b"}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := r.Register(noopHandler{t: "a"}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := r.Register(noopHandler{t: "a"}); err == nil {
		t.Fatalf("Register duplicate: expected error")
	}
	if err := r.Register(noopHandler{}); err == nil {
		t.Fatalf("Register empty type: expected error")
	}
	if _, ok := r.Get("a"); !ok {
		t.Fatalf("Get: expected handler")
	}
	if got := r.Types(); len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Fatalf("Types: got=%v", got)
	}
}

func TestContextDecodeAndTrace(t *testing.T) {
	runID := uuid.New()
	job := &types.JobRun{
		ID:          uuid.New(),
		JobType:     "build_wait",
		Attempts:    2,
		MaxAttempts: 2,
		Payload:     datatypes.JSON([]byte(`{"run_id":"` + runID.String() + `","seq":3,"trace_id":"t-1"}`)),
	}
	jc := NewContext(context.Background(), nil, job, logger.Nop())

	var p struct {
		RunID uuid.UUID `json:"run_id"`
		Seq   int       `json:"seq"`
	}
	if err := jc.Decode(&p); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if p.RunID != runID || p.Seq != 3 {
		t.Fatalf("Decode: got=%+v", p)
	}
	if id, ok := jc.PayloadUUID("run_id"); !ok || id != runID {
		t.Fatalf("PayloadUUID: want=%v got=%v", runID, id)
	}
	if td := ctxutil.GetTraceData(jc.Ctx); td == nil || td.TraceID != "t-1" {
		t.Fatalf("trace data: got=%+v", td)
	}
	if jd := ctxutil.GetJobData(jc.Ctx); jd == nil || jd.Attempt != 2 {
		t.Fatalf("job data: got=%+v", jd)
	}
	if !jc.LastAttempt() {
		t.Fatalf("LastAttempt: want=true")
	}

	job.Payload = datatypes.JSON([]byte(`not json`))
	if err := jc.Decode(&p); !apierr.Permanent(err) {
		t.Fatalf("Decode malformed: want permanent error got=%v", err)
	}
}

package ctxutil

import "context"

type traceDataKey struct{}
type jobDataKey struct{}

type TraceData struct {
	TraceID   string
	RequestID string
}

func WithTraceData(ctx context.Context, td *TraceData) context.Context {
	return context.WithValue(ctx, traceDataKey{}, td)
}

func GetTraceData(ctx context.Context) *TraceData {
	if td, ok := ctx.Value(traceDataKey{}).(*TraceData); ok {
		return td
	}
	return nil
}

// JobData identifies the queued job a context is executing.
type JobData struct {
	JobID   string
	JobType string
	Attempt int
}

func WithJobData(ctx context.Context, jd *JobData) context.Context {
	return context.WithValue(ctx, jobDataKey{}, jd)
}

func GetJobData(ctx context.Context) *JobData {
	if jd, ok := ctx.Value(jobDataKey{}).(*JobData); ok {
		return jd
	}
	return nil
}

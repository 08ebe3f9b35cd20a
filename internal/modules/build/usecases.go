package build

import (
	"time"

	"gorm.io/gorm"

	"github.com/yungbote/forge-backend/internal/data/repos"
	"github.com/yungbote/forge-backend/internal/jobs/queue"
	"github.com/yungbote/forge-backend/internal/platform/buildprovider"
	"github.com/yungbote/forge-backend/internal/platform/envutil"
	"github.com/yungbote/forge-backend/internal/platform/gcp"
	"github.com/yungbote/forge-backend/internal/platform/lock"
	"github.com/yungbote/forge-backend/internal/platform/logger"
)

// EnvSealer encrypts run environments at rest, keyed by the run id.
type EnvSealer interface {
	EncryptEnv(entityID string, env map[string]string) (string, error)
	DecryptEnv(entityID, encoded string) (map[string]string, error)
}

type UsecasesDeps struct {
	DB  *gorm.DB
	Log *logger.Logger

	Workflows repos.WorkflowRepo
	Versions  repos.WorkflowVersionRepo
	Runs      repos.WorkflowRunRepo
	Steps     repos.RunStepRepo
	Outputs   repos.RunOutputRepo
	Artifacts repos.ArtifactRepo
	Monitors  repos.BuildMonitorRepo
	JobRuns   repos.JobRunRepo

	Queue    queue.Queue
	Bucket   gcp.BucketService
	Provider buildprovider.Adapter
	Secrets  EnvSealer
	Locker   lock.Locker

	Limits Limits
	// Now defaults to time.Now in UTC.
	Now func() time.Time
}

type Limits struct {
	MaxWaitAttempts     int
	MaxFinalizeAttempts int
	MaxAfterEndPolls    int
	ArtifactURLTTL      time.Duration
	FinalizeRetryDelay  time.Duration
	TailDelay           time.Duration
	CleanupDelay        time.Duration
	DeletePageSize      int
	WorkflowRetention   time.Duration
	JobRetention        time.Duration
}

func DefaultLimits() Limits {
	return Limits{
		MaxWaitAttempts:     360,
		MaxFinalizeAttempts: 60,
		MaxAfterEndPolls:    5,
		ArtifactURLTTL:      6 * time.Hour,
		FinalizeRetryDelay:  10 * time.Second,
		TailDelay:           time.Second,
		CleanupDelay:        10 * time.Second,
		DeletePageSize:      100,
		WorkflowRetention:   24 * time.Hour,
		JobRetention:        7 * 24 * time.Hour,
	}
}

func LimitsFromEnv() Limits {
	d := DefaultLimits()
	return Limits{
		MaxWaitAttempts:     envutil.Int("BUILD_MAX_WAIT_ATTEMPTS", d.MaxWaitAttempts),
		MaxFinalizeAttempts: envutil.Int("BUILD_MAX_FINALIZE_ATTEMPTS", d.MaxFinalizeAttempts),
		MaxAfterEndPolls:    envutil.Int("BUILD_MAX_AFTER_END_POLLS", d.MaxAfterEndPolls),
		ArtifactURLTTL:      envutil.Duration("ARTIFACT_URL_TTL", d.ArtifactURLTTL),
		FinalizeRetryDelay:  envutil.Duration("BUILD_FINALIZE_RETRY_DELAY", d.FinalizeRetryDelay),
		TailDelay:           envutil.Duration("BUILD_TAIL_DELAY", d.TailDelay),
		CleanupDelay:        envutil.Duration("RUN_OUTPUT_CLEANUP_DELAY", d.CleanupDelay),
		DeletePageSize:      envutil.Int("DELETE_PAGE_SIZE", d.DeletePageSize),
		WorkflowRetention:   envutil.Duration("WORKFLOW_RETENTION", d.WorkflowRetention),
		JobRetention:        envutil.Duration("JOB_RETENTION", d.JobRetention),
	}
}

// withDefaults fills unset limits so a zero Limits is usable.
func (l Limits) withDefaults() Limits {
	d := DefaultLimits()
	if l.MaxWaitAttempts <= 0 {
		l.MaxWaitAttempts = d.MaxWaitAttempts
	}
	if l.MaxFinalizeAttempts <= 0 {
		l.MaxFinalizeAttempts = d.MaxFinalizeAttempts
	}
	if l.MaxAfterEndPolls <= 0 {
		l.MaxAfterEndPolls = d.MaxAfterEndPolls
	}
	if l.ArtifactURLTTL <= 0 {
		l.ArtifactURLTTL = d.ArtifactURLTTL
	}
	if l.FinalizeRetryDelay <= 0 {
		l.FinalizeRetryDelay = d.FinalizeRetryDelay
	}
	if l.TailDelay <= 0 {
		l.TailDelay = d.TailDelay
	}
	if l.CleanupDelay <= 0 {
		l.CleanupDelay = d.CleanupDelay
	}
	if l.DeletePageSize <= 0 {
		l.DeletePageSize = d.DeletePageSize
	}
	if l.WorkflowRetention <= 0 {
		l.WorkflowRetention = d.WorkflowRetention
	}
	if l.JobRetention <= 0 {
		l.JobRetention = d.JobRetention
	}
	return l
}

// Usecases is the build orchestration engine. Job pipelines and services
// call into it; it owns every run, step and monitor state change.
type Usecases struct {
	deps   UsecasesDeps
	broker *Broker
}

func New(deps UsecasesDeps) Usecases {
	deps.Limits = deps.Limits.withDefaults()
	if deps.Now == nil {
		deps.Now = func() time.Time { return time.Now().UTC() }
	}
	if deps.Log == nil {
		deps.Log = logger.Nop()
	}
	if deps.Locker == nil {
		deps.Locker = lock.NewLocal()
	}
	deps.Log = deps.Log.With("module", "build")
	return Usecases{
		deps:   deps,
		broker: NewBroker(deps.Log, deps.Bucket, deps.Artifacts, deps.Limits.ArtifactURLTTL),
	}
}

func (u Usecases) WithLog(log *logger.Logger) Usecases {
	u.deps.Log = log
	return u
}

func (u Usecases) Broker() *Broker { return u.broker }

func (u Usecases) now() time.Time { return u.deps.Now() }

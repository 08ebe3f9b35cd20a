package repos

import (
	"gorm.io/gorm"

	"github.com/yungbote/forge-backend/internal/data/repos/forge"
	"github.com/yungbote/forge-backend/internal/data/repos/jobs"
	"github.com/yungbote/forge-backend/internal/platform/logger"
)

type Page = forge.Page

const (
	DefaultPageLimit = forge.DefaultPageLimit
	MaxPageLimit     = forge.MaxPageLimit
)

type WorkflowRepo = forge.WorkflowRepo
type WorkflowVersionRepo = forge.WorkflowVersionRepo
type WorkflowRunRepo = forge.WorkflowRunRepo
type RunStepRepo = forge.RunStepRepo
type RunOutputRepo = forge.RunOutputRepo
type ArtifactRepo = forge.ArtifactRepo
type ProviderRepo = forge.ProviderRepo
type BuildMonitorRepo = forge.BuildMonitorRepo

type JobRunRepo = jobs.JobRunRepo
type ClaimFilter = jobs.ClaimFilter

// Repos is the full set of repositories over one database handle.
type Repos struct {
	Workflows  WorkflowRepo
	Versions   WorkflowVersionRepo
	Runs       WorkflowRunRepo
	RunSteps   RunStepRepo
	RunOutputs RunOutputRepo
	Artifacts  ArtifactRepo
	Providers  ProviderRepo
	Monitors   BuildMonitorRepo
	Jobs       JobRunRepo
}

func New(db *gorm.DB, baseLog *logger.Logger) *Repos {
	return &Repos{
		Workflows:  forge.NewWorkflowRepo(db, baseLog),
		Versions:   forge.NewWorkflowVersionRepo(db, baseLog),
		Runs:       forge.NewWorkflowRunRepo(db, baseLog),
		RunSteps:   forge.NewRunStepRepo(db, baseLog),
		RunOutputs: forge.NewRunOutputRepo(db, baseLog),
		Artifacts:  forge.NewArtifactRepo(db, baseLog),
		Providers:  forge.NewProviderRepo(db, baseLog),
		Monitors:   forge.NewBuildMonitorRepo(db, baseLog),
		Jobs:       jobs.NewJobRunRepo(db, baseLog),
	}
}

package domain

import (
	"github.com/yungbote/forge-backend/internal/domain/forge"
	"github.com/yungbote/forge-backend/internal/domain/jobs"
)

type (
	Workflow        = forge.Workflow
	WorkflowVersion = forge.WorkflowVersion
	VersionStep     = forge.VersionStep
	WorkflowRun     = forge.WorkflowRun
	RunStep         = forge.RunStep
	RunOutputTemp   = forge.RunOutputTemp
	Artifact        = forge.Artifact
	Provider        = forge.Provider
	BuildMonitor    = forge.BuildMonitor
	JobRun          = jobs.JobRun
)

// Models lists every persisted model in migration order.
func Models() []any {
	return []any{
		&Provider{},
		&Workflow{},
		&WorkflowVersion{},
		&VersionStep{},
		&WorkflowRun{},
		&RunStep{},
		&RunOutputTemp{},
		&Artifact{},
		&BuildMonitor{},
		&JobRun{},
	}
}

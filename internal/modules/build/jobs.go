package build

import "github.com/google/uuid"

const (
	JobBuildStart              = "build_start"
	JobBuildWait               = "build_wait"
	JobBuildTail               = "build_tail"
	JobBuildFinalize           = "build_finalize"
	JobArtifactMaterialize     = "artifact_materialize"
	JobRunOutputStore          = "run_output_store"
	JobRunOutputCleanup        = "run_output_cleanup"
	JobWorkflowRunsDelete      = "workflow_runs_delete"
	JobWorkflowRunDelete       = "workflow_run_delete"
	JobWorkflowArtifactsDelete = "workflow_artifacts_delete"
	JobWorkflowArtifactDelete  = "workflow_artifact_delete"
	JobStorageObjectDelete     = "storage_object_delete"
	JobWorkflowSweep           = "workflow_sweep"
)

const (
	entityWorkflowRun      = "workflow_run"
	entityWorkflow         = "workflow"
	entityWorkflowArtifact = "workflow_artifact"
)

// StartJobTypes are rate limited to respect provider quotas.
func StartJobTypes() []string { return []string{JobBuildStart} }

// SerialJobTypes run one at a time to bound write pressure on the store.
func SerialJobTypes() []string {
	return []string{
		JobRunOutputCleanup,
		JobWorkflowRunsDelete,
		JobWorkflowRunDelete,
		JobWorkflowArtifactsDelete,
		JobWorkflowArtifactDelete,
		JobStorageObjectDelete,
		JobWorkflowSweep,
	}
}

// StagePayload addresses one monitor transition.
type StagePayload struct {
	RunID uuid.UUID `json:"run_id"`
	Seq   int       `json:"seq"`
}

type RunPayload struct {
	RunID uuid.UUID `json:"run_id"`
}

type MaterializePayload struct {
	RunID      uuid.UUID `json:"run_id"`
	StepID     uuid.UUID `json:"step_id"`
	Bucket     string    `json:"bucket"`
	StorageKey string    `json:"storage_key"`
}

// PagePayload walks a workflow's children in id order.
type PagePayload struct {
	WorkflowID uuid.UUID  `json:"workflow_id"`
	Cursor     *uuid.UUID `json:"cursor,omitempty"`
	PageSize   int        `json:"page_size"`
}

type EntityPayload struct {
	ID uuid.UUID `json:"id"`
}

type ObjectPayload struct {
	Bucket string `json:"bucket"`
	Key    string `json:"key"`
}

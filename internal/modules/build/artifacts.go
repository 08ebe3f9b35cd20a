package build

import (
	types "github.com/yungbote/forge-backend/internal/domain"
	"github.com/yungbote/forge-backend/internal/domain/forge"
	"github.com/yungbote/forge-backend/internal/platform/apierr"
	"github.com/yungbote/forge-backend/internal/platform/dbctx"
)

// MaterializeArtifact records an upload step's artifact once its object is
// present in storage. A missing object means the upload never happened.
func (u Usecases) MaterializeArtifact(dbc dbctx.Context, p MaterializePayload) error {
	run, err := u.deps.Runs.GetByID(dbc, p.RunID)
	if err != nil || run == nil {
		return err
	}
	step, err := u.deps.Steps.GetForRun(dbc, p.RunID, p.StepID)
	if err != nil || step == nil {
		return err
	}
	if step.VersionStep == nil || step.VersionStep.Type != forge.StepTypeUploadArtifact {
		u.deps.Log.Warn("Materialize for non-upload step", "run_id", p.RunID, "step_id", p.StepID)
		return nil
	}
	exists, err := u.deps.Bucket.Exists(dbc.Ctx, p.Bucket, p.StorageKey)
	if err != nil {
		return apierr.Storage(err)
	}
	if !exists {
		u.deps.Log.Info("Upload object absent; no artifact recorded", "run_id", p.RunID, "step_id", p.StepID)
		return nil
	}
	var created bool
	err = dbc.InTx(u.deps.DB, func(dbc dbctx.Context) error {
		var err error
		created, err = u.recordUpload(dbc, run, step, forge.UploadTarget{Bucket: p.Bucket, StorageKey: p.StorageKey})
		return err
	})
	if err != nil {
		return err
	}
	if created {
		u.deps.Log.Info("Artifact reconciled", "run_id", p.RunID, "step_id", p.StepID)
	}
	return nil
}

// recordUpload confirms an upload step's object as an output artifact. It
// must run inside a transaction: the workflow row stays share-locked until
// commit so a concurrent delete cannot start in between. Once the workflow
// is deleted the object is scheduled for removal instead.
func (u Usecases) recordUpload(dbc dbctx.Context, run *types.WorkflowRun, step *types.RunStep, target forge.UploadTarget) (bool, error) {
	active, err := u.deps.Workflows.LockActive(dbc, run.WorkflowID)
	if err != nil {
		return false, err
	}
	if !active {
		u.deps.Log.Info("Upload discarded; workflow deleted", "run_id", run.ID, "step_id", step.ID)
		_, err := u.deps.Queue.Enqueue(dbc, objectDelete(target.Bucket, target.StorageKey))
		return false, err
	}
	_, created, err := u.broker.ConfirmUpload(dbc, run, uploadArtifactName(step.VersionStep), forge.ArtifactTypeOutput, target)
	return created, err
}

package pipeline

import (
	"github.com/yungbote/forge-backend/internal/jobs/pipeline/artifact_materialize"
	"github.com/yungbote/forge-backend/internal/jobs/pipeline/build_finalize"
	"github.com/yungbote/forge-backend/internal/jobs/pipeline/build_start"
	"github.com/yungbote/forge-backend/internal/jobs/pipeline/build_tail"
	"github.com/yungbote/forge-backend/internal/jobs/pipeline/build_wait"
	"github.com/yungbote/forge-backend/internal/jobs/pipeline/run_output_cleanup"
	"github.com/yungbote/forge-backend/internal/jobs/pipeline/run_output_store"
	"github.com/yungbote/forge-backend/internal/jobs/pipeline/storage_object_delete"
	"github.com/yungbote/forge-backend/internal/jobs/pipeline/workflow_artifact_delete"
	"github.com/yungbote/forge-backend/internal/jobs/pipeline/workflow_artifacts_delete"
	"github.com/yungbote/forge-backend/internal/jobs/pipeline/workflow_run_delete"
	"github.com/yungbote/forge-backend/internal/jobs/pipeline/workflow_runs_delete"
	"github.com/yungbote/forge-backend/internal/jobs/pipeline/workflow_sweep"
	jobrt "github.com/yungbote/forge-backend/internal/jobs/runtime"
	"github.com/yungbote/forge-backend/internal/modules/build"
	"github.com/yungbote/forge-backend/internal/platform/logger"
)

// Register adds every build job handler to reg.
func Register(reg *jobrt.Registry, baseLog *logger.Logger, u build.Usecases) error {
	handlers := []jobrt.Handler{
		build_start.New(baseLog, u),
		build_wait.New(baseLog, u),
		build_tail.New(baseLog, u),
		build_finalize.New(baseLog, u),
		artifact_materialize.New(baseLog, u),
		run_output_store.New(baseLog, u),
		run_output_cleanup.New(baseLog, u),
		workflow_runs_delete.New(baseLog, u),
		workflow_run_delete.New(baseLog, u),
		workflow_artifacts_delete.New(baseLog, u),
		workflow_artifact_delete.New(baseLog, u),
		storage_object_delete.New(baseLog, u),
		workflow_sweep.New(baseLog, u),
	}
	for _, h := range handlers {
		if err := reg.Register(h); err != nil {
			return err
		}
	}
	return nil
}

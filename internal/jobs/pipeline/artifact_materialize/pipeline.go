package artifact_materialize

import (
	jobrt "github.com/yungbote/forge-backend/internal/jobs/runtime"
	"github.com/yungbote/forge-backend/internal/modules/build"
)

func (p *Pipeline) Run(jc *jobrt.Context) error {
	var in build.MaterializePayload
	if err := jc.Decode(&in); err != nil {
		return err
	}
	return p.build.WithLog(jc.Log.With("run_id", in.RunID, "step_id", in.StepID)).MaterializeArtifact(jc.DBC(), in)
}

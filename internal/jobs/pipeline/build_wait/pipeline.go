package build_wait

import (
	"fmt"

	jobrt "github.com/yungbote/forge-backend/internal/jobs/runtime"
	"github.com/yungbote/forge-backend/internal/modules/build"
)

func (p *Pipeline) Run(jc *jobrt.Context) error {
	var in build.StagePayload
	if err := jc.Decode(&in); err != nil {
		return err
	}
	return p.build.WithLog(jc.Log.With("run_id", in.RunID, "seq", in.Seq)).Wait(jc.DBC(), in)
}

// OnDead fails the run so it never stays pending behind a dead stage job.
func (p *Pipeline) OnDead(jc *jobrt.Context, cause error) {
	var in build.StagePayload
	if jc.Decode(&in) != nil {
		return
	}
	if err := p.build.ForceFail(jc.Ctx, in.RunID, fmt.Sprintf("build wait failed: %v", cause)); err != nil {
		jc.Log.Error("Force fail run", "run_id", in.RunID, "error", err)
	}
}

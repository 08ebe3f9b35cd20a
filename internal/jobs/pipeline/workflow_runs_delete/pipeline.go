package workflow_runs_delete

import (
	jobrt "github.com/yungbote/forge-backend/internal/jobs/runtime"
	"github.com/yungbote/forge-backend/internal/modules/build"
)

// Run schedules one page of run deletions and the page after it.
func (p *Pipeline) Run(jc *jobrt.Context) error {
	var in build.PagePayload
	if err := jc.Decode(&in); err != nil {
		return err
	}
	return p.build.WithLog(jc.Log.With("workflow_id", in.WorkflowID)).DeleteRunsPage(jc.DBC(), in)
}

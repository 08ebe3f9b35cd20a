package workflow_sweep

import (
	jobrt "github.com/yungbote/forge-backend/internal/jobs/runtime"
)

func (p *Pipeline) Run(jc *jobrt.Context) error {
	res, err := p.build.WithLog(jc.Log).Sweep(jc.DBC())
	if err != nil {
		return err
	}
	jc.SetResult(res)
	return nil
}

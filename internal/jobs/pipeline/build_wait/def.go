package build_wait

import (
	"github.com/yungbote/forge-backend/internal/modules/build"
	"github.com/yungbote/forge-backend/internal/platform/logger"
)

type Pipeline struct {
	log   *logger.Logger
	build build.Usecases
}

func New(baseLog *logger.Logger, u build.Usecases) *Pipeline {
	return &Pipeline{
		log:   baseLog.With("job", build.JobBuildWait),
		build: u,
	}
}

func (p *Pipeline) Type() string { return build.JobBuildWait }

package storage_object_delete

import (
	jobrt "github.com/yungbote/forge-backend/internal/jobs/runtime"
	"github.com/yungbote/forge-backend/internal/modules/build"
)

func (p *Pipeline) Run(jc *jobrt.Context) error {
	var in build.ObjectPayload
	if err := jc.Decode(&in); err != nil {
		return err
	}
	return p.build.DeleteStorageObject(jc.DBC(), in)
}

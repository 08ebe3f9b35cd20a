package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/yungbote/forge-backend/internal/http/response"
	"github.com/yungbote/forge-backend/internal/platform/apierr"
	"github.com/yungbote/forge-backend/internal/services"
)

type VersionHandler struct {
	workflows services.WorkflowService
	versions  services.VersionService
}

func NewVersionHandler(workflows services.WorkflowService, versions services.VersionService) *VersionHandler {
	return &VersionHandler{workflows: workflows, versions: versions}
}

// POST /api/tenants/:tenant_id/workflows/:workflow_id/versions
func (h *VersionHandler) CreateVersion(c *gin.Context) {
	w, ok := scopedWorkflow(c, h.workflows)
	if !ok {
		return
	}
	var in services.VersionInput
	if err := c.ShouldBindJSON(&in); err != nil {
		response.RespondErr(c, apierr.InvalidArgument("invalid body: %v", err))
		return
	}
	v, err := h.versions.Create(dbcFrom(c), w, in)
	if err != nil {
		response.RespondErr(c, err)
		return
	}
	response.RespondCreated(c, gin.H{"version": v})
}

// GET /api/tenants/:tenant_id/workflows/:workflow_id/versions
func (h *VersionHandler) ListVersions(c *gin.Context) {
	w, ok := scopedWorkflow(c, h.workflows)
	if !ok {
		return
	}
	page, ok := pageFrom(c)
	if !ok {
		return
	}
	list, err := h.versions.List(dbcFrom(c), w, page)
	if err != nil {
		response.RespondErr(c, err)
		return
	}
	out := gin.H{"versions": list}
	if len(list) > 0 {
		out["next"] = nextCursor(len(list), page.Limit, list[len(list)-1].ID)
	}
	response.RespondOK(c, out)
}

// GET /api/tenants/:tenant_id/workflows/:workflow_id/versions/:version_id
func (h *VersionHandler) GetVersion(c *gin.Context) {
	w, ok := scopedWorkflow(c, h.workflows)
	if !ok {
		return
	}
	v, err := h.versions.Get(dbcFrom(c), w, c.Param("version_id"))
	if err != nil {
		response.RespondErr(c, err)
		return
	}
	response.RespondOK(c, gin.H{"version": v})
}

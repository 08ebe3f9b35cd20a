package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/yungbote/forge-backend/internal/http/response"
	"github.com/yungbote/forge-backend/internal/platform/apierr"
	"github.com/yungbote/forge-backend/internal/services"
)

type WorkflowHandler struct {
	workflows services.WorkflowService
}

func NewWorkflowHandler(workflows services.WorkflowService) *WorkflowHandler {
	return &WorkflowHandler{workflows: workflows}
}

// POST /api/tenants/:tenant_id/workflows
func (h *WorkflowHandler) UpsertWorkflow(c *gin.Context) {
	tenant, ok := tenantID(c)
	if !ok {
		return
	}
	var in services.WorkflowInput
	if err := c.ShouldBindJSON(&in); err != nil {
		response.RespondErr(c, apierr.InvalidArgument("invalid body: %v", err))
		return
	}
	w, created, err := h.workflows.Upsert(dbcFrom(c), tenant, in)
	if err != nil {
		response.RespondErr(c, err)
		return
	}
	if created {
		response.RespondCreated(c, gin.H{"workflow": w})
		return
	}
	response.RespondOK(c, gin.H{"workflow": w})
}

// GET /api/tenants/:tenant_id/workflows
func (h *WorkflowHandler) ListWorkflows(c *gin.Context) {
	tenant, ok := tenantID(c)
	if !ok {
		return
	}
	page, ok := pageFrom(c)
	if !ok {
		return
	}
	list, err := h.workflows.List(dbcFrom(c), tenant, page)
	if err != nil {
		response.RespondErr(c, err)
		return
	}
	out := gin.H{"workflows": list}
	if len(list) > 0 {
		out["next"] = nextCursor(len(list), page.Limit, list[len(list)-1].ID)
	}
	response.RespondOK(c, out)
}

// GET /api/tenants/:tenant_id/workflows/:workflow_id
func (h *WorkflowHandler) GetWorkflow(c *gin.Context) {
	w, ok := scopedWorkflow(c, h.workflows)
	if !ok {
		return
	}
	response.RespondOK(c, gin.H{"workflow": w})
}

// PATCH /api/tenants/:tenant_id/workflows/:workflow_id
func (h *WorkflowHandler) UpdateWorkflow(c *gin.Context) {
	w, ok := scopedWorkflow(c, h.workflows)
	if !ok {
		return
	}
	var in struct {
		Name *string `json:"name"`
	}
	if err := c.ShouldBindJSON(&in); err != nil {
		response.RespondErr(c, apierr.InvalidArgument("invalid body: %v", err))
		return
	}
	updated, err := h.workflows.Update(dbcFrom(c), w, in.Name)
	if err != nil {
		response.RespondErr(c, err)
		return
	}
	response.RespondOK(c, gin.H{"workflow": updated})
}

// DELETE /api/tenants/:tenant_id/workflows/:workflow_id
func (h *WorkflowHandler) DeleteWorkflow(c *gin.Context) {
	w, ok := scopedWorkflow(c, h.workflows)
	if !ok {
		return
	}
	deleted, err := h.workflows.Delete(dbcFrom(c), w)
	if err != nil {
		response.RespondErr(c, err)
		return
	}
	response.RespondOK(c, gin.H{"workflow": deleted})
}

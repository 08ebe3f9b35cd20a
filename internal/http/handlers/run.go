package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/yungbote/forge-backend/internal/http/response"
	"github.com/yungbote/forge-backend/internal/platform/apierr"
	"github.com/yungbote/forge-backend/internal/services"
)

type RunHandler struct {
	workflows services.WorkflowService
	runs      services.RunService
}

func NewRunHandler(workflows services.WorkflowService, runs services.RunService) *RunHandler {
	return &RunHandler{workflows: workflows, runs: runs}
}

// POST /api/tenants/:tenant_id/workflows/:workflow_id/runs
func (h *RunHandler) CreateRun(c *gin.Context) {
	w, ok := scopedWorkflow(c, h.workflows)
	if !ok {
		return
	}
	var in services.RunInput
	if err := c.ShouldBindJSON(&in); err != nil {
		response.RespondErr(c, apierr.InvalidArgument("invalid body: %v", err))
		return
	}
	run, err := h.runs.Create(dbcFrom(c), w, in)
	if err != nil {
		response.RespondErr(c, err)
		return
	}
	response.RespondCreated(c, gin.H{"run": run})
}

// GET /api/tenants/:tenant_id/workflows/:workflow_id/runs
func (h *RunHandler) ListRuns(c *gin.Context) {
	w, ok := scopedWorkflow(c, h.workflows)
	if !ok {
		return
	}
	page, ok := pageFrom(c)
	if !ok {
		return
	}
	list, err := h.runs.List(dbcFrom(c), w, page)
	if err != nil {
		response.RespondErr(c, err)
		return
	}
	out := gin.H{"runs": list}
	if len(list) > 0 {
		out["next"] = nextCursor(len(list), page.Limit, list[len(list)-1].ID)
	}
	response.RespondOK(c, out)
}

// GET /api/tenants/:tenant_id/workflows/:workflow_id/runs/:run_id
func (h *RunHandler) GetRun(c *gin.Context) {
	w, ok := scopedWorkflow(c, h.workflows)
	if !ok {
		return
	}
	run, err := h.runs.Get(dbcFrom(c), w, c.Param("run_id"))
	if err != nil {
		response.RespondErr(c, err)
		return
	}
	response.RespondOK(c, gin.H{"run": run})
}

// GET /api/tenants/:tenant_id/workflows/:workflow_id/runs/:run_id/output
func (h *RunHandler) GetRunOutput(c *gin.Context) {
	w, ok := scopedWorkflow(c, h.workflows)
	if !ok {
		return
	}
	dbc := dbcFrom(c)
	run, err := h.runs.Get(dbc, w, c.Param("run_id"))
	if err != nil {
		response.RespondErr(c, err)
		return
	}
	out, err := h.runs.Output(dbc, run)
	if err != nil {
		response.RespondErr(c, err)
		return
	}
	response.RespondOK(c, gin.H{"output": out})
}

// GET /api/tenants/:tenant_id/workflows/:workflow_id/runs/:run_id/steps/:step_id/output
func (h *RunHandler) GetStepOutput(c *gin.Context) {
	w, ok := scopedWorkflow(c, h.workflows)
	if !ok {
		return
	}
	dbc := dbcFrom(c)
	run, err := h.runs.Get(dbc, w, c.Param("run_id"))
	if err != nil {
		response.RespondErr(c, err)
		return
	}
	out, err := h.runs.OutputForStep(dbc, run, c.Param("step_id"))
	if err != nil {
		response.RespondErr(c, err)
		return
	}
	response.RespondOK(c, gin.H{"output": out})
}

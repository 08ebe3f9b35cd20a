package handlers

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/yungbote/forge-backend/internal/http/response"
	"github.com/yungbote/forge-backend/internal/platform/apierr"
	"github.com/yungbote/forge-backend/internal/services"
)

type ArtifactHandler struct {
	workflows services.WorkflowService
	artifacts services.ArtifactService
}

func NewArtifactHandler(workflows services.WorkflowService, artifacts services.ArtifactService) *ArtifactHandler {
	return &ArtifactHandler{workflows: workflows, artifacts: artifacts}
}

// GET /api/tenants/:tenant_id/workflows/:workflow_id/artifacts?run_ids=a,b
func (h *ArtifactHandler) ListArtifacts(c *gin.Context) {
	w, ok := scopedWorkflow(c, h.workflows)
	if !ok {
		return
	}
	page, ok := pageFrom(c)
	if !ok {
		return
	}
	var runIDs []uuid.UUID
	for _, raw := range strings.Split(c.Query("run_ids"), ",") {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		id, err := uuid.Parse(raw)
		if err != nil {
			response.RespondErr(c, apierr.InvalidArgument("invalid run id %q", raw))
			return
		}
		runIDs = append(runIDs, id)
	}
	list, err := h.artifacts.List(dbcFrom(c), w, runIDs, page)
	if err != nil {
		response.RespondErr(c, err)
		return
	}
	out := gin.H{"artifacts": list}
	if len(list) > 0 {
		out["next"] = nextCursor(len(list), page.Limit, list[len(list)-1].ID)
	}
	response.RespondOK(c, out)
}

// GET /api/tenants/:tenant_id/workflows/:workflow_id/artifacts/:artifact_id
func (h *ArtifactHandler) GetArtifact(c *gin.Context) {
	w, ok := scopedWorkflow(c, h.workflows)
	if !ok {
		return
	}
	a, err := h.artifacts.Get(dbcFrom(c), w, c.Param("artifact_id"))
	if err != nil {
		response.RespondErr(c, err)
		return
	}
	response.RespondOK(c, gin.H{"artifact": a})
}

// GET /api/tenants/:tenant_id/workflows/:workflow_id/artifacts/:artifact_id/download
func (h *ArtifactHandler) DownloadArtifact(c *gin.Context) {
	w, ok := scopedWorkflow(c, h.workflows)
	if !ok {
		return
	}
	dl, err := h.artifacts.Download(dbcFrom(c), w, c.Param("artifact_id"))
	if err != nil {
		response.RespondErr(c, err)
		return
	}
	response.RespondOK(c, gin.H{"download": dl})
}

package handlers

import (
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/yungbote/forge-backend/internal/data/repos"
	types "github.com/yungbote/forge-backend/internal/domain"
	"github.com/yungbote/forge-backend/internal/http/response"
	"github.com/yungbote/forge-backend/internal/platform/apierr"
	"github.com/yungbote/forge-backend/internal/platform/dbctx"
	"github.com/yungbote/forge-backend/internal/services"
)

func dbcFrom(c *gin.Context) dbctx.Context {
	return dbctx.Context{Ctx: c.Request.Context()}
}

func tenantID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("tenant_id"))
	if err != nil {
		response.RespondErr(c, apierr.InvalidArgument("invalid tenant id"))
		return uuid.Nil, false
	}
	return id, true
}

// scopedWorkflow resolves the :workflow_id of the request's tenant.
func scopedWorkflow(c *gin.Context, workflows services.WorkflowService) (*types.Workflow, bool) {
	tenant, ok := tenantID(c)
	if !ok {
		return nil, false
	}
	w, err := workflows.Get(dbcFrom(c), tenant, c.Param("workflow_id"))
	if err != nil {
		response.RespondErr(c, err)
		return nil, false
	}
	return w, true
}

// pageFrom reads ?limit= and ?after= cursors.
func pageFrom(c *gin.Context) (repos.Page, bool) {
	var p repos.Page
	if raw := strings.TrimSpace(c.Query("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			response.RespondErr(c, apierr.InvalidArgument("invalid limit %q", raw))
			return p, false
		}
		p.Limit = n
	}
	if raw := strings.TrimSpace(c.Query("after")); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			response.RespondErr(c, apierr.InvalidArgument("invalid cursor %q", raw))
			return p, false
		}
		p.After = &id
	}
	return p, true
}

// nextCursor is the id to pass as ?after= for the following page.
func nextCursor(n, limit int, last uuid.UUID) *uuid.UUID {
	if limit <= 0 {
		limit = repos.DefaultPageLimit
	}
	if limit > repos.MaxPageLimit {
		limit = repos.MaxPageLimit
	}
	if n < limit || n == 0 {
		return nil
	}
	return &last
}

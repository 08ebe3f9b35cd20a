package http

import (
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	httpH "github.com/yungbote/forge-backend/internal/http/handlers"
	httpMW "github.com/yungbote/forge-backend/internal/http/middleware"
	"github.com/yungbote/forge-backend/internal/platform/logger"
)

type RouterConfig struct {
	Log         *logger.Logger
	ServiceName string
	CORSOrigins []string

	WorkflowHandler *httpH.WorkflowHandler
	VersionHandler  *httpH.VersionHandler
	RunHandler      *httpH.RunHandler
	ArtifactHandler *httpH.ArtifactHandler

	HealthHandler *httpH.HealthHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	if cfg.ServiceName != "" {
		r.Use(otelgin.Middleware(cfg.ServiceName))
	}
	r.Use(httpMW.AttachTraceContext())
	r.Use(httpMW.RequestLogger(cfg.Log))
	r.Use(httpMW.CORS(cfg.CORSOrigins))

	// Health
	if cfg.HealthHandler != nil {
		r.GET("/healthcheck", cfg.HealthHandler.HealthCheck)
	}

	tenant := r.Group("/api/tenants/:tenant_id")
	workflow := tenant.Group("/workflows/:workflow_id")

	// Workflows
	if cfg.WorkflowHandler != nil {
		tenant.POST("/workflows", cfg.WorkflowHandler.UpsertWorkflow)
		tenant.GET("/workflows", cfg.WorkflowHandler.ListWorkflows)
		workflow.GET("", cfg.WorkflowHandler.GetWorkflow)
		workflow.PATCH("", cfg.WorkflowHandler.UpdateWorkflow)
		workflow.DELETE("", cfg.WorkflowHandler.DeleteWorkflow)
	}

	// Versions
	if cfg.VersionHandler != nil {
		workflow.POST("/versions", cfg.VersionHandler.CreateVersion)
		workflow.GET("/versions", cfg.VersionHandler.ListVersions)
		workflow.GET("/versions/:version_id", cfg.VersionHandler.GetVersion)
	}

	// Runs
	if cfg.RunHandler != nil {
		workflow.POST("/runs", cfg.RunHandler.CreateRun)
		workflow.GET("/runs", cfg.RunHandler.ListRuns)
		workflow.GET("/runs/:run_id", cfg.RunHandler.GetRun)
		workflow.GET("/runs/:run_id/output", cfg.RunHandler.GetRunOutput)
		workflow.GET("/runs/:run_id/steps/:step_id/output", cfg.RunHandler.GetStepOutput)
	}

	// Artifacts
	if cfg.ArtifactHandler != nil {
		workflow.GET("/artifacts", cfg.ArtifactHandler.ListArtifacts)
		workflow.GET("/artifacts/:artifact_id", cfg.ArtifactHandler.GetArtifact)
		workflow.GET("/artifacts/:artifact_id/download", cfg.ArtifactHandler.DownloadArtifact)
	}

	return r
}

package app

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/yungbote/forge-backend/internal/data/repos"
	forgehttp "github.com/yungbote/forge-backend/internal/http"
	httpH "github.com/yungbote/forge-backend/internal/http/handlers"
	"github.com/yungbote/forge-backend/internal/modules/build"
	"github.com/yungbote/forge-backend/internal/platform/buildprovider"
	"github.com/yungbote/forge-backend/internal/platform/cloudbuild"
	"github.com/yungbote/forge-backend/internal/platform/gcp"
	"github.com/yungbote/forge-backend/internal/platform/lock"
	"github.com/yungbote/forge-backend/internal/platform/logger"
	"github.com/yungbote/forge-backend/internal/services"
)

type Services struct {
	Providers services.ProviderService
	Workflows services.WorkflowService
	Versions  services.VersionService
	Runs      services.RunService
	Artifacts services.ArtifactService
}

func wireServices(db *gorm.DB, log *logger.Logger, r *repos.Repos, adapter buildprovider.Adapter, u build.Usecases) Services {
	log.Info("Wiring services...")
	providers := services.NewProviderService(db, log, r.Providers, adapter)
	return Services{
		Providers: providers,
		Workflows: services.NewWorkflowService(db, log, r.Workflows, providers, u),
		Versions:  services.NewVersionService(db, log, r.Workflows, r.Versions, r.Artifacts, providers),
		Runs:      services.NewRunService(db, log, r.Runs, r.RunSteps, u),
		Artifacts: services.NewArtifactService(db, log, r.Artifacts, u.Broker()),
	}
}

func wireRouter(log *logger.Logger, cfg Config, s Services, probes ...func(ctx context.Context) error) forgehttp.RouterConfig {
	return forgehttp.RouterConfig{
		Log:             log,
		ServiceName:     cfg.ServiceName,
		CORSOrigins:     cfg.CORSOrigins,
		WorkflowHandler: httpH.NewWorkflowHandler(s.Workflows),
		VersionHandler:  httpH.NewVersionHandler(s.Workflows, s.Versions),
		RunHandler:      httpH.NewRunHandler(s.Workflows, s.Runs),
		ArtifactHandler: httpH.NewArtifactHandler(s.Workflows, s.Artifacts),
		HealthHandler:   httpH.NewHealthHandler(probes...),
	}
}

// resolveLocker returns the finalize lock. The Redis locker is required once
// workers run in more than one process.
func resolveLocker(log *logger.Logger, cfg Config) (lock.Locker, func() error, error) {
	if cfg.LockBackend != LockBackendRedis {
		log.Info("Using in-process lock")
		return lock.NewLocal(), nil, nil
	}
	r, err := lock.NewRedisFromEnv(log)
	if err != nil {
		return nil, nil, fmt.Errorf("init redis lock: %w", err)
	}
	log.Info("Using redis lock")
	return r, r.Close, nil
}

// resolveProvider builds the default build provider. A provider that cannot
// be constructed leaves the API up; operations that need it fail with a
// misconfiguration error.
func resolveProvider(ctx context.Context, log *logger.Logger, cfg Config) buildprovider.Adapter {
	a, err := cloudbuild.New(ctx, log, cfg.CloudBuild, gcp.ClientOptionsFromEnv()...)
	if err != nil {
		log.Warn("Build provider unavailable", "provider", cloudbuild.Name, "error", err)
		return nil
	}
	if cfg.ProviderSetup {
		if err := a.Setup(ctx); err != nil {
			log.Warn("Build provider setup failed; will retry on first build", "provider", cloudbuild.Name, "error", err)
		}
	}
	return a
}

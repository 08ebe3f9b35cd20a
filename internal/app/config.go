package app

import (
	"fmt"
	"strings"

	"github.com/yungbote/forge-backend/internal/data/db"
	"github.com/yungbote/forge-backend/internal/jobs/worker"
	"github.com/yungbote/forge-backend/internal/modules/build"
	"github.com/yungbote/forge-backend/internal/platform/cloudbuild"
	"github.com/yungbote/forge-backend/internal/platform/envutil"
	"github.com/yungbote/forge-backend/internal/platform/gcp"
)

const (
	LockBackendLocal = "local"
	LockBackendRedis = "redis"
)

type Config struct {
	LogMode     string
	ServiceName string
	Environment string
	Version     string

	HTTPAddr    string
	CORSOrigins []string

	Database    db.Config
	AutoMigrate bool

	LockBackend   string
	EncryptionKey string

	ObjectStorageMode         string
	StorageEmulatorHost       string
	StorageModeCompatFallback bool

	CloudBuild      cloudbuild.Config
	ProviderSetup   bool
	Limits          build.Limits
	Worker          worker.Config
	QueueConfigFile string
	SweepSchedule   string
}

// LoadConfig reads the process environment. A .env file, when present, is
// loaded by the caller beforehand.
func LoadConfig() (Config, error) {
	cfg := Config{
		LogMode:     envutil.String("LOG_MODE", "development"),
		ServiceName: envutil.String("SERVICE_NAME", "forge"),
		Environment: envutil.String("ENVIRONMENT", "development"),
		Version:     envutil.String("SERVICE_VERSION", "1.0.0"),

		HTTPAddr:    envutil.String("HTTP_ADDR", ":8080"),
		CORSOrigins: splitList(envutil.String("CORS_ALLOWED_ORIGINS", "")),

		Database:    db.ConfigFromEnv(),
		AutoMigrate: envutil.Bool("DATABASE_AUTO_MIGRATE", true),

		LockBackend:   strings.ToLower(envutil.String("LOCK_BACKEND", "")),
		EncryptionKey: envutil.String("ENCRYPTION_KEY", ""),

		StorageEmulatorHost: envutil.String("STORAGE_EMULATOR_HOST", ""),

		CloudBuild:      cloudbuild.ConfigFromEnv(),
		ProviderSetup:   envutil.Bool("PROVIDER_SETUP_ON_START", true),
		Limits:          build.LimitsFromEnv(),
		Worker:          worker.ConfigFromEnv(build.StartJobTypes(), build.SerialJobTypes()),
		QueueConfigFile: envutil.String("QUEUE_CONFIG_FILE", ""),
		SweepSchedule:   envutil.String("SWEEP_SCHEDULE", "@hourly"),
	}

	storageCfg := gcp.InferObjectStorageConfig(envutil.String("OBJECT_STORAGE_MODE", ""), cfg.StorageEmulatorHost)
	cfg.ObjectStorageMode = string(storageCfg.Mode)
	cfg.StorageModeCompatFallback = storageCfg.CompatibilityFallback

	if cfg.LockBackend == "" {
		cfg.LockBackend = LockBackendLocal
		if envutil.String("REDIS_ADDR", "") != "" {
			cfg.LockBackend = LockBackendRedis
		}
	}
	switch cfg.LockBackend {
	case LockBackendLocal, LockBackendRedis:
	default:
		return cfg, fmt.Errorf("invalid LOCK_BACKEND %q (allowed: %q, %q)", cfg.LockBackend, LockBackendLocal, LockBackendRedis)
	}

	if cfg.QueueConfigFile != "" {
		w, err := applyLaneFile(cfg.Worker, cfg.QueueConfigFile)
		if err != nil {
			return cfg, err
		}
		cfg.Worker = w
	}
	return cfg, nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if s := strings.TrimSpace(part); s != "" {
			out = append(out, s)
		}
	}
	return out
}

package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/yungbote/forge-backend/internal/platform/gcp"
	"github.com/yungbote/forge-backend/internal/platform/logger"
)

var newBucketServiceWithConfig = gcp.NewBucketServiceWithConfig

type StorageBootstrapErrorCode string

const (
	StorageBootstrapInvalidMode         StorageBootstrapErrorCode = "invalid_mode"
	StorageBootstrapMissingEmulatorHost StorageBootstrapErrorCode = "missing_emulator_host"
	StorageBootstrapInvalidEmulatorHost StorageBootstrapErrorCode = "invalid_emulator_host"
	StorageBootstrapConnectFailed       StorageBootstrapErrorCode = "connect_failed"
	StorageBootstrapBucketsUnavailable  StorageBootstrapErrorCode = "buckets_unavailable"
)

// StorageBootstrapError reports why the artifact and log buckets could not
// be opened at startup.
type StorageBootstrapError struct {
	Code         StorageBootstrapErrorCode
	Mode         string
	EmulatorHost string
	Cause        error
}

func (e *StorageBootstrapError) Error() string {
	if e == nil {
		return "object storage bootstrap failed"
	}
	return fmt.Sprintf("object storage bootstrap failed (code=%s mode=%q emulator_host=%q): %v",
		e.Code, e.Mode, e.EmulatorHost, e.Cause)
}

func (e *StorageBootstrapError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

var configErrorCodes = map[gcp.ObjectStorageConfigErrorCode]StorageBootstrapErrorCode{
	gcp.ObjectStorageConfigErrorInvalidMode:         StorageBootstrapInvalidMode,
	gcp.ObjectStorageConfigErrorMissingEmulatorHost: StorageBootstrapMissingEmulatorHost,
	gcp.ObjectStorageConfigErrorInvalidEmulatorHost: StorageBootstrapInvalidEmulatorHost,
}

func storageConfig(cfg Config) gcp.ObjectStorageConfig {
	return gcp.ObjectStorageConfig{
		Mode:                  gcp.ObjectStorageMode(cfg.ObjectStorageMode),
		EmulatorHost:          cfg.StorageEmulatorHost,
		CompatibilityFallback: cfg.StorageModeCompatFallback,
	}
}

// resolveBucketService opens object storage for the configured mode and,
// when ensure is set, creates the artifact and log buckets if missing.
func resolveBucketService(ctx context.Context, log *logger.Logger, cfg Config, ensure bool) (gcp.BucketService, error) {
	storageCfg := storageConfig(cfg)
	fail := func(err error) (gcp.BucketService, error) {
		classified := classifyStorageBootstrapError(storageCfg, err)
		log.Error("Object storage bootstrap failed",
			"mode", storageCfg.Mode,
			"mode_source", storageCfg.ModeSource(),
			"emulator_host", storageCfg.EmulatorHost,
			"error_code", classified.Code,
			"error", classified.Cause,
		)
		return nil, classified
	}

	if err := gcp.ValidateObjectStorageConfig(storageCfg); err != nil {
		return fail(err)
	}
	log.Info("Selecting object storage",
		"mode", storageCfg.Mode,
		"mode_source", storageCfg.ModeSource(),
		"emulator_host", storageCfg.EmulatorHost,
	)
	bucket, err := newBucketServiceWithConfig(log, storageCfg)
	if err != nil {
		return fail(err)
	}
	if ensure {
		if err := bucket.EnsureBuckets(ctx); err != nil {
			return fail(&StorageBootstrapError{Code: StorageBootstrapBucketsUnavailable, Cause: err})
		}
	}
	return bucket, nil
}

func classifyStorageBootstrapError(storageCfg gcp.ObjectStorageConfig, err error) *StorageBootstrapError {
	out := &StorageBootstrapError{
		Code:         StorageBootstrapConnectFailed,
		Mode:         string(storageCfg.Mode),
		EmulatorHost: storageCfg.EmulatorHost,
		Cause:        err,
	}
	var already *StorageBootstrapError
	if errors.As(err, &already) {
		out.Code = already.Code
		out.Cause = already.Cause
		return out
	}
	var cfgErr *gcp.ObjectStorageConfigError
	if errors.As(err, &cfgErr) {
		if code, ok := configErrorCodes[cfgErr.Code]; ok {
			out.Code = code
		}
	}
	return out
}

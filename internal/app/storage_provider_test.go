package app

import (
	"context"
	"errors"
	"testing"

	"github.com/yungbote/forge-backend/internal/modules/build/buildtest"
	"github.com/yungbote/forge-backend/internal/platform/gcp"
	"github.com/yungbote/forge-backend/internal/platform/logger"
)

func stubBucketService(t *testing.T, bucket gcp.BucketService, captured *gcp.ObjectStorageConfig) {
	t.Helper()
	orig := newBucketServiceWithConfig
	t.Cleanup(func() { newBucketServiceWithConfig = orig })
	newBucketServiceWithConfig = func(_ *logger.Logger, cfg gcp.ObjectStorageConfig) (gcp.BucketService, error) {
		if captured != nil {
			*captured = cfg
		}
		return bucket, nil
	}
}

func bootstrapCode(t *testing.T, err error) StorageBootstrapErrorCode {
	t.Helper()
	var got *StorageBootstrapError
	if !errors.As(err, &got) {
		t.Fatalf("expected StorageBootstrapError, got=%T (%v)", err, err)
	}
	return got.Code
}

func TestClassifyStorageBootstrapError(t *testing.T) {
	storageCfg := gcp.ObjectStorageConfig{Mode: gcp.ObjectStorageModeGCSEmulator, EmulatorHost: "fake-gcs:4443"}
	cases := []struct {
		name string
		err  error
		want StorageBootstrapErrorCode
	}{
		{"invalid mode", &gcp.ObjectStorageConfigError{Code: gcp.ObjectStorageConfigErrorInvalidMode}, StorageBootstrapInvalidMode},
		{"missing host", &gcp.ObjectStorageConfigError{Code: gcp.ObjectStorageConfigErrorMissingEmulatorHost}, StorageBootstrapMissingEmulatorHost},
		{"invalid host", &gcp.ObjectStorageConfigError{Code: gcp.ObjectStorageConfigErrorInvalidEmulatorHost}, StorageBootstrapInvalidEmulatorHost},
		{"dial", errors.New("dial tcp: connection refused"), StorageBootstrapConnectFailed},
		{"buckets", &StorageBootstrapError{Code: StorageBootstrapBucketsUnavailable, Cause: errors.New("403")}, StorageBootstrapBucketsUnavailable},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := classifyStorageBootstrapError(storageCfg, tc.err)
			if got.Code != tc.want {
				t.Fatalf("code: want=%q got=%q", tc.want, got.Code)
			}
			if got.EmulatorHost != "fake-gcs:4443" {
				t.Fatalf("emulator host: want=%q got=%q", "fake-gcs:4443", got.EmulatorHost)
			}
		})
	}
}

func TestResolveBucketServiceInvalidMode(t *testing.T) {
	stubBucketService(t, buildtest.NewMemBucket(), nil)
	_, err := resolveBucketService(context.Background(), logger.Nop(), Config{ObjectStorageMode: "invalid"}, false)
	if code := bootstrapCode(t, err); code != StorageBootstrapInvalidMode {
		t.Fatalf("code: want=%q got=%q", StorageBootstrapInvalidMode, code)
	}
}

func TestResolveBucketServiceGCSMode(t *testing.T) {
	var captured gcp.ObjectStorageConfig
	expected := buildtest.NewMemBucket()
	stubBucketService(t, expected, &captured)

	got, err := resolveBucketService(context.Background(), logger.Nop(), Config{ObjectStorageMode: string(gcp.ObjectStorageModeGCS)}, true)
	if err != nil {
		t.Fatalf("resolveBucketService: %v", err)
	}
	if got != expected {
		t.Fatalf("bucket: expected stub bucket instance")
	}
	if captured.Mode != gcp.ObjectStorageModeGCS {
		t.Fatalf("mode: want=%q got=%q", gcp.ObjectStorageModeGCS, captured.Mode)
	}
}

func TestResolveBucketServiceEmulatorMode(t *testing.T) {
	var captured gcp.ObjectStorageConfig
	stubBucketService(t, buildtest.NewMemBucket(), &captured)

	_, err := resolveBucketService(context.Background(), logger.Nop(), Config{
		ObjectStorageMode:         string(gcp.ObjectStorageModeGCSEmulator),
		StorageEmulatorHost:       "http://fake-gcs:4443",
		StorageModeCompatFallback: true,
	}, false)
	if err != nil {
		t.Fatalf("resolveBucketService: %v", err)
	}
	if captured.EmulatorHost != "http://fake-gcs:4443" {
		t.Fatalf("emulator host: want=%q got=%q", "http://fake-gcs:4443", captured.EmulatorHost)
	}
	if captured.ModeSource() != "compatibility_fallback" {
		t.Fatalf("mode source: want=%q got=%q", "compatibility_fallback", captured.ModeSource())
	}
}

func TestResolveBucketServiceEmulatorHostErrors(t *testing.T) {
	stubBucketService(t, buildtest.NewMemBucket(), nil)

	_, err := resolveBucketService(context.Background(), logger.Nop(), Config{
		ObjectStorageMode: string(gcp.ObjectStorageModeGCSEmulator),
	}, false)
	if code := bootstrapCode(t, err); code != StorageBootstrapMissingEmulatorHost {
		t.Fatalf("code: want=%q got=%q", StorageBootstrapMissingEmulatorHost, code)
	}

	_, err = resolveBucketService(context.Background(), logger.Nop(), Config{
		ObjectStorageMode:   string(gcp.ObjectStorageModeGCSEmulator),
		StorageEmulatorHost: "not-a-url",
	}, false)
	if code := bootstrapCode(t, err); code != StorageBootstrapInvalidEmulatorHost {
		t.Fatalf("code: want=%q got=%q", StorageBootstrapInvalidEmulatorHost, code)
	}
}

package gcp

import (
	"errors"
	"testing"
)

func TestInferObjectStorageConfig(t *testing.T) {
	cases := []struct {
		name     string
		mode     string
		host     string
		want     ObjectStorageMode
		fallback bool
	}{
		{"default", "", "", ObjectStorageModeGCS, false},
		{"explicit gcs ignores host", "gcs", "http://fake-gcs:4443", ObjectStorageModeGCS, false},
		{"explicit emulator", "GCS_EMULATOR", "http://fake-gcs:4443", ObjectStorageModeGCSEmulator, false},
		{"inferred emulator", "", "http://fake-gcs:4443", ObjectStorageModeGCSEmulator, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := InferObjectStorageConfig(tc.mode, tc.host)
			if err := ValidateObjectStorageConfig(cfg); err != nil {
				t.Fatalf("ValidateObjectStorageConfig: %v", err)
			}
			if cfg.Mode != tc.want {
				t.Fatalf("mode: want=%q got=%q", tc.want, cfg.Mode)
			}
			if cfg.CompatibilityFallback != tc.fallback {
				t.Fatalf("compatibility fallback: want=%v got=%v", tc.fallback, cfg.CompatibilityFallback)
			}
		})
	}
}

func TestValidateObjectStorageConfig(t *testing.T) {
	cases := []struct {
		name string
		mode string
		host string
		want ObjectStorageConfigErrorCode
	}{
		{"invalid mode", "local", "", ObjectStorageConfigErrorInvalidMode},
		{"missing host", "gcs_emulator", "", ObjectStorageConfigErrorMissingEmulatorHost},
		{"host without scheme", "gcs_emulator", "fake-gcs:4443", ObjectStorageConfigErrorInvalidEmulatorHost},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateObjectStorageConfig(InferObjectStorageConfig(tc.mode, tc.host))
			var cfgErr *ObjectStorageConfigError
			if !errors.As(err, &cfgErr) {
				t.Fatalf("expected ObjectStorageConfigError, got=%v", err)
			}
			if cfgErr.Code != tc.want {
				t.Fatalf("code: want=%q got=%q", tc.want, cfgErr.Code)
			}
		})
	}
}

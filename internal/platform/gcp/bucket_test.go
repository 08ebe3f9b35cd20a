package gcp

import (
	"context"
	"net/http"
	"strings"
	"testing"
	"time"
)

func TestResolveObjectStoragePublicBaseURL(t *testing.T) {
	cases := []struct {
		name       string
		env        string
		cfg        ObjectStorageConfig
		wantURL    string
		wantSource string
		wantErr    bool
	}{
		{"gcs default", "", ObjectStorageConfig{Mode: ObjectStorageModeGCS}, "", "gcs_default", false},
		{"emulator fallback", "", ObjectStorageConfig{Mode: ObjectStorageModeGCSEmulator, EmulatorHost: "http://fake-gcs:4443"}, "http://fake-gcs:4443", "storage_emulator_host", false},
		{"env override", "http://localhost:4443/", ObjectStorageConfig{Mode: ObjectStorageModeGCSEmulator, EmulatorHost: "http://fake-gcs:4443"}, "http://localhost:4443", "object_storage_public_base_url", false},
		{"invalid env", "localhost:4443", ObjectStorageConfig{Mode: ObjectStorageModeGCSEmulator, EmulatorHost: "http://fake-gcs:4443"}, "", "", true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv("OBJECT_STORAGE_PUBLIC_BASE_URL", tc.env)
			baseURL, source, err := resolveObjectStoragePublicBaseURL(tc.cfg)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("resolveObjectStoragePublicBaseURL: %v", err)
			}
			if baseURL != tc.wantURL {
				t.Fatalf("baseURL: want=%q got=%q", tc.wantURL, baseURL)
			}
			if source != tc.wantSource {
				t.Fatalf("source: want=%q got=%q", tc.wantSource, source)
			}
		})
	}
}

func TestBucketName(t *testing.T) {
	bs := &bucketService{buckets: map[BucketCategory]string{
		BucketCategoryArtifact: "forge-artifacts",
		BucketCategoryLog:      "forge-logs",
	}}
	if got, err := bs.BucketName(BucketCategoryLog); err != nil || got != "forge-logs" {
		t.Fatalf("BucketName(log): got=%q err=%v", got, err)
	}
	if _, err := bs.BucketName(BucketCategory("avatar")); err == nil {
		t.Fatalf("BucketName(avatar): expected error")
	}
}

func TestSignedURLEmulator(t *testing.T) {
	bs := &bucketService{
		storageMode:   ObjectStorageModeGCSEmulator,
		emulatorHost:  "http://fake-gcs:4443",
		publicBaseURL: "http://localhost:4443",
	}
	get, err := bs.SignedURL(context.Background(), "forge-artifacts", "run-1/abc", http.MethodGet, time.Hour)
	if err != nil {
		t.Fatalf("SignedURL GET: %v", err)
	}
	if want := "http://localhost:4443/storage/v1/b/forge-artifacts/o/run-1%2Fabc?alt=media"; get != want {
		t.Fatalf("GET url: want=%q got=%q", want, get)
	}
	put, err := bs.SignedURL(context.Background(), "forge-artifacts", "run-1/abc", http.MethodPut, time.Hour)
	if err != nil {
		t.Fatalf("SignedURL PUT: %v", err)
	}
	if !strings.HasPrefix(put, "http://localhost:4443/upload/storage/v1/b/forge-artifacts/o?uploadType=media&name=run-1%2Fabc") {
		t.Fatalf("PUT url: got=%q", put)
	}
}

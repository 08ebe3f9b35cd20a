package gcp

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"

	"github.com/yungbote/forge-backend/internal/platform/apierr"
	"github.com/yungbote/forge-backend/internal/platform/logger"
)

type BucketCategory string

const (
	BucketCategoryArtifact BucketCategory = "artifact"
	BucketCategoryLog      BucketCategory = "log"
)

// BucketService stores run artifacts and step logs. Objects are addressed by
// explicit bucket names because stored rows record the bucket they used.
type BucketService interface {
	BucketName(category BucketCategory) (string, error)
	EnsureBuckets(ctx context.Context) error
	Put(ctx context.Context, bucket, key string, body io.Reader, contentType string) error
	Get(ctx context.Context, bucket, key string) ([]byte, error)
	// Delete treats a missing object as already deleted.
	Delete(ctx context.Context, bucket, key string) error
	Exists(ctx context.Context, bucket, key string) (bool, error)
	SignedURL(ctx context.Context, bucket, key, method string, ttl time.Duration) (string, error)
}

type bucketService struct {
	log           *logger.Logger
	storageClient *storage.Client
	storageMode   ObjectStorageMode
	emulatorHost  string
	publicBaseURL string
	projectID     string
	buckets       map[BucketCategory]string
}

func NewBucketServiceWithConfig(log *logger.Logger, storageCfg ObjectStorageConfig) (BucketService, error) {
	if err := ValidateObjectStorageConfig(storageCfg); err != nil {
		return nil, fmt.Errorf("validate object storage config: %w", err)
	}
	serviceLog := log.With("service", "BucketService")

	artifactBucket := strings.TrimSpace(os.Getenv("ARTIFACT_GCS_BUCKET_NAME"))
	logBucket := strings.TrimSpace(os.Getenv("LOG_GCS_BUCKET_NAME"))
	if artifactBucket == "" {
		return nil, fmt.Errorf("missing env var ARTIFACT_GCS_BUCKET_NAME")
	}
	if logBucket == "" {
		return nil, fmt.Errorf("missing env var LOG_GCS_BUCKET_NAME")
	}
	publicBaseURL, publicBaseSource, err := resolveObjectStoragePublicBaseURL(storageCfg)
	if err != nil {
		return nil, err
	}

	stClient, err := newStorageClientForMode(context.Background(), storageCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}

	serviceLog.Info(
		"Object storage initialized",
		"mode", storageCfg.Mode,
		"mode_source", storageCfg.ModeSource(),
		"emulator_host", storageCfg.EmulatorHost,
		"public_base_source", publicBaseSource,
		"artifact_bucket", artifactBucket,
		"log_bucket", logBucket,
	)

	return &bucketService{
		log:           serviceLog,
		storageClient: stClient,
		storageMode:   storageCfg.Mode,
		emulatorHost:  strings.TrimRight(strings.TrimSpace(storageCfg.EmulatorHost), "/"),
		publicBaseURL: publicBaseURL,
		projectID:     strings.TrimSpace(os.Getenv("GCS_PROJECT_ID")),
		buckets: map[BucketCategory]string{
			BucketCategoryArtifact: artifactBucket,
			BucketCategoryLog:      logBucket,
		},
	}, nil
}

func newStorageClientForMode(ctx context.Context, storageCfg ObjectStorageConfig) (*storage.Client, error) {
	switch storageCfg.Mode {
	case ObjectStorageModeGCS:
		opts := ClientOptionsFromEnv()
		opts = append(opts, option.WithScopes(storage.ScopeReadWrite))
		return storage.NewClient(ctx, opts...)
	case ObjectStorageModeGCSEmulator:
		endpoint := strings.TrimRight(strings.TrimSpace(storageCfg.EmulatorHost), "/")
		_ = os.Setenv("STORAGE_EMULATOR_HOST", endpoint)
		return storage.NewClient(ctx, option.WithoutAuthentication())
	default:
		return nil, &ObjectStorageConfigError{
			Code: ObjectStorageConfigErrorInvalidMode,
			Mode: string(storageCfg.Mode),
		}
	}
}

func resolveObjectStoragePublicBaseURL(storageCfg ObjectStorageConfig) (baseURL string, source string, err error) {
	raw := strings.TrimSpace(os.Getenv("OBJECT_STORAGE_PUBLIC_BASE_URL"))
	if raw != "" {
		parsed, parseErr := url.Parse(raw)
		if parseErr != nil || strings.TrimSpace(parsed.Scheme) == "" || strings.TrimSpace(parsed.Host) == "" {
			return "", "", fmt.Errorf(
				"invalid OBJECT_STORAGE_PUBLIC_BASE_URL=%q; expected absolute URL like http://localhost:4443",
				raw,
			)
		}
		return strings.TrimRight(raw, "/"), "object_storage_public_base_url", nil
	}
	if storageCfg.IsEmulatorMode() {
		return strings.TrimRight(strings.TrimSpace(storageCfg.EmulatorHost), "/"), "storage_emulator_host", nil
	}
	return "", "gcs_default", nil
}

func (bs *bucketService) BucketName(category BucketCategory) (string, error) {
	name, ok := bs.buckets[category]
	if !ok || name == "" {
		return "", fmt.Errorf("unknown bucket category: %s", category)
	}
	return name, nil
}

// EnsureBuckets creates missing buckets. Without GCS_PROJECT_ID it only checks.
func (bs *bucketService) EnsureBuckets(ctx context.Context) error {
	for category, name := range bs.buckets {
		h := bs.storageClient.Bucket(name)
		_, err := h.Attrs(ctx)
		if err == nil {
			continue
		}
		if !errors.Is(err, storage.ErrBucketNotExist) {
			return apierr.Storage(fmt.Errorf("bucket %s attrs: %w", name, err))
		}
		if bs.projectID == "" && !bs.isEmulatorMode() {
			return apierr.Storage(fmt.Errorf("bucket %s (%s) does not exist and GCS_PROJECT_ID is unset", name, category))
		}
		if err := h.Create(ctx, bs.projectID, nil); err != nil {
			return apierr.Storage(fmt.Errorf("create bucket %s: %w", name, err))
		}
		bs.log.Info("created bucket", "bucket", name, "category", category)
	}
	return nil
}

func (bs *bucketService) Put(ctx context.Context, bucket, key string, body io.Reader, contentType string) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	w := bs.storageClient.Bucket(bucket).Object(key).NewWriter(ctx)
	if contentType != "" {
		w.ContentType = contentType
	}
	if _, err := io.Copy(w, body); err != nil {
		_ = w.Close()
		return apierr.Storage(fmt.Errorf("failed to write data to GCS: %w", err))
	}
	if err := w.Close(); err != nil {
		return apierr.Storage(fmt.Errorf("failed to close GCS writer: %w", err))
	}
	return nil
}

func (bs *bucketService) Get(ctx context.Context, bucket, key string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()
	if bs.isEmulatorMode() {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, bs.emulatorObjectMediaURL(bucket, key), nil)
		if err != nil {
			return nil, fmt.Errorf("failed creating emulator download request: %w", err)
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			return nil, apierr.Storage(fmt.Errorf("failed emulator download request: %w", err))
		}
		defer resp.Body.Close()
		if resp.StatusCode == http.StatusNotFound {
			return nil, apierr.NotFound("object %s/%s", bucket, key)
		}
		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
			return nil, apierr.Storage(fmt.Errorf("emulator download failed: status=%d body=%s", resp.StatusCode, strings.TrimSpace(string(body))))
		}
		return io.ReadAll(resp.Body)
	}
	r, err := bs.storageClient.Bucket(bucket).Object(key).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, apierr.NotFound("object %s/%s", bucket, key)
	}
	if err != nil {
		return nil, apierr.Storage(fmt.Errorf("failed to open GCS reader: %w", err))
	}
	defer r.Close()
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, r); err != nil {
		return nil, apierr.Storage(fmt.Errorf("failed to read GCS object: %w", err))
	}
	return buf.Bytes(), nil
}

func (bs *bucketService) Delete(ctx context.Context, bucket, key string) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	err := bs.storageClient.Bucket(bucket).Object(key).Delete(ctx)
	if err == nil || errors.Is(err, storage.ErrObjectNotExist) {
		return nil
	}
	return apierr.Storage(fmt.Errorf("failed to delete GCS object %q in bucket %q: %w", key, bucket, err))
}

func (bs *bucketService) Exists(ctx context.Context, bucket, key string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if bs.isEmulatorMode() {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, bs.emulatorObjectMetaURL(bucket, key), nil)
		if err != nil {
			return false, fmt.Errorf("failed creating emulator attrs request: %w", err)
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			return false, apierr.Storage(fmt.Errorf("failed emulator attrs request: %w", err))
		}
		defer resp.Body.Close()
		switch resp.StatusCode {
		case http.StatusOK:
			return true, nil
		case http.StatusNotFound:
			return false, nil
		default:
			return false, apierr.Storage(fmt.Errorf("emulator attrs failed: status=%d", resp.StatusCode))
		}
	}
	_, err := bs.storageClient.Bucket(bucket).Object(key).Attrs(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return false, nil
	}
	if err != nil {
		return false, apierr.Storage(fmt.Errorf("failed to fetch GCS object attrs: %w", err))
	}
	return true, nil
}

// SignedURL issues a V4 signed URL. The emulator has no signing, so in that
// mode the URL is the plain emulator endpoint.
func (bs *bucketService) SignedURL(ctx context.Context, bucket, key, method string, ttl time.Duration) (string, error) {
	if bs.isEmulatorMode() {
		return bs.publicEmulatorURL(bucket, key, method), nil
	}
	u, err := bs.storageClient.Bucket(bucket).SignedURL(key, &storage.SignedURLOptions{
		Scheme:  storage.SigningSchemeV4,
		Method:  method,
		Expires: time.Now().Add(ttl),
	})
	if err != nil {
		return "", apierr.Storage(fmt.Errorf("sign %s %s/%s: %w", method, bucket, key, err))
	}
	return u, nil
}

func (bs *bucketService) isEmulatorMode() bool {
	return bs != nil && IsEmulatorObjectStorageMode(bs.storageMode) && strings.TrimSpace(bs.emulatorHost) != ""
}

func (bs *bucketService) publicEmulatorURL(bucket, key, method string) string {
	base := strings.TrimRight(strings.TrimSpace(bs.publicBaseURL), "/")
	if base == "" {
		base = bs.emulatorHost
	}
	if method == http.MethodPut || method == http.MethodPost {
		return fmt.Sprintf("%s/upload/storage/v1/b/%s/o?uploadType=media&name=%s", base, url.PathEscape(bucket), url.QueryEscape(key))
	}
	return fmt.Sprintf("%s/storage/v1/b/%s/o/%s?alt=media", base, url.PathEscape(bucket), url.PathEscape(key))
}

func (bs *bucketService) emulatorObjectMediaURL(bucket, key string) string {
	return fmt.Sprintf("%s/storage/v1/b/%s/o/%s?alt=media", bs.emulatorHost, url.PathEscape(bucket), url.PathEscape(key))
}

func (bs *bucketService) emulatorObjectMetaURL(bucket, key string) string {
	return fmt.Sprintf("%s/storage/v1/b/%s/o/%s", bs.emulatorHost, url.PathEscape(bucket), url.PathEscape(key))
}

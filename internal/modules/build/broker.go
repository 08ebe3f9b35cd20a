package build

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/forge-backend/internal/data/repos"
	types "github.com/yungbote/forge-backend/internal/domain"
	"github.com/yungbote/forge-backend/internal/domain/forge"
	"github.com/yungbote/forge-backend/internal/platform/apierr"
	"github.com/yungbote/forge-backend/internal/platform/dbctx"
	"github.com/yungbote/forge-backend/internal/platform/gcp"
	"github.com/yungbote/forge-backend/internal/platform/ids"
	"github.com/yungbote/forge-backend/internal/platform/logger"
)

const artifactKeyLength = 10

type UploadHandle struct {
	Bucket     string
	StorageKey string
	UploadURL  string
}

func (h UploadHandle) Target() forge.UploadTarget {
	return forge.UploadTarget{Bucket: h.Bucket, StorageKey: h.StorageKey}
}

// Broker hands out signed transfer URLs for artifact objects and records
// artifact rows once their objects exist.
type Broker struct {
	log       *logger.Logger
	bucket    gcp.BucketService
	artifacts repos.ArtifactRepo
	ttl       time.Duration
}

func NewBroker(baseLog *logger.Logger, bucket gcp.BucketService, artifacts repos.ArtifactRepo, ttl time.Duration) *Broker {
	return &Broker{
		log:       baseLog.With("service", "ArtifactBroker"),
		bucket:    bucket,
		artifacts: artifacts,
		ttl:       ttl,
	}
}

func (b *Broker) artifactBucket() (string, error) {
	if b.bucket == nil {
		return "", apierr.Storage(fmt.Errorf("object storage not configured"))
	}
	name, err := b.bucket.BucketName(gcp.BucketCategoryArtifact)
	if err != nil {
		return "", apierr.Storage(err)
	}
	return name, nil
}

// IssueUploadHandle signs the object location of an upload step. The key
// depends only on the run and step, so recompiling a run hands out the same
// locations. No row is written until the upload is confirmed.
func (b *Broker) IssueUploadHandle(ctx context.Context, runID, stepID uuid.UUID) (UploadHandle, error) {
	bucket, err := b.artifactBucket()
	if err != nil {
		return UploadHandle{}, err
	}
	key := runID.String() + "/upload-" + stepID.String()
	url, err := b.bucket.SignedURL(ctx, bucket, key, http.MethodPut, b.ttl)
	if err != nil {
		return UploadHandle{}, apierr.Storage(fmt.Errorf("sign upload url: %w", err))
	}
	return UploadHandle{Bucket: bucket, StorageKey: key, UploadURL: url}, nil
}

// TTL is how long issued URLs stay valid.
func (b *Broker) TTL() time.Duration { return b.ttl }

func (b *Broker) DownloadURL(ctx context.Context, a *types.Artifact) (string, error) {
	if b.bucket == nil {
		return "", apierr.Storage(fmt.Errorf("object storage not configured"))
	}
	url, err := b.bucket.SignedURL(ctx, a.Bucket, a.StorageKey, http.MethodGet, b.ttl)
	if err != nil {
		return "", apierr.Storage(fmt.Errorf("sign download url: %w", err))
	}
	return url, nil
}

// ConfirmUpload records the artifact for target unless the run already has
// one at that storage key. created is false for a duplicate confirmation.
func (b *Broker) ConfirmUpload(dbc dbctx.Context, run *types.WorkflowRun, name string, typ forge.ArtifactType, target forge.UploadTarget) (*types.Artifact, bool, error) {
	exists, err := b.artifacts.ExistsByRunAndKey(dbc, run.ID, target.StorageKey)
	if err != nil {
		return nil, false, err
	}
	if exists {
		return nil, false, nil
	}
	a := &types.Artifact{
		WorkflowID: run.WorkflowID,
		RunID:      run.ID,
		Name:       name,
		Type:       typ,
		Bucket:     target.Bucket,
		StorageKey: target.StorageKey,
	}
	created, err := b.artifacts.Create(dbc, a)
	if err != nil {
		return nil, false, err
	}
	if !created {
		return nil, false, nil
	}
	b.log.Info("Artifact recorded", "run_id", run.ID, "artifact_id", a.ID, "type", typ)
	return a, true, nil
}

// PutObject writes content to a freshly allocated key under the artifact
// bucket and returns its location.
func (b *Broker) PutObject(ctx context.Context, runID uuid.UUID, content []byte, contentType string) (forge.UploadTarget, error) {
	bucket, err := b.artifactBucket()
	if err != nil {
		return forge.UploadTarget{}, err
	}
	key := runID.String() + "/" + ids.Plain(artifactKeyLength)
	if err := b.bucket.Put(ctx, bucket, key, bytes.NewReader(content), contentType); err != nil {
		return forge.UploadTarget{}, apierr.Storage(fmt.Errorf("put artifact object: %w", err))
	}
	return forge.UploadTarget{Bucket: bucket, StorageKey: key}, nil
}

// MaterializeFromBytes stores content and records it as an artifact of run.
func (b *Broker) MaterializeFromBytes(dbc dbctx.Context, run *types.WorkflowRun, name string, typ forge.ArtifactType, content []byte, contentType string) (*types.Artifact, error) {
	target, err := b.PutObject(dbc.Ctx, run.ID, content, contentType)
	if err != nil {
		return nil, err
	}
	a, _, err := b.ConfirmUpload(dbc, run, name, typ, target)
	return a, err
}

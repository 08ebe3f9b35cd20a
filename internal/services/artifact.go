package services

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/yungbote/forge-backend/internal/data/repos"
	types "github.com/yungbote/forge-backend/internal/domain"
	"github.com/yungbote/forge-backend/internal/modules/build"
	"github.com/yungbote/forge-backend/internal/platform/apierr"
	"github.com/yungbote/forge-backend/internal/platform/dbctx"
	"github.com/yungbote/forge-backend/internal/platform/logger"
)

type ArtifactDownload struct {
	Artifact  *types.Artifact `json:"artifact"`
	URL       string          `json:"url"`
	ExpiresAt time.Time       `json:"expires_at"`
}

type ArtifactService interface {
	// List pages w's artifacts, optionally only those of runIDs.
	List(dbc dbctx.Context, w *types.Workflow, runIDs []uuid.UUID, page repos.Page) ([]*types.Artifact, error)
	Get(dbc dbctx.Context, w *types.Workflow, artifactID string) (*types.Artifact, error)
	Download(dbc dbctx.Context, w *types.Workflow, artifactID string) (ArtifactDownload, error)
}

type artifactService struct {
	db        *gorm.DB
	log       *logger.Logger
	artifacts repos.ArtifactRepo
	broker    *build.Broker
	now       func() time.Time
}

func NewArtifactService(db *gorm.DB, baseLog *logger.Logger, artifacts repos.ArtifactRepo, broker *build.Broker) ArtifactService {
	return &artifactService{
		db:        db,
		log:       baseLog.With("service", "ArtifactService"),
		artifacts: artifacts,
		broker:    broker,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (s *artifactService) List(dbc dbctx.Context, w *types.Workflow, runIDs []uuid.UUID, page repos.Page) ([]*types.Artifact, error) {
	return s.artifacts.ListByWorkflow(dbc, w.ID, runIDs, page)
}

func (s *artifactService) Get(dbc dbctx.Context, w *types.Workflow, artifactID string) (*types.Artifact, error) {
	id, err := uuid.Parse(strings.TrimSpace(artifactID))
	if err != nil {
		return nil, apierr.NotFound("artifact %s not found", artifactID)
	}
	a, err := s.artifacts.GetForWorkflow(dbc, w.ID, id)
	if err != nil {
		return nil, err
	}
	if a == nil {
		return nil, apierr.NotFound("artifact %s not found", artifactID)
	}
	return a, nil
}

func (s *artifactService) Download(dbc dbctx.Context, w *types.Workflow, artifactID string) (ArtifactDownload, error) {
	a, err := s.Get(dbc, w, artifactID)
	if err != nil {
		return ArtifactDownload{}, err
	}
	issued := s.now()
	url, err := s.broker.DownloadURL(dbc.Ctx, a)
	if err != nil {
		return ArtifactDownload{}, err
	}
	s.log.Debug("Artifact download issued", "artifact_id", a.ID, "workflow_id", w.ID)
	return ArtifactDownload{Artifact: a, URL: url, ExpiresAt: issued.Add(s.broker.TTL())}, nil
}

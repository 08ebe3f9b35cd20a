package services

import (
	"fmt"
	"sync"

	"gorm.io/gorm"

	"github.com/yungbote/forge-backend/internal/data/repos"
	types "github.com/yungbote/forge-backend/internal/domain"
	"github.com/yungbote/forge-backend/internal/platform/apierr"
	"github.com/yungbote/forge-backend/internal/platform/buildprovider"
	"github.com/yungbote/forge-backend/internal/platform/dbctx"
	"github.com/yungbote/forge-backend/internal/platform/logger"
)

type ProviderService interface {
	// ResolveDefault returns the provider row of the configured adapter,
	// creating it on first use.
	ResolveDefault(dbc dbctx.Context) (*types.Provider, error)
}

type providerService struct {
	db        *gorm.DB
	log       *logger.Logger
	providers repos.ProviderRepo
	adapter   buildprovider.Adapter

	mu     sync.Mutex
	cached *types.Provider
}

func NewProviderService(db *gorm.DB, baseLog *logger.Logger, providers repos.ProviderRepo, adapter buildprovider.Adapter) ProviderService {
	return &providerService{
		db:        db,
		log:       baseLog.With("service", "ProviderService"),
		providers: providers,
		adapter:   adapter,
	}
}

func (s *providerService) ResolveDefault(dbc dbctx.Context) (*types.Provider, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cached != nil {
		return s.cached, nil
	}
	if s.adapter == nil {
		return nil, apierr.ProviderMisconfigured(fmt.Errorf("no build provider configured"))
	}
	identifier := buildprovider.IdentityHash(s.adapter)
	p, err := s.providers.Upsert(dbc, identifier, s.adapter.Name())
	if err != nil {
		return nil, fmt.Errorf("resolve provider: %w", err)
	}
	s.log.Info("Default provider resolved", "provider_id", p.ID, "name", p.Name)
	s.cached = p
	return p, nil
}

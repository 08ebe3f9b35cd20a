package forge

import (
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	types "github.com/yungbote/forge-backend/internal/domain"
	"github.com/yungbote/forge-backend/internal/platform/dbctx"
	"github.com/yungbote/forge-backend/internal/platform/logger"
)

type ProviderRepo interface {
	// Upsert returns the provider row for identifier, creating it if absent.
	Upsert(dbc dbctx.Context, identifier, name string) (*types.Provider, error)
	GetByIdentifier(dbc dbctx.Context, identifier string) (*types.Provider, error)
}

type providerRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewProviderRepo(db *gorm.DB, baseLog *logger.Logger) ProviderRepo {
	return &providerRepo{db: db, log: baseLog.With("repo", "ProviderRepo")}
}

func (r *providerRepo) Upsert(dbc dbctx.Context, identifier, name string) (*types.Provider, error) {
	row := &types.Provider{Identifier: identifier, Name: name}
	err := dbc.DB(r.db).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "identifier"}},
		DoNothing: true,
	}).Create(row).Error
	if err != nil {
		return nil, err
	}
	got, err := r.GetByIdentifier(dbc, identifier)
	if err != nil {
		return nil, err
	}
	if got == nil {
		return nil, fmt.Errorf("provider %s missing after upsert", identifier)
	}
	return got, nil
}

func (r *providerRepo) GetByIdentifier(dbc dbctx.Context, identifier string) (*types.Provider, error) {
	return first[types.Provider](dbc.DB(r.db).Where("identifier = ?", identifier))
}

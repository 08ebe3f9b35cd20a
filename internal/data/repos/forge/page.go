package forge

import (
	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	DefaultPageLimit = 50
	MaxPageLimit     = 100
)

// Page is keyset pagination over time-ordered ids.
type Page struct {
	Limit int
	After *uuid.UUID
}

func (p Page) apply(q *gorm.DB) *gorm.DB {
	limit := p.Limit
	if limit <= 0 {
		limit = DefaultPageLimit
	}
	if limit > MaxPageLimit {
		limit = MaxPageLimit
	}
	if p.After != nil && *p.After != uuid.Nil {
		q = q.Where("id > ?", *p.After)
	}
	return q.Order("id ASC").Limit(limit)
}

package forge

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/yungbote/forge-backend/internal/platform/ids"
)

// Provider records a build provider configuration; Identifier is a hash of it.
type Provider struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	Identifier string    `gorm:"column:identifier;not null;uniqueIndex" json:"identifier"`
	Name       string    `gorm:"column:name;not null" json:"name"`
	CreatedAt  time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt  time.Time `gorm:"not null" json:"updated_at"`
}

func (Provider) TableName() string { return "provider" }

func (p *Provider) BeforeCreate(*gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = ids.New()
	}
	return nil
}

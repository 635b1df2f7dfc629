package models

import (
	"time"

	"github.com/google/uuid"
)

// PropertyContact is owner-provided contact data attached to a property
// (CRM imports, lead forms). It is the only source of identifiers uploaded
// to the ads platform.
// Table: property_contacts
type PropertyContact struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"id"`
	OwnerID     uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:uk_property_contacts_owner_property,priority:1" json:"owner_id"`
	PropertyID  uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:uk_property_contacts_owner_property,priority:2" json:"property_id"`
	Email       *string   `gorm:"size:255" json:"email,omitempty"`
	Phone       *string   `gorm:"size:32" json:"phone,omitempty"`
	FirstName   *string   `gorm:"size:100" json:"first_name,omitempty"`
	LastName    *string   `gorm:"size:100" json:"last_name,omitempty"`
	PostalCode  *string   `gorm:"size:10" json:"postal_code,omitempty"`
	CountryCode string    `gorm:"size:2;not null;default:'US'" json:"country_code"`
	Source      *string   `gorm:"size:50" json:"source,omitempty"`
	CreatedAt   time.Time `gorm:"default:(CURRENT_TIMESTAMP AT TIME ZONE 'UTC');not null" json:"created_at"`
	UpdatedAt   time.Time `gorm:"default:(CURRENT_TIMESTAMP AT TIME ZONE 'UTC');not null" json:"updated_at"`
}

func (PropertyContact) TableName() string { return "property_contacts" }

// PropertyContactFilter represents filter criteria for property contacts
type PropertyContactFilter struct {
	OwnerID    *uuid.UUID
	PropertyID *uuid.UUID
}

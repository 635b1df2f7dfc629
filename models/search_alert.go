package models

import (
	"time"

	"github.com/amirphl/evoteli/utils"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"gorm.io/gorm"
)

// SearchAlert records one alert delivery attempt for a saved search
// Table: search_alerts
// property_ids uses a PostgreSQL text[] of property UUIDs
type SearchAlert struct {
	ID            uuid.UUID      `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"id"`
	SavedSearchID uuid.UUID      `gorm:"type:uuid;not null;index:idx_search_alerts_saved_search_id" json:"saved_search_id"`
	SentAt        time.Time      `gorm:"not null;index:idx_search_alerts_sent_at" json:"sent_at"`
	PropertyCount int            `gorm:"not null" json:"property_count"`
	PropertyIDs   pq.StringArray `gorm:"type:text[];not null" json:"property_ids"`

	EmailSent    bool    `gorm:"not null;default:false" json:"email_sent"`
	EmailOpened  bool    `gorm:"not null;default:false" json:"email_opened"`
	EmailClicked bool    `gorm:"not null;default:false" json:"email_clicked"`
	DeliveryID   *string `gorm:"size:255" json:"delivery_id,omitempty"`
	ErrorMessage *string `gorm:"type:text" json:"error_message,omitempty"`
	RetryCount   int     `gorm:"not null;default:0" json:"retry_count"`

	CreatedAt time.Time `gorm:"default:(CURRENT_TIMESTAMP AT TIME ZONE 'UTC');not null" json:"created_at"`
}

func (SearchAlert) TableName() string { return "search_alerts" }

// BeforeCreate is called before creating a new record
func (a *SearchAlert) BeforeCreate(tx *gorm.DB) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	if a.SentAt.IsZero() {
		a.SentAt = utils.UTCNow()
	}
	if a.PropertyIDs == nil {
		a.PropertyIDs = pq.StringArray{}
	}
	return nil
}

// SearchAlertFilter represents filter criteria for search alerts
type SearchAlertFilter struct {
	SavedSearchID *uuid.UUID
	EmailSent     *bool
	SentAfter     *time.Time
	SentBefore    *time.Time
}

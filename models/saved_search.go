package models

import (
	"time"

	"github.com/amirphl/evoteli/utils"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// AlertFrequency is the cadence at which a saved search is evaluated
type AlertFrequency string

const (
	AlertFrequencyInstant AlertFrequency = "instant"
	AlertFrequencyDaily   AlertFrequency = "daily"
	AlertFrequencyWeekly  AlertFrequency = "weekly"
	AlertFrequencyMonthly AlertFrequency = "monthly"
)

// String returns the string representation of the frequency
func (f AlertFrequency) String() string {
	return string(f)
}

// Valid checks if the frequency is valid
func (f AlertFrequency) Valid() bool {
	switch f {
	case AlertFrequencyInstant, AlertFrequencyDaily, AlertFrequencyWeekly, AlertFrequencyMonthly:
		return true
	default:
		return false
	}
}

// SavedSearch is a user-owned FilterSpec plus alerting schedule
// Table: saved_searches
type SavedSearch struct {
	ID          uuid.UUID  `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"id"`
	OwnerID     uuid.UUID  `gorm:"type:uuid;not null;index:idx_saved_searches_owner_id" json:"owner_id"`
	Name        string     `gorm:"size:200;not null" json:"name"`
	Description *string    `gorm:"type:text" json:"description,omitempty"`
	Filters     FilterSpec `gorm:"type:jsonb;not null" json:"filters"`

	AlertsEnabled  bool           `gorm:"not null;default:true" json:"alerts_enabled"`
	AlertFrequency AlertFrequency `gorm:"size:20;not null;default:'daily';index:idx_saved_searches_alert_frequency" json:"alert_frequency"`
	AlertEmail     *string        `gorm:"size:255" json:"alert_email,omitempty"`
	AlertTime      int            `gorm:"not null;default:9" json:"alert_time"` // hour of day, UTC
	AlertDay       *int           `json:"alert_day,omitempty"`                  // weekday (0=Sunday) or day of month

	LastCheckedAt            *time.Time `gorm:"index:idx_saved_searches_last_checked_at" json:"last_checked_at,omitempty"`
	TotalMatches             int        `gorm:"not null;default:0" json:"total_matches"`
	NewMatchesSinceLastAlert int        `gorm:"not null;default:0" json:"new_matches_since_last_alert"`

	IsActive  bool       `gorm:"not null;default:true;index:idx_saved_searches_is_active" json:"is_active"`
	CreatedAt time.Time  `gorm:"default:(CURRENT_TIMESTAMP AT TIME ZONE 'UTC');not null" json:"created_at"`
	UpdatedAt *time.Time `json:"updated_at,omitempty"`
}

func (SavedSearch) TableName() string { return "saved_searches" }

// BeforeCreate is called before creating a new record
func (s *SavedSearch) BeforeCreate(tx *gorm.DB) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	if s.AlertFrequency == "" {
		s.AlertFrequency = AlertFrequencyDaily
	}
	if s.Filters.Version == 0 {
		s.Filters.Version = FilterSpecVersion
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = utils.UTCNow()
	}
	return nil
}

// Schedulable reports whether the search participates in alerting at all
func (s *SavedSearch) Schedulable() bool {
	return s.IsActive && s.AlertsEnabled
}

// SavedSearchFilter represents filter criteria for saved searches
type SavedSearchFilter struct {
	ID             *uuid.UUID
	OwnerID        *uuid.UUID
	AlertFrequency *AlertFrequency
	AlertsEnabled  *bool
	IsActive       *bool
	CreatedAfter   *time.Time
	CreatedBefore  *time.Time
}

// SavedSearchUpdate lists the user-editable columns of a saved search.
// Nil fields are left untouched.
type SavedSearchUpdate struct {
	Name           *string
	Description    *string
	Filters        *FilterSpec
	AlertsEnabled  *bool
	AlertFrequency *AlertFrequency
	AlertEmail     *string
	AlertTime      *int
	AlertDay       *int
	ClearAlertDay  bool
	IsActive       *bool
}

// SavedSearchAlertOutcome is the bookkeeping written after an evaluation.
// TotalMatchesDelta is added to total_matches; the other fields overwrite.
type SavedSearchAlertOutcome struct {
	LastCheckedAt            time.Time
	NewMatchesSinceLastAlert int
	TotalMatchesDelta        int
}

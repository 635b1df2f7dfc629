package dto

import (
	"time"

	"github.com/amirphl/evoteli/models"
	"github.com/google/uuid"
)

// CreateSavedSearchRequest creates a saved search with an alert schedule.
// AlertDay is a weekday (0 = Sunday) for weekly alerts and a day of month
// (1..31) for monthly ones; it must be absent otherwise.
type CreateSavedSearchRequest struct {
	Name           string            `json:"name" validate:"required,max=200"`
	Description    *string           `json:"description,omitempty" validate:"omitempty,max=2000"`
	Filters        models.FilterSpec `json:"filters"`
	AlertsEnabled  *bool             `json:"alerts_enabled,omitempty"`
	AlertFrequency string            `json:"alert_frequency,omitempty" validate:"omitempty,oneof=instant daily weekly monthly"`
	AlertEmail     *string           `json:"alert_email,omitempty" validate:"omitempty,email,max=255"`
	AlertTime      *int              `json:"alert_time,omitempty" validate:"omitempty,min=0,max=23"`
	AlertDay       *int              `json:"alert_day,omitempty" validate:"omitempty,min=0,max=31"`
}

// UpdateSavedSearchRequest changes only the fields that are present
type UpdateSavedSearchRequest struct {
	Name           *string            `json:"name,omitempty" validate:"omitempty,min=1,max=200"`
	Description    *string            `json:"description,omitempty" validate:"omitempty,max=2000"`
	Filters        *models.FilterSpec `json:"filters,omitempty"`
	AlertsEnabled  *bool              `json:"alerts_enabled,omitempty"`
	AlertFrequency *string            `json:"alert_frequency,omitempty" validate:"omitempty,oneof=instant daily weekly monthly"`
	AlertEmail     *string            `json:"alert_email,omitempty" validate:"omitempty,email,max=255"`
	AlertTime      *int               `json:"alert_time,omitempty" validate:"omitempty,min=0,max=23"`
	AlertDay       *int               `json:"alert_day,omitempty" validate:"omitempty,min=0,max=31"`
	IsActive       *bool              `json:"is_active,omitempty"`
}

type SavedSearchResponse struct {
	ID                       uuid.UUID         `json:"id"`
	Name                     string            `json:"name"`
	Description              *string           `json:"description,omitempty"`
	Filters                  models.FilterSpec `json:"filters"`
	AlertsEnabled            bool              `json:"alerts_enabled"`
	AlertFrequency           string            `json:"alert_frequency"`
	AlertEmail               *string           `json:"alert_email,omitempty"`
	AlertTime                int               `json:"alert_time"`
	AlertDay                 *int              `json:"alert_day,omitempty"`
	LastCheckedAt            *time.Time        `json:"last_checked_at,omitempty"`
	TotalMatches             int               `json:"total_matches"`
	NewMatchesSinceLastAlert int               `json:"new_matches_since_last_alert"`
	IsActive                 bool              `json:"is_active"`
	CreatedAt                time.Time         `json:"created_at"`
	UpdatedAt                *time.Time        `json:"updated_at,omitempty"`
}

// SearchAlertItem is one row of a saved search's alert history
type SearchAlertItem struct {
	ID            uuid.UUID `json:"id"`
	SentAt        time.Time `json:"sent_at"`
	PropertyCount int       `json:"property_count"`
	PropertyIDs   []string  `json:"property_ids"`
	EmailSent     bool      `json:"email_sent"`
	DeliveryID    *string   `json:"delivery_id,omitempty"`
	ErrorMessage  *string   `json:"error_message,omitempty"`
	RetryCount    int       `json:"retry_count"`
}

type SavedSearchDetailResponse struct {
	SavedSearch SavedSearchResponse `json:"saved_search"`
	Alerts      []SearchAlertItem   `json:"alerts"`
}

type ListSavedSearchesRequest struct {
	PageRequest
	IncludeInactive bool `json:"include_inactive"`
}

type ListSavedSearchesResponse struct {
	Items []SavedSearchResponse `json:"items"`
	PageInfo
}

// TestAlertRequest overrides the recipient of a test alert
type TestAlertRequest struct {
	Recipient *string `json:"recipient,omitempty" validate:"omitempty,email,max=255"`
}

type TestAlertResponse struct {
	Message string `json:"message"`
	JobID   string `json:"job_id"`
}

package dto

import (
	"encoding/json"
	"time"

	"github.com/amirphl/evoteli/models"
	"github.com/google/uuid"
)

type CreateAudienceRequest struct {
	AdsAccountID       uuid.UUID         `json:"ads_account_id" validate:"required"`
	Name               string            `json:"name" validate:"required,max=255"`
	Description        *string           `json:"description,omitempty" validate:"omitempty,max=2000"`
	Filters            models.FilterSpec `json:"filters"`
	AutoSync           *bool             `json:"auto_sync,omitempty"`
	SyncFrequencyHours *int              `json:"sync_frequency_hours,omitempty" validate:"omitempty,min=1,max=168"`
}

type UpdateAudienceRequest struct {
	Name               *string            `json:"name,omitempty" validate:"omitempty,min=1,max=255"`
	Description        *string            `json:"description,omitempty" validate:"omitempty,max=2000"`
	Filters            *models.FilterSpec `json:"filters,omitempty"`
	AutoSync           *bool              `json:"auto_sync,omitempty"`
	SyncFrequencyHours *int               `json:"sync_frequency_hours,omitempty" validate:"omitempty,min=1,max=168"`
	IsActive           *bool              `json:"is_active,omitempty"`
}

type AudienceResponse struct {
	ID                   uuid.UUID         `json:"id"`
	AdsAccountID         uuid.UUID         `json:"ads_account_id"`
	Name                 string            `json:"name"`
	Description          *string           `json:"description,omitempty"`
	Filters              models.FilterSpec `json:"filters"`
	UserListResourceName *string           `json:"user_list_resource_name,omitempty"`
	TotalProperties      int               `json:"total_properties"`
	TotalContacts        int               `json:"total_contacts"`
	UploadedCount        int               `json:"uploaded_count"`
	MatchedCount         int               `json:"matched_count"`
	MatchRate            *float64          `json:"match_rate,omitempty"`
	SyncStatus           string            `json:"sync_status"`
	LastSyncAt           *time.Time        `json:"last_sync_at,omitempty"`
	NextSyncAt           *time.Time        `json:"next_sync_at,omitempty"`
	SyncError            *string           `json:"sync_error,omitempty"`
	AutoSync             bool              `json:"auto_sync"`
	SyncFrequencyHours   int               `json:"sync_frequency_hours"`
	IsActive             bool              `json:"is_active"`
	CreatedAt            time.Time         `json:"created_at"`
	UpdatedAt            *time.Time        `json:"updated_at,omitempty"`
}

// SyncRecordItem is one sync attempt in an audience's history
type SyncRecordItem struct {
	ID                  uuid.UUID           `json:"id"`
	AudienceID          uuid.UUID           `json:"audience_id"`
	StartedAt           time.Time           `json:"started_at"`
	CompletedAt         *time.Time          `json:"completed_at,omitempty"`
	Status              string              `json:"status"`
	TriggeredBy         string              `json:"triggered_by"`
	PropertiesProcessed int                 `json:"properties_processed"`
	ContactsExtracted   int                 `json:"contacts_extracted"`
	ContactsUploaded    int                 `json:"contacts_uploaded"`
	ContactsMatched     int                 `json:"contacts_matched"`
	ErrorMessage        *string             `json:"error_message,omitempty"`
	ErrorDetails        json.RawMessage     `json:"error_details,omitempty"`
	SyncMetadata        models.SyncMetadata `json:"sync_metadata"`
}

type AudienceDetailResponse struct {
	Audience    AudienceResponse `json:"audience"`
	SyncHistory []SyncRecordItem `json:"sync_history"`
}

// CreateAudienceResponse carries the first sync attempt started on creation
type CreateAudienceResponse struct {
	Audience     AudienceResponse `json:"audience"`
	SyncRecordID *uuid.UUID       `json:"sync_record_id,omitempty"`
}

type ListAudiencesRequest struct {
	PageRequest
	AdsAccountID    *uuid.UUID `json:"ads_account_id,omitempty"`
	IncludeInactive bool       `json:"include_inactive"`
}

type ListAudiencesResponse struct {
	Items []AudienceResponse `json:"items"`
	PageInfo
}

type TriggerSyncResponse struct {
	Message      string    `json:"message"`
	SyncRecordID uuid.UUID `json:"sync_record_id"`
	Status       string    `json:"status"`
}

package models

import (
	"time"

	"github.com/amirphl/evoteli/utils"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// SyncStatus is shared by audiences (last outcome) and sync history records
type SyncStatus string

const (
	SyncStatusPending    SyncStatus = "pending"
	SyncStatusInProgress SyncStatus = "in_progress"
	SyncStatusCompleted  SyncStatus = "completed"
	SyncStatusFailed     SyncStatus = "failed"
	SyncStatusPartial    SyncStatus = "partial"
)

// Terminal reports whether the status ends a sync attempt
func (s SyncStatus) Terminal() bool {
	return s == SyncStatusCompleted || s == SyncStatusFailed || s == SyncStatusPartial
}

// Audience is a FilterSpec bound to an ads account, materialized as a remote
// customer-match list
// Table: customer_match_audiences
type Audience struct {
	ID           uuid.UUID  `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"id"`
	OwnerID      uuid.UUID  `gorm:"type:uuid;not null;index:idx_customer_match_audiences_owner_id" json:"owner_id"`
	AdsAccountID uuid.UUID  `gorm:"type:uuid;not null;index:idx_customer_match_audiences_account_id" json:"ads_account_id"`
	Name         string     `gorm:"size:255;not null" json:"name"`
	Description  *string    `gorm:"type:text" json:"description,omitempty"`
	Filters      FilterSpec `gorm:"type:jsonb;not null" json:"filters"`

	// Remote list identity; set once by the first successful sync
	UserListResourceName *string `gorm:"size:255" json:"user_list_resource_name,omitempty"`
	UserListID           *string `gorm:"size:50" json:"user_list_id,omitempty"`

	TotalProperties    int      `gorm:"not null;default:0" json:"total_properties"`
	TotalContacts      int      `gorm:"not null;default:0" json:"total_contacts"`
	UploadedCount      int      `gorm:"not null;default:0" json:"uploaded_count"`
	MatchedCount       int      `gorm:"not null;default:0" json:"matched_count"`
	MatchRate          *float64 `json:"match_rate,omitempty"`
	FailedRecordsCount int      `gorm:"not null;default:0" json:"failed_records_count"`

	SyncStatus         SyncStatus `gorm:"size:20;not null;default:'pending'" json:"sync_status"`
	LastSyncAt         *time.Time `json:"last_sync_at,omitempty"`
	NextSyncAt         *time.Time `gorm:"index:idx_customer_match_audiences_next_sync_at" json:"next_sync_at,omitempty"`
	SyncError          *string    `gorm:"type:text" json:"sync_error,omitempty"`
	AutoSync           bool       `gorm:"not null;default:true" json:"auto_sync"`
	SyncFrequencyHours int        `gorm:"not null;default:24" json:"sync_frequency_hours"`

	IsActive  bool       `gorm:"not null;default:true" json:"is_active"`
	CreatedAt time.Time  `gorm:"default:(CURRENT_TIMESTAMP AT TIME ZONE 'UTC');not null" json:"created_at"`
	UpdatedAt *time.Time `json:"updated_at,omitempty"`

	// Relations
	AdsAccount *AdsAccount `gorm:"foreignKey:AdsAccountID;references:ID" json:"ads_account,omitempty"`
}

func (Audience) TableName() string { return "customer_match_audiences" }

// BeforeCreate is called before creating a new record
func (a *Audience) BeforeCreate(tx *gorm.DB) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	if a.SyncStatus == "" {
		a.SyncStatus = SyncStatusPending
	}
	if a.SyncFrequencyHours == 0 {
		a.SyncFrequencyHours = utils.DefaultSyncFrequencyHours
	}
	if a.Filters.Version == 0 {
		a.Filters.Version = FilterSpecVersion
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = utils.UTCNow()
	}
	return nil
}

// SyncFrequency returns the auto-sync interval
func (a *Audience) SyncFrequency() time.Duration {
	hours := a.SyncFrequencyHours
	if hours <= 0 {
		hours = utils.DefaultSyncFrequencyHours
	}
	return time.Duration(hours) * time.Hour
}

// AudienceFilter represents filter criteria for audiences
type AudienceFilter struct {
	ID           *uuid.UUID
	OwnerID      *uuid.UUID
	AdsAccountID *uuid.UUID
	SyncStatus   *SyncStatus
	AutoSync     *bool
	IsActive     *bool
}

// AudienceUpdate lists the user-editable columns of an audience
type AudienceUpdate struct {
	Name               *string
	Description        *string
	Filters            *FilterSpec
	AutoSync           *bool
	SyncFrequencyHours *int
	IsActive           *bool
}

// AudienceSyncOutcome is written when a sync attempt ends or changes phase.
// Nil pointer fields are left untouched.
type AudienceSyncOutcome struct {
	SyncStatus         SyncStatus
	SyncError          *string
	ClearSyncError     bool
	TotalProperties    *int
	TotalContacts      *int
	UploadedCount      *int
	MatchedCount       *int
	MatchRate          *float64
	FailedRecordsCount *int
	LastSyncAt         *time.Time
	NextSyncAt         *time.Time
}

package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/amirphl/evoteli/utils"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// SyncTrigger records who started a sync attempt
type SyncTrigger string

const (
	SyncTriggerManual   SyncTrigger = "manual"
	SyncTriggerAutoSync SyncTrigger = "auto_sync"
)

// SyncMetadata is free-form bookkeeping stored with each sync attempt
type SyncMetadata struct {
	JobID         string   `json:"job_id,omitempty"`
	Truncated     bool     `json:"truncated,omitempty"`
	BatchSize     int      `json:"batch_size,omitempty"`
	BatchesSent   int      `json:"batches_sent,omitempty"`
	BatchesFailed int      `json:"batches_failed,omitempty"`
	BatchErrors   []string `json:"batch_errors,omitempty"`
	SkippedNoKey  int      `json:"skipped_no_identifier,omitempty"`
	StatsError    string   `json:"stats_error,omitempty"`
}

// Value implements the driver.Valuer interface for SyncMetadata
func (m SyncMetadata) Value() (driver.Value, error) {
	return json.Marshal(m)
}

// Scan implements the sql.Scanner interface for SyncMetadata
func (m *SyncMetadata) Scan(value any) error {
	if value == nil {
		*m = SyncMetadata{}
		return nil
	}
	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return fmt.Errorf("cannot scan %T into SyncMetadata", value)
	}
	return json.Unmarshal(bytes, m)
}

// AudienceSyncRecord is one attempt to push an audience to the ads platform
// Table: audience_sync_history
type AudienceSyncRecord struct {
	ID          uuid.UUID   `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"id"`
	AudienceID  uuid.UUID   `gorm:"type:uuid;not null;index:idx_audience_sync_history_audience_id" json:"audience_id"`
	StartedAt   time.Time   `gorm:"not null;index:idx_audience_sync_history_started_at" json:"started_at"`
	CompletedAt *time.Time  `json:"completed_at,omitempty"`
	Status      SyncStatus  `gorm:"size:20;not null;default:'pending'" json:"status"`
	TriggeredBy SyncTrigger `gorm:"size:50;not null" json:"triggered_by"`

	PropertiesProcessed int `gorm:"not null;default:0" json:"properties_processed"`
	ContactsExtracted   int `gorm:"not null;default:0" json:"contacts_extracted"`
	ContactsUploaded    int `gorm:"not null;default:0" json:"contacts_uploaded"`
	ContactsMatched     int `gorm:"not null;default:0" json:"contacts_matched"`
	FailedCount         int `gorm:"not null;default:0" json:"failed_count"`

	ErrorMessage *string         `gorm:"type:text" json:"error_message,omitempty"`
	ErrorDetails json.RawMessage `gorm:"type:jsonb" json:"error_details,omitempty"`
	SyncMetadata SyncMetadata    `gorm:"type:jsonb;not null;default:'{}'" json:"sync_metadata"`
}

func (AudienceSyncRecord) TableName() string { return "audience_sync_history" }

// BeforeCreate is called before creating a new record
func (r *AudienceSyncRecord) BeforeCreate(tx *gorm.DB) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	if r.Status == "" {
		r.Status = SyncStatusPending
	}
	if r.StartedAt.IsZero() {
		r.StartedAt = utils.UTCNow()
	}
	return nil
}

// Running reports whether the attempt is in progress and younger than staleAfter
func (r *AudienceSyncRecord) Running(now time.Time, staleAfter time.Duration) bool {
	if r.Status != SyncStatusInProgress && r.Status != SyncStatusPending {
		return false
	}
	return now.Sub(r.StartedAt) < staleAfter
}

// AudienceSyncRecordFilter represents filter criteria for sync history
type AudienceSyncRecordFilter struct {
	AudienceID    *uuid.UUID
	Status        *SyncStatus
	TriggeredBy   *SyncTrigger
	StartedAfter  *time.Time
	StartedBefore *time.Time
}

// AudienceSyncProgress is a stage update of a sync record. Nil fields are left untouched.
type AudienceSyncProgress struct {
	Status              *SyncStatus
	StartedAt           *time.Time
	CompletedAt         *time.Time
	PropertiesProcessed *int
	ContactsExtracted   *int
	ContactsUploaded    *int
	ContactsMatched     *int
	FailedCount         *int
	ErrorMessage        *string
	ErrorDetails        json.RawMessage
	SyncMetadata        *SyncMetadata
}

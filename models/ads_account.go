package models

import (
	"time"

	"github.com/amirphl/evoteli/utils"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// AdsAccountStatus is the connection state of an ads platform account
type AdsAccountStatus string

const (
	AdsAccountStatusPending      AdsAccountStatus = "pending"
	AdsAccountStatusConnected    AdsAccountStatus = "connected"
	AdsAccountStatusError        AdsAccountStatus = "error"
	AdsAccountStatusDisconnected AdsAccountStatus = "disconnected"
)

// AdsAccount is an OAuth-linked ads platform account owned by a user.
// Tokens are stored sealed; see services.TokenSealer.
// Table: google_ads_accounts
type AdsAccount struct {
	ID           uuid.UUID        `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"id"`
	OwnerID      uuid.UUID        `gorm:"type:uuid;not null;index:idx_google_ads_accounts_owner_id" json:"owner_id"`
	CustomerID   string           `gorm:"size:10;not null;index:idx_google_ads_accounts_customer_id" json:"customer_id"`
	AccountName  *string          `gorm:"size:255" json:"account_name,omitempty"`
	CurrencyCode *string          `gorm:"size:3" json:"currency_code,omitempty"`
	TimeZone     *string          `gorm:"size:50" json:"time_zone,omitempty"`
	Status       AdsAccountStatus `gorm:"size:20;not null;default:'pending'" json:"status"`
	IsActive     bool             `gorm:"not null;default:true" json:"is_active"`

	AccessToken    string     `gorm:"type:text;not null" json:"-"`
	RefreshToken   string     `gorm:"type:text;not null" json:"-"`
	TokenExpiresAt *time.Time `json:"token_expires_at,omitempty"`

	LastError   *string    `gorm:"type:text" json:"last_error,omitempty"`
	LastErrorAt *time.Time `json:"last_error_at,omitempty"`
	ConnectedAt *time.Time `json:"connected_at,omitempty"`
	LastSyncAt  *time.Time `json:"last_sync_at,omitempty"`

	CreatedAt time.Time  `gorm:"default:(CURRENT_TIMESTAMP AT TIME ZONE 'UTC');not null" json:"created_at"`
	UpdatedAt *time.Time `json:"updated_at,omitempty"`
}

func (AdsAccount) TableName() string { return "google_ads_accounts" }

// BeforeCreate is called before creating a new record
func (a *AdsAccount) BeforeCreate(tx *gorm.DB) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	if a.Status == "" {
		a.Status = AdsAccountStatusPending
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = utils.UTCNow()
	}
	return nil
}

// TokenExpired reports whether the access token is unknown or past its expiry at now
func (a *AdsAccount) TokenExpired(now time.Time) bool {
	return a.TokenExpiresAt == nil || !a.TokenExpiresAt.After(now)
}

// AdsAccountFilter represents filter criteria for ads accounts
type AdsAccountFilter struct {
	ID         *uuid.UUID
	OwnerID    *uuid.UUID
	CustomerID *string
	Status     *AdsAccountStatus
	IsActive   *bool
}

// AdsAccountTokenUpdate carries refreshed credentials. RefreshToken is only
// written when the platform issued a new one.
type AdsAccountTokenUpdate struct {
	AccessToken    string
	RefreshToken   *string
	TokenExpiresAt time.Time
}

// AdsAccountStatusUpdate records a connection state change
type AdsAccountStatusUpdate struct {
	Status    AdsAccountStatus
	IsActive  *bool
	LastError *string
	At        time.Time
}

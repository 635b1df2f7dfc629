package dto

import (
	"time"

	"github.com/google/uuid"
)

// AdsAuthURLRequest optionally pins the customer id the user is about to authorize
type AdsAuthURLRequest struct {
	CustomerID *string `json:"customer_id,omitempty" validate:"omitempty,min=10,max=12"`
}

type AdsAuthURLResponse struct {
	AuthURL string `json:"auth_url"`
	State   string `json:"state"`
}

// AdsAuthCallbackRequest completes the OAuth flow
type AdsAuthCallbackRequest struct {
	Code       string  `json:"code" validate:"required"`
	State      string  `json:"state" validate:"required"`
	CustomerID *string `json:"customer_id,omitempty" validate:"omitempty,min=10,max=12"`
}

type AdsAccountResponse struct {
	ID             uuid.UUID  `json:"id"`
	CustomerID     string     `json:"customer_id"`
	AccountName    *string    `json:"account_name,omitempty"`
	CurrencyCode   *string    `json:"currency_code,omitempty"`
	TimeZone       *string    `json:"time_zone,omitempty"`
	Status         string     `json:"status"`
	IsActive       bool       `json:"is_active"`
	TokenExpiresAt *time.Time `json:"token_expires_at,omitempty"`
	LastError      *string    `json:"last_error,omitempty"`
	ConnectedAt    *time.Time `json:"connected_at,omitempty"`
	LastSyncAt     *time.Time `json:"last_sync_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

type ListAdsAccountsResponse struct {
	Items []AdsAccountResponse `json:"items"`
}

// UpdateCustomerIDRequest points a linked account at another customer
type UpdateCustomerIDRequest struct {
	CustomerID string `json:"customer_id" validate:"required,min=10,max=12"`
}

// AudienceStatistics aggregates the active audiences of one ads account.
// AverageMatchRate covers only audiences the platform has reported a rate for.
type AudienceStatistics struct {
	TotalAudiences   int        `json:"total_audiences"`
	ActiveAudiences  int        `json:"active_audiences"`
	TotalContacts    int        `json:"total_contacts"`
	TotalSynced      int        `json:"total_synced"`
	TotalMatched     int        `json:"total_matched"`
	AverageMatchRate float64    `json:"average_match_rate"`
	LastSync         *time.Time `json:"last_sync,omitempty"`
}

type AdsAccountStatisticsResponse struct {
	Account     AdsAccountResponse `json:"account"`
	Statistics  AudienceStatistics `json:"statistics"`
	RecentSyncs []SyncRecordItem   `json:"recent_syncs"`
}

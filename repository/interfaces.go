// Package repository provides data access layer implementations and interfaces for database operations
package repository

import (
	"context"
	"time"

	"github.com/amirphl/evoteli/models"
	"github.com/google/uuid"
)

// RepositoryContext key for transaction in context
type contextKey string

const TxContextKey contextKey = "tx"

type Repository[T any, F any] interface {
	ByID(ctx context.Context, id uuid.UUID) (*T, error)
	ByFilter(ctx context.Context, filter F, orderBy string, limit, offset int) ([]*T, error)
	Save(ctx context.Context, entity *T) error
	SaveBatch(ctx context.Context, entities []*T) error
	Count(ctx context.Context, filter F) (int64, error)
	Exists(ctx context.Context, filter F) (bool, error)
}

// PropertyQueryOptions tunes a FilterSpec evaluation
type PropertyQueryOptions struct {
	// ModifiedAfter keeps only records with updated_at strictly greater
	ModifiedAfter *time.Time
	// AllMatches ignores the filter's limit and offset; MaxRecords still caps the result
	AllMatches bool
	MaxRecords int
	// WithAnalyses preloads the four analyses of each record
	WithAnalyses bool
	// Now anchors relative predicates such as permit_activity_days
	Now time.Time
}

// PropertyQueryResult is one page of a FilterSpec evaluation
type PropertyQueryResult struct {
	Records   []*models.Property
	Total     int64
	Truncated bool
}

// PropertyRepository is the read side of the property corpus
type PropertyRepository interface {
	Repository[models.Property, models.PropertyFilter]
	Query(ctx context.Context, spec models.FilterSpec, opts PropertyQueryOptions) (*PropertyQueryResult, error)
}

// SavedSearchRepository defines operations for saved searches
type SavedSearchRepository interface {
	Repository[models.SavedSearch, models.SavedSearchFilter]
	ListSchedulable(ctx context.Context, frequencies []models.AlertFrequency) ([]*models.SavedSearch, error)
	Update(ctx context.Context, id uuid.UUID, upd models.SavedSearchUpdate) error
	RecordAlertOutcome(ctx context.Context, id uuid.UUID, outcome models.SavedSearchAlertOutcome) error
	SoftDelete(ctx context.Context, id uuid.UUID) error
}

// SearchAlertRepository defines operations for alert history
type SearchAlertRepository interface {
	Repository[models.SearchAlert, models.SearchAlertFilter]
	ListBySavedSearch(ctx context.Context, savedSearchID uuid.UUID, limit, offset int) ([]*models.SearchAlert, error)
	DeleteSentBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// AdsAccountRepository defines operations for linked ads accounts
type AdsAccountRepository interface {
	Repository[models.AdsAccount, models.AdsAccountFilter]
	ByOwnerAndCustomerID(ctx context.Context, ownerID uuid.UUID, customerID string) (*models.AdsAccount, error)
	Update(ctx context.Context, account *models.AdsAccount) error
	UpdateTokens(ctx context.Context, id uuid.UUID, upd models.AdsAccountTokenUpdate) error
	UpdateStatus(ctx context.Context, id uuid.UUID, upd models.AdsAccountStatusUpdate) error
	TouchLastSync(ctx context.Context, id uuid.UUID, at time.Time) error
}

// AudienceRepository defines operations for customer-match audiences
type AudienceRepository interface {
	Repository[models.Audience, models.AudienceFilter]
	ListAutoSyncDue(ctx context.Context, now time.Time) ([]*models.Audience, error)
	Update(ctx context.Context, id uuid.UUID, upd models.AudienceUpdate) error
	ApplySyncOutcome(ctx context.Context, id uuid.UUID, outcome models.AudienceSyncOutcome) error
	// SetRemoteList stores the remote list identity only if none is set yet
	SetRemoteList(ctx context.Context, id uuid.UUID, resourceName string, listID *string) error
}

// AudienceSyncRecordRepository defines operations for sync history
type AudienceSyncRecordRepository interface {
	Repository[models.AudienceSyncRecord, models.AudienceSyncRecordFilter]
	LatestByAudience(ctx context.Context, audienceID uuid.UUID) (*models.AudienceSyncRecord, error)
	BeginIfIdle(ctx context.Context, rec *models.AudienceSyncRecord, staleAfter time.Duration) error
	ListByAudience(ctx context.Context, audienceID uuid.UUID, limit, offset int) ([]*models.AudienceSyncRecord, error)
	ListRecentByAdsAccount(ctx context.Context, adsAccountID uuid.UUID, limit int) ([]*models.AudienceSyncRecord, error)
	UpdateProgress(ctx context.Context, id uuid.UUID, progress models.AudienceSyncProgress) error
	ListUnfinishedBefore(ctx context.Context, startedBefore time.Time) ([]*models.AudienceSyncRecord, error)
}

// PropertyContactRepository defines operations for owner-provided contacts
type PropertyContactRepository interface {
	Repository[models.PropertyContact, models.PropertyContactFilter]
	ByOwnerAndProperties(ctx context.Context, ownerID uuid.UUID, propertyIDs []uuid.UUID) ([]*models.PropertyContact, error)
	Upsert(ctx context.Context, contacts []*models.PropertyContact) error
}

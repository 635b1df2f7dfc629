package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/amirphl/evoteli/models"
	"github.com/amirphl/evoteli/utils"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// AudienceRepositoryImpl implements AudienceRepository
type AudienceRepositoryImpl struct {
	*BaseRepository[models.Audience, models.AudienceFilter]
}

func NewAudienceRepository(db *gorm.DB) AudienceRepository {
	return &AudienceRepositoryImpl{
		BaseRepository: NewBaseRepository[models.Audience, models.AudienceFilter](db, applyAudienceFilter),
	}
}

func applyAudienceFilter(db *gorm.DB, f models.AudienceFilter) *gorm.DB {
	if f.ID != nil {
		db = db.Where("id = ?", *f.ID)
	}
	if f.OwnerID != nil {
		db = db.Where("owner_id = ?", *f.OwnerID)
	}
	if f.AdsAccountID != nil {
		db = db.Where("ads_account_id = ?", *f.AdsAccountID)
	}
	if f.SyncStatus != nil {
		db = db.Where("sync_status = ?", string(*f.SyncStatus))
	}
	if f.AutoSync != nil {
		db = db.Where("auto_sync = ?", *f.AutoSync)
	}
	if f.IsActive != nil {
		db = db.Where("is_active = ?", *f.IsActive)
	}
	return db
}

// ListAutoSyncDue returns active auto-sync audiences whose next_sync_at has passed.
// Audiences that never completed a sync (next_sync_at NULL) are due as well.
func (r *AudienceRepositoryImpl) ListAutoSyncDue(ctx context.Context, now time.Time) ([]*models.Audience, error) {
	var rows []*models.Audience
	err := r.getDB(ctx).
		Where("is_active = ? AND auto_sync = ?", true, true).
		Where("next_sync_at IS NULL OR next_sync_at <= ?", now.UTC()).
		Order("next_sync_at ASC NULLS FIRST, id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list due audiences: %w", err)
	}
	return rows, nil
}

// Update applies the user-editable fields of upd
func (r *AudienceRepositoryImpl) Update(ctx context.Context, id uuid.UUID, upd models.AudienceUpdate) error {
	columns := map[string]any{}
	if upd.Name != nil {
		columns["name"] = *upd.Name
	}
	if upd.Description != nil {
		columns["description"] = *upd.Description
	}
	if upd.Filters != nil {
		filters := *upd.Filters
		filters.Version = models.FilterSpecVersion
		columns["filters"] = filters
	}
	if upd.AutoSync != nil {
		columns["auto_sync"] = *upd.AutoSync
	}
	if upd.SyncFrequencyHours != nil {
		columns["sync_frequency_hours"] = *upd.SyncFrequencyHours
	}
	if upd.IsActive != nil {
		columns["is_active"] = *upd.IsActive
	}
	if len(columns) == 0 {
		return nil
	}
	columns["updated_at"] = utils.UTCNow()
	return r.updateColumns(ctx, id, columns)
}

// ApplySyncOutcome writes sync status and statistics
func (r *AudienceRepositoryImpl) ApplySyncOutcome(ctx context.Context, id uuid.UUID, o models.AudienceSyncOutcome) error {
	columns := map[string]any{
		"updated_at": utils.UTCNow(),
	}
	if o.SyncStatus != "" {
		columns["sync_status"] = string(o.SyncStatus)
	}
	if o.SyncError != nil {
		columns["sync_error"] = *o.SyncError
	} else if o.ClearSyncError {
		columns["sync_error"] = gorm.Expr("NULL")
	}
	if o.TotalProperties != nil {
		columns["total_properties"] = *o.TotalProperties
	}
	if o.TotalContacts != nil {
		columns["total_contacts"] = *o.TotalContacts
	}
	if o.UploadedCount != nil {
		columns["uploaded_count"] = *o.UploadedCount
	}
	if o.MatchedCount != nil {
		columns["matched_count"] = *o.MatchedCount
	}
	if o.MatchRate != nil {
		columns["match_rate"] = *o.MatchRate
	}
	if o.FailedRecordsCount != nil {
		columns["failed_records_count"] = *o.FailedRecordsCount
	}
	if o.LastSyncAt != nil {
		columns["last_sync_at"] = o.LastSyncAt.UTC()
	}
	if o.NextSyncAt != nil {
		columns["next_sync_at"] = o.NextSyncAt.UTC()
	}
	return r.updateColumns(ctx, id, columns)
}

// SetRemoteList stores the remote list identity only if none is set yet
func (r *AudienceRepositoryImpl) SetRemoteList(ctx context.Context, id uuid.UUID, resourceName string, listID *string) error {
	columns := map[string]any{
		"user_list_resource_name": resourceName,
		"updated_at":              utils.UTCNow(),
	}
	if listID != nil {
		columns["user_list_id"] = *listID
	}
	err := r.getDB(ctx).Model(&models.Audience{}).
		Where("id = ? AND user_list_resource_name IS NULL", id).
		Updates(columns).Error
	if err != nil {
		return fmt.Errorf("failed to set remote list for audience %s: %w", id, err)
	}
	return nil
}

package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/amirphl/evoteli/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrAttemptRunning is returned by BeginIfIdle while the audience's latest
// attempt is pending or in progress and not yet stale
var ErrAttemptRunning = errors.New("sync attempt already running")

// AudienceSyncRecordRepositoryImpl implements AudienceSyncRecordRepository
type AudienceSyncRecordRepositoryImpl struct {
	*BaseRepository[models.AudienceSyncRecord, models.AudienceSyncRecordFilter]
}

func NewAudienceSyncRecordRepository(db *gorm.DB) AudienceSyncRecordRepository {
	return &AudienceSyncRecordRepositoryImpl{
		BaseRepository: NewBaseRepository[models.AudienceSyncRecord, models.AudienceSyncRecordFilter](db, applyAudienceSyncRecordFilter),
	}
}

func applyAudienceSyncRecordFilter(db *gorm.DB, f models.AudienceSyncRecordFilter) *gorm.DB {
	if f.AudienceID != nil {
		db = db.Where("audience_id = ?", *f.AudienceID)
	}
	if f.Status != nil {
		db = db.Where("status = ?", string(*f.Status))
	}
	if f.TriggeredBy != nil {
		db = db.Where("triggered_by = ?", string(*f.TriggeredBy))
	}
	if f.StartedAfter != nil {
		db = db.Where("started_at >= ?", *f.StartedAfter)
	}
	if f.StartedBefore != nil {
		db = db.Where("started_at < ?", *f.StartedBefore)
	}
	return db
}

func (r *AudienceSyncRecordRepositoryImpl) LatestByAudience(ctx context.Context, audienceID uuid.UUID) (*models.AudienceSyncRecord, error) {
	var row models.AudienceSyncRecord
	err := r.getDB(ctx).
		Where("audience_id = ?", audienceID).
		Order("started_at DESC, id DESC").
		Take(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find latest sync record: %w", err)
	}
	return &row, nil
}

// BeginIfIdle inserts rec unless the latest attempt of rec.AudienceID is
// still running at rec.StartedAt. The audience row is locked FOR UPDATE
// across the check and the insert, so concurrent callers serialize on it.
func (r *AudienceSyncRecordRepositoryImpl) BeginIfIdle(ctx context.Context, rec *models.AudienceSyncRecord, staleAfter time.Duration) (err error) {
	db, shouldCommit, err := r.getDBForWrite(ctx)
	if err != nil {
		return err
	}
	if shouldCommit {
		defer func() {
			if err != nil {
				db.Rollback()
			} else {
				err = db.Commit().Error
			}
		}()
	}

	var locked struct{ ID uuid.UUID }
	err = db.Table(models.Audience{}.TableName()).
		Select("id").
		Where("id = ?", rec.AudienceID).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Take(&locked).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to lock audience %s: %w", rec.AudienceID, err)
	}

	var latest models.AudienceSyncRecord
	err = db.Where("audience_id = ?", rec.AudienceID).
		Order("started_at DESC, id DESC").
		Take(&latest).Error
	switch {
	case err == nil:
		if latest.Running(rec.StartedAt, staleAfter) {
			return ErrAttemptRunning
		}
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return fmt.Errorf("failed to find latest sync record: %w", err)
	}

	if err = db.Create(rec).Error; err != nil {
		return fmt.Errorf("failed to save sync record: %w", err)
	}
	return nil
}

func (r *AudienceSyncRecordRepositoryImpl) ListByAudience(ctx context.Context, audienceID uuid.UUID, limit, offset int) ([]*models.AudienceSyncRecord, error) {
	return r.ByFilter(ctx, models.AudienceSyncRecordFilter{AudienceID: &audienceID}, "started_at DESC, id DESC", limit, offset)
}

// ListRecentByAdsAccount returns the newest attempts across every audience
// of one ads account
func (r *AudienceSyncRecordRepositoryImpl) ListRecentByAdsAccount(ctx context.Context, adsAccountID uuid.UUID, limit int) ([]*models.AudienceSyncRecord, error) {
	history := models.AudienceSyncRecord{}.TableName()
	audiences := models.Audience{}.TableName()

	var rows []*models.AudienceSyncRecord
	err := r.getDB(ctx).
		Select(history+".*").
		Joins("JOIN "+audiences+" ON "+audiences+".id = "+history+".audience_id").
		Where(audiences+".ads_account_id = ?", adsAccountID).
		Order(history + ".started_at DESC, " + history + ".id DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list recent sync records: %w", err)
	}
	return rows, nil
}

// UpdateProgress writes one stage of a sync attempt
func (r *AudienceSyncRecordRepositoryImpl) UpdateProgress(ctx context.Context, id uuid.UUID, p models.AudienceSyncProgress) error {
	columns := map[string]any{}
	if p.Status != nil {
		columns["status"] = string(*p.Status)
	}
	if p.StartedAt != nil {
		columns["started_at"] = p.StartedAt.UTC()
	}
	if p.CompletedAt != nil {
		columns["completed_at"] = p.CompletedAt.UTC()
	}
	if p.PropertiesProcessed != nil {
		columns["properties_processed"] = *p.PropertiesProcessed
	}
	if p.ContactsExtracted != nil {
		columns["contacts_extracted"] = *p.ContactsExtracted
	}
	if p.ContactsUploaded != nil {
		columns["contacts_uploaded"] = *p.ContactsUploaded
	}
	if p.ContactsMatched != nil {
		columns["contacts_matched"] = *p.ContactsMatched
	}
	if p.FailedCount != nil {
		columns["failed_count"] = *p.FailedCount
	}
	if p.ErrorMessage != nil {
		columns["error_message"] = *p.ErrorMessage
	}
	if len(p.ErrorDetails) > 0 {
		columns["error_details"] = p.ErrorDetails
	}
	if p.SyncMetadata != nil {
		columns["sync_metadata"] = *p.SyncMetadata
	}
	return r.updateColumns(ctx, id, columns)
}

// ListUnfinishedBefore returns pending or in-progress attempts started before the cutoff
func (r *AudienceSyncRecordRepositoryImpl) ListUnfinishedBefore(ctx context.Context, startedBefore time.Time) ([]*models.AudienceSyncRecord, error) {
	var rows []*models.AudienceSyncRecord
	err := r.getDB(ctx).
		Where("status IN ? AND started_at < ?", []string{string(models.SyncStatusPending), string(models.SyncStatusInProgress)}, startedBefore.UTC()).
		Order("started_at ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list unfinished sync records: %w", err)
	}
	return rows, nil
}

package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/amirphl/evoteli/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// SearchAlertRepositoryImpl implements SearchAlertRepository
type SearchAlertRepositoryImpl struct {
	*BaseRepository[models.SearchAlert, models.SearchAlertFilter]
}

func NewSearchAlertRepository(db *gorm.DB) SearchAlertRepository {
	return &SearchAlertRepositoryImpl{
		BaseRepository: NewBaseRepository[models.SearchAlert, models.SearchAlertFilter](db, applySearchAlertFilter),
	}
}

func applySearchAlertFilter(db *gorm.DB, f models.SearchAlertFilter) *gorm.DB {
	if f.SavedSearchID != nil {
		db = db.Where("saved_search_id = ?", *f.SavedSearchID)
	}
	if f.EmailSent != nil {
		db = db.Where("email_sent = ?", *f.EmailSent)
	}
	if f.SentAfter != nil {
		db = db.Where("sent_at >= ?", *f.SentAfter)
	}
	if f.SentBefore != nil {
		db = db.Where("sent_at < ?", *f.SentBefore)
	}
	return db
}

// ListBySavedSearch returns alert history newest first
func (r *SearchAlertRepositoryImpl) ListBySavedSearch(ctx context.Context, savedSearchID uuid.UUID, limit, offset int) ([]*models.SearchAlert, error) {
	return r.ByFilter(ctx, models.SearchAlertFilter{SavedSearchID: &savedSearchID}, "sent_at DESC, id DESC", limit, offset)
}

// DeleteSentBefore removes alert history older than cutoff and returns the number of rows removed
func (r *SearchAlertRepositoryImpl) DeleteSentBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res := r.getDB(ctx).Where("sent_at < ?", cutoff.UTC()).Delete(&models.SearchAlert{})
	if res.Error != nil {
		return 0, fmt.Errorf("failed to delete old search alerts: %w", res.Error)
	}
	return res.RowsAffected, nil
}

package repository

import (
	"context"
	"fmt"

	"github.com/amirphl/evoteli/models"
	"github.com/amirphl/evoteli/utils"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// SavedSearchRepositoryImpl implements SavedSearchRepository
type SavedSearchRepositoryImpl struct {
	*BaseRepository[models.SavedSearch, models.SavedSearchFilter]
}

func NewSavedSearchRepository(db *gorm.DB) SavedSearchRepository {
	return &SavedSearchRepositoryImpl{
		BaseRepository: NewBaseRepository[models.SavedSearch, models.SavedSearchFilter](db, applySavedSearchFilter),
	}
}

func applySavedSearchFilter(db *gorm.DB, f models.SavedSearchFilter) *gorm.DB {
	if f.ID != nil {
		db = db.Where("id = ?", *f.ID)
	}
	if f.OwnerID != nil {
		db = db.Where("owner_id = ?", *f.OwnerID)
	}
	if f.AlertFrequency != nil {
		db = db.Where("alert_frequency = ?", string(*f.AlertFrequency))
	}
	if f.AlertsEnabled != nil {
		db = db.Where("alerts_enabled = ?", *f.AlertsEnabled)
	}
	if f.IsActive != nil {
		db = db.Where("is_active = ?", *f.IsActive)
	}
	if f.CreatedAfter != nil {
		db = db.Where("created_at >= ?", *f.CreatedAfter)
	}
	if f.CreatedBefore != nil {
		db = db.Where("created_at <= ?", *f.CreatedBefore)
	}
	return db
}

// ListSchedulable returns active, alert-enabled searches of the given frequencies
func (r *SavedSearchRepositoryImpl) ListSchedulable(ctx context.Context, frequencies []models.AlertFrequency) ([]*models.SavedSearch, error) {
	if len(frequencies) == 0 {
		return []*models.SavedSearch{}, nil
	}
	freqs := make([]string, 0, len(frequencies))
	for _, f := range frequencies {
		freqs = append(freqs, string(f))
	}

	var rows []*models.SavedSearch
	err := r.getDB(ctx).
		Where("is_active = ? AND alerts_enabled = ? AND alert_frequency IN ?", true, true, freqs).
		Order("id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list schedulable saved searches: %w", err)
	}
	return rows, nil
}

// Update applies the user-editable fields of upd
func (r *SavedSearchRepositoryImpl) Update(ctx context.Context, id uuid.UUID, upd models.SavedSearchUpdate) error {
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
	if upd.AlertsEnabled != nil {
		columns["alerts_enabled"] = *upd.AlertsEnabled
	}
	if upd.AlertFrequency != nil {
		columns["alert_frequency"] = string(*upd.AlertFrequency)
	}
	if upd.AlertEmail != nil {
		columns["alert_email"] = *upd.AlertEmail
	}
	if upd.AlertTime != nil {
		columns["alert_time"] = *upd.AlertTime
	}
	if upd.AlertDay != nil {
		columns["alert_day"] = *upd.AlertDay
	} else if upd.ClearAlertDay {
		columns["alert_day"] = gorm.Expr("NULL")
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

// RecordAlertOutcome advances the watermark and match counters after an evaluation
func (r *SavedSearchRepositoryImpl) RecordAlertOutcome(ctx context.Context, id uuid.UUID, outcome models.SavedSearchAlertOutcome) error {
	columns := map[string]any{
		"last_checked_at":              outcome.LastCheckedAt.UTC(),
		"new_matches_since_last_alert": outcome.NewMatchesSinceLastAlert,
		"updated_at":                   utils.UTCNow(),
	}
	if outcome.TotalMatchesDelta != 0 {
		columns["total_matches"] = gorm.Expr("total_matches + ?", outcome.TotalMatchesDelta)
	}
	return r.updateColumns(ctx, id, columns)
}

// SoftDelete deactivates the search; history is kept
func (r *SavedSearchRepositoryImpl) SoftDelete(ctx context.Context, id uuid.UUID) error {
	return r.updateColumns(ctx, id, map[string]any{
		"is_active":  false,
		"updated_at": utils.UTCNow(),
	})
}

package repository

import (
	"context"
	"fmt"

	"github.com/amirphl/evoteli/models"
	"github.com/amirphl/evoteli/utils"
	"gorm.io/gorm"
)

// PropertyRepositoryImpl implements PropertyRepository
type PropertyRepositoryImpl struct {
	*BaseRepository[models.Property, models.PropertyFilter]
}

func NewPropertyRepository(db *gorm.DB) PropertyRepository {
	return &PropertyRepositoryImpl{
		BaseRepository: NewBaseRepository[models.Property, models.PropertyFilter](db, applyPropertyFilter),
	}
}

func applyPropertyFilter(db *gorm.DB, f models.PropertyFilter) *gorm.DB {
	if f.ID != nil {
		db = db.Where("id = ?", *f.ID)
	}
	if f.City != nil {
		db = db.Where("city = ?", *f.City)
	}
	if f.State != nil {
		db = db.Where("state = ?", *f.State)
	}
	if f.Zip != nil {
		db = db.Where("zip = ?", *f.Zip)
	}
	if f.UpdatedAfter != nil {
		db = db.Where("updated_at > ?", *f.UpdatedAfter)
	}
	if f.UpdatedBefore != nil {
		db = db.Where("updated_at <= ?", *f.UpdatedBefore)
	}
	return db
}

// Query evaluates a FilterSpec against the corpus and returns one page plus the total count
func (r *PropertyRepositoryImpl) Query(ctx context.Context, spec models.FilterSpec, opts PropertyQueryOptions) (*PropertyQueryResult, error) {
	now := opts.Now
	if now.IsZero() {
		now = utils.UTCNow()
	}

	base := ApplyFilterSpec(r.getDB(ctx).Model(&models.Property{}), spec, now)
	if opts.ModifiedAfter != nil {
		base = base.Where("properties.updated_at > ?", opts.ModifiedAfter.UTC())
	}
	base = base.Session(&gorm.Session{})

	var total int64
	if err := base.Count(&total).Error; err != nil {
		return nil, fmt.Errorf("failed to count properties: %w", err)
	}
	if total == 0 {
		return &PropertyQueryResult{Records: []*models.Property{}}, nil
	}

	limit, offset := spec.PageLimit(), spec.PageOffset()
	if opts.AllMatches {
		limit, offset = opts.MaxRecords, 0
	}

	q := base.Order(OrderClause(spec))
	if limit > 0 {
		q = q.Limit(limit)
	}
	if offset > 0 {
		q = q.Offset(offset)
	}
	if opts.WithAnalyses {
		q = q.Preload("Roof").Preload("Solar").Preload("Driveway").Preload("Permits")
	}

	var rows []*models.Property
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to query properties: %w", err)
	}

	return &PropertyQueryResult{
		Records:   rows,
		Total:     total,
		Truncated: opts.AllMatches && opts.MaxRecords > 0 && total > int64(len(rows)),
	}, nil
}

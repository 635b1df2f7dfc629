package repository

import (
	"context"
	"fmt"

	"github.com/amirphl/evoteli/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// PropertyContactRepositoryImpl implements PropertyContactRepository
type PropertyContactRepositoryImpl struct {
	*BaseRepository[models.PropertyContact, models.PropertyContactFilter]
}

func NewPropertyContactRepository(db *gorm.DB) PropertyContactRepository {
	return &PropertyContactRepositoryImpl{
		BaseRepository: NewBaseRepository[models.PropertyContact, models.PropertyContactFilter](db, applyPropertyContactFilter),
	}
}

func applyPropertyContactFilter(db *gorm.DB, f models.PropertyContactFilter) *gorm.DB {
	if f.OwnerID != nil {
		db = db.Where("owner_id = ?", *f.OwnerID)
	}
	if f.PropertyID != nil {
		db = db.Where("property_id = ?", *f.PropertyID)
	}
	return db
}

// ByOwnerAndProperties loads the owner's contacts for the given properties in chunks
func (r *PropertyContactRepositoryImpl) ByOwnerAndProperties(ctx context.Context, ownerID uuid.UUID, propertyIDs []uuid.UUID) ([]*models.PropertyContact, error) {
	const chunk = 5000
	out := make([]*models.PropertyContact, 0, len(propertyIDs))
	for start := 0; start < len(propertyIDs); start += chunk {
		end := min(start+chunk, len(propertyIDs))
		var rows []*models.PropertyContact
		err := r.getDB(ctx).
			Where("owner_id = ? AND property_id IN ?", ownerID, propertyIDs[start:end]).
			Order("property_id ASC").
			Find(&rows).Error
		if err != nil {
			return nil, fmt.Errorf("failed to load property contacts: %w", err)
		}
		out = append(out, rows...)
	}
	return out, nil
}

// Upsert inserts contacts or replaces the identifiers of existing (owner, property) pairs
func (r *PropertyContactRepositoryImpl) Upsert(ctx context.Context, contacts []*models.PropertyContact) (err error) {
	if len(contacts) == 0 {
		return nil
	}

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

	err = db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "owner_id"}, {Name: "property_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"email", "phone", "first_name", "last_name", "postal_code", "country_code", "source", "updated_at"}),
	}).CreateInBatches(contacts, 500).Error
	if err != nil {
		return fmt.Errorf("failed to upsert property contacts: %w", err)
	}
	return nil
}

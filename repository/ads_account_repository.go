package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/amirphl/evoteli/models"
	"github.com/amirphl/evoteli/utils"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// AdsAccountRepositoryImpl implements AdsAccountRepository
type AdsAccountRepositoryImpl struct {
	*BaseRepository[models.AdsAccount, models.AdsAccountFilter]
}

func NewAdsAccountRepository(db *gorm.DB) AdsAccountRepository {
	return &AdsAccountRepositoryImpl{
		BaseRepository: NewBaseRepository[models.AdsAccount, models.AdsAccountFilter](db, applyAdsAccountFilter),
	}
}

func applyAdsAccountFilter(db *gorm.DB, f models.AdsAccountFilter) *gorm.DB {
	if f.ID != nil {
		db = db.Where("id = ?", *f.ID)
	}
	if f.OwnerID != nil {
		db = db.Where("owner_id = ?", *f.OwnerID)
	}
	if f.CustomerID != nil {
		db = db.Where("customer_id = ?", *f.CustomerID)
	}
	if f.Status != nil {
		db = db.Where("status = ?", string(*f.Status))
	}
	if f.IsActive != nil {
		db = db.Where("is_active = ?", *f.IsActive)
	}
	return db
}

func (r *AdsAccountRepositoryImpl) ByOwnerAndCustomerID(ctx context.Context, ownerID uuid.UUID, customerID string) (*models.AdsAccount, error) {
	var row models.AdsAccount
	err := r.getDB(ctx).Where("owner_id = ? AND customer_id = ?", ownerID, customerID).Take(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find ads account: %w", err)
	}
	return &row, nil
}

// Update rewrites the connection fields of an existing account (re-authorization)
func (r *AdsAccountRepositoryImpl) Update(ctx context.Context, account *models.AdsAccount) error {
	return r.updateColumns(ctx, account.ID, map[string]any{
		"account_name":     account.AccountName,
		"currency_code":    account.CurrencyCode,
		"time_zone":        account.TimeZone,
		"status":           string(account.Status),
		"is_active":        account.IsActive,
		"access_token":     account.AccessToken,
		"refresh_token":    account.RefreshToken,
		"token_expires_at": account.TokenExpiresAt,
		"last_error":       account.LastError,
		"last_error_at":    account.LastErrorAt,
		"connected_at":     account.ConnectedAt,
		"updated_at":       utils.UTCNow(),
	})
}

// UpdateTokens persists refreshed credentials
func (r *AdsAccountRepositoryImpl) UpdateTokens(ctx context.Context, id uuid.UUID, upd models.AdsAccountTokenUpdate) error {
	columns := map[string]any{
		"access_token":     upd.AccessToken,
		"token_expires_at": upd.TokenExpiresAt.UTC(),
		"updated_at":       utils.UTCNow(),
	}
	if upd.RefreshToken != nil && *upd.RefreshToken != "" {
		columns["refresh_token"] = *upd.RefreshToken
	}
	return r.updateColumns(ctx, id, columns)
}

// UpdateStatus records a connection state change; a non-nil LastError also stamps last_error_at
func (r *AdsAccountRepositoryImpl) UpdateStatus(ctx context.Context, id uuid.UUID, upd models.AdsAccountStatusUpdate) error {
	columns := map[string]any{
		"status":     string(upd.Status),
		"updated_at": utils.UTCNow(),
	}
	if upd.IsActive != nil {
		columns["is_active"] = *upd.IsActive
	}
	if upd.LastError != nil {
		columns["last_error"] = *upd.LastError
		columns["last_error_at"] = upd.At.UTC()
	}
	if upd.Status == models.AdsAccountStatusConnected {
		columns["connected_at"] = upd.At.UTC()
	}
	return r.updateColumns(ctx, id, columns)
}

func (r *AdsAccountRepositoryImpl) TouchLastSync(ctx context.Context, id uuid.UUID, at time.Time) error {
	return r.updateColumns(ctx, id, map[string]any{
		"last_sync_at": at.UTC(),
		"updated_at":   utils.UTCNow(),
	})
}

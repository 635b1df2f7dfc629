package businessflow

import (
	"context"
	"errors"
	"log"
	"regexp"
	"time"

	"github.com/amirphl/evoteli/app/dto"
	"github.com/amirphl/evoteli/app/services"
	"github.com/amirphl/evoteli/models"
	"github.com/amirphl/evoteli/repository"
	"github.com/amirphl/evoteli/utils"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

var customerIDPattern = regexp.MustCompile(`^\d{10}$`)

const recentSyncsLimit = 10

// AdsAccountFlow links ads platform accounts through OAuth
type AdsAccountFlow interface {
	AuthURL(ctx context.Context, req *dto.AdsAuthURLRequest) (*dto.AdsAuthURLResponse, error)
	Callback(ctx context.Context, req *dto.AdsAuthCallbackRequest) (*dto.AdsAccountResponse, error)
	List(ctx context.Context) (*dto.ListAdsAccountsResponse, error)
	Disconnect(ctx context.Context, id uuid.UUID) error
	UpdateCustomerID(ctx context.Context, id uuid.UUID, req *dto.UpdateCustomerIDRequest) (*dto.AdsAccountResponse, error)
	Statistics(ctx context.Context, accountID *uuid.UUID) (*dto.AdsAccountStatisticsResponse, error)
}

// AdsAccountFlowImpl implements AdsAccountFlow
type AdsAccountFlowImpl struct {
	accountRepo  repository.AdsAccountRepository
	audienceRepo repository.AudienceRepository
	recordRepo   repository.AudienceSyncRecordRepository
	platform     services.AdsPlatformClient
	states       services.OAuthStateStore
	sealer       services.TokenSealer
	validator    *validator.Validate
	now          func() time.Time
}

func NewAdsAccountFlow(
	accountRepo repository.AdsAccountRepository,
	audienceRepo repository.AudienceRepository,
	recordRepo repository.AudienceSyncRecordRepository,
	platform services.AdsPlatformClient,
	states services.OAuthStateStore,
	sealer services.TokenSealer,
) AdsAccountFlow {
	return &AdsAccountFlowImpl{
		accountRepo:  accountRepo,
		audienceRepo: audienceRepo,
		recordRepo:   recordRepo,
		platform:     platform,
		states:       states,
		sealer:       sealer,
		validator:    validator.New(),
		now:          utils.UTCNow,
	}
}

// AuthURL issues a single-use state bound to the caller and returns the consent URL
func (f *AdsAccountFlowImpl) AuthURL(ctx context.Context, req *dto.AdsAuthURLRequest) (*dto.AdsAuthURLResponse, error) {
	p, err := requirePrincipal(ctx, PermissionAdsAccountsLink)
	if err != nil {
		return nil, err
	}
	if err := validateRequest(f.validator, req); err != nil {
		return nil, err
	}

	state := services.OAuthState{OwnerID: p.UserID, IssuedAt: f.now()}
	if req.CustomerID != nil {
		cid, err := normalizeCustomerID(*req.CustomerID)
		if err != nil {
			return nil, err
		}
		state.CustomerID = cid
	}
	token, err := f.states.Issue(ctx, state)
	if err != nil {
		return nil, NewBusinessError("OAUTH_STATE_FAILED", "failed to start authorization", err)
	}
	return &dto.AdsAuthURLResponse{AuthURL: f.platform.AuthorizationURL(token), State: token}, nil
}

// Callback consumes the state, exchanges the code and stores the sealed
// tokens. The account ends connected when its info can be fetched and in
// error otherwise; both outcomes are persisted and returned.
func (f *AdsAccountFlowImpl) Callback(ctx context.Context, req *dto.AdsAuthCallbackRequest) (*dto.AdsAccountResponse, error) {
	p, err := requirePrincipal(ctx, PermissionAdsAccountsLink)
	if err != nil {
		return nil, err
	}
	if err := validateRequest(f.validator, req); err != nil {
		return nil, err
	}

	state, err := f.states.Consume(ctx, req.State)
	if err != nil {
		if errors.Is(err, services.ErrOAuthStateNotFound) {
			return nil, ErrInvalidOAuthState
		}
		return nil, err
	}
	if !p.Owns(state.OwnerID) {
		return nil, ErrInvalidOAuthState
	}

	customerID := state.CustomerID
	if req.CustomerID != nil {
		if customerID, err = normalizeCustomerID(*req.CustomerID); err != nil {
			return nil, err
		}
	}
	if customerID == "" {
		return nil, NewBusinessError("INVALID_CUSTOMER_ID", ErrCustomerIDRequired.Error(), ErrCustomerIDRequired)
	}

	grant, err := f.platform.ExchangeCode(ctx, req.Code)
	if err != nil {
		return nil, NewBusinessError("OAUTH_EXCHANGE_FAILED", "failed to exchange authorization code", err)
	}
	sealedAccess, err := f.sealer.Seal(grant.AccessToken)
	if err != nil {
		return nil, err
	}
	sealedRefresh, err := f.sealer.Seal(grant.RefreshToken)
	if err != nil {
		return nil, err
	}

	existing, err := f.accountRepo.ByOwnerAndCustomerID(ctx, p.UserID, customerID)
	if err != nil {
		return nil, err
	}
	account := existing
	if account == nil {
		account = &models.AdsAccount{OwnerID: p.UserID, CustomerID: customerID}
	}
	account.AccessToken = sealedAccess
	account.RefreshToken = sealedRefresh
	account.TokenExpiresAt = utils.ToPtr(grant.ExpiresAt)
	account.IsActive = true

	f.refreshAccountInfo(ctx, account, services.AdsCredentials{
		AccessToken:  grant.AccessToken,
		RefreshToken: grant.RefreshToken,
	})

	if existing == nil {
		err = f.accountRepo.Save(ctx, account)
	} else {
		err = f.accountRepo.Update(ctx, account)
	}
	if err != nil {
		return nil, NewBusinessError("SAVE_ADS_ACCOUNT_FAILED", "failed to save ads account", err)
	}
	return toAdsAccountResponse(account), nil
}

func (f *AdsAccountFlowImpl) List(ctx context.Context) (*dto.ListAdsAccountsResponse, error) {
	p, err := requirePrincipal(ctx, PermissionAdsAccountsRead)
	if err != nil {
		return nil, err
	}
	rows, err := f.accountRepo.ByFilter(ctx, models.AdsAccountFilter{OwnerID: &p.UserID}, "created_at DESC", 0, 0)
	if err != nil {
		return nil, err
	}
	items := make([]dto.AdsAccountResponse, 0, len(rows))
	for _, a := range rows {
		items = append(items, *toAdsAccountResponse(a))
	}
	return &dto.ListAdsAccountsResponse{Items: items}, nil
}

// Disconnect deactivates the account; audiences and sync history are kept
func (f *AdsAccountFlowImpl) Disconnect(ctx context.Context, id uuid.UUID) error {
	p, err := requirePrincipal(ctx, PermissionAdsAccountsLink)
	if err != nil {
		return err
	}
	account, err := f.accountRepo.ByID(ctx, id)
	if err != nil {
		return err
	}
	if account == nil {
		return ErrAdsAccountNotFound
	}
	if !p.Owns(account.OwnerID) {
		return ErrAdsAccountAccessDenied
	}
	return f.accountRepo.UpdateStatus(ctx, id, models.AdsAccountStatusUpdate{
		Status:   models.AdsAccountStatusDisconnected,
		IsActive: utils.ToPtr(false),
		At:       f.now(),
	})
}

// UpdateCustomerID re-points the account at another customer and refetches
// its details with the stored tokens. A failed fetch is persisted as the
// error status, a successful one reconnects the account.
func (f *AdsAccountFlowImpl) UpdateCustomerID(ctx context.Context, id uuid.UUID, req *dto.UpdateCustomerIDRequest) (*dto.AdsAccountResponse, error) {
	p, err := requirePrincipal(ctx, PermissionAdsAccountsLink)
	if err != nil {
		return nil, err
	}
	if err := validateRequest(f.validator, req); err != nil {
		return nil, err
	}
	customerID, err := normalizeCustomerID(req.CustomerID)
	if err != nil {
		return nil, err
	}

	account, err := f.accountRepo.ByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if account == nil {
		return nil, ErrAdsAccountNotFound
	}
	if !p.Owns(account.OwnerID) {
		return nil, ErrAdsAccountAccessDenied
	}
	if !account.IsActive {
		return nil, ErrAdsAccountNotConnected
	}

	other, err := f.accountRepo.ByOwnerAndCustomerID(ctx, account.OwnerID, customerID)
	if err != nil {
		return nil, err
	}
	if other != nil && other.ID != account.ID {
		return nil, ErrCustomerIDInUse
	}

	access, err := f.sealer.Open(account.AccessToken)
	if err != nil {
		return nil, NewBusinessError("TOKEN_UNREADABLE", "stored credentials could not be read", err)
	}
	refresh, err := f.sealer.Open(account.RefreshToken)
	if err != nil {
		return nil, NewBusinessError("TOKEN_UNREADABLE", "stored credentials could not be read", err)
	}

	account.CustomerID = customerID
	f.refreshAccountInfo(ctx, account, services.AdsCredentials{AccessToken: access, RefreshToken: refresh})
	if err := f.accountRepo.Update(ctx, account); err != nil {
		return nil, NewBusinessError("SAVE_ADS_ACCOUNT_FAILED", "failed to save ads account", err)
	}
	return toAdsAccountResponse(account), nil
}

// Statistics summarizes the audiences of one account. Without an explicit
// account the caller's newest active account is used.
func (f *AdsAccountFlowImpl) Statistics(ctx context.Context, accountID *uuid.UUID) (*dto.AdsAccountStatisticsResponse, error) {
	p, err := requirePrincipal(ctx, PermissionAdsAccountsRead)
	if err != nil {
		return nil, err
	}

	var account *models.AdsAccount
	if accountID != nil {
		if account, err = f.accountRepo.ByID(ctx, *accountID); err != nil {
			return nil, err
		}
		if account != nil && !p.Owns(account.OwnerID) {
			return nil, ErrAdsAccountAccessDenied
		}
	} else {
		rows, err := f.accountRepo.ByFilter(ctx, models.AdsAccountFilter{
			OwnerID:  &p.UserID,
			IsActive: utils.ToPtr(true),
		}, "created_at DESC", 1, 0)
		if err != nil {
			return nil, err
		}
		if len(rows) > 0 {
			account = rows[0]
		}
	}
	if account == nil {
		return nil, ErrAdsAccountNotFound
	}

	audiences, err := f.audienceRepo.ByFilter(ctx, models.AudienceFilter{
		AdsAccountID: &account.ID,
		IsActive:     utils.ToPtr(true),
	}, "created_at DESC", 0, 0)
	if err != nil {
		return nil, err
	}
	recent, err := f.recordRepo.ListRecentByAdsAccount(ctx, account.ID, recentSyncsLimit)
	if err != nil {
		return nil, err
	}

	return &dto.AdsAccountStatisticsResponse{
		Account:     *toAdsAccountResponse(account),
		Statistics:  audienceStatistics(audiences, account.LastSyncAt),
		RecentSyncs: toSyncRecordItems(recent),
	}, nil
}

func audienceStatistics(audiences []*models.Audience, lastSync *time.Time) dto.AudienceStatistics {
	st := dto.AudienceStatistics{TotalAudiences: len(audiences), LastSync: lastSync}
	var rateSum float64
	var rated int
	for _, a := range audiences {
		if a.SyncStatus == models.SyncStatusCompleted {
			st.ActiveAudiences++
		}
		st.TotalContacts += a.TotalContacts
		st.TotalSynced += a.UploadedCount
		st.TotalMatched += a.MatchedCount
		if a.MatchRate != nil {
			rateSum += *a.MatchRate
			rated++
		}
	}
	if rated > 0 {
		st.AverageMatchRate = rateSum / float64(rated)
	}
	return st
}

// refreshAccountInfo fetches the account details and records the outcome
// on account: connected with fresh details, or error with the cause
func (f *AdsAccountFlowImpl) refreshAccountInfo(ctx context.Context, account *models.AdsAccount, creds services.AdsCredentials) {
	now := f.now()
	info, err := f.platform.FetchAccountInfo(ctx, account.CustomerID, creds)
	if err != nil {
		log.Printf("ads account: fetch info for customer %s failed: %v", account.CustomerID, err)
		account.Status = models.AdsAccountStatusError
		account.LastError = utils.ToPtr(err.Error())
		account.LastErrorAt = &now
		return
	}
	account.Status = models.AdsAccountStatusConnected
	account.AccountName = utils.ToPtr(info.Name)
	account.CurrencyCode = utils.ToPtr(info.CurrencyCode)
	account.TimeZone = utils.ToPtr(info.TimeZone)
	account.LastError = nil
	account.LastErrorAt = nil
	account.ConnectedAt = &now
}

func normalizeCustomerID(raw string) (string, error) {
	cid := services.NormalizeCustomerID(raw)
	if !customerIDPattern.MatchString(cid) {
		return "", NewBusinessError("INVALID_CUSTOMER_ID", "customer id must be 10 digits", nil)
	}
	return cid, nil
}

func toAdsAccountResponse(a *models.AdsAccount) *dto.AdsAccountResponse {
	return &dto.AdsAccountResponse{
		ID:             a.ID,
		CustomerID:     a.CustomerID,
		AccountName:    a.AccountName,
		CurrencyCode:   a.CurrencyCode,
		TimeZone:       a.TimeZone,
		Status:         string(a.Status),
		IsActive:       a.IsActive,
		TokenExpiresAt: a.TokenExpiresAt,
		LastError:      a.LastError,
		ConnectedAt:    a.ConnectedAt,
		LastSyncAt:     a.LastSyncAt,
		CreatedAt:      a.CreatedAt,
	}
}

package businessflow

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/amirphl/evoteli/app/dto"
	"github.com/amirphl/evoteli/app/jobs"
	"github.com/amirphl/evoteli/app/scheduler"
	"github.com/amirphl/evoteli/app/services"
	"github.com/amirphl/evoteli/models"
	"github.com/amirphl/evoteli/repository"
	"github.com/amirphl/evoteli/utils"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

const (
	syncHistoryLimit = 20
	syncExportLimit  = 5000
)

// SyncStarter opens and abandons sync attempts; implemented by the orchestrator
type SyncStarter interface {
	BeginAttempt(ctx context.Context, audienceID uuid.UUID, trigger models.SyncTrigger) (*models.AudienceSyncRecord, error)
	AbandonAttempt(ctx context.Context, rec *models.AudienceSyncRecord, cause error)
}

// AudienceFlow handles customer-match audiences
type AudienceFlow interface {
	Create(ctx context.Context, req *dto.CreateAudienceRequest) (*dto.CreateAudienceResponse, error)
	Update(ctx context.Context, id uuid.UUID, req *dto.UpdateAudienceRequest) (*dto.AudienceResponse, error)
	Get(ctx context.Context, id uuid.UUID) (*dto.AudienceDetailResponse, error)
	List(ctx context.Context, req *dto.ListAudiencesRequest) (*dto.ListAudiencesResponse, error)
	TriggerSync(ctx context.Context, id uuid.UUID) (*dto.TriggerSyncResponse, error)
	ExportSyncHistory(ctx context.Context, id uuid.UUID) (*dto.ExportFile, error)
}

// AudienceFlowImpl implements AudienceFlow
type AudienceFlowImpl struct {
	audienceRepo repository.AudienceRepository
	accountRepo  repository.AdsAccountRepository
	recordRepo   repository.AudienceSyncRecordRepository
	syncs        SyncStarter
	dispatcher   jobs.Dispatcher
	reports      services.ReportService
	validator    *validator.Validate
}

func NewAudienceFlow(
	audienceRepo repository.AudienceRepository,
	accountRepo repository.AdsAccountRepository,
	recordRepo repository.AudienceSyncRecordRepository,
	syncs SyncStarter,
	dispatcher jobs.Dispatcher,
	reports services.ReportService,
) AudienceFlow {
	return &AudienceFlowImpl{
		audienceRepo: audienceRepo,
		accountRepo:  accountRepo,
		recordRepo:   recordRepo,
		syncs:        syncs,
		dispatcher:   dispatcher,
		reports:      reports,
		validator:    validator.New(),
	}
}

// Create stores the audience and starts its first sync. The audience is
// kept when the first sync cannot be queued; its status shows the failure.
func (f *AudienceFlowImpl) Create(ctx context.Context, req *dto.CreateAudienceRequest) (*dto.CreateAudienceResponse, error) {
	p, err := requirePrincipal(ctx, PermissionAudiencesWrite)
	if err != nil {
		return nil, err
	}
	if err := validateRequest(f.validator, req); err != nil {
		return nil, err
	}
	if err := validateFilters(req.Filters); err != nil {
		return nil, err
	}

	account, err := f.accountRepo.ByID(ctx, req.AdsAccountID)
	if err != nil {
		return nil, err
	}
	if account == nil {
		return nil, ErrAdsAccountNotFound
	}
	if !p.Owns(account.OwnerID) {
		return nil, ErrAdsAccountAccessDenied
	}
	if !account.IsActive || account.Status != models.AdsAccountStatusConnected {
		return nil, ErrAdsAccountNotConnected
	}

	frequency := utils.DefaultSyncFrequencyHours
	if req.SyncFrequencyHours != nil {
		frequency = *req.SyncFrequencyHours
	}
	audience := &models.Audience{
		OwnerID:            p.UserID,
		AdsAccountID:       account.ID,
		Name:               strings.TrimSpace(req.Name),
		Description:        req.Description,
		Filters:            req.Filters,
		SyncStatus:         models.SyncStatusPending,
		AutoSync:           req.AutoSync == nil || *req.AutoSync,
		SyncFrequencyHours: frequency,
		IsActive:           true,
	}
	if err := f.audienceRepo.Save(ctx, audience); err != nil {
		return nil, NewBusinessError("CREATE_AUDIENCE_FAILED", "failed to create audience", err)
	}

	resp := &dto.CreateAudienceResponse{Audience: *toAudienceResponse(audience)}
	rec, err := f.startSync(ctx, audience.ID)
	if err != nil {
		log.Printf("audience: first sync of audience %s not started: %v", audience.ID, err)
		return resp, nil
	}
	resp.SyncRecordID = &rec.ID
	return resp, nil
}

func (f *AudienceFlowImpl) Update(ctx context.Context, id uuid.UUID, req *dto.UpdateAudienceRequest) (*dto.AudienceResponse, error) {
	if _, err := requirePrincipal(ctx, PermissionAudiencesWrite); err != nil {
		return nil, err
	}
	if err := validateRequest(f.validator, req); err != nil {
		return nil, err
	}
	if _, err := f.ownedAudience(ctx, id); err != nil {
		return nil, err
	}

	upd := models.AudienceUpdate{
		Description:        req.Description,
		Filters:            req.Filters,
		AutoSync:           req.AutoSync,
		SyncFrequencyHours: req.SyncFrequencyHours,
		IsActive:           req.IsActive,
	}
	if req.Name != nil {
		upd.Name = utils.ToPtr(strings.TrimSpace(*req.Name))
	}
	if upd == (models.AudienceUpdate{}) {
		return nil, NewBusinessError("UPDATE_REQUIRED", ErrUpdateRequired.Error(), ErrUpdateRequired)
	}
	if req.Filters != nil {
		if err := validateFilters(*req.Filters); err != nil {
			return nil, err
		}
	}

	if err := f.audienceRepo.Update(ctx, id, upd); err != nil {
		return nil, NewBusinessError("UPDATE_AUDIENCE_FAILED", "failed to update audience", err)
	}
	updated, err := f.audienceRepo.ByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if updated == nil {
		return nil, ErrAudienceNotFound
	}
	return toAudienceResponse(updated), nil
}

func (f *AudienceFlowImpl) Get(ctx context.Context, id uuid.UUID) (*dto.AudienceDetailResponse, error) {
	if _, err := requirePrincipal(ctx, PermissionAudiencesRead); err != nil {
		return nil, err
	}
	audience, err := f.ownedAudience(ctx, id)
	if err != nil {
		return nil, err
	}
	records, err := f.recordRepo.ListByAudience(ctx, id, syncHistoryLimit, 0)
	if err != nil {
		return nil, err
	}

	return &dto.AudienceDetailResponse{Audience: *toAudienceResponse(audience), SyncHistory: toSyncRecordItems(records)}, nil
}

func (f *AudienceFlowImpl) List(ctx context.Context, req *dto.ListAudiencesRequest) (*dto.ListAudiencesResponse, error) {
	p, err := requirePrincipal(ctx, PermissionAudiencesRead)
	if err != nil {
		return nil, err
	}
	page, pageSize, offset := req.Bounds(defaultPageSize, utils.MaxPageLimit)

	filter := models.AudienceFilter{OwnerID: &p.UserID, AdsAccountID: req.AdsAccountID}
	if !req.IncludeInactive {
		filter.IsActive = utils.ToPtr(true)
	}
	total, err := f.audienceRepo.Count(ctx, filter)
	if err != nil {
		return nil, err
	}
	rows, err := f.audienceRepo.ByFilter(ctx, filter, "created_at DESC", pageSize, offset)
	if err != nil {
		return nil, err
	}

	items := make([]dto.AudienceResponse, 0, len(rows))
	for _, a := range rows {
		items = append(items, *toAudienceResponse(a))
	}
	return &dto.ListAudiencesResponse{Items: items, PageInfo: dto.NewPageInfo(total, page, pageSize)}, nil
}

// TriggerSync starts a manual sync immediately, bypassing the schedule.
// It is rejected while a non-stale attempt is still running.
func (f *AudienceFlowImpl) TriggerSync(ctx context.Context, id uuid.UUID) (*dto.TriggerSyncResponse, error) {
	if _, err := requirePrincipal(ctx, PermissionAudiencesWrite); err != nil {
		return nil, err
	}
	audience, err := f.ownedAudience(ctx, id)
	if err != nil {
		return nil, err
	}
	if !audience.IsActive {
		return nil, ErrAudienceInactive
	}

	rec, err := f.startSync(ctx, audience.ID)
	if err != nil {
		return nil, err
	}
	return &dto.TriggerSyncResponse{
		Message:      "Sync started",
		SyncRecordID: rec.ID,
		Status:       string(rec.Status),
	}, nil
}

func (f *AudienceFlowImpl) ExportSyncHistory(ctx context.Context, id uuid.UUID) (*dto.ExportFile, error) {
	if _, err := requirePrincipal(ctx, PermissionAudiencesRead); err != nil {
		return nil, err
	}
	audience, err := f.ownedAudience(ctx, id)
	if err != nil {
		return nil, err
	}
	records, err := f.recordRepo.ListByAudience(ctx, id, syncExportLimit, 0)
	if err != nil {
		return nil, err
	}
	content, err := f.reports.SyncHistoryWorkbook(audience, records)
	if err != nil {
		return nil, NewBusinessError("EXPORT_FAILED", "failed to build sync history workbook", err)
	}
	return &dto.ExportFile{
		Filename:    fmt.Sprintf("audience-%s-sync-history.xlsx", audience.ID),
		ContentType: xlsxContentType,
		Content:     content,
	}, nil
}

// startSync creates the PENDING record and queues the job that drives it
func (f *AudienceFlowImpl) startSync(ctx context.Context, audienceID uuid.UUID) (*models.AudienceSyncRecord, error) {
	rec, err := f.syncs.BeginAttempt(ctx, audienceID, models.SyncTriggerManual)
	if err != nil {
		if errors.Is(err, scheduler.ErrSyncInProgress) {
			return nil, ErrSyncAlreadyRunning
		}
		return nil, NewBusinessError("START_SYNC_FAILED", "failed to start sync", err)
	}

	job := jobs.NewJob(jobs.KindAudienceSync, audienceID)
	job.SyncRecordID = &rec.ID
	job.Trigger = models.SyncTriggerManual
	if err := f.dispatcher.Enqueue(ctx, job); err != nil {
		f.syncs.AbandonAttempt(ctx, rec, err)
		return nil, NewBusinessError("ENQUEUE_FAILED", "failed to enqueue sync", err)
	}
	return rec, nil
}

func (f *AudienceFlowImpl) ownedAudience(ctx context.Context, id uuid.UUID) (*models.Audience, error) {
	p, ok := PrincipalFrom(ctx)
	if !ok {
		return nil, ErrUnauthenticated
	}
	audience, err := f.audienceRepo.ByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if audience == nil {
		return nil, ErrAudienceNotFound
	}
	if !p.Owns(audience.OwnerID) {
		return nil, ErrAudienceAccessDenied
	}
	return audience, nil
}

func toAudienceResponse(a *models.Audience) *dto.AudienceResponse {
	return &dto.AudienceResponse{
		ID:                   a.ID,
		AdsAccountID:         a.AdsAccountID,
		Name:                 a.Name,
		Description:          a.Description,
		Filters:              a.Filters,
		UserListResourceName: a.UserListResourceName,
		TotalProperties:      a.TotalProperties,
		TotalContacts:        a.TotalContacts,
		UploadedCount:        a.UploadedCount,
		MatchedCount:         a.MatchedCount,
		MatchRate:            a.MatchRate,
		SyncStatus:           string(a.SyncStatus),
		LastSyncAt:           a.LastSyncAt,
		NextSyncAt:           a.NextSyncAt,
		SyncError:            a.SyncError,
		AutoSync:             a.AutoSync,
		SyncFrequencyHours:   a.SyncFrequencyHours,
		IsActive:             a.IsActive,
		CreatedAt:            a.CreatedAt,
		UpdatedAt:            a.UpdatedAt,
	}
}

func toSyncRecordItems(records []*models.AudienceSyncRecord) []dto.SyncRecordItem {
	items := make([]dto.SyncRecordItem, 0, len(records))
	for _, r := range records {
		items = append(items, dto.SyncRecordItem{
			ID:                  r.ID,
			AudienceID:          r.AudienceID,
			StartedAt:           r.StartedAt,
			CompletedAt:         r.CompletedAt,
			Status:              string(r.Status),
			TriggeredBy:         string(r.TriggeredBy),
			PropertiesProcessed: r.PropertiesProcessed,
			ContactsExtracted:   r.ContactsExtracted,
			ContactsUploaded:    r.ContactsUploaded,
			ContactsMatched:     r.ContactsMatched,
			ErrorMessage:        r.ErrorMessage,
			ErrorDetails:        r.ErrorDetails,
			SyncMetadata:        r.SyncMetadata,
		})
	}
	return items
}

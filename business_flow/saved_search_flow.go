package businessflow

import (
	"context"
	"fmt"
	"strings"

	"github.com/amirphl/evoteli/app/dto"
	"github.com/amirphl/evoteli/app/jobs"
	"github.com/amirphl/evoteli/app/services"
	"github.com/amirphl/evoteli/models"
	"github.com/amirphl/evoteli/repository"
	"github.com/amirphl/evoteli/utils"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

const (
	alertHistoryLimit  = 50
	alertExportLimit   = 5000
	xlsxContentType    = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	savedSearchOrderBy = "created_at DESC"
)

// SavedSearchFlow handles saved searches and their alerting schedule
type SavedSearchFlow interface {
	Create(ctx context.Context, req *dto.CreateSavedSearchRequest) (*dto.SavedSearchResponse, error)
	Update(ctx context.Context, id uuid.UUID, req *dto.UpdateSavedSearchRequest) (*dto.SavedSearchResponse, error)
	Delete(ctx context.Context, id uuid.UUID) error
	Get(ctx context.Context, id uuid.UUID) (*dto.SavedSearchDetailResponse, error)
	List(ctx context.Context, req *dto.ListSavedSearchesRequest) (*dto.ListSavedSearchesResponse, error)
	TriggerTestAlert(ctx context.Context, id uuid.UUID, req *dto.TestAlertRequest) (*dto.TestAlertResponse, error)
	ExportAlertHistory(ctx context.Context, id uuid.UUID) (*dto.ExportFile, error)
}

// SavedSearchFlowImpl implements SavedSearchFlow
type SavedSearchFlowImpl struct {
	searchRepo repository.SavedSearchRepository
	alertRepo  repository.SearchAlertRepository
	dispatcher jobs.Dispatcher
	reports    services.ReportService
	validator  *validator.Validate
}

func NewSavedSearchFlow(
	searchRepo repository.SavedSearchRepository,
	alertRepo repository.SearchAlertRepository,
	dispatcher jobs.Dispatcher,
	reports services.ReportService,
) SavedSearchFlow {
	return &SavedSearchFlowImpl{
		searchRepo: searchRepo,
		alertRepo:  alertRepo,
		dispatcher: dispatcher,
		reports:    reports,
		validator:  validator.New(),
	}
}

// ValidateAlertSchedule checks the cross-field rules of an alert schedule.
// alert_day is a weekday 0..6 (Sunday first) for weekly alerts, a day of
// month 1..31 for monthly alerts, and must be absent for the other cadences.
func ValidateAlertSchedule(freq models.AlertFrequency, alertTime int, alertDay *int) error {
	if !freq.Valid() {
		return NewBusinessErrorf("INVALID_SCHEDULE", "unknown alert frequency %q", nil, freq)
	}
	if alertTime < 0 || alertTime > 23 {
		return NewBusinessError("INVALID_SCHEDULE", "alert_time must be between 0 and 23", nil)
	}

	switch freq {
	case models.AlertFrequencyWeekly:
		if alertDay == nil {
			return NewBusinessError("INVALID_SCHEDULE", ErrAlertDayRequired.Error(), ErrAlertDayRequired)
		}
		if *alertDay < 0 || *alertDay > 6 {
			return NewBusinessError("INVALID_SCHEDULE", "weekly alert_day must be between 0 (Sunday) and 6", ErrAlertDayOutOfRange)
		}
	case models.AlertFrequencyMonthly:
		if alertDay == nil {
			return NewBusinessError("INVALID_SCHEDULE", ErrAlertDayRequired.Error(), ErrAlertDayRequired)
		}
		if *alertDay < 1 || *alertDay > 31 {
			return NewBusinessError("INVALID_SCHEDULE", "monthly alert_day must be between 1 and 31", ErrAlertDayOutOfRange)
		}
	default:
		if alertDay != nil {
			return NewBusinessError("INVALID_SCHEDULE", ErrAlertDayNotAllowed.Error(), ErrAlertDayNotAllowed)
		}
	}
	return nil
}

func validateFilters(spec models.FilterSpec) error {
	if err := spec.Check(); err != nil {
		return NewBusinessError("INVALID_FILTERS", err.Error(), err)
	}
	return nil
}

func (f *SavedSearchFlowImpl) Create(ctx context.Context, req *dto.CreateSavedSearchRequest) (*dto.SavedSearchResponse, error) {
	p, err := requirePrincipal(ctx, PermissionSearchesWrite)
	if err != nil {
		return nil, err
	}
	if err := validateRequest(f.validator, req); err != nil {
		return nil, err
	}
	if err := validateFilters(req.Filters); err != nil {
		return nil, err
	}

	freq := models.AlertFrequency(req.AlertFrequency)
	if freq == "" {
		freq = models.AlertFrequencyDaily
	}
	alertTime := utils.DefaultAlertHour
	if req.AlertTime != nil {
		alertTime = *req.AlertTime
	}
	if err := ValidateAlertSchedule(freq, alertTime, req.AlertDay); err != nil {
		return nil, err
	}

	alertsEnabled := req.AlertsEnabled == nil || *req.AlertsEnabled
	email := trimmedOrNil(req.AlertEmail)
	if alertsEnabled && email == nil {
		return nil, NewBusinessError("VALIDATION_ERROR", ErrAlertEmailRequired.Error(), ErrAlertEmailRequired)
	}

	search := &models.SavedSearch{
		OwnerID:        p.UserID,
		Name:           strings.TrimSpace(req.Name),
		Description:    req.Description,
		Filters:        req.Filters,
		AlertsEnabled:  alertsEnabled,
		AlertFrequency: freq,
		AlertEmail:     email,
		AlertTime:      alertTime,
		AlertDay:       req.AlertDay,
		IsActive:       true,
	}
	if err := f.searchRepo.Save(ctx, search); err != nil {
		return nil, NewBusinessError("CREATE_SAVED_SEARCH_FAILED", "failed to create saved search", err)
	}
	return toSavedSearchResponse(search), nil
}

func (f *SavedSearchFlowImpl) Update(ctx context.Context, id uuid.UUID, req *dto.UpdateSavedSearchRequest) (*dto.SavedSearchResponse, error) {
	if _, err := requirePrincipal(ctx, PermissionSearchesWrite); err != nil {
		return nil, err
	}
	if err := validateRequest(f.validator, req); err != nil {
		return nil, err
	}
	search, err := f.ownedSearch(ctx, id)
	if err != nil {
		return nil, err
	}

	upd := models.SavedSearchUpdate{
		Description:   req.Description,
		Filters:       req.Filters,
		AlertsEnabled: req.AlertsEnabled,
		AlertTime:     req.AlertTime,
		AlertDay:      req.AlertDay,
		IsActive:      req.IsActive,
	}
	if req.Name != nil {
		upd.Name = utils.ToPtr(strings.TrimSpace(*req.Name))
	}
	if req.AlertEmail != nil {
		upd.AlertEmail = trimmedOrNil(req.AlertEmail)
	}
	if req.AlertFrequency != nil {
		upd.AlertFrequency = utils.ToPtr(models.AlertFrequency(*req.AlertFrequency))
	}
	if upd == (models.SavedSearchUpdate{}) {
		return nil, NewBusinessError("UPDATE_REQUIRED", ErrUpdateRequired.Error(), ErrUpdateRequired)
	}
	if req.Filters != nil {
		if err := validateFilters(*req.Filters); err != nil {
			return nil, err
		}
	}

	// the schedule is validated as it will be after the update
	freq, alertTime, alertDay := search.AlertFrequency, search.AlertTime, search.AlertDay
	if upd.AlertFrequency != nil {
		freq = *upd.AlertFrequency
		if req.AlertDay == nil && (freq == models.AlertFrequencyInstant || freq == models.AlertFrequencyDaily) {
			alertDay = nil
			upd.ClearAlertDay = true
		}
	}
	if req.AlertTime != nil {
		alertTime = *req.AlertTime
	}
	if req.AlertDay != nil {
		alertDay = req.AlertDay
	}
	if err := ValidateAlertSchedule(freq, alertTime, alertDay); err != nil {
		return nil, err
	}

	if err := f.searchRepo.Update(ctx, id, upd); err != nil {
		return nil, NewBusinessError("UPDATE_SAVED_SEARCH_FAILED", "failed to update saved search", err)
	}
	updated, err := f.searchRepo.ByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if updated == nil {
		return nil, ErrSavedSearchNotFound
	}
	return toSavedSearchResponse(updated), nil
}

// Delete deactivates the search; its alert history stays attributable
func (f *SavedSearchFlowImpl) Delete(ctx context.Context, id uuid.UUID) error {
	if _, err := requirePrincipal(ctx, PermissionSearchesWrite); err != nil {
		return err
	}
	if _, err := f.ownedSearch(ctx, id); err != nil {
		return err
	}
	if err := f.searchRepo.SoftDelete(ctx, id); err != nil {
		return NewBusinessError("DELETE_SAVED_SEARCH_FAILED", "failed to delete saved search", err)
	}
	return nil
}

func (f *SavedSearchFlowImpl) Get(ctx context.Context, id uuid.UUID) (*dto.SavedSearchDetailResponse, error) {
	if _, err := requirePrincipal(ctx, PermissionSearchesRead); err != nil {
		return nil, err
	}
	search, err := f.ownedSearch(ctx, id)
	if err != nil {
		return nil, err
	}
	alerts, err := f.alertRepo.ListBySavedSearch(ctx, id, alertHistoryLimit, 0)
	if err != nil {
		return nil, err
	}

	items := make([]dto.SearchAlertItem, 0, len(alerts))
	for _, a := range alerts {
		items = append(items, dto.SearchAlertItem{
			ID:            a.ID,
			SentAt:        a.SentAt,
			PropertyCount: a.PropertyCount,
			PropertyIDs:   []string(a.PropertyIDs),
			EmailSent:     a.EmailSent,
			DeliveryID:    a.DeliveryID,
			ErrorMessage:  a.ErrorMessage,
			RetryCount:    a.RetryCount,
		})
	}
	return &dto.SavedSearchDetailResponse{
		SavedSearch: *toSavedSearchResponse(search),
		Alerts:      items,
	}, nil
}

func (f *SavedSearchFlowImpl) List(ctx context.Context, req *dto.ListSavedSearchesRequest) (*dto.ListSavedSearchesResponse, error) {
	p, err := requirePrincipal(ctx, PermissionSearchesRead)
	if err != nil {
		return nil, err
	}
	page, pageSize, offset := req.Bounds(defaultPageSize, utils.MaxPageLimit)

	filter := models.SavedSearchFilter{OwnerID: &p.UserID}
	if !req.IncludeInactive {
		filter.IsActive = utils.ToPtr(true)
	}
	total, err := f.searchRepo.Count(ctx, filter)
	if err != nil {
		return nil, err
	}
	rows, err := f.searchRepo.ByFilter(ctx, filter, savedSearchOrderBy, pageSize, offset)
	if err != nil {
		return nil, err
	}

	items := make([]dto.SavedSearchResponse, 0, len(rows))
	for _, s := range rows {
		items = append(items, *toSavedSearchResponse(s))
	}
	return &dto.ListSavedSearchesResponse{Items: items, PageInfo: dto.NewPageInfo(total, page, pageSize)}, nil
}

// TriggerTestAlert enqueues a sample email; watermark and history are not touched
func (f *SavedSearchFlowImpl) TriggerTestAlert(ctx context.Context, id uuid.UUID, req *dto.TestAlertRequest) (*dto.TestAlertResponse, error) {
	if _, err := requirePrincipal(ctx, PermissionSearchesWrite); err != nil {
		return nil, err
	}
	if err := validateRequest(f.validator, req); err != nil {
		return nil, err
	}
	search, err := f.ownedSearch(ctx, id)
	if err != nil {
		return nil, err
	}

	recipient := utils.Deref(trimmedOrNil(req.Recipient))
	if recipient == "" {
		recipient = utils.Deref(search.AlertEmail)
	}
	if recipient == "" {
		return nil, NewBusinessError("VALIDATION_ERROR", "no recipient for the test alert", ErrAlertEmailRequired)
	}

	job := jobs.NewJob(jobs.KindAlertTest, search.ID)
	job.Recipient = recipient
	if err := f.dispatcher.Enqueue(ctx, job); err != nil {
		return nil, NewBusinessError("ENQUEUE_FAILED", "failed to enqueue test alert", err)
	}
	return &dto.TestAlertResponse{Message: "Test alert queued", JobID: job.ID}, nil
}

func (f *SavedSearchFlowImpl) ExportAlertHistory(ctx context.Context, id uuid.UUID) (*dto.ExportFile, error) {
	if _, err := requirePrincipal(ctx, PermissionSearchesRead); err != nil {
		return nil, err
	}
	search, err := f.ownedSearch(ctx, id)
	if err != nil {
		return nil, err
	}
	alerts, err := f.alertRepo.ListBySavedSearch(ctx, id, alertExportLimit, 0)
	if err != nil {
		return nil, err
	}
	content, err := f.reports.AlertHistoryWorkbook(search, alerts)
	if err != nil {
		return nil, NewBusinessError("EXPORT_FAILED", "failed to build alert history workbook", err)
	}
	return &dto.ExportFile{
		Filename:    fmt.Sprintf("saved-search-%s-alerts.xlsx", search.ID),
		ContentType: xlsxContentType,
		Content:     content,
	}, nil
}

// ownedSearch loads an active search that belongs to the caller
func (f *SavedSearchFlowImpl) ownedSearch(ctx context.Context, id uuid.UUID) (*models.SavedSearch, error) {
	p, ok := PrincipalFrom(ctx)
	if !ok {
		return nil, ErrUnauthenticated
	}
	search, err := f.searchRepo.ByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if search == nil || !search.IsActive {
		return nil, ErrSavedSearchNotFound
	}
	if !p.Owns(search.OwnerID) {
		return nil, ErrSavedSearchAccessDenied
	}
	return search, nil
}

func toSavedSearchResponse(s *models.SavedSearch) *dto.SavedSearchResponse {
	return &dto.SavedSearchResponse{
		ID:                       s.ID,
		Name:                     s.Name,
		Description:              s.Description,
		Filters:                  s.Filters,
		AlertsEnabled:            s.AlertsEnabled,
		AlertFrequency:           s.AlertFrequency.String(),
		AlertEmail:               s.AlertEmail,
		AlertTime:                s.AlertTime,
		AlertDay:                 s.AlertDay,
		LastCheckedAt:            s.LastCheckedAt,
		TotalMatches:             s.TotalMatches,
		NewMatchesSinceLastAlert: s.NewMatchesSinceLastAlert,
		IsActive:                 s.IsActive,
		CreatedAt:                s.CreatedAt,
		UpdatedAt:                s.UpdatedAt,
	}
}

func trimmedOrNil(s *string) *string {
	if s == nil {
		return nil
	}
	t := strings.TrimSpace(*s)
	if t == "" {
		return nil
	}
	return &t
}

package scheduler

import (
	"context"
	"io"
	"log"
	"sync"
	"time"

	"github.com/amirphl/evoteli/app/jobs"
	"github.com/amirphl/evoteli/app/services"
	"github.com/amirphl/evoteli/models"
	"github.com/amirphl/evoteli/repository"
	"github.com/google/uuid"
)

var discardLogger = log.New(io.Discard, "", 0)

// ----- properties -----

type memProperties struct {
	records  []*models.Property
	err      error
	lastOpts repository.PropertyQueryOptions
	queries  int
}

func (m *memProperties) ByID(ctx context.Context, id uuid.UUID) (*models.Property, error) {
	for _, p := range m.records {
		if p.ID == id {
			return p, nil
		}
	}
	return nil, nil
}

func (m *memProperties) ByFilter(ctx context.Context, filter models.PropertyFilter, orderBy string, limit, offset int) ([]*models.Property, error) {
	return m.records, nil
}

func (m *memProperties) Save(ctx context.Context, entity *models.Property) error { return nil }

func (m *memProperties) SaveBatch(ctx context.Context, entities []*models.Property) error { return nil }

func (m *memProperties) Count(ctx context.Context, filter models.PropertyFilter) (int64, error) {
	return int64(len(m.records)), nil
}

func (m *memProperties) Exists(ctx context.Context, filter models.PropertyFilter) (bool, error) {
	return len(m.records) > 0, nil
}

func (m *memProperties) Query(ctx context.Context, spec models.FilterSpec, opts repository.PropertyQueryOptions) (*repository.PropertyQueryResult, error) {
	m.queries++
	m.lastOpts = opts
	if m.err != nil {
		return nil, m.err
	}
	var out []*models.Property
	for _, p := range m.records {
		if opts.ModifiedAfter != nil && !p.UpdatedAt.After(*opts.ModifiedAfter) {
			continue
		}
		out = append(out, p)
	}
	total := int64(len(out))
	truncated := false
	if opts.MaxRecords > 0 && len(out) > opts.MaxRecords {
		out = out[:opts.MaxRecords]
		truncated = true
	}
	return &repository.PropertyQueryResult{Records: out, Total: total, Truncated: truncated}, nil
}

// ----- saved searches -----

type memSearches struct {
	rows     map[uuid.UUID]*models.SavedSearch
	outcomes []models.SavedSearchAlertOutcome
	err      error
}

func newMemSearches(rows ...*models.SavedSearch) *memSearches {
	m := &memSearches{rows: map[uuid.UUID]*models.SavedSearch{}}
	for _, r := range rows {
		if r.ID == uuid.Nil {
			r.ID = uuid.New()
		}
		m.rows[r.ID] = r
	}
	return m
}

func (m *memSearches) ByID(ctx context.Context, id uuid.UUID) (*models.SavedSearch, error) {
	return m.rows[id], nil
}

func (m *memSearches) ByFilter(ctx context.Context, filter models.SavedSearchFilter, orderBy string, limit, offset int) ([]*models.SavedSearch, error) {
	return nil, nil
}

func (m *memSearches) Save(ctx context.Context, entity *models.SavedSearch) error {
	if entity.ID == uuid.Nil {
		entity.ID = uuid.New()
	}
	m.rows[entity.ID] = entity
	return nil
}

func (m *memSearches) SaveBatch(ctx context.Context, entities []*models.SavedSearch) error {
	return nil
}

func (m *memSearches) Count(ctx context.Context, filter models.SavedSearchFilter) (int64, error) {
	return int64(len(m.rows)), nil
}

func (m *memSearches) Exists(ctx context.Context, filter models.SavedSearchFilter) (bool, error) {
	return len(m.rows) > 0, nil
}

func (m *memSearches) ListSchedulable(ctx context.Context, frequencies []models.AlertFrequency) ([]*models.SavedSearch, error) {
	var out []*models.SavedSearch
	for _, s := range m.rows {
		if !s.Schedulable() {
			continue
		}
		for _, f := range frequencies {
			if s.AlertFrequency == f {
				out = append(out, s)
			}
		}
	}
	return out, nil
}

func (m *memSearches) Update(ctx context.Context, id uuid.UUID, upd models.SavedSearchUpdate) error {
	return nil
}

func (m *memSearches) RecordAlertOutcome(ctx context.Context, id uuid.UUID, outcome models.SavedSearchAlertOutcome) error {
	if m.err != nil {
		return m.err
	}
	m.outcomes = append(m.outcomes, outcome)
	if s, ok := m.rows[id]; ok {
		checked := outcome.LastCheckedAt
		s.LastCheckedAt = &checked
		s.NewMatchesSinceLastAlert = outcome.NewMatchesSinceLastAlert
		s.TotalMatches += outcome.TotalMatchesDelta
	}
	return nil
}

func (m *memSearches) SoftDelete(ctx context.Context, id uuid.UUID) error {
	delete(m.rows, id)
	return nil
}

// ----- alerts -----

type memAlerts struct {
	saved        []*models.SearchAlert
	saveErr      error
	deleteCutoff time.Time
	deleted      int64
}

func (m *memAlerts) ByID(ctx context.Context, id uuid.UUID) (*models.SearchAlert, error) {
	return nil, nil
}

func (m *memAlerts) ByFilter(ctx context.Context, filter models.SearchAlertFilter, orderBy string, limit, offset int) ([]*models.SearchAlert, error) {
	return m.saved, nil
}

func (m *memAlerts) Save(ctx context.Context, entity *models.SearchAlert) error {
	if m.saveErr != nil {
		return m.saveErr
	}
	if entity.ID == uuid.Nil {
		entity.ID = uuid.New()
	}
	m.saved = append(m.saved, entity)
	return nil
}

func (m *memAlerts) SaveBatch(ctx context.Context, entities []*models.SearchAlert) error { return nil }

func (m *memAlerts) Count(ctx context.Context, filter models.SearchAlertFilter) (int64, error) {
	return int64(len(m.saved)), nil
}

func (m *memAlerts) Exists(ctx context.Context, filter models.SearchAlertFilter) (bool, error) {
	return len(m.saved) > 0, nil
}

func (m *memAlerts) ListBySavedSearch(ctx context.Context, savedSearchID uuid.UUID, limit, offset int) ([]*models.SearchAlert, error) {
	return m.saved, nil
}

func (m *memAlerts) DeleteSentBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	m.deleteCutoff = cutoff
	return m.deleted, nil
}

// ----- ads accounts -----

type memAccounts struct {
	rows         map[uuid.UUID]*models.AdsAccount
	tokenUpdates []models.AdsAccountTokenUpdate
	lastSync     map[uuid.UUID]time.Time
}

func newMemAccounts(rows ...*models.AdsAccount) *memAccounts {
	m := &memAccounts{rows: map[uuid.UUID]*models.AdsAccount{}, lastSync: map[uuid.UUID]time.Time{}}
	for _, r := range rows {
		if r.ID == uuid.Nil {
			r.ID = uuid.New()
		}
		m.rows[r.ID] = r
	}
	return m
}

func (m *memAccounts) ByID(ctx context.Context, id uuid.UUID) (*models.AdsAccount, error) {
	return m.rows[id], nil
}

func (m *memAccounts) ByFilter(ctx context.Context, filter models.AdsAccountFilter, orderBy string, limit, offset int) ([]*models.AdsAccount, error) {
	return nil, nil
}

func (m *memAccounts) Save(ctx context.Context, entity *models.AdsAccount) error {
	m.rows[entity.ID] = entity
	return nil
}

func (m *memAccounts) SaveBatch(ctx context.Context, entities []*models.AdsAccount) error { return nil }

func (m *memAccounts) Count(ctx context.Context, filter models.AdsAccountFilter) (int64, error) {
	return int64(len(m.rows)), nil
}

func (m *memAccounts) Exists(ctx context.Context, filter models.AdsAccountFilter) (bool, error) {
	return len(m.rows) > 0, nil
}

func (m *memAccounts) ByOwnerAndCustomerID(ctx context.Context, ownerID uuid.UUID, customerID string) (*models.AdsAccount, error) {
	return nil, nil
}

func (m *memAccounts) Update(ctx context.Context, account *models.AdsAccount) error {
	m.rows[account.ID] = account
	return nil
}

func (m *memAccounts) UpdateTokens(ctx context.Context, id uuid.UUID, upd models.AdsAccountTokenUpdate) error {
	m.tokenUpdates = append(m.tokenUpdates, upd)
	if a, ok := m.rows[id]; ok {
		a.AccessToken = upd.AccessToken
		if upd.RefreshToken != nil {
			a.RefreshToken = *upd.RefreshToken
		}
		exp := upd.TokenExpiresAt
		a.TokenExpiresAt = &exp
	}
	return nil
}

func (m *memAccounts) UpdateStatus(ctx context.Context, id uuid.UUID, upd models.AdsAccountStatusUpdate) error {
	if a, ok := m.rows[id]; ok {
		a.Status = upd.Status
	}
	return nil
}

func (m *memAccounts) TouchLastSync(ctx context.Context, id uuid.UUID, at time.Time) error {
	m.lastSync[id] = at
	return nil
}

// ----- audiences -----

type memAudiences struct {
	rows     map[uuid.UUID]*models.Audience
	outcomes []models.AudienceSyncOutcome
	due      []*models.Audience
}

func newMemAudiences(rows ...*models.Audience) *memAudiences {
	m := &memAudiences{rows: map[uuid.UUID]*models.Audience{}}
	for _, r := range rows {
		if r.ID == uuid.Nil {
			r.ID = uuid.New()
		}
		m.rows[r.ID] = r
	}
	return m
}

// ByID returns a copy, the way a fresh database read would
func (m *memAudiences) ByID(ctx context.Context, id uuid.UUID) (*models.Audience, error) {
	a, ok := m.rows[id]
	if !ok {
		return nil, nil
	}
	cp := *a
	return &cp, nil
}

func (m *memAudiences) ByFilter(ctx context.Context, filter models.AudienceFilter, orderBy string, limit, offset int) ([]*models.Audience, error) {
	return nil, nil
}

func (m *memAudiences) Save(ctx context.Context, entity *models.Audience) error {
	m.rows[entity.ID] = entity
	return nil
}

func (m *memAudiences) SaveBatch(ctx context.Context, entities []*models.Audience) error { return nil }

func (m *memAudiences) Count(ctx context.Context, filter models.AudienceFilter) (int64, error) {
	return int64(len(m.rows)), nil
}

func (m *memAudiences) Exists(ctx context.Context, filter models.AudienceFilter) (bool, error) {
	return len(m.rows) > 0, nil
}

func (m *memAudiences) ListAutoSyncDue(ctx context.Context, now time.Time) ([]*models.Audience, error) {
	return m.due, nil
}

func (m *memAudiences) Update(ctx context.Context, id uuid.UUID, upd models.AudienceUpdate) error {
	return nil
}

func (m *memAudiences) ApplySyncOutcome(ctx context.Context, id uuid.UUID, o models.AudienceSyncOutcome) error {
	m.outcomes = append(m.outcomes, o)
	a, ok := m.rows[id]
	if !ok {
		return repository.ErrNotFound
	}
	if o.SyncStatus != "" {
		a.SyncStatus = o.SyncStatus
	}
	if o.ClearSyncError {
		a.SyncError = nil
	}
	if o.SyncError != nil {
		a.SyncError = o.SyncError
	}
	if o.TotalProperties != nil {
		a.TotalProperties = *o.TotalProperties
	}
	if o.TotalContacts != nil {
		a.TotalContacts = *o.TotalContacts
	}
	if o.UploadedCount != nil {
		a.UploadedCount = *o.UploadedCount
	}
	if o.MatchedCount != nil {
		a.MatchedCount = *o.MatchedCount
	}
	if o.MatchRate != nil {
		a.MatchRate = o.MatchRate
	}
	if o.LastSyncAt != nil {
		a.LastSyncAt = o.LastSyncAt
	}
	if o.NextSyncAt != nil {
		a.NextSyncAt = o.NextSyncAt
	}
	return nil
}

func (m *memAudiences) SetRemoteList(ctx context.Context, id uuid.UUID, resourceName string, listID *string) error {
	a, ok := m.rows[id]
	if !ok {
		return repository.ErrNotFound
	}
	if a.UserListResourceName == nil {
		a.UserListResourceName = &resourceName
		a.UserListID = listID
	}
	return nil
}

// ----- sync records -----

type memRecords struct {
	mu    sync.Mutex
	rows  map[uuid.UUID]*models.AudienceSyncRecord
	order []uuid.UUID
	stale []*models.AudienceSyncRecord
	// progressErr, when set, may fail individual UpdateProgress calls
	progressErr func(p models.AudienceSyncProgress) error
}

func newMemRecords() *memRecords {
	return &memRecords{rows: map[uuid.UUID]*models.AudienceSyncRecord{}}
}

func (m *memRecords) ByID(ctx context.Context, id uuid.UUID) (*models.AudienceSyncRecord, error) {
	return m.rows[id], nil
}

func (m *memRecords) ByFilter(ctx context.Context, filter models.AudienceSyncRecordFilter, orderBy string, limit, offset int) ([]*models.AudienceSyncRecord, error) {
	return nil, nil
}

func (m *memRecords) Save(ctx context.Context, entity *models.AudienceSyncRecord) error {
	if entity.ID == uuid.Nil {
		entity.ID = uuid.New()
	}
	m.rows[entity.ID] = entity
	m.order = append(m.order, entity.ID)
	return nil
}

func (m *memRecords) SaveBatch(ctx context.Context, entities []*models.AudienceSyncRecord) error {
	return nil
}

func (m *memRecords) Count(ctx context.Context, filter models.AudienceSyncRecordFilter) (int64, error) {
	return int64(len(m.rows)), nil
}

func (m *memRecords) Exists(ctx context.Context, filter models.AudienceSyncRecordFilter) (bool, error) {
	return len(m.rows) > 0, nil
}

func (m *memRecords) LatestByAudience(ctx context.Context, audienceID uuid.UUID) (*models.AudienceSyncRecord, error) {
	for i := len(m.order) - 1; i >= 0; i-- {
		if r := m.rows[m.order[i]]; r.AudienceID == audienceID {
			return r, nil
		}
	}
	return nil, nil
}

func (m *memRecords) BeginIfIdle(ctx context.Context, rec *models.AudienceSyncRecord, staleAfter time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	latest, _ := m.LatestByAudience(ctx, rec.AudienceID)
	if latest != nil && latest.Running(rec.StartedAt, staleAfter) {
		return repository.ErrAttemptRunning
	}
	return m.Save(ctx, rec)
}

func (m *memRecords) ListByAudience(ctx context.Context, audienceID uuid.UUID, limit, offset int) ([]*models.AudienceSyncRecord, error) {
	return nil, nil
}

func (m *memRecords) ListRecentByAdsAccount(ctx context.Context, adsAccountID uuid.UUID, limit int) ([]*models.AudienceSyncRecord, error) {
	return nil, nil
}

func (m *memRecords) UpdateProgress(ctx context.Context, id uuid.UUID, p models.AudienceSyncProgress) error {
	if m.progressErr != nil {
		if err := m.progressErr(p); err != nil {
			return err
		}
	}
	r, ok := m.rows[id]
	if !ok {
		return repository.ErrNotFound
	}
	if p.Status != nil {
		r.Status = *p.Status
	}
	if p.StartedAt != nil {
		r.StartedAt = *p.StartedAt
	}
	if p.CompletedAt != nil {
		r.CompletedAt = p.CompletedAt
	}
	if p.PropertiesProcessed != nil {
		r.PropertiesProcessed = *p.PropertiesProcessed
	}
	if p.ContactsExtracted != nil {
		r.ContactsExtracted = *p.ContactsExtracted
	}
	if p.ContactsUploaded != nil {
		r.ContactsUploaded = *p.ContactsUploaded
	}
	if p.ContactsMatched != nil {
		r.ContactsMatched = *p.ContactsMatched
	}
	if p.ErrorMessage != nil {
		r.ErrorMessage = p.ErrorMessage
	}
	if p.ErrorDetails != nil {
		r.ErrorDetails = p.ErrorDetails
	}
	if p.SyncMetadata != nil {
		r.SyncMetadata = *p.SyncMetadata
	}
	return nil
}

func (m *memRecords) ListUnfinishedBefore(ctx context.Context, startedBefore time.Time) ([]*models.AudienceSyncRecord, error) {
	return m.stale, nil
}

// ----- collaborators -----

type fakeContacts struct {
	err error
}

// ContactsFor yields one contact per property whose address is not empty
func (f *fakeContacts) ContactsFor(ctx context.Context, ownerID uuid.UUID, properties []*models.Property) ([]services.Contact, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make([]services.Contact, 0, len(properties))
	for _, p := range properties {
		if p.Address == "" {
			continue
		}
		out = append(out, services.Contact{
			PropertyID: p.ID,
			Email:      p.ID.String() + "@example.com",
			PostalCode: p.Zip,
		})
	}
	return out, nil
}

type fakeNotifier struct {
	sent  []services.AlertNotification
	tests []string
	fail  string
}

func (f *fakeNotifier) SendPropertyAlert(ctx context.Context, n services.AlertNotification) services.DeliveryOutcome {
	f.sent = append(f.sent, n)
	if f.fail != "" {
		return services.DeliveryOutcome{Error: f.fail}
	}
	return services.DeliveryOutcome{Delivered: true, DeliveryID: "msg-" + n.SearchID.String()[:8]}
}

func (f *fakeNotifier) SendTestAlert(ctx context.Context, recipient, searchName string, searchID uuid.UUID) services.DeliveryOutcome {
	f.tests = append(f.tests, recipient)
	if f.fail != "" {
		return services.DeliveryOutcome{Error: f.fail}
	}
	return services.DeliveryOutcome{Delivered: true, DeliveryID: "test"}
}

type fakeDispatcher struct {
	jobs []jobs.Job
	err  error
}

func (f *fakeDispatcher) Enqueue(ctx context.Context, job jobs.Job) error {
	if f.err != nil {
		return f.err
	}
	f.jobs = append(f.jobs, job)
	return nil
}

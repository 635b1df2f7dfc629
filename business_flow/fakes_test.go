package businessflow

import (
	"context"
	"errors"
	"sync"

	"github.com/amirphl/evoteli/app/jobs"
	"github.com/amirphl/evoteli/models"
	"github.com/amirphl/evoteli/repository"
	"github.com/google/uuid"
)

// unimplemented methods panic through the nil embedded interface

type memSearchRepo struct {
	repository.SavedSearchRepository
	mu      sync.Mutex
	rows    map[uuid.UUID]*models.SavedSearch
	updates []models.SavedSearchUpdate
}

func newMemSearchRepo() *memSearchRepo {
	return &memSearchRepo{rows: map[uuid.UUID]*models.SavedSearch{}}
}

func (r *memSearchRepo) put(s *models.SavedSearch) *models.SavedSearch {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	r.rows[s.ID] = s
	return s
}

func (r *memSearchRepo) ByID(_ context.Context, id uuid.UUID) (*models.SavedSearch, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.rows[id]
	if !ok {
		return nil, nil
	}
	cp := *s
	return &cp, nil
}

func (r *memSearchRepo) Save(_ context.Context, s *models.SavedSearch) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.put(s)
	return nil
}

func (r *memSearchRepo) matches(s *models.SavedSearch, f models.SavedSearchFilter) bool {
	if f.OwnerID != nil && s.OwnerID != *f.OwnerID {
		return false
	}
	if f.IsActive != nil && s.IsActive != *f.IsActive {
		return false
	}
	return true
}

func (r *memSearchRepo) ByFilter(_ context.Context, f models.SavedSearchFilter, _ string, limit, offset int) ([]*models.SavedSearch, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.SavedSearch
	for _, s := range r.rows {
		if r.matches(s, f) {
			out = append(out, s)
		}
	}
	if offset > len(out) {
		return nil, nil
	}
	out = out[offset:]
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *memSearchRepo) Count(_ context.Context, f models.SavedSearchFilter) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, s := range r.rows {
		if r.matches(s, f) {
			n++
		}
	}
	return n, nil
}

func (r *memSearchRepo) Update(_ context.Context, id uuid.UUID, upd models.SavedSearchUpdate) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates = append(r.updates, upd)
	s, ok := r.rows[id]
	if !ok {
		return errors.New("missing")
	}
	if upd.Name != nil {
		s.Name = *upd.Name
	}
	if upd.AlertFrequency != nil {
		s.AlertFrequency = *upd.AlertFrequency
	}
	if upd.AlertTime != nil {
		s.AlertTime = *upd.AlertTime
	}
	if upd.AlertDay != nil {
		s.AlertDay = upd.AlertDay
	}
	if upd.ClearAlertDay {
		s.AlertDay = nil
	}
	if upd.AlertEmail != nil {
		s.AlertEmail = upd.AlertEmail
	}
	return nil
}

func (r *memSearchRepo) SoftDelete(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.rows[id]; ok {
		s.IsActive = false
	}
	return nil
}

type memAlertRepo struct {
	repository.SearchAlertRepository
	alerts []*models.SearchAlert
}

func (r *memAlertRepo) ListBySavedSearch(_ context.Context, id uuid.UUID, limit, _ int) ([]*models.SearchAlert, error) {
	var out []*models.SearchAlert
	for _, a := range r.alerts {
		if a.SavedSearchID == id && len(out) < limit {
			out = append(out, a)
		}
	}
	return out, nil
}

type memAccountRepo struct {
	repository.AdsAccountRepository
	mu            sync.Mutex
	rows          map[uuid.UUID]*models.AdsAccount
	statusUpdates []models.AdsAccountStatusUpdate
}

func newMemAccountRepo() *memAccountRepo {
	return &memAccountRepo{rows: map[uuid.UUID]*models.AdsAccount{}}
}

func (r *memAccountRepo) put(a *models.AdsAccount) *models.AdsAccount {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	r.rows[a.ID] = a
	return a
}

func (r *memAccountRepo) ByID(_ context.Context, id uuid.UUID) (*models.AdsAccount, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rows[id], nil
}

func (r *memAccountRepo) ByOwnerAndCustomerID(_ context.Context, ownerID uuid.UUID, customerID string) (*models.AdsAccount, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range r.rows {
		if a.OwnerID == ownerID && a.CustomerID == customerID {
			return a, nil
		}
	}
	return nil, nil
}

func (r *memAccountRepo) ByFilter(_ context.Context, f models.AdsAccountFilter, _ string, _, _ int) ([]*models.AdsAccount, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.AdsAccount
	for _, a := range r.rows {
		if f.OwnerID != nil && a.OwnerID != *f.OwnerID {
			continue
		}
		if f.IsActive != nil && a.IsActive != *f.IsActive {
			continue
		}
		out = append(out, a)
	}
	return out, nil
}

func (r *memAccountRepo) Save(_ context.Context, a *models.AdsAccount) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.put(a)
	return nil
}

func (r *memAccountRepo) Update(_ context.Context, a *models.AdsAccount) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rows[a.ID] = a
	return nil
}

func (r *memAccountRepo) UpdateStatus(_ context.Context, id uuid.UUID, upd models.AdsAccountStatusUpdate) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statusUpdates = append(r.statusUpdates, upd)
	if a, ok := r.rows[id]; ok {
		a.Status = upd.Status
		if upd.IsActive != nil {
			a.IsActive = *upd.IsActive
		}
	}
	return nil
}

type memAudienceRepo struct {
	repository.AudienceRepository
	mu   sync.Mutex
	rows map[uuid.UUID]*models.Audience
}

func newMemAudienceRepo() *memAudienceRepo {
	return &memAudienceRepo{rows: map[uuid.UUID]*models.Audience{}}
}

func (r *memAudienceRepo) put(a *models.Audience) *models.Audience {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	r.rows[a.ID] = a
	return a
}

func (r *memAudienceRepo) ByID(_ context.Context, id uuid.UUID) (*models.Audience, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rows[id], nil
}

func (r *memAudienceRepo) ByFilter(_ context.Context, f models.AudienceFilter, _ string, _, _ int) ([]*models.Audience, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.Audience
	for _, a := range r.rows {
		if f.OwnerID != nil && a.OwnerID != *f.OwnerID {
			continue
		}
		if f.AdsAccountID != nil && a.AdsAccountID != *f.AdsAccountID {
			continue
		}
		if f.IsActive != nil && a.IsActive != *f.IsActive {
			continue
		}
		out = append(out, a)
	}
	return out, nil
}

func (r *memAudienceRepo) Save(_ context.Context, a *models.Audience) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.put(a)
	return nil
}

type memRecordRepo struct {
	repository.AudienceSyncRecordRepository
	records []*models.AudienceSyncRecord
}

func (r *memRecordRepo) ListByAudience(_ context.Context, id uuid.UUID, limit, _ int) ([]*models.AudienceSyncRecord, error) {
	var out []*models.AudienceSyncRecord
	for _, rec := range r.records {
		if rec.AudienceID == id && len(out) < limit {
			out = append(out, rec)
		}
	}
	return out, nil
}

// ListRecentByAdsAccount expects records in newest-first order
func (r *memRecordRepo) ListRecentByAdsAccount(_ context.Context, _ uuid.UUID, limit int) ([]*models.AudienceSyncRecord, error) {
	if len(r.records) > limit {
		return r.records[:limit], nil
	}
	return r.records, nil
}

type fakeSyncStarter struct {
	err       error
	begun     []uuid.UUID
	abandoned []*models.AudienceSyncRecord
}

func (s *fakeSyncStarter) BeginAttempt(_ context.Context, audienceID uuid.UUID, trigger models.SyncTrigger) (*models.AudienceSyncRecord, error) {
	if s.err != nil {
		return nil, s.err
	}
	s.begun = append(s.begun, audienceID)
	return &models.AudienceSyncRecord{
		ID:          uuid.New(),
		AudienceID:  audienceID,
		Status:      models.SyncStatusPending,
		TriggeredBy: trigger,
	}, nil
}

func (s *fakeSyncStarter) AbandonAttempt(_ context.Context, rec *models.AudienceSyncRecord, _ error) {
	s.abandoned = append(s.abandoned, rec)
}

type fakeDispatcher struct {
	mu   sync.Mutex
	jobs []jobs.Job
	err  error
}

func (d *fakeDispatcher) Enqueue(_ context.Context, job jobs.Job) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return d.err
	}
	d.jobs = append(d.jobs, job)
	return nil
}

type fakeReports struct {
	alertCalls int
	syncCalls  int
}

func (r *fakeReports) AlertHistoryWorkbook(_ *models.SavedSearch, _ []*models.SearchAlert) ([]byte, error) {
	r.alertCalls++
	return []byte("xlsx"), nil
}

func (r *fakeReports) SyncHistoryWorkbook(_ *models.Audience, _ []*models.AudienceSyncRecord) ([]byte, error) {
	r.syncCalls++
	return []byte("xlsx"), nil
}

func userCtx(id uuid.UUID, perms ...string) context.Context {
	if len(perms) == 0 {
		perms = DefaultPermissions
	}
	return WithPrincipal(context.Background(), Principal{UserID: id, Permissions: perms})
}

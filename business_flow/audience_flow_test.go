package businessflow

import (
	"context"
	"errors"
	"testing"

	"github.com/amirphl/evoteli/app/dto"
	"github.com/amirphl/evoteli/app/jobs"
	"github.com/amirphl/evoteli/app/scheduler"
	"github.com/amirphl/evoteli/models"
	"github.com/amirphl/evoteli/utils"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type audienceFixture struct {
	flow       AudienceFlow
	audiences  *memAudienceRepo
	accounts   *memAccountRepo
	records    *memRecordRepo
	syncs      *fakeSyncStarter
	dispatcher *fakeDispatcher
	reports    *fakeReports
	owner      uuid.UUID
	account    *models.AdsAccount
	ctx        context.Context
}

func newAudienceFixture() *audienceFixture {
	f := &audienceFixture{
		audiences:  newMemAudienceRepo(),
		accounts:   newMemAccountRepo(),
		records:    &memRecordRepo{},
		syncs:      &fakeSyncStarter{},
		dispatcher: &fakeDispatcher{},
		reports:    &fakeReports{},
		owner:      uuid.New(),
	}
	f.flow = NewAudienceFlow(f.audiences, f.accounts, f.records, f.syncs, f.dispatcher, f.reports)
	f.ctx = userCtx(f.owner)
	f.account = f.accounts.put(&models.AdsAccount{
		OwnerID:    f.owner,
		CustomerID: "1234567890",
		Status:     models.AdsAccountStatusConnected,
		IsActive:   true,
	})
	return f
}

func (f *audienceFixture) seed(mutate func(a *models.Audience)) *models.Audience {
	a := &models.Audience{
		OwnerID:            f.owner,
		AdsAccountID:       f.account.ID,
		Name:               "Roof leads",
		SyncStatus:         models.SyncStatusCompleted,
		AutoSync:           true,
		SyncFrequencyHours: 24,
		IsActive:           true,
	}
	if mutate != nil {
		mutate(a)
	}
	return f.audiences.put(a)
}

func TestAudienceCreate_StartsFirstSync(t *testing.T) {
	f := newAudienceFixture()

	resp, err := f.flow.Create(f.ctx, &dto.CreateAudienceRequest{
		AdsAccountID: f.account.ID,
		Name:         " Austin solar ",
	})
	require.NoError(t, err)
	assert.Equal(t, "Austin solar", resp.Audience.Name)
	assert.Equal(t, "pending", resp.Audience.SyncStatus)
	assert.Equal(t, utils.DefaultSyncFrequencyHours, resp.Audience.SyncFrequencyHours)
	assert.True(t, resp.Audience.AutoSync)
	require.NotNil(t, resp.SyncRecordID)

	require.Len(t, f.dispatcher.jobs, 1)
	job := f.dispatcher.jobs[0]
	assert.Equal(t, jobs.KindAudienceSync, job.Kind)
	assert.Equal(t, resp.Audience.ID, job.SubjectID)
	assert.Equal(t, *resp.SyncRecordID, *job.SyncRecordID)
	assert.Equal(t, models.SyncTriggerManual, job.Trigger)
}

func TestAudienceCreate_KeptWhenFirstSyncCannotQueue(t *testing.T) {
	f := newAudienceFixture()
	f.dispatcher.err = errors.New("broker down")

	resp, err := f.flow.Create(f.ctx, &dto.CreateAudienceRequest{AdsAccountID: f.account.ID, Name: "x"})
	require.NoError(t, err)
	assert.Nil(t, resp.SyncRecordID)
	assert.Len(t, f.audiences.rows, 1)
	require.Len(t, f.syncs.abandoned, 1, "the pending record is closed")
}

func TestAudienceCreate_AccountChecks(t *testing.T) {
	f := newAudienceFixture()
	foreign := f.accounts.put(&models.AdsAccount{OwnerID: uuid.New(), Status: models.AdsAccountStatusConnected, IsActive: true})
	broken := f.accounts.put(&models.AdsAccount{OwnerID: f.owner, Status: models.AdsAccountStatusError, IsActive: true})

	tests := []struct {
		name      string
		accountID uuid.UUID
		want      error
	}{
		{"unknown account", uuid.New(), ErrAdsAccountNotFound},
		{"foreign account", foreign.ID, ErrAdsAccountAccessDenied},
		{"account in error", broken.ID, ErrAdsAccountNotConnected},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.flow.Create(f.ctx, &dto.CreateAudienceRequest{AdsAccountID: tt.accountID, Name: "x"})
			assert.ErrorIs(t, err, tt.want)
		})
	}
	assert.Empty(t, f.audiences.rows)
}

func TestTriggerSync(t *testing.T) {
	f := newAudienceFixture()
	a := f.seed(nil)

	resp, err := f.flow.TriggerSync(f.ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, "pending", resp.Status)
	assert.Equal(t, []uuid.UUID{a.ID}, f.syncs.begun)
	require.Len(t, f.dispatcher.jobs, 1)
	assert.Equal(t, resp.SyncRecordID, *f.dispatcher.jobs[0].SyncRecordID)
}

func TestTriggerSync_ConflictWhileRunning(t *testing.T) {
	f := newAudienceFixture()
	a := f.seed(nil)
	f.syncs.err = scheduler.ErrSyncInProgress

	_, err := f.flow.TriggerSync(f.ctx, a.ID)
	assert.True(t, IsSyncAlreadyRunning(err))
	assert.Empty(t, f.dispatcher.jobs)
}

func TestTriggerSync_Rejections(t *testing.T) {
	f := newAudienceFixture()
	inactive := f.seed(func(a *models.Audience) { a.IsActive = false })
	foreign := f.seed(func(a *models.Audience) { a.OwnerID = uuid.New() })

	_, err := f.flow.TriggerSync(f.ctx, inactive.ID)
	assert.ErrorIs(t, err, ErrAudienceInactive)

	_, err = f.flow.TriggerSync(f.ctx, foreign.ID)
	assert.True(t, IsAudienceAccessDenied(err))

	_, err = f.flow.TriggerSync(f.ctx, uuid.New())
	assert.True(t, IsAudienceNotFound(err))

	_, err = f.flow.TriggerSync(userCtx(f.owner, PermissionAudiencesRead), inactive.ID)
	assert.True(t, IsPermissionDenied(err))

	f.syncs.err = errors.New("db down")
	active := f.seed(nil)
	_, err = f.flow.TriggerSync(f.ctx, active.ID)
	require.Error(t, err)
	assert.Equal(t, "START_SYNC_FAILED", businessCode(t, err))
}

func TestAudienceGet_SyncHistory(t *testing.T) {
	f := newAudienceFixture()
	a := f.seed(nil)
	f.records.records = []*models.AudienceSyncRecord{
		{ID: uuid.New(), AudienceID: a.ID, Status: models.SyncStatusCompleted, TriggeredBy: models.SyncTriggerAutoSync, ContactsUploaded: 10},
		{ID: uuid.New(), AudienceID: uuid.New(), Status: models.SyncStatusFailed},
	}

	detail, err := f.flow.Get(f.ctx, a.ID)
	require.NoError(t, err)
	require.Len(t, detail.SyncHistory, 1)
	assert.Equal(t, "completed", detail.SyncHistory[0].Status)
	assert.Equal(t, "auto_sync", detail.SyncHistory[0].TriggeredBy)
	assert.Equal(t, 10, detail.SyncHistory[0].ContactsUploaded)
}

func TestExportSyncHistory(t *testing.T) {
	f := newAudienceFixture()
	a := f.seed(nil)

	file, err := f.flow.ExportSyncHistory(f.ctx, a.ID)
	require.NoError(t, err)
	assert.Contains(t, file.Filename, a.ID.String())
	assert.Equal(t, 1, f.reports.syncCalls)

	_, err = f.flow.ExportSyncHistory(userCtx(uuid.New()), a.ID)
	assert.True(t, IsAudienceAccessDenied(err))
}

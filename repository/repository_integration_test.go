//go:build integration

package repository_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/amirphl/evoteli/models"
	"github.com/amirphl/evoteli/repository"
	testutil "github.com/amirphl/evoteli/testing"
	"github.com/amirphl/evoteli/utils"
	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"
)

type RepositoryIntegrationSuite struct {
	suite.Suite
	ctx      context.Context
	db       *testutil.TestDB
	fixtures *testutil.TestFixtures
}

func (s *RepositoryIntegrationSuite) SetupSuite() {
	s.ctx = context.Background()
	db, err := testutil.SetupTestDB(s.ctx)
	s.Require().NoError(err)
	s.db = db
	s.fixtures = testutil.NewTestFixtures(db)
}

func (s *RepositoryIntegrationSuite) TearDownSuite() {
	if s.db != nil {
		_ = s.db.TeardownTestDB(s.ctx)
	}
}

func (s *RepositoryIntegrationSuite) SetupTest() {
	s.Require().NoError(s.db.ClearAllTables())
}

func TestRepositoryIntegrationSuite(t *testing.T) {
	suite.Run(t, new(RepositoryIntegrationSuite))
}

func (s *RepositoryIntegrationSuite) TestPropertyQuery_FiltersAndWatermark() {
	now := utils.UTCNow()
	poor := models.ConditionPoor
	good := models.ConditionGood

	old, err := s.fixtures.CreateTestProperty(testutil.PropertyOptions{RoofCondition: &poor, UpdatedAt: now.Add(-48 * time.Hour)})
	s.Require().NoError(err)
	fresh, err := s.fixtures.CreateTestProperty(testutil.PropertyOptions{RoofCondition: &poor, SolarScore: utils.ToPtr(90), UpdatedAt: now})
	s.Require().NoError(err)
	_, err = s.fixtures.CreateTestProperty(testutil.PropertyOptions{RoofCondition: &good, UpdatedAt: now})
	s.Require().NoError(err)
	_, err = s.fixtures.CreateTestProperty(testutil.PropertyOptions{City: "Dallas", RoofCondition: &poor, UpdatedAt: now})
	s.Require().NoError(err)

	repo := repository.NewPropertyRepository(s.db.DB)
	spec := models.FilterSpec{City: utils.ToPtr("austin"), RoofCondition: []models.Condition{poor}}

	res, err := repo.Query(s.ctx, spec, repository.PropertyQueryOptions{Now: now})
	s.Require().NoError(err)
	s.EqualValues(2, res.Total)
	s.Len(res.Records, 2)
	s.Equal(fresh.ID, res.Records[0].ID, "newest first by default")
	s.Equal(old.ID, res.Records[1].ID)

	watermark := now.Add(-time.Hour)
	res, err = repo.Query(s.ctx, spec, repository.PropertyQueryOptions{ModifiedAfter: &watermark, WithAnalyses: true, Now: now})
	s.Require().NoError(err)
	s.Require().Len(res.Records, 1)
	s.Equal(fresh.ID, res.Records[0].ID)
	s.Require().NotNil(res.Records[0].Solar)
	s.Equal(90, res.Records[0].Solar.Score)

	res, err = repo.Query(s.ctx, models.FilterSpec{}, repository.PropertyQueryOptions{AllMatches: true, MaxRecords: 3, Now: now})
	s.Require().NoError(err)
	s.EqualValues(4, res.Total)
	s.Len(res.Records, 3)
	s.True(res.Truncated)
}

func (s *RepositoryIntegrationSuite) TestSavedSearch_OutcomeAndSoftDelete() {
	owner := uuid.New()
	search, err := s.fixtures.CreateTestSavedSearch(owner, models.FilterSpec{City: utils.ToPtr("Austin")})
	s.Require().NoError(err)

	repo := repository.NewSavedSearchRepository(s.db.DB)
	checked := utils.UTCNow().Truncate(time.Second)
	s.Require().NoError(repo.RecordAlertOutcome(s.ctx, search.ID, models.SavedSearchAlertOutcome{
		LastCheckedAt:            checked,
		NewMatchesSinceLastAlert: 3,
		TotalMatchesDelta:        3,
	}))
	s.Require().NoError(repo.RecordAlertOutcome(s.ctx, search.ID, models.SavedSearchAlertOutcome{
		LastCheckedAt:            checked.Add(time.Hour),
		NewMatchesSinceLastAlert: 2,
		TotalMatchesDelta:        2,
	}))

	got, err := repo.ByID(s.ctx, search.ID)
	s.Require().NoError(err)
	s.Equal(5, got.TotalMatches)
	s.Equal(2, got.NewMatchesSinceLastAlert)
	s.WithinDuration(checked.Add(time.Hour), *got.LastCheckedAt, time.Second)

	due, err := repo.ListSchedulable(s.ctx, []models.AlertFrequency{models.AlertFrequencyDaily})
	s.Require().NoError(err)
	s.Len(due, 1)

	s.Require().NoError(repo.SoftDelete(s.ctx, search.ID))
	due, err = repo.ListSchedulable(s.ctx, []models.AlertFrequency{models.AlertFrequencyDaily})
	s.Require().NoError(err)
	s.Empty(due)

	s.ErrorIs(repo.SoftDelete(s.ctx, uuid.New()), repository.ErrNotFound)
}

func (s *RepositoryIntegrationSuite) TestAudience_RemoteListIsSetOnce() {
	account, err := s.fixtures.CreateTestAdsAccount(uuid.New())
	s.Require().NoError(err)
	audience, err := s.fixtures.CreateTestAudience(account, models.FilterSpec{})
	s.Require().NoError(err)

	repo := repository.NewAudienceRepository(s.db.DB)
	s.Require().NoError(repo.SetRemoteList(s.ctx, audience.ID, "customers/1/userLists/1", utils.ToPtr("1")))
	s.Require().NoError(repo.SetRemoteList(s.ctx, audience.ID, "customers/1/userLists/2", utils.ToPtr("2")))

	got, err := repo.ByID(s.ctx, audience.ID)
	s.Require().NoError(err)
	s.Equal("customers/1/userLists/1", *got.UserListResourceName)
	s.Equal("1", *got.UserListID)

	due, err := repo.ListAutoSyncDue(s.ctx, utils.UTCNow())
	s.Require().NoError(err)
	s.Len(due, 1, "never synced audiences are due")

	next := utils.UTCNow().Add(time.Hour)
	s.Require().NoError(repo.ApplySyncOutcome(s.ctx, audience.ID, models.AudienceSyncOutcome{
		SyncStatus: models.SyncStatusCompleted,
		NextSyncAt: &next,
	}))
	due, err = repo.ListAutoSyncDue(s.ctx, utils.UTCNow())
	s.Require().NoError(err)
	s.Empty(due)
}

func (s *RepositoryIntegrationSuite) TestSyncRecords_LatestAndProgress() {
	account, err := s.fixtures.CreateTestAdsAccount(uuid.New())
	s.Require().NoError(err)
	audience, err := s.fixtures.CreateTestAudience(account, models.FilterSpec{})
	s.Require().NoError(err)

	repo := repository.NewAudienceSyncRecordRepository(s.db.DB)
	now := utils.UTCNow()
	first := &models.AudienceSyncRecord{AudienceID: audience.ID, StartedAt: now.Add(-time.Hour), TriggeredBy: models.SyncTriggerAutoSync}
	second := &models.AudienceSyncRecord{AudienceID: audience.ID, StartedAt: now, TriggeredBy: models.SyncTriggerManual}
	s.Require().NoError(repo.Save(s.ctx, first))
	s.Require().NoError(repo.Save(s.ctx, second))

	latest, err := repo.LatestByAudience(s.ctx, audience.ID)
	s.Require().NoError(err)
	s.Equal(second.ID, latest.ID)

	uploaded := 42
	s.Require().NoError(repo.UpdateProgress(s.ctx, second.ID, models.AudienceSyncProgress{
		Status:           utils.ToPtr(models.SyncStatusCompleted),
		ContactsUploaded: &uploaded,
		SyncMetadata:     &models.SyncMetadata{BatchesSent: 1, JobID: "job-1"},
	}))
	got, err := repo.ByID(s.ctx, second.ID)
	s.Require().NoError(err)
	s.Equal(models.SyncStatusCompleted, got.Status)
	s.Equal(42, got.ContactsUploaded)
	s.Equal("job-1", got.SyncMetadata.JobID)

	stale, err := repo.ListUnfinishedBefore(s.ctx, now.Add(-30*time.Minute))
	s.Require().NoError(err)
	s.Require().Len(stale, 1)
	s.Equal(first.ID, stale[0].ID)
}

func (s *RepositoryIntegrationSuite) TestSyncRecords_BeginIfIdleSerializesCallers() {
	account, err := s.fixtures.CreateTestAdsAccount(uuid.New())
	s.Require().NoError(err)
	audience, err := s.fixtures.CreateTestAudience(account, models.FilterSpec{})
	s.Require().NoError(err)

	repo := repository.NewAudienceSyncRecordRepository(s.db.DB)
	now := utils.UTCNow()

	const callers = 6
	var wg sync.WaitGroup
	start := make(chan struct{})
	results := make(chan error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			results <- repo.BeginIfIdle(s.ctx, &models.AudienceSyncRecord{
				AudienceID:  audience.ID,
				StartedAt:   now,
				Status:      models.SyncStatusPending,
				TriggeredBy: models.SyncTriggerManual,
			}, 30*time.Minute)
		}()
	}
	close(start)
	wg.Wait()
	close(results)

	created := 0
	for err := range results {
		if err == nil {
			created++
			continue
		}
		s.ErrorIs(err, repository.ErrAttemptRunning)
	}
	s.Equal(1, created)
	n, err := repo.Count(s.ctx, models.AudienceSyncRecordFilter{AudienceID: &audience.ID})
	s.Require().NoError(err)
	s.EqualValues(1, n)

	// a stale attempt does not block
	later := &models.AudienceSyncRecord{
		AudienceID:  audience.ID,
		StartedAt:   now.Add(time.Hour),
		Status:      models.SyncStatusPending,
		TriggeredBy: models.SyncTriggerAutoSync,
	}
	s.Require().NoError(repo.BeginIfIdle(s.ctx, later, 30*time.Minute))

	missing := &models.AudienceSyncRecord{AudienceID: uuid.New(), StartedAt: now, TriggeredBy: models.SyncTriggerManual}
	s.ErrorIs(repo.BeginIfIdle(s.ctx, missing, 30*time.Minute), repository.ErrNotFound)
}

func (s *RepositoryIntegrationSuite) TestSyncRecords_RecentByAdsAccount() {
	account, err := s.fixtures.CreateTestAdsAccount(uuid.New())
	s.Require().NoError(err)
	other, err := s.fixtures.CreateTestAdsAccount(uuid.New())
	s.Require().NoError(err)
	first, err := s.fixtures.CreateTestAudience(account, models.FilterSpec{})
	s.Require().NoError(err)
	second, err := s.fixtures.CreateTestAudience(account, models.FilterSpec{})
	s.Require().NoError(err)
	foreign, err := s.fixtures.CreateTestAudience(other, models.FilterSpec{})
	s.Require().NoError(err)

	repo := repository.NewAudienceSyncRecordRepository(s.db.DB)
	now := utils.UTCNow()
	for i := 0; i < 6; i++ {
		audienceID := first.ID
		if i%2 == 1 {
			audienceID = second.ID
		}
		s.Require().NoError(repo.Save(s.ctx, &models.AudienceSyncRecord{
			AudienceID:  audienceID,
			StartedAt:   now.Add(time.Duration(i) * time.Minute),
			TriggeredBy: models.SyncTriggerAutoSync,
		}))
	}
	s.Require().NoError(repo.Save(s.ctx, &models.AudienceSyncRecord{
		AudienceID:  foreign.ID,
		StartedAt:   now.Add(time.Hour),
		TriggeredBy: models.SyncTriggerManual,
	}))

	recent, err := repo.ListRecentByAdsAccount(s.ctx, account.ID, 4)
	s.Require().NoError(err)
	s.Require().Len(recent, 4)
	s.Equal(second.ID, recent[0].AudienceID)
	s.True(recent[0].StartedAt.After(recent[3].StartedAt))
	for _, r := range recent {
		s.NotEqual(foreign.ID, r.AudienceID)
	}
}

func (s *RepositoryIntegrationSuite) TestPropertyContacts_OwnerScoped() {
	p, err := s.fixtures.CreateTestProperty(testutil.PropertyOptions{})
	s.Require().NoError(err)
	owner, other := uuid.New(), uuid.New()
	_, err = s.fixtures.CreateTestContact(owner, p.ID, "mine@example.com")
	s.Require().NoError(err)
	_, err = s.fixtures.CreateTestContact(other, p.ID, "theirs@example.com")
	s.Require().NoError(err)

	repo := repository.NewPropertyContactRepository(s.db.DB)
	rows, err := repo.ByOwnerAndProperties(s.ctx, owner, []uuid.UUID{p.ID})
	s.Require().NoError(err)
	s.Require().Len(rows, 1)
	s.Equal("mine@example.com", *rows[0].Email)

	s.Require().NoError(repo.Upsert(s.ctx, []*models.PropertyContact{{
		OwnerID:     owner,
		PropertyID:  p.ID,
		Email:       utils.ToPtr("updated@example.com"),
		CountryCode: "US",
	}}))
	rows, err = repo.ByOwnerAndProperties(s.ctx, owner, []uuid.UUID{p.ID})
	s.Require().NoError(err)
	s.Require().Len(rows, 1)
	s.Equal("updated@example.com", *rows[0].Email)
}

func (s *RepositoryIntegrationSuite) TestSearchAlerts_Retention() {
	search, err := s.fixtures.CreateTestSavedSearch(uuid.New(), models.FilterSpec{})
	s.Require().NoError(err)

	repo := repository.NewSearchAlertRepository(s.db.DB)
	now := utils.UTCNow()
	s.Require().NoError(repo.Save(s.ctx, &models.SearchAlert{SavedSearchID: search.ID, SentAt: now.AddDate(0, 0, -100), PropertyCount: 1}))
	s.Require().NoError(repo.Save(s.ctx, &models.SearchAlert{SavedSearchID: search.ID, SentAt: now, PropertyCount: 2}))

	n, err := repo.DeleteSentBefore(s.ctx, now.AddDate(0, 0, -90))
	s.Require().NoError(err)
	s.EqualValues(1, n)

	rows, err := repo.ListBySavedSearch(s.ctx, search.ID, 10, 0)
	s.Require().NoError(err)
	s.Require().Len(rows, 1)
	s.Equal(2, rows[0].PropertyCount)
}

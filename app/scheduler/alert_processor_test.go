package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/amirphl/evoteli/app/jobs"
	"github.com/amirphl/evoteli/models"
	"github.com/amirphl/evoteli/repository"
	"github.com/amirphl/evoteli/utils"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type alertFixture struct {
	props    *memProperties
	searches *memSearches
	alerts   *memAlerts
	notifier *fakeNotifier
	proc     *AlertProcessor
	search   *models.SavedSearch
	now      time.Time
}

func newAlertFixture(t *testing.T) *alertFixture {
	t.Helper()
	now := time.Date(2025, 3, 3, 9, 0, 0, 0, time.UTC)
	s := &models.SavedSearch{
		ID:             uuid.New(),
		Name:           "Austin roofs",
		AlertsEnabled:  true,
		IsActive:       true,
		AlertFrequency: models.AlertFrequencyDaily,
		AlertEmail:     utils.ToPtr("owner@example.com"),
		AlertTime:      9,
	}
	f := &alertFixture{
		props:    &memProperties{},
		searches: newMemSearches(s),
		alerts:   &memAlerts{},
		notifier: &fakeNotifier{},
		search:   s,
		now:      now,
	}
	f.proc = NewAlertProcessor(f.props, f.searches, f.alerts, f.notifier, nil, discardLogger, 0)
	f.proc.now = func() time.Time { return now }
	return f
}

func property(updated time.Time) *models.Property {
	return &models.Property{ID: uuid.New(), Address: "1 Main St", Zip: "78701", UpdatedAt: updated}
}

func TestEvaluate_NoMatchesAdvancesWatermark(t *testing.T) {
	f := newAlertFixture(t)

	res, err := f.proc.Evaluate(context.Background(), f.search)
	require.NoError(t, err)
	assert.Zero(t, res.Matches)
	assert.Nil(t, res.AlertID)
	assert.Empty(t, f.notifier.sent)
	assert.Empty(t, f.alerts.saved)

	require.Len(t, f.searches.outcomes, 1)
	assert.Equal(t, f.now, f.searches.outcomes[0].LastCheckedAt)
	assert.Zero(t, f.searches.outcomes[0].NewMatchesSinceLastAlert)
	assert.Nil(t, f.props.lastOpts.ModifiedAfter, "first run scans the whole corpus")
	assert.Equal(t, 10000, f.props.lastOpts.MaxRecords)
}

func TestEvaluate_OnlyRecordsPastTheWatermark(t *testing.T) {
	f := newAlertFixture(t)
	watermark := f.now.Add(-24 * time.Hour)
	f.search.LastCheckedAt = &watermark
	older := property(watermark.Add(-time.Hour))
	newer := property(watermark.Add(time.Hour))
	f.props.records = []*models.Property{older, newer}

	res, err := f.proc.Evaluate(context.Background(), f.search)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Matches)
	assert.True(t, res.Delivered)
	assert.Equal(t, &watermark, f.props.lastOpts.ModifiedAfter)
	assert.True(t, f.props.lastOpts.WithAnalyses)

	require.Len(t, f.notifier.sent, 1)
	assert.Equal(t, "owner@example.com", f.notifier.sent[0].Recipient)
	require.Len(t, f.notifier.sent[0].Properties, 1)
	assert.Equal(t, newer.ID, f.notifier.sent[0].Properties[0].ID)

	require.Len(t, f.alerts.saved, 1)
	alert := f.alerts.saved[0]
	assert.Equal(t, f.search.ID, alert.SavedSearchID)
	assert.True(t, alert.EmailSent)
	assert.Equal(t, 1, alert.PropertyCount)
	assert.Equal(t, []string{newer.ID.String()}, []string(alert.PropertyIDs))
	assert.NotNil(t, alert.DeliveryID)
	assert.Equal(t, &alert.ID, res.AlertID)

	assert.Equal(t, f.now, *f.search.LastCheckedAt)
	assert.Equal(t, 1, f.search.NewMatchesSinceLastAlert)
	assert.Equal(t, 1, f.search.TotalMatches)
}

func TestEvaluate_SecondRunWithoutChangesSendsNothing(t *testing.T) {
	f := newAlertFixture(t)
	f.props.records = []*models.Property{
		property(f.now.Add(-3 * time.Hour)),
		property(f.now.Add(-2 * time.Hour)),
		property(f.now.Add(-time.Hour)),
	}

	first, err := f.proc.Evaluate(context.Background(), f.search)
	require.NoError(t, err)
	assert.Equal(t, 3, first.Matches)
	assert.True(t, first.Delivered)
	require.Len(t, f.alerts.saved, 1)
	assert.Equal(t, 3, f.alerts.saved[0].PropertyCount)
	require.Len(t, f.notifier.sent, 1)

	nextDay := f.now.Add(24 * time.Hour)
	f.proc.now = func() time.Time { return nextDay }

	second, err := f.proc.Evaluate(context.Background(), f.search)
	require.NoError(t, err)
	assert.Zero(t, second.Matches)
	assert.Nil(t, second.AlertID)
	assert.Equal(t, &f.now, f.props.lastOpts.ModifiedAfter)

	assert.Len(t, f.alerts.saved, 1, "no second alert without new changes")
	assert.Len(t, f.notifier.sent, 1)
	assert.Equal(t, nextDay, *f.search.LastCheckedAt)
	assert.Zero(t, f.search.NewMatchesSinceLastAlert)
	assert.Equal(t, 3, f.search.TotalMatches)
}

func TestEvaluate_DeliveryFailureIsRecorded(t *testing.T) {
	f := newAlertFixture(t)
	f.notifier.fail = "provider down"
	f.props.records = []*models.Property{property(f.now), property(f.now)}

	res, err := f.proc.Evaluate(context.Background(), f.search)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Matches)
	assert.False(t, res.Delivered)

	require.Len(t, f.alerts.saved, 1)
	assert.False(t, f.alerts.saved[0].EmailSent)
	assert.Equal(t, "provider down", utils.Deref(f.alerts.saved[0].ErrorMessage))
	assert.Equal(t, f.now, *f.search.LastCheckedAt, "watermark advances even when delivery fails")
}

func TestEvaluate_MissingRecipient(t *testing.T) {
	f := newAlertFixture(t)
	f.search.AlertEmail = nil
	f.props.records = []*models.Property{property(f.now)}

	res, err := f.proc.Evaluate(context.Background(), f.search)
	require.NoError(t, err)
	assert.False(t, res.Delivered)
	assert.Empty(t, f.notifier.sent)
	require.Len(t, f.alerts.saved, 1)
	assert.Equal(t, ErrNoRecipient.Error(), utils.Deref(f.alerts.saved[0].ErrorMessage))
}

func TestEvaluate_QueryFailureKeepsWatermark(t *testing.T) {
	f := newAlertFixture(t)
	f.props.err = errors.New("statement timeout")

	_, err := f.proc.Evaluate(context.Background(), f.search)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "statement timeout")
	assert.Empty(t, f.searches.outcomes)
	assert.Nil(t, f.search.LastCheckedAt)
}

func TestEvaluate_HistoryWriteFailure(t *testing.T) {
	f := newAlertFixture(t)
	f.alerts.saveErr = errors.New("insert failed")
	f.props.records = []*models.Property{property(f.now)}

	_, err := f.proc.Evaluate(context.Background(), f.search)
	require.Error(t, err)
	assert.Empty(t, f.searches.outcomes)
}

func TestEvaluate_RunsInsideTransaction(t *testing.T) {
	f := newAlertFixture(t)
	txCalls := 0
	f.proc.tx = func(ctx context.Context, fn func(ctx context.Context) error) error {
		txCalls++
		return fn(ctx)
	}
	f.props.records = []*models.Property{property(f.now)}

	_, err := f.proc.Evaluate(context.Background(), f.search)
	require.NoError(t, err)
	assert.Equal(t, 1, txCalls)
}

func TestHandleEvaluate_SkipsUnschedulable(t *testing.T) {
	f := newAlertFixture(t)
	f.search.AlertsEnabled = false

	err := f.proc.HandleEvaluate(context.Background(), jobs.NewJob(jobs.KindAlertEvaluate, f.search.ID))
	require.NoError(t, err)
	assert.Zero(t, f.props.queries)

	err = f.proc.HandleEvaluate(context.Background(), jobs.NewJob(jobs.KindAlertEvaluate, uuid.New()))
	require.NoError(t, err)
	assert.Zero(t, f.props.queries)
}

func TestSendTestAlert_LeavesHistoryAlone(t *testing.T) {
	f := newAlertFixture(t)

	out, err := f.proc.SendTestAlert(context.Background(), f.search.ID, "")
	require.NoError(t, err)
	assert.True(t, out.Delivered)
	assert.Equal(t, []string{"owner@example.com"}, f.notifier.tests)

	job := jobs.NewJob(jobs.KindAlertTest, f.search.ID)
	job.Recipient = "other@example.com"
	require.NoError(t, f.proc.HandleTestAlert(context.Background(), job))
	assert.Equal(t, "other@example.com", f.notifier.tests[1])

	assert.Empty(t, f.alerts.saved)
	assert.Empty(t, f.searches.outcomes)
	assert.Nil(t, f.search.LastCheckedAt)

	_, err = f.proc.SendTestAlert(context.Background(), uuid.New(), "")
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestCleanupOldAlerts(t *testing.T) {
	f := newAlertFixture(t)
	f.alerts.deleted = 4

	n, err := f.proc.CleanupOldAlerts(context.Background(), 90*24*time.Hour)
	require.NoError(t, err)
	assert.EqualValues(t, 4, n)
	assert.Equal(t, f.now.AddDate(0, 0, -90), f.alerts.deleteCutoff)
}

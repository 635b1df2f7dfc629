package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/amirphl/evoteli/app/jobs"
	"github.com/amirphl/evoteli/app/services"
	"github.com/amirphl/evoteli/models"
	"github.com/amirphl/evoteli/repository"
	"github.com/amirphl/evoteli/utils"
	"github.com/google/uuid"
)

// Sync stages, as recorded in error_details
const (
	StageAccount = "account"
	StageToken   = "token_refresh"
	StageList    = "remote_list"
	StageExtract = "contact_extraction"
	StageUpload  = "upload"
	StageStats   = "match_rate"
)

var (
	ErrSyncInProgress      = errors.New("a sync for this audience is already in progress")
	ErrAccountNotConnected = errors.New("ads account is not connected")
)

// SyncConfig bounds one sync attempt
type SyncConfig struct {
	BatchSize     int
	MaxProperties int
	SettleDelay   time.Duration
	StaleAfter    time.Duration
}

// AudienceSyncOrchestrator pushes an audience's matching contacts to its
// remote customer-match list. Every stage commits its own progress, so an
// attempt that dies midway is resumed by the next one from persisted state.
type AudienceSyncOrchestrator struct {
	audiences  repository.AudienceRepository
	accounts   repository.AdsAccountRepository
	records    repository.AudienceSyncRecordRepository
	properties repository.PropertyRepository
	contacts   services.ContactSource
	platform   services.AdsPlatformClient
	sealer     services.TokenSealer
	cfg        SyncConfig
	logger     *log.Logger
	now        func() time.Time
	sleep      func(ctx context.Context, d time.Duration) error
}

func NewAudienceSyncOrchestrator(
	audiences repository.AudienceRepository,
	accounts repository.AdsAccountRepository,
	records repository.AudienceSyncRecordRepository,
	properties repository.PropertyRepository,
	contacts services.ContactSource,
	platform services.AdsPlatformClient,
	sealer services.TokenSealer,
	cfg SyncConfig,
	logger *log.Logger,
) *AudienceSyncOrchestrator {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = utils.DefaultUploadBatchSize
	}
	if cfg.MaxProperties <= 0 {
		cfg.MaxProperties = utils.DefaultMaxProperties
	}
	if cfg.SettleDelay < 0 {
		cfg.SettleDelay = 0
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = 30 * time.Minute
	}
	if logger == nil {
		logger = log.Default()
	}
	return &AudienceSyncOrchestrator{
		audiences:  audiences,
		accounts:   accounts,
		records:    records,
		properties: properties,
		contacts:   contacts,
		platform:   platform,
		sealer:     sealer,
		cfg:        cfg,
		logger:     logger,
		now:        utils.UTCNow,
		sleep:      sleepCtx,
	}
}

// BeginAttempt creates the PENDING record of a new attempt unless one is
// still running and not stale. The check and the insert are atomic.
func (o *AudienceSyncOrchestrator) BeginAttempt(ctx context.Context, audienceID uuid.UUID, trigger models.SyncTrigger) (*models.AudienceSyncRecord, error) {
	rec := &models.AudienceSyncRecord{
		AudienceID:  audienceID,
		StartedAt:   o.now(),
		Status:      models.SyncStatusPending,
		TriggeredBy: trigger,
	}
	err := o.records.BeginIfIdle(ctx, rec, o.cfg.StaleAfter)
	if errors.Is(err, repository.ErrAttemptRunning) {
		return nil, ErrSyncInProgress
	}
	if err != nil {
		return nil, fmt.Errorf("create sync record: %w", err)
	}
	return rec, nil
}

// AbandonAttempt closes a PENDING record whose job will not run
func (o *AudienceSyncOrchestrator) AbandonAttempt(ctx context.Context, rec *models.AudienceSyncRecord, cause error) {
	now := o.now()
	msg := fmt.Sprintf("sync job not run: %v", cause)
	err := o.records.UpdateProgress(ctx, rec.ID, models.AudienceSyncProgress{
		Status:       utils.ToPtr(models.SyncStatusFailed),
		CompletedAt:  &now,
		ErrorMessage: &msg,
	})
	if err != nil {
		o.logger.Printf("scheduler: abandon sync record id=%s failed: %v", rec.ID, err)
	}
}

// HandleSkippedSync runs when the pool skips an audience.sync job because
// another job holds the audience. A PENDING record created for the skipped
// job would otherwise block every new attempt until it turns stale.
func (o *AudienceSyncOrchestrator) HandleSkippedSync(ctx context.Context, job jobs.Job) error {
	if job.SyncRecordID == nil {
		return nil
	}
	rec, err := o.records.ByID(ctx, *job.SyncRecordID)
	if err != nil {
		return err
	}
	if rec == nil || rec.Status != models.SyncStatusPending {
		return nil
	}
	o.AbandonAttempt(ctx, rec, jobs.ErrSubjectBusy)
	return nil
}

// HandleSync is the audience.sync job handler
func (o *AudienceSyncOrchestrator) HandleSync(ctx context.Context, job jobs.Job) error {
	audience, err := o.audiences.ByID(ctx, job.SubjectID)
	if err != nil {
		return err
	}
	if audience == nil || !audience.IsActive {
		o.logger.Printf("scheduler: audience id=%s missing or inactive, skipped", job.SubjectID)
		if job.SyncRecordID != nil {
			o.AbandonAttempt(ctx, &models.AudienceSyncRecord{ID: *job.SyncRecordID}, errors.New("audience missing or inactive"))
		}
		return nil
	}

	var rec *models.AudienceSyncRecord
	if job.SyncRecordID != nil {
		rec, err = o.records.ByID(ctx, *job.SyncRecordID)
		if err != nil {
			return err
		}
		if rec != nil && rec.Status.Terminal() {
			o.logger.Printf("scheduler: sync record id=%s already %s, skipped", rec.ID, rec.Status)
			return nil
		}
	}
	if rec == nil {
		trigger := job.Trigger
		if trigger == "" {
			trigger = models.SyncTriggerAutoSync
		}
		rec, err = o.BeginAttempt(ctx, audience.ID, trigger)
		if errors.Is(err, ErrSyncInProgress) {
			o.logger.Printf("scheduler: audience id=%s already syncing, skipped", audience.ID)
			return nil
		}
		if err != nil {
			return err
		}
	}
	return o.Sync(ctx, audience, rec)
}

// attempt carries the mutable state of one Sync call
type attempt struct {
	audience *models.Audience
	record   *models.AudienceSyncRecord
	account  *models.AdsAccount
	creds    services.AdsCredentials
	meta     models.SyncMetadata
}

// Sync runs every stage of one attempt for audience, recording into rec.
// The returned error is the aborting stage's error, already persisted.
func (o *AudienceSyncOrchestrator) Sync(ctx context.Context, audience *models.Audience, rec *models.AudienceSyncRecord) error {
	a := &attempt{audience: audience, record: rec, meta: rec.SyncMetadata}
	started := o.now()

	err := o.records.UpdateProgress(ctx, rec.ID, models.AudienceSyncProgress{
		Status:    utils.ToPtr(models.SyncStatusInProgress),
		StartedAt: &started,
	})
	if err != nil {
		return fmt.Errorf("mark sync record in progress: %w", err)
	}
	if err := o.audiences.ApplySyncOutcome(ctx, audience.ID, models.AudienceSyncOutcome{SyncStatus: models.SyncStatusInProgress}); err != nil {
		return fmt.Errorf("mark audience in progress: %w", err)
	}

	if err := o.loadAccount(ctx, a); err != nil {
		return o.fail(ctx, a, StageAccount, err)
	}
	if err := o.ensureFreshToken(ctx, a); err != nil {
		return o.fail(ctx, a, StageToken, err)
	}
	if err := o.ensureRemoteList(ctx, a); err != nil {
		return o.fail(ctx, a, StageList, err)
	}
	contacts, err := o.extractContacts(ctx, a)
	if err != nil {
		return o.fail(ctx, a, StageExtract, err)
	}
	uploaded, err := o.upload(ctx, a, contacts)
	if err != nil {
		return o.fail(ctx, a, StageUpload, err)
	}

	var stats *services.ListStats
	if uploaded > 0 {
		stats = o.pollStats(ctx, a)
	}
	return o.complete(ctx, a, stats)
}

func (o *AudienceSyncOrchestrator) loadAccount(ctx context.Context, a *attempt) error {
	account, err := o.accounts.ByID(ctx, a.audience.AdsAccountID)
	if err != nil {
		return err
	}
	if account == nil || !account.IsActive || account.Status == models.AdsAccountStatusDisconnected {
		return ErrAccountNotConnected
	}
	access, err := o.sealer.Open(account.AccessToken)
	if err != nil {
		return fmt.Errorf("open access token: %w", err)
	}
	refresh, err := o.sealer.Open(account.RefreshToken)
	if err != nil {
		return fmt.Errorf("open refresh token: %w", err)
	}
	a.account = account
	a.creds = services.AdsCredentials{AccessToken: access, RefreshToken: refresh}
	return nil
}

// ensureFreshToken refreshes an expired access token and persists it before
// any list call. On failure the stored tokens stay as they were.
func (o *AudienceSyncOrchestrator) ensureFreshToken(ctx context.Context, a *attempt) error {
	if !a.account.TokenExpired(o.now()) {
		return nil
	}
	grant, err := o.platform.RefreshToken(ctx, a.creds.RefreshToken)
	if err != nil {
		return err
	}

	sealedAccess, err := o.sealer.Seal(grant.AccessToken)
	if err != nil {
		return err
	}
	upd := models.AdsAccountTokenUpdate{AccessToken: sealedAccess, TokenExpiresAt: grant.ExpiresAt}
	if grant.RefreshToken != "" && grant.RefreshToken != a.creds.RefreshToken {
		sealedRefresh, err := o.sealer.Seal(grant.RefreshToken)
		if err != nil {
			return err
		}
		upd.RefreshToken = &sealedRefresh
		a.creds.RefreshToken = grant.RefreshToken
	}
	if err := o.accounts.UpdateTokens(ctx, a.account.ID, upd); err != nil {
		return fmt.Errorf("persist refreshed token: %w", err)
	}
	a.creds.AccessToken = grant.AccessToken
	return nil
}

// ensureRemoteList creates the remote list once. An existing reference is reused as is.
func (o *AudienceSyncOrchestrator) ensureRemoteList(ctx context.Context, a *attempt) error {
	if a.audience.UserListResourceName != nil && *a.audience.UserListResourceName != "" {
		return nil
	}

	list, err := o.platform.CreateRemoteList(ctx, a.account.CustomerID, a.creds, a.audience.Name, utils.Deref(a.audience.Description))
	if err != nil {
		return err
	}
	if err := o.audiences.SetRemoteList(ctx, a.audience.ID, list.ResourceName, utils.ToPtr(list.ListID)); err != nil {
		return err
	}

	// a concurrent attempt may have won the conditional write
	fresh, err := o.audiences.ByID(ctx, a.audience.ID)
	if err != nil {
		return err
	}
	if fresh != nil && fresh.UserListResourceName != nil {
		a.audience.UserListResourceName = fresh.UserListResourceName
		a.audience.UserListID = fresh.UserListID
		return nil
	}
	a.audience.UserListResourceName = &list.ResourceName
	a.audience.UserListID = &list.ListID
	return nil
}

func (o *AudienceSyncOrchestrator) extractContacts(ctx context.Context, a *attempt) ([]services.Contact, error) {
	res, err := o.properties.Query(ctx, a.audience.Filters, repository.PropertyQueryOptions{
		AllMatches: true,
		MaxRecords: o.cfg.MaxProperties,
		Now:        o.now(),
	})
	if err != nil {
		return nil, err
	}
	contacts, err := o.contacts.ContactsFor(ctx, a.audience.OwnerID, res.Records)
	if err != nil {
		return nil, err
	}

	processed, extracted := len(res.Records), len(contacts)
	a.meta.Truncated = res.Truncated
	err = o.records.UpdateProgress(ctx, a.record.ID, models.AudienceSyncProgress{
		PropertiesProcessed: &processed,
		ContactsExtracted:   &extracted,
		SyncMetadata:        &a.meta,
	})
	if err != nil {
		return nil, err
	}
	err = o.audiences.ApplySyncOutcome(ctx, a.audience.ID, models.AudienceSyncOutcome{
		TotalProperties: &processed,
		TotalContacts:   &extracted,
	})
	if err != nil {
		return nil, err
	}
	if res.Truncated {
		o.logger.Printf("scheduler: audience id=%s matched %d properties, capped at %d", a.audience.ID, res.Total, o.cfg.MaxProperties)
	}
	return contacts, nil
}

// upload hashes contacts and sends them in fixed-size batches. The first
// failing batch aborts; what was uploaded before it is kept on the record.
func (o *AudienceSyncOrchestrator) upload(ctx context.Context, a *attempt, contacts []services.Contact) (int, error) {
	hashed, skipped := HashContacts(contacts)
	a.meta.SkippedNoKey = skipped
	a.meta.BatchSize = o.cfg.BatchSize
	if len(hashed) == 0 {
		return 0, nil
	}

	resourceName := *a.audience.UserListResourceName
	uploaded := 0
	for start := 0; start < len(hashed); start += o.cfg.BatchSize {
		end := min(start+o.cfg.BatchSize, len(hashed))
		res, err := o.platform.UploadHashedContacts(ctx, a.account.CustomerID, a.creds, resourceName, hashed[start:end])
		if err != nil {
			a.meta.BatchesFailed++
			a.meta.BatchErrors = append(a.meta.BatchErrors, fmt.Sprintf("batch %d: %v", start/o.cfg.BatchSize+1, err))
			perr := o.records.UpdateProgress(ctx, a.record.ID, models.AudienceSyncProgress{
				ContactsUploaded: &uploaded,
				SyncMetadata:     &a.meta,
			})
			if perr != nil {
				o.logger.Printf("scheduler: record upload progress of sync record id=%s failed: %v", a.record.ID, perr)
			}
			return uploaded, err
		}
		uploaded += res.Uploaded
		a.meta.BatchesSent++
		if a.meta.JobID == "" {
			a.meta.JobID = res.JobResourceName
		}
	}
	contactsUploadedTotal.Add(float64(uploaded))

	if err := o.records.UpdateProgress(ctx, a.record.ID, models.AudienceSyncProgress{
		ContactsUploaded: &uploaded,
		SyncMetadata:     &a.meta,
	}); err != nil {
		return uploaded, err
	}
	if err := o.audiences.ApplySyncOutcome(ctx, a.audience.ID, models.AudienceSyncOutcome{UploadedCount: &uploaded}); err != nil {
		return uploaded, err
	}
	return uploaded, nil
}

// pollStats waits for the platform to process the upload and reads the list
// size once. Failure only leaves a note in the metadata.
func (o *AudienceSyncOrchestrator) pollStats(ctx context.Context, a *attempt) *services.ListStats {
	if err := o.sleep(ctx, o.cfg.SettleDelay); err != nil {
		a.meta.StatsError = err.Error()
		return nil
	}
	stats, err := o.platform.PollListStats(ctx, a.account.CustomerID, a.creds, *a.audience.UserListResourceName)
	if err != nil {
		o.logger.Printf("scheduler: match rate poll for audience id=%s failed: %v", a.audience.ID, err)
		a.meta.StatsError = err.Error()
		return nil
	}
	return stats
}

func (o *AudienceSyncOrchestrator) complete(ctx context.Context, a *attempt, stats *services.ListStats) error {
	now := o.now()

	progress := models.AudienceSyncProgress{
		Status:       utils.ToPtr(models.SyncStatusCompleted),
		CompletedAt:  &now,
		SyncMetadata: &a.meta,
	}
	outcome := models.AudienceSyncOutcome{
		SyncStatus:     models.SyncStatusCompleted,
		ClearSyncError: true,
		LastSyncAt:     &now,
	}
	if stats != nil {
		matched := int(stats.Size)
		progress.ContactsMatched = &matched
		outcome.MatchedCount = &matched
		outcome.MatchRate = stats.MatchRatePercent
	}
	if a.audience.AutoSync {
		next := now.Add(a.audience.SyncFrequency())
		outcome.NextSyncAt = &next
	}

	if err := o.records.UpdateProgress(ctx, a.record.ID, progress); err != nil {
		return fmt.Errorf("complete sync record: %w", err)
	}
	if err := o.audiences.ApplySyncOutcome(ctx, a.audience.ID, outcome); err != nil {
		return fmt.Errorf("complete audience sync: %w", err)
	}
	if err := o.accounts.TouchLastSync(ctx, a.account.ID, now); err != nil {
		o.logger.Printf("scheduler: touch last sync of account id=%s failed: %v", a.account.ID, err)
	}

	audienceSyncsTotal.WithLabelValues(string(models.SyncStatusCompleted), "").Inc()
	o.logger.Printf("scheduler: audience id=%s synced (record id=%s)", a.audience.ID, a.record.ID)
	return nil
}

// fail closes the attempt as FAILED on both the record and the audience.
// next_sync_at is left alone so auto-sync retries on the next sweep.
func (o *AudienceSyncOrchestrator) fail(ctx context.Context, a *attempt, stage string, cause error) error {
	// the job deadline may be what failed; persist on a fresh one
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	now := o.now()
	msg := fmt.Sprintf("%s: %v", stage, cause)
	details, _ := json.Marshal(map[string]string{"stage": stage, "error": cause.Error()})

	err := o.records.UpdateProgress(wctx, a.record.ID, models.AudienceSyncProgress{
		Status:       utils.ToPtr(models.SyncStatusFailed),
		CompletedAt:  &now,
		ErrorMessage: &msg,
		ErrorDetails: details,
		SyncMetadata: &a.meta,
	})
	if err != nil {
		o.logger.Printf("scheduler: mark sync record id=%s failed: %v", a.record.ID, err)
	}
	err = o.audiences.ApplySyncOutcome(wctx, a.audience.ID, models.AudienceSyncOutcome{
		SyncStatus: models.SyncStatusFailed,
		SyncError:  &msg,
	})
	if err != nil {
		o.logger.Printf("scheduler: mark audience id=%s failed: %v", a.audience.ID, err)
	}

	audienceSyncsTotal.WithLabelValues(string(models.SyncStatusFailed), stage).Inc()
	o.logger.Printf("scheduler: sync of audience id=%s failed at %s: %v", a.audience.ID, stage, cause)
	return fmt.Errorf("%s: %w", stage, cause)
}

// ReapStale fails attempts left PENDING or IN_PROGRESS past the stale window,
// which happens when a worker dies or its job is abandoned.
func (o *AudienceSyncOrchestrator) ReapStale(ctx context.Context) (int, error) {
	now := o.now()
	stale, err := o.records.ListUnfinishedBefore(ctx, now.Add(-o.cfg.StaleAfter))
	if err != nil {
		return 0, err
	}
	msg := "sync attempt timed out"
	reaped := 0
	for _, rec := range stale {
		err := o.records.UpdateProgress(ctx, rec.ID, models.AudienceSyncProgress{
			Status:       utils.ToPtr(models.SyncStatusFailed),
			CompletedAt:  &now,
			ErrorMessage: &msg,
		})
		if err != nil {
			o.logger.Printf("scheduler: reap sync record id=%s failed: %v", rec.ID, err)
			continue
		}
		err = o.audiences.ApplySyncOutcome(ctx, rec.AudienceID, models.AudienceSyncOutcome{
			SyncStatus: models.SyncStatusFailed,
			SyncError:  &msg,
		})
		if err != nil {
			o.logger.Printf("scheduler: reap audience id=%s failed: %v", rec.AudienceID, err)
		}
		reaped++
	}
	return reaped, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

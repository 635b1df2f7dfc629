package scheduler

import (
	"context"
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
	"github.com/lib/pq"
)

// ErrNoRecipient is recorded on the alert when a search has no alert address
var ErrNoRecipient = errors.New("saved search has no alert recipient")

// TxRunner runs fn inside one database transaction
type TxRunner func(ctx context.Context, fn func(ctx context.Context) error) error

func runWithoutTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

// EvaluationResult summarizes one evaluate call
type EvaluationResult struct {
	Matches   int
	AlertID   *uuid.UUID
	Delivered bool
	CheckedAt time.Time
}

// AlertProcessor evaluates saved searches against the corpus and dispatches alerts
type AlertProcessor struct {
	properties repository.PropertyRepository
	searches   repository.SavedSearchRepository
	alerts     repository.SearchAlertRepository
	notifier   services.NotificationService
	tx         TxRunner
	logger     *log.Logger
	matchCap   int
	now        func() time.Time
}

func NewAlertProcessor(
	properties repository.PropertyRepository,
	searches repository.SavedSearchRepository,
	alerts repository.SearchAlertRepository,
	notifier services.NotificationService,
	tx TxRunner,
	logger *log.Logger,
	matchCap int,
) *AlertProcessor {
	if tx == nil {
		tx = runWithoutTx
	}
	if logger == nil {
		logger = log.Default()
	}
	if matchCap <= 0 {
		matchCap = 10000
	}
	return &AlertProcessor{
		properties: properties,
		searches:   searches,
		alerts:     alerts,
		notifier:   notifier,
		tx:         tx,
		logger:     logger,
		matchCap:   matchCap,
		now:        utils.UTCNow,
	}
}

// Evaluate runs one alert cycle. Records modified after the watermark are
// matched; with no watermark the whole corpus is. A cycle with matches sends
// one email and appends one SearchAlert, whatever the delivery outcome. The
// watermark advances unless the query itself fails.
func (p *AlertProcessor) Evaluate(ctx context.Context, search *models.SavedSearch) (*EvaluationResult, error) {
	now := p.now()

	res, err := p.properties.Query(ctx, search.Filters, repository.PropertyQueryOptions{
		ModifiedAfter: search.LastCheckedAt,
		AllMatches:    true,
		MaxRecords:    p.matchCap,
		WithAnalyses:  true,
		Now:           now,
	})
	if err != nil {
		alertEvaluationsTotal.WithLabelValues("failed").Inc()
		return nil, fmt.Errorf("evaluate saved search %s: %w", search.ID, err)
	}

	if res.Total == 0 {
		err := p.searches.RecordAlertOutcome(ctx, search.ID, models.SavedSearchAlertOutcome{
			LastCheckedAt:            now,
			NewMatchesSinceLastAlert: 0,
		})
		if err != nil {
			alertEvaluationsTotal.WithLabelValues("failed").Inc()
			return nil, fmt.Errorf("advance watermark of saved search %s: %w", search.ID, err)
		}
		alertEvaluationsTotal.WithLabelValues("no_match").Inc()
		return &EvaluationResult{CheckedAt: now}, nil
	}

	matches := int(res.Total)
	summaries := make([]services.PropertySummary, 0, len(res.Records))
	ids := make(pq.StringArray, 0, len(res.Records))
	for _, rec := range res.Records {
		summaries = append(summaries, services.SummarizeProperty(rec))
		ids = append(ids, rec.ID.String())
	}

	var outcome services.DeliveryOutcome
	if search.AlertEmail == nil || *search.AlertEmail == "" {
		outcome = services.DeliveryOutcome{Error: ErrNoRecipient.Error()}
	} else {
		outcome = p.notifier.SendPropertyAlert(ctx, services.AlertNotification{
			SearchID:   search.ID,
			SearchName: search.Name,
			Recipient:  *search.AlertEmail,
			Properties: summaries,
			MatchCount: matches,
		})
	}
	if outcome.Delivered {
		alertEmailsTotal.WithLabelValues("property_alert", "sent").Inc()
	} else {
		alertEmailsTotal.WithLabelValues("property_alert", "failed").Inc()
		p.logger.Printf("scheduler: alert email for saved search id=%s failed: %s", search.ID, outcome.Error)
	}

	alert := &models.SearchAlert{
		SavedSearchID: search.ID,
		SentAt:        now,
		PropertyCount: matches,
		PropertyIDs:   ids,
		EmailSent:     outcome.Delivered,
	}
	if outcome.DeliveryID != "" {
		alert.DeliveryID = utils.ToPtr(outcome.DeliveryID)
	}
	if outcome.Error != "" {
		alert.ErrorMessage = utils.ToPtr(outcome.Error)
	}

	err = p.tx(ctx, func(ctx context.Context) error {
		if err := p.alerts.Save(ctx, alert); err != nil {
			return err
		}
		return p.searches.RecordAlertOutcome(ctx, search.ID, models.SavedSearchAlertOutcome{
			LastCheckedAt:            now,
			NewMatchesSinceLastAlert: matches,
			TotalMatchesDelta:        matches,
		})
	})
	if err != nil {
		alertEvaluationsTotal.WithLabelValues("failed").Inc()
		return nil, fmt.Errorf("record alert of saved search %s: %w", search.ID, err)
	}

	alertEvaluationsTotal.WithLabelValues("matched").Inc()
	return &EvaluationResult{
		Matches:   matches,
		AlertID:   &alert.ID,
		Delivered: outcome.Delivered,
		CheckedAt: now,
	}, nil
}

// HandleEvaluate is the alert.evaluate job handler
func (p *AlertProcessor) HandleEvaluate(ctx context.Context, job jobs.Job) error {
	search, err := p.searches.ByID(ctx, job.SubjectID)
	if err != nil {
		return err
	}
	if search == nil || !search.Schedulable() {
		p.logger.Printf("scheduler: saved search id=%s missing or inactive, skipped", job.SubjectID)
		return nil
	}
	res, err := p.Evaluate(ctx, search)
	if err != nil {
		return err
	}
	if res.Matches > 0 {
		p.logger.Printf("scheduler: saved search id=%s matched %d properties (delivered=%t)", search.ID, res.Matches, res.Delivered)
	}
	return nil
}

// SendTestAlert sends a sample email for a search. Watermark and history are untouched.
func (p *AlertProcessor) SendTestAlert(ctx context.Context, searchID uuid.UUID, recipient string) (services.DeliveryOutcome, error) {
	search, err := p.searches.ByID(ctx, searchID)
	if err != nil {
		return services.DeliveryOutcome{}, err
	}
	if search == nil {
		return services.DeliveryOutcome{}, fmt.Errorf("saved search %s: %w", searchID, repository.ErrNotFound)
	}
	if recipient == "" {
		recipient = utils.Deref(search.AlertEmail)
	}
	if recipient == "" {
		return services.DeliveryOutcome{Error: ErrNoRecipient.Error()}, nil
	}

	outcome := p.notifier.SendTestAlert(ctx, recipient, search.Name, search.ID)
	if outcome.Delivered {
		alertEmailsTotal.WithLabelValues("test_alert", "sent").Inc()
	} else {
		alertEmailsTotal.WithLabelValues("test_alert", "failed").Inc()
	}
	return outcome, nil
}

// HandleTestAlert is the alert.test job handler
func (p *AlertProcessor) HandleTestAlert(ctx context.Context, job jobs.Job) error {
	outcome, err := p.SendTestAlert(ctx, job.SubjectID, job.Recipient)
	if err != nil {
		return err
	}
	if !outcome.Delivered {
		p.logger.Printf("scheduler: test alert for saved search id=%s failed: %s", job.SubjectID, outcome.Error)
	}
	return nil
}

// CleanupOldAlerts deletes alert history older than retention
func (p *AlertProcessor) CleanupOldAlerts(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := p.now().Add(-retention)
	n, err := p.alerts.DeleteSentBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("cleanup alerts before %s: %w", cutoff.Format(time.RFC3339), err)
	}
	return n, nil
}

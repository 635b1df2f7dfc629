// Package jobs runs the discrete units of background work issued by the scheduler and the API
package jobs

import (
	"context"
	"errors"
	"time"

	"github.com/amirphl/evoteli/models"
	"github.com/amirphl/evoteli/utils"
	"github.com/google/uuid"
)

type Kind string

const (
	KindAlertEvaluate Kind = "alert.evaluate"
	KindAudienceSync  Kind = "audience.sync"
	KindAlertTest     Kind = "alert.test"
)

var (
	ErrNoHandler   = errors.New("no handler registered for job kind")
	ErrPoolClosed  = errors.New("job pool is closed")
	ErrSubjectBusy = errors.New("another job for the same subject is running")
)

// Job is serializable so it can travel through a broker
type Job struct {
	ID           string             `json:"id"`
	Kind         Kind               `json:"kind"`
	SubjectID    uuid.UUID          `json:"subject_id"`
	SyncRecordID *uuid.UUID         `json:"sync_record_id,omitempty"`
	Trigger      models.SyncTrigger `json:"trigger,omitempty"`
	Recipient    string             `json:"recipient,omitempty"`
	EnqueuedAt   time.Time          `json:"enqueued_at"`
}

func NewJob(kind Kind, subjectID uuid.UUID) Job {
	return Job{
		ID:         uuid.NewString(),
		Kind:       kind,
		SubjectID:  subjectID,
		EnqueuedAt: utils.UTCNow(),
	}
}

// LockKey scopes mutual exclusion to one subscription. Test sends share
// nothing with evaluations, so they lock separately.
func (j Job) LockKey() string {
	return "job_lock:" + string(j.Kind) + ":" + j.SubjectID.String()
}

// Handler executes one job. Returned errors are logged and counted only.
type Handler func(ctx context.Context, job Job) error

// Dispatcher accepts jobs for asynchronous execution
type Dispatcher interface {
	Enqueue(ctx context.Context, job Job) error
}

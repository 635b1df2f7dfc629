package jobs

import (
	"context"
	"errors"
	"fmt"
	"log"
	"runtime/debug"
	"sync"
	"time"

	"github.com/amirphl/evoteli/utils"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
)

var (
	jobsProcessedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: utils.MetricsNamespace,
			Name:      "jobs_processed_total",
			Help:      "Total number of background jobs partitioned by kind and outcome",
		},
		[]string{"kind", "outcome"},
	)

	jobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: utils.MetricsNamespace,
			Name:      "job_duration_seconds",
			Help:      "Background job execution time in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300},
		},
		[]string{"kind"},
	)

	jobsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: utils.MetricsNamespace,
			Name:      "jobs_inflight",
			Help:      "Number of background jobs currently executing",
		},
	)
)

// Locker provides per-subject mutual exclusion across processes. Acquire
// returns an owner token; Release only frees the key while that token holds it.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (token string, ok bool, err error)
	Release(ctx context.Context, key, token string) error
}

// releaseScript deletes the key only when it still carries the caller's token
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker uses SET NX with a TTL so a crashed worker never holds a lock forever
type RedisLocker struct {
	rc     *redis.Client
	prefix string
}

func NewRedisLocker(rc *redis.Client, prefix string) *RedisLocker {
	return &RedisLocker{rc: rc, prefix: prefix}
}

func (l *RedisLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	token := uuid.NewString()
	ok, err := l.rc.SetNX(ctx, l.prefix+key, token, ttl).Result()
	if err != nil || !ok {
		return "", false, err
	}
	return token, true, nil
}

func (l *RedisLocker) Release(ctx context.Context, key, token string) error {
	return releaseScript.Run(ctx, l.rc, []string{l.prefix + key}, token).Err()
}

type memoryLease struct {
	token string
	until time.Time
}

// MemoryLocker is the single-process Locker
type MemoryLocker struct {
	mu   sync.Mutex
	held map[string]memoryLease
}

func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{held: map[string]memoryLease{}}
}

func (l *MemoryLocker) Acquire(_ context.Context, key string, ttl time.Duration) (string, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if lease, ok := l.held[key]; ok && time.Now().Before(lease.until) {
		return "", false, nil
	}
	token := uuid.NewString()
	l.held[key] = memoryLease{token: token, until: time.Now().Add(ttl)}
	return token, true, nil
}

func (l *MemoryLocker) Release(_ context.Context, key, token string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if lease, ok := l.held[key]; ok && lease.token == token {
		delete(l.held, key)
	}
	return nil
}

type PoolConfig struct {
	Workers    int
	JobTimeout time.Duration
	BufferSize int
}

// Pool runs jobs on a bounded set of workers. Every job gets a hard timeout,
// panics are contained to the job, and jobs for the same subject never overlap.
type Pool struct {
	cfg      PoolConfig
	locker   Locker
	logger   *log.Logger
	handlers map[Kind]Handler
	skipped  map[Kind]Handler

	queue  chan Job
	wg     sync.WaitGroup
	mu     sync.RWMutex
	closed bool
}

func NewPool(cfg PoolConfig, locker Locker, logger *log.Logger) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = 4 * time.Minute
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1024
	}
	if locker == nil {
		locker = NewMemoryLocker()
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Pool{
		cfg:      cfg,
		locker:   locker,
		logger:   logger,
		handlers: map[Kind]Handler{},
		skipped:  map[Kind]Handler{},
		queue:    make(chan Job, cfg.BufferSize),
	}
}

// Handle registers h for kind. Call before Start.
func (p *Pool) Handle(kind Kind, h Handler) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handlers[kind] = h
}

// OnSkip registers h to run when a job of kind is skipped because another
// job for its subject holds the lock. It lets the job close what it owns.
func (p *Pool) OnSkip(kind Kind, h Handler) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.skipped[kind] = h
}

// Start launches the workers; they exit when ctx is done or Stop is called
func (p *Pool) Start(ctx context.Context) {
	for i := 0; i < p.cfg.Workers; i++ {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case job, ok := <-p.queue:
					if !ok {
						return
					}
					_ = p.Run(ctx, job)
				}
			}
		}()
	}
}

// Enqueue implements Dispatcher for in-process execution
func (p *Pool) Enqueue(ctx context.Context, job Job) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPoolClosed
	}
	select {
	case p.queue <- job:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop stops accepting jobs and waits for queued ones to drain
func (p *Pool) Stop() {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.queue)
	}
	p.mu.Unlock()
	p.wg.Wait()
}

// Run executes job on the calling goroutine
func (p *Pool) Run(ctx context.Context, job Job) (err error) {
	p.mu.RLock()
	h, ok := p.handlers[job.Kind]
	p.mu.RUnlock()
	if !ok {
		jobsProcessedTotal.WithLabelValues(string(job.Kind), "unhandled").Inc()
		p.logger.Printf("jobs: no handler for kind=%s id=%s", job.Kind, job.ID)
		return fmt.Errorf("%w: %s", ErrNoHandler, job.Kind)
	}

	// lock TTL must exceed the job timeout
	token, acquired, lerr := p.locker.Acquire(ctx, job.LockKey(), p.cfg.JobTimeout+30*time.Second)
	if lerr != nil {
		p.logger.Printf("jobs: lock failed for kind=%s subject=%s: %v", job.Kind, job.SubjectID, lerr)
		jobsProcessedTotal.WithLabelValues(string(job.Kind), "lock_error").Inc()
		return lerr
	}
	if !acquired {
		p.logger.Printf("jobs: skipped kind=%s subject=%s: already running", job.Kind, job.SubjectID)
		jobsProcessedTotal.WithLabelValues(string(job.Kind), "skipped").Inc()
		p.runSkipped(ctx, job)
		return ErrSubjectBusy
	}
	defer func() {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := p.locker.Release(rctx, job.LockKey(), token); err != nil {
			p.logger.Printf("jobs: unlock failed for kind=%s subject=%s: %v", job.Kind, job.SubjectID, err)
		}
	}()

	jobCtx, cancel := context.WithTimeout(ctx, p.cfg.JobTimeout)
	defer cancel()

	start := time.Now()
	jobsInFlight.Inc()
	defer func() {
		jobsInFlight.Dec()
		if r := recover(); r != nil {
			p.logger.Printf("jobs: panic in kind=%s id=%s: %v\n%s", job.Kind, job.ID, r, debug.Stack())
			err = fmt.Errorf("job panicked: %v", r)
		}
		jobDuration.WithLabelValues(string(job.Kind)).Observe(time.Since(start).Seconds())
		jobsProcessedTotal.WithLabelValues(string(job.Kind), outcome(err)).Inc()
	}()

	err = h(jobCtx, job)
	if err != nil {
		p.logger.Printf("jobs: kind=%s subject=%s id=%s failed: %v", job.Kind, job.SubjectID, job.ID, err)
	}
	return err
}

func (p *Pool) runSkipped(ctx context.Context, job Job) {
	p.mu.RLock()
	h, ok := p.skipped[job.Kind]
	p.mu.RUnlock()
	if !ok {
		return
	}
	sctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			p.logger.Printf("jobs: panic in skip handler kind=%s id=%s: %v", job.Kind, job.ID, r)
		}
	}()
	if err := h(sctx, job); err != nil {
		p.logger.Printf("jobs: skip handler kind=%s id=%s failed: %v", job.Kind, job.ID, err)
	}
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		return "error"
	}
}

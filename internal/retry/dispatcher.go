package retry

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/smallbiznis/paycore/internal/clock"
	obsmetrics "github.com/smallbiznis/paycore/internal/observability/metrics"
	"github.com/smallbiznis/paycore/internal/paymenterror"
	"github.com/smallbiznis/paycore/pkg/log/ctxlogger"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Handler runs one attempt of a job. A nil error completes the job; any
// other error is classified and either rescheduled or failed.
type Handler func(ctx context.Context, job Job) error

type DispatcherParams struct {
	fx.In

	Queue     *Queue
	Scheduler *Scheduler
	Log       *zap.Logger
	Clock     clock.Clock
}

type Dispatcher struct {
	queue     *Queue
	scheduler *Scheduler
	log       *zap.Logger
	clock     clock.Clock

	mu       sync.RWMutex
	handlers map[string]Handler
}

func NewDispatcher(p DispatcherParams) *Dispatcher {
	return &Dispatcher{
		queue:     p.Queue,
		scheduler: p.Scheduler,
		log:       p.Log.Named("retry.dispatcher"),
		clock:     p.Clock,
		handlers:  make(map[string]Handler),
	}
}

// Register binds a handler to a job type. Each type has one handler.
func (d *Dispatcher) Register(jobType string, h Handler) error {
	if jobType == "" || h == nil {
		return ErrInvalidJob
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, exists := d.handlers[jobType]; exists {
		return fmt.Errorf("%w: %s", ErrHandlerExists, jobType)
	}
	d.handlers[jobType] = h
	return nil
}

func (d *Dispatcher) handler(jobType string) (Handler, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	h, ok := d.handlers[jobType]
	return h, ok
}

// DispatchDue claims up to limit due jobs and runs them in order. It returns
// the number of jobs claimed. Handler failures are recorded on the job, not
// returned; only queue errors are.
func (d *Dispatcher) DispatchDue(ctx context.Context, limit int) (int, error) {
	jobs, err := d.queue.ClaimDue(ctx, limit)
	if err != nil {
		return 0, err
	}
	var errs error
	for _, job := range jobs {
		if ctx.Err() != nil {
			return len(jobs), errors.Join(errs, ctx.Err())
		}
		if err := d.run(ctx, job); err != nil {
			errs = errors.Join(errs, err)
		}
	}
	return len(jobs), errs
}

func (d *Dispatcher) run(ctx context.Context, job Job) error {
	ctx = ctxlogger.ContextWithJob(ctx, job.JobType, job.ID.String(), job.Attempt)
	log := ctxlogger.WithContext(ctx, d.log)
	metrics := obsmetrics.Scheduler()

	h, ok := d.handler(job.JobType)
	if !ok {
		log.Error("retry job has no handler")
		metrics.IncRetryOutcome(job.JobType, string(job.ErrorKind), obsmetrics.RetryOutcomeExhausted)
		return d.queue.Fail(ctx, job.ID, ErrNoHandler.Error())
	}

	runErr := h(ctx, job)
	if runErr == nil {
		metrics.IncRetryOutcome(job.JobType, string(job.ErrorKind), obsmetrics.RetryOutcomeSucceeded)
		log.Info("retry job succeeded")
		return d.queue.Complete(ctx, job.ID)
	}

	classified := paymenterror.Classify(runErr)
	next := d.scheduler.Decide(classified, job.Attempt+1)
	if !next.Retry {
		metrics.IncRetryOutcome(job.JobType, string(classified.Kind), obsmetrics.RetryOutcomeExhausted)
		log.Warn("retry job exhausted",
			zap.String("error_kind", string(classified.Kind)),
			zap.Error(runErr),
		)
		return d.queue.Fail(ctx, job.ID, runErr.Error())
	}

	runAt := d.clock.Now().Add(next.Delay)
	metrics.IncRetryOutcome(job.JobType, string(classified.Kind), obsmetrics.RetryOutcomeRescheduled)
	log.Info("retry job rescheduled",
		zap.String("error_kind", string(classified.Kind)),
		zap.Int("next_attempt", next.Attempt),
		zap.Duration("delay", next.Delay),
		zap.Error(runErr),
	)
	return d.queue.Reschedule(ctx, job.ID, next.Attempt, runAt, runErr.Error())
}

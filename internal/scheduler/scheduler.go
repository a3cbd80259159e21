package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/paycore/internal/audit/domain"
	"github.com/smallbiznis/paycore/internal/clock"
	obscontext "github.com/smallbiznis/paycore/internal/observability/context"
	obsmetrics "github.com/smallbiznis/paycore/internal/observability/metrics"
	"github.com/smallbiznis/paycore/internal/payment/ledger"
	"github.com/smallbiznis/paycore/internal/ratelimit"
	"github.com/smallbiznis/paycore/internal/retry"
	subscriptiondomain "github.com/smallbiznis/paycore/internal/subscription/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	JobRetryDispatch         = "retry_dispatch"
	JobSubscriptionPeriodEnd = "subscription_period_end"
	JobWebhookStaleClaims    = "webhook_stale_claims"

	leaderKey = "paycore:scheduler:leader"
)

var ErrInvalidConfig = errors.New("scheduler: missing dependency")

type Params struct {
	fx.In

	Log           *zap.Logger
	GenID         *snowflake.Node
	Clock         clock.Clock
	Dispatcher    *retry.Dispatcher
	Subscriptions subscriptiondomain.Service
	Ledger        *ledger.Ledger
	Locker        *ratelimit.Locker `optional:"true"`
	Config        Config            `optional:"true"`
}

// Scheduler drives the background work of the payment core: due retry
// jobs, period-end cancellations and abandoned webhook claims. With a
// locker configured only the instance holding the leader lease runs jobs.
type Scheduler struct {
	log           *zap.Logger
	cfg           Config
	genID         *snowflake.Node
	clock         clock.Clock
	dispatcher    *retry.Dispatcher
	subscriptions subscriptiondomain.Service
	ledger        *ledger.Ledger
	locker        *ratelimit.Locker

	leaseMu sync.Mutex
	lease   *ratelimit.Lease
}

func New(p Params) (*Scheduler, error) {
	if p.Log == nil || p.GenID == nil || p.Clock == nil || p.Dispatcher == nil || p.Subscriptions == nil || p.Ledger == nil {
		return nil, ErrInvalidConfig
	}
	return &Scheduler{
		log:           p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:           p.Config.withDefaults(),
		genID:         p.GenID,
		clock:         p.Clock,
		dispatcher:    p.Dispatcher,
		subscriptions: p.Subscriptions,
		ledger:        p.Ledger,
		locker:        p.Locker,
	}, nil
}

func (s *Scheduler) runJob(
	parent context.Context,
	name string,
	batchSize int,
	timeout time.Duration,
	fn func(ctx context.Context) error,
) error {
	start := time.Now()
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	ctx = obscontext.WithActor(ctx, string(auditdomain.ActorTypeScheduler), name)
	ctx, run, owner := s.ensureJobRun(ctx, name, batchSize)
	if owner {
		s.logJobStart(ctx, run)
	}
	log := s.logger(ctx).With(
		zap.String("job", name),
		zap.String("run_id", run.runID),
	)
	schedMetrics := obsmetrics.Scheduler()
	schedMetrics.IncJobRun(name)

	err := fn(ctx)
	schedMetrics.ObserveJobDuration(name, time.Since(start))
	if owner {
		if err != nil && run.errorCount == 0 {
			run.IncError()
		}
		s.logJobFinish(ctx, run)
	}
	if err == nil {
		return nil
	}

	// a deadline is a soft timeout; the next tick picks up the rest
	isTimeout := errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
	if isTimeout {
		schedMetrics.IncJobTimeout(name)
	}
	schedMetrics.IncJobError(name, err)
	if isTimeout {
		log.Warn("job timed out",
			zap.Duration("timeout", timeout),
			zap.Error(err),
		)
		return nil
	}

	return fmt.Errorf("%s: %w", name, err)
}

// RunOnce runs every enabled job a single time. It is a no-op on
// instances that do not hold the leader lease.
func (s *Scheduler) RunOnce(parent context.Context) error {
	if !s.acquireLeadership(parent) {
		obsmetrics.Scheduler().IncBatchDeferred("scheduler", obsmetrics.SchedulerBatchDeferredReasonLeaderLock)
		s.log.Debug("scheduler.leader.standby")
		return nil
	}

	var err error
	jobs := []struct {
		Name string
		Run  func(context.Context) error
	}{
		{JobRetryDispatch, s.RetryDispatchJob},
		{JobSubscriptionPeriodEnd, s.SubscriptionPeriodEndJob},
		{JobWebhookStaleClaims, s.WebhookStaleClaimsJob},
	}
	for _, job := range jobs {
		if !s.isJobEnabled(job.Name) {
			continue
		}
		err = errors.Join(err, s.runJob(parent, job.Name, s.cfg.BatchSize, s.cfg.JobTimeout, job.Run))
	}
	return err
}

func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()
	defer s.releaseLeadership()
	nextRun := time.Now().Add(s.cfg.RunInterval)
	schedMetrics := obsmetrics.Scheduler()

	for {
		runLag := time.Since(nextRun)
		if runLag > 0 {
			schedMetrics.ObserveRunLoopLag(runLag)
		}
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("scheduler run failed", zap.Error(err))
		}
		nextRun = nextRun.Add(s.cfg.RunInterval)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Scheduler) isJobEnabled(jobName string) bool {
	if len(s.cfg.EnabledJobs) == 0 {
		return true
	}
	for _, enabled := range s.cfg.EnabledJobs {
		if strings.EqualFold(strings.TrimSpace(enabled), jobName) {
			return true
		}
	}
	return false
}

// RetryDispatchJob drains due retry jobs in batches. Handler failures are
// written back to the queue by the dispatcher and only counted here.
func (s *Scheduler) RetryDispatchJob(ctx context.Context) error {
	ctx, run, owner := s.ensureJobRun(ctx, JobRetryDispatch, s.cfg.BatchSize)
	if owner {
		s.logJobStart(ctx, run)
		defer s.logJobFinish(ctx, run)
	}
	schedMetrics := obsmetrics.Scheduler()

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		claimed, err := s.dispatcher.DispatchDue(ctx, s.cfg.BatchSize)
		run.AddProcessed(claimed)
		schedMetrics.AddBatchProcessed(JobRetryDispatch, obsmetrics.LockResourceRetryJobsDue, claimed)
		if err != nil {
			if claimed == 0 {
				s.logSchedulerError(ctx, run, "scheduler.retry.claim.failed", err)
				return err
			}
			s.logSchedulerError(ctx, run, "scheduler.retry.dispatch.failed", err, zap.Int("claimed", claimed))
		}
		if claimed < s.cfg.BatchSize {
			if claimed == 0 {
				schedMetrics.IncBatchDeferred(JobRetryDispatch, obsmetrics.SchedulerBatchDeferredReasonSkipLockedEmpty)
			}
			return nil
		}
	}
}

// SubscriptionPeriodEndJob ends subscriptions whose cancel-at-period-end
// period has passed.
func (s *Scheduler) SubscriptionPeriodEndJob(ctx context.Context) error {
	ctx, run, owner := s.ensureJobRun(ctx, JobSubscriptionPeriodEnd, s.cfg.BatchSize)
	if owner {
		s.logJobStart(ctx, run)
		defer s.logJobFinish(ctx, run)
	}
	schedMetrics := obsmetrics.Scheduler()

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		ended, err := s.subscriptions.SweepPeriodEnd(ctx, s.cfg.BatchSize)
		if err != nil {
			s.logSchedulerError(ctx, run, "scheduler.subscription.sweep.failed", err)
			return err
		}
		run.AddProcessed(ended)
		schedMetrics.AddBatchProcessed(JobSubscriptionPeriodEnd, obsmetrics.LockResourceSubscriptionsDue, ended)
		if ended < s.cfg.BatchSize {
			return nil
		}
	}
}

// WebhookStaleClaimsJob frees webhook events whose claim expired while
// unprocessed, so the gateway's redelivery is not turned away.
func (s *Scheduler) WebhookStaleClaimsJob(ctx context.Context) error {
	ctx, run, owner := s.ensureJobRun(ctx, JobWebhookStaleClaims, s.cfg.BatchSize)
	if owner {
		s.logJobStart(ctx, run)
		defer s.logJobFinish(ctx, run)
	}

	released, err := s.ledger.ReleaseStaleClaims(ctx)
	if err != nil {
		s.logSchedulerError(ctx, run, "scheduler.webhook.release.failed", err)
		return err
	}
	run.AddProcessed(int(released))
	obsmetrics.Scheduler().AddBatchProcessed(JobWebhookStaleClaims, obsmetrics.LockResourceStaleWebhookClaim, int(released))
	if released > 0 {
		s.logger(ctx).Info("scheduler.webhook.claims.released", zap.Int64("count", released))
	}
	return nil
}

// acquireLeadership reports whether this instance should run jobs. Without
// a locker every instance runs; the queries underneath skip locked rows, so
// overlapping instances only cost duplicate work. A redis failure is treated
// the same way.
func (s *Scheduler) acquireLeadership(ctx context.Context) bool {
	if s.locker == nil {
		return true
	}
	s.leaseMu.Lock()
	defer s.leaseMu.Unlock()

	if s.lease != nil {
		held, err := s.locker.Extend(ctx, s.lease, s.cfg.LeaderLockTTL)
		if err != nil {
			s.log.Warn("scheduler.leader.extend.failed", zap.Error(err))
			return true
		}
		if held {
			return true
		}
		s.log.Warn("scheduler.leader.lost")
		s.lease = nil
	}

	lease, err := s.locker.TryAcquire(ctx, leaderKey, s.cfg.LeaderLockTTL)
	if err != nil {
		s.log.Warn("scheduler.leader.acquire.failed", zap.Error(err))
		return true
	}
	if lease == nil {
		return false
	}
	s.lease = lease
	s.log.Info("scheduler.leader.acquired")
	return true
}

func (s *Scheduler) releaseLeadership() {
	s.leaseMu.Lock()
	defer s.leaseMu.Unlock()
	if s.locker == nil || s.lease == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.locker.Release(ctx, s.lease); err != nil {
		s.log.Warn("scheduler.leader.release.failed", zap.Error(err))
	}
	s.lease = nil
}

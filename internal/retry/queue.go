package retry

import (
	"context"
	"encoding/json"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/paycore/internal/clock"
	obsmetrics "github.com/smallbiznis/paycore/internal/observability/metrics"
	"github.com/smallbiznis/paycore/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const defaultLease = 2 * time.Minute

type QueueParams struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
}

// Queue persists retry jobs in retry_jobs. Jobs survive restarts and are
// claimed with SKIP LOCKED so several workers can drain the table.
type Queue struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
	lease time.Duration
}

func NewQueue(p QueueParams) *Queue {
	return &Queue{
		db:    p.DB,
		log:   p.Log.Named("retry.queue"),
		genID: p.GenID,
		clock: p.Clock,
		lease: defaultLease,
	}
}

// Enqueue inserts a job unless one with the same dedupe key exists. tx may be
// nil; when set the insert joins the caller's transaction.
func (q *Queue) Enqueue(ctx context.Context, tx *gorm.DB, req EnqueueRequest) (bool, error) {
	if err := req.validate(); err != nil {
		return false, err
	}
	payload := []byte("{}")
	if req.Payload != nil {
		encoded, err := json.Marshal(req.Payload)
		if err != nil {
			return false, err
		}
		payload = encoded
	}
	if tx == nil {
		tx = q.db
	}

	now := q.clock.Now().UTC()
	job := Job{
		ID:        q.genID.Generate(),
		JobType:   req.JobType,
		ErrorKind: req.ErrorKind,
		DedupeKey: req.DedupeKey,
		Payload:   datatypes.JSON(payload),
		Attempt:   req.Attempt,
		Status:    JobStatusPending,
		RunAt:     req.RunAt.UTC(),
		CreatedAt: now,
		UpdatedAt: now,
	}
	res := tx.WithContext(ctx).
		Clauses(db.IgnoreDuplicate("dedupe_key")).
		Create(&job)
	if res.Error != nil {
		return false, res.Error
	}
	inserted := res.RowsAffected > 0
	if inserted {
		q.log.Info("retry job enqueued",
			zap.String("job_type", req.JobType),
			zap.String("dedupe_key", req.DedupeKey),
			zap.String("error_kind", string(req.ErrorKind)),
			zap.Int("attempt", req.Attempt),
			zap.Time("run_at", req.RunAt.UTC()),
		)
	}
	return inserted, nil
}

// ClaimDue leases up to limit due jobs. Running jobs whose lease expired are
// reclaimed so a crashed worker does not strand them.
func (q *Queue) ClaimDue(ctx context.Context, limit int) ([]Job, error) {
	if limit <= 0 {
		return nil, nil
	}
	now := q.clock.Now().UTC()
	leaseUntil := now.Add(q.lease)

	var jobs []Job
	err := q.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		lockStart := time.Now()
		err := tx.Raw(
			`SELECT id, job_type, error_kind, dedupe_key, payload, attempt, status,
			        run_at, locked_until, last_error, created_at, updated_at
			 FROM retry_jobs
			 WHERE (status = ? AND run_at <= ?)
			    OR (status = ? AND locked_until < ?)
			 ORDER BY run_at ASC, id ASC
			 LIMIT ?`+db.ForUpdateSkipLocked(tx),
			JobStatusPending, now,
			JobStatusRunning, now,
			limit,
		).Scan(&jobs).Error
		obsmetrics.Scheduler().ObserveDBLockWait(obsmetrics.LockResourceRetryJobsDue, time.Since(lockStart))
		if err != nil {
			return err
		}
		if len(jobs) == 0 {
			return nil
		}

		ids := make([]snowflake.ID, 0, len(jobs))
		for i := range jobs {
			ids = append(ids, jobs[i].ID)
			jobs[i].Status = JobStatusRunning
			jobs[i].LockedUntil = &leaseUntil
		}
		return tx.Exec(
			`UPDATE retry_jobs
			 SET status = ?, locked_until = ?, updated_at = ?
			 WHERE id IN ?`,
			JobStatusRunning, leaseUntil, now, ids,
		).Error
	})
	if err != nil {
		return nil, err
	}
	return jobs, nil
}

// Complete marks a running job as succeeded.
func (q *Queue) Complete(ctx context.Context, id snowflake.ID) error {
	now := q.clock.Now().UTC()
	return q.exec(ctx, `UPDATE retry_jobs
		 SET status = ?, locked_until = NULL, updated_at = ?
		 WHERE id = ?`, JobStatusSucceeded, now, id)
}

// Reschedule returns a job to pending with the next attempt number.
func (q *Queue) Reschedule(ctx context.Context, id snowflake.ID, attempt int, runAt time.Time, lastErr string) error {
	now := q.clock.Now().UTC()
	return q.exec(ctx, `UPDATE retry_jobs
		 SET status = ?, attempt = ?, run_at = ?, locked_until = NULL,
		     last_error = ?, updated_at = ?
		 WHERE id = ?`, JobStatusPending, attempt, runAt.UTC(), truncate(lastErr), now, id)
}

// Fail marks a job as terminally failed.
func (q *Queue) Fail(ctx context.Context, id snowflake.ID, lastErr string) error {
	now := q.clock.Now().UTC()
	return q.exec(ctx, `UPDATE retry_jobs
		 SET status = ?, locked_until = NULL, last_error = ?, updated_at = ?
		 WHERE id = ?`, JobStatusFailed, truncate(lastErr), now, id)
}

// Get loads a job by id.
func (q *Queue) Get(ctx context.Context, id snowflake.ID) (*Job, error) {
	var job Job
	err := q.db.WithContext(ctx).Raw(
		`SELECT id, job_type, error_kind, dedupe_key, payload, attempt, status,
		        run_at, locked_until, last_error, created_at, updated_at
		 FROM retry_jobs
		 WHERE id = ?`,
		id,
	).Scan(&job).Error
	if err != nil {
		return nil, err
	}
	if job.ID == 0 {
		return nil, ErrJobNotFound
	}
	return &job, nil
}

func (q *Queue) exec(ctx context.Context, stmt string, args ...any) error {
	res := q.db.WithContext(ctx).Exec(stmt, args...)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrJobNotFound
	}
	return nil
}

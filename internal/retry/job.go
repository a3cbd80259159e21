package retry

import (
	"encoding/json"
	"errors"
	"time"
	"unicode/utf8"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/paycore/internal/paymenterror"
	"gorm.io/datatypes"
)

type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusSucceeded JobStatus = "succeeded"
	JobStatusFailed    JobStatus = "failed"
)

const (
	JobTypePaymentRetry = "payment.retry"
	JobTypeRefundRetry  = "refund.retry"
)

const maxLastErrorLen = 1024

var (
	ErrInvalidJob     = errors.New("invalid_retry_job")
	ErrJobNotFound    = errors.New("retry_job_not_found")
	ErrNoHandler      = errors.New("retry_handler_not_registered")
	ErrHandlerExists  = errors.New("retry_handler_already_registered")
	ErrInvalidPayload = errors.New("invalid_retry_payload")
)

// Job is a row in retry_jobs. Attempt is the attempt number the job runs as.
type Job struct {
	ID          snowflake.ID      `gorm:"column:id;primaryKey"`
	JobType     string            `gorm:"column:job_type"`
	ErrorKind   paymenterror.Kind `gorm:"column:error_kind"`
	DedupeKey   string            `gorm:"column:dedupe_key"`
	Payload     datatypes.JSON    `gorm:"column:payload"`
	Attempt     int               `gorm:"column:attempt"`
	Status      JobStatus         `gorm:"column:status"`
	RunAt       time.Time         `gorm:"column:run_at"`
	LockedUntil *time.Time        `gorm:"column:locked_until"`
	LastError   *string           `gorm:"column:last_error"`
	CreatedAt   time.Time         `gorm:"column:created_at"`
	UpdatedAt   time.Time         `gorm:"column:updated_at"`
}

func (Job) TableName() string { return "retry_jobs" }

// Decode unmarshals the job payload into out.
func (j Job) Decode(out any) error {
	if len(j.Payload) == 0 {
		return ErrInvalidPayload
	}
	if err := json.Unmarshal(j.Payload, out); err != nil {
		return errors.Join(ErrInvalidPayload, err)
	}
	return nil
}

// EnqueueRequest describes a job to insert. Payload is marshalled to JSON.
type EnqueueRequest struct {
	JobType   string
	ErrorKind paymenterror.Kind
	DedupeKey string
	Payload   any
	Attempt   int
	RunAt     time.Time
}

func (r EnqueueRequest) validate() error {
	if r.JobType == "" || r.DedupeKey == "" || r.Attempt < 1 || r.RunAt.IsZero() {
		return ErrInvalidJob
	}
	return nil
}

func truncate(msg string) string {
	if len(msg) <= maxLastErrorLen {
		return msg
	}
	cut := maxLastErrorLen
	for cut > 0 && !utf8.RuneStart(msg[cut]) {
		cut--
	}
	return msg[:cut]
}

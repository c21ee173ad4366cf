package queue

import (
	"context"
	"time"
)

type JobType string

// JobProcessBatch hands one request group to the settlement workers.
const JobProcessBatch JobType = "processBatch"

type Payload struct {
	GroupID string `json:"groupId"`
}

// Message is the wire form of a dispatched job.
type Message struct {
	Type    JobType `json:"type"`
	Payload Payload `json:"payload"`
}

type JobHandle struct {
	ID    string
	Queue string
}

// Job is what a Handler receives. AttemptsMade counts earlier failed attempts.
type Job struct {
	ID           string
	Type         JobType
	Payload      Payload
	AttemptsMade int
	MaxAttempts  int
}

// FinalAttempt reports whether a failure now exhausts the retry budget.
func (j *Job) FinalAttempt() bool {
	return j.AttemptsMade+1 >= j.MaxAttempts
}

type Handler func(ctx context.Context, job *Job) error

// Queue is a durable at-least-once job queue bound to one aggregator type.
type Queue interface {
	Name() string
	Enqueue(ctx context.Context, jobType JobType, payload Payload) (*JobHandle, error)
	// RegisterConsumer starts at most concurrency parallel handler
	// invocations. It returns once the consumers are running; they stop when
	// ctx is done or Close is called.
	RegisterConsumer(ctx context.Context, concurrency int, h Handler) error
	Close() error
}

type Stats struct {
	Waiting int64 `json:"waiting"`
	Active  int64 `json:"active"`
	Delayed int64 `json:"delayed"`
	Failed  int64 `json:"failed"`
}

type FailedJob struct {
	ID           string    `json:"id"`
	Type         JobType   `json:"type"`
	GroupID      string    `json:"groupId"`
	AttemptsMade int       `json:"attemptsMade"`
	Reason       string    `json:"reason"`
	FailedAt     time.Time `json:"failedAt"`
}

// Inspector is implemented by backends that can report their backlog.
type Inspector interface {
	Stats(ctx context.Context) (Stats, error)
	Failed(ctx context.Context, limit int64) ([]FailedJob, error)
}

type Options struct {
	Attempts         int
	BackoffDelay     time.Duration
	RemoveOnComplete bool
	PollInterval     time.Duration
	// StallTimeout is how long an active job may go without a consumer
	// heartbeat before it is put back on the wait list.
	StallTimeout time.Duration
}

// DefaultOptions: three attempts, exponential backoff from one second,
// completed jobs dropped from the backlog, stalled jobs reclaimed after 30s.
func DefaultOptions() Options {
	return Options{
		Attempts:         3,
		BackoffDelay:     time.Second,
		RemoveOnComplete: true,
		PollInterval:     time.Second,
		StallTimeout:     30 * time.Second,
	}
}

func (o Options) normalized() Options {
	d := DefaultOptions()
	if o.Attempts < 1 {
		o.Attempts = d.Attempts
	}
	if o.BackoffDelay <= 0 {
		o.BackoffDelay = d.BackoffDelay
	}
	if o.PollInterval <= 0 {
		o.PollInterval = d.PollInterval
	}
	if o.StallTimeout <= 0 {
		o.StallTimeout = d.StallTimeout
	}
	return o
}

package dispatch

import (
	"time"

	"github.com/yungbote/withdrawal-aggregator/internal/queue"
)

const (
	WorkflowName         = "process_batch"
	ActivityProcessBatch = "process_batch_activity"
)

// Input is the workflow and activity argument. It mirrors queue.Message.
type Input struct {
	JobType     queue.JobType `json:"type"`
	Payload     queue.Payload `json:"payload"`
	MaxAttempts int           `json:"maxAttempts"`
	BackoffMS   int64         `json:"backoffMs"`
}

func (in Input) backoff() time.Duration {
	if in.BackoffMS <= 0 {
		return time.Second
	}
	return time.Duration(in.BackoffMS) * time.Millisecond
}

func (in Input) attempts() int32 {
	if in.MaxAttempts < 1 {
		return 3
	}
	return int32(in.MaxAttempts)
}

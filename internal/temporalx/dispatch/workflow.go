package dispatch

import (
	"fmt"
	"strings"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

// Workflow runs the batch activity under the queue's retry budget:
// exponential backoff from the configured delay, doubling each attempt.
func Workflow(ctx workflow.Context, in Input) error {
	if strings.TrimSpace(in.Payload.GroupID) == "" {
		return temporal.NewNonRetryableApplicationError("process_batch: missing group id", "InvalidInput", nil)
	}

	ctx = workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 10 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    in.backoff(),
			BackoffCoefficient: 2.0,
			MaximumAttempts:    in.attempts(),
		},
	})

	if err := workflow.ExecuteActivity(ctx, ActivityProcessBatch, in).Get(ctx, nil); err != nil {
		return fmt.Errorf("process_batch %s: %w", in.Payload.GroupID, err)
	}
	return nil
}

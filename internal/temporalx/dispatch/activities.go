package dispatch

import (
	"context"
	"fmt"

	"go.temporal.io/sdk/activity"

	"github.com/yungbote/withdrawal-aggregator/internal/domain"
	"github.com/yungbote/withdrawal-aggregator/internal/pkg/logger"
	"github.com/yungbote/withdrawal-aggregator/internal/queue"
)

// Activities adapts a queue.Handler to a Temporal activity.
type Activities struct {
	Log     *logger.Logger
	Handler queue.Handler
}

func (a *Activities) ProcessBatch(ctx context.Context, in Input) (err error) {
	if a == nil || a.Handler == nil {
		return fmt.Errorf("process_batch: activity not configured")
	}
	info := activity.GetInfo(ctx)
	job := &queue.Job{
		ID:           info.WorkflowExecution.ID,
		Type:         in.JobType,
		Payload:      in.Payload,
		AttemptsMade: int(info.Attempt) - 1,
		MaxAttempts:  int(in.attempts()),
	}

	defer func() {
		if r := recover(); r != nil {
			err = domain.Tag(domain.ErrHandler, fmt.Errorf("panic: %v", r))
		}
		if err == nil {
			a.Log.Info("Job completed", "job_id", job.ID, "group_id", job.Payload.GroupID, "attempts", job.AttemptsMade+1)
			return
		}
		if job.FinalAttempt() {
			a.Log.Error("Job failed permanently", "job_id", job.ID, "group_id", job.Payload.GroupID, "attempts", job.AttemptsMade+1, "error", err)
		} else {
			a.Log.Warn("Job failed; retry scheduled", "job_id", job.ID, "group_id", job.Payload.GroupID, "attempt", job.AttemptsMade+1, "error", err)
		}
	}()
	return a.Handler(ctx, job)
}

package processbatch

import (
	"context"
	"fmt"

	"github.com/yungbote/withdrawal-aggregator/internal/data/groupstore"
	"github.com/yungbote/withdrawal-aggregator/internal/domain"
	"github.com/yungbote/withdrawal-aggregator/internal/pkg/logger"
	"github.com/yungbote/withdrawal-aggregator/internal/pkg/pointers"
	"github.com/yungbote/withdrawal-aggregator/internal/queue"
)

// Settler performs the actual settlement of a group. It must tolerate being
// called more than once for the same group.
type Settler interface {
	Settle(ctx context.Context, t domain.AggregatorType, group *domain.RequestGroup) error
}

// LogSettler only records the group. It stands in until a settlement backend
// is wired.
type LogSettler struct {
	Log *logger.Logger
}

func (s LogSettler) Settle(ctx context.Context, t domain.AggregatorType, group *domain.RequestGroup) error {
	s.Log.Info("Settling request group", "aggregator", string(t), "group_id", group.ID, "size", len(group.MemberUUIDs))
	return nil
}

type Handler struct {
	typ     domain.AggregatorType
	store   groupstore.Store
	settler Settler
	log     *logger.Logger
}

func NewHandler(t domain.AggregatorType, store groupstore.Store, settler Settler, baseLog *logger.Logger) (*Handler, error) {
	if store == nil || settler == nil {
		return nil, fmt.Errorf("processbatch handler missing deps")
	}
	return &Handler{
		typ:     t,
		store:   store,
		settler: settler,
		log:     baseLog.With("component", "ProcessBatch", "aggregator", string(t)),
	}, nil
}

// Handle is a queue.Handler. A returned error makes the queue retry the job.
func (h *Handler) Handle(ctx context.Context, job *queue.Job) error {
	if job.Type != queue.JobProcessBatch {
		h.log.Warn("Unexpected job type; dropping", "job_id", job.ID, "job_type", job.Type)
		return nil
	}
	id := job.Payload.GroupID
	group, err := h.store.GetGroup(ctx, id)
	if err != nil {
		return err
	}
	if group == nil {
		h.log.Warn("Group expired or deleted before processing", "job_id", job.ID, "group_id", id)
		return nil
	}
	if group.Status == domain.GroupStatusSuccess {
		h.log.Info("Group already settled", "group_id", id)
		return nil
	}

	if err := h.setStatus(ctx, id, domain.GroupStatusProcessing, nil); err != nil {
		return err
	}

	if err := h.settler.Settle(ctx, h.typ, group); err != nil {
		if job.FinalAttempt() {
			if uerr := h.setStatus(ctx, id, domain.GroupStatusFailed, pointers.To(err.Error())); uerr != nil {
				h.log.Warn("Mark group failed", "group_id", id, "error", uerr)
			}
		}
		return domain.Tag(domain.ErrHandler, fmt.Errorf("settle group %s: %w", id, err))
	}

	return h.setStatus(ctx, id, domain.GroupStatusSuccess, nil)
}

func (h *Handler) setStatus(ctx context.Context, id string, status domain.GroupStatus, lastErr *string) error {
	ok, err := h.store.UpdateGroup(ctx, id, domain.GroupUpdate{Status: pointers.To(status), LastError: lastErr})
	if err != nil {
		return err
	}
	if !ok {
		h.log.Warn("Group vanished while processing", "group_id", id, "status", string(status))
	}
	return nil
}

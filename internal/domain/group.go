package domain

import "time"

type GroupStatus string

const (
	GroupStatusPending    GroupStatus = "PENDING"
	GroupStatusProcessing GroupStatus = "PROCESSING"
	GroupStatusSuccess    GroupStatus = "SUCCESS"
	GroupStatusFailed     GroupStatus = "FAILED"
)

func (s GroupStatus) IsTerminal() bool {
	return s == GroupStatusSuccess || s == GroupStatusFailed
}

// RequestGroup is one batch of request uuids handed downstream as a unit.
type RequestGroup struct {
	ID          string      `json:"id"`
	MemberUUIDs []string    `json:"memberUuids"`
	Status      GroupStatus `json:"status"`
	LastError   string      `json:"lastError,omitempty"`
	CreatedAt   time.Time   `json:"createdAt"`
	UpdatedAt   time.Time   `json:"updatedAt"`
}

// GroupUpdate is a partial update; nil fields are left untouched.
type GroupUpdate struct {
	Status    *GroupStatus
	LastError *string
}

// NewPendingGroup builds the initial record for a freshly cut chunk.
func NewPendingGroup(members []PendingRequest, now time.Time) *RequestGroup {
	ids := make([]string, 0, len(members))
	for _, m := range members {
		ids = append(ids, m.UUID)
	}
	return &RequestGroup{
		MemberUUIDs: ids,
		Status:      GroupStatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

package domain

import "time"

// RequestStatusRequested is the source status of requests awaiting batching.
const RequestStatusRequested = "requested"

// PendingRequest is the minimal projection read from the request tables.
type PendingRequest struct {
	UUID      string    `gorm:"column:uuid" json:"uuid"`
	CreatedAt time.Time `gorm:"column:created_at" json:"createdAt"`
}

// Withdrawal and Claim mirror the externally owned request tables. This
// service only ever reads them.
type Withdrawal struct {
	UUID      string    `gorm:"column:uuid;primaryKey" json:"uuid"`
	Status    string    `gorm:"column:status;not null;index" json:"status"`
	CreatedAt time.Time `gorm:"column:created_at;not null;index" json:"created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at" json:"updated_at"`
}

func (Withdrawal) TableName() string { return "withdrawals" }

type Claim struct {
	UUID      string    `gorm:"column:uuid;primaryKey" json:"uuid"`
	Status    string    `gorm:"column:status;not null;index" json:"status"`
	CreatedAt time.Time `gorm:"column:created_at;not null;index" json:"created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at" json:"updated_at"`
}

func (Claim) TableName() string { return "claims" }

// SourceTable returns the request table backing t.
func (t AggregatorType) SourceTable() string {
	switch t {
	case AggregatorClaim:
		return Claim{}.TableName()
	default:
		return Withdrawal{}.TableName()
	}
}

package groupstore

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/yungbote/withdrawal-aggregator/internal/domain"
)

// recordVersion tags every persisted group. Bump it together with a decoder
// branch whenever the record shape changes.
const recordVersion = 1

// groupRecord is the persisted shape. Field names match what the settlement
// workers already read (requestingWithdrawals[].uuid).
type groupRecord struct {
	SchemaVersion         int                `json:"schemaVersion"`
	RequestingWithdrawals []memberRecord     `json:"requestingWithdrawals"`
	Status                domain.GroupStatus `json:"status"`
	LastError             string             `json:"lastError,omitempty"`
	CreatedAt             time.Time          `json:"createdAt"`
	UpdatedAt             time.Time          `json:"updatedAt"`
}

type memberRecord struct {
	UUID string `json:"uuid"`
}

func encodeGroup(g *domain.RequestGroup) ([]byte, error) {
	rec := groupRecord{
		SchemaVersion:         recordVersion,
		RequestingWithdrawals: make([]memberRecord, 0, len(g.MemberUUIDs)),
		Status:                g.Status,
		LastError:             g.LastError,
		CreatedAt:             g.CreatedAt.UTC(),
		UpdatedAt:             g.UpdatedAt.UTC(),
	}
	for _, id := range g.MemberUUIDs {
		rec.RequestingWithdrawals = append(rec.RequestingWithdrawals, memberRecord{UUID: id})
	}
	return json.Marshal(rec)
}

func decodeGroup(id string, raw []byte) (*domain.RequestGroup, error) {
	var rec groupRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("decode group %s: %w", id, err)
	}
	switch rec.SchemaVersion {
	case 0, recordVersion:
		// 0: written before records were versioned; same shape as v1.
	default:
		return nil, fmt.Errorf("decode group %s: unsupported schemaVersion %d", id, rec.SchemaVersion)
	}
	members := make([]string, 0, len(rec.RequestingWithdrawals))
	for _, m := range rec.RequestingWithdrawals {
		members = append(members, m.UUID)
	}
	return &domain.RequestGroup{
		ID:          id,
		MemberUUIDs: members,
		Status:      rec.Status,
		LastError:   rec.LastError,
		CreatedAt:   rec.CreatedAt,
		UpdatedAt:   rec.UpdatedAt,
	}, nil
}

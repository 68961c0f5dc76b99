package domain

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNoLeaderRecord = errors.New("leader_record_not_found")
)

// LeaderRecord is the single shared row naming the fleet instance that
// owns background work for the current deployment generation. It is
// written at provisioning time and only ever read here.
type LeaderRecord struct {
	ID         int64     `json:"id" gorm:"primaryKey"`
	InstanceID string    `json:"instance_id" gorm:"size:128;not null"`
	UpdatedAt  time.Time `json:"updated_at"`
}

func (LeaderRecord) TableName() string {
	return "leader_records"
}

type Service interface {
	// IsLeader reports whether this instance's configured identity
	// matches the shared leader record. A missing record means no
	// instance leads.
	IsLeader(ctx context.Context) (bool, error)
}

package models

import (
	"encoding/json"
	"math/big"
	"time"

	"github.com/holder-rounds/internal/types"
)

// Round represents one timed game cycle
type Round struct {
	ID                   string            `json:"id" db:"id"`
	RoundNumber          int               `json:"roundNumber" db:"round_number"`
	StartTime            time.Time         `json:"startTime" db:"start_time"`
	EndTime              *time.Time        `json:"endTime,omitempty" db:"end_time"`
	Status               types.RoundStatus `json:"status" db:"status"`
	HighestHolderAddress *string           `json:"highestHolderAddress,omitempty" db:"highest_holder_address"`
	HighestHolderBalance *big.Int          `json:"highestHolderBalance,omitempty" db:"highest_holder_balance"`
	TargetItem           *string           `json:"targetItem,omitempty" db:"target_item"`
	CreatedAt            time.Time         `json:"createdAt" db:"created_at"`
	UpdatedAt            time.Time         `json:"updatedAt" db:"updated_at"`
}

// MarshalJSON encodes the stamped balance as a decimal string
func (r Round) MarshalJSON() ([]byte, error) {
	var balance *string
	if r.HighestHolderBalance != nil {
		s := r.HighestHolderBalance.String()
		balance = &s
	}

	return json.Marshal(struct {
		ID                   string            `json:"id"`
		RoundNumber          int               `json:"roundNumber"`
		StartTime            time.Time         `json:"startTime"`
		EndTime              *time.Time        `json:"endTime,omitempty"`
		Status               types.RoundStatus `json:"status"`
		HighestHolderAddress *string           `json:"highestHolderAddress,omitempty"`
		HighestHolderBalance *string           `json:"highestHolderBalance,omitempty"`
		TargetItem           *string           `json:"targetItem,omitempty"`
		CreatedAt            time.Time         `json:"createdAt"`
		UpdatedAt            time.Time         `json:"updatedAt"`
	}{
		ID:                   r.ID,
		RoundNumber:          r.RoundNumber,
		StartTime:            r.StartTime,
		EndTime:              r.EndTime,
		Status:               r.Status,
		HighestHolderAddress: r.HighestHolderAddress,
		HighestHolderBalance: balance,
		TargetItem:           r.TargetItem,
		CreatedAt:            r.CreatedAt,
		UpdatedAt:            r.UpdatedAt,
	})
}

// RoundView is the current round annotated with its phase and time left
type RoundView struct {
	Round         *Round      `json:"round"`
	Phase         types.Phase `json:"phase"`
	TimeRemaining int64       `json:"timeRemaining"` // milliseconds
}

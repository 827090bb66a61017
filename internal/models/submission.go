package models

import (
	"time"

	"github.com/holder-rounds/internal/types"
)

// Submission is a photo entry made by a round's highest holder
type Submission struct {
	ID            string                 `json:"id" db:"id"`
	RoundID       string                 `json:"roundId" db:"round_id"`
	WalletAddress string                 `json:"walletAddress" db:"wallet_address"`
	PhotoURL      string                 `json:"photoUrl" db:"photo_url"`
	Status        types.SubmissionStatus `json:"status" db:"status"`
	SubmittedAt   time.Time              `json:"submittedAt" db:"submitted_at"`
	ReviewedAt    *time.Time             `json:"reviewedAt,omitempty" db:"reviewed_at"`
	ReviewerNotes *string                `json:"reviewerNotes,omitempty" db:"reviewer_notes"`
}

// ConfigEntry is a dynamic key/value setting
type ConfigEntry struct {
	Key       string    `json:"key" db:"key"`
	Value     string    `json:"value" db:"value"`
	UpdatedAt time.Time `json:"updatedAt" db:"updated_at"`
}

// Stats aggregates platform counters
type Stats struct {
	TotalRounds      int64 `json:"totalRounds"`
	TotalSubmissions int64 `json:"totalSubmissions"`
	ApprovedFinds    int64 `json:"approvedFinds"`
	CurrentHolders   int64 `json:"currentHolders"`
}

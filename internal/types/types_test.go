package types

import (
	"testing"
)

func TestIsValidAddress(t *testing.T) {
	tests := []struct {
		name    string
		address string
		want    bool
	}{
		{"lowercase", "0x1234567890abcdef1234567890abcdef12345678", true},
		{"checksummed", "0xAbCdEf1234567890ABCDEF1234567890abcdef12", true},
		{"missing prefix", "1234567890abcdef1234567890abcdef12345678", false},
		{"too short", "0x1234", false},
		{"non hex", "0xZZ34567890abcdef1234567890abcdef12345678", false},
		{"empty", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsValidAddress(tt.address); got != tt.want {
				t.Errorf("IsValidAddress(%q) = %v, want %v", tt.address, got, tt.want)
			}
		})
	}
}

func TestPhaseForStatus(t *testing.T) {
	tests := []struct {
		status RoundStatus
		want   Phase
	}{
		{RoundStatusActive, PhaseActive},
		{RoundStatusSubmissionWindow, PhaseSubmission},
		{RoundStatusEnded, PhaseEnded},
		{RoundStatus("unknown"), PhaseEnded},
	}

	for _, tt := range tests {
		if got := PhaseForStatus(tt.status); got != tt.want {
			t.Errorf("PhaseForStatus(%s) = %s, want %s", tt.status, got, tt.want)
		}
	}
}

func TestRoundStatus_IsOpen(t *testing.T) {
	if !RoundStatusActive.IsOpen() || !RoundStatusSubmissionWindow.IsOpen() {
		t.Error("active and submission_window rounds must be open")
	}
	if RoundStatusEnded.IsOpen() {
		t.Error("ended rounds must not be open")
	}
}

func TestIsAllowedConfigKey(t *testing.T) {
	if !IsAllowedConfigKey("token_address") || !IsAllowedConfigKey("fee_pool_total") {
		t.Error("expected documented keys to be allowed")
	}
	if IsAllowedConfigKey("admin_addresses") {
		t.Error("unexpected key allowed")
	}
}

func TestSubmissionStatus_IsReviewOutcome(t *testing.T) {
	if SubmissionPending.IsReviewOutcome() {
		t.Error("pending is not a review outcome")
	}
	if !SubmissionApproved.IsReviewOutcome() || !SubmissionRejected.IsReviewOutcome() {
		t.Error("approved and rejected are review outcomes")
	}
}

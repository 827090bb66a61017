// Package types provides common type definitions for the holder rounds system.
package types

import (
	"regexp"
	"strings"
)

// RoundStatus represents the persisted lifecycle state of a round
type RoundStatus string

const (
	// RoundStatusActive is the first phase of a round
	RoundStatusActive RoundStatus = "active"
	// RoundStatusSubmissionWindow is the phase during which the highest holder may submit
	RoundStatusSubmissionWindow RoundStatus = "submission_window"
	// RoundStatusEnded marks a round that has been superseded
	RoundStatusEnded RoundStatus = "ended"
)

// IsOpen reports whether a round in this status still counts as the current round
func (s RoundStatus) IsOpen() bool {
	return s == RoundStatusActive || s == RoundStatusSubmissionWindow
}

// Phase is the presentation tag derived from a round's status
type Phase string

const (
	// PhaseActive is reported while the round is active
	PhaseActive Phase = "active"
	// PhaseSubmission is reported while the submission window is open
	PhaseSubmission Phase = "submission"
	// PhaseEnded is reported for ended rounds
	PhaseEnded Phase = "ended"
)

// PhaseForStatus maps a round status to its phase tag
func PhaseForStatus(status RoundStatus) Phase {
	switch status {
	case RoundStatusActive:
		return PhaseActive
	case RoundStatusSubmissionWindow:
		return PhaseSubmission
	default:
		return PhaseEnded
	}
}

// SubmissionStatus represents the review state of a submission
type SubmissionStatus string

const (
	// SubmissionPending is the state of a freshly created submission
	SubmissionPending SubmissionStatus = "pending"
	// SubmissionApproved marks a submission accepted by an admin
	SubmissionApproved SubmissionStatus = "approved"
	// SubmissionRejected marks a submission refused by an admin
	SubmissionRejected SubmissionStatus = "rejected"
)

// IsReviewOutcome reports whether the status is a valid admin decision
func (s SubmissionStatus) IsReviewOutcome() bool {
	return s == SubmissionApproved || s == SubmissionRejected
}

// ConfigKey names a dynamic setting stored in the config table
type ConfigKey string

const (
	// ConfigTokenAddress is the fallback tracked token contract
	ConfigTokenAddress ConfigKey = "token_address"
	// ConfigFeePoolTotal is an informational fee pool figure shown to players
	ConfigFeePoolTotal ConfigKey = "fee_pool_total"
)

// AllowedConfigKeys lists the keys admins may change
var AllowedConfigKeys = []ConfigKey{ConfigTokenAddress, ConfigFeePoolTotal}

// IsAllowedConfigKey reports whether key may be written through the admin API
func IsAllowedConfigKey(key string) bool {
	for _, k := range AllowedConfigKeys {
		if string(k) == key {
			return true
		}
	}
	return false
}

// EventType names a notification broadcast to observers
type EventType string

const (
	// EventHoldersUpdated is emitted after every successful holder sync
	EventHoldersUpdated EventType = "holders:updated"
	// EventRoundStarted is emitted when a new round is created
	EventRoundStarted EventType = "round:started"
	// EventRoundSubmissionWindow is emitted when a round enters its submission window
	EventRoundSubmissionWindow EventType = "round:submission_window"
)

// ServiceError represents a structured error response
type ServiceError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

func (e *ServiceError) Error() string {
	return e.Message
}

var addressPattern = regexp.MustCompile("^0x[a-fA-F0-9]{40}$")

// IsValidAddress checks the 0x-prefixed 20-byte hex address format
func IsValidAddress(address string) bool {
	return addressPattern.MatchString(address)
}

// NormalizeAddress lowercases an address so it can be used as a stable key
func NormalizeAddress(address string) string {
	return strings.ToLower(strings.TrimSpace(address))
}

package api

import (
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"github.com/holder-rounds/internal/models"
	"github.com/holder-rounds/internal/types"
)

// ReviewSubmissionRequest is the body of PATCH /api/admin/submissions/{id}
type ReviewSubmissionRequest struct {
	Status        types.SubmissionStatus `json:"status"`
	ReviewerNotes string                 `json:"reviewerNotes"`
}

// StartRoundRequest is the body of POST /api/admin/rounds/start
type StartRoundRequest struct {
	TargetItem string `json:"targetItem"`
}

// UpdateConfigRequest is the body of PATCH /api/admin/config
type UpdateConfigRequest struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// SendRewardRequest is the body of POST /api/admin/rewards/send. Either
// amount or volume24h is required; amount wins when both are set.
type SendRewardRequest struct {
	RecipientAddress string   `json:"recipientAddress"`
	Amount           *float64 `json:"amount,omitempty"`
	Volume24h        *float64 `json:"volume24h,omitempty"`
}

// CalculateRewardRequest is the body of POST /api/admin/rewards/calculate
type CalculateRewardRequest struct {
	Volume24h float64 `json:"volume24h"`
}

// handleGetPendingSubmissions handles GET /api/admin/submissions/pending
func (s *Server) handleGetPendingSubmissions(w http.ResponseWriter, r *http.Request) {
	submissions, err := s.services.Submissions.ListPending(r.Context())
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	if submissions == nil {
		submissions = []models.Submission{}
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{"submissions": submissions})
}

// handleReviewSubmission handles PATCH /api/admin/submissions/{id}
func (s *Server) handleReviewSubmission(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var req ReviewSubmissionRequest
	if err := parseJSONBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "Invalid request body", nil)
		return
	}

	submission, err := s.services.Submissions.ReviewSubmission(r.Context(), id, req.Status, req.ReviewerNotes)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, submission)
}

// handleStartRound handles POST /api/admin/rounds/start - ends the open round and starts a new one
func (s *Server) handleStartRound(w http.ResponseWriter, r *http.Request) {
	var req StartRoundRequest
	if r.ContentLength != 0 {
		if err := parseJSONBody(r, &req); err != nil {
			respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "Invalid request body", nil)
			return
		}
	}

	round, err := s.services.Rounds.ForceNewRound(r.Context(), req.TargetItem)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusCreated, round)
}

// handleGetConfig handles GET /api/admin/config
func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	entries, err := s.services.Config.All(r.Context())
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{"config": entries})
}

// handleUpdateConfig handles PATCH /api/admin/config
func (s *Server) handleUpdateConfig(w http.ResponseWriter, r *http.Request) {
	var req UpdateConfigRequest
	if err := parseJSONBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "Invalid request body", nil)
		return
	}

	entry, err := s.services.Config.Set(r.Context(), req.Key, req.Value)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, entry)
}

// handleRewardInfo handles GET /api/admin/rewards/info
func (s *Server) handleRewardInfo(w http.ResponseWriter, r *http.Request) {
	info, err := s.services.Rewards.Info(r.Context())
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, info)
}

// handleSendReward handles POST /api/admin/rewards/send
func (s *Server) handleSendReward(w http.ResponseWriter, r *http.Request) {
	var req SendRewardRequest
	if err := parseJSONBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "Invalid request body", nil)
		return
	}

	recipient := strings.TrimSpace(req.RecipientAddress)
	if recipient == "" || (req.Amount == nil && req.Volume24h == nil) {
		respondError(w, http.StatusBadRequest, ErrCodeMissingFields, "recipientAddress and amount or volume24h are required", nil)
		return
	}

	var (
		result interface{}
		err    error
	)
	if req.Amount != nil {
		result, err = s.services.Rewards.SendReward(r.Context(), recipient, *req.Amount)
	} else {
		result, err = s.services.Rewards.SendCalculatedReward(r.Context(), recipient, *req.Volume24h)
	}
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, result)
}

// handleCalculateReward handles POST /api/admin/rewards/calculate
func (s *Server) handleCalculateReward(w http.ResponseWriter, r *http.Request) {
	var req CalculateRewardRequest
	if err := parseJSONBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "Invalid request body", nil)
		return
	}

	respondJSON(w, http.StatusOK, map[string]float64{
		"volume24h": req.Volume24h,
		"reward":    s.services.Rewards.CalculateReward(req.Volume24h),
	})
}

// handleClearHolderCache handles POST /api/admin/holders/clear-cache
func (s *Server) handleClearHolderCache(w http.ResponseWriter, r *http.Request) {
	if err := s.services.Holders.RestartSync(r.Context()); err != nil {
		respondServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "Holder cache cleared, sync restarted",
	})
}

package api

import (
	"errors"
	"net/http"

	apperrors "github.com/holder-rounds/internal/errors"
	"github.com/holder-rounds/internal/models"
	"github.com/holder-rounds/internal/service"
	"github.com/holder-rounds/internal/types"
)

// CreateSubmissionRequest is the body of POST /api/submissions
type CreateSubmissionRequest struct {
	RoundID     string `json:"roundId"`
	PhotoBase64 string `json:"photoBase64"`
}

// handleGetCurrentRound handles GET /api/game/current
func (s *Server) handleGetCurrentRound(w http.ResponseWriter, r *http.Request) {
	view, err := s.services.Rounds.GetCurrentRoundWithPhase(r.Context())
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	if view == nil {
		// No round has been opened yet
		view = &models.RoundView{Phase: types.PhaseEnded}
	}

	respondJSON(w, http.StatusOK, view)
}

// handleGetStats handles GET /api/stats
func (s *Server) handleGetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.services.Stats.GetStats(r.Context())
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, stats)
}

// handleCreateSubmission handles POST /api/submissions - wallet authenticated
func (s *Server) handleCreateSubmission(w http.ResponseWriter, r *http.Request) {
	wallet, ok := WalletFromContext(r.Context())
	if !ok {
		respondServiceError(w, r, apperrors.NewUnauthorizedError("Wallet authentication required"))
		return
	}

	if s.config.MaxBodyBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, s.config.MaxBodyBytes)
	}

	var req CreateSubmissionRequest
	if err := parseJSONBody(r, &req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respondError(w, http.StatusRequestEntityTooLarge, "PHOTO_TOO_LARGE", "Request body is too large", nil)
			return
		}
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "Invalid request body", nil)
		return
	}

	submission, err := s.services.Submissions.CreateSubmission(r.Context(), &service.CreateSubmissionInput{
		WalletAddress: wallet,
		RoundID:       req.RoundID,
		PhotoBase64:   req.PhotoBase64,
	})
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusCreated, submission)
}

// handleGetApprovedSubmissions handles GET /api/submissions/approved
func (s *Server) handleGetApprovedSubmissions(w http.ResponseWriter, r *http.Request) {
	submissions, err := s.services.Submissions.ListApproved(r.Context())
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	if submissions == nil {
		submissions = []models.Submission{}
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{"submissions": submissions})
}

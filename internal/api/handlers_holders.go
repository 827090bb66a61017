package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/holder-rounds/internal/models"
)

const (
	defaultHistoryLimit = 100
	maxHistoryLimit     = 1000
)

// HoldersResponse is the body of GET /api/holders
type HoldersResponse struct {
	Holders   []models.HolderRecord `json:"holders"`
	Timestamp time.Time             `json:"timestamp"`
}

// HolderHistoryResponse is the body of GET /api/holders/history/{address}
type HolderHistoryResponse struct {
	Address string                       `json:"address"`
	History []models.HolderSnapshotPoint `json:"history"`
}

// handleGetHolders handles GET /api/holders - the current top holders
func (s *Server) handleGetHolders(w http.ResponseWriter, r *http.Request) {
	limit := s.config.TopHoldersLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > s.config.TopHoldersLimit {
			respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "limit must be between 1 and "+strconv.Itoa(s.config.TopHoldersLimit), nil)
			return
		}
		limit = n
	}

	holders, err := s.services.Holders.GetTopHolders(r.Context(), limit)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	if holders == nil {
		holders = []models.HolderRecord{}
	}

	respondJSON(w, http.StatusOK, HoldersResponse{Holders: holders, Timestamp: time.Now().UTC()})
}

// handleGetHolderRank handles GET /api/holders/rank/{address}
func (s *Server) handleGetHolderRank(w http.ResponseWriter, r *http.Request) {
	address := mux.Vars(r)["address"]

	holder, err := s.services.Holders.GetHolderByAddress(r.Context(), address)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, holder)
}

// handleGetHolderHistory handles GET /api/holders/history/{address}
func (s *Server) handleGetHolderHistory(w http.ResponseWriter, r *http.Request) {
	address := mux.Vars(r)["address"]

	limit := defaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxHistoryLimit {
			respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "limit must be between 1 and 1000", nil)
			return
		}
		limit = n
	}

	history, err := s.services.Holders.GetHolderHistory(r.Context(), address, limit)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	if history == nil {
		history = []models.HolderSnapshotPoint{}
	}

	respondJSON(w, http.StatusOK, HolderHistoryResponse{Address: address, History: history})
}

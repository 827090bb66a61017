// Package api provides the HTTP API server implementation.
package api

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/holder-rounds/internal/models"
	"github.com/holder-rounds/internal/service"
	"github.com/holder-rounds/internal/types"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Service interfaces for dependency injection and testing

// HolderServiceInterface defines the holder ranking operations the API exposes
type HolderServiceInterface interface {
	GetTopHolders(ctx context.Context, n int) ([]models.HolderRecord, error)
	GetHolderByAddress(ctx context.Context, address string) (*models.HolderRecord, error)
	GetHolderHistory(ctx context.Context, address string, limit int) ([]models.HolderSnapshotPoint, error)
	RestartSync(ctx context.Context) error
}

// RoundServiceInterface defines the round operations the API exposes
type RoundServiceInterface interface {
	GetCurrentRoundWithPhase(ctx context.Context) (*models.RoundView, error)
	ForceNewRound(ctx context.Context, targetItem string) (*models.Round, error)
}

// SubmissionServiceInterface defines the submission operations the API exposes
type SubmissionServiceInterface interface {
	CreateSubmission(ctx context.Context, input *service.CreateSubmissionInput) (*models.Submission, error)
	ListPending(ctx context.Context) ([]models.Submission, error)
	ListApproved(ctx context.Context) ([]models.Submission, error)
	ReviewSubmission(ctx context.Context, id string, status types.SubmissionStatus, notes string) (*models.Submission, error)
}

// StatsServiceInterface defines the stats operation
type StatsServiceInterface interface {
	GetStats(ctx context.Context) (*models.Stats, error)
}

// ConfigServiceInterface defines the dynamic config operations
type ConfigServiceInterface interface {
	Set(ctx context.Context, key, value string) (*models.ConfigEntry, error)
	All(ctx context.Context) (map[string]string, error)
}

// RewardServiceInterface defines the reward wallet operations
type RewardServiceInterface interface {
	Info(ctx context.Context) (*service.RewardInfo, error)
	CalculateReward(volume24h float64) float64
	SendReward(ctx context.Context, recipient string, amount float64) (*service.RewardResult, error)
	SendCalculatedReward(ctx context.Context, recipient string, volume24h float64) (*service.RewardResult, error)
}

// SignatureVerifier checks a personal_sign signature against an address
type SignatureVerifier func(message, signature, address string) bool

// Services bundles the collaborators behind the routes
type Services struct {
	Holders     HolderServiceInterface
	Rounds      RoundServiceInterface
	Submissions SubmissionServiceInterface
	Stats       StatsServiceInterface
	Config      ConfigServiceInterface
	Rewards     RewardServiceInterface
	Verify      SignatureVerifier
	Observers   http.Handler // websocket endpoint, optional
}

// Server represents the HTTP API server.
type Server struct {
	router     *mux.Router
	httpServer *http.Server
	services   *Services
	auth       *WalletAuth
	config     *ServerConfig
}

// ServerConfig holds server configuration.
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	CORSOrigin      string
	RequestsPerSec  float64
	Burst           int
	AdminAddresses  []string
	SignatureMaxAge time.Duration
	TopHoldersLimit int
	MaxBodyBytes    int64
	PhotoDir        string // served under /uploads when set
	MetricsEnabled  bool
}

// NewServer creates a new API server instance.
func NewServer(config *ServerConfig, services *Services) *Server {
	if config.TopHoldersLimit <= 0 {
		config.TopHoldersLimit = 10
	}
	s := &Server{
		router:   mux.NewRouter(),
		services: services,
		auth:     NewWalletAuth(services.Verify, config.AdminAddresses, config.SignatureMaxAge),
		config:   config,
	}

	s.setupRouter()

	return s
}

// setupRouter configures the router with middleware and routes
func (s *Server) setupRouter() {
	// Set up middleware (order matters!)
	s.router.Use(LoggingMiddleware)
	s.router.Use(RecoveryMiddleware)
	s.router.Use(CORSMiddleware(s.config.CORSOrigin))
	s.router.Use(MetricsMiddleware)

	// Set up routes
	s.setupRoutes()

	// Create HTTP server
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%s", s.config.Host, s.config.Port),
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  s.config.IdleTimeout,
	}
}

// setupRoutes configures all API routes.
func (s *Server) setupRoutes() {
	// Preflight requests are answered by CORSMiddleware
	s.router.Methods(http.MethodOptions).HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	// Health check endpoint
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")

	if s.config.MetricsEnabled {
		s.router.Handle("/metrics", promhttp.Handler()).Methods("GET")
	}
	if s.services.Observers != nil {
		s.router.Handle("/ws", s.services.Observers).Methods("GET")
	}
	if s.config.PhotoDir != "" {
		s.router.PathPrefix("/uploads/").Handler(
			http.StripPrefix("/uploads/", http.FileServer(http.Dir(s.config.PhotoDir))),
		).Methods("GET")
	}

	api := s.router.PathPrefix("/api").Subrouter()
	api.Use(RateLimitMiddleware(NewRateLimiter(s.config.RequestsPerSec, s.config.Burst)))
	api.Use(CompressionMiddleware)

	// Holder endpoints
	api.HandleFunc("/holders", s.handleGetHolders).Methods("GET")
	api.HandleFunc("/holders/rank/{address}", s.handleGetHolderRank).Methods("GET")
	api.HandleFunc("/holders/history/{address}", s.handleGetHolderHistory).Methods("GET")

	// Game endpoints
	api.HandleFunc("/game/current", s.handleGetCurrentRound).Methods("GET")
	api.HandleFunc("/stats", s.handleGetStats).Methods("GET")

	// Submission endpoints
	api.Handle("/submissions", s.auth.RequireWallet(http.HandlerFunc(s.handleCreateSubmission))).Methods("POST")
	api.HandleFunc("/submissions/approved", s.handleGetApprovedSubmissions).Methods("GET")

	// Admin endpoints
	admin := api.PathPrefix("/admin").Subrouter()
	admin.Use(s.auth.RequireWallet, s.auth.RequireAdmin)
	admin.HandleFunc("/submissions/pending", s.handleGetPendingSubmissions).Methods("GET")
	admin.HandleFunc("/submissions/{id}", s.handleReviewSubmission).Methods("PATCH")
	admin.HandleFunc("/rounds/start", s.handleStartRound).Methods("POST")
	admin.HandleFunc("/config", s.handleGetConfig).Methods("GET")
	admin.HandleFunc("/config", s.handleUpdateConfig).Methods("PATCH")
	admin.HandleFunc("/rewards/info", s.handleRewardInfo).Methods("GET")
	admin.HandleFunc("/rewards/send", s.handleSendReward).Methods("POST")
	admin.HandleFunc("/rewards/calculate", s.handleCalculateReward).Methods("POST")
	admin.HandleFunc("/holders/clear-cache", s.handleClearHolderCache).Methods("POST")
}

// Handler returns the root handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// handleHealth handles health check requests.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "holder-rounds",
	})
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	log.Printf("Starting API server on %s", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	log.Println("Shutting down API server...")
	return s.httpServer.Shutdown(ctx)
}

package service

import (
	"context"
	"encoding/base64"
	"fmt"
	"log"
	"regexp"
	"strings"
	"time"

	apperrors "github.com/holder-rounds/internal/errors"
	"github.com/holder-rounds/internal/models"
	"github.com/holder-rounds/internal/types"
)

const galleryCacheKey = "gallery:approved"

var photoDataURIPattern = regexp.MustCompile(`^data:image/(jpeg|jpg|png);base64,(.+)$`)

// SubmissionStore persists submissions
type SubmissionStore interface {
	Create(ctx context.Context, sub *models.Submission) error
	GetByID(ctx context.Context, id string) (*models.Submission, error)
	GetByRoundAndWallet(ctx context.Context, roundID, wallet string) (*models.Submission, error)
	ListByStatus(ctx context.Context, status types.SubmissionStatus, limit int) ([]models.Submission, error)
	Review(ctx context.Context, id string, status types.SubmissionStatus, notes *string, reviewedAt time.Time) (*models.Submission, error)
	Count(ctx context.Context) (int64, error)
	CountByStatus(ctx context.Context, status types.SubmissionStatus) (int64, error)
}

// OpenRoundSource returns the currently open round, or nil
type OpenRoundSource interface {
	GetOpenRound(ctx context.Context) (*models.Round, error)
}

// PhotoUploader stores photo bytes and returns a public URL
type PhotoUploader interface {
	Upload(ctx context.Context, name string, format string, data []byte) (string, error)
}

// ResponseCache caches JSON encodable read results
type ResponseCache interface {
	Get(ctx context.Context, key string, dest interface{}) (bool, error)
	Set(ctx context.Context, key string, value interface{}) error
	Invalidate(ctx context.Context, keys ...string) error
}

// SubmissionServiceConfig holds configuration for the submission service
type SubmissionServiceConfig struct {
	Store          SubmissionStore
	Rounds         OpenRoundSource
	Photos         PhotoUploader
	Cache          ResponseCache // optional
	MaxPhotoSizeMB int
	GalleryLimit   int
}

// SubmissionService accepts photo submissions from the highest holder and handles their review
type SubmissionService struct {
	store        SubmissionStore
	rounds       OpenRoundSource
	photos       PhotoUploader
	cache        ResponseCache
	maxPhotoSize int
	galleryLimit int
	now          func() time.Time
}

// NewSubmissionService creates a new submission service
func NewSubmissionService(cfg *SubmissionServiceConfig) (*SubmissionService, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("submission store cannot be nil")
	}
	if cfg.Rounds == nil {
		return nil, fmt.Errorf("round source cannot be nil")
	}
	if cfg.Photos == nil {
		return nil, fmt.Errorf("photo uploader cannot be nil")
	}

	maxMB := cfg.MaxPhotoSizeMB
	if maxMB <= 0 {
		maxMB = 10
	}
	galleryLimit := cfg.GalleryLimit
	if galleryLimit <= 0 {
		galleryLimit = 50
	}

	return &SubmissionService{
		store:        cfg.Store,
		rounds:       cfg.Rounds,
		photos:       cfg.Photos,
		cache:        cfg.Cache,
		maxPhotoSize: maxMB * 1024 * 1024,
		galleryLimit: galleryLimit,
		now:          time.Now,
	}, nil
}

// CreateSubmissionInput is a photo entry for the open round
type CreateSubmissionInput struct {
	WalletAddress string
	RoundID       string
	PhotoBase64   string // data:image/(jpeg|jpg|png);base64,...
}

// CreateSubmission validates the entry against the open round and stores it as pending.
// Only the highest holder stamped on the round may submit, once, during the submission window.
func (s *SubmissionService) CreateSubmission(ctx context.Context, input *CreateSubmissionInput) (*models.Submission, error) {
	wallet := types.NormalizeAddress(input.WalletAddress)
	roundID := strings.TrimSpace(input.RoundID)

	if wallet == "" || roundID == "" || input.PhotoBase64 == "" {
		return nil, apperrors.NewValidationError("MISSING_FIELDS", "roundId and photoBase64 are required")
	}

	match := photoDataURIPattern.FindStringSubmatch(input.PhotoBase64)
	if match == nil {
		return nil, apperrors.NewValidationError("INVALID_PHOTO_FORMAT", "photo must be a base64 jpeg or png data URI")
	}
	format := match[1]
	if format == "jpeg" {
		format = "jpg"
	}

	round, err := s.rounds.GetOpenRound(ctx)
	if err != nil {
		return nil, err
	}
	if round == nil || round.ID != roundID {
		return nil, apperrors.NewValidationError("ROUND_NOT_CURRENT", "round is not the current round")
	}
	if round.Status != types.RoundStatusSubmissionWindow {
		return nil, apperrors.NewValidationError("SUBMISSION_WINDOW_CLOSED", "round is not accepting submissions")
	}
	if round.HighestHolderAddress == nil || types.NormalizeAddress(*round.HighestHolderAddress) != wallet {
		return nil, apperrors.NewForbiddenError("only the highest holder of this round can submit")
	}

	existing, err := s.store.GetByRoundAndWallet(ctx, round.ID, wallet)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, apperrors.NewValidationError("DUPLICATE_SUBMISSION", "a submission already exists for this round")
	}

	if base64.StdEncoding.DecodedLen(len(match[2])) > s.maxPhotoSize+2 {
		return nil, photoTooLarge(s.maxPhotoSize)
	}
	data, err := base64.StdEncoding.DecodeString(match[2])
	if err != nil {
		return nil, apperrors.NewValidationError("INVALID_PHOTO_FORMAT", "photo is not valid base64")
	}
	if len(data) > s.maxPhotoSize {
		return nil, photoTooLarge(s.maxPhotoSize)
	}

	name := fmt.Sprintf("round-%d_%s_%d", round.RoundNumber, wallet, s.now().UnixMilli())
	url, err := s.photos.Upload(ctx, name, format, data)
	if err != nil {
		return nil, apperrors.NewInternalError("failed to store photo", err)
	}

	sub := &models.Submission{
		RoundID:       round.ID,
		WalletAddress: wallet,
		PhotoURL:      url,
		Status:        types.SubmissionPending,
		SubmittedAt:   s.now().UTC(),
	}
	if err := s.store.Create(ctx, sub); err != nil {
		return nil, err
	}

	if s.cache != nil {
		if err := s.cache.Invalidate(ctx, statsCacheKey); err != nil {
			log.Printf("[SubmissionService] Cache invalidation failed: %v", err)
		}
	}

	log.Printf("[SubmissionService] Round #%d: submission %s from %s", round.RoundNumber, sub.ID, wallet)
	return sub, nil
}

func photoTooLarge(limit int) error {
	err := apperrors.NewValidationError("PHOTO_TOO_LARGE", fmt.Sprintf("photo exceeds %d MB", limit/(1024*1024)))
	err.Details = map[string]interface{}{"maxBytes": limit}
	return err
}

// ListPending returns submissions waiting for review
func (s *SubmissionService) ListPending(ctx context.Context) ([]models.Submission, error) {
	return s.store.ListByStatus(ctx, types.SubmissionPending, 100)
}

// ListApproved returns the most recent approved submissions, served from cache when possible
func (s *SubmissionService) ListApproved(ctx context.Context) ([]models.Submission, error) {
	if s.cache != nil {
		var cached []models.Submission
		if ok, err := s.cache.Get(ctx, galleryCacheKey, &cached); err != nil {
			log.Printf("[SubmissionService] Gallery cache read failed: %v", err)
		} else if ok {
			return cached, nil
		}
	}

	subs, err := s.store.ListByStatus(ctx, types.SubmissionApproved, s.galleryLimit)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, galleryCacheKey, subs); err != nil {
			log.Printf("[SubmissionService] Gallery cache write failed: %v", err)
		}
	}
	return subs, nil
}

// ReviewSubmission approves or rejects a pending submission
func (s *SubmissionService) ReviewSubmission(ctx context.Context, id string, status types.SubmissionStatus, notes string) (*models.Submission, error) {
	if !status.IsReviewOutcome() {
		return nil, apperrors.NewInvalidParameterError("status", "must be approved or rejected")
	}

	var reviewerNotes *string
	if n := strings.TrimSpace(notes); n != "" {
		reviewerNotes = &n
	}

	sub, err := s.store.Review(ctx, id, status, reviewerNotes, s.now().UTC())
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		if err := s.cache.Invalidate(ctx, galleryCacheKey, statsCacheKey); err != nil {
			log.Printf("[SubmissionService] Cache invalidation failed: %v", err)
		}
	}

	log.Printf("[SubmissionService] Submission %s %s", sub.ID, sub.Status)
	return sub, nil
}

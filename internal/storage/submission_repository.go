package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	apperrors "github.com/holder-rounds/internal/errors"
	"github.com/holder-rounds/internal/models"
	"github.com/holder-rounds/internal/types"
	"github.com/jackc/pgx/v5"
)

const submissionColumns = `
	id, round_id, wallet_address, photo_url, status,
	submitted_at, reviewed_at, reviewer_notes`

// SubmissionRepository persists photo submissions
type SubmissionRepository struct {
	db *PostgresDB
}

// NewSubmissionRepository creates a new submission repository
func NewSubmissionRepository(db *PostgresDB) *SubmissionRepository {
	return &SubmissionRepository{db: db}
}

// Create inserts a pending submission. A second submission for the same
// round and wallet is rejected as a validation error.
func (r *SubmissionRepository) Create(ctx context.Context, sub *models.Submission) error {
	if sub.ID == "" {
		sub.ID = uuid.New().String()
	}
	if sub.Status == "" {
		sub.Status = types.SubmissionPending
	}
	if sub.SubmittedAt.IsZero() {
		sub.SubmittedAt = time.Now().UTC()
	}
	sub.WalletAddress = strings.ToLower(sub.WalletAddress)

	_, err := r.db.Pool().Exec(ctx, `
		INSERT INTO submissions (id, round_id, wallet_address, photo_url, status, submitted_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, sub.ID, sub.RoundID, sub.WalletAddress, sub.PhotoURL, string(sub.Status), sub.SubmittedAt)
	if err != nil {
		if uniqueViolation(err) == constraintSubmissionPerUser {
			return apperrors.NewValidationError("DUPLICATE_SUBMISSION", "a submission already exists for this round")
		}
		return apperrors.NewStoreError("create submission", err)
	}
	return nil
}

// GetByID returns a submission by id
func (r *SubmissionRepository) GetByID(ctx context.Context, id string) (*models.Submission, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, apperrors.NewNotFoundError("submission", id)
	}

	row := r.db.Pool().QueryRow(ctx, `SELECT `+submissionColumns+` FROM submissions WHERE id = $1`, id)
	sub, err := scanSubmission(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewNotFoundError("submission", id)
		}
		return nil, err
	}
	return sub, nil
}

// GetByRoundAndWallet returns the wallet's submission for a round, or nil
func (r *SubmissionRepository) GetByRoundAndWallet(ctx context.Context, roundID, wallet string) (*models.Submission, error) {
	row := r.db.Pool().QueryRow(ctx, `
		SELECT `+submissionColumns+`
		FROM submissions
		WHERE round_id = $1 AND wallet_address = $2
	`, roundID, strings.ToLower(wallet))

	sub, err := scanSubmission(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return sub, nil
}

// ListByStatus returns submissions with status, newest first
func (r *SubmissionRepository) ListByStatus(ctx context.Context, status types.SubmissionStatus, limit int) ([]models.Submission, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := r.db.Pool().Query(ctx, `
		SELECT `+submissionColumns+`
		FROM submissions
		WHERE status = $1
		ORDER BY submitted_at DESC
		LIMIT $2
	`, string(status), limit)
	if err != nil {
		return nil, apperrors.NewStoreError("list submissions", err)
	}
	defer rows.Close()

	subs := []models.Submission{}
	for rows.Next() {
		sub, err := scanSubmission(rows)
		if err != nil {
			return nil, err
		}
		subs = append(subs, *sub)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewStoreError("iterate submissions", err)
	}
	return subs, nil
}

// Review moves a pending submission to status, stamping reviewedAt.
// A submission that was already reviewed is reported as a state conflict.
func (r *SubmissionRepository) Review(ctx context.Context, id string, status types.SubmissionStatus, notes *string, reviewedAt time.Time) (*models.Submission, error) {
	row := r.db.Pool().QueryRow(ctx, `
		UPDATE submissions
		SET status = $2, reviewer_notes = $3, reviewed_at = $4
		WHERE id = $1 AND status = 'pending'
		RETURNING `+submissionColumns, id, string(status), notes, reviewedAt)

	sub, err := scanSubmission(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			if _, getErr := r.GetByID(ctx, id); getErr != nil {
				return nil, getErr
			}
			return nil, apperrors.NewStateConflictError("submission has already been reviewed", err)
		}
		return nil, err
	}
	return sub, nil
}

// Count returns the total number of submissions
func (r *SubmissionRepository) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := r.db.Pool().QueryRow(ctx, `SELECT COUNT(*) FROM submissions`).Scan(&count); err != nil {
		return 0, apperrors.NewStoreError("count submissions", err)
	}
	return count, nil
}

// CountByStatus returns the number of submissions with status
func (r *SubmissionRepository) CountByStatus(ctx context.Context, status types.SubmissionStatus) (int64, error) {
	var count int64
	if err := r.db.Pool().QueryRow(ctx, `SELECT COUNT(*) FROM submissions WHERE status = $1`, string(status)).Scan(&count); err != nil {
		return 0, apperrors.NewStoreError("count submissions by status", err)
	}
	return count, nil
}

func scanSubmission(row pgx.Row) (*models.Submission, error) {
	var sub models.Submission
	var status string

	err := row.Scan(
		&sub.ID,
		&sub.RoundID,
		&sub.WalletAddress,
		&sub.PhotoURL,
		&status,
		&sub.SubmittedAt,
		&sub.ReviewedAt,
		&sub.ReviewerNotes,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, apperrors.NewStoreError("scan submission", err)
	}
	sub.Status = types.SubmissionStatus(status)
	return &sub, nil
}

package storage

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	apperrors "github.com/holder-rounds/internal/errors"
	"github.com/holder-rounds/internal/models"
	"github.com/holder-rounds/internal/types"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

const roundColumns = `
	id, round_number, start_time, end_time, status,
	highest_holder_address, highest_holder_balance::text, target_item,
	created_at, updated_at`

// RoundRepository persists rounds
type RoundRepository struct {
	db *PostgresDB
}

// NewRoundRepository creates a new round repository
func NewRoundRepository(db *PostgresDB) *RoundRepository {
	return &RoundRepository{db: db}
}

type execer interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
}

// Create inserts a new round. A second open round or a reused round number
// is rejected by the schema and surfaces as a state conflict.
func (r *RoundRepository) Create(ctx context.Context, round *models.Round) error {
	return insertRound(ctx, r.db.Pool(), round)
}

// Rollover ends the open round id at endTime and inserts next in one
// transaction. Either both writes land or neither does.
func (r *RoundRepository) Rollover(ctx context.Context, id string, endTime time.Time, next *models.Round) error {
	tx, err := r.db.Pool().Begin(ctx)
	if err != nil {
		return apperrors.NewStoreError("begin round rollover", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, `
		UPDATE rounds
		SET status = 'ended', end_time = $2, updated_at = NOW()
		WHERE id = $1 AND status IN ('active', 'submission_window')
	`, id, endTime)
	if err != nil {
		return apperrors.NewStoreError("end round", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.NewStateConflictError("round is not open", nil)
	}

	if err := insertRound(ctx, tx, next); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return apperrors.NewStoreError("commit round rollover", err)
	}
	return nil
}

func insertRound(ctx context.Context, db execer, round *models.Round) error {
	if round.ID == "" {
		round.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	round.CreatedAt = now
	round.UpdatedAt = now

	var balance *string
	if round.HighestHolderBalance != nil {
		s := round.HighestHolderBalance.String()
		balance = &s
	}

	_, err := db.Exec(ctx, `
		INSERT INTO rounds (id, round_number, start_time, end_time, status,
			highest_holder_address, highest_holder_balance, target_item, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7::text::numeric, $8, $9, $10)
	`,
		round.ID,
		round.RoundNumber,
		round.StartTime,
		round.EndTime,
		string(round.Status),
		round.HighestHolderAddress,
		balance,
		round.TargetItem,
		round.CreatedAt,
		round.UpdatedAt,
	)
	if err != nil {
		switch uniqueViolation(err) {
		case "":
			return apperrors.NewStoreError("create round", err)
		case constraintSingleOpenRound:
			return apperrors.NewStateConflictError("an open round already exists", err)
		default:
			return apperrors.NewStateConflictError("round number already taken", err)
		}
	}
	return nil
}

// GetOpen returns the round in active or submission_window status, or nil
func (r *RoundRepository) GetOpen(ctx context.Context) (*models.Round, error) {
	row := r.db.Pool().QueryRow(ctx, `
		SELECT `+roundColumns+`
		FROM rounds
		WHERE status IN ('active', 'submission_window')
		ORDER BY round_number DESC
		LIMIT 1
	`)

	round, err := scanRound(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return round, nil
}

// GetByID returns a round by id
func (r *RoundRepository) GetByID(ctx context.Context, id string) (*models.Round, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, apperrors.NewNotFoundError("round", id)
	}

	row := r.db.Pool().QueryRow(ctx, `SELECT `+roundColumns+` FROM rounds WHERE id = $1`, id)
	round, err := scanRound(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewNotFoundError("round", id)
		}
		return nil, err
	}
	return round, nil
}

// GetLastRoundNumber returns the highest round number, 0 when no round exists
func (r *RoundRepository) GetLastRoundNumber(ctx context.Context) (int, error) {
	var last int
	if err := r.db.Pool().QueryRow(ctx, `SELECT COALESCE(MAX(round_number), 0) FROM rounds`).Scan(&last); err != nil {
		return 0, apperrors.NewStoreError("get last round number", err)
	}
	return last, nil
}

// EnterSubmissionWindow moves an active round into the submission window,
// stamping the highest holder when one is given.
func (r *RoundRepository) EnterSubmissionWindow(ctx context.Context, id string, holder *models.HolderRecord) (*models.Round, error) {
	var address, balance *string
	if holder != nil {
		a := holder.Address
		b := amountString(holder.Balance)
		address, balance = &a, &b
	}

	row := r.db.Pool().QueryRow(ctx, `
		UPDATE rounds
		SET status = 'submission_window',
			highest_holder_address = $2,
			highest_holder_balance = $3::text::numeric,
			updated_at = NOW()
		WHERE id = $1 AND status = 'active'
		RETURNING `+roundColumns, id, address, balance)

	round, err := scanRound(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewStateConflictError("round is no longer active", err)
		}
		return nil, err
	}
	return round, nil
}

// Count returns the number of rounds ever created
func (r *RoundRepository) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := r.db.Pool().QueryRow(ctx, `SELECT COUNT(*) FROM rounds`).Scan(&count); err != nil {
		return 0, apperrors.NewStoreError("count rounds", err)
	}
	return count, nil
}

func scanRound(row pgx.Row) (*models.Round, error) {
	var round models.Round
	var status string
	var balance *string

	err := row.Scan(
		&round.ID,
		&round.RoundNumber,
		&round.StartTime,
		&round.EndTime,
		&status,
		&round.HighestHolderAddress,
		&balance,
		&round.TargetItem,
		&round.CreatedAt,
		&round.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, apperrors.NewStoreError("scan round", err)
	}

	round.Status = types.RoundStatus(status)
	if balance != nil {
		amount, err := parseAmount(*balance)
		if err != nil {
			return nil, apperrors.NewStoreError("parse round balance", err)
		}
		round.HighestHolderBalance = amount
	}
	return &round, nil
}

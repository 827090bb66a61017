package storage

import (
	"context"
	"fmt"
	"strings"

	"github.com/holder-rounds/internal/models"
)

// HolderHistoryRepository appends holder snapshots to ClickHouse and reads them back per address
type HolderHistoryRepository struct {
	db *ClickHouseDB
}

// NewHolderHistoryRepository creates a new holder history repository
func NewHolderHistoryRepository(db *ClickHouseDB) *HolderHistoryRepository {
	return &HolderHistoryRepository{db: db}
}

// InsertSnapshot writes one complete snapshot in a single batch
func (r *HolderHistoryRepository) InsertSnapshot(ctx context.Context, points []models.HolderSnapshotPoint) error {
	if len(points) == 0 {
		return nil
	}

	batch, err := r.db.Conn().PrepareBatch(ctx, `
		INSERT INTO holder_snapshots (taken_at, asset, address, balance, rank, percentage)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare batch: %w", err)
	}

	for _, p := range points {
		if err := batch.Append(
			p.TakenAt,
			strings.ToLower(p.Asset),
			strings.ToLower(p.Address),
			p.Balance,
			uint32(p.Rank), // #nosec G115 - rank is a positive list index
			p.Percentage,
		); err != nil {
			return fmt.Errorf("failed to append snapshot row: %w", err)
		}
	}

	return batch.Send()
}

// GetAddressHistory returns the most recent snapshot rows for an address, newest first
func (r *HolderHistoryRepository) GetAddressHistory(ctx context.Context, asset, address string, limit int) ([]models.HolderSnapshotPoint, error) {
	rows, err := r.db.Conn().Query(ctx, `
		SELECT taken_at, asset, address, balance, rank, percentage
		FROM holder_snapshots
		WHERE asset = ? AND address = ?
		ORDER BY taken_at DESC
		LIMIT ?
	`, strings.ToLower(asset), strings.ToLower(address), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query holder history: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var points []models.HolderSnapshotPoint
	for rows.Next() {
		var p models.HolderSnapshotPoint
		var rank uint32
		if err := rows.Scan(&p.TakenAt, &p.Asset, &p.Address, &p.Balance, &rank, &p.Percentage); err != nil {
			return nil, fmt.Errorf("failed to scan holder history: %w", err)
		}
		p.Rank = int(rank)
		points = append(points, p)
	}
	return points, rows.Err()
}

package service

import (
	"context"
	"log"

	"github.com/holder-rounds/internal/models"
	"github.com/holder-rounds/internal/types"
	"golang.org/x/sync/errgroup"
)

const statsCacheKey = "stats"

// Counter is a single count query
type Counter func(ctx context.Context) (int64, error)

// StatsServiceConfig holds the counters behind the platform stats
type StatsServiceConfig struct {
	Rounds      Counter
	Submissions SubmissionStore
	Holders     Counter
	Cache       ResponseCache // optional
}

// StatsService aggregates platform counters
type StatsService struct {
	rounds      Counter
	submissions SubmissionStore
	holders     Counter
	cache       ResponseCache
}

// NewStatsService creates a new stats service
func NewStatsService(cfg *StatsServiceConfig) *StatsService {
	return &StatsService{
		rounds:      cfg.Rounds,
		submissions: cfg.Submissions,
		holders:     cfg.Holders,
		cache:       cfg.Cache,
	}
}

// GetStats returns the platform counters, from cache when present
func (s *StatsService) GetStats(ctx context.Context) (*models.Stats, error) {
	if s.cache != nil {
		var cached models.Stats
		if ok, err := s.cache.Get(ctx, statsCacheKey, &cached); err != nil {
			log.Printf("[StatsService] Cache read failed: %v", err)
		} else if ok {
			return &cached, nil
		}
	}

	var stats models.Stats
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		stats.TotalRounds, err = s.rounds(gctx)
		return err
	})
	g.Go(func() (err error) {
		stats.TotalSubmissions, err = s.submissions.Count(gctx)
		return err
	})
	g.Go(func() (err error) {
		stats.ApprovedFinds, err = s.submissions.CountByStatus(gctx, types.SubmissionApproved)
		return err
	})
	g.Go(func() (err error) {
		stats.CurrentHolders, err = s.holders(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, statsCacheKey, stats); err != nil {
			log.Printf("[StatsService] Cache write failed: %v", err)
		}
	}
	return &stats, nil
}

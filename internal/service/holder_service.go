package service

import (
	"context"
	"fmt"
	"log"
	"math/big"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/holder-rounds/internal/circuitbreaker"
	apperrors "github.com/holder-rounds/internal/errors"
	"github.com/holder-rounds/internal/metrics"
	"github.com/holder-rounds/internal/models"
	"github.com/holder-rounds/internal/types"
	"github.com/holder-rounds/internal/worker"
	"golang.org/x/sync/errgroup"
)

// HolderStore is the durable holder snapshot
type HolderStore interface {
	ReplaceAll(ctx context.Context, holders []models.HolderRecord) error
	GetTopN(ctx context.Context, n int) ([]models.HolderRecord, error)
	GetByAddress(ctx context.Context, address string) (*models.HolderRecord, error)
	ClearAll(ctx context.Context) error
	Count(ctx context.Context) (int64, error)
}

// HolderFetcher reads raw balances for an asset from the chain
type HolderFetcher interface {
	FetchHolders(ctx context.Context, asset string) ([]models.HolderBalance, error)
}

// ConfigStore is the dynamic key/value settings store
type ConfigStore interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	All(ctx context.Context) ([]models.ConfigEntry, error)
}

// HolderHistoryWriter appends snapshots to the history store
type HolderHistoryWriter interface {
	InsertSnapshot(ctx context.Context, points []models.HolderSnapshotPoint) error
}

// HolderHistoryReader reads past snapshots of one address
type HolderHistoryReader interface {
	GetAddressHistory(ctx context.Context, asset, address string, limit int) ([]models.HolderSnapshotPoint, error)
}

// RankingObserver receives the top holders after every successful sync.
// It is called from the sync tick and must not block.
type RankingObserver interface {
	OnRankingUpdated(holders []models.HolderRecord, at time.Time)
}

// HolderServiceConfig holds configuration for the holder service
type HolderServiceConfig struct {
	Fetcher      HolderFetcher
	Store        HolderStore
	Config       ConfigStore
	History      HolderHistoryWriter // optional
	HistoryRead  HolderHistoryReader // optional
	Observer     RankingObserver     // optional
	TokenAddress string              // static asset, preferred over the stored token_address
	Interval     time.Duration
	TickTimeout  time.Duration // bounds one sync cycle, 0 for none
	TopN         int           // number of holders pushed to the observer
}

// HolderService keeps the ranked holder snapshot current. It fetches
// balances on a fixed interval, persists the ranking and caches it in memory.
type HolderService struct {
	fetcher      HolderFetcher
	store        HolderStore
	config       ConfigStore
	history      HolderHistoryWriter
	historyCB    *circuitbreaker.CircuitBreaker
	historyRead  HolderHistoryReader
	observer     RankingObserver
	tokenAddress string
	topN         int
	loop         *worker.Loop
	now          func() time.Time

	mu       sync.RWMutex
	cache    []models.HolderRecord
	lastSync time.Time
}

// NewHolderService creates a new holder service
func NewHolderService(cfg *HolderServiceConfig) (*HolderService, error) {
	if cfg.Fetcher == nil {
		return nil, fmt.Errorf("holder fetcher cannot be nil")
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("holder store cannot be nil")
	}

	topN := cfg.TopN
	if topN <= 0 {
		topN = 10
	}

	s := &HolderService{
		fetcher:      cfg.Fetcher,
		store:        cfg.Store,
		config:       cfg.Config,
		history:      cfg.History,
		historyRead:  cfg.HistoryRead,
		observer:     cfg.Observer,
		tokenAddress: cfg.TokenAddress,
		topN:         topN,
		now:          time.Now,
	}
	if cfg.History != nil {
		s.historyCB = circuitbreaker.NewCircuitBreaker(circuitbreaker.DefaultConfig("holder-history"))
	}

	loop, err := worker.NewLoop(&worker.LoopConfig{
		Name:           "HolderSync",
		Interval:       cfg.Interval,
		Tick:           s.tick,
		RunImmediately: true,
		TickTimeout:    cfg.TickTimeout,
	})
	if err != nil {
		return nil, err
	}
	s.loop = loop

	return s, nil
}

// Start begins periodic syncing. ctx bounds the lifetime of the sync timer.
func (s *HolderService) Start(ctx context.Context) error {
	return s.loop.Start(ctx)
}

// Stop stops periodic syncing. It is safe to call when not started.
func (s *HolderService) Stop(ctx context.Context) error {
	return s.loop.Stop(ctx)
}

// tick never returns an error so the loop does not double-log; every failure is handled here
func (s *HolderService) tick(ctx context.Context) error {
	if err := s.SyncOnce(ctx); err != nil {
		switch {
		case apperrors.IsRateLimit(err):
			log.Printf("[HolderService] Rate limited upstream, skipping this cycle: %v", err)
		default:
			log.Printf("[HolderService] Sync failed: %v", err)
		}
	}
	return nil
}

// SyncOnce runs one sync cycle: fetch, rank, persist, cache and notify.
// An empty fetch leaves the current snapshot untouched.
func (s *HolderService) SyncOnce(ctx context.Context) error {
	started := s.now()
	defer func() {
		metrics.HolderSyncDuration.Observe(time.Since(started).Seconds())
	}()

	asset, err := s.resolveAsset(ctx)
	if err != nil {
		metrics.HolderSyncTotal.WithLabelValues(metrics.SyncOutcomeError).Inc()
		return err
	}

	balances, err := s.fetcher.FetchHolders(ctx, asset)
	if err != nil {
		if apperrors.IsRateLimit(err) {
			metrics.HolderSyncTotal.WithLabelValues(metrics.SyncOutcomeRateLimited).Inc()
		} else {
			metrics.HolderSyncTotal.WithLabelValues(metrics.SyncOutcomeError).Inc()
		}
		return err
	}

	if len(balances) == 0 {
		metrics.HolderSyncTotal.WithLabelValues(metrics.SyncOutcomeEmpty).Inc()
		log.Printf("[HolderService] No holders returned for %s, keeping previous snapshot", asset)
		return nil
	}

	syncedAt := s.now().UTC()
	records := RankHolders(balances, syncedAt)
	if len(records) == 0 {
		metrics.HolderSyncTotal.WithLabelValues(metrics.SyncOutcomeEmpty).Inc()
		log.Printf("[HolderService] No positive balances for %s, keeping previous snapshot", asset)
		return nil
	}

	if err := s.store.ReplaceAll(ctx, records); err != nil {
		metrics.HolderSyncTotal.WithLabelValues(metrics.SyncOutcomeError).Inc()
		return err
	}

	s.mu.Lock()
	s.cache = records
	s.lastSync = syncedAt
	s.mu.Unlock()

	metrics.HolderSyncTotal.WithLabelValues(metrics.SyncOutcomeSuccess).Inc()
	metrics.TrackedHolders.Set(float64(len(records)))
	log.Printf("[HolderService] Synced %d holders for %s", len(records), asset)

	s.afterSync(ctx, asset, records, syncedAt)
	return nil
}

// afterSync feeds the history store and the observer concurrently. Neither can fail the sync.
func (s *HolderService) afterSync(ctx context.Context, asset string, records []models.HolderRecord, at time.Time) {
	g, gctx := errgroup.WithContext(ctx)

	if s.history != nil {
		g.Go(func() error {
			err := s.historyCB.Execute(gctx, func(ctx context.Context) error {
				return s.history.InsertSnapshot(ctx, snapshotPoints(asset, records, at))
			})
			if err != nil {
				log.Printf("[HolderService] Failed to record holder history: %v", err)
			}
			return nil
		})
	}

	if s.observer != nil {
		top := records
		if len(top) > s.topN {
			top = top[:s.topN]
		}
		g.Go(func() error {
			s.observer.OnRankingUpdated(top, at)
			return nil
		})
	}

	_ = g.Wait()
}

// resolveAsset prefers the static token address and falls back to the stored one
func (s *HolderService) resolveAsset(ctx context.Context) (string, error) {
	if s.tokenAddress != "" {
		return s.tokenAddress, nil
	}
	if s.config == nil {
		return "", apperrors.NewValidationError("TOKEN_NOT_CONFIGURED", "no token address configured")
	}

	value, ok, err := s.config.Get(ctx, string(types.ConfigTokenAddress))
	if err != nil {
		return "", err
	}
	value = strings.TrimSpace(value)
	if !ok || value == "" {
		return "", apperrors.NewValidationError("TOKEN_NOT_CONFIGURED", "no token address configured")
	}
	return value, nil
}

// RestartSync clears the cached and stored snapshot between two sync cycles.
// The timer keeps running, so the next cycle repopulates the ranking. Used
// when the tracked asset changes. If ctx ends before the clear is scheduled
// nothing is cleared and ctx.Err() is returned.
func (s *HolderService) RestartSync(ctx context.Context) error {
	return s.loop.Do(ctx, s.clearSnapshot)
}

func (s *HolderService) clearSnapshot(ctx context.Context) error {
	if err := s.store.ClearAll(ctx); err != nil {
		return err
	}

	s.mu.Lock()
	s.cache = nil
	s.lastSync = time.Time{}
	s.mu.Unlock()

	metrics.TrackedHolders.Set(0)
	log.Printf("[HolderService] Holder snapshot cleared")
	return nil
}

// GetTopHolders returns at most n holders by rank from durable storage
func (s *HolderService) GetTopHolders(ctx context.Context, n int) ([]models.HolderRecord, error) {
	if n <= 0 {
		return nil, apperrors.NewInvalidParameterError("limit", "must be positive")
	}
	return s.store.GetTopN(ctx, n)
}

// GetHolderByAddress returns the ranked holder for address, or a not found error
func (s *HolderService) GetHolderByAddress(ctx context.Context, address string) (*models.HolderRecord, error) {
	if !types.IsValidAddress(address) {
		return nil, apperrors.NewInvalidAddressError(address)
	}

	holder, err := s.store.GetByAddress(ctx, types.NormalizeAddress(address))
	if err != nil {
		return nil, err
	}
	if holder == nil {
		return nil, apperrors.NewNotFoundError("holder", address)
	}
	return holder, nil
}

// GetHighestHolder returns the rank 1 holder, or nil when the snapshot is empty
func (s *HolderService) GetHighestHolder(ctx context.Context) (*models.HolderRecord, error) {
	top, err := s.store.GetTopN(ctx, 1)
	if err != nil {
		return nil, err
	}
	if len(top) == 0 {
		return nil, nil
	}
	return &top[0], nil
}

// GetHolderHistory returns up to limit past snapshot rows for address, newest first
func (s *HolderService) GetHolderHistory(ctx context.Context, address string, limit int) ([]models.HolderSnapshotPoint, error) {
	if s.historyRead == nil {
		return nil, apperrors.NewServiceUnavailableError("holder history")
	}
	if !types.IsValidAddress(address) {
		return nil, apperrors.NewInvalidAddressError(address)
	}
	if limit <= 0 || limit > 1000 {
		limit = 100
	}

	asset, err := s.resolveAsset(ctx)
	if err != nil {
		return nil, err
	}

	points, err := s.historyRead.GetAddressHistory(ctx, asset, types.NormalizeAddress(address), limit)
	if err != nil {
		return nil, apperrors.NewStoreError("read holder history", err)
	}
	if points == nil {
		points = []models.HolderSnapshotPoint{}
	}
	return points, nil
}

// HolderCount returns the number of stored holders
func (s *HolderService) HolderCount(ctx context.Context) (int64, error) {
	return s.store.Count(ctx)
}

// CachedHolders returns a copy of the in-memory snapshot
func (s *HolderService) CachedHolders() []models.HolderRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.HolderRecord, len(s.cache))
	copy(out, s.cache)
	return out
}

// LastSync returns when the last successful sync finished
func (s *HolderService) LastSync() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastSync
}

// RankHolders sorts balances descending (address ascending on ties), drops
// non-positive balances and annotates each holder with its rank and share of the total.
func RankHolders(balances []models.HolderBalance, at time.Time) []models.HolderRecord {
	positive := make([]models.HolderBalance, 0, len(balances))
	total := new(big.Int)
	for _, b := range balances {
		if b.Balance == nil || b.Balance.Sign() <= 0 {
			continue
		}
		positive = append(positive, models.HolderBalance{
			Address: strings.ToLower(b.Address),
			Balance: b.Balance,
		})
		total.Add(total, b.Balance)
	}

	sort.SliceStable(positive, func(i, j int) bool {
		if c := positive[i].Balance.Cmp(positive[j].Balance); c != 0 {
			return c > 0
		}
		return positive[i].Address < positive[j].Address
	})

	totalF := new(big.Float).SetInt(total)
	records := make([]models.HolderRecord, len(positive))
	for i, b := range positive {
		share := new(big.Float).Quo(new(big.Float).SetInt(b.Balance), totalF)
		pct, _ := share.Mul(share, big.NewFloat(100)).Float64()

		records[i] = models.HolderRecord{
			Address:     b.Address,
			Balance:     new(big.Int).Set(b.Balance),
			Rank:        i + 1,
			Percentage:  pct,
			LastUpdated: at,
		}
	}
	return records
}

func snapshotPoints(asset string, records []models.HolderRecord, at time.Time) []models.HolderSnapshotPoint {
	points := make([]models.HolderSnapshotPoint, len(records))
	for i, r := range records {
		points[i] = models.HolderSnapshotPoint{
			TakenAt:    at,
			Asset:      asset,
			Address:    r.Address,
			Balance:    r.Balance.String(),
			Rank:       r.Rank,
			Percentage: r.Percentage,
		}
	}
	return points
}

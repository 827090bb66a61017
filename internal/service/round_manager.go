package service

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	apperrors "github.com/holder-rounds/internal/errors"
	"github.com/holder-rounds/internal/metrics"
	"github.com/holder-rounds/internal/models"
	"github.com/holder-rounds/internal/types"
	"github.com/holder-rounds/internal/worker"
)

// Default round timing
const (
	DefaultRoundDuration    = 25 * time.Minute
	DefaultSubmissionWindow = 3 * time.Minute
	DefaultRoundPoll        = time.Second
)

// RoundStore persists rounds
type RoundStore interface {
	GetOpen(ctx context.Context) (*models.Round, error)
	GetByID(ctx context.Context, id string) (*models.Round, error)
	Create(ctx context.Context, round *models.Round) error
	EnterSubmissionWindow(ctx context.Context, id string, holder *models.HolderRecord) (*models.Round, error)
	// Rollover ends round id and creates next atomically
	Rollover(ctx context.Context, id string, endTime time.Time, next *models.Round) error
	GetLastRoundNumber(ctx context.Context) (int, error)
	Count(ctx context.Context) (int64, error)
}

// HighestHolderSource returns the current rank 1 holder, or nil
type HighestHolderSource interface {
	GetHighestHolder(ctx context.Context) (*models.HolderRecord, error)
}

// RoundObserver receives round phase changes. It is called from the round
// tick and must not block.
type RoundObserver interface {
	OnRoundPhaseChanged(round *models.Round, phase types.Phase)
}

// RoundManagerConfig holds configuration for the round manager
type RoundManagerConfig struct {
	Store            RoundStore
	Holders          HighestHolderSource
	Observer         RoundObserver // optional
	RoundDuration    time.Duration
	SubmissionWindow time.Duration
	PollInterval     time.Duration
	TickTimeout      time.Duration // bounds one poll tick, 0 for none
}

// RoundManager advances the open round through its phases on a fixed poll tick.
// Manual round starts are executed on the same loop so the manager stays the
// only writer of round state.
type RoundManager struct {
	store            RoundStore
	holders          HighestHolderSource
	observer         RoundObserver
	roundDuration    time.Duration
	submissionWindow time.Duration
	loop             *worker.Loop
	now              func() time.Time
}

// NewRoundManager creates a new round manager
func NewRoundManager(cfg *RoundManagerConfig) (*RoundManager, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("round store cannot be nil")
	}
	if cfg.Holders == nil {
		return nil, fmt.Errorf("highest holder source cannot be nil")
	}

	m := &RoundManager{
		store:            cfg.Store,
		holders:          cfg.Holders,
		observer:         cfg.Observer,
		roundDuration:    cfg.RoundDuration,
		submissionWindow: cfg.SubmissionWindow,
		now:              time.Now,
	}
	if m.roundDuration <= 0 {
		m.roundDuration = DefaultRoundDuration
	}
	if m.submissionWindow <= 0 {
		m.submissionWindow = DefaultSubmissionWindow
	}

	poll := cfg.PollInterval
	if poll <= 0 {
		poll = DefaultRoundPoll
	}

	loop, err := worker.NewLoop(&worker.LoopConfig{
		Name:           "RoundManager",
		Interval:       poll,
		Tick:           m.Tick,
		RunImmediately: true,
		TickTimeout:    cfg.TickTimeout,
	})
	if err != nil {
		return nil, err
	}
	m.loop = loop

	return m, nil
}

// Start begins polling
func (m *RoundManager) Start(ctx context.Context) error {
	return m.loop.Start(ctx)
}

// Stop stops polling. It is safe to call when not started.
func (m *RoundManager) Stop(ctx context.Context) error {
	return m.loop.Stop(ctx)
}

// Tick evaluates the open round against the clock and applies at most one
// transition. A round that ends is immediately followed by a new one.
func (m *RoundManager) Tick(ctx context.Context) error {
	open, err := m.store.GetOpen(ctx)
	if err != nil {
		return err
	}

	if open == nil {
		_, err := m.createRound(ctx, nil, nil)
		return err
	}

	now := m.now()
	elapsed := now.Sub(open.StartTime)

	switch open.Status {
	case types.RoundStatusActive:
		if elapsed < m.roundDuration {
			return nil
		}
		return m.enterSubmissionWindow(ctx, open)

	case types.RoundStatusSubmissionWindow:
		if elapsed < m.roundDuration+m.submissionWindow {
			return nil
		}
		_, err := m.createRound(ctx, nil, open)
		return err
	}

	return nil
}

func (m *RoundManager) enterSubmissionWindow(ctx context.Context, round *models.Round) error {
	holder, err := m.holders.GetHighestHolder(ctx)
	if err != nil {
		return err
	}

	updated, err := m.store.EnterSubmissionWindow(ctx, round.ID, holder)
	if err != nil {
		if apperrors.IsStateConflict(err) {
			log.Printf("[RoundManager] Round #%d changed before the submission window opened", round.RoundNumber)
			return nil
		}
		return err
	}

	if holder != nil {
		log.Printf("[RoundManager] Round #%d entered submission window, highest holder %s", updated.RoundNumber, holder.Address)
	} else {
		log.Printf("[RoundManager] Round #%d entered submission window with no holder", updated.RoundNumber)
	}

	metrics.RoundTransitionsTotal.WithLabelValues(string(types.PhaseSubmission)).Inc()
	m.notify(updated, types.PhaseSubmission)
	return nil
}

// createRound starts the next round. When previous is set it is ended in
// the same store transaction.
func (m *RoundManager) createRound(ctx context.Context, targetItem *string, previous *models.Round) (*models.Round, error) {
	last, err := m.store.GetLastRoundNumber(ctx)
	if err != nil {
		return nil, err
	}

	round := &models.Round{
		RoundNumber: last + 1,
		StartTime:   m.now().UTC(),
		Status:      types.RoundStatusActive,
		TargetItem:  targetItem,
	}

	if previous == nil {
		err = m.store.Create(ctx, round)
	} else {
		err = m.store.Rollover(ctx, previous.ID, round.StartTime, round)
	}
	if err != nil {
		return nil, err
	}

	if previous != nil {
		log.Printf("[RoundManager] Round #%d ended", previous.RoundNumber)
		metrics.RoundTransitionsTotal.WithLabelValues(string(types.PhaseEnded)).Inc()
	}
	log.Printf("[RoundManager] Round #%d started", round.RoundNumber)
	metrics.RoundTransitionsTotal.WithLabelValues(string(types.PhaseActive)).Inc()
	metrics.CurrentRoundNumber.Set(float64(round.RoundNumber))
	m.notify(round, types.PhaseActive)
	return round, nil
}

// ForceNewRound ends the open round, if any, and starts a new one with targetItem,
// regardless of timing. It runs on the poll loop between ticks.
func (m *RoundManager) ForceNewRound(ctx context.Context, targetItem string) (*models.Round, error) {
	var target *string
	if t := strings.TrimSpace(targetItem); t != "" {
		target = &t
	}

	var created *models.Round
	err := m.loop.Do(ctx, func(ctx context.Context) error {
		open, err := m.store.GetOpen(ctx)
		if err != nil {
			return err
		}
		if open != nil {
			log.Printf("[RoundManager] Ending round #%d for a manual start", open.RoundNumber)
		}

		created, err = m.createRound(ctx, target, open)
		return err
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// GetCurrentRoundWithPhase returns the open round with its phase and the
// milliseconds left in that phase. It returns nil when no round is open.
func (m *RoundManager) GetCurrentRoundWithPhase(ctx context.Context) (*models.RoundView, error) {
	open, err := m.store.GetOpen(ctx)
	if err != nil {
		return nil, err
	}
	if open == nil {
		return nil, nil
	}
	return m.ViewAt(open, m.now()), nil
}

// ViewAt derives the phase and remaining time of round at now. The phase
// follows the stored status, so it may lag the clock by up to one poll tick.
func (m *RoundManager) ViewAt(round *models.Round, now time.Time) *models.RoundView {
	phase := types.PhaseForStatus(round.Status)
	elapsed := now.Sub(round.StartTime)

	var remaining time.Duration
	switch phase {
	case types.PhaseActive:
		remaining = m.roundDuration - elapsed
	case types.PhaseSubmission:
		remaining = m.roundDuration + m.submissionWindow - elapsed
	}
	if remaining < 0 {
		remaining = 0
	}

	return &models.RoundView{
		Round:         round,
		Phase:         phase,
		TimeRemaining: remaining.Milliseconds(),
	}
}

// GetRound returns a round by id
func (m *RoundManager) GetRound(ctx context.Context, id string) (*models.Round, error) {
	return m.store.GetByID(ctx, id)
}

// GetOpenRound returns the open round or nil
func (m *RoundManager) GetOpenRound(ctx context.Context) (*models.Round, error) {
	return m.store.GetOpen(ctx)
}

// RoundCount returns how many rounds have been created
func (m *RoundManager) RoundCount(ctx context.Context) (int64, error) {
	return m.store.Count(ctx)
}

func (m *RoundManager) notify(round *models.Round, phase types.Phase) {
	if m.observer == nil {
		return
	}
	m.observer.OnRoundPhaseChanged(round, phase)
}

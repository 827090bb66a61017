package service

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	apperrors "github.com/holder-rounds/internal/errors"
	"github.com/holder-rounds/internal/models"
	"github.com/holder-rounds/internal/types"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testRoundDuration = 25 * time.Minute
	testWindow        = 3 * time.Minute
)

type roundFixture struct {
	manager  *RoundManager
	store    *memRoundStore
	holders  *staticHolderSource
	observer *recordingObserver
	clock    *fakeClock
}

func newRoundFixture(t *testing.T) *roundFixture {
	t.Helper()
	f := &roundFixture{
		store:    &memRoundStore{},
		holders:  &staticHolderSource{},
		observer: &recordingObserver{},
		clock:    newFakeClock(),
	}
	m, err := NewRoundManager(&RoundManagerConfig{
		Store:            f.store,
		Holders:          f.holders,
		Observer:         f.observer,
		RoundDuration:    testRoundDuration,
		SubmissionWindow: testWindow,
		PollInterval:     time.Hour,
	})
	require.NoError(t, err)
	m.now = f.clock.Now
	f.manager = m
	return f
}

func TestNewRoundManager_Validation(t *testing.T) {
	_, err := NewRoundManager(&RoundManagerConfig{Holders: &staticHolderSource{}})
	assert.Error(t, err)

	_, err = NewRoundManager(&RoundManagerConfig{Store: &memRoundStore{}})
	assert.Error(t, err)

	m, err := NewRoundManager(&RoundManagerConfig{Store: &memRoundStore{}, Holders: &staticHolderSource{}})
	require.NoError(t, err)
	assert.Equal(t, DefaultRoundDuration, m.roundDuration)
	assert.Equal(t, DefaultSubmissionWindow, m.submissionWindow)
}

func TestRoundManager_EndToEnd(t *testing.T) {
	f := newRoundFixture(t)
	ctx := context.Background()
	top := &models.HolderRecord{Address: addr(7), Balance: big.NewInt(1000), Rank: 1}
	f.holders.holder = top

	start := f.clock.Now()
	require.NoError(t, f.manager.Tick(ctx))

	r1 := f.store.byNumber(1)
	require.NotNil(t, r1)
	assert.Equal(t, types.RoundStatusActive, r1.Status)
	assert.Equal(t, start, r1.StartTime)

	// one millisecond before the boundary nothing changes
	f.clock.Advance(testRoundDuration - time.Millisecond)
	require.NoError(t, f.manager.Tick(ctx))
	assert.Equal(t, types.RoundStatusActive, f.store.byNumber(1).Status)

	f.clock.Advance(time.Millisecond)
	require.NoError(t, f.manager.Tick(ctx))
	r1 = f.store.byNumber(1)
	assert.Equal(t, types.RoundStatusSubmissionWindow, r1.Status)
	require.NotNil(t, r1.HighestHolderAddress)
	assert.Equal(t, top.Address, *r1.HighestHolderAddress)
	assert.Equal(t, int64(1000), r1.HighestHolderBalance.Int64())

	// the holder changing after the stamp does not move the stamp
	f.holders.holder = &models.HolderRecord{Address: addr(8), Balance: big.NewInt(5000), Rank: 1}
	f.clock.Advance(testWindow - time.Millisecond)
	require.NoError(t, f.manager.Tick(ctx))
	assert.Equal(t, top.Address, *f.store.byNumber(1).HighestHolderAddress)
	assert.Nil(t, f.store.byNumber(2))

	f.clock.Advance(time.Millisecond)
	require.NoError(t, f.manager.Tick(ctx))

	r1 = f.store.byNumber(1)
	assert.Equal(t, types.RoundStatusEnded, r1.Status)
	require.NotNil(t, r1.EndTime)

	r2 := f.store.byNumber(2)
	require.NotNil(t, r2)
	assert.Equal(t, types.RoundStatusActive, r2.Status)
	assert.Equal(t, f.clock.Now(), r2.StartTime)
	assert.Equal(t, 1, f.store.openCount())

	events := f.observer.roundEvents()
	require.Len(t, events, 3)
	assert.Equal(t, types.PhaseActive, events[0].phase)
	assert.Equal(t, 1, events[0].round.RoundNumber)
	assert.Equal(t, types.PhaseSubmission, events[1].phase)
	assert.Equal(t, types.PhaseActive, events[2].phase, "no separate ended event")
	assert.Equal(t, 2, events[2].round.RoundNumber)
}

func TestRoundManager_NoHolderLeavesStampUnset(t *testing.T) {
	f := newRoundFixture(t)
	ctx := context.Background()

	require.NoError(t, f.manager.Tick(ctx))
	f.clock.Advance(testRoundDuration)
	require.NoError(t, f.manager.Tick(ctx))

	r1 := f.store.byNumber(1)
	assert.Equal(t, types.RoundStatusSubmissionWindow, r1.Status)
	assert.Nil(t, r1.HighestHolderAddress)
	assert.Nil(t, r1.HighestHolderBalance)
}

func TestRoundManager_TickErrorsPropagate(t *testing.T) {
	f := newRoundFixture(t)
	ctx := context.Background()

	f.store.openErr = apperrors.NewStoreError("get open round", errors.New("connection refused"))
	err := f.manager.Tick(ctx)
	assert.True(t, apperrors.IsStore(err))
	assert.Nil(t, f.store.byNumber(1))

	f.store.openErr = nil
	require.NoError(t, f.manager.Tick(ctx))

	f.holders.err = apperrors.NewStoreError("top holders", errors.New("timeout"))
	f.clock.Advance(testRoundDuration)
	assert.Error(t, f.manager.Tick(ctx))
	assert.Equal(t, types.RoundStatusActive, f.store.byNumber(1).Status)

	f.holders.err = nil
	require.NoError(t, f.manager.Tick(ctx))
	assert.Equal(t, types.RoundStatusSubmissionWindow, f.store.byNumber(1).Status)
}

func TestRoundManager_ForceNewRound(t *testing.T) {
	f := newRoundFixture(t)
	ctx := context.Background()

	// no open round: just creates one
	r1, err := f.manager.ForceNewRound(ctx, "  ")
	require.NoError(t, err)
	assert.Equal(t, 1, r1.RoundNumber)
	assert.Nil(t, r1.TargetItem)

	r2, err := f.manager.ForceNewRound(ctx, "red umbrella")
	require.NoError(t, err)
	assert.Equal(t, 2, r2.RoundNumber)
	require.NotNil(t, r2.TargetItem)
	assert.Equal(t, "red umbrella", *r2.TargetItem)

	assert.Equal(t, types.RoundStatusEnded, f.store.byNumber(1).Status)
	assert.Equal(t, 1, f.store.openCount())
}

func TestRoundManager_ForceNewRoundFailureKeepsOpenRound(t *testing.T) {
	f := newRoundFixture(t)
	ctx := context.Background()

	r1, err := f.manager.ForceNewRound(ctx, "")
	require.NoError(t, err)
	eventsBefore := len(f.observer.roundEvents())

	f.store.rolloverErr = apperrors.NewStoreError("create round", errors.New("connection reset"))
	_, err = f.manager.ForceNewRound(ctx, "blue kite")
	require.Error(t, err)

	open, err := f.store.GetOpen(ctx)
	require.NoError(t, err)
	require.NotNil(t, open, "the open round must survive a failed manual start")
	assert.Equal(t, r1.ID, open.ID)
	assert.Equal(t, types.RoundStatusActive, open.Status)
	assert.Len(t, f.observer.roundEvents(), eventsBefore)

	f.store.rolloverErr = nil
	r2, err := f.manager.ForceNewRound(ctx, "blue kite")
	require.NoError(t, err)
	assert.Equal(t, 2, r2.RoundNumber)
	require.NotNil(t, r2.TargetItem)
	assert.Equal(t, "blue kite", *r2.TargetItem)
	assert.Equal(t, types.RoundStatusEnded, f.store.byNumber(1).Status)
}

func TestRoundManager_FailedRolloverRetriedNextTick(t *testing.T) {
	f := newRoundFixture(t)
	ctx := context.Background()

	require.NoError(t, f.manager.Tick(ctx))
	f.clock.Advance(testRoundDuration)
	require.NoError(t, f.manager.Tick(ctx))
	f.clock.Advance(testWindow)

	f.store.rolloverErr = apperrors.NewStoreError("create round", errors.New("connection reset"))
	require.Error(t, f.manager.Tick(ctx))
	assert.Equal(t, types.RoundStatusSubmissionWindow, f.store.byNumber(1).Status)
	assert.Nil(t, f.store.byNumber(2))

	f.store.rolloverErr = nil
	require.NoError(t, f.manager.Tick(ctx))
	assert.Equal(t, types.RoundStatusEnded, f.store.byNumber(1).Status)
	require.NotNil(t, f.store.byNumber(2))
	assert.Equal(t, 1, f.store.openCount())
}

func TestRoundManager_ForceNewRoundWhileRunning(t *testing.T) {
	f := newRoundFixture(t)
	f.manager.loop = mustFastLoop(t, f.manager)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, f.manager.Start(ctx))
	defer func() { _ = f.manager.Stop(context.Background()) }()

	require.Eventually(t, func() bool { return f.store.byNumber(1) != nil }, time.Second, time.Millisecond)

	for i := 0; i < 5; i++ {
		_, err := f.manager.ForceNewRound(context.Background(), "item")
		require.NoError(t, err)
		assert.Equal(t, 1, f.store.openCount())
	}

	last, err := f.store.GetLastRoundNumber(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 6, last)
}

func TestRoundManager_ViewAt(t *testing.T) {
	f := newRoundFixture(t)
	start := f.clock.Now()

	active := &models.Round{StartTime: start, Status: types.RoundStatusActive}
	view := f.manager.ViewAt(active, start.Add(10*time.Minute))
	assert.Equal(t, types.PhaseActive, view.Phase)
	assert.Equal(t, (15 * time.Minute).Milliseconds(), view.TimeRemaining)

	// status lags the clock: remaining time is floored at zero
	view = f.manager.ViewAt(active, start.Add(testRoundDuration+time.Second))
	assert.Equal(t, types.PhaseActive, view.Phase)
	assert.Equal(t, int64(0), view.TimeRemaining)

	window := &models.Round{StartTime: start, Status: types.RoundStatusSubmissionWindow}
	view = f.manager.ViewAt(window, start.Add(testRoundDuration+time.Minute))
	assert.Equal(t, types.PhaseSubmission, view.Phase)
	assert.Equal(t, (2 * time.Minute).Milliseconds(), view.TimeRemaining)

	ended := &models.Round{StartTime: start, Status: types.RoundStatusEnded}
	view = f.manager.ViewAt(ended, start)
	assert.Equal(t, types.PhaseEnded, view.Phase)
	assert.Equal(t, int64(0), view.TimeRemaining)
}

func TestRoundManager_GetCurrentRoundWithPhase(t *testing.T) {
	f := newRoundFixture(t)
	ctx := context.Background()

	view, err := f.manager.GetCurrentRoundWithPhase(ctx)
	require.NoError(t, err)
	assert.Nil(t, view)

	require.NoError(t, f.manager.Tick(ctx))
	f.clock.Advance(time.Minute)

	view, err = f.manager.GetCurrentRoundWithPhase(ctx)
	require.NoError(t, err)
	require.NotNil(t, view)
	assert.Equal(t, 1, view.Round.RoundNumber)
	assert.Equal(t, types.PhaseActive, view.Phase)
	assert.Equal(t, (24 * time.Minute).Milliseconds(), view.TimeRemaining)

	count, err := f.manager.RoundCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestRoundManager_StopWithoutStart(t *testing.T) {
	f := newRoundFixture(t)
	assert.NoError(t, f.manager.Stop(context.Background()))
	assert.NoError(t, f.manager.Stop(context.Background()))
}

func TestRoundManager_AtMostOneOpenRound(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("random clock advances never leave two open rounds and numbers stay gapless", prop.ForAll(
		func(steps []int) bool {
			f := newRoundFixture(t)
			ctx := context.Background()

			for _, s := range steps {
				if s%7 == 0 {
					if _, err := f.manager.ForceNewRound(ctx, ""); err != nil {
						return false
					}
				} else {
					f.clock.Advance(time.Duration(s) * time.Minute)
					if err := f.manager.Tick(ctx); err != nil {
						return false
					}
				}
				if f.store.openCount() > 1 {
					return false
				}
			}

			last, _ := f.store.GetLastRoundNumber(ctx)
			count, _ := f.store.Count(ctx)
			return int64(last) == count
		},
		gen.SliceOf(gen.IntRange(0, 30)),
	))

	properties.TestingRun(t)
}

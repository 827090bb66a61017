package service

import (
	"context"
	"fmt"
	"math/big"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	apperrors "github.com/holder-rounds/internal/errors"
	"github.com/holder-rounds/internal/models"
	"github.com/holder-rounds/internal/types"
	"github.com/holder-rounds/internal/worker"
)

// In-memory collaborators for service tests

type memHolderStore struct {
	mu         sync.Mutex
	holders    []models.HolderRecord
	replaceErr error
	replaces   int
}

func (m *memHolderStore) ReplaceAll(ctx context.Context, holders []models.HolderRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.replaceErr != nil {
		return m.replaceErr
	}
	m.replaces++
	m.holders = append([]models.HolderRecord(nil), holders...)
	return nil
}

func (m *memHolderStore) replaceCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.replaces
}

func (m *memHolderStore) GetTopN(ctx context.Context, n int) ([]models.HolderRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sorted := append([]models.HolderRecord(nil), m.holders...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Rank < sorted[j].Rank })
	if len(sorted) > n {
		sorted = sorted[:n]
	}
	return sorted, nil
}

func (m *memHolderStore) GetByAddress(ctx context.Context, address string) (*models.HolderRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, h := range m.holders {
		if h.Address == address {
			h := h
			return &h, nil
		}
	}
	return nil, nil
}

func (m *memHolderStore) ClearAll(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.holders = nil
	return nil
}

func (m *memHolderStore) Count(ctx context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.holders)), nil
}

type fakeFetcher struct {
	mu       sync.Mutex
	balances []models.HolderBalance
	err      error
	assets   []string
	delay    time.Duration // simulated RPC latency, cut short by ctx
}

func (f *fakeFetcher) FetchHolders(ctx context.Context, asset string) ([]models.HolderBalance, error) {
	f.mu.Lock()
	delay := f.delay
	f.assets = append(f.assets, asset)
	f.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return f.balances, nil
}

func (f *fakeFetcher) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.assets)
}

type memConfigStore struct {
	mu     sync.Mutex
	values map[string]string
	err    error
}

func newMemConfigStore() *memConfigStore {
	return &memConfigStore{values: map[string]string{}}
}

func (m *memConfigStore) Get(ctx context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return "", false, m.err
	}
	v, ok := m.values[key]
	return v, ok, nil
}

func (m *memConfigStore) Set(ctx context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.values[key] = value
	return nil
}

func (m *memConfigStore) All(ctx context.Context) ([]models.ConfigEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entries := make([]models.ConfigEntry, 0, len(m.values))
	for k, v := range m.values {
		entries = append(entries, models.ConfigEntry{Key: k, Value: v})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Key < entries[j].Key })
	return entries, nil
}

type fakeHistory struct {
	mu     sync.Mutex
	points [][]models.HolderSnapshotPoint
	err    error
}

func (f *fakeHistory) InsertSnapshot(ctx context.Context, points []models.HolderSnapshotPoint) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.points = append(f.points, points)
	return nil
}

func (f *fakeHistory) GetAddressHistory(ctx context.Context, asset, address string, limit int) ([]models.HolderSnapshotPoint, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.HolderSnapshotPoint
	for i := len(f.points) - 1; i >= 0; i-- {
		for _, p := range f.points[i] {
			if p.Asset == asset && p.Address == address && len(out) < limit {
				out = append(out, p)
			}
		}
	}
	return out, nil
}

type roundEvent struct {
	round models.Round
	phase types.Phase
}

type recordingObserver struct {
	mu       sync.Mutex
	rankings [][]models.HolderRecord
	rounds   []roundEvent
}

func (o *recordingObserver) OnRankingUpdated(holders []models.HolderRecord, at time.Time) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.rankings = append(o.rankings, holders)
}

func (o *recordingObserver) OnRoundPhaseChanged(round *models.Round, phase types.Phase) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.rounds = append(o.rounds, roundEvent{round: *round, phase: phase})
}

func (o *recordingObserver) roundEvents() []roundEvent {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]roundEvent(nil), o.rounds...)
}

// memRoundStore enforces the single open round rule like the database index does
type memRoundStore struct {
	mu          sync.Mutex
	rounds      []*models.Round
	openErr     error
	rolloverErr error // simulates a failed transaction, nothing is written
}

func (m *memRoundStore) GetOpen(ctx context.Context) (*models.Round, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.openErr != nil {
		return nil, m.openErr
	}
	for _, r := range m.rounds {
		if r.Status.IsOpen() {
			c := *r
			return &c, nil
		}
	}
	return nil, nil
}

func (m *memRoundStore) GetByID(ctx context.Context, id string) (*models.Round, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.rounds {
		if r.ID == id {
			c := *r
			return &c, nil
		}
	}
	return nil, apperrors.NewNotFoundError("round", id)
}

func (m *memRoundStore) Create(ctx context.Context, round *models.Round) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.rounds {
		if r.Status.IsOpen() && round.Status.IsOpen() {
			return apperrors.NewStateConflictError("an open round already exists", nil)
		}
		if r.RoundNumber == round.RoundNumber {
			return apperrors.NewStateConflictError("round number already taken", nil)
		}
	}
	if round.ID == "" {
		round.ID = uuid.New().String()
	}
	c := *round
	m.rounds = append(m.rounds, &c)
	return nil
}

func (m *memRoundStore) EnterSubmissionWindow(ctx context.Context, id string, holder *models.HolderRecord) (*models.Round, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.rounds {
		if r.ID == id && r.Status == types.RoundStatusActive {
			r.Status = types.RoundStatusSubmissionWindow
			if holder != nil {
				addr := holder.Address
				r.HighestHolderAddress = &addr
				r.HighestHolderBalance = new(big.Int).Set(holder.Balance)
			}
			c := *r
			return &c, nil
		}
	}
	return nil, apperrors.NewStateConflictError("round is no longer active", nil)
}

func (m *memRoundStore) Rollover(ctx context.Context, id string, endTime time.Time, next *models.Round) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.rolloverErr != nil {
		return m.rolloverErr
	}
	var open *models.Round
	for _, r := range m.rounds {
		if r.ID == id && r.Status.IsOpen() {
			open = r
		}
		if r.RoundNumber == next.RoundNumber {
			return apperrors.NewStateConflictError("round number already taken", nil)
		}
	}
	if open == nil {
		return apperrors.NewStateConflictError("round is not open", nil)
	}
	open.Status = types.RoundStatusEnded
	open.EndTime = &endTime
	if next.ID == "" {
		next.ID = uuid.New().String()
	}
	c := *next
	m.rounds = append(m.rounds, &c)
	return nil
}

func (m *memRoundStore) GetLastRoundNumber(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	last := 0
	for _, r := range m.rounds {
		if r.RoundNumber > last {
			last = r.RoundNumber
		}
	}
	return last, nil
}

func (m *memRoundStore) Count(ctx context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.rounds)), nil
}

func (m *memRoundStore) openCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, r := range m.rounds {
		if r.Status.IsOpen() {
			n++
		}
	}
	return n
}

func (m *memRoundStore) byNumber(n int) *models.Round {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.rounds {
		if r.RoundNumber == n {
			c := *r
			return &c
		}
	}
	return nil
}

type staticHolderSource struct {
	holder *models.HolderRecord
	err    error
}

func (s *staticHolderSource) GetHighestHolder(ctx context.Context) (*models.HolderRecord, error) {
	return s.holder, s.err
}

type memSubmissionStore struct {
	mu   sync.Mutex
	subs []*models.Submission
}

func (m *memSubmissionStore) Create(ctx context.Context, sub *models.Submission) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.subs {
		if s.RoundID == sub.RoundID && s.WalletAddress == sub.WalletAddress {
			return apperrors.NewValidationError("DUPLICATE_SUBMISSION", "a submission already exists for this round")
		}
	}
	if sub.ID == "" {
		sub.ID = uuid.New().String()
	}
	c := *sub
	m.subs = append(m.subs, &c)
	return nil
}

func (m *memSubmissionStore) GetByID(ctx context.Context, id string) (*models.Submission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.subs {
		if s.ID == id {
			c := *s
			return &c, nil
		}
	}
	return nil, apperrors.NewNotFoundError("submission", id)
}

func (m *memSubmissionStore) GetByRoundAndWallet(ctx context.Context, roundID, wallet string) (*models.Submission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.subs {
		if s.RoundID == roundID && s.WalletAddress == wallet {
			c := *s
			return &c, nil
		}
	}
	return nil, nil
}

func (m *memSubmissionStore) ListByStatus(ctx context.Context, status types.SubmissionStatus, limit int) ([]models.Submission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []models.Submission{}
	for _, s := range m.subs {
		if s.Status == status && len(out) < limit {
			out = append(out, *s)
		}
	}
	return out, nil
}

func (m *memSubmissionStore) Review(ctx context.Context, id string, status types.SubmissionStatus, notes *string, reviewedAt time.Time) (*models.Submission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.subs {
		if s.ID != id {
			continue
		}
		if s.Status != types.SubmissionPending {
			return nil, apperrors.NewStateConflictError("submission has already been reviewed", nil)
		}
		s.Status = status
		s.ReviewerNotes = notes
		s.ReviewedAt = &reviewedAt
		c := *s
		return &c, nil
	}
	return nil, apperrors.NewNotFoundError("submission", id)
}

func (m *memSubmissionStore) Count(ctx context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.subs)), nil
}

func (m *memSubmissionStore) CountByStatus(ctx context.Context, status types.SubmissionStatus) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, s := range m.subs {
		if s.Status == status {
			n++
		}
	}
	return n, nil
}

type fakePhotos struct {
	uploads map[string][]byte
	err     error
}

func (f *fakePhotos) Upload(ctx context.Context, name string, format string, data []byte) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	if f.uploads == nil {
		f.uploads = map[string][]byte{}
	}
	file := name + "." + format
	f.uploads[file] = data
	return "https://photos.test/" + file, nil
}

// memCache keeps values in memory; Get supports the types the services cache
type memCache struct {
	mu      sync.Mutex
	values  map[string]interface{}
	gets    int
	removed []string
}

func newMemCache() *memCache {
	return &memCache{values: map[string]interface{}{}}
}

func (c *memCache) Get(ctx context.Context, key string, dest interface{}) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gets++
	v, ok := c.values[key]
	if !ok {
		return false, nil
	}
	switch d := dest.(type) {
	case *models.Stats:
		*d = v.(models.Stats)
	case *[]models.Submission:
		*d = v.([]models.Submission)
	default:
		return false, fmt.Errorf("unsupported cache type %T", dest)
	}
	return true, nil
}

func (c *memCache) Set(ctx context.Context, key string, value interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values[key] = value
	return nil
}

func (c *memCache) Invalidate(ctx context.Context, keys ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range keys {
		delete(c.values, k)
		c.removed = append(c.removed, k)
	}
	return nil
}

type fakeRewardChain struct {
	address   string
	balance   *big.Int
	sent      []*big.Int
	sentTo    []string
	sendErr   error
	balanceCalls int
}

func (f *fakeRewardChain) GetAccountBalance(ctx context.Context, account string) (*big.Int, error) {
	f.balanceCalls++
	return new(big.Int).Set(f.balance), nil
}

func (f *fakeRewardChain) SendTransfer(ctx context.Context, to string, amount *big.Int) (string, error) {
	if f.sendErr != nil {
		return "", f.sendErr
	}
	f.sent = append(f.sent, amount)
	f.sentTo = append(f.sentTo, to)
	return "0xhash", nil
}

func (f *fakeRewardChain) RewardAddress() string {
	return f.address
}

// fakeClock is a manually advanced time source
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func addr(n int) string {
	return fmt.Sprintf("0x%040x", n)
}

// mustFastLoop swaps the manager's poll loop for one with a short interval
func mustFastLoop(t *testing.T, m *RoundManager) *worker.Loop {
	t.Helper()
	loop, err := worker.NewLoop(&worker.LoopConfig{
		Name:           "RoundManager",
		Interval:       time.Millisecond,
		Tick:           m.Tick,
		RunImmediately: true,
	})
	if err != nil {
		t.Fatalf("failed to create loop: %v", err)
	}
	return loop
}

package api

import (
	"context"
	"math/big"
	"time"

	"github.com/holder-rounds/internal/models"
	"github.com/holder-rounds/internal/service"
	"github.com/holder-rounds/internal/types"
)

type mockHolderService struct {
	topFunc     func(ctx context.Context, n int) ([]models.HolderRecord, error)
	byAddrFunc  func(ctx context.Context, address string) (*models.HolderRecord, error)
	historyFunc func(ctx context.Context, address string, limit int) ([]models.HolderSnapshotPoint, error)
	restarts    int
}

func (m *mockHolderService) GetTopHolders(ctx context.Context, n int) ([]models.HolderRecord, error) {
	if m.topFunc != nil {
		return m.topFunc(ctx, n)
	}
	return []models.HolderRecord{
		{Address: "0x00000000000000000000000000000000000000a1", Balance: big.NewInt(900), Rank: 1, Percentage: 90},
		{Address: "0x00000000000000000000000000000000000000a2", Balance: big.NewInt(100), Rank: 2, Percentage: 10},
	}, nil
}

func (m *mockHolderService) GetHolderByAddress(ctx context.Context, address string) (*models.HolderRecord, error) {
	if m.byAddrFunc != nil {
		return m.byAddrFunc(ctx, address)
	}
	return &models.HolderRecord{Address: address, Balance: big.NewInt(900), Rank: 1, Percentage: 90}, nil
}

func (m *mockHolderService) GetHolderHistory(ctx context.Context, address string, limit int) ([]models.HolderSnapshotPoint, error) {
	if m.historyFunc != nil {
		return m.historyFunc(ctx, address, limit)
	}
	return nil, nil
}

func (m *mockHolderService) RestartSync(ctx context.Context) error {
	m.restarts++
	return nil
}

type mockRoundService struct {
	currentFunc func(ctx context.Context) (*models.RoundView, error)
	lastTarget  string
}

func (m *mockRoundService) GetCurrentRoundWithPhase(ctx context.Context) (*models.RoundView, error) {
	if m.currentFunc != nil {
		return m.currentFunc(ctx)
	}
	return nil, nil
}

func (m *mockRoundService) ForceNewRound(ctx context.Context, targetItem string) (*models.Round, error) {
	m.lastTarget = targetItem
	round := &models.Round{ID: "round-2", RoundNumber: 2, Status: types.RoundStatusActive, StartTime: time.Now().UTC()}
	if targetItem != "" {
		round.TargetItem = &targetItem
	}
	return round, nil
}

type mockSubmissionService struct {
	createFunc func(ctx context.Context, input *service.CreateSubmissionInput) (*models.Submission, error)
	lastInput  *service.CreateSubmissionInput
	lastReview struct {
		id     string
		status types.SubmissionStatus
		notes  string
	}
}

func (m *mockSubmissionService) CreateSubmission(ctx context.Context, input *service.CreateSubmissionInput) (*models.Submission, error) {
	m.lastInput = input
	if m.createFunc != nil {
		return m.createFunc(ctx, input)
	}
	return &models.Submission{
		ID:            "sub-1",
		RoundID:       input.RoundID,
		WalletAddress: input.WalletAddress,
		PhotoURL:      "https://photos.example/sub-1.png",
		Status:        types.SubmissionPending,
		SubmittedAt:   time.Now().UTC(),
	}, nil
}

func (m *mockSubmissionService) ListPending(ctx context.Context) ([]models.Submission, error) {
	return []models.Submission{{ID: "sub-1", Status: types.SubmissionPending}}, nil
}

func (m *mockSubmissionService) ListApproved(ctx context.Context) ([]models.Submission, error) {
	return nil, nil
}

func (m *mockSubmissionService) ReviewSubmission(ctx context.Context, id string, status types.SubmissionStatus, notes string) (*models.Submission, error) {
	m.lastReview.id, m.lastReview.status, m.lastReview.notes = id, status, notes
	return &models.Submission{ID: id, Status: status}, nil
}

type mockStatsService struct{}

func (mockStatsService) GetStats(ctx context.Context) (*models.Stats, error) {
	return &models.Stats{TotalRounds: 3, TotalSubmissions: 2, ApprovedFinds: 1, CurrentHolders: 40}, nil
}

type mockConfigService struct {
	values map[string]string
}

func (m *mockConfigService) Set(ctx context.Context, key, value string) (*models.ConfigEntry, error) {
	if m.values == nil {
		m.values = map[string]string{}
	}
	m.values[key] = value
	return &models.ConfigEntry{Key: key, Value: value}, nil
}

func (m *mockConfigService) All(ctx context.Context) (map[string]string, error) {
	return m.values, nil
}

type mockRewardService struct {
	sentAmount    *float64
	sentVolume24h *float64
}

func (m *mockRewardService) Info(ctx context.Context) (*service.RewardInfo, error) {
	return &service.RewardInfo{IsConfigured: true, Address: "0x00000000000000000000000000000000000000ff", Balance: 2}, nil
}

func (m *mockRewardService) CalculateReward(volume24h float64) float64 {
	return 0.01 + 0.005*volume24h
}

func (m *mockRewardService) SendReward(ctx context.Context, recipient string, amount float64) (*service.RewardResult, error) {
	m.sentAmount = &amount
	return &service.RewardResult{TxHash: "0xhash", Recipient: recipient, Amount: amount}, nil
}

func (m *mockRewardService) SendCalculatedReward(ctx context.Context, recipient string, volume24h float64) (*service.RewardResult, error) {
	m.sentVolume24h = &volume24h
	return &service.RewardResult{TxHash: "0xhash", Recipient: recipient, Amount: m.CalculateReward(volume24h)}, nil
}

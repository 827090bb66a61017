package service

import (
	"context"
	"fmt"
	"log"
	"math"
	"math/big"
	"strconv"

	"github.com/ethereum/go-ethereum/params"
	apperrors "github.com/holder-rounds/internal/errors"
	"github.com/holder-rounds/internal/types"
)

// Reward formula, in ether
const (
	BaseReward      = 0.01
	VolumeBonusRate = 0.005
	MaxReward       = 1.0
)

// RewardChain is the chain access the reward wallet needs
type RewardChain interface {
	GetAccountBalance(ctx context.Context, account string) (*big.Int, error)
	SendTransfer(ctx context.Context, to string, amount *big.Int) (string, error)
	RewardAddress() string
}

// RewardInfo describes the reward wallet
type RewardInfo struct {
	IsConfigured bool    `json:"isConfigured"`
	Address      string  `json:"address,omitempty"`
	Balance      float64 `json:"balance"`
	BalanceWei   string  `json:"balanceWei,omitempty"`
	Message      string  `json:"message,omitempty"`
}

// RewardResult is a sent reward
type RewardResult struct {
	TxHash    string  `json:"txHash"`
	Recipient string  `json:"recipient"`
	Amount    float64 `json:"amount"`
	AmountWei string  `json:"amountWei"`
}

// RewardService pays winners from the configured reward wallet
type RewardService struct {
	chain RewardChain
}

// NewRewardService creates a new reward service
func NewRewardService(chain RewardChain) *RewardService {
	return &RewardService{chain: chain}
}

// IsConfigured reports whether a reward wallet key is loaded
func (s *RewardService) IsConfigured() bool {
	return s.chain != nil && s.chain.RewardAddress() != ""
}

// Info returns the reward wallet address and balance
func (s *RewardService) Info(ctx context.Context) (*RewardInfo, error) {
	if !s.IsConfigured() {
		return &RewardInfo{
			IsConfigured: false,
			Message:      "Reward wallet not configured. Set REWARD_WALLET_PRIVATE_KEY in environment variables.",
		}, nil
	}

	address := s.chain.RewardAddress()
	balance, err := s.chain.GetAccountBalance(ctx, address)
	if err != nil {
		return nil, err
	}

	return &RewardInfo{
		IsConfigured: true,
		Address:      address,
		Balance:      WeiToEther(balance),
		BalanceWei:   balance.String(),
	}, nil
}

// CalculateReward returns min(BaseReward + VolumeBonusRate*volume24h, MaxReward).
// Negative or non-finite volumes count as zero.
func (s *RewardService) CalculateReward(volume24h float64) float64 {
	if math.IsNaN(volume24h) || math.IsInf(volume24h, 0) || volume24h < 0 {
		volume24h = 0
	}
	return math.Min(BaseReward+volume24h*VolumeBonusRate, MaxReward)
}

// SendReward transfers amount ether to recipient after checking the wallet balance
func (s *RewardService) SendReward(ctx context.Context, recipient string, amount float64) (*RewardResult, error) {
	if !s.IsConfigured() {
		return nil, apperrors.NewServiceUnavailableError("reward wallet")
	}
	if !types.IsValidAddress(recipient) {
		return nil, apperrors.NewInvalidAddressError(recipient)
	}
	if math.IsNaN(amount) || math.IsInf(amount, 0) || amount <= 0 {
		return nil, apperrors.NewInvalidParameterError("amount", "must be a positive number")
	}

	wei := EtherToWei(amount)
	balance, err := s.chain.GetAccountBalance(ctx, s.chain.RewardAddress())
	if err != nil {
		return nil, err
	}
	if balance.Cmp(wei) < 0 {
		verr := apperrors.NewValidationError("INSUFFICIENT_BALANCE", fmt.Sprintf(
			"insufficient balance in reward wallet: available %s ETH, required %s ETH",
			formatEther(balance), strconv.FormatFloat(amount, 'f', -1, 64)))
		verr.Details = map[string]interface{}{
			"availableWei": balance.String(),
			"requiredWei":  wei.String(),
		}
		return nil, verr
	}

	to := types.NormalizeAddress(recipient)
	hash, err := s.chain.SendTransfer(ctx, to, wei)
	if err != nil {
		return nil, err
	}

	log.Printf("[RewardService] Reward sent: %s ETH to %s, tx %s", strconv.FormatFloat(amount, 'f', -1, 64), to, hash)
	return &RewardResult{
		TxHash:    hash,
		Recipient: to,
		Amount:    amount,
		AmountWei: wei.String(),
	}, nil
}

// SendCalculatedReward sends the reward computed from volume24h
func (s *RewardService) SendCalculatedReward(ctx context.Context, recipient string, volume24h float64) (*RewardResult, error) {
	return s.SendReward(ctx, recipient, s.CalculateReward(volume24h))
}

// EtherToWei converts an ether amount to wei, truncating below one wei
func EtherToWei(ether float64) *big.Int {
	r, ok := new(big.Rat).SetString(strconv.FormatFloat(ether, 'f', -1, 64))
	if !ok {
		return new(big.Int)
	}
	r.Mul(r, new(big.Rat).SetInt64(params.Ether))
	return new(big.Int).Quo(r.Num(), r.Denom())
}

// WeiToEther converts wei to a float64 ether amount
func WeiToEther(wei *big.Int) float64 {
	if wei == nil {
		return 0
	}
	f := new(big.Float).Quo(new(big.Float).SetInt(wei), new(big.Float).SetInt(big.NewInt(params.Ether)))
	v, _ := f.Float64()
	return v
}

func formatEther(wei *big.Int) string {
	return strconv.FormatFloat(WeiToEther(wei), 'f', -1, 64)
}

package adapter

import (
	"context"
	"fmt"
	"math/big"

	apperrors "github.com/holder-rounds/internal/errors"
	"github.com/holder-rounds/internal/models"
)

// ChainReader is the chain access the holder sync, the auth layer and the reward payouts rely on
type ChainReader interface {
	// FetchHolders returns every account with a positive balance of the asset,
	// sorted by balance descending and address ascending
	FetchHolders(ctx context.Context, asset string) ([]models.HolderBalance, error)

	// GetAccountBalance returns the native balance of an account in wei
	GetAccountBalance(ctx context.Context, account string) (*big.Int, error)

	// VerifySignature reports whether signature is a personal_sign of message by address
	VerifySignature(message, signature, address string) bool

	// SendTransfer sends amount wei from the reward wallet and returns the transaction hash
	SendTransfer(ctx context.Context, to string, amount *big.Int) (string, error)

	// RewardAddress returns the reward wallet address, empty when no key is configured
	RewardAddress() string
}

var (
	// ErrInvalidAddress indicates the address format is invalid
	ErrInvalidAddress = fmt.Errorf("invalid address format")

	// ErrRewardWalletMissing indicates no reward key is configured
	ErrRewardWalletMissing = fmt.Errorf("reward wallet is not configured")

	// ErrTransactionFailed indicates a mined transaction reverted
	ErrTransactionFailed = fmt.Errorf("transaction failed")
)

// AdapterError wraps errors with the chain operation that produced them
type AdapterError struct {
	Chain   string
	Op      string
	Err     error
	Details map[string]interface{}
}

func (e *AdapterError) Error() string {
	if len(e.Details) > 0 {
		return fmt.Sprintf("chain adapter error [%s:%s]: %v (details: %+v)", e.Chain, e.Op, e.Err, e.Details)
	}
	return fmt.Sprintf("chain adapter error [%s:%s]: %v", e.Chain, e.Op, e.Err)
}

func (e *AdapterError) Unwrap() error {
	return e.Err
}

// NewAdapterError creates a new AdapterError
func NewAdapterError(chain string, op string, err error, details map[string]interface{}) *AdapterError {
	return &AdapterError{
		Chain:   chain,
		Op:      op,
		Err:     err,
		Details: details,
	}
}

// classifyRPCError turns a node failure into a rate limit or fetch error
func classifyRPCError(op string, err error) error {
	if err == nil {
		return nil
	}
	if apperrors.IsRateLimit(err) {
		return err
	}
	if IsRateLimitError(err) {
		return apperrors.NewRateLimitError("rpc", err)
	}
	return apperrors.NewFetchError(op, err)
}

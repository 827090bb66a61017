package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	apperrors "github.com/holder-rounds/internal/errors"
)

// DefaultMaxWait is the default max time to wait for budget
const DefaultMaxWait = 5 * time.Second

// ErrMaxWaitExceeded is returned when the maximum wait time for budget is exceeded.
var ErrMaxWaitExceeded = errors.New("maximum wait time exceeded waiting for rate limit budget")

// EthClient is the subset of the node API used for holder reads and reward transfers.
type EthClient interface {
	BlockNumber(ctx context.Context) (uint64, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error)
}

var _ EthClient = (*ethclient.Client)(nil)

// RateLimitedClient wraps an EthClient and charges every call against the CU budget
// before letting it through.
type RateLimitedClient struct {
	underlying   EthClient
	tracker      *CUBudgetTracker
	costRegistry *CUCostRegistry
	priority     Priority
	maxWait      time.Duration
	logger       *log.Logger
	onThrottle   func(method string, priority Priority)
}

// RateLimitedClientConfig holds configuration for the rate-limited client.
type RateLimitedClientConfig struct {
	Client       EthClient
	Tracker      *CUBudgetTracker
	CostRegistry *CUCostRegistry

	// Priority is PriorityHigh for the holder sync and PriorityLow for admin calls.
	Priority Priority

	// MaxWait bounds how long a call waits for budget. Default: 5s.
	MaxWait time.Duration

	// Logger defaults to log.Default().
	Logger *log.Logger

	// OnThrottle is called each time a call has to wait for budget.
	OnThrottle func(method string, priority Priority)
}

// Validate checks if the configuration is valid.
func (c *RateLimitedClientConfig) Validate() error {
	if c.Client == nil {
		return errors.New("underlying client is required")
	}
	if c.Tracker == nil {
		return errors.New("budget tracker is required")
	}
	if c.CostRegistry == nil {
		return errors.New("cost registry is required")
	}
	return nil
}

// NewRateLimitedClient creates a rate-limited RPC client.
func NewRateLimitedClient(cfg *RateLimitedClientConfig) (*RateLimitedClient, error) {
	if cfg == nil {
		return nil, errors.New("configuration is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	maxWait := cfg.MaxWait
	if maxWait == 0 {
		maxWait = DefaultMaxWait
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}

	return &RateLimitedClient{
		underlying:   cfg.Client,
		tracker:      cfg.Tracker,
		costRegistry: cfg.CostRegistry,
		priority:     cfg.Priority,
		maxWait:      maxWait,
		logger:       logger,
		onThrottle:   cfg.OnThrottle,
	}, nil
}

// WithPriority returns a client sharing the same budget at another priority.
func (c *RateLimitedClient) WithPriority(priority Priority) *RateLimitedClient {
	clone := *c
	clone.priority = priority
	return &clone
}

// waitForBudget blocks until budget is granted, ctx ends, or maxWait would be exceeded.
func (c *RateLimitedClient) waitForBudget(ctx context.Context, method string) error {
	cu := c.costRegistry.GetCost(method)
	startTime := time.Now()
	deadline := startTime.Add(c.maxWait)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		allowed, waitTime := c.tracker.TryConsume(ctx, cu, c.priority)
		if allowed {
			if err := c.tracker.RecordMethodUsage(ctx, method, cu); err != nil {
				c.logger.Printf("[RateLimit] %s: failed to record method usage: %v", method, err)
			}
			return nil
		}

		if c.onThrottle != nil {
			c.onThrottle(method, c.priority)
		}

		if time.Now().Add(waitTime).After(deadline) {
			c.logger.Printf("[RateLimit] %s: max wait time exceeded (priority=%s, cu=%d, waited=%v)",
				method, c.priority, cu, time.Since(startTime))
			return apperrors.NewRateLimitError("rpc budget", ErrMaxWaitExceeded)
		}

		c.logger.Printf("[RateLimit] %s: waiting for budget (priority=%s, cu=%d, wait=%v)",
			method, c.priority, cu, waitTime)

		timer := time.NewTimer(waitTime)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// BlockNumber wraps eth_blockNumber.
func (c *RateLimitedClient) BlockNumber(ctx context.Context) (uint64, error) {
	if err := c.waitForBudget(ctx, MethodEthBlockNumber); err != nil {
		return 0, err
	}
	return c.underlying.BlockNumber(ctx)
}

// FilterLogs wraps eth_getLogs.
func (c *RateLimitedClient) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	if err := c.waitForBudget(ctx, MethodEthGetLogs); err != nil {
		return nil, err
	}
	return c.underlying.FilterLogs(ctx, q)
}

// CallContract wraps eth_call.
func (c *RateLimitedClient) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	if err := c.waitForBudget(ctx, MethodEthCall); err != nil {
		return nil, err
	}
	return c.underlying.CallContract(ctx, msg, blockNumber)
}

// BalanceAt wraps eth_getBalance.
func (c *RateLimitedClient) BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error) {
	if err := c.waitForBudget(ctx, MethodEthGetBalance); err != nil {
		return nil, err
	}
	return c.underlying.BalanceAt(ctx, account, blockNumber)
}

// PendingNonceAt wraps eth_getTransactionCount.
func (c *RateLimitedClient) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	if err := c.waitForBudget(ctx, MethodEthGetTransactionCount); err != nil {
		return 0, err
	}
	return c.underlying.PendingNonceAt(ctx, account)
}

// SuggestGasPrice wraps eth_gasPrice.
func (c *RateLimitedClient) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	if err := c.waitForBudget(ctx, MethodEthGasPrice); err != nil {
		return nil, err
	}
	return c.underlying.SuggestGasPrice(ctx)
}

// SendTransaction wraps eth_sendRawTransaction.
func (c *RateLimitedClient) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	if err := c.waitForBudget(ctx, MethodEthSendRawTransaction); err != nil {
		return err
	}
	return c.underlying.SendTransaction(ctx, tx)
}

// TransactionReceipt wraps eth_getTransactionReceipt.
func (c *RateLimitedClient) TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	if err := c.waitForBudget(ctx, MethodEthGetTransactionReceipt); err != nil {
		return nil, err
	}
	return c.underlying.TransactionReceipt(ctx, hash)
}

// Priority returns the priority level of this client.
func (c *RateLimitedClient) Priority() Priority {
	return c.priority
}

package adapter

import (
	"context"
	"fmt"
	"log"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/holder-rounds/internal/ratelimit"
)

// DialFunc connects to one RPC endpoint
type DialFunc func(ctx context.Context, url string) (ratelimit.EthClient, error)

// dialWithTimeout bounds every HTTP round trip to the endpoint. The
// timeout does not apply to websocket endpoints.
func dialWithTimeout(timeout time.Duration) DialFunc {
	return func(ctx context.Context, url string) (ratelimit.EthClient, error) {
		var opts []rpc.ClientOption
		if timeout > 0 {
			opts = append(opts, rpc.WithHTTPClient(&http.Client{Timeout: timeout}))
		}
		client, err := rpc.DialOptions(ctx, url, opts...)
		if err != nil {
			return nil, err
		}
		return ethclient.NewClient(client), nil
	}
}

// RPCPool manages multiple RPC endpoints with failover on rate limiting (429).
// It sticks to the current endpoint until it is throttled, then moves to the next one.
type RPCPool struct {
	endpoints    []string
	clients      []ratelimit.EthClient
	currentIndex int
	mu           sync.RWMutex
	cooldowns    map[int]time.Time
	cooldownTime time.Duration
	dial         DialFunc
	now          func() time.Time
}

var _ ratelimit.EthClient = (*RPCPool)(nil)

// RPCPoolConfig holds configuration for creating an RPC pool
type RPCPoolConfig struct {
	Endpoints []string
	// CooldownTime is how long a throttled endpoint is skipped. Default: 60s
	CooldownTime time.Duration
	// RequestTimeout bounds each HTTP request of the default dialer. Default: 30s
	RequestTimeout time.Duration
	// Dial overrides the default dialer
	Dial DialFunc
}

// NewRPCPool creates a new RPC pool and connects to the first endpoint
func NewRPCPool(ctx context.Context, cfg *RPCPoolConfig) (*RPCPool, error) {
	if cfg == nil || len(cfg.Endpoints) == 0 {
		return nil, fmt.Errorf("at least one RPC endpoint is required")
	}

	cooldownTime := cfg.CooldownTime
	if cooldownTime == 0 {
		cooldownTime = 60 * time.Second
	}
	dial := cfg.Dial
	if dial == nil {
		requestTimeout := cfg.RequestTimeout
		if requestTimeout == 0 {
			requestTimeout = 30 * time.Second
		}
		dial = dialWithTimeout(requestTimeout)
	}

	pool := &RPCPool{
		endpoints:    cfg.Endpoints,
		clients:      make([]ratelimit.EthClient, len(cfg.Endpoints)),
		cooldowns:    make(map[int]time.Time),
		cooldownTime: cooldownTime,
		dial:         dial,
		now:          time.Now,
	}

	// Others are connected lazily on failover
	client, err := dial(ctx, cfg.Endpoints[0])
	if err != nil {
		return nil, fmt.Errorf("failed to connect to primary RPC endpoint: %w", err)
	}
	pool.clients[0] = client

	log.Printf("[RPCPool] Initialized with %d endpoints, starting with endpoint 0", len(cfg.Endpoints))
	return pool, nil
}

func (p *RPCPool) current() ratelimit.EthClient {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.clients[p.currentIndex]
}

// CurrentIndex returns the current endpoint index
func (p *RPCPool) CurrentIndex() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.currentIndex
}

// OnRateLimited marks the current endpoint as throttled and switches to the next available one.
// It returns an error when every endpoint is cooling down.
func (p *RPCPool) OnRateLimited(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	p.cooldowns[p.currentIndex] = now
	log.Printf("[RPCPool] Endpoint %d rate limited, marking cooldown", p.currentIndex)

	startIndex := p.currentIndex
	for i := 1; i < len(p.endpoints); i++ {
		nextIndex := (startIndex + i) % len(p.endpoints)

		if since, exists := p.cooldowns[nextIndex]; exists {
			if now.Sub(since) < p.cooldownTime {
				continue
			}
			delete(p.cooldowns, nextIndex)
		}

		if err := p.switchToEndpoint(ctx, nextIndex); err != nil {
			log.Printf("[RPCPool] Failed to switch to endpoint %d: %v", nextIndex, err)
			continue
		}

		log.Printf("[RPCPool] Switched from endpoint %d to endpoint %d", startIndex, nextIndex)
		return nil
	}

	return fmt.Errorf("all %d RPC endpoints are rate limited", len(p.endpoints))
}

// switchToEndpoint must be called with the lock held
func (p *RPCPool) switchToEndpoint(ctx context.Context, index int) error {
	if p.clients[index] == nil {
		client, err := p.dial(ctx, p.endpoints[index])
		if err != nil {
			return fmt.Errorf("failed to connect to endpoint %d: %w", index, err)
		}
		p.clients[index] = client
	}
	p.currentIndex = index
	return nil
}

// do runs fn against the current endpoint and fails over while it reports throttling
func (p *RPCPool) do(ctx context.Context, fn func(client ratelimit.EthClient) error) error {
	var err error
	for attempt := 0; attempt < len(p.endpoints); attempt++ {
		err = fn(p.current())
		if err == nil || !IsRateLimitError(err) {
			return err
		}
		if failErr := p.OnRateLimited(ctx); failErr != nil {
			return err
		}
	}
	return err
}

// IsRateLimitError checks if an error indicates rate limiting (429)
func IsRateLimitError(err error) bool {
	if err == nil {
		return false
	}
	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "429") ||
		strings.Contains(errStr, "rate limit") ||
		strings.Contains(errStr, "too many requests") ||
		strings.Contains(errStr, "limit exceeded") ||
		strings.Contains(errStr, "throttl")
}

// Close closes all client connections
func (p *RPCPool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()

	for i, client := range p.clients {
		if closer, ok := client.(interface{ Close() }); ok {
			closer.Close()
		}
		p.clients[i] = nil
	}
}

// BlockNumber implements ratelimit.EthClient
func (p *RPCPool) BlockNumber(ctx context.Context) (n uint64, err error) {
	err = p.do(ctx, func(c ratelimit.EthClient) error {
		n, err = c.BlockNumber(ctx)
		return err
	})
	return n, err
}

// FilterLogs implements ratelimit.EthClient
func (p *RPCPool) FilterLogs(ctx context.Context, q ethereum.FilterQuery) (logs []ethtypes.Log, err error) {
	err = p.do(ctx, func(c ratelimit.EthClient) error {
		logs, err = c.FilterLogs(ctx, q)
		return err
	})
	return logs, err
}

// CallContract implements ratelimit.EthClient
func (p *RPCPool) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) (out []byte, err error) {
	err = p.do(ctx, func(c ratelimit.EthClient) error {
		out, err = c.CallContract(ctx, msg, blockNumber)
		return err
	})
	return out, err
}

// BalanceAt implements ratelimit.EthClient
func (p *RPCPool) BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (bal *big.Int, err error) {
	err = p.do(ctx, func(c ratelimit.EthClient) error {
		bal, err = c.BalanceAt(ctx, account, blockNumber)
		return err
	})
	return bal, err
}

// PendingNonceAt implements ratelimit.EthClient
func (p *RPCPool) PendingNonceAt(ctx context.Context, account common.Address) (nonce uint64, err error) {
	err = p.do(ctx, func(c ratelimit.EthClient) error {
		nonce, err = c.PendingNonceAt(ctx, account)
		return err
	})
	return nonce, err
}

// SuggestGasPrice implements ratelimit.EthClient
func (p *RPCPool) SuggestGasPrice(ctx context.Context) (price *big.Int, err error) {
	err = p.do(ctx, func(c ratelimit.EthClient) error {
		price, err = c.SuggestGasPrice(ctx)
		return err
	})
	return price, err
}

// SendTransaction implements ratelimit.EthClient
func (p *RPCPool) SendTransaction(ctx context.Context, tx *ethtypes.Transaction) error {
	return p.do(ctx, func(c ratelimit.EthClient) error {
		return c.SendTransaction(ctx, tx)
	})
}

// TransactionReceipt implements ratelimit.EthClient
func (p *RPCPool) TransactionReceipt(ctx context.Context, hash common.Hash) (receipt *ethtypes.Receipt, err error) {
	err = p.do(ctx, func(c ratelimit.EthClient) error {
		receipt, err = c.TransactionReceipt(ctx, hash)
		return err
	})
	return receipt, err
}

package ratelimit

import (
	"sync"
)

// CU costs for the RPC methods the service issues.
const (
	DefaultCUCost = 20 // Default cost for unknown methods

	CostEthBlockNumber           = 10
	CostEthGetLogs               = 75
	CostEthCall                  = 26
	CostEthGetBalance            = 19
	CostEthGasPrice              = 19
	CostEthGetTransactionCount   = 26
	CostEthSendRawTransaction    = 250
	CostEthGetTransactionReceipt = 15
)

// RPC method names
const (
	MethodEthBlockNumber           = "eth_blockNumber"
	MethodEthGetLogs               = "eth_getLogs"
	MethodEthCall                  = "eth_call"
	MethodEthGetBalance            = "eth_getBalance"
	MethodEthGasPrice              = "eth_gasPrice"
	MethodEthGetTransactionCount   = "eth_getTransactionCount"
	MethodEthSendRawTransaction    = "eth_sendRawTransaction"
	MethodEthGetTransactionReceipt = "eth_getTransactionReceipt"
)

// CUCostRegistry maps RPC methods to their CU costs.
// It is safe for concurrent use.
type CUCostRegistry struct {
	mu          sync.RWMutex
	costs       map[string]int
	defaultCost int
}

// CUCostRegistryConfig holds configuration for the registry.
type CUCostRegistryConfig struct {
	DefaultCost int
	Overrides   map[string]int
}

// NewCUCostRegistry creates a new registry with default costs.
func NewCUCostRegistry(cfg *CUCostRegistryConfig) *CUCostRegistry {
	costs := map[string]int{
		MethodEthBlockNumber:           CostEthBlockNumber,
		MethodEthGetLogs:               CostEthGetLogs,
		MethodEthCall:                  CostEthCall,
		MethodEthGetBalance:            CostEthGetBalance,
		MethodEthGasPrice:              CostEthGasPrice,
		MethodEthGetTransactionCount:   CostEthGetTransactionCount,
		MethodEthSendRawTransaction:    CostEthSendRawTransaction,
		MethodEthGetTransactionReceipt: CostEthGetTransactionReceipt,
	}

	defaultCost := DefaultCUCost
	if cfg != nil {
		if cfg.DefaultCost > 0 {
			defaultCost = cfg.DefaultCost
		}
		for method, cost := range cfg.Overrides {
			if cost > 0 {
				costs[method] = cost
			}
		}
	}

	return &CUCostRegistry{costs: costs, defaultCost: defaultCost}
}

// GetCost returns the CU cost for an RPC method.
func (r *CUCostRegistry) GetCost(method string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if cost, ok := r.costs[method]; ok {
		return cost
	}
	return r.defaultCost
}

// SetCost updates the cost of a method at runtime. Non-positive costs are ignored.
func (r *CUCostRegistry) SetCost(method string, cost int) {
	if cost <= 0 {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.costs[method] = cost
}

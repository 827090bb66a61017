package ratelimit

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCUCostRegistry_Defaults(t *testing.T) {
	r := NewCUCostRegistry(nil)

	assert.Equal(t, CostEthGetLogs, r.GetCost(MethodEthGetLogs))
	assert.Equal(t, CostEthCall, r.GetCost(MethodEthCall))
	assert.Equal(t, CostEthSendRawTransaction, r.GetCost(MethodEthSendRawTransaction))
	assert.Equal(t, DefaultCUCost, r.GetCost("eth_unknown"))
}

func TestCUCostRegistry_Overrides(t *testing.T) {
	r := NewCUCostRegistry(&CUCostRegistryConfig{
		DefaultCost: 5,
		Overrides: map[string]int{
			MethodEthCall:    40,
			MethodEthGetLogs: 0,
		},
	})

	assert.Equal(t, 40, r.GetCost(MethodEthCall))
	assert.Equal(t, CostEthGetLogs, r.GetCost(MethodEthGetLogs))
	assert.Equal(t, 5, r.GetCost("eth_unknown"))
}

func TestCUCostRegistry_SetCostConcurrent(t *testing.T) {
	r := NewCUCostRegistry(nil)

	var wg sync.WaitGroup
	for i := 1; i <= 20; i++ {
		wg.Add(1)
		go func(cost int) {
			defer wg.Done()
			r.SetCost("custom", cost)
			_ = r.GetCost("custom")
		}(i)
	}
	wg.Wait()

	r.SetCost("custom", -1)
	assert.Greater(t, r.GetCost("custom"), 0)
}

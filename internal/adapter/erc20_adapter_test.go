package adapter

import (
	"context"
	"encoding/hex"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	apperrors "github.com/holder-rounds/internal/errors"
	"github.com/holder-rounds/internal/models"
	"github.com/holder-rounds/internal/retry"
	"github.com/holder-rounds/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testToken = "0x00000000000000000000000000000000000000aa"

var (
	addrA = common.HexToAddress("0x000000000000000000000000000000000000000a")
	addrB = common.HexToAddress("0x000000000000000000000000000000000000000b")
	addrC = common.HexToAddress("0x000000000000000000000000000000000000000c")
	addrD = common.HexToAddress("0x000000000000000000000000000000000000000d")
)

func newTestAdapter(t *testing.T, chain *fakeChain, mutate func(cfg *ERC20AdapterConfig)) *ERC20Adapter {
	t.Helper()
	cfg := &ERC20AdapterConfig{
		Chain:            "test",
		ChainID:          1337,
		Client:           chain,
		LogChunkSize:     10,
		FetchConcurrency: 2,
		ReceiptRetry: &retry.RetryConfig{
			MaxAttempts:  2,
			InitialDelay: time.Millisecond,
			MaxDelay:     time.Millisecond,
			Multiplier:   1,
		},
	}
	if mutate != nil {
		mutate(cfg)
	}
	a, err := NewERC20Adapter(cfg)
	require.NoError(t, err)
	return a
}

func TestFetchHolders_RanksPositiveBalances(t *testing.T) {
	chain := newFakeChain(25)
	zero := common.Address{}
	chain.logs = []ethtypes.Log{
		transferLog(1, zero, addrA),
		transferLog(5, addrA, addrB),
		transferLog(12, addrB, addrC),
		transferLog(20, addrB, addrD),
		transferLog(21, addrC, zero),
		transferLog(22, addrA, addrB),
	}
	chain.balances[addrA] = big.NewInt(100)
	chain.balances[addrB] = big.NewInt(300)
	chain.balances[addrC] = big.NewInt(0)
	chain.failBalance[addrD] = errors.New("execution reverted")

	a := newTestAdapter(t, chain, nil)
	holders, err := a.FetchHolders(context.Background(), testToken)
	require.NoError(t, err)

	require.Len(t, holders, 2)
	assert.Equal(t, types.NormalizeAddress(addrB.Hex()), holders[0].Address)
	assert.Equal(t, int64(300), holders[0].Balance.Int64())
	assert.Equal(t, types.NormalizeAddress(addrA.Hex()), holders[1].Address)

	require.Len(t, chain.filterQueries, 3)
	assert.Equal(t, uint64(0), chain.filterQueries[0].FromBlock.Uint64())
	assert.Equal(t, uint64(9), chain.filterQueries[0].ToBlock.Uint64())
	assert.Equal(t, uint64(20), chain.filterQueries[2].FromBlock.Uint64())
	assert.Equal(t, uint64(25), chain.filterQueries[2].ToBlock.Uint64())
}

func TestFetchHolders_EmptyWhenNoTransfers(t *testing.T) {
	chain := newFakeChain(5)
	a := newTestAdapter(t, chain, nil)

	holders, err := a.FetchHolders(context.Background(), testToken)
	require.NoError(t, err)
	assert.Empty(t, holders)
}

func TestFetchHolders_InvalidAssetMakesNoCalls(t *testing.T) {
	chain := newFakeChain(5)
	a := newTestAdapter(t, chain, nil)

	_, err := a.FetchHolders(context.Background(), "not-an-address")
	require.Error(t, err)
	assert.True(t, apperrors.IsValidation(err))
	assert.Zero(t, chain.calls)
}

func TestFetchHolders_ErrorClassification(t *testing.T) {
	tests := []struct {
		name      string
		logsErr   error
		blockErr  error
		rateLimit bool
	}{
		{name: "throttled logs", logsErr: errors.New("429 Too Many Requests"), rateLimit: true},
		{name: "failed logs", logsErr: errors.New("connection reset"), rateLimit: false},
		{name: "failed block number", blockErr: errors.New("dial tcp: timeout"), rateLimit: false},
		{name: "throttled block number", blockErr: errors.New("request throttled"), rateLimit: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chain := newFakeChain(5)
			chain.logsErr = tt.logsErr
			chain.blockErr = tt.blockErr
			a := newTestAdapter(t, chain, nil)

			_, err := a.FetchHolders(context.Background(), testToken)
			require.Error(t, err)
			assert.True(t, apperrors.IsFetch(err))
			assert.Equal(t, tt.rateLimit, apperrors.IsRateLimit(err))

			var adapterErr *AdapterError
			assert.True(t, errors.As(err, &adapterErr))
		})
	}
}

func TestFetchHolders_RateLimitedBalanceReadFails(t *testing.T) {
	chain := newFakeChain(5)
	chain.logs = []ethtypes.Log{transferLog(1, common.Address{}, addrA)}
	chain.failBalance[addrA] = errors.New("429 too many requests")
	a := newTestAdapter(t, chain, nil)

	_, err := a.FetchHolders(context.Background(), testToken)
	require.Error(t, err)
	assert.True(t, apperrors.IsRateLimit(err))
}

func TestSortHolderBalances_TieBreaksOnAddress(t *testing.T) {
	holders := []models.HolderBalance{
		{Address: "0x02", Balance: big.NewInt(5)},
		{Address: "0x01", Balance: big.NewInt(5)},
		{Address: "0x03", Balance: big.NewInt(9)},
	}
	SortHolderBalances(holders)

	assert.Equal(t, "0x03", holders[0].Address)
	assert.Equal(t, "0x01", holders[1].Address)
	assert.Equal(t, "0x02", holders[2].Address)
}

func TestGetAccountBalance(t *testing.T) {
	chain := newFakeChain(1)
	chain.nativeBal = big.NewInt(12345)
	a := newTestAdapter(t, chain, nil)

	bal, err := a.GetAccountBalance(context.Background(), addrA.Hex())
	require.NoError(t, err)
	assert.Equal(t, int64(12345), bal.Int64())

	_, err = a.GetAccountBalance(context.Background(), "0x1")
	assert.True(t, apperrors.IsValidation(err))
}

func TestSendTransfer(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	keyHex := hex.EncodeToString(crypto.FromECDSA(key))

	chain := newFakeChain(1)
	a := newTestAdapter(t, chain, func(cfg *ERC20AdapterConfig) { cfg.RewardPrivateKey = "0x" + keyHex })

	expectedFrom := crypto.PubkeyToAddress(key.PublicKey)
	assert.Equal(t, types.NormalizeAddress(expectedFrom.Hex()), a.RewardAddress())

	hash, err := a.SendTransfer(context.Background(), addrB.Hex(), big.NewInt(1_000))
	require.NoError(t, err)
	require.Len(t, chain.sent, 1)

	tx := chain.sent[0]
	assert.Equal(t, tx.Hash().Hex(), hash)
	assert.Equal(t, addrB, *tx.To())
	assert.Equal(t, int64(1_000), tx.Value().Int64())
	assert.Equal(t, uint64(transferGasLimit), tx.Gas())
	assert.Equal(t, uint64(7), tx.Nonce())

	sender, err := ethtypes.Sender(ethtypes.LatestSignerForChainID(big.NewInt(1337)), tx)
	require.NoError(t, err)
	assert.Equal(t, expectedFrom, sender)
}

func TestSendTransfer_Reverted(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	chain := newFakeChain(1)
	chain.receiptState = ethtypes.ReceiptStatusFailed
	a := newTestAdapter(t, chain, func(cfg *ERC20AdapterConfig) {
		cfg.RewardPrivateKey = hex.EncodeToString(crypto.FromECDSA(key))
	})

	hash, err := a.SendTransfer(context.Background(), addrB.Hex(), big.NewInt(1))
	require.Error(t, err)
	assert.NotEmpty(t, hash)
	assert.ErrorIs(t, err, ErrTransactionFailed)
}

func TestSendTransfer_Validation(t *testing.T) {
	chain := newFakeChain(1)
	a := newTestAdapter(t, chain, nil)

	_, err := a.SendTransfer(context.Background(), addrB.Hex(), big.NewInt(1))
	require.Error(t, err)
	assert.Empty(t, a.RewardAddress())

	key, _ := crypto.GenerateKey()
	a = newTestAdapter(t, chain, func(cfg *ERC20AdapterConfig) {
		cfg.RewardPrivateKey = hex.EncodeToString(crypto.FromECDSA(key))
	})
	_, err = a.SendTransfer(context.Background(), "bad", big.NewInt(1))
	assert.True(t, apperrors.IsValidation(err))

	_, err = a.SendTransfer(context.Background(), addrB.Hex(), big.NewInt(0))
	assert.True(t, apperrors.IsValidation(err))
}

func TestNewERC20Adapter_BadKey(t *testing.T) {
	_, err := NewERC20Adapter(&ERC20AdapterConfig{Client: newFakeChain(1), RewardPrivateKey: "zz"})
	assert.Error(t, err)

	_, err = NewERC20Adapter(&ERC20AdapterConfig{})
	assert.Error(t, err)
}

package adapter

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"log"
	"math/big"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	apperrors "github.com/holder-rounds/internal/errors"
	"github.com/holder-rounds/internal/models"
	"github.com/holder-rounds/internal/ratelimit"
	"github.com/holder-rounds/internal/retry"
	"github.com/holder-rounds/internal/types"
	"golang.org/x/sync/errgroup"
)

const erc20BalanceOfABI = `[{"constant":true,"inputs":[{"name":"owner","type":"address"}],"name":"balanceOf","outputs":[{"name":"","type":"uint256"}],"stateMutability":"view","type":"function"}]`

const transferGasLimit = 21000

// transferTopic is keccak256("Transfer(address,address,uint256)")
var transferTopic = crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)"))

var erc20ABI = mustParseABI(erc20BalanceOfABI)

func mustParseABI(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(fmt.Sprintf("invalid erc20 abi: %v", err))
	}
	return parsed
}

// ERC20Adapter implements ChainReader for an ERC-20 token on an EVM chain
type ERC20Adapter struct {
	chain         string
	chainID       *big.Int
	client        ratelimit.EthClient // holder sync traffic
	adminClient   ratelimit.EthClient // balance and payout traffic
	scanFromBlock uint64
	logChunkSize  uint64
	concurrency   int
	rewardKey     *ecdsa.PrivateKey
	receiptRetry  *retry.RetryConfig
}

// ERC20AdapterConfig holds configuration for creating an ERC20Adapter
type ERC20AdapterConfig struct {
	Chain   string
	ChainID int64

	// Client serves the holder sync. Required.
	Client ratelimit.EthClient

	// AdminClient serves balance reads and transfers. Defaults to Client.
	AdminClient ratelimit.EthClient

	ScanFromBlock    uint64
	LogChunkSize     uint64
	FetchConcurrency int

	// RewardPrivateKey is a hex secp256k1 key. Optional.
	RewardPrivateKey string

	// ReceiptRetry controls receipt polling after a transfer is broadcast
	ReceiptRetry *retry.RetryConfig
}

// NewERC20Adapter creates a new ERC-20 chain adapter
func NewERC20Adapter(cfg *ERC20AdapterConfig) (*ERC20Adapter, error) {
	if cfg == nil || cfg.Client == nil {
		return nil, fmt.Errorf("client cannot be nil")
	}

	a := &ERC20Adapter{
		chain:         cfg.Chain,
		chainID:       big.NewInt(cfg.ChainID),
		client:        cfg.Client,
		adminClient:   cfg.AdminClient,
		scanFromBlock: cfg.ScanFromBlock,
		logChunkSize:  cfg.LogChunkSize,
		concurrency:   cfg.FetchConcurrency,
		receiptRetry:  cfg.ReceiptRetry,
	}
	if a.chain == "" {
		a.chain = "evm"
	}
	if a.adminClient == nil {
		a.adminClient = cfg.Client
	}
	if a.logChunkSize == 0 {
		a.logChunkSize = 5000
	}
	if a.concurrency <= 0 {
		a.concurrency = 8
	}
	if a.receiptRetry == nil {
		a.receiptRetry = &retry.RetryConfig{
			MaxAttempts:  10,
			InitialDelay: 2 * time.Second,
			MaxDelay:     15 * time.Second,
			Multiplier:   1.5,
		}
	}

	if cfg.RewardPrivateKey != "" {
		key, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.RewardPrivateKey, "0x"))
		if err != nil {
			return nil, fmt.Errorf("invalid reward private key: %w", err)
		}
		a.rewardKey = key
	}

	return a, nil
}

var _ ChainReader = (*ERC20Adapter)(nil)

// FetchHolders scans Transfer logs for candidate owners and reads their balanceOf
func (a *ERC20Adapter) FetchHolders(ctx context.Context, asset string) ([]models.HolderBalance, error) {
	if !types.IsValidAddress(asset) {
		return nil, apperrors.NewInvalidAddressError(asset)
	}
	token := common.HexToAddress(asset)

	latest, err := a.client.BlockNumber(ctx)
	if err != nil {
		return nil, NewAdapterError(a.chain, "FetchHolders", classifyRPCError(ratelimit.MethodEthBlockNumber, err), nil)
	}

	candidates, err := a.collectRecipients(ctx, token, latest)
	if err != nil {
		return nil, NewAdapterError(a.chain, "FetchHolders", classifyRPCError(ratelimit.MethodEthGetLogs, err), map[string]interface{}{
			"token": asset,
		})
	}

	holders, err := a.readBalances(ctx, token, candidates, latest)
	if err != nil {
		return nil, NewAdapterError(a.chain, "FetchHolders", classifyRPCError(ratelimit.MethodEthCall, err), nil)
	}

	SortHolderBalances(holders)

	log.Printf("[ERC20Adapter] Fetched %d holders of %s from %d candidates (blocks %d-%d)",
		len(holders), asset, len(candidates), a.scanFromBlock, latest)
	return holders, nil
}

// collectRecipients returns every non-zero Transfer recipient up to latest, in address order
func (a *ERC20Adapter) collectRecipients(ctx context.Context, token common.Address, latest uint64) ([]common.Address, error) {
	seen := make(map[common.Address]struct{})

	for start := a.scanFromBlock; start <= latest; start += a.logChunkSize {
		end := start + a.logChunkSize - 1
		if end > latest {
			end = latest
		}

		logs, err := a.client.FilterLogs(ctx, ethereum.FilterQuery{
			FromBlock: new(big.Int).SetUint64(start),
			ToBlock:   new(big.Int).SetUint64(end),
			Addresses: []common.Address{token},
			Topics:    [][]common.Hash{{transferTopic}},
		})
		if err != nil {
			return nil, err
		}

		for _, lg := range logs {
			if lg.Removed || len(lg.Topics) < 3 {
				continue
			}
			to := common.BytesToAddress(lg.Topics[2].Bytes())
			if to == (common.Address{}) {
				continue
			}
			seen[to] = struct{}{}
		}

		if end == latest {
			break
		}
	}

	out := make([]common.Address, 0, len(seen))
	for addr := range seen {
		out = append(out, addr)
	}
	sort.Slice(out, func(i, j int) bool {
		return strings.ToLower(out[i].Hex()) < strings.ToLower(out[j].Hex())
	})
	return out, nil
}

// readBalances calls balanceOf for each candidate with bounded concurrency.
// A candidate whose call fails is skipped, a rate limit aborts the whole read.
func (a *ERC20Adapter) readBalances(ctx context.Context, token common.Address, candidates []common.Address, block uint64) ([]models.HolderBalance, error) {
	var (
		mu      sync.Mutex
		holders []models.HolderBalance
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.concurrency)
	blockNumber := new(big.Int).SetUint64(block)

	for _, candidate := range candidates {
		candidate := candidate
		g.Go(func() error {
			balance, err := a.balanceOf(gctx, token, candidate, blockNumber)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				if apperrors.IsRateLimit(err) || IsRateLimitError(err) {
					return err
				}
				log.Printf("[ERC20Adapter] Skipping %s: %v", candidate.Hex(), err)
				return nil
			}
			if balance.Sign() <= 0 {
				return nil
			}

			mu.Lock()
			holders = append(holders, models.HolderBalance{
				Address: types.NormalizeAddress(candidate.Hex()),
				Balance: balance,
			})
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return holders, nil
}

func (a *ERC20Adapter) balanceOf(ctx context.Context, token, owner common.Address, block *big.Int) (*big.Int, error) {
	data, err := erc20ABI.Pack("balanceOf", owner)
	if err != nil {
		return nil, fmt.Errorf("failed to pack balanceOf: %w", err)
	}

	out, err := a.client.CallContract(ctx, ethereum.CallMsg{To: &token, Data: data}, block)
	if err != nil {
		return nil, err
	}

	values, err := erc20ABI.Unpack("balanceOf", out)
	if err != nil || len(values) != 1 {
		return nil, fmt.Errorf("failed to decode balanceOf result: %v", err)
	}
	balance, ok := values[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected balanceOf result type %T", values[0])
	}
	return balance, nil
}

// SortHolderBalances orders holders by balance descending, then address ascending
func SortHolderBalances(holders []models.HolderBalance) {
	sort.SliceStable(holders, func(i, j int) bool {
		if c := holders[i].Balance.Cmp(holders[j].Balance); c != 0 {
			return c > 0
		}
		return holders[i].Address < holders[j].Address
	})
}

// GetAccountBalance returns the native balance of an account in wei
func (a *ERC20Adapter) GetAccountBalance(ctx context.Context, account string) (*big.Int, error) {
	if !types.IsValidAddress(account) {
		return nil, apperrors.NewInvalidAddressError(account)
	}

	balance, err := a.adminClient.BalanceAt(ctx, common.HexToAddress(account), nil)
	if err != nil {
		return nil, NewAdapterError(a.chain, "GetAccountBalance", classifyRPCError(ratelimit.MethodEthGetBalance, err), map[string]interface{}{
			"account": account,
		})
	}
	return balance, nil
}

// VerifySignature implements ChainReader
func (a *ERC20Adapter) VerifySignature(message, signature, address string) bool {
	return VerifySignature(message, signature, address)
}

// RewardAddress returns the reward wallet address, empty when no key is configured
func (a *ERC20Adapter) RewardAddress() string {
	if a.rewardKey == nil {
		return ""
	}
	return types.NormalizeAddress(crypto.PubkeyToAddress(a.rewardKey.PublicKey).Hex())
}

// SendTransfer signs and broadcasts a native transfer from the reward wallet and waits for its receipt
func (a *ERC20Adapter) SendTransfer(ctx context.Context, to string, amount *big.Int) (string, error) {
	if a.rewardKey == nil {
		return "", apperrors.NewServiceUnavailableError(ErrRewardWalletMissing.Error())
	}
	if !types.IsValidAddress(to) {
		return "", apperrors.NewInvalidAddressError(to)
	}
	if amount == nil || amount.Sign() <= 0 {
		return "", apperrors.NewInvalidParameterError("amount", "must be positive")
	}

	from := crypto.PubkeyToAddress(a.rewardKey.PublicKey)
	recipient := common.HexToAddress(to)

	nonce, err := a.adminClient.PendingNonceAt(ctx, from)
	if err != nil {
		return "", NewAdapterError(a.chain, "SendTransfer", classifyRPCError(ratelimit.MethodEthGetTransactionCount, err), nil)
	}
	gasPrice, err := a.adminClient.SuggestGasPrice(ctx)
	if err != nil {
		return "", NewAdapterError(a.chain, "SendTransfer", classifyRPCError(ratelimit.MethodEthGasPrice, err), nil)
	}

	tx := ethtypes.NewTx(&ethtypes.LegacyTx{
		Nonce:    nonce,
		To:       &recipient,
		Value:    amount,
		Gas:      transferGasLimit,
		GasPrice: gasPrice,
	})
	signed, err := ethtypes.SignTx(tx, ethtypes.LatestSignerForChainID(a.chainID), a.rewardKey)
	if err != nil {
		return "", apperrors.NewInternalError("failed to sign transfer", err)
	}

	if err := a.adminClient.SendTransaction(ctx, signed); err != nil {
		return "", NewAdapterError(a.chain, "SendTransfer", classifyRPCError(ratelimit.MethodEthSendRawTransaction, err), map[string]interface{}{
			"to": to,
		})
	}

	hash := signed.Hash()
	log.Printf("[ERC20Adapter] Broadcast transfer %s of %s wei to %s", hash.Hex(), amount.String(), to)

	if err := a.waitForReceipt(ctx, hash); err != nil {
		return hash.Hex(), NewAdapterError(a.chain, "SendTransfer", err, map[string]interface{}{
			"txHash": hash.Hex(),
		})
	}
	return hash.Hex(), nil
}

func (a *ERC20Adapter) waitForReceipt(ctx context.Context, hash common.Hash) error {
	result := retry.WithExponentialBackoff(ctx, a.receiptRetry, func(ctx context.Context, attempt int) error {
		receipt, err := a.adminClient.TransactionReceipt(ctx, hash)
		if err != nil {
			return err
		}
		if receipt.Status != ethtypes.ReceiptStatusSuccessful {
			return retry.Permanent(ErrTransactionFailed)
		}
		return nil
	})

	if result.Success {
		return nil
	}
	if errors.Is(result.LastError, ErrTransactionFailed) {
		return apperrors.NewFetchError("transaction receipt", ErrTransactionFailed)
	}
	return classifyRPCError(ratelimit.MethodEthGetTransactionReceipt, result.LastError)
}

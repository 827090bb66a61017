package adapter

import (
	"context"
	"errors"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
)

// fakeChain is an in-memory EthClient serving Transfer logs and balanceOf results
type fakeChain struct {
	mu sync.Mutex

	latest       uint64
	logs         []ethtypes.Log
	balances     map[common.Address]*big.Int
	failBalance  map[common.Address]error
	logsErr      error
	blockErr     error
	receiptState uint64
	nativeBal    *big.Int

	filterQueries []ethereum.FilterQuery
	sent          []*ethtypes.Transaction
	calls         int
}

func newFakeChain(latest uint64) *fakeChain {
	return &fakeChain{
		latest:       latest,
		balances:     map[common.Address]*big.Int{},
		failBalance:  map[common.Address]error{},
		receiptState: ethtypes.ReceiptStatusSuccessful,
		nativeBal:    big.NewInt(0),
	}
}

func transferLog(block uint64, from, to common.Address) ethtypes.Log {
	return ethtypes.Log{
		BlockNumber: block,
		Topics: []common.Hash{
			transferTopic,
			common.BytesToHash(from.Bytes()),
			common.BytesToHash(to.Bytes()),
		},
	}
}

func (f *fakeChain) BlockNumber(ctx context.Context) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.latest, f.blockErr
}

func (f *fakeChain) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]ethtypes.Log, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.filterQueries = append(f.filterQueries, q)
	if f.logsErr != nil {
		return nil, f.logsErr
	}

	var out []ethtypes.Log
	for _, lg := range f.logs {
		if lg.BlockNumber >= q.FromBlock.Uint64() && lg.BlockNumber <= q.ToBlock.Uint64() {
			out = append(out, lg)
		}
	}
	return out, nil
}

func (f *fakeChain) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if len(msg.Data) < 36 {
		return nil, errors.New("bad calldata")
	}
	owner := common.BytesToAddress(msg.Data[4:36])
	if err, ok := f.failBalance[owner]; ok {
		return nil, err
	}
	bal, ok := f.balances[owner]
	if !ok {
		bal = big.NewInt(0)
	}
	return common.LeftPadBytes(bal.Bytes(), 32), nil
}

func (f *fakeChain) BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return new(big.Int).Set(f.nativeBal), nil
}

func (f *fakeChain) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	return 7, nil
}

func (f *fakeChain) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	return big.NewInt(1_000_000_000), nil
}

func (f *fakeChain) SendTransaction(ctx context.Context, tx *ethtypes.Transaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, tx)
	return nil
}

func (f *fakeChain) TransactionReceipt(ctx context.Context, hash common.Hash) (*ethtypes.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return &ethtypes.Receipt{Status: f.receiptState, TxHash: hash}, nil
}

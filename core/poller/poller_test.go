package poller

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	qt "github.com/frankban/quicktest"

	"github.com/dexproxy/dexproxy/core/request"
)

type fakeChain struct {
	mu       sync.Mutex
	receipts map[common.Hash]*gethtypes.Receipt
}

func newFakeChain() *fakeChain {
	return &fakeChain{receipts: make(map[common.Hash]*gethtypes.Receipt)}
}

func (f *fakeChain) setReceipt(h common.Hash, status uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.receipts[h] = &gethtypes.Receipt{Status: status}
}

func (f *fakeChain) TransactionReceipt(ctx context.Context, txHash common.Hash) (*gethtypes.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.receipts[txHash]
	if !ok {
		return nil, nil // not yet mined, matches ethereum.NotFound swallowing
	}
	return r, nil
}

var _ ReceiptFetcher = (*fakeChain)(nil)

func TestPollerReportsSuccessAndFailure(t *testing.T) {
	c := qt.New(t)
	chain := newFakeChain()

	var mu sync.Mutex
	updates := make(map[string]request.Status)
	p := New(chain, nil, 5*time.Millisecond, nil, func(id string, status request.Status, _ *gethtypes.Receipt) {
		mu.Lock()
		updates[id] = status
		mu.Unlock()
	})

	hashOK := common.HexToHash("0xaaa")
	hashFail := common.HexToHash("0xbbb")
	p.AddForPolling(hashOK, "r-ok", request.ActionOrder)
	p.AddForPolling(hashFail, "r-fail", request.ActionOrder)

	p.Start(context.Background())
	defer p.Stop()

	chain.setReceipt(hashOK, gethtypes.ReceiptStatusSuccessful)
	chain.setReceipt(hashFail, gethtypes.ReceiptStatusFailed)

	c.Assert(waitUntil(func() bool {
		mu.Lock()
		defer mu.Unlock()
		return updates["r-ok"] == request.StatusSucceeded && updates["r-fail"] == request.StatusFailed
	}, time.Second), qt.IsTrue)
}

func TestPollerCancelIgnoresReceiptStatus(t *testing.T) {
	c := qt.New(t)
	chain := newFakeChain()

	var mu sync.Mutex
	var got request.Status
	p := New(chain, nil, 5*time.Millisecond, nil, func(id string, status request.Status, _ *gethtypes.Receipt) {
		mu.Lock()
		got = status
		mu.Unlock()
	})

	hash := common.HexToHash("0xccc")
	p.AddForPolling(hash, "r-cancel", request.ActionCancel)
	p.Start(context.Background())
	defer p.Stop()

	// The cancelling tx reverted on-chain, but the CANCEL action still
	// resolves to CANCELED since the nonce was consumed either way.
	chain.setReceipt(hash, gethtypes.ReceiptStatusFailed)

	c.Assert(waitUntil(func() bool {
		mu.Lock()
		defer mu.Unlock()
		return got == request.StatusCanceled
	}, time.Second), qt.IsTrue)
}

func waitUntil(cond func() bool, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}
